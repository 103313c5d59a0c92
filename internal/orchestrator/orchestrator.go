// Package orchestrator drives the tool's modes: scan-only, connection
// testing, a single backup run and the scheduled daemon.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/EricMurray-e-m-dev/DumpItAll/internal/adapter"
	"github.com/EricMurray-e-m-dev/DumpItAll/internal/backup"
	"github.com/EricMurray-e-m-dev/DumpItAll/internal/config"
	"github.com/EricMurray-e-m-dev/DumpItAll/internal/configscan"
	"github.com/EricMurray-e-m-dev/DumpItAll/internal/containers"
	"github.com/EricMurray-e-m-dev/DumpItAll/internal/discovery"
	"github.com/EricMurray-e-m-dev/DumpItAll/internal/docker"
	"github.com/EricMurray-e-m-dev/DumpItAll/internal/eventbus"
	"github.com/EricMurray-e-m-dev/DumpItAll/internal/health"
	"github.com/EricMurray-e-m-dev/DumpItAll/internal/models"
	"github.com/EricMurray-e-m-dev/DumpItAll/internal/portscan"
	"github.com/EricMurray-e-m-dev/DumpItAll/internal/process"
	"github.com/EricMurray-e-m-dev/DumpItAll/internal/report"
	"github.com/EricMurray-e-m-dev/DumpItAll/internal/system"
	"github.com/EricMurray-e-m-dev/DumpItAll/internal/toolrun"
)

type Discoverer interface {
	Run(ctx context.Context) discovery.Context
}

type BackupRunner interface {
	Backup(ctx context.Context, inst models.DatabaseInstance, creds models.ResolvedCredentials) ([]backup.Artifact, error)
}

// Publisher receives run outcomes. It is nil when no event bus is configured.
type Publisher interface {
	PublishInventory(dc discovery.Context) error
	PublishBackup(runID uuid.UUID, a backup.Artifact) error
}

// Deps are the collaborators of an Orchestrator. Build wires the real ones.
type Deps struct {
	Discoverer Discoverer
	Backups    BackupRunner
	Adapters   adapter.Registry
	Publisher  Publisher
	Out        io.Writer

	// closers run on Close, in order.
	closers []func()
}

type Orchestrator struct {
	config *config.Config
	deps   Deps

	now         func() time.Time
	collectHost func(dir string) *system.Snapshot
	cleanup     func(dir string, keepDays int, now time.Time) (int, error)

	running  atomic.Bool
	requests chan string
	wg       sync.WaitGroup

	mu      sync.Mutex
	last    health.RunInfo
	hasLast bool
}

func New(cfg *config.Config, deps Deps) *Orchestrator {
	if deps.Adapters == nil {
		deps.Adapters = adapter.DefaultRegistry()
	}
	if deps.Out == nil {
		deps.Out = os.Stdout
	}
	return &Orchestrator{
		config:      cfg,
		deps:        deps,
		now:         time.Now,
		collectHost: system.Collect,
		cleanup:     backup.Cleanup,
		requests:    make(chan string, 1),
	}
}

// Build wires the production collaborators from cfg. Docker and NATS are
// optional: when they cannot be reached the run continues without them.
func Build(cfg *config.Config) (*Orchestrator, error) {
	if err := os.MkdirAll(cfg.BackupDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory %s: %w", cfg.BackupDir, err)
	}

	runner := toolrun.Exec{}
	registry := adapter.DefaultRegistry()

	stages := discovery.Stages{
		Configs:    configscan.NewScanner(cfg.SearchRoots, cfg.ConfigPatterns),
		EnvScanner: configscan.ScanEnviron,
		Ports: portscan.NewScanner(portscan.Options{
			Host:           cfg.ScanHost,
			ConnectTimeout: cfg.ConnectTimeout,
			ProbeTimeout:   cfg.ProbeTimeout,
			Registry:       registry,
		}),
		Processes: process.NewInspector(process.Options{
			Runner:      runner,
			Host:        cfg.ScanHost,
			ToolTimeout: cfg.ToolTimeout,
		}),
		SQLite: func(ctx context.Context) []models.DatabaseInstance {
			return process.FindSQLite(ctx, cfg.SQLiteRoots)
		},
		Reporter: report.NewWriter(cfg.BackupDir),
	}

	deps := Deps{Adapters: registry}
	backupOpts := backup.Options{
		Dir:         cfg.BackupDir,
		Runner:      runner,
		DumpTimeout: cfg.DumpTimeout,
	}

	if cfg.DockerEnabled {
		client, err := docker.NewClient()
		if err != nil {
			log.Warn().Err(err).Msg("Docker client unavailable, container discovery disabled")
			stages.Containers = containers.NewInspector(containers.Options{})
		} else {
			stages.Containers = containers.NewInspector(containers.Options{
				Runtime:     client,
				Host:        cfg.ScanHost,
				ExecTimeout: cfg.ExecTimeout,
			})
			backupOpts.Containers = client
			deps.closers = append(deps.closers, func() { client.Close() })
		}
	}

	if cfg.NatsURL != "" {
		host, _ := os.Hostname()
		pub, err := eventbus.NewPublisher(cfg.NatsURL, host)
		if err != nil {
			log.Warn().Err(err).Msg("Event bus unavailable, outcomes will not be published")
		} else {
			deps.Publisher = pub
			deps.closers = append(deps.closers, pub.Close)
		}
	}

	deps.Discoverer = discovery.NewCoordinator(stages)
	deps.Backups = backup.NewDispatcher(backupOpts)

	return New(cfg, deps), nil
}

func (o *Orchestrator) Close() {
	o.wg.Wait()
	for _, c := range o.deps.closers {
		c()
	}
	o.deps.closers = nil
}

func (o *Orchestrator) publishInventory(dc discovery.Context) {
	if o.deps.Publisher == nil {
		return
	}
	if err := o.deps.Publisher.PublishInventory(dc); err != nil {
		log.Warn().Err(err).Msg("Failed to publish inventory")
	}
}

func (o *Orchestrator) publishBackup(runID uuid.UUID, a backup.Artifact) {
	if o.deps.Publisher == nil {
		return
	}
	if err := o.deps.Publisher.PublishBackup(runID, a); err != nil {
		log.Warn().Err(err).Msg("Failed to publish backup outcome")
	}
}
