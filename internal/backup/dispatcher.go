// Package backup turns inventory entries into backup artifacts using the
// engines' own dump tools.
package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/EricMurray-e-m-dev/DumpItAll/internal/docker"
	"github.com/EricMurray-e-m-dev/DumpItAll/internal/engine"
	"github.com/EricMurray-e-m-dev/DumpItAll/internal/models"
	"github.com/EricMurray-e-m-dev/DumpItAll/internal/toolrun"
)

const timestampLayout = "20060102_150405"

var (
	// ErrUnsupported - no backup method exists for the engine or source
	ErrUnsupported = errors.New("backup: engine not supported")

	// ErrNothingToBackup - the instance has no known databases
	ErrNothingToBackup = errors.New("backup: no databases to back up")
)

// ContainerExec runs a command inside a container.
type ContainerExec interface {
	Exec(ctx context.Context, containerID string, argv, env []string, stdout io.Writer) (docker.ExecResult, error)
}

// Artifact is the outcome of backing up one database.
type Artifact struct {
	Instance  string        `json:"instance"`
	Engine    engine.Kind   `json:"engine"`
	Database  string        `json:"database"`
	Path      string        `json:"path,omitempty"`
	SizeBytes int64         `json:"size_bytes,omitempty"`
	Duration  time.Duration `json:"duration_ns"`
	Error     string        `json:"error,omitempty"`
}

func (a Artifact) OK() bool {
	return a.Error == ""
}

type Options struct {
	Dir         string
	Runner      toolrun.Runner
	Containers  ContainerExec
	DumpTimeout time.Duration
	HTTPClient  *http.Client
}

type Dispatcher struct {
	opts Options
	now  func() time.Time
}

func NewDispatcher(opts Options) *Dispatcher {
	if opts.Runner == nil {
		opts.Runner = toolrun.Exec{}
	}
	if opts.DumpTimeout <= 0 {
		opts.DumpTimeout = 2 * time.Hour
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	return &Dispatcher{opts: opts, now: time.Now}
}

// job is one artifact to produce.
type job struct {
	inst     models.DatabaseInstance
	creds    models.ResolvedCredentials
	database string
	path     string
}

// Backup produces one artifact per database of inst. Redis and SQLite
// instances produce a single artifact covering the whole server or file.
func (d *Dispatcher) Backup(ctx context.Context, inst models.DatabaseInstance, creds models.ResolvedCredentials) ([]Artifact, error) {
	if err := os.MkdirAll(d.opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	run, err := d.method(inst)
	if err != nil {
		return nil, err
	}

	if creds.User == "" {
		if spec, err := engine.Lookup(inst.Kind); err == nil {
			creds.User = spec.DefaultUser
		}
	}

	targets := inst.Databases
	switch inst.Kind {
	case engine.SQLite:
		targets = []string{filepath.Base(inst.SQLite.FilePath)}
	case engine.Redis:
		targets = []string{"all"}
	}
	if len(targets) == 0 {
		return nil, ErrNothingToBackup
	}

	ts := d.now().Format(timestampLayout)
	artifacts := make([]Artifact, 0, len(targets))

	for _, db := range targets {
		if ctx.Err() != nil {
			break
		}
		j := job{inst: inst, creds: creds, database: db, path: d.artifactPath(inst, db, ts)}
		artifacts = append(artifacts, d.produce(ctx, j, run))
	}
	return artifacts, nil
}

type method func(ctx context.Context, j job) error

// method picks how inst is dumped. Containers are dumped through exec so no
// client tools are needed on the host.
func (d *Dispatcher) method(inst models.DatabaseInstance) (method, error) {
	if inst.Kind == engine.SQLite {
		if inst.SQLite == nil {
			return nil, ErrUnsupported
		}
		return d.dumpSQLite, nil
	}

	if d.viaContainer(inst) {
		return d.dumpInContainer, nil
	}

	if inst.Port == 0 {
		return nil, fmt.Errorf("%w: %s has no reachable port", ErrUnsupported, inst.Key())
	}
	switch inst.Kind {
	case engine.PostgreSQL, engine.MySQL, engine.MongoDB, engine.Redis:
		return d.dumpWithTool, nil
	case engine.Elasticsearch:
		return d.exportElasticsearch, nil
	case engine.CouchDB:
		return d.exportCouchDB, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupported, inst.Kind)
}

func (d *Dispatcher) viaContainer(inst models.DatabaseInstance) bool {
	_, ok := containerDumpers[inst.Kind]
	return ok && inst.Container != nil && d.opts.Containers != nil
}

func (d *Dispatcher) produce(ctx context.Context, j job, run method) Artifact {
	start := d.now()
	a := Artifact{Instance: j.inst.Key(), Engine: j.inst.Kind, Database: j.database, Path: j.path}

	ctx, cancel := context.WithTimeout(ctx, d.opts.DumpTimeout)
	defer cancel()

	err := run(ctx, j)
	a.Duration = d.now().Sub(start)

	if err != nil {
		os.Remove(j.path)
		a.Path = ""
		a.Error = err.Error()
		log.Error().Err(err).Str("instance", a.Instance).Str("database", j.database).Msg("Backup failed")
		return a
	}

	if info, err := os.Stat(j.path); err == nil {
		a.SizeBytes = info.Size()
	}
	log.Info().
		Str("instance", a.Instance).
		Str("database", j.database).
		Str("path", j.path).
		Int64("size_bytes", a.SizeBytes).
		Msg("Backup created")
	return a
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func sanitize(s string) string {
	return unsafeName.ReplaceAllString(s, "_")
}

var extensions = map[engine.Kind]string{
	engine.PostgreSQL:    ".dump",
	engine.MySQL:         ".sql",
	engine.MongoDB:       ".archive",
	engine.Redis:         ".rdb",
	engine.SQLite:        ".db",
	engine.Elasticsearch: ".json",
	engine.CouchDB:       ".json",
}

var prefixes = map[engine.Kind]string{
	engine.PostgreSQL: "pg",
	engine.MongoDB:    "mongo",
}

// artifactPath names the artifact after where the data came from, e.g.
// pg_localhost_5432_app_20240101_030000.dump or
// docker_mysql_shop-db_shop_20240101_030000.sql.
func (d *Dispatcher) artifactPath(inst models.DatabaseInstance, db, ts string) string {
	prefix, ok := prefixes[inst.Kind]
	if !ok {
		prefix = string(inst.Kind)
	}

	var name string
	switch {
	case inst.SQLite != nil:
		name = fmt.Sprintf("sqlite_%s_%s", sanitize(db), ts)
	case d.viaContainer(inst):
		name = fmt.Sprintf("docker_%s_%s_%s_%s", prefix, sanitize(inst.Container.Name), sanitize(db), ts)
	default:
		name = fmt.Sprintf("%s_%s_%s_%s_%s", prefix, sanitize(inst.Host), inst.PortString(), sanitize(db), ts)
	}
	return filepath.Join(d.opts.Dir, name+extensions[inst.Kind])
}
