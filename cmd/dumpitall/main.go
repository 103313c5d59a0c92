package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/EricMurray-e-m-dev/DumpItAll/internal/config"
	"github.com/EricMurray-e-m-dev/DumpItAll/internal/eventbus"
	"github.com/EricMurray-e-m-dev/DumpItAll/internal/health"
	"github.com/EricMurray-e-m-dev/DumpItAll/internal/logging"
	"github.com/EricMurray-e-m-dev/DumpItAll/internal/orchestrator"
)

type options struct {
	scanOnly        bool
	testConnections bool
	backupOnce      bool
	daemon          bool
	interval        int
	configPath      string
	logLevel        string
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("dumpitall", flag.ContinueOnError)
	fs.BoolVar(&opts.scanOnly, "scan-only", false, "discover databases, print the inventory and exit")
	fs.BoolVar(&opts.testConnections, "test-connections", false, "discover databases and test a login to each")
	fs.BoolVar(&opts.backupOnce, "backup-once", false, "run one discovery and backup cycle and exit")
	fs.BoolVar(&opts.daemon, "daemon", false, "back up on a schedule until stopped (default mode)")
	fs.IntVar(&opts.interval, "interval", 0, "minutes between scheduled runs (overrides BACKUP_INTERVAL)")
	fs.StringVar(&opts.configPath, "config", ".env", "path to a .env file")
	fs.StringVar(&opts.logLevel, "log-level", "", "trace, debug, info, warn or error (overrides LOG_LEVEL)")

	if err := fs.Parse(args); err != nil {
		return opts, err
	}

	modes := 0
	for _, set := range []bool{opts.scanOnly, opts.testConnections, opts.backupOnce, opts.daemon} {
		if set {
			modes++
		}
	}
	if modes > 1 {
		return opts, fmt.Errorf("--scan-only, --test-connections, --backup-once and --daemon are mutually exclusive")
	}
	if opts.interval < 0 {
		return opts, fmt.Errorf("--interval must be positive")
	}
	return opts, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logging.Init(logging.Config{Level: opts.logLevel})

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if opts.logLevel == "" {
		opts.logLevel = cfg.LogLevel
	}
	logging.Init(logging.Config{Level: opts.logLevel, Format: cfg.LogFormat})

	if opts.interval > 0 {
		cfg.Interval = time.Duration(opts.interval) * time.Minute
	}

	log.Info().
		Str("backup_dir", cfg.BackupDir).
		Str("scan_host", cfg.ScanHost).
		Bool("docker", cfg.DockerEnabled).
		Msg("DumpItAll starting...")

	orch, err := orchestrator.Build(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise")
	}
	defer orch.Close()

	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info().Msg("Shutdown signal received...")
		cancel()
	}()

	switch {
	case opts.scanOnly:
		orch.ScanOnly(ctx)

	case opts.testConnections:
		orch.TestConnections(ctx)

	case opts.backupOnce:
		result, err := orch.BackupOnce(ctx)
		if err != nil {
			log.Error().Err(err).Msg("Backup run failed")
			orch.Close()
			os.Exit(1)
		}
		if _, failed := result.Counts(); failed > 0 {
			orch.Close()
			os.Exit(1)
		}

	default:
		runDaemon(ctx, cfg, orch)
	}

	log.Info().Msg("DumpItAll stopped")
}

func runDaemon(ctx context.Context, cfg *config.Config, orch *orchestrator.Orchestrator) {
	var healthServer *health.Server
	if cfg.HealthPort != "" {
		healthServer = health.NewServer(orch)
		go func() {
			if err := healthServer.Start(":" + cfg.HealthPort); err != nil {
				log.Error().Err(err).Msg("Health server failed")
			}
		}()
	}

	if cfg.NatsURL != "" {
		sub, err := eventbus.NewSubscriber(cfg.NatsURL, orch)
		if err != nil {
			log.Warn().Err(err).Msg("Run requests over the event bus disabled")
		} else {
			defer sub.Close()
			if err := sub.Start(); err != nil {
				log.Warn().Err(err).Msg("Failed to subscribe to run requests")
			}
		}
	}

	if err := orch.RunDaemon(ctx); err != nil {
		log.Error().Err(err).Msg("Daemon stopped with error")
	}

	if healthServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := healthServer.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Error during health server shutdown")
		}
	}
}
