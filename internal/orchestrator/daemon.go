package orchestrator

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/EricMurray-e-m-dev/DumpItAll/internal/health"
)

// RunDaemon runs a backup cycle immediately and then on every interval
// until ctx is cancelled. Cycles never overlap; a trigger that fires while
// one is in flight is dropped.
func (o *Orchestrator) RunDaemon(ctx context.Context) error {
	cronLog := cron.PrintfLogger(&log.Logger)
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLog)))

	spec := "@every " + o.config.Interval.String()
	if _, err := c.AddFunc(spec, func() { o.runCycle(ctx, "schedule") }); err != nil {
		return fmt.Errorf("failed to schedule backups (%s): %w", spec, err)
	}

	log.Info().Dur("interval", o.config.Interval).Msg("Daemon started")

	c.Start()
	o.trigger(ctx, "startup")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Stopping scheduler...")
			<-c.Stop().Done()
			o.wg.Wait()
			return nil
		case reason := <-o.requests:
			o.trigger(ctx, reason)
		}
	}
}

func (o *Orchestrator) trigger(ctx context.Context, reason string) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.runCycle(ctx, reason)
	}()
}

func (o *Orchestrator) runCycle(ctx context.Context, reason string) {
	if !o.running.CompareAndSwap(false, true) {
		log.Info().Str("reason", reason).Msg("Backup run already in progress, skipping")
		return
	}
	defer o.running.Store(false)

	if ctx.Err() != nil {
		return
	}

	log.Info().Str("reason", reason).Msg("Starting backup run")

	result, err := o.BackupOnce(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Backup run failed")
	}

	created, failed := result.Counts()
	o.mu.Lock()
	o.last = health.RunInfo{
		RunID:          result.Discovery.RunID.String(),
		FinishedAt:     o.now(),
		Instances:      len(result.Discovery.Instances),
		BackupsCreated: created,
		BackupsFailed:  failed,
	}
	o.hasLast = true
	o.mu.Unlock()
}

// RequestRun asks the daemon for an immediate cycle. It returns false when a
// cycle is already running or queued.
func (o *Orchestrator) RequestRun(reason string) bool {
	if o.running.Load() {
		return false
	}
	select {
	case o.requests <- reason:
		return true
	default:
		return false
	}
}

func (o *Orchestrator) LastRun() (health.RunInfo, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last, o.hasLast
}

func (o *Orchestrator) Running() bool {
	return o.running.Load()
}
