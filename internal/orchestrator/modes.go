package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/EricMurray-e-m-dev/DumpItAll/internal/adapter"
	"github.com/EricMurray-e-m-dev/DumpItAll/internal/backup"
	"github.com/EricMurray-e-m-dev/DumpItAll/internal/discovery"
	"github.com/EricMurray-e-m-dev/DumpItAll/internal/engine"
	"github.com/EricMurray-e-m-dev/DumpItAll/internal/models"
	"github.com/EricMurray-e-m-dev/DumpItAll/internal/report"
)

// minFreeDisk is the free space below which a run logs a warning.
const minFreeDisk = 1 << 30

// ScanOnly runs discovery and prints the detailed inventory.
func (o *Orchestrator) ScanOnly(ctx context.Context) discovery.Context {
	dc := o.deps.Discoverer.Run(ctx)
	o.publishInventory(dc)

	report.PrintDetailed(o.deps.Out, dc.Instances)
	report.Summarize(dc.Instances).Log()
	if dc.ReportPath != "" {
		fmt.Fprintf(o.deps.Out, "\nReport written to %s\n", dc.ReportPath)
	}
	return dc
}

// ConnectionTest is the outcome of testing one discovered instance.
type ConnectionTest struct {
	Instance   string
	Kind       engine.Kind
	OK         bool
	AuthMethod models.AuthMethod
	Databases  int
	Detail     string
}

// TestConnections discovers instances and logs in to each of them with the
// resolved credentials. SQLite files only need to exist.
func (o *Orchestrator) TestConnections(ctx context.Context) []ConnectionTest {
	dc := o.deps.Discoverer.Run(ctx)

	results := make([]ConnectionTest, 0, len(dc.Instances))
	for _, inst := range dc.Instances {
		if ctx.Err() != nil {
			break
		}
		results = append(results, o.testConnection(ctx, inst, dc.Credentials.ForInstance(inst)))
	}

	ok := 0
	for _, r := range results {
		status := "FAIL"
		if r.OK {
			status = "OK"
			ok++
		}
		fmt.Fprintf(o.deps.Out, "%-4s %-40s auth=%-8s databases=%d %s\n", status, r.Instance, r.AuthMethod, r.Databases, r.Detail)
	}
	log.Info().Int("tested", len(results)).Int("successful", ok).Msg("Connection tests finished")

	return results
}

func (o *Orchestrator) testConnection(ctx context.Context, inst models.DatabaseInstance, creds models.ResolvedCredentials) ConnectionTest {
	t := ConnectionTest{Instance: inst.Key(), Kind: inst.Kind, AuthMethod: models.AuthUnknown}

	if inst.SQLite != nil {
		if _, err := os.Stat(inst.SQLite.FilePath); err != nil {
			t.Detail = err.Error()
			return t
		}
		t.OK, t.AuthMethod, t.Databases = true, models.AuthNone, 1
		return t
	}

	if inst.Port == 0 {
		t.Detail = "no reachable port"
		return t
	}

	prober, err := o.deps.Adapters.Get(inst.Kind)
	if err != nil {
		t.Detail = err.Error()
		return t
	}

	res, err := prober.Probe(ctx, adapter.Target{
		Host:        inst.Host,
		Port:        inst.Port,
		Credentials: creds,
		Timeout:     o.config.ConnectTimeout,
	})
	if res != nil {
		t.AuthMethod = res.AuthMethod
		t.Databases = len(res.Databases)
		t.Detail = res.Note
		t.OK = res.ConnectionTested
	}
	if err != nil {
		t.OK = false
		t.Detail = err.Error()
	}
	return t
}

// RunResult is the outcome of one discovery and backup cycle.
type RunResult struct {
	Discovery    discovery.Context
	Artifacts    []backup.Artifact
	FilesRemoved int
}

func (r RunResult) Counts() (created, failed int) {
	for _, a := range r.Artifacts {
		if a.OK() {
			created++
		} else {
			failed++
		}
	}
	return created, failed
}

// BackupOnce discovers, backs up every instance, applies retention and
// appends a statistics entry.
func (o *Orchestrator) BackupOnce(ctx context.Context) (RunResult, error) {
	dc := o.deps.Discoverer.Run(ctx)
	o.publishInventory(dc)
	report.Summarize(dc.Instances).Log()

	result := RunResult{Discovery: dc}

	for _, inst := range dc.Instances {
		if ctx.Err() != nil {
			break
		}

		artifacts, err := o.deps.Backups.Backup(ctx, inst, dc.Credentials.ForInstance(inst))
		switch {
		case errors.Is(err, backup.ErrUnsupported), errors.Is(err, backup.ErrNothingToBackup):
			log.Info().Str("instance", inst.Key()).Err(err).Msg("Skipping backup")
			continue
		case err != nil:
			log.Error().Err(err).Str("instance", inst.Key()).Msg("Backup failed")
			artifacts = []backup.Artifact{{Instance: inst.Key(), Engine: inst.Kind, Error: err.Error()}}
		}

		for _, a := range artifacts {
			o.publishBackup(dc.RunID, a)
		}
		result.Artifacts = append(result.Artifacts, artifacts...)
	}

	removed, err := o.cleanup(o.config.BackupDir, o.config.RetentionDays, o.now())
	if err != nil {
		log.Warn().Err(err).Msg("Retention cleanup failed")
	}
	result.FilesRemoved = removed

	if err := o.writeStats(result); err != nil {
		return result, err
	}

	created, failed := result.Counts()
	log.Info().
		Str("run_id", dc.RunID.String()).
		Int("created", created).
		Int("failed", failed).
		Int("removed", removed).
		Msg("Backup run finished")

	return result, ctx.Err()
}

func (o *Orchestrator) writeStats(r RunResult) error {
	created, _ := r.Counts()

	var failed []string
	for _, a := range r.Artifacts {
		if !a.OK() {
			failed = append(failed, fmt.Sprintf("%s/%s", a.Instance, a.Database))
		}
	}

	now := o.now()
	entry := report.StatsEntry{
		RunID:               r.Discovery.RunID.String(),
		Timestamp:           now,
		DurationSeconds:     now.Sub(r.Discovery.StartedAt).Seconds(),
		DatabasesDiscovered: len(r.Discovery.Instances),
		BackupsAttempted:    len(r.Artifacts),
		BackupsCreated:      created,
		FailedBackups:       failed,
		SuccessRate:         report.SuccessRate(created, len(r.Artifacts)),
		FilesRemoved:        r.FilesRemoved,
		Host:                o.collectHost(o.config.BackupDir),
	}

	if entry.Host.LowDisk(minFreeDisk) {
		log.Warn().Uint64("free_bytes", entry.Host.DiskFreeBytes).Str("path", entry.Host.DiskPath).Msg("Backup disk is low on space")
	}

	if err := report.AppendStats(o.config.BackupDir, entry); err != nil {
		return fmt.Errorf("failed to write statistics: %w", err)
	}
	return nil
}
