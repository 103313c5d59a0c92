package discovery

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/EricMurray-e-m-dev/DumpItAll/internal/credentials"
	"github.com/EricMurray-e-m-dev/DumpItAll/internal/models"
)

// FragmentSource yields credential fragments from configuration files.
type FragmentSource interface {
	Scan(ctx context.Context) []models.CredentialFragment
}

type PortScanner interface {
	Scan(ctx context.Context, creds *credentials.Set) ([]models.DatabaseInstance, error)
}

type ProcessInspector interface {
	Inspect(ctx context.Context, creds *credentials.Set) ([]models.DatabaseInstance, error)
}

type ContainerInspector interface {
	Inspect(ctx context.Context) ([]models.DatabaseInstance, error)
}

// Reporter persists a finished inventory and returns where it went.
type Reporter interface {
	Write(dc Context) (string, error)
}

// Stages wires the collaborators of a run. Nil members contribute nothing.
type Stages struct {
	Configs    FragmentSource
	Environ    func() []string
	EnvScanner func(environ []string) []models.CredentialFragment
	Ports      PortScanner
	Processes  ProcessInspector
	SQLite     func(ctx context.Context) []models.DatabaseInstance
	Containers ContainerInspector
	Reporter   Reporter
}

type Coordinator struct {
	stages Stages
	now    func() time.Time
}

func NewCoordinator(stages Stages) *Coordinator {
	if stages.Environ == nil {
		stages.Environ = os.Environ
	}
	return &Coordinator{stages: stages, now: time.Now}
}

// Run executes every stage in order. It always reaches StateReported: a
// failing or panicking stage is recorded and contributes no instances.
func (c *Coordinator) Run(ctx context.Context) Context {
	dc := newContext(c.now())
	log.Info().Str("run_id", dc.RunID.String()).Msg("Starting discovery")

	dc = c.resolveCredentials(ctx, dc)

	dc = c.collect(ctx, dc, StatePortsScanned, func(ctx context.Context) ([]models.DatabaseInstance, error) {
		if c.stages.Ports == nil {
			return nil, nil
		}
		return c.stages.Ports.Scan(ctx, dc.Credentials)
	})

	dc = c.collect(ctx, dc, StateProcessesScanned, func(ctx context.Context) ([]models.DatabaseInstance, error) {
		var found []models.DatabaseInstance
		var err error
		if c.stages.Processes != nil {
			found, err = c.stages.Processes.Inspect(ctx, dc.Credentials)
		}
		if c.stages.SQLite != nil {
			found = append(found, c.stages.SQLite(ctx)...)
		}
		return found, err
	})

	dc = c.collect(ctx, dc, StateContainersScanned, func(ctx context.Context) ([]models.DatabaseInstance, error) {
		if c.stages.Containers == nil {
			return nil, nil
		}
		return c.stages.Containers.Inspect(ctx)
	})

	before := len(dc.Instances)
	dc = dc.advance(StateDeduplicated)
	dc.Instances = Deduplicate(dc.Instances)
	log.Info().
		Int("observations", before).
		Int("instances", len(dc.Instances)).
		Msg("Inventory de-duplicated")

	dc.FinishedAt = c.now()
	return c.report(dc)
}

func (c *Coordinator) resolveCredentials(ctx context.Context, dc Context) Context {
	var frags []models.CredentialFragment

	err := guard(func() error {
		if c.stages.Configs != nil {
			frags = append(frags, c.stages.Configs.Scan(ctx)...)
		}
		if c.stages.EnvScanner != nil {
			frags = append(frags, c.stages.EnvScanner(c.stages.Environ())...)
		}
		return nil
	})

	next := dc.advance(StateCredentialsResolved)
	if err != nil {
		log.Warn().Err(err).Msg("Credential discovery failed")
		next = next.withError(StateCredentialsResolved, err)
	}
	next.Credentials = credentials.Resolve(frags)

	log.Info().
		Int("fragments", len(frags)).
		Int("engines", len(next.Credentials.Kinds())).
		Msg("Credentials resolved")
	return next
}

// collect runs one instance-producing stage and advances to state whatever
// happens inside it.
func (c *Coordinator) collect(ctx context.Context, dc Context, state State, stage func(context.Context) ([]models.DatabaseInstance, error)) Context {
	var found []models.DatabaseInstance
	err := guard(func() error {
		var err error
		found, err = stage(ctx)
		return err
	})

	next := dc.advance(state).withInstances(found)
	if err != nil {
		log.Warn().Err(err).Str("stage", string(state)).Msg("Discovery stage degraded")
		next = next.withError(state, err)
	}
	log.Info().Str("stage", string(state)).Int("found", len(found)).Msg("Discovery stage complete")
	return next
}

func (c *Coordinator) report(dc Context) Context {
	next := dc.advance(StateReported)
	if c.stages.Reporter == nil {
		return next
	}

	var path string
	err := guard(func() error {
		var err error
		path, err = c.stages.Reporter.Write(next)
		return err
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to write discovery report")
		return next.withError(StateReported, err)
	}
	next.ReportPath = path
	return next
}

// guard converts a panic in fn into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stage panicked: %v", r)
		}
	}()
	return fn()
}

// Deduplicate keeps the first instance per identity key and merges later
// ones into it. Applying it twice gives the same result as once.
func Deduplicate(instances []models.DatabaseInstance) []models.DatabaseInstance {
	index := make(map[string]int, len(instances))
	out := make([]models.DatabaseInstance, 0, len(instances))

	for _, inst := range instances {
		key := inst.Key()
		if i, ok := index[key]; ok {
			out[i] = out[i].Merge(inst)
			continue
		}
		index[key] = len(out)
		out = append(out, inst.Clone())
	}
	return out
}
