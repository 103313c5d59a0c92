// Package process finds database servers among running OS processes and
// SQLite files on disk.
package process

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/EricMurray-e-m-dev/DumpItAll/internal/credentials"
	"github.com/EricMurray-e-m-dev/DumpItAll/internal/engine"
	"github.com/EricMurray-e-m-dev/DumpItAll/internal/models"
	"github.com/EricMurray-e-m-dev/DumpItAll/internal/toolrun"
)

// Info is what the inspector needs to know about one process.
type Info struct {
	PID         int32
	Name        string
	Cmdline     []string
	ListenPorts []int
}

// Source enumerates processes.
type Source interface {
	Processes(ctx context.Context) ([]Info, error)
}

// SystemSource reads the process table through gopsutil. Processes that exit
// or deny access while being read are skipped.
type SystemSource struct{}

func (SystemSource) Processes(ctx context.Context) ([]Info, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}

	infos := make([]Info, 0, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		info := Info{PID: p.Pid, Name: name}

		// Only candidates pay for cmdline and socket lookups.
		if _, ok := engine.MatchProcess(name); !ok {
			infos = append(infos, info)
			continue
		}

		if cmdline, err := p.CmdlineSliceWithContext(ctx); err == nil {
			info.Cmdline = cmdline
		}
		if conns, err := p.ConnectionsWithContext(ctx); err == nil {
			for _, c := range conns {
				if c.Status == "LISTEN" && !slices.Contains(info.ListenPorts, int(c.Laddr.Port)) {
					info.ListenPorts = append(info.ListenPorts, int(c.Laddr.Port))
				}
			}
		}
		infos = append(infos, info)
	}
	return infos, nil
}

type Options struct {
	Source Source
	Runner toolrun.Runner

	// Host is the address instances are reported under and listed through.
	// It must match the port scanner's host so sightings merge. Default: localhost
	Host        string
	ToolTimeout time.Duration
}

type Inspector struct {
	opts Options
}

func NewInspector(opts Options) *Inspector {
	if opts.Source == nil {
		opts.Source = SystemSource{}
	}
	if opts.Runner == nil {
		opts.Runner = toolrun.Exec{}
	}
	if opts.Host == "" {
		opts.Host = "localhost"
	}
	return &Inspector{opts: opts}
}

// Inspect emits one instance per matching process. Worker processes of the
// same server share a key and are merged later; the database listing runs
// once per key.
func (i *Inspector) Inspect(ctx context.Context, creds *credentials.Set) ([]models.DatabaseInstance, error) {
	procs, err := i.opts.Source.Processes(ctx)
	if err != nil {
		return nil, err
	}

	listed := make(map[string][]string)
	var found []models.DatabaseInstance

	for _, p := range procs {
		kind, ok := engine.MatchProcess(p.Name)
		if !ok {
			continue
		}
		spec, err := engine.Lookup(kind)
		if err != nil {
			continue
		}

		port := resolvePort(spec, p.ListenPorts)
		inst := models.NewProcessInstance(kind, i.opts.Host, port, nil, models.ProcessDetails{
			PID:     p.PID,
			Name:    p.Name,
			DataDir: DataDir(spec, p.Cmdline),
			Cmdline: strings.Join(p.Cmdline, " "),
		})

		key := inst.Key()
		dbs, seen := listed[key]
		if !seen {
			dbs = i.listDatabases(ctx, spec, port, creds.For(kind))
			listed[key] = dbs
		}
		inst.Databases = models.AppendUnique(inst.Databases, dbs...)

		log.Debug().
			Str("engine", string(kind)).
			Int32("pid", p.PID).
			Int("port", port).
			Msg("Database process found")
		found = append(found, inst)
	}
	return found, nil
}

// resolvePort prefers an observed listening default port and otherwise
// assumes the first default port.
func resolvePort(spec engine.Spec, listening []int) int {
	for _, port := range listening {
		if slices.Contains(spec.DefaultPorts, port) {
			return port
		}
	}
	if len(spec.DefaultPorts) > 0 {
		return spec.DefaultPorts[0]
	}
	return 0
}

// DataDir returns the value following the engine's data-directory flag,
// accepting both "--flag value" and "--flag=value".
func DataDir(spec engine.Spec, cmdline []string) string {
	for idx, arg := range cmdline {
		for _, flag := range spec.DataDirFlags {
			if arg == flag && idx+1 < len(cmdline) {
				return cmdline[idx+1]
			}
			if v, ok := strings.CutPrefix(arg, flag+"="); ok && strings.HasPrefix(flag, "--") {
				return v
			}
		}
	}
	return ""
}

// listDatabases runs the engine client tool. Any failure yields no names.
func (i *Inspector) listDatabases(ctx context.Context, spec engine.Spec, port int, creds models.ResolvedCredentials) []string {
	if spec.ListCommand == nil {
		return nil
	}

	tc := spec.ListCommand(engine.ListTarget{
		Host:     i.opts.Host,
		Port:     port,
		User:     creds.User,
		Password: creds.Password,
	})

	res, err := toolrun.RunFirst(ctx, i.opts.Runner, tc.Binaries, toolrun.Command{
		Args:    tc.Args,
		Env:     tc.EnvList(),
		Timeout: i.opts.ToolTimeout,
	})
	if err != nil {
		log.Debug().Err(err).Str("engine", string(spec.Kind)).Msg("Database listing unavailable")
		return nil
	}
	if res.ExitCode != 0 {
		log.Info().
			Str("engine", string(spec.Kind)).
			Int("exit_code", res.ExitCode).
			Str("stderr", strings.TrimSpace(res.Stderr)).
			Msg("Could not list databases")
		return nil
	}
	return engine.ListDatabases(spec.Kind, res.Stdout)
}
