// Package containers finds database servers running in Docker containers.
package containers

import (
	"context"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/EricMurray-e-m-dev/DumpItAll/internal/configscan"
	"github.com/EricMurray-e-m-dev/DumpItAll/internal/docker"
	"github.com/EricMurray-e-m-dev/DumpItAll/internal/engine"
	"github.com/EricMurray-e-m-dev/DumpItAll/internal/models"
)

// Exit codes a container runtime uses when the command cannot be started.
const (
	exitNotExecutable = 126
	exitNotFound      = 127
)

// Runtime is the container API the inspector depends on.
type Runtime interface {
	ListContainers(ctx context.Context) ([]docker.Container, error)
	Exec(ctx context.Context, containerID string, argv, env []string, stdout io.Writer) (docker.ExecResult, error)
}

type Options struct {
	Runtime     Runtime
	Host        string
	ExecTimeout time.Duration
}

type Inspector struct {
	opts Options
}

func NewInspector(opts Options) *Inspector {
	if opts.Host == "" {
		opts.Host = "localhost"
	}
	if opts.ExecTimeout <= 0 {
		opts.ExecTimeout = 30 * time.Second
	}
	return &Inspector{opts: opts}
}

// Inspect emits one instance per (container, matching engine).
func (i *Inspector) Inspect(ctx context.Context) ([]models.DatabaseInstance, error) {
	if i.opts.Runtime == nil {
		return nil, docker.ErrUnavailable
	}

	list, err := i.opts.Runtime.ListContainers(ctx)
	if err != nil {
		if len(list) == 0 {
			return nil, err
		}
		log.Warn().Err(err).Int("containers", len(list)).Msg("Container listing incomplete, inspecting what was returned")
	}

	var found []models.DatabaseInstance
	for _, ct := range list {
		for _, kind := range engine.MatchImage(ct.Image) {
			inst := i.inspectContainer(ctx, ct, kind)
			log.Info().
				Str("engine", string(kind)).
				Str("container", ct.Name).
				Str("image", ct.Image).
				Int("databases", len(inst.Databases)).
				Msg("Database container found")
			found = append(found, inst)
		}
	}
	return found, nil
}

func (i *Inspector) inspectContainer(ctx context.Context, ct docker.Container, kind engine.Kind) models.DatabaseInstance {
	spec, _ := engine.Lookup(kind)
	creds := configscan.ContainerCredentials(kind, ct.Env, ct.Name)

	hostPorts := make([]int, 0, len(ct.Ports))
	for _, p := range ct.Ports {
		hostPorts = append(hostPorts, p.HostPort)
	}

	dbs := i.listDatabases(ctx, ct, spec, creds)
	return models.NewContainerInstance(kind, i.opts.Host, HostPort(spec, ct.Ports), dbs, models.ContainerDetails{
		ID:          ct.ID,
		Name:        ct.Name,
		Image:       ct.Image,
		Ports:       hostPorts,
		Mounts:      ct.Mounts,
		Credentials: creds,
	})
}

// HostPort picks the host port published for one of the engine's default
// ports, or else the first published port. Zero when nothing is published.
func HostPort(spec engine.Spec, ports []docker.PortBinding) int {
	for _, p := range ports {
		if slices.Contains(spec.DefaultPorts, p.ContainerPort) {
			return p.HostPort
		}
	}
	if len(ports) > 0 {
		return ports[0].HostPort
	}
	return 0
}

// listDatabases runs the engine client inside the container, next to the
// server, so no host port is needed.
func (i *Inspector) listDatabases(ctx context.Context, ct docker.Container, spec engine.Spec, creds models.ResolvedCredentials) []string {
	if spec.ListCommand == nil {
		return nil
	}

	user := creds.User
	if user == "" {
		user = spec.DefaultUser
	}
	tc := spec.ListCommand(engine.ListTarget{User: user, Password: creds.Password})

	for _, bin := range tc.Binaries {
		res, err := i.exec(ctx, ct.ID, tc.Argv(bin), tc.EnvList())
		if err != nil {
			log.Debug().Err(err).Str("container", ct.Name).Msg("In-container listing failed")
			return nil
		}
		switch res.ExitCode {
		case 0:
			return engine.ListDatabases(spec.Kind, res.Stdout)
		case exitNotExecutable, exitNotFound:
			continue
		default:
			log.Warn().
				Str("container", ct.Name).
				Int("exit_code", res.ExitCode).
				Str("stderr", strings.TrimSpace(res.Stderr)).
				Msg("Could not list databases in container")
			return nil
		}
	}
	return nil
}

func (i *Inspector) exec(ctx context.Context, id string, argv, env []string) (docker.ExecResult, error) {
	ctx, cancel := context.WithTimeout(ctx, i.opts.ExecTimeout)
	defer cancel()
	return i.opts.Runtime.Exec(ctx, id, argv, env, nil)
}
