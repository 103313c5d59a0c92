package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/rs/zerolog/log"

	"github.com/EricMurray-e-m-dev/DumpItAll/internal/models"
)

// ErrUnavailable means no Docker daemon answered.
var ErrUnavailable = errors.New("docker: daemon not available")

// PortBinding maps a container port to the host port it is published on.
type PortBinding struct {
	ContainerPort int
	HostPort      int
}

// Container is the subset of inspect data discovery needs.
type Container struct {
	ID     string
	Name   string
	Image  string
	Env    []string
	Ports  []PortBinding
	Mounts []models.Mount
}

type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

type Client struct {
	cli *client.Client
}

func NewClient() (*Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}

	return &Client{cli: cli}, nil
}

func (c *Client) IsAvailable(ctx context.Context) error {
	_, err := c.cli.Ping(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// ListContainers returns every running container with its inspect details.
// Containers that disappear between list and inspect, or that cannot be
// inspected, are skipped.
func (c *Client) ListContainers(ctx context.Context) ([]Container, error) {
	list, err := c.cli.ContainerList(ctx, types.ContainerListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	out := make([]Container, 0, len(list))
	for _, summary := range list {
		inspect, err := c.cli.ContainerInspect(ctx, summary.ID)
		if err != nil {
			if !client.IsErrNotFound(err) {
				log.Warn().Err(err).Str("container", summary.ID).Msg("Failed to inspect container, skipping")
			}
			continue
		}
		out = append(out, fromInspect(inspect))
	}
	return out, nil
}

func fromInspect(inspect types.ContainerJSON) Container {
	ct := Container{
		ID:   inspect.ID,
		Name: strings.TrimPrefix(inspect.Name, "/"),
	}
	if inspect.Config != nil {
		ct.Image = inspect.Config.Image
		ct.Env = inspect.Config.Env
	}
	if inspect.NetworkSettings != nil {
		ct.Ports = publishedPorts(inspect.NetworkSettings.Ports)
	}
	for _, m := range inspect.Mounts {
		ct.Mounts = append(ct.Mounts, models.Mount{
			Source:      m.Source,
			Destination: m.Destination,
			Type:        string(m.Type),
		})
	}
	return ct
}

// publishedPorts flattens a port map into bindings sorted by container port.
// Unpublished ports are skipped.
func publishedPorts(pm nat.PortMap) []PortBinding {
	var out []PortBinding
	for port, bindings := range pm {
		if port.Proto() != "tcp" {
			continue
		}
		for _, b := range bindings {
			host, err := strconv.Atoi(b.HostPort)
			if err != nil || host == 0 {
				continue
			}
			out = append(out, PortBinding{ContainerPort: port.Int(), HostPort: host})
			break
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ContainerPort < out[j].ContainerPort })
	return out
}

// Exec runs argv inside the container and waits for it to exit. When stdout
// is non-nil the command output is streamed there instead of ExecResult.Stdout.
func (c *Client) Exec(ctx context.Context, containerID string, argv, env []string, stdout io.Writer) (ExecResult, error) {
	created, err := c.cli.ContainerExecCreate(ctx, containerID, types.ExecConfig{
		Cmd:          argv,
		Env:          env,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return ExecResult{ExitCode: -1}, fmt.Errorf("failed to create exec: %w", err)
	}

	attach, err := c.cli.ContainerExecAttach(ctx, created.ID, types.ExecStartCheck{})
	if err != nil {
		return ExecResult{ExitCode: -1}, fmt.Errorf("failed to attach exec: %w", err)
	}
	defer attach.Close()

	var outBuf, errBuf bytes.Buffer
	var w io.Writer = &outBuf
	if stdout != nil {
		w = stdout
	}

	copied := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(w, &errBuf, attach.Reader)
		copied <- err
	}()

	select {
	case err := <-copied:
		if err != nil {
			return ExecResult{ExitCode: -1}, fmt.Errorf("failed to read exec output: %w", err)
		}
	case <-ctx.Done():
		return ExecResult{ExitCode: -1}, fmt.Errorf("exec in %s: %w", containerID, ctx.Err())
	}

	inspect, err := c.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return ExecResult{ExitCode: -1}, fmt.Errorf("failed to inspect exec: %w", err)
	}

	return ExecResult{
		ExitCode: inspect.ExitCode,
		Stdout:   outBuf.String(),
		Stderr:   errBuf.String(),
	}, nil
}

func (c *Client) Close() error {
	if c.cli != nil {
		return c.cli.Close()
	}
	return nil
}
