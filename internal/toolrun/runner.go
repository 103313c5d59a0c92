// Package toolrun executes engine client tools with a mandatory timeout.
package toolrun

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	// ErrNoTimeout is returned when a command is started without a deadline.
	ErrNoTimeout = errors.New("toolrun: timeout is required")

	// ErrNotFound means none of the candidate binaries is installed.
	ErrNotFound = errors.New("toolrun: executable not found")

	// ErrTimedOut wraps commands killed at their deadline.
	ErrTimedOut = errors.New("toolrun: command timed out")
)

type Command struct {
	Name    string
	Args    []string
	Env     []string // KEY=value overrides applied on top of os.Environ()
	Timeout time.Duration

	// Stdout receives standard output instead of Result.Stdout when set.
	Stdout io.Writer
}

type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Runner abstracts process execution so stages can be tested with stubs.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// Exec runs commands on the local host.
type Exec struct{}

// Run starts cmd and waits for it. A non-zero exit is reported through
// Result.ExitCode with a nil error; failures to start, missing binaries and
// timeouts are errors.
func (Exec) Run(ctx context.Context, cmd Command) (Result, error) {
	if cmd.Timeout <= 0 {
		return Result{ExitCode: -1}, ErrNoTimeout
	}

	path, err := exec.LookPath(cmd.Name)
	if err != nil {
		return Result{ExitCode: -1}, fmt.Errorf("%w: %s", ErrNotFound, cmd.Name)
	}

	ctx, cancel := context.WithTimeout(ctx, cmd.Timeout)
	defer cancel()

	c := exec.CommandContext(ctx, path, cmd.Args...)
	c.Env = append(os.Environ(), cmd.Env...)

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	if cmd.Stdout != nil {
		c.Stdout = cmd.Stdout
	}
	c.Stderr = &stderr

	log.Debug().Str("tool", cmd.Name).Dur("timeout", cmd.Timeout).Msg("Running external tool")

	err = c.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}

	if ctx.Err() == context.DeadlineExceeded {
		res.ExitCode = -1
		return res, fmt.Errorf("%w: %s after %s", ErrTimedOut, cmd.Name, cmd.Timeout)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	if err != nil {
		res.ExitCode = -1
		return res, fmt.Errorf("failed to run %s: %w", cmd.Name, err)
	}

	return res, nil
}

// RunFirst tries each binary in order and returns the first that exists.
func RunFirst(ctx context.Context, r Runner, binaries []string, cmd Command) (Result, error) {
	err := fmt.Errorf("%w: no candidates", ErrNotFound)
	for _, bin := range binaries {
		cmd.Name = bin
		var res Result
		res, err = r.Run(ctx, cmd)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		return res, err
	}
	return Result{ExitCode: -1}, err
}
