// Package afterrun chains a follow-up command to the exit of a container.
//
// The service spawns its own binary with the after-run subcommand as a
// detached process. That process blocks on the container runtime until the
// target container stops, then runs the follow-up command in a working
// directory. It outlives the request that started it and reports only
// through its logs.
package afterrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"switchbox/internal/apperrors"
	"switchbox/internal/process"
	"switchbox/pkg/backoff"
	"time"
)

// Subcommand is the argv[1] that selects after-run mode.
const Subcommand = "after-run"

// Spec describes one chained run.
type Spec struct {
	Target  string   // container id to wait on
	Workdir string   // directory the follow-up runs in
	Command []string // follow-up argv
}

// Args returns the after-run arguments that encode spec.
func (s Spec) Args() []string {
	args := []string{Subcommand, s.Target, s.Workdir}
	return append(args, s.Command...)
}

// ParseArgs decodes the arguments following the after-run subcommand:
// <target> <workdir> <command...>.
func ParseArgs(args []string) (Spec, error) {
	if len(args) < 3 {
		return Spec{}, apperrors.Validation("args", fmt.Sprintf("usage: %s <container> <workdir> <command...>", Subcommand))
	}
	spec := Spec{
		Target:  strings.TrimSpace(args[0]),
		Workdir: args[1],
		Command: args[2:],
	}
	if spec.Target == "" {
		return Spec{}, apperrors.Validation("container", "target container id is required")
	}
	return spec, nil
}

// Starter launches a detached process.
type Starter interface {
	Start(cmd process.Command) (int, error)
}

// Spawner starts after-run processes.
type Spawner struct {
	Binary  string  // defaults to the running executable
	Starter Starter // defaults to process.Exec
}

// Spawn launches a detached after-run process for spec and returns its pid.
func (s *Spawner) Spawn(spec Spec) (int, error) {
	binary := s.Binary
	if binary == "" {
		exe, err := os.Executable()
		if err != nil {
			return 0, apperrors.Internal("afterrun.spawn", err)
		}
		binary = exe
	}
	starter := s.Starter
	if starter == nil {
		starter = process.Exec{}
	}

	argv := append([]string{binary}, spec.Args()...)
	pid, err := starter.Start(process.Command{Args: argv})
	if err != nil {
		return 0, err
	}
	slog.Info("Follow-up supervisor spawned", "pid", pid, "containerId", spec.Target, "workdir", spec.Workdir)
	return pid, nil
}

// Waiter blocks until a container stops and returns its exit code.
type Waiter interface {
	Wait(ctx context.Context, containerID string) (int, error)
}

// Invoker runs the follow-up command to completion.
type Invoker interface {
	Run(ctx context.Context, cmd process.Command) (*process.Result, error)
}

// Runner is the body of the after-run process.
type Runner struct {
	Waiter       Waiter
	Invoker      Invoker         // defaults to process.Exec
	Backoff      *backoff.Config // between failed waits
	WaitAttempts int             // failed waits tolerated; <= 0 means no limit
}

// Run waits for spec.Target to stop and then runs spec.Command in
// spec.Workdir. A container the runtime no longer knows counts as stopped.
func (r *Runner) Run(ctx context.Context, spec Spec) error {
	logger := slog.With("containerId", spec.Target, "workdir", spec.Workdir)
	logger.Info("Waiting for target container to stop")

	exitCode := -1
	err := backoff.Retry(ctx, r.Backoff, r.WaitAttempts, func(ctx context.Context) error {
		code, err := r.Waiter.Wait(ctx, spec.Target)
		if err == nil {
			exitCode = code
			return nil
		}
		if errors.Is(err, apperrors.ErrNotFound) {
			logger.Warn("Target container not found, treating as stopped")
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}, func(attempt int, err error, wait time.Duration) {
		logger.Warn("Waiting on container failed, retrying", "attempt", attempt, "retryIn", wait, "error", err)
	})
	if err != nil {
		logger.Error("Gave up waiting for target container", "error", err)
		return fmt.Errorf("wait for container %s: %w", spec.Target, err)
	}
	logger.Info("Target container stopped", "exitCode", exitCode)

	invoker := r.Invoker
	if invoker == nil {
		invoker = process.Exec{}
	}

	start := time.Now()
	result, err := invoker.Run(ctx, process.Command{Args: spec.Command, Dir: spec.Workdir})
	if err != nil {
		logger.Error("Follow-up command failed", "command", spec.Command, "error", err)
		return err
	}
	logger.Info("Follow-up command completed", "command", spec.Command, "duration", time.Since(start), "exitCode", result.ExitCode)
	return nil
}
