// Package process runs external commands, either to completion or detached
// from the calling process.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"switchbox/internal/apperrors"
)

// Command describes one child process invocation.
type Command struct {
	Args []string          // Executable followed by its arguments
	Dir  string            // Working directory (empty = current directory)
	Env  map[string]string // Complete child environment; nil inherits the current one
}

// Result holds the outcome of a synchronous invocation.
type Result struct {
	Args     []string
	Stdout   string
	Stderr   string
	ExitCode int
}

// Exec runs commands with os/exec.
type Exec struct{}

// Run executes cmd and waits for it. A non-zero exit or a spawn failure yields an
// apperrors.ErrExternalCommand error; on non-zero exit the Result is returned too.
func (Exec) Run(ctx context.Context, cmd Command) (*Result, error) {
	if len(cmd.Args) == 0 {
		return nil, apperrors.ExternalCommand("process.run", nil, -1, "", errors.New("empty command"))
	}

	c := exec.CommandContext(ctx, cmd.Args[0], cmd.Args[1:]...)
	c.Dir = cmd.Dir
	c.Env = EnvList(cmd.Env)

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	err := c.Run()
	result := &Result{
		Args:   cmd.Args,
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err == nil {
		return result, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, apperrors.ExternalCommand("process.run", cmd.Args, result.ExitCode, result.Stderr, err)
	}
	result.ExitCode = -1
	return nil, apperrors.ExternalCommand("process.run", cmd.Args, -1, "", err)
}

// Start launches cmd in its own session and returns without waiting. The child
// inherits stdout and stderr and keeps running after this process exits.
func (Exec) Start(cmd Command) (int, error) {
	if len(cmd.Args) == 0 {
		return 0, apperrors.ExternalCommand("process.start", nil, -1, "", errors.New("empty command"))
	}

	c := exec.Command(cmd.Args[0], cmd.Args[1:]...)
	c.Dir = cmd.Dir
	c.Env = EnvList(cmd.Env)
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	c.SysProcAttr = detachedAttr()

	if err := c.Start(); err != nil {
		return 0, apperrors.ExternalCommand("process.start", cmd.Args, -1, "", err)
	}
	pid := c.Process.Pid
	// Reap the child once it exits.
	go func() {
		if err := c.Wait(); err != nil {
			slog.Debug("Detached process exited", "pid", pid, "error", err)
		}
	}()
	return pid, nil
}

// EnvList converts an environment mapping into sorted KEY=VALUE pairs.
// A nil map yields nil so exec inherits the current environment.
func EnvList(env map[string]string) []string {
	if env == nil {
		return nil
	}
	list := make([]string, 0, len(env))
	for k, v := range env {
		list = append(list, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(list)
	return list
}

// Environ returns the current process environment as a mapping.
func Environ() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		env[key] = value
	}
	return env
}
