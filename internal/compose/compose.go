// Package compose drives the docker compose command line for one project.
//
// The controller holds no state beyond its project coordinates: every method
// builds an argv, runs it through an Invoker and maps the result.
package compose

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"path/filepath"
	"slices"
	"strings"
	"switchbox/internal/apperrors"
	"switchbox/internal/docker"
	"switchbox/internal/process"
	"time"
)

// Invoker runs one child process to completion.
type Invoker interface {
	Run(ctx context.Context, cmd process.Command) (*process.Result, error)
}

// Inspector resolves a container id to its live state.
type Inspector interface {
	Inspect(ctx context.Context, containerID string) (*docker.ContainerState, error)
}

// MetricsRecorder observes compose invocations.
type MetricsRecorder interface {
	RecordComposeCommand(ctx context.Context, subcommand string, duration time.Duration, success bool)
}

// Options configures a Controller.
type Options struct {
	ProjectDir  string
	ProjectName string            // defaults to the base name of ProjectDir
	Command     []string          // defaults to docker compose
	DefaultEnv  map[string]string // merged under every per-call overlay
	Invoker     Invoker           // defaults to process.Exec
	Inspector   Inspector         // required only for PS
	Metrics     MetricsRecorder   // optional
}

// Controller issues compose subcommands against a single project.
type Controller struct {
	projectDir  string
	projectName string
	command     []string
	defaultEnv  map[string]string
	invoker     Invoker
	inspector   Inspector
	metrics     MetricsRecorder
	logger      *slog.Logger
}

// RunOptions are the optional arguments of Run.
type RunOptions struct {
	Args    []string          // container command arguments after the service name
	Detach  bool              // return as soon as the container is created
	Remove  bool              // remove the container when it exits
	Volumes []string          // host:container[:mode]
	Env     map[string]string // overlay passed into the container
}

// New creates a Controller. The default environment is copied.
func New(opts Options) *Controller {
	name := opts.ProjectName
	if name == "" {
		name = filepath.Base(opts.ProjectDir)
	}
	command := slices.Clone(opts.Command)
	if len(command) == 0 {
		command = []string{"docker", "compose"}
	}
	invoker := opts.Invoker
	if invoker == nil {
		invoker = process.Exec{}
	}
	return &Controller{
		projectDir:  opts.ProjectDir,
		projectName: name,
		command:     command,
		defaultEnv:  maps.Clone(opts.DefaultEnv),
		invoker:     invoker,
		inspector:   opts.Inspector,
		metrics:     opts.Metrics,
		logger:      slog.With("component", "compose", "project", name),
	}
}

// ProjectDir returns the compose project directory.
func (c *Controller) ProjectDir() string { return c.projectDir }

// ProjectName returns the compose project name.
func (c *Controller) ProjectName() string { return c.projectName }

// Command returns the full argv for a compose subcommand, including the
// project flags.
func (c *Controller) Command(subcmd ...string) []string {
	argv := make([]string, 0, len(c.command)+2+len(subcmd))
	argv = append(argv, c.command...)
	argv = append(argv,
		"--project-name="+c.projectName,
		"--project-directory="+c.projectDir,
	)
	return append(argv, subcmd...)
}

// FormatEnv returns the subprocess environment for an overlay and the
// --env flags that pass the overlay's variables into the container.
//
// A nil overlay yields a nil environment and no flags. Otherwise the
// environment is the current process environment, then the default
// environment, then the overlay. Keys are upper-cased in the flags only;
// the environment mapping keeps them as given. Flags are sorted.
func (c *Controller) FormatEnv(env map[string]string) (map[string]string, []string) {
	if env == nil {
		return nil, []string{}
	}
	full := process.Environ()
	maps.Copy(full, c.defaultEnv)
	maps.Copy(full, env)

	flags := make([]string, 0, len(env))
	for _, key := range slices.Sorted(maps.Keys(env)) {
		flags = append(flags, "--env="+strings.ToUpper(key))
	}
	return full, flags
}

// Compose runs an arbitrary subcommand. No --env flags are added; callers
// that need variables inside a container must include them in subcmd.
func (c *Controller) Compose(ctx context.Context, env map[string]string, subcmd ...string) (*process.Result, error) {
	full, _ := c.FormatEnv(env)
	return c.invoke(ctx, full, subcmd)
}

// Up starts a service in the background. Repeated calls are no-ops at the
// compose level when the service is already running.
func (c *Controller) Up(ctx context.Context, service string, env map[string]string) (*process.Result, error) {
	full, envFlags := c.FormatEnv(env)
	subcmd := []string{"up", "--detach", "--quiet-pull", "--remove-orphans"}
	subcmd = append(subcmd, envFlags...)
	subcmd = append(subcmd, service)
	return c.invoke(ctx, full, subcmd)
}

// Run runs a one-off container for service. With Detach set, the trimmed
// stdout of the result is the new container's id.
func (c *Controller) Run(ctx context.Context, service string, opts RunOptions) (*process.Result, error) {
	full, envFlags := c.FormatEnv(opts.Env)
	subcmd := []string{"run", "--quiet-pull", "--remove-orphans", "--service-ports"}
	if opts.Remove {
		subcmd = append(subcmd, "--rm")
	}
	if opts.Detach {
		subcmd = append(subcmd, "--detach")
	}
	for _, volume := range opts.Volumes {
		subcmd = append(subcmd, "--volume="+volume)
	}
	subcmd = append(subcmd, envFlags...)
	subcmd = append(subcmd, service)
	subcmd = append(subcmd, opts.Args...)
	return c.invoke(ctx, full, subcmd)
}

// PS lists every container of the project, running or not, resolved to its
// live state.
func (c *Controller) PS(ctx context.Context) ([]*docker.ContainerState, error) {
	if c.inspector == nil {
		return nil, apperrors.Internal("compose.ps", fmt.Errorf("no container inspector configured"))
	}
	result, err := c.invoke(ctx, nil, []string{"ps", "--all", "--quiet"})
	if err != nil {
		return nil, err
	}

	var containers []*docker.ContainerState
	for _, id := range strings.Split(result.Stdout, "\n") {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		state, err := c.inspector.Inspect(ctx, id)
		if err != nil {
			return nil, err
		}
		containers = append(containers, state)
	}
	return containers, nil
}

// Config returns the project's resolved configuration.
func (c *Controller) Config(ctx context.Context) (*Config, error) {
	result, err := c.invoke(ctx, nil, []string{"config", "--format=json", "--resolve-image-digests"})
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal([]byte(result.Stdout), &cfg); err != nil {
		return nil, apperrors.InvalidState("compose config", "failed to parse compose config output", err)
	}
	return &cfg, nil
}

// invoke runs subcmd. A nil env still picks up the default environment.
func (c *Controller) invoke(ctx context.Context, env map[string]string, subcmd []string) (*process.Result, error) {
	if env == nil && len(c.defaultEnv) > 0 {
		env, _ = c.FormatEnv(map[string]string{})
	}
	argv := c.Command(subcmd...)
	c.logger.Debug("Running compose", "argv", argv, "envKeys", len(env))

	start := time.Now()
	result, err := c.invoker.Run(ctx, process.Command{Args: argv, Env: env})
	if c.metrics != nil && len(subcmd) > 0 {
		c.metrics.RecordComposeCommand(ctx, subcmd[0], time.Since(start), err == nil)
	}
	if err != nil {
		c.logger.Warn("Compose command failed", "subcommand", firstOf(subcmd), "error", err)
		return result, err
	}
	return result, nil
}

func firstOf(s []string) string {
	if len(s) == 0 {
		return ""
	}
	return s[0]
}
