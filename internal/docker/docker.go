// Package docker queries the Docker Engine API directly for the live state of
// containers started through compose.
package docker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"switchbox/internal/apperrors"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

// ContainerState is the runtime's authoritative view of one container.
type ContainerState struct {
	ID         string
	Name       string
	Status     string // created, running, paused, restarting, removing, exited, dead
	Running    bool
	ExitCode   int
	Error      string
	StartedAt  time.Time // zero if never started
	FinishedAt time.Time // zero if still running
}

// Client wraps the Docker Engine API client.
type Client struct {
	client *client.Client
	guard  *guard
}

// NewClient connects using the standard DOCKER_* environment variables.
func NewClient() (*Client, error) {
	return NewClientWithGuard(GuardConfig{})
}

// NewClientWithGuard is NewClient with explicit guard tuning.
func NewClientWithGuard(cfg GuardConfig) (*Client, error) {
	dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Client{client: dockerClient, guard: newGuard(cfg)}, nil
}

// Inspect returns the live state of a container. After repeated daemon
// failures it fails fast with ErrDaemonUnavailable until a cooldown passes.
func (c *Client) Inspect(ctx context.Context, containerID string) (*ContainerState, error) {
	containerID = strings.TrimSpace(containerID)
	if !c.guard.allow() {
		return nil, apperrors.Runtime("docker.inspectContainer", ErrDaemonUnavailable)
	}
	inspect, err := c.client.ContainerInspect(ctx, containerID)
	if err != nil {
		if client.IsErrNotFound(err) {
			c.guard.succeeded()
			return nil, apperrors.NotFound("container", containerID)
		}
		if ctx.Err() == nil {
			c.guard.failed()
		}
		return nil, apperrors.Runtime("docker.inspectContainer", err)
	}
	c.guard.succeeded()

	state := &ContainerState{
		ID:   inspect.ID,
		Name: strings.TrimPrefix(inspect.Name, "/"),
	}
	if inspect.State != nil {
		state.Status = string(inspect.State.Status)
		state.Running = inspect.State.Running
		state.ExitCode = inspect.State.ExitCode
		state.Error = inspect.State.Error
		state.StartedAt = parseDockerTime(inspect.State.StartedAt)
		state.FinishedAt = parseDockerTime(inspect.State.FinishedAt)
	}
	return state, nil
}

// Wait blocks until the container is no longer running and returns its exit code.
func (c *Client) Wait(ctx context.Context, containerID string) (int, error) {
	containerID = strings.TrimSpace(containerID)
	statusCh, errCh := c.client.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)

	select {
	case <-ctx.Done():
		return -1, ctx.Err()
	case err := <-errCh:
		if client.IsErrNotFound(err) {
			return -1, apperrors.NotFound("container", containerID)
		}
		return -1, apperrors.Runtime("docker.waitContainer", err)
	case status := <-statusCh:
		if status.Error != nil {
			// The container is stopped either way.
			slog.Warn("Container wait reported an error", "containerId", containerID, "error", status.Error.Message)
		}
		return int(status.StatusCode), nil
	}
}

// Ready checks if the Docker daemon is reachable and responsive. It always
// contacts the daemon, and a successful ping closes the guard.
func (c *Client) Ready(ctx context.Context) error {
	if _, err := c.client.Ping(ctx); err != nil {
		return err
	}
	c.guard.succeeded()
	return nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// parseDockerTime parses the RFC3339 timestamps Docker reports. Docker uses
// 0001-01-01T00:00:00Z for unset values, which maps to the zero time.
func parseDockerTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil || t.IsZero() {
		return time.Time{}
	}
	return t.UTC()
}
