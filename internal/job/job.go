// Package job creates, starts and reconciles ETL jobs.
//
// A job is a directory of persisted state (see jobdir) plus a container
// started through compose. Starting a job launches the ETL container
// detached, spawns an after-run supervisor that runs the indexer once the
// ETL container stops, and records the container id. Status reads reconcile
// the persisted document with the live container.
package job

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"
	"switchbox/internal/afterrun"
	"switchbox/internal/apperrors"
	"switchbox/internal/compose"
	"switchbox/internal/jobdir"
	"switchbox/internal/process"
	"time"
)

// Launcher starts compose runs.
type Launcher interface {
	Run(ctx context.Context, service string, opts compose.RunOptions) (*process.Result, error)
	Command(subcmd ...string) []string
	ProjectDir() string
}

// FollowUpSpawner starts a detached after-run supervisor.
type FollowUpSpawner interface {
	Spawn(spec afterrun.Spec) (int, error)
}

// Metrics observes job operations. *observability.Metrics implements it.
type Metrics interface {
	RecordJobCreated(ctx context.Context)
	RecordJobStart(ctx context.Context, success bool)
	RecordStatusRefresh(ctx context.Context, state string)
	RecordFollowUpSpawned(ctx context.Context, success bool)
}

// Runtime holds the collaborators shared by every job.
type Runtime struct {
	BaseDir        string
	ETLService     string // default "etl"
	IndexerService string // default "aresindexer"
	VocabDir       string // default "/vocab"
	IDScheme       IDScheme
	Launcher       Launcher
	Inspector      jobdir.Inspector
	FollowUp       FollowUpSpawner
	Metrics        Metrics          // optional
	Now            func() time.Time // default time.Now
}

// Job is an opened job.
type Job struct {
	ID          string
	Dir         *jobdir.Dir
	Environment map[string]any
	Mounts      []MountRef
	Status      jobdir.Status

	rt *Runtime
}

// Open resolves an existing job by id, or creates a new one when id is
// empty. The environment and the reconciled status are loaded on open.
func (r *Runtime) Open(ctx context.Context, id string, mounts ...MountRef) (*Job, error) {
	var (
		dir *jobdir.Dir
		err error
	)
	if id == "" {
		dir, err = r.create(ctx)
	} else {
		dir, err = r.existing(id)
	}
	if err != nil {
		return nil, err
	}

	environment, err := dir.Config()
	if err != nil {
		return nil, err
	}
	job := &Job{
		ID:          dir.ID,
		Dir:         dir,
		Environment: environment,
		Mounts:      slices.Clone(mounts),
		rt:          r,
	}
	if _, err := job.LatestStatus(ctx); err != nil {
		return nil, err
	}
	slog.Debug("Job opened", "jobId", job.ID, "status", job.Status.Status)
	return job, nil
}

func (r *Runtime) create(ctx context.Context) (*jobdir.Dir, error) {
	id, err := reserveID(r.BaseDir, r.IDScheme, r.now())
	if err != nil {
		return nil, err
	}
	dir, err := jobdir.Open(r.BaseDir, id)
	if err != nil {
		return nil, err
	}
	if r.Metrics != nil {
		r.Metrics.RecordJobCreated(ctx)
	}
	slog.Info("Job created", "jobId", id, "path", dir.Path)
	return dir, nil
}

func (r *Runtime) existing(id string) (*jobdir.Dir, error) {
	if err := jobdir.ValidateID(id); err != nil {
		return nil, err
	}
	path := jobdir.Layout(r.BaseDir, id).Path
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, apperrors.NotFound("job", id)
	}
	if err != nil {
		return nil, apperrors.InvalidState("job", fmt.Sprintf("cannot stat job %s", id), err)
	}
	if !info.IsDir() {
		return nil, apperrors.InvalidState("job", fmt.Sprintf("job %s is not a directory", id), nil)
	}
	return jobdir.Open(r.BaseDir, id)
}

// LatestStatus reconciles the job's status with the container runtime and
// caches it on the job.
func (j *Job) LatestStatus(ctx context.Context) (jobdir.Status, error) {
	status, err := j.Dir.LatestStatus(ctx, j.rt.Inspector)
	if err != nil {
		return jobdir.Status{}, err
	}
	if j.rt.Metrics != nil {
		j.rt.Metrics.RecordStatusRefresh(ctx, string(status.Status))
	}
	j.Status = status
	return status, nil
}

// Start launches the ETL container and chains the indexer run to its exit.
//
// The job directory is locked for the duration, and a job whose container
// has not exited is refused. If the ETL run fails, the persisted status is
// left as it was. A failure to spawn the follow-up supervisor is logged
// only.
func (j *Job) Start(ctx context.Context) (jobdir.Status, error) {
	logger := slog.With("jobId", j.ID)

	status, err := j.start(ctx, logger)
	if j.rt.Metrics != nil {
		j.rt.Metrics.RecordJobStart(ctx, err == nil)
	}
	if err != nil {
		logger.Error("Job failed to start", "error", err)
		return jobdir.Status{}, err
	}
	logger.Info("Job started", "containerId", status.ContainerID)
	return status, nil
}

func (j *Job) start(ctx context.Context, logger *slog.Logger) (jobdir.Status, error) {
	unlock, err := j.Dir.TryLock()
	if err != nil {
		return jobdir.Status{}, err
	}
	defer unlock()

	current, err := j.Dir.Status()
	if err != nil {
		return jobdir.Status{}, err
	}
	// Dead containers are replaced like exited ones.
	if current.HasContainer() && !current.Status.Terminal() && current.Status != jobdir.StateDead {
		return jobdir.Status{}, apperrors.Conflict("job", j.ID,
			fmt.Sprintf("already started in container %s (%s)", current.ContainerID, current.Status))
	}

	config, err := j.Dir.Config()
	if err != nil {
		return jobdir.Status{}, err
	}
	j.Environment = config

	volumes := make([]string, 0, len(j.Mounts))
	for _, m := range j.Mounts {
		v, err := m.Volume()
		if err != nil {
			return jobdir.Status{}, err
		}
		volumes = append(volumes, v)
	}

	// The launch survives request cancellation.
	runCtx := context.WithoutCancel(ctx)
	result, err := j.rt.Launcher.Run(runCtx, j.rt.etlService(), compose.RunOptions{
		Detach:  true,
		Volumes: volumes,
		Env:     j.Overlay(),
	})
	if err != nil {
		return jobdir.Status{}, err
	}
	containerID := strings.TrimSpace(result.Stdout)
	if containerID == "" {
		return jobdir.Status{}, apperrors.ExternalCommand("compose.run", result.Args, result.ExitCode, result.Stderr,
			errors.New("no container id on stdout"))
	}

	spec := afterrun.Spec{
		Target:  containerID,
		Workdir: j.rt.Launcher.ProjectDir(),
		Command: j.rt.Launcher.Command("run", "--rm", j.rt.indexerService()),
	}
	_, spawnErr := j.rt.FollowUp.Spawn(spec)
	if j.rt.Metrics != nil {
		j.rt.Metrics.RecordFollowUpSpawned(ctx, spawnErr == nil)
	}
	if spawnErr != nil {
		logger.Error("Failed to spawn follow-up supervisor", "containerId", containerID, "error", spawnErr)
	}

	status := current
	status.ContainerID = jobdir.ContainerRef(containerID)
	status.Status = jobdir.StateRunning
	status.ExitCode = jobdir.UnknownExitCode
	status.ExitedAt = jobdir.Timestamp{}
	if err := j.Dir.SetStatus(status); err != nil {
		return jobdir.Status{}, err
	}
	j.Status = status
	return status, nil
}

// Overlay returns the environment passed into the ETL container: LOG_DIR,
// DATADIR and VOCAB_DIR, then every config key upper-cased. Config keys win
// on collision.
func (j *Job) Overlay() map[string]string {
	overlay := map[string]string{
		"LOG_DIR":   j.Dir.LogDir,
		"DATADIR":   j.Dir.DataDir,
		"VOCAB_DIR": j.rt.vocabDir(),
	}
	for _, key := range slices.Sorted(maps.Keys(j.Environment)) {
		overlay[strings.ToUpper(key)] = stringify(j.Environment[key])
	}
	return overlay
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	default:
		return fmt.Sprint(val)
	}
}

func (r *Runtime) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Runtime) etlService() string {
	if r.ETLService == "" {
		return "etl"
	}
	return r.ETLService
}

func (r *Runtime) indexerService() string {
	if r.IndexerService == "" {
		return "aresindexer"
	}
	return r.IndexerService
}

func (r *Runtime) vocabDir() string {
	if r.VocabDir == "" {
		return "/vocab"
	}
	return r.VocabDir
}
