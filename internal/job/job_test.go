package job

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"switchbox/internal/afterrun"
	"switchbox/internal/apperrors"
	"switchbox/internal/compose"
	"switchbox/internal/docker"
	"switchbox/internal/jobdir"
	"switchbox/internal/process"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type launchCall struct {
	service string
	opts    compose.RunOptions
}

type fakeLauncher struct {
	mu     sync.Mutex
	calls  []launchCall
	stdout string
	err    error
}

func (f *fakeLauncher) Run(_ context.Context, service string, opts compose.RunOptions) (*process.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, launchCall{service: service, opts: opts})
	if f.err != nil {
		return nil, f.err
	}
	return &process.Result{Args: []string{"docker", "compose", "run", service}, Stdout: f.stdout}, nil
}

func (f *fakeLauncher) Command(subcmd ...string) []string {
	return append([]string{"docker", "compose", "--project-name=switchbox"}, subcmd...)
}

func (f *fakeLauncher) ProjectDir() string { return "/srv/project" }

func (f *fakeLauncher) launches() []launchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]launchCall(nil), f.calls...)
}

type fakeSpawner struct {
	mu    sync.Mutex
	specs []afterrun.Spec
	err   error
}

func (f *fakeSpawner) Spawn(spec afterrun.Spec) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.specs = append(f.specs, spec)
	if f.err != nil {
		return 0, f.err
	}
	return 4242, nil
}

// mapInspector serves container states by id; unknown ids are not found.
type mapInspector map[string]docker.ContainerState

func (m mapInspector) Inspect(_ context.Context, id string) (*docker.ContainerState, error) {
	state, ok := m[id]
	if !ok {
		return nil, apperrors.NotFound("container", id)
	}
	state.ID = id
	return &state, nil
}

type fakeMetrics struct {
	created   atomic.Int64
	started   atomic.Int64
	failed    atomic.Int64
	refreshes atomic.Int64
	spawned   atomic.Int64
}

func (f *fakeMetrics) RecordJobCreated(context.Context) { f.created.Add(1) }

func (f *fakeMetrics) RecordJobStart(_ context.Context, success bool) {
	if success {
		f.started.Add(1)
	} else {
		f.failed.Add(1)
	}
}

func (f *fakeMetrics) RecordStatusRefresh(context.Context, string) { f.refreshes.Add(1) }

func (f *fakeMetrics) RecordFollowUpSpawned(_ context.Context, success bool) {
	if success {
		f.spawned.Add(1)
	}
}

var fixedNow = time.Unix(1700000000, 0)

type testRuntime struct {
	*Runtime
	launcher *fakeLauncher
	spawner  *fakeSpawner
}

func newTestRuntime(t *testing.T, inspector mapInspector) *testRuntime {
	t.Helper()
	launcher := &fakeLauncher{stdout: "abc123\n"}
	spawner := &fakeSpawner{}
	if inspector == nil {
		inspector = mapInspector{}
	}
	return &testRuntime{
		Runtime: &Runtime{
			BaseDir:   filepath.Join(t.TempDir(), "jobs"),
			Launcher:  launcher,
			Inspector: inspector,
			FollowUp:  spawner,
			Now:       func() time.Time { return fixedNow },
		},
		launcher: launcher,
		spawner:  spawner,
	}
}

func TestOpen_CreatesNewJob(t *testing.T) {
	t.Parallel()
	rt := newTestRuntime(t, nil)
	metrics := &fakeMetrics{}
	rt.Metrics = metrics

	job, err := rt.Open(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, "1700000000", job.ID)
	assert.Equal(t, filepath.Join(rt.BaseDir, "1700000000"), job.Dir.Path)
	assert.Equal(t, jobdir.StateCreated, job.Status.Status)
	assert.False(t, job.Status.HasContainer())
	assert.Empty(t, job.Environment)
	assert.Equal(t, int64(1), metrics.created.Load())
}

func TestOpen_CollidingIDsGetSuffix(t *testing.T) {
	t.Parallel()
	rt := newTestRuntime(t, nil)

	var ids []string
	for range 3 {
		job, err := rt.Open(context.Background(), "")
		require.NoError(t, err)
		ids = append(ids, job.ID)
	}
	assert.Equal(t, []string{"1700000000", "1700000000-1", "1700000000-2"}, ids)
}

func TestOpen_UUID7Scheme(t *testing.T) {
	t.Parallel()
	rt := newTestRuntime(t, nil)
	rt.IDScheme = IDSchemeUUID7

	job, err := rt.Open(context.Background(), "")
	require.NoError(t, err)

	parsed, err := uuid.Parse(job.ID)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
}

func TestOpen_ExistingJobErrors(t *testing.T) {
	t.Parallel()
	rt := newTestRuntime(t, nil)
	require.NoError(t, os.MkdirAll(rt.BaseDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(rt.BaseDir, "plainfile"), []byte("x"), 0o644))

	tests := []struct {
		name string
		id   string
		want error
	}{
		{name: "missing", id: "1234", want: apperrors.ErrNotFound},
		{name: "traversal", id: "../etc", want: apperrors.ErrValidation},
		{name: "separator", id: "a/b", want: apperrors.ErrValidation},
		{name: "not a directory", id: "plainfile", want: apperrors.ErrInvalidState},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := rt.Open(context.Background(), tt.id)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestOpen_ReconcilesRunningJob(t *testing.T) {
	t.Parallel()
	started := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	finished := started.Add(time.Hour)
	rt := newTestRuntime(t, mapInspector{
		"abc123": {Status: "exited", ExitCode: 3, StartedAt: started, FinishedAt: finished},
	})

	created, err := rt.Open(context.Background(), "")
	require.NoError(t, err)
	require.NoError(t, created.Dir.SetStatus(jobdir.Status{
		ContainerID: "abc123",
		Status:      jobdir.StateRunning,
		ExitCode:    jobdir.UnknownExitCode,
	}))

	job, err := rt.Open(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, jobdir.StateExited, job.Status.Status)
	assert.Equal(t, 3, job.Status.ExitCode)
	assert.Equal(t, jobdir.NewTimestamp(started), job.Status.StartedAt)
	assert.Equal(t, jobdir.NewTimestamp(finished), job.Status.ExitedAt)

	persisted, err := job.Dir.Status()
	require.NoError(t, err)
	assert.Equal(t, job.Status, persisted)
}

func TestStart_LaunchesAndChainsIndexer(t *testing.T) {
	t.Parallel()
	rt := newTestRuntime(t, nil)
	metrics := &fakeMetrics{}
	rt.Metrics = metrics

	job, err := rt.Open(context.Background(), "")
	require.NoError(t, err)
	require.NoError(t, job.Dir.SetConfig(map[string]any{
		"cdm_source_name": "acme",
		"reload_vocab":    true,
		"log_dir":         "/custom/log",
		"row_limit":       int64(9007199254740993),
	}))

	status, err := job.Start(context.Background())
	require.NoError(t, err)

	launches := rt.launcher.launches()
	require.Len(t, launches, 1)
	assert.Equal(t, "etl", launches[0].service)
	assert.True(t, launches[0].opts.Detach)
	assert.False(t, launches[0].opts.Remove)
	assert.Equal(t, map[string]string{
		"LOG_DIR":         "/custom/log",
		"DATADIR":         job.Dir.DataDir,
		"VOCAB_DIR":       "/vocab",
		"CDM_SOURCE_NAME": "acme",
		"RELOAD_VOCAB":    "true",
		"ROW_LIMIT":       "9007199254740993",
	}, launches[0].opts.Env)

	require.Len(t, rt.spawner.specs, 1)
	assert.Equal(t, afterrun.Spec{
		Target:  "abc123",
		Workdir: "/srv/project",
		Command: []string{"docker", "compose", "--project-name=switchbox", "run", "--rm", "aresindexer"},
	}, rt.spawner.specs[0])

	assert.Equal(t, jobdir.ContainerRef("abc123"), status.ContainerID)
	assert.Equal(t, jobdir.StateRunning, status.Status)
	assert.Equal(t, jobdir.UnknownExitCode, status.ExitCode)

	persisted, err := job.Dir.Status()
	require.NoError(t, err)
	assert.Equal(t, status, persisted)
	assert.Equal(t, int64(1), metrics.started.Load())
	assert.Equal(t, int64(1), metrics.spawned.Load())
}

func TestStart_ConfiguredServices(t *testing.T) {
	t.Parallel()
	rt := newTestRuntime(t, nil)
	rt.ETLService = "etl-custom"
	rt.IndexerService = "indexer"
	rt.VocabDir = "/data/vocab"

	job, err := rt.Open(context.Background(), "")
	require.NoError(t, err)
	_, err = job.Start(context.Background())
	require.NoError(t, err)

	launches := rt.launcher.launches()
	require.Len(t, launches, 1)
	assert.Equal(t, "etl-custom", launches[0].service)
	assert.Equal(t, "/data/vocab", launches[0].opts.Env["VOCAB_DIR"])
	assert.Equal(t, "indexer", rt.spawner.specs[0].Command[len(rt.spawner.specs[0].Command)-1])
}

func TestStart_Volumes(t *testing.T) {
	t.Parallel()
	rt := newTestRuntime(t, nil)

	job, err := rt.Open(context.Background(), "",
		MountRef{HostPath: "/host/vocab", ContainerPath: "/vocab"},
		MountRef{HostPath: "/host/out", ContainerPath: "/out", Mode: ModeReadWrite})
	require.NoError(t, err)

	_, err = job.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"/host/vocab:/vocab:ro", "/host/out:/out:rw"}, rt.launcher.launches()[0].opts.Volumes)
}

func TestStart_InvalidMountLaunchesNothing(t *testing.T) {
	t.Parallel()
	rt := newTestRuntime(t, nil)

	job, err := rt.Open(context.Background(), "", MountRef{HostPath: "/a", ContainerPath: "/b", Mode: "wx"})
	require.NoError(t, err)

	_, err = job.Start(context.Background())
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
	assert.Empty(t, rt.launcher.launches())
}

func TestStart_RefusesRunningJob(t *testing.T) {
	t.Parallel()
	rt := newTestRuntime(t, nil)

	job, err := rt.Open(context.Background(), "")
	require.NoError(t, err)
	_, err = job.Start(context.Background())
	require.NoError(t, err)

	_, err = job.Start(context.Background())
	assert.True(t, errors.Is(err, apperrors.ErrConflict))
	assert.Len(t, rt.launcher.launches(), 1)
}

func TestStart_RestartsExitedJob(t *testing.T) {
	t.Parallel()
	rt := newTestRuntime(t, nil)

	job, err := rt.Open(context.Background(), "")
	require.NoError(t, err)
	exited := jobdir.NewTimestamp(fixedNow)
	require.NoError(t, job.Dir.SetStatus(jobdir.Status{
		ContainerID: "old",
		Status:      jobdir.StateExited,
		ExitCode:    1,
		StartedAt:   exited,
		ExitedAt:    exited,
	}))

	status, err := job.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, jobdir.ContainerRef("abc123"), status.ContainerID)
	assert.Equal(t, jobdir.StateRunning, status.Status)
	assert.Equal(t, jobdir.UnknownExitCode, status.ExitCode)
	assert.True(t, status.ExitedAt.IsZero())
}

func TestStart_RestartsDeadJob(t *testing.T) {
	t.Parallel()
	rt := newTestRuntime(t, mapInspector{"old": {Status: "dead", ExitCode: 137}})

	job, err := rt.Open(context.Background(), "")
	require.NoError(t, err)
	require.NoError(t, job.Dir.SetStatus(jobdir.Status{
		ContainerID: "old",
		Status:      jobdir.StateDead,
		ExitCode:    137,
	}))

	status, err := job.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, jobdir.ContainerRef("abc123"), status.ContainerID)
	assert.Equal(t, jobdir.StateRunning, status.Status)
	assert.Equal(t, jobdir.UnknownExitCode, status.ExitCode)
	assert.Len(t, rt.launcher.launches(), 1)
}

func TestStart_RefusesLockedJob(t *testing.T) {
	t.Parallel()
	rt := newTestRuntime(t, nil)

	job, err := rt.Open(context.Background(), "")
	require.NoError(t, err)
	unlock, err := job.Dir.TryLock()
	require.NoError(t, err)
	defer unlock()

	_, err = job.Start(context.Background())
	assert.True(t, errors.Is(err, apperrors.ErrConflict))
	assert.Empty(t, rt.launcher.launches())
}

func TestStart_LaunchFailureLeavesStatus(t *testing.T) {
	t.Parallel()
	rt := newTestRuntime(t, nil)
	rt.launcher.err = apperrors.ExternalCommand("process.run", []string{"docker"}, 1, "no such service", errors.New("exit status 1"))
	metrics := &fakeMetrics{}
	rt.Metrics = metrics

	job, err := rt.Open(context.Background(), "")
	require.NoError(t, err)

	_, err = job.Start(context.Background())
	assert.True(t, errors.Is(err, apperrors.ErrExternalCommand))
	assert.Empty(t, rt.spawner.specs)

	status, err := job.Dir.Status()
	require.NoError(t, err)
	assert.Equal(t, jobdir.NewStatus(), status)
	assert.Equal(t, int64(1), metrics.failed.Load())
}

func TestStart_EmptyContainerID(t *testing.T) {
	t.Parallel()
	rt := newTestRuntime(t, nil)
	rt.launcher.stdout = "  \n"

	job, err := rt.Open(context.Background(), "")
	require.NoError(t, err)

	_, err = job.Start(context.Background())
	assert.True(t, errors.Is(err, apperrors.ErrExternalCommand))
	assert.Empty(t, rt.spawner.specs)
}

func TestStart_SpawnFailureIsNotFatal(t *testing.T) {
	t.Parallel()
	rt := newTestRuntime(t, nil)
	rt.spawner.err = errors.New("fork failed")

	job, err := rt.Open(context.Background(), "")
	require.NoError(t, err)

	status, err := job.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, jobdir.StateRunning, status.Status)
	assert.Len(t, rt.spawner.specs, 1)
}

func TestStart_SurvivesCancelledRequest(t *testing.T) {
	t.Parallel()
	rt := newTestRuntime(t, nil)

	job, err := rt.Open(context.Background(), "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = job.Start(ctx)
	require.NoError(t, err)
}

func TestStringify(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   any
		want string
	}{
		{in: nil, want: ""},
		{in: "acme", want: "acme"},
		{in: true, want: "true"},
		{in: false, want: "false"},
		{in: 3.0, want: "3"},
		{in: 2.5, want: "2.5"},
		{in: 7, want: "7"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, stringify(tt.in), "input %v", tt.in)
	}
}

func TestMountRef_Volume(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mount   MountRef
		want    string
		wantErr bool
	}{
		{name: "default read-only", mount: MountRef{HostPath: "/a", ContainerPath: "/b"}, want: "/a:/b:ro"},
		{name: "read-write", mount: MountRef{HostPath: "/a", ContainerPath: "/b", Mode: ModeReadWrite}, want: "/a:/b:rw"},
		{name: "bad mode", mount: MountRef{HostPath: "/a", ContainerPath: "/b", Mode: "x"}, wantErr: true},
		{name: "missing host", mount: MountRef{ContainerPath: "/b"}, wantErr: true},
		{name: "colon in path", mount: MountRef{HostPath: "/a:b", ContainerPath: "/b"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.mount.Volume()
			if tt.wantErr {
				assert.True(t, errors.Is(err, apperrors.ErrValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseIDScheme(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]IDScheme{"": IDSchemeTimestamp, "timestamp": IDSchemeTimestamp, "uuid7": IDSchemeUUID7} {
		got, err := ParseIDScheme(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseIDScheme("sequential")
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
}
