// Package jobdir is the on-disk representation of one job: a config
// document, a status document, a log area and a data area under
// <base>/<job id>/.
//
// Documents are replaced whole through an atomic rename. Concurrent writers
// are serialized by the owner through TryLock, not by the documents.
package jobdir

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"switchbox/internal/apperrors"
	"switchbox/internal/docker"

	"github.com/moby/sys/atomicwriter"
)

const (
	DataDirName    = "data"
	LogDirName     = "log"
	ConfigFileName = "config.json"
	StatusFileName = "status.json"
)

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)

// ValidateID rejects ids that could escape the base directory.
func ValidateID(id string) error {
	if !idPattern.MatchString(id) {
		return apperrors.Validation("job_id", fmt.Sprintf("invalid job id %q", id))
	}
	return nil
}

// Inspector resolves a container id to its live state.
type Inspector interface {
	Inspect(ctx context.Context, containerID string) (*docker.ContainerState, error)
}

// Dir is one job's directory.
type Dir struct {
	ID         string
	Path       string
	DataDir    string
	LogDir     string
	ConfigFile string
	StatusFile string
}

// Layout derives the paths for id under base without touching the disk.
func Layout(base, id string) *Dir {
	path := filepath.Join(base, id)
	return &Dir{
		ID:         id,
		Path:       path,
		DataDir:    filepath.Join(path, DataDirName),
		LogDir:     filepath.Join(path, LogDirName),
		ConfigFile: filepath.Join(path, ConfigFileName),
		StatusFile: filepath.Join(path, StatusFileName),
	}
}

// Open ensures the directory layout for id exists and returns it. Existing
// documents are never truncated, so Open can be called any number of times.
func Open(base, id string) (*Dir, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	d := Layout(base, id)

	for _, dir := range []string{d.DataDir, d.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, apperrors.InvalidState("job", fmt.Sprintf("cannot create %s", dir), err)
		}
	}
	for _, file := range []string{d.ConfigFile, d.StatusFile} {
		f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, apperrors.InvalidState("job", fmt.Sprintf("cannot create %s", file), err)
		}
		if err := f.Close(); err != nil {
			return nil, apperrors.InvalidState("job", fmt.Sprintf("cannot create %s", file), err)
		}
	}
	return d, nil
}

// DataFile returns the path of a named file in the data area. The name must
// not contain path separators.
func (d *Dir) DataFile(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return "", apperrors.Validation("filename", fmt.Sprintf("invalid data file name %q", name))
	}
	return filepath.Join(d.DataDir, name), nil
}

// Config reads the config document. An empty document reads as an empty map.
func (d *Dir) Config() (map[string]any, error) {
	data, err := d.readDocument(d.ConfigFile)
	if err != nil {
		return nil, err
	}
	values := map[string]any{}
	if data == nil {
		return values, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&values); err != nil {
		return nil, apperrors.InvalidState("job", fmt.Sprintf("corrupt %s for job %s", ConfigFileName, d.ID), err)
	}
	if values == nil {
		values = map[string]any{}
	}
	for key, v := range values {
		if n, ok := v.(json.Number); ok {
			values[key] = decodeNumber(n)
		}
	}
	return values, nil
}

// decodeNumber returns integers as int64 and other numbers as float64.
// Integers outside the int64 range stay json.Number so no digits are lost.
func decodeNumber(n json.Number) any {
	if i, err := n.Int64(); err == nil {
		return i
	}
	if !strings.ContainsAny(n.String(), ".eE") {
		return n
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n
}

// SetConfig replaces the config document. Values must be JSON scalars.
func (d *Dir) SetConfig(values map[string]any) error {
	for key, value := range values {
		if !isScalar(value) {
			return apperrors.Validation(key, fmt.Sprintf("config value must be a string, number, bool or null, got %T", value))
		}
	}
	if values == nil {
		values = map[string]any{}
	}
	return d.writeDocument(d.ConfigFile, values)
}

// Status reads the status document. An empty document reads as NewStatus().
func (d *Dir) Status() (Status, error) {
	data, err := d.readDocument(d.StatusFile)
	if err != nil {
		return Status{}, err
	}
	if data == nil {
		return NewStatus(), nil
	}

	status := NewStatus()
	if err := json.Unmarshal(data, &status); err != nil {
		return Status{}, apperrors.InvalidState("job", fmt.Sprintf("corrupt %s for job %s", StatusFileName, d.ID), err)
	}
	if status.Status == "" {
		status.Status = StateCreated
	}
	if !status.Status.Valid() {
		return Status{}, apperrors.InvalidState("job", fmt.Sprintf("unknown status %q for job %s", status.Status, d.ID), nil)
	}
	return status, nil
}

// SetStatus replaces the status document.
func (d *Dir) SetStatus(status Status) error {
	if !status.Status.Valid() {
		return apperrors.Validation("status", fmt.Sprintf("unknown status %q", status.Status))
	}
	return d.writeDocument(d.StatusFile, status)
}

// LatestStatus reconciles the persisted status with the runtime. A job with
// no container or in a terminal state is returned as persisted without a
// runtime query. Otherwise the live state, exit code and timestamps replace
// the persisted ones and the result is written back.
func (d *Dir) LatestStatus(ctx context.Context, inspector Inspector) (Status, error) {
	status, err := d.Status()
	if err != nil {
		return Status{}, err
	}
	if !status.HasContainer() || status.Status.Terminal() {
		return status, nil
	}

	live, err := inspector.Inspect(ctx, string(status.ContainerID))
	if err != nil {
		return Status{}, err
	}

	state := State(live.Status)
	if !state.Valid() {
		return Status{}, apperrors.InvalidState("container",
			fmt.Sprintf("runtime reported unknown state %q for container %s", live.Status, status.ContainerID), nil)
	}
	status.Status = state
	status.ExitCode = live.ExitCode
	status.StartedAt = NewTimestamp(live.StartedAt)
	status.ExitedAt = NewTimestamp(live.FinishedAt)

	if err := d.SetStatus(status); err != nil {
		return Status{}, err
	}
	return status, nil
}

// Log concatenates every regular file directly under the log directory, in
// directory listing order.
func (d *Dir) Log() (string, error) {
	info, err := os.Stat(d.LogDir)
	if err != nil || !info.IsDir() {
		return "", apperrors.InvalidState("job", fmt.Sprintf("log directory missing for job %s", d.ID), err)
	}
	entries, err := os.ReadDir(d.LogDir)
	if err != nil {
		return "", apperrors.InvalidState("job", fmt.Sprintf("cannot list log directory for job %s", d.ID), err)
	}

	var b strings.Builder
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		content, err := os.ReadFile(filepath.Join(d.LogDir, entry.Name()))
		if err != nil {
			return "", apperrors.InvalidState("job", fmt.Sprintf("cannot read log %s for job %s", entry.Name(), d.ID), err)
		}
		b.Write(content)
	}
	return b.String(), nil
}

// readDocument returns nil for an empty or whitespace-only document.
func (d *Dir) readDocument(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperrors.InvalidState("job", fmt.Sprintf("%s missing for job %s", filepath.Base(path), d.ID), err)
		}
		return nil, apperrors.InvalidState("job", fmt.Sprintf("cannot read %s for job %s", filepath.Base(path), d.ID), err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	return data, nil
}

func (d *Dir) writeDocument(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return apperrors.Internal("jobdir.marshal", err)
	}
	data = append(data, '\n')
	if err := atomicwriter.WriteFile(path, data, 0o644); err != nil {
		return apperrors.InvalidState("job", fmt.Sprintf("cannot write %s for job %s", filepath.Base(path), d.ID), err)
	}
	return nil
}

func isScalar(v any) bool {
	switch v.(type) {
	case nil, string, bool, json.Number,
		float32, float64,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return true
	default:
		return false
	}
}
