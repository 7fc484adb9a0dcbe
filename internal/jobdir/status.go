package jobdir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// State is a container lifecycle state as reported by the runtime.
type State string

const (
	StateCreated    State = "created"
	StateRunning    State = "running"
	StatePaused     State = "paused"
	StateRestarting State = "restarting"
	StateRemoving   State = "removing"
	StateExited     State = "exited"
	StateDead       State = "dead"
)

// States lists every valid State.
var States = []State{
	StateCreated, StateRunning, StatePaused, StateRestarting,
	StateRemoving, StateExited, StateDead,
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	for _, known := range States {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether reconciliation can be skipped. Only exited
// qualifies; a dead container is re-queried on every read.
func (s State) Terminal() bool {
	return s == StateExited
}

// UnknownExitCode marks an exit code that has not been observed.
const UnknownExitCode = -255

// Status is the persisted lifecycle document of a job.
type Status struct {
	ContainerID ContainerRef `json:"container_id"`
	Status      State        `json:"status"`
	ExitCode    int          `json:"exit_code"`
	StartedAt   Timestamp    `json:"start_dt"`
	ExitedAt    Timestamp    `json:"exit_dt"`
}

// NewStatus returns the status of a job that has never been started.
func NewStatus() Status {
	return Status{Status: StateCreated, ExitCode: UnknownExitCode}
}

// HasContainer reports whether a container has been associated with the job.
func (s Status) HasContainer() bool {
	return s.ContainerID != ""
}

// ContainerRef is a container id. The unset value is written as the number 0,
// and 0 or null is read back as unset.
type ContainerRef string

func (c ContainerRef) MarshalJSON() ([]byte, error) {
	if c == "" {
		return []byte("0"), nil
	}
	return json.Marshal(string(c))
}

func (c *ContainerRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*c = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = ContainerRef(s)
		return nil
	}
	n, err := strconv.ParseFloat(string(data), 64)
	if err != nil || n != 0 {
		return fmt.Errorf("container_id must be a string or 0, got %s", data)
	}
	*c = ""
	return nil
}

// Timestamp is a UTC instant. The zero value means unset and is written as
// 0001-01-01T00:00:00Z.
type Timestamp struct {
	time.Time
}

// NewTimestamp wraps t, normalized to UTC.
func NewTimestamp(t time.Time) Timestamp {
	if t.IsZero() {
		return Timestamp{}
	}
	return Timestamp{Time: t.UTC()}
}

// Accepted layouts, tried in order. Naive timestamps are taken as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*t = Timestamp{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	if s == "" {
		*t = Timestamp{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			*t = NewTimestamp(parsed)
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", s)
}
