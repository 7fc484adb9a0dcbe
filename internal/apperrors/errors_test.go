package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestValidation(t *testing.T) {
	t.Parallel()
	err := Validation("job_id", "job ID is invalid")

	if !errors.Is(err, ErrValidation) {
		t.Error("expected error to match ErrValidation")
	}
	if err.Error() != "job ID is invalid" {
		t.Errorf("expected message 'job ID is invalid', got %q", err.Error())
	}

	var appErr *Error
	if !errors.As(err, &appErr) {
		t.Fatal("expected error to be *Error")
	}
	if appErr.Field != "job_id" {
		t.Errorf("expected field 'job_id', got %q", appErr.Field)
	}
}

func TestNotFound(t *testing.T) {
	t.Parallel()
	err := NotFound("job", "1700000000")

	if !errors.Is(err, ErrNotFound) {
		t.Error("expected error to match ErrNotFound")
	}
	if err.Error() != "job 1700000000 not found" {
		t.Errorf("expected message 'job 1700000000 not found', got %q", err.Error())
	}

	var appErr *Error
	if !errors.As(err, &appErr) {
		t.Fatal("expected error to be *Error")
	}
	if appErr.Resource != "job" {
		t.Errorf("expected resource 'job', got %q", appErr.Resource)
	}
}

func TestConflict(t *testing.T) {
	t.Parallel()
	err := Conflict("job", "abc123", "job is locked")

	if !errors.Is(err, ErrConflict) {
		t.Error("expected error to match ErrConflict")
	}
	if err.Error() != "job abc123: job is locked" {
		t.Errorf("unexpected message: %q", err.Error())
	}
}

func TestInvalidState(t *testing.T) {
	t.Parallel()
	cause := fmt.Errorf("unexpected end of JSON input")
	err := InvalidState("job", "status.json is corrupt", cause)

	if !errors.Is(err, ErrInvalidState) {
		t.Error("expected error to match ErrInvalidState")
	}
	if err.Error() != "status.json is corrupt: unexpected end of JSON input" {
		t.Errorf("unexpected message: %q", err.Error())
	}

	bare := InvalidState("job", "log directory missing", nil)
	if bare.Error() != "log directory missing" {
		t.Errorf("unexpected message: %q", bare.Error())
	}
}

func TestExternalCommand(t *testing.T) {
	t.Parallel()
	args := []string{"docker", "compose", "ps"}

	err := ExternalCommand("compose.ps", args, 1, "no such service\n", nil)
	if !errors.Is(err, ErrExternalCommand) {
		t.Error("expected error to match ErrExternalCommand")
	}
	if err.Error() != "compose.ps: docker compose ps: exit status 1: no such service" {
		t.Errorf("unexpected message: %q", err.Error())
	}

	var appErr *Error
	if !errors.As(err, &appErr) {
		t.Fatal("expected error to be *Error")
	}
	if appErr.ExitCode != 1 || appErr.Stderr != "no such service\n" {
		t.Errorf("unexpected exit details: %d %q", appErr.ExitCode, appErr.Stderr)
	}

	spawn := ExternalCommand("process.run", []string{"missing-binary"}, -1, "", fmt.Errorf("executable file not found"))
	if !strings.Contains(spawn.Error(), "executable file not found") {
		t.Errorf("expected spawn cause in message, got %q", spawn.Error())
	}
}

func TestRuntime(t *testing.T) {
	t.Parallel()
	cause := fmt.Errorf("docker daemon unavailable")
	err := Runtime("docker.inspect", cause)

	if !errors.Is(err, ErrExternalCommand) {
		t.Error("expected runtime failure to classify as ErrExternalCommand")
	}
	if err.Error() != "docker.inspect: docker daemon unavailable" {
		t.Errorf("unexpected message: %q", err.Error())
	}
}

func TestInternal(t *testing.T) {
	t.Parallel()
	cause := fmt.Errorf("disk full")
	err := Internal("jobdir.write", cause)

	if !errors.Is(err, ErrInternal) {
		t.Error("expected error to match ErrInternal")
	}
	if err.Error() != "jobdir.write: disk full" {
		t.Errorf("unexpected message: %q", err.Error())
	}

	var appErr *Error
	if !errors.As(err, &appErr) {
		t.Fatal("expected error to be *Error")
	}
	if appErr.Cause != cause {
		t.Error("expected cause to be preserved")
	}
}

func TestHTTPStatus(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"validation", Validation("id", "required"), http.StatusBadRequest},
		{"not found", NotFound("job", "123"), http.StatusNotFound},
		{"conflict", Conflict("job", "123", "locked"), http.StatusConflict},
		{"external command", ExternalCommand("compose.run", nil, 2, "", nil), http.StatusBadGateway},
		{"invalid state", InvalidState("job", "corrupt", nil), http.StatusInternalServerError},
		{"internal", Internal("op", fmt.Errorf("fail")), http.StatusInternalServerError},
		{"wrapped validation", fmt.Errorf("wrap: %w", Validation("f", "m")), http.StatusBadRequest},
		{"unknown error", fmt.Errorf("unknown"), http.StatusInternalServerError},
		{"nil error", nil, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := HTTPStatus(tt.err)
			if got != tt.expected {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestErrorsIsWithWrapping(t *testing.T) {
	t.Parallel()
	original := InvalidState("job", "log directory missing", nil)
	wrapped := fmt.Errorf("get job: %w", original)
	doubleWrapped := fmt.Errorf("handler: %w", wrapped)

	if !errors.Is(doubleWrapped, ErrInvalidState) {
		t.Error("expected errors.Is to find ErrInvalidState through multiple wraps")
	}
}

func TestErrorsIsFindsCause(t *testing.T) {
	t.Parallel()
	cause := errors.New("daemon unavailable")
	err := Runtime("docker.inspectContainer", cause)

	if !errors.Is(err, ErrExternalCommand) {
		t.Error("expected errors.Is to find the sentinel")
	}
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the cause")
	}
	if errors.Is(InvalidState("job", "corrupt", nil), cause) {
		t.Error("did not expect an unrelated cause to match")
	}
}
