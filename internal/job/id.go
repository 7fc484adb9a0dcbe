package job

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"switchbox/internal/apperrors"
	"time"

	"github.com/google/uuid"
)

// IDScheme selects how new job ids are generated.
type IDScheme string

const (
	// IDSchemeTimestamp uses the decimal Unix time in seconds.
	IDSchemeTimestamp IDScheme = "timestamp"
	// IDSchemeUUID7 uses time-ordered UUIDv7 strings.
	IDSchemeUUID7 IDScheme = "uuid7"
)

// maxIDAttempts bounds the suffixes tried when an id is already taken.
const maxIDAttempts = 100

// ParseIDScheme validates a configured scheme name. Empty means timestamp.
func ParseIDScheme(s string) (IDScheme, error) {
	switch IDScheme(s) {
	case "", IDSchemeTimestamp:
		return IDSchemeTimestamp, nil
	case IDSchemeUUID7:
		return IDSchemeUUID7, nil
	default:
		return "", apperrors.Validation("JOB_ID_SCHEME", fmt.Sprintf("unknown job id scheme %q", s))
	}
}

func newID(scheme IDScheme, now time.Time) (string, error) {
	if scheme == IDSchemeUUID7 {
		id, err := uuid.NewV7()
		if err != nil {
			return "", apperrors.Internal("job.newID", err)
		}
		return id.String(), nil
	}
	return strconv.FormatInt(now.Unix(), 10), nil
}

// reserveID claims a fresh job directory under base with an exclusive mkdir.
// When the candidate is taken, "-1", "-2", ... are appended, so an existing
// job is never reused.
func reserveID(base string, scheme IDScheme, now time.Time) (string, error) {
	if err := os.MkdirAll(base, 0o755); err != nil {
		return "", apperrors.InvalidState("jobs", fmt.Sprintf("cannot create job base directory %s", base), err)
	}
	candidate, err := newID(scheme, now)
	if err != nil {
		return "", err
	}

	id := candidate
	for attempt := 1; attempt <= maxIDAttempts; attempt++ {
		err := os.Mkdir(filepath.Join(base, id), 0o755)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", apperrors.InvalidState("job", fmt.Sprintf("cannot create directory for job %s", id), err)
		}
		id = fmt.Sprintf("%s-%d", candidate, attempt)
	}
	return "", apperrors.Conflict("job", candidate, fmt.Sprintf("no free id after %d attempts", maxIDAttempts))
}
