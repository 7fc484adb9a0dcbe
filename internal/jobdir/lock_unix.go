//go:build unix

package jobdir

import (
	"errors"
	"fmt"
	"os"
	"switchbox/internal/apperrors"

	"golang.org/x/sys/unix"
)

// TryLock takes an exclusive advisory lock on the job directory without
// blocking. The returned function releases it.
func (d *Dir) TryLock() (func(), error) {
	f, err := os.Open(d.Path)
	if err != nil {
		return nil, apperrors.InvalidState("job", fmt.Sprintf("cannot open directory for job %s", d.ID), err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, apperrors.Conflict("job", d.ID, "another operation holds the job directory lock")
		}
		return nil, apperrors.InvalidState("job", fmt.Sprintf("cannot lock directory for job %s", d.ID), err)
	}

	return func() {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		_ = f.Close()
	}, nil
}
