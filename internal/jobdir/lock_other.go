//go:build !unix

package jobdir

// TryLock is a no-op where flock is unavailable.
func (d *Dir) TryLock() (func(), error) {
	return func() {}, nil
}
