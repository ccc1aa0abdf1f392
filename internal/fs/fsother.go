//go:build !linux && !darwin && !freebsd && !openbsd && !netbsd && !windows

package fs

// Available has no probe on this system.
func Available(string) (uint64, error) {
	return 0, ErrUnsupportedOS
}
