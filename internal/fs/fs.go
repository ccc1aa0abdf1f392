// Package fs probes free disk space before images are written.
package fs

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrUnsupportedOS is returned when the operating system is not supported.
var ErrUnsupportedOS = errors.New("unsupported operating system for disk space check")

// MiB is one mebibyte in bytes.
const MiB uint64 = 1 << 20

// SpaceError reports a folder with less free space than required.
type SpaceError struct {
	Dir       string
	Available uint64
	Required  uint64
}

func (e *SpaceError) Error() string {
	return fmt.Sprintf("%d MiB available in %s, %d MiB required", e.Available/MiB, e.Dir, e.Required/MiB)
}

// Ensure checks that dir has at least required free bytes. A zero requirement and systems
// without a probe always pass.
func Ensure(dir string, required uint64) error {
	if required == 0 {
		return nil
	}
	available, err := Available(dir)
	if errors.Is(err, ErrUnsupportedOS) {
		return nil
	}
	if err != nil {
		return err
	}
	if available < required {
		return &SpaceError{Dir: dir, Available: available, Required: required}
	}
	return nil
}
