//go:build windows

package fs

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/windows"
)

// Available returns the number of bytes available to the user on the filesystem holding path.
func Available(path string) (uint64, error) {
	pathPtr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return 0, errors.Wrapf(err, "bad path %s", path)
	}
	var freeBytes uint64
	if err := windows.GetDiskFreeSpaceEx(pathPtr, &freeBytes, nil, nil); err != nil {
		return 0, errors.Wrapf(err, "GetDiskFreeSpaceEx %s", path)
	}
	return freeBytes, nil
}
