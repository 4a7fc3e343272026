//go:build unix

package peer

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// OSName describes the running system for the OS header, e.g. "Linux 6.1.0".
func OSName() string {
	var u unix.Utsname
	if err := unix.Uname(&u); err != nil {
		return runtime.GOOS
	}
	return unix.ByteSliceToString(u.Sysname[:]) + " " + unix.ByteSliceToString(u.Release[:])
}
