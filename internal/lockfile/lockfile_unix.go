//go:build !windows

package lockfile

import (
	"os"
	"syscall"
)

// Lock takes an exclusive advisory lock on f, blocking until acquired.
func Lock(f *os.File) error {
	return syscall.Flock(int(f.Fd()), syscall.LOCK_EX)
}

// Unlock releases the advisory lock on f.
func Unlock(f *os.File) error {
	return syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
}
