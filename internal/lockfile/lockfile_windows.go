//go:build windows

package lockfile

import "os"

// Advisory locking is a noop on Windows: the durable tables are not
// locked on this platform.
func Lock(f *os.File) error { return nil }

func Unlock(f *os.File) error { return nil }
