//go:build !windows

package local

import (
	"os"

	"golang.org/x/sys/unix"
)

// syncDir fsyncs a directory after a rename so the rename survives a crash.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	defer d.Close()
	_ = unix.Fsync(int(d.Fd()))
}
