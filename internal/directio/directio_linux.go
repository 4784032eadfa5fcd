//go:build linux

package directio

import (
	"os"

	"golang.org/x/sys/unix"
)

const (
	AlignSize = 4096
	DirectIO  = true
)

// OpenFile is os.OpenFile with O_DIRECT set.
func OpenFile(name string, flag int, perm os.FileMode) (*os.File, error) {
	return os.OpenFile(name, flag|unix.O_DIRECT, perm)
}
