//go:build !linux && !darwin

package directio

import "os"

const (
	AlignSize = 0
	DirectIO  = false
)

// OpenFile falls back to buffered I/O.
func OpenFile(name string, flag int, perm os.FileMode) (*os.File, error) {
	return os.OpenFile(name, flag, perm)
}
