//go:build darwin

package directio

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const (
	AlignSize = 0
	DirectIO  = true
)

// OpenFile opens the file and turns off caching with F_NOCACHE.
func OpenFile(name string, flag int, perm os.FileMode) (*os.File, error) {
	file, err := os.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	if _, err := unix.FcntlInt(file.Fd(), unix.F_NOCACHE, 1); err != nil {
		file.Close()
		return nil, errors.Wrap(err, "set F_NOCACHE")
	}
	return file, nil
}
