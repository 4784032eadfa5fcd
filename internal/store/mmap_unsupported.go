//go:build !linux && !darwin

package store

// On unsupported platforms, MMap falls back to positioned file I/O
type MMap struct {
	*File
}

func NewMMap(path string, blockSize int) (*MMap, error) {
	f, err := NewFile(path, blockSize)
	if err != nil {
		return nil, err
	}
	return &MMap{File: f}, nil
}
