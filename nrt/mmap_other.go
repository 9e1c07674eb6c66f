//go:build !unix

package nrt

import (
	"os"
)

type mappedFile struct {
	data []byte
}

// mapFile reads path into memory on platforms without mmap.
func mapFile(path string) (*mappedFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, newStatusError("map program", ErrFileAccess, StatusStatFailed, "%v", err)
	}
	if info.Size() <= 0 {
		return nil, newStatusError("map program", ErrMapping, StatusMapFailed, "%s is empty", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, newStatusError("map program", ErrMapping, StatusMapFailed, "%v", err)
	}
	return &mappedFile{data: data}, nil
}

func (m *mappedFile) Close() error {
	if m != nil {
		m.data = nil
	}
	return nil
}
