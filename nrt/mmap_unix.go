//go:build unix

package nrt

import (
	"os"

	"golang.org/x/sys/unix"
)

type mappedFile struct {
	data []byte
}

// mapFile maps path read-only and private. The file descriptor is closed
// before returning; the mapping stays valid until Close.
func mapFile(path string) (*mappedFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, newStatusError("map program", ErrFileAccess, StatusStatFailed, "%v", err)
	}
	defer f.Close()

	var st unix.Stat_t
	if err := unix.Fstat(int(f.Fd()), &st); err != nil {
		return nil, newStatusError("map program", ErrFileAccess, StatusStatFailed, "stat %s: %v", path, err)
	}
	if st.Size <= 0 {
		return nil, newStatusError("map program", ErrMapping, StatusMapFailed, "%s is empty", path)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(st.Size), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return nil, newStatusError("map program", ErrMapping, StatusMapFailed, "mmap %s: %v", path, err)
	}
	return &mappedFile{data: data}, nil
}

// Close unmaps the file. It is safe to call more than once.
func (m *mappedFile) Close() error {
	if m == nil || m.data == nil {
		return nil
	}
	data := m.data
	m.data = nil
	return unix.Munmap(data)
}
