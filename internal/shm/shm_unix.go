//go:build !windows

package shm

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// shmDir is where POSIX shared memory objects live on Linux.
const shmDir = "/dev/shm"

func shmPath(name string) string {
	return filepath.Join(shmDir, name)
}

func osOpenOrCreate(name string, mappedSize int64) ([]byte, error) {
	fd, err := unix.Open(shmPath(name), unix.O_CREAT|unix.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("shm: open %q: %w", name, err)
	}
	defer unix.Close(fd)

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return nil, fmt.Errorf("shm: stat %q: %w", name, err)
	}
	if st.Size < mappedSize {
		if err := unix.Ftruncate(fd, mappedSize); err != nil {
			return nil, fmt.Errorf("shm: truncate %q to %d: %w", name, mappedSize, err)
		}
	} else {
		// Reuse the larger existing region.
		mappedSize = st.Size
	}

	data, err := unix.Mmap(fd, 0, int(mappedSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("shm: mmap %q: %w", name, err)
	}
	return data, nil
}

func osUnmap(data []byte) error {
	return unix.Munmap(data)
}

func osUnlink(name string) error {
	err := os.Remove(shmPath(name))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
