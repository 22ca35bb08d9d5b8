// Package mapfile provides a read-only memory-mapped view of a small
// on-disk text file, used by the devices-file and environ-file readers
// and by the cgroup manager's "tasks" reader (§3, "Mapfile"). Mapping
// rather than reading avoids an extra buffer copy for files that are
// re-scanned from the start on every poll iteration (cgroup_signal
// busy-waits on the same tasks file across a termination cascade).
package mapfile

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// File is a mapped view of filename. A File with Size 0 means the
// backing file was empty or, for quiet opens, absent.
type File struct {
	Filename string
	Size     int
	fd       int
	base     []byte
}

// Open mmaps filename read-only. If quiet is true, a missing file is not
// an error — the returned File has Size 0, matching cgroup_signal's
// "file absent means cgroup already gone" semantics (§4.A).
func Open(filename string, quiet bool) (*File, error) {
	fd, err := unix.Open(filename, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		if quiet && os.IsNotExist(err) {
			return &File{Filename: filename}, nil
		}
		return nil, fmt.Errorf("open: %s: %w", filename, err)
	}

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("fstat: %s: %w", filename, err)
	}

	if st.Size == 0 {
		unix.Close(fd)
		return &File{Filename: filename}, nil
	}

	base, err := unix.Mmap(fd, 0, int(st.Size), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("mmap: %s: %w", filename, err)
	}

	return &File{Filename: filename, Size: int(st.Size), fd: fd, base: base}, nil
}

// Bytes returns the mapped contents, or nil if the file was empty/absent.
func (f *File) Bytes() []byte {
	return f.base
}

// Close unmaps and closes the file. Safe to call on a File that was
// never actually mapped (empty or quietly-absent file).
func (f *File) Close() error {
	var err error
	if f.base != nil {
		err = unix.Munmap(f.base)
		f.base = nil
	}
	if f.fd != 0 {
		if cerr := unix.Close(f.fd); err == nil {
			err = cerr
		}
		f.fd = 0
	}
	return err
}
