//go:build unix

package shm

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

type fileRegion struct {
	mu     sync.Mutex // serializes goroutines sharing this mapping
	f      *os.File
	data   []byte
	closed bool
}

// Create creates (or truncates) the file at path to size bytes and maps it.
func Create(path string, size int) (Region, error) {
	if size <= 0 {
		return nil, fmt.Errorf("shm: invalid size %d", size)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("shm: create %s: %w", path, err)
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		return nil, fmt.Errorf("shm: size %s: %w", path, err)
	}
	return mapFile(f, size)
}

// Open maps an existing file in full.
func Open(path string) (Region, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("shm: open %s: %w", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("shm: stat %s: %w", path, err)
	}
	if st.Size() <= 0 {
		f.Close()
		return nil, fmt.Errorf("shm: %s is empty", path)
	}
	return mapFile(f, int(st.Size()))
}

func mapFile(f *os.File, size int) (Region, error) {
	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("shm: mmap %s: %w", f.Name(), err)
	}
	return &fileRegion{f: f, data: data}, nil
}

func (r *fileRegion) Bytes() []byte { return r.data }

func (r *fileRegion) Lock() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	for {
		err := unix.Flock(int(r.f.Fd()), unix.LOCK_EX)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			r.mu.Unlock()
			return fmt.Errorf("shm: lock: %w", err)
		}
		return nil
	}
}

func (r *fileRegion) Unlock() error {
	defer r.mu.Unlock()
	if err := unix.Flock(int(r.f.Fd()), unix.LOCK_UN); err != nil {
		return fmt.Errorf("shm: unlock: %w", err)
	}
	return nil
}

func (r *fileRegion) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	err := unix.Munmap(r.data)
	r.data = nil
	if cerr := r.f.Close(); err == nil {
		err = cerr
	}
	return err
}
