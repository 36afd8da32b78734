//go:build !unix

package shm

func Create(path string, size int) (Region, error) { return nil, ErrUnsupported }

func Open(path string) (Region, error) { return nil, ErrUnsupported }
