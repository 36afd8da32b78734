//go:build unix

package shm

import (
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestFileRegion_SharedBytes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frame.shm")
	a, err := Create(path, 4096)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	b, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	if len(b.Bytes()) != 4096 {
		t.Fatalf("opened size = %d", len(b.Bytes()))
	}
	a.Bytes()[100] = 42
	if b.Bytes()[100] != 42 {
		t.Error("write through one mapping not visible in the other")
	}
}

func TestFileRegion_LockExcludesOtherMapping(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frame.shm")
	a, err := Create(path, 64)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	b, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	if err := a.Lock(); err != nil {
		t.Fatal(err)
	}
	acquired := make(chan struct{})
	go func() {
		b.Lock()
		close(acquired)
		b.Unlock()
	}()
	select {
	case <-acquired:
		t.Fatal("second mapping acquired a held lock")
	case <-time.After(20 * time.Millisecond):
	}
	a.Unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("lock never handed over")
	}
}

func TestFileRegion_LockSerializesGoroutines(t *testing.T) {
	r, err := Create(filepath.Join(t.TempDir(), "frame.shm"), 8)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.Lock()
				counter++
				r.Unlock()
			}
		}()
	}
	wg.Wait()
	if counter != 800 {
		t.Errorf("counter = %d, want 800", counter)
	}
}

func TestFileRegion_Closed(t *testing.T) {
	r, err := Create(filepath.Join(t.TempDir(), "frame.shm"), 8)
	if err != nil {
		t.Fatal(err)
	}
	r.Close()
	if err := r.Lock(); err != ErrClosed {
		t.Errorf("Lock after Close = %v, want ErrClosed", err)
	}
}
