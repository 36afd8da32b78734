package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/microworld/stage/internal/core/event"
)

// Entry is one session record.
type Entry struct {
	Kind    string    `yaml:"kind"` // "compile", "sim", "exception"
	Subject string    `yaml:"subject,omitempty"`
	Detail  string    `yaml:"detail,omitempty"`
	At      time.Time `yaml:"at"`
}

// Recorder appends entries as a YAML document stream. A Recorder with an
// empty path discards everything.
type Recorder struct {
	mu     sync.Mutex
	path   string
	w      io.WriteCloser
	bus    *event.Bus
	log    *zap.Logger
	failed bool
	now    func() time.Time
}

func NewRecorder(path string, bus *event.Bus, log *zap.Logger) *Recorder {
	return &Recorder{path: path, bus: bus, log: log.Named("recorder"), now: time.Now}
}

// Record writes a single entry stamped with the current time.
func (r *Recorder) Record(kind, subject, detail string) {
	_ = r.Write(context.Background(), []Entry{{Kind: kind, Subject: subject, Detail: detail}})
}

// Write appends a batch of entries. The first failure publishes
// DataSubmissionFailed; after that the recorder stops writing.
func (r *Recorder) Write(ctx context.Context, entries []Entry) error {
	if r.path == "" {
		return nil
	}
	r.mu.Lock()
	if r.failed {
		r.mu.Unlock()
		return nil
	}
	err := r.write(ctx, entries)
	if err != nil {
		r.failed = true
	}
	r.mu.Unlock()

	if err != nil {
		r.log.Warn("session recording disabled", zap.Error(err))
		event.Publish(r.bus, DataSubmissionFailed{Reason: err.Error()})
	}
	return err
}

func (r *Recorder) write(ctx context.Context, entries []Entry) error {
	if r.w == nil {
		if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
			return fmt.Errorf("recorder: %w", err)
		}
		f, err := os.OpenFile(r.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("recorder open: %w", err)
		}
		r.w = f
	}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.At.IsZero() {
			e.At = r.now()
		}
		doc, err := yaml.Marshal(e)
		if err != nil {
			return fmt.Errorf("recorder encode: %w", err)
		}
		// Each entry is its own document so separate batches concatenate.
		if _, err := r.w.Write(append([]byte("---\n"), doc...)); err != nil {
			return fmt.Errorf("recorder write: %w", err)
		}
	}
	return nil
}

// Close closes the underlying file.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil {
		return nil
	}
	err := r.w.Close()
	r.w = nil
	if errors.Is(err, os.ErrClosed) {
		return nil
	}
	return err
}

// ReadEntries decodes a recorded session file.
func ReadEntries(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var out []Entry
	dec := yaml.NewDecoder(f)
	for {
		var e Entry
		err := dec.Decode(&e)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("read %s: %w", path, err)
		}
		out = append(out, e)
	}
}
