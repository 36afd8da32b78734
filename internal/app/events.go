// Package app holds application-wide events and the session recorder.
package app

import (
	"time"

	"github.com/microworld/stage/internal/core/event"
)

// Ready is published once the child has completed its handshake and can
// accept a world.
type Ready struct {
	At time.Time
}

// DataSubmissionFailed is published the first time session records could
// not be written.
type DataSubmissionFailed struct {
	Reason string
}

// NewBus returns a bus with the application topics marked sticky, so late
// subscribers still learn that the application is ready or that recording
// has failed.
func NewBus() *event.Bus {
	b := event.NewBus()
	event.Retain[Ready](b)
	event.Retain[DataSubmissionFailed](b)
	return b
}

// IsReady reports whether Ready has been published on b.
func IsReady(b *event.Bus) bool {
	_, ok := event.Latest[Ready](b)
	return ok
}
