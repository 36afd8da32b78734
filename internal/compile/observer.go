package compile

import (
	"context"
	"fmt"
)

// Severity of a diagnostic.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
)

func (s Severity) String() string {
	if s == SeverityWarning {
		return "WARNING"
	}
	return "ERROR"
}

// Diagnostic is one compiler message.
type Diagnostic struct {
	Unit     string
	File     string
	Line     int
	Column   int
	Severity Severity
	Message  string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s:%d:%d: %s: %s", d.File, d.Line, d.Column, d.Severity, d.Message)
}

// Source names one unit in an observer event.
type Source struct {
	Name string
	Path string
}

// Observer receives the progress of compile jobs. For every job the
// coordinator calls StartCompile, then Diagnostic zero or more times, then
// EndCompile. An error from StartCompile or Diagnostic ends the job as failed.
type Observer interface {
	StartCompile(ctx context.Context, sources []Source) error
	Diagnostic(ctx context.Context, d Diagnostic) error
	EndCompile(ctx context.Context, sources []Source, success bool) error
}

// EventKind discriminates Event.
type EventKind int

const (
	EventStart EventKind = iota
	EventDiagnostic
	EventEnd
)

func (k EventKind) String() string {
	switch k {
	case EventStart:
		return "START"
	case EventDiagnostic:
		return "DIAGNOSTIC"
	case EventEnd:
		return "END"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is the flattened form of an observer call.
type Event struct {
	Kind       EventKind
	Sources    []Source
	Diagnostic Diagnostic // EventDiagnostic only
	Success    bool       // EventEnd only
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ctx context.Context, e Event) error

func (f ObserverFunc) StartCompile(ctx context.Context, sources []Source) error {
	return f(ctx, Event{Kind: EventStart, Sources: sources})
}

func (f ObserverFunc) Diagnostic(ctx context.Context, d Diagnostic) error {
	return f(ctx, Event{Kind: EventDiagnostic, Diagnostic: d})
}

func (f ObserverFunc) EndCompile(ctx context.Context, sources []Source, success bool) error {
	return f(ctx, Event{Kind: EventEnd, Sources: sources, Success: success})
}

// QuietObserver forwards START and END and drops diagnostics. It is used for
// companion units compiled alongside the unit the user asked for.
type QuietObserver struct {
	Observer
}

func (QuietObserver) Diagnostic(context.Context, Diagnostic) error { return nil }

type nopObserver struct{}

func (nopObserver) StartCompile(context.Context, []Source) error     { return nil }
func (nopObserver) Diagnostic(context.Context, Diagnostic) error      { return nil }
func (nopObserver) EndCompile(context.Context, []Source, bool) error { return nil }
