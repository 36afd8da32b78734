package compile

import "context"

// Job is the set of units of one strongly connected component, in graph
// order. Jobs are created and run on the coordinator's worker.
type Job struct {
	ID    int
	Units []*Unit
	Quiet bool
}

func (j *Job) Sources() []Source {
	out := make([]Source, len(j.Units))
	for i, u := range j.Units {
		out[i] = u.source()
	}
	return out
}

// Driver compiles all units of a job together. It reports diagnostics through
// report and stops early if report returns an error. The bool result is the
// job's success.
type Driver interface {
	Compile(ctx context.Context, job *Job, report func(Diagnostic) error) (bool, error)
}

// DriverFunc adapts a function to the Driver interface.
type DriverFunc func(ctx context.Context, job *Job, report func(Diagnostic) error) (bool, error)

func (f DriverFunc) Compile(ctx context.Context, job *Job, report func(Diagnostic) error) (bool, error) {
	return f(ctx, job, report)
}

// Analyzer extracts the analysis stored for a successfully compiled unit.
type Analyzer interface {
	Analyze(u *Unit) (Analysis, error)
}

// DebugState is the state of the debugger attached to the user-code process.
type DebugState int

const (
	DebugNotReady DebugState = iota
	DebugIdle
	DebugRunning
	DebugSuspended
)

// Quiescent reports whether compiling is allowed in this state.
func (s DebugState) Quiescent() bool {
	return s == DebugNotReady || s == DebugIdle
}

// DebugMonitor reports the current debugger state.
type DebugMonitor interface {
	DebugState() DebugState
}

// Messenger shows a user-visible message identified by key.
type Messenger interface {
	ShowMessage(key string)
}

// MessageCompileWhileExecuting is shown when a compile is refused because user
// code is running.
const MessageCompileWhileExecuting = "compile-while-executing"
