package compile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"

	"go.uber.org/zap"
)

var (
	// ErrDebuggerBusy is returned when a compile is refused because user code
	// is executing under the debugger.
	ErrDebuggerBusy = errors.New("compile refused: user code is executing")
	ErrClosed       = errors.New("compile coordinator closed")
	ErrUnknownUnit  = errors.New("unknown unit")
)

type Options struct {
	Driver    Driver
	Analyzer  Analyzer      // nil = fingerprint only
	Cache     AnalysisCache // nil = in-memory
	Observer  Observer      // nil = no events
	Debug     DebugMonitor  // nil = always quiescent
	Messenger Messenger
}

type request struct {
	fn   func(ctx context.Context)
	done chan struct{}
}

type pendingJob struct {
	job *Job
	obs Observer
}

// Coordinator compiles the INVALID units of a ClassGraph in dependency order.
// Every operation is executed on the goroutine running Run, which is the only
// place unit state is mutated. Requests are handled one at a time and the
// jobs a request creates are finished before the next request starts.
type Coordinator struct {
	graph *ClassGraph
	opts  Options
	log   *zap.Logger

	reqs   chan request
	closed chan struct{}

	// Worker-only state.
	search  searcher
	pending []pendingJob
	nextJob int
}

func NewCoordinator(graph *ClassGraph, opts Options, log *zap.Logger) *Coordinator {
	if opts.Cache == nil {
		opts.Cache = NewMemCache()
	}
	if opts.Analyzer == nil {
		opts.Analyzer = fingerprintAnalyzer{}
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	return &Coordinator{
		graph:  graph,
		opts:   opts,
		log:    log.Named("compile"),
		reqs:   make(chan request, 64),
		closed: make(chan struct{}),
	}
}

// Cache returns the analysis cache.
func (c *Coordinator) Cache() AnalysisCache { return c.opts.Cache }

// Run is the compiler worker. It returns when ctx is done.
func (c *Coordinator) Run(ctx context.Context) error {
	defer close(c.closed)
	defer c.abandon()
	for {
		select {
		case r := <-c.reqs:
			if r.fn != nil {
				r.fn(ctx)
			}
			c.drain(ctx)
			if r.done != nil {
				close(r.done)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Coordinator) submit(ctx context.Context, fn func(ctx context.Context)) (<-chan struct{}, error) {
	done := make(chan struct{})
	select {
	case c.reqs <- request{fn: fn, done: done}:
		return done, nil
	case <-c.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Coordinator) gate() error {
	if c.opts.Debug == nil {
		return nil
	}
	if state := c.opts.Debug.DebugState(); !state.Quiescent() {
		c.log.Info("compile refused while user code is executing", zap.Int("debug_state", int(state)))
		if c.opts.Messenger != nil {
			c.opts.Messenger.ShowMessage(MessageCompileWhileExecuting)
		}
		return ErrDebuggerBusy
	}
	return nil
}

func (c *Coordinator) lookup(name string) (*Unit, error) {
	u, ok := c.graph.Unit(name)
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownUnit, name)
	}
	return u, nil
}

// CompileAll queues every INVALID unit. It returns once the request is
// accepted; use Wait to block until the jobs have finished.
func (c *Coordinator) CompileAll(ctx context.Context) error {
	if err := c.gate(); err != nil {
		return err
	}
	_, err := c.submit(ctx, func(context.Context) {
		for _, u := range c.graph.Units() {
			c.searchFrom(u, c.opts.Observer, false)
		}
	})
	return err
}

// CompileOne marks the named unit INVALID and compiles it with whatever it
// needs. Its association, if any, is compiled quietly afterwards.
func (c *Coordinator) CompileOne(ctx context.Context, name string) error {
	u, err := c.lookup(name)
	if err != nil {
		return err
	}
	if err := c.gate(); err != nil {
		return err
	}
	_, err = c.submit(ctx, func(context.Context) {
		c.compileUnit(u, c.opts.Observer, false)
		if a := u.Association; a != nil {
			c.compileUnit(a, QuietObserver{c.opts.Observer}, true)
		}
	})
	return err
}

// CompileQuiet is CompileOne without diagnostics and without the association.
func (c *Coordinator) CompileQuiet(ctx context.Context, name string) error {
	u, err := c.lookup(name)
	if err != nil {
		return err
	}
	if err := c.gate(); err != nil {
		return err
	}
	_, err = c.submit(ctx, func(context.Context) {
		c.compileUnit(u, QuietObserver{c.opts.Observer}, true)
	})
	return err
}

// Rebuild forces every unit INVALID, drops the cached analyses and compiles
// the whole graph as one job.
func (c *Coordinator) Rebuild(ctx context.Context) error {
	if err := c.gate(); err != nil {
		return err
	}
	_, err := c.submit(ctx, func(context.Context) {
		if err := c.opts.Cache.Clear(); err != nil {
			c.log.Warn("clear analysis cache", zap.Error(err))
		}
		var units []*Unit
		for _, u := range c.graph.Units() {
			if u.queued {
				continue
			}
			u.State = StateInvalid
			u.queued = true
			units = append(units, u)
		}
		if len(units) > 0 {
			c.enqueue(units, c.opts.Observer, false)
		}
	})
	return err
}

// Invalidate marks the named unit and its dependents INVALID, e.g. after the
// source was edited. Nothing is compiled.
func (c *Coordinator) Invalidate(ctx context.Context, name string) error {
	u, err := c.lookup(name)
	if err != nil {
		return err
	}
	_, err = c.submit(ctx, func(context.Context) { c.graph.Invalidate(u) })
	return err
}

// Restore marks INVALID units NORMAL when the cache holds the fingerprint of
// their current source and the compiled output exists. A unit stays INVALID
// when anything it depends on does. It returns the number of restored units.
func (c *Coordinator) Restore(ctx context.Context) (int, error) {
	n := 0
	done, err := c.submit(ctx, func(context.Context) {
		var stale []*Unit
		for _, u := range c.graph.Units() {
			if u.State != StateInvalid || u.queued {
				continue
			}
			if c.upToDate(u) {
				u.State = StateNormal
			} else {
				stale = append(stale, u)
			}
		}
		for _, u := range stale {
			c.graph.Invalidate(u)
		}
		for _, u := range c.graph.Units() {
			if u.State == StateNormal {
				n++
			}
		}
	})
	if err != nil {
		return 0, err
	}
	select {
	case <-done:
		c.log.Debug("restored from cache", zap.Int("units", n))
		return n, nil
	case <-c.closed:
		return 0, ErrClosed
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (c *Coordinator) upToDate(u *Unit) bool {
	a, ok := c.opts.Cache.Get(u.Name)
	if !ok || a.Fingerprint == "" {
		return false
	}
	src, err := os.ReadFile(u.Source)
	if err != nil || Fingerprint(src) != a.Fingerprint {
		return false
	}
	_, err = os.Stat(u.Output)
	return err == nil
}

// Wait blocks until every previously submitted operation has finished.
func (c *Coordinator) Wait(ctx context.Context) error {
	done, err := c.submit(ctx, nil)
	if err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-c.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// States returns a snapshot of every unit's state, read on the worker.
func (c *Coordinator) States(ctx context.Context) (map[string]State, error) {
	out := make(map[string]State, c.graph.Len())
	done, err := c.submit(ctx, func(context.Context) {
		for _, u := range c.graph.Units() {
			out[u.Name] = u.State
		}
	})
	if err != nil {
		return nil, err
	}
	select {
	case <-done:
		return out, nil
	case <-c.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Coordinator) compileUnit(u *Unit, obs Observer, quiet bool) {
	if !u.queued {
		u.State = StateInvalid
	}
	c.searchFrom(u, obs, quiet)
}

func (c *Coordinator) searchFrom(u *Unit, obs Observer, quiet bool) {
	c.search.emit = func(units []*Unit) { c.enqueue(units, obs, quiet) }
	c.search.search(u)
}

func (c *Coordinator) enqueue(units []*Unit, obs Observer, quiet bool) {
	c.nextJob++
	for _, u := range units {
		u.State = StateQueued
	}
	c.pending = append(c.pending, pendingJob{
		job: &Job{ID: c.nextJob, Units: units, Quiet: quiet},
		obs: obs,
	})
}

func (c *Coordinator) drain(ctx context.Context) {
	for len(c.pending) > 0 {
		if ctx.Err() != nil {
			return
		}
		p := c.pending[0]
		c.pending = c.pending[1:]
		c.runJob(ctx, p)
	}
}

// abandon returns the units of jobs that never started to INVALID.
func (c *Coordinator) abandon() {
	for _, p := range c.pending {
		for _, u := range p.job.Units {
			u.State = StateInvalid
			u.queued = false
		}
	}
	c.pending = nil
}

func (c *Coordinator) runJob(ctx context.Context, p pendingJob) {
	job := p.job
	log := c.log.With(zap.Int("job", job.ID), zap.Int("units", len(job.Units)))
	sources := job.Sources()
	for _, u := range job.Units {
		u.State = StateCompiling
	}

	success := false
	if err := p.obs.StartCompile(ctx, sources); err != nil {
		log.Error("start event failed", zap.Error(err))
	} else {
		success = c.compile(ctx, job, p.obs, log)
	}
	c.finish(job, success, log)
	if err := p.obs.EndCompile(ctx, sources, success); err != nil {
		log.Error("end event failed", zap.Error(err))
	}
	log.Debug("job finished", zap.Bool("success", success))
}

func (c *Coordinator) compile(ctx context.Context, job *Job, obs Observer, log *zap.Logger) bool {
	var reportErr error
	report := func(d Diagnostic) error {
		if reportErr != nil {
			return reportErr
		}
		if err := obs.Diagnostic(ctx, d); err != nil {
			reportErr = err
		}
		return reportErr
	}
	ok, err := c.runDriver(ctx, job, report)
	if err != nil {
		log.Warn("compiler driver failed", zap.Error(err))
		return false
	}
	if reportErr != nil {
		log.Error("diagnostic event failed", zap.Error(reportErr))
		return false
	}
	return ok
}

func (c *Coordinator) runDriver(ctx context.Context, job *Job, report func(Diagnostic) error) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = fmt.Errorf("compiler driver panic: %v\n%s", r, debug.Stack())
		}
	}()
	return c.opts.Driver.Compile(ctx, job, report)
}

func (c *Coordinator) finish(job *Job, success bool, log *zap.Logger) {
	for _, u := range job.Units {
		u.queued = false
		if !success {
			u.State = StateInvalid
			continue
		}
		u.State = StateNormal
		a, err := c.opts.Analyzer.Analyze(u)
		if err != nil {
			log.Warn("analyze unit", zap.String("unit", u.Name), zap.Error(err))
			continue
		}
		if err := c.opts.Cache.Put(a); err != nil {
			log.Warn("write analysis", zap.String("unit", u.Name), zap.Error(err))
		}
	}
}

type fingerprintAnalyzer struct{}

func (fingerprintAnalyzer) Analyze(u *Unit) (Analysis, error) {
	src, err := os.ReadFile(u.Source)
	if err != nil {
		return Analysis{}, fmt.Errorf("read %s: %w", u.Source, err)
	}
	return Analysis{Unit: u.Name, Fingerprint: Fingerprint(src)}, nil
}
