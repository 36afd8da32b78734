package compile

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
	failOn EventKind
	fail   bool
}

func (r *recorder) observe(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	if r.fail && e.Kind == r.failOn {
		return errors.New("observer failed")
	}
	return nil
}

func (r *recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// starts returns the unit names of every START event.
func (r *recorder) starts() [][]string {
	var out [][]string
	for _, e := range r.Events() {
		if e.Kind == EventStart {
			out = append(out, names(e.Sources))
		}
	}
	return out
}

func names(srcs []Source) []string {
	out := make([]string, len(srcs))
	for i, s := range srcs {
		out[i] = s.Name
	}
	return out
}

type graphDef struct {
	units []string
	deps  [][2]string
}

func buildGraph(t *testing.T, def graphDef) *ClassGraph {
	t.Helper()
	g := NewClassGraph()
	for _, n := range def.units {
		if _, err := g.Add(n, n+".lua", "out/"+n+".lua"); err != nil {
			t.Fatal(err)
		}
	}
	for _, d := range def.deps {
		if err := g.Depend(d[0], d[1]); err != nil {
			t.Fatal(err)
		}
	}
	return g
}

type nullAnalyzer struct{}

func (nullAnalyzer) Analyze(u *Unit) (Analysis, error) {
	return Analysis{Unit: u.Name, Fingerprint: Fingerprint([]byte(u.Name))}, nil
}

type fakeDebug struct{ state DebugState }

func (d fakeDebug) DebugState() DebugState { return d.state }

type fakeMessenger struct {
	mu   sync.Mutex
	keys []string
}

func (m *fakeMessenger) ShowMessage(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys = append(m.keys, key)
}

func succeed(context.Context, *Job, func(Diagnostic) error) (bool, error) { return true, nil }

func startCoordinator(t *testing.T, g *ClassGraph, opts Options) *Coordinator {
	t.Helper()
	if opts.Analyzer == nil {
		opts.Analyzer = nullAnalyzer{}
	}
	c := NewCoordinator(g, opts, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return c
}

func mustStates(t *testing.T, c *Coordinator) map[string]State {
	t.Helper()
	s, err := c.States(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestCompileAll_Diamond(t *testing.T) {
	g := buildGraph(t, graphDef{
		units: []string{"A", "B", "C", "D"},
		deps:  [][2]string{{"A", "B"}, {"A", "C"}, {"B", "D"}, {"C", "D"}},
	})
	rec := &recorder{}
	c := startCoordinator(t, g, Options{Driver: DriverFunc(succeed), Observer: ObserverFunc(rec.observe)})
	if err := c.CompileAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := c.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	want := [][]string{{"D"}, {"B"}, {"C"}, {"A"}}
	if diff := cmp.Diff(want, rec.starts()); diff != "" {
		t.Errorf("jobs (-want +got):\n%s", diff)
	}
	wantStates := map[string]State{"A": StateNormal, "B": StateNormal, "C": StateNormal, "D": StateNormal}
	if diff := cmp.Diff(wantStates, mustStates(t, c)); diff != "" {
		t.Errorf("states (-want +got):\n%s", diff)
	}
}

func TestCompileAll_Cycle(t *testing.T) {
	g := buildGraph(t, graphDef{
		units: []string{"X", "Y"},
		deps:  [][2]string{{"Y", "X"}, {"X", "Y"}},
	})
	rec := &recorder{}
	c := startCoordinator(t, g, Options{Driver: DriverFunc(succeed), Observer: ObserverFunc(rec.observe)})
	c.CompileAll(context.Background())
	c.Wait(context.Background())

	want := []Event{
		{Kind: EventStart, Sources: []Source{{"X", "X.lua"}, {"Y", "Y.lua"}}},
		{Kind: EventEnd, Sources: []Source{{"X", "X.lua"}, {"Y", "Y.lua"}}, Success: true},
	}
	if diff := cmp.Diff(want, rec.Events()); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[string]State{"X": StateNormal, "Y": StateNormal}, mustStates(t, c)); diff != "" {
		t.Errorf("states (-want +got):\n%s", diff)
	}
}

func TestCompileAll_DebuggerBusy(t *testing.T) {
	g := buildGraph(t, graphDef{units: []string{"A", "B"}, deps: [][2]string{{"A", "B"}}})
	rec := &recorder{}
	msg := &fakeMessenger{}
	c := startCoordinator(t, g, Options{
		Driver:    DriverFunc(succeed),
		Observer:  ObserverFunc(rec.observe),
		Debug:     fakeDebug{DebugRunning},
		Messenger: msg,
	})
	if err := c.CompileAll(context.Background()); !errors.Is(err, ErrDebuggerBusy) {
		t.Fatalf("err = %v, want ErrDebuggerBusy", err)
	}
	c.Wait(context.Background())
	if got := rec.Events(); len(got) != 0 {
		t.Errorf("events = %v, want none", got)
	}
	if diff := cmp.Diff([]string{MessageCompileWhileExecuting}, msg.keys); diff != "" {
		t.Errorf("messages (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[string]State{"A": StateInvalid, "B": StateInvalid}, mustStates(t, c)); diff != "" {
		t.Errorf("states (-want +got):\n%s", diff)
	}
}

func TestGate_QuiescentStates(t *testing.T) {
	for _, s := range []DebugState{DebugNotReady, DebugIdle} {
		if !s.Quiescent() {
			t.Errorf("%d not quiescent", s)
		}
	}
	for _, s := range []DebugState{DebugRunning, DebugSuspended} {
		if s.Quiescent() {
			t.Errorf("%d quiescent", s)
		}
	}
}

func TestCompile_DiagnosticsAndFailure(t *testing.T) {
	g := buildGraph(t, graphDef{units: []string{"A", "B"}, deps: [][2]string{{"A", "B"}}})
	rec := &recorder{}
	driver := DriverFunc(func(_ context.Context, job *Job, report func(Diagnostic) error) (bool, error) {
		if job.Units[0].Name != "B" {
			return true, nil
		}
		report(Diagnostic{Unit: "B", File: "B.lua", Line: 3, Severity: SeverityError, Message: "bad"})
		return false, nil
	})
	c := startCoordinator(t, g, Options{Driver: driver, Observer: ObserverFunc(rec.observe)})
	c.CompileAll(context.Background())
	c.Wait(context.Background())

	want := []Event{
		{Kind: EventStart, Sources: []Source{{"B", "B.lua"}}},
		{Kind: EventDiagnostic, Diagnostic: Diagnostic{Unit: "B", File: "B.lua", Line: 3, Severity: SeverityError, Message: "bad"}},
		{Kind: EventEnd, Sources: []Source{{"B", "B.lua"}}},
		{Kind: EventStart, Sources: []Source{{"A", "A.lua"}}},
		{Kind: EventEnd, Sources: []Source{{"A", "A.lua"}}, Success: true},
	}
	if diff := cmp.Diff(want, rec.Events()); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[string]State{"A": StateNormal, "B": StateInvalid}, mustStates(t, c)); diff != "" {
		t.Errorf("states (-want +got):\n%s", diff)
	}
	if _, ok := c.Cache().Get("B"); ok {
		t.Error("failed unit has cached analysis")
	}
	if _, ok := c.Cache().Get("A"); !ok {
		t.Error("compiled unit has no cached analysis")
	}
}

func TestCompile_DriverPanicEndsJob(t *testing.T) {
	g := buildGraph(t, graphDef{units: []string{"A"}})
	rec := &recorder{}
	driver := DriverFunc(func(context.Context, *Job, func(Diagnostic) error) (bool, error) {
		panic("compiler crashed")
	})
	c := startCoordinator(t, g, Options{Driver: driver, Observer: ObserverFunc(rec.observe)})
	c.CompileAll(context.Background())
	c.Wait(context.Background())

	ev := rec.Events()
	if len(ev) != 2 || ev[1].Kind != EventEnd || ev[1].Success {
		t.Fatalf("events = %+v, want START then END(false)", ev)
	}
	if got := mustStates(t, c)["A"]; got != StateInvalid {
		t.Errorf("state = %v, want INVALID", got)
	}
}

func TestCompile_ObserverErrorFailsJob(t *testing.T) {
	g := buildGraph(t, graphDef{units: []string{"A"}})
	rec := &recorder{fail: true, failOn: EventDiagnostic}
	driver := DriverFunc(func(_ context.Context, _ *Job, report func(Diagnostic) error) (bool, error) {
		if err := report(Diagnostic{Severity: SeverityWarning, Message: "w1"}); err != nil {
			return true, nil
		}
		report(Diagnostic{Severity: SeverityWarning, Message: "w2"})
		return true, nil
	})
	c := startCoordinator(t, g, Options{Driver: driver, Observer: ObserverFunc(rec.observe)})
	c.CompileAll(context.Background())
	c.Wait(context.Background())

	var kinds []EventKind
	for _, e := range rec.Events() {
		kinds = append(kinds, e.Kind)
	}
	if diff := cmp.Diff([]EventKind{EventStart, EventDiagnostic, EventEnd}, kinds); diff != "" {
		t.Errorf("event kinds (-want +got):\n%s", diff)
	}
	if ev := rec.Events(); ev[len(ev)-1].Success {
		t.Error("END reported success after observer failure")
	}
}

func TestCompileOne_AssociationIsQuiet(t *testing.T) {
	g := buildGraph(t, graphDef{units: []string{"Rocket", "RocketTest"}})
	if err := g.Associate("Rocket", "RocketTest"); err != nil {
		t.Fatal(err)
	}
	rec := &recorder{}
	driver := DriverFunc(func(_ context.Context, job *Job, report func(Diagnostic) error) (bool, error) {
		report(Diagnostic{Unit: job.Units[0].Name, Severity: SeverityWarning, Message: "lint"})
		return true, nil
	})
	c := startCoordinator(t, g, Options{Driver: driver, Observer: ObserverFunc(rec.observe)})
	if err := c.CompileOne(context.Background(), "Rocket"); err != nil {
		t.Fatal(err)
	}
	c.Wait(context.Background())

	var diags []string
	for _, e := range rec.Events() {
		if e.Kind == EventDiagnostic {
			diags = append(diags, e.Diagnostic.Unit)
		}
	}
	if diff := cmp.Diff([]string{"Rocket"}, diags); diff != "" {
		t.Errorf("diagnostics (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([][]string{{"Rocket"}, {"RocketTest"}}, rec.starts()); diff != "" {
		t.Errorf("jobs (-want +got):\n%s", diff)
	}
}

func TestCompileOne_RecompilesNormalUnit(t *testing.T) {
	g := buildGraph(t, graphDef{units: []string{"A", "B"}, deps: [][2]string{{"A", "B"}}})
	rec := &recorder{}
	c := startCoordinator(t, g, Options{Driver: DriverFunc(succeed), Observer: ObserverFunc(rec.observe)})
	c.CompileAll(context.Background())
	c.CompileOne(context.Background(), "A")
	c.Wait(context.Background())
	// B is NORMAL by the time A is recompiled and is not touched again.
	if diff := cmp.Diff([][]string{{"B"}, {"A"}, {"A"}}, rec.starts()); diff != "" {
		t.Errorf("jobs (-want +got):\n%s", diff)
	}
	if err := c.CompileOne(context.Background(), "nope"); !errors.Is(err, ErrUnknownUnit) {
		t.Errorf("err = %v, want ErrUnknownUnit", err)
	}
}

func TestInvalidate_MarksDependents(t *testing.T) {
	g := buildGraph(t, graphDef{
		units: []string{"A", "B", "C"},
		deps:  [][2]string{{"A", "B"}, {"B", "C"}},
	})
	rec := &recorder{}
	c := startCoordinator(t, g, Options{Driver: DriverFunc(succeed), Observer: ObserverFunc(rec.observe)})
	c.CompileAll(context.Background())
	c.Invalidate(context.Background(), "B")
	want := map[string]State{"A": StateInvalid, "B": StateInvalid, "C": StateNormal}
	if diff := cmp.Diff(want, mustStates(t, c)); diff != "" {
		t.Errorf("states (-want +got):\n%s", diff)
	}
	c.CompileAll(context.Background())
	c.Wait(context.Background())
	if diff := cmp.Diff([][]string{{"C"}, {"B"}, {"A"}, {"B"}, {"A"}}, rec.starts()); diff != "" {
		t.Errorf("jobs (-want +got):\n%s", diff)
	}
}

func TestRebuild_OneBatch(t *testing.T) {
	g := buildGraph(t, graphDef{
		units: []string{"A", "B", "C"},
		deps:  [][2]string{{"A", "B"}},
	})
	rec := &recorder{}
	cache := NewMemCache()
	c := startCoordinator(t, g, Options{Driver: DriverFunc(succeed), Observer: ObserverFunc(rec.observe), Cache: cache})
	c.CompileAll(context.Background())
	c.Wait(context.Background())
	cache.Put(Analysis{Unit: "stale"})

	if err := c.Rebuild(context.Background()); err != nil {
		t.Fatal(err)
	}
	c.Wait(context.Background())
	starts := rec.starts()
	if diff := cmp.Diff([]string{"A", "B", "C"}, starts[len(starts)-1]); diff != "" {
		t.Errorf("rebuild job (-want +got):\n%s", diff)
	}
	if _, ok := cache.Get("stale"); ok {
		t.Error("rebuild kept stale analysis")
	}
	for _, u := range []string{"A", "B", "C"} {
		if _, ok := cache.Get(u); !ok {
			t.Errorf("no analysis for %s after rebuild", u)
		}
	}
}

func TestSearch_RandomGraphs(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for iter := 0; iter < 50; iter++ {
		n := 1 + rng.Intn(40)
		def := graphDef{}
		for i := 0; i < n; i++ {
			def.units = append(def.units, fmt.Sprintf("u%d", i))
		}
		for e := rng.Intn(3 * n); e > 0; e-- {
			a, b := rng.Intn(n), rng.Intn(n)
			def.deps = append(def.deps, [2]string{def.units[a], def.units[b]})
		}
		g := buildGraph(t, def)

		jobOf := map[string]int{}
		var s searcher
		jobs := 0
		s.emit = func(units []*Unit) {
			for _, u := range units {
				if _, dup := jobOf[u.Name]; dup {
					t.Fatalf("graph %d: %s emitted twice", iter, u.Name)
				}
				jobOf[u.Name] = jobs
			}
			jobs++
		}
		for _, u := range g.Units() {
			s.search(u)
		}
		if len(jobOf) != n {
			t.Fatalf("graph %d: %d of %d units emitted", iter, len(jobOf), n)
		}
		for _, d := range def.deps {
			if jobOf[d[1]] > jobOf[d[0]] {
				t.Errorf("graph %d: %s emitted after dependent %s", iter, d[1], d[0])
			}
		}
		for _, u := range g.Units() {
			if u.onStack {
				t.Errorf("graph %d: %s left on stack", iter, u.Name)
			}
		}
	}
}

func TestSearch_DeepChain(t *testing.T) {
	const n = 100000
	g := NewClassGraph()
	for i := 0; i < n; i++ {
		g.Add(fmt.Sprint(i), "", "")
		if i > 0 {
			g.Depend(fmt.Sprint(i-1), fmt.Sprint(i))
		}
	}
	var s searcher
	var order []string
	s.emit = func(units []*Unit) { order = append(order, units[0].Name) }
	s.search(g.Units()[0])
	if len(order) != n || order[0] != fmt.Sprint(n-1) || order[n-1] != "0" {
		t.Errorf("emitted %d units, first %s last %s", len(order), order[0], order[len(order)-1])
	}
}

func TestEveryUnitOneStartOneEnd(t *testing.T) {
	g := buildGraph(t, graphDef{
		units: []string{"a", "b", "c", "d", "e"},
		deps:  [][2]string{{"a", "b"}, {"b", "c"}, {"c", "a"}, {"d", "c"}, {"e", "e"}},
	})
	rec := &recorder{}
	c := startCoordinator(t, g, Options{Driver: DriverFunc(succeed), Observer: ObserverFunc(rec.observe)})
	c.CompileAll(context.Background())
	c.Wait(context.Background())

	starts, ends := map[string]int{}, map[string]int{}
	for _, e := range rec.Events() {
		for _, s := range e.Sources {
			switch e.Kind {
			case EventStart:
				starts[s.Name]++
			case EventEnd:
				ends[s.Name]++
			}
		}
	}
	want := map[string]int{"a": 1, "b": 1, "c": 1, "d": 1, "e": 1}
	if diff := cmp.Diff(want, starts); diff != "" {
		t.Errorf("starts (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want, ends); diff != "" {
		t.Errorf("ends (-want +got):\n%s", diff)
	}
	for _, u := range g.Units() {
		if u.Queued() {
			t.Errorf("%s still queued", u.Name)
		}
	}
}
