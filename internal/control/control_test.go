package control

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sourcegraph/jsonrpc2"
	"go.uber.org/zap"

	"github.com/microworld/stage/internal/app"
	"github.com/microworld/stage/internal/compile"
	"github.com/microworld/stage/internal/core/event"
	"github.com/microworld/stage/internal/sim"
	"github.com/microworld/stage/internal/world"
)

type classError struct{ msg, stack string }

func (e *classError) Error() string      { return e.msg }
func (e *classError) StackTrace() string { return e.stack }

type builder struct{}

func (builder) InstallWorld(_ context.Context, class string) (*world.World, error) {
	if class == "Broken" {
		return nil, &classError{msg: "init failed", stack: "Broken.lua:2"}
	}
	return world.New(class, 4, 3, 10)
}

type pair struct {
	server *Server
	client *Client
	host   *event.Bus
}

func connect(t *testing.T) *pair {
	t.Helper()
	log := zap.NewNop()
	ctx, cancel := context.WithCancel(context.Background())

	childBus := event.NewBus()
	worlds := world.NewHandler(log)
	s := sim.New(worlds, childBus, sim.Options{Speed: 50, StepUnit: 50 * time.Microsecond}, log)
	worlds.AddListener(s)
	simDone := make(chan error, 1)
	go func() { simDone <- s.Run(ctx) }()

	childEnd, hostEnd := net.Pipe()
	p := &pair{server: NewServer(s, builder{}, worlds, childBus, log), host: app.NewBus()}
	serveDone := make(chan error, 1)
	go func() { serveDone <- p.server.Serve(ctx, childEnd) }()
	p.client = NewClient(ctx, hostEnd, p.host, log)

	t.Cleanup(func() {
		p.client.Close()
		cancel()
		<-serveDone
		<-simDone
	})
	return p
}

func within(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestReadyHandshake(t *testing.T) {
	p := connect(t)
	ready := make(chan struct{}, 1)
	event.Subscribe(p.host, func(app.Ready) { ready <- struct{}{} })

	if got := p.client.DebugState(); got != compile.DebugNotReady {
		t.Errorf("before ready: DebugState = %v", got)
	}
	if err := p.server.Ready(within(t)); err != nil {
		t.Fatal(err)
	}
	select {
	case <-ready:
	case <-time.After(5 * time.Second):
		t.Fatal("no app.Ready on the host bus")
	}
	if !app.IsReady(p.host) {
		t.Error("Ready not retained")
	}
	if got := p.client.DebugState(); got != compile.DebugIdle {
		t.Errorf("after ready: DebugState = %v", got)
	}
}

func TestInstallAndDrive(t *testing.T) {
	p := connect(t)
	ctx := within(t)
	if err := p.server.Ready(ctx); err != nil {
		t.Fatal(err)
	}

	st, err := p.client.InstallWorld(ctx, "Space")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(Status{State: "paused", Speed: 50, World: "Space"}, st); diff != "" {
		t.Errorf("install status (-want +got):\n%s", diff)
	}

	if st, err = p.client.SetSpeed(ctx, 250); err != nil || st.Speed != sim.MaxSpeed {
		t.Errorf("SetSpeed(250) = %+v, %v", st, err)
	}
	if st, err = p.client.SetPaused(ctx, false); err != nil || st.State != "running" {
		t.Errorf("SetPaused(false) = %+v, %v", st, err)
	}
	if got := p.client.DebugState(); got != compile.DebugRunning {
		t.Errorf("running: DebugState = %v", got)
	}
	if st, err = p.client.SetPaused(ctx, true); err != nil || st.State != "paused" {
		t.Errorf("SetPaused(true) = %+v, %v", st, err)
	}
	if _, err := p.client.Interrupt(ctx); err != nil {
		t.Error(err)
	}

	st, err = p.client.RemoveWorld(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.State != "disabled" || st.World != "" {
		t.Errorf("after remove: %+v", st)
	}
}

func TestInstallFailureReportsException(t *testing.T) {
	p := connect(t)
	ctx := within(t)
	exceptions := make(chan Exception, 4)
	event.Subscribe(p.host, func(e Exception) { exceptions <- e })

	_, err := p.client.InstallWorld(ctx, "Broken")
	var rpcErr *jsonrpc2.Error
	if !errors.As(err, &rpcErr) || rpcErr.Code != CodeWorldFailed {
		t.Fatalf("err = %v, want code %d", err, CodeWorldFailed)
	}
	select {
	case e := <-exceptions:
		if diff := cmp.Diff(Exception{Message: "init failed", Stack: "Broken.lua:2"}, e); diff != "" {
			t.Errorf("exception (-want +got):\n%s", diff)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no exception notification")
	}
}

func TestSimChangesAreForwarded(t *testing.T) {
	p := connect(t)
	ctx := within(t)
	changes := make(chan Status, 16)
	event.Subscribe(p.host, func(c SimChanged) { changes <- c.Status })

	if _, err := p.client.InstallWorld(ctx, "Space"); err != nil {
		t.Fatal(err)
	}
	if _, err := p.client.SetSpeed(ctx, 70); err != nil {
		t.Fatal(err)
	}
	deadline := time.After(5 * time.Second)
	for {
		select {
		case st := <-changes:
			if st.Speed == 70 {
				if got := p.client.LastStatus().Speed; got != 70 {
					t.Errorf("LastStatus speed = %d", got)
				}
				return
			}
		case <-deadline:
			t.Fatal("speed change not forwarded")
		}
	}
}

func TestBadRequests(t *testing.T) {
	p := connect(t)
	ctx := within(t)

	tests := []struct {
		method string
		params any
		code   int64
	}{
		{"sim.fly", nil, jsonrpc2.CodeMethodNotFound},
		{MethodSetSpeed, "fast", jsonrpc2.CodeInvalidParams},
		{MethodInstallWorld, InstallParams{}, jsonrpc2.CodeInvalidParams},
	}
	for _, tt := range tests {
		err := p.client.conn.Call(ctx, tt.method, tt.params, nil)
		var rpcErr *jsonrpc2.Error
		if !errors.As(err, &rpcErr) || rpcErr.Code != tt.code {
			t.Errorf("%s: err = %v, want code %d", tt.method, err, tt.code)
		}
	}
}
