package control

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"github.com/sourcegraph/jsonrpc2"
	"go.uber.org/zap"

	"github.com/microworld/stage/internal/core/event"
	"github.com/microworld/stage/internal/sim"
	"github.com/microworld/stage/internal/world"
)

// WorldBuilder instantiates world classes.
type WorldBuilder interface {
	InstallWorld(ctx context.Context, class string) (*world.World, error)
}

type stackTracer interface {
	StackTrace() string
}

// Server is the child end of the channel.
type Server struct {
	sim     *sim.Simulation
	builder WorldBuilder
	worlds  *world.Handler
	bus     *event.Bus
	log     *zap.Logger

	mu        sync.Mutex
	conn      *jsonrpc2.Conn
	connected chan struct{}
	once      sync.Once
}

func NewServer(s *sim.Simulation, b WorldBuilder, worlds *world.Handler, bus *event.Bus, log *zap.Logger) *Server {
	srv := &Server{
		sim:       s,
		builder:   b,
		worlds:    worlds,
		bus:       bus,
		log:       log.Named("control"),
		connected: make(chan struct{}),
	}
	changed := func() { srv.notify(NotifySimChanged, srv.status()) }
	event.Subscribe(bus, func(sim.Started) { changed() })
	event.Subscribe(bus, func(sim.Stopped) { changed() })
	event.Subscribe(bus, func(sim.Disabled) { changed() })
	event.Subscribe(bus, func(sim.SpeedChanged) { changed() })
	event.Subscribe(bus, func(e sim.ExceptionReported) {
		srv.notify(NotifyException, Exception{Message: e.Message, Stack: e.Stack})
	})
	return srv
}

// Serve answers requests on rwc until the peer disconnects or ctx is done.
func (s *Server) Serve(ctx context.Context, rwc io.ReadWriteCloser) error {
	conn := jsonrpc2.NewConn(ctx, stream(rwc), s.handler())
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	s.once.Do(func() { close(s.connected) })
	defer func() {
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
	}()

	select {
	case <-conn.DisconnectNotify():
		return nil
	case <-ctx.Done():
		conn.Close()
		return nil
	}
}

// Ready tells the host that the child can accept a world. It waits for Serve
// to be connected.
func (s *Server) Ready(ctx context.Context) error {
	select {
	case <-s.connected:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.notify(NotifyReady, nil)
	return nil
}

func (s *Server) notify(method string, params any) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}
	if err := conn.Notify(context.Background(), method, params); err != nil && !errors.Is(err, jsonrpc2.ErrClosed) {
		s.log.Warn("notify host", zap.String("method", method), zap.Error(err))
	}
}

type method func(context.Context, json.RawMessage) (any, error)

func (s *Server) handler() jsonrpc2.Handler {
	methods := map[string]method{
		MethodInstallWorld: s.install,
		MethodRemoveWorld:  s.remove,
		MethodSetPaused:    s.setPaused,
		MethodSetSpeed:     s.setSpeed,
		MethodStep:         s.step,
		MethodInterrupt:    s.interrupt,
		MethodStatus:       func(context.Context, json.RawMessage) (any, error) { return s.status(), nil },
	}
	return jsonrpc2.HandlerWithError(func(ctx context.Context, _ *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
		fn, ok := methods[req.Method]
		if !ok {
			return nil, errMethodNotFound
		}
		var params json.RawMessage
		if req.Params != nil {
			params = *req.Params
		}
		return fn(ctx, params)
	})
}

func (s *Server) status() Status {
	st := Status{State: s.sim.State().String(), Speed: s.sim.Speed(), Ticks: s.sim.Ticks()}
	if w := s.worlds.World(); w != nil {
		st.World = w.Name()
	}
	return st
}

func (s *Server) install(ctx context.Context, raw json.RawMessage) (any, error) {
	var p InstallParams
	if json.Unmarshal(raw, &p) != nil || p.Class == "" {
		return nil, errInvalidParams
	}
	// A running act round holds the engine; cut its waits short.
	s.sim.Interrupt()
	w, err := s.builder.InstallWorld(ctx, p.Class)
	if err != nil {
		var stack string
		var st stackTracer
		if errors.As(err, &st) {
			stack = st.StackTrace()
		}
		s.sim.ReportException(err.Error(), stack)
		return nil, &jsonrpc2.Error{Code: CodeWorldFailed, Message: err.Error()}
	}
	s.worlds.Install(w)
	return s.status(), nil
}

func (s *Server) remove(context.Context, json.RawMessage) (any, error) {
	s.sim.Interrupt()
	s.worlds.Remove()
	return s.status(), nil
}

func (s *Server) setPaused(_ context.Context, raw json.RawMessage) (any, error) {
	var p PausedParams
	if json.Unmarshal(raw, &p) != nil {
		return nil, errInvalidParams
	}
	s.sim.SetPaused(p.Paused)
	return s.status(), nil
}

func (s *Server) setSpeed(_ context.Context, raw json.RawMessage) (any, error) {
	var p SpeedParams
	if json.Unmarshal(raw, &p) != nil {
		return nil, errInvalidParams
	}
	s.sim.SetSpeed(p.Speed)
	return s.status(), nil
}

func (s *Server) step(context.Context, json.RawMessage) (any, error) {
	s.sim.StepOnce()
	return s.status(), nil
}

func (s *Server) interrupt(context.Context, json.RawMessage) (any, error) {
	s.sim.Interrupt()
	return s.status(), nil
}
