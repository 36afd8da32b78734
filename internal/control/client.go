package control

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/sourcegraph/jsonrpc2"
	"go.uber.org/zap"

	"github.com/microworld/stage/internal/app"
	"github.com/microworld/stage/internal/compile"
	"github.com/microworld/stage/internal/core/event"
	"github.com/microworld/stage/internal/sim"
)

// Client is the host end of the channel. Notifications from the child are
// republished on the host bus: app.Ready, SimChanged and Exception.
type Client struct {
	conn *jsonrpc2.Conn
	bus  *event.Bus
	log  *zap.Logger

	mu     sync.Mutex
	ready  bool
	status Status
}

func NewClient(ctx context.Context, rwc io.ReadWriteCloser, bus *event.Bus, log *zap.Logger) *Client {
	c := &Client{bus: bus, log: log.Named("control")}
	c.conn = jsonrpc2.NewConn(ctx, stream(rwc), jsonrpc2.HandlerWithError(c.handle))
	return c
}

// handle runs on the connection's read loop; it must not call back into the
// child.
func (c *Client) handle(_ context.Context, _ *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
	if !req.Notif {
		return nil, errMethodNotFound
	}
	var params json.RawMessage
	if req.Params != nil {
		params = *req.Params
	}
	switch req.Method {
	case NotifyReady:
		c.mu.Lock()
		c.ready = true
		c.mu.Unlock()
		c.log.Info("child ready")
		event.Publish(c.bus, app.Ready{At: time.Now()})
	case NotifySimChanged:
		var st Status
		if err := json.Unmarshal(params, &st); err != nil {
			c.log.Warn("bad sim.changed", zap.Error(err))
			return nil, nil
		}
		c.setStatus(st)
		event.Publish(c.bus, SimChanged{Status: st})
	case NotifyException:
		var ex Exception
		if err := json.Unmarshal(params, &ex); err != nil {
			c.log.Warn("bad sim.exception", zap.Error(err))
			return nil, nil
		}
		event.Publish(c.bus, ex)
	default:
		c.log.Debug("unknown notification", zap.String("method", req.Method))
	}
	return nil, nil
}

func (c *Client) setStatus(st Status) {
	c.mu.Lock()
	c.status = st
	c.mu.Unlock()
}

func (c *Client) call(ctx context.Context, method string, params any) (Status, error) {
	var st Status
	if err := c.conn.Call(ctx, method, params, &st); err != nil {
		return Status{}, err
	}
	c.setStatus(st)
	return st, nil
}

// InstallWorld asks the child to instantiate class and make it current. A
// failing world class yields a *jsonrpc2.Error with CodeWorldFailed.
func (c *Client) InstallWorld(ctx context.Context, class string) (Status, error) {
	return c.call(ctx, MethodInstallWorld, InstallParams{Class: class})
}

func (c *Client) RemoveWorld(ctx context.Context) (Status, error) {
	return c.call(ctx, MethodRemoveWorld, nil)
}

func (c *Client) SetPaused(ctx context.Context, paused bool) (Status, error) {
	return c.call(ctx, MethodSetPaused, PausedParams{Paused: paused})
}

func (c *Client) SetSpeed(ctx context.Context, speed int) (Status, error) {
	return c.call(ctx, MethodSetSpeed, SpeedParams{Speed: speed})
}

func (c *Client) Step(ctx context.Context) (Status, error) {
	return c.call(ctx, MethodStep, nil)
}

func (c *Client) Interrupt(ctx context.Context) (Status, error) {
	return c.call(ctx, MethodInterrupt, nil)
}

func (c *Client) Status(ctx context.Context) (Status, error) {
	return c.call(ctx, MethodStatus, nil)
}

// LastStatus returns the most recent status seen, without a round trip.
func (c *Client) LastStatus() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// DebugState maps the child's simulation onto compile.DebugState so the
// compile coordinator refuses to compile while user code runs.
func (c *Client) DebugState() compile.DebugState {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case !c.ready:
		return compile.DebugNotReady
	case c.status.State == sim.StateRunning.String() || c.status.State == sim.StateOnce.String():
		return compile.DebugRunning
	default:
		return compile.DebugIdle
	}
}

// Done is closed when the child hangs up.
func (c *Client) Done() <-chan struct{} { return c.conn.DisconnectNotify() }

func (c *Client) Close() error { return c.conn.Close() }

var _ compile.DebugMonitor = (*Client)(nil)
