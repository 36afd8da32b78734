// Package control is the JSON-RPC side channel between the host and the
// child: the host drives the world and the simulation, the child reports
// readiness, state changes and exceptions back.
package control

import (
	"io"

	"github.com/sourcegraph/jsonrpc2"
)

// Host to child methods.
const (
	MethodInstallWorld = "world.install"
	MethodRemoveWorld  = "world.remove"
	MethodSetPaused    = "sim.setPaused"
	MethodSetSpeed     = "sim.setSpeed"
	MethodStep         = "sim.step"
	MethodInterrupt    = "sim.interrupt"
	MethodStatus       = "sim.status"
)

// Child to host notifications.
const (
	NotifyReady      = "app.ready"
	NotifySimChanged = "sim.changed"
	NotifyException  = "sim.exception"
)

// CodeWorldFailed is returned when a world class could not be instantiated.
const CodeWorldFailed = 1001

var (
	errMethodNotFound = &jsonrpc2.Error{
		Code: jsonrpc2.CodeMethodNotFound, Message: "method not found"}
	errInvalidParams = &jsonrpc2.Error{
		Code: jsonrpc2.CodeInvalidParams, Message: "invalid params"}
)

type InstallParams struct {
	Class string `json:"class"`
}

type PausedParams struct {
	Paused bool `json:"paused"`
}

type SpeedParams struct {
	Speed int `json:"speed"`
}

// Status describes the child's simulation.
type Status struct {
	State string `json:"state"`
	Speed int    `json:"speed"`
	World string `json:"world,omitempty"`
	Ticks uint64 `json:"ticks"`
}

// Exception is a user-code fault reported by the child.
type Exception struct {
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// SimChanged is published on the host bus when the child's simulation state
// or speed changes.
type SimChanged struct {
	Status Status
}

func stream(rwc io.ReadWriteCloser) jsonrpc2.ObjectStream {
	return jsonrpc2.NewBufferedStream(rwc, jsonrpc2.VSCodeObjectCodec{})
}

// Pipe joins a reader and a writer, such as a process's stdin and stdout.
type Pipe struct {
	In  io.ReadCloser
	Out io.WriteCloser
}

func (p Pipe) Read(b []byte) (int, error)  { return p.In.Read(b) }
func (p Pipe) Write(b []byte) (int, error) { return p.Out.Write(b) }

func (p Pipe) Close() error {
	if err := p.In.Close(); err != nil {
		p.Out.Close()
		return err
	}
	return p.Out.Close()
}
