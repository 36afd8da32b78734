// Package scripting compiles Lua units and runs them as world and actor
// classes.
package scripting

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/microworld/stage/internal/core/hdtimer"
	"github.com/microworld/stage/internal/input"
	"github.com/microworld/stage/internal/world"
)

// ScriptError is a Lua error with its traceback.
type ScriptError struct {
	Message string
	Stack   string
}

func (e *ScriptError) Error() string { return e.Message }

// StackTrace returns the Lua traceback.
func (e *ScriptError) StackTrace() string { return e.Stack }

func scriptError(err error) error {
	var ae *lua.ApiError
	if !errors.As(err, &ae) {
		return err
	}
	msg := ae.Error()
	if ae.Object != nil {
		msg = ae.Object.String()
	}
	return &ScriptError{Message: msg, Stack: ae.StackTrace}
}

// Options wires the engine to the rest of the child process.
type Options struct {
	ClassPath []string // roots searched by require and for images
	Keyboard  *input.Keyboard
	Mouse     *input.Mouse
	Timer     *hdtimer.Timer
	StepDelay func() time.Duration // one simulation delay, used by mw.delay
	Stop      func()
	SetSpeed  func(int)
}

// Engine runs world and actor classes on a single gopher-lua VM. Every call
// into the VM holds mu. Installing a world starts a fresh VM so recompiled
// units are picked up; behaviors bound to an older VM become no-ops. A failed
// install keeps the previous VM.
type Engine struct {
	mu sync.Mutex
	*vmState
	lastGen int
	opts    Options
	log     *zap.Logger

	// Set for the duration of a call into the VM.
	ctx   context.Context
	world *world.World
}

// vmState is everything bound to one VM.
type vmState struct {
	vm         *lua.LState
	gen        int
	classes    map[string]*lua.LTable
	instanceMT map[*lua.LTable]*lua.LTable
	images     map[string]image.Image
	actors     map[*lua.LTable]*world.Actor
	tables     map[*world.Actor]*lua.LTable
	worlds     map[*lua.LTable]*world.World
	worldTable map[*world.World]*lua.LTable
	actorAPI   *lua.LTable
	worldAPI   *lua.LTable
}

// NewEngine creates an engine whose units are loaded from opts.ClassPath.
func NewEngine(opts Options, log *zap.Logger) *Engine {
	if opts.Keyboard == nil {
		opts.Keyboard = input.NewKeyboard()
	}
	if opts.Mouse == nil {
		opts.Mouse = &input.Mouse{}
	}
	if opts.Timer == nil {
		opts.Timer = hdtimer.Default()
	}
	if opts.StepDelay == nil {
		opts.StepDelay = func() time.Duration { return 0 }
	}
	e := &Engine{opts: opts, log: log.Named("lua")}
	e.reset()
	return e
}

// reset switches to a fresh VM and returns the previous state, which the
// caller closes or restores. The caller holds mu.
func (e *Engine) reset() *vmState {
	prev := e.vmState
	e.lastGen++
	e.vmState = &vmState{vm: lua.NewState(), gen: e.lastGen}
	e.classes = make(map[string]*lua.LTable)
	e.instanceMT = make(map[*lua.LTable]*lua.LTable)
	e.images = make(map[string]image.Image)
	e.actors = make(map[*lua.LTable]*world.Actor)
	e.tables = make(map[*world.Actor]*lua.LTable)
	e.worlds = make(map[*lua.LTable]*world.World)
	e.worldTable = make(map[*world.World]*lua.LTable)

	var patterns []string
	for _, root := range e.opts.ClassPath {
		patterns = append(patterns, filepath.Join(root, "?.lua"))
	}
	e.vm.SetField(e.vm.GetGlobal("package"), "path", lua.LString(strings.Join(patterns, ";")))
	e.vm.PreloadModule("mw", e.loadModule)
	e.actorAPI = e.vm.SetFuncs(e.vm.NewTable(), e.actorFuncs())
	e.worldAPI = e.vm.SetFuncs(e.vm.NewTable(), e.worldFuncs())
	return prev
}

func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vm.Close()
}

// InstallWorld instantiates the world class name on a fresh VM and runs its
// init. The world is fully built when returned and not yet published.
func (e *Engine) InstallWorld(ctx context.Context, name string) (*world.World, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	prev := e.reset()
	w, err := e.buildWorld(ctx, name)
	if err != nil {
		e.vm.Close()
		e.vmState = prev
		return nil, err
	}
	prev.vm.Close()
	e.log.Debug("world built", zap.String("class", name), zap.Int("actors", w.NumActors()))
	return w, nil
}

// buildWorld instantiates the world class on the current VM and runs its init.
func (e *Engine) buildWorld(ctx context.Context, name string) (*world.World, error) {
	class, err := e.class(name)
	if err != nil {
		return nil, err
	}
	L := e.vm
	w, err := world.New(name,
		intField(L, class, "width", 600),
		intField(L, class, "height", 400),
		intField(L, class, "cell", 1))
	if err != nil {
		return nil, err
	}
	if bg := strField(L, class, "background"); bg != "" {
		if err := e.setBackground(w, bg); err != nil {
			return nil, fmt.Errorf("world %s: %w", name, err)
		}
	}

	self := L.NewTable()
	L.SetMetatable(self, e.metatable(class, e.worldAPI))
	e.worlds[self] = w
	e.worldTable[w] = self
	w.SetBehavior(&worldBehavior{e: e, gen: e.gen, self: self})

	if init, ok := L.GetField(class, "init").(*lua.LFunction); ok {
		if err := e.call(ctx, w, init, self); err != nil {
			return nil, err
		}
	}
	return w, nil
}

// class loads unit name through require and caches the returned table.
func (e *Engine) class(name string) (*lua.LTable, error) {
	if c, ok := e.classes[name]; ok {
		return c, nil
	}
	L := e.vm
	if err := L.CallByParam(lua.P{Fn: L.GetGlobal("require"), NRet: 1, Protect: true}, lua.LString(name)); err != nil {
		return nil, scriptError(err)
	}
	v := L.Get(-1)
	L.Pop(1)
	c, ok := v.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("unit %s must return a class table, got %s", name, v.Type())
	}
	e.classes[name] = c
	return c, nil
}

// metatable returns the instance metatable of class: fields resolve on the
// class first, then on api.
func (e *Engine) metatable(class, api *lua.LTable) *lua.LTable {
	if mt, ok := e.instanceMT[class]; ok {
		return mt
	}
	L := e.vm
	mt := L.NewTable()
	L.SetField(mt, "__index", L.NewFunction(func(L *lua.LState) int {
		key := L.Get(2)
		v := L.GetTable(class, key)
		if v == lua.LNil {
			v = api.RawGet(key)
		}
		L.Push(v)
		return 1
	}))
	e.instanceMT[class] = mt
	return mt
}

// newActor creates an instance of class name and runs its init.
func (e *Engine) newActor(name string, args ...lua.LValue) (*lua.LTable, error) {
	class, err := e.class(name)
	if err != nil {
		return nil, err
	}
	L := e.vm
	var img image.Image
	if file := strField(L, class, "image"); file != "" {
		if img, err = e.image(file); err != nil {
			return nil, fmt.Errorf("class %s: %w", name, err)
		}
	}
	self := L.NewTable()
	L.SetMetatable(self, e.metatable(class, e.actorAPI))
	a := world.NewActor(name, img, &actorBehavior{e: e, gen: e.gen, self: self})
	e.actors[self] = a
	e.tables[a] = self

	if init, ok := L.GetField(class, "init").(*lua.LFunction); ok {
		if err := L.CallByParam(lua.P{Fn: init, NRet: 0, Protect: true}, append([]lua.LValue{self}, args...)...); err != nil {
			return nil, scriptError(err)
		}
	}
	return self, nil
}

// call runs fn with ctx bound to the VM. The caller holds mu.
func (e *Engine) call(ctx context.Context, w *world.World, fn *lua.LFunction, args ...lua.LValue) error {
	e.ctx, e.world = ctx, w
	e.vm.SetContext(ctx)
	defer func() {
		e.vm.RemoveContext()
		e.ctx, e.world = nil, nil
	}()
	if err := e.vm.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, args...); err != nil {
		return scriptError(err)
	}
	return nil
}

// invoke calls self:method() if the method exists.
func (e *Engine) invoke(ctx context.Context, gen int, w *world.World, self *lua.LTable, method string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.gen {
		return nil
	}
	fn, ok := e.vm.GetField(self, method).(*lua.LFunction)
	if !ok {
		return nil
	}
	return e.call(ctx, w, fn, self)
}

type actorBehavior struct {
	e    *Engine
	gen  int
	self *lua.LTable
}

func (b *actorBehavior) Act(ctx context.Context, a *world.Actor) error {
	return b.e.invoke(ctx, b.gen, a.World(), b.self, "act")
}

type worldBehavior struct {
	e    *Engine
	gen  int
	self *lua.LTable
}

func (b *worldBehavior) Act(ctx context.Context, w *world.World) error {
	return b.e.invoke(ctx, b.gen, w, b.self, "act")
}

// image loads and caches an image found on the class path, directly or
// under an images directory.
func (e *Engine) image(name string) (image.Image, error) {
	if img, ok := e.images[name]; ok {
		return img, nil
	}
	var candidates []string
	if filepath.IsAbs(name) {
		candidates = []string{name}
	}
	for _, root := range e.opts.ClassPath {
		candidates = append(candidates, filepath.Join(root, "images", name), filepath.Join(root, name))
	}
	for _, path := range candidates {
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		img, _, err := image.Decode(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("decode image %s: %w", path, err)
		}
		e.images[name] = img
		return img, nil
	}
	return nil, fmt.Errorf("image %q not found", name)
}

func (e *Engine) setBackground(w *world.World, value string) error {
	if strings.HasPrefix(value, "#") {
		c, err := parseColor(value)
		if err != nil {
			return err
		}
		w.SetBackground(c)
		w.SetBackgroundImage(nil)
		return nil
	}
	img, err := e.image(value)
	if err != nil {
		return err
	}
	w.SetBackgroundImage(img)
	return nil
}

// parseColor accepts #rrggbb and #rrggbbaa.
func parseColor(s string) (color.RGBA, error) {
	hex := strings.TrimPrefix(s, "#")
	if len(hex) == 6 {
		hex += "ff"
	}
	if len(hex) != 8 {
		return color.RGBA{}, fmt.Errorf("bad colour %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("bad colour %q", s)
	}
	return color.RGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, nil
}

func intField(L *lua.LState, t *lua.LTable, key string, def int) int {
	if n, ok := L.GetField(t, key).(lua.LNumber); ok {
		return int(n)
	}
	return def
}

func strField(L *lua.LState, t *lua.LTable, key string) string {
	if s, ok := L.GetField(t, key).(lua.LString); ok {
		return string(s)
	}
	return ""
}
