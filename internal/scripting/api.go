package scripting

import (
	"context"
	"math/rand"
	"time"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/microworld/stage/internal/input"
	"github.com/microworld/stage/internal/world"
)

// loadModule is the loader of require("mw").
func (e *Engine) loadModule(L *lua.LState) int {
	mod := L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"new":             e.luaNew,
		"isKeyDown":       e.luaIsKeyDown,
		"getKey":          e.luaGetKey,
		"getMouseInfo":    e.luaGetMouseInfo,
		"delay":           e.luaDelay,
		"getRandomNumber": luaRandom,
		"stop":            e.luaStop,
		"setSpeed":        e.luaSetSpeed,
		"log":             e.luaLog,
	})
	L.Push(mod)
	return 1
}

func (e *Engine) luaNew(L *lua.LState) int {
	name := L.CheckString(1)
	var args []lua.LValue
	for i := 2; i <= L.GetTop(); i++ {
		args = append(args, L.Get(i))
	}
	self, err := e.newActor(name, args...)
	if err != nil {
		L.RaiseError("new %s: %s", name, err.Error())
	}
	L.Push(self)
	return 1
}

func (e *Engine) luaIsKeyDown(L *lua.LState) int {
	L.Push(lua.LBool(e.opts.Keyboard.IsDown(input.KeyFromName(L.CheckString(1)))))
	return 1
}

func (e *Engine) luaGetKey(L *lua.LState) int {
	k := e.opts.Keyboard.TakeKey()
	if k == input.KeyUnknown {
		L.Push(lua.LNil)
	} else {
		L.Push(lua.LString(k.Name()))
	}
	return 1
}

// luaGetMouseInfo returns what the mouse did during the last act, in cells of
// the current world, or nil if it did nothing.
func (e *Engine) luaGetMouseInfo(L *lua.LState) int {
	s := e.opts.Mouse.State()
	if !(s.Clicked || s.Pressed || s.Released || s.Dragged || s.Moved) {
		L.Push(lua.LNil)
		return 1
	}
	cell := 1
	if e.world != nil {
		cell = e.world.CellSize()
	}
	t := L.NewTable()
	t.RawSetString("x", lua.LNumber(s.X/cell))
	t.RawSetString("y", lua.LNumber(s.Y/cell))
	t.RawSetString("button", lua.LNumber(s.Button))
	t.RawSetString("clickCount", lua.LNumber(s.ClickCount))
	t.RawSetString("clicked", lua.LBool(s.Clicked))
	t.RawSetString("pressed", lua.LBool(s.Pressed))
	t.RawSetString("released", lua.LBool(s.Released))
	t.RawSetString("dragged", lua.LBool(s.Dragged))
	t.RawSetString("moved", lua.LBool(s.Moved))
	L.Push(t)
	return 1
}

// luaDelay waits n simulation delays. The world lock is released meanwhile
// so the world can still be painted.
func (e *Engine) luaDelay(L *lua.LState) int {
	n := L.OptInt(1, 1)
	d := time.Duration(n) * e.opts.StepDelay()
	ctx := e.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	var lock *world.Lock
	if e.world != nil {
		lock = e.world.Lock()
	}
	var err error
	if lock != nil {
		err = e.opts.Timer.WaitReleasing(ctx, d, lock)
	} else {
		err = e.opts.Timer.Sleep(ctx, d)
	}
	if err != nil {
		L.RaiseError("delay: %s", err.Error())
	}
	return 0
}

func luaRandom(L *lua.LState) int {
	n := L.CheckInt(1)
	if n <= 0 {
		L.ArgError(1, "limit must be positive")
	}
	L.Push(lua.LNumber(rand.Intn(n)))
	return 1
}

func (e *Engine) luaStop(L *lua.LState) int {
	if e.opts.Stop != nil {
		e.opts.Stop()
	}
	return 0
}

func (e *Engine) luaSetSpeed(L *lua.LState) int {
	if e.opts.SetSpeed != nil {
		e.opts.SetSpeed(L.CheckInt(1))
	}
	return 0
}

func (e *Engine) luaLog(L *lua.LState) int {
	e.log.Info(L.CheckString(1), zap.String("where", L.Where(1)))
	return 0
}

func (e *Engine) checkActor(L *lua.LState, n int) *world.Actor {
	a, ok := e.actors[L.CheckTable(n)]
	if !ok {
		L.ArgError(n, "actor expected")
	}
	return a
}

func (e *Engine) checkWorld(L *lua.LState, n int) *world.World {
	w, ok := e.worlds[L.CheckTable(n)]
	if !ok {
		L.ArgError(n, "world expected")
	}
	return w
}

// pushActors pushes a Lua array of the tables of actors.
func (e *Engine) pushActors(L *lua.LState, actors []*world.Actor) {
	t := L.NewTable()
	for _, a := range actors {
		if self, ok := e.tables[a]; ok {
			t.Append(self)
		}
	}
	L.Push(t)
}

func (e *Engine) pushFirst(L *lua.LState, actors []*world.Actor) {
	for _, a := range actors {
		if self, ok := e.tables[a]; ok {
			L.Push(self)
			return
		}
	}
	L.Push(lua.LNil)
}

func (e *Engine) actorFuncs() map[string]lua.LGFunction {
	return map[string]lua.LGFunction{
		"getX": func(L *lua.LState) int {
			L.Push(lua.LNumber(e.checkActor(L, 1).X()))
			return 1
		},
		"getY": func(L *lua.LState) int {
			L.Push(lua.LNumber(e.checkActor(L, 1).Y()))
			return 1
		},
		"getRotation": func(L *lua.LState) int {
			L.Push(lua.LNumber(e.checkActor(L, 1).Rotation()))
			return 1
		},
		"setRotation": func(L *lua.LState) int {
			e.checkActor(L, 1).SetRotation(L.CheckInt(2))
			return 0
		},
		"turn": func(L *lua.LState) int {
			e.checkActor(L, 1).Turn(L.CheckInt(2))
			return 0
		},
		"move": func(L *lua.LState) int {
			e.checkActor(L, 1).Move(L.CheckInt(2))
			return 0
		},
		"setLocation": func(L *lua.LState) int {
			e.checkActor(L, 1).SetLocation(L.CheckInt(2), L.CheckInt(3))
			return 0
		},
		"isAtEdge": func(L *lua.LState) int {
			L.Push(lua.LBool(e.checkActor(L, 1).AtEdge()))
			return 1
		},
		"getWorld": func(L *lua.LState) int {
			if t, ok := e.worldTable[e.checkActor(L, 1).World()]; ok {
				L.Push(t)
			} else {
				L.Push(lua.LNil)
			}
			return 1
		},
		"setImage": func(L *lua.LState) int {
			a := e.checkActor(L, 1)
			img, err := e.image(L.CheckString(2))
			if err != nil {
				L.RaiseError("%s", err.Error())
			}
			a.SetImage(img)
			return 0
		},
		"isTouching": func(L *lua.LState) int {
			L.Push(lua.LBool(len(e.checkActor(L, 1).Intersecting(L.OptString(2, ""))) > 0))
			return 1
		},
		"getOneIntersectingObject": func(L *lua.LState) int {
			e.pushFirst(L, e.checkActor(L, 1).Intersecting(L.OptString(2, "")))
			return 1
		},
		"getIntersectingObjects": func(L *lua.LState) int {
			e.pushActors(L, e.checkActor(L, 1).Intersecting(L.OptString(2, "")))
			return 1
		},
		"removeTouching": func(L *lua.LState) int {
			a := e.checkActor(L, 1)
			for _, b := range a.Intersecting(L.OptString(2, "")) {
				a.World().Remove(b)
				break
			}
			return 0
		},
		"getObjectsInRange": func(L *lua.LState) int {
			a := e.checkActor(L, 1)
			r := L.CheckInt(2)
			kind := L.OptString(3, "")
			var near []*world.Actor
			if w := a.World(); w != nil {
				for _, b := range w.InRange(a.X(), a.Y(), r, kind) {
					if b != a {
						near = append(near, b)
					}
				}
			}
			e.pushActors(L, near)
			return 1
		},
	}
}

func (e *Engine) worldFuncs() map[string]lua.LGFunction {
	return map[string]lua.LGFunction{
		"getWidth": func(L *lua.LState) int {
			L.Push(lua.LNumber(e.checkWorld(L, 1).Width()))
			return 1
		},
		"getHeight": func(L *lua.LState) int {
			L.Push(lua.LNumber(e.checkWorld(L, 1).Height()))
			return 1
		},
		"getCellSize": func(L *lua.LState) int {
			L.Push(lua.LNumber(e.checkWorld(L, 1).CellSize()))
			return 1
		},
		"addObject": func(L *lua.LState) int {
			w := e.checkWorld(L, 1)
			a := e.checkActor(L, 2)
			if err := w.Add(a, L.CheckInt(3), L.CheckInt(4)); err != nil {
				L.RaiseError("addObject: %s", err.Error())
			}
			self := e.tables[a]
			if added, ok := L.GetField(self, "addedToWorld").(*lua.LFunction); ok {
				L.Push(added)
				L.Push(self)
				L.Push(L.Get(1))
				L.Call(2, 0)
			}
			return 0
		},
		"removeObject": func(L *lua.LState) int {
			w := e.checkWorld(L, 1)
			a := e.checkActor(L, 2)
			if a.World() == w {
				w.Remove(a)
			}
			return 0
		},
		"getObjects": func(L *lua.LState) int {
			w := e.checkWorld(L, 1)
			kind := L.OptString(2, "")
			var out []*world.Actor
			for _, a := range w.Actors() {
				if kind == "" || a.Kind() == kind {
					out = append(out, a)
				}
			}
			e.pushActors(L, out)
			return 1
		},
		"getObjectsAt": func(L *lua.LState) int {
			w := e.checkWorld(L, 1)
			e.pushActors(L, w.ObjectsAt(L.CheckInt(2), L.CheckInt(3), L.OptString(4, "")))
			return 1
		},
		"numberOfObjects": func(L *lua.LState) int {
			L.Push(lua.LNumber(e.checkWorld(L, 1).NumActors()))
			return 1
		},
		"showText": func(L *lua.LState) int {
			w := e.checkWorld(L, 1)
			w.ShowText(L.OptString(2, ""), L.CheckInt(3), L.CheckInt(4))
			return 0
		},
		"setPaintOrder": func(L *lua.LState) int {
			w := e.checkWorld(L, 1)
			var kinds []string
			for i := 2; i <= L.GetTop(); i++ {
				kinds = append(kinds, L.CheckString(i))
			}
			w.SetPaintOrder(kinds...)
			return 0
		},
		"setBackground": func(L *lua.LState) int {
			w := e.checkWorld(L, 1)
			if err := e.setBackground(w, L.CheckString(2)); err != nil {
				L.RaiseError("setBackground: %s", err.Error())
			}
			return 0
		},
	}
}
