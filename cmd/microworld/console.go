package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/microworld/stage/internal/compile"
	"github.com/microworld/stage/internal/control"
	"github.com/microworld/stage/internal/input"
)

var errQuit = errors.New("quit")

// console reads one command per line and drives the child and the compiler.
type console struct {
	client *control.Client
	coord  *compile.Coordinator
	queue  *input.Queue
	log    *zap.Logger
}

func newConsole(c *control.Client, coord *compile.Coordinator, q *input.Queue, log *zap.Logger) *console {
	return &console{client: c, coord: coord, queue: q, log: log.Named("console")}
}

// Run executes commands from r until "quit", EOF on r leaves the host
// running until ctx is done.
func (c *console) Run(ctx context.Context, r io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				<-ctx.Done()
				return nil
			}
			if err := c.exec(ctx, strings.Fields(line)); err != nil {
				if errors.Is(err, errQuit) {
					return err
				}
				fmt.Println(paint("31", err.Error()))
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *console) exec(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return nil
	}
	arg := func(i int) string {
		if i < len(args) {
			return args[i]
		}
		return ""
	}
	var (
		st  control.Status
		err error
	)
	switch args[0] {
	case "run":
		st, err = c.client.SetPaused(ctx, false)
	case "pause":
		st, err = c.client.SetPaused(ctx, true)
	case "step":
		st, err = c.client.Step(ctx)
	case "speed":
		n, perr := strconv.Atoi(arg(1))
		if perr != nil {
			return fmt.Errorf("speed: %w", perr)
		}
		st, err = c.client.SetSpeed(ctx, n)
	case "interrupt":
		st, err = c.client.Interrupt(ctx)
	case "status":
		st, err = c.client.Status(ctx)
	case "install":
		if arg(1) == "" {
			return errors.New("install CLASS")
		}
		st, err = c.client.InstallWorld(ctx, arg(1))
	case "remove":
		st, err = c.client.RemoveWorld(ctx)
	case "compile":
		if arg(1) == "" {
			err = c.coord.CompileAll(ctx)
		} else {
			err = c.coord.CompileOne(ctx, arg(1))
		}
		if err == nil {
			err = c.coord.Wait(ctx)
		}
		return err
	case "rebuild":
		if err := c.coord.Rebuild(ctx); err != nil {
			return err
		}
		return c.coord.Wait(ctx)
	case "key", "press", "release":
		key := input.KeyFromName(arg(1))
		if key == input.KeyUnknown {
			return fmt.Errorf("unknown key %q", arg(1))
		}
		if args[0] != "release" {
			c.queue.PostKey(input.KeyDown, key)
		}
		if args[0] != "press" {
			c.queue.PostKey(input.KeyUp, key)
		}
		return nil
	case "click":
		x, xerr := strconv.Atoi(arg(1))
		y, yerr := strconv.Atoi(arg(2))
		if xerr != nil || yerr != nil {
			return errors.New("click X Y")
		}
		for _, kind := range []input.Kind{input.MousePressed, input.MouseReleased, input.MouseClicked} {
			c.queue.PostMouse(input.MouseRecord{Kind: kind, X: int32(x), Y: int32(y), Button: 1, ClickCount: 1})
		}
		return nil
	case "quit", "exit":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
	if err != nil {
		return err
	}
	c.log.Debug("command", zap.Strings("args", args))
	fmt.Printf("  %s speed %d, world %q, %d ticks\n", st.State, st.Speed, st.World, st.Ticks)
	return nil
}
