// Command worldrun is the child process started by microworld. It runs the
// user's world classes, paints frames into the shared region and takes its
// orders over stdin/stdout.
//
// Usage: worldrun SHM_PATH PROJECT_DIR [CLASS_PATH_ROOT...]
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/microworld/stage/internal/config"
	"github.com/microworld/stage/internal/control"
	"github.com/microworld/stage/internal/core/event"
	"github.com/microworld/stage/internal/core/hdtimer"
	"github.com/microworld/stage/internal/input"
	"github.com/microworld/stage/internal/logging"
	"github.com/microworld/stage/internal/render"
	"github.com/microworld/stage/internal/scripting"
	"github.com/microworld/stage/internal/shm"
	"github.com/microworld/stage/internal/sim"
	"github.com/microworld/stage/internal/transport"
	"github.com/microworld/stage/internal/world"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "worldrun: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) < 2 {
		return errors.New("usage: worldrun SHM_PATH PROJECT_DIR [CLASS_PATH_ROOT...]")
	}
	shmPath, projectDir, classPath := args[0], args[1], args[2:]
	if len(classPath) == 0 {
		classPath = []string{projectDir}
	}

	cfg, err := config.LoadOptional(config.Path())
	if err != nil {
		return err
	}
	// stdout carries the control channel; logs go to stderr only.
	log, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()
	log = log.Named("worldrun")

	region, err := shm.Open(shmPath)
	if err != nil {
		return fmt.Errorf("open shared region: %w", err)
	}
	defer region.Close()

	kb := input.NewKeyboard()
	mouse := &input.Mouse{}
	frames, err := transport.NewPainter(region, input.NewRouter(kb, mouse, log), log)
	if err != nil {
		return fmt.Errorf("attach painter: %w", err)
	}

	bus := event.NewBus()
	worlds := world.NewHandler(log)
	timer := hdtimer.Default()
	timer.SetRecalibrateAfter(cfg.Simulation.RecalibrateAfter)

	paints := render.NewPaintSync()
	painter := render.NewPainter(worlds, frames, paints, render.Options{
		ReadLockTimeout: cfg.Transport.ReadLockTimeout,
		IdleRepaint:     cfg.Transport.IdleRepaint,
	}, log)

	simulation := sim.New(worlds, bus, sim.Options{
		Speed:     cfg.Simulation.Speed,
		StepUnit:  cfg.Simulation.StepUnit,
		PaintWait: cfg.Simulation.PaintWait,
		Timer:     timer,
		Paint:     paints,
		Latchers:  []sim.Latcher{mouse},
	}, log)
	worlds.AddListener(simulation)

	engine := scripting.NewEngine(scripting.Options{
		ClassPath: classPath,
		Keyboard:  kb,
		Mouse:     mouse,
		Timer:     timer,
		StepDelay: simulation.StepDelay,
		Stop:      func() { simulation.SetPaused(true) },
		SetSpeed:  simulation.SetSpeed,
	}, log)
	defer engine.Close()

	server := control.NewServer(simulation, engine, worlds, bus, log)

	if err := frames.Ready(); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	log.Info("attached",
		zap.String("shm", shmPath),
		zap.String("layout", frames.Layout().Name()),
		zap.Strings("class_path", classPath),
		zap.Duration("timer_precision", timer.Calibration().SleepPrecision))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return simulation.Run(ctx) })
	g.Go(func() error { return painter.Run(ctx) })
	g.Go(func() error {
		// The host closing the channel ends the process.
		defer cancel()
		return server.Serve(ctx, control.Pipe{In: os.Stdin, Out: os.Stdout})
	})
	g.Go(func() error {
		if err := server.Ready(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	err = g.Wait()
	worlds.Remove()
	st := frames.Stats()
	log.Info("stopped", zap.Uint64("ticks", simulation.Ticks()),
		zap.Uint64("frames", st.Posted), zap.Uint64("dropped", st.Dropped))
	return err
}
