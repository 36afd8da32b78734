// Command microworld is the host: it compiles the project's units, starts the
// worldrun child, installs the world and shows its frames.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/microworld/stage/internal/app"
	"github.com/microworld/stage/internal/compile"
	"github.com/microworld/stage/internal/config"
	"github.com/microworld/stage/internal/control"
	"github.com/microworld/stage/internal/core/event"
	"github.com/microworld/stage/internal/input"
	"github.com/microworld/stage/internal/launch"
	"github.com/microworld/stage/internal/logging"
	"github.com/microworld/stage/internal/project"
	"github.com/microworld/stage/internal/scripting"
	"github.com/microworld/stage/internal/shm"
	"github.com/microworld/stage/internal/transport"
	"github.com/microworld/stage/internal/uiloop"
)

const readyTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// ── Startup display helpers ────────────────────────────────────────

var colour = isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())

func paint(code, s string) string {
	if !colour {
		return s
	}
	return "\033[" + code + "m" + s + "\033[0m"
}

func printBanner(name string) {
	fmt.Println()
	fmt.Println(paint("36;1", "  ┌───────────────────────────────────────────┐"))
	fmt.Println(paint("36;1", "  │") + "              microworld stage             " + paint("36;1", "│"))
	fmt.Println(paint("36;1", "  └───────────────────────────────────────────┘"))
	fmt.Println()
	fmt.Printf("  %s %s\n\n", paint("1", "project:"), name)
}

func printSection(title string) {
	fmt.Printf("  %s\n", paint("33", "── "+title+" "+strings.Repeat("─", max(3, 45-len(title)))))
}

func printStat(label string, count int) {
	num := fmt.Sprint(count)
	dots := strings.Repeat("·", max(3, 42-len(label)-len(num)))
	fmt.Printf("  %s %s %s\n", label, paint("90", dots), paint("32", num))
}

func printOK(msg string)    { fmt.Printf("  %s %s\n", paint("32", "✓"), msg) }
func printFail(msg string)  { fmt.Printf("  %s %s\n", paint("31", "✗"), msg) }
func printReady(msg string) { fmt.Printf("  %s %s\n", paint("32", "▶"), msg) }

// ── Host ──────────────────────────────────────────────────────────

// childMonitor is the compile coordinator's view of the child, which is
// spawned after the coordinator exists.
type childMonitor struct {
	client atomic.Pointer[control.Client]
}

func (m *childMonitor) DebugState() compile.DebugState {
	if c := m.client.Load(); c != nil {
		return c.DebugState()
	}
	return compile.DebugNotReady
}

type logMessenger struct{ log *zap.Logger }

func (m logMessenger) ShowMessage(key string) {
	m.log.Warn("compile refused", zap.String("message", key))
}

func run() error {
	// 1. Config and logger
	cfgPath := config.Path()
	cfg, err := config.LoadOptional(cfgPath)
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	// 2. Project
	proj, err := project.Load(cfg.Project.Dir, cfg.Project.Manifest, cfg.Project.OutputDir)
	if err != nil {
		return err
	}
	printBanner(proj.Name)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	bus := app.NewBus()
	recorder := app.NewRecorder(cfg.Host.RecordPath, bus, log)
	defer recorder.Close()
	event.Subscribe(bus, func(e app.DataSubmissionFailed) {
		log.Warn("session recording stopped", zap.String("reason", e.Reason))
	})

	// 3. UI loop and compiler
	ui := uiloop.New(256, log.Named("ui"))
	g.Go(func() error { return ui.Run(ctx) })

	var cache compile.AnalysisCache = compile.NewMemCache()
	if cfg.Compile.CacheDir != "" {
		if cache, err = compile.NewDirCache(cfg.Compile.CacheDir); err != nil {
			return err
		}
	}
	status := newCompileStatus(recorder, log)
	monitor := &childMonitor{}
	coord := compile.NewCoordinator(proj.Graph, compile.Options{
		Driver:    scripting.NewDriver(cfg.Compile.Lint, log),
		Analyzer:  scripting.Analyzer{},
		Cache:     cache,
		Observer:  compile.NewBridge(ui, status, log),
		Debug:     monitor,
		Messenger: logMessenger{log},
	}, log)
	g.Go(func() error { return coord.Run(ctx) })

	printSection("compile")
	printStat("units", proj.Graph.Len())
	restored, err := coord.Restore(ctx)
	if err != nil {
		return fmt.Errorf("compile: %w", err)
	}
	printStat("up to date", restored)
	if err := coord.CompileAll(ctx); err != nil {
		return fmt.Errorf("compile: %w", err)
	}
	if err := coord.Wait(ctx); err != nil {
		return fmt.Errorf("compile: %w", err)
	}
	if failed := status.Failed(); failed > 0 {
		printFail(fmt.Sprintf("%d job(s) failed", failed))
	} else {
		printOK("all units compiled")
	}
	fmt.Println()

	// 4. Shared region and child
	layout, err := transport.LayoutByName(cfg.Transport.Layout)
	if err != nil {
		return err
	}
	vopts := transport.ViewerOptions{
		Layout:    layout,
		MaxWidth:  cfg.Transport.MaxWidth,
		MaxHeight: cfg.Transport.MaxHeight,
		MaxInput:  cfg.Transport.MaxInput,
	}
	shmPath := cfg.Transport.ShmPath
	if shmPath == "" {
		f, err := os.CreateTemp("", "microworld-*.shm")
		if err != nil {
			return fmt.Errorf("shared region: %w", err)
		}
		shmPath = f.Name()
		f.Close()
		defer os.Remove(shmPath)
	}
	region, err := shm.Create(shmPath, transport.RegionSize(vopts))
	if err != nil {
		return fmt.Errorf("shared region: %w", err)
	}
	defer region.Close()
	queue := &input.Queue{}
	viewer, err := transport.NewViewer(region, vopts, queue, log)
	if err != nil {
		return err
	}

	printSection("world")
	child, err := launch.Spawn(ctx, launch.Config{
		Binary:     cfg.Child.Binary,
		ShmPath:    shmPath,
		ProjectDir: proj.Dir,
		ClassPath:  proj.ClassPath(),
		ConfigPath: cfgPath,
	}, log)
	if err != nil {
		return err
	}
	defer child.Stop(2 * time.Second)

	ready := make(chan struct{}, 1)
	event.Subscribe(bus, func(app.Ready) {
		select {
		case ready <- struct{}{}:
		default:
		}
	})
	event.Subscribe(bus, func(c control.SimChanged) {
		recorder.Record("sim", c.Status.World, c.Status.State)
	})
	event.Subscribe(bus, func(e control.Exception) {
		log.Error("exception in world", zap.String("message", e.Message))
		recorder.Record("exception", e.Message, e.Stack)
	})
	client := control.NewClient(ctx, child.Conn(), bus, log)
	defer client.Close()
	monitor.client.Store(client)

	if err := awaitReady(ctx, ready, child); err != nil {
		return err
	}
	if err := viewer.WaitReady(ctx, cfg.Transport.PollInterval); err != nil {
		return fmt.Errorf("painter handshake: %w", err)
	}
	printOK("child ready")

	class := cfg.Child.InstallWorld
	if class == "" {
		class = proj.World
	}
	if class != "" {
		st, err := client.InstallWorld(ctx, class)
		if err != nil {
			printFail(fmt.Sprintf("world %s: %v", class, err))
		} else {
			printOK(fmt.Sprintf("world %s installed", st.World))
			if cfg.Host.AutoRun {
				if _, err := client.SetPaused(ctx, false); err != nil {
					log.Warn("start simulation", zap.Error(err))
				}
			}
		}
	}

	// 5. Frames and console
	snaps := newSnapshotter(cfg.Host.SnapshotDir, cfg.Host.SnapshotEvery, log)
	printReady(fmt.Sprintf("viewing frames (%s layout, poll %s)", layout.Name(), cfg.Transport.PollInterval))
	fmt.Println()
	g.Go(func() error { return viewer.Run(ctx, cfg.Transport.PollInterval, snaps.Frame) })
	g.Go(func() error {
		return newConsole(client, coord, queue, log).Run(ctx, os.Stdin)
	})
	g.Go(func() error {
		select {
		case <-child.Done():
			return fmt.Errorf("child exited: %w", child.Err())
		case <-ctx.Done():
			return nil
		}
	})

	err = g.Wait()
	st := viewer.Stats()
	log.Info("stopped", zap.Uint64("frames", st.Consumed), zap.Uint64("keys_sent", st.KeysOut),
		zap.Uint64("mouse_sent", st.MouseOut))
	if errors.Is(err, errQuit) {
		return nil
	}
	return err
}

func awaitReady(ctx context.Context, ready <-chan struct{}, child *launch.Child) error {
	t := time.NewTimer(readyTimeout)
	defer t.Stop()
	select {
	case <-ready:
		return nil
	case <-child.Done():
		return fmt.Errorf("child exited before ready: %w", child.Err())
	case <-t.C:
		return fmt.Errorf("child not ready after %s", readyTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}
