// Package launch starts the worldrun child process.
package launch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/microworld/stage/internal/control"
)

// ChildName is the child binary looked up next to the host binary.
const ChildName = "worldrun"

// Config keeps the configuration for spawning the child.
type Config struct {
	// Binary is the child binary. If empty, ChildName next to os.Executable
	// is used.
	Binary     string
	ShmPath    string
	ProjectDir string
	// ClassPath lists the roots the child loads compiled units and images
	// from, output directory first.
	ClassPath []string
	// ConfigPath is passed to the child through MICROWORLD_CONFIG.
	ConfigPath string
	// Stderr receives the child's log output. Nil means os.Stderr.
	Stderr io.Writer
}

// Child is a running worldrun process.
type Child struct {
	cmd  *exec.Cmd
	conn control.Pipe
	done chan struct{}
	err  error
	log  *zap.Logger
}

// Args builds the child's command line after resolving paths to absolute
// ones: shm path, project dir, then the class path roots.
func Args(cfg Config) ([]string, error) {
	var pathError error
	abs := func(name, path string) string {
		if pathError != nil {
			return ""
		}
		if path == "" {
			pathError = fmt.Errorf("%s is required for spawning the child", name)
			return ""
		}
		absPath, err := filepath.Abs(path)
		if err != nil {
			pathError = fmt.Errorf("cannot resolve %s to absolute path: %w", name, err)
		}
		return absPath
	}
	args := []string{abs("ShmPath", cfg.ShmPath), abs("ProjectDir", cfg.ProjectDir)}
	for _, root := range cfg.ClassPath {
		args = append(args, abs("ClassPath", root))
	}
	if pathError != nil {
		return nil, pathError
	}
	return args, nil
}

func binary(cfg Config) (string, error) {
	if cfg.Binary != "" {
		return cfg.Binary, nil
	}
	self, err := os.Executable()
	if err != nil {
		return "", errors.New("cannot find " + ChildName + ": " + err.Error())
	}
	return filepath.Join(filepath.Dir(self), ChildName), nil
}

// Spawn starts the child. Its stdin and stdout carry the control channel,
// returned by Conn. The process is killed when ctx is done.
func Spawn(ctx context.Context, cfg Config, log *zap.Logger) (*Child, error) {
	bin, err := binary(cfg)
	if err != nil {
		return nil, err
	}
	args, err := Args(cfg)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Env = os.Environ()
	if cfg.ConfigPath != "" {
		if p, err := filepath.Abs(cfg.ConfigPath); err == nil {
			cmd.Env = append(cmd.Env, "MICROWORLD_CONFIG="+p)
		}
	}
	cmd.Stderr = cfg.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("child stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("child stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", bin, err)
	}

	c := &Child{
		cmd:  cmd,
		conn: control.Pipe{In: stdout, Out: stdin},
		done: make(chan struct{}),
		log:  log.Named("child"),
	}
	c.log.Info("child spawned", zap.String("bin", bin), zap.Int("pid", cmd.Process.Pid))
	go c.wait(ctx)
	return c, nil
}

func (c *Child) wait(ctx context.Context) {
	c.err = c.cmd.Wait()
	if c.err != nil && ctx.Err() == nil {
		c.log.Warn("child exited", zap.Error(c.err))
	} else {
		c.log.Debug("child exited", zap.Error(c.err))
	}
	close(c.done)
}

// Conn is the control channel: reads from the child's stdout and writes to
// its stdin.
func (c *Child) Conn() io.ReadWriteCloser { return c.conn }

// Done is closed once the process has exited.
func (c *Child) Done() <-chan struct{} { return c.done }

// Err returns the exit error after Done is closed.
func (c *Child) Err() error {
	<-c.done
	return c.err
}

// Stop closes the child's stdin, which ends its control channel, and kills
// it if it has not exited within grace.
func (c *Child) Stop(grace time.Duration) {
	c.conn.Out.Close()
	select {
	case <-c.done:
	case <-time.After(grace):
		c.log.Warn("child did not exit, killing", zap.Duration("grace", grace))
		c.cmd.Process.Kill()
		<-c.done
	}
}
