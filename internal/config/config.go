package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultPath is used when MICROWORLD_CONFIG is not set.
const DefaultPath = "config/microworld.toml"

type Config struct {
	Logging    LoggingConfig    `toml:"logging"`
	Project    ProjectConfig    `toml:"project"`
	Compile    CompileConfig    `toml:"compile"`
	Simulation SimulationConfig `toml:"simulation"`
	Transport  TransportConfig  `toml:"transport"`
	Child      ChildConfig      `toml:"child"`
	Host       HostConfig       `toml:"host"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "json" or "console"
}

type ProjectConfig struct {
	Dir       string `toml:"dir"`
	Manifest  string `toml:"manifest"`   // relative to Dir
	OutputDir string `toml:"output_dir"` // relative to Dir; the child's class path
}

type CompileConfig struct {
	CacheDir string `toml:"cache_dir"` // empty = in-memory analysis cache
	Lint     bool   `toml:"lint"`
}

type SimulationConfig struct {
	Speed            int           `toml:"speed"`     // 0..100
	StepUnit         time.Duration `toml:"step_unit"` // delay per missing speed point
	PaintWait        time.Duration `toml:"paint_wait"`
	RecalibrateAfter time.Duration `toml:"recalibrate_after"`
}

type TransportConfig struct {
	ShmPath         string        `toml:"shm_path"` // empty = temp file
	Layout          string        `toml:"layout"`   // "single" or "double"
	MaxWidth        int           `toml:"max_width"`
	MaxHeight       int           `toml:"max_height"`
	MaxInput        int           `toml:"max_input_records"`
	ReadLockTimeout time.Duration `toml:"read_lock_timeout"`
	IdleRepaint     time.Duration `toml:"idle_repaint"`
	PollInterval    time.Duration `toml:"poll_interval"`
}

type ChildConfig struct {
	Binary       string `toml:"binary"` // empty = worldrun next to the host binary
	InstallWorld string `toml:"install_world"`
}

type HostConfig struct {
	RecordPath    string `toml:"record_path"`
	SnapshotDir   string `toml:"snapshot_dir"`
	SnapshotEvery int    `toml:"snapshot_every"`
	AutoRun       bool   `toml:"auto_run"`
}

// Path returns the config path, honouring MICROWORLD_CONFIG.
func Path() string {
	if p := os.Getenv("MICROWORLD_CONFIG"); p != "" {
		return p
	}
	return DefaultPath
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := Defaults()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOptional is Load, except that a missing file yields the defaults.
func LoadOptional(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Defaults(), nil
	}
	return cfg, err
}

func (c *Config) Validate() error {
	if c.Simulation.Speed < 0 || c.Simulation.Speed > 100 {
		return fmt.Errorf("simulation.speed %d out of range 0..100", c.Simulation.Speed)
	}
	if c.Simulation.StepUnit <= 0 {
		return fmt.Errorf("simulation.step_unit must be positive")
	}
	switch c.Transport.Layout {
	case "single", "double":
	default:
		return fmt.Errorf("transport.layout %q: want single or double", c.Transport.Layout)
	}
	if c.Transport.MaxWidth <= 0 || c.Transport.MaxHeight <= 0 {
		return fmt.Errorf("transport max frame size %dx%d must be positive",
			c.Transport.MaxWidth, c.Transport.MaxHeight)
	}
	if c.Transport.MaxInput < 0 {
		return fmt.Errorf("transport.max_input_records must not be negative")
	}
	if c.Transport.ReadLockTimeout <= 0 {
		return fmt.Errorf("transport.read_lock_timeout must be positive")
	}
	return nil
}

func Defaults() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Project: ProjectConfig{
			Dir:       ".",
			Manifest:  "project.yaml",
			OutputDir: "out",
		},
		Compile: CompileConfig{
			Lint: true,
		},
		Simulation: SimulationConfig{
			Speed:            50,
			StepUnit:         4 * time.Millisecond,
			PaintWait:        100 * time.Millisecond,
			RecalibrateAfter: 10 * time.Minute,
		},
		Transport: TransportConfig{
			Layout:          "single",
			MaxWidth:        1280,
			MaxHeight:       960,
			MaxInput:        256,
			ReadLockTimeout: 50 * time.Millisecond,
			IdleRepaint:     100 * time.Millisecond,
			PollInterval:    5 * time.Millisecond,
		},
		Host: HostConfig{
			SnapshotEvery: 60,
			AutoRun:       true,
		},
	}
}
