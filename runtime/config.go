package runtime

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/wippyai/script-core/callback"
	"github.com/wippyai/script-core/engine"
	"github.com/wippyai/script-core/errors"
	"github.com/wippyai/script-core/native"
)

// ConfigFile is the name of the configuration file looked up by
// LoadConfig and FindAndLoadConfig.
const ConfigFile = "scriptcore.toml"

// Config configures a Runtime.
type Config struct {
	Library LibraryConfig `toml:"library"`
	Engine  EngineConfig  `toml:"engine"`
	Script  ScriptConfig  `toml:"script"`
	Log     LogConfig     `toml:"log"`

	// Dir is the directory containing the configuration file (set at load time).
	Dir string `toml:"-"`
}

// LibraryConfig selects the foreign library and how it is bound.
type LibraryConfig struct {
	Path        string   `toml:"path"`
	SearchPaths []string `toml:"search-paths"`
	// TableSymbol names an exported i32 global holding the address table
	// offset. Empty or absent means lookup by name.
	TableSymbol string `toml:"table-symbol"`
	NoUnload    bool   `toml:"no-unload"`
	ExitHandler bool   `toml:"exit-handler"`
}

// EngineConfig tunes the WebAssembly engine.
type EngineConfig struct {
	HostModule       string `toml:"host-module"`
	MemoryLimitPages uint32 `toml:"memory-limit-pages"`
	WASI             bool   `toml:"wasi"`
}

// ScriptConfig tunes the interpreter and callbacks.
type ScriptConfig struct {
	CallbackFlags []string      `toml:"callback-flags"`
	PauseInterval time.Duration `toml:"pause-interval"`
	QueueSize     int           `toml:"queue-size"`
}

// LogConfig selects the log output.
type LogConfig struct {
	Level       string `toml:"level"`
	Development bool   `toml:"development"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Library: LibraryConfig{ExitHandler: true},
		Engine:  EngineConfig{HostModule: engine.DefaultHostModule},
		Script: ScriptConfig{
			CallbackFlags: []string{"default"},
			PauseInterval: 50 * time.Millisecond,
			QueueSize:     64,
		},
		Log: LogConfig{Level: "info"},
	}
}

// LoadConfig parses scriptcore.toml from dir over the defaults. Relative
// library and search paths are resolved against dir.
func LoadConfig(dir string) (*Config, error) {
	path := filepath.Join(dir, ConfigFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindNotFound, err, "read "+path)
	}

	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "parse "+path)
	}

	cfg.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "resolve "+dir)
	}
	if p := cfg.Library.Path; p != "" && !filepath.IsAbs(p) {
		cfg.Library.Path = filepath.Join(cfg.Dir, p)
	}
	for i, p := range cfg.Library.SearchPaths {
		if !filepath.IsAbs(p) {
			cfg.Library.SearchPaths[i] = filepath.Join(cfg.Dir, p)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FindAndLoadConfig walks up from startDir to the first directory holding
// scriptcore.toml and loads it. It returns nil without error when none is
// found.
func FindAndLoadConfig(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, ConfigFile)); err == nil {
			return LoadConfig(dir)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// Validate checks values that cannot be used as given.
func (c *Config) Validate() error {
	if _, err := c.CallbackFlags(); err != nil {
		return errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "script.callback-flags")
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "log.level")
	}
	if c.Script.PauseInterval < 0 {
		return errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("script.pause-interval %s is negative", c.Script.PauseInterval))
	}
	return nil
}

// CallbackFlags returns the default callback flags.
func (c *Config) CallbackFlags() (callback.Flags, error) {
	if len(c.Script.CallbackFlags) == 0 {
		return callback.Default, nil
	}
	return callback.ParseFlags(c.Script.CallbackFlags)
}

func (c *Config) loadFlags() native.LoadFlags {
	if c.Library.NoUnload {
		return native.NoUnload
	}
	return 0
}

func (c *Config) engineConfig() *engine.Config {
	return &engine.Config{
		MemoryLimitPages: c.Engine.MemoryLimitPages,
		WASI:             c.Engine.WASI,
		HostModule:       c.Engine.HostModule,
		SearchPaths:      c.Library.SearchPaths,
	}
}
