// Package config loads the settings of the dosefind command.
//
// Values are read from the embedded defaults, then an optional YAML file,
// then environment variables with the DOSEFIND_ prefix. A double underscore
// separates the section from the key:
//
//	DOSEFIND_FIT__GRID_SIZE_1D=50  -> fit.grid_size_1d
//	DOSEFIND_MVT__ABSEPS=0.0001    -> mvt.abseps
//	DOSEFIND_LOG__LEVEL=debug      -> log.level
package config

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/hammal/dosefinding"
	"github.com/hammal/dosefinding/contrast"
	"github.com/hammal/dosefinding/fit"
	"github.com/hammal/dosefinding/internal/logging"
	"github.com/hammal/dosefinding/mct"
	"github.com/hammal/dosefinding/model"
	"github.com/hammal/dosefinding/mvt"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"go.uber.org/zap"
)

// EnvPrefix is the prefix of the environment variables read by Load.
const EnvPrefix = "DOSEFIND_"

const maxConfigFileSize = 1024 * 1024

//go:embed defaults.yaml
var defaults []byte

// Config holds all settings.
type Config struct {
	Fit    FitConfig      `koanf:"fit"`
	MVT    mvt.Control    `koanf:"mvt"`
	Test   TestConfig     `koanf:"test"`
	MCPMod MCPModConfig   `koanf:"mcpmod"`
	Log    logging.Config `koanf:"log"`
}

// FitConfig tunes the fitting engine.
type FitConfig struct {
	GridSize1D    int             `koanf:"grid_size_1d"`
	GridSize2D    int             `koanf:"grid_size_2d"`
	Tolerance     float64         `koanf:"tolerance"`
	MaxIterations int             `koanf:"max_iterations"`
	Constants     model.Constants `koanf:"constants"`
}

// TestConfig sets up the multiple contrast test.
type TestConfig struct {
	Alpha         float64            `koanf:"alpha"`
	Alternative   mct.Alternative    `koanf:"alternative"`
	CriticalValue bool               `koanf:"critical_value"`
	Direction     contrast.Direction `koanf:"direction"`
}

// MCPModConfig bounds the concurrency of MCP-Mod, GOMAXPROCS if zero.
type MCPModConfig struct {
	Workers int `koanf:"workers"`
}

// Default returns the embedded defaults.
func Default() (*Config, error) {
	return load(nil, nil)
}

// Load reads the defaults, the YAML file at path if path is not empty, and
// the environment.
func Load(path string) (*Config, error) {
	var file []byte
	if path != "" {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if info.Size() > maxConfigFileSize {
			return nil, fmt.Errorf("config file %s is larger than %d bytes", path, maxConfigFileSize)
		}
		if file, err = os.ReadFile(path); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return load(file, env.Provider(EnvPrefix, ".", envKey))
}

func load(file []byte, environ koanf.Provider) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(defaults), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}
	if file != nil {
		if err := k.Load(rawbytes.Provider(file), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}
	if environ != nil {
		if err := k.Load(environ, nil); err != nil {
			return nil, fmt.Errorf("failed to load environment variables: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// envKey maps DOSEFIND_FIT__GRID_SIZE_1D to fit.grid_size_1d.
func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// Validate checks all sections.
func (c *Config) Validate() error {
	if err := c.FitOptions(nil).Validate(); err != nil {
		return err
	}
	if err := c.MVT.Validate(); err != nil {
		return err
	}
	if !(c.Test.Alpha > 0 && c.Test.Alpha < 1) {
		return fmt.Errorf("test alpha must be in (0, 1), got %g", c.Test.Alpha)
	}
	if c.MCPMod.Workers < 0 {
		return fmt.Errorf("mcpmod workers must be >= 0, got %d", c.MCPMod.Workers)
	}
	return c.Log.Validate()
}

// FitOptions returns the options of the fitting engine.
func (c *Config) FitOptions(logger *zap.Logger) fit.Options {
	return fit.Options{
		GridSize1D:    c.Fit.GridSize1D,
		GridSize2D:    c.Fit.GridSize2D,
		Tolerance:     c.Fit.Tolerance,
		MaxIterations: c.Fit.MaxIterations,
		Logger:        logger,
	}
}

// ContrastOptions returns the options of the contrast builder.
func (c *Config) ContrastOptions() contrast.Options {
	return contrast.Options{Constants: c.Fit.Constants, Direction: c.Test.Direction}
}

// TestOptions returns the options of the multiple contrast test with a
// GenzBretz distribution.
func (c *Config) TestOptions(logger *zap.Logger) (mct.Options, error) {
	dist, err := mvt.NewGenzBretz(c.MVT, logger)
	if err != nil {
		return mct.Options{}, err
	}
	return mct.Options{
		Alternative:   c.Test.Alternative,
		Alpha:         c.Test.Alpha,
		CriticalValue: c.Test.CriticalValue,
		Distribution:  dist,
		Logger:        logger,
	}, nil
}

// MCPModOptions returns the options of dosefinding.MCPMod.
func (c *Config) MCPModOptions(logger *zap.Logger) (dosefinding.Options, error) {
	test, err := c.TestOptions(logger)
	if err != nil {
		return dosefinding.Options{}, err
	}
	return dosefinding.Options{
		Fit:      c.FitOptions(logger),
		Test:     test,
		Contrast: c.ContrastOptions(),
		Workers:  c.MCPMod.Workers,
		Logger:   logger,
	}, nil
}
