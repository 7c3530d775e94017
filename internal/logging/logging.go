// Package logging builds the zap logger of the command line tool.
package logging

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config of the logger.
type Config struct {
	Level  zapcore.Level `koanf:"level" yaml:"level"`
	Format string        `koanf:"format" yaml:"format"`
}

// DefaultConfig logs warnings and errors as console text.
func DefaultConfig() Config {
	return Config{Level: zapcore.WarnLevel, Format: "console"}
}

// Validate checks the format.
func (c Config) Validate() error {
	if c.Format != "json" && c.Format != "console" {
		return fmt.Errorf("log format must be 'json' or 'console', got %q", c.Format)
	}
	return nil
}

// New returns a logger writing to w, stderr if w is nil.
func New(cfg Config, w io.Writer) (*zap.Logger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if w == nil {
		w = os.Stderr
	}
	return zap.New(zapcore.NewCore(newEncoder(cfg.Format), zapcore.AddSync(w), cfg.Level)), nil
}

func newEncoder(format string) zapcore.Encoder {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	if format == "console" {
		encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		return zapcore.NewConsoleEncoder(encoderCfg)
	}
	return zapcore.NewJSONEncoder(encoderCfg)
}
