package monitoring

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log outputs.
const (
	OutputFile    = "file"
	OutputConsole = "console"
	OutputBoth    = "both"
)

// LogConfig selects level, encoding and destination of the process log.
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json or console
	Output string // file, console or both
	// FilePath is rotated by size; the limits below are lumberjack's.
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
	// Version is stamped on every entry when set.
	Version string
}

// WithoutConsole returns a copy that keeps stderr free for interactive
// output such as a progress bar. Without a log file nothing is written.
func (c LogConfig) WithoutConsole() LogConfig {
	switch {
	case c.FilePath != "":
		c.Output = OutputFile
	default:
		c.Output = ""
	}
	return c
}

func (c LogConfig) writers() ([]zapcore.WriteSyncer, error) {
	toFile := c.Output == OutputFile || c.Output == OutputBoth
	toConsole := c.Output == OutputConsole || c.Output == OutputBoth
	if !toFile && !toConsole {
		return nil, fmt.Errorf("invalid log output: %q", c.Output)
	}

	var ws []zapcore.WriteSyncer
	if toFile {
		if c.FilePath == "" {
			return nil, fmt.Errorf("log file path is required for output %q", c.Output)
		}
		if err := os.MkdirAll(filepath.Dir(c.FilePath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		ws = append(ws, zapcore.AddSync(&lumberjack.Logger{
			Filename:   c.FilePath,
			MaxSize:    c.MaxSizeMB,
			MaxBackups: c.MaxBackups,
			MaxAge:     c.MaxAgeDays,
			Compress:   c.Compress,
		}))
	}
	if toConsole {
		ws = append(ws, zapcore.Lock(os.Stderr))
	}
	return ws, nil
}

// NewLogger builds the process logger. An empty Output yields a no-op
// logger so quiet commands need no special casing.
func NewLogger(cfg LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	if cfg.Output == "" {
		return zap.NewNop(), nil
	}
	ws, err := cfg.writers()
	if err != nil {
		return nil, err
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	var encoder zapcore.Encoder
	switch cfg.Format {
	case "console":
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	case "", "json":
		encoder = zapcore.NewJSONEncoder(encCfg)
	default:
		return nil, fmt.Errorf("invalid log format: %q", cfg.Format)
	}

	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(ws...), level)
	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	if cfg.Version != "" {
		logger = logger.With(zap.String("version", cfg.Version))
	}
	return logger, nil
}

// Named returns the logger for a component: named for console output and
// tagged with a component field for JSON queries. A nil logger yields a
// no-op logger.
func Named(logger *zap.Logger, component string) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger.Named(component).With(zap.String("component", component))
}
