// Package observability provides logging and metrics for the match hub.
package observability

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cory-johannsen/matchhub/internal/config"
)

// Logging is the process logger and the level it filters at. Level may be
// changed while the hub runs and serves GET and PUT over HTTP.
type Logging struct {
	Logger *zap.Logger
	Level  zap.AtomicLevel
}

// NewLogging creates a structured logger writing to stderr. The supplied
// fields are attached to every entry (typically the node name).
//
// Precondition: cfg.Level must be one of "debug", "info", "warn", "error".
// Precondition: cfg.Format must be "json" or "console".
// Postcondition: Returns a configured Logging or a non-nil error.
func NewLogging(cfg config.LoggingConfig, fields ...zap.Field) (Logging, error) {
	return newLogging(cfg, zapcore.Lock(os.Stderr), fields...)
}

func newLogging(cfg config.LoggingConfig, out zapcore.WriteSyncer, fields ...zap.Field) (Logging, error) {
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return Logging{}, fmt.Errorf("parsing log level %q: %w", cfg.Level, err)
	}

	var (
		enc  zapcore.Encoder
		opts = []zap.Option{zap.AddCaller(), zap.Fields(fields...)}
	)
	switch cfg.Format {
	case "json":
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewJSONEncoder(encCfg)
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	case "console":
		encCfg := zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
		opts = append(opts, zap.Development(), zap.AddStacktrace(zapcore.WarnLevel))
	default:
		return Logging{}, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	core := zapcore.NewCore(enc, out, level)
	// Per-tick debug lines of every running match would be sampled away
	// unpredictably, so a hub started at debug never samples.
	if cfg.Format == "json" && level.Level() != zapcore.DebugLevel {
		core = zapcore.NewSamplerWithOptions(core, time.Second, 100, 100)
	}
	return Logging{Logger: zap.New(core, opts...), Level: level}, nil
}
