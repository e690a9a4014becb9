package runtime

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/script-core/callback"
	"github.com/wippyai/script-core/engine"
	"github.com/wippyai/script-core/execctx"
	"github.com/wippyai/script-core/interp"
	"github.com/wippyai/script-core/native"
)

var (
	logger     *zap.Logger
	loggerOnce sync.Once
)

// Logger returns the runtime logger.
// It uses a no-op logger by default.
func Logger() *zap.Logger {
	loggerOnce.Do(func() {
		if logger == nil {
			logger = zap.NewNop()
		}
	})
	return logger
}

func parseLevel(level string) (zapcore.Level, error) {
	if level == "" {
		return zapcore.InfoLevel, nil
	}
	return zapcore.ParseLevel(level)
}

// NewLogger builds a logger for cfg.
func NewLogger(cfg LogConfig) (*zap.Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// SetLogger installs l in every package of the execution core.
func SetLogger(l *zap.Logger) {
	logger = l
	engine.SetLogger(l.Named("engine"))
	native.SetLogger(l.Named("native"))
	callback.SetLogger(l.Named("callback"))
	execctx.SetLogger(l.Named("execctx"))
	interp.SetLogger(l.Named("interp"))
}
