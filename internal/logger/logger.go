// Package logger owns the process-wide zap logger. Components take a named
// child from it instead of sharing one flat logger.
package logger

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu    sync.RWMutex
	root  = zap.NewNop()
	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// Init builds the root logger for env. Production logs JSON at info;
// anything else logs colored console output at debug. A non-empty lvl
// overrides the env default.
func Init(env, lvl string) error {
	cfg := zap.NewDevelopmentConfig()
	def := zapcore.DebugLevel
	if env == "production" {
		cfg = zap.NewProductionConfig()
		def = zapcore.InfoLevel
	} else {
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if lvl != "" {
		parsed, err := zapcore.ParseLevel(lvl)
		if err != nil {
			return fmt.Errorf("log level: %w", err)
		}
		def = parsed
	}
	level.SetLevel(def)
	cfg.Level = level

	l, err := cfg.Build(zap.Fields(zap.String("env", env)))
	if err != nil {
		return err
	}

	mu.Lock()
	root = l.Named("topicgraph")
	mu.Unlock()
	return nil
}

// Get returns the root logger. Before Init it discards everything.
func Get() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root
}

// Named returns a child of the root logger for one component.
func Named(component string) *zap.Logger {
	return Get().Named(component)
}

// SetLevel changes the level of every logger handed out so far.
func SetLevel(l zapcore.Level) { level.SetLevel(l) }

// Sync flushes buffered entries.
func Sync() {
	_ = Get().Sync()
}
