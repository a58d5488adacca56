package logger

import (
	"sync"

	"go.uber.org/zap"
)

var (
	once     sync.Once
	instance *zap.Logger
)

// Init builds the process-wide logger. Idempotent: only the first call has
// effect. Call it early in main.go, before anything logs.
func Init(env string) {
	once.Do(func() {
		var err error
		if env == "production" {
			instance, err = zap.NewProduction()
		} else {
			instance, err = zap.NewDevelopment()
		}
		if err != nil {
			instance = zap.NewNop()
		}
	})
}

// L returns the shared logger, initializing a development logger if Init was
// never called (tests, tools).
func L() *zap.Logger {
	if instance == nil {
		Init("development")
	}
	return instance
}

// Named returns a logger tagged with a component name.
func Named(name string) *zap.Logger {
	return L().Named(name)
}

// Sync flushes buffered entries. Defer it in main.go.
func Sync() error {
	if instance != nil {
		return instance.Sync()
	}
	return nil
}
