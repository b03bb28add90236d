package utils

import (
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logger atomic.Pointer[zap.Logger]
	nop    = zap.NewNop()

	// BLASBackend names the BLAS implementation behind blas64. Package init
	// runs before any logger exists, so the first real logger reports it.
	BLASBackend = "gonum"
	announced   atomic.Bool
)

// Logger returns the process wide logger. Library code logs through it; it is
// a no-op until the command line installs a real one.
func Logger() *zap.Logger {
	if l := logger.Load(); l != nil {
		return l
	}
	return nop
}

func SetLogger(l *zap.Logger) {
	if l == nil {
		l = nop
	}
	logger.Store(l)
	if l != nop && BLASBackend != "gonum" && announced.CompareAndSwap(false, true) {
		l.Info("using " + BLASBackend + " to accelerate BLAS")
	}
}

// NewLogger builds a production logger at the named level ("debug", "info",
// "warn", "error").
func NewLogger(level string) (l *zap.Logger, err error) {
	var (
		lvl    zapcore.Level
		config = zap.NewProductionConfig()
	)
	if err = lvl.UnmarshalText([]byte(level)); err != nil {
		return
	}
	config.Level = zap.NewAtomicLevelAt(lvl)
	config.Encoding = "console"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return config.Build()
}
