// Package logger builds the framework's zap loggers: JSON output teed to
// stdout and a rotated file under log/, with warning/error counters fed
// into the metrics sink.
package logger

import (
	"os"
	"path/filepath"

	"github.com/jsonrpcsuite/jrs/pkg/metrics"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	warningsCounter = "log_warnings"
	errorsCounter   = "log_errors"
)

func ensureLogDir() string {
	dir := "log"
	_ = os.MkdirAll(dir, 0o755)
	return dir
}

// New builds a logger writing JSON to stdout and to a rotated file named
// n under log/. A non-nil sink gets log_warnings / log_errors counter
// increments for every entry at the matching level.
func New(n string, sink metrics.Sink) *zap.Logger {
	dir := ensureLogDir()

	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder

	console := zapcore.Lock(os.Stdout)
	w := zapcore.AddSync(&lumberjack.Logger{
		Filename:   filepath.Join(dir, n),
		MaxSize:    50, // MB
		MaxBackups: 3,
		MaxAge:     7, // days
	})

	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewJSONEncoder(cfg), w, zap.InfoLevel),
		zapcore.NewCore(zapcore.NewJSONEncoder(cfg), console, zap.InfoLevel),
	)

	opts := []zap.Option{}
	if sink != nil {
		opts = append(opts, zap.Hooks(func(e zapcore.Entry) error {
			switch {
			case e.Level == zapcore.WarnLevel:
				sink.IncCounter(warningsCounter, nil)
			case e.Level >= zapcore.ErrorLevel:
				sink.IncCounter(errorsCounter, nil)
			}
			return nil
		}))
	}
	return zap.New(core, opts...)
}

// NewNop returns a logger that discards everything; used by tests.
func NewNop() *zap.Logger { return zap.NewNop() }
