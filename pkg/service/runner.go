package service

import (
	"context"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Runner is the top-level harness of a process: it prints the effective
// environment configuration, runs an optional bootstrap step (the slot a
// database adapter plugs into), starts the nested services, and shuts
// everything down on SIGINT/SIGTERM.
type Runner struct {
	*Harness

	// Bootstrap runs before nested startup; a failure aborts the run.
	Bootstrap func(ctx context.Context) error

	// StopTimeout bounds graceful teardown. Defaults to 30s.
	StopTimeout time.Duration

	// EnvPrefix selects which environment variables are echoed at
	// startup. Defaults to "JRS_".
	EnvPrefix string
}

// NewRunner builds a top-level runner around a fresh harness.
func NewRunner(name string, log *zap.Logger) *Runner {
	return &Runner{
		Harness:     New(name, log),
		StopTimeout: 30 * time.Second,
		EnvPrefix:   "JRS_",
	}
}

// Run executes the full lifecycle and blocks until a termination signal
// or a startup failure.
func (r *Runner) Run(ctx context.Context) error {
	r.printEnv()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if r.Bootstrap != nil {
		if err := r.Bootstrap(ctx); err != nil {
			return err
		}
	}
	if err := r.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	stop()

	stopCtx, cancel := context.WithTimeout(context.Background(), r.StopTimeout)
	defer cancel()
	return r.Stop(stopCtx)
}

// Main runs and exits the process with code 1 on failure.
func (r *Runner) Main() {
	if err := r.Run(context.Background()); err != nil {
		r.log.Error("run failed", zap.String("service", r.name), zap.Error(err))
		os.Exit(1)
	}
}

func (r *Runner) printEnv() {
	var vars []string
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, r.EnvPrefix) {
			vars = append(vars, kv)
		}
	}
	sort.Strings(vars)
	for _, kv := range vars {
		k, v, _ := strings.Cut(kv, "=")
		r.log.Info("env", zap.String("key", k), zap.String("value", v))
	}
}
