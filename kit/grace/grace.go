// Package grace runs long-lived work until the process is asked to stop.
package grace

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vormadev/outhash/kit/colorlog"
)

const DefaultShutdownTimeout = 10 * time.Second

var ErrShutdownTimeout = errors.New("graceful shutdown timed out")

func defaultSignals() []os.Signal {
	if runtime.GOOS == "windows" {
		return []os.Signal{os.Interrupt}
	}
	return []os.Signal{syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT}
}

type Options struct {
	ShutdownTimeout time.Duration // Default: 10 seconds
	Signals         []os.Signal   // Default: SIGHUP, SIGINT, SIGTERM, SIGQUIT
	Logger          *slog.Logger
}

// Run calls fn with a context that is canceled on the first signal, or when
// parent is done. fn should return promptly once its context is canceled;
// if it has not returned ShutdownTimeout after a signal, Run gives up and
// returns ErrShutdownTimeout.
func Run(parent context.Context, opts Options, fn func(context.Context) error) error {
	log := colorlog.Or(opts.Logger)
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}
	if len(opts.Signals) == 0 {
		opts.Signals = defaultSignals()
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sig := make(chan os.Signal, 2)
	signal.Notify(sig, opts.Signals...)
	defer signal.Stop(sig)

	done := make(chan error, 1)
	go func() { done <- fn(ctx) }()

	select {
	case err := <-done:
		return err
	case s := <-sig:
		log.Info("signal received, shutting down", "signal", s)
	case <-parent.Done():
	}
	cancel()

	timer := time.NewTimer(opts.ShutdownTimeout)
	defer timer.Stop()
	select {
	case err := <-done:
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	case <-timer.C:
		log.Warn("shutdown timed out", "timeout", opts.ShutdownTimeout)
		return ErrShutdownTimeout
	}
}
