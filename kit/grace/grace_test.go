//go:build unix

package grace

import (
	"context"
	"errors"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/vormadev/outhash/kit/colorlog"
)

func TestRunReturnsWorkError(t *testing.T) {
	want := errors.New("boom")
	err := Run(context.Background(), Options{Logger: colorlog.Discard()}, func(context.Context) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("got %v, want %v", err, want)
	}
}

func TestRunStopsOnSignal(t *testing.T) {
	started := make(chan struct{})
	go func() {
		<-started
		_ = syscall.Kill(syscall.Getpid(), syscall.SIGUSR1)
	}()

	err := Run(context.Background(), Options{
		Signals: []os.Signal{syscall.SIGUSR1},
		Logger:  colorlog.Discard(),
	}, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRunTimesOut(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	cancel()

	block := make(chan struct{})
	defer close(block)
	err := Run(parent, Options{ShutdownTimeout: 20 * time.Millisecond, Logger: colorlog.Discard()}, func(context.Context) error {
		<-block
		return nil
	})
	if !errors.Is(err, ErrShutdownTimeout) {
		t.Fatalf("got %v, want ErrShutdownTimeout", err)
	}
}
