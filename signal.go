package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// shutdownContext returns a context that cancels on the first SIGINT/SIGTERM
// and force-exits on the second. The first signal lets the engine finish the
// in-flight call and commit its block; the second quits immediately, leaving
// the checkpoint at the last committed block. committed reports that line
// and may be called from the signal goroutine. The returned stop releases
// the handler once the run is over.
func shutdownContext(parent context.Context, logger *slog.Logger, committed func() int64) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	stopped := make(chan struct{})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			var line int64
			if committed != nil {
				line = committed()
			}

			logger.Info("received signal, stopping after the current call",
				slog.String("signal", sig.String()),
				slog.Int64("checkpoint", line),
			)
			statusf("Stopping after the current call (committed through line %d); interrupt again to quit now.\n", line)
			cancel()
		case <-ctx.Done():
			return
		case <-stopped:
			return
		}

		select {
		case sig := <-sigCh:
			logger.Warn("received second signal, forcing exit",
				slog.String("signal", sig.String()),
			)
			os.Exit(1)
		case <-stopped:
			return
		case <-parent.Done():
			return
		}
	}()

	var once sync.Once

	return ctx, func() {
		once.Do(func() {
			close(stopped)
			cancel()
		})
	}
}
