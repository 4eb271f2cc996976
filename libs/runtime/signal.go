package runtime

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// SignalContext is cancelled on the first SIGINT or SIGTERM. The signal is
// logged and recorded as the context cause.
func SignalContext(logger *slog.Logger) (context.Context, context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	ctx, cancel := watchSignals(context.Background(), sigs, logger)
	return ctx, func() {
		signal.Stop(sigs)
		cancel()
	}
}

func watchSignals(parent context.Context, sigs <-chan os.Signal, logger *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(parent)
	go func() {
		select {
		case sig := <-sigs:
			if logger != nil {
				logger.Info("shutdown requested", "signal", sig.String())
			}
			cancel(shutdownCause{sig})
		case <-ctx.Done():
		}
	}()
	return ctx, func() { cancel(context.Canceled) }
}

type shutdownCause struct{ sig os.Signal }

func (c shutdownCause) Error() string { return "received " + c.sig.String() }
