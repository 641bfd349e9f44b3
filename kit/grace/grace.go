package grace

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/vormadev/srcconcat/kit/colorlog"
)

func defaultSignals() []os.Signal {
	if runtime.GOOS == "windows" {
		return []os.Signal{os.Interrupt}
	}
	return []os.Signal{syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT}
}

type OrchestrateOptions struct {
	ShutdownTimeout time.Duration   // Default: 10 seconds
	Signals         []os.Signal     // Default: SIGHUP, SIGINT, SIGTERM, SIGQUIT
	Logger          *slog.Logger    // Default: colorlog labelled "grace"
	Parent          context.Context // Default: context.Background()

	// Run holds the long-running work (e.g. a watch loop). It must return
	// once ctx is done. Do not call os.Exit or log.Fatal here.
	Run func(ctx context.Context) error

	// Shutdown runs after Run has returned, bounded by ShutdownTimeout.
	Shutdown func(ctx context.Context) error
}

// Orchestrate runs options.Run until it returns or a shutdown signal
// arrives, in which case Run's context is cancelled and Orchestrate waits
// for it to return. The returned error is Run's error, unless it is
// context.Canceled caused by the signal, joined with any Shutdown error.
func Orchestrate(options OrchestrateOptions) error {
	if options.Logger == nil {
		options.Logger = colorlog.New("grace")
	}
	if options.ShutdownTimeout == 0 {
		options.ShutdownTimeout = 10 * time.Second
	}
	if len(options.Signals) == 0 {
		options.Signals = defaultSignals()
	}
	if options.Parent == nil {
		options.Parent = context.Background()
	}

	ctx, cancel := context.WithCancel(options.Parent)
	defer cancel()

	sig := make(chan os.Signal, 2)
	signal.Notify(sig, options.Signals...)
	defer signal.Stop(sig)

	go func() {
		select {
		case s := <-sig:
			options.Logger.Info("[shutdown] Signal received, stopping", "signal", s)
			cancel()
		case <-ctx.Done():
		}
	}()

	var runErr error
	if options.Run != nil {
		runErr = options.Run(ctx)
		if runErr != nil && errors.Is(runErr, context.Canceled) && ctx.Err() != nil {
			runErr = nil
		}
		if runErr != nil {
			options.Logger.Error("[run] Error", "error", runErr)
		}
	}
	cancel()

	if options.Shutdown == nil {
		return runErr
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), options.ShutdownTimeout)
	defer cancelShutdown()

	shutdownErr := options.Shutdown(shutdownCtx)
	if shutdownErr != nil {
		options.Logger.Error("[shutdown] Cleanup error", "error", shutdownErr)
	}
	if errors.Is(shutdownCtx.Err(), context.DeadlineExceeded) {
		options.Logger.Warn("[shutdown] Cleanup timed out")
	}
	return errors.Join(runErr, shutdownErr)
}
