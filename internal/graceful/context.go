// Package graceful cancels a context on termination signals.
package graceful

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
)

// Context returns a context canceled at the first SIGINT or SIGTERM, so that
// in flight units can be drained before exiting. A second signal is left to
// the default handler once cancel has been called.
func Context(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case <-sigChan:
			log.Println("Received termination signal, starting graceful shutdown...")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
