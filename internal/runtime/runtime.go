// Package runtime wires the main capture broker and the background
// Observer broker to run concurrently for the lifetime of the process,
// mirroring how the teacher's probe and server commands fan independent
// long-running loops out under one errgroup so a fatal error in either one
// tears down the whole process instead of leaking a stuck goroutine.
package runtime

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/orbagent/core/internal/broker"
	"github.com/orbagent/core/internal/observer"
)

// Run starts main and obs concurrently and blocks until both stop, either
// because ctx was cancelled or because one of them returned an error. A
// non-nil return wraps whichever side failed first.
func Run(ctx context.Context, main *broker.Broker, obs *observer.Observer) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := main.Run(ctx); err != nil && ctx.Err() == nil {
			return fmt.Errorf("runtime: main broker: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := obs.Run(ctx); err != nil && ctx.Err() == nil {
			return fmt.Errorf("runtime: observer: %w", err)
		}
		return nil
	})

	return g.Wait()
}
