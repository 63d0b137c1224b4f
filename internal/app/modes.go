package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// FullMode runs the scanner and the liquidation pipeline together: unsafe
// vaults flow from the scanner's intake queue into the pipeline until the
// context is cancelled.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode",
		slog.String("keeper", deps.Chain.KeeperAddress().Hex()))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return deps.Scanner.Run(ctx) })
	g.Go(func() error { return deps.Pipeline.Run(ctx) })

	err := g.Wait()
	if ctx.Err() != nil {
		// In-flight transactions are not cancelled mid-flight; their outcome
		// after this point must be reconciled manually.
		a.logger.Info("keeper stopped, reconcile any in-flight transactions manually")
		return nil
	}
	return err
}

// MonitorMode runs the scanner alone: unsafe vaults are reported through the
// alert channel but never acted on. The intake queue is drained so repeated
// passes do not grow it without bound.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode, no transactions will be submitted")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return deps.Scanner.Run(ctx) })
	g.Go(func() error {
		drain := time.NewTicker(10 * time.Second)
		defer drain.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-drain.C:
				for {
					if _, ok := deps.Intake.TryPop(); !ok {
						break
					}
				}
			}
		}
	})

	err := g.Wait()
	if ctx.Err() != nil {
		a.logger.Info("monitor stopped")
		return nil
	}
	return err
}
