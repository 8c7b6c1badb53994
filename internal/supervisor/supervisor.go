// Package supervisor drives the worker's concurrent background loops and
// fails the whole process the moment any one of them stops, for any reason.
// It is the Go idiom for the Rust tokio::select!-over-handles loop in the
// original worker: golang.org/x/sync/errgroup gives the same fail-fast fan
// out with far less bookkeeping.
package supervisor

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/koshedutech/oracle-worker/internal/oraclerr"
)

// Task is one supervised background loop. It must run until ctx is
// canceled; any other return (nil or non-nil) is treated as a failure.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Run starts every task concurrently and blocks until the first one exits.
// That exit cancels ctx for the rest; Run returns the first error observed,
// wrapping a clean (nil-error) exit as oraclerr.ErrSubsystemExited unless it
// happened because ctx was already canceled (i.e. a deliberate shutdown).
func Run(ctx context.Context, logger zerolog.Logger, tasks ...Task) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, task := range tasks {
		task := task
		g.Go(func() error {
			err := task.Run(gctx)
			if err != nil {
				logger.Error().Err(err).Str("task", task.Name).Msg("supervisor: task exited with error")
				return fmt.Errorf("%s: %w", task.Name, err)
			}
			if gctx.Err() != nil {
				logger.Info().Str("task", task.Name).Msg("supervisor: task shut down cleanly")
				return nil
			}
			logger.Error().Str("task", task.Name).Msg("supervisor: task exited without shutdown being requested")
			return fmt.Errorf("%s: %w", task.Name, oraclerr.ErrSubsystemExited)
		})
	}

	return g.Wait()
}
