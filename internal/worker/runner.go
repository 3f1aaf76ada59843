package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Task is a long running background loop.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Runner is the background execution context: every daemon call and the
// polling loop run inside it, never on the UI goroutine.
type Runner struct {
	logger *slog.Logger
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Start launches tasks in an errgroup. The first task to fail cancels the rest.
func Start(parent context.Context, logger *slog.Logger, tasks ...Task) *Runner {
	ctx, cancel := context.WithCancel(parent)
	g, gctx := errgroup.WithContext(ctx)

	r := &Runner{
		logger: logger,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	for _, task := range tasks {
		g.Go(func() error {
			logger.Debug("background task started", "task", task.Name)
			err := task.Run(gctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("background task failed",
					"task", task.Name,
					"error", err,
				)
				return fmt.Errorf("%s: %w", task.Name, err)
			}
			logger.Debug("background task finished", "task", task.Name)
			return nil
		})
	}

	go func() {
		r.err = g.Wait()
		close(r.done)
	}()

	return r
}

// Done is closed once every task has returned.
func (r *Runner) Done() <-chan struct{} {
	return r.done
}

// Err returns the first task failure. Valid after Done is closed.
func (r *Runner) Err() error {
	<-r.done
	return r.err
}

// Stop cancels all tasks and waits for them or for ctx to expire.
func (r *Runner) Stop(ctx context.Context) error {
	r.logger.Info("stopping background tasks")
	r.cancel()

	select {
	case <-r.done:
		r.logger.Info("background tasks stopped")
		return r.err
	case <-ctx.Done():
		r.logger.Warn("background tasks shutdown timed out")
		return ctx.Err()
	}
}
