package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Task is a long-running loop that returns when ctx is cancelled.
type Task func(ctx context.Context) error

type namedTask struct {
	name string
	run  Task
}

// Orchestrator runs the background loops of a process (price stream,
// position monitor, archiver) under one errgroup.
type Orchestrator struct {
	tasks  []namedTask
	logger *slog.Logger
}

// NewOrchestrator creates an empty Orchestrator.
func NewOrchestrator(logger *slog.Logger) *Orchestrator {
	return &Orchestrator{logger: logger.With(slog.String("component", "orchestrator"))}
}

// Add registers a task. It must be called before Run.
func (o *Orchestrator) Add(name string, run Task) {
	o.tasks = append(o.tasks, namedTask{name: name, run: run})
}

// Len returns the number of registered tasks.
func (o *Orchestrator) Len() int { return len(o.tasks) }

// Run starts every task. A task failing with a non-context error cancels the
// others and is returned; cancellation of ctx is a clean shutdown.
func (o *Orchestrator) Run(ctx context.Context) error {
	names := make([]string, len(o.tasks))
	for i, t := range o.tasks {
		names[i] = t.name
	}
	o.logger.InfoContext(ctx, "orchestrator starting", slog.Any("tasks", names))

	g, gctx := errgroup.WithContext(ctx)
	for _, t := range o.tasks {
		g.Go(func() error {
			err := t.run(gctx)
			if gctx.Err() != nil {
				return nil
			}
			if err == nil {
				o.logger.InfoContext(gctx, "task finished", slog.String("task", t.name))
				return nil
			}
			return fmt.Errorf("%s: %w", t.name, err)
		})
	}

	if err := g.Wait(); err != nil {
		o.logger.Error("orchestrator stopped with error", slog.String("error", err.Error()))
		return err
	}
	o.logger.Info("orchestrator stopped cleanly")
	return nil
}
