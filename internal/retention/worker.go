package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// InterruptedMessage is recorded for attempts that never finished.
const InterruptedMessage = "interrupted before the append completed"

// SubmissionStore is the part of the submission log the worker maintains.
type SubmissionStore interface {
	FailStaleSubmissions(before time.Time, errMsg string) (int64, error)
	PruneSubmissions(before time.Time) (int64, error)
}

// Result counts what one pass changed.
type Result struct {
	Interrupted int64
	Pruned      int64
}

// Worker keeps the submission log tidy: attempts left pending by a crash
// are closed as failed, and finished attempts older than the retention
// period are deleted.
type Worker struct {
	store      SubmissionStore
	retention  time.Duration
	staleAfter time.Duration
	poll       time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

// NewWorker creates a Worker. A retention of zero keeps entries forever.
// If pollInterval is <= 0, it defaults to one hour.
func NewWorker(store SubmissionStore, retention, staleAfter, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = time.Hour
	}
	return &Worker{
		store:      store,
		retention:  retention,
		staleAfter: staleAfter,
		poll:       pollInterval,
		now:        time.Now,
		logger:     slog.Default(),
	}
}

// Run performs a pass immediately and then every poll interval until ctx
// is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		res, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("retention pass failed", "error", err)
		} else if res.Interrupted > 0 || res.Pruned > 0 {
			w.logger.Info("submission log maintained", "interrupted", res.Interrupted, "pruned", res.Pruned)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce performs a single pass.
func (w *Worker) RunOnce(ctx context.Context) (Result, error) {
	var res Result
	if err := ctx.Err(); err != nil {
		return res, err
	}
	now := w.now()

	if w.staleAfter > 0 {
		n, err := w.store.FailStaleSubmissions(now.Add(-w.staleAfter), InterruptedMessage)
		if err != nil {
			return res, fmt.Errorf("closing stale submissions: %w", err)
		}
		res.Interrupted = n
	}

	if w.retention > 0 {
		n, err := w.store.PruneSubmissions(now.Add(-w.retention))
		if err != nil {
			return res, fmt.Errorf("pruning submissions: %w", err)
		}
		res.Pruned = n
	}

	return res, nil
}
