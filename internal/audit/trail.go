// Package audit records work sessions (runs) and mutation checkpoints (laps)
// against tasks. Open runs live in the store, never in memory, so any process
// sharing the database sees the same session.
package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dualtext/internal/domain"
	"dualtext/internal/events"
	"dualtext/internal/repo"
)

type Trail struct {
	Repo repo.Repo
}

// RecordLap appends a lap for the mutation to the user's open run on the
// task, opening a run first when none is open. A repeated mutation id returns
// the existing lap and false.
func (t Trail) RecordLap(ctx context.Context, q repo.Querier, userID, taskID, annotationID, mutationID string, at time.Time) (domain.Lap, bool, error) {
	if userID == "" || taskID == "" || annotationID == "" || mutationID == "" {
		return domain.Lap{}, false, fmt.Errorf("record lap: user, task, annotation and mutation ids are required")
	}
	run, err := t.ensureOpenRun(ctx, q, userID, taskID, at)
	if err != nil {
		return domain.Lap{}, false, err
	}
	lap := domain.Lap{
		ID:           domain.NewID(),
		RunID:        run.ID,
		AnnotationID: annotationID,
		MutationID:   mutationID,
		CreatedAt:    domain.FormatTime(at),
	}
	inserted, err := t.Repo.InsertLap(ctx, q, lap)
	if err != nil {
		return domain.Lap{}, false, fmt.Errorf("insert lap: %w", err)
	}
	if !inserted {
		existing, err := t.Repo.GetLapByMutation(ctx, q, run.ID, mutationID)
		return existing, false, err
	}
	return lap, true, nil
}

func (t Trail) ensureOpenRun(ctx context.Context, q repo.Querier, userID, taskID string, at time.Time) (domain.Run, error) {
	run, err := t.Repo.OpenRun(ctx, q, userID, taskID)
	if err == nil {
		return run, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.Run{}, err
	}
	candidate := domain.Run{ID: domain.NewID(), UserID: userID, TaskID: taskID, StartAt: domain.FormatTime(at)}
	if _, err := t.Repo.InsertRunIfNoneOpen(ctx, q, candidate); err != nil {
		return domain.Run{}, fmt.Errorf("open run: %w", err)
	}
	// Another writer may have opened it first; either way exactly one is open now.
	return t.Repo.OpenRun(ctx, q, userID, taskID)
}

// CloseOpenRuns ends the open runs on a task. An empty userID closes all of them.
func (t Trail) CloseOpenRuns(ctx context.Context, q repo.Querier, taskID, userID string, at time.Time) (int64, error) {
	return t.Repo.CloseRuns(ctx, q, taskID, userID, domain.FormatTime(at))
}

// Register subscribes the trail to annotation mutations.
func (t Trail) Register(d *events.Dispatcher) {
	events.On(d, "audit.record_lap", func(ctx context.Context, evt events.AnnotationChanged) error {
		if evt.Tx == nil {
			return fmt.Errorf("annotation change %s delivered without a transaction", evt.MutationID)
		}
		at := evt.At
		if at.IsZero() {
			at = time.Now()
		}
		_, _, err := t.RecordLap(ctx, evt.Tx, evt.ActorID, evt.TaskID, evt.AnnotationID, evt.MutationID, at)
		return err
	})
}
