package repo

import (
	"context"
	"database/sql"

	"dualtext/internal/domain"
)

func scanRun(s scanner) (domain.Run, error) {
	var run domain.Run
	var endAt sql.NullString
	err := s.Scan(&run.ID, &run.UserID, &run.TaskID, &run.StartAt, &endAt)
	if err == sql.ErrNoRows {
		return run, ErrNotFound
	}
	run.EndAt = stringPtr(endAt)
	return run, err
}

func (r Repo) OpenRun(ctx context.Context, q Querier, userID, taskID string) (domain.Run, error) {
	return scanRun(q.QueryRowContext(ctx, `SELECT id,user_id,task_id,start_at,end_at FROM runs WHERE user_id=? AND task_id=? AND end_at IS NULL`, userID, taskID))
}

// InsertRunIfNoneOpen is a no-op when (user, task) already has an open run.
func (r Repo) InsertRunIfNoneOpen(ctx context.Context, q Querier, run domain.Run) (bool, error) {
	res, err := q.ExecContext(ctx, `INSERT OR IGNORE INTO runs(id,user_id,task_id,start_at) VALUES (?,?,?,?)`, run.ID, run.UserID, run.TaskID, run.StartAt)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// CloseRuns ends open runs of a task; an empty userID closes every user's run.
func (r Repo) CloseRuns(ctx context.Context, q Querier, taskID, userID, endAt string) (int64, error) {
	query := `UPDATE runs SET end_at=? WHERE task_id=? AND end_at IS NULL`
	args := []any{endAt, taskID}
	if userID != "" {
		query += ` AND user_id=?`
		args = append(args, userID)
	}
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r Repo) ListRuns(ctx context.Context, q Querier, taskID string) ([]domain.Run, error) {
	rows, err := q.QueryContext(ctx, `SELECT id,user_id,task_id,start_at,end_at FROM runs WHERE task_id=? ORDER BY start_at ASC, id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, run)
	}
	return res, rows.Err()
}

// InsertLap reports false when the mutation was already recorded for the run.
func (r Repo) InsertLap(ctx context.Context, q Querier, lap domain.Lap) (bool, error) {
	res, err := q.ExecContext(ctx, `INSERT OR IGNORE INTO laps(id,run_id,annotation_id,mutation_id,created_at) VALUES (?,?,?,?,?)`,
		lap.ID, lap.RunID, lap.AnnotationID, lap.MutationID, lap.CreatedAt)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r Repo) GetLapByMutation(ctx context.Context, q Querier, runID, mutationID string) (domain.Lap, error) {
	var lap domain.Lap
	err := q.QueryRowContext(ctx, `SELECT id,run_id,annotation_id,mutation_id,created_at FROM laps WHERE run_id=? AND mutation_id=?`, runID, mutationID).
		Scan(&lap.ID, &lap.RunID, &lap.AnnotationID, &lap.MutationID, &lap.CreatedAt)
	if err == sql.ErrNoRows {
		return lap, ErrNotFound
	}
	return lap, err
}

func (r Repo) ListLaps(ctx context.Context, q Querier, runID string) ([]domain.Lap, error) {
	rows, err := q.QueryContext(ctx, `SELECT id,run_id,annotation_id,mutation_id,created_at FROM laps WHERE run_id=? ORDER BY created_at ASC, id ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Lap
	for rows.Next() {
		var lap domain.Lap
		if err := rows.Scan(&lap.ID, &lap.RunID, &lap.AnnotationID, &lap.MutationID, &lap.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, lap)
	}
	return res, rows.Err()
}
