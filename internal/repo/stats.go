package repo

import (
	"context"
	"database/sql"
	"fmt"

	"dualtext/internal/domain"
)

// TaskProgress is the slice of a task the statistics need.
type TaskProgress struct {
	Action     domain.Action
	Assignee   string
	Finished   bool
	FinishedAt string
}

// ListTaskProgress returns one row per task of the project, optionally
// narrowed to one action.
func (r Repo) ListTaskProgress(ctx context.Context, q Querier, projectID string, action domain.Action) ([]TaskProgress, error) {
	query := `SELECT action,
	COALESCE(CASE WHEN action='REVIEW' THEN reviewer_id ELSE annotator_id END, ''),
	CASE WHEN action='REVIEW' THEN is_reviewed ELSE is_annotated END,
	COALESCE(finished_at, '')
FROM tasks WHERE project_id=?`
	args := []any{projectID}
	if action != "" {
		query += ` AND action=?`
		args = append(args, string(action))
	}
	rows, err := q.QueryContext(ctx, query+` ORDER BY created_at ASC, id ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []TaskProgress
	for rows.Next() {
		var p TaskProgress
		if err := rows.Scan(&p.Action, &p.Assignee, &p.Finished, &p.FinishedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) CountTasks(ctx context.Context, q Querier, projectID string, action domain.Action) (int, error) {
	query := `SELECT COUNT(*) FROM tasks WHERE project_id=?`
	args := []any{projectID}
	if action != "" {
		query += ` AND action=?`
		args = append(args, string(action))
	}
	var n int
	err := q.QueryRowContext(ctx, query, args...).Scan(&n)
	return n, err
}

// LapBucket counts laps of one user in one time bucket.
type LapBucket struct {
	UserID string `json:"user_id"`
	Bucket string `json:"bucket"`
	Laps   int    `json:"laps"`
}

// CountLapsByBucket groups laps of a project's tasks by user and by the first
// prefixLen characters of the lap timestamp.
func (r Repo) CountLapsByBucket(ctx context.Context, q Querier, projectID, userID string, prefixLen int) ([]LapBucket, error) {
	if prefixLen <= 0 {
		return nil, fmt.Errorf("invalid bucket prefix length %d", prefixLen)
	}
	query := `SELECT runs.user_id, substr(laps.created_at, 1, ?) AS bucket, COUNT(*)
FROM laps
JOIN runs ON runs.id = laps.run_id
JOIN tasks ON tasks.id = runs.task_id
WHERE tasks.project_id=?`
	args := []any{prefixLen, projectID}
	if userID != "" {
		query += ` AND runs.user_id=?`
		args = append(args, userID)
	}
	query += ` GROUP BY runs.user_id, bucket ORDER BY runs.user_id, bucket`
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []LapBucket
	for rows.Next() {
		var b LapBucket
		if err := rows.Scan(&b.UserID, &b.Bucket, &b.Laps); err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}

// ListProjectRuns returns every run on the project's tasks.
func (r Repo) ListProjectRuns(ctx context.Context, q Querier, projectID, userID string) ([]domain.Run, error) {
	query := `SELECT runs.id, runs.user_id, runs.task_id, runs.start_at, runs.end_at
FROM runs JOIN tasks ON tasks.id = runs.task_id
WHERE tasks.project_id=?`
	args := []any{projectID}
	if userID != "" {
		query += ` AND runs.user_id=?`
		args = append(args, userID)
	}
	rows, err := q.QueryContext(ctx, query+` ORDER BY runs.start_at ASC, runs.id ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Run
	for rows.Next() {
		var run domain.Run
		var end sql.NullString
		if err := rows.Scan(&run.ID, &run.UserID, &run.TaskID, &run.StartAt, &end); err != nil {
			return nil, err
		}
		run.EndAt = stringPtr(end)
		res = append(res, run)
	}
	return res, rows.Err()
}
