package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"dualtext/internal/domain"
)

const taskColumns = `id,project_id,name,action,annotator_id,reviewer_id,is_annotated,is_reviewed,copied_from,finished_at,created_at,updated_at`

func scanTask(s scanner) (domain.Task, error) {
	var t domain.Task
	var annotator, reviewer, copiedFrom, finishedAt sql.NullString
	err := s.Scan(&t.ID, &t.ProjectID, &t.Name, &t.Action, &annotator, &reviewer, &t.IsAnnotated, &t.IsReviewed,
		&copiedFrom, &finishedAt, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.AnnotatorID = stringPtr(annotator)
	t.ReviewerID = stringPtr(reviewer)
	t.CopiedFrom = stringPtr(copiedFrom)
	t.FinishedAt = stringPtr(finishedAt)
	return t, nil
}

func (r Repo) InsertTask(ctx context.Context, q Querier, t domain.Task) error {
	_, err := q.ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.ProjectID, t.Name, string(t.Action), nullableStringPtr(t.AnnotatorID), nullableStringPtr(t.ReviewerID),
		t.IsAnnotated, t.IsReviewed, nullableStringPtr(t.CopiedFrom), nullableStringPtr(t.FinishedAt), t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) UpdateTask(ctx context.Context, q Querier, t domain.Task) error {
	res, err := q.ExecContext(ctx, `UPDATE tasks SET name=?, annotator_id=?, reviewer_id=?, is_annotated=?, is_reviewed=?, finished_at=?, updated_at=? WHERE id=?`,
		t.Name, nullableStringPtr(t.AnnotatorID), nullableStringPtr(t.ReviewerID), t.IsAnnotated, t.IsReviewed,
		nullableStringPtr(t.FinishedAt), t.UpdatedAt, t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetTask(ctx context.Context, q Querier, id string) (domain.Task, error) {
	return scanTask(q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

// ReviewOf returns the review spawned from sourceID.
func (r Repo) ReviewOf(ctx context.Context, q Querier, sourceID string) (domain.Task, error) {
	return scanTask(q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE copied_from=? AND action='REVIEW'`, sourceID))
}

type TaskFilters struct {
	ProjectID string
	Action    domain.Action
	// UserID matches tasks where the user is annotator or reviewer.
	UserID   string
	Finished *bool
	Limit    int
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Action != "" {
		clauses = append(clauses, "action=?")
		args = append(args, string(f.Action))
	}
	if f.UserID != "" {
		clauses = append(clauses, "(annotator_id=? OR reviewer_id=?)")
		args = append(args, f.UserID, f.UserID)
	}
	if f.Finished != nil {
		clauses = append(clauses, "(CASE WHEN action='REVIEW' THEN is_reviewed ELSE is_annotated END)=?")
		args = append(args, *f.Finished)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + taskColumns + ` FROM tasks ` + where + ` ORDER BY created_at ASC, id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

type claimColumns struct {
	assignee string
	finished string
}

func columnsFor(kind domain.ClaimKind) (claimColumns, error) {
	switch kind {
	case domain.ClaimAnnotation:
		return claimColumns{assignee: "annotator_id", finished: "is_annotated"}, nil
	case domain.ClaimReview:
		return claimColumns{assignee: "reviewer_id", finished: "is_reviewed"}, nil
	}
	return claimColumns{}, fmt.Errorf("invalid claim kind %q", kind)
}

// ClaimNextTask assigns the oldest eligible task of the kind to userID in a
// single conditional UPDATE and returns its id. ErrNotFound means nothing was
// eligible.
func (r Repo) ClaimNextTask(ctx context.Context, q Querier, projectID string, kind domain.ClaimKind, userID, now string) (string, error) {
	cols, err := columnsFor(kind)
	if err != nil {
		return "", err
	}
	query := fmt.Sprintf(`UPDATE tasks SET %[1]s=?, updated_at=?
WHERE id = (
	SELECT id FROM tasks
	WHERE project_id=? AND action=? AND %[2]s=0 AND %[1]s IS NULL
	ORDER BY created_at ASC, id ASC
	LIMIT 1
) AND %[1]s IS NULL
RETURNING id`, cols.assignee, cols.finished)
	var id string
	err = q.QueryRowContext(ctx, query, userID, now, projectID, string(kind.Action())).Scan(&id)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return id, err
}

// CountClaimable returns unclaimed annotation and review task counts.
func (r Repo) CountClaimable(ctx context.Context, q Querier, projectID string) (domain.ClaimableCounts, error) {
	var c domain.ClaimableCounts
	err := q.QueryRowContext(ctx, `SELECT
	COALESCE(SUM(CASE WHEN action='ANNOTATION' AND is_annotated=0 AND annotator_id IS NULL THEN 1 ELSE 0 END),0),
	COALESCE(SUM(CASE WHEN action='REVIEW' AND is_reviewed=0 AND reviewer_id IS NULL THEN 1 ELSE 0 END),0)
FROM tasks WHERE project_id=?`, projectID).Scan(&c.OpenAnnotations, &c.OpenReviews)
	return c, err
}
