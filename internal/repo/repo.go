package repo

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	apperrors "dualtext/internal/errors"
	"dualtext/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = apperrors.ErrNotFound

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func (r Repo) InsertProject(ctx context.Context, q Querier, p domain.Project) error {
	_, err := q.ExecContext(ctx, `INSERT INTO projects(id,name,creator_id,use_reviews,created_at,modified_at) VALUES (?,?,?,?,?,?)`,
		p.ID, p.Name, p.CreatorID, p.UseReviews, p.CreatedAt, p.ModifiedAt)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	for _, g := range p.Groups {
		if err := r.AddProjectGroup(ctx, q, p.ID, g); err != nil {
			return err
		}
	}
	for _, c := range p.CorpusIDs {
		if err := r.AttachCorpus(ctx, q, p.ID, c); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) GetProject(ctx context.Context, q Querier, id string) (domain.Project, error) {
	var p domain.Project
	err := q.QueryRowContext(ctx, `SELECT id,name,creator_id,use_reviews,created_at,modified_at FROM projects WHERE id=?`, id).
		Scan(&p.ID, &p.Name, &p.CreatorID, &p.UseReviews, &p.CreatedAt, &p.ModifiedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if p.Groups, err = r.ProjectGroups(ctx, q, id); err != nil {
		return p, err
	}
	if p.CorpusIDs, err = r.ProjectCorpora(ctx, q, id); err != nil {
		return p, err
	}
	return p, nil
}

func (r Repo) ListProjects(ctx context.Context) ([]domain.Project, error) {
	ids, err := queryStrings(ctx, r.DB, `SELECT id FROM projects ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	res := make([]domain.Project, 0, len(ids))
	for _, id := range ids {
		p, err := r.GetProject(ctx, r.DB, id)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, nil
}

func (r Repo) UpdateProject(ctx context.Context, q Querier, id string, name *string, useReviews *bool, modifiedAt string) error {
	fields := []string{"modified_at=?"}
	args := []any{modifiedAt}
	if name != nil {
		fields = append(fields, "name=?")
		args = append(args, *name)
	}
	if useReviews != nil {
		fields = append(fields, "use_reviews=?")
		args = append(args, *useReviews)
	}
	args = append(args, id)
	res, err := q.ExecContext(ctx, fmt.Sprintf(`UPDATE projects SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ProjectCorpora(ctx context.Context, q Querier, projectID string) ([]string, error) {
	return queryStrings(ctx, q, `SELECT corpus_id FROM project_corpora WHERE project_id=? ORDER BY corpus_id`, projectID)
}

func (r Repo) AttachCorpus(ctx context.Context, q Querier, projectID, corpusID string) error {
	_, err := q.ExecContext(ctx, `INSERT OR IGNORE INTO project_corpora(project_id,corpus_id) VALUES (?,?)`, projectID, corpusID)
	return err
}

func (r Repo) DetachCorpus(ctx context.Context, q Querier, projectID, corpusID string) error {
	_, err := q.ExecContext(ctx, `DELETE FROM project_corpora WHERE project_id=? AND corpus_id=?`, projectID, corpusID)
	return err
}

func queryStrings(ctx context.Context, q Querier, query string, args ...any) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// placeholders returns "?,?,?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

// dedupe returns the sorted distinct non-empty values.
func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	var out []string
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
