package repo

import (
	"context"
)

func (r Repo) AddProjectGroup(ctx context.Context, q Querier, projectID, group string) error {
	_, err := q.ExecContext(ctx, `INSERT OR IGNORE INTO project_groups(project_id, group_name) VALUES (?,?)`, projectID, group)
	return err
}

func (r Repo) RemoveProjectGroup(ctx context.Context, q Querier, projectID, group string) error {
	_, err := q.ExecContext(ctx, `DELETE FROM project_groups WHERE project_id=? AND group_name=?`, projectID, group)
	return err
}

func (r Repo) ProjectGroups(ctx context.Context, q Querier, projectID string) ([]string, error) {
	return queryStrings(ctx, q, `SELECT group_name FROM project_groups WHERE project_id=? ORDER BY group_name`, projectID)
}

// SharesGroup reports whether any of groups is allowed on the project.
func (r Repo) SharesGroup(ctx context.Context, q Querier, projectID string, groups []string) (bool, error) {
	groups = dedupe(groups)
	if len(groups) == 0 {
		return false, nil
	}
	args := append([]any{projectID}, toArgs(groups)...)
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM project_groups WHERE project_id=? AND group_name IN (`+placeholders(len(groups))+`)`, args...).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
