// Package stats derives annotator and productivity figures from tasks and
// the run/lap audit trail.
package stats

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sort"

	"dualtext/internal/domain"
	"dualtext/internal/engine/auth"
	apperrors "dualtext/internal/errors"
	"dualtext/internal/repo"
)

// Unclaimed is the bucket for tasks nobody holds.
const Unclaimed = "unclaimed"

type Service struct {
	DB   *sql.DB
	Repo repo.Repo
	Auth auth.Service
	// FailOnMismatch turns a per-annotator sum that disagrees with the task
	// total into ErrStatsInconsistent instead of a log line.
	FailOnMismatch bool
	Logger         *log.Logger
}

func New(conn *sql.DB, failOnMismatch bool, logger *log.Logger) Service {
	r := repo.Repo{DB: conn}
	if logger == nil {
		logger = log.Default()
	}
	return Service{DB: conn, Repo: r, Auth: auth.Service{Repo: r}, FailOnMismatch: failOnMismatch, Logger: logger}
}

type AnnotatorStat struct {
	Finished int `json:"num_tasks_finished"`
	Open     int `json:"num_tasks_open"`
	// ByMonth counts finished tasks per YYYY-MM of completion.
	ByMonth map[string]int `json:"finished_by_month"`
}

type AnnotatorStats struct {
	ProjectID  string                   `json:"project_id"`
	Action     domain.Action            `json:"action,omitempty"`
	TotalTasks int                      `json:"total_tasks"`
	Annotators map[string]AnnotatorStat `json:"annotator_stats"`
}

// Users returns the annotator keys in stable order.
func (s AnnotatorStats) Users() []string {
	users := make([]string, 0, len(s.Annotators))
	for u := range s.Annotators {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}

// Annotators tallies finished and open tasks per assignee from one read
// snapshot. An empty action covers both task kinds.
func (s Service) Annotators(ctx context.Context, projectID string, action domain.Action, user domain.User) (AnnotatorStats, error) {
	if action != "" && !action.Valid() {
		return AnnotatorStats{}, apperrors.New(apperrors.CodeInvalidArgument, "action must be ANNOTATION or REVIEW")
	}
	var (
		rows  []repo.TaskProgress
		total int
	)
	err := s.snapshot(ctx, func(q repo.Querier) error {
		if err := s.Auth.RequireMember(ctx, q, projectID, user); err != nil {
			return err
		}
		var err error
		if rows, err = s.Repo.ListTaskProgress(ctx, q, projectID, action); err != nil {
			return err
		}
		total, err = s.Repo.CountTasks(ctx, q, projectID, action)
		return err
	})
	if err != nil {
		return AnnotatorStats{}, err
	}
	out := AnnotatorStats{ProjectID: projectID, Action: action, TotalTasks: total, Annotators: map[string]AnnotatorStat{}}
	for _, row := range rows {
		key := row.Assignee
		if key == "" {
			key = Unclaimed
		}
		st, ok := out.Annotators[key]
		if !ok {
			st.ByMonth = map[string]int{}
		}
		if row.Finished {
			st.Finished++
			if len(row.FinishedAt) >= 7 {
				st.ByMonth[row.FinishedAt[:7]]++
			}
		} else {
			st.Open++
		}
		out.Annotators[key] = st
	}
	if err := s.check(out); err != nil {
		return AnnotatorStats{}, err
	}
	return out, nil
}

func (s Service) check(out AnnotatorStats) error {
	summed := 0
	for _, st := range out.Annotators {
		summed += st.Finished + st.Open
	}
	if summed == out.TotalTasks {
		return nil
	}
	err := apperrors.WithMetadata(apperrors.CodeStatsInconsistent,
		fmt.Sprintf("per-annotator sum %d does not match %d tasks", summed, out.TotalTasks),
		map[string]string{"project_id": out.ProjectID})
	if s.FailOnMismatch {
		return err
	}
	s.Logger.Printf("stats: project=%s err=%v", out.ProjectID, err)
	return nil
}

// snapshot runs fn in a deferred read transaction on a dedicated connection.
// The pool's transactions begin IMMEDIATE and would queue behind writers; a
// deferred one reads the last committed WAL snapshot without taking the
// write lock.
func (s Service) snapshot(ctx context.Context, fn func(q repo.Querier) error) error {
	conn, err := s.DB.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	if _, err := conn.ExecContext(ctx, `BEGIN DEFERRED`); err != nil {
		return fmt.Errorf("begin read: %w", err)
	}
	fnErr := fn(conn)
	if _, err := conn.ExecContext(context.WithoutCancel(ctx), `ROLLBACK`); err != nil && fnErr == nil {
		return fmt.Errorf("end read: %w", err)
	}
	return fnErr
}

func invalidArgument(err error) error {
	return apperrors.Wrap(apperrors.CodeInvalidArgument, "invalid argument", err)
}
