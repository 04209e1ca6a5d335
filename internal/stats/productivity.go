package stats

import (
	"context"
	"fmt"
	"sort"

	"dualtext/internal/domain"
	"dualtext/internal/repo"
)

type Granularity string

const (
	PerMinute Granularity = "minute"
	PerMonth  Granularity = "month"
)

// prefix is the timestamp prefix length selecting the bucket, relying on the
// fixed-width stored layout.
func (g Granularity) prefix() (int, error) {
	switch g {
	case PerMinute:
		return len("2006-01-02T15:04"), nil
	case PerMonth:
		return len("2006-01"), nil
	}
	return 0, fmt.Errorf("invalid granularity %q", g)
}

type UserSessions struct {
	UserID     string  `json:"user_id"`
	Runs       int     `json:"runs"`
	OpenRuns   int     `json:"open_runs"`
	WorkedSecs float64 `json:"worked_seconds"`
}

type Productivity struct {
	ProjectID   string           `json:"project_id"`
	Granularity Granularity      `json:"granularity"`
	Buckets     []repo.LapBucket `json:"buckets"`
	Sessions    []UserSessions   `json:"sessions"`
}

// Productivity counts laps per user and time bucket and sums the duration of
// closed runs. An empty userID covers every user.
func (s Service) Productivity(ctx context.Context, projectID string, g Granularity, userID string, user domain.User) (Productivity, error) {
	prefix, err := g.prefix()
	if err != nil {
		return Productivity{}, invalidArgument(err)
	}
	var (
		buckets []repo.LapBucket
		runs    []domain.Run
	)
	err = s.snapshot(ctx, func(q repo.Querier) error {
		if err := s.Auth.RequireMember(ctx, q, projectID, user); err != nil {
			return err
		}
		var err error
		if buckets, err = s.Repo.CountLapsByBucket(ctx, q, projectID, userID, prefix); err != nil {
			return err
		}
		runs, err = s.Repo.ListProjectRuns(ctx, q, projectID, userID)
		return err
	})
	if err != nil {
		return Productivity{}, err
	}
	sessions, err := summarizeRuns(runs)
	if err != nil {
		return Productivity{}, err
	}
	return Productivity{ProjectID: projectID, Granularity: g, Buckets: buckets, Sessions: sessions}, nil
}

func summarizeRuns(runs []domain.Run) ([]UserSessions, error) {
	byUser := map[string]*UserSessions{}
	for _, run := range runs {
		us, ok := byUser[run.UserID]
		if !ok {
			us = &UserSessions{UserID: run.UserID}
			byUser[run.UserID] = us
		}
		us.Runs++
		if run.Open() {
			us.OpenRuns++
			continue
		}
		start, err := domain.ParseTime(run.StartAt)
		if err != nil {
			return nil, fmt.Errorf("run %s start: %w", run.ID, err)
		}
		end, err := domain.ParseTime(*run.EndAt)
		if err != nil {
			return nil, fmt.Errorf("run %s end: %w", run.ID, err)
		}
		if d := end.Sub(start); d > 0 {
			us.WorkedSecs += d.Seconds()
		}
	}
	res := make([]UserSessions, 0, len(byUser))
	for _, us := range byUser {
		res = append(res, *us)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].UserID < res[j].UserID })
	return res, nil
}
