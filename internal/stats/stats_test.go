package stats

import (
	"bytes"
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"dualtext/internal/config"
	"dualtext/internal/db"
	"dualtext/internal/domain"
	"dualtext/internal/engine"
	apperrors "dualtext/internal/errors"
	"dualtext/internal/events"
	"dualtext/internal/migrate"
)

var (
	alice   = domain.User{ID: "alice", Groups: []string{"annotators"}}
	bob     = domain.User{ID: "bob", Groups: []string{"annotators"}}
	mallory = domain.User{ID: "mallory", Groups: []string{"outsiders"}}
)

type fixture struct {
	ctx       context.Context
	workspace string
	engine    engine.Engine
	stats     Service
	project   domain.Project
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ws := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: ws})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	if err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	var mu sync.Mutex
	now := time.Date(2024, 3, 31, 23, 59, 0, 0, time.UTC)
	tick := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(10 * time.Second)
		return now
	}
	e, err := engine.New(conn, config.Default(), engine.WithClock(tick))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	p, err := e.CreateProject(ctx, engine.ProjectCreateOptions{Name: "stats", User: alice})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	return fixture{ctx: ctx, workspace: ws, engine: e, stats: New(conn, true, nil), project: p}
}

func (f fixture) task(t *testing.T, name string) domain.Task {
	t.Helper()
	task, err := f.engine.CreateTask(f.ctx, engine.TaskCreateOptions{ProjectID: f.project.ID, Name: name, Action: domain.ActionAnnotation, User: alice})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func (f fixture) finish(t *testing.T, taskID string, user domain.User) {
	t.Helper()
	done := true
	if _, err := f.engine.UpdateTask(f.ctx, engine.TaskUpdateOptions{ID: taskID, IsAnnotated: &done, User: user}); err != nil {
		t.Fatalf("finish: %v", err)
	}
}

func TestAnnotatorsTalliesAssigneesAndUnclaimed(t *testing.T) {
	f := newFixture(t)
	for _, name := range []string{"a", "b", "c", "d"} {
		f.task(t, name)
	}
	first, err := f.engine.Claim(f.ctx, f.project.ID, bob, domain.ClaimAnnotation)
	if err != nil {
		t.Fatal(err)
	}
	f.finish(t, first.ID, bob)
	if _, err := f.engine.Claim(f.ctx, f.project.ID, bob, domain.ClaimAnnotation); err != nil {
		t.Fatal(err)
	}

	out, err := f.stats.Annotators(f.ctx, f.project.ID, domain.ActionAnnotation, alice)
	if err != nil {
		t.Fatalf("annotators: %v", err)
	}
	if out.TotalTasks != 4 {
		t.Fatalf("total = %d", out.TotalTasks)
	}
	if got := out.Annotators["bob"]; got.Finished != 1 || got.Open != 1 {
		t.Fatalf("bob = %+v", got)
	}
	if got := out.Annotators[Unclaimed]; got.Open != 2 || got.Finished != 0 {
		t.Fatalf("unclaimed = %+v", got)
	}
	if months := out.Annotators["bob"].ByMonth; len(months) != 1 {
		t.Fatalf("expected one completion month, got %v", months)
	}
	if users := out.Users(); len(users) != 2 || users[0] != "bob" || users[1] != Unclaimed {
		t.Fatalf("users = %v", users)
	}
}

func TestReadsDoNotWaitForWriters(t *testing.T) {
	f := newFixture(t)
	task := f.task(t, "a")
	if _, err := f.engine.Claim(f.ctx, f.project.ID, bob, domain.ClaimAnnotation); err != nil {
		t.Fatal(err)
	}

	// A second pool whose busy timeout is far shorter than the writer holds
	// its lock: any read that queues for the write lock fails with busy.
	conn, err := db.Open(db.Config{Workspace: f.workspace, BusyTimeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	reader := New(conn, true, nil)

	writer, err := f.engine.DB.BeginTx(f.ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer writer.Rollback()
	if _, err := writer.ExecContext(f.ctx, `UPDATE tasks SET name = 'renamed' WHERE id = ?`, task.ID); err != nil {
		t.Fatal(err)
	}

	out, err := reader.Annotators(f.ctx, f.project.ID, domain.ActionAnnotation, alice)
	if err != nil {
		t.Fatalf("annotators while a write is pending: %v", err)
	}
	if out.TotalTasks != 1 || out.Annotators["bob"].Open != 1 {
		t.Fatalf("snapshot should show the committed state, got %+v", out)
	}
	if _, err := reader.Productivity(f.ctx, f.project.ID, PerMonth, "", alice); err != nil {
		t.Fatalf("productivity while a write is pending: %v", err)
	}
}

func TestAnnotatorsValidation(t *testing.T) {
	f := newFixture(t)
	if _, err := f.stats.Annotators(f.ctx, f.project.ID, domain.ActionAnnotation, mallory); !errors.Is(err, apperrors.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := f.stats.Annotators(f.ctx, f.project.ID, domain.Action("BOGUS"), alice); !errors.Is(err, apperrors.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if _, err := f.stats.Productivity(f.ctx, f.project.ID, Granularity("week"), "", alice); !errors.Is(err, apperrors.ErrInvalidArgument) {
		t.Fatalf("expected invalid granularity, got %v", err)
	}
}

func TestCheckReportsMismatch(t *testing.T) {
	out := AnnotatorStats{ProjectID: "p1", TotalTasks: 3, Annotators: map[string]AnnotatorStat{"bob": {Finished: 1}}}

	strict := Service{FailOnMismatch: true}
	err := strict.check(out)
	if !errors.Is(err, apperrors.ErrStatsInconsistent) {
		t.Fatalf("expected inconsistent stats, got %v", err)
	}
	if apperrors.MetadataOf(err)["project_id"] != "p1" {
		t.Fatalf("missing project metadata")
	}

	var buf bytes.Buffer
	lenient := Service{Logger: log.New(&buf, "", 0)}
	if err := lenient.check(out); err != nil {
		t.Fatalf("lenient check should only log, got %v", err)
	}
	if !strings.Contains(buf.String(), "does not match") {
		t.Fatalf("expected mismatch log line, got %q", buf.String())
	}
}

func TestProductivityCountsLapsAndSessions(t *testing.T) {
	f := newFixture(t)
	f.task(t, "pair")
	task, err := f.engine.Claim(f.ctx, f.project.ID, bob, domain.ClaimAnnotation)
	if err != nil {
		t.Fatal(err)
	}
	corpus, err := f.engine.CreateCorpus(f.ctx, "c", "", "alice")
	if err != nil {
		t.Fatal(err)
	}
	docs, err := f.engine.CreateDocuments(f.ctx, corpus.ID, []string{"x", "y"}, "alice")
	if err != nil {
		t.Fatal(err)
	}
	a, err := f.engine.CreateAnnotation(f.ctx, task.ID, nil, bob)
	if err != nil {
		t.Fatal(err)
	}
	for _, d := range docs {
		if _, err := f.engine.MutateAnnotation(f.ctx, engine.AnnotationMutation{
			AnnotationID: a.ID,
			Op:           events.OpAddDocuments,
			DocumentIDs:  []string{d.ID},
			User:         bob,
		}); err != nil {
			t.Fatal(err)
		}
	}
	f.finish(t, task.ID, bob)

	out, err := f.stats.Productivity(f.ctx, f.project.ID, PerMinute, "", alice)
	if err != nil {
		t.Fatalf("productivity: %v", err)
	}
	total := 0
	for _, b := range out.Buckets {
		if b.UserID != "bob" || len(b.Bucket) != len("2006-01-02T15:04") {
			t.Fatalf("unexpected bucket %+v", b)
		}
		total += b.Laps
	}
	if total != 2 {
		t.Fatalf("expected 2 laps, got %d", total)
	}
	if len(out.Sessions) != 1 {
		t.Fatalf("sessions = %+v", out.Sessions)
	}
	s := out.Sessions[0]
	if s.UserID != "bob" || s.Runs != 1 || s.OpenRuns != 0 || s.WorkedSecs <= 0 {
		t.Fatalf("unexpected session %+v", s)
	}

	none, err := f.stats.Productivity(f.ctx, f.project.ID, PerMonth, "alice", alice)
	if err != nil {
		t.Fatal(err)
	}
	if len(none.Buckets) != 0 || len(none.Sessions) != 0 {
		t.Fatalf("alice did no work: %+v", none)
	}
}

func TestSummarizeRuns(t *testing.T) {
	start := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	end := domain.FormatTime(start.Add(90 * time.Second))
	runs := []domain.Run{
		{ID: "r1", UserID: "bob", StartAt: domain.FormatTime(start), EndAt: &end},
		{ID: "r2", UserID: "bob", StartAt: domain.FormatTime(start)},
		{ID: "r3", UserID: "alice", StartAt: domain.FormatTime(start), EndAt: &end},
	}
	got, err := summarizeRuns(runs)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].UserID != "alice" || got[1].UserID != "bob" {
		t.Fatalf("unexpected order %+v", got)
	}
	if got[1].Runs != 2 || got[1].OpenRuns != 1 || got[1].WorkedSecs != 90 {
		t.Fatalf("bob = %+v", got[1])
	}

	bad := "yesterday"
	if _, err := summarizeRuns([]domain.Run{{ID: "r4", StartAt: domain.FormatTime(start), EndAt: &bad}}); err == nil {
		t.Fatalf("expected parse error")
	}
}
