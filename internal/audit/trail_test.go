package audit_test

import (
	"context"
	"testing"
	"time"

	"dualtext/internal/audit"
	"dualtext/internal/config"
	"dualtext/internal/db"
	"dualtext/internal/domain"
	"dualtext/internal/engine"
	"dualtext/internal/migrate"
)

type trailEnv struct {
	ctx        context.Context
	engine     engine.Engine
	trail      audit.Trail
	task       domain.Task
	annotation domain.Annotation
}

func newTrailEnv(t *testing.T) trailEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	if err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatal(err)
	}
	e, err := engine.New(conn, config.Default())
	if err != nil {
		t.Fatal(err)
	}
	user := domain.User{ID: "alice", Groups: []string{"annotators"}}
	p, err := e.CreateProject(ctx, engine.ProjectCreateOptions{Name: "p", User: user})
	if err != nil {
		t.Fatal(err)
	}
	task, err := e.CreateTask(ctx, engine.TaskCreateOptions{ProjectID: p.ID, Name: "t", Action: domain.ActionAnnotation, User: user})
	if err != nil {
		t.Fatal(err)
	}
	a, err := e.CreateAnnotation(ctx, task.ID, nil, user)
	if err != nil {
		t.Fatal(err)
	}
	return trailEnv{ctx: ctx, engine: e, trail: e.Trail, task: task, annotation: a}
}

func TestRecordLapOpensOneRunPerUser(t *testing.T) {
	env := newTrailEnv(t)
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	q := env.engine.DB

	first, inserted, err := env.trail.RecordLap(env.ctx, q, "alice", env.task.ID, env.annotation.ID, "m1", at)
	if err != nil || !inserted {
		t.Fatalf("first lap: %v inserted=%v", err, inserted)
	}
	again, inserted, err := env.trail.RecordLap(env.ctx, q, "alice", env.task.ID, env.annotation.ID, "m1", at.Add(time.Second))
	if err != nil || inserted || again.ID != first.ID {
		t.Fatalf("replay should return the first lap: %+v inserted=%v err=%v", again, inserted, err)
	}
	if _, _, err := env.trail.RecordLap(env.ctx, q, "alice", env.task.ID, env.annotation.ID, "m2", at.Add(2*time.Second)); err != nil {
		t.Fatal(err)
	}
	if _, _, err := env.trail.RecordLap(env.ctx, q, "bob", env.task.ID, env.annotation.ID, "m3", at.Add(3*time.Second)); err != nil {
		t.Fatal(err)
	}

	runs, err := env.engine.Repo.ListRuns(env.ctx, q, env.task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected one run per user, got %+v", runs)
	}
	laps, err := env.engine.Repo.ListLaps(env.ctx, q, first.RunID)
	if err != nil || len(laps) != 2 {
		t.Fatalf("alice laps = %d (%v)", len(laps), err)
	}

	n, err := env.trail.CloseOpenRuns(env.ctx, q, env.task.ID, "bob", at.Add(time.Minute))
	if err != nil || n != 1 {
		t.Fatalf("close bob: %d %v", n, err)
	}
	n, err = env.trail.CloseOpenRuns(env.ctx, q, env.task.ID, "", at.Add(time.Minute))
	if err != nil || n != 1 {
		t.Fatalf("close remaining: %d %v", n, err)
	}
	next, _, err := env.trail.RecordLap(env.ctx, q, "alice", env.task.ID, env.annotation.ID, "m4", at.Add(2*time.Minute))
	if err != nil || next.RunID == first.RunID {
		t.Fatalf("a lap after closing should start a new run: %+v %v", next, err)
	}
}

func TestRecordLapRequiresIDs(t *testing.T) {
	env := newTrailEnv(t)
	if _, _, err := env.trail.RecordLap(env.ctx, env.engine.DB, "alice", env.task.ID, env.annotation.ID, "", time.Now()); err == nil {
		t.Fatalf("expected error without a mutation id")
	}
}
