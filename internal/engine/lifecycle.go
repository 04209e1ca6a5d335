package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"dualtext/internal/db"
	"dualtext/internal/domain"
	apperrors "dualtext/internal/errors"
	"dualtext/internal/events"
	"dualtext/internal/repo"
)

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	ID        string
	ProjectID string
	Name      string
	Action    domain.Action
	// CopiedFrom marks the task as a copy; copies never spawn reviews.
	CopiedFrom string
	// DocumentIDs each get their own annotation on the new task.
	DocumentIDs []string
	User        domain.User
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if strings.TrimSpace(opts.Name) == "" {
		return domain.Task{}, invalid("name is required")
	}
	if opts.ProjectID == "" {
		return domain.Task{}, invalid("project is required")
	}
	if opts.Action == "" {
		opts.Action = domain.ActionAnnotation
	}
	if !opts.Action.Valid() {
		return domain.Task{}, invalid("action must be ANNOTATION or REVIEW")
	}
	id := opts.ID
	if id == "" {
		id = domain.NewID()
	}
	now := domain.FormatTime(e.now())
	t := domain.Task{
		ID:        id,
		ProjectID: opts.ProjectID,
		Name:      opts.Name,
		Action:    opts.Action,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if opts.CopiedFrom != "" {
		t.CopiedFrom = &opts.CopiedFrom
	}
	err := e.inTx(ctx, "create task", func(tx *sql.Tx) error {
		if err := e.Auth.RequireMember(ctx, tx, opts.ProjectID, opts.User); err != nil {
			return err
		}
		return e.insertTask(ctx, tx, t, opts.DocumentIDs, opts.User.ID)
	})
	if err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// insertTask writes t with one annotation per document id.
func (e Engine) insertTask(ctx context.Context, tx *sql.Tx, t domain.Task, documentIDs []string, actorID string) error {
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		switch {
		case db.IsUniqueViolation(err) && t.CopiedFrom != nil:
			return apperrors.Wrap(apperrors.CodeSpawnConflict, "a review of "+*t.CopiedFrom+" already exists", err)
		case db.IsUniqueViolation(err):
			return apperrors.Wrap(apperrors.CodeInvalidArgument, "task "+t.Name+" already exists", err)
		}
		return err
	}
	for _, docID := range documentIDs {
		a := domain.Annotation{ID: domain.NewID(), TaskID: t.ID, CreatedAt: t.CreatedAt}
		if err := e.Repo.InsertAnnotation(ctx, tx, a); err != nil {
			return err
		}
		if _, err := e.Repo.AddAnnotationDocuments(ctx, tx, a.ID, []string{docID}); err != nil {
			return constraintError(err, "unknown document "+docID)
		}
	}
	return e.Events.Append(ctx, tx, "task.created", t.ProjectID, "task", t.ID, actorID, events.EventPayload{
		"name":      t.Name,
		"action":    t.Action,
		"documents": len(documentIDs),
	})
}

// SeedOptions split a document list into annotation tasks. Without
// DocumentIDs every document of CorpusID is used, oldest first.
type SeedOptions struct {
	ProjectID   string
	DocumentIDs []string
	CorpusID    string
	// TaskSize is the number of documents per task; the last task takes the remainder.
	TaskSize int
	User     domain.User
}

// SeedTasks creates one ANNOTATION task per TaskSize documents, named
// P{project}T{index}, each document in its own annotation. All tasks commit
// together or not at all.
func (e Engine) SeedTasks(ctx context.Context, opts SeedOptions) ([]domain.Task, error) {
	if opts.TaskSize <= 0 {
		return nil, invalid("task size must be positive")
	}
	if len(opts.DocumentIDs) == 0 && opts.CorpusID == "" {
		return nil, invalid("documents or a corpus are required")
	}
	var tasks []domain.Task
	err := e.inTx(ctx, "seed tasks", func(tx *sql.Tx) error {
		if err := e.Auth.RequireMember(ctx, tx, opts.ProjectID, opts.User); err != nil {
			return err
		}
		ids := opts.DocumentIDs
		if len(ids) == 0 {
			if _, err := e.Repo.GetCorpus(ctx, tx, opts.CorpusID); err != nil {
				return lookup(err, "corpus", opts.CorpusID)
			}
			docs, err := e.Repo.ListDocuments(ctx, tx, opts.CorpusID)
			if err != nil {
				return err
			}
			for _, d := range docs {
				ids = append(ids, d.ID)
			}
			if len(ids) == 0 {
				return invalid("corpus " + opts.CorpusID + " has no documents")
			}
		}
		chunks := chunk(ids, opts.TaskSize)
		tasks = make([]domain.Task, 0, len(chunks))
		for i, docs := range chunks {
			now := domain.FormatTime(e.now())
			t := domain.Task{
				ID:        domain.NewID(),
				ProjectID: opts.ProjectID,
				Name:      fmt.Sprintf("P%sT%d", opts.ProjectID, i),
				Action:    domain.ActionAnnotation,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := e.insertTask(ctx, tx, t, docs, opts.User.ID); err != nil {
				return err
			}
			tasks = append(tasks, t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

func chunk(ids []string, size int) [][]string {
	out := make([][]string, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		out = append(out, ids[start:end])
	}
	return out
}

// TaskUpdateOptions encapsulates allowed updates. Pointer fields are left
// untouched when nil; an empty assignee clears it.
type TaskUpdateOptions struct {
	ID          string
	Name        *string
	AnnotatorID *string
	ReviewerID  *string
	IsAnnotated *bool
	IsReviewed  *bool
	User        domain.User
}

// UpdateTask applies opts to the persisted task. TaskSaving is emitted inside
// the transaction before the row is written, so review spawning and run
// closing commit or roll back together with the update.
func (e Engine) UpdateTask(ctx context.Context, opts TaskUpdateOptions) (task domain.Task, err error) {
	ctx, span := startSpan(ctx, "engine.update_task", attribute.String("task.id", opts.ID))
	defer func() { endSpan(span, err) }()

	err = e.inTx(ctx, "update task", func(tx *sql.Tx) error {
		before, err := e.Repo.GetTask(ctx, tx, opts.ID)
		if err != nil {
			return lookup(err, "task", opts.ID)
		}
		if err := e.Auth.RequireMember(ctx, tx, before.ProjectID, opts.User); err != nil {
			return err
		}
		at := e.now()
		after := applyTaskUpdate(before, opts)
		if !before.IsFinished() && after.IsFinished() {
			finished := domain.FormatTime(at)
			after.FinishedAt = &finished
		} else if !after.IsFinished() {
			after.FinishedAt = nil
		}
		after.UpdatedAt = domain.FormatTime(at)

		if err := e.Dispatcher.Emit(ctx, events.TaskSaving{Tx: tx, ActorID: opts.User.ID, Before: before, After: after, At: at}); err != nil {
			return err
		}
		if err := e.Repo.UpdateTask(ctx, tx, after); err != nil {
			return err
		}
		if err := e.Events.Append(ctx, tx, "task.updated", after.ProjectID, "task", after.ID, opts.User.ID, taskChanges(before, after)); err != nil {
			return err
		}
		task = after
		return nil
	})
	if err != nil {
		return domain.Task{}, err
	}
	return task, nil
}

func applyTaskUpdate(t domain.Task, opts TaskUpdateOptions) domain.Task {
	if opts.Name != nil {
		t.Name = *opts.Name
	}
	if opts.AnnotatorID != nil {
		t.AnnotatorID = optionalString(*opts.AnnotatorID)
	}
	if opts.ReviewerID != nil {
		t.ReviewerID = optionalString(*opts.ReviewerID)
	}
	if opts.IsAnnotated != nil {
		t.IsAnnotated = *opts.IsAnnotated
	}
	if opts.IsReviewed != nil {
		t.IsReviewed = *opts.IsReviewed
	}
	return t
}

func taskChanges(before, after domain.Task) events.EventPayload {
	p := events.EventPayload{}
	if before.Name != after.Name {
		p["name"] = after.Name
	}
	if deref(before.AnnotatorID) != deref(after.AnnotatorID) {
		p["annotator"] = deref(after.AnnotatorID)
	}
	if deref(before.ReviewerID) != deref(after.ReviewerID) {
		p["reviewer"] = deref(after.ReviewerID)
	}
	if before.IsAnnotated != after.IsAnnotated {
		p["is_annotated"] = after.IsAnnotated
	}
	if before.IsReviewed != after.IsReviewed {
		p["is_reviewed"] = after.IsReviewed
	}
	return p
}

// shouldSpawnReview holds the rules that only need the two task states.
// Project settings and existing reviews are checked against the store.
func shouldSpawnReview(before, after domain.Task) bool {
	return !before.IsAnnotated && after.IsAnnotated &&
		after.Action == domain.ActionAnnotation &&
		after.CopiedFrom == nil
}

func (e Engine) spawnReview(ctx context.Context, evt events.TaskSaving) error {
	if !shouldSpawnReview(evt.Before, evt.After) {
		return nil
	}
	if evt.Tx == nil {
		return errors.New("task saving delivered without a transaction")
	}
	src := evt.After
	project, err := e.Repo.GetProject(ctx, evt.Tx, src.ProjectID)
	if err != nil {
		return lookup(err, "project", src.ProjectID)
	}
	if !project.UseReviews {
		return nil
	}
	if existing, err := e.Repo.ReviewOf(ctx, evt.Tx, src.ID); err == nil {
		e.logger().Printf("lifecycle: review %s already spawned from task %s; skipped", existing.ID, src.ID)
		return nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return err
	}

	at := domain.FormatTime(evt.At)
	sourceID := src.ID
	review := domain.Task{
		ID:         domain.NewID(),
		ProjectID:  src.ProjectID,
		Name:       src.Name,
		Action:     domain.ActionReview,
		CopiedFrom: &sourceID,
		CreatedAt:  at,
		UpdatedAt:  at,
	}
	if err := e.Repo.InsertTask(ctx, evt.Tx, review); err != nil {
		if db.IsUniqueViolation(err) {
			conflict := apperrors.Wrap(apperrors.CodeSpawnConflict, "review already spawned", err)
			e.logger().Printf("lifecycle: task=%s err=%v", src.ID, conflict)
			return nil
		}
		return err
	}
	annotations, err := e.Repo.ListAnnotations(ctx, evt.Tx, src.ID)
	if err != nil {
		return err
	}
	for _, a := range annotations {
		dup := domain.Annotation{ID: domain.NewID(), TaskID: review.ID, CreatedAt: at}
		if err := e.Repo.CopyAnnotation(ctx, evt.Tx, a.ID, dup); err != nil {
			return err
		}
	}
	return e.Events.Append(ctx, evt.Tx, "task.review_spawned", src.ProjectID, "task", review.ID, evt.ActorID, events.EventPayload{
		"copied_from": src.ID,
		"annotations": len(annotations),
	})
}

// closeRuns ends work sessions when a task is completed or changes hands.
func (e Engine) closeRuns(ctx context.Context, evt events.TaskSaving) error {
	if evt.Tx == nil {
		return errors.New("task saving delivered without a transaction")
	}
	before, after := evt.Before, evt.After
	if !before.IsFinished() && after.IsFinished() {
		_, err := e.Trail.CloseOpenRuns(ctx, evt.Tx, after.ID, "", evt.At)
		return err
	}
	for _, pair := range [][2]*string{{before.AnnotatorID, after.AnnotatorID}, {before.ReviewerID, after.ReviewerID}} {
		prev := deref(pair[0])
		if prev == "" || prev == deref(pair[1]) {
			continue
		}
		if _, err := e.Trail.CloseOpenRuns(ctx, evt.Tx, after.ID, prev, evt.At); err != nil {
			return err
		}
	}
	return nil
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

// ListTasks lists project tasks visible to a member.
func (e Engine) ListTasks(ctx context.Context, user domain.User, f repo.TaskFilters) ([]domain.Task, error) {
	if f.ProjectID == "" {
		return nil, invalid("project is required")
	}
	if err := e.Auth.RequireMember(ctx, e.DB, f.ProjectID, user); err != nil {
		return nil, err
	}
	return e.Repo.ListTasks(ctx, f)
}

// GetTask returns a task together with its annotations.
func (e Engine) GetTask(ctx context.Context, taskID string, user domain.User) (domain.Task, []domain.Annotation, error) {
	t, err := e.Repo.GetTask(ctx, e.DB, taskID)
	if err != nil {
		return domain.Task{}, nil, lookup(err, "task", taskID)
	}
	if err := e.Auth.RequireMember(ctx, e.DB, t.ProjectID, user); err != nil {
		return domain.Task{}, nil, err
	}
	annotations, err := e.Repo.ListAnnotations(ctx, e.DB, taskID)
	if err != nil {
		return domain.Task{}, nil, err
	}
	return t, annotations, nil
}
