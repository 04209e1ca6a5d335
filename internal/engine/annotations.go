package engine

import (
	"context"
	"database/sql"
	"fmt"

	"dualtext/internal/domain"
	"dualtext/internal/events"
)

// AnnotationMutation describes one logical change to an annotation. A batch
// of documents or labels is one mutation and yields one lap.
type AnnotationMutation struct {
	AnnotationID string
	Op           events.AnnotationOp
	DocumentIDs  []string
	LabelIDs     []string
	Role         domain.LabelRole
	// MutationID identifies the change for replay detection; generated when empty.
	MutationID string
	User       domain.User
}

// MutateAnnotation applies m and records it on the user's open run. A change
// that touches no rows records nothing.
func (e Engine) MutateAnnotation(ctx context.Context, m AnnotationMutation) (domain.Annotation, error) {
	if m.MutationID == "" {
		m.MutationID = domain.NewID()
	}
	if m.Role == "" {
		m.Role = domain.RoleAnnotator
	}
	if !m.Role.Valid() {
		return domain.Annotation{}, invalid("role must be annotator or reviewer")
	}
	var result domain.Annotation
	err := e.inTx(ctx, "mutate annotation", func(tx *sql.Tx) error {
		a, err := e.Repo.GetAnnotation(ctx, tx, m.AnnotationID)
		if err != nil {
			return lookup(err, "annotation", m.AnnotationID)
		}
		task, err := e.Repo.GetTask(ctx, tx, a.TaskID)
		if err != nil {
			return lookup(err, "task", a.TaskID)
		}
		if err := e.Auth.RequireMember(ctx, tx, task.ProjectID, m.User); err != nil {
			return err
		}
		changed, err := e.applyMutation(ctx, tx, m)
		if err != nil {
			return err
		}
		if changed > 0 {
			at := e.now()
			if err := e.Dispatcher.Emit(ctx, events.AnnotationChanged{
				Tx:           tx,
				ActorID:      m.User.ID,
				TaskID:       task.ID,
				AnnotationID: a.ID,
				MutationID:   m.MutationID,
				Op:           m.Op,
				At:           at,
			}); err != nil {
				return err
			}
			if err := e.Events.Append(ctx, tx, "annotation."+string(m.Op), task.ProjectID, "annotation", a.ID, m.User.ID, events.EventPayload{
				"mutation_id": m.MutationID,
				"changed":     changed,
				"role":        m.Role,
			}); err != nil {
				return err
			}
		}
		result, err = e.Repo.GetAnnotation(ctx, tx, a.ID)
		return err
	})
	if err != nil {
		return domain.Annotation{}, err
	}
	return result, nil
}

func (e Engine) applyMutation(ctx context.Context, tx *sql.Tx, m AnnotationMutation) (int64, error) {
	var (
		n   int64
		err error
	)
	switch m.Op {
	case events.OpAddDocuments:
		n, err = e.Repo.AddAnnotationDocuments(ctx, tx, m.AnnotationID, m.DocumentIDs)
		err = constraintError(err, "unknown document")
	case events.OpRemoveDocuments:
		n, err = e.Repo.RemoveAnnotationDocuments(ctx, tx, m.AnnotationID, m.DocumentIDs)
	case events.OpClearDocuments:
		n, err = e.Repo.ClearAnnotationDocuments(ctx, tx, m.AnnotationID)
	case events.OpAddLabels:
		n, err = e.Repo.AddAnnotationLabels(ctx, tx, m.AnnotationID, m.Role, m.LabelIDs)
		err = constraintError(err, "unknown label")
	case events.OpRemoveLabels:
		n, err = e.Repo.RemoveAnnotationLabels(ctx, tx, m.AnnotationID, m.Role, m.LabelIDs)
	case events.OpClearLabels:
		n, err = e.Repo.ClearAnnotationLabels(ctx, tx, m.AnnotationID, m.Role)
	default:
		return 0, invalid(fmt.Sprintf("unknown annotation op %q", m.Op))
	}
	return n, err
}

// CreateAnnotation adds an empty annotation to a task, optionally seeded
// with documents. Seeding is setup, not work, so no lap is recorded.
func (e Engine) CreateAnnotation(ctx context.Context, taskID string, documentIDs []string, user domain.User) (domain.Annotation, error) {
	var result domain.Annotation
	err := e.inTx(ctx, "create annotation", func(tx *sql.Tx) error {
		task, err := e.Repo.GetTask(ctx, tx, taskID)
		if err != nil {
			return lookup(err, "task", taskID)
		}
		if err := e.Auth.RequireMember(ctx, tx, task.ProjectID, user); err != nil {
			return err
		}
		a := domain.Annotation{ID: domain.NewID(), TaskID: taskID, CreatedAt: domain.FormatTime(e.now())}
		if err := e.Repo.InsertAnnotation(ctx, tx, a); err != nil {
			return err
		}
		if len(documentIDs) > 0 {
			if _, err := e.Repo.AddAnnotationDocuments(ctx, tx, a.ID, documentIDs); err != nil {
				return constraintError(err, "unknown document")
			}
		}
		if err := e.Events.Append(ctx, tx, "annotation.created", task.ProjectID, "annotation", a.ID, user.ID, events.EventPayload{"task_id": taskID}); err != nil {
			return err
		}
		result, err = e.Repo.GetAnnotation(ctx, tx, a.ID)
		return err
	})
	if err != nil {
		return domain.Annotation{}, err
	}
	return result, nil
}
