package engine

import (
	"context"
	"database/sql"
	"errors"

	"go.opentelemetry.io/otel/attribute"

	apperrors "dualtext/internal/errors"
	"dualtext/internal/domain"
	"dualtext/internal/events"
	"dualtext/internal/repo"
)

// Claim assigns the oldest eligible task of the kind to the user. Membership
// is checked inside the claiming transaction.
func (e Engine) Claim(ctx context.Context, projectID string, user domain.User, kind domain.ClaimKind) (task domain.Task, err error) {
	ctx, span := startSpan(ctx, "engine.claim",
		attribute.String("project.id", projectID),
		attribute.String("claim.kind", string(kind)),
		attribute.String("user.id", user.ID))
	defer func() { endSpan(span, err) }()

	if _, perr := domain.ParseClaimKind(string(kind)); perr != nil {
		return domain.Task{}, apperrors.Wrap(apperrors.CodeInvalidArgument, "invalid claim kind", perr)
	}
	err = e.inTx(ctx, "claim", func(tx *sql.Tx) error {
		if err := e.Auth.RequireMember(ctx, tx, projectID, user); err != nil {
			return err
		}
		now := domain.FormatTime(e.now())
		id, err := e.Repo.ClaimNextTask(ctx, tx, projectID, kind, user.ID, now)
		if errors.Is(err, repo.ErrNotFound) {
			return apperrors.WithMetadata(apperrors.CodeNoTaskAvailable, "nothing to claim",
				map[string]string{"project_id": projectID, "kind": string(kind)})
		}
		if err != nil {
			return err
		}
		task, err = e.Repo.GetTask(ctx, tx, id)
		if err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "task.claimed", projectID, "task", id, user.ID, events.EventPayload{"kind": kind})
	})
	if err != nil {
		return domain.Task{}, err
	}
	return task, nil
}

// ClaimableCounts reports unclaimed annotation and review tasks. Non-members
// get FORBIDDEN rather than counts.
func (e Engine) ClaimableCounts(ctx context.Context, projectID string, user domain.User) (domain.ClaimableCounts, error) {
	if err := e.Auth.RequireMember(ctx, e.DB, projectID, user); err != nil {
		return domain.ClaimableCounts{}, err
	}
	return e.Repo.CountClaimable(ctx, e.DB, projectID)
}

// Release hands a claimed, unfinished task back to the queue. Only the
// current assignee may release it.
func (e Engine) Release(ctx context.Context, taskID string, user domain.User) (domain.Task, error) {
	task, err := e.Repo.GetTask(ctx, e.DB, taskID)
	if err != nil {
		return domain.Task{}, lookup(err, "task", taskID)
	}
	if task.Assignee() != user.ID {
		return domain.Task{}, apperrors.WithMetadata(apperrors.CodeForbidden, "only the assignee may release a task",
			map[string]string{"task_id": taskID, "user_id": user.ID})
	}
	if task.IsFinished() {
		return domain.Task{}, invalid("finished tasks cannot be released")
	}
	none := ""
	opts := TaskUpdateOptions{ID: taskID, User: user}
	if task.Action == domain.ActionReview {
		opts.ReviewerID = &none
	} else {
		opts.AnnotatorID = &none
	}
	return e.UpdateTask(ctx, opts)
}
