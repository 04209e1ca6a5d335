package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	apperrors "dualtext/internal/errors"
	"dualtext/internal/domain"
	"dualtext/internal/repo"
)

// ForbiddenError indicates the user shares no group with the project.
type ForbiddenError struct {
	ProjectID string
	UserID    string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("user %s is not a member of project %s", e.UserID, e.ProjectID)
}

// Service answers project membership questions backed by SQL.
type Service struct {
	Repo repo.Repo
}

// IsMember reports whether any of the user's groups is allowed on the project.
func (s Service) IsMember(ctx context.Context, q repo.Querier, projectID string, user domain.User) (bool, error) {
	if strings.TrimSpace(user.ID) == "" {
		return false, nil
	}
	return s.Repo.SharesGroup(ctx, q, projectID, user.Groups)
}

// RequireMember fails with NOT_FOUND for unknown projects and FORBIDDEN for
// non-members.
func (s Service) RequireMember(ctx context.Context, q repo.Querier, projectID string, user domain.User) error {
	if _, err := s.Repo.GetProject(ctx, q, projectID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return apperrors.WithMetadata(apperrors.CodeNotFound, "project not found", map[string]string{"project_id": projectID})
		}
		return err
	}
	ok, err := s.IsMember(ctx, q, projectID, user)
	if err != nil {
		return err
	}
	if !ok {
		fe := ForbiddenError{ProjectID: projectID, UserID: user.ID}
		return &apperrors.Error{
			Code:     apperrors.CodeForbidden,
			Message:  "forbidden",
			Metadata: map[string]string{"project_id": projectID, "user_id": user.ID},
			Cause:    fe,
		}
	}
	return nil
}
