package engine

import (
	"context"
	"database/sql"
	"strings"

	"dualtext/internal/domain"
	"dualtext/internal/events"
)

// ProjectCreateOptions are parameters for creating a project.
type ProjectCreateOptions struct {
	Name       string
	UseReviews bool
	// Groups defaults to the creator's groups when empty.
	Groups    []string
	CorpusIDs []string
	User      domain.User
}

func (e Engine) CreateProject(ctx context.Context, opts ProjectCreateOptions) (domain.Project, error) {
	if strings.TrimSpace(opts.Name) == "" {
		return domain.Project{}, invalid("name is required")
	}
	if opts.User.ID == "" {
		return domain.Project{}, invalid("creator is required")
	}
	groups := opts.Groups
	if len(groups) == 0 {
		groups = opts.User.Groups
	}
	if len(groups) == 0 {
		return domain.Project{}, invalid("at least one allowed group is required")
	}
	now := domain.FormatTime(e.now())
	p := domain.Project{
		ID:         domain.NewID(),
		Name:       opts.Name,
		CreatorID:  opts.User.ID,
		UseReviews: opts.UseReviews,
		Groups:     groups,
		CorpusIDs:  opts.CorpusIDs,
		CreatedAt:  now,
		ModifiedAt: now,
	}
	var created domain.Project
	err := e.inTx(ctx, "create project", func(tx *sql.Tx) error {
		if err := e.Repo.InsertProject(ctx, tx, p); err != nil {
			return constraintError(err, "unknown corpus")
		}
		if err := e.Events.Append(ctx, tx, "project.created", p.ID, "project", p.ID, opts.User.ID, events.EventPayload{
			"name":        p.Name,
			"use_reviews": p.UseReviews,
		}); err != nil {
			return err
		}
		var err error
		created, err = e.Repo.GetProject(ctx, tx, p.ID)
		return err
	})
	if err != nil {
		return domain.Project{}, err
	}
	return created, nil
}

func (e Engine) GetProject(ctx context.Context, projectID string, user domain.User) (domain.Project, error) {
	if err := e.Auth.RequireMember(ctx, e.DB, projectID, user); err != nil {
		return domain.Project{}, err
	}
	return e.Repo.GetProject(ctx, e.DB, projectID)
}

// ProjectUpdateOptions carries settings changes; nil fields stay as they are.
type ProjectUpdateOptions struct {
	ID         string
	Name       *string
	UseReviews *bool
	User       domain.User
}

func (e Engine) UpdateProject(ctx context.Context, opts ProjectUpdateOptions) (domain.Project, error) {
	var p domain.Project
	err := e.inTx(ctx, "update project", func(tx *sql.Tx) error {
		if err := e.Auth.RequireMember(ctx, tx, opts.ID, opts.User); err != nil {
			return err
		}
		if err := e.Repo.UpdateProject(ctx, tx, opts.ID, opts.Name, opts.UseReviews, domain.FormatTime(e.now())); err != nil {
			return lookup(err, "project", opts.ID)
		}
		payload := events.EventPayload{}
		if opts.Name != nil {
			payload["name"] = *opts.Name
		}
		if opts.UseReviews != nil {
			payload["use_reviews"] = *opts.UseReviews
		}
		if err := e.Events.Append(ctx, tx, "project.updated", opts.ID, "project", opts.ID, opts.User.ID, payload); err != nil {
			return err
		}
		var err error
		p, err = e.Repo.GetProject(ctx, tx, opts.ID)
		return err
	})
	return p, err
}

// SetProjectGroup adds or removes an allowed group. A project keeps at least
// one group so that someone can still reach it.
func (e Engine) SetProjectGroup(ctx context.Context, projectID, group string, allow bool, user domain.User) (domain.Project, error) {
	group = strings.TrimSpace(group)
	if group == "" {
		return domain.Project{}, invalid("group is required")
	}
	var p domain.Project
	err := e.inTx(ctx, "set project group", func(tx *sql.Tx) error {
		if err := e.Auth.RequireMember(ctx, tx, projectID, user); err != nil {
			return err
		}
		evtType := "project.group_added"
		if allow {
			if err := e.Repo.AddProjectGroup(ctx, tx, projectID, group); err != nil {
				return err
			}
		} else {
			evtType = "project.group_removed"
			groups, err := e.Repo.ProjectGroups(ctx, tx, projectID)
			if err != nil {
				return err
			}
			if len(groups) == 1 && groups[0] == group {
				return invalid("cannot remove the last allowed group")
			}
			if err := e.Repo.RemoveProjectGroup(ctx, tx, projectID, group); err != nil {
				return err
			}
		}
		if err := e.Events.Append(ctx, tx, evtType, projectID, "project", projectID, user.ID, events.EventPayload{"group": group}); err != nil {
			return err
		}
		var err error
		p, err = e.Repo.GetProject(ctx, tx, projectID)
		return err
	})
	return p, err
}

// SetProjectCorpus attaches or detaches a corpus.
func (e Engine) SetProjectCorpus(ctx context.Context, projectID, corpusID string, attach bool, user domain.User) (domain.Project, error) {
	var p domain.Project
	err := e.inTx(ctx, "set project corpus", func(tx *sql.Tx) error {
		if err := e.Auth.RequireMember(ctx, tx, projectID, user); err != nil {
			return err
		}
		evtType := "project.corpus_attached"
		if attach {
			if _, err := e.Repo.GetCorpus(ctx, tx, corpusID); err != nil {
				return lookup(err, "corpus", corpusID)
			}
			if err := e.Repo.AttachCorpus(ctx, tx, projectID, corpusID); err != nil {
				return err
			}
		} else {
			evtType = "project.corpus_detached"
			if err := e.Repo.DetachCorpus(ctx, tx, projectID, corpusID); err != nil {
				return err
			}
		}
		if err := e.Events.Append(ctx, tx, evtType, projectID, "project", projectID, user.ID, events.EventPayload{"corpus_id": corpusID}); err != nil {
			return err
		}
		var err error
		p, err = e.Repo.GetProject(ctx, tx, projectID)
		return err
	})
	return p, err
}

// ListLabels returns a project's labels.
func (e Engine) ListLabels(ctx context.Context, projectID string, user domain.User) ([]domain.Label, error) {
	if err := e.Auth.RequireMember(ctx, e.DB, projectID, user); err != nil {
		return nil, err
	}
	return e.Repo.ListLabels(ctx, projectID)
}
