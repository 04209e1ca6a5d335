package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"

	"dualtext/internal/domain"
	"dualtext/internal/engine"
	"dualtext/internal/events"
	"dualtext/internal/features"
	"dualtext/internal/repo"
	"dualtext/internal/stats"
)

type response[T any] struct {
	Body T `json:"body"`
}

func reply[T any](v T) *response[T] {
	return &response[T]{Body: v}
}

type projectPath struct {
	ProjectID string `path:"project_id"`
}

type taskPath struct {
	TaskID string `path:"task_id"`
}

type annotationPath struct {
	AnnotationID string `path:"annotation_id"`
}

type corpusPath struct {
	CorpusID string `path:"corpus_id"`
}

type documentPath struct {
	DocumentID string `path:"document_id"`
}

var defaultErrors = []int{
	http.StatusBadRequest,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
	http.StatusInternalServerError,
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*response[map[string]string], error) {
		return reply(map[string]string{"status": "ok"}), nil
	})
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors:        defaultErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*response[domain.Project], error) {
		user, authErr := userFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.CreateProject(ctx, engine.ProjectCreateOptions{
			Name:       input.Body.Name,
			UseReviews: input.Body.UseReviews,
			Groups:     input.Body.AllowedGroups,
			CorpusIDs:  input.Body.Corpora,
			User:       user,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      defaultErrors,
	}, func(ctx context.Context, input *projectPath) (*response[domain.Project], error) {
		user, authErr := userFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.GetProject(ctx, input.ProjectID, user)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-project",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}",
		Summary:     "Update project settings",
		Errors:      defaultErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string               `path:"project_id"`
		Body      UpdateProjectRequest `json:"body"`
	}) (*response[domain.Project], error) {
		user, authErr := userFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.UpdateProject(ctx, engine.ProjectUpdateOptions{
			ID:         input.ProjectID,
			Name:       input.Body.Name,
			UseReviews: input.Body.UseReviews,
			User:       user,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "add-project-group",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/groups",
		Summary:     "Allow a group on the project",
		Errors:      defaultErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string       `path:"project_id"`
		Body      GroupRequest `json:"body"`
	}) (*response[domain.Project], error) {
		user, authErr := userFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.SetProjectGroup(ctx, input.ProjectID, input.Body.Group, true, user)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-project-group",
		Method:      http.MethodDelete,
		Path:        "/projects/{project_id}/groups/{group}",
		Summary:     "Revoke a group from the project",
		Errors:      defaultErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Group     string `path:"group"`
	}) (*response[domain.Project], error) {
		user, authErr := userFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.SetProjectGroup(ctx, input.ProjectID, input.Group, false, user)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "attach-corpus",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/corpora",
		Summary:     "Attach a corpus to the project",
		Errors:      defaultErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		Body      CorpusLinkRequest `json:"body"`
	}) (*response[domain.Project], error) {
		user, authErr := userFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.SetProjectCorpus(ctx, input.ProjectID, input.Body.CorpusID, true, user)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "detach-corpus",
		Method:      http.MethodDelete,
		Path:        "/projects/{project_id}/corpora/{corpus_id}",
		Summary:     "Detach a corpus from the project",
		Errors:      defaultErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		CorpusID  string `path:"corpus_id"`
	}) (*response[domain.Project], error) {
		user, authErr := userFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.SetProjectCorpus(ctx, input.ProjectID, input.CorpusID, false, user)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})
}

func registerLabels(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-label",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/labels",
		Summary:       "Create label",
		DefaultStatus: http.StatusCreated,
		Errors:        defaultErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string             `path:"project_id"`
		Body      CreateLabelRequest `json:"body"`
	}) (*response[domain.Label], error) {
		user, authErr := userFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		l, err := e.CreateLabel(ctx, input.ProjectID, input.Body.Name, input.Body.Color, user)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(l), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-labels",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/labels",
		Summary:     "List labels",
		Errors:      defaultErrors,
	}, func(ctx context.Context, input *projectPath) (*response[[]domain.Label], error) {
		user, authErr := userFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListLabels(ctx, input.ProjectID, user)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Label{}
		}
		return reply(items), nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors:        defaultErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		Body      CreateTaskRequest `json:"body"`
	}) (*response[domain.Task], error) {
		user, authErr := userFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.CreateTask(ctx, engine.TaskCreateOptions{
			ProjectID:   input.ProjectID,
			Name:        input.Body.Name,
			Action:      domain.Action(input.Body.Action),
			CopiedFrom:  input.Body.CopiedFrom,
			DocumentIDs: input.Body.Documents,
			User:        user,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "seed-tasks",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/tasks/seed",
		Summary:       "Split documents into annotation tasks",
		DefaultStatus: http.StatusCreated,
		Errors:        defaultErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string           `path:"project_id"`
		Body      SeedTasksRequest `json:"body"`
	}) (*response[[]domain.Task], error) {
		user, authErr := userFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tasks, err := e.SeedTasks(ctx, engine.SeedOptions{
			ProjectID:   input.ProjectID,
			DocumentIDs: input.Body.Documents,
			CorpusID:    input.Body.CorpusID,
			TaskSize:    input.Body.TaskSize,
			User:        user,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(tasks), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/tasks",
		Summary:     "List tasks",
		Errors:      defaultErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Action    string `query:"action" enum:"ANNOTATION,REVIEW"`
		User      string `query:"user" doc:"Tasks where this user is annotator or reviewer"`
		Mine      bool   `query:"mine" doc:"Shortcut for user=<caller>"`
		Finished  string `query:"finished" enum:"true,false"`
		Limit     int    `query:"limit" default:"50"`
	}) (*response[[]domain.Task], error) {
		user, authErr := userFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		f := repo.TaskFilters{
			ProjectID: input.ProjectID,
			Action:    domain.Action(input.Action),
			UserID:    input.User,
			Limit:     normalizeLimit(input.Limit),
		}
		if input.Mine {
			f.UserID = user.ID
		}
		if input.Finished != "" {
			finished := input.Finished == "true"
			f.Finished = &finished
		}
		items, err := e.ListTasks(ctx, user, f)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Task{}
		}
		return reply(items), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get task with annotations",
		Errors:      defaultErrors,
	}, func(ctx context.Context, input *taskPath) (*response[TaskDetailResponse], error) {
		user, authErr := userFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, annotations, err := e.GetTask(ctx, input.TaskID, user)
		if err != nil {
			return nil, handleError(err)
		}
		if annotations == nil {
			annotations = []domain.Annotation{}
		}
		return reply(TaskDetailResponse{Task: t, Annotations: annotations}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}/tasks/{task_id}",
		Summary:     "Update task",
		Description: "Setting is_annotated to true on an annotation task may spawn its review task.",
		Errors:      defaultErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		TaskID    string            `path:"task_id"`
		Body      UpdateTaskRequest `json:"body"`
	}) (*response[domain.Task], error) {
		user, authErr := userFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		current, _, err := e.GetTask(ctx, input.TaskID, user)
		if err != nil {
			return nil, handleError(err)
		}
		if current.ProjectID != input.ProjectID {
			return nil, newAPIError(http.StatusNotFound, "not_found", "task not found in project", map[string]any{"task_id": input.TaskID})
		}
		t, err := e.UpdateTask(ctx, engine.TaskUpdateOptions{
			ID:          input.TaskID,
			Name:        input.Body.Name,
			AnnotatorID: input.Body.Annotator,
			ReviewerID:  input.Body.Reviewer,
			IsAnnotated: input.Body.IsAnnotated,
			IsReviewed:  input.Body.IsReviewed,
			User:        user,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(t), nil
	})
}

func registerClaims(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "claim-task",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}/claim/{kind}",
		Summary:     "Claim the next open task",
		Description: "Returns 404 with code nothing_to_claim when no task is eligible.",
		Errors:      defaultErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Kind      string `path:"kind" enum:"annotation,review"`
	}) (*response[domain.Task], error) {
		user, authErr := userFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.Claim(ctx, input.ProjectID, user, domain.ClaimKind(input.Kind))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "claimable-counts",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/claimable",
		Summary:     "Count unclaimed tasks",
		Errors:      defaultErrors,
	}, func(ctx context.Context, input *projectPath) (*response[domain.ClaimableCounts], error) {
		user, authErr := userFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.ClaimableCounts(ctx, input.ProjectID, user)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "release-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/release",
		Summary:     "Hand a claimed task back",
		Errors:      defaultErrors,
	}, func(ctx context.Context, input *taskPath) (*response[domain.Task], error) {
		user, authErr := userFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.Release(ctx, input.TaskID, user)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(t), nil
	})
}

func registerAnnotations(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-annotation",
		Method:        http.MethodPost,
		Path:          "/tasks/{task_id}/annotations",
		Summary:       "Create annotation",
		DefaultStatus: http.StatusCreated,
		Errors:        defaultErrors,
	}, func(ctx context.Context, input *struct {
		TaskID string                  `path:"task_id"`
		Body   CreateAnnotationRequest `json:"body"`
	}) (*response[domain.Annotation], error) {
		user, authErr := userFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.CreateAnnotation(ctx, input.TaskID, input.Body.Documents, user)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(a), nil
	})

	documents := func(op events.AnnotationOp) func(context.Context, *struct {
		AnnotationID string                     `path:"annotation_id"`
		Body         AnnotationDocumentsRequest `json:"body"`
	}) (*response[domain.Annotation], error) {
		return func(ctx context.Context, input *struct {
			AnnotationID string                     `path:"annotation_id"`
			Body         AnnotationDocumentsRequest `json:"body"`
		}) (*response[domain.Annotation], error) {
			user, authErr := userFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			m := engine.AnnotationMutation{
				AnnotationID: input.AnnotationID,
				Op:           op,
				DocumentIDs:  input.Body.Documents,
				MutationID:   input.Body.MutationID,
				User:         user,
			}
			if op == events.OpRemoveDocuments && input.Body.All {
				m.Op = events.OpClearDocuments
			}
			a, err := e.MutateAnnotation(ctx, m)
			if err != nil {
				return nil, handleError(err)
			}
			return reply(a), nil
		}
	}
	huma.Register(api, huma.Operation{
		OperationID: "add-annotation-documents",
		Method:      http.MethodPost,
		Path:        "/annotations/{annotation_id}/documents",
		Summary:     "Add documents to an annotation",
		Errors:      defaultErrors,
	}, documents(events.OpAddDocuments))
	huma.Register(api, huma.Operation{
		OperationID: "remove-annotation-documents",
		Method:      http.MethodDelete,
		Path:        "/annotations/{annotation_id}/documents",
		Summary:     "Remove documents from an annotation",
		Errors:      defaultErrors,
	}, documents(events.OpRemoveDocuments))

	labels := func(op events.AnnotationOp) func(context.Context, *struct {
		AnnotationID string                  `path:"annotation_id"`
		Body         AnnotationLabelsRequest `json:"body"`
	}) (*response[domain.Annotation], error) {
		return func(ctx context.Context, input *struct {
			AnnotationID string                  `path:"annotation_id"`
			Body         AnnotationLabelsRequest `json:"body"`
		}) (*response[domain.Annotation], error) {
			user, authErr := userFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			m := engine.AnnotationMutation{
				AnnotationID: input.AnnotationID,
				Op:           op,
				LabelIDs:     input.Body.Labels,
				Role:         domain.LabelRole(input.Body.Role),
				MutationID:   input.Body.MutationID,
				User:         user,
			}
			if op == events.OpRemoveLabels && input.Body.All {
				m.Op = events.OpClearLabels
			}
			a, err := e.MutateAnnotation(ctx, m)
			if err != nil {
				return nil, handleError(err)
			}
			return reply(a), nil
		}
	}
	huma.Register(api, huma.Operation{
		OperationID: "add-annotation-labels",
		Method:      http.MethodPost,
		Path:        "/annotations/{annotation_id}/labels",
		Summary:     "Add labels to an annotation",
		Errors:      defaultErrors,
	}, labels(events.OpAddLabels))
	huma.Register(api, huma.Operation{
		OperationID: "remove-annotation-labels",
		Method:      http.MethodDelete,
		Path:        "/annotations/{annotation_id}/labels",
		Summary:     "Remove labels from an annotation",
		Errors:      defaultErrors,
	}, labels(events.OpRemoveLabels))
}

func registerCorpora(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-corpus",
		Method:        http.MethodPost,
		Path:          "/corpora",
		Summary:       "Create corpus",
		DefaultStatus: http.StatusCreated,
		Errors:        defaultErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateCorpusRequest `json:"body"`
	}) (*response[domain.Corpus], error) {
		user, authErr := userFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		meta := ""
		if input.Body.Meta != nil {
			b, err := json.Marshal(input.Body.Meta)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid meta", map[string]any{"error": err.Error()})
			}
			meta = string(b)
		}
		c, err := e.CreateCorpus(ctx, input.Body.Name, meta, user.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-corpora",
		Method:      http.MethodGet,
		Path:        "/corpora",
		Summary:     "List corpora",
		Errors:      defaultErrors,
	}, func(ctx context.Context, input *struct{}) (*response[[]domain.Corpus], error) {
		if _, authErr := userFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.ListCorpora(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Corpus{}
		}
		return reply(items), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-document",
		Method:      http.MethodGet,
		Path:        "/documents/{document_id}",
		Summary:     "Get document",
		Errors:      defaultErrors,
	}, func(ctx context.Context, input *documentPath) (*response[domain.Document], error) {
		if _, authErr := userFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		d, err := e.GetDocument(ctx, input.DocumentID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(d), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-document",
		Method:        http.MethodDelete,
		Path:          "/documents/{document_id}",
		Summary:       "Delete document with its feature values",
		DefaultStatus: http.StatusNoContent,
		Errors:        defaultErrors,
	}, func(ctx context.Context, input *documentPath) (*struct{}, error) {
		user, authErr := userFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteDocument(ctx, input.DocumentID, user.ID); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-corpus",
		Method:        http.MethodDelete,
		Path:          "/corpora/{corpus_id}",
		Summary:       "Delete corpus with its documents and feature values",
		DefaultStatus: http.StatusNoContent,
		Errors:        defaultErrors,
	}, func(ctx context.Context, input *corpusPath) (*struct{}, error) {
		user, authErr := userFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteCorpus(ctx, input.CorpusID, user.ID); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-documents",
		Method:        http.MethodPost,
		Path:          "/corpora/{corpus_id}/documents",
		Summary:       "Add documents",
		Description:   "Documents are stored even when feature computation fails; failures are listed per feature.",
		DefaultStatus: http.StatusCreated,
		Errors:        defaultErrors,
	}, func(ctx context.Context, input *struct {
		CorpusID string                 `path:"corpus_id"`
		Body     CreateDocumentsRequest `json:"body"`
	}) (*response[DocumentsResponse], error) {
		user, authErr := userFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		docs, err := e.CreateDocuments(ctx, input.CorpusID, input.Body.Documents, user.ID)
		if docs == nil && err != nil {
			return nil, handleError(err)
		}
		failures := features.Failures(err)
		if err != nil && len(failures) == 0 {
			e.Logger.Printf("server: materialize corpus=%s err=%v", input.CorpusID, err)
		}
		return reply(DocumentsResponse{Documents: docs, Failures: failureResponses(failures)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-feature",
		Method:        http.MethodPost,
		Path:          "/corpora/{corpus_id}/features",
		Summary:       "Register a feature and backfill it",
		DefaultStatus: http.StatusCreated,
		Errors:        defaultErrors,
	}, func(ctx context.Context, input *struct {
		CorpusID string               `path:"corpus_id"`
		Body     CreateFeatureRequest `json:"body"`
	}) (*response[FeatureResponse], error) {
		user, authErr := userFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		f, err := e.AddFeature(ctx, engine.FeatureOptions{
			CorpusID:    input.CorpusID,
			Name:        input.Body.Name,
			Description: input.Body.Description,
			Key:         input.Body.Key,
			ActorID:     user.ID,
		})
		if f.ID == "" {
			return nil, handleError(err)
		}
		return reply(FeatureResponse{Feature: f, Failures: failureResponses(features.Failures(err))}), nil
	})
}

func registerStats(api huma.API, s stats.Service) {
	huma.Register(api, huma.Operation{
		OperationID: "annotator-stats",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/stats/annotators",
		Summary:     "Finished and open tasks per annotator",
		Errors:      defaultErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Action    string `query:"action" enum:"ANNOTATION,REVIEW"`
	}) (*response[AnnotatorStatsResponse], error) {
		user, authErr := userFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		out, err := s.Annotators(ctx, input.ProjectID, domain.Action(input.Action), user)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(out), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "productivity-stats",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/stats/productivity",
		Summary:     "Laps per user and time bucket",
		Errors:      defaultErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID   string `path:"project_id"`
		Granularity string `query:"granularity" enum:"minute,month" default:"month"`
		User        string `query:"user"`
	}) (*response[ProductivityResponse], error) {
		user, authErr := userFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		out, err := s.Productivity(ctx, input.ProjectID, stats.Granularity(input.Granularity), input.User, user)
		if err != nil {
			return nil, handleError(err)
		}
		if out.Buckets == nil {
			out.Buckets = []repo.LapBucket{}
		}
		if out.Sessions == nil {
			out.Sessions = []stats.UserSessions{}
		}
		return reply(out), nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/events",
		Summary:     "List recent events",
		Errors:      defaultErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID  string `path:"project_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"project,task,annotation,label"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*response[paginatedEvents], error) {
		user, authErr := userFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.Auth.RequireMember(ctx, e.DB, input.ProjectID, user); err != nil {
			return nil, handleError(err)
		}
		limit := normalizeLimit(input.Limit)
		var before int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			before = parsed
		}
		items, err := e.Repo.LatestEvents(ctx, repo.EventFilters{
			ProjectID:  input.ProjectID,
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Before:     before,
			Limit:      limit + 1,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []domain.Event{}}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
			items = items[:limit]
		}
		resp.Items = append(resp.Items, items...)
		return reply(resp), nil
	})
}
