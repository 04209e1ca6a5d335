package server

import (
	"dualtext/internal/domain"
	"dualtext/internal/features"
	"dualtext/internal/stats"
)

// Request payloads

type CreateProjectRequest struct {
	Name          string   `json:"name"`
	UseReviews    bool     `json:"use_reviews,omitempty"`
	AllowedGroups []string `json:"allowed_groups,omitempty"`
	Corpora       []string `json:"corpora,omitempty"`
}

type UpdateProjectRequest struct {
	Name       *string `json:"name,omitempty"`
	UseReviews *bool   `json:"use_reviews,omitempty"`
}

type GroupRequest struct {
	Group string `json:"group"`
}

type CorpusLinkRequest struct {
	CorpusID string `json:"corpus_id"`
}

type CreateLabelRequest struct {
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

type CreateTaskRequest struct {
	Name       string   `json:"name"`
	Action     string   `json:"action,omitempty" enum:"ANNOTATION,REVIEW"`
	CopiedFrom string   `json:"copied_from,omitempty"`
	Documents  []string `json:"documents,omitempty"`
}

type SeedTasksRequest struct {
	Documents []string `json:"documents,omitempty" doc:"Document ids; defaults to every document of corpus_id"`
	CorpusID  string   `json:"corpus_id,omitempty"`
	TaskSize  int      `json:"task_size" minimum:"1"`
}

// UpdateTaskRequest leaves absent fields untouched; an empty annotator or
// reviewer clears the assignment.
type UpdateTaskRequest struct {
	Name        *string `json:"name,omitempty"`
	Annotator   *string `json:"annotator,omitempty"`
	Reviewer    *string `json:"reviewer,omitempty"`
	IsAnnotated *bool   `json:"is_annotated,omitempty"`
	IsReviewed  *bool   `json:"is_reviewed,omitempty"`
}

type CreateAnnotationRequest struct {
	Documents []string `json:"documents,omitempty"`
}

type AnnotationDocumentsRequest struct {
	Documents  []string `json:"documents,omitempty"`
	All        bool     `json:"all,omitempty" doc:"Remove every document; only valid on DELETE"`
	MutationID string   `json:"mutation_id,omitempty"`
}

type AnnotationLabelsRequest struct {
	Labels     []string `json:"labels,omitempty"`
	Role       string   `json:"role,omitempty" enum:"annotator,reviewer"`
	All        bool     `json:"all,omitempty" doc:"Remove every label of the role; only valid on DELETE"`
	MutationID string   `json:"mutation_id,omitempty"`
}

type CreateCorpusRequest struct {
	Name string         `json:"name"`
	Meta map[string]any `json:"meta,omitempty"`
}

type CreateDocumentsRequest struct {
	Documents []string `json:"documents"`
}

type CreateFeatureRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Key         string `json:"key"`
}

// Responses

type TaskDetailResponse struct {
	domain.Task
	Annotations []domain.Annotation `json:"annotations"`
}

type FeatureFailureResponse struct {
	DocumentID string `json:"document_id"`
	FeatureID  string `json:"feature_id"`
	Key        string `json:"key"`
	Error      string `json:"error"`
}

type DocumentsResponse struct {
	Documents []domain.Document        `json:"documents"`
	Failures  []FeatureFailureResponse `json:"feature_failures"`
}

type FeatureResponse struct {
	Feature  domain.Feature           `json:"feature"`
	Failures []FeatureFailureResponse `json:"feature_failures"`
}

type AnnotatorStatsResponse = stats.AnnotatorStats

type ProductivityResponse = stats.Productivity

type paginatedEvents struct {
	Items      []domain.Event `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

func failureResponses(items []features.Failure) []FeatureFailureResponse {
	out := make([]FeatureFailureResponse, 0, len(items))
	for _, f := range items {
		out = append(out, FeatureFailureResponse{
			DocumentID: f.DocumentID,
			FeatureID:  f.FeatureID,
			Key:        f.FeatureKey,
			Error:      f.Err.Error(),
		})
	}
	return out
}
