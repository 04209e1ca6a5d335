package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TimeLayout is fixed width so stored timestamps sort lexically.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// FormatTime renders t in UTC using TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a timestamp written by FormatTime.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(TimeLayout, s)
}

// NewID returns a time-ordered UUIDv7 so id order follows creation order.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

type Action string

const (
	ActionAnnotation Action = "ANNOTATION"
	ActionReview     Action = "REVIEW"
)

func (a Action) Valid() bool {
	return a == ActionAnnotation || a == ActionReview
}

// ClaimKind selects which queue a claim draws from.
type ClaimKind string

const (
	ClaimAnnotation ClaimKind = "annotation"
	ClaimReview     ClaimKind = "review"
)

func ParseClaimKind(s string) (ClaimKind, error) {
	switch ClaimKind(s) {
	case ClaimAnnotation, ClaimReview:
		return ClaimKind(s), nil
	}
	return "", fmt.Errorf("invalid claim kind %q", s)
}

// Action returns the task action served by this claim kind.
func (k ClaimKind) Action() Action {
	if k == ClaimReview {
		return ActionReview
	}
	return ActionAnnotation
}

type LabelRole string

const (
	RoleAnnotator LabelRole = "annotator"
	RoleReviewer  LabelRole = "reviewer"
)

func (r LabelRole) Valid() bool {
	return r == RoleAnnotator || r == RoleReviewer
}

// User is the caller identity as supplied by the identity layer.
type User struct {
	ID     string   `json:"id"`
	Groups []string `json:"groups,omitempty"`
}

type Project struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	CreatorID  string   `json:"creator_id"`
	UseReviews bool     `json:"use_reviews"`
	Groups     []string `json:"allowed_groups"`
	CorpusIDs  []string `json:"corpora"`
	CreatedAt  string   `json:"created_at" format:"date-time"`
	ModifiedAt string   `json:"modified_at" format:"date-time"`
}

type Corpus struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	MetaJSON  string `json:"meta_json,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Document struct {
	ID        string `json:"id"`
	CorpusID  string `json:"corpus_id"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Label struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
	Color     string `json:"color,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Task struct {
	ID          string  `json:"id"`
	ProjectID   string  `json:"project_id"`
	Name        string  `json:"name"`
	Action      Action  `json:"action" enum:"ANNOTATION,REVIEW"`
	AnnotatorID *string `json:"annotator,omitempty"`
	ReviewerID  *string `json:"reviewer,omitempty"`
	IsAnnotated bool    `json:"is_annotated"`
	IsReviewed  bool    `json:"is_reviewed"`
	CopiedFrom  *string `json:"copied_from,omitempty"`
	FinishedAt  *string `json:"finished_at,omitempty" format:"date-time"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
}

// IsFinished reports whether the completion flag matching the action is set.
func (t Task) IsFinished() bool {
	if t.Action == ActionReview {
		return t.IsReviewed
	}
	return t.IsAnnotated
}

// Assignee returns the user holding the task for its action.
func (t Task) Assignee() string {
	p := t.AnnotatorID
	if t.Action == ActionReview {
		p = t.ReviewerID
	}
	if p == nil {
		return ""
	}
	return *p
}

type Annotation struct {
	ID                string   `json:"id"`
	TaskID            string   `json:"task_id"`
	DocumentIDs       []string `json:"documents"`
	AnnotatorLabelIDs []string `json:"annotator_labels"`
	ReviewerLabelIDs  []string `json:"reviewer_labels"`
	CreatedAt         string   `json:"created_at" format:"date-time"`
}

type Run struct {
	ID      string  `json:"id"`
	UserID  string  `json:"user_id"`
	TaskID  string  `json:"task_id"`
	StartAt string  `json:"start_at" format:"date-time"`
	EndAt   *string `json:"end_at,omitempty" format:"date-time"`
}

func (r Run) Open() bool { return r.EndAt == nil }

type Lap struct {
	ID           string `json:"id"`
	RunID        string `json:"run_id"`
	AnnotationID string `json:"annotation_id"`
	MutationID   string `json:"mutation_id"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

type Feature struct {
	ID          string `json:"id"`
	CorpusID    string `json:"corpus_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Key         string `json:"key"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type FeatureValue struct {
	FeatureID  string `json:"feature_id"`
	DocumentID string `json:"document_id"`
	Value      []byte `json:"value"`
	UpdatedAt  string `json:"updated_at" format:"date-time"`
}

type ClaimableCounts struct {
	OpenAnnotations int `json:"open_annotations"`
	OpenReviews     int `json:"open_reviews"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
