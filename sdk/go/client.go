package dualtextsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal dualtext HTTP API client scoped to one project.
type Client struct {
	BaseURL     string
	ProjectID   string
	BearerToken string
	// DevUser and DevGroups are sent as X-User-Id / X-User-Groups when no
	// bearer token is set; the server must allow dev headers.
	DevUser    string
	DevGroups  []string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, projectID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		ProjectID: projectID,
		Timeout:   10 * time.Second,
	}
}

// ErrNothingToClaim is returned by Claim when no task is eligible.
var ErrNothingToClaim = errors.New("nothing to claim")

type Task struct {
	ID          string  `json:"id"`
	ProjectID   string  `json:"project_id"`
	Name        string  `json:"name"`
	Action      string  `json:"action"`
	AnnotatorID *string `json:"annotator,omitempty"`
	ReviewerID  *string `json:"reviewer,omitempty"`
	IsAnnotated bool    `json:"is_annotated"`
	IsReviewed  bool    `json:"is_reviewed"`
	CopiedFrom  *string `json:"copied_from,omitempty"`
	FinishedAt  *string `json:"finished_at,omitempty"`
}

type Annotation struct {
	ID                string   `json:"id"`
	TaskID            string   `json:"task_id"`
	DocumentIDs       []string `json:"documents"`
	AnnotatorLabelIDs []string `json:"annotator_labels"`
	ReviewerLabelIDs  []string `json:"reviewer_labels"`
}

type ClaimableCounts struct {
	OpenAnnotations int `json:"open_annotations"`
	OpenReviews     int `json:"open_reviews"`
}

// TaskUpdate leaves nil fields untouched.
type TaskUpdate struct {
	Name        *string `json:"name,omitempty"`
	Annotator   *string `json:"annotator,omitempty"`
	Reviewer    *string `json:"reviewer,omitempty"`
	IsAnnotated *bool   `json:"is_annotated,omitempty"`
	IsReviewed  *bool   `json:"is_reviewed,omitempty"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id"`
	EntityID   string `json:"entity_id"`
	EntityKind string `json:"entity_kind"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code and Message come from the error
// envelope when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Claim takes the next open task of kind ("annotation" or "review").
func (c *Client) Claim(ctx context.Context, kind string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPatch, c.projectPath("claim/"+url.PathEscape(kind)), nil, &resp)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Code == "nothing_to_claim" {
		return Task{}, fmt.Errorf("%w: %s", ErrNothingToClaim, kind)
	}
	return resp, err
}

func (c *Client) ClaimableCounts(ctx context.Context) (ClaimableCounts, error) {
	var resp ClaimableCounts
	err := c.do(ctx, http.MethodGet, c.projectPath("claimable"), nil, &resp)
	return resp, err
}

func (c *Client) UpdateTask(ctx context.Context, taskID string, u TaskUpdate) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPatch, c.projectPath("tasks/"+url.PathEscape(taskID)), u, &resp)
	return resp, err
}

// Finish marks an annotation task annotated or a review task reviewed.
func (c *Client) Finish(ctx context.Context, t Task) (Task, error) {
	done := true
	u := TaskUpdate{IsAnnotated: &done}
	if t.Action == "REVIEW" {
		u = TaskUpdate{IsReviewed: &done}
	}
	return c.UpdateTask(ctx, t.ID, u)
}

// AddDocuments attaches documents to an annotation. mutationID may be empty.
func (c *Client) AddDocuments(ctx context.Context, annotationID string, documentIDs []string, mutationID string) (Annotation, error) {
	return c.mutate(ctx, http.MethodPost, annotationID, "documents", map[string]any{
		"documents":   documentIDs,
		"mutation_id": mutationID,
	})
}

func (c *Client) RemoveDocuments(ctx context.Context, annotationID string, documentIDs []string, mutationID string) (Annotation, error) {
	return c.mutate(ctx, http.MethodDelete, annotationID, "documents", map[string]any{
		"documents":   documentIDs,
		"mutation_id": mutationID,
	})
}

// AddLabels attaches labels to the annotator or reviewer label set.
func (c *Client) AddLabels(ctx context.Context, annotationID, role string, labelIDs []string, mutationID string) (Annotation, error) {
	return c.mutate(ctx, http.MethodPost, annotationID, "labels", map[string]any{
		"labels":      labelIDs,
		"role":        role,
		"mutation_id": mutationID,
	})
}

func (c *Client) RemoveLabels(ctx context.Context, annotationID, role string, labelIDs []string, mutationID string) (Annotation, error) {
	return c.mutate(ctx, http.MethodDelete, annotationID, "labels", map[string]any{
		"labels":      labelIDs,
		"role":        role,
		"mutation_id": mutationID,
	})
}

func (c *Client) mutate(ctx context.Context, method, annotationID, what string, body map[string]any) (Annotation, error) {
	if body["mutation_id"] == "" {
		delete(body, "mutation_id")
	}
	var resp Annotation
	endpoint := fmt.Sprintf("v0/annotations/%s/%s", url.PathEscape(annotationID), what)
	err := c.do(ctx, method, endpoint, body, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := c.projectPath("events")
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.DevUser != "":
		req.Header.Set("X-User-Id", c.DevUser)
		if len(c.DevGroups) > 0 {
			req.Header.Set("X-User-Groups", strings.Join(c.DevGroups, ","))
		}
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) projectPath(p string) string {
	project := url.PathEscape(c.ProjectID)
	return fmt.Sprintf("v0/projects/%s/%s", project, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
