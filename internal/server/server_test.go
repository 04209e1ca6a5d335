package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"dualtext/internal/config"
	"dualtext/internal/db"
	"dualtext/internal/domain"
	"dualtext/internal/engine"
	"dualtext/internal/features"
	"dualtext/internal/migrate"
)

const testSecret = "test-secret"

var (
	alice   = map[string]string{"X-User-Id": "alice", "X-User-Groups": "annotators"}
	bob     = map[string]string{"X-User-Id": "bob", "X-User-Groups": "annotators"}
	mallory = map[string]string{"X-User-Id": "mallory", "X-User-Groups": "outsiders"}
)

func newTestServer(t *testing.T, opts ...engine.Option) *httptest.Server {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e, err := engine.New(conn, config.Default(), opts...)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: testSecret, AllowDevHeaders: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.Close()
		conn.Close()
	})
	return srv
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = bytes.NewReader(nil)
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("unmarshal %s: %v", string(data), err)
	}
	return v
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	env := decode[struct {
		Error apiErrorBody `json:"error"`
	}](t, data)
	return env.Error.Code
}

func createProject(t *testing.T, srv *httptest.Server, useReviews bool) domain.Project {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects", map[string]any{
		"name":        "pairs",
		"use_reviews": useReviews,
	}, alice)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create project: %d %s", res.StatusCode, string(data))
	}
	return decode[domain.Project](t, data)
}

func createTask(t *testing.T, srv *httptest.Server, projectID, name string) domain.Task {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects/"+projectID+"/tasks", map[string]any{
		"name": name,
	}, alice)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task: %d %s", res.StatusCode, string(data))
	}
	return decode[domain.Task](t, data)
}

func TestHealthNeedsNoAuth(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects", map[string]any{"name": "x"}, nil)
	if res.StatusCode != http.StatusUnauthorized || errorCode(t, data) != "unauthorized" {
		t.Fatalf("expected 401, got %d %s", res.StatusCode, string(data))
	}
}

func TestBearerToken(t *testing.T) {
	srv := newTestServer(t)
	project := createProject(t, srv, false)

	token, err := IssueToken(testSecret, domain.User{ID: "bob", Groups: []string{"annotators"}})
	if err != nil {
		t.Fatal(err)
	}
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects/"+project.ID, nil, map[string]string{"Authorization": "Bearer " + token})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get project with token: %d %s", res.StatusCode, string(data))
	}

	forged, err := IssueToken("other-secret", domain.User{ID: "bob", Groups: []string{"annotators"}})
	if err != nil {
		t.Fatal(err)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects/"+project.ID, nil, map[string]string{"Authorization": "Bearer " + forged})
	if res.StatusCode != http.StatusUnauthorized || errorCode(t, data) != "invalid_credentials" {
		t.Fatalf("expected invalid credentials, got %d %s", res.StatusCode, string(data))
	}
}

func TestClaimFlow(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()
	project := createProject(t, srv, true)
	first := createTask(t, srv, project.ID, "first")
	createTask(t, srv, project.ID, "second")

	claimURL := srv.URL + "/v0/projects/" + project.ID + "/claim/annotation"
	res, data := doJSON(t, client, http.MethodPatch, claimURL, nil, bob)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("claim: %d %s", res.StatusCode, string(data))
	}
	claimed := decode[domain.Task](t, data)
	if claimed.ID != first.ID || claimed.Assignee() != "bob" {
		t.Fatalf("expected first task for bob, got %+v", claimed)
	}

	res, data = doJSON(t, client, http.MethodPatch, claimURL, nil, mallory)
	if res.StatusCode != http.StatusForbidden || errorCode(t, data) != "forbidden" {
		t.Fatalf("expected forbidden, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/projects/"+project.ID+"/claim/review", nil, bob)
	if res.StatusCode != http.StatusNotFound || errorCode(t, data) != "nothing_to_claim" {
		t.Fatalf("expected nothing_to_claim, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/projects/"+project.ID+"/tasks/"+first.ID, map[string]any{
		"is_annotated": true,
	}, bob)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("finish task: %d %s", res.StatusCode, string(data))
	}
	if done := decode[domain.Task](t, data); !done.IsAnnotated || done.FinishedAt == nil {
		t.Fatalf("unexpected finished task %+v", done)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/"+project.ID+"/claimable", nil, alice)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("claimable: %d %s", res.StatusCode, string(data))
	}
	counts := decode[domain.ClaimableCounts](t, data)
	if counts.OpenAnnotations != 1 || counts.OpenReviews != 1 {
		t.Fatalf("unexpected counts %+v", counts)
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/projects/"+project.ID+"/claim/review", nil, alice)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("claim review: %d %s", res.StatusCode, string(data))
	}
	review := decode[domain.Task](t, data)
	if review.Action != domain.ActionReview || review.CopiedFrom == nil || *review.CopiedFrom != first.ID {
		t.Fatalf("unexpected review %+v", review)
	}
}

func TestAnnotationEndpoints(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()
	project := createProject(t, srv, false)
	task := createTask(t, srv, project.ID, "pair")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/corpora", map[string]any{"name": "news", "meta": map[string]any{"lang": "en"}}, alice)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create corpus: %d %s", res.StatusCode, string(data))
	}
	corpus := decode[domain.Corpus](t, data)
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/corpora/"+corpus.ID+"/documents", map[string]any{"documents": []string{"a", "b"}}, alice)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create documents: %d %s", res.StatusCode, string(data))
	}
	docs := decode[DocumentsResponse](t, data).Documents

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+project.ID+"/labels", map[string]any{"name": "same"}, alice)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create label: %d %s", res.StatusCode, string(data))
	}
	label := decode[domain.Label](t, data)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+task.ID+"/annotations", map[string]any{}, alice)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create annotation: %d %s", res.StatusCode, string(data))
	}
	annotation := decode[domain.Annotation](t, data)
	base := srv.URL + "/v0/annotations/" + annotation.ID

	res, data = doJSON(t, client, http.MethodPost, base+"/documents", map[string]any{"documents": []string{docs[0].ID, docs[1].ID}}, alice)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("add documents: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodDelete, base+"/documents", map[string]any{"documents": []string{docs[0].ID}}, alice)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("remove documents: %d %s", res.StatusCode, string(data))
	}
	if a := decode[domain.Annotation](t, data); len(a.DocumentIDs) != 1 || a.DocumentIDs[0] != docs[1].ID {
		t.Fatalf("unexpected documents %v", a.DocumentIDs)
	}
	res, data = doJSON(t, client, http.MethodPost, base+"/labels", map[string]any{"labels": []string{label.ID}, "role": "reviewer"}, bob)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("add labels: %d %s", res.StatusCode, string(data))
	}
	if a := decode[domain.Annotation](t, data); len(a.ReviewerLabelIDs) != 1 {
		t.Fatalf("unexpected reviewer labels %v", a.ReviewerLabelIDs)
	}
	res, data = doJSON(t, client, http.MethodPost, base+"/labels", map[string]any{"labels": []string{"missing"}}, alice)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected bad request for unknown label, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks/"+task.ID, nil, alice)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get task: %d %s", res.StatusCode, string(data))
	}
	if detail := decode[TaskDetailResponse](t, data); len(detail.Annotations) != 1 {
		t.Fatalf("expected one annotation, got %d", len(detail.Annotations))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/"+project.ID+"/stats/productivity?granularity=minute", nil, alice)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("productivity: %d %s", res.StatusCode, string(data))
	}
	prod := decode[ProductivityResponse](t, data)
	laps := 0
	for _, b := range prod.Buckets {
		laps += b.Laps
	}
	if laps != 3 {
		t.Fatalf("expected 3 laps, got %d (%s)", laps, string(data))
	}
}

func TestDocumentsReportFeatureFailures(t *testing.T) {
	reg := features.DefaultRegistry()
	if err := reg.Register("explode", func(context.Context, domain.Document) ([]byte, error) {
		return nil, errors.New("boom")
	}); err != nil {
		t.Fatal(err)
	}
	srv := newTestServer(t, engine.WithRegistry(reg))
	client := srv.Client()

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/corpora", map[string]any{"name": "news"}, alice)
	corpus := decode[domain.Corpus](t, data)
	for _, key := range []string{"length", "explode"} {
		res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/corpora/"+corpus.ID+"/features", map[string]any{"name": key, "key": key}, alice)
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("create feature %s: %d %s", key, res.StatusCode, string(data))
		}
	}
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/corpora/"+corpus.ID+"/features", map[string]any{"name": "x", "key": "nope"}, alice)
	if res.StatusCode != http.StatusUnprocessableEntity || errorCode(t, data) != "unknown_feature_key" {
		t.Fatalf("expected unknown_feature_key, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/corpora/"+corpus.ID+"/documents", map[string]any{"documents": []string{"abc"}}, alice)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create documents: %d %s", res.StatusCode, string(data))
	}
	out := decode[DocumentsResponse](t, data)
	if len(out.Documents) != 1 || len(out.Failures) != 1 {
		t.Fatalf("unexpected response %s", string(data))
	}
	if out.Failures[0].Key != "explode" || !strings.Contains(out.Failures[0].Error, "boom") {
		t.Fatalf("unexpected failure %+v", out.Failures[0])
	}

	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/corpora/"+corpus.ID, nil, alice)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete corpus: %d %s", res.StatusCode, string(data))
	}
}

func TestAnnotatorStatsAndEvents(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()
	project := createProject(t, srv, false)
	for _, name := range []string{"one", "two", "three"} {
		createTask(t, srv, project.ID, name)
	}
	res, data := doJSON(t, client, http.MethodPatch, srv.URL+"/v0/projects/"+project.ID+"/claim/annotation", nil, bob)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("claim: %d %s", res.StatusCode, string(data))
	}
	claimed := decode[domain.Task](t, data)
	doJSON(t, client, http.MethodPatch, srv.URL+"/v0/projects/"+project.ID+"/tasks/"+claimed.ID, map[string]any{"is_annotated": true}, bob)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/"+project.ID+"/stats/annotators?action=ANNOTATION", nil, alice)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("stats: %d %s", res.StatusCode, string(data))
	}
	st := decode[AnnotatorStatsResponse](t, data)
	if st.TotalTasks != 3 || st.Annotators["bob"].Finished != 1 || st.Annotators["unclaimed"].Open != 2 {
		t.Fatalf("unexpected stats %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/"+project.ID+"/events?limit=2", nil, alice)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events: %d %s", res.StatusCode, string(data))
	}
	page := decode[paginatedEvents](t, data)
	if len(page.Items) != 2 || page.NextCursor == "" {
		t.Fatalf("expected a full page with a cursor, got %s", string(data))
	}
	if page.Items[0].Type != "task.updated" {
		t.Fatalf("expected newest event first, got %s", page.Items[0].Type)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/"+project.ID+"/events?limit=2&cursor="+page.NextCursor, nil, alice)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events page 2: %d %s", res.StatusCode, string(data))
	}
	next := decode[paginatedEvents](t, data)
	if len(next.Items) == 0 || next.Items[0].ID >= page.Items[1].ID {
		t.Fatalf("second page should continue below the cursor: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/"+project.ID+"/events", nil, mallory)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected forbidden events, got %d %s", res.StatusCode, string(data))
	}
}

func TestSeedTasksAndDocumentRoutes(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()
	project := createProject(t, srv, false)

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/corpora", map[string]any{"name": "pool"}, alice)
	corpus := decode[domain.Corpus](t, data)
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/corpora/"+corpus.ID+"/documents", map[string]any{"documents": []string{"a", "b", "c"}}, alice)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create documents: %d %s", res.StatusCode, string(data))
	}
	docs := decode[DocumentsResponse](t, data).Documents

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+project.ID+"/tasks/seed", map[string]any{"corpus_id": corpus.ID, "task_size": 0}, alice)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("zero task size: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+project.ID+"/tasks/seed", map[string]any{"corpus_id": corpus.ID, "task_size": 2}, mallory)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("outsider seed: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+project.ID+"/tasks/seed", map[string]any{"corpus_id": corpus.ID, "task_size": 2}, alice)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("seed: %d %s", res.StatusCode, string(data))
	}
	tasks := decode[[]domain.Task](t, data)
	if len(tasks) != 2 || tasks[0].Name != "P"+project.ID+"T0" || tasks[1].Name != "P"+project.ID+"T1" {
		t.Fatalf("unexpected seeded tasks %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/corpora", nil, alice)
	if res.StatusCode != http.StatusOK || len(decode[[]domain.Corpus](t, data)) != 1 {
		t.Fatalf("list corpora: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/documents/"+docs[0].ID, nil, alice)
	if res.StatusCode != http.StatusOK || decode[domain.Document](t, data).Content != "a" {
		t.Fatalf("get document: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/documents/"+docs[0].ID, nil, alice)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete document: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/documents/"+docs[0].ID, nil, alice)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("deleted document still served: %d %s", res.StatusCode, string(data))
	}
}
