package engine_test

import (
	"context"
	"errors"
	"testing"

	"dualtext/internal/config"
	"dualtext/internal/domain"
	"dualtext/internal/engine"
	apperrors "dualtext/internal/errors"
	"dualtext/internal/features"
)

func TestDocumentsMaterializeCorpusFeatures(t *testing.T) {
	env := newTestEnv(t)
	corpus, err := env.Engine.CreateCorpus(env.Ctx, "news", `{"lang":"en"}`, "alice")
	if err != nil {
		t.Fatal(err)
	}
	feat, err := env.Engine.AddFeature(env.Ctx, engine.FeatureOptions{CorpusID: corpus.ID, Name: "words", Key: "word_count", ActorID: "alice"})
	if err != nil {
		t.Fatalf("add feature: %v", err)
	}
	docs, err := env.Engine.CreateDocuments(env.Ctx, corpus.ID, []string{"one two three", "four"}, "alice")
	if err != nil {
		t.Fatalf("create documents: %v", err)
	}
	v, err := env.Engine.FeatureValue(env.Ctx, feat.ID, docs[0].ID)
	if err != nil {
		t.Fatalf("feature value: %v", err)
	}
	if string(v.Value) != "3" {
		t.Fatalf("expected 3 words, got %q", v.Value)
	}
}

func TestAddFeatureBackfillsExistingDocuments(t *testing.T) {
	env := newTestEnv(t)
	corpus, err := env.Engine.CreateCorpus(env.Ctx, "news", "", "alice")
	if err != nil {
		t.Fatal(err)
	}
	docs, err := env.Engine.CreateDocuments(env.Ctx, corpus.ID, []string{"héllo"}, "alice")
	if err != nil {
		t.Fatal(err)
	}
	// "chars" is a default alias of length
	feat, err := env.Engine.AddFeature(env.Ctx, engine.FeatureOptions{CorpusID: corpus.ID, Name: "chars", Key: "chars", ActorID: "alice"})
	if err != nil {
		t.Fatalf("add feature: %v", err)
	}
	v, err := env.Engine.FeatureValue(env.Ctx, feat.ID, docs[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if string(v.Value) != "5" {
		t.Fatalf("expected rune length 5, got %q", v.Value)
	}
	_, err = env.Engine.AddFeature(env.Ctx, engine.FeatureOptions{CorpusID: corpus.ID, Name: "again", Key: "chars", ActorID: "alice"})
	if !errors.Is(err, apperrors.ErrInvalidArgument) {
		t.Fatalf("expected duplicate feature to be rejected, got %v", err)
	}
}

func TestAddFeatureRejectsUnknownKey(t *testing.T) {
	env := newTestEnv(t)
	corpus, err := env.Engine.CreateCorpus(env.Ctx, "news", "", "alice")
	if err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.AddFeature(env.Ctx, engine.FeatureOptions{CorpusID: corpus.ID, Name: "x", Key: "nope", ActorID: "alice"})
	if !errors.Is(err, apperrors.ErrUnknownFeatureKey) {
		t.Fatalf("expected unknown feature key, got %v", err)
	}
	if md := apperrors.MetadataOf(err); md["key"] != "nope" {
		t.Fatalf("expected key metadata, got %v", md)
	}
}

func TestFeatureFailureIsIsolated(t *testing.T) {
	reg := features.DefaultRegistry()
	if err := reg.Register("explode", func(context.Context, domain.Document) ([]byte, error) {
		return nil, errors.New("boom")
	}); err != nil {
		t.Fatal(err)
	}
	env := newTestEnvWith(t, config.Default(), engine.WithRegistry(reg))
	corpus, err := env.Engine.CreateCorpus(env.Ctx, "news", "", "alice")
	if err != nil {
		t.Fatal(err)
	}
	good, err := env.Engine.AddFeature(env.Ctx, engine.FeatureOptions{CorpusID: corpus.ID, Name: "len", Key: "length", ActorID: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	bad, err := env.Engine.AddFeature(env.Ctx, engine.FeatureOptions{CorpusID: corpus.ID, Name: "bad", Key: "explode", ActorID: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	// a feature whose key is no longer registered fails on its own too
	ghost := domain.Feature{ID: domain.NewID(), CorpusID: corpus.ID, Name: "ghost", Key: "ghost", CreatedAt: good.CreatedAt}
	if err := env.Engine.Repo.InsertFeature(env.Ctx, env.Engine.DB, ghost); err != nil {
		t.Fatal(err)
	}

	docs, err := env.Engine.CreateDocuments(env.Ctx, corpus.ID, []string{"abc", "de"}, "alice")
	if len(docs) != 2 {
		t.Fatalf("documents must be stored despite failures, got %d (%v)", len(docs), err)
	}
	failures := features.Failures(err)
	if len(failures) != 4 {
		t.Fatalf("expected 4 failures (2 docs x 2 features), got %d: %v", len(failures), err)
	}
	for _, f := range failures {
		if f.FeatureID != bad.ID && f.FeatureID != ghost.ID {
			t.Fatalf("unexpected failing feature %s", f.FeatureKey)
		}
		if f.FeatureID == ghost.ID && !errors.Is(f.Err, apperrors.ErrUnknownFeatureKey) {
			t.Fatalf("ghost failure should be unknown key, got %v", f.Err)
		}
	}
	for _, d := range docs {
		if _, err := env.Engine.FeatureValue(env.Ctx, good.ID, d.ID); err != nil {
			t.Fatalf("healthy feature missing for %s: %v", d.ID, err)
		}
		if _, err := env.Engine.FeatureValue(env.Ctx, bad.ID, d.ID); !errors.Is(err, apperrors.ErrNotFound) {
			t.Fatalf("failed feature should have no value, got %v", err)
		}
	}
}

func TestDeleteCorpusRemovesFeatureValues(t *testing.T) {
	env := newTestEnv(t)
	corpus, err := env.Engine.CreateCorpus(env.Ctx, "news", "", "alice")
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"length", "fingerprint"} {
		if _, err := env.Engine.AddFeature(env.Ctx, engine.FeatureOptions{CorpusID: corpus.ID, Name: key, Key: key, ActorID: "alice"}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := env.Engine.CreateDocuments(env.Ctx, corpus.ID, []string{"a", "b", "c"}, "alice"); err != nil {
		t.Fatal(err)
	}
	n, err := env.Engine.Repo.CountCorpusFeatureValues(env.Ctx, env.Engine.DB, corpus.ID)
	if err != nil || n != 6 {
		t.Fatalf("expected 6 values before delete, got %d (%v)", n, err)
	}

	if err := env.Engine.DeleteCorpus(env.Ctx, corpus.ID, "alice"); err != nil {
		t.Fatalf("delete corpus: %v", err)
	}
	var left int
	if err := env.Engine.DB.QueryRowContext(env.Ctx, `SELECT COUNT(*) FROM feature_values`).Scan(&left); err != nil {
		t.Fatal(err)
	}
	if left != 0 {
		t.Fatalf("expected no feature values left, got %d", left)
	}
	if err := env.Engine.DeleteCorpus(env.Ctx, corpus.ID, "alice"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestCreateCorpusRejectsBadMeta(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateCorpus(env.Ctx, "news", "{not json", "alice"); !errors.Is(err, apperrors.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if _, err := env.Engine.CreateDocuments(env.Ctx, "missing", []string{"x"}, "alice"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected not found corpus, got %v", err)
	}
}

func TestDocumentDeletedWhileComputingIsSkipped(t *testing.T) {
	reg := features.DefaultRegistry()
	var env testEnv
	if err := reg.Register("vanish", func(ctx context.Context, doc domain.Document) ([]byte, error) {
		if err := env.Engine.DeleteDocument(ctx, doc.ID, "alice"); err != nil {
			return nil, err
		}
		return []byte("gone"), nil
	}); err != nil {
		t.Fatal(err)
	}
	env = newTestEnvWith(t, config.Default(), engine.WithRegistry(reg))
	corpus, err := env.Engine.CreateCorpus(env.Ctx, "news", "", "alice")
	if err != nil {
		t.Fatal(err)
	}
	feat, err := env.Engine.AddFeature(env.Ctx, engine.FeatureOptions{CorpusID: corpus.ID, Name: "vanish", Key: "vanish", ActorID: "alice"})
	if err != nil {
		t.Fatal(err)
	}

	docs, err := env.Engine.CreateDocuments(env.Ctx, corpus.ID, []string{"short lived"}, "alice")
	if err != nil {
		t.Fatalf("a lost race is not a failure, got %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected the created document back, got %d", len(docs))
	}
	if _, err := env.Engine.GetDocument(env.Ctx, docs[0].ID); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("document should be gone, got %v", err)
	}

	doc := domain.Document{ID: domain.NewID(), CorpusID: corpus.ID, Content: "again", CreatedAt: feat.CreatedAt}
	if err := env.Engine.Repo.InsertDocument(env.Ctx, env.Engine.DB, doc); err != nil {
		t.Fatal(err)
	}
	reports, err := env.Engine.Features.MaterializeDocuments(env.Ctx, []domain.Document{doc})
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	if len(reports) != 1 || len(reports[0].Skipped) != 1 || reports[0].Skipped[0] != feat.ID {
		t.Fatalf("expected %s skipped, got %+v", feat.ID, reports)
	}
	if len(reports[0].Failures) != 0 || len(reports[0].Computed) != 0 {
		t.Fatalf("skipped feature must be neither failed nor computed: %+v", reports[0])
	}
}

func TestDeleteDocumentCascadesFeatureValues(t *testing.T) {
	env := newTestEnv(t)
	corpus, err := env.Engine.CreateCorpus(env.Ctx, "news", `{"lang":"de"}`, "alice")
	if err != nil {
		t.Fatal(err)
	}
	feat, err := env.Engine.AddFeature(env.Ctx, engine.FeatureOptions{CorpusID: corpus.ID, Name: "len", Key: "length", ActorID: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	docs, err := env.Engine.CreateDocuments(env.Ctx, corpus.ID, []string{"a", "bb"}, "alice")
	if err != nil {
		t.Fatal(err)
	}
	got, err := env.Engine.GetDocument(env.Ctx, docs[1].ID)
	if err != nil || got.Content != "bb" || got.CorpusID != corpus.ID {
		t.Fatalf("get document: %+v %v", got, err)
	}

	if err := env.Engine.DeleteDocument(env.Ctx, docs[0].ID, "alice"); err != nil {
		t.Fatalf("delete document: %v", err)
	}
	if _, err := env.Engine.FeatureValue(env.Ctx, feat.ID, docs[0].ID); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("feature value should follow its document, got %v", err)
	}
	if _, err := env.Engine.FeatureValue(env.Ctx, feat.ID, docs[1].ID); err != nil {
		t.Fatalf("other document's value must stay: %v", err)
	}
	if err := env.Engine.DeleteDocument(env.Ctx, docs[0].ID, "alice"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}

	corpora, err := env.Engine.ListCorpora(env.Ctx)
	if err != nil || len(corpora) != 1 || corpora[0].MetaJSON != `{"lang":"de"}` {
		t.Fatalf("list corpora: %+v %v", corpora, err)
	}
}
