package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"dualtext/internal/db"
	"dualtext/internal/domain"
	apperrors "dualtext/internal/errors"
	"dualtext/internal/events"
)

func (e Engine) CreateCorpus(ctx context.Context, name, metaJSON, actorID string) (domain.Corpus, error) {
	if strings.TrimSpace(name) == "" {
		return domain.Corpus{}, invalid("name is required")
	}
	if metaJSON != "" && !json.Valid([]byte(metaJSON)) {
		return domain.Corpus{}, invalid("meta must be valid JSON")
	}
	c := domain.Corpus{ID: domain.NewID(), Name: name, MetaJSON: metaJSON, CreatedAt: domain.FormatTime(e.now())}
	if c.MetaJSON == "" {
		c.MetaJSON = "{}"
	}
	err := e.inTx(ctx, "create corpus", func(tx *sql.Tx) error {
		if err := e.Repo.InsertCorpus(ctx, tx, c); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "corpus.created", "", "corpus", c.ID, actorID, events.EventPayload{"name": name})
	})
	if err != nil {
		return domain.Corpus{}, err
	}
	return c, nil
}

// CreateDocuments stores the contents in one transaction, then emits one
// DocumentsCreated for the committed batch. The documents are
// returned even when materialization reports failures.
func (e Engine) CreateDocuments(ctx context.Context, corpusID string, contents []string, actorID string) (docs []domain.Document, err error) {
	ctx, span := startSpan(ctx, "engine.create_documents",
		attribute.String("corpus.id", corpusID),
		attribute.Int("documents.count", len(contents)))
	defer func() { endSpan(span, err) }()

	if len(contents) == 0 {
		return nil, invalid("at least one document is required")
	}
	now := domain.FormatTime(e.now())
	docs = make([]domain.Document, len(contents))
	for i, content := range contents {
		docs[i] = domain.Document{ID: domain.NewID(), CorpusID: corpusID, Content: content, CreatedAt: now}
	}
	err = e.inTx(ctx, "create documents", func(tx *sql.Tx) error {
		if _, err := e.Repo.GetCorpus(ctx, tx, corpusID); err != nil {
			return lookup(err, "corpus", corpusID)
		}
		for _, d := range docs {
			if err := e.Repo.InsertDocument(ctx, tx, d); err != nil {
				return err
			}
		}
		return e.Events.Append(ctx, tx, "documents.created", "", "corpus", corpusID, actorID, events.EventPayload{"count": len(docs)})
	})
	if err != nil {
		return nil, err
	}
	return docs, e.Dispatcher.Emit(ctx, events.DocumentsCreated{ActorID: actorID, Documents: docs})
}

func (e Engine) ListCorpora(ctx context.Context) ([]domain.Corpus, error) {
	return e.Repo.ListCorpora(ctx)
}

func (e Engine) GetDocument(ctx context.Context, documentID string) (domain.Document, error) {
	d, err := e.Repo.GetDocument(ctx, e.DB, documentID)
	if err != nil {
		return domain.Document{}, lookup(err, "document", documentID)
	}
	return d, nil
}

// DeleteDocument removes one document. Its feature values and annotation
// links go with it through the foreign key cascade.
func (e Engine) DeleteDocument(ctx context.Context, documentID, actorID string) error {
	return e.inTx(ctx, "delete document", func(tx *sql.Tx) error {
		d, err := e.Repo.GetDocument(ctx, tx, documentID)
		if err != nil {
			return lookup(err, "document", documentID)
		}
		if err := e.Repo.DeleteDocument(ctx, tx, documentID); err != nil {
			return lookup(err, "document", documentID)
		}
		return e.Events.Append(ctx, tx, "document.deleted", "", "document", documentID, actorID, events.EventPayload{"corpus_id": d.CorpusID})
	})
}

// DeleteCorpus removes the corpus. Feature values are cleared inside the same
// transaction before the cascade runs.
func (e Engine) DeleteCorpus(ctx context.Context, corpusID, actorID string) error {
	return e.inTx(ctx, "delete corpus", func(tx *sql.Tx) error {
		c, err := e.Repo.GetCorpus(ctx, tx, corpusID)
		if err != nil {
			return lookup(err, "corpus", corpusID)
		}
		if err := e.Dispatcher.Emit(ctx, events.CorpusDeleting{Tx: tx, ActorID: actorID, Corpus: c}); err != nil {
			return err
		}
		if err := e.Repo.DeleteCorpus(ctx, tx, corpusID); err != nil {
			return lookup(err, "corpus", corpusID)
		}
		return e.Events.Append(ctx, tx, "corpus.deleted", "", "corpus", corpusID, actorID, events.EventPayload{"name": c.Name})
	})
}

// FeatureOptions describe a feature to register on a corpus.
type FeatureOptions struct {
	CorpusID    string
	Name        string
	Description string
	Key         string
	ActorID     string
}

// AddFeature registers a feature and backfills it over the corpus's existing
// documents. The feature is returned even when the backfill reports failures.
func (e Engine) AddFeature(ctx context.Context, opts FeatureOptions) (domain.Feature, error) {
	if strings.TrimSpace(opts.Name) == "" {
		return domain.Feature{}, invalid("name is required")
	}
	if _, err := e.Features.Registry.Lookup(opts.Key); err != nil {
		return domain.Feature{}, err
	}
	f := domain.Feature{
		ID:          domain.NewID(),
		CorpusID:    opts.CorpusID,
		Name:        opts.Name,
		Description: opts.Description,
		Key:         opts.Key,
		CreatedAt:   domain.FormatTime(e.now()),
	}
	err := e.inTx(ctx, "add feature", func(tx *sql.Tx) error {
		if _, err := e.Repo.GetCorpus(ctx, tx, opts.CorpusID); err != nil {
			return lookup(err, "corpus", opts.CorpusID)
		}
		if err := e.Repo.InsertFeature(ctx, tx, f); err != nil {
			if db.IsUniqueViolation(err) {
				return apperrors.Wrap(apperrors.CodeInvalidArgument, fmt.Sprintf("corpus already has a %s feature", opts.Key), err)
			}
			return err
		}
		return e.Events.Append(ctx, tx, "feature.created", "", "feature", f.ID, opts.ActorID, events.EventPayload{"key": f.Key, "corpus_id": f.CorpusID})
	})
	if err != nil {
		return domain.Feature{}, err
	}
	if _, err := e.Features.MaterializeFeature(ctx, f); err != nil {
		return f, err
	}
	return f, nil
}

// FeatureValue returns the stored value of a feature for a document.
func (e Engine) FeatureValue(ctx context.Context, featureID, documentID string) (domain.FeatureValue, error) {
	v, err := e.Repo.GetFeatureValue(ctx, e.DB, featureID, documentID)
	if err != nil {
		return domain.FeatureValue{}, lookup(err, "feature_value", featureID+"/"+documentID)
	}
	return v, nil
}

func (e Engine) CreateLabel(ctx context.Context, projectID, name, color string, user domain.User) (domain.Label, error) {
	if strings.TrimSpace(name) == "" {
		return domain.Label{}, invalid("name is required")
	}
	l := domain.Label{ID: domain.NewID(), ProjectID: projectID, Name: name, Color: color, CreatedAt: domain.FormatTime(e.now())}
	err := e.inTx(ctx, "create label", func(tx *sql.Tx) error {
		if err := e.Auth.RequireMember(ctx, tx, projectID, user); err != nil {
			return err
		}
		if err := e.Repo.InsertLabel(ctx, tx, l); err != nil {
			if db.IsUniqueViolation(err) {
				return apperrors.Wrap(apperrors.CodeInvalidArgument, "label "+name+" already exists", err)
			}
			return err
		}
		return e.Events.Append(ctx, tx, "label.created", projectID, "label", l.ID, user.ID, events.EventPayload{"name": name})
	})
	if err != nil {
		return domain.Label{}, err
	}
	return l, nil
}
