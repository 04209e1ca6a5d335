package features

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"dualtext/internal/db"
	"dualtext/internal/domain"
	"dualtext/internal/events"
	"dualtext/internal/repo"
)

var tracer = otel.Tracer("dualtext/features")

// Failure is one feature that could not be computed for one document.
type Failure struct {
	FeatureID  string
	FeatureKey string
	DocumentID string
	Err        error
}

// Report is the outcome of materializing one document.
type Report struct {
	DocumentID string
	Computed   []string
	// Skipped lists features whose write lost a race with document deletion.
	Skipped  []string
	Failures []Failure
}

// Err returns nil when every feature was computed or skipped.
func (r Report) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	return &ReportError{Reports: []Report{r}}
}

// ReportError carries per-document failure reports.
type ReportError struct {
	Reports []Report
}

func (e *ReportError) Error() string {
	var parts []string
	for _, r := range e.Reports {
		for _, f := range r.Failures {
			parts = append(parts, fmt.Sprintf("document %s feature %s (%s): %v", f.DocumentID, f.FeatureID, f.FeatureKey, f.Err))
		}
	}
	return "feature materialization failed: " + strings.Join(parts, "; ")
}

func (e *ReportError) Unwrap() []error {
	var errs []error
	for _, r := range e.Reports {
		for _, f := range r.Failures {
			errs = append(errs, f.Err)
		}
	}
	return errs
}

// Materializer keeps feature values in step with documents and corpora.
type Materializer struct {
	DB       *sql.DB
	Repo     repo.Repo
	Registry *Registry
	Logger   *log.Logger
	// Workers bounds per-document parallelism.
	Workers int
	Now     func() time.Time
}

func (m Materializer) logger() *log.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return log.Default()
}

func (m Materializer) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func (m Materializer) workers() int {
	if m.Workers > 0 {
		return m.Workers
	}
	return 1
}

// OnDocumentCreated computes and upserts every feature of the document's
// corpus. Failures are collected per feature; the error return is reserved
// for storage problems that prevented the run altogether.
func (m Materializer) OnDocumentCreated(ctx context.Context, doc domain.Document) (Report, error) {
	feats, err := m.Repo.ListFeatures(ctx, m.DB, doc.CorpusID)
	if err != nil {
		return Report{DocumentID: doc.ID}, fmt.Errorf("list features for corpus %s: %w", doc.CorpusID, err)
	}
	return m.materialize(ctx, doc, feats), nil
}

func (m Materializer) materialize(ctx context.Context, doc domain.Document, feats []domain.Feature) Report {
	ctx, span := tracer.Start(ctx, "features.materialize", trace.WithAttributes(
		attribute.String("document.id", doc.ID),
		attribute.Int("features.count", len(feats)),
	))
	defer span.End()

	report := Report{DocumentID: doc.ID}
	for _, f := range feats {
		err := m.computeOne(ctx, doc, f)
		switch {
		case err == nil:
			report.Computed = append(report.Computed, f.ID)
		case errors.Is(err, errLostRace):
			m.logger().Printf("features: document %s removed while computing %s; skipped", doc.ID, f.Key)
			report.Skipped = append(report.Skipped, f.ID)
		default:
			m.logger().Printf("features: document=%s feature=%s key=%s err=%v", doc.ID, f.ID, f.Key, err)
			report.Failures = append(report.Failures, Failure{FeatureID: f.ID, FeatureKey: f.Key, DocumentID: doc.ID, Err: err})
		}
	}
	if len(report.Failures) > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d feature(s) failed", len(report.Failures)))
	}
	return report
}

var errLostRace = errors.New("document or feature deleted during computation")

func (m Materializer) computeOne(ctx context.Context, doc domain.Document, f domain.Feature) error {
	strategy, err := m.Registry.Lookup(f.Key)
	if err != nil {
		return err
	}
	value, err := strategy(ctx, doc)
	if err != nil {
		return fmt.Errorf("compute %s: %w", f.Key, err)
	}
	err = m.Repo.UpsertFeatureValue(ctx, m.DB, domain.FeatureValue{
		FeatureID:  f.ID,
		DocumentID: doc.ID,
		Value:      value,
		UpdatedAt:  domain.FormatTime(m.now()),
	})
	if db.IsForeignKeyViolation(err) {
		return errLostRace
	}
	return err
}

// MaterializeDocuments runs OnDocumentCreated for each document with bounded
// parallelism. Reports are returned in input order; a *ReportError joins the
// failed ones.
func (m Materializer) MaterializeDocuments(ctx context.Context, docs []domain.Document) ([]Report, error) {
	reports := make([]Report, len(docs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.workers())
	for i, doc := range docs {
		g.Go(func() error {
			report, err := m.OnDocumentCreated(gctx, doc)
			reports[i] = report
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return reports, err
	}
	return reports, joinReports(reports)
}

// MaterializeFeature backfills one feature over every document of its corpus.
func (m Materializer) MaterializeFeature(ctx context.Context, f domain.Feature) ([]Report, error) {
	docs, err := m.Repo.ListDocuments(ctx, m.DB, f.CorpusID)
	if err != nil {
		return nil, fmt.Errorf("list documents for corpus %s: %w", f.CorpusID, err)
	}
	reports := make([]Report, len(docs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.workers())
	for i, doc := range docs {
		g.Go(func() error {
			reports[i] = m.materialize(gctx, doc, []domain.Feature{f})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return reports, err
	}
	return reports, joinReports(reports)
}

// OnCorpusDeleting removes every feature value tied to the corpus. Rows
// already gone through document cascades are simply not counted.
func (m Materializer) OnCorpusDeleting(ctx context.Context, q repo.Querier, corpusID string) (int64, error) {
	n, err := m.Repo.DeleteCorpusFeatureValues(ctx, q, corpusID)
	if err != nil {
		return 0, fmt.Errorf("delete feature values of corpus %s: %w", corpusID, err)
	}
	return n, nil
}

// Register subscribes the materializer to document and corpus events.
func (m Materializer) Register(d *events.Dispatcher) {
	events.On(d, "features.materialize", func(ctx context.Context, evt events.DocumentsCreated) error {
		_, err := m.MaterializeDocuments(ctx, evt.Documents)
		return err
	})
	events.On(d, "features.remove_values", func(ctx context.Context, evt events.CorpusDeleting) error {
		var q repo.Querier = m.DB
		if evt.Tx != nil {
			q = evt.Tx
		}
		removed, err := m.OnCorpusDeleting(ctx, q, evt.Corpus.ID)
		if err != nil {
			return err
		}
		if removed > 0 {
			m.logger().Printf("features: removed %d value(s) of corpus %s", removed, evt.Corpus.ID)
		}
		return nil
	})
}

func joinReports(reports []Report) error {
	var failed []Report
	for _, r := range reports {
		if len(r.Failures) > 0 {
			failed = append(failed, r)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return &ReportError{Reports: failed}
}

// Failures collects every per-feature failure reported anywhere in err's tree.
func Failures(err error) []Failure {
	var out []Failure
	var walk func(error)
	walk = func(err error) {
		if err == nil {
			return
		}
		if re, ok := err.(*ReportError); ok {
			for _, r := range re.Reports {
				out = append(out, r.Failures...)
			}
			return
		}
		switch u := err.(type) {
		case interface{ Unwrap() []error }:
			for _, e := range u.Unwrap() {
				walk(e)
			}
		case interface{ Unwrap() error }:
			walk(u.Unwrap())
		}
	}
	walk(err)
	return out
}
