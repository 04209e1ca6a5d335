package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"dualtext/internal/audit"
	"dualtext/internal/config"
	"dualtext/internal/db"
	"dualtext/internal/engine/auth"
	apperrors "dualtext/internal/errors"
	"dualtext/internal/events"
	"dualtext/internal/features"
	"dualtext/internal/repo"
)

var tracer = otel.Tracer("dualtext/engine")

type Engine struct {
	DB         *sql.DB
	Repo       repo.Repo
	Events     events.Writer
	Dispatcher *events.Dispatcher
	Auth       auth.Service
	Trail      audit.Trail
	Features   features.Materializer
	Config     *config.Config
	Logger     *log.Logger
	Now        func() time.Time
}

type Option func(*Engine)

func WithLogger(l *log.Logger) Option {
	return func(e *Engine) { e.Logger = l }
}

// WithRegistry replaces the compiled-in feature strategies.
func WithRegistry(r *features.Registry) Option {
	return func(e *Engine) { e.Features.Registry = r }
}

// WithClock fixes the time source for the engine and its event log.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.Now = now }
}

// New wires the engine and registers the reactive handlers on a fresh
// dispatcher. Handler order per event is fixed here.
func New(conn *sql.DB, cfg *config.Config, opts ...Option) (Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	r := repo.Repo{DB: conn}
	e := Engine{
		DB:         conn,
		Repo:       r,
		Dispatcher: events.NewDispatcher(),
		Auth:       auth.Service{Repo: r},
		Trail:      audit.Trail{Repo: r},
		Config:     cfg,
		Logger:     log.Default(),
		Now:        time.Now,
	}
	e.Features = features.Materializer{DB: conn, Repo: r, Registry: features.DefaultRegistry(), Workers: cfg.Features.Workers}
	for _, opt := range opts {
		opt(&e)
	}
	e.Events = events.Writer{Now: e.Now}
	e.Features.Logger = e.Logger
	e.Features.Now = e.Now
	for alias, key := range cfg.Features.Aliases {
		if err := e.Features.Registry.Alias(alias, key); err != nil {
			return Engine{}, fmt.Errorf("feature alias %s: %w", alias, err)
		}
	}

	events.On(e.Dispatcher, "lifecycle.spawn_review", e.spawnReview)
	events.On(e.Dispatcher, "lifecycle.close_runs", e.closeRuns)
	e.Trail.Register(e.Dispatcher)
	e.Features.Register(e.Dispatcher)
	return e, nil
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) logger() *log.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return log.Default()
}

// inTx runs fn in a write transaction, retrying on SQLite lock contention
// with linear backoff. Each attempt is bounded by claim.lock_wait.
func (e Engine) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	maxRetries, base, wait := 8, 10*time.Millisecond, time.Duration(0)
	if e.Config != nil {
		maxRetries = e.Config.Claim.MaxRetries
		base = e.Config.Claim.RetryBaseDelay
		wait = e.Config.Claim.LockWait
	}
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := e.attempt(ctx, wait, fn)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !db.IsBusy(err) && !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		lastErr = err
		if attempt == maxRetries {
			break
		}
		timer := time.NewTimer(time.Duration(attempt+1) * base)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return apperrors.Wrap(apperrors.CodeStorageConflict,
		fmt.Sprintf("%s: store busy after %d attempts", op, maxRetries+1), lastErr)
}

func (e Engine) attempt(ctx context.Context, wait time.Duration, fn func(tx *sql.Tx) error) error {
	if wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, wait)
		defer cancel()
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return attemptErr(ctx, err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return attemptErr(ctx, err)
	}
	return attemptErr(ctx, tx.Commit())
}

// attemptErr marks failures caused by the attempt deadline (an interrupted
// statement) so inTx retries them.
func attemptErr(ctx context.Context, err error) error {
	if err == nil || ctx.Err() == nil || errors.Is(err, ctx.Err()) {
		return err
	}
	return fmt.Errorf("%w: %v", ctx.Err(), err)
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func notFound(kind, id string) error {
	return apperrors.WithMetadata(apperrors.CodeNotFound, kind+" not found", map[string]string{kind + "_id": id})
}

// lookup maps repo.ErrNotFound onto a coded error naming the entity.
func lookup(err error, kind, id string) error {
	if errors.Is(err, repo.ErrNotFound) {
		return notFound(kind, id)
	}
	return err
}

func invalid(msg string) error {
	return apperrors.New(apperrors.CodeInvalidArgument, msg)
}

// constraintError turns foreign key failures on caller-supplied ids into
// INVALID_ARGUMENT.
func constraintError(err error, msg string) error {
	if db.IsForeignKeyViolation(err) {
		return apperrors.Wrap(apperrors.CodeInvalidArgument, msg, err)
	}
	return err
}
