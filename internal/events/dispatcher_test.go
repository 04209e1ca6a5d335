package events_test

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"dualtext/internal/domain"
	"dualtext/internal/events"
)

func TestDispatcherRunsHandlersInOrder(t *testing.T) {
	d := events.NewDispatcher()
	var order []string
	events.On(d, "first", func(ctx context.Context, evt events.DocumentsCreated) error {
		order = append(order, "first:"+evt.Documents[0].ID)
		return nil
	})
	events.On(d, "second", func(ctx context.Context, evt events.DocumentsCreated) error {
		order = append(order, "second:"+evt.Documents[0].ID)
		return nil
	})
	events.On(d, "other-kind", func(ctx context.Context, evt events.CorpusDeleting) error {
		order = append(order, "corpus")
		return nil
	})

	if err := d.Emit(context.Background(), events.DocumentsCreated{Documents: []domain.Document{{ID: "doc-1"}}}); err != nil {
		t.Fatalf("emit: %v", err)
	}
	want := []string{"first:doc-1", "second:doc-1"}
	if !reflect.DeepEqual(order, want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	if got := d.Handlers(events.KindDocumentsCreated); !reflect.DeepEqual(got, []string{"first", "second"}) {
		t.Fatalf("handlers = %v", got)
	}
}

func TestDispatcherIsolatesFailures(t *testing.T) {
	d := events.NewDispatcher()
	boom := errors.New("boom")
	ran := false
	events.On(d, "failing", func(ctx context.Context, evt events.DocumentsCreated) error {
		return boom
	})
	events.On(d, "after", func(ctx context.Context, evt events.DocumentsCreated) error {
		ran = true
		return nil
	})

	err := d.Emit(context.Background(), events.DocumentsCreated{})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if !ran {
		t.Fatalf("handler after failure did not run")
	}
	var he *events.HandlerError
	if !errors.As(err, &he) || he.Handler != "failing" || he.Kind != events.KindDocumentsCreated {
		t.Fatalf("expected handler error for failing, got %#v", he)
	}
}

func TestDispatcherNoHandlers(t *testing.T) {
	d := events.NewDispatcher()
	if err := d.Emit(context.Background(), events.AnnotationChanged{}); err != nil {
		t.Fatalf("emit with no handlers: %v", err)
	}
	var nilDispatcher *events.Dispatcher
	if err := nilDispatcher.Emit(context.Background(), events.AnnotationChanged{}); err != nil {
		t.Fatalf("nil dispatcher: %v", err)
	}
}

func TestDispatcherStopsOnCanceledContext(t *testing.T) {
	d := events.NewDispatcher()
	called := false
	events.On(d, "h", func(ctx context.Context, evt events.DocumentsCreated) error {
		called = true
		return nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := d.Emit(ctx, events.DocumentsCreated{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if called {
		t.Fatalf("handler ran after cancellation")
	}
}
