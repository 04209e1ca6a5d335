package features

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"dualtext/internal/domain"
	apperrors "dualtext/internal/errors"
)

func TestDefaultStrategies(t *testing.T) {
	ctx := context.Background()
	doc := domain.Document{ID: "d1", Content: "Héllo there. How are you? Fine"}
	cases := []struct {
		key  string
		want string
	}{
		{"length", "30"},
		{"word_count", "6"},
		{"sentence_count", "3"},
	}
	reg := DefaultRegistry()
	for _, tc := range cases {
		t.Run(tc.key, func(t *testing.T) {
			s, err := reg.Lookup(tc.key)
			if err != nil {
				t.Fatal(err)
			}
			got, err := s(ctx, doc)
			if err != nil {
				t.Fatal(err)
			}
			if string(got) != tc.want {
				t.Fatalf("%s: got %s want %s", tc.key, got, tc.want)
			}
		})
	}

	a, _ := Fingerprint(ctx, domain.Document{Content: "x"})
	b, _ := Fingerprint(ctx, domain.Document{Content: "x"})
	c, _ := Fingerprint(ctx, domain.Document{Content: "y"})
	if string(a) != string(b) || string(a) == string(c) || len(a) != 64 {
		t.Fatalf("fingerprint should be a stable sha256 hex digest")
	}
}

func TestRegistryRejectsDuplicatesAndUnknownKeys(t *testing.T) {
	reg := DefaultRegistry()
	if err := reg.Register("length", Length); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
	if err := reg.Register(" ", Length); err == nil {
		t.Fatalf("expected blank key to fail")
	}
	if err := reg.Alias("chars", "length"); err != nil {
		t.Fatalf("alias: %v", err)
	}
	if err := reg.Alias("x", "missing"); !errors.Is(err, apperrors.ErrUnknownFeatureKey) {
		t.Fatalf("alias of unknown key: %v", err)
	}

	_, err := reg.Lookup("nope")
	if !errors.Is(err, apperrors.ErrUnknownFeatureKey) {
		t.Fatalf("expected unknown feature key, got %v", err)
	}
	if md := apperrors.MetadataOf(err); md["key"] != "nope" {
		t.Fatalf("missing key metadata: %v", md)
	}

	keys := reg.Keys()
	want := []string{"chars", "fingerprint", "length", "sentence_count", "word_count"}
	if fmt.Sprint(keys) != fmt.Sprint(want) {
		t.Fatalf("keys = %v", keys)
	}
}

func TestFailuresWalksWrappedReports(t *testing.T) {
	boom := errors.New("boom")
	report := Report{DocumentID: "d1", Failures: []Failure{{FeatureID: "f1", FeatureKey: "explode", DocumentID: "d1", Err: boom}}}
	if (Report{DocumentID: "d2"}).Err() != nil {
		t.Fatalf("clean report should not error")
	}
	err := fmt.Errorf("create documents: %w", errors.Join(errors.New("other"), report.Err()))

	got := Failures(err)
	if len(got) != 1 || got[0].FeatureKey != "explode" {
		t.Fatalf("unexpected failures %+v", got)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("report error should unwrap to the strategy error")
	}
	if Failures(errors.New("plain")) != nil {
		t.Fatalf("plain errors carry no failures")
	}
}
