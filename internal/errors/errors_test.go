package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("claim: %w", WithMetadata(CodeNoTaskAvailable, "nothing to claim in p1", map[string]string{"kind": "review"}))
	if !stderrors.Is(err, ErrNoTaskAvailable) {
		t.Fatalf("expected match by code")
	}
	if stderrors.Is(err, ErrNotFound) {
		t.Fatalf("different codes must not match")
	}
	if CodeOf(err) != CodeNoTaskAvailable || MetadataOf(err)["kind"] != "review" {
		t.Fatalf("code/metadata lost through wrapping")
	}
	if CodeOf(stderrors.New("plain")) != CodeUnknown || MetadataOf(nil) != nil {
		t.Fatalf("plain errors have no code")
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := stderrors.New("database is locked")
	err := Wrap(CodeStorageConflict, "claim", cause)
	if err.Error() != "claim: database is locked" {
		t.Fatalf("message = %q", err.Error())
	}
	if !stderrors.Is(err, cause) || !Retryable(err) {
		t.Fatalf("storage conflict should unwrap and be retryable")
	}
	if Retryable(ErrForbidden) {
		t.Fatalf("forbidden is not retryable")
	}
}
