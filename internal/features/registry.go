package features

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	apperrors "dualtext/internal/errors"
	"dualtext/internal/domain"
)

// Strategy computes the stored payload of one feature for one document.
type Strategy func(ctx context.Context, doc domain.Document) ([]byte, error)

// Registry maps feature keys to strategies. It is filled at startup.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

func NewRegistry() *Registry {
	return &Registry{strategies: make(map[string]Strategy)}
}

// DefaultRegistry holds the compiled-in strategies.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	_ = r.Register("length", Length)
	_ = r.Register("word_count", WordCount)
	_ = r.Register("sentence_count", SentenceCount)
	_ = r.Register("fingerprint", Fingerprint)
	return r
}

func (r *Registry) Register(key string, s Strategy) error {
	key = strings.TrimSpace(key)
	if key == "" || s == nil {
		return fmt.Errorf("feature strategy requires a key and a function")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.strategies[key]; ok {
		return fmt.Errorf("feature key %s already registered", key)
	}
	r.strategies[key] = s
	return nil
}

// Alias exposes an existing strategy under another key.
func (r *Registry) Alias(alias, key string) error {
	s, err := r.Lookup(key)
	if err != nil {
		return err
	}
	return r.Register(alias, s)
}

// Lookup fails with an UNKNOWN_FEATURE_KEY error for unregistered keys.
func (r *Registry) Lookup(key string) (Strategy, error) {
	r.mu.RLock()
	s, ok := r.strategies[key]
	r.mu.RUnlock()
	if !ok {
		return nil, apperrors.WithMetadata(apperrors.CodeUnknownFeatureKey,
			fmt.Sprintf("no strategy registered for feature key %q", key), map[string]string{"key": key})
	}
	return s, nil
}

func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.strategies))
	for k := range r.strategies {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func Length(_ context.Context, doc domain.Document) ([]byte, error) {
	return []byte(strconv.Itoa(utf8.RuneCountInString(doc.Content))), nil
}

func WordCount(_ context.Context, doc domain.Document) ([]byte, error) {
	return []byte(strconv.Itoa(len(strings.Fields(doc.Content)))), nil
}

func SentenceCount(_ context.Context, doc domain.Document) ([]byte, error) {
	n := 0
	inSentence := false
	for _, r := range doc.Content {
		switch {
		case r == '.' || r == '!' || r == '?':
			if inSentence {
				n++
			}
			inSentence = false
		case !unicode.IsSpace(r):
			inSentence = true
		}
	}
	if inSentence {
		n++
	}
	return []byte(strconv.Itoa(n)), nil
}

func Fingerprint(_ context.Context, doc domain.Document) ([]byte, error) {
	sum := sha256.Sum256([]byte(doc.Content))
	return []byte(hex.EncodeToString(sum[:])), nil
}
