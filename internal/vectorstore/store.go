// Package vectorstore keeps chunk embeddings in lockstep with the metadata index.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
)

// Record is one chunk stored in the backend.
type Record struct {
	ID        string
	Text      string
	Metadata  map[string]string
	Embedding []float32
}

// Match is a query hit.
type Match struct {
	Record
	Score float64
}

// Filter selects records whose metadata equals every given key/value pair.
// An empty filter selects everything.
type Filter map[string]string

// Backend is the external vector store. Single calls are expected to be
// atomic; sequences of calls are not.
type Backend interface {
	// Upsert inserts or overwrites records by ID.
	Upsert(ctx context.Context, records []Record) error
	// Get returns the records matching filter, without embeddings.
	Get(ctx context.Context, filter Filter) ([]Record, error)
	DeleteIDs(ctx context.Context, ids []string) error
	DeleteWhere(ctx context.Context, filter Filter) error
	// Flush forces buffered writes to durable storage.
	Flush(ctx context.Context) error
	// Query returns the k records most similar to vector, best first.
	Query(ctx context.Context, vector []float32, filter Filter, k int) ([]Match, error)
	// DropCollection returns ErrCollectionNotFound when there is nothing to drop.
	DropCollection(ctx context.Context) error
	CreateCollection(ctx context.Context) error
	Persisted(ctx context.Context) bool
	Close() error
}

// ErrCollectionNotFound is returned by DropCollection when the collection is absent.
var ErrCollectionNotFound = errors.New("collection not found")

// ValidationError rejects a malformed insert batch or filter.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// StoreInconsistencyError reports records that survived every delete attempt,
// or orphan records found by a scan.
type StoreInconsistencyError struct {
	Filter    Filter
	Remaining int
}

func (e *StoreInconsistencyError) Error() string {
	return fmt.Sprintf("vector store inconsistent: %d records remain for filter %v", e.Remaining, map[string]string(e.Filter))
}

var filterKeyPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Validate checks that every key is a plain identifier, which backends rely
// on when building queries.
func (f Filter) Validate() error {
	for k := range f {
		if !filterKeyPattern.MatchString(k) {
			return &ValidationError{Field: "filter", Reason: fmt.Sprintf("bad key %q", k)}
		}
	}
	return nil
}

// Matches reports whether metadata satisfies f.
func (f Filter) Matches(metadata map[string]string) bool {
	for k, v := range f {
		got, ok := metadata[k]
		if !ok || got != v {
			return false
		}
	}
	return true
}

// Cosine returns the cosine similarity of a and b, 0 for zero vectors.
func Cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// TopK sorts matches by descending score and truncates to k.
func TopK(matches []Match, k int) []Match {
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches
}

// CopyMetadata returns a shallow copy of m.
func CopyMetadata(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
