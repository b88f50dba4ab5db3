package memory

import (
	"context"
	"sync"

	"github.com/feichai0017/document-rag/internal/vectorstore"
)

// Storage is a process-local vector store using brute-force cosine similarity.
// Records are kept in insertion order; an upsert of a known id overwrites it in place.
type Storage struct {
	mu      sync.RWMutex
	exists  bool
	order   []string
	records map[string]vectorstore.Record
}

func NewStorage() *Storage {
	return &Storage{
		exists:  true,
		records: make(map[string]vectorstore.Record),
	}
}

func (s *Storage) Upsert(ctx context.Context, records []vectorstore.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exists = true
	for _, r := range records {
		if _, ok := s.records[r.ID]; !ok {
			s.order = append(s.order, r.ID)
		}
		s.records[r.ID] = clone(r)
	}
	return nil
}

func (s *Storage) Get(ctx context.Context, filter vectorstore.Filter) ([]vectorstore.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []vectorstore.Record
	for _, id := range s.order {
		r := s.records[id]
		if filter.Matches(r.Metadata) {
			c := clone(r)
			c.Embedding = nil
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Storage) DeleteIDs(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	s.removeLocked(func(r vectorstore.Record) bool {
		_, ok := drop[r.ID]
		return ok
	})
	return nil
}

func (s *Storage) DeleteWhere(ctx context.Context, filter vectorstore.Filter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(func(r vectorstore.Record) bool {
		return filter.Matches(r.Metadata)
	})
	return nil
}

func (s *Storage) removeLocked(match func(vectorstore.Record) bool) {
	kept := s.order[:0]
	for _, id := range s.order {
		if match(s.records[id]) {
			delete(s.records, id)
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
}

func (s *Storage) Flush(ctx context.Context) error { return nil }

func (s *Storage) Query(ctx context.Context, vector []float32, filter vectorstore.Filter, k int) ([]vectorstore.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matches []vectorstore.Match
	for _, id := range s.order {
		r := s.records[id]
		if !filter.Matches(r.Metadata) {
			continue
		}
		c := clone(r)
		c.Embedding = nil
		matches = append(matches, vectorstore.Match{Record: c, Score: vectorstore.Cosine(r.Embedding, vector)})
	}
	return vectorstore.TopK(matches, k), nil
}

func (s *Storage) DropCollection(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.exists {
		return vectorstore.ErrCollectionNotFound
	}
	s.exists = false
	s.order = nil
	s.records = make(map[string]vectorstore.Record)
	return nil
}

func (s *Storage) CreateCollection(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exists = true
	return nil
}

// Persisted is always false: nothing survives the process.
func (s *Storage) Persisted(ctx context.Context) bool { return false }

func (s *Storage) Close() error { return nil }

func clone(r vectorstore.Record) vectorstore.Record {
	out := r
	out.Metadata = vectorstore.CopyMetadata(r.Metadata)
	if r.Embedding != nil {
		out.Embedding = append([]float32(nil), r.Embedding...)
	}
	return out
}
