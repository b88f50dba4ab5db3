package qdrant

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/document-rag/internal/vectorstore"
)

// fakeQdrant implements the handful of REST endpoints the client uses.
type fakeQdrant struct {
	mu      sync.Mutex
	exists  bool
	size    int
	order   []string
	points  map[string]map[string]any
	apiKeys []string
}

type qfilter struct {
	Must []struct {
		Key   string `json:"key"`
		Match struct {
			Value string `json:"value"`
		} `json:"match"`
	} `json:"must"`
}

func (f *qfilter) matches(payload map[string]any) bool {
	if f == nil {
		return true
	}
	for _, c := range f.Must {
		if payload[c.Key] != c.Match.Value {
			return false
		}
	}
	return true
}

func newFake() *fakeQdrant {
	return &fakeQdrant{points: map[string]map[string]any{}}
}

func (q *fakeQdrant) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.apiKeys = append(q.apiKeys, r.Header.Get("api-key"))

	path := strings.TrimPrefix(r.URL.Path, "/collections/test")
	if path != "" && !q.exists {
		http.NotFound(w, r)
		return
	}

	switch {
	case path == "" && r.Method == http.MethodGet:
		if !q.exists {
			http.NotFound(w, r)
			return
		}
		writeResult(w, map[string]any{"status": "green"})
	case path == "" && r.Method == http.MethodPut:
		var body struct {
			Vectors struct {
				Size int `json:"size"`
			} `json:"vectors"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		q.exists, q.size = true, body.Vectors.Size
		writeResult(w, true)
	case path == "" && r.Method == http.MethodDelete:
		q.exists, q.order, q.points = false, nil, map[string]map[string]any{}
		writeResult(w, true)
	case path == "/points":
		var body struct {
			Points []struct {
				ID      string         `json:"id"`
				Payload map[string]any `json:"payload"`
			} `json:"points"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		for _, p := range body.Points {
			if _, ok := q.points[p.ID]; !ok {
				q.order = append(q.order, p.ID)
			}
			q.points[p.ID] = p.Payload
		}
		writeResult(w, map[string]any{"status": "completed"})
	case path == "/points/scroll":
		var body struct {
			Limit  int      `json:"limit"`
			Offset *int     `json:"offset"`
			Filter *qfilter `json:"filter"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		start := 0
		if body.Offset != nil {
			start = *body.Offset
		}
		var page []map[string]any
		var next any
		matched := 0
		for _, id := range q.order {
			if !body.Filter.matches(q.points[id]) {
				continue
			}
			if matched >= start {
				if len(page) == body.Limit {
					next = matched
					break
				}
				page = append(page, map[string]any{"id": id, "payload": q.points[id]})
			}
			matched++
		}
		writeResult(w, map[string]any{"points": page, "next_page_offset": next})
	case path == "/points/search":
		var body struct {
			Limit  int      `json:"limit"`
			Filter *qfilter `json:"filter"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		var hits []map[string]any
		for _, id := range q.order {
			if len(hits) == body.Limit {
				break
			}
			if body.Filter.matches(q.points[id]) {
				hits = append(hits, map[string]any{"id": id, "score": 0.5, "payload": q.points[id]})
			}
		}
		writeResult(w, hits)
	case path == "/points/delete":
		var body struct {
			Points []string `json:"points"`
			Filter *qfilter `json:"filter"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		drop := map[string]bool{}
		for _, id := range body.Points {
			drop[id] = true
		}
		kept := q.order[:0]
		for _, id := range q.order {
			if drop[id] || (body.Filter != nil && body.Filter.matches(q.points[id])) {
				delete(q.points, id)
				continue
			}
			kept = append(kept, id)
		}
		q.order = kept
		writeResult(w, map[string]any{"status": "completed"})
	default:
		http.Error(w, fmt.Sprintf("unexpected %s %s", r.Method, r.URL.Path), http.StatusBadRequest)
	}
}

func (q *fakeQdrant) state() (exists bool, size int, apiKeys []string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.exists, q.size, append([]string(nil), q.apiKeys...)
}

func writeResult(w http.ResponseWriter, result any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"result": result, "status": "ok"})
}

func newTestStorage(t *testing.T) (*Storage, *fakeQdrant) {
	t.Helper()
	fake := newFake()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return NewStorage(Config{URL: srv.URL, APIKey: "secret", Collection: "test"}), fake
}

func chunk(docID string, i int) vectorstore.Record {
	return vectorstore.Record{
		ID:        fmt.Sprintf("%s_%d", docID, i),
		Text:      fmt.Sprintf("chunk %d of %s", i, docID),
		Metadata:  map[string]string{"doc_id": docID, "chunk_index": fmt.Sprint(i)},
		Embedding: []float32{1, 0, 0},
	}
}

func TestPointIDIsDeterministic(t *testing.T) {
	assert.Equal(t, PointID("doc1_0"), PointID("doc1_0"))
	assert.NotEqual(t, PointID("doc1_0"), PointID("doc1_1"))
}

func TestUpsertCreatesCollectionLazily(t *testing.T) {
	ctx := context.Background()
	s, fake := newTestStorage(t)

	require.NoError(t, s.CreateCollection(ctx))
	exists, _, _ := fake.state()
	assert.False(t, exists)
	assert.False(t, s.Persisted(ctx))

	require.NoError(t, s.Upsert(ctx, []vectorstore.Record{chunk("d1", 0)}))
	exists, size, keys := fake.state()
	assert.True(t, exists)
	assert.Equal(t, 3, size)
	assert.Contains(t, keys, "secret")
	assert.True(t, s.Persisted(ctx))
}

func TestGetPaginatesAndRestoresIDs(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStorage(t)

	var batch []vectorstore.Record
	for i := 0; i < scrollPage+10; i++ {
		batch = append(batch, chunk("d1", i))
	}
	batch = append(batch, chunk("d2", 0))
	require.NoError(t, s.Upsert(ctx, batch))

	got, err := s.Get(ctx, vectorstore.Filter{"doc_id": "d1"})
	require.NoError(t, err)
	require.Len(t, got, scrollPage+10)
	assert.Equal(t, "d1_0", got[0].ID)
	assert.Equal(t, "chunk 0 of d1", got[0].Text)
	assert.Equal(t, "d1", got[0].Metadata["doc_id"])
	_, hasText := got[0].Metadata["text"]
	assert.False(t, hasText)
}

func TestGetOnMissingCollectionIsEmpty(t *testing.T) {
	s, _ := newTestStorage(t)
	got, err := s.Get(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDeleteIDsAndWhere(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStorage(t)
	require.NoError(t, s.Upsert(ctx, []vectorstore.Record{chunk("d1", 0), chunk("d1", 1), chunk("d2", 0)}))

	require.NoError(t, s.DeleteIDs(ctx, []string{"d1_0"}))
	got, _ := s.Get(ctx, nil)
	assert.Len(t, got, 2)

	require.NoError(t, s.DeleteWhere(ctx, vectorstore.Filter{"doc_id": "d1"}))
	got, _ = s.Get(ctx, nil)
	require.Len(t, got, 1)
	assert.Equal(t, "d2_0", got[0].ID)

	assert.Error(t, s.DeleteWhere(ctx, nil))
}

func TestQueryAndDrop(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStorage(t)
	require.NoError(t, s.Upsert(ctx, []vectorstore.Record{chunk("d1", 0), chunk("d2", 0)}))

	matches, err := s.Query(ctx, []float32{1, 0, 0}, vectorstore.Filter{"doc_id": "d2"}, 2)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "d2_0", matches[0].ID)
	assert.Equal(t, 0.5, matches[0].Score)

	require.NoError(t, s.DropCollection(ctx))
	assert.ErrorIs(t, s.DropCollection(ctx), vectorstore.ErrCollectionNotFound)

	matches, err = s.Query(ctx, []float32{1, 0, 0}, nil, 2)
	require.NoError(t, err)
	assert.Empty(t, matches)
}
