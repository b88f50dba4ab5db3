package vectorstore_test

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/document-rag/internal/agent/provider/local"
	"github.com/feichai0017/document-rag/internal/vectorstore"
	"github.com/feichai0017/document-rag/internal/vectorstore/memory"
	"github.com/feichai0017/document-rag/pkg/logger"
)

// stickyBackend ignores some deletes so the escalation ladder can be observed.
type stickyBackend struct {
	*memory.Storage
	ignoreDeleteIDs   bool
	ignoreDeleteWhere bool
	deleteIDCalls     int
	deleteWhereCalls  int
	flushCalls        int
	failEmbedUpsert   bool
}

func (b *stickyBackend) DeleteIDs(ctx context.Context, ids []string) error {
	b.deleteIDCalls++
	if b.ignoreDeleteIDs {
		return nil
	}
	return b.Storage.DeleteIDs(ctx, ids)
}

func (b *stickyBackend) DeleteWhere(ctx context.Context, f vectorstore.Filter) error {
	b.deleteWhereCalls++
	if b.ignoreDeleteWhere {
		return errors.New("delete where unavailable")
	}
	return b.Storage.DeleteWhere(ctx, f)
}

func (b *stickyBackend) Flush(ctx context.Context) error {
	b.flushCalls++
	return nil
}

func (b *stickyBackend) Upsert(ctx context.Context, records []vectorstore.Record) error {
	if b.failEmbedUpsert {
		return errors.New("store unavailable")
	}
	return b.Storage.Upsert(ctx, records)
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("embedding service down")
}

func newAdapter(t *testing.T) (*vectorstore.Adapter, *stickyBackend) {
	t.Helper()
	backend := &stickyBackend{Storage: memory.NewStorage()}
	return vectorstore.NewAdapter(backend, local.NewHashEmbedder(64), logger.NewNop()), backend
}

func batch(docID string, texts ...string) ([]string, []map[string]any, []string) {
	metas := make([]map[string]any, len(texts))
	ids := make([]string, len(texts))
	for i := range texts {
		metas[i] = map[string]any{
			"doc_id":        docID,
			"filename":      docID + ".pdf",
			"chunk_index":   i,
			"total_chunks":  len(texts),
			"document_type": "pdf",
		}
		ids[i] = vectorstore.ChunkID(docID, i)
	}
	return texts, metas, ids
}

// addBatch unpacks batch into AddChunks.
func addBatch(ctx context.Context, a *vectorstore.Adapter, docID string, texts ...string) error {
	chunks, metas, ids := batch(docID, texts...)
	return a.AddChunks(ctx, chunks, metas, ids)
}

func TestAddChunksThenCount(t *testing.T) {
	ctx := context.Background()
	a, _ := newAdapter(t)

	require.NoError(t, addBatch(ctx, a, "doc1", "alpha text", "beta text", "gamma text"))
	require.NoError(t, addBatch(ctx, a, "doc2", "other"))

	n, err := a.CountChunks(ctx, "doc1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestAddChunksIsIdempotent(t *testing.T) {
	ctx := context.Background()
	a, _ := newAdapter(t)

	require.NoError(t, addBatch(ctx, a, "doc1", "one", "two"))
	require.NoError(t, addBatch(ctx, a, "doc1", "one", "two"))

	n, err := a.CountChunks(ctx, "doc1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestAddChunksNormalizesMetadata(t *testing.T) {
	ctx := context.Background()
	backend := memory.NewStorage()
	a := vectorstore.NewAdapter(backend, local.NewHashEmbedder(16), logger.NewNop())

	require.NoError(t, addBatch(ctx, a, "doc1", "text"))

	records, err := backend.Get(ctx, vectorstore.Filter{"doc_id": "doc1"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "0", records[0].Metadata["chunk_index"])
	assert.Equal(t, "1", records[0].Metadata["total_chunks"])
	assert.Equal(t, "doc1_0", records[0].ID)
}

func TestAddChunksValidation(t *testing.T) {
	ctx := context.Background()
	a, _ := newAdapter(t)

	chunks, metas, ids := batch("doc1", "a", "b")

	tests := []struct {
		name   string
		chunks []string
		metas  []map[string]any
		ids    []string
	}{
		{"empty", nil, nil, nil},
		{"length mismatch", chunks, metas[:1], ids},
		{"duplicate ids", chunks, metas, []string{"x", "x"}},
		{"missing key", chunks, []map[string]any{metas[0], {"doc_id": "doc1", "filename": "f"}}, ids},
		{"empty doc id", chunks[:1], []map[string]any{{"doc_id": "", "filename": "f", "chunk_index": 0}}, ids[:1]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := a.AddChunks(ctx, tt.chunks, tt.metas, tt.ids)
			var verr *vectorstore.ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}
}

func TestAddChunksSurfacesFailures(t *testing.T) {
	ctx := context.Background()

	a := vectorstore.NewAdapter(memory.NewStorage(), failingEmbedder{}, logger.NewNop())
	assert.Error(t, addBatch(ctx, a, "doc1", "a"))

	b, backend := newAdapter(t)
	backend.failEmbedUpsert = true
	assert.Error(t, addBatch(ctx, b, "doc1", "a"))
}

func TestDeleteByFilterByIDs(t *testing.T) {
	ctx := context.Background()
	a, backend := newAdapter(t)
	require.NoError(t, addBatch(ctx, a, "doc1", "a", "b"))
	require.NoError(t, addBatch(ctx, a, "doc2", "c"))

	require.NoError(t, a.DeleteByFilter(ctx, vectorstore.Filter{"doc_id": "doc1"}))

	ok, err := a.VerifyDeleted(ctx, "doc1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, backend.deleteIDCalls)
	assert.Equal(t, 0, backend.deleteWhereCalls)

	n, _ := a.CountChunks(ctx, "doc2")
	assert.Equal(t, 1, n)
}

func TestDeleteByFilterNothingToDelete(t *testing.T) {
	a, backend := newAdapter(t)
	require.NoError(t, a.DeleteByFilter(context.Background(), vectorstore.Filter{"doc_id": "missing"}))
	assert.Equal(t, 0, backend.deleteIDCalls)
}

func TestDeleteByFilterEscalatesToFilter(t *testing.T) {
	ctx := context.Background()
	a, backend := newAdapter(t)
	require.NoError(t, addBatch(ctx, a, "doc1", "a", "b"))
	backend.ignoreDeleteIDs = true

	require.NoError(t, a.DeleteByFilter(ctx, vectorstore.Filter{"doc_id": "doc1"}))

	assert.Equal(t, 1, backend.deleteWhereCalls)
	assert.Equal(t, 1, backend.flushCalls)
	ok, _ := a.VerifyDeleted(ctx, "doc1")
	assert.True(t, ok)
}

func TestDeleteByFilterReportsInconsistency(t *testing.T) {
	ctx := context.Background()
	a, backend := newAdapter(t)
	require.NoError(t, addBatch(ctx, a, "doc1", "a", "b"))
	backend.ignoreDeleteIDs = true
	backend.ignoreDeleteWhere = true

	err := a.DeleteByFilter(ctx, vectorstore.Filter{"doc_id": "doc1"})

	var inconsistent *vectorstore.StoreInconsistencyError
	require.ErrorAs(t, err, &inconsistent)
	assert.Equal(t, 2, inconsistent.Remaining)
}

func TestDeleteByFilterRejectsEmptyAndBadFilters(t *testing.T) {
	a, _ := newAdapter(t)
	var verr *vectorstore.ValidationError
	assert.ErrorAs(t, a.DeleteByFilter(context.Background(), nil), &verr)
	assert.ErrorAs(t, a.DeleteByFilter(context.Background(), vectorstore.Filter{"doc_id') OR 1=1 --": "x"}), &verr)
}

func TestRebuildFromCorpus(t *testing.T) {
	ctx := context.Background()
	a, backend := newAdapter(t)
	require.NoError(t, addBatch(ctx, a, "stale", "old", "older"))
	require.NoError(t, backend.Upsert(ctx, []vectorstore.Record{{ID: "orphan", Text: "x", Metadata: map[string]string{}, Embedding: []float32{1}}}))

	var chunks []string
	var metas []map[string]any
	counts := map[string]int{"doc1": 3, "doc2": 2}
	for _, doc := range []string{"doc1", "doc2"} {
		for i := 0; i < counts[doc]; i++ {
			chunks = append(chunks, fmt.Sprintf("%s chunk %d", doc, i))
			metas = append(metas, map[string]any{"doc_id": doc, "filename": doc + ".pdf", "chunk_index": i})
		}
	}

	require.NoError(t, a.RebuildFromCorpus(ctx, chunks, metas))

	for doc, want := range counts {
		n, err := a.CountChunks(ctx, doc)
		require.NoError(t, err)
		assert.Equal(t, want, n, doc)
	}
	n, _ := a.CountChunks(ctx, "stale")
	assert.Equal(t, 0, n)
	clean, orphans, err := a.DetectOrphans(ctx)
	require.NoError(t, err)
	assert.True(t, clean)
	assert.Equal(t, 0, orphans)
}

func TestRebuildEmptyCorpusTwice(t *testing.T) {
	ctx := context.Background()
	a, _ := newAdapter(t)
	require.NoError(t, addBatch(ctx, a, "doc1", "a"))

	require.NoError(t, a.RebuildFromCorpus(ctx, nil, nil))
	require.NoError(t, a.RebuildFromCorpus(ctx, nil, nil))

	n, _ := a.CountChunks(ctx, "doc1")
	assert.Equal(t, 0, n)
}

func TestRebuildKeepsStoreWhenEmbeddingFails(t *testing.T) {
	ctx := context.Background()
	backend := memory.NewStorage()
	good := vectorstore.NewAdapter(backend, local.NewHashEmbedder(16), logger.NewNop())
	require.NoError(t, addBatch(ctx, good, "doc1", "a"))

	bad := vectorstore.NewAdapter(backend, failingEmbedder{}, logger.NewNop())
	err := bad.RebuildFromCorpus(ctx, []string{"x"}, []map[string]any{{"doc_id": "doc2", "filename": "f", "chunk_index": 0}})
	require.Error(t, err)

	n, _ := good.CountChunks(ctx, "doc1")
	assert.Equal(t, 1, n)
}

func TestDetectOrphans(t *testing.T) {
	ctx := context.Background()
	a, backend := newAdapter(t)
	require.NoError(t, addBatch(ctx, a, "doc1", "a"))

	clean, _, err := a.DetectOrphans(ctx)
	require.NoError(t, err)
	assert.True(t, clean)

	require.NoError(t, backend.Upsert(ctx, []vectorstore.Record{
		{ID: "o1", Text: "x", Metadata: map[string]string{"filename": "f"}, Embedding: []float32{1}},
		{ID: "o2", Text: "y", Metadata: map[string]string{"doc_id": ""}, Embedding: []float32{1}},
	}))
	clean, orphans, err := a.DetectOrphans(ctx)
	require.NoError(t, err)
	assert.False(t, clean)
	assert.Equal(t, 2, orphans)
}

func TestContentHash(t *testing.T) {
	ctx := context.Background()
	a, _ := newAdapter(t)

	_, ok, err := a.ContentHash(ctx, "doc1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, addBatch(ctx, a, "doc1", "first ", "second"))
	hash, ok, err := a.ContentHash(ctx, "doc1")
	require.NoError(t, err)
	require.True(t, ok)

	sum := md5.Sum([]byte("first second"))
	assert.Equal(t, hex.EncodeToString(sum[:]), hash)
}

func TestSearchWithFilter(t *testing.T) {
	ctx := context.Background()
	a, _ := newAdapter(t)
	require.NoError(t, addBatch(ctx, a, "doc1", "the invoice total is 300 euros", "payment terms are thirty days"))
	require.NoError(t, addBatch(ctx, a, "doc2", "the invoice total is 900 dollars"))

	matches, err := a.Search(ctx, "invoice total", vectorstore.Filter{"doc_id": "doc1"}, 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	for _, m := range matches {
		assert.Equal(t, "doc1", m.Metadata["doc_id"])
	}
	assert.Equal(t, "doc1_0", matches[0].ID)

	all, err := a.Search(ctx, "invoice total", nil, 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestChunkCounts(t *testing.T) {
	ctx := context.Background()
	a, backend := newAdapter(t)
	require.NoError(t, addBatch(ctx, a, "doc1", "a", "b"))
	require.NoError(t, addBatch(ctx, a, "doc2", "c"))
	require.NoError(t, backend.Upsert(ctx, []vectorstore.Record{
		{ID: "o1", Text: "x", Metadata: map[string]string{"filename": "f"}, Embedding: []float32{1}},
	}))

	counts, err := a.ChunkCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"doc1": 2, "doc2": 1, "": 1}, counts)
}
