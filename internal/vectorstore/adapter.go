package vectorstore

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/feichai0017/document-rag/internal/agent/provider"
	"github.com/feichai0017/document-rag/internal/models"
	"github.com/feichai0017/document-rag/pkg/logger"
	"github.com/feichai0017/document-rag/pkg/metrics"
)

const defaultEmbedBatch = 64

var requiredMetadataKeys = []string{models.MetaDocID, models.MetaFilename, models.MetaChunkIndex}

// ChunkID builds the record id of the index-th chunk of docID.
func ChunkID(docID string, index int) string {
	return docID + "_" + strconv.Itoa(index)
}

// Adapter wraps a Backend with validated inserts, verified deletes and rebuilds.
//
// AddChunks and DeleteByFilter hold the read side of mu, RebuildFromCorpus
// the write side, so a rebuild never interleaves with other mutations.
type Adapter struct {
	backend    Backend
	embedder   provider.Embedder
	logger     logger.Logger
	embedBatch int

	mu sync.RWMutex
}

// NewAdapter creates an Adapter.
func NewAdapter(backend Backend, embedder provider.Embedder, log logger.Logger) *Adapter {
	return &Adapter{
		backend:    backend,
		embedder:   embedder,
		logger:     log.Named("vectorstore"),
		embedBatch: defaultEmbedBatch,
	}
}

// AddChunks validates, embeds and upserts one batch of chunks. Re-adding the
// same ids overwrites them.
func (a *Adapter) AddChunks(ctx context.Context, chunks []string, metadatas []map[string]any, ids []string) error {
	if len(chunks) == 0 {
		return &ValidationError{Field: "chunks", Reason: "empty batch"}
	}
	if len(metadatas) != len(chunks) || len(ids) != len(chunks) {
		return &ValidationError{
			Field:  "chunks",
			Reason: fmt.Sprintf("length mismatch: %d chunks, %d metadatas, %d ids", len(chunks), len(metadatas), len(ids)),
		}
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			return &ValidationError{Field: "ids", Reason: "empty id"}
		}
		if _, dup := seen[id]; dup {
			return &ValidationError{Field: "ids", Reason: fmt.Sprintf("duplicate id %q", id)}
		}
		seen[id] = struct{}{}
	}

	records := make([]Record, len(chunks))
	for i := range chunks {
		meta, err := normalizeMetadata(metadatas[i])
		if err != nil {
			return err
		}
		records[i] = Record{ID: ids[i], Text: chunks[i], Metadata: meta}
	}

	if err := a.embed(ctx, records); err != nil {
		return err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if err := a.backend.Upsert(ctx, records); err != nil {
		return fmt.Errorf("failed to upsert chunks: %w", err)
	}
	a.logger.Debug("Chunks added",
		logger.Int("count", len(records)),
		logger.String("doc_id", records[0].Metadata[models.MetaDocID]),
	)
	return nil
}

// DeleteByFilter removes every record matching filter and verifies the result.
// It tries a delete by resolved ids first, then a delete by filter plus flush.
// Records that survive both are reported as *StoreInconsistencyError.
func (a *Adapter) DeleteByFilter(ctx context.Context, filter Filter) error {
	if len(filter) == 0 {
		return &ValidationError{Field: "filter", Reason: "empty filter would delete everything"}
	}
	if err := filter.Validate(); err != nil {
		return err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	records, err := a.backend.Get(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to resolve filter: %w", err)
	}
	if len(records) == 0 {
		return nil
	}

	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	metrics.DeleteEscalationsTotal.WithLabelValues("ids").Inc()
	if err := a.backend.DeleteIDs(ctx, ids); err != nil {
		a.logger.Warn("Delete by ids failed",
			logger.Any("filter", filter),
			logger.Error(err),
		)
	}

	remaining, err := a.count(ctx, filter)
	if err == nil && remaining == 0 {
		return nil
	}

	metrics.DeleteEscalationsTotal.WithLabelValues("filter").Inc()
	a.logger.Warn("Records remain after delete by ids, deleting by filter",
		logger.Any("filter", filter),
		logger.Int("remaining", remaining),
		logger.Error(err),
	)
	if err := a.backend.DeleteWhere(ctx, filter); err != nil {
		a.logger.Warn("Delete by filter failed", logger.Any("filter", filter), logger.Error(err))
	}
	if err := a.backend.Flush(ctx); err != nil {
		a.logger.Warn("Flush failed", logger.Error(err))
	}

	remaining, err = a.count(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to verify delete: %w", err)
	}
	if remaining > 0 {
		metrics.DeleteEscalationsTotal.WithLabelValues("inconsistent").Inc()
		return &StoreInconsistencyError{Filter: filter, Remaining: remaining}
	}
	return nil
}

// RebuildFromCorpus drops the collection and recreates it from the given
// corpus. Record ids are derived from each metadata's doc_id and chunk_index.
// The corpus is embedded before anything is dropped.
func (a *Adapter) RebuildFromCorpus(ctx context.Context, chunks []string, metadatas []map[string]any) error {
	if len(chunks) != len(metadatas) {
		return &ValidationError{
			Field:  "corpus",
			Reason: fmt.Sprintf("length mismatch: %d chunks, %d metadatas", len(chunks), len(metadatas)),
		}
	}

	records := make([]Record, len(chunks))
	seen := make(map[string]struct{}, len(chunks))
	for i := range chunks {
		meta, err := normalizeMetadata(metadatas[i])
		if err != nil {
			return err
		}
		id := meta[models.MetaDocID] + "_" + meta[models.MetaChunkIndex]
		if _, dup := seen[id]; dup {
			return &ValidationError{Field: "corpus", Reason: fmt.Sprintf("duplicate id %q", id)}
		}
		seen[id] = struct{}{}
		records[i] = Record{ID: id, Text: chunks[i], Metadata: meta}
	}
	if err := a.embed(ctx, records); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.backend.DropCollection(ctx); err != nil && !errors.Is(err, ErrCollectionNotFound) {
		a.logger.Warn("Failed to drop collection before rebuild", logger.Error(err))
	}
	if err := a.backend.CreateCollection(ctx); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	if len(records) > 0 {
		if err := a.backend.Upsert(ctx, records); err != nil {
			return fmt.Errorf("failed to load corpus: %w", err)
		}
	}
	if err := a.backend.Flush(ctx); err != nil {
		return fmt.Errorf("failed to flush rebuilt collection: %w", err)
	}

	a.logger.Info("Vector store rebuilt", logger.Int("records", len(records)))
	return nil
}

// CountChunks returns the number of records stored for docID.
func (a *Adapter) CountChunks(ctx context.Context, docID string) (int, error) {
	return a.count(ctx, Filter{models.MetaDocID: docID})
}

// VerifyDeleted reports whether no record remains for docID.
func (a *Adapter) VerifyDeleted(ctx context.Context, docID string) (bool, error) {
	n, err := a.CountChunks(ctx, docID)
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

// DetectOrphans scans every record for a missing or empty doc_id.
func (a *Adapter) DetectOrphans(ctx context.Context) (clean bool, orphans int, err error) {
	records, err := a.backend.Get(ctx, nil)
	if err != nil {
		return false, 0, fmt.Errorf("failed to scan records: %w", err)
	}
	for _, r := range records {
		if r.Metadata[models.MetaDocID] == "" {
			orphans++
		}
	}
	if orphans > 0 {
		metrics.OrphansDetectedTotal.Add(float64(orphans))
		a.logger.Warn("Orphan records detected", logger.Int("orphans", orphans))
	}
	return orphans == 0, orphans, nil
}

// ChunkCounts returns the number of stored records per doc_id. Records
// without a doc_id are counted under "".
func (a *Adapter) ChunkCounts(ctx context.Context) (map[string]int, error) {
	records, err := a.backend.Get(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to scan records: %w", err)
	}
	counts := make(map[string]int)
	for _, r := range records {
		counts[r.Metadata[models.MetaDocID]]++
	}
	return counts, nil
}

// ContentHash returns the md5 of docID's chunk texts in chunk order. ok is
// false when the document has no chunks.
func (a *Adapter) ContentHash(ctx context.Context, docID string) (hash string, ok bool, err error) {
	records, err := a.backend.Get(ctx, Filter{models.MetaDocID: docID})
	if err != nil {
		return "", false, fmt.Errorf("failed to load chunks: %w", err)
	}
	if len(records) == 0 {
		return "", false, nil
	}
	sort.SliceStable(records, func(i, j int) bool {
		return chunkIndex(records[i]) < chunkIndex(records[j])
	})

	h := md5.New()
	for _, r := range records {
		h.Write([]byte(r.Text))
	}
	return hex.EncodeToString(h.Sum(nil)), true, nil
}

// Search embeds query and returns the k most similar records matching filter.
func (a *Adapter) Search(ctx context.Context, query string, filter Filter, k int) ([]Match, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	vecs, err := a.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for 1 query", len(vecs))
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	matches, err := a.backend.Query(ctx, vecs[0], filter, k)
	if err != nil {
		return nil, fmt.Errorf("failed to query vector store: %w", err)
	}
	return matches, nil
}

// Persisted reports whether the backend holds durable data.
func (a *Adapter) Persisted(ctx context.Context) bool {
	return a.backend.Persisted(ctx)
}

func (a *Adapter) count(ctx context.Context, filter Filter) (int, error) {
	records, err := a.backend.Get(ctx, filter)
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

func (a *Adapter) embed(ctx context.Context, records []Record) error {
	dim := 0
	for start := 0; start < len(records); start += a.embedBatch {
		end := start + a.embedBatch
		if end > len(records) {
			end = len(records)
		}
		texts := make([]string, 0, end-start)
		for _, r := range records[start:end] {
			texts = append(texts, r.Text)
		}

		vecs, err := a.embedder.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("failed to embed chunks: %w", err)
		}
		if len(vecs) != len(texts) {
			return fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(texts))
		}
		for i, v := range vecs {
			if len(v) == 0 || (dim != 0 && len(v) != dim) {
				return fmt.Errorf("embedder returned vector of dimension %d", len(v))
			}
			dim = len(v)
			records[start+i].Embedding = v
		}
	}
	return nil
}

func normalizeMetadata(in map[string]any) (map[string]string, error) {
	for _, key := range requiredMetadataKeys {
		if v, ok := in[key]; !ok || v == nil {
			return nil, &ValidationError{Field: "metadata", Reason: fmt.Sprintf("missing required key %q", key)}
		}
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = stringify(v)
	}
	if out[models.MetaDocID] == "" {
		return nil, &ValidationError{Field: "metadata", Reason: "empty doc_id"}
	}
	return out, nil
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

func chunkIndex(r Record) int {
	n, err := strconv.Atoi(r.Metadata[models.MetaChunkIndex])
	if err != nil {
		return -1
	}
	return n
}
