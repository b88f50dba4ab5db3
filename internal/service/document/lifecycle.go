package document

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/feichai0017/document-rag/internal/models"
	"github.com/feichai0017/document-rag/internal/vectorstore"
	"github.com/feichai0017/document-rag/pkg/logger"
	"github.com/feichai0017/document-rag/pkg/metrics"
	"github.com/feichai0017/document-rag/pkg/storage"
)

// Rebuild reasons, used as the metrics label.
const (
	reasonDelete   = "delete"
	reasonEviction = "eviction"
	reasonOrphans  = "orphans"
	reasonRecover  = "recover"
	reasonManual   = "manual"
)

// Delete removes a document from the index, the vector store and file
// storage. It returns false for an unknown docID. If the vector store cannot
// be repaired by a rebuild, the rebuild error is returned.
func (s *Service) Delete(ctx context.Context, docID string) (bool, error) {
	entry, ok := s.index.Delete(docID)
	if !ok {
		return false, nil
	}
	s.releaseInFlight(docID)
	s.logger.Info("Deleting document",
		logger.String("doc_id", docID),
		logger.String("filename", entry.Filename),
	)

	if err := s.purge(ctx, entry, reasonDelete); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) evict(ctx context.Context, entry models.DocumentEntry) {
	metrics.EvictionsTotal.Inc()
	s.logger.Info("Evicting oldest document",
		logger.String("doc_id", entry.DocID),
		logger.String("filename", entry.Filename),
		logger.Int("max_documents", s.config.MaxDocuments),
	)
	if err := s.purge(ctx, entry, reasonEviction); err != nil {
		s.logger.Error("Failed to purge evicted document",
			logger.String("doc_id", entry.DocID),
			logger.Error(err),
		)
	}
}

// purge removes what remains of an entry already dropped from the index:
// its chunks (rebuilding when the delete cannot be verified), its file, and
// any orphans the delete exposed.
func (s *Service) purge(ctx context.Context, entry models.DocumentEntry, reason string) error {
	if !s.deleteChunks(ctx, entry.DocID) {
		if err := s.rebuild(ctx, reason); err != nil {
			return err
		}
	}

	s.removeFile(ctx, entry.Path)

	clean, orphans, err := s.store.DetectOrphans(ctx)
	if err != nil {
		s.logger.Warn("Orphan scan failed", logger.Error(err))
		return nil
	}
	if !clean {
		s.logger.Warn("Orphans found after delete, rebuilding",
			logger.String("doc_id", entry.DocID),
			logger.Int("orphans", orphans),
		)
		return s.rebuild(ctx, reasonOrphans)
	}
	return nil
}

// deleteChunks runs the delete ladder under the shared rebuild lock and
// reports whether the document's chunks are verifiably gone.
func (s *Service) deleteChunks(ctx context.Context, docID string) bool {
	s.rebuildMu.RLock()
	defer s.rebuildMu.RUnlock()

	log := s.logger.With(logger.String("doc_id", docID))
	if err := s.store.DeleteByFilter(ctx, vectorstore.Filter{models.MetaDocID: docID}); err != nil {
		var inconsistent *vectorstore.StoreInconsistencyError
		if errors.As(err, &inconsistent) {
			log.Error("Chunks survived every delete attempt", logger.Int("remaining", inconsistent.Remaining))
		} else {
			log.Error("Failed to delete chunks", logger.Error(err))
		}
		return false
	}
	gone, err := s.store.VerifyDeleted(ctx, docID)
	if err != nil {
		log.Warn("Could not verify chunk delete", logger.Error(err))
		return false
	}
	return gone
}

// discardChunks removes chunks written for an entry that is no longer
// processing. A failed delete falls back to a rebuild.
func (s *Service) discardChunks(ctx context.Context, docID string) {
	if s.deleteChunks(ctx, docID) {
		return
	}
	if err := s.rebuild(ctx, reasonDelete); err != nil {
		s.logger.Error("Failed to rebuild after discarding chunks",
			logger.String("doc_id", docID),
			logger.Error(err),
		)
	}
}

// RebuildFromIndex recreates the vector store from the files of every ready
// document. A document whose file is gone is marked failed; one that cannot
// be split is skipped.
func (s *Service) RebuildFromIndex(ctx context.Context) error {
	return s.rebuild(ctx, reasonManual)
}

func (s *Service) rebuild(ctx context.Context, reason string) error {
	s.rebuildMu.Lock()
	defer s.rebuildMu.Unlock()

	start := time.Now()
	entries := s.index.FindByStatus(models.StatusReady)
	s.logger.Warn("Rebuilding vector store from index",
		logger.String("reason", reason),
		logger.Int("documents", len(entries)),
	)

	var (
		chunks    []string
		metadatas []map[string]any
		skipped   int
	)
	for _, e := range entries {
		result, _, err := s.split(ctx, e.Path)
		if err != nil {
			skipped++
			s.logger.Warn("Skipping document in rebuild",
				logger.String("doc_id", e.DocID),
				logger.String("path", e.Path),
				logger.Error(err),
			)
			if errors.Is(err, storage.ErrNotFound) {
				s.index.MarkFailed(e.DocID)
			}
			continue
		}
		for i, c := range result.Chunks {
			chunks = append(chunks, c)
			metadatas = append(metadatas, map[string]any{
				models.MetaDocID:        e.DocID,
				models.MetaFilename:     e.Filename,
				models.MetaChunkIndex:   i,
				models.MetaTotalChunks:  len(result.Chunks),
				models.MetaDocumentType: models.DocumentTypePDF,
			})
		}
	}

	if err := s.store.RebuildFromCorpus(ctx, chunks, metadatas); err != nil {
		metrics.RebuildsTotal.WithLabelValues(reason, "failed").Inc()
		s.logger.Error("Vector store rebuild failed",
			logger.String("reason", reason),
			logger.Error(err),
		)
		return fmt.Errorf("failed to rebuild vector store: %w", err)
	}

	metrics.RebuildsTotal.WithLabelValues(reason, "success").Inc()
	s.logger.Info("Vector store rebuilt",
		logger.String("reason", reason),
		logger.Int("chunks", len(chunks)),
		logger.Int("skipped", skipped),
		logger.Duration("duration", time.Since(start)),
	)
	return nil
}

// ReapStale fails every processing entry uploaded more than timeout ago and
// deletes its file. It returns the number of entries reaped.
func (s *Service) ReapStale(ctx context.Context, timeout time.Duration) int {
	cutoff := s.index.Now().Add(-timeout)
	stale := s.index.FailStale(cutoff)
	for _, e := range stale {
		s.releaseInFlight(e.DocID)
		s.removeFile(ctx, e.Path)
		s.logger.Warn("Reaped stale document",
			logger.String("doc_id", e.DocID),
			logger.String("filename", e.Filename),
			logger.Time("uploaded_at", e.UploadedAt),
		)
	}
	if len(stale) > 0 {
		metrics.StaleReapedTotal.Add(float64(len(stale)))
	}
	return len(stale)
}

// Recover reconciles the stores at startup: it reaps stale entries, removes
// unreferenced uploads, and rebuilds the vector store when its chunk counts
// disagree with the index.
func (s *Service) Recover(ctx context.Context) error {
	reaped := s.ReapStale(ctx, s.config.StaleTimeout)

	entries := s.index.GetAll()
	referenced := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		referenced[e.Path] = struct{}{}
	}
	removed, err := s.storage.CleanupBefore(ctx, s.index.Now().Add(-s.config.StaleTimeout), func(key string) bool {
		_, ok := referenced[key]
		return ok
	})
	if err != nil {
		s.logger.Warn("Upload cleanup failed", logger.Error(err))
	}

	mismatches, err := s.countMismatches(ctx, entries)
	if err != nil {
		return fmt.Errorf("failed to check vector store: %w", err)
	}
	clean, orphans, err := s.store.DetectOrphans(ctx)
	if err != nil {
		return fmt.Errorf("failed to scan for orphans: %w", err)
	}

	s.logger.Info("Startup reconciliation",
		logger.Int("documents", len(entries)),
		logger.Int("reaped", reaped),
		logger.Int("files_removed", removed),
		logger.Int("mismatches", mismatches),
		logger.Int("orphans", orphans),
	)
	s.observeDocuments(s.index.GetAll())

	if mismatches > 0 || !clean {
		return s.rebuild(ctx, reasonRecover)
	}
	return nil
}

// countMismatches compares stored chunk counts with the index. Chunks of a
// document that is not ready count as a mismatch.
func (s *Service) countMismatches(ctx context.Context, entries []models.DocumentEntry) (int, error) {
	counts, err := s.store.ChunkCounts(ctx)
	if err != nil {
		return 0, err
	}
	mismatches := 0
	for _, e := range entries {
		n := counts[e.DocID]
		delete(counts, e.DocID)
		if e.Status == models.StatusReady && n != e.Chunks {
			s.logger.Warn("Chunk count mismatch",
				logger.String("doc_id", e.DocID),
				logger.Int("indexed", e.Chunks),
				logger.Int("stored", n),
			)
			mismatches++
		} else if e.Status != models.StatusReady && n > 0 {
			mismatches++
		}
	}
	for docID, n := range counts {
		if docID == "" {
			continue
		}
		s.logger.Warn("Chunks of unknown document", logger.String("doc_id", docID), logger.Int("stored", n))
		mismatches++
	}
	return mismatches, nil
}

func (s *Service) observeDocuments(entries []models.DocumentEntry) {
	counts := map[models.DocumentStatus]int{}
	for _, e := range entries {
		counts[e.Status]++
	}
	for _, st := range []models.DocumentStatus{models.StatusProcessing, models.StatusReady, models.StatusFailed} {
		metrics.Documents.WithLabelValues(string(st)).Set(float64(counts[st]))
	}
}
