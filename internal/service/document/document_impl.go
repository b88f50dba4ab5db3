package document

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/feichai0017/document-rag/internal/agent/document"
	"github.com/feichai0017/document-rag/internal/agent/provider"
	"github.com/feichai0017/document-rag/internal/index"
	"github.com/feichai0017/document-rag/internal/models"
	"github.com/feichai0017/document-rag/internal/vectorstore"
	"github.com/feichai0017/document-rag/pkg/logger"
	"github.com/feichai0017/document-rag/pkg/queue"
	"github.com/feichai0017/document-rag/pkg/storage"
)

// ServiceConfig 服务配置
type ServiceConfig struct {
	MaxDocuments int
	StaleTimeout time.Duration
	TopK         int
}

// DefaultServiceConfig returns the capacity, stale timeout and retrieval depth used when unset.
func DefaultServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		MaxDocuments: 5,
		StaleTimeout: 5 * time.Minute,
		TopK:         2,
	}
}

// Service keeps the metadata index and the vector store consistent across
// upload, indexing, eviction and deletion.
//
// Lock order: rebuildMu, then the adapter's lock, then the index lock.
type Service struct {
	index     *index.Index
	store     *vectorstore.Adapter
	splitter  document.Splitter
	generator provider.Generator
	storage   storage.Storage
	queue     queue.Queue
	logger    logger.Logger
	config    *ServiceConfig

	// rebuildMu is held shared by IndexDocument (insert through completion)
	// and by the delete ladder, exclusively by RebuildFromIndex.
	rebuildMu sync.RWMutex

	// dedupMu guards inFlight: file hash -> doc_id of uploads not yet ready.
	dedupMu  sync.Mutex
	inFlight map[string]string
}

func NewService(
	idx *index.Index,
	store *vectorstore.Adapter,
	splitter document.Splitter,
	generator provider.Generator,
	st storage.Storage,
	q queue.Queue,
	log logger.Logger,
	cfg *ServiceConfig,
) *Service {
	d := DefaultServiceConfig()
	if cfg == nil {
		cfg = d
	}
	if cfg.MaxDocuments <= 0 {
		cfg.MaxDocuments = d.MaxDocuments
	}
	if cfg.StaleTimeout <= 0 {
		cfg.StaleTimeout = d.StaleTimeout
	}
	if cfg.TopK <= 0 {
		cfg.TopK = d.TopK
	}

	return &Service{
		index:     idx,
		store:     store,
		splitter:  splitter,
		generator: generator,
		storage:   st,
		queue:     q,
		logger:    log.Named("document"),
		config:    cfg,
		inFlight:  make(map[string]string),
	}
}

// Upload stores the file, skips it if identical content is already known,
// and otherwise records it and queues it for indexing.
func (s *Service) Upload(ctx context.Context, reader io.Reader, filename string) (*UploadResult, error) {
	display := filepath.Base(filename)
	path, err := s.storage.Store(ctx, reader, uuid.NewString()+"_"+display)
	if err != nil {
		s.logger.Error("Failed to store file",
			logger.String("filename", display),
			logger.Error(err),
		)
		return nil, fmt.Errorf("failed to store file: %w", err)
	}

	hash, err := storage.Hash(ctx, s.storage, path)
	if err != nil {
		s.removeFile(ctx, path)
		return nil, fmt.Errorf("failed to hash upload: %w", err)
	}
	size, pages := s.intakeInfo(ctx, path)

	s.dedupMu.Lock()
	if existing, ok := s.duplicateLocked(hash); ok {
		s.dedupMu.Unlock()
		s.discardDuplicate(ctx, path, existing)
		s.logger.Info("Duplicate upload skipped",
			logger.String("filename", display),
			logger.String("doc_id", existing.DocID),
		)
		return &UploadResult{DocID: existing.DocID, Duplicate: true}, nil
	}
	docID := s.index.Create(display, path, models.StatusProcessing, size, pages).DocID
	s.inFlight[hash] = docID
	s.dedupMu.Unlock()

	if err := s.queue.Enqueue(ctx, queue.NewIndexTask(docID, path, display)); err != nil {
		s.logger.Error("Failed to enqueue index task",
			logger.String("doc_id", docID),
			logger.Error(err),
		)
		s.index.MarkFailed(docID)
		s.releaseInFlight(docID)
		return nil, fmt.Errorf("failed to enqueue index task: %w", err)
	}

	s.logger.Info("Document queued for indexing",
		logger.String("doc_id", docID),
		logger.String("filename", display),
	)
	return &UploadResult{DocID: docID}, nil
}

// UploadDedup reports whether the stored file at path duplicates a known
// document. A duplicate file is removed and the existing doc_id returned.
func (s *Service) UploadDedup(ctx context.Context, path string) (string, bool, error) {
	hash, err := storage.Hash(ctx, s.storage, path)
	if err != nil {
		return "", false, fmt.Errorf("failed to hash upload: %w", err)
	}

	s.dedupMu.Lock()
	existing, ok := s.duplicateLocked(hash)
	s.dedupMu.Unlock()
	if !ok {
		return "", false, nil
	}
	s.discardDuplicate(ctx, path, existing)
	return existing.DocID, true, nil
}

// duplicateLocked finds the entry holding hash, ready or still in flight.
// The caller holds dedupMu.
func (s *Service) duplicateLocked(hash string) (models.DocumentEntry, bool) {
	if entry, ok := s.index.FindDuplicateByHash(hash); ok {
		return entry, true
	}
	if id, ok := s.inFlight[hash]; ok {
		if entry, ok := s.index.Get(id); ok {
			return entry, true
		}
	}
	return models.DocumentEntry{}, false
}

// discardDuplicate removes a duplicate's file unless it is the existing
// document's own file.
func (s *Service) discardDuplicate(ctx context.Context, path string, existing models.DocumentEntry) {
	if path != existing.Path {
		s.removeFile(ctx, path)
	}
}

// Intake records a processing entry for an already stored file. Size and page
// count are best-effort.
func (s *Service) Intake(ctx context.Context, path, filename string) string {
	size, pages := s.intakeInfo(ctx, path)
	return s.index.Create(filename, path, models.StatusProcessing, size, pages).DocID
}

func (s *Service) intakeInfo(ctx context.Context, path string) (*int64, *int) {
	var size *int64
	if n, err := s.storage.Stat(ctx, path); err == nil {
		size = &n
	} else {
		s.logger.Debug("Could not stat upload", logger.String("path", path), logger.Error(err))
	}

	var pages *int
	if n, err := s.countPages(ctx, path); err == nil {
		pages = &n
	} else {
		s.logger.Debug("Could not count pages", logger.String("path", path), logger.Error(err))
	}
	return size, pages
}

// IndexDocument splits, embeds and stores a document, then marks it ready
// and enforces capacity. With a docID the entry must exist and still be
// processing; with an empty docID a new entry is created unless the file
// duplicates a known document, whose entry is then returned unchanged.
func (s *Service) IndexDocument(ctx context.Context, path, filename, docID string) (models.DocumentEntry, error) {
	if filename == "" {
		filename = path
	}
	filename = filepath.Base(filename)
	if docID != "" {
		defer s.releaseInFlight(docID)
		entry, ok := s.index.Get(docID)
		if !ok {
			return models.DocumentEntry{}, fmt.Errorf("index %s: %w", docID, models.ErrNotFound)
		}
		if entry.Status != models.StatusProcessing {
			return models.DocumentEntry{}, fmt.Errorf("index %s (%s): %w", docID, entry.Status, models.ErrNotProcessing)
		}
	} else {
		hash, err := storage.Hash(ctx, s.storage, path)
		if err != nil {
			return models.DocumentEntry{}, fmt.Errorf("failed to hash document: %w", err)
		}
		s.dedupMu.Lock()
		if existing, ok := s.duplicateLocked(hash); ok {
			s.dedupMu.Unlock()
			s.discardDuplicate(ctx, path, existing)
			s.logger.Info("Duplicate document skipped",
				logger.String("path", path),
				logger.String("doc_id", existing.DocID),
			)
			return existing, nil
		}
		docID = s.index.Create(filename, path, models.StatusProcessing, nil, nil).DocID
		s.inFlight[hash] = docID
		s.dedupMu.Unlock()
		defer s.releaseInFlight(docID)
	}

	log := s.logger.With(logger.String("doc_id", docID))
	log.Info("Indexing document", logger.String("filename", filename))

	result, hash, err := s.split(ctx, path)
	if err != nil {
		return s.fail(docID, log, fmt.Errorf("failed to split document: %w", err))
	}

	chunks := result.Chunks
	ids := make([]string, len(chunks))
	metadatas := make([]map[string]any, len(chunks))
	for i := range chunks {
		ids[i] = vectorstore.ChunkID(docID, i)
		metadatas[i] = map[string]any{
			models.MetaDocID:        docID,
			models.MetaFilename:     filename,
			models.MetaChunkIndex:   i,
			models.MetaTotalChunks:  len(chunks),
			models.MetaDocumentType: models.DocumentTypePDF,
		}
	}

	s.rebuildMu.RLock()
	if err := s.store.AddChunks(ctx, chunks, metadatas, ids); err != nil {
		s.rebuildMu.RUnlock()
		return s.fail(docID, log, fmt.Errorf("failed to store chunks: %w", err))
	}
	updated, found := s.index.CompleteProcessing(docID, len(chunks), hash)
	s.rebuildMu.RUnlock()

	if !updated {
		// deleted or reaped while indexing
		log.Warn("Document left processing during indexing, removing its chunks", logger.Bool("found", found))
		s.discardChunks(context.WithoutCancel(ctx), docID)
		if !found {
			return models.DocumentEntry{}, fmt.Errorf("complete %s: %w", docID, models.ErrNotFound)
		}
		return models.DocumentEntry{}, fmt.Errorf("complete %s: %w", docID, models.ErrNotProcessing)
	}
	if result.Pages > 0 {
		pages := result.Pages
		s.index.Update(docID, index.EntryUpdate{Pages: &pages})
	}

	log.Info("Document indexed",
		logger.Int("chunks", len(chunks)),
		logger.Int("pages", result.Pages),
	)

	if evicted, ok := s.index.EnforceMaxDocuments(s.config.MaxDocuments, docID); ok {
		s.evict(context.WithoutCancel(ctx), evicted)
	}

	entry, ok := s.index.Get(docID)
	if !ok {
		return models.DocumentEntry{}, fmt.Errorf("index %s: %w", docID, models.ErrNotFound)
	}
	return entry, nil
}

// HandleIndexTask runs IndexDocument for a document:index task.
func (s *Service) HandleIndexTask(ctx context.Context, task *queue.Task) error {
	path := task.Payload[queue.PayloadPath]
	if path == "" {
		return fmt.Errorf("task %s: missing %s", task.ID, queue.PayloadPath)
	}
	filename := task.Payload[queue.PayloadFilename]
	if filename == "" {
		filename = filepath.Base(path)
	}
	docID := task.Payload[queue.PayloadDocID]
	if docID == "" {
		docID = task.ID
	}
	_, err := s.IndexDocument(ctx, path, filename, docID)
	return err
}

func (s *Service) fail(docID string, log logger.Logger, err error) (models.DocumentEntry, error) {
	s.index.MarkFailed(docID)
	log.Error("Indexing failed", logger.Error(err))
	return models.DocumentEntry{}, err
}

// split reads the stored file once, returning its chunks and md5.
func (s *Service) split(ctx context.Context, path string) (*models.SplitResult, string, error) {
	data, err := s.readFile(ctx, path)
	if err != nil {
		return nil, "", err
	}
	sum := md5.Sum(data)
	result, err := s.splitter.Split(ctx, bytes.NewReader(data))
	if err != nil {
		return nil, "", err
	}
	if len(result.Chunks) == 0 {
		return nil, "", models.ErrNoText
	}
	return result, hex.EncodeToString(sum[:]), nil
}

func (s *Service) countPages(ctx context.Context, path string) (int, error) {
	rc, err := s.storage.Get(ctx, path)
	if err != nil {
		return 0, err
	}
	defer rc.Close()
	return s.splitter.CountPages(ctx, rc)
}

func (s *Service) readFile(ctx context.Context, path string) ([]byte, error) {
	rc, err := s.storage.Get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

func (s *Service) removeFile(ctx context.Context, path string) {
	if path == "" {
		return
	}
	if err := s.storage.Delete(ctx, path); err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.logger.Warn("Failed to delete file",
			logger.String("path", path),
			logger.Error(err),
		)
	}
}

func (s *Service) releaseInFlight(docID string) {
	s.dedupMu.Lock()
	defer s.dedupMu.Unlock()
	for hash, id := range s.inFlight {
		if id == docID {
			delete(s.inFlight, hash)
		}
	}
}

var _ DocumentService = (*Service)(nil)
