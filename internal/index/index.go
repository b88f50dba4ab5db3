// Package index is the durable metadata index of uploaded documents.
//
// The index is a JSON array persisted to a single file. One mutex guards both
// the in-memory collection and the rewrite of that file, so read-modify-write
// sequences such as "find the oldest entry, then remove it" are atomic.
package index

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/feichai0017/document-rag/internal/models"
	"github.com/feichai0017/document-rag/pkg/logger"
)

// PersistenceError reports a failure to read or write the backing file.
type PersistenceError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("index %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// EntryUpdate carries the fields of a partial update. Nil fields are left untouched.
type EntryUpdate struct {
	Filename  *string
	Path      *string
	Status    *models.DocumentStatus
	Chunks    *int
	Size      *int64
	Pages     *int
	FileHash  *string
	IndexedAt *time.Time
}

// Index is a file-backed collection of document entries.
type Index struct {
	mu      sync.Mutex
	path    string
	entries []models.DocumentEntry
	now     func() time.Time
	newID   func() string
	logger  logger.Logger
}

// Option configures an Index.
type Option func(*Index)

// WithClock overrides the time source used for uploaded_at and indexed_at.
func WithClock(now func() time.Time) Option {
	return func(i *Index) {
		i.now = now
	}
}

// WithIDGenerator overrides doc_id generation.
func WithIDGenerator(gen func() string) Option {
	return func(i *Index) {
		i.newID = gen
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(i *Index) {
		i.logger = l
	}
}

// Open loads the index at path. A missing or unreadable file is treated as an
// empty index and immediately re-persisted.
func Open(path string, opts ...Option) (*Index, error) {
	idx := &Index{
		path:   path,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
		logger: logger.NewNop(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	idx.logger = idx.logger.Named("index")

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, &PersistenceError{Op: "mkdir", Path: path, Err: err}
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	entries, err := idx.load()
	if err != nil {
		idx.logger.Warn("Index file unreadable, starting empty",
			logger.String("path", path),
			logger.Error(err),
		)
		entries = nil
	}
	idx.entries = entries
	if err != nil || entries == nil {
		if err := idx.persist(); err != nil {
			idx.logger.Error("Failed to re-create index file", logger.Error(err))
		}
	}

	idx.logger.Info("Index loaded",
		logger.String("path", path),
		logger.Int("entries", len(idx.entries)),
	)
	return idx, nil
}

func (i *Index) load() ([]models.DocumentEntry, error) {
	data, err := os.ReadFile(i.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &PersistenceError{Op: "read", Path: i.path, Err: err}
	}
	if len(data) == 0 {
		return nil, nil
	}

	var entries []models.DocumentEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, &PersistenceError{Op: "decode", Path: i.path, Err: err}
	}
	return entries, nil
}

// persist rewrites the whole file. Callers must hold i.mu.
func (i *Index) persist() error {
	entries := i.entries
	if entries == nil {
		entries = []models.DocumentEntry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return &PersistenceError{Op: "encode", Path: i.path, Err: err}
	}

	tmp, err := os.CreateTemp(filepath.Dir(i.path), filepath.Base(i.path)+".*.tmp")
	if err != nil {
		return &PersistenceError{Op: "write", Path: i.path, Err: err}
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &PersistenceError{Op: "write", Path: i.path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &PersistenceError{Op: "write", Path: i.path, Err: err}
	}
	if err := os.Rename(tmpName, i.path); err != nil {
		os.Remove(tmpName)
		return &PersistenceError{Op: "rename", Path: i.path, Err: err}
	}
	return nil
}

// save persists and logs failures. The in-memory state stays authoritative;
// the next successful write catches the file up.
func (i *Index) save(op string) {
	if err := i.persist(); err != nil {
		i.logger.Error("Failed to persist index",
			logger.String("op", op),
			logger.Error(err),
		)
	}
}

func (i *Index) find(docID string) int {
	for n := range i.entries {
		if i.entries[n].DocID == docID {
			return n
		}
	}
	return -1
}

// Create appends a new entry and returns a copy of it.
func (i *Index) Create(filename, path string, status models.DocumentStatus, size *int64, pages *int) models.DocumentEntry {
	i.mu.Lock()
	defer i.mu.Unlock()

	entry := models.DocumentEntry{
		DocID:      i.newID(),
		Filename:   filename,
		UploadedAt: i.now(),
		Path:       path,
		Status:     status,
		Size:       size,
		Pages:      pages,
	}
	i.entries = append(i.entries, entry.Clone())

	i.save("create")
	return entry.Clone()
}

// Update applies a partial update. It returns false if docID is unknown.
func (i *Index) Update(docID string, u EntryUpdate) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	n := i.find(docID)
	if n < 0 {
		return false
	}
	i.apply(&i.entries[n], u)
	i.save("update")
	return true
}

// UpdateIfStatus applies u only while docID is still in status from.
// found is false when docID is unknown.
func (i *Index) UpdateIfStatus(docID string, from models.DocumentStatus, u EntryUpdate) (updated, found bool) {
	i.mu.Lock()
	defer i.mu.Unlock()

	n := i.find(docID)
	if n < 0 {
		return false, false
	}
	if i.entries[n].Status != from {
		return false, true
	}
	i.apply(&i.entries[n], u)
	i.save("update")
	return true, true
}

func (i *Index) apply(e *models.DocumentEntry, u EntryUpdate) {
	if u.Filename != nil {
		e.Filename = *u.Filename
	}
	if u.Path != nil {
		e.Path = *u.Path
	}
	if u.Status != nil {
		e.Status = *u.Status
	}
	if u.Chunks != nil {
		e.Chunks = *u.Chunks
	}
	if u.Size != nil {
		v := *u.Size
		e.Size = &v
	}
	if u.Pages != nil {
		v := *u.Pages
		e.Pages = &v
	}
	if u.FileHash != nil {
		e.FileHash = *u.FileHash
	}
	if u.IndexedAt != nil {
		t := *u.IndexedAt
		e.IndexedAt = &t
	}
}

// MarkCompleted transitions docID to ready.
func (i *Index) MarkCompleted(docID string, chunks int, fileHash string) bool {
	return i.Update(docID, i.completion(chunks, fileHash))
}

// CompleteProcessing is MarkCompleted guarded on the entry still processing,
// so an entry reaped or deleted mid-indexing is never revived.
func (i *Index) CompleteProcessing(docID string, chunks int, fileHash string) (updated, found bool) {
	return i.UpdateIfStatus(docID, models.StatusProcessing, i.completion(chunks, fileHash))
}

func (i *Index) completion(chunks int, fileHash string) EntryUpdate {
	now := i.now()
	status := models.StatusReady
	return EntryUpdate{
		Status:    &status,
		Chunks:    &chunks,
		FileHash:  &fileHash,
		IndexedAt: &now,
	}
}

// MarkFailed transitions docID to failed.
func (i *Index) MarkFailed(docID string) bool {
	status := models.StatusFailed
	return i.Update(docID, EntryUpdate{Status: &status})
}

// Delete removes docID and returns the removed entry.
func (i *Index) Delete(docID string) (models.DocumentEntry, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()

	n := i.find(docID)
	if n < 0 {
		return models.DocumentEntry{}, false
	}
	removed := i.entries[n]
	i.entries = append(i.entries[:n], i.entries[n+1:]...)
	i.save("delete")
	return removed.Clone(), true
}

// FailStale marks every processing entry uploaded before cutoff as failed and
// returns them.
func (i *Index) FailStale(cutoff time.Time) []models.DocumentEntry {
	i.mu.Lock()
	defer i.mu.Unlock()

	var stale []models.DocumentEntry
	for n := range i.entries {
		e := &i.entries[n]
		if e.Status == models.StatusProcessing && e.UploadedAt.Before(cutoff) {
			e.Status = models.StatusFailed
			stale = append(stale, e.Clone())
		}
	}
	if len(stale) > 0 {
		i.save("fail_stale")
	}
	return stale
}

// Now returns the index clock's current time.
func (i *Index) Now() time.Time {
	return i.now()
}

// Get returns a copy of the entry for docID.
func (i *Index) Get(docID string) (models.DocumentEntry, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()

	n := i.find(docID)
	if n < 0 {
		return models.DocumentEntry{}, false
	}
	return i.entries[n].Clone(), true
}

// GetAll returns every entry in insertion order.
func (i *Index) GetAll() []models.DocumentEntry {
	i.mu.Lock()
	defer i.mu.Unlock()

	out := make([]models.DocumentEntry, 0, len(i.entries))
	for _, e := range i.entries {
		out = append(out, e.Clone())
	}
	return out
}

// Count returns the number of entries.
func (i *Index) Count() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.entries)
}

// FindByStatus returns the entries with the given status, in insertion order.
func (i *Index) FindByStatus(status models.DocumentStatus) []models.DocumentEntry {
	i.mu.Lock()
	defer i.mu.Unlock()

	var out []models.DocumentEntry
	for _, e := range i.entries {
		if e.Status == status {
			out = append(out, e.Clone())
		}
	}
	return out
}

// FindDuplicateByHash returns the entry carrying fileHash.
func (i *Index) FindDuplicateByHash(fileHash string) (models.DocumentEntry, bool) {
	if fileHash == "" {
		return models.DocumentEntry{}, false
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	for _, e := range i.entries {
		if e.FileHash == fileHash {
			return e.Clone(), true
		}
	}
	return models.DocumentEntry{}, false
}

// EnforceMaxDocuments evicts at most one ready entry when more than limit are
// ready. The victim is the oldest by uploaded_at, ties broken by insertion
// order. If the victim is exemptDocID nothing is evicted this round.
func (i *Index) EnforceMaxDocuments(limit int, exemptDocID string) (models.DocumentEntry, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()

	ready := 0
	oldest := -1
	for n, e := range i.entries {
		if e.Status != models.StatusReady {
			continue
		}
		ready++
		if oldest < 0 || e.UploadedAt.Before(i.entries[oldest].UploadedAt) {
			oldest = n
		}
	}
	if ready <= limit || oldest < 0 {
		return models.DocumentEntry{}, false
	}
	if i.entries[oldest].DocID == exemptDocID {
		i.logger.Debug("Oldest document is exempt from eviction",
			logger.String("doc_id", exemptDocID),
		)
		return models.DocumentEntry{}, false
	}

	evicted := i.entries[oldest]
	i.entries = append(i.entries[:oldest], i.entries[oldest+1:]...)
	i.logger.Info("Evicted document over capacity",
		logger.String("doc_id", evicted.DocID),
		logger.String("filename", evicted.Filename),
		logger.Int("limit", limit),
	)
	i.save("evict")
	return evicted.Clone(), true
}
