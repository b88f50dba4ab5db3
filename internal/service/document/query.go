package document

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/feichai0017/document-rag/internal/models"
	"github.com/feichai0017/document-rag/internal/vectorstore"
	"github.com/feichai0017/document-rag/pkg/logger"
	"github.com/feichai0017/document-rag/pkg/queue"
	"github.com/feichai0017/document-rag/pkg/storage"
)

const noResultsAnswer = "No relevant information found."

// Ask answers question from the k most similar chunks, optionally restricted
// to one document. k <= 0 uses the configured default.
func (s *Service) Ask(ctx context.Context, question, docID string, k int) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", &vectorstore.ValidationError{Field: "question", Reason: "must not be empty"}
	}
	if k <= 0 {
		k = s.config.TopK
	}

	var filter vectorstore.Filter
	if docID != "" {
		filter = vectorstore.Filter{models.MetaDocID: docID}
	}
	matches, err := s.store.Search(ctx, question, filter, k)
	if err != nil {
		return "", fmt.Errorf("failed to retrieve context: %w", err)
	}
	if len(matches) == 0 {
		if docID != "" {
			return fmt.Sprintf("No information found for document with id '%s'.", docID), nil
		}
		return noResultsAnswer, nil
	}

	contexts := make([]string, len(matches))
	for i, m := range matches {
		contexts[i] = m.Text
	}
	answer, err := s.generator.Generate(ctx, question, contexts)
	if err != nil {
		return "", fmt.Errorf("failed to generate answer: %w", err)
	}

	s.logger.Debug("Question answered",
		logger.String("doc_id", docID),
		logger.Int("contexts", len(contexts)),
	)
	return answer, nil
}

// Status reaps stale entries, then lists every document.
func (s *Service) Status(ctx context.Context) (*StatusReport, error) {
	s.ReapStale(ctx, s.config.StaleTimeout)

	entries := s.index.GetAll()
	s.observeDocuments(entries)
	return &StatusReport{
		Documents: entries,
		Total:     len(entries),
		Persisted: s.store.Persisted(ctx),
	}, nil
}

// Document returns the entry for docID with the chunk count and content hash
// currently held by the vector store.
func (s *Service) Document(ctx context.Context, docID string) (*DocumentDetails, error) {
	entry, ok := s.index.Get(docID)
	if !ok {
		return nil, fmt.Errorf("document %s: %w", docID, models.ErrNotFound)
	}
	stored, err := s.store.CountChunks(ctx, docID)
	if err != nil {
		return nil, fmt.Errorf("failed to count chunks: %w", err)
	}
	hash, _, err := s.store.ContentHash(ctx, docID)
	if err != nil {
		return nil, fmt.Errorf("failed to hash chunks: %w", err)
	}
	return &DocumentDetails{Document: entry, StoredChunks: stored, ContentHash: hash}, nil
}

// OpenDocument opens the stored file of docID. The caller closes the reader.
func (s *Service) OpenDocument(ctx context.Context, docID string) (io.ReadCloser, models.DocumentEntry, error) {
	entry, ok := s.index.Get(docID)
	if !ok {
		return nil, models.DocumentEntry{}, fmt.Errorf("document %s: %w", docID, models.ErrNotFound)
	}
	rc, err := s.storage.Get(ctx, entry.Path)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, entry, fmt.Errorf("file of document %s: %w", docID, models.ErrNotFound)
		}
		return nil, entry, fmt.Errorf("failed to open document: %w", err)
	}
	return rc, entry, nil
}

// TaskStatus returns the queue status of the index task for docID.
func (s *Service) TaskStatus(ctx context.Context, docID string) (*queue.TaskStatus, error) {
	status, err := s.queue.GetTaskStatus(ctx, docID)
	if err != nil {
		if errors.Is(err, queue.ErrTaskNotFound) {
			return nil, fmt.Errorf("task %s: %w", docID, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get task status: %w", err)
	}
	return status, nil
}
