package document

import (
    "context"
    "io"

    "github.com/feichai0017/document-rag/internal/models"
    "github.com/feichai0017/document-rag/pkg/queue"
)

// DocumentService is what the HTTP handlers need from the orchestrator.
type DocumentService interface {
    Upload(ctx context.Context, reader io.Reader, filename string) (*UploadResult, error)
    Ask(ctx context.Context, question, docID string, k int) (string, error)
    Status(ctx context.Context) (*StatusReport, error)
    Document(ctx context.Context, docID string) (*DocumentDetails, error)
    OpenDocument(ctx context.Context, docID string) (io.ReadCloser, models.DocumentEntry, error)
    Delete(ctx context.Context, docID string) (bool, error)
    TaskStatus(ctx context.Context, docID string) (*queue.TaskStatus, error)
}

// UploadResult 上传结果
type UploadResult struct {
    DocID     string `json:"doc_id"`
    Duplicate bool   `json:"duplicate"`
}

// StatusReport lists every index entry.
type StatusReport struct {
    Documents []models.DocumentEntry `json:"documents"`
    Total     int                    `json:"total"`
    Persisted bool                   `json:"vector_store_persisted"`
}

// DocumentDetails is an index entry plus what the vector store holds for it.
type DocumentDetails struct {
    Document     models.DocumentEntry `json:"document"`
    StoredChunks int                  `json:"stored_chunks"`
    ContentHash  string               `json:"content_hash,omitempty"`
}
