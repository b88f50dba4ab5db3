package models

import (
	"time"
)

// DocumentStatus 文档处理状态
type DocumentStatus string

const (
	StatusProcessing DocumentStatus = "processing"
	StatusReady      DocumentStatus = "ready"
	StatusFailed     DocumentStatus = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s DocumentStatus) Valid() bool {
	switch s {
	case StatusProcessing, StatusReady, StatusFailed:
		return true
	}
	return false
}

// DocumentType is stored on every chunk's metadata.
const DocumentTypePDF = "pdf"

// DocumentEntry 文档索引记录
type DocumentEntry struct {
	DocID      string         `json:"doc_id"`
	Filename   string         `json:"filename"`
	UploadedAt time.Time      `json:"uploaded_at"`
	IndexedAt  *time.Time     `json:"indexed_at"`
	Chunks     int            `json:"chunks"`
	Path       string         `json:"path"`
	Status     DocumentStatus `json:"status"`
	Size       *int64         `json:"size"`
	Pages      *int           `json:"pages"`
	FileHash   string         `json:"file_hash,omitempty"`
}

// Clone returns a deep copy so callers never share pointers with the index.
func (e DocumentEntry) Clone() DocumentEntry {
	out := e
	if e.IndexedAt != nil {
		t := *e.IndexedAt
		out.IndexedAt = &t
	}
	if e.Size != nil {
		v := *e.Size
		out.Size = &v
	}
	if e.Pages != nil {
		v := *e.Pages
		out.Pages = &v
	}
	return out
}

// SplitResult is what a splitter produces for one document.
type SplitResult struct {
	Pages  int      `json:"pages"`
	Chunks []string `json:"chunks"`
}

// Chunk metadata keys.
const (
	MetaDocID        = "doc_id"
	MetaFilename     = "filename"
	MetaChunkIndex   = "chunk_index"
	MetaTotalChunks  = "total_chunks"
	MetaDocumentType = "document_type"
)
