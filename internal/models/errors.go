package models

import "errors"

var (
	// ErrNotFound is returned when a doc_id is unknown to the index.
	ErrNotFound = errors.New("document not found")
	// ErrNotProcessing is returned when an index task targets an entry that already left the processing state.
	ErrNotProcessing = errors.New("document is not processing")
	// ErrNoText is returned when a document yields no extractable text.
	ErrNoText = errors.New("no extractable text in document")
	// ErrUnsupportedType is returned for uploads that are not PDF documents.
	ErrUnsupportedType = errors.New("unsupported file type")
)
