package domain

import (
	"fmt"
	"time"
)

// Document is the transient ingestion input: callers own the id and content,
// the engine derives everything else.
type Document struct {
	ID       string
	Content  string
	Metadata map[string]any
}

// ValidateDocument validates an ingestion document.
func ValidateDocument(d *Document) error {
	if d == nil {
		return fmt.Errorf("document cannot be nil")
	}

	if d.ID == "" {
		return fmt.Errorf("%w: document ID", ErrMissingRequiredField)
	}

	if d.Content == "" {
		return ErrEmptyDocumentContent
	}

	return nil
}

// ChunkMetadata carries structural position and provenance for one chunk.
type ChunkMetadata struct {
	Source     string
	Title      string
	Page       int
	Section    string
	ChunkIndex int
	Tokens     int
	StartChar  int
	EndChar    int
}

// DocumentChunk is a bounded slice of a document's text, stored and embedded
// independently. Its ID doubles as the storage key within a knowledge base.
type DocumentChunk struct {
	ID         string
	DocumentID string
	Content    string
	Metadata   ChunkMetadata
	Embedding  []float32
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ChunkID derives the deterministic chunk key. Re-ingesting a document with
// the same index produces the same key, so storage upserts instead of
// duplicating.
func ChunkID(documentID string, chunkIndex int) string {
	return fmt.Sprintf("%s_chunk_%d", documentID, chunkIndex)
}
