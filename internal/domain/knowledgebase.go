package domain

import (
	"fmt"
	"time"
)

// RetrievalMethod selects how a knowledge base ranks retrieved chunks.
type RetrievalMethod string

const (
	RetrievalMethodSimilarity RetrievalMethod = "similarity"
	RetrievalMethodMMR        RetrievalMethod = "mmr"
	RetrievalMethodHybrid     RetrievalMethod = "hybrid"
)

// KnowledgeBaseSettings controls chunking and retrieval for one knowledge base.
type KnowledgeBaseSettings struct {
	ChunkSize       int
	ChunkOverlap    int
	EmbeddingModel  string
	RetrievalMethod RetrievalMethod
}

// DefaultKnowledgeBaseSettings provides sane defaults for new knowledge bases.
func DefaultKnowledgeBaseSettings() KnowledgeBaseSettings {
	return KnowledgeBaseSettings{
		ChunkSize:       1000,
		ChunkOverlap:    200,
		EmbeddingModel:  "text-embedding-ada-002",
		RetrievalMethod: RetrievalMethodMMR,
	}
}

// KnowledgeBaseStatistics are aggregate counts recomputed from stored rows on demand.
type KnowledgeBaseStatistics struct {
	TotalDocuments   int
	TotalChunks      int
	AverageChunkSize float64
	LastUpdated      time.Time
}

// KnowledgeBase is a named, organization-scoped collection of document chunks
// searchable as one unit.
type KnowledgeBase struct {
	ID          string
	OrgID       string
	Name        string
	Description string
	Settings    KnowledgeBaseSettings
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewKnowledgeBase creates a new KnowledgeBase instance
func NewKnowledgeBase(id, orgID, name, description string, settings KnowledgeBaseSettings, now time.Time) *KnowledgeBase {
	return &KnowledgeBase{
		ID:          id,
		OrgID:       orgID,
		Name:        name,
		Description: description,
		Settings:    settings,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// ValidateKnowledgeBase validates a KnowledgeBase instance
func ValidateKnowledgeBase(kb *KnowledgeBase) error {
	if kb == nil {
		return fmt.Errorf("knowledge base cannot be nil")
	}

	if kb.ID == "" {
		return fmt.Errorf("%w: knowledge base ID", ErrMissingRequiredField)
	}

	if kb.OrgID == "" {
		return fmt.Errorf("%w: knowledge base OrgID", ErrMissingRequiredField)
	}

	if kb.Name == "" {
		return fmt.Errorf("%w: knowledge base Name", ErrMissingRequiredField)
	}

	return ValidateSettings(kb.Settings)
}

// ValidateSettings validates chunking and retrieval settings.
func ValidateSettings(s KnowledgeBaseSettings) error {
	if s.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive: %d", s.ChunkSize)
	}

	if s.ChunkOverlap < 0 {
		return fmt.Errorf("chunk overlap cannot be negative: %d", s.ChunkOverlap)
	}

	if s.ChunkOverlap >= s.ChunkSize {
		return ErrInvalidChunkSettings
	}

	if s.EmbeddingModel == "" {
		return fmt.Errorf("%w: embedding model", ErrMissingRequiredField)
	}

	if !isValidRetrievalMethod(s.RetrievalMethod) {
		return fmt.Errorf("%w: %s", ErrInvalidRetrievalMethod, s.RetrievalMethod)
	}

	return nil
}

// isValidRetrievalMethod checks if a RetrievalMethod is valid
func isValidRetrievalMethod(m RetrievalMethod) bool {
	switch m {
	case RetrievalMethodSimilarity, RetrievalMethodMMR, RetrievalMethodHybrid:
		return true
	}
	return false
}
