package domain

import "fmt"

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     nil,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common domain error codes
const (
	ErrCodeValidation    = "VALIDATION_ERROR"
	ErrCodeEmbedding     = "EMBEDDING_ERROR"
	ErrCodeStorage       = "STORAGE_ERROR"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeSynthesis     = "SYNTHESIS_ERROR"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// Validation errors
var (
	ErrMissingRequiredField   = NewDomainError(ErrCodeValidation, "missing required field")
	ErrInvalidChunkSettings   = NewDomainError(ErrCodeValidation, "chunk overlap must be smaller than chunk size")
	ErrInvalidRetrievalMethod = NewDomainError(ErrCodeValidation, "invalid retrieval method")
	ErrEmptyDocumentContent   = NewDomainError(ErrCodeValidation, "document content cannot be empty")
)

// Not found errors
var (
	ErrKnowledgeBaseNotFound = NewDomainError(ErrCodeNotFound, "knowledge base not found")
	ErrKnowledgeBaseInactive = NewDomainError(ErrCodeNotFound, "knowledge base is deactivated")
)

// Embedding errors
var (
	ErrEmbeddingCountMismatch = NewDomainError(ErrCodeEmbedding, "embedding provider returned a different number of vectors than inputs")
	ErrEmbeddingDimensions    = NewDomainError(ErrCodeEmbedding, "embedding has wrong dimensions")
)
