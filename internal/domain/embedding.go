package domain

// EmbeddingModelInfo is the fixed capability descriptor of an embedding model.
type EmbeddingModelInfo struct {
	Model      string
	Dimensions int
	MaxTokens  int
}
