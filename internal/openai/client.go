package openai

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"unicode/utf8"

	openai "github.com/sashabaranov/go-openai"

	"github.com/veldt-labs/quarry/internal/domain"
)

const (
	// DefaultEmbeddingModel is the OpenAI model used for generating embeddings
	DefaultEmbeddingModel = openai.AdaEmbeddingV2
	// DefaultEmbeddingDimensions is the expected dimension of embeddings from ada-002
	DefaultEmbeddingDimensions = 1536
	// DefaultMaxTokens is the input token limit of ada-002
	DefaultMaxTokens = 8191
)

var (
	// ErrEmptyText is returned when text is empty
	ErrEmptyText = errors.New("text cannot be empty")
	// ErrNoAPIKey is returned when OpenAI API key is not set
	ErrNoAPIKey = errors.New("OPENAI_API_KEY environment variable not set")
)

// EmbeddingAPI defines the interface for embedding generation
type EmbeddingAPI interface {
	CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

// Client wraps the OpenAI embeddings API
type Client struct {
	api  EmbeddingAPI
	info domain.EmbeddingModelInfo
}

type OpenAIAdapter struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

func NewOpenAIAdapter(apiKey string, model openai.EmbeddingModel) *OpenAIAdapter {
	if model == "" {
		model = DefaultEmbeddingModel
	}
	return &OpenAIAdapter{
		client: openai.NewClient(apiKey),
		model:  model,
	}
}

// CreateEmbeddings calls the OpenAI API to create embeddings for a batch of texts
func (a *OpenAIAdapter) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := a.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: a.model,
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Data) == 0 {
		return nil, errors.New("no embedding data returned")
	}

	// The API reports each vector's input position; order by it rather than
	// trusting response order.
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("embedding index %d out of range for %d inputs", d.Index, len(texts))
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

type Config struct {
	APIKey              string
	EmbeddingModel      openai.EmbeddingModel
	EmbeddingDimensions int
	MaxTokens           int
}

// NewClient creates a new OpenAI client using defaults.
func NewClient(apiKey string) *Client {
	return NewClientWithConfig(Config{APIKey: apiKey})
}

// NewClientWithConfig creates a new OpenAI client with explicit configuration.
func NewClientWithConfig(cfg Config) *Client {
	model := cfg.EmbeddingModel
	if model == "" {
		model = DefaultEmbeddingModel
	}
	dimensions := cfg.EmbeddingDimensions
	if dimensions <= 0 {
		dimensions = DefaultEmbeddingDimensions
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Client{
		api: NewOpenAIAdapter(cfg.APIKey, model),
		info: domain.EmbeddingModelInfo{
			Model:      string(model),
			Dimensions: dimensions,
			MaxTokens:  maxTokens,
		},
	}
}

// NewClientFromEnv creates a new OpenAI client using OPENAI_API_KEY environment variable
func NewClientFromEnv() (*Client, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	return NewClient(apiKey), nil
}

// NewClientWithAPI creates a Client backed by a custom EmbeddingAPI (for tests).
func NewClientWithAPI(api EmbeddingAPI, info domain.EmbeddingModelInfo) *Client {
	return &Client{api: api, info: info}
}

// ModelInfo returns the fixed capability descriptor of the configured model.
func (c *Client) ModelInfo() domain.EmbeddingModelInfo {
	return c.info
}

// EstimateTokens approximates the token count of text as ceil(len/4).
func (c *Client) EstimateTokens(text string) int {
	return EstimateTokens(text)
}

// EstimateTokens approximates the token count of text as ceil(len/4).
func EstimateTokens(text string) int {
	return int(math.Ceil(float64(len(text)) / 4))
}

// GenerateEmbedding generates an embedding for the given text
func (c *Client) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := c.GenerateEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// GenerateEmbeddings generates embeddings for a batch of texts, preserving
// input order. Provider errors propagate untouched; retry policy belongs to
// the caller.
func (c *Client) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	inputs := make([]string, len(texts))
	for i, text := range texts {
		if text == "" {
			return nil, ErrEmptyText
		}
		inputs[i] = truncateToTokenLimit(text, c.info.MaxTokens)
	}

	embeddings, err := c.api.CreateEmbeddings(ctx, inputs)
	if err != nil {
		return nil, fmt.Errorf("failed to create embeddings: %w", err)
	}

	if len(embeddings) != len(inputs) {
		return nil, fmt.Errorf("%w: got %d, want %d", domain.ErrEmbeddingCountMismatch, len(embeddings), len(inputs))
	}

	for i, embedding := range embeddings {
		if len(embedding) != c.info.Dimensions {
			return nil, fmt.Errorf("%w: input %d has %d dimensions, expected %d",
				domain.ErrEmbeddingDimensions, i, len(embedding), c.info.Dimensions)
		}
	}

	return embeddings, nil
}

// truncateToTokenLimit cuts text to a conservative character budget for the
// model's token limit, preferring a word boundary when one falls inside the
// final tenth of the slice. The cut never lands inside a multi-byte rune.
func truncateToTokenLimit(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return text
	}

	maxChars := int(float64(maxTokens) * 3.5)
	if len(text) <= maxChars {
		return text
	}

	end := maxChars
	for end > 0 && !utf8.RuneStart(text[end]) {
		end--
	}

	cut := text[:end]
	if idx := strings.LastIndex(cut, " "); idx > int(float64(maxChars)*0.9) {
		cut = cut[:idx]
	}
	return cut
}
