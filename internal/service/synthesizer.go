package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/veldt-labs/quarry/internal/domain"
)

// NoRelevantInformationAnswer is returned verbatim when retrieval comes back
// empty. The language model is never called in that case.
const NoRelevantInformationAnswer = "I couldn't find relevant information in the knowledge base to answer your question."

const (
	// synthesisTemperature keeps answers extractive rather than creative.
	synthesisTemperature float32 = 0.1
	// maxConfidence caps confidence below 100: retrieval relevance is a
	// proxy for answer correctness, not a guarantee.
	maxConfidence = 95.0
)

const groundingSystemPrompt = "You are a helpful assistant that answers questions using only the provided context. " +
	"If the context does not contain enough information to answer the question, say so plainly. " +
	"Do not use any knowledge beyond the supplied context."

// ChatClient defines the interface for grounded chat completions.
type ChatClient interface {
	Complete(ctx context.Context, model, systemPrompt, userPrompt string, temperature float32) (content string, tokensUsed int, err error)
}

// Synthesis is the outcome of answer generation for one query.
type Synthesis struct {
	Content    string
	Confidence float64
	TokensUsed int
}

// AnswerSynthesizer builds a grounding prompt from retrieved chunks and asks
// a language model for a cited answer.
type AnswerSynthesizer struct {
	chat ChatClient
}

// NewAnswerSynthesizer creates a new AnswerSynthesizer instance
func NewAnswerSynthesizer(chat ChatClient) *AnswerSynthesizer {
	return &AnswerSynthesizer{chat: chat}
}

// Synthesize produces an answer grounded in the retrieval results. An empty
// result set short-circuits to a fixed zero-confidence answer.
func (s *AnswerSynthesizer) Synthesize(ctx context.Context, query string, results []domain.RetrievalResult, model string) (*Synthesis, error) {
	if len(results) == 0 {
		return &Synthesis{
			Content:    NoRelevantInformationAnswer,
			Confidence: 0,
			TokensUsed: 0,
		}, nil
	}

	prompt := buildGroundingPrompt(query, results)

	content, tokensUsed, err := s.chat.Complete(ctx, model, groundingSystemPrompt, prompt, synthesisTemperature)
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeSynthesis, "failed to synthesize answer", err)
	}

	return &Synthesis{
		Content:    content,
		Confidence: confidenceFromScores(results),
		TokensUsed: tokensUsed,
	}, nil
}

func buildGroundingPrompt(query string, results []domain.RetrievalResult) string {
	var b strings.Builder

	b.WriteString("Context:\n\n")
	for i, res := range results {
		source := res.Chunk.Metadata.Source
		if source == "" {
			source = res.Chunk.DocumentID
		}
		fmt.Fprintf(&b, "[%d] Source: %s\nContent: %s\n\n", i+1, source, res.Chunk.Content)
	}

	fmt.Fprintf(&b, "Question: %s\n\nAnswer the question using only the context above.", query)

	return b.String()
}

// confidenceFromScores derives confidence from the retrieval scores actually
// used, not from the model's own certainty.
func confidenceFromScores(results []domain.RetrievalResult) float64 {
	var sum float64
	for _, res := range results {
		sum += res.Score
	}
	confidence := sum / float64(len(results)) * 100
	if confidence > maxConfidence {
		confidence = maxConfidence
	}
	return confidence
}
