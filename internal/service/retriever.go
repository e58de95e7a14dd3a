package service

import (
	"context"
	"math"
	"time"

	"github.com/veldt-labs/quarry/internal/domain"
)

const (
	// DefaultTopK bounds the number of chunks handed to synthesis.
	DefaultTopK = 5
	// DefaultThreshold is the minimum similarity for a chunk to be considered.
	DefaultThreshold = 0.7
	// mmrLambda trades relevance against redundancy during re-ranking.
	mmrLambda = 0.7
)

// VectorSearcher is the similarity-search face of the vector store.
type VectorSearcher interface {
	SimilaritySearch(ctx context.Context, kbID string, embedding []float32, topK int, threshold float64) ([]domain.RetrievalResult, error)
}

// DateRange bounds chunk creation time. Zero bounds impose no constraint.
type DateRange struct {
	From time.Time
	To   time.Time
}

// RetrievalFilters restrict retrieval structurally. Every supplied filter
// must hold for a result to be kept; absent filters impose no constraint.
type RetrievalFilters struct {
	DocumentIDs []string
	Sources     []string
	DateRange   *DateRange
}

// Empty reports whether no filter is set.
func (f *RetrievalFilters) Empty() bool {
	return f == nil || (len(f.DocumentIDs) == 0 && len(f.Sources) == 0 && f.DateRange == nil)
}

// Retriever orchestrates query embedding, similarity search, structural
// filtering, relevance classification, and MMR re-ranking. Stateless.
type Retriever struct {
	embedder EmbeddingClient
	store    VectorSearcher
	policy   domain.RelevancePolicy
}

// NewRetriever creates a new Retriever instance
func NewRetriever(embedder EmbeddingClient, store VectorSearcher) *Retriever {
	return &Retriever{
		embedder: embedder,
		store:    store,
		policy:   domain.QueryRelevancePolicy(),
	}
}

// Retrieve returns at most topK results scoring at least threshold,
// re-ranked for diversity.
func (r *Retriever) Retrieve(ctx context.Context, kbID, query string, topK int, threshold float64, filters *RetrievalFilters) ([]domain.RetrievalResult, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}

	embedding, err := r.embedder.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeEmbedding, "failed to embed query", err)
	}

	results, err := r.store.SimilaritySearch(ctx, kbID, embedding, topK, threshold)
	if err != nil {
		return nil, err
	}

	results = applyFilters(results, filters)

	for i := range results {
		results[i].Relevance = r.policy.Classify(results[i].Score)
	}

	if len(results) > 1 {
		results = mmrRerank(results, topK, mmrLambda)
	}

	if len(results) > topK {
		results = results[:topK]
	}

	return results, nil
}

func applyFilters(results []domain.RetrievalResult, filters *RetrievalFilters) []domain.RetrievalResult {
	if filters.Empty() {
		return results
	}

	docIDs := toSet(filters.DocumentIDs)
	sources := toSet(filters.Sources)

	kept := results[:0]
	for _, res := range results {
		if len(docIDs) > 0 && !docIDs[res.Chunk.DocumentID] {
			continue
		}
		if len(sources) > 0 && !sources[res.Chunk.Metadata.Source] {
			continue
		}
		if filters.DateRange != nil {
			created := res.Chunk.CreatedAt
			if !filters.DateRange.From.IsZero() && created.Before(filters.DateRange.From) {
				continue
			}
			if !filters.DateRange.To.IsZero() && created.After(filters.DateRange.To) {
				continue
			}
		}
		kept = append(kept, res)
	}
	return kept
}

func toSet(values []string) map[string]bool {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

// mmrRerank greedily selects up to topK results by Maximal Marginal
// Relevance: each step picks the candidate maximizing
// lambda*score - (1-lambda)*maxSimilarityToSelected. Near-duplicate chunks
// are penalized so the synthesizer sees diverse context.
func mmrRerank(results []domain.RetrievalResult, topK int, lambda float64) []domain.RetrievalResult {
	if len(results) <= 1 {
		return results
	}

	remaining := make([]domain.RetrievalResult, len(results))
	copy(remaining, results)

	// Seed with the single highest-scoring candidate.
	best := 0
	for i := 1; i < len(remaining); i++ {
		if remaining[i].Score > remaining[best].Score {
			best = i
		}
	}

	selected := make([]domain.RetrievalResult, 0, topK)
	selected = append(selected, remaining[best])
	remaining = append(remaining[:best], remaining[best+1:]...)

	for len(selected) < topK && len(remaining) > 0 {
		bestIdx := 0
		bestScore := math.Inf(-1)
		for i, cand := range remaining {
			maxSim := 0.0
			for _, sel := range selected {
				if sim := CosineSimilarity(cand.Chunk.Embedding, sel.Chunk.Embedding); sim > maxSim {
					maxSim = sim
				}
			}
			mmr := lambda*cand.Score - (1-lambda)*maxSim
			if mmr > bestScore {
				bestScore = mmr
				bestIdx = i
			}
		}
		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}

	return selected
}

// CosineSimilarity returns dot(a,b)/(|a|*|b|), or 0 for mismatched, empty,
// or zero-norm vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
