package domain

// Relevance is a coarse bucket derived from a similarity score.
type Relevance string

const (
	RelevanceHigh   Relevance = "high"
	RelevanceMedium Relevance = "medium"
	RelevanceLow    Relevance = "low"
)

// RelevancePolicy maps similarity scores to relevance buckets. The thresholds
// differ between the storage-facing and query-facing call sites, so both are
// expressed through this one type instead of scattered constants.
type RelevancePolicy struct {
	High   float64
	Medium float64
}

// StoreRelevancePolicy buckets scores as the vector store labels search rows.
func StoreRelevancePolicy() RelevancePolicy {
	return RelevancePolicy{High: 0.85, Medium: 0.75}
}

// QueryRelevancePolicy buckets scores at the query orchestration layer.
func QueryRelevancePolicy() RelevancePolicy {
	return RelevancePolicy{High: 0.85, Medium: 0.70}
}

// Classify returns the bucket for a score. Monotonic: a higher score never
// yields a lower bucket.
func (p RelevancePolicy) Classify(score float64) Relevance {
	switch {
	case score >= p.High:
		return RelevanceHigh
	case score >= p.Medium:
		return RelevanceMedium
	default:
		return RelevanceLow
	}
}

// RetrievalResult is one scored chunk produced for a query. Ephemeral, never
// persisted.
type RetrievalResult struct {
	Chunk     DocumentChunk
	Score     float64
	Relevance Relevance
}
