package domain

import "time"

// QueryLog records one answered query for observability. Written
// best-effort; failures never affect the query result.
type QueryLog struct {
	ID              string
	KnowledgeBaseID string
	Query           string
	ChunksRetrieved int
	Confidence      float64
	LatencyMS       int64
	CreatedAt       time.Time
}
