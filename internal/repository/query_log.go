package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veldt-labs/quarry/internal/domain"
)

// QueryLogRepository records answered queries for offline inspection.
type QueryLogRepository struct {
	db dbtx
}

func NewQueryLogRepository(pool *pgxpool.Pool) *QueryLogRepository {
	return &QueryLogRepository{db: pool}
}

func (r *QueryLogRepository) Record(ctx context.Context, entry *domain.QueryLog) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO query_logs (id, knowledge_base_id, query, chunks_retrieved, confidence, latency_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.KnowledgeBaseID, entry.Query, entry.ChunksRetrieved, entry.Confidence, entry.LatencyMS, entry.CreatedAt,
	)
	return err
}
