package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veldt-labs/quarry/internal/domain"
	"github.com/veldt-labs/quarry/internal/pagination"
	"github.com/veldt-labs/quarry/internal/service"
)

// KnowledgeBaseRepository persists knowledge bases and their chunks. It backs
// the whole service.VectorStore surface.
type KnowledgeBaseRepository struct {
	db dbtx
}

func NewKnowledgeBaseRepository(pool *pgxpool.Pool) *KnowledgeBaseRepository {
	return &KnowledgeBaseRepository{db: pool}
}

func NewKnowledgeBaseRepositoryWithTx(tx pgx.Tx) *KnowledgeBaseRepository {
	return &KnowledgeBaseRepository{db: tx}
}

func (r *KnowledgeBaseRepository) CreateKnowledgeBase(ctx context.Context, kb *domain.KnowledgeBase) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO knowledge_bases
			(id, org_id, name, description, embedding_model, chunk_size, chunk_overlap, retrieval_method, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		kb.ID, kb.OrgID, kb.Name, kb.Description,
		kb.Settings.EmbeddingModel, kb.Settings.ChunkSize, kb.Settings.ChunkOverlap, string(kb.Settings.RetrievalMethod),
		kb.IsActive, kb.CreatedAt, kb.UpdatedAt,
	)
	return err
}

func (r *KnowledgeBaseRepository) GetKnowledgeBase(ctx context.Context, id string) (*domain.KnowledgeBase, error) {
	var kb domain.KnowledgeBase
	var method string
	err := r.db.QueryRow(ctx,
		`SELECT id, org_id, name, description, embedding_model, chunk_size, chunk_overlap, retrieval_method, is_active, created_at, updated_at
		 FROM knowledge_bases WHERE id = $1`,
		id,
	).Scan(&kb.ID, &kb.OrgID, &kb.Name, &kb.Description,
		&kb.Settings.EmbeddingModel, &kb.Settings.ChunkSize, &kb.Settings.ChunkOverlap, &method,
		&kb.IsActive, &kb.CreatedAt, &kb.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrKnowledgeBaseNotFound
		}
		return nil, err
	}
	kb.Settings.RetrievalMethod = domain.RetrievalMethod(method)
	return &kb, nil
}

func (r *KnowledgeBaseRepository) ListKnowledgeBases(ctx context.Context, orgID string, cursor *pagination.Cursor, limit int) (*service.KnowledgeBasePageResult, error) {
	if limit <= 0 {
		limit = 20
	}

	var rows pgx.Rows
	var err error

	if cursor != nil {
		rows, err = r.db.Query(ctx,
			`SELECT id, org_id, name, description, embedding_model, chunk_size, chunk_overlap, retrieval_method, is_active, created_at, updated_at
			 FROM knowledge_bases
			 WHERE org_id = $1 AND (updated_at, id) < ($2, $3)
			 ORDER BY updated_at DESC, id DESC
			 LIMIT $4`,
			orgID, cursor.Timestamp, cursor.LastID, limit+1,
		)
	} else {
		rows, err = r.db.Query(ctx,
			`SELECT id, org_id, name, description, embedding_model, chunk_size, chunk_overlap, retrieval_method, is_active, created_at, updated_at
			 FROM knowledge_bases
			 WHERE org_id = $1
			 ORDER BY updated_at DESC, id DESC
			 LIMIT $2`,
			orgID, limit+1,
		)
	}

	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items, err := scanKnowledgeBaseRows(rows)
	if err != nil {
		return nil, err
	}

	hasMore := len(items) > limit
	if hasMore {
		items = items[:limit]
	}

	var nextCursor string
	if hasMore && len(items) > 0 {
		lastItem := items[len(items)-1]
		nextCursor = pagination.EncodeCursor(lastItem.ID, lastItem.UpdatedAt)
	}

	return &service.KnowledgeBasePageResult{
		Items:      items,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

// DeactivateKnowledgeBase soft-deletes: the row and its chunks stay, the
// knowledge base stops accepting ingestion and queries.
func (r *KnowledgeBaseRepository) DeactivateKnowledgeBase(ctx context.Context, id string) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE knowledge_bases SET is_active = FALSE, updated_at = $1 WHERE id = $2`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrKnowledgeBaseNotFound
	}
	return nil
}

// GetStats recomputes aggregates from stored chunk rows, never from cached
// counters.
func (r *KnowledgeBaseRepository) GetStats(ctx context.Context, kbID string) (*domain.KnowledgeBaseStatistics, error) {
	var stats domain.KnowledgeBaseStatistics
	var lastUpdated *time.Time
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(DISTINCT document_id), COUNT(*), COALESCE(AVG(LENGTH(content)), 0), MAX(updated_at)
		 FROM document_chunks WHERE knowledge_base_id = $1`,
		kbID,
	).Scan(&stats.TotalDocuments, &stats.TotalChunks, &stats.AverageChunkSize, &lastUpdated)
	if err != nil {
		return nil, err
	}
	if lastUpdated != nil {
		stats.LastUpdated = *lastUpdated
	}
	return &stats, nil
}

func scanKnowledgeBaseRows(rows pgx.Rows) ([]*domain.KnowledgeBase, error) {
	var results []*domain.KnowledgeBase
	for rows.Next() {
		var kb domain.KnowledgeBase
		var method string
		if err := rows.Scan(&kb.ID, &kb.OrgID, &kb.Name, &kb.Description,
			&kb.Settings.EmbeddingModel, &kb.Settings.ChunkSize, &kb.Settings.ChunkOverlap, &method,
			&kb.IsActive, &kb.CreatedAt, &kb.UpdatedAt); err != nil {
			return nil, err
		}
		kb.Settings.RetrievalMethod = domain.RetrievalMethod(method)
		results = append(results, &kb)
	}
	return results, rows.Err()
}
