package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/veldt-labs/quarry/internal/domain"
)

// chunkInsertBatchSize bounds how many chunk rows one insert round writes.
const chunkInsertBatchSize = 10

// AddChunks upserts chunk rows in batches. Chunk IDs are deterministic per
// document and index, so re-ingesting a document overwrites its rows in place.
// A failed batch aborts the call; earlier batches stay written.
func (r *KnowledgeBaseRepository) AddChunks(ctx context.Context, kbID string, chunks []domain.DocumentChunk) error {
	for start := 0; start < len(chunks); start += chunkInsertBatchSize {
		end := start + chunkInsertBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}

		for _, c := range chunks[start:end] {
			createdAt := c.CreatedAt
			if createdAt.IsZero() {
				createdAt = time.Now().UTC()
			}
			updatedAt := c.UpdatedAt
			if updatedAt.IsZero() {
				updatedAt = createdAt
			}
			_, err := r.db.Exec(ctx,
				`INSERT INTO document_chunks
					(knowledge_base_id, id, document_id, chunk_index, content, source, title, page, section, tokens, start_char, end_char, embedding, created_at, updated_at)
				 VALUES
					($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
				 ON CONFLICT (knowledge_base_id, id) DO UPDATE SET
					document_id = EXCLUDED.document_id,
					chunk_index = EXCLUDED.chunk_index,
					content = EXCLUDED.content,
					source = EXCLUDED.source,
					title = EXCLUDED.title,
					page = EXCLUDED.page,
					section = EXCLUDED.section,
					tokens = EXCLUDED.tokens,
					start_char = EXCLUDED.start_char,
					end_char = EXCLUDED.end_char,
					embedding = EXCLUDED.embedding,
					updated_at = EXCLUDED.updated_at`,
				kbID,
				c.ID,
				c.DocumentID,
				c.Metadata.ChunkIndex,
				c.Content,
				c.Metadata.Source,
				c.Metadata.Title,
				c.Metadata.Page,
				c.Metadata.Section,
				c.Metadata.Tokens,
				c.Metadata.StartChar,
				c.Metadata.EndChar,
				pgvector.NewVector(c.Embedding),
				createdAt,
				updatedAt,
			)
			if err != nil {
				return fmt.Errorf("failed to insert chunk batch %d: %w", start/chunkInsertBatchSize, err)
			}
		}
	}

	return nil
}

// SimilaritySearch returns the topK chunks by cosine similarity at or above
// threshold, best first. Embeddings are included so callers can rerank.
func (r *KnowledgeBaseRepository) SimilaritySearch(ctx context.Context, kbID string, embedding []float32, topK int, threshold float64) ([]domain.RetrievalResult, error) {
	vec := pgvector.NewVector(embedding)
	rows, err := r.db.Query(ctx,
		`SELECT id, document_id, chunk_index, content, source, title, page, section, tokens, start_char, end_char, embedding, created_at, updated_at,
			1 - (embedding <=> $1) AS similarity
		 FROM document_chunks
		 WHERE knowledge_base_id = $2 AND 1 - (embedding <=> $1) >= $3
		 ORDER BY embedding <=> $1
		 LIMIT $4`,
		vec, kbID, threshold, topK,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	policy := domain.StoreRelevancePolicy()

	var results []domain.RetrievalResult
	for rows.Next() {
		var chunk domain.DocumentChunk
		var stored pgvector.Vector
		var score float64
		if err := rows.Scan(&chunk.ID, &chunk.DocumentID, &chunk.Metadata.ChunkIndex, &chunk.Content,
			&chunk.Metadata.Source, &chunk.Metadata.Title, &chunk.Metadata.Page, &chunk.Metadata.Section,
			&chunk.Metadata.Tokens, &chunk.Metadata.StartChar, &chunk.Metadata.EndChar,
			&stored, &chunk.CreatedAt, &chunk.UpdatedAt, &score); err != nil {
			return nil, err
		}
		if chunk.ID == "" || chunk.DocumentID == "" {
			return nil, fmt.Errorf("malformed chunk row in knowledge base %s", kbID)
		}
		chunk.Embedding = stored.Slice()
		results = append(results, domain.RetrievalResult{
			Chunk:     chunk,
			Score:     score,
			Relevance: policy.Classify(score),
		})
	}
	return results, rows.Err()
}

// RemoveDocument deletes every chunk of the document. Removing a document
// that has no chunks is a no-op.
func (r *KnowledgeBaseRepository) RemoveDocument(ctx context.Context, kbID, documentID string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM document_chunks WHERE knowledge_base_id = $1 AND document_id = $2`,
		kbID, documentID,
	)
	return err
}
