package service

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veldt-labs/quarry/internal/domain"
	"github.com/veldt-labs/quarry/internal/pagination"
	"github.com/veldt-labs/quarry/internal/telemetry"
)

// defaultIngestWorkers bounds concurrent document ingestion within one
// AddDocuments call. Chunk order within a document is positional and
// unaffected by worker scheduling.
const defaultIngestWorkers = 4

// defaultChatModel is used for synthesis when neither the query nor the
// manager configuration names a model. It must stay the resolved value, not
// an empty string, so responses report the model actually called.
const defaultChatModel = "gpt-4o-mini"

// VectorStore persists chunks and knowledge-base metadata and performs
// similarity search.
type VectorStore interface {
	CreateKnowledgeBase(ctx context.Context, kb *domain.KnowledgeBase) error
	GetKnowledgeBase(ctx context.Context, id string) (*domain.KnowledgeBase, error)
	ListKnowledgeBases(ctx context.Context, orgID string, cursor *pagination.Cursor, limit int) (*KnowledgeBasePageResult, error)
	DeactivateKnowledgeBase(ctx context.Context, id string) error
	AddChunks(ctx context.Context, kbID string, chunks []domain.DocumentChunk) error
	SimilaritySearch(ctx context.Context, kbID string, embedding []float32, topK int, threshold float64) ([]domain.RetrievalResult, error)
	RemoveDocument(ctx context.Context, kbID, documentID string) error
	GetStats(ctx context.Context, kbID string) (*domain.KnowledgeBaseStatistics, error)
}

// KnowledgeBasePageResult is one page of a knowledge-base listing.
type KnowledgeBasePageResult struct {
	Items      []*domain.KnowledgeBase
	NextCursor string
	HasMore    bool
}

// QueryLogRepository records answered queries.
type QueryLogRepository interface {
	Record(ctx context.Context, entry *domain.QueryLog) error
}

// UUIDGenerator defines interface for UUID generation (for testing)
type UUIDGenerator interface {
	NewString() string
}

// DefaultUUIDGenerator is the default UUID generator using google/uuid
type DefaultUUIDGenerator struct{}

// NewString generates a new UUID string
func (g *DefaultUUIDGenerator) NewString() string {
	return uuid.NewString()
}

// KnowledgeBaseManager is the engine facade: it composes chunking, embedding,
// storage, retrieval, and synthesis behind the two public entry points,
// ingestion and query.
type KnowledgeBaseManager struct {
	store     VectorStore
	embedder  EmbeddingClient
	retriever *Retriever
	synth     *AnswerSynthesizer
	queryLogs QueryLogRepository
	uuidGen   UUIDGenerator
	workers   int
	chatModel string
}

// ManagerOption customizes a KnowledgeBaseManager.
type ManagerOption func(*KnowledgeBaseManager)

// WithQueryLogs enables best-effort query logging.
func WithQueryLogs(repo QueryLogRepository) ManagerOption {
	return func(m *KnowledgeBaseManager) { m.queryLogs = repo }
}

// WithIngestWorkers sets the bound on concurrent document ingestion.
func WithIngestWorkers(n int) ManagerOption {
	return func(m *KnowledgeBaseManager) {
		if n > 0 {
			m.workers = n
		}
	}
}

// WithChatModel sets the model used for synthesis when a query does not
// request one. An empty model keeps the default.
func WithChatModel(model string) ManagerOption {
	return func(m *KnowledgeBaseManager) {
		if model != "" {
			m.chatModel = model
		}
	}
}

// WithUUIDGenerator overrides UUID generation (for testing).
func WithUUIDGenerator(gen UUIDGenerator) ManagerOption {
	return func(m *KnowledgeBaseManager) { m.uuidGen = gen }
}

// NewKnowledgeBaseManager creates a new KnowledgeBaseManager instance.
// Dependencies are injected explicitly; there is no process-wide state.
func NewKnowledgeBaseManager(store VectorStore, embedder EmbeddingClient, chat ChatClient, opts ...ManagerOption) *KnowledgeBaseManager {
	m := &KnowledgeBaseManager{
		store:     store,
		embedder:  embedder,
		retriever: NewRetriever(embedder, store),
		synth:     NewAnswerSynthesizer(chat),
		uuidGen:   &DefaultUUIDGenerator{},
		workers:   defaultIngestWorkers,
		chatModel: defaultChatModel,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateKnowledgeBaseInput represents the input for creating a knowledge base
type CreateKnowledgeBaseInput struct {
	OrgID       string
	Name        string
	Description string
	Settings    *domain.KnowledgeBaseSettings
}

// CreateKnowledgeBase creates a new knowledge base. Repeated calls create
// distinct knowledge bases.
func (m *KnowledgeBaseManager) CreateKnowledgeBase(ctx context.Context, input CreateKnowledgeBaseInput) (*domain.KnowledgeBase, error) {
	ctx, span := telemetry.StartSpan(ctx, "KnowledgeBaseManager.CreateKnowledgeBase", telemetry.SpanAttributes{
		OrgID:     input.OrgID,
		Operation: "create",
	})
	defer span.End()

	settings := domain.DefaultKnowledgeBaseSettings()
	if input.Settings != nil {
		settings = *input.Settings
	}

	kb := domain.NewKnowledgeBase(m.uuidGen.NewString(), input.OrgID, input.Name, input.Description, settings, time.Now().UTC())

	if err := domain.ValidateKnowledgeBase(kb); err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid knowledge base", err)
	}

	if err := m.store.CreateKnowledgeBase(ctx, kb); err != nil {
		return nil, err
	}

	return kb, nil
}

// ListKnowledgeBases lists an organization's knowledge bases, newest first.
func (m *KnowledgeBaseManager) ListKnowledgeBases(ctx context.Context, orgID, cursor string, limit int) (*KnowledgeBasePageResult, error) {
	decoded, err := pagination.DecodeCursor(cursor)
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid cursor", err)
	}
	return m.store.ListKnowledgeBases(ctx, orgID, decoded, limit)
}

// DeactivateKnowledgeBase soft-deactivates a knowledge base. Stored chunks
// are kept but the knowledge base no longer accepts ingestion or queries.
func (m *KnowledgeBaseManager) DeactivateKnowledgeBase(ctx context.Context, orgID, kbID string) error {
	if _, err := m.activeKnowledgeBase(ctx, orgID, kbID); err != nil {
		return err
	}
	return m.store.DeactivateKnowledgeBase(ctx, kbID)
}

// GetKnowledgeBaseStats returns aggregate statistics recomputed from stored rows.
func (m *KnowledgeBaseManager) GetKnowledgeBaseStats(ctx context.Context, orgID, kbID string) (*domain.KnowledgeBaseStatistics, error) {
	if _, err := m.ownedKnowledgeBase(ctx, orgID, kbID); err != nil {
		return nil, err
	}
	return m.store.GetStats(ctx, kbID)
}

// AddDocuments ingests documents into a knowledge base: chunk, embed, store.
// Documents are processed by a bounded worker pool; within a document the
// pipeline is sequential and chunk indexes follow text order. A failure
// aborts the failing document and is returned tagged with its id; chunks
// already stored for that document are not rolled back.
func (m *KnowledgeBaseManager) AddDocuments(ctx context.Context, orgID, kbID string, docs []domain.Document) error {
	ctx, span := telemetry.StartSpan(ctx, "KnowledgeBaseManager.AddDocuments", telemetry.SpanAttributes{
		OrgID:           orgID,
		KnowledgeBaseID: kbID,
		Operation:       "ingest",
	})
	defer span.End()

	kb, err := m.activeKnowledgeBase(ctx, orgID, kbID)
	if err != nil {
		return err
	}

	if len(docs) == 0 {
		return nil
	}

	workers := m.workers
	if workers > len(docs) {
		workers = len(docs)
	}

	jobs := make(chan domain.Document)
	errs := make(chan error, len(docs))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for doc := range jobs {
				if err := m.ingestDocument(ctx, kb, doc); err != nil {
					errs <- err
				}
			}
		}()
	}

	for _, doc := range docs {
		jobs <- doc
	}
	close(jobs)
	wg.Wait()
	close(errs)

	if err := <-errs; err != nil {
		span.SetError(err)
		return err
	}

	return nil
}

// ingestDocument runs one document through Chunking -> Embedding -> Stored.
// Any failure halts processing for this document; there is no retry here.
func (m *KnowledgeBaseManager) ingestDocument(ctx context.Context, kb *domain.KnowledgeBase, doc domain.Document) error {
	if err := domain.ValidateDocument(&doc); err != nil {
		return domain.NewDomainErrorWithCause(domain.ErrCodeValidation,
			fmt.Sprintf("document %q failed validation", doc.ID), err)
	}

	textChunks := ChunkText(doc.Content, ChunkConfig{
		ChunkSize:    kb.Settings.ChunkSize,
		ChunkOverlap: kb.Settings.ChunkOverlap,
	})
	if len(textChunks) == 0 {
		return nil
	}

	texts := make([]string, len(textChunks))
	for i, tc := range textChunks {
		texts[i] = tc.Content
	}

	embeddings, err := m.embedder.GenerateEmbeddings(ctx, texts)
	if err != nil {
		return domain.NewDomainErrorWithCause(domain.ErrCodeEmbedding,
			fmt.Sprintf("failed to embed document %q", doc.ID), err)
	}

	now := time.Now().UTC()
	chunks := make([]domain.DocumentChunk, len(textChunks))
	for i, tc := range textChunks {
		chunks[i] = domain.DocumentChunk{
			ID:         domain.ChunkID(doc.ID, tc.ChunkIndex),
			DocumentID: doc.ID,
			Content:    tc.Content,
			Metadata: domain.ChunkMetadata{
				Source:     metadataString(doc.Metadata, "source"),
				Title:      metadataString(doc.Metadata, "title"),
				Page:       metadataInt(doc.Metadata, "page"),
				Section:    metadataString(doc.Metadata, "section"),
				ChunkIndex: tc.ChunkIndex,
				Tokens:     m.embedder.EstimateTokens(tc.Content),
				StartChar:  tc.StartChar,
				EndChar:    tc.EndChar,
			},
			Embedding: embeddings[i],
			CreatedAt: now,
			UpdatedAt: now,
		}
	}

	if err := m.store.AddChunks(ctx, kb.ID, chunks); err != nil {
		return domain.NewDomainErrorWithCause(domain.ErrCodeStorage,
			fmt.Sprintf("failed to store chunks for document %q", doc.ID), err)
	}

	return nil
}

// UpdateDocument replaces a document's chunks: delete all, then re-add. Not
// atomic; concurrent updates for the same document must be serialized by the
// caller.
func (m *KnowledgeBaseManager) UpdateDocument(ctx context.Context, orgID, kbID string, doc domain.Document) error {
	if err := m.RemoveDocument(ctx, orgID, kbID, doc.ID); err != nil {
		return err
	}
	return m.AddDocuments(ctx, orgID, kbID, []domain.Document{doc})
}

// RemoveDocument deletes every chunk belonging to the document.
func (m *KnowledgeBaseManager) RemoveDocument(ctx context.Context, orgID, kbID, documentID string) error {
	if _, err := m.ownedKnowledgeBase(ctx, orgID, kbID); err != nil {
		return err
	}
	if err := m.store.RemoveDocument(ctx, kbID, documentID); err != nil {
		return domain.NewDomainErrorWithCause(domain.ErrCodeStorage,
			fmt.Sprintf("failed to remove document %q", documentID), err)
	}
	return nil
}

// RAGQuery is one natural-language question against a knowledge base.
type RAGQuery struct {
	Query     string
	TopK      int
	Threshold float64
	Filters   *RetrievalFilters
	Model     string
}

// RAGResponseMetadata describes how a response was produced.
type RAGResponseMetadata struct {
	Model           string
	RetrievalMethod string
	ChunksRetrieved int
}

// RAGResponse is a grounded answer with its supporting sources.
type RAGResponse struct {
	Query          string
	Answer         string
	Sources        []domain.RetrievalResult
	Confidence     float64
	ProcessingTime time.Duration
	TokensUsed     int
	Metadata       RAGResponseMetadata
}

// Query answers a question with content retrieved from the knowledge base.
// An empty retrieval is a valid zero-confidence answer, not an error.
func (m *KnowledgeBaseManager) Query(ctx context.Context, orgID, kbID string, q RAGQuery) (*RAGResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "KnowledgeBaseManager.Query", telemetry.SpanAttributes{
		OrgID:           orgID,
		KnowledgeBaseID: kbID,
		Operation:       "query",
	})
	defer span.End()

	start := time.Now()

	if q.Query == "" {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "query text is required")
	}
	if q.TopK <= 0 {
		q.TopK = DefaultTopK
	}
	if q.Threshold <= 0 {
		q.Threshold = DefaultThreshold
	}
	if q.Model == "" {
		q.Model = m.chatModel
	}

	if _, err := m.activeKnowledgeBase(ctx, orgID, kbID); err != nil {
		return nil, err
	}

	results, err := m.retriever.Retrieve(ctx, kbID, q.Query, q.TopK, q.Threshold, q.Filters)
	if err != nil {
		span.SetError(err)
		return nil, fmt.Errorf("retrieval failed for query %q: %w", q.Query, err)
	}

	synthesis, err := m.synth.Synthesize(ctx, q.Query, results, q.Model)
	if err != nil {
		span.SetError(err)
		return nil, fmt.Errorf("synthesis failed for query %q: %w", q.Query, err)
	}

	method := string(domain.RetrievalMethodSimilarity)
	if !q.Filters.Empty() {
		method = string(domain.RetrievalMethodHybrid)
	}

	response := &RAGResponse{
		Query:          q.Query,
		Answer:         synthesis.Content,
		Sources:        stripEmbeddings(results),
		Confidence:     synthesis.Confidence,
		ProcessingTime: time.Since(start),
		TokensUsed:     synthesis.TokensUsed,
		Metadata: RAGResponseMetadata{
			Model:           q.Model,
			RetrievalMethod: method,
			ChunksRetrieved: len(results),
		},
	}

	m.logQuery(ctx, kbID, response)

	return response, nil
}

// ownedKnowledgeBase loads a knowledge base and verifies it belongs to the
// organization. A knowledge base owned by another organization is
// indistinguishable from a missing one.
func (m *KnowledgeBaseManager) ownedKnowledgeBase(ctx context.Context, orgID, kbID string) (*domain.KnowledgeBase, error) {
	kb, err := m.store.GetKnowledgeBase(ctx, kbID)
	if err != nil {
		return nil, err
	}
	if kb.OrgID != orgID {
		return nil, domain.ErrKnowledgeBaseNotFound
	}
	return kb, nil
}

// activeKnowledgeBase loads an owned knowledge base and rejects deactivated ones.
func (m *KnowledgeBaseManager) activeKnowledgeBase(ctx context.Context, orgID, kbID string) (*domain.KnowledgeBase, error) {
	kb, err := m.ownedKnowledgeBase(ctx, orgID, kbID)
	if err != nil {
		return nil, err
	}
	if !kb.IsActive {
		return nil, domain.ErrKnowledgeBaseInactive
	}
	return kb, nil
}

// stripEmbeddings omits embedding vectors from transport-bound results.
func stripEmbeddings(results []domain.RetrievalResult) []domain.RetrievalResult {
	out := make([]domain.RetrievalResult, len(results))
	for i, res := range results {
		res.Chunk.Embedding = nil
		out[i] = res
	}
	return out
}

func (m *KnowledgeBaseManager) logQuery(ctx context.Context, kbID string, resp *RAGResponse) {
	if m.queryLogs == nil {
		return
	}

	entry := &domain.QueryLog{
		ID:              m.uuidGen.NewString(),
		KnowledgeBaseID: kbID,
		Query:           resp.Query,
		ChunksRetrieved: resp.Metadata.ChunksRetrieved,
		Confidence:      resp.Confidence,
		LatencyMS:       resp.ProcessingTime.Milliseconds(),
		CreatedAt:       time.Now().UTC(),
	}

	if err := m.queryLogs.Record(ctx, entry); err != nil {
		log.Printf("query log write failed: %v", err)
	}
}

func metadataString(meta map[string]any, key string) string {
	if meta == nil {
		return ""
	}
	if v, ok := meta[key].(string); ok {
		return v
	}
	return ""
}

func metadataInt(meta map[string]any, key string) int {
	if meta == nil {
		return 0
	}
	switch v := meta[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}
