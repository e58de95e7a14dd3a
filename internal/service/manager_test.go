package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/veldt-labs/quarry/internal/domain"
	"github.com/veldt-labs/quarry/internal/pagination"
)

// MockVectorStore mocks the persistence layer
type MockVectorStore struct {
	mock.Mock
}

func (m *MockVectorStore) CreateKnowledgeBase(ctx context.Context, kb *domain.KnowledgeBase) error {
	return m.Called(ctx, kb).Error(0)
}

func (m *MockVectorStore) GetKnowledgeBase(ctx context.Context, id string) (*domain.KnowledgeBase, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.KnowledgeBase), args.Error(1)
}

func (m *MockVectorStore) ListKnowledgeBases(ctx context.Context, orgID string, cursor *pagination.Cursor, limit int) (*KnowledgeBasePageResult, error) {
	args := m.Called(ctx, orgID, cursor, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*KnowledgeBasePageResult), args.Error(1)
}

func (m *MockVectorStore) DeactivateKnowledgeBase(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockVectorStore) AddChunks(ctx context.Context, kbID string, chunks []domain.DocumentChunk) error {
	return m.Called(ctx, kbID, chunks).Error(0)
}

func (m *MockVectorStore) SimilaritySearch(ctx context.Context, kbID string, embedding []float32, topK int, threshold float64) ([]domain.RetrievalResult, error) {
	args := m.Called(ctx, kbID, embedding, topK, threshold)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.RetrievalResult), args.Error(1)
}

func (m *MockVectorStore) RemoveDocument(ctx context.Context, kbID, documentID string) error {
	return m.Called(ctx, kbID, documentID).Error(0)
}

func (m *MockVectorStore) GetStats(ctx context.Context, kbID string) (*domain.KnowledgeBaseStatistics, error) {
	args := m.Called(ctx, kbID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.KnowledgeBaseStatistics), args.Error(1)
}

// MockQueryLogRepo mocks query logging
type MockQueryLogRepo struct {
	mock.Mock
}

func (m *MockQueryLogRepo) Record(ctx context.Context, entry *domain.QueryLog) error {
	return m.Called(ctx, entry).Error(0)
}

type fixedUUIDGen struct{ id string }

func (g *fixedUUIDGen) NewString() string { return g.id }

func activeKB(id string) *domain.KnowledgeBase {
	return domain.NewKnowledgeBase(id, "org-1", "Docs", "", domain.DefaultKnowledgeBaseSettings(), time.Now().UTC())
}

func newTestManager(store *MockVectorStore, embedder *MockEmbeddingClient, chat *MockChatClient, opts ...ManagerOption) *KnowledgeBaseManager {
	return NewKnowledgeBaseManager(store, embedder, chat, opts...)
}

func TestManager_CreateKnowledgeBase_Defaults(t *testing.T) {
	store := new(MockVectorStore)
	manager := newTestManager(store, new(MockEmbeddingClient), new(MockChatClient),
		WithUUIDGenerator(&fixedUUIDGen{id: "kb-fixed"}))

	store.On("CreateKnowledgeBase", mock.Anything, mock.MatchedBy(func(kb *domain.KnowledgeBase) bool {
		return kb.ID == "kb-fixed" && kb.IsActive && kb.Settings == domain.DefaultKnowledgeBaseSettings()
	})).Return(nil)

	kb, err := manager.CreateKnowledgeBase(context.Background(), CreateKnowledgeBaseInput{
		OrgID: "org-1",
		Name:  "Docs",
	})

	require.NoError(t, err)
	assert.Equal(t, "kb-fixed", kb.ID)
	store.AssertExpectations(t)
}

func TestManager_CreateKnowledgeBase_InvalidSettings(t *testing.T) {
	store := new(MockVectorStore)
	manager := newTestManager(store, new(MockEmbeddingClient), new(MockChatClient))

	settings := domain.DefaultKnowledgeBaseSettings()
	settings.ChunkOverlap = settings.ChunkSize

	_, err := manager.CreateKnowledgeBase(context.Background(), CreateKnowledgeBaseInput{
		OrgID:    "org-1",
		Name:     "Docs",
		Settings: &settings,
	})

	var domainErr *domain.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, domain.ErrCodeValidation, domainErr.Code)
	store.AssertNotCalled(t, "CreateKnowledgeBase")
}

func TestManager_AddDocuments_Success(t *testing.T) {
	store := new(MockVectorStore)
	embedder := new(MockEmbeddingClient)
	manager := newTestManager(store, embedder, new(MockChatClient))

	ctx := context.Background()
	doc := domain.Document{
		ID:       "doc-1",
		Content:  "A single small paragraph.",
		Metadata: map[string]any{"source": "guide.md", "title": "Guide", "page": 3},
	}

	store.On("GetKnowledgeBase", mock.Anything, "kb-1").Return(activeKB("kb-1"), nil)
	embedder.On("GenerateEmbeddings", mock.Anything, []string{"A single small paragraph."}).
		Return([][]float32{{0.1, 0.2, 0.3, 0.4}}, nil)

	store.On("AddChunks", mock.Anything, "kb-1", mock.MatchedBy(func(chunks []domain.DocumentChunk) bool {
		if len(chunks) != 1 {
			return false
		}
		c := chunks[0]
		return c.ID == "doc-1_chunk_0" &&
			c.DocumentID == "doc-1" &&
			c.Metadata.ChunkIndex == 0 &&
			c.Metadata.Source == "guide.md" &&
			c.Metadata.Title == "Guide" &&
			c.Metadata.Page == 3 &&
			c.Metadata.Tokens > 0 &&
			len(c.Embedding) == 4
	})).Return(nil)

	err := manager.AddDocuments(ctx, "org-1", "kb-1", []domain.Document{doc})

	require.NoError(t, err)
	store.AssertExpectations(t)
	embedder.AssertExpectations(t)
}

func TestManager_AddDocuments_ChunkIndexesFollowTextOrder(t *testing.T) {
	store := new(MockVectorStore)
	embedder := new(MockEmbeddingClient)
	manager := newTestManager(store, embedder, new(MockChatClient), WithIngestWorkers(8))

	p1 := paragraph("alpha", 700)
	p2 := paragraph("bravo", 700)
	doc := domain.Document{ID: "doc-1", Content: p1 + "\n\n" + p2}

	settings := domain.DefaultKnowledgeBaseSettings()
	expected := ChunkText(doc.Content, ChunkConfig{ChunkSize: settings.ChunkSize, ChunkOverlap: settings.ChunkOverlap})
	require.Greater(t, len(expected), 1)

	texts := make([]string, len(expected))
	embeddings := make([][]float32, len(expected))
	for i, tc := range expected {
		texts[i] = tc.Content
		embeddings[i] = []float32{float32(i), 1, 0, 0}
	}

	store.On("GetKnowledgeBase", mock.Anything, "kb-1").Return(activeKB("kb-1"), nil)
	embedder.On("GenerateEmbeddings", mock.Anything, texts).Return(embeddings, nil)

	store.On("AddChunks", mock.Anything, "kb-1", mock.MatchedBy(func(chunks []domain.DocumentChunk) bool {
		for i, c := range chunks {
			if c.Metadata.ChunkIndex != i || c.ID != domain.ChunkID("doc-1", i) {
				return false
			}
		}
		return len(chunks) > 1
	})).Return(nil)

	err := manager.AddDocuments(context.Background(), "org-1", "kb-1", []domain.Document{doc})

	require.NoError(t, err)
	store.AssertExpectations(t)
}

func TestManager_AddDocuments_KnowledgeBaseNotFound(t *testing.T) {
	store := new(MockVectorStore)
	manager := newTestManager(store, new(MockEmbeddingClient), new(MockChatClient))

	store.On("GetKnowledgeBase", mock.Anything, "missing").Return(nil, domain.ErrKnowledgeBaseNotFound)

	err := manager.AddDocuments(context.Background(), "org-1", "missing", []domain.Document{{ID: "d", Content: "c"}})

	assert.ErrorIs(t, err, domain.ErrKnowledgeBaseNotFound)
}

func TestManager_AddDocuments_InactiveKnowledgeBase(t *testing.T) {
	store := new(MockVectorStore)
	manager := newTestManager(store, new(MockEmbeddingClient), new(MockChatClient))

	kb := activeKB("kb-1")
	kb.IsActive = false
	store.On("GetKnowledgeBase", mock.Anything, "kb-1").Return(kb, nil)

	err := manager.AddDocuments(context.Background(), "org-1", "kb-1", []domain.Document{{ID: "d", Content: "c"}})

	assert.ErrorIs(t, err, domain.ErrKnowledgeBaseInactive)
}

func TestManager_AddDocuments_EmbeddingFailureTagsDocument(t *testing.T) {
	store := new(MockVectorStore)
	embedder := new(MockEmbeddingClient)
	manager := newTestManager(store, embedder, new(MockChatClient))

	store.On("GetKnowledgeBase", mock.Anything, "kb-1").Return(activeKB("kb-1"), nil)
	embedder.On("GenerateEmbeddings", mock.Anything, mock.Anything).Return(nil, errors.New("rate limited"))

	err := manager.AddDocuments(context.Background(), "org-1", "kb-1", []domain.Document{{ID: "doc-7", Content: "text"}})

	var domainErr *domain.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, domain.ErrCodeEmbedding, domainErr.Code)
	assert.Contains(t, err.Error(), "doc-7")
	store.AssertNotCalled(t, "AddChunks")
}

func TestManager_AddDocuments_StorageFailureTagsDocument(t *testing.T) {
	store := new(MockVectorStore)
	embedder := new(MockEmbeddingClient)
	manager := newTestManager(store, embedder, new(MockChatClient))

	store.On("GetKnowledgeBase", mock.Anything, "kb-1").Return(activeKB("kb-1"), nil)
	embedder.On("GenerateEmbeddings", mock.Anything, mock.Anything).
		Return([][]float32{{0.1, 0.2, 0.3, 0.4}}, nil)
	store.On("AddChunks", mock.Anything, "kb-1", mock.Anything).Return(errors.New("insert failed at batch 0"))

	err := manager.AddDocuments(context.Background(), "org-1", "kb-1", []domain.Document{{ID: "doc-9", Content: "text"}})

	var domainErr *domain.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, domain.ErrCodeStorage, domainErr.Code)
	assert.Contains(t, err.Error(), "doc-9")
}

func TestManager_AddDocuments_ValidationFailure(t *testing.T) {
	store := new(MockVectorStore)
	manager := newTestManager(store, new(MockEmbeddingClient), new(MockChatClient))

	store.On("GetKnowledgeBase", mock.Anything, "kb-1").Return(activeKB("kb-1"), nil)

	err := manager.AddDocuments(context.Background(), "org-1", "kb-1", []domain.Document{{ID: "", Content: "text"}})

	var domainErr *domain.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, domain.ErrCodeValidation, domainErr.Code)
}

func TestManager_Query_EmptyRetrievalIsZeroConfidenceAnswer(t *testing.T) {
	store := new(MockVectorStore)
	embedder := new(MockEmbeddingClient)
	chat := new(MockChatClient)
	manager := newTestManager(store, embedder, chat)

	queryVec := []float32{1, 0, 0, 0}
	store.On("GetKnowledgeBase", mock.Anything, "kb-1").Return(activeKB("kb-1"), nil)
	embedder.On("GenerateEmbedding", mock.Anything, "unknown topic").Return(queryVec, nil)
	store.On("SimilaritySearch", mock.Anything, "kb-1", queryVec, 5, 0.9).
		Return([]domain.RetrievalResult{}, nil)

	resp, err := manager.Query(context.Background(), "org-1", "kb-1", RAGQuery{Query: "unknown topic", Threshold: 0.9})

	require.NoError(t, err)
	assert.Equal(t, NoRelevantInformationAnswer, resp.Answer)
	assert.Zero(t, resp.Confidence)
	assert.Zero(t, resp.TokensUsed)
	assert.Empty(t, resp.Sources)
	assert.Equal(t, "similarity", resp.Metadata.RetrievalMethod)
	assert.Zero(t, resp.Metadata.ChunksRetrieved)
	chat.AssertNotCalled(t, "Complete")
}

func TestManager_Query_GroundedAnswerWithSources(t *testing.T) {
	store := new(MockVectorStore)
	embedder := new(MockEmbeddingClient)
	chat := new(MockChatClient)
	logs := new(MockQueryLogRepo)
	manager := newTestManager(store, embedder, chat, WithQueryLogs(logs))

	queryVec := []float32{1, 0, 0, 0}
	stored := []domain.RetrievalResult{
		result("doc-a", 0, 0.9, []float32{1, 0, 0, 0}),
		result("doc-b", 0, 0.8, []float32{0, 1, 0, 0}),
	}

	store.On("GetKnowledgeBase", mock.Anything, "kb-1").Return(activeKB("kb-1"), nil)
	embedder.On("GenerateEmbedding", mock.Anything, "how?").Return(queryVec, nil)
	store.On("SimilaritySearch", mock.Anything, "kb-1", queryVec, 5, 0.7).Return(stored, nil)
	chat.On("Complete", mock.Anything, "gpt-4", mock.Anything, mock.Anything, mock.Anything).
		Return("grounded", 42, nil)
	logs.On("Record", mock.Anything, mock.MatchedBy(func(e *domain.QueryLog) bool {
		return e.KnowledgeBaseID == "kb-1" && e.Query == "how?" && e.ChunksRetrieved == 2
	})).Return(nil)

	resp, err := manager.Query(context.Background(), "org-1", "kb-1", RAGQuery{Query: "how?", Model: "gpt-4"})

	require.NoError(t, err)
	assert.Equal(t, "grounded", resp.Answer)
	assert.Equal(t, 42, resp.TokensUsed)
	assert.InDelta(t, 85.0, resp.Confidence, 1e-9)
	assert.Equal(t, 2, resp.Metadata.ChunksRetrieved)
	assert.Equal(t, "gpt-4", resp.Metadata.Model)
	require.Len(t, resp.Sources, 2)
	for _, src := range resp.Sources {
		assert.Nil(t, src.Chunk.Embedding, "embeddings must be omitted in transport")
	}
	logs.AssertExpectations(t)
}

func TestManager_Query_FiltersReportHybrid(t *testing.T) {
	store := new(MockVectorStore)
	embedder := new(MockEmbeddingClient)
	chat := new(MockChatClient)
	manager := newTestManager(store, embedder, chat)

	queryVec := []float32{1, 0, 0, 0}
	stored := []domain.RetrievalResult{result("doc-a", 0, 0.9, queryVec)}

	store.On("GetKnowledgeBase", mock.Anything, "kb-1").Return(activeKB("kb-1"), nil)
	embedder.On("GenerateEmbedding", mock.Anything, "q").Return(queryVec, nil)
	store.On("SimilaritySearch", mock.Anything, "kb-1", queryVec, 5, 0.7).Return(stored, nil)
	chat.On("Complete", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("answer", 1, nil)

	resp, err := manager.Query(context.Background(), "org-1", "kb-1", RAGQuery{
		Query:   "q",
		Filters: &RetrievalFilters{DocumentIDs: []string{"doc-a"}},
	})

	require.NoError(t, err)
	assert.Equal(t, "hybrid", resp.Metadata.RetrievalMethod)
}

func TestManager_Query_RetrievalErrorWrapsQuery(t *testing.T) {
	store := new(MockVectorStore)
	embedder := new(MockEmbeddingClient)
	manager := newTestManager(store, embedder, new(MockChatClient))

	store.On("GetKnowledgeBase", mock.Anything, "kb-1").Return(activeKB("kb-1"), nil)
	embedder.On("GenerateEmbedding", mock.Anything, "broken query").Return(nil, errors.New("provider down"))

	_, err := manager.Query(context.Background(), "org-1", "kb-1", RAGQuery{Query: "broken query"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "retrieval failed")
	assert.Contains(t, err.Error(), "broken query")
}

func TestManager_Query_MissingQueryText(t *testing.T) {
	manager := newTestManager(new(MockVectorStore), new(MockEmbeddingClient), new(MockChatClient))

	_, err := manager.Query(context.Background(), "org-1", "kb-1", RAGQuery{})

	var domainErr *domain.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, domain.ErrCodeValidation, domainErr.Code)
}

func TestManager_UpdateDocument_RemovesThenReingests(t *testing.T) {
	store := new(MockVectorStore)
	embedder := new(MockEmbeddingClient)
	manager := newTestManager(store, embedder, new(MockChatClient))

	store.On("GetKnowledgeBase", mock.Anything, "kb-1").Return(activeKB("kb-1"), nil)
	store.On("RemoveDocument", mock.Anything, "kb-1", "doc-1").Return(nil)
	embedder.On("GenerateEmbeddings", mock.Anything, []string{"updated content"}).
		Return([][]float32{{0.5, 0.5, 0, 0}}, nil)
	store.On("AddChunks", mock.Anything, "kb-1", mock.Anything).Return(nil)

	err := manager.UpdateDocument(context.Background(), "org-1", "kb-1", domain.Document{ID: "doc-1", Content: "updated content"})

	require.NoError(t, err)
	store.AssertExpectations(t)
}

func TestManager_RemoveDocument_StorageErrorWrapped(t *testing.T) {
	store := new(MockVectorStore)
	manager := newTestManager(store, new(MockEmbeddingClient), new(MockChatClient))

	store.On("GetKnowledgeBase", mock.Anything, "kb-1").Return(activeKB("kb-1"), nil)
	store.On("RemoveDocument", mock.Anything, "kb-1", "doc-1").Return(errors.New("delete failed"))

	err := manager.RemoveDocument(context.Background(), "org-1", "kb-1", "doc-1")

	var domainErr *domain.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, domain.ErrCodeStorage, domainErr.Code)
	assert.Contains(t, err.Error(), "doc-1")
}

func TestManager_GetKnowledgeBaseStats(t *testing.T) {
	store := new(MockVectorStore)
	manager := newTestManager(store, new(MockEmbeddingClient), new(MockChatClient))

	stats := &domain.KnowledgeBaseStatistics{TotalDocuments: 2, TotalChunks: 10, AverageChunkSize: 512.5}
	store.On("GetKnowledgeBase", mock.Anything, "kb-1").Return(activeKB("kb-1"), nil)
	store.On("GetStats", mock.Anything, "kb-1").Return(stats, nil)

	got, err := manager.GetKnowledgeBaseStats(context.Background(), "org-1", "kb-1")

	require.NoError(t, err)
	assert.Equal(t, stats, got)
}

func TestManager_DeactivateKnowledgeBase(t *testing.T) {
	store := new(MockVectorStore)
	manager := newTestManager(store, new(MockEmbeddingClient), new(MockChatClient))

	store.On("GetKnowledgeBase", mock.Anything, "kb-1").Return(activeKB("kb-1"), nil)
	store.On("DeactivateKnowledgeBase", mock.Anything, "kb-1").Return(nil)

	err := manager.DeactivateKnowledgeBase(context.Background(), "org-1", "kb-1")

	require.NoError(t, err)
	store.AssertExpectations(t)
}

func TestManager_GetKnowledgeBaseStats_OtherOrgHidden(t *testing.T) {
	store := new(MockVectorStore)
	manager := newTestManager(store, new(MockEmbeddingClient), new(MockChatClient))

	store.On("GetKnowledgeBase", mock.Anything, "kb-1").Return(activeKB("kb-1"), nil)

	_, err := manager.GetKnowledgeBaseStats(context.Background(), "org-2", "kb-1")

	assert.ErrorIs(t, err, domain.ErrKnowledgeBaseNotFound)
	store.AssertNotCalled(t, "GetStats")
}

func TestManager_AddDocuments_OtherOrgHidden(t *testing.T) {
	store := new(MockVectorStore)
	manager := newTestManager(store, new(MockEmbeddingClient), new(MockChatClient))

	store.On("GetKnowledgeBase", mock.Anything, "kb-1").Return(activeKB("kb-1"), nil)

	err := manager.AddDocuments(context.Background(), "org-2", "kb-1", []domain.Document{{ID: "d", Content: "c"}})

	assert.ErrorIs(t, err, domain.ErrKnowledgeBaseNotFound)
	store.AssertNotCalled(t, "AddChunks")
}

func TestManager_Query_OtherOrgHidden(t *testing.T) {
	store := new(MockVectorStore)
	embedder := new(MockEmbeddingClient)
	manager := newTestManager(store, embedder, new(MockChatClient))

	store.On("GetKnowledgeBase", mock.Anything, "kb-1").Return(activeKB("kb-1"), nil)

	_, err := manager.Query(context.Background(), "org-2", "kb-1", RAGQuery{Query: "q"})

	assert.ErrorIs(t, err, domain.ErrKnowledgeBaseNotFound)
	store.AssertNotCalled(t, "SimilaritySearch")
}

func TestManager_Query_DefaultModelReportedAndCalled(t *testing.T) {
	store := new(MockVectorStore)
	embedder := new(MockEmbeddingClient)
	chat := new(MockChatClient)
	manager := newTestManager(store, embedder, chat)

	queryVec := []float32{1, 0, 0, 0}
	stored := []domain.RetrievalResult{result("doc-a", 0, 0.9, queryVec)}

	store.On("GetKnowledgeBase", mock.Anything, "kb-1").Return(activeKB("kb-1"), nil)
	embedder.On("GenerateEmbedding", mock.Anything, "q").Return(queryVec, nil)
	store.On("SimilaritySearch", mock.Anything, "kb-1", queryVec, 5, 0.7).Return(stored, nil)
	chat.On("Complete", mock.Anything, "gpt-4o-mini", mock.Anything, mock.Anything, mock.Anything).
		Return("answer", 1, nil)

	resp, err := manager.Query(context.Background(), "org-1", "kb-1", RAGQuery{Query: "q"})

	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", resp.Metadata.Model)
	chat.AssertExpectations(t)
}

func TestManager_Query_ConfiguredModelOverridesDefault(t *testing.T) {
	store := new(MockVectorStore)
	embedder := new(MockEmbeddingClient)
	chat := new(MockChatClient)
	manager := newTestManager(store, embedder, chat, WithChatModel("gpt-4-turbo"))

	queryVec := []float32{1, 0, 0, 0}
	stored := []domain.RetrievalResult{result("doc-a", 0, 0.9, queryVec)}

	store.On("GetKnowledgeBase", mock.Anything, "kb-1").Return(activeKB("kb-1"), nil)
	embedder.On("GenerateEmbedding", mock.Anything, "q").Return(queryVec, nil)
	store.On("SimilaritySearch", mock.Anything, "kb-1", queryVec, 5, 0.7).Return(stored, nil)
	chat.On("Complete", mock.Anything, "gpt-4-turbo", mock.Anything, mock.Anything, mock.Anything).
		Return("answer", 1, nil)

	resp, err := manager.Query(context.Background(), "org-1", "kb-1", RAGQuery{Query: "q"})

	require.NoError(t, err)
	assert.Equal(t, "gpt-4-turbo", resp.Metadata.Model)
	chat.AssertExpectations(t)
}
