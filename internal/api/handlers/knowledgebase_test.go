package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/veldt-labs/quarry/internal/api/middleware"
	"github.com/veldt-labs/quarry/internal/domain"
	"github.com/veldt-labs/quarry/internal/service"
)

type MockKnowledgeBaseService struct {
	mock.Mock
}

func (m *MockKnowledgeBaseService) CreateKnowledgeBase(ctx context.Context, input service.CreateKnowledgeBaseInput) (*domain.KnowledgeBase, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.KnowledgeBase), args.Error(1)
}

func (m *MockKnowledgeBaseService) ListKnowledgeBases(ctx context.Context, orgID, cursor string, limit int) (*service.KnowledgeBasePageResult, error) {
	args := m.Called(ctx, orgID, cursor, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.KnowledgeBasePageResult), args.Error(1)
}

func (m *MockKnowledgeBaseService) DeactivateKnowledgeBase(ctx context.Context, orgID, kbID string) error {
	args := m.Called(ctx, orgID, kbID)
	return args.Error(0)
}

func (m *MockKnowledgeBaseService) GetKnowledgeBaseStats(ctx context.Context, orgID, kbID string) (*domain.KnowledgeBaseStatistics, error) {
	args := m.Called(ctx, orgID, kbID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.KnowledgeBaseStatistics), args.Error(1)
}

func (m *MockKnowledgeBaseService) AddDocuments(ctx context.Context, orgID, kbID string, docs []domain.Document) error {
	args := m.Called(ctx, orgID, kbID, docs)
	return args.Error(0)
}

func (m *MockKnowledgeBaseService) UpdateDocument(ctx context.Context, orgID, kbID string, doc domain.Document) error {
	args := m.Called(ctx, orgID, kbID, doc)
	return args.Error(0)
}

func (m *MockKnowledgeBaseService) RemoveDocument(ctx context.Context, orgID, kbID, documentID string) error {
	args := m.Called(ctx, orgID, kbID, documentID)
	return args.Error(0)
}

func (m *MockKnowledgeBaseService) Query(ctx context.Context, orgID, kbID string, q service.RAGQuery) (*service.RAGResponse, error) {
	args := m.Called(ctx, orgID, kbID, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.RAGResponse), args.Error(1)
}

func newTestKnowledgeBase() *domain.KnowledgeBase {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return domain.NewKnowledgeBase("kb-123", "org-456", "Product Docs", "docs kb",
		domain.DefaultKnowledgeBaseSettings(), now)
}

func requestWithOrgID(method, url string, body []byte) *http.Request {
	req := httptest.NewRequest(method, url, bytes.NewReader(body))
	req.Header.Set(middleware.OrgIDHeader, "org-456")
	req.Header.Set("Content-Type", "application/json")
	return req
}

// requestWithURLParam injects chi route parameters the way the router would.
func requestWithURLParam(req *http.Request, pairs ...string) *http.Request {
	rctx := chi.NewRouteContext()
	for i := 0; i+1 < len(pairs); i += 2 {
		rctx.URLParams.Add(pairs[i], pairs[i+1])
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data, ok := resp["data"].(map[string]interface{})
	require.True(t, ok, "response has no data envelope: %s", w.Body.String())
	return data
}

func TestKnowledgeBaseHandler_Create_Success(t *testing.T) {
	mockSvc := new(MockKnowledgeBaseService)
	handler := NewKnowledgeBaseHandler(mockSvc)

	expected := newTestKnowledgeBase()
	mockSvc.On("CreateKnowledgeBase", mock.Anything, mock.MatchedBy(func(input service.CreateKnowledgeBaseInput) bool {
		return input.OrgID == "org-456" && input.Name == "Product Docs"
	})).Return(expected, nil)

	body := `{"name":"Product Docs","description":"docs kb"}`
	req := requestWithOrgID(http.MethodPost, "/knowledge-bases", []byte(body))
	w := httptest.NewRecorder()

	handler.Create(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, "kb-123", data["id"])
	assert.Equal(t, true, data["is_active"])
	mockSvc.AssertExpectations(t)
}

func TestKnowledgeBaseHandler_Create_CustomSettings(t *testing.T) {
	mockSvc := new(MockKnowledgeBaseService)
	handler := NewKnowledgeBaseHandler(mockSvc)

	mockSvc.On("CreateKnowledgeBase", mock.Anything, mock.MatchedBy(func(input service.CreateKnowledgeBaseInput) bool {
		return input.Settings != nil &&
			input.Settings.ChunkSize == 500 &&
			input.Settings.ChunkOverlap == 50 &&
			input.Settings.RetrievalMethod == domain.RetrievalMethodSimilarity &&
			input.Settings.EmbeddingModel == "text-embedding-ada-002"
	})).Return(newTestKnowledgeBase(), nil)

	body := `{"name":"Docs","settings":{"chunk_size":500,"chunk_overlap":50,"retrieval_method":"similarity"}}`
	req := requestWithOrgID(http.MethodPost, "/knowledge-bases", []byte(body))
	w := httptest.NewRecorder()

	handler.Create(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	mockSvc.AssertExpectations(t)
}

func TestKnowledgeBaseHandler_Create_MissingOrgID(t *testing.T) {
	mockSvc := new(MockKnowledgeBaseService)
	handler := NewKnowledgeBaseHandler(mockSvc)

	req := httptest.NewRequest(http.MethodPost, "/knowledge-bases", bytes.NewReader([]byte(`{"name":"Docs"}`)))
	w := httptest.NewRecorder()

	handler.Create(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	mockSvc.AssertNotCalled(t, "CreateKnowledgeBase")
}

func TestKnowledgeBaseHandler_Create_MissingName(t *testing.T) {
	mockSvc := new(MockKnowledgeBaseService)
	handler := NewKnowledgeBaseHandler(mockSvc)

	req := requestWithOrgID(http.MethodPost, "/knowledge-bases", []byte(`{"description":"no name"}`))
	w := httptest.NewRecorder()

	handler.Create(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	mockSvc.AssertNotCalled(t, "CreateKnowledgeBase")
}

func TestKnowledgeBaseHandler_Create_ValidationErrorFromService(t *testing.T) {
	mockSvc := new(MockKnowledgeBaseService)
	handler := NewKnowledgeBaseHandler(mockSvc)

	mockSvc.On("CreateKnowledgeBase", mock.Anything, mock.Anything).
		Return(nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid knowledge base", domain.ErrInvalidChunkSettings))

	body := `{"name":"Docs","settings":{"chunk_size":100,"chunk_overlap":100}}`
	req := requestWithOrgID(http.MethodPost, "/knowledge-bases", []byte(body))
	w := httptest.NewRecorder()

	handler.Create(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestKnowledgeBaseHandler_List_Success(t *testing.T) {
	mockSvc := new(MockKnowledgeBaseService)
	handler := NewKnowledgeBaseHandler(mockSvc)

	page := &service.KnowledgeBasePageResult{
		Items:      []*domain.KnowledgeBase{newTestKnowledgeBase()},
		NextCursor: "next-cursor",
		HasMore:    true,
	}
	mockSvc.On("ListKnowledgeBases", mock.Anything, "org-456", "", 20).Return(page, nil)

	req := requestWithOrgID(http.MethodGet, "/knowledge-bases", nil)
	w := httptest.NewRecorder()

	handler.List(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, true, data["has_more"])
	assert.Equal(t, "next-cursor", data["cursor"])
	items := data["items"].([]interface{})
	assert.Len(t, items, 1)
	mockSvc.AssertExpectations(t)
}

func TestKnowledgeBaseHandler_List_CustomLimit(t *testing.T) {
	mockSvc := new(MockKnowledgeBaseService)
	handler := NewKnowledgeBaseHandler(mockSvc)

	page := &service.KnowledgeBasePageResult{Items: nil}
	mockSvc.On("ListKnowledgeBases", mock.Anything, "org-456", "abc", 5).Return(page, nil)

	req := requestWithOrgID(http.MethodGet, "/knowledge-bases?limit=5&cursor=abc", nil)
	w := httptest.NewRecorder()

	handler.List(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	mockSvc.AssertExpectations(t)
}

func TestKnowledgeBaseHandler_Deactivate(t *testing.T) {
	mockSvc := new(MockKnowledgeBaseService)
	handler := NewKnowledgeBaseHandler(mockSvc)

	mockSvc.On("DeactivateKnowledgeBase", mock.Anything, "org-456", "kb-123").Return(nil)

	req := requestWithURLParam(requestWithOrgID(http.MethodDelete, "/knowledge-bases/kb-123", nil), "id", "kb-123")
	w := httptest.NewRecorder()

	handler.Deactivate(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, "deactivated", data["status"])
	mockSvc.AssertExpectations(t)
}

func TestKnowledgeBaseHandler_Deactivate_NotFound(t *testing.T) {
	mockSvc := new(MockKnowledgeBaseService)
	handler := NewKnowledgeBaseHandler(mockSvc)

	mockSvc.On("DeactivateKnowledgeBase", mock.Anything, "org-456", "kb-missing").Return(domain.ErrKnowledgeBaseNotFound)

	req := requestWithURLParam(requestWithOrgID(http.MethodDelete, "/knowledge-bases/kb-missing", nil), "id", "kb-missing")
	w := httptest.NewRecorder()

	handler.Deactivate(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestKnowledgeBaseHandler_Stats(t *testing.T) {
	mockSvc := new(MockKnowledgeBaseService)
	handler := NewKnowledgeBaseHandler(mockSvc)

	stats := &domain.KnowledgeBaseStatistics{
		TotalDocuments:   3,
		TotalChunks:      42,
		AverageChunkSize: 812.5,
		LastUpdated:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	mockSvc.On("GetKnowledgeBaseStats", mock.Anything, "org-456", "kb-123").Return(stats, nil)

	req := requestWithURLParam(requestWithOrgID(http.MethodGet, "/knowledge-bases/kb-123/stats", nil), "id", "kb-123")
	w := httptest.NewRecorder()

	handler.Stats(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, float64(3), data["total_documents"])
	assert.Equal(t, float64(42), data["total_chunks"])
	assert.Equal(t, 812.5, data["average_chunk_size"])
	assert.Equal(t, "2026-03-01T12:00:00Z", data["last_updated"])
	mockSvc.AssertExpectations(t)
}

func TestKnowledgeBaseHandler_Stats_MissingOrgID(t *testing.T) {
	mockSvc := new(MockKnowledgeBaseService)
	handler := NewKnowledgeBaseHandler(mockSvc)

	req := httptest.NewRequest(http.MethodGet, "/knowledge-bases/kb-123/stats", nil)
	req = requestWithURLParam(req, "id", "kb-123")
	w := httptest.NewRecorder()

	handler.Stats(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	mockSvc.AssertNotCalled(t, "GetKnowledgeBaseStats")
}

func TestKnowledgeBaseHandler_Stats_OtherOrgKnowledgeBase(t *testing.T) {
	mockSvc := new(MockKnowledgeBaseService)
	handler := NewKnowledgeBaseHandler(mockSvc)

	mockSvc.On("GetKnowledgeBaseStats", mock.Anything, "org-456", "kb-owned-elsewhere").
		Return(nil, domain.ErrKnowledgeBaseNotFound)

	req := requestWithURLParam(requestWithOrgID(http.MethodGet, "/knowledge-bases/kb-owned-elsewhere/stats", nil), "id", "kb-owned-elsewhere")
	w := httptest.NewRecorder()

	handler.Stats(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	mockSvc.AssertExpectations(t)
}

func TestKnowledgeBaseHandler_Deactivate_MissingOrgID(t *testing.T) {
	mockSvc := new(MockKnowledgeBaseService)
	handler := NewKnowledgeBaseHandler(mockSvc)

	req := httptest.NewRequest(http.MethodDelete, "/knowledge-bases/kb-123", nil)
	req = requestWithURLParam(req, "id", "kb-123")
	w := httptest.NewRecorder()

	handler.Deactivate(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	mockSvc.AssertNotCalled(t, "DeactivateKnowledgeBase")
}
