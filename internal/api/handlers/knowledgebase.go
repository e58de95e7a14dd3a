package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/veldt-labs/quarry/internal/api"
	"github.com/veldt-labs/quarry/internal/api/middleware"
	"github.com/veldt-labs/quarry/internal/domain"
	"github.com/veldt-labs/quarry/internal/service"
)

// KnowledgeBaseService is the engine surface the HTTP layer consumes.
type KnowledgeBaseService interface {
	CreateKnowledgeBase(ctx context.Context, input service.CreateKnowledgeBaseInput) (*domain.KnowledgeBase, error)
	ListKnowledgeBases(ctx context.Context, orgID, cursor string, limit int) (*service.KnowledgeBasePageResult, error)
	DeactivateKnowledgeBase(ctx context.Context, orgID, kbID string) error
	GetKnowledgeBaseStats(ctx context.Context, orgID, kbID string) (*domain.KnowledgeBaseStatistics, error)
	AddDocuments(ctx context.Context, orgID, kbID string, docs []domain.Document) error
	UpdateDocument(ctx context.Context, orgID, kbID string, doc domain.Document) error
	RemoveDocument(ctx context.Context, orgID, kbID, documentID string) error
	Query(ctx context.Context, orgID, kbID string, q service.RAGQuery) (*service.RAGResponse, error)
}

type KnowledgeBaseHandler struct {
	svc KnowledgeBaseService
}

func NewKnowledgeBaseHandler(svc KnowledgeBaseService) *KnowledgeBaseHandler {
	return &KnowledgeBaseHandler{svc: svc}
}

type KnowledgeBaseSettingsRequest struct {
	ChunkSize       int    `json:"chunk_size"`
	ChunkOverlap    int    `json:"chunk_overlap"`
	EmbeddingModel  string `json:"embedding_model"`
	RetrievalMethod string `json:"retrieval_method"`
}

type CreateKnowledgeBaseRequest struct {
	Name        string                        `json:"name"`
	Description string                        `json:"description"`
	Settings    *KnowledgeBaseSettingsRequest `json:"settings"`
}

type KnowledgeBaseSettingsResponse struct {
	ChunkSize       int    `json:"chunk_size"`
	ChunkOverlap    int    `json:"chunk_overlap"`
	EmbeddingModel  string `json:"embedding_model"`
	RetrievalMethod string `json:"retrieval_method"`
}

type KnowledgeBaseResponse struct {
	ID          string                        `json:"id"`
	OrgID       string                        `json:"org_id"`
	Name        string                        `json:"name"`
	Description string                        `json:"description"`
	Settings    KnowledgeBaseSettingsResponse `json:"settings"`
	IsActive    bool                          `json:"is_active"`
	CreatedAt   string                        `json:"created_at"`
	UpdatedAt   string                        `json:"updated_at"`
}

func knowledgeBaseToResponse(kb *domain.KnowledgeBase) *KnowledgeBaseResponse {
	return &KnowledgeBaseResponse{
		ID:          kb.ID,
		OrgID:       kb.OrgID,
		Name:        kb.Name,
		Description: kb.Description,
		Settings: KnowledgeBaseSettingsResponse{
			ChunkSize:       kb.Settings.ChunkSize,
			ChunkOverlap:    kb.Settings.ChunkOverlap,
			EmbeddingModel:  kb.Settings.EmbeddingModel,
			RetrievalMethod: string(kb.Settings.RetrievalMethod),
		},
		IsActive:  kb.IsActive,
		CreatedAt: kb.CreatedAt.Format("2006-01-02T15:04:05Z"),
		UpdatedAt: kb.UpdatedAt.Format("2006-01-02T15:04:05Z"),
	}
}

func (h *KnowledgeBaseHandler) Create(w http.ResponseWriter, r *http.Request) {
	orgID := middleware.OrgIDFromRequest(r)
	if orgID == "" {
		api.Error(w, http.StatusBadRequest, "X-Org-ID header is required")
		return
	}

	var req CreateKnowledgeBaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Name == "" {
		api.Error(w, http.StatusBadRequest, "name is required")
		return
	}

	input := service.CreateKnowledgeBaseInput{
		OrgID:       orgID,
		Name:        req.Name,
		Description: req.Description,
	}
	if req.Settings != nil {
		settings := domain.DefaultKnowledgeBaseSettings()
		if req.Settings.ChunkSize > 0 {
			settings.ChunkSize = req.Settings.ChunkSize
		}
		if req.Settings.ChunkOverlap > 0 {
			settings.ChunkOverlap = req.Settings.ChunkOverlap
		}
		if req.Settings.EmbeddingModel != "" {
			settings.EmbeddingModel = req.Settings.EmbeddingModel
		}
		if req.Settings.RetrievalMethod != "" {
			settings.RetrievalMethod = domain.RetrievalMethod(req.Settings.RetrievalMethod)
		}
		input.Settings = &settings
	}

	kb, err := h.svc.CreateKnowledgeBase(r.Context(), input)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusCreated, knowledgeBaseToResponse(kb))
}

type KnowledgeBaseListResponse struct {
	Items   []*KnowledgeBaseResponse `json:"items"`
	Cursor  string                   `json:"cursor,omitempty"`
	HasMore bool                     `json:"has_more"`
}

func (h *KnowledgeBaseHandler) List(w http.ResponseWriter, r *http.Request) {
	orgID := middleware.OrgIDFromRequest(r)
	if orgID == "" {
		api.Error(w, http.StatusBadRequest, "X-Org-ID header is required")
		return
	}

	cursor := r.URL.Query().Get("cursor")
	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	page, err := h.svc.ListKnowledgeBases(r.Context(), orgID, cursor, limit)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	responses := make([]*KnowledgeBaseResponse, len(page.Items))
	for i, kb := range page.Items {
		responses[i] = knowledgeBaseToResponse(kb)
	}

	api.Success(w, http.StatusOK, KnowledgeBaseListResponse{
		Items:   responses,
		Cursor:  page.NextCursor,
		HasMore: page.HasMore,
	})
}

func (h *KnowledgeBaseHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	orgID := middleware.OrgIDFromRequest(r)
	if orgID == "" {
		api.Error(w, http.StatusBadRequest, "X-Org-ID header is required")
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	if err := h.svc.DeactivateKnowledgeBase(r.Context(), orgID, id); err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, map[string]string{"id": id, "status": "deactivated"})
}

type KnowledgeBaseStatsResponse struct {
	TotalDocuments   int     `json:"total_documents"`
	TotalChunks      int     `json:"total_chunks"`
	AverageChunkSize float64 `json:"average_chunk_size"`
	LastUpdated      string  `json:"last_updated,omitempty"`
}

func (h *KnowledgeBaseHandler) Stats(w http.ResponseWriter, r *http.Request) {
	orgID := middleware.OrgIDFromRequest(r)
	if orgID == "" {
		api.Error(w, http.StatusBadRequest, "X-Org-ID header is required")
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	stats, err := h.svc.GetKnowledgeBaseStats(r.Context(), orgID, id)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	resp := KnowledgeBaseStatsResponse{
		TotalDocuments:   stats.TotalDocuments,
		TotalChunks:      stats.TotalChunks,
		AverageChunkSize: stats.AverageChunkSize,
	}
	if !stats.LastUpdated.IsZero() {
		resp.LastUpdated = stats.LastUpdated.Format("2006-01-02T15:04:05Z")
	}

	api.Success(w, http.StatusOK, resp)
}
