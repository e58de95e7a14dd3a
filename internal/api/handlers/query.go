package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/veldt-labs/quarry/internal/api"
	"github.com/veldt-labs/quarry/internal/api/middleware"
	"github.com/veldt-labs/quarry/internal/domain"
	"github.com/veldt-labs/quarry/internal/service"
)

type QueryHandler struct {
	svc KnowledgeBaseService
}

func NewQueryHandler(svc KnowledgeBaseService) *QueryHandler {
	return &QueryHandler{svc: svc}
}

type QueryFiltersRequest struct {
	DocumentIDs []string `json:"document_ids,omitempty"`
	Sources     []string `json:"sources,omitempty"`
	DateFrom    string   `json:"date_from,omitempty"`
	DateTo      string   `json:"date_to,omitempty"`
}

type QueryRequest struct {
	Query     string               `json:"query"`
	TopK      int                  `json:"top_k,omitempty"`
	Threshold float64              `json:"threshold,omitempty"`
	Filters   *QueryFiltersRequest `json:"filters,omitempty"`
	Model     string               `json:"model,omitempty"`
}

type SourceResponse struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Content    string  `json:"content"`
	Source     string  `json:"source,omitempty"`
	Title      string  `json:"title,omitempty"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float64 `json:"score"`
	Relevance  string  `json:"relevance"`
}

type QueryResponseMetadata struct {
	Model           string `json:"model,omitempty"`
	RetrievalMethod string `json:"retrieval_method"`
	ChunksRetrieved int    `json:"chunks_retrieved"`
}

type QueryResponse struct {
	Query            string                `json:"query"`
	Answer           string                `json:"answer"`
	Sources          []SourceResponse      `json:"sources"`
	Confidence       float64               `json:"confidence"`
	ProcessingTimeMS int64                 `json:"processing_time_ms"`
	TokensUsed       int                   `json:"tokens_used"`
	Metadata         QueryResponseMetadata `json:"metadata"`
}

func (h *QueryHandler) Query(w http.ResponseWriter, r *http.Request) {
	orgID := middleware.OrgIDFromRequest(r)
	if orgID == "" {
		api.Error(w, http.StatusBadRequest, "X-Org-ID header is required")
		return
	}

	kbID := chi.URLParam(r, "id")
	if kbID == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Query == "" {
		api.Error(w, http.StatusBadRequest, "query is required")
		return
	}

	q := service.RAGQuery{
		Query:     req.Query,
		TopK:      req.TopK,
		Threshold: req.Threshold,
		Model:     req.Model,
	}

	if req.Filters != nil {
		filters, err := parseFilters(req.Filters)
		if err != nil {
			api.Error(w, http.StatusBadRequest, err.Error())
			return
		}
		q.Filters = filters
	}

	resp, err := h.svc.Query(r.Context(), orgID, kbID, q)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, queryToResponse(resp))
}

func parseFilters(req *QueryFiltersRequest) (*service.RetrievalFilters, error) {
	filters := &service.RetrievalFilters{
		DocumentIDs: req.DocumentIDs,
		Sources:     req.Sources,
	}

	if req.DateFrom != "" || req.DateTo != "" {
		var dr service.DateRange
		if req.DateFrom != "" {
			from, err := time.Parse(time.RFC3339, req.DateFrom)
			if err != nil {
				return nil, domain.NewDomainError(domain.ErrCodeValidation, "date_from must be RFC3339")
			}
			dr.From = from
		}
		if req.DateTo != "" {
			to, err := time.Parse(time.RFC3339, req.DateTo)
			if err != nil {
				return nil, domain.NewDomainError(domain.ErrCodeValidation, "date_to must be RFC3339")
			}
			dr.To = to
		}
		filters.DateRange = &dr
	}

	return filters, nil
}

func queryToResponse(resp *service.RAGResponse) *QueryResponse {
	sources := make([]SourceResponse, len(resp.Sources))
	for i, s := range resp.Sources {
		sources[i] = SourceResponse{
			ChunkID:    s.Chunk.ID,
			DocumentID: s.Chunk.DocumentID,
			Content:    s.Chunk.Content,
			Source:     s.Chunk.Metadata.Source,
			Title:      s.Chunk.Metadata.Title,
			ChunkIndex: s.Chunk.Metadata.ChunkIndex,
			Score:      s.Score,
			Relevance:  string(s.Relevance),
		}
	}

	return &QueryResponse{
		Query:            resp.Query,
		Answer:           resp.Answer,
		Sources:          sources,
		Confidence:       resp.Confidence,
		ProcessingTimeMS: resp.ProcessingTime.Milliseconds(),
		TokensUsed:       resp.TokensUsed,
		Metadata: QueryResponseMetadata{
			Model:           resp.Metadata.Model,
			RetrievalMethod: resp.Metadata.RetrievalMethod,
			ChunksRetrieved: resp.Metadata.ChunksRetrieved,
		},
	}
}
