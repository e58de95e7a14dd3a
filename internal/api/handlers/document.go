package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/veldt-labs/quarry/internal/api"
	"github.com/veldt-labs/quarry/internal/api/middleware"
	"github.com/veldt-labs/quarry/internal/domain"
)

type DocumentHandler struct {
	svc KnowledgeBaseService
}

func NewDocumentHandler(svc KnowledgeBaseService) *DocumentHandler {
	return &DocumentHandler{svc: svc}
}

type DocumentRequest struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
}

type IngestRequest struct {
	Documents []DocumentRequest `json:"documents"`
}

func (h *DocumentHandler) Ingest(w http.ResponseWriter, r *http.Request) {
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

	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if len(req.Documents) == 0 {
		api.Error(w, http.StatusBadRequest, "documents are required")
		return
	}

	docs := make([]domain.Document, len(req.Documents))
	for i, d := range req.Documents {
		docs[i] = domain.Document{ID: d.ID, Content: d.Content, Metadata: d.Metadata}
	}

	if err := h.svc.AddDocuments(r.Context(), orgID, kbID, docs); err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusAccepted, map[string]int{"documents_ingested": len(docs)})
}

func (h *DocumentHandler) Update(w http.ResponseWriter, r *http.Request) {
	orgID := middleware.OrgIDFromRequest(r)
	if orgID == "" {
		api.Error(w, http.StatusBadRequest, "X-Org-ID header is required")
		return
	}

	kbID := chi.URLParam(r, "id")
	docID := chi.URLParam(r, "docID")
	if kbID == "" || docID == "" {
		api.Error(w, http.StatusBadRequest, "id and docID are required")
		return
	}

	var req DocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	doc := domain.Document{ID: docID, Content: req.Content, Metadata: req.Metadata}

	if err := h.svc.UpdateDocument(r.Context(), orgID, kbID, doc); err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, map[string]string{"document_id": docID, "status": "updated"})
}

func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	orgID := middleware.OrgIDFromRequest(r)
	if orgID == "" {
		api.Error(w, http.StatusBadRequest, "X-Org-ID header is required")
		return
	}

	kbID := chi.URLParam(r, "id")
	docID := chi.URLParam(r, "docID")
	if kbID == "" || docID == "" {
		api.Error(w, http.StatusBadRequest, "id and docID are required")
		return
	}

	if err := h.svc.RemoveDocument(r.Context(), orgID, kbID, docID); err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, map[string]string{"document_id": docID, "status": "deleted"})
}
