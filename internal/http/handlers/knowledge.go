package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/atlasgrove/marketing-ai-platform/internal/knowledge"
	"github.com/atlasgrove/marketing-ai-platform/pkg/logging"
)

// DocumentIngestor is the part of the ingestion pipeline the handler uses.
type DocumentIngestor interface {
	Ingest(ctx context.Context, doc *knowledge.Document) error
	Reindex(ctx context.Context, id string) error
}

// DocumentStore is the part of the knowledge store the handler uses.
type DocumentStore interface {
	Get(ctx context.Context, id string) (*knowledge.Document, error)
	Archive(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

// KnowledgeHandler manages knowledge base documents over HTTP.
type KnowledgeHandler struct {
	ingestor DocumentIngestor
	store    DocumentStore
	logger   *logging.Logger
}

// NewKnowledgeHandler creates the knowledge HTTP handler.
func NewKnowledgeHandler(ingestor DocumentIngestor, store DocumentStore, logger *logging.Logger) *KnowledgeHandler {
	if ingestor == nil {
		panic("handlers: ingestor cannot be nil")
	}
	if store == nil {
		panic("handlers: store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &KnowledgeHandler{
		ingestor: ingestor,
		store:    store,
		logger:   logger,
	}
}

// CreateDocument accepts a document and queues it for indexing.
// POST /api/knowledge/documents
func (h *KnowledgeHandler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Title   string   `json:"title"`
		Content string   `json:"content"`
		DocType string   `json:"doc_type"`
		Source  string   `json:"source"`
		Tags    []string `json:"tags"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(payload.Title) == "" || strings.TrimSpace(payload.Content) == "" {
		jsonError(w, "title and content are required", http.StatusBadRequest)
		return
	}

	doc := &knowledge.Document{
		Title:   payload.Title,
		Content: payload.Content,
		DocType: payload.DocType,
		Source:  payload.Source,
		Tags:    payload.Tags,
	}
	if err := h.ingestor.Ingest(r.Context(), doc); err != nil {
		if errors.Is(err, knowledge.ErrIngestorClosed) {
			jsonError(w, "ingestion unavailable", http.StatusServiceUnavailable)
			return
		}
		h.logger.Error("failed to ingest document", "title", payload.Title, "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"id":     doc.ID,
		"status": doc.Status,
	})
}

// GetDocument returns one document.
// GET /api/knowledge/documents/{documentID}
func (h *KnowledgeHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "documentID"))
	if id == "" {
		jsonError(w, "missing documentID", http.StatusBadRequest)
		return
	}

	doc, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, knowledge.ErrDocumentNotFound) {
			jsonError(w, "document not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to load document", "document_id", id, "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, doc)
}

// ReindexDocument queues an existing document for re-embedding.
// POST /api/knowledge/documents/{documentID}/reindex
func (h *KnowledgeHandler) ReindexDocument(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "documentID"))
	if id == "" {
		jsonError(w, "missing documentID", http.StatusBadRequest)
		return
	}

	if err := h.ingestor.Reindex(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, knowledge.ErrDocumentNotFound):
			jsonError(w, "document not found", http.StatusNotFound)
		case errors.Is(err, knowledge.ErrIngestorClosed):
			jsonError(w, "ingestion unavailable", http.StatusServiceUnavailable)
		default:
			h.logger.Error("failed to reindex document", "document_id", id, "error", err)
			jsonError(w, "internal error", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

// ArchiveDocument removes a document from retrieval without deleting it.
// POST /api/knowledge/documents/{documentID}/archive
func (h *KnowledgeHandler) ArchiveDocument(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "documentID"))
	if id == "" {
		jsonError(w, "missing documentID", http.StatusBadRequest)
		return
	}

	if err := h.store.Archive(r.Context(), id); err != nil {
		if errors.Is(err, knowledge.ErrDocumentNotFound) {
			jsonError(w, "document not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to archive document", "document_id", id, "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(knowledge.StatusArchived)})
}

// DeleteDocument permanently removes a document.
// DELETE /api/knowledge/documents/{documentID}
func (h *KnowledgeHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "documentID"))
	if id == "" {
		jsonError(w, "missing documentID", http.StatusBadRequest)
		return
	}

	if err := h.store.Delete(r.Context(), id); err != nil {
		if errors.Is(err, knowledge.ErrDocumentNotFound) {
			jsonError(w, "document not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to delete document", "document_id", id, "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
