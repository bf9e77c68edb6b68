package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/knoguchi/ingestcore/internal/repository"
	"github.com/knoguchi/ingestcore/internal/stage"
)

type documentHandlers struct {
	docs    repository.DocumentRepository
	chunks  repository.ChunkRepository
	machine *stage.Machine
	logger  *slog.Logger
}

type createDocumentRequest struct {
	Owner       string                 `json:"owner"`
	SourceKind  repository.SourceKind  `json:"source_kind"`
	SourcePath  string                 `json:"source_path"`
	ChunkerKind repository.ChunkerKind `json:"chunker_kind"`
}

func (h *documentHandlers) create(w http.ResponseWriter, r *http.Request) {
	var req createDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Owner == "" || req.SourcePath == "" {
		http.Error(w, "owner and source_path are required", http.StatusBadRequest)
		return
	}
	if req.ChunkerKind == "" {
		req.ChunkerKind = repository.ChunkerRecursive
	}

	now := time.Now()
	doc := &repository.Document{
		ID:              uuid.New(),
		Owner:           req.Owner,
		SourceKind:      req.SourceKind,
		SourcePath:      req.SourcePath,
		ChunkerKind:     req.ChunkerKind,
		ProcessingStage: repository.StageQueued,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := h.docs.Create(r.Context(), doc); err != nil {
		h.logger.Error("create document failed", "error", err)
		http.Error(w, "failed to create document", http.StatusInternalServerError)
		return
	}

	if h.machine != nil {
		if err := h.machine.Enqueue(r.Context(), doc.ID); err != nil {
			h.logger.Error("enqueue document failed", "document_id", doc.ID, "error", err)
		}
	}

	writeJSON(w, http.StatusCreated, doc)
}

func (h *documentHandlers) get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid document id", http.StatusBadRequest)
		return
	}

	doc, err := h.docs.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			http.Error(w, "document not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load document", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *documentHandlers) listChunks(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid document id", http.StatusBadRequest)
		return
	}
	chunks, err := h.chunks.GetCurrent(r.Context(), id)
	if err != nil {
		http.Error(w, "failed to load chunks", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, chunks)
}

func (h *documentHandlers) pause(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid document id", http.StatusBadRequest)
		return
	}
	if h.machine != nil {
		h.machine.Pause(id)
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *documentHandlers) resume(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid document id", http.StatusBadRequest)
		return
	}
	if h.machine != nil {
		h.machine.Resume(id)
	}
	w.WriteHeader(http.StatusAccepted)
}

// events streams the document's Stage Machine progress as
// Server-Sent-Events, replacing the teacher's grpc-gateway streaming
// with the stdlib net/http flusher (spec.md §9's "coroutine-ish
// polling" goes away in favor of a push model, see DESIGN.md).
func (h *documentHandlers) events(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid document id", http.StatusBadRequest)
		return
	}
	if h.machine == nil {
		http.Error(w, "stage machine not configured", http.StatusServiceUnavailable)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	events, err := h.machine.Subscribe(r.Context(), id)
	if err != nil {
		http.Error(w, "failed to subscribe to document events", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: stage\ndata: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
