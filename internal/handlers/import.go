package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/rumor-ml/commons.systems/qbimport/internal/dedup"
	"github.com/rumor-ml/commons.systems/qbimport/internal/domain"
	"github.com/rumor-ml/commons.systems/qbimport/internal/importer"
	"github.com/rumor-ml/commons.systems/qbimport/internal/money"
	"github.com/rumor-ml/commons.systems/qbimport/internal/streaming"
)

// ImportHandlers handles the upload/preview/commit/rollback flow.
// Sessions live in memory; a restart discards previews but never
// committed data.
type ImportHandlers struct {
	imp *importer.Importer
	hub *streaming.StreamHub

	mu       sync.Mutex
	sessions map[string]*importer.Session
}

// NewImportHandlers creates a new import handlers instance
func NewImportHandlers(imp *importer.Importer, hub *streaming.StreamHub) *ImportHandlers {
	return &ImportHandlers{
		imp:      imp,
		hub:      hub,
		sessions: make(map[string]*importer.Session),
	}
}

// rowResponse is one classified row in a preview response
type rowResponse struct {
	Row            int                     `json:"row"`
	Date           string                  `json:"date"`
	Name           string                  `json:"name"`
	Amount         string                  `json:"amount"`
	AccountPath    string                  `json:"accountPath"`
	Type           string                  `json:"type"`
	Classification string                  `json:"classification"`
	Reimported     bool                    `json:"reimported,omitempty"`
	Category       string                  `json:"category"`
	CategorySource string                  `json:"categorySource"`
	Key            string                  `json:"key"`
	MatchDecision  string                  `json:"matchDecision"`
	Suggestions    []domain.PayeeCandidate `json:"suggestions,omitempty"`
	Best           *domain.PayeeCandidate  `json:"best,omitempty"`
	Selected       bool                    `json:"selected"`
}

type previewResponse struct {
	SessionID string            `json:"sessionId"`
	FileName  string            `json:"fileName"`
	State     string            `json:"state"`
	Rows      []rowResponse     `json:"rows"`
	RowErrors []domain.RowError `json:"rowErrors"`
}

// Preview handles POST /api/import/preview. Accepts a multipart upload
// with the export under "file" and optional repeated "override" fields
// carrying composite keys to re-import.
func (h *ImportHandlers) Preview(w http.ResponseWriter, r *http.Request) {
	// 32MB is generous for a QuickBooks export
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "No file uploaded", http.StatusBadRequest)
		return
	}
	defer file.Close()

	overrides := dedup.NewOverrideSet(r.MultipartForm.Value["override"]...)

	session, err := h.imp.PreviewReader(r.Context(), file, header.Filename, overrides)
	if err != nil {
		if errors.Is(err, importer.ErrParse) {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		log.Printf("ERROR: Preview failed for %s: %v", header.Filename, err)
		http.Error(w, "Preview failed", http.StatusInternalServerError)
		return
	}

	h.mu.Lock()
	h.sessions[session.ID()] = session
	h.mu.Unlock()

	resp := previewResponse{
		SessionID: session.ID(),
		FileName:  session.FileName(),
		State:     string(session.State()),
		Rows:      make([]rowResponse, 0, len(session.Rows())),
		RowErrors: session.RowErrors(),
	}
	for _, row := range session.Rows() {
		rec := row.Record
		resp.Rows = append(resp.Rows, rowResponse{
			Row:            rec.SourceRow(),
			Date:           rec.Date().Format("2006-01-02"),
			Name:           rec.Name(),
			Amount:         money.Canonical(rec.Amount()),
			AccountPath:    rec.AccountPath(),
			Type:           string(rec.Type()),
			Classification: string(row.Classification),
			Reimported:     row.Reimported,
			Category:       string(row.Category.Category),
			CategorySource: string(row.Category.Source),
			Key:            rec.Key(),
			MatchDecision:  string(row.Match.Decision),
			Suggestions:    row.Match.Suggestions,
			Best:           row.Match.Best,
			Selected:       row.Selected,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("ERROR: Failed to encode preview response: %v", err)
	}
}

// commitRequest is the body of POST /api/import/{id}/commit
type commitRequest struct {
	Selections []struct {
		Row      int  `json:"row"`
		Selected bool `json:"selected"`
	} `json:"selections"`
	Resolutions []struct {
		Row     int    `json:"row"`
		Action  string `json:"action"` // create | match | skip
		PayeeID uint   `json:"payeeId,omitempty"`
		Name    string `json:"name,omitempty"`
	} `json:"resolutions"`
}

type commitResponse struct {
	BatchID string         `json:"batchId"`
	Status  string         `json:"status"`
	Summary domain.Summary `json:"summary"`
}

// Commit handles POST /api/import/{id}/commit
func (h *ImportHandlers) Commit(w http.ResponseWriter, r *http.Request) {
	session := h.session(r.PathValue("id"))
	if session == nil {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	var req commitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	for _, sel := range req.Selections {
		if err := session.SetSelected(sel.Row, sel.Selected); err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
	}
	for _, res := range req.Resolutions {
		err := session.Resolve(res.Row, importer.PayeeResolution{
			Action:  importer.PayeeAction(res.Action),
			PayeeID: res.PayeeID,
			Name:    res.Name,
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
	}

	if err := session.MarkReviewed(); err != nil {
		if errors.Is(err, importer.ErrMatchAmbiguous) {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	summary, err := session.Commit(r.Context())
	switch {
	case err == nil:
	case errors.Is(err, importer.ErrBatchPartial):
		// Partial success still returns the summary
	case errors.Is(err, importer.ErrCommitInFlight), errors.Is(err, importer.ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	default:
		log.Printf("ERROR: Commit failed for session %s: %v", session.ID(), err)
		http.Error(w, "Commit failed", http.StatusInternalServerError)
		return
	}

	status := domain.BatchStatusCompleted
	if summary.Errors > 0 {
		status = domain.BatchStatusPartial
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(commitResponse{
		BatchID: session.BatchID(),
		Status:  string(status),
		Summary: *summary,
	}); err != nil {
		log.Printf("ERROR: Failed to encode commit response: %v", err)
	}
}

// Rollback handles POST /api/import/batches/{id}/rollback
func (h *ImportHandlers) Rollback(w http.ResponseWriter, r *http.Request) {
	batchID := r.PathValue("id")

	deleted, err := h.imp.Rollback(r.Context(), batchID)
	if err != nil {
		log.Printf("WARN: Rollback of batch %s failed: %v", batchID, err)
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"batchId":%q,"deleted":%d}`, batchID, deleted)
}

// Stream handles GET /api/import/{id}/stream, the SSE feed of session
// events.
func (h *ImportHandlers) Stream(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	client := h.hub.Register(r.Context(), sessionID)
	defer h.hub.Unregister(sessionID, client)

	for {
		select {
		case <-r.Context().Done():
			return
		case event, open := <-client.Events:
			if !open {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				log.Printf("ERROR: Failed to marshal SSE event: %v", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}

func (h *ImportHandlers) session(id string) *importer.Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sessions[id]
}
