package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/rumor-ml/commons.systems/qbimport/internal/store"
)

// StoreReader interface for dependency injection
type StoreReader interface {
	Payees(ctx context.Context) ([]store.Payee, error)
	Batches(ctx context.Context) ([]store.ImportBatch, error)
	PendingReviews(ctx context.Context) ([]store.PendingPayeeReview, error)
	ResolveReview(ctx context.Context, reviewID uint, status string, payeeID *uint) error
}

// APIHandler handles read/resolve API requests
type APIHandler struct {
	store StoreReader
}

// NewAPIHandler creates a new API handler
func NewAPIHandler(st StoreReader) *APIHandler {
	return &APIHandler{store: st}
}

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// GetPayees handles GET /api/payees
func (h *APIHandler) GetPayees(w http.ResponseWriter, r *http.Request) {
	payees, err := h.store.Payees(r.Context())
	if err != nil {
		http.Error(w, "Failed to fetch payees", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payees); err != nil {
		log.Printf("ERROR: Failed to encode payees: %v", err)
		return
	}
}

// GetBatches handles GET /api/import/batches
func (h *APIHandler) GetBatches(w http.ResponseWriter, r *http.Request) {
	batches, err := h.store.Batches(r.Context())
	if err != nil {
		http.Error(w, "Failed to fetch batches", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(batches); err != nil {
		log.Printf("ERROR: Failed to encode batches: %v", err)
		return
	}
}

// GetPendingReviews handles GET /api/reviews
func (h *APIHandler) GetPendingReviews(w http.ResponseWriter, r *http.Request) {
	reviews, err := h.store.PendingReviews(r.Context())
	if err != nil {
		http.Error(w, "Failed to fetch pending reviews", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(reviews); err != nil {
		log.Printf("ERROR: Failed to encode pending reviews: %v", err)
		return
	}
}

// resolveReviewRequest is the body of POST /api/reviews/{id}/resolve
type resolveReviewRequest struct {
	Status  string `json:"status"`  // "resolved" or "skipped"
	PayeeID *uint  `json:"payeeId"` // Set when the resolution linked or created a payee
}

// ResolveReview handles POST /api/reviews/{id}/resolve
func (h *APIHandler) ResolveReview(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 32)
	if err != nil {
		http.Error(w, "Invalid review id", http.StatusBadRequest)
		return
	}

	var req resolveReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.store.ResolveReview(r.Context(), uint(id), req.Status, req.PayeeID); err != nil {
		log.Printf("WARN: Failed to resolve review %d: %v", id, err)
		http.Error(w, "Failed to resolve review", http.StatusUnprocessableEntity)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
