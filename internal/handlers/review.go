package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/amerfu/pguard/internal/services/review"
)

const defaultReviewLimit = 50

type ReviewHandler struct {
	logger *zap.Logger
	queue  review.Queue
}

func NewReviewHandler(logger *zap.Logger, queue review.Queue) *ReviewHandler {
	return &ReviewHandler{
		logger: logger.Named("review_handler"),
		queue:  queue,
	}
}

type ReviewResponse struct {
	Items []*review.Item `json:"items"`
	Count int            `json:"count"`
	Total int64          `json:"total"`
}

// Pending lists escalated records without claiming them
func (h *ReviewHandler) Pending(w http.ResponseWriter, r *http.Request) {
	limit, ok := h.limit(w, r)
	if !ok {
		return
	}
	items, err := h.queue.Pending(r.Context(), limit)
	if err != nil {
		handleError(h.logger, w, err)
		return
	}
	h.respond(w, r, items)
}

// Dequeue claims up to ?limit= items for the caller
func (h *ReviewHandler) Dequeue(w http.ResponseWriter, r *http.Request) {
	limit, ok := h.limit(w, r)
	if !ok {
		return
	}
	items, err := h.queue.Dequeue(r.Context(), limit)
	if err != nil {
		handleError(h.logger, w, err)
		return
	}
	h.logger.Info("Review items claimed", zap.Int("count", len(items)))
	h.respond(w, r, items)
}

func (h *ReviewHandler) respond(w http.ResponseWriter, r *http.Request, items []*review.Item) {
	if items == nil {
		items = []*review.Item{}
	}
	total, err := h.queue.Len(r.Context())
	if err != nil {
		handleError(h.logger, w, err)
		return
	}
	sendJSON(h.logger, w, http.StatusOK, ReviewResponse{Items: items, Count: len(items), Total: total})
}

func (h *ReviewHandler) limit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultReviewLimit, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		sendError(h.logger, w, http.StatusBadRequest, "invalid_request_error", "limit must be a positive integer")
		return 0, false
	}
	return limit, true
}
