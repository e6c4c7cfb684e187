package queue

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/relaybird/relaybird/internal/pkg/httputil"
)

// Pagination limits.
const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrItemNotFound, Status: http.StatusNotFound, Message: "queue item not found"},
	{Error: ErrDuplicateItem, Status: http.StatusConflict, Message: "queue item already exists for this content and destination"},
	{Error: ErrInvalidTransition, Status: http.StatusConflict, Message: "operation not allowed in current item status"},
}

// Handler handles HTTP requests for the queue module.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new queue handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterRoutes registers queue routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/queue", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/send", h.Enqueue)
		r.Get("/stats", h.Stats)
		r.Get("/{id}", h.Get)
		r.Patch("/{id}", h.PatchContent)
		r.Delete("/{id}", h.Delete)
		r.Post("/{id}/pause", h.Pause)
		r.Post("/{id}/resume", h.Resume)
		r.Post("/{id}/send-now", h.SendNow)
	})
}

// EnqueueRequest represents request body for a manually composed send.
type EnqueueRequest struct {
	DestinationID string     `json:"destination_id" validate:"required"`
	ContentText   string     `json:"content_text" validate:"required"`
	MediaRefs     []string   `json:"media_refs"`
	ScheduledFor  *time.Time `json:"scheduled_for"`
}

// PatchContentRequest represents request body for editing a queued item.
type PatchContentRequest struct {
	ContentText string   `json:"content_text" validate:"required"`
	MediaRefs   []string `json:"media_refs"`
}

// List handles GET /queue.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := Filter{
		DestinationID: q.Get("destination_id"),
		ScheduleID:    q.Get("schedule_id"),
	}
	if s := q.Get("status"); s != "" {
		status := Status(s)
		if !status.IsValid() {
			httputil.Error(w, http.StatusBadRequest, "invalid status filter")
			return
		}
		filter.Status = status
	}
	filter.Limit = parseIntParam(q.Get("limit"), DefaultListLimit, MaxListLimit)
	filter.Offset = parseIntParam(q.Get("offset"), 0, 1<<30)

	items, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, map[string]any{
		"items": items,
		"total": total,
	})
}

// Enqueue handles POST /queue/send.
func (h *Handler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	item, err := h.service.Enqueue(r.Context(), EnqueueInput{
		DestinationID: req.DestinationID,
		ContentText:   req.ContentText,
		MediaRefs:     req.MediaRefs,
		ScheduledFor:  req.ScheduledFor,
	})
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusCreated, item)
}

// Get handles GET /queue/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	item, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, item)
}

// Stats handles GET /queue/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, stats)
}

// PatchContent handles PATCH /queue/{id}.
func (h *Handler) PatchContent(w http.ResponseWriter, r *http.Request) {
	var req PatchContentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	item, err := h.service.PatchContent(r.Context(), chi.URLParam(r, "id"), req.ContentText, req.MediaRefs)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, item)
}

// Pause handles POST /queue/{id}/pause.
func (h *Handler) Pause(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Pause)
}

// Resume handles POST /queue/{id}/resume.
func (h *Handler) Resume(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Resume)
}

// SendNow handles POST /queue/{id}/send-now.
func (h *Handler) SendNow(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.SendNow)
}

// Delete handles DELETE /queue/{id}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id string) error) {
	if err := op(r.Context(), chi.URLParam(r, "id")); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	item, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, item)
}

func parseIntParam(s string, def, max int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
