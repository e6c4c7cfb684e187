package dispatch

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/relaybird/relaybird/internal/domain"
	"github.com/relaybird/relaybird/internal/pkg/httputil"
)

// Handler handles HTTP requests for the dispatch module.
type Handler struct {
	trigger   *Trigger
	validator *validator.Validate
}

// NewHandler creates a new dispatch handler.
func NewHandler(trigger *Trigger) *Handler {
	return &Handler{
		trigger:   trigger,
		validator: validator.New(),
	}
}

// RegisterRoutes registers dispatch routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/content", h.IngestContent)
}

// IngestContentRequest is the push path for new content. Immediate schedules
// bound to the source fire without waiting for the next tick.
type IngestContentRequest struct {
	SourceRef   string            `json:"source_ref" validate:"required"`
	ItemID      string            `json:"item_id" validate:"required"`
	Fields      map[string]string `json:"fields"`
	PublishedAt *time.Time        `json:"published_at"`
}

// IngestContent handles POST /content.
func (h *Handler) IngestContent(w http.ResponseWriter, r *http.Request) {
	var req IngestContentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	publishedAt := time.Now()
	if req.PublishedAt != nil {
		publishedAt = *req.PublishedAt
	}

	item := domain.ContentItem{
		ID:          req.ItemID,
		Fields:      req.Fields,
		PublishedAt: publishedAt,
	}
	if err := h.trigger.OnNewContent(r.Context(), req.SourceRef, item); err != nil {
		httputil.HandleError(r.Context(), w, err, nil)
		return
	}

	httputil.Success(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}
