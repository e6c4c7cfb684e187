package delivery

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/relaybird/relaybird/internal/pkg/httputil"
)

// Pagination limits.
const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrLogNotFound, Status: http.StatusNotFound, Message: "delivery log record not found"},
}

// Handler handles HTTP requests for the delivery log.
type Handler struct {
	repo Repository
}

// NewHandler creates a new delivery log handler.
func NewHandler(repo Repository) *Handler {
	return &Handler{repo: repo}
}

// RegisterRoutes registers delivery log routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/deliveries", func(r chi.Router) {
		r.Get("/", h.List)
		r.Get("/{id}", h.Get)
	})
}

// List handles GET /deliveries.
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

	var err error
	if filter.From, err = parseTimeParam(q.Get("from")); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid 'from' timestamp, use RFC 3339")
		return
	}
	if filter.To, err = parseTimeParam(q.Get("to")); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid 'to' timestamp, use RFC 3339")
		return
	}

	filter.Limit = parseIntParam(q.Get("limit"), DefaultListLimit, MaxListLimit)
	filter.Offset = parseIntParam(q.Get("offset"), 0, 1<<30)

	logs, total, err := h.repo.List(r.Context(), filter)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, map[string]any{
		"items": logs,
		"total": total,
	})
}

// Get handles GET /deliveries/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	l, err := h.repo.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, l)
}

func parseTimeParam(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
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
