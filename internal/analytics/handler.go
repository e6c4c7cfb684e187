package analytics

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/relaybird/relaybird/internal/pkg/httputil"
)

// MaxLookbackDays bounds a report query window.
const MaxLookbackDays = 365

// MaxTopSlots bounds a recommendation count override. 168 is every
// (weekday, hour) slot of the week.
const MaxTopSlots = 168

// contentTypes are the payload kinds a report may filter on.
var contentTypes = map[string]struct{}{
	"text": {}, "photo": {}, "video": {}, "audio": {}, "document": {},
}

// Handler handles HTTP requests for the analytics module.
type Handler struct {
	engine *Engine
}

// NewHandler creates a new analytics handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

// RegisterRoutes registers analytics routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/analytics/report", h.Report)
}

// Report handles GET /analytics/report.
func (h *Handler) Report(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	query := Query{DestinationID: q.Get("destination_id")}
	if s := q.Get("lookback_days"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > MaxLookbackDays {
			httputil.Error(w, http.StatusBadRequest, "invalid lookback_days")
			return
		}
		query.LookbackDays = n
	}
	if s := q.Get("top"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > MaxTopSlots {
			httputil.Error(w, http.StatusBadRequest, "invalid top")
			return
		}
		query.TopSlots = n
	}
	if s := q.Get("content_type"); s != "" {
		if _, ok := contentTypes[s]; !ok {
			httputil.Error(w, http.StatusBadRequest, "invalid content_type")
			return
		}
		query.ContentType = s
	}

	report, err := h.engine.Report(r.Context(), query)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, nil)
		return
	}
	httputil.Success(w, http.StatusOK, report)
}
