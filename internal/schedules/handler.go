package schedules

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/relaybird/relaybird/internal/domain"
	"github.com/relaybird/relaybird/internal/pkg/httputil"
)

// Pagination limits.
const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrScheduleNotFound, Status: http.StatusNotFound, Message: "schedule not found"},
	{Error: ErrInvalidTrigger, Status: http.StatusBadRequest, Message: "invalid trigger definition"},
	{Error: ErrNoRecommendation, Status: http.StatusConflict, Message: "not enough data for a timing recommendation"},
}

// Handler handles HTTP requests for the schedules module.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new schedules handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterRoutes registers schedule routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/schedules", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Get("/{id}", h.Get)
		r.Patch("/{id}", h.Update)
		r.Delete("/{id}", h.Delete)
		r.Post("/{id}/recommendation", h.ApplyRecommendation)
	})
}

// CreateScheduleRequest represents request body for creating a schedule.
type CreateScheduleRequest struct {
	Name           string   `json:"name" validate:"required,min=1,max=255"`
	TriggerMode    string   `json:"trigger_mode" validate:"required,oneof=cron batch_times immediate"`
	CronExpr       string   `json:"cron_expr"`
	BatchTimes     []string `json:"batch_times"`
	Timezone       string   `json:"timezone"`
	SourceRef      string   `json:"source_ref" validate:"required"`
	DestinationIDs []string `json:"destination_ids" validate:"required,min=1"`
	TemplateRef    string   `json:"template_ref" validate:"required"`
	Active         *bool    `json:"active"`
}

// ToDomain converts the request to a domain model.
func (r *CreateScheduleRequest) ToDomain() *domain.Schedule {
	active := true
	if r.Active != nil {
		active = *r.Active
	}
	tz := r.Timezone
	if tz == "" {
		tz = "UTC"
	}
	return &domain.Schedule{
		Name:           r.Name,
		TriggerMode:    domain.TriggerMode(r.TriggerMode),
		CronExpr:       r.CronExpr,
		BatchTimes:     r.BatchTimes,
		Timezone:       tz,
		SourceRef:      r.SourceRef,
		DestinationIDs: r.DestinationIDs,
		TemplateRef:    r.TemplateRef,
		Active:         active,
	}
}

// UpdateScheduleRequest represents request body for a partial update.
type UpdateScheduleRequest struct {
	Name           *string   `json:"name" validate:"omitempty,min=1,max=255"`
	TriggerMode    *string   `json:"trigger_mode" validate:"omitempty,oneof=cron batch_times immediate"`
	CronExpr       *string   `json:"cron_expr"`
	BatchTimes     *[]string `json:"batch_times"`
	Timezone       *string   `json:"timezone"`
	SourceRef      *string   `json:"source_ref"`
	DestinationIDs *[]string `json:"destination_ids" validate:"omitempty,min=1"`
	TemplateRef    *string   `json:"template_ref"`
	Active         *bool     `json:"active"`
}

// List handles GET /schedules.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var filter Filter
	if s := q.Get("active"); s != "" {
		active, err := strconv.ParseBool(s)
		if err != nil {
			httputil.Error(w, http.StatusBadRequest, "invalid active filter")
			return
		}
		filter.Active = &active
	}
	if s := q.Get("trigger_mode"); s != "" {
		mode := domain.TriggerMode(s)
		if !mode.IsValid() {
			httputil.Error(w, http.StatusBadRequest, "invalid trigger_mode filter")
			return
		}
		filter.TriggerMode = mode
	}
	filter.Limit = parseIntParam(q.Get("limit"), DefaultListLimit, MaxListLimit)
	filter.Offset = parseIntParam(q.Get("offset"), 0, 1<<30)

	scheds, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, map[string]any{
		"items": scheds,
		"total": total,
	})
}

// Create handles POST /schedules.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	sched, err := h.service.Create(r.Context(), req.ToDomain())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusCreated, sched)
}

// Get handles GET /schedules/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	sched, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, sched)
}

// Update handles PATCH /schedules/{id}.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var req UpdateScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	in := UpdateInput{
		Name:           req.Name,
		CronExpr:       req.CronExpr,
		BatchTimes:     req.BatchTimes,
		Timezone:       req.Timezone,
		SourceRef:      req.SourceRef,
		DestinationIDs: req.DestinationIDs,
		TemplateRef:    req.TemplateRef,
		Active:         req.Active,
	}
	if req.TriggerMode != nil {
		mode := domain.TriggerMode(*req.TriggerMode)
		in.TriggerMode = &mode
	}

	sched, err := h.service.Update(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, sched)
}

// Delete handles DELETE /schedules/{id}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ApplyRecommendation handles POST /schedules/{id}/recommendation.
func (h *Handler) ApplyRecommendation(w http.ResponseWriter, r *http.Request) {
	sched, err := h.service.ApplyRecommendation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, sched)
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
