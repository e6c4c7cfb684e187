package transport

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/relaybird/relaybird/internal/pkg/httputil"
)

// ReceiptSink accepts receipt callbacks from the gateway.
type ReceiptSink interface {
	PushReceipt(r Receipt)
}

// Handler receives receipt callbacks from the messaging gateway.
type Handler struct {
	sink      ReceiptSink
	validator *validator.Validate
}

// NewHandler creates a new transport callback handler.
func NewHandler(sink ReceiptSink) *Handler {
	return &Handler{
		sink:      sink,
		validator: validator.New(),
	}
}

// RegisterRoutes registers transport callback routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/receipts", h.Receipt)
}

// ReceiptRequest is the gateway's receipt callback payload. Reply receipts
// carry a destination id instead of a message id.
type ReceiptRequest struct {
	TransportMessageID string     `json:"transport_message_id"`
	DestinationID      string     `json:"destination_id"`
	Kind               string     `json:"kind" validate:"required,oneof=delivered read reply"`
	At                 *time.Time `json:"at"`
}

// Receipt handles POST /receipts.
func (h *Handler) Receipt(w http.ResponseWriter, r *http.Request) {
	var req ReceiptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	kind := ReceiptKind(req.Kind)
	if kind == ReceiptReply {
		if req.DestinationID == "" {
			httputil.Error(w, http.StatusBadRequest, "reply receipts require destination_id")
			return
		}
	} else if req.TransportMessageID == "" {
		httputil.Error(w, http.StatusBadRequest, "receipts require transport_message_id")
		return
	}

	receipt := Receipt{
		TransportMessageID: req.TransportMessageID,
		DestinationID:      req.DestinationID,
		Kind:               kind,
	}
	if req.At != nil {
		receipt.At = *req.At
	}
	h.sink.PushReceipt(receipt)

	httputil.Success(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}
