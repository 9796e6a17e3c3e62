package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"bridge/apps/bridge/internal/escrow"
	"bridge/apps/bridge/internal/model"
)

const defaultOfferTTL = 24 * time.Hour

// OfferLister is the read side of the offer repository used by the API.
type OfferLister interface {
	GetByID(offerID string) (*model.EscrowOffer, error)
	ListPublic(now time.Time) ([]model.EscrowOffer, error)
}

// OfferHandler exposes the escrow offer protocol over HTTP. Every route
// maps to exactly one coordinator transition.
type OfferHandler struct {
	coordinator *escrow.Coordinator
	offers      OfferLister
	logger      *zap.Logger
}

func NewOfferHandler(coordinator *escrow.Coordinator, offers OfferLister, logger *zap.Logger) *OfferHandler {
	return &OfferHandler{
		coordinator: coordinator,
		offers:      offers,
		logger:      logger,
	}
}

// CreateOffer handles POST /api/offers
func (h *OfferHandler) CreateOffer(w http.ResponseWriter, r *http.Request) {
	var req CreateOfferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "invalid_request_body", "Invalid JSON in request body")
		return
	}

	ttl := defaultOfferTTL
	if req.TTLMinutes > 0 {
		ttl = time.Duration(req.TTLMinutes) * time.Minute
	}

	offer, err := h.coordinator.CreateOffer(r.Context(), escrow.CreateParams{
		SellerAddress: req.SellerAddress,
		Amount:        req.Amount,
		Currency:      strings.ToUpper(req.Currency),
		IsPublic:      req.IsPublic,
		Description:   req.Description,
		Terms:         req.Terms,
		ExpiresAt:     time.Now().Add(ttl),
	})
	if err != nil {
		h.writeCoordinatorError(w, err)
		return
	}

	h.writeJSONResponse(w, http.StatusCreated, offerResponse(offer))
}

// GetOffer handles GET /api/offers/{offer_id}
func (h *OfferHandler) GetOffer(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	offerID := vars["offer_id"]

	offer, err := h.offers.GetByID(offerID)
	if err != nil {
		h.logger.Error("Failed to get offer", zap.String("offer_id", offerID), zap.Error(err))
		h.writeErrorResponse(w, http.StatusInternalServerError, "database_error", "Failed to retrieve offer")
		return
	}
	if offer == nil {
		h.writeErrorResponse(w, http.StatusNotFound, "offer_not_found", "Offer not found")
		return
	}

	h.writeJSONResponse(w, http.StatusOK, offerResponse(offer))
}

// ListOffers handles GET /api/offers, returning open public offers.
func (h *OfferHandler) ListOffers(w http.ResponseWriter, r *http.Request) {
	offers, err := h.offers.ListPublic(time.Now())
	if err != nil {
		h.logger.Error("Failed to list public offers", zap.Error(err))
		h.writeErrorResponse(w, http.StatusInternalServerError, "database_error", "Failed to list offers")
		return
	}

	responses := make([]OfferResponse, 0, len(offers))
	for i := range offers {
		responses = append(responses, offerResponse(&offers[i]))
	}

	h.writeJSONResponse(w, http.StatusOK, responses)
}

// LockSeller handles POST /api/offers/{offer_id}/lock
func (h *OfferHandler) LockSeller(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	offerID := vars["offer_id"]

	var req LockSellerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "invalid_request_body", "Invalid JSON in request body")
		return
	}

	offer, err := h.coordinator.LockSeller(r.Context(), offerID, req.SigningKey)
	if err != nil {
		h.writeCoordinatorError(w, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, offerResponse(offer))
}

// AcceptOffer handles POST /api/offers/{offer_id}/accept
func (h *OfferHandler) AcceptOffer(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	offerID := vars["offer_id"]

	var req AcceptOfferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "invalid_request_body", "Invalid JSON in request body")
		return
	}

	offer, err := h.coordinator.AcceptOffer(r.Context(), offerID, escrow.AcceptParams{
		Address:    req.Address,
		Amount:     req.Amount,
		Currency:   strings.ToUpper(req.Currency),
		SigningKey: req.SigningKey,
	})
	if err != nil {
		h.writeCoordinatorError(w, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, offerResponse(offer))
}

// ReleaseOffer handles POST /api/offers/{offer_id}/release
func (h *OfferHandler) ReleaseOffer(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	offerID := vars["offer_id"]

	offer, err := h.coordinator.Release(r.Context(), offerID)
	if err != nil {
		h.writeCoordinatorError(w, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, offerResponse(offer))
}

// CancelOffer handles POST /api/offers/{offer_id}/cancel
func (h *OfferHandler) CancelOffer(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	offerID := vars["offer_id"]

	var req CancelOfferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "invalid_request_body", "Invalid JSON in request body")
		return
	}

	offer, err := h.coordinator.Cancel(r.Context(), offerID, req.Reason)
	if err != nil {
		h.writeCoordinatorError(w, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, offerResponse(offer))
}

// writeCoordinatorError maps coordinator sentinel errors to HTTP codes.
func (h *OfferHandler) writeCoordinatorError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, escrow.ErrOfferNotFound):
		h.writeErrorResponse(w, http.StatusNotFound, "offer_not_found", "Offer not found")
	case errors.Is(err, escrow.ErrInvalidTransition):
		h.writeErrorResponse(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, escrow.ErrOfferExpired):
		h.writeErrorResponse(w, http.StatusConflict, "offer_expired", "Offer has expired")
	case errors.Is(err, escrow.ErrReasonRequired):
		h.writeErrorResponse(w, http.StatusBadRequest, "reason_required", "A cancellation reason is required")
	case errors.Is(err, escrow.ErrUnsupportedCurrency):
		h.writeErrorResponse(w, http.StatusBadRequest, "unsupported_currency", err.Error())
	default:
		h.logger.Error("Offer operation failed", zap.Error(err))
		h.writeErrorResponse(w, http.StatusInternalServerError, "escrow_error", err.Error())
	}
}

// writeJSONResponse writes a JSON response with the specified status code
func (h *OfferHandler) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", zap.Error(err))
	}
}

// writeErrorResponse writes an error response
func (h *OfferHandler) writeErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) {
	h.writeJSONResponse(w, statusCode, ErrorResponse{
		Error:   errorCode,
		Message: message,
	})
}
