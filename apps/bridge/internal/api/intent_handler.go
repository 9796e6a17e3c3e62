package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"bridge/apps/bridge/internal/assets"
	"bridge/apps/bridge/internal/chain"
	"bridge/apps/bridge/internal/events"
	"bridge/apps/bridge/internal/model"
)

// IntentStore is the intent persistence surface the handler needs.
type IntentStore interface {
	CreateIntent(intent model.ExchangeIntent) error
	GetByID(exchangeID string) (*model.ExchangeIntent, error)
	Retry(exchangeID string, newExpiry time.Time) (bool, error)
	OverrideStatus(exchangeID, status string) (bool, error)
}

// EventRecorder stages lifecycle events in the outbox.
type EventRecorder interface {
	Record(aggregateID, eventType string, payload interface{}) error
}

// IntentHandler exposes the exchange intent transitions over HTTP
type IntentHandler struct {
	intents   IntentStore
	registry  *assets.Registry
	chains    *chain.Registry
	eventsOut EventRecorder
	intentTTL time.Duration
	logger    *zap.Logger
}

func NewIntentHandler(intents IntentStore, registry *assets.Registry, chains *chain.Registry, eventsOut EventRecorder, intentTTL time.Duration, logger *zap.Logger) *IntentHandler {
	return &IntentHandler{
		intents:   intents,
		registry:  registry,
		chains:    chains,
		eventsOut: eventsOut,
		intentTTL: intentTTL,
		logger:    logger,
	}
}

// CreateIntent handles POST /api/intents
func (h *IntentHandler) CreateIntent(w http.ResponseWriter, r *http.Request) {
	var req CreateIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "invalid_request_body", "Invalid JSON in request body")
		return
	}

	fromSymbol := strings.ToUpper(req.FromCurrency)
	toSymbol := strings.ToUpper(req.ToCurrency)

	fromCurrency, ok := h.registry.GetBySymbol(fromSymbol)
	if !ok {
		h.writeErrorResponse(w, http.StatusBadRequest, "unsupported_currency", "From currency not supported")
		return
	}
	toCurrency, ok := h.registry.GetBySymbol(toSymbol)
	if !ok {
		h.writeErrorResponse(w, http.StatusBadRequest, "unsupported_currency", "To currency not supported")
		return
	}

	if req.FromAmount < fromCurrency.MinAmount {
		h.writeErrorResponse(w, http.StatusBadRequest, "amount_below_minimum", "Amount below minimum for currency")
		return
	}

	var recipient *string
	if req.RecipientAddress != "" {
		adapter, err := h.chains.Get(toCurrency.Chain)
		if err != nil {
			h.writeErrorResponse(w, http.StatusBadRequest, "unsupported_chain", "No adapter for recipient chain")
			return
		}
		if !adapter.ValidateAddress(req.RecipientAddress) {
			h.writeErrorResponse(w, http.StatusBadRequest, "invalid_recipient_address", "Recipient address is not valid for the target chain")
			return
		}
		recipient = &req.RecipientAddress
	}

	depositAdapter, err := h.chains.Get(fromCurrency.Chain)
	if err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "unsupported_chain", "No adapter for deposit chain")
		return
	}

	depositAddr, err := depositAdapter.GenerateDepositAddress(r.Context())
	if err != nil {
		h.logger.Error("Failed to generate deposit address", zap.Error(err))
		h.writeErrorResponse(w, http.StatusInternalServerError, "address_generation_error", "Failed to generate deposit address")
		return
	}

	var userID *string
	if req.UserID != "" {
		userID = &req.UserID
	}

	now := time.Now()
	intent := model.ExchangeIntent{
		ExchangeID:       uuid.New().String(),
		UserID:           userID,
		FromCurrency:     fromSymbol,
		FromAmount:       req.FromAmount,
		ToCurrency:       toSymbol,
		DepositAddress:   depositAddr.Address,
		DepositCurrency:  fromSymbol,
		RecipientAddress: recipient,
		Status:           model.IntentStatusPending,
		MonitoringActive: true,
		CreatedAt:        now,
		ExpiresAt:        now.Add(h.intentTTL),
	}

	if err := h.intents.CreateIntent(intent); err != nil {
		h.logger.Error("Failed to create intent", zap.Error(err))
		h.writeErrorResponse(w, http.StatusInternalServerError, "database_error", "Failed to create intent")
		return
	}

	if err := h.eventsOut.Record(intent.ExchangeID, events.IntentCreated, intent); err != nil {
		h.logger.Error("Failed to record intent created event", zap.Error(err))
	}

	h.writeJSONResponse(w, http.StatusCreated, intentResponse(&intent))
}

// GetIntent handles GET /api/intents/{exchange_id}
func (h *IntentHandler) GetIntent(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	exchangeID := vars["exchange_id"]

	intent, err := h.intents.GetByID(exchangeID)
	if err != nil {
		h.logger.Error("Failed to get intent", zap.String("exchange_id", exchangeID), zap.Error(err))
		h.writeErrorResponse(w, http.StatusInternalServerError, "database_error", "Failed to retrieve intent")
		return
	}
	if intent == nil {
		h.writeErrorResponse(w, http.StatusNotFound, "intent_not_found", "Intent not found")
		return
	}

	h.writeJSONResponse(w, http.StatusOK, intentResponse(intent))
}

// RetryIntent handles POST /api/intents/{exchange_id}/retry
func (h *IntentHandler) RetryIntent(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	exchangeID := vars["exchange_id"]

	ok, err := h.intents.Retry(exchangeID, time.Now().Add(h.intentTTL))
	if err != nil {
		h.logger.Error("Failed to retry intent", zap.String("exchange_id", exchangeID), zap.Error(err))
		h.writeErrorResponse(w, http.StatusInternalServerError, "database_error", "Failed to retry intent")
		return
	}
	if !ok {
		h.writeErrorResponse(w, http.StatusConflict, "invalid_transition", "Only failed or expired intents can be retried")
		return
	}

	if err := h.eventsOut.Record(exchangeID, events.IntentRetried, nil); err != nil {
		h.logger.Error("Failed to record retry event", zap.Error(err))
	}

	intent, err := h.intents.GetByID(exchangeID)
	if err != nil || intent == nil {
		h.writeErrorResponse(w, http.StatusInternalServerError, "database_error", "Failed to reload intent")
		return
	}

	h.writeJSONResponse(w, http.StatusOK, intentResponse(intent))
}

// OverrideStatus handles PUT /api/intents/{exchange_id}/status, the manual
// operator override used to resolve in_review intents.
func (h *IntentHandler) OverrideStatus(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	exchangeID := vars["exchange_id"]

	var req StatusOverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "invalid_request_body", "Invalid JSON in request body")
		return
	}

	switch req.Status {
	case model.IntentStatusPending, model.IntentStatusProcessing, model.IntentStatusCompleted,
		model.IntentStatusFailed, model.IntentStatusInReview, model.IntentStatusExpired:
	default:
		h.writeErrorResponse(w, http.StatusBadRequest, "invalid_status", "Unknown status value")
		return
	}

	ok, err := h.intents.OverrideStatus(exchangeID, req.Status)
	if err != nil {
		h.logger.Error("Failed to override status", zap.String("exchange_id", exchangeID), zap.Error(err))
		h.writeErrorResponse(w, http.StatusInternalServerError, "database_error", "Failed to override status")
		return
	}
	if !ok {
		h.writeErrorResponse(w, http.StatusConflict, "invalid_transition", "Completed intents are immutable")
		return
	}

	intent, err := h.intents.GetByID(exchangeID)
	if err != nil || intent == nil {
		h.writeErrorResponse(w, http.StatusInternalServerError, "database_error", "Failed to reload intent")
		return
	}

	h.writeJSONResponse(w, http.StatusOK, intentResponse(intent))
}

// writeJSONResponse writes a JSON response with the specified status code
func (h *IntentHandler) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", zap.Error(err))
	}
}

// writeErrorResponse writes an error response
func (h *IntentHandler) writeErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) {
	h.writeJSONResponse(w, statusCode, ErrorResponse{
		Error:   errorCode,
		Message: message,
	})
}
