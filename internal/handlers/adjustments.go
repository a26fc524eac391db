package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"creditledger/internal/lock"
	"creditledger/internal/models"
	"creditledger/internal/services"
	"creditledger/internal/store"

	"github.com/go-chi/chi/v5"
)

type createAdjustmentRequest struct {
	Quantity                  *int64         `json:"quantity"`
	Reason                    string         `json:"reason"`
	Notes                     string         `json:"notes"`
	IdempotencyKey            string         `json:"idempotency_key"`
	AdjustmentUUID            string         `json:"adjustment_uuid"`
	TransactionOfInterestUUID *string        `json:"transaction_of_interest_uuid"`
	Metadata                  map[string]any `json:"metadata"`
}

func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	ledgerUUID := chi.URLParam(r, "uuid")
	var req createAdjustmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if req.Quantity == nil {
		respondError(w, http.StatusBadRequest, "quantity is required")
		return
	}
	adjustment, err := h.service.CreateAdjustment(r.Context(), services.CreateAdjustmentRequest{
		LedgerUUID:                ledgerUUID,
		Quantity:                  *req.Quantity,
		Reason:                    models.AdjustmentReason(req.Reason),
		Notes:                     req.Notes,
		IdempotencyKey:            req.IdempotencyKey,
		AdjustmentUUID:            req.AdjustmentUUID,
		TransactionOfInterestUUID: req.TransactionOfInterestUUID,
		Metadata:                  req.Metadata,
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrLedgerNotFound):
			respondError(w, http.StatusNotFound, "ledger not found")
		case errors.Is(err, services.ErrInvalidAdjustmentReason):
			respondError(w, http.StatusBadRequest, "invalid adjustment reason")
		case errors.Is(err, services.ErrLedgerBalanceExceeded):
			respondError(w, http.StatusUnprocessableEntity, "insufficient balance")
		case errors.Is(err, lock.ErrLockAttemptFailed):
			respondError(w, http.StatusConflict, "ledger is busy, retry")
		case store.IsUniqueViolation(err):
			respondError(w, http.StatusConflict, "duplicate adjustment")
		default:
			respondError(w, http.StatusInternalServerError, "adjustment failed")
		}
		return
	}
	respondJSON(w, http.StatusCreated, adjustment)
}

func (h *Handler) ListAdjustments(w http.ResponseWriter, r *http.Request) {
	ledgerUUID := chi.URLParam(r, "uuid")
	limit, offset := pageParams(r.URL.Query())
	adjustments, err := h.service.ListAdjustments(r.Context(), ledgerUUID, limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load adjustments")
		return
	}
	respondJSON(w, http.StatusOK, adjustments)
}

func (h *Handler) GetAdjustment(w http.ResponseWriter, r *http.Request) {
	adjustmentUUID := chi.URLParam(r, "uuid")
	adjustment, err := h.service.GetAdjustment(r.Context(), adjustmentUUID)
	if err != nil {
		if errors.Is(err, services.ErrAdjustmentNotFound) {
			respondError(w, http.StatusNotFound, "adjustment not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "unable to load adjustment")
		return
	}
	respondJSON(w, http.StatusOK, adjustment)
}
