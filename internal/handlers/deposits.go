package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"creditledger/internal/lock"
	"creditledger/internal/services"
	"creditledger/internal/store"

	"github.com/go-chi/chi/v5"
)

type createDepositRequest struct {
	Quantity                           *int64         `json:"quantity"`
	SalesContractReferenceID           *string        `json:"sales_contract_reference_id"`
	SalesContractReferenceProviderUUID *string        `json:"sales_contract_reference_provider_uuid"`
	DepositUUID                        string         `json:"deposit_uuid"`
	IdempotencyKey                     string         `json:"idempotency_key"`
	Metadata                           map[string]any `json:"metadata"`
}

func (h *Handler) CreateDeposit(w http.ResponseWriter, r *http.Request) {
	ledgerUUID := chi.URLParam(r, "uuid")
	var req createDepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if req.Quantity == nil {
		respondError(w, http.StatusBadRequest, "quantity is required")
		return
	}
	deposit, err := h.service.CreateDeposit(r.Context(), services.CreateDepositRequest{
		LedgerUUID:                         ledgerUUID,
		Quantity:                           *req.Quantity,
		SalesContractReferenceID:           req.SalesContractReferenceID,
		SalesContractReferenceProviderUUID: req.SalesContractReferenceProviderUUID,
		DepositUUID:                        req.DepositUUID,
		IdempotencyKey:                     req.IdempotencyKey,
		Metadata:                           req.Metadata,
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrLedgerNotFound):
			respondError(w, http.StatusNotFound, "ledger not found")
		case errors.Is(err, services.ErrDepositNotPositive):
			respondError(w, http.StatusBadRequest, "deposit quantity must be positive")
		case errors.Is(err, lock.ErrLockAttemptFailed):
			respondError(w, http.StatusConflict, "ledger is busy, retry")
		case store.IsUniqueViolation(err):
			respondError(w, http.StatusConflict, "duplicate deposit")
		default:
			respondError(w, http.StatusInternalServerError, "deposit failed")
		}
		return
	}
	respondJSON(w, http.StatusCreated, deposit)
}

func (h *Handler) ListDeposits(w http.ResponseWriter, r *http.Request) {
	ledgerUUID := chi.URLParam(r, "uuid")
	limit, offset := pageParams(r.URL.Query())
	deposits, err := h.service.ListDeposits(r.Context(), ledgerUUID, limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load deposits")
		return
	}
	respondJSON(w, http.StatusOK, deposits)
}

func (h *Handler) GetDeposit(w http.ResponseWriter, r *http.Request) {
	depositUUID := chi.URLParam(r, "uuid")
	deposit, err := h.service.GetDeposit(r.Context(), depositUUID)
	if err != nil {
		if errors.Is(err, services.ErrDepositNotFound) {
			respondError(w, http.StatusNotFound, "deposit not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "unable to load deposit")
		return
	}
	respondJSON(w, http.StatusOK, deposit)
}
