package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"creditledger/internal/auth"
	"creditledger/internal/models"
	"creditledger/internal/money"
	"creditledger/internal/services"
	"creditledger/internal/store"
	"creditledger/internal/websocket"

	"github.com/go-chi/chi/v5"
)

type createLedgerRequest struct {
	Unit                               string         `json:"unit"`
	IdempotencyKey                     string         `json:"idempotency_key"`
	SubsidyUUID                        string         `json:"subsidy_uuid"`
	InitialDeposit                     *int64         `json:"initial_deposit"`
	SalesContractReferenceID           *string        `json:"sales_contract_reference_id"`
	SalesContractReferenceProviderUUID *string        `json:"sales_contract_reference_provider_uuid"`
	Metadata                           map[string]any `json:"metadata"`
}

func (h *Handler) CreateLedger(w http.ResponseWriter, r *http.Request) {
	var req createLedgerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if req.Unit == "" {
		req.Unit = h.cfg.DefaultUnit
	}
	ledger, err := h.service.CreateLedger(r.Context(), services.CreateLedgerRequest{
		Unit:                               models.Unit(req.Unit),
		IdempotencyKey:                     req.IdempotencyKey,
		SubsidyUUID:                        req.SubsidyUUID,
		InitialDeposit:                     req.InitialDeposit,
		SalesContractReferenceID:           req.SalesContractReferenceID,
		SalesContractReferenceProviderUUID: req.SalesContractReferenceProviderUUID,
		Metadata:                           req.Metadata,
	})
	if err != nil {
		if errors.Is(err, services.ErrInvalidUnit) {
			respondError(w, http.StatusBadRequest, "invalid_unit")
			return
		}
		if errors.Is(err, services.ErrDepositNotPositive) {
			respondError(w, http.StatusBadRequest, "deposit_not_positive")
			return
		}
		if errors.Is(err, services.ErrMissingSalesContract) {
			respondError(w, http.StatusBadRequest, "sales_contract_required")
			return
		}
		if store.IsUniqueViolation(err) {
			respondError(w, http.StatusConflict, "duplicate_request")
			return
		}
		respondError(w, http.StatusInternalServerError, "ledger_creation_failed")
		return
	}
	respondJSON(w, http.StatusCreated, ledger)
}

func (h *Handler) ListLedgers(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r.URL.Query())
	ledgers, err := h.service.ListLedgers(r.Context(), limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load ledgers")
		return
	}
	respondJSON(w, http.StatusOK, ledgers)
}

func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	ledgerUUID := chi.URLParam(r, "uuid")
	ledger, err := h.service.GetLedger(r.Context(), ledgerUUID)
	if err != nil {
		if errors.Is(err, services.ErrLedgerNotFound) {
			respondError(w, http.StatusNotFound, "ledger not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "unable to load ledger")
		return
	}
	balance, err := h.service.Balance(r.Context(), ledgerUUID, false)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to compute balance")
		return
	}
	committed, err := h.service.Balance(r.Context(), ledgerUUID, true)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to compute balance")
		return
	}
	deposits, err := h.service.TotalDeposits(r.Context(), ledgerUUID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to compute deposits")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"ledger":            ledger,
		"balance":           balance,
		"committed_balance": committed,
		"total_deposits":    deposits,
		"display":           money.FormatQuantity(ledger.Unit, balance),
	})
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	ledgerUUID := chi.URLParam(r, "uuid")
	ledger, err := h.service.GetLedger(r.Context(), ledgerUUID)
	if err != nil {
		if errors.Is(err, services.ErrLedgerNotFound) {
			respondError(w, http.StatusNotFound, "ledger not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "unable to load ledger")
		return
	}
	query := r.URL.Query()
	filter := store.TransactionFilter{}
	filtered := false
	if raw := query.Get("lms_user_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid lms_user_id")
			return
		}
		filter.LmsUserID = &id
		filtered = true
	}
	if raw := query.Get("content_key"); raw != "" {
		contentKey := raw
		filter.ContentKey = &contentKey
		filtered = true
	}
	if raw := query.Get("subsidy_access_policy_uuid"); raw != "" {
		policyUUID := raw
		filter.SubsidyAccessPolicyUUID = &policyUUID
		filtered = true
	}
	if uuids := query["uuid"]; len(uuids) > 0 {
		filter.UUIDs = uuids
		filtered = true
	}
	var balance int64
	if filtered {
		balance, err = h.service.SubsetBalance(r.Context(), ledgerUUID, filter)
	} else {
		balance, err = h.service.Balance(r.Context(), ledgerUUID, query.Get("committed_only") == "true")
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to compute balance")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"ledger_uuid": ledgerUUID,
		"balance":     balance,
		"display":     money.FormatQuantity(ledger.Unit, balance),
		"unit":        ledger.Unit,
	})
}

func (h *Handler) GetTotalDeposits(w http.ResponseWriter, r *http.Request) {
	ledgerUUID := chi.URLParam(r, "uuid")
	ledger, err := h.service.GetLedger(r.Context(), ledgerUUID)
	if err != nil {
		if errors.Is(err, services.ErrLedgerNotFound) {
			respondError(w, http.StatusNotFound, "ledger not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "unable to load ledger")
		return
	}
	deposits, err := h.service.TotalDeposits(r.Context(), ledgerUUID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to compute deposits")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"ledger_uuid":    ledgerUUID,
		"total_deposits": deposits,
		"display":        money.FormatQuantity(ledger.Unit, deposits),
		"unit":           ledger.Unit,
	})
}

func (h *Handler) WSBalances(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		authHeader := r.Header.Get("Authorization")
		if strings.HasPrefix(authHeader, "Bearer ") {
			token = strings.TrimPrefix(authHeader, "Bearer ")
		}
	}
	if token == "" {
		respondError(w, http.StatusUnauthorized, "missing token")
		return
	}
	if _, err := auth.ParseToken(h.cfg.JWTSecret, token); err != nil {
		respondError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	ledgerUUID := r.URL.Query().Get("ledger_uuid")
	if ledgerUUID == "" {
		respondError(w, http.StatusBadRequest, "ledger_uuid is required")
		return
	}
	websocket.ServeWS(w, r, h.hub, ledgerUUID)
}
