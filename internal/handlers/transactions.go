package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"creditledger/internal/lock"
	"creditledger/internal/models"
	"creditledger/internal/services"
	"creditledger/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type createTransactionRequest struct {
	Quantity                *int64         `json:"quantity"`
	IdempotencyKey          string         `json:"idempotency_key"`
	State                   string         `json:"state"`
	LmsUserID               *int64         `json:"lms_user_id"`
	LmsUserEmail            *string        `json:"lms_user_email"`
	ContentKey              *string        `json:"content_key"`
	ParentContentKey        *string        `json:"parent_content_key"`
	ContentTitle            *string        `json:"content_title"`
	CourseRunStartDate      *time.Time     `json:"course_run_start_date"`
	SubsidyAccessPolicyUUID *string        `json:"subsidy_access_policy_uuid"`
	FulfillmentIdentifier   *string        `json:"fulfillment_identifier"`
	ReferenceID             *string        `json:"reference_id"`
	ReferenceType           *string        `json:"reference_type"`
	Metadata                map[string]any `json:"metadata"`
}

func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	ledgerUUID := chi.URLParam(r, "uuid")
	var req createTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if req.Quantity == nil {
		respondError(w, http.StatusBadRequest, "quantity is required")
		return
	}
	var refType *models.ReferenceType
	if req.ReferenceType != nil {
		rt := models.ReferenceType(*req.ReferenceType)
		refType = &rt
	}
	transaction, created, err := h.service.CreateTransaction(r.Context(), services.CreateTransactionRequest{
		LedgerUUID:              ledgerUUID,
		Quantity:                *req.Quantity,
		IdempotencyKey:          req.IdempotencyKey,
		State:                   models.TransactionState(req.State),
		LmsUserID:               req.LmsUserID,
		LmsUserEmail:            req.LmsUserEmail,
		ContentKey:              req.ContentKey,
		ParentContentKey:        req.ParentContentKey,
		ContentTitle:            req.ContentTitle,
		CourseRunStartDate:      req.CourseRunStartDate,
		SubsidyAccessPolicyUUID: req.SubsidyAccessPolicyUUID,
		FulfillmentIdentifier:   req.FulfillmentIdentifier,
		ReferenceID:             req.ReferenceID,
		ReferenceType:           refType,
		Metadata:                req.Metadata,
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrLedgerNotFound):
			respondError(w, http.StatusNotFound, "ledger not found")
		case errors.Is(err, services.ErrInvalidTransactionState):
			respondError(w, http.StatusBadRequest, "invalid transaction state")
		case errors.Is(err, services.ErrLedgerBalanceExceeded):
			respondError(w, http.StatusUnprocessableEntity, "insufficient balance")
		case errors.Is(err, lock.ErrLockAttemptFailed):
			respondError(w, http.StatusConflict, "ledger is busy, retry")
		case store.IsUniqueViolation(err):
			respondError(w, http.StatusConflict, "duplicate transaction")
		default:
			respondError(w, http.StatusInternalServerError, "transaction failed")
		}
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	respondJSON(w, status, transaction)
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	ledgerUUID := chi.URLParam(r, "uuid")
	query := r.URL.Query()
	limit, offset := pageParams(query)
	state := models.TransactionState(query.Get("state"))
	transactions, err := h.service.ListTransactions(r.Context(), ledgerUUID, state, limit, offset)
	if err != nil {
		if errors.Is(err, services.ErrInvalidTransactionState) {
			respondError(w, http.StatusBadRequest, "invalid transaction state")
			return
		}
		respondError(w, http.StatusInternalServerError, "unable to load transactions")
		return
	}
	respondJSON(w, http.StatusOK, transactions)
}

func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	transactionUUID := chi.URLParam(r, "uuid")
	transaction, err := h.service.GetTransaction(r.Context(), transactionUUID)
	if err != nil {
		if errors.Is(err, services.ErrTransactionNotFound) {
			respondError(w, http.StatusNotFound, "transaction not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "unable to load transaction")
		return
	}
	respondJSON(w, http.StatusOK, transaction)
}

type updateTransactionStateRequest struct {
	State string `json:"state"`
}

func (h *Handler) UpdateTransactionState(w http.ResponseWriter, r *http.Request) {
	transactionUUID := chi.URLParam(r, "uuid")
	var req updateTransactionStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	transaction, err := h.service.UpdateTransactionState(r.Context(), transactionUUID, models.TransactionState(req.State))
	if err != nil {
		switch {
		case errors.Is(err, services.ErrTransactionNotFound):
			respondError(w, http.StatusNotFound, "transaction not found")
		case errors.Is(err, services.ErrInvalidTransactionState):
			respondError(w, http.StatusBadRequest, "invalid transaction state")
		case errors.Is(err, services.ErrInvalidStateTransition):
			respondError(w, http.StatusBadRequest, "invalid state transition")
		default:
			respondError(w, http.StatusInternalServerError, "unable to update transaction")
		}
		return
	}
	respondJSON(w, http.StatusOK, transaction)
}

type reverseTransactionRequest struct {
	IdempotencyKey string         `json:"idempotency_key"`
	Metadata       map[string]any `json:"metadata"`
}

func (h *Handler) ReverseTransaction(w http.ResponseWriter, r *http.Request) {
	transactionUUID := chi.URLParam(r, "uuid")
	var req reverseTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	reversal, err := h.service.ReverseFullTransaction(r.Context(), services.ReverseTransactionRequest{
		TransactionUUID: transactionUUID,
		IdempotencyKey:  req.IdempotencyKey,
		Metadata:        req.Metadata,
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrTransactionNotFound):
			respondError(w, http.StatusNotFound, "transaction not found")
		case errors.Is(err, services.ErrNonCommittedTransaction):
			respondError(w, http.StatusBadRequest, "only committed transactions can be reversed")
		case errors.Is(err, services.ErrCannotReverseAdjustment):
			respondError(w, http.StatusBadRequest, "adjustment transactions cannot be reversed")
		case errors.Is(err, services.ErrTransactionAlreadyReversed):
			respondError(w, http.StatusConflict, "a reversal already exists for this transaction")
		case errors.Is(err, lock.ErrLockAttemptFailed):
			respondError(w, http.StatusConflict, "ledger is busy, retry")
		default:
			respondError(w, http.StatusInternalServerError, "reversal failed")
		}
		return
	}
	respondJSON(w, http.StatusCreated, reversal)
}

func (h *Handler) GetReversal(w http.ResponseWriter, r *http.Request) {
	transactionUUID := chi.URLParam(r, "uuid")
	reversal, err := h.service.GetReversalForTransaction(r.Context(), transactionUUID)
	if err != nil {
		if errors.Is(err, services.ErrReversalNotFound) {
			respondError(w, http.StatusNotFound, "reversal not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "unable to load reversal")
		return
	}
	respondJSON(w, http.StatusOK, reversal)
}

type attachReferenceRequest struct {
	ProviderSlug        string `json:"provider_slug"`
	ExternalReferenceID string `json:"external_reference_id"`
}

func (h *Handler) AttachExternalReference(w http.ResponseWriter, r *http.Request) {
	transactionUUID := chi.URLParam(r, "uuid")
	var req attachReferenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if req.ProviderSlug == "" || req.ExternalReferenceID == "" {
		respondError(w, http.StatusBadRequest, "provider_slug and external_reference_id are required")
		return
	}
	provider, err := h.providers.GetFulfillmentProviderBySlug(r.Context(), req.ProviderSlug)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			respondError(w, http.StatusNotFound, "unknown fulfillment provider")
			return
		}
		respondError(w, http.StatusInternalServerError, "unable to load provider")
		return
	}
	if _, err := h.service.GetTransaction(r.Context(), transactionUUID); err != nil {
		if errors.Is(err, services.ErrTransactionNotFound) {
			respondError(w, http.StatusNotFound, "transaction not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "unable to load transaction")
		return
	}
	referenceUUID := uuid.NewString()
	err = h.txRunner.WithTx(r.Context(), func(tx *sqlx.Tx) error {
		return h.providers.CreateExternalReference(r.Context(), tx, store.ExternalReferenceInput{
			UUID:                            referenceUUID,
			TransactionUUID:                 transactionUUID,
			ExternalFulfillmentProviderUUID: provider.UUID,
			ExternalReferenceID:             req.ExternalReferenceID,
		})
	})
	if err != nil {
		if store.IsUniqueViolation(err) {
			respondError(w, http.StatusConflict, "reference already attached")
			return
		}
		respondError(w, http.StatusInternalServerError, "unable to attach reference")
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{
		"uuid":                               referenceUUID,
		"transaction_uuid":                   transactionUUID,
		"external_fulfillment_provider_uuid": provider.UUID,
		"external_reference_id":              req.ExternalReferenceID,
	})
}

func (h *Handler) ListExternalReferences(w http.ResponseWriter, r *http.Request) {
	transactionUUID := chi.URLParam(r, "uuid")
	references, err := h.providers.ListExternalReferencesByTransaction(r.Context(), transactionUUID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load references")
		return
	}
	respondJSON(w, http.StatusOK, references)
}
