package handlers

import (
	"encoding/json"
	"net/http"

	"creditledger/internal/store"
	"creditledger/internal/validator"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type createProviderRequest struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

func (h *Handler) CreateFulfillmentProvider(w http.ResponseWriter, r *http.Request) {
	var req createProviderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	if err := validator.ValidateSlug(req.Slug); err != nil {
		respondError(w, http.StatusBadRequest, "invalid slug")
		return
	}
	providerUUID := uuid.NewString()
	err := h.txRunner.WithTx(r.Context(), func(tx *sqlx.Tx) error {
		return h.providers.CreateFulfillmentProvider(r.Context(), tx, providerUUID, req.Name, req.Slug)
	})
	if err != nil {
		if store.IsUniqueViolation(err) {
			respondError(w, http.StatusConflict, "slug already in use")
			return
		}
		respondError(w, http.StatusInternalServerError, "unable to create provider")
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{
		"uuid": providerUUID,
		"name": req.Name,
		"slug": req.Slug,
	})
}

func (h *Handler) ListFulfillmentProviders(w http.ResponseWriter, r *http.Request) {
	providers, err := h.providers.ListFulfillmentProviders(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load providers")
		return
	}
	respondJSON(w, http.StatusOK, providers)
}

func (h *Handler) CreateSalesContractProvider(w http.ResponseWriter, r *http.Request) {
	var req createProviderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	if err := validator.ValidateSlug(req.Slug); err != nil {
		respondError(w, http.StatusBadRequest, "invalid slug")
		return
	}
	providerUUID := uuid.NewString()
	err := h.txRunner.WithTx(r.Context(), func(tx *sqlx.Tx) error {
		return h.providers.CreateSalesContractProvider(r.Context(), tx, providerUUID, req.Name, req.Slug)
	})
	if err != nil {
		if store.IsUniqueViolation(err) {
			respondError(w, http.StatusConflict, "slug already in use")
			return
		}
		respondError(w, http.StatusInternalServerError, "unable to create provider")
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{
		"uuid": providerUUID,
		"name": req.Name,
		"slug": req.Slug,
	})
}

func (h *Handler) ListSalesContractProviders(w http.ResponseWriter, r *http.Request) {
	providers, err := h.providers.ListSalesContractProviders(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load providers")
		return
	}
	respondJSON(w, http.StatusOK, providers)
}
