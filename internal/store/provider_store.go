package store

import (
	"context"

	"creditledger/internal/models"
)

// ProviderStore persists the lookup entities transactions and deposits point
// at: external fulfillment providers, sales contract reference providers, and
// the external reference rows linking transactions to fulfillment systems.
type ProviderStore struct {
	db DB
}

func NewProviderStore(db DB) *ProviderStore {
	return &ProviderStore{db: db}
}

func (s *ProviderStore) CreateFulfillmentProvider(ctx context.Context, tx Execer, uuid, name, slug string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO external_fulfillment_providers (uuid, name, slug)
		VALUES ($1, $2, $3)
	`, uuid, name, slug)
	return err
}

func (s *ProviderStore) GetFulfillmentProviderBySlug(ctx context.Context, slug string) (models.ExternalFulfillmentProvider, error) {
	var row models.ExternalFulfillmentProvider
	err := s.db.GetContext(ctx, &row, `
		SELECT uuid, name, slug, created_at, updated_at
		FROM external_fulfillment_providers
		WHERE slug = $1
	`, slug)
	if err != nil {
		return models.ExternalFulfillmentProvider{}, err
	}
	return row, nil
}

func (s *ProviderStore) ListFulfillmentProviders(ctx context.Context) ([]models.ExternalFulfillmentProvider, error) {
	var rows []models.ExternalFulfillmentProvider
	err := s.db.SelectContext(ctx, &rows, `
		SELECT uuid, name, slug, created_at, updated_at
		FROM external_fulfillment_providers
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *ProviderStore) CreateSalesContractProvider(ctx context.Context, tx Execer, uuid, name, slug string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO sales_contract_reference_providers (uuid, name, slug)
		VALUES ($1, $2, $3)
	`, uuid, name, slug)
	return err
}

func (s *ProviderStore) GetSalesContractProviderBySlug(ctx context.Context, slug string) (models.SalesContractReferenceProvider, error) {
	var row models.SalesContractReferenceProvider
	err := s.db.GetContext(ctx, &row, `
		SELECT uuid, name, slug, created_at, updated_at
		FROM sales_contract_reference_providers
		WHERE slug = $1
	`, slug)
	if err != nil {
		return models.SalesContractReferenceProvider{}, err
	}
	return row, nil
}

func (s *ProviderStore) ListSalesContractProviders(ctx context.Context) ([]models.SalesContractReferenceProvider, error) {
	var rows []models.SalesContractReferenceProvider
	err := s.db.SelectContext(ctx, &rows, `
		SELECT uuid, name, slug, created_at, updated_at
		FROM sales_contract_reference_providers
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

type ExternalReferenceInput struct {
	UUID                            string
	TransactionUUID                 string
	ExternalFulfillmentProviderUUID string
	ExternalReferenceID             string
}

func (s *ProviderStore) CreateExternalReference(ctx context.Context, tx Execer, input ExternalReferenceInput) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO external_transaction_references (uuid, transaction_uuid, external_fulfillment_provider_uuid, external_reference_id)
		VALUES ($1, $2, $3, $4)
	`, input.UUID, input.TransactionUUID, input.ExternalFulfillmentProviderUUID, input.ExternalReferenceID)
	return err
}

func (s *ProviderStore) ListExternalReferencesByTransaction(ctx context.Context, transactionUUID string) ([]models.ExternalTransactionReference, error) {
	var rows []models.ExternalTransactionReference
	err := s.db.SelectContext(ctx, &rows, `
		SELECT uuid, transaction_uuid, external_fulfillment_provider_uuid, external_reference_id, created_at, updated_at
		FROM external_transaction_references
		WHERE transaction_uuid = $1
		ORDER BY created_at
	`, transactionUUID)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
