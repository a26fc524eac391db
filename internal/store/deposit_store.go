package store

import (
	"context"

	"creditledger/internal/models"
)

type DepositStore struct {
	db DB
}

func NewDepositStore(db DB) *DepositStore {
	return &DepositStore{db: db}
}

const depositColumns = `uuid, ledger_uuid, transaction_uuid, desired_deposit_quantity,
	sales_contract_reference_id, sales_contract_reference_provider_uuid, created_at, updated_at`

type DepositInput struct {
	UUID                               string
	LedgerUUID                         string
	TransactionUUID                    string
	DesiredDepositQuantity             int64
	SalesContractReferenceID           *string
	SalesContractReferenceProviderUUID *string
}

// Create inserts the side record for a funding transaction. Not idempotent:
// a reused deposit or transaction identifier surfaces the unique violation.
func (s *DepositStore) Create(ctx context.Context, tx Execer, input DepositInput) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO deposits (uuid, ledger_uuid, transaction_uuid, desired_deposit_quantity,
			sales_contract_reference_id, sales_contract_reference_provider_uuid)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, input.UUID, input.LedgerUUID, input.TransactionUUID, input.DesiredDepositQuantity,
		input.SalesContractReferenceID, input.SalesContractReferenceProviderUUID)
	return err
}

func (s *DepositStore) GetByUUID(ctx context.Context, depositUUID string) (models.Deposit, error) {
	var row models.Deposit
	err := s.db.GetContext(ctx, &row, `
		SELECT `+depositColumns+`
		FROM deposits
		WHERE uuid = $1
	`, depositUUID)
	if err != nil {
		return models.Deposit{}, err
	}
	return row, nil
}

func (s *DepositStore) ListByLedger(ctx context.Context, ledgerUUID string, limit, offset int) ([]models.Deposit, error) {
	var rows []models.Deposit
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+depositColumns+`
		FROM deposits
		WHERE ledger_uuid = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, ledgerUUID, limit, offset)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
