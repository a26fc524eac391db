package store

import (
	"context"

	"creditledger/internal/models"
)

type AdjustmentStore struct {
	db DB
}

func NewAdjustmentStore(db DB) *AdjustmentStore {
	return &AdjustmentStore{db: db}
}

const adjustmentColumns = `uuid, ledger_uuid, transaction_uuid, transaction_of_interest_uuid,
	adjustment_quantity, reason, notes, created_at, updated_at`

type AdjustmentInput struct {
	UUID                      string
	LedgerUUID                string
	TransactionUUID           string
	TransactionOfInterestUUID *string
	AdjustmentQuantity        int64
	Reason                    models.AdjustmentReason
	Notes                     string
}

// Create inserts the side record for an adjustment's backing transaction.
// It is not idempotent: a reused adjustment or transaction identifier
// surfaces the unique violation to the caller.
func (s *AdjustmentStore) Create(ctx context.Context, tx Execer, input AdjustmentInput) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO adjustments (uuid, ledger_uuid, transaction_uuid, transaction_of_interest_uuid,
			adjustment_quantity, reason, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, input.UUID, input.LedgerUUID, input.TransactionUUID, input.TransactionOfInterestUUID,
		input.AdjustmentQuantity, input.Reason, input.Notes)
	return err
}

func (s *AdjustmentStore) GetByUUID(ctx context.Context, adjustmentUUID string) (models.Adjustment, error) {
	var row models.Adjustment
	err := s.db.GetContext(ctx, &row, `
		SELECT `+adjustmentColumns+`
		FROM adjustments
		WHERE uuid = $1
	`, adjustmentUUID)
	if err != nil {
		return models.Adjustment{}, err
	}
	return row, nil
}

// ExistsForTransaction reports whether the transaction backs an adjustment,
// which makes it ineligible for reversal.
func (s *AdjustmentStore) ExistsForTransaction(ctx context.Context, transactionUUID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `
		SELECT EXISTS (SELECT 1 FROM adjustments WHERE transaction_uuid = $1)
	`, transactionUUID)
	return exists, err
}

func (s *AdjustmentStore) ListByLedger(ctx context.Context, ledgerUUID string, limit, offset int) ([]models.Adjustment, error) {
	var rows []models.Adjustment
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+adjustmentColumns+`
		FROM adjustments
		WHERE ledger_uuid = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, ledgerUUID, limit, offset)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
