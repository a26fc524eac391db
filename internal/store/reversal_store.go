package store

import (
	"context"
	"database/sql"
	"errors"

	"creditledger/internal/models"
)

// ErrAlreadyReversed marks an attempt to reverse a transaction that already
// carries a reversal under a different idempotency key.
var ErrAlreadyReversed = errors.New("transaction already reversed")

type ReversalStore struct {
	db DB
}

func NewReversalStore(db DB) *ReversalStore {
	return &ReversalStore{db: db}
}

const reversalColumns = `uuid, transaction_uuid, idempotency_key, quantity, state, metadata, created_at, updated_at`

type ReversalInput struct {
	UUID            string
	TransactionUUID string
	IdempotencyKey  string
	Quantity        int64
	State           models.TransactionState
	Metadata        string
}

// GetOrCreate inserts the reversal unless the transaction already has one.
// The arbiter is the one-to-one transaction index: a replay under the same
// key returns the existing row, a different key returns ErrAlreadyReversed.
func (s *ReversalStore) GetOrCreate(ctx context.Context, tx Tx, input ReversalInput) (models.Reversal, bool, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO reversals (uuid, transaction_uuid, idempotency_key, quantity, state, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (transaction_uuid) DO NOTHING
	`, input.UUID, input.TransactionUUID, input.IdempotencyKey, input.Quantity, input.State, input.Metadata)
	if err != nil {
		return models.Reversal{}, false, err
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return models.Reversal{}, false, err
	}
	var row models.Reversal
	err = tx.GetContext(ctx, &row, `
		SELECT `+reversalColumns+`
		FROM reversals
		WHERE transaction_uuid = $1 AND idempotency_key = $2
	`, input.TransactionUUID, input.IdempotencyKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) && inserted == 0 {
			return models.Reversal{}, false, ErrAlreadyReversed
		}
		return models.Reversal{}, false, err
	}
	return row, inserted == 1, nil
}

func (s *ReversalStore) GetByTransaction(ctx context.Context, transactionUUID string) (models.Reversal, error) {
	var row models.Reversal
	err := s.db.GetContext(ctx, &row, `
		SELECT `+reversalColumns+`
		FROM reversals
		WHERE transaction_uuid = $1
	`, transactionUUID)
	if err != nil {
		return models.Reversal{}, err
	}
	return row, nil
}
