package store

import (
	"context"

	"creditledger/internal/models"
)

type LedgerStore struct {
	db DB
}

func NewLedgerStore(db DB) *LedgerStore {
	return &LedgerStore{db: db}
}

const ledgerColumns = `uuid, idempotency_key, unit, metadata, created_at, updated_at`

type LedgerInput struct {
	UUID           string
	IdempotencyKey string
	Unit           models.Unit
	Metadata       string
}

// GetOrCreate inserts the ledger unless one with the same idempotency key
// already exists, then returns the persisted row. The bool reports whether
// this call created it. Safe to race: the unique key is the arbiter.
func (s *LedgerStore) GetOrCreate(ctx context.Context, tx Tx, input LedgerInput) (models.Ledger, bool, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO ledgers (uuid, idempotency_key, unit, metadata)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (idempotency_key) DO NOTHING
	`, input.UUID, input.IdempotencyKey, input.Unit, input.Metadata)
	if err != nil {
		return models.Ledger{}, false, err
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return models.Ledger{}, false, err
	}
	var row models.Ledger
	err = tx.GetContext(ctx, &row, `
		SELECT `+ledgerColumns+`
		FROM ledgers
		WHERE idempotency_key = $1
	`, input.IdempotencyKey)
	if err != nil {
		return models.Ledger{}, false, err
	}
	return row, inserted == 1, nil
}

func (s *LedgerStore) GetByUUID(ctx context.Context, ledgerUUID string) (models.Ledger, error) {
	var row models.Ledger
	err := s.db.GetContext(ctx, &row, `
		SELECT `+ledgerColumns+`
		FROM ledgers
		WHERE uuid = $1
	`, ledgerUUID)
	if err != nil {
		return models.Ledger{}, err
	}
	return row, nil
}

func (s *LedgerStore) List(ctx context.Context, limit, offset int) ([]models.Ledger, error) {
	var rows []models.Ledger
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+ledgerColumns+`
		FROM ledgers
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
