package store

import (
	"context"

	"creditledger/internal/models"
)

// OperatorStore persists the humans allowed to drive the write surface:
// reversals, adjustments, deposits.
type OperatorStore struct {
	db DB
}

func NewOperatorStore(db DB) *OperatorStore {
	return &OperatorStore{db: db}
}

func (s *OperatorStore) Create(ctx context.Context, tx Execer, uuid, username, email, passwordHash string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO operators (uuid, username, email, password_hash)
		VALUES ($1, $2, $3, $4)
	`, uuid, username, email, passwordHash)
	return err
}

func (s *OperatorStore) GetByEmail(ctx context.Context, email string) (models.Operator, error) {
	var row models.Operator
	err := s.db.GetContext(ctx, &row, `
		SELECT uuid, username, email, password_hash, created_at
		FROM operators
		WHERE email = $1
	`, email)
	if err != nil {
		return models.Operator{}, err
	}
	return row, nil
}

func (s *OperatorStore) GetByUUID(ctx context.Context, operatorUUID string) (models.Operator, error) {
	var row models.Operator
	err := s.db.GetContext(ctx, &row, `
		SELECT uuid, username, email, password_hash, created_at
		FROM operators
		WHERE uuid = $1
	`, operatorUUID)
	if err != nil {
		return models.Operator{}, err
	}
	return row, nil
}
