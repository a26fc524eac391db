package store

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"

	"creditledger/internal/idempotency"
	"creditledger/internal/models"
)

type TransactionStore struct {
	db DB
}

func NewTransactionStore(db DB) *TransactionStore {
	return &TransactionStore{db: db}
}

const transactionColumns = `uuid, ledger_uuid, idempotency_key, quantity, state,
	lms_user_id, lms_user_email, content_key, parent_content_key, content_title,
	course_run_start_date, subsidy_access_policy_uuid, fulfillment_identifier,
	reference_id, reference_type, metadata, created_at, updated_at`

type TransactionInput struct {
	UUID                    string
	LedgerUUID              string
	IdempotencyKey          string
	Quantity                int64
	State                   models.TransactionState
	LmsUserID               *int64
	LmsUserEmail            *string
	ContentKey              *string
	ParentContentKey        *string
	ContentTitle            *string
	CourseRunStartDate      *time.Time
	SubsidyAccessPolicyUUID *string
	FulfillmentIdentifier   *string
	ReferenceID             *string
	ReferenceType           *models.ReferenceType
	Metadata                string
}

type TransactionFilter struct {
	UUIDs                   []string
	LmsUserID               *int64
	ContentKey              *string
	SubsidyAccessPolicyUUID *string
}

// GetOrCreate inserts the transaction unless the ledger already holds one
// with the same idempotency key, then returns the persisted row unchanged.
// The bool reports whether this call created it.
func (s *TransactionStore) GetOrCreate(ctx context.Context, tx Tx, input TransactionInput) (models.Transaction, bool, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO transactions (uuid, ledger_uuid, idempotency_key, quantity, state,
			lms_user_id, lms_user_email, content_key, parent_content_key, content_title,
			course_run_start_date, subsidy_access_policy_uuid, fulfillment_identifier,
			reference_id, reference_type, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (ledger_uuid, idempotency_key) DO NOTHING
	`,
		input.UUID, input.LedgerUUID, input.IdempotencyKey, input.Quantity, input.State,
		input.LmsUserID, input.LmsUserEmail, input.ContentKey, input.ParentContentKey, input.ContentTitle,
		input.CourseRunStartDate, input.SubsidyAccessPolicyUUID, input.FulfillmentIdentifier,
		input.ReferenceID, input.ReferenceType, input.Metadata,
	)
	if err != nil {
		return models.Transaction{}, false, err
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return models.Transaction{}, false, err
	}
	var row models.Transaction
	err = tx.GetContext(ctx, &row, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE ledger_uuid = $1 AND idempotency_key = $2
	`, input.LedgerUUID, input.IdempotencyKey)
	if err != nil {
		return models.Transaction{}, false, err
	}
	return row, inserted == 1, nil
}

func (s *TransactionStore) GetByUUID(ctx context.Context, transactionUUID string) (models.Transaction, error) {
	var row models.Transaction
	err := s.db.GetContext(ctx, &row, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE uuid = $1
	`, transactionUUID)
	if err != nil {
		return models.Transaction{}, err
	}
	return row, nil
}

// GetForUpdate re-reads the transaction inside a write transaction, locking
// the row so its state cannot move under the caller.
func (s *TransactionStore) GetForUpdate(ctx context.Context, tx Getter, transactionUUID string) (models.Transaction, error) {
	var row models.Transaction
	err := tx.GetContext(ctx, &row, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE uuid = $1
		FOR UPDATE
	`, transactionUUID)
	if err != nil {
		return models.Transaction{}, err
	}
	return row, nil
}

func (s *TransactionStore) UpdateState(ctx context.Context, tx Execer, transactionUUID string, state models.TransactionState) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE transactions
		SET state = $1, updated_at = NOW()
		WHERE uuid = $2
	`, state, transactionUUID)
	return err
}

// Balance sums the ledger's transaction quantities plus their reversal
// quantities. Failed transactions never count; committedOnly narrows the sum
// to committed ones.
func (s *TransactionStore) Balance(ctx context.Context, ledgerUUID string, committedOnly bool) (int64, error) {
	return s.balance(ctx, s.db, ledgerUUID, committedOnly)
}

// BalanceInTx computes the same sum through the caller's open transaction,
// for the pre-write balance check.
func (s *TransactionStore) BalanceInTx(ctx context.Context, tx Getter, ledgerUUID string) (int64, error) {
	return s.balance(ctx, tx, ledgerUUID, false)
}

func (s *TransactionStore) balance(ctx context.Context, q Getter, ledgerUUID string, committedOnly bool) (int64, error) {
	stateClause := "t.state <> $2"
	stateArg := models.TransactionStateFailed
	if committedOnly {
		stateClause = "t.state = $2"
		stateArg = models.TransactionStateCommitted
	}
	var sum int64
	err := q.GetContext(ctx, &sum, `
		SELECT COALESCE(SUM(t.quantity), 0) + COALESCE(SUM(r.quantity), 0)
		FROM transactions t
		LEFT JOIN reversals r ON r.transaction_uuid = t.uuid
		WHERE t.ledger_uuid = $1 AND `+stateClause, ledgerUUID, stateArg)
	return sum, err
}

// SubsetBalance aggregates like Balance over the subset the filter describes.
// Every clause is ANDed onto the ledger scope, so rows outside the ledger can
// never leak in regardless of what the caller passes.
func (s *TransactionStore) SubsetBalance(ctx context.Context, ledgerUUID string, filter TransactionFilter) (int64, error) {
	query := `
		SELECT COALESCE(SUM(t.quantity), 0) + COALESCE(SUM(r.quantity), 0)
		FROM transactions t
		LEFT JOIN reversals r ON r.transaction_uuid = t.uuid
		WHERE t.ledger_uuid = $1 AND t.state <> $2`
	args := []any{ledgerUUID, models.TransactionStateFailed}
	param := 3
	if len(filter.UUIDs) > 0 {
		query += " AND t.uuid = ANY($" + itoa(param) + ")"
		args = append(args, pq.Array(filter.UUIDs))
		param++
	}
	if filter.LmsUserID != nil {
		query += " AND t.lms_user_id = $" + itoa(param)
		args = append(args, *filter.LmsUserID)
		param++
	}
	if filter.ContentKey != nil {
		query += " AND t.content_key = $" + itoa(param)
		args = append(args, *filter.ContentKey)
		param++
	}
	if filter.SubsidyAccessPolicyUUID != nil {
		query += " AND t.subsidy_access_policy_uuid = $" + itoa(param)
		args = append(args, *filter.SubsidyAccessPolicyUUID)
		param++
	}
	var sum int64
	err := s.db.GetContext(ctx, &sum, query, args...)
	return sum, err
}

// TotalDeposits sums the funding side only: transactions backed by a Deposit
// or an Adjustment row.
func (s *TransactionStore) TotalDeposits(ctx context.Context, ledgerUUID string) (int64, error) {
	var sum int64
	err := s.db.GetContext(ctx, &sum, `
		SELECT COALESCE(SUM(t.quantity), 0)
		FROM transactions t
		WHERE t.ledger_uuid = $1
		  AND t.state <> $2
		  AND (EXISTS (SELECT 1 FROM deposits d WHERE d.transaction_uuid = t.uuid)
		       OR EXISTS (SELECT 1 FROM adjustments a WHERE a.transaction_uuid = t.uuid))
	`, ledgerUUID, models.TransactionStateFailed)
	return sum, err
}

func (s *TransactionStore) ListByLedger(ctx context.Context, ledgerUUID string, state models.TransactionState, limit, offset int) ([]models.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE ledger_uuid = $1`
	args := []any{ledgerUUID}
	param := 2
	if state != "" {
		query += " AND state = $" + itoa(param)
		args = append(args, state)
		param++
	}
	query += " ORDER BY created_at DESC LIMIT $" + itoa(param) + " OFFSET $" + itoa(param+1)
	args = append(args, limit, offset)
	var rows []models.Transaction
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

// FindLegacyInitialDeposits returns initial-funding transactions that predate
// the deposits table and still lack a Deposit row.
func (s *TransactionStore) FindLegacyInitialDeposits(ctx context.Context, limit int) ([]models.Transaction, error) {
	var rows []models.Transaction
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE idempotency_key LIKE $1
		  AND ledger_uuid IS NOT NULL
		  AND NOT EXISTS (SELECT 1 FROM deposits d WHERE d.transaction_uuid = transactions.uuid)
		ORDER BY created_at
		LIMIT $2
	`, "%-"+idempotency.InitialDepositSlug, limit)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func itoa(value int) string {
	return fmt.Sprintf("%d", value)
}
