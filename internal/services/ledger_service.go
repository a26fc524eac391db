package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"creditledger/internal/db"
	"creditledger/internal/events"
	"creditledger/internal/idempotency"
	"creditledger/internal/lock"
	"creditledger/internal/models"
	"creditledger/internal/money"
	"creditledger/internal/store"
	"creditledger/internal/websocket"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

var (
	ErrLedgerNotFound          = errors.New("ledger not found")
	ErrTransactionNotFound     = errors.New("transaction not found")
	ErrReversalNotFound        = errors.New("reversal not found")
	ErrAdjustmentNotFound      = errors.New("adjustment not found")
	ErrDepositNotFound         = errors.New("deposit not found")
	ErrInvalidUnit             = errors.New("invalid ledger unit")
	ErrInvalidTransactionState = errors.New("invalid transaction state")
	ErrInvalidStateTransition  = errors.New("invalid transaction state transition")
	ErrInvalidAdjustmentReason = errors.New("invalid adjustment reason")
	ErrLedgerBalanceExceeded   = errors.New("transaction would exceed the ledger balance")
	ErrNonCommittedTransaction = errors.New("transaction is not in a committed state")
	ErrCannotReverseAdjustment = errors.New("cannot reverse a transaction that backs an adjustment")
	ErrDepositNotPositive      = errors.New("deposit quantity must be positive")
	ErrMissingSalesContract    = errors.New("initial deposit requires a sales contract reference")

	ErrTransactionAlreadyReversed = store.ErrAlreadyReversed
)

// LedgerCreationError wraps any failure inside the compound ledger-plus-initial-
// deposit create sequence. The whole sequence rolls back, so the wrapped cause
// never left partial state behind.
type LedgerCreationError struct {
	Err error
}

func (e *LedgerCreationError) Error() string {
	return "create ledger: " + e.Err.Error()
}

func (e *LedgerCreationError) Unwrap() error { return e.Err }

// AdjustmentCreationError wraps any failure inside the transaction-plus-
// adjustment create sequence.
type AdjustmentCreationError struct {
	Err error
}

func (e *AdjustmentCreationError) Error() string {
	return "create adjustment: " + e.Err.Error()
}

func (e *AdjustmentCreationError) Unwrap() error { return e.Err }

// DepositCreationError wraps any failure inside the transaction-plus-deposit
// create sequence.
type DepositCreationError struct {
	Err error
}

func (e *DepositCreationError) Error() string {
	return "create deposit: " + e.Err.Error()
}

func (e *DepositCreationError) Unwrap() error { return e.Err }

type LedgerService struct {
	txRunner     db.TxRunner
	locks        lock.Manager
	ledgers      LedgerStore
	transactions TransactionStore
	reversals    ReversalStore
	adjustments  AdjustmentStore
	deposits     DepositStore
	notifier     ReversalNotifier
	hub          BalanceHub
}

type LedgerStore interface {
	GetOrCreate(ctx context.Context, tx store.Tx, input store.LedgerInput) (models.Ledger, bool, error)
	GetByUUID(ctx context.Context, ledgerUUID string) (models.Ledger, error)
	List(ctx context.Context, limit, offset int) ([]models.Ledger, error)
}

type TransactionStore interface {
	GetOrCreate(ctx context.Context, tx store.Tx, input store.TransactionInput) (models.Transaction, bool, error)
	GetByUUID(ctx context.Context, transactionUUID string) (models.Transaction, error)
	GetForUpdate(ctx context.Context, tx store.Getter, transactionUUID string) (models.Transaction, error)
	UpdateState(ctx context.Context, tx store.Execer, transactionUUID string, state models.TransactionState) error
	Balance(ctx context.Context, ledgerUUID string, committedOnly bool) (int64, error)
	BalanceInTx(ctx context.Context, tx store.Getter, ledgerUUID string) (int64, error)
	SubsetBalance(ctx context.Context, ledgerUUID string, filter store.TransactionFilter) (int64, error)
	TotalDeposits(ctx context.Context, ledgerUUID string) (int64, error)
	ListByLedger(ctx context.Context, ledgerUUID string, state models.TransactionState, limit, offset int) ([]models.Transaction, error)
}

type ReversalStore interface {
	GetOrCreate(ctx context.Context, tx store.Tx, input store.ReversalInput) (models.Reversal, bool, error)
	GetByTransaction(ctx context.Context, transactionUUID string) (models.Reversal, error)
}

type AdjustmentStore interface {
	Create(ctx context.Context, tx store.Execer, input store.AdjustmentInput) error
	GetByUUID(ctx context.Context, adjustmentUUID string) (models.Adjustment, error)
	ExistsForTransaction(ctx context.Context, transactionUUID string) (bool, error)
	ListByLedger(ctx context.Context, ledgerUUID string, limit, offset int) ([]models.Adjustment, error)
}

type DepositStore interface {
	Create(ctx context.Context, tx store.Execer, input store.DepositInput) error
	GetByUUID(ctx context.Context, depositUUID string) (models.Deposit, error)
	ListByLedger(ctx context.Context, ledgerUUID string, limit, offset int) ([]models.Deposit, error)
}

type ReversalNotifier interface {
	Publish(ctx context.Context, event events.TransactionReversed)
}

type BalanceHub interface {
	BroadcastBalance(ledgerUUID string, update websocket.BalanceUpdate)
}

func NewLedgerService(txRunner db.TxRunner, locks lock.Manager, ledgers LedgerStore, transactions TransactionStore, reversals ReversalStore, adjustments AdjustmentStore, deposits DepositStore, notifier ReversalNotifier, hub BalanceHub) *LedgerService {
	return &LedgerService{
		txRunner:     txRunner,
		locks:        locks,
		ledgers:      ledgers,
		transactions: transactions,
		reversals:    reversals,
		adjustments:  adjustments,
		deposits:     deposits,
		notifier:     notifier,
		hub:          hub,
	}
}

type CreateLedgerRequest struct {
	Unit                               models.Unit
	IdempotencyKey                     string
	SubsidyUUID                        string
	InitialDeposit                     *int64
	SalesContractReferenceID           *string
	SalesContractReferenceProviderUUID *string
	Metadata                           map[string]any
}

// CreateLedger gets-or-creates a ledger by idempotency key. When an initial
// deposit is requested it funds the ledger with one committed deposit-backed
// transaction under a deterministic key, so calling this twice never
// double-funds.
func (s *LedgerService) CreateLedger(ctx context.Context, req CreateLedgerRequest) (models.Ledger, error) {
	unit := req.Unit
	if unit == "" {
		unit = models.UnitUSDCents
	}
	if !unit.Valid() {
		return models.Ledger{}, ErrInvalidUnit
	}
	if req.InitialDeposit != nil {
		if *req.InitialDeposit <= 0 {
			return models.Ledger{}, &LedgerCreationError{Err: ErrDepositNotPositive}
		}
		if req.SalesContractReferenceID == nil || req.SalesContractReferenceProviderUUID == nil {
			return models.Ledger{}, &LedgerCreationError{Err: ErrMissingSalesContract}
		}
	}
	key := req.IdempotencyKey
	if key == "" {
		key = idempotency.KeyForLedger(req.SubsidyUUID)
	}
	var ledger models.Ledger
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		row, _, err := s.ledgers.GetOrCreate(ctx, tx, store.LedgerInput{
			UUID:           uuid.NewString(),
			IdempotencyKey: key,
			Unit:           unit,
			Metadata:       marshalMetadata(req.Metadata),
		})
		if err != nil {
			return err
		}
		ledger = row
		if req.InitialDeposit == nil {
			return nil
		}
		funding, created, err := s.transactions.GetOrCreate(ctx, tx, store.TransactionInput{
			UUID:           uuid.NewString(),
			LedgerUUID:     row.UUID,
			IdempotencyKey: idempotency.KeyForInitialDeposit(row.IdempotencyKey, *req.InitialDeposit),
			Quantity:       *req.InitialDeposit,
			State:          models.TransactionStateCommitted,
			Metadata:       "{}",
		})
		if err != nil {
			return err
		}
		if !created {
			return nil
		}
		return s.deposits.Create(ctx, tx, store.DepositInput{
			UUID:                               uuid.NewString(),
			LedgerUUID:                         row.UUID,
			TransactionUUID:                    funding.UUID,
			DesiredDepositQuantity:             *req.InitialDeposit,
			SalesContractReferenceID:           req.SalesContractReferenceID,
			SalesContractReferenceProviderUUID: req.SalesContractReferenceProviderUUID,
		})
	})
	if err != nil {
		return models.Ledger{}, &LedgerCreationError{Err: err}
	}
	return ledger, nil
}

type CreateTransactionRequest struct {
	LedgerUUID              string
	Quantity                int64
	IdempotencyKey          string
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
	Metadata                map[string]any
}

// CreateTransaction writes one transaction under the ledger's lock and a
// serializable database transaction. A negative quantity that would drive the
// balance below zero fails with ErrLedgerBalanceExceeded before anything is
// written. A replayed idempotency key returns the existing row unchanged.
func (s *LedgerService) CreateTransaction(ctx context.Context, req CreateTransactionRequest) (models.Transaction, bool, error) {
	ledger, err := s.GetLedger(ctx, req.LedgerUUID)
	if err != nil {
		return models.Transaction{}, false, err
	}
	state := req.State
	if state == "" {
		state = models.TransactionStateCreated
	}
	if !state.Valid() {
		return models.Transaction{}, false, ErrInvalidTransactionState
	}
	key := req.IdempotencyKey
	if key == "" {
		key = idempotency.KeyForTransaction(ledger.IdempotencyKey, req.Quantity, keyFieldsFor(req))
	}
	var (
		transaction  models.Transaction
		created      bool
		balanceAfter int64
	)
	err = lock.WithLock(ctx, s.locks, ledger.UUID, func(ctx context.Context) error {
		return s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
			balance, err := s.transactions.BalanceInTx(ctx, tx, ledger.UUID)
			if err != nil {
				return err
			}
			if req.Quantity < 0 && balance+req.Quantity < 0 {
				return ErrLedgerBalanceExceeded
			}
			transaction, created, err = s.transactions.GetOrCreate(ctx, tx, store.TransactionInput{
				UUID:                    uuid.NewString(),
				LedgerUUID:              ledger.UUID,
				IdempotencyKey:          key,
				Quantity:                req.Quantity,
				State:                   state,
				LmsUserID:               req.LmsUserID,
				LmsUserEmail:            req.LmsUserEmail,
				ContentKey:              req.ContentKey,
				ParentContentKey:        req.ParentContentKey,
				ContentTitle:            req.ContentTitle,
				CourseRunStartDate:      req.CourseRunStartDate,
				SubsidyAccessPolicyUUID: req.SubsidyAccessPolicyUUID,
				FulfillmentIdentifier:   req.FulfillmentIdentifier,
				ReferenceID:             req.ReferenceID,
				ReferenceType:           req.ReferenceType,
				Metadata:                marshalMetadata(req.Metadata),
			})
			if err != nil {
				return err
			}
			balanceAfter = balance
			if created && transaction.State != models.TransactionStateFailed {
				balanceAfter += transaction.Quantity
			}
			return nil
		})
	})
	if err != nil {
		return models.Transaction{}, false, err
	}
	s.broadcastBalance(ledger, balanceAfter)
	return transaction, created, nil
}

// UpdateTransactionState moves a transaction along the lifecycle. Setting the
// state it already has is a no-op; committed and failed never move again.
func (s *LedgerService) UpdateTransactionState(ctx context.Context, transactionUUID string, next models.TransactionState) (models.Transaction, error) {
	if !next.Valid() {
		return models.Transaction{}, ErrInvalidTransactionState
	}
	var updated models.Transaction
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		row, err := s.transactions.GetForUpdate(ctx, tx, transactionUUID)
		if err != nil {
			return notFound(err, ErrTransactionNotFound)
		}
		if row.State == next {
			updated = row
			return nil
		}
		if !row.State.CanTransitionTo(next) {
			return fmt.Errorf("%w: %s to %s", ErrInvalidStateTransition, row.State, next)
		}
		if err := s.transactions.UpdateState(ctx, tx, transactionUUID, next); err != nil {
			return err
		}
		row.State = next
		updated = row
		return nil
	})
	if err != nil {
		return models.Transaction{}, err
	}
	return updated, nil
}

type ReverseTransactionRequest struct {
	TransactionUUID string
	IdempotencyKey  string
	Metadata        map[string]any
}

// ReverseFullTransaction compensates a committed transaction with exactly one
// reversal of the negated quantity. Replaying the same key returns the
// existing reversal; a different key against an already-reversed transaction
// fails with ErrTransactionAlreadyReversed. The reversed event fires only on
// fresh creation, after commit.
func (s *LedgerService) ReverseFullTransaction(ctx context.Context, req ReverseTransactionRequest) (models.Reversal, error) {
	target, err := s.GetTransaction(ctx, req.TransactionUUID)
	if err != nil {
		return models.Reversal{}, err
	}
	if target.LedgerUUID == nil {
		return models.Reversal{}, ErrLedgerNotFound
	}
	backsAdjustment, err := s.adjustments.ExistsForTransaction(ctx, req.TransactionUUID)
	if err != nil {
		return models.Reversal{}, err
	}
	if backsAdjustment {
		return models.Reversal{}, ErrCannotReverseAdjustment
	}
	ledger, err := s.GetLedger(ctx, *target.LedgerUUID)
	if err != nil {
		return models.Reversal{}, err
	}
	key := req.IdempotencyKey
	if key == "" {
		key = "admin-invoked-reverse-" + req.TransactionUUID
	}
	var (
		reversal models.Reversal
		created  bool
	)
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		current, err := s.transactions.GetForUpdate(ctx, tx, req.TransactionUUID)
		if err != nil {
			return notFound(err, ErrTransactionNotFound)
		}
		if current.State != models.TransactionStateCommitted {
			return ErrNonCommittedTransaction
		}
		target = current
		reversal, created, err = s.reversals.GetOrCreate(ctx, tx, store.ReversalInput{
			UUID:            uuid.NewString(),
			TransactionUUID: req.TransactionUUID,
			IdempotencyKey:  key,
			Quantity:        -current.Quantity,
			State:           models.TransactionStateCommitted,
			Metadata:        marshalMetadata(req.Metadata),
		})
		return err
	})
	if err != nil {
		return models.Reversal{}, err
	}
	if created {
		s.notifier.Publish(ctx, events.TransactionReversed{
			LedgerUUID:  ledger.UUID,
			Transaction: target,
			Reversal:    reversal,
		})
		balance, err := s.transactions.Balance(ctx, ledger.UUID, false)
		if err != nil {
			log.Printf("balance read after reversal %s failed: %v", reversal.UUID, err)
		} else {
			s.broadcastBalance(ledger, balance)
		}
	}
	return reversal, nil
}

type CreateAdjustmentRequest struct {
	LedgerUUID                string
	Quantity                  int64
	Reason                    models.AdjustmentReason
	Notes                     string
	IdempotencyKey            string
	AdjustmentUUID            string
	TransactionOfInterestUUID *string
	Metadata                  map[string]any
}

// CreateAdjustment writes one committed balance-checked transaction plus the
// adjustment row linking to it, atomically. Retrying with a reused adjustment
// or transaction identifier fails loudly instead of reconciling; the whole
// sequence rolls back on any failure.
func (s *LedgerService) CreateAdjustment(ctx context.Context, req CreateAdjustmentRequest) (models.Adjustment, error) {
	ledger, err := s.GetLedger(ctx, req.LedgerUUID)
	if err != nil {
		return models.Adjustment{}, err
	}
	reason := req.Reason
	if reason == "" {
		reason = models.AdjustmentReasonTechnicalChallenges
	}
	if !reason.Valid() {
		return models.Adjustment{}, ErrInvalidAdjustmentReason
	}
	key := req.IdempotencyKey
	if key == "" {
		key = idempotency.KeyForAdjustment(ledger.UUID, req.Quantity)
	}
	adjustmentUUID := req.AdjustmentUUID
	if adjustmentUUID == "" {
		adjustmentUUID = uuid.NewString()
	}
	var (
		adjustment   models.Adjustment
		balanceAfter int64
	)
	err = lock.WithLock(ctx, s.locks, ledger.UUID, func(ctx context.Context) error {
		return s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
			balance, err := s.transactions.BalanceInTx(ctx, tx, ledger.UUID)
			if err != nil {
				return err
			}
			if req.Quantity < 0 && balance+req.Quantity < 0 {
				return ErrLedgerBalanceExceeded
			}
			transaction, created, err := s.transactions.GetOrCreate(ctx, tx, store.TransactionInput{
				UUID:           uuid.NewString(),
				LedgerUUID:     ledger.UUID,
				IdempotencyKey: key,
				Quantity:       req.Quantity,
				State:          models.TransactionStateCommitted,
				Metadata:       marshalMetadata(req.Metadata),
			})
			if err != nil {
				return err
			}
			if err := s.adjustments.Create(ctx, tx, store.AdjustmentInput{
				UUID:                      adjustmentUUID,
				LedgerUUID:                ledger.UUID,
				TransactionUUID:           transaction.UUID,
				TransactionOfInterestUUID: req.TransactionOfInterestUUID,
				AdjustmentQuantity:        req.Quantity,
				Reason:                    reason,
				Notes:                     req.Notes,
			}); err != nil {
				return err
			}
			adjustment = models.Adjustment{
				UUID:                      adjustmentUUID,
				LedgerUUID:                ledger.UUID,
				TransactionUUID:           transaction.UUID,
				TransactionOfInterestUUID: req.TransactionOfInterestUUID,
				AdjustmentQuantity:        req.Quantity,
				Reason:                    reason,
				Notes:                     req.Notes,
			}
			balanceAfter = balance
			if created {
				balanceAfter += req.Quantity
			}
			return nil
		})
	})
	if err != nil {
		return models.Adjustment{}, &AdjustmentCreationError{Err: err}
	}
	s.broadcastBalance(ledger, balanceAfter)
	return adjustment, nil
}

type CreateDepositRequest struct {
	LedgerUUID                         string
	Quantity                           int64
	SalesContractReferenceID           *string
	SalesContractReferenceProviderUUID *string
	DepositUUID                        string
	IdempotencyKey                     string
	Metadata                           map[string]any
}

// CreateDeposit writes one committed funding transaction plus the deposit row
// linking to it, atomically. The quantity must be strictly positive; the check
// runs before any write.
func (s *LedgerService) CreateDeposit(ctx context.Context, req CreateDepositRequest) (models.Deposit, error) {
	if req.Quantity <= 0 {
		return models.Deposit{}, &DepositCreationError{Err: ErrDepositNotPositive}
	}
	ledger, err := s.GetLedger(ctx, req.LedgerUUID)
	if err != nil {
		return models.Deposit{}, err
	}
	key := req.IdempotencyKey
	if key == "" {
		key = idempotency.KeyForTransaction(ledger.IdempotencyKey, req.Quantity, req.Metadata)
	}
	depositUUID := req.DepositUUID
	if depositUUID == "" {
		depositUUID = uuid.NewString()
	}
	var (
		deposit      models.Deposit
		balanceAfter int64
	)
	err = lock.WithLock(ctx, s.locks, ledger.UUID, func(ctx context.Context) error {
		return s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
			balance, err := s.transactions.BalanceInTx(ctx, tx, ledger.UUID)
			if err != nil {
				return err
			}
			transaction, created, err := s.transactions.GetOrCreate(ctx, tx, store.TransactionInput{
				UUID:           uuid.NewString(),
				LedgerUUID:     ledger.UUID,
				IdempotencyKey: key,
				Quantity:       req.Quantity,
				State:          models.TransactionStateCommitted,
				Metadata:       marshalMetadata(req.Metadata),
			})
			if err != nil {
				return err
			}
			if err := s.deposits.Create(ctx, tx, store.DepositInput{
				UUID:                               depositUUID,
				LedgerUUID:                         ledger.UUID,
				TransactionUUID:                    transaction.UUID,
				DesiredDepositQuantity:             req.Quantity,
				SalesContractReferenceID:           req.SalesContractReferenceID,
				SalesContractReferenceProviderUUID: req.SalesContractReferenceProviderUUID,
			}); err != nil {
				return err
			}
			deposit = models.Deposit{
				UUID:                               depositUUID,
				LedgerUUID:                         ledger.UUID,
				TransactionUUID:                    transaction.UUID,
				DesiredDepositQuantity:             req.Quantity,
				SalesContractReferenceID:           req.SalesContractReferenceID,
				SalesContractReferenceProviderUUID: req.SalesContractReferenceProviderUUID,
			}
			balanceAfter = balance
			if created {
				balanceAfter += req.Quantity
			}
			return nil
		})
	})
	if err != nil {
		return models.Deposit{}, &DepositCreationError{Err: err}
	}
	s.broadcastBalance(ledger, balanceAfter)
	return deposit, nil
}

func (s *LedgerService) GetLedger(ctx context.Context, ledgerUUID string) (models.Ledger, error) {
	ledger, err := s.ledgers.GetByUUID(ctx, ledgerUUID)
	if err != nil {
		return models.Ledger{}, notFound(err, ErrLedgerNotFound)
	}
	return ledger, nil
}

func (s *LedgerService) ListLedgers(ctx context.Context, limit, offset int) ([]models.Ledger, error) {
	return s.ledgers.List(ctx, limit, offset)
}

func (s *LedgerService) GetTransaction(ctx context.Context, transactionUUID string) (models.Transaction, error) {
	transaction, err := s.transactions.GetByUUID(ctx, transactionUUID)
	if err != nil {
		return models.Transaction{}, notFound(err, ErrTransactionNotFound)
	}
	return transaction, nil
}

func (s *LedgerService) ListTransactions(ctx context.Context, ledgerUUID string, state models.TransactionState, limit, offset int) ([]models.Transaction, error) {
	if state != "" && !state.Valid() {
		return nil, ErrInvalidTransactionState
	}
	return s.transactions.ListByLedger(ctx, ledgerUUID, state, limit, offset)
}

func (s *LedgerService) GetReversalForTransaction(ctx context.Context, transactionUUID string) (models.Reversal, error) {
	reversal, err := s.reversals.GetByTransaction(ctx, transactionUUID)
	if err != nil {
		return models.Reversal{}, notFound(err, ErrReversalNotFound)
	}
	return reversal, nil
}

func (s *LedgerService) GetAdjustment(ctx context.Context, adjustmentUUID string) (models.Adjustment, error) {
	adjustment, err := s.adjustments.GetByUUID(ctx, adjustmentUUID)
	if err != nil {
		return models.Adjustment{}, notFound(err, ErrAdjustmentNotFound)
	}
	return adjustment, nil
}

func (s *LedgerService) ListAdjustments(ctx context.Context, ledgerUUID string, limit, offset int) ([]models.Adjustment, error) {
	return s.adjustments.ListByLedger(ctx, ledgerUUID, limit, offset)
}

func (s *LedgerService) GetDeposit(ctx context.Context, depositUUID string) (models.Deposit, error) {
	deposit, err := s.deposits.GetByUUID(ctx, depositUUID)
	if err != nil {
		return models.Deposit{}, notFound(err, ErrDepositNotFound)
	}
	return deposit, nil
}

func (s *LedgerService) ListDeposits(ctx context.Context, ledgerUUID string, limit, offset int) ([]models.Deposit, error) {
	return s.deposits.ListByLedger(ctx, ledgerUUID, limit, offset)
}

func (s *LedgerService) Balance(ctx context.Context, ledgerUUID string, committedOnly bool) (int64, error) {
	return s.transactions.Balance(ctx, ledgerUUID, committedOnly)
}

func (s *LedgerService) SubsetBalance(ctx context.Context, ledgerUUID string, filter store.TransactionFilter) (int64, error) {
	return s.transactions.SubsetBalance(ctx, ledgerUUID, filter)
}

func (s *LedgerService) TotalDeposits(ctx context.Context, ledgerUUID string) (int64, error) {
	return s.transactions.TotalDeposits(ctx, ledgerUUID)
}

func (s *LedgerService) broadcastBalance(ledger models.Ledger, balance int64) {
	s.hub.BroadcastBalance(ledger.UUID, websocket.BalanceUpdate{
		LedgerUUID: ledger.UUID,
		Balance:    balance,
		Display:    money.FormatQuantity(ledger.Unit, balance),
		Unit:       string(ledger.Unit),
	})
}

func keyFieldsFor(req CreateTransactionRequest) map[string]any {
	fields := make(map[string]any, len(req.Metadata)+3)
	for field, value := range req.Metadata {
		fields[field] = value
	}
	if req.LmsUserID != nil {
		fields["lms_user_id"] = *req.LmsUserID
	}
	if req.ContentKey != nil {
		fields["content_key"] = *req.ContentKey
	}
	if req.SubsidyAccessPolicyUUID != nil {
		fields["subsidy_access_policy_uuid"] = *req.SubsidyAccessPolicyUUID
	}
	return fields
}

func marshalMetadata(metadata map[string]any) string {
	if len(metadata) == 0 {
		return "{}"
	}
	payload, err := json.Marshal(metadata)
	if err != nil {
		return "{}"
	}
	return string(payload)
}

func notFound(err, sentinel error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return sentinel
	}
	return err
}
