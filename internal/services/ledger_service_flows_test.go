package services

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"creditledger/internal/lock"
	"creditledger/internal/models"
	"creditledger/internal/store"

	"github.com/lib/pq"
)

// memoryState backs the in-memory stores behind the flow tests. All
// five stores share one state so cross-record rules (one reversal per
// transaction, one adjustment per transaction) behave like the schema's
// unique indexes.
type memoryState struct {
	mu           sync.Mutex
	ledgers      map[string]models.Ledger
	ledgerByKey  map[string]string
	transactions map[string]models.Transaction
	txByKey      map[string]string
	reversals    map[string]models.Reversal
	adjustments  map[string]models.Adjustment
	adjByTx      map[string]string
	deposits     map[string]models.Deposit
	depositByTx  map[string]string
}

func newMemoryState() *memoryState {
	return &memoryState{
		ledgers:      make(map[string]models.Ledger),
		ledgerByKey:  make(map[string]string),
		transactions: make(map[string]models.Transaction),
		txByKey:      make(map[string]string),
		reversals:    make(map[string]models.Reversal),
		adjustments:  make(map[string]models.Adjustment),
		adjByTx:      make(map[string]string),
		deposits:     make(map[string]models.Deposit),
		depositByTx:  make(map[string]string),
	}
}

func uniqueViolation() error {
	return &pq.Error{Code: "23505"}
}

type memLedgerStore struct{ st *memoryState }

func (s memLedgerStore) GetOrCreate(_ context.Context, _ store.Tx, input store.LedgerInput) (models.Ledger, bool, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	if existingUUID, ok := s.st.ledgerByKey[input.IdempotencyKey]; ok {
		return s.st.ledgers[existingUUID], false, nil
	}
	row := models.Ledger{UUID: input.UUID, IdempotencyKey: input.IdempotencyKey, Unit: input.Unit, Metadata: input.Metadata}
	s.st.ledgers[input.UUID] = row
	s.st.ledgerByKey[input.IdempotencyKey] = input.UUID
	return row, true, nil
}

func (s memLedgerStore) GetByUUID(_ context.Context, ledgerUUID string) (models.Ledger, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	row, ok := s.st.ledgers[ledgerUUID]
	if !ok {
		return models.Ledger{}, sql.ErrNoRows
	}
	return row, nil
}

func (s memLedgerStore) List(_ context.Context, limit, offset int) ([]models.Ledger, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	rows := make([]models.Ledger, 0, len(s.st.ledgers))
	for _, row := range s.st.ledgers {
		rows = append(rows, row)
	}
	return rows, nil
}

type memTransactionStore struct{ st *memoryState }

func (s memTransactionStore) GetOrCreate(_ context.Context, _ store.Tx, input store.TransactionInput) (models.Transaction, bool, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	key := input.LedgerUUID + "|" + input.IdempotencyKey
	if existingUUID, ok := s.st.txByKey[key]; ok {
		return s.st.transactions[existingUUID], false, nil
	}
	ledgerUUID := input.LedgerUUID
	row := models.Transaction{
		UUID:                    input.UUID,
		LedgerUUID:              &ledgerUUID,
		IdempotencyKey:          input.IdempotencyKey,
		Quantity:                input.Quantity,
		State:                   input.State,
		LmsUserID:               input.LmsUserID,
		ContentKey:              input.ContentKey,
		SubsidyAccessPolicyUUID: input.SubsidyAccessPolicyUUID,
		Metadata:                input.Metadata,
	}
	s.st.transactions[input.UUID] = row
	s.st.txByKey[key] = input.UUID
	return row, true, nil
}

func (s memTransactionStore) GetByUUID(_ context.Context, transactionUUID string) (models.Transaction, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	row, ok := s.st.transactions[transactionUUID]
	if !ok {
		return models.Transaction{}, sql.ErrNoRows
	}
	return row, nil
}

func (s memTransactionStore) GetForUpdate(_ context.Context, _ store.Getter, transactionUUID string) (models.Transaction, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	row, ok := s.st.transactions[transactionUUID]
	if !ok {
		return models.Transaction{}, sql.ErrNoRows
	}
	return row, nil
}

func (s memTransactionStore) UpdateState(_ context.Context, _ store.Execer, transactionUUID string, state models.TransactionState) error {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	row, ok := s.st.transactions[transactionUUID]
	if !ok {
		return sql.ErrNoRows
	}
	row.State = state
	s.st.transactions[transactionUUID] = row
	return nil
}

func (s memTransactionStore) balanceLocked(ledgerUUID string, committedOnly bool) int64 {
	var sum int64
	for _, tx := range s.st.transactions {
		if tx.LedgerUUID == nil || *tx.LedgerUUID != ledgerUUID {
			continue
		}
		if tx.State == models.TransactionStateFailed {
			continue
		}
		if committedOnly && tx.State != models.TransactionStateCommitted {
			continue
		}
		sum += tx.Quantity
		if reversal, ok := s.st.reversals[tx.UUID]; ok {
			sum += reversal.Quantity
		}
	}
	return sum
}

func (s memTransactionStore) Balance(_ context.Context, ledgerUUID string, committedOnly bool) (int64, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	return s.balanceLocked(ledgerUUID, committedOnly), nil
}

func (s memTransactionStore) BalanceInTx(_ context.Context, _ store.Getter, ledgerUUID string) (int64, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	return s.balanceLocked(ledgerUUID, false), nil
}

func (s memTransactionStore) SubsetBalance(_ context.Context, ledgerUUID string, filter store.TransactionFilter) (int64, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	uuidSet := make(map[string]struct{}, len(filter.UUIDs))
	for _, id := range filter.UUIDs {
		uuidSet[id] = struct{}{}
	}
	var sum int64
	for _, tx := range s.st.transactions {
		if tx.LedgerUUID == nil || *tx.LedgerUUID != ledgerUUID {
			continue
		}
		if tx.State == models.TransactionStateFailed {
			continue
		}
		if len(uuidSet) > 0 {
			if _, ok := uuidSet[tx.UUID]; !ok {
				continue
			}
		}
		if filter.LmsUserID != nil && (tx.LmsUserID == nil || *tx.LmsUserID != *filter.LmsUserID) {
			continue
		}
		if filter.ContentKey != nil && (tx.ContentKey == nil || *tx.ContentKey != *filter.ContentKey) {
			continue
		}
		if filter.SubsidyAccessPolicyUUID != nil && (tx.SubsidyAccessPolicyUUID == nil || *tx.SubsidyAccessPolicyUUID != *filter.SubsidyAccessPolicyUUID) {
			continue
		}
		sum += tx.Quantity
		if reversal, ok := s.st.reversals[tx.UUID]; ok {
			sum += reversal.Quantity
		}
	}
	return sum, nil
}

func (s memTransactionStore) TotalDeposits(_ context.Context, ledgerUUID string) (int64, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	var sum int64
	for _, tx := range s.st.transactions {
		if tx.LedgerUUID == nil || *tx.LedgerUUID != ledgerUUID {
			continue
		}
		if tx.State == models.TransactionStateFailed {
			continue
		}
		_, backsDeposit := s.st.depositByTx[tx.UUID]
		_, backsAdjustment := s.st.adjByTx[tx.UUID]
		if backsDeposit || backsAdjustment {
			sum += tx.Quantity
		}
	}
	return sum, nil
}

func (s memTransactionStore) ListByLedger(_ context.Context, ledgerUUID string, state models.TransactionState, limit, offset int) ([]models.Transaction, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	var rows []models.Transaction
	for _, tx := range s.st.transactions {
		if tx.LedgerUUID == nil || *tx.LedgerUUID != ledgerUUID {
			continue
		}
		if state != "" && tx.State != state {
			continue
		}
		rows = append(rows, tx)
	}
	return rows, nil
}

type memReversalStore struct{ st *memoryState }

func (s memReversalStore) GetOrCreate(_ context.Context, _ store.Tx, input store.ReversalInput) (models.Reversal, bool, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	if existing, ok := s.st.reversals[input.TransactionUUID]; ok {
		if existing.IdempotencyKey == input.IdempotencyKey {
			return existing, false, nil
		}
		return models.Reversal{}, false, store.ErrAlreadyReversed
	}
	transactionUUID := input.TransactionUUID
	row := models.Reversal{
		UUID:            input.UUID,
		TransactionUUID: &transactionUUID,
		IdempotencyKey:  input.IdempotencyKey,
		Quantity:        input.Quantity,
		State:           input.State,
		Metadata:        input.Metadata,
	}
	s.st.reversals[input.TransactionUUID] = row
	return row, true, nil
}

func (s memReversalStore) GetByTransaction(_ context.Context, transactionUUID string) (models.Reversal, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	row, ok := s.st.reversals[transactionUUID]
	if !ok {
		return models.Reversal{}, sql.ErrNoRows
	}
	return row, nil
}

type memAdjustmentStore struct{ st *memoryState }

func (s memAdjustmentStore) Create(_ context.Context, _ store.Execer, input store.AdjustmentInput) error {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	if _, ok := s.st.adjustments[input.UUID]; ok {
		return uniqueViolation()
	}
	if _, ok := s.st.adjByTx[input.TransactionUUID]; ok {
		return uniqueViolation()
	}
	s.st.adjustments[input.UUID] = models.Adjustment{
		UUID:                      input.UUID,
		LedgerUUID:                input.LedgerUUID,
		TransactionUUID:           input.TransactionUUID,
		TransactionOfInterestUUID: input.TransactionOfInterestUUID,
		AdjustmentQuantity:        input.AdjustmentQuantity,
		Reason:                    input.Reason,
		Notes:                     input.Notes,
	}
	s.st.adjByTx[input.TransactionUUID] = input.UUID
	return nil
}

func (s memAdjustmentStore) GetByUUID(_ context.Context, adjustmentUUID string) (models.Adjustment, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	row, ok := s.st.adjustments[adjustmentUUID]
	if !ok {
		return models.Adjustment{}, sql.ErrNoRows
	}
	return row, nil
}

func (s memAdjustmentStore) ExistsForTransaction(_ context.Context, transactionUUID string) (bool, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	_, ok := s.st.adjByTx[transactionUUID]
	return ok, nil
}

func (s memAdjustmentStore) ListByLedger(_ context.Context, ledgerUUID string, limit, offset int) ([]models.Adjustment, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	var rows []models.Adjustment
	for _, row := range s.st.adjustments {
		if row.LedgerUUID == ledgerUUID {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

type memDepositStore struct{ st *memoryState }

func (s memDepositStore) Create(_ context.Context, _ store.Execer, input store.DepositInput) error {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	if _, ok := s.st.deposits[input.UUID]; ok {
		return uniqueViolation()
	}
	if _, ok := s.st.depositByTx[input.TransactionUUID]; ok {
		return uniqueViolation()
	}
	s.st.deposits[input.UUID] = models.Deposit{
		UUID:                               input.UUID,
		LedgerUUID:                         input.LedgerUUID,
		TransactionUUID:                    input.TransactionUUID,
		DesiredDepositQuantity:             input.DesiredDepositQuantity,
		SalesContractReferenceID:           input.SalesContractReferenceID,
		SalesContractReferenceProviderUUID: input.SalesContractReferenceProviderUUID,
	}
	s.st.depositByTx[input.TransactionUUID] = input.UUID
	return nil
}

func (s memDepositStore) GetByUUID(_ context.Context, depositUUID string) (models.Deposit, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	row, ok := s.st.deposits[depositUUID]
	if !ok {
		return models.Deposit{}, sql.ErrNoRows
	}
	return row, nil
}

func (s memDepositStore) ListByLedger(_ context.Context, ledgerUUID string, limit, offset int) ([]models.Deposit, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	var rows []models.Deposit
	for _, row := range s.st.deposits {
		if row.LedgerUUID == ledgerUUID {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

func newMemoryService() (*LedgerService, *memoryState, *stubNotifier) {
	st := newMemoryState()
	notifier := &stubNotifier{}
	service := NewLedgerService(
		fakeTxRunner{},
		lock.NewLocalManager(time.Minute),
		memLedgerStore{st},
		memTransactionStore{st},
		memReversalStore{st},
		memAdjustmentStore{st},
		memDepositStore{st},
		notifier,
		&stubHub{},
	)
	return service, st, notifier
}

func mustCreateLedger(t *testing.T, service *LedgerService, req CreateLedgerRequest) models.Ledger {
	t.Helper()
	ledger, err := service.CreateLedger(context.Background(), req)
	if err != nil {
		t.Fatalf("create ledger: %v", err)
	}
	return ledger
}

func mustCreateTransaction(t *testing.T, service *LedgerService, req CreateTransactionRequest) models.Transaction {
	t.Helper()
	transaction, _, err := service.CreateTransaction(context.Background(), req)
	if err != nil {
		t.Fatalf("create transaction: %v", err)
	}
	return transaction
}

func mustBalance(t *testing.T, service *LedgerService, ledgerUUID string) int64 {
	t.Helper()
	balance, err := service.Balance(context.Background(), ledgerUUID, false)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return balance
}

func TestBalanceNetsReversalsAndIgnoresFailed(t *testing.T) {
	service, _, _ := newMemoryService()
	ledger := mustCreateLedger(t, service, CreateLedgerRequest{})

	mustCreateTransaction(t, service, CreateTransactionRequest{
		LedgerUUID: ledger.UUID, Quantity: 100, IdempotencyKey: "fund", State: models.TransactionStateCommitted,
	})
	var spends []models.Transaction
	for _, key := range []string{"spend-1", "spend-2", "spend-3"} {
		spends = append(spends, mustCreateTransaction(t, service, CreateTransactionRequest{
			LedgerUUID: ledger.UUID, Quantity: -10, IdempotencyKey: key, State: models.TransactionStateCommitted,
		}))
	}
	failed := mustCreateTransaction(t, service, CreateTransactionRequest{
		LedgerUUID: ledger.UUID, Quantity: -5, IdempotencyKey: "doomed",
	})
	if _, err := service.UpdateTransactionState(context.Background(), failed.UUID, models.TransactionStateFailed); err != nil {
		t.Fatalf("fail transaction: %v", err)
	}
	if _, err := service.ReverseFullTransaction(context.Background(), ReverseTransactionRequest{
		TransactionUUID: spends[1].UUID, IdempotencyKey: "undo-spend-2",
	}); err != nil {
		t.Fatalf("reverse: %v", err)
	}

	if got := mustBalance(t, service, ledger.UUID); got != 80 {
		t.Fatalf("expected balance 80, got %d", got)
	}
	committed, err := service.Balance(context.Background(), ledger.UUID, true)
	if err != nil {
		t.Fatalf("committed balance: %v", err)
	}
	if committed != 80 {
		t.Fatalf("expected committed balance 80, got %d", committed)
	}
}

func TestCreateTransactionIdempotentReplay(t *testing.T) {
	service, st, _ := newMemoryService()
	ledger := mustCreateLedger(t, service, CreateLedgerRequest{})

	first, createdFirst, err := service.CreateTransaction(context.Background(), CreateTransactionRequest{
		LedgerUUID: ledger.UUID, Quantity: 250, IdempotencyKey: "same-key",
	})
	if err != nil || !createdFirst {
		t.Fatalf("first call: created=%v err=%v", createdFirst, err)
	}
	second, createdSecond, err := service.CreateTransaction(context.Background(), CreateTransactionRequest{
		LedgerUUID: ledger.UUID, Quantity: 250, IdempotencyKey: "same-key",
	})
	if err != nil || createdSecond {
		t.Fatalf("second call: created=%v err=%v", createdSecond, err)
	}
	if first.UUID != second.UUID {
		t.Fatalf("expected the same transaction, got %s and %s", first.UUID, second.UUID)
	}
	if len(st.transactions) != 1 {
		t.Fatalf("expected one persisted transaction, got %d", len(st.transactions))
	}
	if got := mustBalance(t, service, ledger.UUID); got != 250 {
		t.Fatalf("expected balance 250, got %d", got)
	}
}

func TestDerivedKeysReplayOnSameInputs(t *testing.T) {
	service, st, _ := newMemoryService()
	ledger := mustCreateLedger(t, service, CreateLedgerRequest{})

	request := CreateTransactionRequest{
		LedgerUUID: ledger.UUID,
		Quantity:   300,
		LmsUserID:  int64Ptr(42),
		ContentKey: stringPtr("course-v1:demo+101"),
	}

	first := mustCreateTransaction(t, service, request)
	second := mustCreateTransaction(t, service, request)
	if first.UUID != second.UUID {
		t.Fatalf("expected derived-key replay, got %s and %s", first.UUID, second.UUID)
	}

	request.ContentKey = stringPtr("course-v1:demo+102")
	third := mustCreateTransaction(t, service, request)
	if third.UUID == first.UUID {
		t.Fatal("expected a different content key to produce a new transaction")
	}
	if len(st.transactions) != 2 {
		t.Fatalf("expected two persisted transactions, got %d", len(st.transactions))
	}
}

func TestLifecycleCommitAndReverse(t *testing.T) {
	service, _, _ := newMemoryService()
	ledger := mustCreateLedger(t, service, CreateLedgerRequest{})

	mustCreateTransaction(t, service, CreateTransactionRequest{
		LedgerUUID: ledger.UUID, Quantity: 5000, IdempotencyKey: "grant-1",
	})
	if got := mustBalance(t, service, ledger.UUID); got != 5000 {
		t.Fatalf("expected balance 5000, got %d", got)
	}
	second := mustCreateTransaction(t, service, CreateTransactionRequest{
		LedgerUUID: ledger.UUID, Quantity: 5000, IdempotencyKey: "grant-2",
	})
	if got := mustBalance(t, service, ledger.UUID); got != 10000 {
		t.Fatalf("expected balance 10000, got %d", got)
	}
	if _, err := service.UpdateTransactionState(context.Background(), second.UUID, models.TransactionStateCommitted); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if _, err := service.ReverseFullTransaction(context.Background(), ReverseTransactionRequest{
		TransactionUUID: second.UUID, IdempotencyKey: "undo-grant-2",
	}); err != nil {
		t.Fatalf("reverse: %v", err)
	}
	if got := mustBalance(t, service, ledger.UUID); got != 5000 {
		t.Fatalf("expected balance 5000 after reversal, got %d", got)
	}
}

func TestBalanceNeverDrivenNegative(t *testing.T) {
	service, st, _ := newMemoryService()
	ledger := mustCreateLedger(t, service, CreateLedgerRequest{})
	mustCreateTransaction(t, service, CreateTransactionRequest{
		LedgerUUID: ledger.UUID, Quantity: 999, IdempotencyKey: "fund", State: models.TransactionStateCommitted,
	})

	_, _, err := service.CreateTransaction(context.Background(), CreateTransactionRequest{
		LedgerUUID: ledger.UUID, Quantity: -1000, IdempotencyKey: "overspend",
	})
	if err != ErrLedgerBalanceExceeded {
		t.Fatalf("expected ErrLedgerBalanceExceeded, got %v", err)
	}
	if got := mustBalance(t, service, ledger.UUID); got != 999 {
		t.Fatalf("expected balance unchanged at 999, got %d", got)
	}
	if len(st.transactions) != 1 {
		t.Fatalf("expected no new transaction, got %d rows", len(st.transactions))
	}
}

func TestReversalIdempotentReplay(t *testing.T) {
	service, st, notifier := newMemoryService()
	ledger := mustCreateLedger(t, service, CreateLedgerRequest{})
	spend := mustCreateTransaction(t, service, CreateTransactionRequest{
		LedgerUUID: ledger.UUID, Quantity: 700, IdempotencyKey: "fund", State: models.TransactionStateCommitted,
	})

	first, err := service.ReverseFullTransaction(context.Background(), ReverseTransactionRequest{
		TransactionUUID: spend.UUID, IdempotencyKey: "undo",
	})
	if err != nil {
		t.Fatalf("first reversal: %v", err)
	}
	balanceAfterFirst := mustBalance(t, service, ledger.UUID)

	second, err := service.ReverseFullTransaction(context.Background(), ReverseTransactionRequest{
		TransactionUUID: spend.UUID, IdempotencyKey: "undo",
	})
	if err != nil {
		t.Fatalf("replayed reversal: %v", err)
	}
	if first.UUID != second.UUID {
		t.Fatalf("expected the same reversal, got %s and %s", first.UUID, second.UUID)
	}
	if got := mustBalance(t, service, ledger.UUID); got != balanceAfterFirst || got != 0 {
		t.Fatalf("expected balance 0 after both calls, got %d", got)
	}
	if len(st.reversals) != 1 {
		t.Fatalf("expected one persisted reversal, got %d", len(st.reversals))
	}
	if len(notifier.published) != 1 {
		t.Fatalf("expected exactly one reversed event, got %d", len(notifier.published))
	}
	event := notifier.published[0]
	if event.LedgerUUID != ledger.UUID || event.Reversal.Quantity != -700 {
		t.Fatalf("unexpected event payload: %#v", event)
	}
}

func TestSecondReversalWithDifferentKeyFails(t *testing.T) {
	service, st, _ := newMemoryService()
	ledger := mustCreateLedger(t, service, CreateLedgerRequest{})
	spend := mustCreateTransaction(t, service, CreateTransactionRequest{
		LedgerUUID: ledger.UUID, Quantity: 700, IdempotencyKey: "fund", State: models.TransactionStateCommitted,
	})

	if _, err := service.ReverseFullTransaction(context.Background(), ReverseTransactionRequest{
		TransactionUUID: spend.UUID, IdempotencyKey: "undo",
	}); err != nil {
		t.Fatalf("first reversal: %v", err)
	}
	_, err := service.ReverseFullTransaction(context.Background(), ReverseTransactionRequest{
		TransactionUUID: spend.UUID, IdempotencyKey: "undo-again",
	})
	if !errors.Is(err, ErrTransactionAlreadyReversed) {
		t.Fatalf("expected ErrTransactionAlreadyReversed, got %v", err)
	}
	if len(st.reversals) != 1 {
		t.Fatalf("expected a single reversal, got %d", len(st.reversals))
	}
}

func TestAdjustmentReducesBalanceAndResistsReversal(t *testing.T) {
	service, _, _ := newMemoryService()
	ledger := mustCreateLedger(t, service, CreateLedgerRequest{})
	fund := mustCreateTransaction(t, service, CreateTransactionRequest{
		LedgerUUID: ledger.UUID, Quantity: 500, IdempotencyKey: "fund", State: models.TransactionStateCommitted,
	})

	adjustment, err := service.CreateAdjustment(context.Background(), CreateAdjustmentRequest{
		LedgerUUID:                ledger.UUID,
		Quantity:                  -100,
		Reason:                    models.AdjustmentReasonBillingError,
		TransactionOfInterestUUID: &fund.UUID,
	})
	if err != nil {
		t.Fatalf("create adjustment: %v", err)
	}
	if got := mustBalance(t, service, ledger.UUID); got != 400 {
		t.Fatalf("expected balance 400, got %d", got)
	}

	_, err = service.ReverseFullTransaction(context.Background(), ReverseTransactionRequest{
		TransactionUUID: adjustment.TransactionUUID, IdempotencyKey: "undo-adjustment",
	})
	if err != ErrCannotReverseAdjustment {
		t.Fatalf("expected ErrCannotReverseAdjustment, got %v", err)
	}
}

func TestDepositFailsBeforeAnyWrite(t *testing.T) {
	service, st, _ := newMemoryService()
	ledger := mustCreateLedger(t, service, CreateLedgerRequest{})

	_, err := service.CreateDeposit(context.Background(), CreateDepositRequest{
		LedgerUUID: ledger.UUID, Quantity: -50,
	})
	var creation *DepositCreationError
	if !errors.As(err, &creation) {
		t.Fatalf("expected DepositCreationError, got %v", err)
	}
	if len(st.transactions) != 0 || len(st.deposits) != 0 {
		t.Fatal("expected no writes from a rejected deposit")
	}
	if got := mustBalance(t, service, ledger.UUID); got != 0 {
		t.Fatalf("expected balance unchanged at 0, got %d", got)
	}
}

func TestCreateLedgerWithInitialDepositIsIdempotent(t *testing.T) {
	service, st, _ := newMemoryService()
	request := CreateLedgerRequest{
		SubsidyUUID:                        "7c2ab33f-0000-0000-0000-00000000abcd",
		InitialDeposit:                     int64Ptr(5000),
		SalesContractReferenceID:           stringPtr("contract-77"),
		SalesContractReferenceProviderUUID: stringPtr("provider-1"),
	}

	first := mustCreateLedger(t, service, request)
	second := mustCreateLedger(t, service, request)
	if first.UUID != second.UUID {
		t.Fatalf("expected one ledger, got %s and %s", first.UUID, second.UUID)
	}
	if len(st.ledgers) != 1 || len(st.transactions) != 1 || len(st.deposits) != 1 {
		t.Fatalf("expected 1 ledger, 1 funding transaction, 1 deposit; got %d/%d/%d",
			len(st.ledgers), len(st.transactions), len(st.deposits))
	}
	if got := mustBalance(t, service, first.UUID); got != 5000 {
		t.Fatalf("expected balance 5000, got %d", got)
	}
	deposits, err := service.TotalDeposits(context.Background(), first.UUID)
	if err != nil {
		t.Fatalf("total deposits: %v", err)
	}
	if deposits != 5000 {
		t.Fatalf("expected total deposits 5000, got %d", deposits)
	}
}

func TestTotalDepositsCountsFundingOnly(t *testing.T) {
	service, _, _ := newMemoryService()
	ledger := mustCreateLedger(t, service, CreateLedgerRequest{
		SubsidyUUID:                        "s-1",
		InitialDeposit:                     int64Ptr(5000),
		SalesContractReferenceID:           stringPtr("contract-1"),
		SalesContractReferenceProviderUUID: stringPtr("provider-1"),
	})
	if _, err := service.CreateAdjustment(context.Background(), CreateAdjustmentRequest{
		LedgerUUID: ledger.UUID, Quantity: 250,
	}); err != nil {
		t.Fatalf("create adjustment: %v", err)
	}
	mustCreateTransaction(t, service, CreateTransactionRequest{
		LedgerUUID: ledger.UUID, Quantity: -100, IdempotencyKey: "spend", State: models.TransactionStateCommitted,
	})

	deposits, err := service.TotalDeposits(context.Background(), ledger.UUID)
	if err != nil {
		t.Fatalf("total deposits: %v", err)
	}
	if deposits != 5250 {
		t.Fatalf("expected funding total 5250, got %d", deposits)
	}
	if got := mustBalance(t, service, ledger.UUID); got != 5150 {
		t.Fatalf("expected balance 5150, got %d", got)
	}
}

func TestSubsetBalanceScopedToUserAndLedger(t *testing.T) {
	service, _, _ := newMemoryService()
	ledger := mustCreateLedger(t, service, CreateLedgerRequest{IdempotencyKey: "main"})
	other := mustCreateLedger(t, service, CreateLedgerRequest{IdempotencyKey: "other"})

	mustCreateTransaction(t, service, CreateTransactionRequest{
		LedgerUUID: ledger.UUID, Quantity: 1000, IdempotencyKey: "fund", State: models.TransactionStateCommitted,
	})
	userSpendA := mustCreateTransaction(t, service, CreateTransactionRequest{
		LedgerUUID: ledger.UUID, Quantity: -10, IdempotencyKey: "user42-a", LmsUserID: int64Ptr(42), State: models.TransactionStateCommitted,
	})
	userSpendB := mustCreateTransaction(t, service, CreateTransactionRequest{
		LedgerUUID: ledger.UUID, Quantity: -20, IdempotencyKey: "user42-b", LmsUserID: int64Ptr(42), State: models.TransactionStateCommitted,
	})
	otherUser := mustCreateTransaction(t, service, CreateTransactionRequest{
		LedgerUUID: ledger.UUID, Quantity: -40, IdempotencyKey: "user7", LmsUserID: int64Ptr(7), State: models.TransactionStateCommitted,
	})
	foreign := mustCreateTransaction(t, service, CreateTransactionRequest{
		LedgerUUID: other.UUID, Quantity: 900, IdempotencyKey: "foreign-fund", LmsUserID: int64Ptr(42), State: models.TransactionStateCommitted,
	})
	if _, err := service.ReverseFullTransaction(context.Background(), ReverseTransactionRequest{
		TransactionUUID: userSpendB.UUID, IdempotencyKey: "undo-user42-b",
	}); err != nil {
		t.Fatalf("reverse: %v", err)
	}

	byUser, err := service.SubsetBalance(context.Background(), ledger.UUID, store.TransactionFilter{LmsUserID: int64Ptr(42)})
	if err != nil {
		t.Fatalf("subset balance: %v", err)
	}
	if byUser != -10 {
		t.Fatalf("expected user subset balance -10, got %d", byUser)
	}

	superset, err := service.SubsetBalance(context.Background(), ledger.UUID, store.TransactionFilter{
		UUIDs:     []string{userSpendA.UUID, userSpendB.UUID, otherUser.UUID, foreign.UUID},
		LmsUserID: int64Ptr(42),
	})
	if err != nil {
		t.Fatalf("superset subset balance: %v", err)
	}
	if superset != -10 {
		t.Fatalf("expected superset to intersect to -10, got %d", superset)
	}
}

func TestDepositRetryWithReusedIdentifierFails(t *testing.T) {
	service, st, _ := newMemoryService()
	ledger := mustCreateLedger(t, service, CreateLedgerRequest{})
	request := CreateDepositRequest{
		LedgerUUID:     ledger.UUID,
		Quantity:       500,
		DepositUUID:    "dep-1",
		IdempotencyKey: "dep-key",
	}

	if _, err := service.CreateDeposit(context.Background(), request); err != nil {
		t.Fatalf("first deposit: %v", err)
	}
	_, err := service.CreateDeposit(context.Background(), request)
	var creation *DepositCreationError
	if !errors.As(err, &creation) {
		t.Fatalf("expected DepositCreationError on retry, got %v", err)
	}
	if !store.IsUniqueViolation(err) {
		t.Fatalf("expected a wrapped unique violation, got %v", err)
	}
	if len(st.deposits) != 1 {
		t.Fatalf("expected one deposit row, got %d", len(st.deposits))
	}
	if got := mustBalance(t, service, ledger.UUID); got != 500 {
		t.Fatalf("expected balance 500, got %d", got)
	}
}

func TestAdjustmentRetryWithReusedIdentifierFails(t *testing.T) {
	service, st, _ := newMemoryService()
	ledger := mustCreateLedger(t, service, CreateLedgerRequest{})
	request := CreateAdjustmentRequest{
		LedgerUUID:     ledger.UUID,
		Quantity:       250,
		AdjustmentUUID: "adj-1",
		IdempotencyKey: "adj-key",
	}

	if _, err := service.CreateAdjustment(context.Background(), request); err != nil {
		t.Fatalf("first adjustment: %v", err)
	}
	_, err := service.CreateAdjustment(context.Background(), request)
	var creation *AdjustmentCreationError
	if !errors.As(err, &creation) {
		t.Fatalf("expected AdjustmentCreationError on retry, got %v", err)
	}
	if len(st.adjustments) != 1 {
		t.Fatalf("expected one adjustment row, got %d", len(st.adjustments))
	}
	if got := mustBalance(t, service, ledger.UUID); got != 250 {
		t.Fatalf("expected balance 250, got %d", got)
	}
}

func TestConcurrentSpendsNeverOverdraw(t *testing.T) {
	service, _, _ := newMemoryService()
	ledger := mustCreateLedger(t, service, CreateLedgerRequest{})
	mustCreateTransaction(t, service, CreateTransactionRequest{
		LedgerUUID: ledger.UUID, Quantity: 10000, IdempotencyKey: "fund", State: models.TransactionStateCommitted,
	})

	keys := []string{"c-1", "c-2", "c-3", "c-4", "c-5"}
	var wg sync.WaitGroup
	results := make(chan error, len(keys))
	for _, key := range keys {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			_, _, err := service.CreateTransaction(context.Background(), CreateTransactionRequest{
				LedgerUUID: ledger.UUID, Quantity: -100, IdempotencyKey: key, State: models.TransactionStateCommitted,
			})
			results <- err
		}(key)
	}
	wg.Wait()
	close(results)

	var succeeded int64
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, lock.ErrLockAttemptFailed):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded == 0 {
		t.Fatal("expected at least one spend to win the lock")
	}
	if got := mustBalance(t, service, ledger.UUID); got != 10000-100*succeeded {
		t.Fatalf("expected balance %d, got %d", 10000-100*succeeded, got)
	}
}
