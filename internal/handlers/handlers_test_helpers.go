package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"creditledger/internal/auth"
	"creditledger/internal/config"
	"creditledger/internal/db"
	"creditledger/internal/middleware"
	"creditledger/internal/models"
	"creditledger/internal/services"
	"creditledger/internal/store"
	"creditledger/internal/websocket"

	"github.com/go-chi/chi/v5"
	"github.com/jmoiron/sqlx"
)

type fakeTxRunner struct {
	withTxFn func(ctx context.Context, fn func(*sqlx.Tx) error) error
}

func (f fakeTxRunner) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	if f.withTxFn != nil {
		return f.withTxFn(ctx, fn)
	}
	return fn(nil)
}

type stubOperatorStore struct {
	createFn     func(ctx context.Context, tx store.Execer, uuid, username, email, passwordHash string) error
	getByEmailFn func(ctx context.Context, email string) (models.Operator, error)
	getByUUIDFn  func(ctx context.Context, operatorUUID string) (models.Operator, error)
}

func (s stubOperatorStore) Create(ctx context.Context, tx store.Execer, uuid, username, email, passwordHash string) error {
	if s.createFn == nil {
		return nil
	}
	return s.createFn(ctx, tx, uuid, username, email, passwordHash)
}

func (s stubOperatorStore) GetByEmail(ctx context.Context, email string) (models.Operator, error) {
	if s.getByEmailFn == nil {
		return models.Operator{}, nil
	}
	return s.getByEmailFn(ctx, email)
}

func (s stubOperatorStore) GetByUUID(ctx context.Context, operatorUUID string) (models.Operator, error) {
	if s.getByUUIDFn == nil {
		return models.Operator{}, nil
	}
	return s.getByUUIDFn(ctx, operatorUUID)
}

type stubProviderStore struct {
	createFulfillmentFn   func(ctx context.Context, tx store.Execer, uuid, name, slug string) error
	getFulfillmentFn      func(ctx context.Context, slug string) (models.ExternalFulfillmentProvider, error)
	listFulfillmentFn     func(ctx context.Context) ([]models.ExternalFulfillmentProvider, error)
	createSalesContractFn func(ctx context.Context, tx store.Execer, uuid, name, slug string) error
	listSalesContractFn   func(ctx context.Context) ([]models.SalesContractReferenceProvider, error)
	createReferenceFn     func(ctx context.Context, tx store.Execer, input store.ExternalReferenceInput) error
	listReferencesFn      func(ctx context.Context, transactionUUID string) ([]models.ExternalTransactionReference, error)
}

func (s stubProviderStore) CreateFulfillmentProvider(ctx context.Context, tx store.Execer, uuid, name, slug string) error {
	if s.createFulfillmentFn == nil {
		return nil
	}
	return s.createFulfillmentFn(ctx, tx, uuid, name, slug)
}

func (s stubProviderStore) GetFulfillmentProviderBySlug(ctx context.Context, slug string) (models.ExternalFulfillmentProvider, error) {
	if s.getFulfillmentFn == nil {
		return models.ExternalFulfillmentProvider{}, nil
	}
	return s.getFulfillmentFn(ctx, slug)
}

func (s stubProviderStore) ListFulfillmentProviders(ctx context.Context) ([]models.ExternalFulfillmentProvider, error) {
	if s.listFulfillmentFn == nil {
		return nil, nil
	}
	return s.listFulfillmentFn(ctx)
}

func (s stubProviderStore) CreateSalesContractProvider(ctx context.Context, tx store.Execer, uuid, name, slug string) error {
	if s.createSalesContractFn == nil {
		return nil
	}
	return s.createSalesContractFn(ctx, tx, uuid, name, slug)
}

func (s stubProviderStore) ListSalesContractProviders(ctx context.Context) ([]models.SalesContractReferenceProvider, error) {
	if s.listSalesContractFn == nil {
		return nil, nil
	}
	return s.listSalesContractFn(ctx)
}

func (s stubProviderStore) CreateExternalReference(ctx context.Context, tx store.Execer, input store.ExternalReferenceInput) error {
	if s.createReferenceFn == nil {
		return nil
	}
	return s.createReferenceFn(ctx, tx, input)
}

func (s stubProviderStore) ListExternalReferencesByTransaction(ctx context.Context, transactionUUID string) ([]models.ExternalTransactionReference, error) {
	if s.listReferencesFn == nil {
		return nil, nil
	}
	return s.listReferencesFn(ctx, transactionUUID)
}

type stubLedgerService struct {
	createLedgerFn      func(ctx context.Context, req services.CreateLedgerRequest) (models.Ledger, error)
	getLedgerFn         func(ctx context.Context, ledgerUUID string) (models.Ledger, error)
	listLedgersFn       func(ctx context.Context, limit, offset int) ([]models.Ledger, error)
	balanceFn           func(ctx context.Context, ledgerUUID string, committedOnly bool) (int64, error)
	subsetBalanceFn     func(ctx context.Context, ledgerUUID string, filter store.TransactionFilter) (int64, error)
	totalDepositsFn     func(ctx context.Context, ledgerUUID string) (int64, error)
	createTransactionFn func(ctx context.Context, req services.CreateTransactionRequest) (models.Transaction, bool, error)
	getTransactionFn    func(ctx context.Context, transactionUUID string) (models.Transaction, error)
	listTransactionsFn  func(ctx context.Context, ledgerUUID string, state models.TransactionState, limit, offset int) ([]models.Transaction, error)
	updateStateFn       func(ctx context.Context, transactionUUID string, next models.TransactionState) (models.Transaction, error)
	reverseFn           func(ctx context.Context, req services.ReverseTransactionRequest) (models.Reversal, error)
	getReversalFn       func(ctx context.Context, transactionUUID string) (models.Reversal, error)
	createAdjustmentFn  func(ctx context.Context, req services.CreateAdjustmentRequest) (models.Adjustment, error)
	getAdjustmentFn     func(ctx context.Context, adjustmentUUID string) (models.Adjustment, error)
	listAdjustmentsFn   func(ctx context.Context, ledgerUUID string, limit, offset int) ([]models.Adjustment, error)
	createDepositFn     func(ctx context.Context, req services.CreateDepositRequest) (models.Deposit, error)
	getDepositFn        func(ctx context.Context, depositUUID string) (models.Deposit, error)
	listDepositsFn      func(ctx context.Context, ledgerUUID string, limit, offset int) ([]models.Deposit, error)
}

func (s stubLedgerService) CreateLedger(ctx context.Context, req services.CreateLedgerRequest) (models.Ledger, error) {
	if s.createLedgerFn == nil {
		return models.Ledger{}, nil
	}
	return s.createLedgerFn(ctx, req)
}

func (s stubLedgerService) GetLedger(ctx context.Context, ledgerUUID string) (models.Ledger, error) {
	if s.getLedgerFn == nil {
		return models.Ledger{}, nil
	}
	return s.getLedgerFn(ctx, ledgerUUID)
}

func (s stubLedgerService) ListLedgers(ctx context.Context, limit, offset int) ([]models.Ledger, error) {
	if s.listLedgersFn == nil {
		return nil, nil
	}
	return s.listLedgersFn(ctx, limit, offset)
}

func (s stubLedgerService) Balance(ctx context.Context, ledgerUUID string, committedOnly bool) (int64, error) {
	if s.balanceFn == nil {
		return 0, nil
	}
	return s.balanceFn(ctx, ledgerUUID, committedOnly)
}

func (s stubLedgerService) SubsetBalance(ctx context.Context, ledgerUUID string, filter store.TransactionFilter) (int64, error) {
	if s.subsetBalanceFn == nil {
		return 0, nil
	}
	return s.subsetBalanceFn(ctx, ledgerUUID, filter)
}

func (s stubLedgerService) TotalDeposits(ctx context.Context, ledgerUUID string) (int64, error) {
	if s.totalDepositsFn == nil {
		return 0, nil
	}
	return s.totalDepositsFn(ctx, ledgerUUID)
}

func (s stubLedgerService) CreateTransaction(ctx context.Context, req services.CreateTransactionRequest) (models.Transaction, bool, error) {
	if s.createTransactionFn == nil {
		return models.Transaction{}, false, nil
	}
	return s.createTransactionFn(ctx, req)
}

func (s stubLedgerService) GetTransaction(ctx context.Context, transactionUUID string) (models.Transaction, error) {
	if s.getTransactionFn == nil {
		return models.Transaction{}, nil
	}
	return s.getTransactionFn(ctx, transactionUUID)
}

func (s stubLedgerService) ListTransactions(ctx context.Context, ledgerUUID string, state models.TransactionState, limit, offset int) ([]models.Transaction, error) {
	if s.listTransactionsFn == nil {
		return nil, nil
	}
	return s.listTransactionsFn(ctx, ledgerUUID, state, limit, offset)
}

func (s stubLedgerService) UpdateTransactionState(ctx context.Context, transactionUUID string, next models.TransactionState) (models.Transaction, error) {
	if s.updateStateFn == nil {
		return models.Transaction{}, nil
	}
	return s.updateStateFn(ctx, transactionUUID, next)
}

func (s stubLedgerService) ReverseFullTransaction(ctx context.Context, req services.ReverseTransactionRequest) (models.Reversal, error) {
	if s.reverseFn == nil {
		return models.Reversal{}, nil
	}
	return s.reverseFn(ctx, req)
}

func (s stubLedgerService) GetReversalForTransaction(ctx context.Context, transactionUUID string) (models.Reversal, error) {
	if s.getReversalFn == nil {
		return models.Reversal{}, nil
	}
	return s.getReversalFn(ctx, transactionUUID)
}

func (s stubLedgerService) CreateAdjustment(ctx context.Context, req services.CreateAdjustmentRequest) (models.Adjustment, error) {
	if s.createAdjustmentFn == nil {
		return models.Adjustment{}, nil
	}
	return s.createAdjustmentFn(ctx, req)
}

func (s stubLedgerService) GetAdjustment(ctx context.Context, adjustmentUUID string) (models.Adjustment, error) {
	if s.getAdjustmentFn == nil {
		return models.Adjustment{}, nil
	}
	return s.getAdjustmentFn(ctx, adjustmentUUID)
}

func (s stubLedgerService) ListAdjustments(ctx context.Context, ledgerUUID string, limit, offset int) ([]models.Adjustment, error) {
	if s.listAdjustmentsFn == nil {
		return nil, nil
	}
	return s.listAdjustmentsFn(ctx, ledgerUUID, limit, offset)
}

func (s stubLedgerService) CreateDeposit(ctx context.Context, req services.CreateDepositRequest) (models.Deposit, error) {
	if s.createDepositFn == nil {
		return models.Deposit{}, nil
	}
	return s.createDepositFn(ctx, req)
}

func (s stubLedgerService) GetDeposit(ctx context.Context, depositUUID string) (models.Deposit, error) {
	if s.getDepositFn == nil {
		return models.Deposit{}, nil
	}
	return s.getDepositFn(ctx, depositUUID)
}

func (s stubLedgerService) ListDeposits(ctx context.Context, ledgerUUID string, limit, offset int) ([]models.Deposit, error) {
	if s.listDepositsFn == nil {
		return nil, nil
	}
	return s.listDepositsFn(ctx, ledgerUUID, limit, offset)
}

func newTestHandler(txRunner db.TxRunner, operators OperatorStore, providers ProviderStore, service LedgerService) *Handler {
	cfg := config.Config{
		AppEnv:         "test",
		Port:           "0",
		DatabaseURL:    "",
		JWTSecret:      "secret",
		TokenTTL:       time.Minute,
		AllowedOrigins: "*",
		DefaultUnit:    "usd_cents",
	}
	return New(txRunner, cfg, operators, providers, service, websocket.NewHub())
}

func requestWithUUID(req *http.Request, value string) *http.Request {
	routeCtx := chi.NewRouteContext()
	routeCtx.URLParams.Add("uuid", value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))
}

func serveAuthed(t *testing.T, handler http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	token, err := auth.GenerateToken("secret", "op-1", time.Minute)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	middleware.Auth("secret")(handler).ServeHTTP(rr, req)
	return rr
}

func stringPtr(value string) *string {
	return &value
}

func int64Ptr(value int64) *int64 {
	return &value
}
