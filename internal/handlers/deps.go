package handlers

import (
	"context"

	"creditledger/internal/models"
	"creditledger/internal/services"
	"creditledger/internal/store"
)

type OperatorStore interface {
	Create(ctx context.Context, tx store.Execer, uuid, username, email, passwordHash string) error
	GetByEmail(ctx context.Context, email string) (models.Operator, error)
	GetByUUID(ctx context.Context, operatorUUID string) (models.Operator, error)
}

type ProviderStore interface {
	CreateFulfillmentProvider(ctx context.Context, tx store.Execer, uuid, name, slug string) error
	GetFulfillmentProviderBySlug(ctx context.Context, slug string) (models.ExternalFulfillmentProvider, error)
	ListFulfillmentProviders(ctx context.Context) ([]models.ExternalFulfillmentProvider, error)
	CreateSalesContractProvider(ctx context.Context, tx store.Execer, uuid, name, slug string) error
	ListSalesContractProviders(ctx context.Context) ([]models.SalesContractReferenceProvider, error)
	CreateExternalReference(ctx context.Context, tx store.Execer, input store.ExternalReferenceInput) error
	ListExternalReferencesByTransaction(ctx context.Context, transactionUUID string) ([]models.ExternalTransactionReference, error)
}

type LedgerService interface {
	CreateLedger(ctx context.Context, req services.CreateLedgerRequest) (models.Ledger, error)
	GetLedger(ctx context.Context, ledgerUUID string) (models.Ledger, error)
	ListLedgers(ctx context.Context, limit, offset int) ([]models.Ledger, error)
	Balance(ctx context.Context, ledgerUUID string, committedOnly bool) (int64, error)
	SubsetBalance(ctx context.Context, ledgerUUID string, filter store.TransactionFilter) (int64, error)
	TotalDeposits(ctx context.Context, ledgerUUID string) (int64, error)
	CreateTransaction(ctx context.Context, req services.CreateTransactionRequest) (models.Transaction, bool, error)
	GetTransaction(ctx context.Context, transactionUUID string) (models.Transaction, error)
	ListTransactions(ctx context.Context, ledgerUUID string, state models.TransactionState, limit, offset int) ([]models.Transaction, error)
	UpdateTransactionState(ctx context.Context, transactionUUID string, next models.TransactionState) (models.Transaction, error)
	ReverseFullTransaction(ctx context.Context, req services.ReverseTransactionRequest) (models.Reversal, error)
	GetReversalForTransaction(ctx context.Context, transactionUUID string) (models.Reversal, error)
	CreateAdjustment(ctx context.Context, req services.CreateAdjustmentRequest) (models.Adjustment, error)
	GetAdjustment(ctx context.Context, adjustmentUUID string) (models.Adjustment, error)
	ListAdjustments(ctx context.Context, ledgerUUID string, limit, offset int) ([]models.Adjustment, error)
	CreateDeposit(ctx context.Context, req services.CreateDepositRequest) (models.Deposit, error)
	GetDeposit(ctx context.Context, depositUUID string) (models.Deposit, error)
	ListDeposits(ctx context.Context, ledgerUUID string, limit, offset int) ([]models.Deposit, error)
}
