package models

import "time"

type Unit string

const (
	UnitUSDCents Unit = "usd_cents"
	UnitSeats    Unit = "seats"
	UnitJPY      Unit = "jpy"
)

func (u Unit) Valid() bool {
	switch u {
	case UnitUSDCents, UnitSeats, UnitJPY:
		return true
	}
	return false
}

type TransactionState string

const (
	TransactionStateCreated   TransactionState = "created"
	TransactionStatePending   TransactionState = "pending"
	TransactionStateCommitted TransactionState = "committed"
	TransactionStateFailed    TransactionState = "failed"
)

func (s TransactionState) Valid() bool {
	switch s {
	case TransactionStateCreated, TransactionStatePending, TransactionStateCommitted, TransactionStateFailed:
		return true
	}
	return false
}

// CanTransitionTo reports whether a transaction may move from s to next.
// Committed and failed are terminal.
func (s TransactionState) CanTransitionTo(next TransactionState) bool {
	switch s {
	case TransactionStateCreated:
		return next == TransactionStatePending || next == TransactionStateCommitted || next == TransactionStateFailed
	case TransactionStatePending:
		return next == TransactionStateCommitted || next == TransactionStateFailed
	}
	return false
}

type AdjustmentReason string

const (
	AdjustmentReasonTechnicalChallenges AdjustmentReason = "technical_challenges"
	AdjustmentReasonPolicyException     AdjustmentReason = "policy_exception"
	AdjustmentReasonBillingError        AdjustmentReason = "billing_error"
	AdjustmentReasonOther               AdjustmentReason = "other"
)

func (r AdjustmentReason) Valid() bool {
	switch r {
	case AdjustmentReasonTechnicalChallenges, AdjustmentReasonPolicyException, AdjustmentReasonBillingError, AdjustmentReasonOther:
		return true
	}
	return false
}

type ReferenceType string

const ReferenceTypeEnterpriseFulfillment ReferenceType = "learner_credit_enterprise_course_enrollment_id"

type Ledger struct {
	UUID           string    `db:"uuid" json:"uuid"`
	IdempotencyKey string    `db:"idempotency_key" json:"idempotency_key"`
	Unit           Unit      `db:"unit" json:"unit"`
	Metadata       string    `db:"metadata" json:"metadata"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

type Transaction struct {
	UUID                    string           `db:"uuid" json:"uuid"`
	LedgerUUID              *string          `db:"ledger_uuid" json:"ledger_uuid,omitempty"`
	IdempotencyKey          string           `db:"idempotency_key" json:"idempotency_key"`
	Quantity                int64            `db:"quantity" json:"quantity"`
	State                   TransactionState `db:"state" json:"state"`
	LmsUserID               *int64           `db:"lms_user_id" json:"lms_user_id,omitempty"`
	LmsUserEmail            *string          `db:"lms_user_email" json:"lms_user_email,omitempty"`
	ContentKey              *string          `db:"content_key" json:"content_key,omitempty"`
	ParentContentKey        *string          `db:"parent_content_key" json:"parent_content_key,omitempty"`
	ContentTitle            *string          `db:"content_title" json:"content_title,omitempty"`
	CourseRunStartDate      *time.Time       `db:"course_run_start_date" json:"course_run_start_date,omitempty"`
	SubsidyAccessPolicyUUID *string          `db:"subsidy_access_policy_uuid" json:"subsidy_access_policy_uuid,omitempty"`
	FulfillmentIdentifier   *string          `db:"fulfillment_identifier" json:"fulfillment_identifier,omitempty"`
	ReferenceID             *string          `db:"reference_id" json:"reference_id,omitempty"`
	ReferenceType           *ReferenceType   `db:"reference_type" json:"reference_type,omitempty"`
	Metadata                string           `db:"metadata" json:"metadata"`
	CreatedAt               time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt               time.Time        `db:"updated_at" json:"updated_at"`
}

type Reversal struct {
	UUID            string           `db:"uuid" json:"uuid"`
	TransactionUUID *string          `db:"transaction_uuid" json:"transaction_uuid,omitempty"`
	IdempotencyKey  string           `db:"idempotency_key" json:"idempotency_key"`
	Quantity        int64            `db:"quantity" json:"quantity"`
	State           TransactionState `db:"state" json:"state"`
	Metadata        string           `db:"metadata" json:"metadata"`
	CreatedAt       time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time        `db:"updated_at" json:"updated_at"`
}

type Adjustment struct {
	UUID                      string           `db:"uuid" json:"uuid"`
	LedgerUUID                string           `db:"ledger_uuid" json:"ledger_uuid"`
	TransactionUUID           string           `db:"transaction_uuid" json:"transaction_uuid"`
	TransactionOfInterestUUID *string          `db:"transaction_of_interest_uuid" json:"transaction_of_interest_uuid,omitempty"`
	AdjustmentQuantity        int64            `db:"adjustment_quantity" json:"adjustment_quantity"`
	Reason                    AdjustmentReason `db:"reason" json:"reason"`
	Notes                     string           `db:"notes" json:"notes"`
	CreatedAt                 time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt                 time.Time        `db:"updated_at" json:"updated_at"`
}

type Deposit struct {
	UUID                               string    `db:"uuid" json:"uuid"`
	LedgerUUID                         string    `db:"ledger_uuid" json:"ledger_uuid"`
	TransactionUUID                    string    `db:"transaction_uuid" json:"transaction_uuid"`
	DesiredDepositQuantity             int64     `db:"desired_deposit_quantity" json:"desired_deposit_quantity"`
	SalesContractReferenceID           *string   `db:"sales_contract_reference_id" json:"sales_contract_reference_id,omitempty"`
	SalesContractReferenceProviderUUID *string   `db:"sales_contract_reference_provider_uuid" json:"sales_contract_reference_provider_uuid,omitempty"`
	CreatedAt                          time.Time `db:"created_at" json:"created_at"`
	UpdatedAt                          time.Time `db:"updated_at" json:"updated_at"`
}

type ExternalFulfillmentProvider struct {
	UUID      string    `db:"uuid" json:"uuid"`
	Name      string    `db:"name" json:"name"`
	Slug      string    `db:"slug" json:"slug"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

type SalesContractReferenceProvider struct {
	UUID      string    `db:"uuid" json:"uuid"`
	Name      string    `db:"name" json:"name"`
	Slug      string    `db:"slug" json:"slug"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

type ExternalTransactionReference struct {
	UUID                            string    `db:"uuid" json:"uuid"`
	TransactionUUID                 string    `db:"transaction_uuid" json:"transaction_uuid"`
	ExternalFulfillmentProviderUUID string    `db:"external_fulfillment_provider_uuid" json:"external_fulfillment_provider_uuid"`
	ExternalReferenceID             string    `db:"external_reference_id" json:"external_reference_id"`
	CreatedAt                       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt                       time.Time `db:"updated_at" json:"updated_at"`
}

type Operator struct {
	UUID         string    `db:"uuid" json:"uuid"`
	Username     string    `db:"username" json:"username"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}
