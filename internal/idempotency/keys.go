package idempotency

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

const (
	LedgerDefaultKeyPrefix = "ledger-default"
	LedgerSubsidyKeyPrefix = "ledger-for-subsidy"
	InitialDepositSlug     = "initial-deposit"
)

// Metadata fields that contribute to a transaction's derived key. Anything
// outside this set never influences the key.
var transactionKeyFields = map[string]struct{}{
	"lms_user_id":                {},
	"content_key":                {},
	"subsidy_access_policy_uuid": {},
}

// KeyForLedger derives a ledger idempotency key from the subsidy it funds,
// or a random one when no subsidy reference exists.
func KeyForLedger(subsidyUUID string) string {
	if subsidyUUID != "" {
		return fmt.Sprintf("%s-%s", LedgerSubsidyKeyPrefix, subsidyUUID)
	}
	return fmt.Sprintf("%s-%s", LedgerDefaultKeyPrefix, uuid.NewString())
}

// KeyForTransaction derives a deterministic transaction key from the ledger
// key, the quantity, and the relevant metadata fields. The digest input is
// sorted so map iteration order never changes the key. When no relevant field
// is present the digest covers a fresh random identifier, so two blind calls
// never collide.
func KeyForTransaction(ledgerKey string, quantity int64, metadata map[string]any) string {
	parts := make([]string, 0, len(transactionKeyFields))
	for field := range transactionKeyFields {
		if v, ok := metadata[field]; ok {
			parts = append(parts, field+"="+fmt.Sprint(v))
		}
	}
	if len(parts) == 0 {
		parts = append(parts, "default_identifier="+uuid.NewString())
	}
	sort.Strings(parts)
	digest := md5.Sum([]byte(strings.Join(parts, "&")))
	return fmt.Sprintf("%s-%d-%s", ledgerKey, quantity, hex.EncodeToString(digest[:]))
}

// KeyForInitialDeposit derives the well-known key for a ledger's initial
// funding transaction. Repeated ledger-creation calls reuse it, so the ledger
// is never double-funded.
func KeyForInitialDeposit(ledgerKey string, quantity int64) string {
	return fmt.Sprintf("%s-%d-%s", ledgerKey, quantity, InitialDepositSlug)
}

// IsInitialDepositKey reports whether key marks an initial funding
// transaction. Backfill tooling matches on this to find legacy deposits.
func IsInitialDepositKey(key string) bool {
	return strings.HasSuffix(key, "-"+InitialDepositSlug)
}

// KeyForAdjustment derives a unique key for an adjustment's backing
// transaction. The random disambiguator makes every call distinct: adjustment
// creation is not idempotent.
func KeyForAdjustment(ledgerUUID string, quantity int64) string {
	return fmt.Sprintf("%s-adjustment-%d-reason-%s", ledgerUUID, quantity, uuid.NewString())
}
