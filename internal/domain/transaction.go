package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CategorySource records who assigned a transaction's category.
type CategorySource string

const (
	// CategorySourceSystem means the category was assigned by the rule-based
	// classifier and may be replaced on a later sync.
	CategorySourceSystem CategorySource = "SYSTEM"
	// CategorySourceUser means the user set the category explicitly. It is
	// never overwritten by the classifier or a remote refresh until the user
	// clears it.
	CategorySourceUser CategorySource = "USER"
)

// Transaction is the canonical local transaction record.
// (AccountID, ExternalID) uniquely identifies a transaction; the resolver
// must never produce two local records for the same pair.
type Transaction struct {
	// ID is the stable local identifier, assigned on first local creation
	// and never reused.
	ID string

	// ExternalID is the aggregator-assigned identifier, unique per account.
	// Used for deduplication on re-fetch.
	ExternalID string

	// AccountID is the owning account. Account lifecycle is managed outside
	// this subsystem.
	AccountID string

	// Amount is signed: negative = debit, positive = credit.
	Amount decimal.Decimal

	Description  string
	MerchantName string

	// Category is never empty once the transaction has passed through the
	// classifier at least once.
	Category       string
	CategorySource CategorySource

	// Pending is the aggregator-reported settlement status.
	Pending bool

	// TransactionDate is when the underlying financial event happened, not
	// when the record was last touched.
	TransactionDate time.Time

	// LastModifiedAt is the time of the last local mutation. Monotonically
	// non-decreasing per transaction.
	LastModifiedAt time.Time

	// LastSyncedAt is the time of the last successful reconciliation with
	// remote data.
	LastSyncedAt time.Time
}

// UserOwnsCategory reports whether the user has pinned the category.
func (t *Transaction) UserOwnsCategory() bool {
	return t.CategorySource == CategorySourceUser
}

// Clone returns a copy of the transaction. Decimal values are immutable, so
// a shallow copy is enough.
func (t *Transaction) Clone() *Transaction {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
