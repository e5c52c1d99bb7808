// Package aggregator defines the client contract for the external
// financial-data provider and the retry policy applied at that boundary.
package aggregator

import (
	"context"
	"time"
)

// RemoteTransaction is one transaction snapshot as reported by the
// aggregator. Amount is kept as the raw wire string; parsing happens during
// reconciliation so a malformed amount rejects one record instead of
// failing the whole fetch.
type RemoteTransaction struct {
	// ExternalID is the aggregator's identifier, unique per account.
	ExternalID string `json:"transaction_id"`

	// AccountID is the aggregator-side account identifier.
	AccountID string `json:"account_id"`

	// Amount is the signed decimal amount as reported on the wire.
	// Negative = debit, positive = credit.
	Amount string `json:"amount"`

	Description  string `json:"description"`
	MerchantName string `json:"merchant_name"`

	// Category is the aggregator's own category guess, if any.
	Category string `json:"category,omitempty"`

	// Pending reports settlement status.
	Pending bool `json:"pending"`

	// TransactionDate is the date of the underlying financial event.
	TransactionDate time.Time `json:"transaction_date"`

	// LastModifiedAt is the aggregator's own last-update marker. Nil means
	// the aggregator does not report one and the snapshot is treated as
	// always fresh.
	LastModifiedAt *time.Time `json:"last_modified_at,omitempty"`
}

// TransactionsPage is one page of fetched transactions.
type TransactionsPage struct {
	Transactions []RemoteTransaction `json:"transactions"`

	// NextPageToken is empty when this is the last page.
	NextPageToken string `json:"next_page_token"`
}

// AccountStatus is the aggregator-reported account state.
type AccountStatus string

const (
	AccountStatusActive  AccountStatus = "active"
	AccountStatusClosed  AccountStatus = "closed"
	AccountStatusRevoked AccountStatus = "revoked"
)

// AccountInfo is the aggregator's metadata for one account.
type AccountInfo struct {
	AccountID       string        `json:"account_id"`
	Name            string        `json:"name"`
	InstitutionName string        `json:"institution_name"`
	Status          AccountStatus `json:"status"`
}

// Client is the read-only aggregator contract consumed by the orchestrator.
// Implementations must report rate-limit and auth failures distinguishably;
// see errors.go.
type Client interface {
	// FetchTransactions returns one page of transactions for the account,
	// covering events since the given time. Pass the previous page's
	// NextPageToken to continue; an empty token starts from the beginning.
	FetchTransactions(ctx context.Context, accountID string, since time.Time, pageToken string) (*TransactionsPage, error)

	// FetchAccountMetadata returns the aggregator's view of the account.
	FetchAccountMetadata(ctx context.Context, accountID string) (*AccountInfo, error)
}
