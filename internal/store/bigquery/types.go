package bigquery

import (
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/mvolkov/finsync/internal/domain"
)

// TransactionRow is the finance.transactions table schema.
type TransactionRow struct {
	TransactionID string `bigquery:"transaction_id"` // REQUIRED
	ExternalID    string `bigquery:"external_id"`    // REQUIRED
	AccountID     string `bigquery:"account_id"`     // REQUIRED

	Amount *big.Rat `bigquery:"amount"` // REQUIRED NUMERIC

	Description  string              `bigquery:"description"`
	MerchantName bigquery.NullString `bigquery:"merchant_name"`

	Category       string `bigquery:"category"`
	CategorySource string `bigquery:"category_source"` // SYSTEM | USER

	IsPending bool `bigquery:"is_pending"`

	TransactionDate civil.Date `bigquery:"transaction_date"` // REQUIRED DATE

	LastModifiedTS time.Time `bigquery:"last_modified_ts"`
	LastSyncedTS   time.Time `bigquery:"last_synced_ts"`
}

// SyncStateRow is the finance.account_sync_state table schema.
type SyncStateRow struct {
	AccountID    string    `bigquery:"account_id"`
	LastSyncedTS time.Time `bigquery:"last_synced_ts"`
}

// rowFromTransaction maps a domain record into the table schema.
func rowFromTransaction(t *domain.Transaction) *TransactionRow {
	row := &TransactionRow{
		TransactionID:   t.ID,
		ExternalID:      t.ExternalID,
		AccountID:       t.AccountID,
		Amount:          t.Amount.Rat(),
		Description:     t.Description,
		Category:        t.Category,
		CategorySource:  string(t.CategorySource),
		IsPending:       t.Pending,
		TransactionDate: civil.DateOf(t.TransactionDate.UTC()),
		LastModifiedTS:  t.LastModifiedAt,
		LastSyncedTS:    t.LastSyncedAt,
	}
	if t.MerchantName != "" {
		row.MerchantName = bigquery.NullString{StringVal: t.MerchantName, Valid: true}
	}
	return row
}

// transactionFromRow maps a table row back into the domain record.
// Amounts are NUMERIC(38,9) in the warehouse.
func transactionFromRow(r *TransactionRow) *domain.Transaction {
	return &domain.Transaction{
		ID:              r.TransactionID,
		ExternalID:      r.ExternalID,
		AccountID:       r.AccountID,
		Amount:          decimal.NewFromBigRat(r.Amount, 9),
		Description:     r.Description,
		MerchantName:    r.MerchantName.StringVal,
		Category:        r.Category,
		CategorySource:  domain.CategorySource(r.CategorySource),
		Pending:         r.IsPending,
		TransactionDate: r.TransactionDate.In(time.UTC),
		LastModifiedAt:  r.LastModifiedTS,
		LastSyncedAt:    r.LastSyncedTS,
	}
}
