// Package resolve merges freshly fetched remote transaction snapshots with
// locally stored state. The aggregator is authoritative for transaction
// facts (amount, description, merchant, pending, date); the user is
// authoritative for the category once they have set it.
package resolve

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mvolkov/finsync/internal/aggregator"
	"github.com/mvolkov/finsync/internal/domain"
)

// Kind tags a merge decision. Call sites must handle every variant.
type Kind int

const (
	// KindCreate means no local record exists; Transaction holds the new one.
	KindCreate Kind = iota + 1
	// KindUpdate means the local record changed; Transaction holds the merge.
	KindUpdate
	// KindNoOp means the remote snapshot matches local state exactly.
	KindNoOp
	// KindReject means the remote record is unusable; Reason says why.
	KindReject
)

func (k Kind) String() string {
	switch k {
	case KindCreate:
		return "CREATE"
	case KindUpdate:
		return "UPDATE"
	case KindNoOp:
		return "NO_OP"
	case KindReject:
		return "REJECT"
	default:
		return "UNKNOWN"
	}
}

// RejectReason is a stable code describing why a remote record was rejected.
type RejectReason string

const (
	RejectMissingExternalID RejectReason = "missing_external_id"
	RejectMalformedAmount   RejectReason = "malformed_amount"
	RejectAccountMismatch   RejectReason = "account_mismatch"

	// RejectDuplicateInFeed marks a snapshot whose external ID already
	// appeared earlier in the same run. External IDs are unique per account,
	// so a repeat is malformed input; the first occurrence wins.
	RejectDuplicateInFeed RejectReason = "duplicate_in_feed"
)

// Decision is the outcome of merging one remote snapshot.
type Decision struct {
	Kind Kind

	// ExternalID identifies the remote record the decision is about. Set
	// for every kind, including rejects, so runs can report which records
	// were skipped.
	ExternalID string

	// Transaction is the record to persist for CREATE and UPDATE, or the
	// untouched local record for NO_OP. Nil for REJECT.
	Transaction *domain.Transaction

	// Reason is set for REJECT decisions only.
	Reason RejectReason

	// Conflict marks decisions where local and remote disagreed on a field
	// and one side had to win: a user-pinned category overriding a remote
	// change, or a remote core-field change racing a local edit.
	Conflict bool
}

// Resolver merges remote snapshots against local records.
type Resolver struct{}

// New creates a Resolver.
func New() *Resolver {
	return &Resolver{}
}

// Merge decides how the remote snapshot reconciles against the local record.
// local may be nil when no record exists for (accountID, externalID).
// now is the mutation timestamp applied to created and updated records.
//
// Merge never fails: malformed input surfaces as a REJECT decision.
func (r *Resolver) Merge(local *domain.Transaction, accountID string, remote aggregator.RemoteTransaction, now time.Time) Decision {
	if remote.ExternalID == "" {
		return Decision{Kind: KindReject, Reason: RejectMissingExternalID}
	}
	if remote.AccountID != "" && remote.AccountID != accountID {
		return Decision{Kind: KindReject, ExternalID: remote.ExternalID, Reason: RejectAccountMismatch}
	}

	amount, err := decimal.NewFromString(remote.Amount)
	if err != nil {
		return Decision{Kind: KindReject, ExternalID: remote.ExternalID, Reason: RejectMalformedAmount}
	}

	if local == nil {
		return Decision{
			Kind:       KindCreate,
			ExternalID: remote.ExternalID,
			Transaction: &domain.Transaction{
				ID:              uuid.NewString(),
				ExternalID:      remote.ExternalID,
				AccountID:       accountID,
				Amount:          amount,
				Description:     remote.Description,
				MerchantName:    remote.MerchantName,
				CategorySource:  domain.CategorySourceSystem,
				Pending:         remote.Pending,
				TransactionDate: remote.TransactionDate,
				LastModifiedAt:  now,
				LastSyncedAt:    now,
			},
		}
	}

	merged := local.Clone()

	// Core fields always refresh from remote: the aggregator is ground
	// truth for financial facts. On a timestamp tie remote still wins.
	coreChanged := false
	if !merged.Amount.Equal(amount) {
		merged.Amount = amount
		coreChanged = true
	}
	if merged.Description != remote.Description {
		merged.Description = remote.Description
		coreChanged = true
	}
	if merged.MerchantName != remote.MerchantName {
		merged.MerchantName = remote.MerchantName
		coreChanged = true
	}
	if merged.Pending != remote.Pending {
		merged.Pending = remote.Pending
		coreChanged = true
	}
	if !merged.TransactionDate.Equal(remote.TransactionDate) {
		merged.TransactionDate = remote.TransactionDate
		coreChanged = true
	}

	// Category: the user's choice is preserved unconditionally. A
	// system-assigned category follows the remote one when present.
	categoryChanged := false
	conflict := false
	if local.UserOwnsCategory() {
		if remote.Category != "" && remote.Category != local.Category {
			conflict = true
		}
	} else if remote.Category != "" && remote.Category != merged.Category {
		merged.Category = remote.Category
		categoryChanged = true
	}

	if coreChanged && remote.LastModifiedAt != nil && !remote.LastModifiedAt.After(local.LastModifiedAt) {
		// Remote change not strictly newer than the last local mutation:
		// a concurrent edit that remote won.
		conflict = true
	}

	if !coreChanged && !categoryChanged {
		return Decision{
			Kind:        KindNoOp,
			ExternalID:  remote.ExternalID,
			Transaction: local,
			Conflict:    conflict,
		}
	}

	merged.LastModifiedAt = monotonic(local.LastModifiedAt, now)
	merged.LastSyncedAt = now

	return Decision{
		Kind:        KindUpdate,
		ExternalID:  remote.ExternalID,
		Transaction: merged,
		Conflict:    conflict,
	}
}

// monotonic keeps LastModifiedAt non-decreasing even if the wall clock
// stepped backwards between mutations.
func monotonic(prev, now time.Time) time.Time {
	if now.Before(prev) {
		return prev
	}
	return now
}
