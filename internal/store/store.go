// Package store defines the persistence contract for canonical transaction
// records. Implementations must support atomic multi-row commit: either the
// whole batch becomes visible or none of it.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/mvolkov/finsync/internal/domain"
	"github.com/mvolkov/finsync/internal/resolve"
)

// ErrNotFound is returned when no transaction matches the lookup key.
var ErrNotFound = errors.New("store: transaction not found")

// ErrDuplicateExternalID is returned when a CREATE decision targets an
// (accountID, externalID) pair that already has a record. It indicates the
// batch was built against stale state; the whole commit is rolled back.
var ErrDuplicateExternalID = errors.New("store: duplicate external id")

// CommitResult reports what an applied batch changed.
type CommitResult struct {
	Created int
	Updated int
}

// Store is the transaction persistence contract consumed by the sync
// orchestrator.
type Store interface {
	// FindByExternalID returns the local record for (accountID, externalID),
	// or ErrNotFound.
	FindByExternalID(ctx context.Context, accountID, externalID string) (*domain.Transaction, error)

	// CommitBatch atomically applies the CREATE and UPDATE decisions.
	// Other decision kinds are skipped. On error nothing is applied.
	CommitBatch(ctx context.Context, accountID string, decisions []resolve.Decision) (CommitResult, error)

	// LastSyncedAt returns when the account last completed a sync.
	// The zero time means the account has never synced.
	LastSyncedAt(ctx context.Context, accountID string) (time.Time, error)

	// SetLastSyncedAt records a successful sync for the account. Called
	// only after CommitBatch succeeds.
	SetLastSyncedAt(ctx context.Context, accountID string, ts time.Time) error

	// SetUserCategory pins a category on a transaction as a user choice.
	SetUserCategory(ctx context.Context, accountID, id, category string) error

	// ClearUserCategory drops a user category pin, reverting the source to
	// SYSTEM so the next sync re-classifies the transaction.
	ClearUserCategory(ctx context.Context, accountID, id string) error

	// ListByAccount returns all transactions for the account.
	ListByAccount(ctx context.Context, accountID string) ([]*domain.Transaction, error)
}
