// Package inmemory provides a Store backed by process memory. Suitable for
// single-instance deployments and testing; data is lost on restart.
package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mvolkov/finsync/internal/domain"
	"github.com/mvolkov/finsync/internal/resolve"
	"github.com/mvolkov/finsync/internal/store"
)

// key identifies a transaction within an account.
type key struct {
	accountID  string
	externalID string
}

// Store is an in-memory implementation of store.Store.
// It is safe for concurrent use. Batch commits are applied under a single
// write lock after full validation, so a failed batch leaves no trace.
type Store struct {
	mu           sync.RWMutex
	byExternal   map[key]*domain.Transaction
	lastSyncedAt map[string]time.Time
	now          func() time.Time
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return NewStoreWithClock(time.Now)
}

// NewStoreWithClock creates an empty store that stamps category mutations
// with the given clock. Tests use it to pin LastModifiedAt.
func NewStoreWithClock(now func() time.Time) *Store {
	return &Store{
		byExternal:   make(map[key]*domain.Transaction),
		lastSyncedAt: make(map[string]time.Time),
		now:          now,
	}
}

// FindByExternalID implements store.Store.
func (s *Store) FindByExternalID(ctx context.Context, accountID, externalID string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.byExternal[key{accountID, externalID}]
	if !ok {
		return nil, store.ErrNotFound
	}
	return tx.Clone(), nil
}

// CommitBatch implements store.Store. The whole batch is validated before
// anything is written; a validation failure returns with the store
// untouched.
func (s *Store) CommitBatch(ctx context.Context, accountID string, decisions []resolve.Decision) (store.CommitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := make(map[key]*domain.Transaction, len(decisions))
	var result store.CommitResult

	for _, d := range decisions {
		switch d.Kind {
		case resolve.KindCreate:
			k := key{accountID, d.Transaction.ExternalID}
			if _, exists := s.byExternal[k]; exists {
				return store.CommitResult{}, fmt.Errorf("CommitBatch: external_id %q: %w", d.Transaction.ExternalID, store.ErrDuplicateExternalID)
			}
			if _, exists := staged[k]; exists {
				return store.CommitResult{}, fmt.Errorf("CommitBatch: external_id %q staged twice: %w", d.Transaction.ExternalID, store.ErrDuplicateExternalID)
			}
			staged[k] = d.Transaction.Clone()
			result.Created++
		case resolve.KindUpdate:
			k := key{accountID, d.Transaction.ExternalID}
			existing, exists := s.byExternal[k]
			if !exists {
				return store.CommitResult{}, fmt.Errorf("CommitBatch: external_id %q: %w", d.Transaction.ExternalID, store.ErrNotFound)
			}
			merged := d.Transaction.Clone()
			// Local identity is stable across updates.
			merged.ID = existing.ID
			staged[k] = merged
			result.Updated++
		default:
			// NO_OP and REJECT decisions never reach the store.
		}
	}

	for k, tx := range staged {
		s.byExternal[k] = tx
	}
	return result, nil
}

// LastSyncedAt implements store.Store.
func (s *Store) LastSyncedAt(ctx context.Context, accountID string) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSyncedAt[accountID], nil
}

// SetLastSyncedAt implements store.Store.
func (s *Store) SetLastSyncedAt(ctx context.Context, accountID string, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSyncedAt[accountID] = ts
	return nil
}

// SetUserCategory implements store.Store.
func (s *Store) SetUserCategory(ctx context.Context, accountID, id, category string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.findByIDLocked(accountID, id)
	if err != nil {
		return err
	}
	tx.Category = category
	tx.CategorySource = domain.CategorySourceUser
	if now := s.now(); now.After(tx.LastModifiedAt) {
		tx.LastModifiedAt = now
	}
	return nil
}

// ClearUserCategory implements store.Store.
func (s *Store) ClearUserCategory(ctx context.Context, accountID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.findByIDLocked(accountID, id)
	if err != nil {
		return err
	}
	tx.CategorySource = domain.CategorySourceSystem
	if now := s.now(); now.After(tx.LastModifiedAt) {
		tx.LastModifiedAt = now
	}
	return nil
}

// ListByAccount implements store.Store. Results are ordered by transaction
// date, then external ID, for stable output.
func (s *Store) ListByAccount(ctx context.Context, accountID string) ([]*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Transaction
	for k, tx := range s.byExternal {
		if k.accountID == accountID {
			result = append(result, tx.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].TransactionDate.Equal(result[j].TransactionDate) {
			return result[i].TransactionDate.Before(result[j].TransactionDate)
		}
		return result[i].ExternalID < result[j].ExternalID
	})
	return result, nil
}

func (s *Store) findByIDLocked(accountID, id string) (*domain.Transaction, error) {
	for k, tx := range s.byExternal {
		if k.accountID == accountID && tx.ID == id {
			return tx, nil
		}
	}
	return nil, store.ErrNotFound
}

var _ store.Store = (*Store)(nil)
