package sync

import (
	"context"
	"errors"
	stdsync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvolkov/finsync/internal/aggregator"
	"github.com/mvolkov/finsync/internal/domain"
	"github.com/mvolkov/finsync/internal/gate"
	"github.com/mvolkov/finsync/internal/locks"
	"github.com/mvolkov/finsync/internal/logger"
	"github.com/mvolkov/finsync/internal/resolve"
	"github.com/mvolkov/finsync/internal/store"
	"github.com/mvolkov/finsync/internal/store/inmemory"
)

// mockClient is a function-field mock for the aggregator client.
type mockClient struct {
	fetchTransactionsFunc    func(ctx context.Context, accountID string, since time.Time, pageToken string) (*aggregator.TransactionsPage, error)
	fetchAccountMetadataFunc func(ctx context.Context, accountID string) (*aggregator.AccountInfo, error)
}

func (m *mockClient) FetchTransactions(ctx context.Context, accountID string, since time.Time, pageToken string) (*aggregator.TransactionsPage, error) {
	return m.fetchTransactionsFunc(ctx, accountID, since, pageToken)
}

func (m *mockClient) FetchAccountMetadata(ctx context.Context, accountID string) (*aggregator.AccountInfo, error) {
	if m.fetchAccountMetadataFunc != nil {
		return m.fetchAccountMetadataFunc(ctx, accountID)
	}
	return &aggregator.AccountInfo{AccountID: accountID, Status: aggregator.AccountStatusActive}, nil
}

// singlePage returns a client serving one fixed page of transactions.
func singlePage(txs ...aggregator.RemoteTransaction) *mockClient {
	return &mockClient{
		fetchTransactionsFunc: func(ctx context.Context, accountID string, since time.Time, pageToken string) (*aggregator.TransactionsPage, error) {
			return &aggregator.TransactionsPage{Transactions: txs}, nil
		},
	}
}

func remoteTx(externalID, amount, merchant string) aggregator.RemoteTransaction {
	return aggregator.RemoteTransaction{
		ExternalID:      externalID,
		AccountID:       "acct-1",
		Amount:          amount,
		Description:     "purchase",
		MerchantName:    merchant,
		TransactionDate: time.Date(2026, 8, 18, 0, 0, 0, 0, time.UTC),
	}
}

func newOrchestrator(client aggregator.Client, st store.Store) *Orchestrator {
	return New(Config{
		Client: client,
		Store:  st,
		Locks:  locks.NewTable(),
		Gate:   gate.New(gate.Config{MaxConcurrent: 4, RequestsPerSecond: 10000, Burst: 10000, MaxWait: time.Second}),
		Retry:  aggregator.RetryPolicy{MaxAttempts: 4, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
	})
}

func TestSyncAccount_CreatesAndClassifies(t *testing.T) {
	st := inmemory.NewStore()
	o := newOrchestrator(singlePage(
		remoteTx("ext-1", "-45.00", "Walmart"),
		remoteTx("ext-2", "2500.00", "Acme Payroll"),
	), st)

	run, err := o.SyncAccount(context.Background(), "acct-1")
	require.NoError(t, err)

	assert.Equal(t, StatusSucceeded, run.Status)
	assert.Equal(t, StateSucceeded, run.State)
	assert.Equal(t, 2, run.FetchedCount)
	assert.Equal(t, 2, run.CreatedCount)
	assert.Equal(t, 0, run.UpdatedCount)

	got, err := st.FindByExternalID(context.Background(), "acct-1", "ext-1")
	require.NoError(t, err)
	assert.Equal(t, "Groceries", got.Category)
	assert.Equal(t, domain.CategorySourceSystem, got.CategorySource)

	income, err := st.FindByExternalID(context.Background(), "acct-1", "ext-2")
	require.NoError(t, err)
	assert.Equal(t, "Income", income.Category)

	ts, err := st.LastSyncedAt(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, run.StartedAt, ts)
}

func TestSyncAccount_SecondRunIsNoOp(t *testing.T) {
	st := inmemory.NewStore()
	o := newOrchestrator(singlePage(remoteTx("ext-1", "-45.00", "Walmart")), st)

	first, err := o.SyncAccount(context.Background(), "acct-1")
	require.NoError(t, err)
	require.Equal(t, 1, first.CreatedCount)

	second, err := o.SyncAccount(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 0, second.CreatedCount, "re-sync with unchanged data must not create")
	assert.Equal(t, 0, second.UpdatedCount, "re-sync with unchanged data must not update")
	assert.Equal(t, 1, second.FetchedCount)
}

func TestSyncAccount_UserCategorySurvivesResync(t *testing.T) {
	st := inmemory.NewStore()
	remote := remoteTx("ext-1", "-45.00", "Walmart")
	o := newOrchestrator(singlePage(remote), st)

	_, err := o.SyncAccount(context.Background(), "acct-1")
	require.NoError(t, err)

	got, err := st.FindByExternalID(context.Background(), "acct-1", "ext-1")
	require.NoError(t, err)
	require.NoError(t, st.SetUserCategory(context.Background(), "acct-1", got.ID, "Travel"))

	// Remote now carries a different category.
	remote.Category = "Shopping"
	o = newOrchestrator(singlePage(remote), st)

	run, err := o.SyncAccount(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 1, run.ConflictCount)

	got, err = st.FindByExternalID(context.Background(), "acct-1", "ext-1")
	require.NoError(t, err)
	assert.Equal(t, "Travel", got.Category)
	assert.Equal(t, domain.CategorySourceUser, got.CategorySource)
}

func TestSyncAccount_Exclusivity(t *testing.T) {
	st := inmemory.NewStore()

	fetchStarted := make(chan struct{})
	releaseFetch := make(chan struct{})
	var fetchStartedOnce stdsync.Once
	client := &mockClient{
		fetchTransactionsFunc: func(ctx context.Context, accountID string, since time.Time, pageToken string) (*aggregator.TransactionsPage, error) {
			fetchStartedOnce.Do(func() { close(fetchStarted) })
			<-releaseFetch
			return &aggregator.TransactionsPage{}, nil
		},
	}
	o := newOrchestrator(client, st)

	type outcome struct {
		run *SyncRun
		err error
	}
	firstDone := make(chan outcome, 1)
	go func() {
		run, err := o.SyncAccount(context.Background(), "acct-1")
		firstDone <- outcome{run, err}
	}()

	<-fetchStarted

	// Second call while the first holds the lock: fails fast, no queueing.
	run, err := o.SyncAccount(context.Background(), "acct-1")
	require.ErrorIs(t, err, ErrSyncAlreadyInProgress)
	assert.Equal(t, StatusFailed, run.Status)

	close(releaseFetch)
	first := <-firstDone
	require.NoError(t, first.err)
	assert.Equal(t, StatusSucceeded, first.run.Status)

	// The lock is free again after completion.
	run, err = o.SyncAccount(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, run.Status)
}

func TestSyncAccount_TransientErrorsRetried(t *testing.T) {
	st := inmemory.NewStore()

	calls := 0
	client := &mockClient{
		fetchTransactionsFunc: func(ctx context.Context, accountID string, since time.Time, pageToken string) (*aggregator.TransactionsPage, error) {
			calls++
			if calls <= 3 {
				return nil, &aggregator.APIError{StatusCode: 500, ErrorMessage: "upstream down"}
			}
			return &aggregator.TransactionsPage{Transactions: []aggregator.RemoteTransaction{remoteTx("ext-1", "-10.00", "Shell")}}, nil
		},
	}
	o := newOrchestrator(client, st)

	run, err := o.SyncAccount(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, run.Status)
	assert.Equal(t, 1, run.CreatedCount)
	assert.Equal(t, 4, calls, "three 500s then success on the fourth attempt")
}

func TestSyncAccount_FatalErrorNotRetried(t *testing.T) {
	st := inmemory.NewStore()

	calls := 0
	client := &mockClient{
		fetchTransactionsFunc: func(ctx context.Context, accountID string, since time.Time, pageToken string) (*aggregator.TransactionsPage, error) {
			calls++
			return nil, aggregator.ErrInvalidToken
		},
	}
	o := newOrchestrator(client, st)

	run, err := o.SyncAccount(context.Background(), "acct-1")
	require.ErrorIs(t, err, aggregator.ErrInvalidToken)
	assert.Equal(t, StatusFailed, run.Status)
	assert.Equal(t, 1, calls, "auth errors abort without retry")

	ts, tsErr := st.LastSyncedAt(context.Background(), "acct-1")
	require.NoError(t, tsErr)
	assert.True(t, ts.IsZero(), "failed run must not advance lastSyncedAt")
}

func TestSyncAccount_InactiveAccountFails(t *testing.T) {
	st := inmemory.NewStore()
	client := singlePage()
	client.fetchAccountMetadataFunc = func(ctx context.Context, accountID string) (*aggregator.AccountInfo, error) {
		return &aggregator.AccountInfo{AccountID: accountID, Status: aggregator.AccountStatusRevoked}, nil
	}
	o := newOrchestrator(client, st)

	run, err := o.SyncAccount(context.Background(), "acct-1")
	require.Error(t, err)
	assert.Equal(t, StatusFailed, run.Status)
}

func TestSyncAccount_RejectsDoNotAbortBatch(t *testing.T) {
	st := inmemory.NewStore()
	o := newOrchestrator(singlePage(
		remoteTx("ext-1", "-10.00", "Shell"),
		remoteTx("ext-2", "not-a-number", "Broken"),
		remoteTx("ext-3", "-20.00", "Target"),
	), st)

	run, err := o.SyncAccount(context.Background(), "acct-1")
	require.NoError(t, err)

	assert.Equal(t, StatusSucceeded, run.Status)
	assert.Equal(t, 3, run.FetchedCount)
	assert.Equal(t, 2, run.CreatedCount)
	require.Len(t, run.RecordErrors, 1)
	assert.Equal(t, "ext-2", run.RecordErrors[0].ExternalID)
	assert.Equal(t, resolve.RejectMalformedAmount, run.RecordErrors[0].Reason)

	// The good records landed despite the bad one.
	_, err = st.FindByExternalID(context.Background(), "acct-1", "ext-3")
	require.NoError(t, err)
}

func TestSyncAccount_DuplicateExternalIDInFeed(t *testing.T) {
	st := inmemory.NewStore()

	// ext-1 repeats within the first page and again on the second page.
	client := &mockClient{
		fetchTransactionsFunc: func(ctx context.Context, accountID string, since time.Time, pageToken string) (*aggregator.TransactionsPage, error) {
			if pageToken == "" {
				return &aggregator.TransactionsPage{
					Transactions: []aggregator.RemoteTransaction{
						remoteTx("ext-1", "-45.00", "Walmart"),
						remoteTx("ext-1", "-99.00", "Walmart"),
						remoteTx("ext-2", "-10.00", "Shell"),
					},
					NextPageToken: "page-2",
				}, nil
			}
			return &aggregator.TransactionsPage{
				Transactions: []aggregator.RemoteTransaction{remoteTx("ext-1", "-77.00", "Walmart")},
			}, nil
		},
	}
	o := newOrchestrator(client, st)

	run, err := o.SyncAccount(context.Background(), "acct-1")
	require.NoError(t, err)

	assert.Equal(t, StatusSucceeded, run.Status, "repeats must not fail the batch")
	assert.Equal(t, 4, run.FetchedCount)
	assert.Equal(t, 2, run.CreatedCount)
	require.Len(t, run.RecordErrors, 2)
	for _, re := range run.RecordErrors {
		assert.Equal(t, "ext-1", re.ExternalID)
		assert.Equal(t, resolve.RejectDuplicateInFeed, re.Reason)
	}

	// First occurrence wins; the valid unrelated record still lands.
	got, err := st.FindByExternalID(context.Background(), "acct-1", "ext-1")
	require.NoError(t, err)
	assert.Equal(t, "-45", got.Amount.String())
	_, err = st.FindByExternalID(context.Background(), "acct-1", "ext-2")
	require.NoError(t, err)
}

func TestRun_MetadataFetchedInFetchingState(t *testing.T) {
	st := inmemory.NewStore()
	var observed State
	client := singlePage()
	o := newOrchestrator(client, st)

	run := &SyncRun{
		RunID:     "run-1",
		AccountID: "acct-1",
		StartedAt: time.Now(),
		State:     StateLockAcquired,
		Status:    StatusRunning,
	}
	client.fetchAccountMetadataFunc = func(ctx context.Context, accountID string) (*aggregator.AccountInfo, error) {
		observed = run.State
		return &aggregator.AccountInfo{AccountID: accountID, Status: aggregator.AccountStatusActive}, nil
	}

	require.NoError(t, o.run(context.Background(), logger.New(), run))
	assert.Equal(t, StateFetching, observed, "metadata fetch is part of the fetch phase")
}

func TestSyncAccount_Pagination(t *testing.T) {
	st := inmemory.NewStore()

	client := &mockClient{
		fetchTransactionsFunc: func(ctx context.Context, accountID string, since time.Time, pageToken string) (*aggregator.TransactionsPage, error) {
			switch pageToken {
			case "":
				return &aggregator.TransactionsPage{
					Transactions:  []aggregator.RemoteTransaction{remoteTx("ext-1", "-10.00", "Shell")},
					NextPageToken: "page-2",
				}, nil
			case "page-2":
				return &aggregator.TransactionsPage{
					Transactions: []aggregator.RemoteTransaction{remoteTx("ext-2", "-20.00", "Target")},
				}, nil
			default:
				return nil, errors.New("unexpected page token: " + pageToken)
			}
		},
	}
	o := newOrchestrator(client, st)

	run, err := o.SyncAccount(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 2, run.FetchedCount)
	assert.Equal(t, 2, run.CreatedCount)
}

// failingStore wraps the in-memory store and fails every commit.
type failingStore struct {
	store.Store
	commitErr error
}

func (f *failingStore) CommitBatch(ctx context.Context, accountID string, decisions []resolve.Decision) (store.CommitResult, error) {
	return store.CommitResult{}, f.commitErr
}

func TestSyncAccount_CommitFailureLeavesStateUntouched(t *testing.T) {
	inner := inmemory.NewStore()
	st := &failingStore{Store: inner, commitErr: errors.New("warehouse unavailable")}
	o := newOrchestrator(singlePage(remoteTx("ext-1", "-10.00", "Shell")), st)

	run, err := o.SyncAccount(context.Background(), "acct-1")
	require.Error(t, err)
	assert.Equal(t, StatusFailed, run.Status)
	assert.Equal(t, StateFailed, run.State)

	_, err = inner.FindByExternalID(context.Background(), "acct-1", "ext-1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	ts, tsErr := inner.LastSyncedAt(context.Background(), "acct-1")
	require.NoError(t, tsErr)
	assert.True(t, ts.IsZero())
}

func TestSyncAccount_CancelledContextFailsRun(t *testing.T) {
	st := inmemory.NewStore()
	ctx, cancel := context.WithCancel(context.Background())

	client := &mockClient{
		fetchTransactionsFunc: func(ctx context.Context, accountID string, since time.Time, pageToken string) (*aggregator.TransactionsPage, error) {
			cancel()
			return &aggregator.TransactionsPage{Transactions: []aggregator.RemoteTransaction{remoteTx("ext-1", "-10.00", "Shell")}}, nil
		},
	}
	o := newOrchestrator(client, st)

	run, err := o.SyncAccount(ctx, "acct-1")
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StatusFailed, run.Status)

	// Nothing committed.
	_, err = st.FindByExternalID(context.Background(), "acct-1", "ext-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSyncAccount_UpdatesChangedRecords(t *testing.T) {
	st := inmemory.NewStore()
	o := newOrchestrator(singlePage(remoteTx("ext-1", "-45.00", "Walmart")), st)

	_, err := o.SyncAccount(context.Background(), "acct-1")
	require.NoError(t, err)

	// Amount changed upstream (pending -> settled adjustment).
	o = newOrchestrator(singlePage(remoteTx("ext-1", "-47.50", "Walmart")), st)
	run, err := o.SyncAccount(context.Background(), "acct-1")
	require.NoError(t, err)

	assert.Equal(t, 0, run.CreatedCount)
	assert.Equal(t, 1, run.UpdatedCount)

	got, err := st.FindByExternalID(context.Background(), "acct-1", "ext-1")
	require.NoError(t, err)
	assert.Equal(t, "-47.5", got.Amount.String())
}
