package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mvolkov/finsync/internal/aggregator"
	"github.com/mvolkov/finsync/internal/classifier"
	"github.com/mvolkov/finsync/internal/gate"
	"github.com/mvolkov/finsync/internal/locks"
	"github.com/mvolkov/finsync/internal/logger"
	"github.com/mvolkov/finsync/internal/resolve"
	"github.com/mvolkov/finsync/internal/store"
)

// Config wires an Orchestrator.
type Config struct {
	// Client is the aggregator client (required).
	Client aggregator.Client

	// Store is the transaction store (required).
	Store store.Store

	// Locks is the per-account sync lock (required).
	Locks locks.KeyedLock

	// Gate bounds outbound aggregator traffic (required).
	Gate *gate.Gate

	// Retry is applied to every aggregator request. Zero value means
	// DefaultRetryPolicy.
	Retry aggregator.RetryPolicy

	// Classifier assigns categories to records that lack one. Defaults to
	// classifier.New().
	Classifier *classifier.Classifier

	// Recorder receives completed runs. Defaults to LogRecorder.
	Recorder RunRecorder

	// Now is the clock; defaults to time.Now. Injectable for tests.
	Now func() time.Time
}

// Orchestrator runs the per-account sync state machine. One Orchestrator
// serves all accounts; per-account exclusivity comes from the lock table,
// not from a global lock.
type Orchestrator struct {
	client     aggregator.Client
	store      store.Store
	locks      locks.KeyedLock
	gate       *gate.Gate
	retry      aggregator.RetryPolicy
	resolver   *resolve.Resolver
	classifier *classifier.Classifier
	recorder   RunRecorder
	now        func() time.Time
}

// New creates an Orchestrator from config, filling defaults.
func New(cfg Config) *Orchestrator {
	o := &Orchestrator{
		client:     cfg.Client,
		store:      cfg.Store,
		locks:      cfg.Locks,
		gate:       cfg.Gate,
		retry:      cfg.Retry,
		resolver:   resolve.New(),
		classifier: cfg.Classifier,
		recorder:   cfg.Recorder,
		now:        cfg.Now,
	}
	if o.retry.MaxAttempts == 0 {
		o.retry = aggregator.DefaultRetryPolicy()
	}
	if o.classifier == nil {
		o.classifier = classifier.New()
	}
	if o.recorder == nil {
		o.recorder = LogRecorder{}
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

// SyncAccount performs one synchronization run for the account and returns
// the final run report. The returned error, when non-nil, equals run.Err.
//
// At most one run per account executes at a time: a second concurrent call
// fails fast with ErrSyncAlreadyInProgress instead of queueing.
func (o *Orchestrator) SyncAccount(ctx context.Context, accountID string) (*SyncRun, error) {
	log := logger.WithAccount(logger.FromContext(ctx), accountID)
	ctx = logger.WithContext(ctx, log)

	run := &SyncRun{
		RunID:     uuid.NewString(),
		AccountID: accountID,
		StartedAt: o.now(),
		State:     StatePending,
		Status:    StatusRunning,
	}

	if !o.locks.TryAcquire(accountID) {
		run.fail(ErrSyncAlreadyInProgress, o.now())
		return run, ErrSyncAlreadyInProgress
	}
	defer o.locks.Release(accountID)
	run.advance(StateLockAcquired)

	err := o.run(ctx, log, run)
	if err != nil {
		run.fail(err, o.now())
	} else {
		run.succeed(o.now())
	}

	if recErr := o.recorder.Record(ctx, run); recErr != nil {
		log.Warn().Err(recErr).Str("run_id", run.RunID).Msg("Failed to record sync run")
	}
	return run, err
}

// run executes the locked portion of the state machine.
func (o *Orchestrator) run(ctx context.Context, log zerolog.Logger, run *SyncRun) error {
	permit, err := o.gate.Acquire(ctx, run.AccountID)
	if err != nil {
		return fmt.Errorf("sync: acquiring gate permit: %w", err)
	}
	defer o.gate.Release(permit)

	since, err := o.store.LastSyncedAt(ctx, run.AccountID)
	if err != nil {
		return fmt.Errorf("sync: loading last synced time: %w", err)
	}

	log.Info().
		Str("run_id", run.RunID).
		Time("since", since).
		Msg("Starting sync run")

	// The metadata check is already an outbound aggregator call, so the
	// fetch phase starts here.
	run.advance(StateFetching)

	info, err := o.fetchAccountInfo(ctx, run.AccountID)
	if err != nil {
		return err
	}
	if info.Status != aggregator.AccountStatusActive {
		return fmt.Errorf("sync: account %s is %s: %w", run.AccountID, info.Status, aggregator.ErrAccountNotFound)
	}

	decisions, err := o.fetchAndReconcile(ctx, log, run, since)
	if err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	run.advance(StateCommitting)

	// The commit batch is indivisible: caller cancellation must not be able
	// to interrupt it halfway.
	commitCtx := context.WithoutCancel(ctx)
	result, err := o.store.CommitBatch(commitCtx, run.AccountID, decisions)
	if err != nil {
		return fmt.Errorf("sync: committing batch: %w", err)
	}
	run.CreatedCount = result.Created
	run.UpdatedCount = result.Updated

	// lastSyncedAt advances to the run start only after a successful
	// commit, so a failed run re-fetches the same window.
	if err := o.store.SetLastSyncedAt(commitCtx, run.AccountID, run.StartedAt); err != nil {
		return fmt.Errorf("sync: updating last synced time: %w", err)
	}
	return nil
}

// fetchAccountInfo fetches account metadata under the gate and retry policy.
func (o *Orchestrator) fetchAccountInfo(ctx context.Context, accountID string) (*aggregator.AccountInfo, error) {
	var info *aggregator.AccountInfo
	err := o.retry.Do(ctx, "accounts.get", func(ctx context.Context) error {
		if err := o.gate.Wait(ctx); err != nil {
			return err
		}
		var err error
		info, err = o.client.FetchAccountMetadata(ctx, accountID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("sync: fetching account metadata: %w", err)
	}
	return info, nil
}

// fetchAndReconcile pulls every page of remote transactions and merges each
// record against local state, in fetch order. Per-record rejects are
// collected on the run; they never abort the batch.
func (o *Orchestrator) fetchAndReconcile(ctx context.Context, log zerolog.Logger, run *SyncRun, since time.Time) ([]resolve.Decision, error) {
	var (
		decisions []resolve.Decision
		pageToken string
	)
	// External IDs are unique per account; a feed that repeats one would
	// stage two writes for the same record and void the whole commit. The
	// first occurrence wins, repeats are rejected per record.
	seen := make(map[string]struct{})

	for {
		var page *aggregator.TransactionsPage
		err := o.retry.Do(ctx, "transactions.get", func(ctx context.Context) error {
			if err := o.gate.Wait(ctx); err != nil {
				return err
			}
			var err error
			page, err = o.client.FetchTransactions(ctx, run.AccountID, since, pageToken)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("sync: fetching transactions: %w", err)
		}

		run.FetchedCount += len(page.Transactions)
		run.advance(StateReconciling)

		for _, remote := range page.Transactions {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			if remote.ExternalID != "" {
				if _, dup := seen[remote.ExternalID]; dup {
					run.RecordErrors = append(run.RecordErrors, RecordError{
						ExternalID: remote.ExternalID,
						Reason:     resolve.RejectDuplicateInFeed,
					})
					log.Warn().
						Str("external_id", remote.ExternalID).
						Str("reason", string(resolve.RejectDuplicateInFeed)).
						Msg("Rejected remote record")
					continue
				}
				seen[remote.ExternalID] = struct{}{}
			}

			d, err := o.reconcileOne(ctx, run.AccountID, remote)
			if err != nil {
				return nil, err
			}

			if d.Conflict {
				run.ConflictCount++
			}
			switch d.Kind {
			case resolve.KindCreate, resolve.KindUpdate:
				decisions = append(decisions, d)
			case resolve.KindReject:
				run.RecordErrors = append(run.RecordErrors, RecordError{
					ExternalID: d.ExternalID,
					Reason:     d.Reason,
				})
				log.Warn().
					Str("external_id", d.ExternalID).
					Str("reason", string(d.Reason)).
					Msg("Rejected remote record")
			case resolve.KindNoOp:
				// Nothing to write.
			}
		}

		if page.NextPageToken == "" {
			return decisions, nil
		}
		pageToken = page.NextPageToken
		run.advance(StateFetching)
	}
}

// reconcileOne merges a single remote record and classifies it if the
// merge left it without a category.
func (o *Orchestrator) reconcileOne(ctx context.Context, accountID string, remote aggregator.RemoteTransaction) (resolve.Decision, error) {
	local, err := o.store.FindByExternalID(ctx, accountID, remote.ExternalID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return resolve.Decision{}, fmt.Errorf("sync: loading local record %s: %w", remote.ExternalID, err)
	}

	d := o.resolver.Merge(local, accountID, remote, o.now())

	if (d.Kind == resolve.KindCreate || d.Kind == resolve.KindUpdate) && d.Transaction.Category == "" {
		d.Transaction.Category = o.classifier.Classify(classifier.Input{
			Description:  d.Transaction.Description,
			MerchantName: d.Transaction.MerchantName,
			Amount:       d.Transaction.Amount,
			Pending:      d.Transaction.Pending,
		})
	}
	return d, nil
}
