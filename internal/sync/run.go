// Package sync drives per-account synchronization runs: fetch remote
// transactions through the rate gate, reconcile them against the store,
// classify what needs a category, and commit the batch atomically.
package sync

import (
	"errors"
	"time"

	"github.com/mvolkov/finsync/internal/resolve"
)

// ErrSyncAlreadyInProgress is returned when a sync for the account is
// already running. The caller may retry later; the orchestrator never
// queues behind the running sync.
var ErrSyncAlreadyInProgress = errors.New("sync: already in progress for account")

// State is the orchestration state machine position.
// PENDING -> LOCK_ACQUIRED -> FETCHING -> RECONCILING -> COMMITTING ->
// SUCCEEDED, with FAILED reachable from any non-terminal state.
type State string

const (
	StatePending      State = "PENDING"
	StateLockAcquired State = "LOCK_ACQUIRED"
	StateFetching     State = "FETCHING"
	StateReconciling  State = "RECONCILING"
	StateCommitting   State = "COMMITTING"
	StateSucceeded    State = "SUCCEEDED"
	StateFailed       State = "FAILED"
)

// Status is the coarse run status exposed to callers.
type Status string

const (
	StatusRunning   Status = "RUNNING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
)

// RecordError reports one remote record the run rejected. Rejects never
// abort the batch; they are collected here instead.
type RecordError struct {
	ExternalID string
	Reason     resolve.RejectReason
}

// SyncRun is the report of one orchestration pass. It is the contract
// callers see: status, counters, and the run-level error if any.
type SyncRun struct {
	RunID     string
	AccountID string

	StartedAt  time.Time
	FinishedAt time.Time

	State  State
	Status Status

	FetchedCount  int
	CreatedCount  int
	UpdatedCount  int
	ConflictCount int

	// RecordErrors lists per-record rejects. len(RecordErrors) is the
	// rejected count reported to callers.
	RecordErrors []RecordError

	// Err is the run-level error for FAILED runs.
	Err error
}

// RejectedCount returns how many fetched records were rejected.
func (r *SyncRun) RejectedCount() int {
	return len(r.RecordErrors)
}

// advance moves the run to the next state.
func (r *SyncRun) advance(s State) {
	r.State = s
}

// fail marks the run FAILED with the given run-level error.
func (r *SyncRun) fail(err error, finishedAt time.Time) {
	r.State = StateFailed
	r.Status = StatusFailed
	r.Err = err
	r.FinishedAt = finishedAt
}

// succeed marks the run SUCCEEDED.
func (r *SyncRun) succeed(finishedAt time.Time) {
	r.State = StateSucceeded
	r.Status = StatusSucceeded
	r.FinishedAt = finishedAt
}
