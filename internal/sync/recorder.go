package sync

import (
	"context"

	"github.com/mvolkov/finsync/internal/logger"
)

// RunRecorder receives completed runs. Implementations may persist them as
// audit rows; failures are logged by the orchestrator and never fail the
// run itself.
type RunRecorder interface {
	Record(ctx context.Context, run *SyncRun) error
}

// LogRecorder writes completed runs to the structured log. It is the
// default recorder when none is injected.
type LogRecorder struct{}

// Record implements RunRecorder.
func (LogRecorder) Record(ctx context.Context, run *SyncRun) error {
	log := logger.FromContext(ctx)

	evt := log.Info()
	if run.Status == StatusFailed {
		evt = log.Error().Err(run.Err)
	}
	evt.
		Str("run_id", run.RunID).
		Str("account_id", run.AccountID).
		Str("status", string(run.Status)).
		Int("fetched", run.FetchedCount).
		Int("created", run.CreatedCount).
		Int("updated", run.UpdatedCount).
		Int("conflicts", run.ConflictCount).
		Int("rejected", run.RejectedCount()).
		Dur("duration", run.FinishedAt.Sub(run.StartedAt)).
		Msg("Sync run completed")
	return nil
}

var _ RunRecorder = LogRecorder{}
