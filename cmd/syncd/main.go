package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mvolkov/finsync/internal/aggregator"
	"github.com/mvolkov/finsync/internal/gate"
	"github.com/mvolkov/finsync/internal/jobs"
	jobsmem "github.com/mvolkov/finsync/internal/jobs/inmemory"
	"github.com/mvolkov/finsync/internal/locks"
	"github.com/mvolkov/finsync/internal/logger"
	"github.com/mvolkov/finsync/internal/store"
	storebq "github.com/mvolkov/finsync/internal/store/bigquery"
	storemem "github.com/mvolkov/finsync/internal/store/inmemory"
	"github.com/mvolkov/finsync/internal/sync"
)

func main() {
	log := logger.WithComponent(logger.New(), "syncd")

	var (
		providerURL = flag.String("provider-url", os.Getenv("AGGREGATOR_URL"), "Aggregator API base URL (or set AGGREGATOR_URL env)")
		clientID    = flag.String("client-id", os.Getenv("AGGREGATOR_CLIENT_ID"), "Aggregator client ID (or set AGGREGATOR_CLIENT_ID env)")
		secret      = flag.String("secret", os.Getenv("AGGREGATOR_SECRET"), "Aggregator secret (or set AGGREGATOR_SECRET env)")
		project     = flag.String("project", os.Getenv("BQ_PROJECT"), "BigQuery project ID; empty runs with the in-memory store (or set BQ_PROJECT env)")
		dataset     = flag.String("dataset", os.Getenv("BQ_DATASET"), "BigQuery dataset ID (or set BQ_DATASET env)")
		credentials = flag.String("credentials-file", os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"), "Service account credentials file")
		accounts    = flag.String("accounts", os.Getenv("SYNC_ACCOUNTS"), "Comma-separated account IDs to sync (or set SYNC_ACCOUNTS env)")
		interval    = flag.Duration("interval", 15*time.Minute, "Delay between scheduled sync passes")
		workers     = flag.Int("workers", 4, "Concurrent sync job workers")
		maxInflight = flag.Int64("max-concurrent", 4, "Max concurrent aggregator fetch permits")
		rps         = flag.Float64("rps", 5, "Sustained aggregator requests per second")
		maxWait     = flag.Duration("max-wait", 30*time.Second, "Max wait for a rate or concurrency slot")
	)
	flag.Parse()

	accountIDs := splitAccounts(*accounts)
	if len(accountIDs) == 0 {
		log.Fatal().Msg("No accounts configured; set --accounts or SYNC_ACCOUNTS")
	}

	client, err := aggregator.NewHTTPClient(aggregator.HTTPClientConfig{
		BaseURL:  *providerURL,
		ClientID: *clientID,
		Secret:   *secret,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to configure aggregator client")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	var txStore store.Store
	if *project != "" {
		repo, err := storebq.NewRepository(ctx, storebq.Config{
			ProjectID:       *project,
			DatasetID:       *dataset,
			CredentialsFile: *credentials,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create BigQuery store")
		}
		defer repo.Close()
		txStore = repo
		log.Info().Str("project", *project).Str("dataset", *dataset).Msg("Using BigQuery store")
	} else {
		txStore = storemem.NewStore()
		log.Warn().Msg("No BigQuery project configured, using in-memory store")
	}

	orchestrator := sync.New(sync.Config{
		Client: client,
		Store:  txStore,
		Locks:  locks.NewTable(),
		Gate: gate.New(gate.Config{
			MaxConcurrent:     *maxInflight,
			RequestsPerSecond: *rps,
			MaxWait:           *maxWait,
		}),
	})

	jobStore := jobsmem.NewStore()
	jobQueue := jobsmem.NewQueue(100, *workers, jobStore)

	log.Info().
		Int("accounts", len(accountIDs)).
		Dur("interval", *interval).
		Msg("Starting sync daemon")

	handler := func(ctx context.Context, job jobs.Job) error {
		syncJob, ok := job.(*jobs.SyncAccountJob)
		if !ok {
			return fmt.Errorf("unexpected job type: %T", job)
		}

		run, err := orchestrator.SyncAccount(ctx, syncJob.AccountID)
		syncJob.SyncRunID = run.RunID
		if err != nil {
			log.Error().
				Err(err).
				Str("job_id", syncJob.JobID).
				Str("account_id", syncJob.AccountID).
				Str("run_id", run.RunID).
				Msg("Sync job failed")
			return err
		}
		return nil
	}

	if err := jobQueue.Start(ctx, handler); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}

	// Scheduler: publish one job per account immediately, then every interval.
	go func() {
		publish := func() {
			for _, accountID := range accountIDs {
				job := &jobs.SyncAccountJob{AccountID: accountID}
				if err := jobQueue.PublishSyncAccount(ctx, job); err != nil {
					log.Error().Err(err).Str("account_id", accountID).Msg("Failed to enqueue sync job")
				}
			}
		}
		publish()

		ticker := time.NewTicker(*interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				publish()
			}
		}
	}()

	log.Info().Msg("Sync daemon started, waiting for scheduled runs...")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down sync daemon...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}

	log.Info().Msg("Sync daemon exited")
}

// splitAccounts parses the comma-separated account list, dropping empties.
func splitAccounts(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
