package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/mvolkov/finsync/internal/aggregator"
	"github.com/mvolkov/finsync/internal/gate"
	"github.com/mvolkov/finsync/internal/locks"
	"github.com/mvolkov/finsync/internal/logger"
	storebq "github.com/mvolkov/finsync/internal/store/bigquery"
	"github.com/mvolkov/finsync/internal/sync"
)

func main() {
	log := logger.WithComponent(logger.New(), "synctl")

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "sync":
		runSync(log)
	case "list":
		runList(log)
	case "set-category":
		runSetCategory(log)
	case "clear-category":
		runClearCategory(log)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Finsync CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  synctl <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  sync            Run one synchronization pass for an account")
	fmt.Println("  list            List stored transactions for an account")
	fmt.Println("  set-category    Pin a transaction to a user-chosen category")
	fmt.Println("  clear-category  Release a user category pin back to automatic")
	fmt.Println("  help            Show this help message")
	fmt.Println("\nRun 'synctl <command> -h' for more information on a command.")
}

// storeFlags registers the warehouse flags shared by every subcommand.
func storeFlags(fs *flag.FlagSet) (project, dataset, credentials *string) {
	project = fs.String("project", os.Getenv("BQ_PROJECT"), "BigQuery project ID (or set BQ_PROJECT env)")
	dataset = fs.String("dataset", os.Getenv("BQ_DATASET"), "BigQuery dataset ID (or set BQ_DATASET env)")
	credentials = fs.String("credentials-file", os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"), "Service account credentials file")
	return
}

func openStore(ctx context.Context, log zerolog.Logger, project, dataset, credentials string) *storebq.Repository {
	if project == "" || dataset == "" {
		log.Fatal().Msg("Error: --project and --dataset are required")
	}
	repo, err := storebq.NewRepository(ctx, storebq.Config{
		ProjectID:       project,
		DatasetID:       dataset,
		CredentialsFile: credentials,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create BigQuery store")
	}
	return repo
}

func runSync(log zerolog.Logger) {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	accountID := fs.String("account-id", "", "Account ID to synchronize")
	providerURL := fs.String("provider-url", os.Getenv("AGGREGATOR_URL"), "Aggregator API base URL (or set AGGREGATOR_URL env)")
	clientID := fs.String("client-id", os.Getenv("AGGREGATOR_CLIENT_ID"), "Aggregator client ID (or set AGGREGATOR_CLIENT_ID env)")
	secret := fs.String("secret", os.Getenv("AGGREGATOR_SECRET"), "Aggregator secret (or set AGGREGATOR_SECRET env)")
	project, dataset, credentials := storeFlags(fs)
	fs.Parse(os.Args[2:])

	if *accountID == "" {
		log.Fatal().Msg("Error: --account-id is required")
	}

	client, err := aggregator.NewHTTPClient(aggregator.HTTPClientConfig{
		BaseURL:  *providerURL,
		ClientID: *clientID,
		Secret:   *secret,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to configure aggregator client")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	repo := openStore(ctx, log, *project, *dataset, *credentials)
	defer repo.Close()

	orchestrator := sync.New(sync.Config{
		Client: client,
		Store:  repo,
		Locks:  locks.NewTable(),
		Gate:   gate.New(gate.Config{MaxWait: 30 * time.Second}),
	})

	log.Info().Str("account_id", *accountID).Msg("Starting sync")

	run, err := orchestrator.SyncAccount(ctx, *accountID)
	if err != nil {
		log.Fatal().Err(err).Str("run_id", run.RunID).Msg("Sync failed")
	}

	fmt.Println("\n=== Sync Run ===")
	fmt.Printf("Run ID:    %s\n", run.RunID)
	fmt.Printf("Status:    %s\n", run.Status)
	fmt.Printf("Fetched:   %d\n", run.FetchedCount)
	fmt.Printf("Created:   %d\n", run.CreatedCount)
	fmt.Printf("Updated:   %d\n", run.UpdatedCount)
	fmt.Printf("Conflicts: %d\n", run.ConflictCount)
	fmt.Printf("Rejected:  %d\n", run.RejectedCount())
	for _, re := range run.RecordErrors {
		fmt.Printf("  - %s: %s\n", re.ExternalID, re.Reason)
	}
	fmt.Printf("Duration:  %s\n", run.FinishedAt.Sub(run.StartedAt))
}

func runList(log zerolog.Logger) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	accountID := fs.String("account-id", "", "Account ID to list")
	project, dataset, credentials := storeFlags(fs)
	fs.Parse(os.Args[2:])

	if *accountID == "" {
		log.Fatal().Msg("Error: --account-id is required")
	}

	ctx := context.Background()
	ctx = logger.WithContext(ctx, log)

	repo := openStore(ctx, log, *project, *dataset, *credentials)
	defer repo.Close()

	txns, err := repo.ListByAccount(ctx, *accountID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list transactions")
	}

	lastSynced, err := repo.LastSyncedAt(ctx, *accountID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read sync state")
	}

	fmt.Printf("\n=== Transactions (%d) ===\n", len(txns))
	if !lastSynced.IsZero() {
		fmt.Printf("Last synced: %s\n", lastSynced.Format(time.RFC3339))
	}
	for i, txn := range txns {
		fmt.Printf("\n%d. %s\n", i+1, txn.Description)
		fmt.Printf("   ID:       %s\n", txn.ID)
		fmt.Printf("   Date:     %s\n", txn.TransactionDate.Format("2006-01-02"))
		fmt.Printf("   Amount:   %s\n", txn.Amount.StringFixed(2))
		fmt.Printf("   Category: %s (%s)\n", txn.Category, txn.CategorySource)
		if txn.Pending {
			fmt.Printf("   Pending:  yes\n")
		}
	}
	fmt.Println()
}

func runSetCategory(log zerolog.Logger) {
	fs := flag.NewFlagSet("set-category", flag.ExitOnError)
	accountID := fs.String("account-id", "", "Account ID")
	txID := fs.String("transaction-id", "", "Transaction ID")
	category := fs.String("category", "", "Category to pin")
	project, dataset, credentials := storeFlags(fs)
	fs.Parse(os.Args[2:])

	if *accountID == "" || *txID == "" || *category == "" {
		log.Fatal().Msg("Usage: synctl set-category -account-id ID -transaction-id ID -category NAME")
	}

	ctx := context.Background()
	ctx = logger.WithContext(ctx, log)

	repo := openStore(ctx, log, *project, *dataset, *credentials)
	defer repo.Close()

	if err := repo.SetUserCategory(ctx, *accountID, *txID, *category); err != nil {
		log.Fatal().Err(err).Msg("Failed to set category")
	}

	fmt.Printf("Pinned %s to category %q\n", *txID, *category)
}

func runClearCategory(log zerolog.Logger) {
	fs := flag.NewFlagSet("clear-category", flag.ExitOnError)
	accountID := fs.String("account-id", "", "Account ID")
	txID := fs.String("transaction-id", "", "Transaction ID")
	project, dataset, credentials := storeFlags(fs)
	fs.Parse(os.Args[2:])

	if *accountID == "" || *txID == "" {
		log.Fatal().Msg("Usage: synctl clear-category -account-id ID -transaction-id ID")
	}

	ctx := context.Background()
	ctx = logger.WithContext(ctx, log)

	repo := openStore(ctx, log, *project, *dataset, *credentials)
	defer repo.Close()

	if err := repo.ClearUserCategory(ctx, *accountID, *txID); err != nil {
		log.Fatal().Err(err).Msg("Failed to clear category")
	}

	fmt.Printf("Cleared user category on %s\n", *txID)
}
