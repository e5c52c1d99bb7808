// Package bigquery implements store.Store on a BigQuery dataset. Batch
// commits run inside a multi-statement transaction, so either every
// statement in a sync batch applies or none do.
package bigquery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/mvolkov/finsync/internal/domain"
	"github.com/mvolkov/finsync/internal/resolve"
	"github.com/mvolkov/finsync/internal/store"
)

const (
	transactionsTable = "transactions"
	syncStateTable    = "account_sync_state"
)

// Config locates the dataset.
type Config struct {
	ProjectID string
	DatasetID string

	// CredentialsFile is optional; ambient credentials are used when empty.
	CredentialsFile string
}

// Repository is the BigQuery-backed implementation of store.Store.
// It holds a shared client to avoid creating a new connection per
// operation.
type Repository struct {
	client  *bigquery.Client
	project string
	dataset string
}

// NewRepository creates a Repository with a shared BigQuery client.
func NewRepository(ctx context.Context, cfg Config) (*Repository, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := bigquery.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("NewRepository: bigquery client: %w", err)
	}
	return &Repository{
		client:  client,
		project: cfg.ProjectID,
		dataset: cfg.DatasetID,
	}, nil
}

// Close closes the BigQuery client connection.
func (r *Repository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

func (r *Repository) table(name string) string {
	return fmt.Sprintf("`%s.%s.%s`", r.project, r.dataset, name)
}

// FindByExternalID implements store.Store.
func (r *Repository) FindByExternalID(ctx context.Context, accountID, externalID string) (*domain.Transaction, error) {
	q := r.client.Query(fmt.Sprintf(`
		SELECT
			transaction_id, external_id, account_id, amount,
			description, merchant_name, category, category_source,
			is_pending, transaction_date, last_modified_ts, last_synced_ts
		FROM %s
		WHERE account_id = @account_id AND external_id = @external_id
		LIMIT 1
	`, r.table(transactionsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "account_id", Value: accountID},
		{Name: "external_id", Value: externalID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("FindByExternalID: query read: %w", err)
	}

	var row TransactionRow
	if err := it.Next(&row); err != nil {
		if err == iterator.Done {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("FindByExternalID: iter next: %w", err)
	}
	return transactionFromRow(&row), nil
}

// CommitBatch implements store.Store. All CREATE and UPDATE statements run
// in one BigQuery multi-statement transaction; a failure aborts the whole
// script with nothing applied.
func (r *Repository) CommitBatch(ctx context.Context, accountID string, decisions []resolve.Decision) (store.CommitResult, error) {
	var (
		stmts  []string
		params []bigquery.QueryParameter
		result store.CommitResult
	)

	table := r.table(transactionsTable)
	for i, d := range decisions {
		switch d.Kind {
		case resolve.KindCreate:
			stmts = append(stmts, fmt.Sprintf(`
				INSERT INTO %s (
					transaction_id, external_id, account_id, amount,
					description, merchant_name, category, category_source,
					is_pending, transaction_date, last_modified_ts, last_synced_ts
				) VALUES (
					@id_%[2]d, @ext_%[2]d, @acct_%[2]d, @amount_%[2]d,
					@desc_%[2]d, @merchant_%[2]d, @category_%[2]d, @catsrc_%[2]d,
					@pending_%[2]d, @txdate_%[2]d, @modified_%[2]d, @synced_%[2]d
				)`, table, i))
			params = append(params, decisionParams(i, d.Transaction)...)
			result.Created++
		case resolve.KindUpdate:
			stmts = append(stmts, fmt.Sprintf(`
				UPDATE %s SET
					amount = @amount_%[2]d,
					description = @desc_%[2]d,
					merchant_name = @merchant_%[2]d,
					category = @category_%[2]d,
					category_source = @catsrc_%[2]d,
					is_pending = @pending_%[2]d,
					transaction_date = @txdate_%[2]d,
					last_modified_ts = @modified_%[2]d,
					last_synced_ts = @synced_%[2]d
				WHERE account_id = @acct_%[2]d AND external_id = @ext_%[2]d`, table, i))
			params = append(params, decisionParams(i, d.Transaction)...)
			result.Updated++
		default:
			// NO_OP and REJECT decisions never reach the store.
		}
	}

	if len(stmts) == 0 {
		return store.CommitResult{}, nil
	}

	script := "BEGIN TRANSACTION;\n" + strings.Join(stmts, ";\n") + ";\nCOMMIT TRANSACTION;"
	q := r.client.Query(script)
	q.Parameters = params

	job, err := q.Run(ctx)
	if err != nil {
		return store.CommitResult{}, fmt.Errorf("CommitBatch: running script: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return store.CommitResult{}, fmt.Errorf("CommitBatch: waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return store.CommitResult{}, fmt.Errorf("CommitBatch: job error: %w", err)
	}
	return result, nil
}

// decisionParams builds the parameter set for one statement.
func decisionParams(i int, t *domain.Transaction) []bigquery.QueryParameter {
	row := rowFromTransaction(t)
	suffix := fmt.Sprintf("_%d", i)
	return []bigquery.QueryParameter{
		{Name: "id" + suffix, Value: row.TransactionID},
		{Name: "ext" + suffix, Value: row.ExternalID},
		{Name: "acct" + suffix, Value: row.AccountID},
		{Name: "amount" + suffix, Value: row.Amount},
		{Name: "desc" + suffix, Value: row.Description},
		{Name: "merchant" + suffix, Value: row.MerchantName.StringVal},
		{Name: "category" + suffix, Value: row.Category},
		{Name: "catsrc" + suffix, Value: row.CategorySource},
		{Name: "pending" + suffix, Value: row.IsPending},
		{Name: "txdate" + suffix, Value: row.TransactionDate},
		{Name: "modified" + suffix, Value: row.LastModifiedTS},
		{Name: "synced" + suffix, Value: row.LastSyncedTS},
	}
}

// LastSyncedAt implements store.Store.
func (r *Repository) LastSyncedAt(ctx context.Context, accountID string) (time.Time, error) {
	q := r.client.Query(fmt.Sprintf(`
		SELECT account_id, last_synced_ts
		FROM %s
		WHERE account_id = @account_id
		LIMIT 1
	`, r.table(syncStateTable)))
	q.Parameters = []bigquery.QueryParameter{{Name: "account_id", Value: accountID}}

	it, err := q.Read(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("LastSyncedAt: query read: %w", err)
	}

	var row SyncStateRow
	if err := it.Next(&row); err != nil {
		if err == iterator.Done {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("LastSyncedAt: iter next: %w", err)
	}
	return row.LastSyncedTS, nil
}

// SetLastSyncedAt implements store.Store.
func (r *Repository) SetLastSyncedAt(ctx context.Context, accountID string, ts time.Time) error {
	q := r.client.Query(fmt.Sprintf(`
		MERGE %s s
		USING (SELECT @account_id AS account_id, @last_synced_ts AS last_synced_ts) n
		ON s.account_id = n.account_id
		WHEN MATCHED THEN UPDATE SET last_synced_ts = n.last_synced_ts
		WHEN NOT MATCHED THEN INSERT (account_id, last_synced_ts) VALUES (n.account_id, n.last_synced_ts)
	`, r.table(syncStateTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "account_id", Value: accountID},
		{Name: "last_synced_ts", Value: ts},
	}
	return r.runDML(ctx, "SetLastSyncedAt", q)
}

// SetUserCategory implements store.Store.
func (r *Repository) SetUserCategory(ctx context.Context, accountID, id, category string) error {
	q := r.client.Query(fmt.Sprintf(`
		UPDATE %s SET
			category = @category,
			category_source = @category_source,
			last_modified_ts = CURRENT_TIMESTAMP()
		WHERE account_id = @account_id AND transaction_id = @transaction_id
	`, r.table(transactionsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "category", Value: category},
		{Name: "category_source", Value: string(domain.CategorySourceUser)},
		{Name: "account_id", Value: accountID},
		{Name: "transaction_id", Value: id},
	}
	return r.runDML(ctx, "SetUserCategory", q)
}

// ClearUserCategory implements store.Store.
func (r *Repository) ClearUserCategory(ctx context.Context, accountID, id string) error {
	q := r.client.Query(fmt.Sprintf(`
		UPDATE %s SET
			category_source = @category_source,
			last_modified_ts = CURRENT_TIMESTAMP()
		WHERE account_id = @account_id AND transaction_id = @transaction_id
	`, r.table(transactionsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "category_source", Value: string(domain.CategorySourceSystem)},
		{Name: "account_id", Value: accountID},
		{Name: "transaction_id", Value: id},
	}
	return r.runDML(ctx, "ClearUserCategory", q)
}

// ListByAccount implements store.Store.
func (r *Repository) ListByAccount(ctx context.Context, accountID string) ([]*domain.Transaction, error) {
	q := r.client.Query(fmt.Sprintf(`
		SELECT
			transaction_id, external_id, account_id, amount,
			description, merchant_name, category, category_source,
			is_pending, transaction_date, last_modified_ts, last_synced_ts
		FROM %s
		WHERE account_id = @account_id
		ORDER BY transaction_date, external_id
	`, r.table(transactionsTable)))
	q.Parameters = []bigquery.QueryParameter{{Name: "account_id", Value: accountID}}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListByAccount: query read: %w", err)
	}

	var result []*domain.Transaction
	for {
		var row TransactionRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListByAccount: iter next: %w", err)
		}
		result = append(result, transactionFromRow(&row))
	}
	return result, nil
}

// runDML runs a single DML query and waits for completion.
func (r *Repository) runDML(ctx context.Context, op string, q *bigquery.Query) error {
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("%s: running query: %w", op, err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("%s: waiting for job: %w", op, err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("%s: job error: %w", op, err)
	}
	return nil
}

var _ store.Store = (*Repository)(nil)
