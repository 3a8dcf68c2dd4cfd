package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ineyio/costgate"
)

// PostgresStore is a PostgreSQL-backed DurableStore: the source of truth
// for monthly committed spend. Finalizations are deduplicated through a
// keyed insert inside the same transaction as the total update.
type PostgresStore struct {
	pool        *pgxpool.Pool
	tablePrefix string
}

var _ costgate.DurableStore = (*PostgresStore)(nil)

// PostgresOption configures a PostgresStore.
type PostgresOption func(*PostgresStore)

// WithTablePrefix sets the table name prefix (default "costgate_").
func WithTablePrefix(prefix string) PostgresOption {
	return func(s *PostgresStore) { s.tablePrefix = prefix }
}

// NewPostgres creates a PostgreSQL-backed durable store.
func NewPostgres(pool *pgxpool.Pool, opts ...PostgresOption) *PostgresStore {
	s := &PostgresStore{
		pool:        pool,
		tablePrefix: "costgate_",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *PostgresStore) totalsTable() string        { return s.tablePrefix + "monthly_totals" }
func (s *PostgresStore) finalizationsTable() string { return s.tablePrefix + "finalizations" }

// EnsureSchema creates the required tables if they don't exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	q := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			tenant_id TEXT NOT NULL,
			month TEXT NOT NULL,
			committed_micro_usd BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (tenant_id, month)
		);
		CREATE TABLE IF NOT EXISTS %s (
			key TEXT PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`, s.totalsTable(), s.finalizationsTable())
	if _, err := s.pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("costgate/ledger: ensure schema: %w", err)
	}
	return nil
}

// AddCommitted adds amount to the tenant-month total, exactly once per
// finalizeKey. The dedup insert and the total upsert share a transaction.
func (s *PostgresStore) AddCommitted(ctx context.Context, tenantID, month string, amount costgate.MicroUSD, finalizeKey string) (bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("costgate/ledger: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (key) VALUES ($1) ON CONFLICT (key) DO NOTHING`, s.finalizationsTable()),
		finalizeKey,
	)
	if err != nil {
		return false, fmt.Errorf("costgate/ledger: record finalization: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Already applied; retried delivery.
		return false, nil
	}

	_, err = tx.Exec(ctx,
		fmt.Sprintf(`
			INSERT INTO %s (tenant_id, month, committed_micro_usd)
			VALUES ($1, $2, $3)
			ON CONFLICT (tenant_id, month)
			DO UPDATE SET committed_micro_usd = %s.committed_micro_usd + EXCLUDED.committed_micro_usd
		`, s.totalsTable(), s.totalsTable()),
		tenantID, month, int64(amount),
	)
	if err != nil {
		return false, fmt.Errorf("costgate/ledger: add committed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("costgate/ledger: commit tx: %w", err)
	}
	return true, nil
}

// CommittedTotal returns the tenant-month total, zero if absent.
func (s *PostgresStore) CommittedTotal(ctx context.Context, tenantID, month string) (costgate.MicroUSD, error) {
	var total int64
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT committed_micro_usd FROM %s WHERE tenant_id = $1 AND month = $2`, s.totalsTable()),
		tenantID, month,
	).Scan(&total)
	if err == pgx.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("costgate/ledger: read committed total: %w", err)
	}
	return costgate.MicroUSD(total), nil
}

// MemoryDurable is an in-memory DurableStore for tests and examples.
type MemoryDurable struct {
	mu        sync.Mutex
	totals    map[string]costgate.MicroUSD
	finalized map[string]bool
}

var _ costgate.DurableStore = (*MemoryDurable)(nil)

// NewMemoryDurable creates an empty in-memory durable store.
func NewMemoryDurable() *MemoryDurable {
	return &MemoryDurable{
		totals:    make(map[string]costgate.MicroUSD),
		finalized: make(map[string]bool),
	}
}

// AddCommitted adds amount to the tenant-month total, once per key.
func (s *MemoryDurable) AddCommitted(_ context.Context, tenantID, month string, amount costgate.MicroUSD, finalizeKey string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finalized[finalizeKey] {
		return false, nil
	}
	s.finalized[finalizeKey] = true
	s.totals[tenantID+":"+month] += amount
	return true, nil
}

// CommittedTotal returns the tenant-month total, zero if absent.
func (s *MemoryDurable) CommittedTotal(_ context.Context, tenantID, month string) (costgate.MicroUSD, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totals[tenantID+":"+month], nil
}
