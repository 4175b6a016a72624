// Package store implements the remote relational backend for C8: batch
// upserting accepted results into Postgres via pgx, grounded on the
// teacher's MarketRepository (internal/database/market.go)'s DBPool
// interface and pgx.Batch upsert pattern.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stoskr/skinarb/internal/model"
)

// Pool is the subset of *pgxpool.Pool store.Backend needs, narrow enough
// that pgxmock.Pool and a real pgxpool.Pool both satisfy it.
type Pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Ping(ctx context.Context) error
	Close()
}

// Backend persists accepted results to Postgres.
type Backend struct {
	pool Pool
}

// Connect opens a pooled connection to postgresURL and verifies it with a
// ping, the standard New/pgxpool.New + Ping pattern.
func Connect(ctx context.Context, postgresURL string) (*Backend, error) {
	pool, err := pgxpool.New(ctx, postgresURL)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return &Backend{pool: pool}, nil
}

// New wraps an already-open Pool (real or mocked), for tests and for
// callers that manage the pool's lifetime themselves.
func New(pool Pool) *Backend {
	return &Backend{pool: pool}
}

// Close releases the underlying pool.
func (b *Backend) Close() {
	b.pool.Close()
}

// Healthy reports whether the backend can currently be reached.
func (b *Backend) Healthy(ctx context.Context) bool {
	return b.pool.Ping(ctx) == nil
}

const upsertQuery = `
	INSERT INTO arbitrage_results (
		item_name, quality, stattrak, roi_percent, profit_eur,
		cheap_url, steam_url, cheap_price_eur, steam_price_eur,
		scraped_at, source
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (item_name, scraped_at) DO UPDATE SET
		roi_percent = EXCLUDED.roi_percent,
		profit_eur = EXCLUDED.profit_eur,
		cheap_price_eur = EXCLUDED.cheap_price_eur,
		steam_price_eur = EXCLUDED.steam_price_eur
`

// SaveBatch upserts records in one pgx.Batch/transaction, the same
// send-batch-then-check-each-result-then-commit shape as
// MarketRepository.upsertBatch. A failed batch is rolled back and the error
// returned to the caller (internal/storage), which logs and drops it rather
// than retrying — storage failures are non-fatal to the run.
func (b *Backend) SaveBatch(ctx context.Context, records []model.StorageRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(upsertQuery,
			r.ItemName,
			r.Quality,
			r.StatTrak,
			r.ROIPercent,
			r.ProfitEUR,
			r.CheapURL,
			r.SteamURL,
			r.CheapPriceEUR,
			r.SteamPriceEUR,
			r.ScrapedAt,
			r.Source,
		)
	}

	results := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return fmt.Errorf("store: batch exec failed at index %d: %w", i, err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("store: close batch results: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("store: commit transaction: %w", err)
	}
	return nil
}

// QueryHistory returns up to limit rows for itemName, most recent first,
// mirroring MarketRepository.GetMarketOrders's query-then-Scan-each-row
// shape (internal/database/market.go).
func (b *Backend) QueryHistory(ctx context.Context, itemName string, limit int) ([]model.StorageRecord, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT item_name, quality, stattrak, roi_percent, profit_eur,
		       cheap_url, steam_url, cheap_price_eur, steam_price_eur,
		       scraped_at, source
		FROM arbitrage_results
		WHERE item_name = $1
		ORDER BY scraped_at DESC
		LIMIT $2
	`, itemName, limit)
	if err != nil {
		return nil, fmt.Errorf("store: query history: %w", err)
	}
	defer rows.Close()

	var records []model.StorageRecord
	for rows.Next() {
		var r model.StorageRecord
		if err := rows.Scan(
			&r.ItemName, &r.Quality, &r.StatTrak, &r.ROIPercent, &r.ProfitEUR,
			&r.CheapURL, &r.SteamURL, &r.CheapPriceEUR, &r.SteamPriceEUR,
			&r.ScrapedAt, &r.Source,
		); err != nil {
			return nil, fmt.Errorf("store: scan history row: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: history rows: %w", err)
	}
	return records, nil
}

// PruneOlderThan deletes rows scraped before the cutoff, mirroring
// CleanOldMarketOrders's one-shot delete-by-age shape. Neither the hot path
// nor the CLI calls it.
func (b *Backend) PruneOlderThan(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	tag, err := b.pool.Exec(ctx, `DELETE FROM arbitrage_results WHERE scraped_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: prune: %w", err)
	}
	return tag.RowsAffected(), nil
}
