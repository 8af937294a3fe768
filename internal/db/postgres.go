// Package db persists scan state between runs: per-wallet scan
// checkpoints, resolved spent key images and a cache of discovered UTXOs.
// The engine degrades gracefully without it; every caller treats a nil
// store as "no persistence".
package db

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rawblock/veil-light-engine/pkg/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

// Connect initializes the connection pool to PostgreSQL using pgx.
func Connect(connStr string) (*PostgresStore, error) {
	pool, err := pgxpool.New(context.Background(), connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %v", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping failed: %v", err)
	}

	log.Println("Successfully connected to PostgreSQL for scan-state persistence")
	return &PostgresStore{pool: pool}, nil
}

// Close gracefully closes the connection pool.
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema loads and executes the schema.sql file.
func (s *PostgresStore) InitSchema() error {
	schemaBytes, err := os.ReadFile("internal/db/schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema file: %v", err)
	}

	_, err = s.pool.Exec(context.Background(), string(schemaBytes))
	if err != nil {
		return fmt.Errorf("failed to execute schema migrations: %v", err)
	}

	log.Println("Wallet scan-state schema initialized")
	return nil
}

// SaveScanCheckpoint upserts the resume index for a scan key. Only forward
// movement is persisted; a stale writer can never rewind the checkpoint.
func (s *PostgresStore) SaveScanCheckpoint(ctx context.Context, scanPubHex string, lastIndex uint64) error {
	sql := `
		INSERT INTO scan_checkpoints (scan_pub, last_index)
		VALUES ($1, $2)
		ON CONFLICT (scan_pub) DO UPDATE
		SET last_index = GREATEST(scan_checkpoints.last_index, EXCLUDED.last_index), updated_at = NOW();
	`
	_, err := s.pool.Exec(ctx, sql, scanPubHex, int64(lastIndex))
	return err
}

// LoadScanCheckpoint returns the resume index for a scan key, zero when
// the wallet has never been scanned.
func (s *PostgresStore) LoadScanCheckpoint(ctx context.Context, scanPubHex string) (uint64, error) {
	var idx int64
	err := s.pool.QueryRow(ctx,
		`SELECT last_index FROM scan_checkpoints WHERE scan_pub = $1`, scanPubHex).Scan(&idx)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return uint64(idx), nil
}

// SaveSpentKeyImages records resolved-spent key images for a wallet so
// later scans can skip the checkkeyimages round trip.
func (s *PostgresStore) SaveSpentKeyImages(ctx context.Context, scanPubHex string, images []string) error {
	if len(images) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	sql := `
		INSERT INTO spent_key_images (scan_pub, key_image)
		VALUES ($1, $2)
		ON CONFLICT (scan_pub, key_image) DO NOTHING;
	`
	for _, img := range images {
		if _, err := tx.Exec(ctx, sql, scanPubHex, img); err != nil {
			return fmt.Errorf("failed to insert spent key image: %v", err)
		}
	}
	return tx.Commit(ctx)
}

// LoadSpentKeyImages returns the cached spent key images for a wallet.
func (s *PostgresStore) LoadSpentKeyImages(ctx context.Context, scanPubHex string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT key_image FROM spent_key_images WHERE scan_pub = $1`, scanPubHex)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var images []string
	for rows.Next() {
		var img string
		if err := rows.Scan(&img); err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, rows.Err()
}

// SaveUTXOs upserts discovered unspent outputs. Secrets never reach the
// database: the blind is deliberately not persisted, so cached rows carry
// location, amount and key image only and spending rescans the records.
func (s *PostgresStore) SaveUTXOs(ctx context.Context, scanPubHex string, utxos []*models.UTXO) error {
	if len(utxos) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	sql := `
		INSERT INTO utxo_cache (scan_pub, txid, vout, amount, key_image, ringct_index)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (scan_pub, txid, vout) DO UPDATE
		SET amount = EXCLUDED.amount, key_image = EXCLUDED.key_image, ringct_index = EXCLUDED.ringct_index;
	`
	for _, u := range utxos {
		_, err := tx.Exec(ctx, sql, scanPubHex, u.TxID, int64(u.Vout), int64(u.Amount), u.KeyImageHex(), int64(u.RingCTIndex))
		if err != nil {
			return fmt.Errorf("failed to upsert utxo %s:%d: %v", u.TxID, u.Vout, err)
		}
	}
	return tx.Commit(ctx)
}

// PruneSpentUTXOs deletes cached rows whose key images have been resolved
// spent.
func (s *PostgresStore) PruneSpentUTXOs(ctx context.Context, scanPubHex string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM utxo_cache
		USING spent_key_images ski
		WHERE utxo_cache.scan_pub = $1
		  AND ski.scan_pub = utxo_cache.scan_pub
		  AND ski.key_image = utxo_cache.key_image;
	`, scanPubHex)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CachedBalance sums the cached unspent amounts for a wallet.
func (s *PostgresStore) CachedBalance(ctx context.Context, scanPubHex string) (uint64, int, error) {
	var total int64
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0), COUNT(*) FROM utxo_cache WHERE scan_pub = $1`, scanPubHex).
		Scan(&total, &count)
	if err != nil {
		return 0, 0, err
	}
	return uint64(total), count, nil
}

// GetPool exposes the connection pool for subsystems that need raw access.
func (s *PostgresStore) GetPool() *pgxpool.Pool {
	return s.pool
}
