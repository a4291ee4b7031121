package cache

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/hindsight/internal/database"
)

// mgetChunkSize keeps IN(...) parameter lists under sqlite's variable limit.
const mgetChunkSize = 500

// SQLiteStore implements Store on a single-table sqlite database.
type SQLiteStore struct {
	db  *database.DB
	log zerolog.Logger
}

// NewSQLiteStore opens (and if needed creates) the entries table.
func NewSQLiteStore(db *database.DB, log zerolog.Logger) (*SQLiteStore, error) {
	schema := `CREATE TABLE IF NOT EXISTS entries (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		expires_at INTEGER
	)`
	if _, err := db.Conn().Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create cache schema: %w", err)
	}
	return &SQLiteStore{
		db:  db,
		log: log.With().Str("component", "cache").Logger(),
	}, nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, key string) (string, bool) {
	var value string
	err := s.db.Conn().QueryRowContext(ctx,
		"SELECT value FROM entries WHERE key = ? AND (expires_at IS NULL OR expires_at > ?)",
		key, time.Now().Unix(),
	).Scan(&value)
	if err != nil {
		return "", false
	}
	return value, true
}

// MGet implements Store. Keys are looked up in chunks; a failed chunk is
// treated as all-miss.
func (s *SQLiteStore) MGet(ctx context.Context, keys []string) map[string]string {
	result := make(map[string]string, len(keys))
	now := time.Now().Unix()

	for start := 0; start < len(keys); start += mgetChunkSize {
		end := start + mgetChunkSize
		if end > len(keys) {
			end = len(keys)
		}
		chunk := keys[start:end]

		placeholders := strings.Repeat("?,", len(chunk))
		placeholders = placeholders[:len(placeholders)-1]
		args := make([]interface{}, 0, len(chunk)+1)
		for _, k := range chunk {
			args = append(args, k)
		}
		args = append(args, now)

		rows, err := s.db.Conn().QueryContext(ctx,
			"SELECT key, value FROM entries WHERE key IN ("+placeholders+") AND (expires_at IS NULL OR expires_at > ?)",
			args...,
		)
		if err != nil {
			s.log.Warn().Err(err).Int("keys", len(chunk)).Msg("Cache mget failed, treating as miss")
			continue
		}
		for rows.Next() {
			var k, v string
			if err := rows.Scan(&k, &v); err != nil {
				continue
			}
			result[k] = v
		}
		rows.Close()
	}

	return result
}

// Set implements Store.
func (s *SQLiteStore) Set(ctx context.Context, key, value string, ttl time.Duration) bool {
	return s.MSet(ctx, []Item{{Key: key, Value: value, TTL: ttl}})
}

// MSet implements Store. The batch is written in one transaction; entries are
// idempotent so a lost batch only costs a recompute.
func (s *SQLiteStore) MSet(ctx context.Context, items []Item) bool {
	if len(items) == 0 {
		return true
	}

	tx, err := s.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("Cache mset failed to begin transaction, dropping batch")
		return false
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, "INSERT OR REPLACE INTO entries (key, value, expires_at) VALUES (?, ?, ?)")
	if err != nil {
		s.log.Warn().Err(err).Msg("Cache mset failed to prepare, dropping batch")
		return false
	}
	defer stmt.Close()

	for _, item := range items {
		var expiresAt interface{}
		if item.TTL > 0 {
			expiresAt = time.Now().Add(item.TTL).Unix()
		}
		if _, err := stmt.ExecContext(ctx, item.Key, item.Value, expiresAt); err != nil {
			s.log.Warn().Err(err).Str("key", item.Key).Msg("Cache write failed, dropping batch")
			return false
		}
	}

	if err := tx.Commit(); err != nil {
		s.log.Warn().Err(err).Msg("Cache mset commit failed, dropping batch")
		return false
	}
	return true
}

// Del implements Store.
func (s *SQLiteStore) Del(ctx context.Context, keys ...string) bool {
	for _, key := range keys {
		if _, err := s.db.Conn().ExecContext(ctx, "DELETE FROM entries WHERE key = ?", key); err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("Cache delete failed")
			return false
		}
	}
	return true
}

// FlushAll implements Store.
func (s *SQLiteStore) FlushAll(ctx context.Context) error {
	if _, err := s.db.Conn().ExecContext(ctx, "DELETE FROM entries"); err != nil {
		return fmt.Errorf("failed to flush cache: %w", err)
	}
	// Reclaim file space after the bulk delete.
	if _, err := s.db.Conn().ExecContext(ctx, "VACUUM"); err != nil {
		s.log.Warn().Err(err).Msg("Cache vacuum after flush failed")
	}
	return nil
}

// DeleteExpired sweeps rows whose TTL has elapsed. Invoked from the purge job.
func (s *SQLiteStore) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := s.db.Conn().ExecContext(ctx, "DELETE FROM entries WHERE expires_at IS NOT NULL AND expires_at <= ?", time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired entries: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Stats implements Store.
func (s *SQLiteStore) Stats(ctx context.Context) Stats {
	stats := Stats{Available: s.Available()}
	_ = s.db.Conn().QueryRowContext(ctx, "SELECT COUNT(*) FROM entries").Scan(&stats.Entries)
	if info, err := os.Stat(s.db.Path()); err == nil {
		stats.SizeBytes = info.Size()
	}
	return stats
}

// Available implements Store.
func (s *SQLiteStore) Available() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.db.Conn().PingContext(ctx) == nil
}
