// Package storage provides SQLite-backed persistence for cached entries and alert history.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rewired-gh/proporacle/internal/models"
	_ "modernc.org/sqlite"
)

// Storage wraps a SQLite database for all persistence operations.
// It satisfies ttlcache.Store so the report cache and cooldowns can survive restarts.
type Storage struct {
	db        *sql.DB
	maxAlerts int
	now       func() time.Time
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/proporacle/data.db.
func New(maxAlerts int, dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "proporacle", "data.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	s := &Storage{db: db, maxAlerts: maxAlerts, now: time.Now}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS cache_entries (
			key         TEXT PRIMARY KEY,
			value       BLOB NOT NULL,
			expires_at  INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cache_expires_at ON cache_entries(expires_at)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id           TEXT PRIMARY KEY,
			run_id       TEXT NOT NULL,
			player_id    INTEGER NOT NULL,
			player_name  TEXT NOT NULL,
			stat         TEXT NOT NULL,
			direction    TEXT NOT NULL,
			delta        REAL NOT NULL,
			sent_at      INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_sent_at ON alerts(sent_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Get returns a live cache entry. Expired rows read as a miss and are left for PurgeExpired.
func (s *Storage) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM cache_entries WHERE key = ? AND (expires_at = 0 OR expires_at > ?)`,
		key, s.now().UnixNano(),
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get cache entry: %w", err)
	}
	return value, true, nil
}

// Put upserts a cache entry. A non-positive ttl never expires.
func (s *Storage) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt int64
	if ttl > 0 {
		expiresAt = s.now().Add(ttl).UnixNano()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO cache_entries (key, value, expires_at) VALUES (?,?,?)`,
		key, value, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to put cache entry: %w", err)
	}
	return nil
}

// Evict deletes a cache entry; a missing key is not an error.
func (s *Storage) Evict(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to evict cache entry: %w", err)
	}
	return nil
}

// PurgeExpired deletes expired cache rows and returns how many were removed.
func (s *Storage) PurgeExpired() (int64, error) {
	res, err := s.db.Exec(
		`DELETE FROM cache_entries WHERE expires_at != 0 AND expires_at <= ?`,
		s.now().UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to purge cache entries: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// AddAlert appends a sent alert to the history and enforces the history cap.
func (s *Storage) AddAlert(alert *models.AlertRecord) error {
	if alert.ID == "" {
		return errors.New("alert ID must not be empty")
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.Exec(`
		INSERT INTO alerts
			(id, run_id, player_id, player_name, stat, direction, delta, sent_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		alert.ID, alert.RunID, alert.SubjectID, alert.Name,
		string(alert.Measure), string(alert.Direction), alert.Delta,
		alert.SentAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}

	if _, err = tx.Exec(`
		DELETE FROM alerts WHERE id NOT IN (
			SELECT id FROM alerts ORDER BY sent_at DESC LIMIT ?
		)`, s.maxAlerts); err != nil {
		return fmt.Errorf("failed to enforce alert cap: %w", err)
	}

	return tx.Commit()
}

// GetRecentAlerts returns up to k alerts, newest first.
func (s *Storage) GetRecentAlerts(k int) ([]models.AlertRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, run_id, player_id, player_name, stat, direction, delta, sent_at
		FROM alerts ORDER BY sent_at DESC LIMIT ?`, k)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	alerts := []models.AlertRecord{}
	for rows.Next() {
		var a models.AlertRecord
		var stat, direction string
		var sentAtNano int64

		if err := rows.Scan(
			&a.ID, &a.RunID, &a.SubjectID, &a.Name, &stat, &direction, &a.Delta, &sentAtNano,
		); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}

		a.Measure = models.Measure(stat)
		a.Direction = models.Direction(direction)
		a.SentAt = time.Unix(0, sentAtNano)
		alerts = append(alerts, a)
	}

	return alerts, rows.Err()
}

// ClearAlerts empties the alert history.
func (s *Storage) ClearAlerts() error {
	if _, err := s.db.Exec(`DELETE FROM alerts`); err != nil {
		return fmt.Errorf("failed to clear alerts: %w", err)
	}
	return nil
}
