// Package db persists per-request acquisition records and user preferences
// in SQLite.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/nijaru/tubeprompt/config"
	"github.com/nijaru/tubeprompt/errors"
	"github.com/nijaru/tubeprompt/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS acquisitions (
    id TEXT PRIMARY KEY,
    tab_id TEXT NOT NULL,
    url TEXT NOT NULL DEFAULT '',
    platform TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    range_start REAL,
    range_end REAL,
    language TEXT NOT NULL DEFAULT '',
    source_lang_code TEXT NOT NULL DEFAULT '',
    transcript TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    token_estimate INTEGER NOT NULL DEFAULT 0,
    reason TEXT NOT NULL DEFAULT '',
    error TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_acquisitions_status ON acquisitions(status, updated_at);
CREATE INDEX IF NOT EXISTS idx_acquisitions_tab ON acquisitions(tab_id);

CREATE TABLE IF NOT EXISTS preferences (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at DATETIME NOT NULL
);
`

const (
	upsertAcquisitionQuery = `
        INSERT INTO acquisitions (
            id, tab_id, url, platform, status, range_start, range_end,
            language, source_lang_code, transcript, description,
            token_estimate, reason, error, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            status = excluded.status,
            range_start = excluded.range_start,
            range_end = excluded.range_end,
            source_lang_code = excluded.source_lang_code,
            transcript = excluded.transcript,
            description = excluded.description,
            token_estimate = excluded.token_estimate,
            reason = excluded.reason,
            error = excluded.error,
            updated_at = excluded.updated_at
    `

	selectAcquisition = `
        SELECT id, tab_id, url, platform, status, range_start, range_end,
               language, source_lang_code, transcript, description,
               token_estimate, reason, error, created_at, updated_at
        FROM acquisitions
    `

	getAcquisitionQuery  = selectAcquisition + ` WHERE id = ?`
	latestReadyQuery     = selectAcquisition + ` WHERE status = 'ready' ORDER BY updated_at DESC LIMIT 1`
	expirePendingQuery   = `UPDATE acquisitions SET status = 'failed', reason = ?, error = ?, updated_at = ? WHERE status IN ('pending', 'capturing') AND updated_at < ?`
	getPreferenceQuery   = `SELECT value FROM preferences WHERE key = ?`
	listPreferencesQuery = `SELECT key, value FROM preferences ORDER BY key`
	setPreferenceQuery   = `
        INSERT INTO preferences (key, value, updated_at) VALUES (?, ?, ?)
        ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
    `
)

// Preference keys carried over from the extension's local storage.
const (
	PrefSelectedChatTab   = "selectedChatTabId"
	PrefPreferredLanguage = "preferredLanguage"
	PrefToken             = "token"
)

var preferenceKeys = map[string]bool{
	PrefSelectedChatTab:   true,
	PrefPreferredLanguage: true,
	PrefToken:             true,
}

// KnownPreference reports whether key is one of the stored preference keys.
func KnownPreference(key string) bool {
	return preferenceKeys[key]
}

type DB struct {
	conn       *sql.DB
	logger     *logrus.Logger
	maxRetries int
	retryDelay time.Duration
}

func Open(cfg config.DatabaseConfig, logger *logrus.Logger) (*DB, error) {
	const op = "db.Open"

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, errors.Internal(op, err, "failed to create database directory")
	}

	conn, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, errors.Internal(op, err, "failed to open database")
	}

	maxConns := cfg.MaxConnections
	if maxConns <= 0 {
		maxConns = 10
	}
	conn.SetMaxOpenConns(maxConns)
	conn.SetMaxIdleConns(maxConns / 2)
	conn.SetConnMaxLifetime(time.Hour)

	if err := configurePragmas(conn); err != nil {
		conn.Close()
		return nil, err
	}
	if err := execSchema(conn); err != nil {
		conn.Close()
		return nil, err
	}

	logger.WithField("path", cfg.Path).Info("Database initialized")
	return &DB{conn: conn, logger: logger, maxRetries: 3, retryDelay: 100 * time.Millisecond}, nil
}

func (d *DB) Close() error {
	return d.conn.Close()
}

// Ping is used by the health check.
func (d *DB) Ping(ctx context.Context) error {
	return d.conn.PingContext(ctx)
}

func configurePragmas(conn *sql.DB) error {
	const op = "db.configurePragmas"

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			return errors.Internal(op, err, fmt.Sprintf("failed to set pragma: %s", pragma))
		}
	}
	return nil
}

func execSchema(conn *sql.DB) error {
	const op = "db.execSchema"

	tx, err := conn.Begin()
	if err != nil {
		return errors.Internal(op, err, "failed to begin transaction")
	}
	defer tx.Rollback()

	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := tx.Exec(stmt); err != nil {
			return errors.Internal(op, err, fmt.Sprintf("failed to execute schema statement: %s", stmt))
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Internal(op, err, "failed to commit schema transaction")
	}
	return nil
}

// withRetry retries fn while the database reports it is busy.
func (d *DB) withRetry(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for i := 0; i < d.maxRetries; i++ {
		if err := ctx.Err(); err != nil {
			return errors.Internal(op, err, "context cancelled")
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isBusy(lastErr) {
			return errors.Internal(op, lastErr, "database write failed")
		}
		d.logger.WithFields(logrus.Fields{"op": op, "attempt": i + 1}).Warn("Database busy, retrying")
		time.Sleep(d.retryDelay)
	}
	return errors.Internal(op, lastErr, "max retries exceeded")
}

func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// SaveAcquisition inserts the record or updates its mutable fields.
func (d *DB) SaveAcquisition(ctx context.Context, a *models.Acquisition) error {
	const op = "DB.SaveAcquisition"

	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	var start, end sql.NullFloat64
	if a.Range != nil {
		start = sql.NullFloat64{Float64: a.Range.Start, Valid: true}
		end = sql.NullFloat64{Float64: a.Range.End, Valid: true}
	}

	return d.withRetry(ctx, op, func() error {
		_, err := d.conn.ExecContext(ctx, upsertAcquisitionQuery,
			a.ID, a.TabID, a.URL, a.Platform, string(a.Status), start, end,
			a.Language, a.SourceLangCode, a.Transcript, a.Description,
			a.TokenEstimate, string(a.Reason), a.Error, a.CreatedAt, a.UpdatedAt,
		)
		return err
	})
}

func (d *DB) GetAcquisition(ctx context.Context, id string) (*models.Acquisition, error) {
	const op = "DB.GetAcquisition"

	a, err := scanAcquisition(d.conn.QueryRowContext(ctx, getAcquisitionQuery, id))
	if err == sql.ErrNoRows {
		return nil, errors.NotFound(op, err, "acquisition not found")
	}
	if err != nil {
		return nil, errors.Internal(op, err, "failed to load acquisition")
	}
	return a, nil
}

// LatestReady returns the most recently accepted transcript record.
func (d *DB) LatestReady(ctx context.Context) (*models.Acquisition, error) {
	const op = "DB.LatestReady"

	a, err := scanAcquisition(d.conn.QueryRowContext(ctx, latestReadyQuery))
	if err == sql.ErrNoRows {
		return nil, errors.NotFound(op, err, "no transcript has been accepted yet")
	}
	if err != nil {
		return nil, errors.Internal(op, err, "failed to load acquisition")
	}
	return a, nil
}

// ExpirePending fails records left pending for longer than maxAge, e.g. by a
// process that exited mid-acquisition.
func (d *DB) ExpirePending(ctx context.Context, maxAge time.Duration) (int64, error) {
	const op = "DB.ExpirePending"

	now := time.Now().UTC()
	var n int64
	err := d.withRetry(ctx, op, func() error {
		res, err := d.conn.ExecContext(ctx, expirePendingQuery,
			string(models.ErrTimeout), "acquisition did not complete", now, now.Add(-maxAge))
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

// Preference returns the stored value, or "" when the key was never set.
func (d *DB) Preference(ctx context.Context, key string) (string, error) {
	const op = "DB.Preference"

	var value string
	err := d.conn.QueryRowContext(ctx, getPreferenceQuery, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", errors.Internal(op, err, "failed to read preference")
	}
	return value, nil
}

func (d *DB) SetPreference(ctx context.Context, key, value string) error {
	const op = "DB.SetPreference"

	if !KnownPreference(key) {
		return errors.InvalidInput(op, nil, fmt.Sprintf("unknown preference %q", key))
	}
	return d.withRetry(ctx, op, func() error {
		_, err := d.conn.ExecContext(ctx, setPreferenceQuery, key, value, time.Now().UTC())
		return err
	})
}

func (d *DB) Preferences(ctx context.Context) (map[string]string, error) {
	const op = "DB.Preferences"

	rows, err := d.conn.QueryContext(ctx, listPreferencesQuery)
	if err != nil {
		return nil, errors.Internal(op, err, "failed to query preferences")
	}
	defer rows.Close()

	prefs := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, errors.Internal(op, err, "failed to scan preference")
		}
		prefs[k] = v
	}
	return prefs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAcquisition(row scanner) (*models.Acquisition, error) {
	var (
		a          models.Acquisition
		status     string
		reason     string
		start, end sql.NullFloat64
	)
	err := row.Scan(
		&a.ID, &a.TabID, &a.URL, &a.Platform, &status, &start, &end,
		&a.Language, &a.SourceLangCode, &a.Transcript, &a.Description,
		&a.TokenEstimate, &reason, &a.Error, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Status = models.Status(status)
	a.Reason = models.ErrorKind(reason)
	if start.Valid && end.Valid {
		a.Range = &models.SliceRange{Start: start.Float64, End: end.Float64}
	}
	return &a, nil
}
