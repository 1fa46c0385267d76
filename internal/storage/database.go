package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// AlertEntry is one delivered or suppressed alert in the history
type AlertEntry struct {
	ID           string    `json:"id"`
	RuleName     string    `json:"rule_name"`
	Description  string    `json:"description"`
	Severity     string    `json:"severity"`
	Location     string    `json:"location"`
	Timestamp    time.Time `json:"timestamp"`
	AlertType    string    `json:"alert_type,omitempty"`
	Reasoning    string    `json:"reasoning,omitempty"`
	Confidence   float64   `json:"confidence"`
	Delivered    bool      `json:"delivered"`
	Suppressed   bool      `json:"suppressed"`
	NotifiedOK   bool      `json:"notified_ok"`
	EvidencePath string    `json:"evidence_path,omitempty"`
}

// AlertStore keeps the alert history in SQLite
type AlertStore struct {
	db     *sql.DB
	dbPath string
}

// NewAlertStore opens (or creates) the database at dbPath
func NewAlertStore(dbPath string) (*AlertStore, error) {
	if err := ensureDir(filepath.Dir(dbPath)); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't support concurrent writes well
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	store := &AlertStore{db: db, dbPath: dbPath}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// Close closes the database connection
func (s *AlertStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *AlertStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS alerts (
		id TEXT PRIMARY KEY,
		rule_name TEXT NOT NULL,
		description TEXT NOT NULL,
		severity TEXT NOT NULL,
		location TEXT,
		timestamp TIMESTAMP NOT NULL,
		alert_type TEXT,
		reasoning TEXT,
		confidence REAL,
		delivered BOOLEAN DEFAULT 0,
		suppressed BOOLEAN DEFAULT 0,
		notified_ok BOOLEAN DEFAULT 0,
		evidence_path TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_alerts_timestamp ON alerts(timestamp);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Save inserts an entry, replacing one with the same id
func (s *AlertStore) Save(ctx context.Context, e AlertEntry) error {
	query := `
		INSERT INTO alerts (id, rule_name, description, severity, location, timestamp,
			alert_type, reasoning, confidence, delivered, suppressed, notified_ok, evidence_path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			delivered = excluded.delivered,
			suppressed = excluded.suppressed,
			notified_ok = excluded.notified_ok,
			evidence_path = excluded.evidence_path
	`

	_, err := s.db.ExecContext(ctx, query,
		e.ID,
		e.RuleName,
		e.Description,
		e.Severity,
		e.Location,
		e.Timestamp.UTC(),
		e.AlertType,
		e.Reasoning,
		e.Confidence,
		e.Delivered,
		e.Suppressed,
		e.NotifiedOK,
		e.EvidencePath,
	)
	if err != nil {
		return fmt.Errorf("failed to save alert: %w", err)
	}
	return nil
}

// List returns up to limit entries, newest first
func (s *AlertStore) List(ctx context.Context, limit int) ([]AlertEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, rule_name, description, severity, location, timestamp,
			alert_type, reasoning, confidence, delivered, suppressed, notified_ok, evidence_path
		FROM alerts
		ORDER BY timestamp DESC, created_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	entries := make([]AlertEntry, 0)
	for rows.Next() {
		var e AlertEntry
		var location, alertType, reasoning, evidence sql.NullString
		var confidence sql.NullFloat64
		if err := rows.Scan(
			&e.ID,
			&e.RuleName,
			&e.Description,
			&e.Severity,
			&location,
			&e.Timestamp,
			&alertType,
			&reasoning,
			&confidence,
			&e.Delivered,
			&e.Suppressed,
			&e.NotifiedOK,
			&evidence,
		); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		e.Location = location.String
		e.AlertType = alertType.String
		e.Reasoning = reasoning.String
		e.Confidence = confidence.Float64
		e.EvidencePath = evidence.String
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alerts: %w", err)
	}
	return entries, nil
}

// Ping checks that the database is reachable
func (s *AlertStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Count returns the number of stored alerts
func (s *AlertStore) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alerts`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count alerts: %w", err)
	}
	return count, nil
}

// DeleteBefore removes entries older than t and returns how many went
func (s *AlertStore) DeleteBefore(ctx context.Context, t time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM alerts WHERE timestamp < ?`, t.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune alerts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to prune alerts: %w", err)
	}
	return n, nil
}

// ensureDir ensures a directory exists
func ensureDir(dir string) error {
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0755)
}
