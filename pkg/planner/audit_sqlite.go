package planner

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteAuditStore persists audit events in SQLite.
type SQLiteAuditStore struct {
	db *sql.DB
}

// OpenSQLiteAuditStore opens (or creates) the database at path.
func OpenSQLiteAuditStore(path string) (*SQLiteAuditStore, error) {
	if path == "" {
		return nil, errors.New("audit path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	store, err := NewSQLiteAuditStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLiteAuditStore creates a SQLite-backed audit store and ensures schema.
func NewSQLiteAuditStore(db *sql.DB) (*SQLiteAuditStore, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if err := ensureActionAuditSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteAuditStore{db: db}, nil
}

// Close releases the underlying database.
func (s *SQLiteAuditStore) Close() error {
	return s.db.Close()
}

// Record stores a single audit event.
func (s *SQLiteAuditStore) Record(ctx context.Context, event AuditEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO action_audit_events (
			agent, run_id, rule, line, verb, status, result_kind, error_text, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		event.Agent,
		event.RunID,
		event.Rule,
		event.Line,
		event.Verb,
		event.Status,
		event.ResultKind,
		event.Error,
		normalizeAuditTime(event.StartedAt),
		normalizeAuditTime(event.FinishedAt),
	)
	return err
}

// List returns audit events matching the filter, oldest first.
func (s *SQLiteAuditStore) List(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	query := `
		SELECT agent, run_id, rule, line, verb, status, result_kind, error_text, started_at, finished_at
		FROM action_audit_events
	`
	var args []any
	where := ""
	addFilter := func(clause string, value any) {
		if where == "" {
			where = " WHERE " + clause
		} else {
			where += " AND " + clause
		}
		args = append(args, value)
	}
	if filter.Agent != "" {
		addFilter("agent = ?", filter.Agent)
	}
	if filter.RunID != "" {
		addFilter("run_id = ?", filter.RunID)
	}
	if filter.Status != "" {
		addFilter("status = ?", filter.Status)
	}
	if filter.ResultKind != "" {
		addFilter("result_kind = ?", filter.ResultKind)
	}
	query += where + " ORDER BY started_at ASC, id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []AuditEvent
	for rows.Next() {
		var (
			event    AuditEvent
			started  sql.NullTime
			finished sql.NullTime
		)
		if err := rows.Scan(
			&event.Agent,
			&event.RunID,
			&event.Rule,
			&event.Line,
			&event.Verb,
			&event.Status,
			&event.ResultKind,
			&event.Error,
			&started,
			&finished,
		); err != nil {
			return nil, err
		}
		if started.Valid {
			event.StartedAt = started.Time
		}
		if finished.Valid {
			event.FinishedAt = finished.Time
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// Prune deletes events that finished before the cutoff.
func (s *SQLiteAuditStore) Prune(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM action_audit_events WHERE finished_at < ?`, normalizeAuditTime(before))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func ensureActionAuditSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS action_audit_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			agent TEXT NOT NULL,
			run_id TEXT,
			rule TEXT,
			line TEXT NOT NULL,
			verb TEXT NOT NULL,
			status TEXT NOT NULL,
			result_kind TEXT,
			error_text TEXT,
			started_at TIMESTAMP,
			finished_at TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_action_audit_agent ON action_audit_events(agent);
		CREATE INDEX IF NOT EXISTS idx_action_audit_status ON action_audit_events(status);
		CREATE INDEX IF NOT EXISTS idx_action_audit_kind ON action_audit_events(result_kind);
	`)
	return err
}
