package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"github.com/ZanzyTHEbar/toolplan"
)

const schema = `CREATE TABLE IF NOT EXISTS plans (
	session_id TEXT PRIMARY KEY,
	plan_id    TEXT NOT NULL,
	status     TEXT NOT NULL,
	body       TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);`

// SQLiteStore persists plans as JSON rows so they survive restarts.
type SQLiteStore struct {
	DB *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at dbPath.
// Use ":memory:" for a throwaway database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, toolplan.NewStoreError("store.open", "open", err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, toolplan.NewStoreError("store.open", "migrate", err)
	}
	return &SQLiteStore{DB: db}, nil
}

// Get loads the session's plan.
func (s *SQLiteStore) Get(ctx context.Context, sessionID string) (*toolplan.Plan, error) {
	if err := contextDone(ctx, "get"); err != nil {
		return nil, err
	}

	var body string
	err := s.DB.QueryRowContext(ctx, `SELECT body FROM plans WHERE session_id = ?`, sessionID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(sessionID, "plan not found")
	}
	if err != nil {
		return nil, toolplan.NewStoreError("store.get", "get", err)
	}

	var plan toolplan.Plan
	if err := json.Unmarshal([]byte(body), &plan); err != nil {
		return nil, toolplan.NewStoreError("store.get", "decode", err)
	}
	return &plan, nil
}

// Set upserts the session's plan.
func (s *SQLiteStore) Set(ctx context.Context, sessionID string, plan *toolplan.Plan) error {
	if err := contextDone(ctx, "set"); err != nil {
		return err
	}
	if plan == nil {
		return toolplan.NewValidationError("store.set", "plan cannot be nil", nil)
	}

	body, err := json.Marshal(plan)
	if err != nil {
		return toolplan.NewStoreError("store.set", "encode", err)
	}
	query := `INSERT INTO plans (session_id, plan_id, status, body, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			plan_id = excluded.plan_id,
			status = excluded.status,
			body = excluded.body,
			updated_at = excluded.updated_at`
	if _, err := s.DB.ExecContext(ctx, query, sessionID, plan.ID, string(plan.Status), string(body), time.Now().UTC()); err != nil {
		return toolplan.NewStoreError("store.set", "set", err)
	}
	return nil
}

// Delete removes the session's plan. Deleting a missing plan is not an error.
func (s *SQLiteStore) Delete(ctx context.Context, sessionID string) error {
	if err := contextDone(ctx, "delete"); err != nil {
		return err
	}
	if _, err := s.DB.ExecContext(ctx, `DELETE FROM plans WHERE session_id = ?`, sessionID); err != nil {
		return toolplan.NewStoreError("store.delete", "delete", err)
	}
	return nil
}

// Sessions lists the sessions holding a plan, sorted.
func (s *SQLiteStore) Sessions(ctx context.Context) ([]string, error) {
	if err := contextDone(ctx, "sessions"); err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT session_id FROM plans ORDER BY session_id`)
	if err != nil {
		return nil, toolplan.NewStoreError("store.sessions", "sessions", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, toolplan.NewStoreError("store.sessions", "scan", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, toolplan.NewStoreError("store.sessions", "sessions", err)
	}
	return ids, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.DB.Close()
}
