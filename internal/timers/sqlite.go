package timers

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists timers in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteStore opens (or creates) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS timers (
		id TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		class TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		fire_at INTEGER NOT NULL,
		status TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		extra TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_timers_owner ON timers(owner);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) LoadAll(ctx context.Context) ([]Timer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, owner, class, name, fire_at, status, created_at, updated_at, extra FROM timers ORDER BY fire_at, id")
	if err != nil {
		return nil, fmt.Errorf("query timers: %w", err)
	}
	defer rows.Close()

	var out []Timer
	for rows.Next() {
		var (
			t                        Timer
			status                   string
			fireAt, created, updated int64
			extra                    sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.Owner, &t.Class, &t.Name, &fireAt, &status, &created, &updated, &extra); err != nil {
			return nil, fmt.Errorf("scan timer: %w", err)
		}
		t.Status = Status(status)
		t.FireAt = time.UnixMilli(fireAt)
		t.CreatedAt = time.UnixMilli(created)
		t.UpdatedAt = time.UnixMilli(updated)
		if extra.Valid && extra.String != "" {
			if err := json.Unmarshal([]byte(extra.String), &t.Extra); err != nil {
				return nil, fmt.Errorf("decode extra for %s: %w", t.ID, err)
			}
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveAll(ctx context.Context, timers []Timer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM timers"); err != nil {
		return fmt.Errorf("clear timers: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO timers (id, owner, class, name, fire_at, status, created_at, updated_at, extra) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, t := range timers {
		var extra any
		if len(t.Extra) > 0 {
			b, err := json.Marshal(t.Extra)
			if err != nil {
				return fmt.Errorf("encode extra for %s: %w", t.ID, err)
			}
			extra = string(b)
		}
		if _, err := stmt.ExecContext(ctx, t.ID, t.Owner, t.Class, t.Name,
			t.FireAt.UnixMilli(), string(t.Status), t.CreatedAt.UnixMilli(), t.UpdatedAt.UnixMilli(), extra); err != nil {
			return fmt.Errorf("insert timer %s: %w", t.ID, err)
		}
	}
	return tx.Commit()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
