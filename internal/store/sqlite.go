package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure-Go driver, registers "sqlite"

	"inferd/pkg/types"
)

// SQLite persists records in a single-file database opened in WAL mode.
type SQLite struct {
	path string

	mu        sync.RWMutex
	db        *sql.DB
	connected bool
}

func NewSQLite(path string) (*SQLite, error) {
	if path == "" {
		return nil, errors.New("store: sqlite url needs a path")
	}
	return &SQLite{path: path}, nil
}

func (s *SQLite) Scheme() string { return "sqlite" }

func (s *SQLite) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return nil
	}
	dsn := s.path
	if s.path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
			return fmt.Errorf("store: create data dir: %w", err)
		}
		dsn = s.path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("store: open sqlite: %w", err)
	}
	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("store: ping sqlite: %w", err)
	}
	if err := migrateSQLite(ctx, db); err != nil {
		_ = db.Close()
		return fmt.Errorf("store: migrate: %w", err)
	}
	s.db = db
	s.connected = true
	return nil
}

func migrateSQLite(ctx context.Context, db *sql.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS invocation_inputs (
			id         TEXT PRIMARY KEY,
			payload    BLOB NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS invocation_outputs (
			input_id   TEXT PRIMARY KEY,
			payload    BLOB NOT NULL,
			created_at INTEGER NOT NULL
		)`,
	}
	for _, m := range migrations {
		if _, err := db.ExecContext(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLite) Connected() bool {
	db, err := s.conn()
	if err != nil {
		return false
	}
	// the single connection is busy serving a query, so it is alive
	if db.Stats().InUse > 0 {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	return db.PingContext(ctx) == nil
}

func (s *SQLite) conn() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.connected || s.db == nil {
		return nil, ErrNotConnected
	}
	return s.db, nil
}

func (s *SQLite) SaveInput(ctx context.Context, in types.ModelInput) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO invocation_inputs (id, payload, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET payload = excluded.payload, created_at = excluded.created_at`,
		in.ID, []byte(in.Payload), toUnixNano(in.CreatedAt))
	if err != nil {
		return fmt.Errorf("store: save input %s: %w", in.ID, err)
	}
	return nil
}

func (s *SQLite) SaveOutput(ctx context.Context, in types.ModelInput, out types.ModelOutput) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO invocation_outputs (input_id, payload, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(input_id) DO UPDATE SET payload = excluded.payload, created_at = excluded.created_at`,
		in.ID, []byte(out.Payload), toUnixNano(out.CreatedAt))
	if err != nil {
		return fmt.Errorf("store: save output %s: %w", in.ID, err)
	}
	return nil
}

func (s *SQLite) GetInput(ctx context.Context, id string) (*types.ModelInput, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	var (
		payload []byte
		created int64
	)
	err = db.QueryRowContext(ctx, `SELECT payload, created_at FROM invocation_inputs WHERE id = ?`, id).Scan(&payload, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get input %s: %w", id, err)
	}
	return &types.ModelInput{ID: id, Payload: payload, CreatedAt: fromUnixNano(created)}, nil
}

func (s *SQLite) GetOutput(ctx context.Context, id string) (*types.ModelOutput, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	var (
		payload []byte
		created int64
	)
	err = db.QueryRowContext(ctx, `SELECT payload, created_at FROM invocation_outputs WHERE input_id = ?`, id).Scan(&payload, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get output %s: %w", id, err)
	}
	return &types.ModelOutput{InputID: id, Payload: payload, CreatedAt: fromUnixNano(created)}, nil
}

func toUnixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
