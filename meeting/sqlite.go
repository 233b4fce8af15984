package meeting

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteSlot keeps named slots as rows of a single table, one row per slot.
type SQLiteSlot struct {
	db   *sql.DB
	name string
	path string
}

// OpenSQLiteSlot opens the database at dbPath and creates the slots table
// if it doesn't exist. Transactions start with BEGIN IMMEDIATE so an Update
// holds the write lock from its first read.
func OpenSQLiteSlot(dbPath, name string) (*SQLiteSlot, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_txlock=immediate&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := createSlotTable(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return &SQLiteSlot{db: db, name: name, path: dbPath}, nil
}

func createSlotTable(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS slots (
		name TEXT PRIMARY KEY,
		data BLOB NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := db.Exec(schema)
	return err
}

func (s *SQLiteSlot) Name() string { return s.name }
func (s *SQLiteSlot) Path() string { return s.path }

func (s *SQLiteSlot) Close() error {
	return s.db.Close()
}

func (s *SQLiteSlot) Read(ctx context.Context) ([]byte, error) {
	row := s.db.QueryRowContext(ctx, `SELECT data FROM slots WHERE name = ?`, s.name)

	var data []byte
	err := row.Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan slot: %w", err)
	}
	return data, nil
}

const upsertSlot = `INSERT INTO slots (name, data, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(name) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`

func (s *SQLiteSlot) Write(ctx context.Context, data []byte) error {
	if _, err := s.db.ExecContext(ctx, upsertSlot, s.name, data, time.Now().UTC()); err != nil {
		return fmt.Errorf("upsert slot: %w", err)
	}
	return nil
}

func (s *SQLiteSlot) Update(ctx context.Context, fn func(current []byte) ([]byte, error)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current []byte
	err = tx.QueryRowContext(ctx, `SELECT data FROM slots WHERE name = ?`, s.name).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("scan slot: %w", err)
	}

	next, err := fn(current)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, upsertSlot, s.name, next, time.Now().UTC()); err != nil {
		return fmt.Errorf("upsert slot: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit slot: %w", err)
	}
	return nil
}
