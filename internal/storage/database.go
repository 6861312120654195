package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Registers the sqlite driver
)

// DatabaseFile is the name of the SQLite file created under the storage root.
const DatabaseFile = "knolmark.db"

// SQLBackend keeps documents as rows of a SQLite database.
type SQLBackend struct {
	root string
	conn *sql.DB
}

// OpenSQL creates the storage root if needed, opens the database inside it
// and ensures the schema is up to date.
func OpenSQL(root string) (*SQLBackend, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root %s: %w", root, err)
	}

	db, err := sql.Open("sqlite", filepath.Join(root, DatabaseFile))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer at a time; the progress flusher and foreground writes share it.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Execute the schema to create tables if they don't exist.
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLBackend{root: root, conn: db}, nil
}

// Ensure recreates the storage root if it was removed underneath us.
func (b *SQLBackend) Ensure(ctx context.Context) error {
	if err := os.MkdirAll(b.root, 0o755); err != nil {
		return fmt.Errorf("failed to create storage root %s: %w", b.root, err)
	}
	return nil
}

// Load retrieves a document body by key.
func (b *SQLBackend) Load(ctx context.Context, key string) ([]byte, error) {
	var body []byte
	err := b.conn.QueryRowContext(ctx, `SELECT body FROM documents WHERE key = ?`, key).Scan(&body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load document %s: %w", key, err)
	}
	return body, nil
}

// Save replaces a document body in a single statement.
func (b *SQLBackend) Save(ctx context.Context, key string, data []byte) error {
	_, err := b.conn.ExecContext(ctx, `
		INSERT INTO documents (key, body, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at
	`, key, data, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save document %s: %w", key, err)
	}
	return nil
}

// Close closes the database connection.
func (b *SQLBackend) Close() error {
	return b.conn.Close()
}
