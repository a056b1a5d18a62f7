package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS documents (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	doc        TEXT NOT NULL,
	UNIQUE (collection, id)
);
CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents(collection, seq);
`

// NewSQLite opens (or creates) an embedded SQLite file and returns the named
// collection inside it. Use ":memory:" for a throwaway database.
func NewSQLite(ctx context.Context, path, name string) (*Collection, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	dsn := path
	if path != ":memory:" {
		cleanPath := filepath.Clean(path)
		if err := os.MkdirAll(filepath.Dir(cleanPath), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
		dsn = cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if path == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		conn.SetMaxOpenConns(1)
	}

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := conn.ExecContext(ctx, sqliteSchema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("migrate sqlite db: %w", err)
	}

	return newCollection(name, &sqliteDriver{conn: conn, collection: name}), nil
}

type sqliteDriver struct {
	conn       *sql.DB
	collection string
}

func (d *sqliteDriver) list(ctx context.Context, _ map[string]any) ([]stored, error) {
	rows, err := d.conn.QueryContext(ctx,
		`SELECT id, doc FROM documents WHERE collection = ? ORDER BY seq`,
		d.collection,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []stored
	for rows.Next() {
		var row stored
		var doc string
		if err := rows.Scan(&row.id, &doc); err != nil {
			return nil, err
		}
		row.raw = []byte(doc)
		out = append(out, row)
	}
	return out, rows.Err()
}

func (d *sqliteDriver) get(ctx context.Context, id string) ([]byte, bool, error) {
	var doc string
	err := d.conn.QueryRowContext(ctx,
		`SELECT doc FROM documents WHERE collection = ? AND id = ?`,
		d.collection, id,
	).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return []byte(doc), true, nil
}

func (d *sqliteDriver) insert(ctx context.Context, id string, raw []byte) error {
	result, err := d.conn.ExecContext(ctx,
		`INSERT INTO documents (collection, id, doc) VALUES (?, ?, ?)
		 ON CONFLICT (collection, id) DO NOTHING`,
		d.collection, id, string(raw),
	)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

func (d *sqliteDriver) put(ctx context.Context, id string, raw []byte) (bool, error) {
	result, err := d.conn.ExecContext(ctx,
		`UPDATE documents SET doc = ? WHERE collection = ? AND id = ?`,
		string(raw), d.collection, id,
	)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}

	_, err = d.conn.ExecContext(ctx,
		`INSERT INTO documents (collection, id, doc) VALUES (?, ?, ?)
		 ON CONFLICT (collection, id) DO UPDATE SET doc = excluded.doc`,
		d.collection, id, string(raw),
	)
	if err != nil {
		return false, err
	}
	return true, nil
}

func (d *sqliteDriver) delete(ctx context.Context, ids []string) (int, error) {
	args := make([]any, 0, len(ids)+1)
	args = append(args, d.collection)
	for _, id := range ids {
		args = append(args, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")

	result, err := d.conn.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = ? AND id IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	return int(n), err
}

func (d *sqliteDriver) ping(ctx context.Context) error {
	return d.conn.PingContext(ctx)
}

func (d *sqliteDriver) close() error {
	return d.conn.Close()
}
