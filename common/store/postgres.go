package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/lyzr/querystore/common/db"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS documents (
	seq        BIGSERIAL,
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	doc        JSONB NOT NULL,
	PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS idx_documents_seq ON documents (collection, seq);
CREATE INDEX IF NOT EXISTS idx_documents_doc ON documents USING GIN (doc jsonb_path_ops);
`

// NewPostgres returns the named collection stored in a JSONB table.
// The table is created if missing. Closing the collection does not close db.
func NewPostgres(ctx context.Context, database *db.DB, name string) (*Collection, error) {
	if _, err := database.Exec(ctx, postgresSchema); err != nil {
		return nil, fmt.Errorf("migrate documents table: %w", err)
	}
	return newCollection(name, &postgresDriver{db: database, collection: name}), nil
}

type postgresDriver struct {
	db         *db.DB
	collection string
}

// list pushes the equality match down as JSONB containment
func (d *postgresDriver) list(ctx context.Context, match map[string]any) ([]stored, error) {
	query := `SELECT id, doc FROM documents WHERE collection = $1 ORDER BY seq`
	args := []any{d.collection}

	if len(match) > 0 {
		containment, err := json.Marshal(match)
		if err != nil {
			return nil, fmt.Errorf("encode match: %w", err)
		}
		query = `SELECT id, doc FROM documents WHERE collection = $1 AND doc @> $2::jsonb ORDER BY seq`
		args = append(args, string(containment))
	}

	rows, err := d.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []stored
	for rows.Next() {
		var row stored
		if err := rows.Scan(&row.id, &row.raw); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (d *postgresDriver) get(ctx context.Context, id string) ([]byte, bool, error) {
	var raw []byte
	err := d.db.QueryRow(ctx,
		`SELECT doc FROM documents WHERE collection = $1 AND id = $2`,
		d.collection, id,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

func (d *postgresDriver) insert(ctx context.Context, id string, raw []byte) error {
	tag, err := d.db.Exec(ctx,
		`INSERT INTO documents (collection, id, doc) VALUES ($1, $2, $3::jsonb)
		 ON CONFLICT (collection, id) DO NOTHING`,
		d.collection, id, string(raw),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// put upserts in one statement; xmax = 0 only for freshly inserted rows
func (d *postgresDriver) put(ctx context.Context, id string, raw []byte) (bool, error) {
	var inserted bool
	err := d.db.QueryRow(ctx,
		`INSERT INTO documents (collection, id, doc) VALUES ($1, $2, $3::jsonb)
		 ON CONFLICT (collection, id) DO UPDATE SET doc = EXCLUDED.doc
		 RETURNING (xmax = 0)`,
		d.collection, id, string(raw),
	).Scan(&inserted)
	if err != nil {
		return false, err
	}
	return inserted, nil
}

func (d *postgresDriver) delete(ctx context.Context, ids []string) (int, error) {
	tag, err := d.db.Exec(ctx,
		`DELETE FROM documents WHERE collection = $1 AND id = ANY($2)`,
		d.collection, ids,
	)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (d *postgresDriver) ping(ctx context.Context) error {
	return d.db.Health(ctx)
}

// close is a no-op; the pool belongs to the caller
func (d *postgresDriver) close() error {
	return nil
}
