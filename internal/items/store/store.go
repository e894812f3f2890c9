// Package store reads item records from PostgreSQL. The matcher never writes
// through it: persistence belongs to the submission side of the application.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/lostfound-matcher/internal/items"
	apperrors "github.com/Adithya-Monish-Kumar-K/lostfound-matcher/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/lostfound-matcher/pkg/postgres"
)

// Schema is the table layout the store reads. Soft-deleted rows carry a
// non-NULL deleted_at.
const Schema = `
CREATE TABLE IF NOT EXISTS items (
	id          TEXT PRIMARY KEY,
	type        TEXT NOT NULL CHECK (type IN ('lost', 'found')),
	name        TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	place       TEXT NOT NULL DEFAULT '',
	contact     TEXT NOT NULL DEFAULT '',
	image_path  TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	deleted_at  TIMESTAMPTZ
)`

const selectColumns = `id, type, name, description, place, contact, image_path, created_at, deleted_at IS NULL`

type Store struct {
	db     *postgres.Client
	logger *slog.Logger
}

func New(db *postgres.Client) *Store {
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "item-store"),
	}
}

// ActiveItems returns every item that has not been deleted, ordered by id.
func (s *Store) ActiveItems(ctx context.Context) ([]items.Item, error) {
	var out []items.Item
	err := s.db.Read(ctx, "active items query", func(ctx context.Context, tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT `+selectColumns+` FROM items WHERE deleted_at IS NULL ORDER BY id`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			it, err := scanItem(rows)
			if err != nil {
				return err
			}
			out = append(out, it)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("%w: loading active items: %v", apperrors.ErrStorageUnavailable, err)
	}
	s.logger.Debug("active items loaded", "count", len(out))
	return out, nil
}

// GetItem returns one item, including soft-deleted ones.
func (s *Store) GetItem(ctx context.Context, id string) (items.Item, error) {
	var it items.Item
	err := s.db.Read(ctx, "get item query", func(ctx context.Context, tx *sql.Tx) error {
		var err error
		it, err = scanItem(tx.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM items WHERE id = $1`, id))
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return items.Item{}, apperrors.NotFound(id)
	}
	if err != nil {
		return items.Item{}, fmt.Errorf("%w: loading item %s: %v", apperrors.ErrStorageUnavailable, id, err)
	}
	return it, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (items.Item, error) {
	var it items.Item
	var typ string
	if err := row.Scan(&it.ID, &typ, &it.Name, &it.Description, &it.Place,
		&it.Contact, &it.ImagePath, &it.CreatedAt, &it.Active); err != nil {
		return items.Item{}, err
	}
	t, err := items.ParseType(typ)
	if err != nil {
		return items.Item{}, fmt.Errorf("item %s: %w", it.ID, err)
	}
	it.Type = t
	return it, nil
}
