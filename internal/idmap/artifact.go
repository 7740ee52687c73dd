package idmap

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // register the pure-Go sqlite driver

	"github.com/persistorai/docmigrate/internal/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS id_map (
	collection     TEXT NOT NULL,
	source_id      TEXT NOT NULL,
	destination_id TEXT NOT NULL,
	PRIMARY KEY (collection, source_id)
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_id_map_destination ON id_map (destination_id);
`

// WriteJSON writes the mapping as {collection: {sourceId: destinationId}}.
func (m *Mapping) WriteJSON(path string) error {
	doc := make(map[string]map[string]string, len(m.forward))
	for c, ids := range m.forward {
		doc[c] = make(map[string]string, len(ids))
		for sid, id := range ids {
			doc[c][sid] = id.String()
		}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding id map: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	return nil
}

// ReadJSON loads a mapping previously written by WriteJSON. Collisions in the
// file are reported the same way as during a build.
func ReadJSON(path string) (*Mapping, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied artifact path.
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var doc map[string]map[string]string
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}

	b := NewBuilder()

	for c, ids := range doc {
		for sid, raw := range ids {
			id, err := uuid.Parse(raw)
			if err != nil {
				return nil, fmt.Errorf("%s/%s: invalid destination id %q: %w", c, sid, raw, err)
			}

			if prev, ok := b.reverse[id]; ok {
				return nil, fmt.Errorf("%w: %s/%s and %s/%s", models.ErrIDCollision, prev.Collection, prev.SourceID, c, sid)
			}

			if b.forward[c] == nil {
				b.forward[c] = make(map[string]uuid.UUID)
			}

			b.forward[c][sid] = id
			b.reverse[id] = Key{Collection: c, SourceID: sid}
		}
	}

	return b.Build(), nil
}

// WriteSQLite writes the mapping into a standalone SQLite database indexed by
// destination id, so operators can resolve rows back to source records without
// access to the destination store. Any existing file at path is replaced.
func (m *Mapping) WriteSQLite(ctx context.Context, path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing stale %s: %w", path, err)
	}

	lite, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	defer lite.Close()

	if _, err := lite.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("creating id_map: %w", err)
	}

	tx, err := lite.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin sqlite tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort rollback after commit.

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO id_map (collection, source_id, destination_id) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range m.Entries() {
		if _, err := stmt.ExecContext(ctx, e.Collection, e.SourceID, e.DestinationID.String()); err != nil {
			return fmt.Errorf("insert %s/%s: %w", e.Collection, e.SourceID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit sqlite: %w", err)
	}

	return nil
}

// ResolveSQLite looks a destination id up in an artifact written by WriteSQLite.
func ResolveSQLite(ctx context.Context, path string, id uuid.UUID) (Key, error) {
	if _, err := os.Stat(path); err != nil {
		return Key{}, fmt.Errorf("id map artifact: %w", err)
	}

	lite, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return Key{}, fmt.Errorf("open sqlite: %w", err)
	}
	defer lite.Close()

	var k Key

	err = lite.QueryRowContext(ctx,
		`SELECT collection, source_id FROM id_map WHERE destination_id = ?`, id.String(),
	).Scan(&k.Collection, &k.SourceID)
	if errors.Is(err, sql.ErrNoRows) {
		return Key{}, fmt.Errorf("destination id %s: not in mapping", id)
	}

	if err != nil {
		return Key{}, fmt.Errorf("querying id_map: %w", err)
	}

	return k, nil
}
