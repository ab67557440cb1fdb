package processor

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/gyaneshwarpardhi/pubnet/internal/storage"
)

// ErrNotFound is returned by Mirror.Get for a missing record.
var ErrNotFound = errors.New("mirror record not found")

// Record is one entity mirrored from an event payload. Origin is the site the
// entity belongs to, or "" for entities that are network-wide (users).
type Record struct {
	Kind      string
	Origin    string
	Key       string
	Data      json.RawMessage
	UpdatedAt int64
}

// MirrorStore is where handlers keep entities they learn from events.
type MirrorStore interface {
	// Upsert writes rec. With replace false an existing record is left as is.
	// It reports whether anything was written.
	Upsert(ctx context.Context, rec Record, replace bool) (bool, error)
	Remove(ctx context.Context, kind, origin, key string) (bool, error)
}

type mirrorRow struct {
	Kind      string `db:"kind"`
	Origin    string `db:"origin"`
	Key       string `db:"natural_key"`
	Data      string `db:"data"`
	UpdatedAt int64  `db:"updated_at"`
}

func (r mirrorRow) record() Record {
	return Record{Kind: r.Kind, Origin: r.Origin, Key: r.Key, Data: json.RawMessage(r.Data), UpdatedAt: r.UpdatedAt}
}

// Mirror is the SQL MirrorStore.
type Mirror struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewMirror creates a Mirror on db. Call Migrate before first use.
func NewMirror(db *sqlx.DB) *Mirror {
	return &Mirror{db: db, now: time.Now}
}

// Migrate creates the mirror table.
func (m *Mirror) Migrate(ctx context.Context) error {
	return storage.Migrate(ctx, m.db, []string{
		`CREATE TABLE IF NOT EXISTS network_mirror (
	kind TEXT NOT NULL,
	origin TEXT NOT NULL,
	natural_key TEXT NOT NULL,
	data TEXT NOT NULL,
	updated_at BIGINT NOT NULL,
	PRIMARY KEY (kind, origin, natural_key)
)`,
	})
}

func (m *Mirror) Upsert(ctx context.Context, rec Record, replace bool) (bool, error) {
	conflict := `DO NOTHING`
	if replace {
		conflict = `DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`
	}
	q := m.db.Rebind(`INSERT INTO network_mirror (kind, origin, natural_key, data, updated_at)
VALUES (?, ?, ?, ?, ?) ON CONFLICT (kind, origin, natural_key) ` + conflict)
	res, err := m.db.ExecContext(ctx, q, rec.Kind, rec.Origin, rec.Key, string(rec.Data), m.now().Unix())
	if err != nil {
		return false, fmt.Errorf("upsert %s %q: %w", rec.Kind, rec.Key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return true, nil
	}
	return n > 0, nil
}

func (m *Mirror) Remove(ctx context.Context, kind, origin, key string) (bool, error) {
	res, err := m.db.ExecContext(ctx,
		m.db.Rebind(`DELETE FROM network_mirror WHERE kind = ? AND origin = ? AND natural_key = ?`),
		kind, origin, key)
	if err != nil {
		return false, fmt.Errorf("remove %s %q: %w", kind, key, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Get returns one record or ErrNotFound.
func (m *Mirror) Get(ctx context.Context, kind, origin, key string) (Record, error) {
	var row mirrorRow
	err := m.db.GetContext(ctx, &row,
		m.db.Rebind(`SELECT kind, origin, natural_key, data, updated_at FROM network_mirror
WHERE kind = ? AND origin = ? AND natural_key = ?`), kind, origin, key)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get %s %q: %w", kind, key, err)
	}
	return row.record(), nil
}

// List returns every record of kind ordered by origin and key.
func (m *Mirror) List(ctx context.Context, kind string) ([]Record, error) {
	var rows []mirrorRow
	err := m.db.SelectContext(ctx, &rows,
		m.db.Rebind(`SELECT kind, origin, natural_key, data, updated_at FROM network_mirror
WHERE kind = ? ORDER BY origin, natural_key`), kind)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", kind, err)
	}
	out := make([]Record, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.record())
	}
	return out, nil
}
