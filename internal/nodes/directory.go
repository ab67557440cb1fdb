// Package nodes is the Hub's Node Directory: the mapping between a Node's
// site URL and the shared secret it authenticates with.
//
// A secret is generated once when the Node is created and is never
// regenerated. Deleting a Node is an explicit operator action; nothing else
// in the network is cascaded.
package nodes

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/gyaneshwarpardhi/pubnet/internal/crypto"
	"github.com/gyaneshwarpardhi/pubnet/internal/storage"
)

var (
	ErrNotFound     = errors.New("node not found")
	ErrDuplicateURL = errors.New("a node with this url already exists")
	ErrInvalidURL   = errors.New("invalid node url")
)

// Node is one registered Node site.
type Node struct {
	ID        int64  `db:"id" json:"id"`
	URL       string `db:"url" json:"url"`
	Secret    string `db:"secret" json:"-"`
	CreatedAt int64  `db:"created_at" json:"created_at"`
}

// Directory stores Nodes in a SQL table.
type Directory struct {
	db  *sqlx.DB
	now func() time.Time
}

// Option configures a Directory.
type Option func(*Directory)

// WithClock overrides the clock used for created_at.
func WithClock(now func() time.Time) Option {
	return func(d *Directory) { d.now = now }
}

// NewDirectory creates a Directory on db. Call Migrate before first use.
func NewDirectory(db *sqlx.DB, opts ...Option) *Directory {
	d := &Directory{db: db, now: time.Now}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Migrate creates the nodes table if it does not exist.
func (d *Directory) Migrate(ctx context.Context) error {
	stmt := `CREATE TABLE IF NOT EXISTS network_nodes (
	id BIGSERIAL PRIMARY KEY,
	url TEXT NOT NULL UNIQUE,
	secret TEXT NOT NULL,
	created_at BIGINT NOT NULL
)`
	if storage.Dialect(d.db) == storage.DialectSQLite {
		stmt = `CREATE TABLE IF NOT EXISTS network_nodes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	url TEXT NOT NULL UNIQUE,
	secret TEXT NOT NULL,
	created_at INTEGER NOT NULL
)`
	}
	return storage.Migrate(ctx, d.db, []string{stmt})
}

// Create registers a Node for rawURL and generates its shared secret.
func (d *Directory) Create(ctx context.Context, rawURL string) (Node, error) {
	u, err := NormalizeURL(rawURL)
	if err != nil {
		return Node{}, err
	}
	if _, err := d.ByURL(ctx, u); err == nil {
		return Node{}, fmt.Errorf("%w: %s", ErrDuplicateURL, u)
	} else if !errors.Is(err, ErrNotFound) {
		return Node{}, err
	}

	secret, err := crypto.GenerateKey()
	if err != nil {
		return Node{}, err
	}
	n := Node{URL: u, Secret: secret, CreatedAt: d.now().Unix()}
	q := d.db.Rebind(`INSERT INTO network_nodes (url, secret, created_at) VALUES (?, ?, ?) RETURNING id`)
	if err := d.db.QueryRowxContext(ctx, q, n.URL, n.Secret, n.CreatedAt).Scan(&n.ID); err != nil {
		if storage.IsUniqueViolation(err) {
			return Node{}, fmt.Errorf("%w: %s", ErrDuplicateURL, u)
		}
		return Node{}, fmt.Errorf("insert node %s: %w", u, err)
	}
	return n, nil
}

// ByURL finds a Node by its site URL. The URL is normalized first.
func (d *Directory) ByURL(ctx context.Context, rawURL string) (Node, error) {
	u, err := NormalizeURL(rawURL)
	if err != nil {
		return Node{}, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return d.get(ctx, `SELECT id, url, secret, created_at FROM network_nodes WHERE url = ?`, u)
}

// ByID finds a Node by id.
func (d *Directory) ByID(ctx context.Context, id int64) (Node, error) {
	return d.get(ctx, `SELECT id, url, secret, created_at FROM network_nodes WHERE id = ?`, id)
}

// List returns all Nodes ordered by id.
func (d *Directory) List(ctx context.Context) ([]Node, error) {
	var out []Node
	if err := d.db.SelectContext(ctx, &out, `SELECT id, url, secret, created_at FROM network_nodes ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	return out, nil
}

// Delete removes a Node. Events it produced stay in the Event Log.
func (d *Directory) Delete(ctx context.Context, id int64) error {
	res, err := d.db.ExecContext(ctx, d.db.Rebind(`DELETE FROM network_nodes WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete node %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (d *Directory) get(ctx context.Context, query string, arg any) (Node, error) {
	var n Node
	err := d.db.GetContext(ctx, &n, d.db.Rebind(query), arg)
	if errors.Is(err, sql.ErrNoRows) {
		return Node{}, ErrNotFound
	}
	if err != nil {
		return Node{}, fmt.Errorf("get node: %w", err)
	}
	return n, nil
}

// NormalizeURL lowercases scheme and host and strips any trailing slash, so
// the same site always maps to the same directory key.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	u.Host = strings.ToLower(u.Host)
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

// SyncPayload is the network_nodes_synced body fanned out to Nodes.
func SyncPayload(list []Node) map[string]any {
	data := make([]map[string]any, 0, len(list))
	for _, n := range list {
		data = append(data, map[string]any{"id": n.ID, "url": n.URL})
	}
	return map[string]any{"nodes_data": data}
}
