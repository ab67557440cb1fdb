// Package nodestate persists the small amount of state a site keeps about its
// place in the network: its role, the Hub link and the pull cursor.
package nodestate

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/jmoiron/sqlx"

	"github.com/gyaneshwarpardhi/pubnet/internal/storage"
)

// Setting keys.
const (
	keyRole         = "role"
	keyHubURL       = "hub_url"
	keySecret       = "secret"
	keyCursor       = "last_processed_id"
	keyNetworkNodes = "network_nodes"
)

// Roles a site can be in.
const (
	RoleHub  = "hub"
	RoleNode = "node"
)

// ErrNotLinked is returned when the Node has no Hub link yet.
var ErrNotLinked = errors.New("node is not linked to a hub")

// HubLink is what a Node needs to talk to its Hub.
type HubLink struct {
	HubURL string
	Secret string
}

// PeerNode is one entry of the network node list the Hub shares.
type PeerNode struct {
	ID  int64  `json:"id"`
	URL string `json:"url"`
}

// Store is a key/value settings table.
type Store struct {
	db *sqlx.DB
}

// New creates a Store on db. Call Migrate before first use.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the settings table.
func (s *Store) Migrate(ctx context.Context) error {
	return storage.Migrate(ctx, s.db, []string{
		`CREATE TABLE IF NOT EXISTS network_settings (
	name TEXT PRIMARY KEY,
	value TEXT NOT NULL
)`,
	})
}

func (s *Store) get(ctx context.Context, name string) (string, bool, error) {
	var v string
	err := s.db.GetContext(ctx, &v, s.db.Rebind(`SELECT value FROM network_settings WHERE name = ?`), name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read setting %s: %w", name, err)
	}
	return v, true, nil
}

func (s *Store) set(ctx context.Context, ex sqlx.ExecerContext, name, value string) error {
	q := s.db.Rebind(`INSERT INTO network_settings (name, value) VALUES (?, ?)
ON CONFLICT (name) DO UPDATE SET value = excluded.value`)
	if _, err := ex.ExecContext(ctx, q, name, value); err != nil {
		return fmt.Errorf("write setting %s: %w", name, err)
	}
	return nil
}

// Role returns the configured role, or "" when none was stored.
func (s *Store) Role(ctx context.Context) (string, error) {
	v, _, err := s.get(ctx, keyRole)
	return v, err
}

// SetRole stores the site role.
func (s *Store) SetRole(ctx context.Context, role string) error {
	return s.set(ctx, s.db, keyRole, role)
}

// SaveHubLink stores the Hub URL and shared secret and switches the site into
// the node role in one transaction. Linking to a different Hub resets the
// pull cursor.
func (s *Store) SaveHubLink(ctx context.Context, hubURL, secret string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var prev string
	err = tx.GetContext(ctx, &prev, tx.Rebind(`SELECT value FROM network_settings WHERE name = ?`), keyHubURL)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("read setting %s: %w", keyHubURL, err)
	}
	if prev != "" && prev != hubURL {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM network_settings WHERE name = ?`), keyCursor); err != nil {
			return fmt.Errorf("reset cursor: %w", err)
		}
	}

	for _, kv := range [][2]string{{keyHubURL, hubURL}, {keySecret, secret}, {keyRole, RoleNode}} {
		if err := s.set(ctx, tx, kv[0], kv[1]); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// HubLink returns the stored link or ErrNotLinked.
func (s *Store) HubLink(ctx context.Context) (HubLink, error) {
	hub, ok, err := s.get(ctx, keyHubURL)
	if err != nil {
		return HubLink{}, err
	}
	secret, ok2, err := s.get(ctx, keySecret)
	if err != nil {
		return HubLink{}, err
	}
	if !ok || !ok2 || hub == "" || secret == "" {
		return HubLink{}, ErrNotLinked
	}
	return HubLink{HubURL: hub, Secret: secret}, nil
}

// Cursor returns the id of the last Event Log entry applied locally, 0 when
// nothing was pulled yet.
func (s *Store) Cursor(ctx context.Context) (int64, error) {
	v, ok, err := s.get(ctx, keyCursor)
	if err != nil || !ok {
		return 0, err
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt cursor %q: %w", v, err)
	}
	return id, nil
}

// AdvanceCursor moves the cursor to id. The cursor never moves backwards;
// a lower id is ignored.
func (s *Store) AdvanceCursor(ctx context.Context, id int64) error {
	q := s.db.Rebind(`INSERT INTO network_settings (name, value) VALUES (?, ?)
ON CONFLICT (name) DO UPDATE SET value = excluded.value
WHERE CAST(network_settings.value AS BIGINT) < CAST(excluded.value AS BIGINT)`)
	if _, err := s.db.ExecContext(ctx, q, keyCursor, strconv.FormatInt(id, 10)); err != nil {
		return fmt.Errorf("advance cursor: %w", err)
	}
	return nil
}

// SaveNetworkNodes replaces the list of peer Nodes shared by the Hub.
func (s *Store) SaveNetworkNodes(ctx context.Context, peers []PeerNode) error {
	if peers == nil {
		peers = []PeerNode{}
	}
	raw, err := json.Marshal(peers)
	if err != nil {
		return err
	}
	return s.set(ctx, s.db, keyNetworkNodes, string(raw))
}

// NetworkNodes returns the last peer list saved.
func (s *Store) NetworkNodes(ctx context.Context) ([]PeerNode, error) {
	v, ok, err := s.get(ctx, keyNetworkNodes)
	if err != nil || !ok {
		return nil, err
	}
	var peers []PeerNode
	if err := json.Unmarshal([]byte(v), &peers); err != nil {
		return nil, fmt.Errorf("corrupt network node list: %w", err)
	}
	return peers, nil
}
