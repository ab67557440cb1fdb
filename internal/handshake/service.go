// Package handshake links a Node to the Hub without anyone copying the shared
// secret by hand.
//
// The Hub issues a single-use nonce for a node id. The operator carries the
// Hub URL and nonce to the Node, which redeems it at the Hub's retrieve-key
// endpoint and receives its secret. This is the only exchange in which a
// plaintext secret crosses the wire; it is gated by a value reachable only
// through the Hub operator, expires after an hour and works once.
package handshake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gyaneshwarpardhi/pubnet/internal/crypto"
	"github.com/gyaneshwarpardhi/pubnet/internal/event"
	"github.com/gyaneshwarpardhi/pubnet/internal/metrics"
	"github.com/gyaneshwarpardhi/pubnet/internal/nodes"
)

// DefaultTTL is how long an issued nonce stays redeemable.
const DefaultTTL = time.Hour

// ErrInvalidNonce is returned for a nonce that does not match, has expired or
// was already used.
var ErrInvalidNonce = errors.New("invalid or expired nonce")

// NodeLookup resolves Nodes in the directory.
type NodeLookup interface {
	ByID(ctx context.Context, id int64) (nodes.Node, error)
	ByURL(ctx context.Context, rawURL string) (nodes.Node, error)
}

// Service is the Hub side of the handshake.
type Service struct {
	store NonceStore
	nodes NodeLookup
	ttl   time.Duration
}

// NewService creates a Service. A zero ttl uses DefaultTTL.
func NewService(store NonceStore, lookup NodeLookup, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{store: store, nodes: lookup, ttl: ttl}
}

// Issue creates a fresh nonce for nodeID, replacing any pending one.
func (s *Service) Issue(ctx context.Context, nodeID int64) (string, error) {
	if _, err := s.nodes.ByID(ctx, nodeID); err != nil {
		return "", err
	}
	nonce, err := crypto.GenerateNonce()
	if err != nil {
		return "", err
	}
	if err := s.store.Put(ctx, nodeID, nonce, s.ttl); err != nil {
		return "", err
	}
	slog.Info("handshake nonce issued", "node_id", nodeID)
	return nonce, nil
}

// Redeem returns the shared secret of the Node at site if nonce is its
// pending, unexpired nonce. The nonce is consumed on success.
func (s *Service) Redeem(ctx context.Context, site, nonce string) (string, error) {
	if site == "" || nonce == "" {
		return "", event.ErrMalformed
	}
	n, err := s.nodes.ByURL(ctx, site)
	if err != nil {
		if errors.Is(err, nodes.ErrNotFound) {
			metrics.Handshakes.WithLabelValues("unknown_site").Inc()
			return "", fmt.Errorf("%w: %s", event.ErrUnknownSite, site)
		}
		return "", err
	}
	ok, err := s.store.Consume(ctx, n.ID, nonce)
	if err != nil {
		return "", err
	}
	if !ok {
		metrics.Handshakes.WithLabelValues("invalid_nonce").Inc()
		return "", ErrInvalidNonce
	}
	metrics.Handshakes.WithLabelValues("success").Inc()
	slog.Info("handshake completed", "node_id", n.ID, "site", n.URL)
	return n.Secret, nil
}
