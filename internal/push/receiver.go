package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gyaneshwarpardhi/pubnet/internal/crypto"
	"github.com/gyaneshwarpardhi/pubnet/internal/event"
	"github.com/gyaneshwarpardhi/pubnet/internal/metrics"
	"github.com/gyaneshwarpardhi/pubnet/internal/nodes"
)

// ErrApplyFailed is returned when the event was logged but the Hub-side
// handler failed.
var ErrApplyFailed = errors.New("event logged but not applied")

// SiteLookup resolves Nodes by site URL.
type SiteLookup interface {
	ByURL(ctx context.Context, rawURL string) (nodes.Node, error)
}

// ActionCatalog tells which actions exist.
type ActionCatalog interface {
	Known(name string) bool
}

// Appender persists logged events.
type Appender interface {
	Append(ctx context.Context, ev event.Logged) (int64, error)
}

// Applier applies an event on the Hub.
type Applier interface {
	Process(ctx context.Context, ev event.Incoming) error
}

// Receiver is the Hub side of the push transport.
type Receiver struct {
	nodes   SiteLookup
	catalog ActionCatalog
	log     Appender
	apply   Applier
}

// NewReceiver creates a Receiver.
func NewReceiver(lookup SiteLookup, cat ActionCatalog, log Appender, apply Applier) *Receiver {
	return &Receiver{nodes: lookup, catalog: cat, log: log, apply: apply}
}

// Receive authenticates req, appends it to the Event Log and applies it.
// All checks run before anything is persisted. The returned id is non-zero
// whenever the event was logged, including when ErrApplyFailed is returned.
func (r *Receiver) Receive(ctx context.Context, req event.PushRequest) (int64, error) {
	if req.Site == "" || req.Action == "" || req.Data == "" || req.Nonce == "" || req.Timestamp == 0 {
		metrics.WebhookRequests.WithLabelValues("malformed").Inc()
		return 0, event.ErrMalformed
	}
	if !r.catalog.Known(req.Action) {
		metrics.WebhookRequests.WithLabelValues("unknown_action").Inc()
		return 0, event.ErrUnknownAction
	}

	node, err := r.nodes.ByURL(ctx, req.Site)
	if err != nil {
		if errors.Is(err, nodes.ErrNotFound) {
			metrics.WebhookRequests.WithLabelValues("unknown_site").Inc()
			slog.Warn("push from unknown site", "site", req.Site, "action", req.Action)
			return 0, event.ErrUnknownSite
		}
		return 0, err
	}

	plain, err := crypto.Decrypt(req.Data, node.Secret, req.Nonce)
	if err != nil {
		metrics.WebhookRequests.WithLabelValues("bad_signature").Inc()
		slog.Warn("push failed authentication", "site", node.URL, "action", req.Action, "err", err)
		return 0, event.ErrInvalidSignature
	}
	if !event.ValidPayload(plain) {
		metrics.WebhookRequests.WithLabelValues("invalid_data").Inc()
		return 0, event.ErrInvalidData
	}

	id, err := r.log.Append(ctx, event.Logged{
		NodeID:    node.ID,
		Action:    req.Action,
		Data:      json.RawMessage(plain),
		Timestamp: req.Timestamp,
	})
	if err != nil {
		metrics.WebhookRequests.WithLabelValues("error").Inc()
		return 0, err
	}

	err = r.apply.Process(ctx, event.Incoming{
		ID:        id,
		Site:      node.URL,
		Action:    req.Action,
		Data:      json.RawMessage(plain),
		Timestamp: req.Timestamp,
	})
	if err != nil {
		metrics.WebhookRequests.WithLabelValues("apply_failed").Inc()
		return id, fmt.Errorf("%w: %w", ErrApplyFailed, err)
	}
	metrics.WebhookRequests.WithLabelValues("success").Inc()
	slog.Info("pushed event received", "id", id, "site", node.URL, "action", req.Action)
	return id, nil
}
