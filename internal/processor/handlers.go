package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/gyaneshwarpardhi/pubnet/internal/condition"
	"github.com/gyaneshwarpardhi/pubnet/internal/event"
	"github.com/gyaneshwarpardhi/pubnet/internal/nodestate"
)

// ErrMissingKey is returned when a payload lacks the fields a handler keys on.
var ErrMissingKey = errors.New("payload is missing its key field")

// Emitter emits a network event for a local change. Implementations skip
// emission when the context is marked by event.WithoutEmission.
type Emitter interface {
	Emit(ctx context.Context, action string, data any) error
}

// MirrorHandler keeps a copy of the entity an event describes.
type MirrorHandler struct {
	Store MirrorStore
	Kind  string
	// KeyFields are payload paths joined with ":" to form the natural key.
	KeyFields []string
	// PerSite keys records by the originating site as well.
	PerSite bool
	// Replace overwrites an existing record; otherwise the first write wins.
	Replace bool
	// RemoveWhen, when it matches the payload, deletes the record instead.
	RemoveWhen condition.Expr
	// Notify, when set, is told about every local change as NotifyAs.
	Notify   Emitter
	NotifyAs string
}

// Apply implements catalog.ApplyFunc.
func (h MirrorHandler) Apply(ctx context.Context, ev event.Incoming) error {
	key, err := naturalKey(ev.Data, h.KeyFields)
	if err != nil {
		return err
	}
	origin := ""
	if h.PerSite {
		origin = ev.Site
	}

	if h.RemoveWhen != nil {
		remove, err := condition.Eval(h.RemoveWhen, payloadResolver(ev))
		if err != nil {
			return fmt.Errorf("evaluate %s removal: %w", h.Kind, err)
		}
		if remove {
			changed, err := h.Store.Remove(ctx, h.Kind, origin, key)
			if err != nil {
				return err
			}
			return h.notify(ctx, changed, ev.Data)
		}
	}

	changed, err := h.Store.Upsert(ctx, Record{Kind: h.Kind, Origin: origin, Key: key, Data: ev.Data}, h.Replace)
	if err != nil {
		return err
	}
	return h.notify(ctx, changed, ev.Data)
}

func (h MirrorHandler) notify(ctx context.Context, changed bool, data json.RawMessage) error {
	if !changed || h.Notify == nil {
		return nil
	}
	return h.Notify.Emit(ctx, h.NotifyAs, data)
}

// RemoveHandler deletes the mirrored entity an event names.
type RemoveHandler struct {
	Store     MirrorStore
	Kind      string
	KeyFields []string
}

// Apply implements catalog.ApplyFunc.
func (h RemoveHandler) Apply(ctx context.Context, ev event.Incoming) error {
	key, err := naturalKey(ev.Data, h.KeyFields)
	if err != nil {
		return err
	}
	_, err = h.Store.Remove(ctx, h.Kind, "", key)
	return err
}

// PeerSaver stores the network node list on a Node.
type PeerSaver interface {
	SaveNetworkNodes(ctx context.Context, peers []nodestate.PeerNode) error
}

// NodesSyncedHandler replaces the Node's view of its peers.
type NodesSyncedHandler struct {
	Peers PeerSaver
}

// Apply implements catalog.ApplyFunc.
func (h NodesSyncedHandler) Apply(ctx context.Context, ev event.Incoming) error {
	var body struct {
		NodesData []nodestate.PeerNode `json:"nodes_data"`
	}
	if err := json.Unmarshal(ev.Data, &body); err != nil {
		return fmt.Errorf("decode nodes_data: %w", err)
	}
	if body.NodesData == nil {
		return fmt.Errorf("%w: nodes_data", ErrMissingKey)
	}
	return h.Peers.SaveNetworkNodes(ctx, body.NodesData)
}

func naturalKey(data json.RawMessage, fields []string) (string, error) {
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		path := strings.Split(f, ".")
		keys := make([]any, len(path))
		for i, p := range path {
			keys[i] = p
		}
		v := jsoniter.Get(data, keys...)
		var s string
		switch v.ValueType() {
		case jsoniter.StringValue:
			s = strings.TrimSpace(v.ToString())
		case jsoniter.NumberValue:
			s = v.ToString()
		}
		if s == "" {
			return "", fmt.Errorf("%w: %s", ErrMissingKey, f)
		}
		if f == "email" || strings.HasSuffix(f, ".email") {
			s = strings.ToLower(s)
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, ":"), nil
}

func payloadResolver(ev event.Incoming) condition.Resolver {
	return condition.Fields{
		Values: map[string]any{"action": ev.Action, "site": ev.Site},
		Next:   condition.JSON(ev.Data),
	}
}
