package processor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gyaneshwarpardhi/pubnet/internal/catalog"
	"github.com/gyaneshwarpardhi/pubnet/internal/event"
)

// Recorder takes business changes made on this site and turns them into
// network events. Orders, subscriptions and profiles are mirrored locally
// first so the Hub can read them back over signed RPC.
type Recorder struct {
	local map[string]MirrorHandler
	emit  Emitter
}

// NewRecorder creates a Recorder writing to mirror and emitting through emit.
func NewRecorder(mirror MirrorStore, emit Emitter) *Recorder {
	return &Recorder{
		emit: emit,
		local: map[string]MirrorHandler{
			catalog.NodeOrderChanged: {
				Store: mirror, Kind: KindOrder, KeyFields: []string{"id"}, Replace: true,
				Notify: emit, NotifyAs: catalog.NodeOrderChanged,
			},
			catalog.NodeSubscriptionChanged: {
				Store: mirror, Kind: KindSubscription, KeyFields: []string{"id"}, Replace: true,
				Notify: emit, NotifyAs: catalog.NodeSubscriptionChanged,
			},
			catalog.UserUpdated: {
				Store: mirror, Kind: KindUser, KeyFields: []string{"email"}, Replace: true,
				Notify: emit, NotifyAs: catalog.UserUpdated,
			},
		},
	}
}

// Record stores a local change of action and emits it to the network.
func (r *Recorder) Record(ctx context.Context, action string, data json.RawMessage) error {
	h, ok := r.local[action]
	if !ok {
		return r.emit.Emit(ctx, action, data)
	}
	if err := h.Apply(ctx, event.Incoming{Action: action, Data: data}); err != nil {
		return fmt.Errorf("record %s: %w", action, err)
	}
	return nil
}

// Order returns a locally recorded order by id.
func (m *Mirror) Order(ctx context.Context, id string) (json.RawMessage, error) {
	rec, err := m.Get(ctx, KindOrder, "", id)
	if err != nil {
		return nil, err
	}
	return rec.Data, nil
}
