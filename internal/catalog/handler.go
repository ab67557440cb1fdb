package catalog

import (
	"context"

	"github.com/gyaneshwarpardhi/pubnet/internal/event"
)

// Handler applies an incoming event locally. The same event has different
// effects by role, so a handler exposes one capability per role. Embed NoOp
// to get a no-op default for the capability a handler does not need.
type Handler interface {
	// ApplyAsHub mirrors remote state on the Hub.
	ApplyAsHub(ctx context.Context, ev event.Incoming) error
	// ApplyAsNode reconciles the Node's own state.
	ApplyAsNode(ctx context.Context, ev event.Incoming) error
}

// NoOp implements both capabilities as no-ops.
type NoOp struct{}

func (NoOp) ApplyAsHub(context.Context, event.Incoming) error  { return nil }
func (NoOp) ApplyAsNode(context.Context, event.Incoming) error { return nil }

// ApplyFunc is the signature of a single capability.
type ApplyFunc func(ctx context.Context, ev event.Incoming) error

// Funcs adapts plain functions to a Handler. A nil field is a no-op.
type Funcs struct {
	Hub  ApplyFunc
	Node ApplyFunc
}

func (f Funcs) ApplyAsHub(ctx context.Context, ev event.Incoming) error {
	if f.Hub == nil {
		return nil
	}
	return f.Hub(ctx, ev)
}

func (f Funcs) ApplyAsNode(ctx context.Context, ev event.Incoming) error {
	if f.Node == nil {
		return nil
	}
	return f.Node(ctx, ev)
}
