// Package processor applies authenticated incoming events locally.
//
// Every event, pushed or pulled, goes through Process. It resolves the action
// in the catalog, marks the context so nothing the handler changes is emitted
// back into the network, and calls the capability that matches the site's
// role. A failure is local to the one event.
package processor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gyaneshwarpardhi/pubnet/internal/catalog"
	"github.com/gyaneshwarpardhi/pubnet/internal/event"
	"github.com/gyaneshwarpardhi/pubnet/internal/metrics"
)

// Role selects which handler capability Process calls.
type Role string

const (
	RoleHub  Role = "hub"
	RoleNode Role = "node"
)

// Processor dispatches incoming events to catalog handlers.
type Processor struct {
	role     Role
	registry *catalog.Registry
}

// New creates a Processor for role.
func New(role Role, reg *catalog.Registry) *Processor {
	return &Processor{role: role, registry: reg}
}

// Role returns the role the processor applies events as.
func (p *Processor) Role() Role { return p.role }

// Process applies ev. Unknown actions fall back to a no-op so one bad event
// never blocks a pull batch.
func (p *Processor) Process(ctx context.Context, ev event.Incoming) error {
	start := time.Now()
	ctx = event.WithoutEmission(ctx)

	a, ok := p.registry.Lookup(ev.Action)
	if !ok {
		slog.Warn("no handler for action, ignoring", "action", ev.Action, "site", ev.Site, "id", ev.ID)
		a = catalog.Action{Name: ev.Action, Handler: catalog.NoOp{}}
	}

	var err error
	if p.role == RoleHub {
		err = a.Handler.ApplyAsHub(ctx, ev)
	} else {
		err = a.Handler.ApplyAsNode(ctx, ev)
	}

	metrics.EventProcessingDuration.Observe(float64(time.Since(start).Milliseconds()))
	if err != nil {
		metrics.EventsProcessed.WithLabelValues(string(p.role), "error").Inc()
		slog.Error("event handler failed", "action", ev.Action, "site", ev.Site, "id", ev.ID, "err", err)
		return fmt.Errorf("apply %s from %s: %w", ev.Action, ev.Site, err)
	}
	metrics.EventsProcessed.WithLabelValues(string(p.role), "success").Inc()
	slog.Debug("event applied", "action", ev.Action, "site", ev.Site, "id", ev.ID, "role", p.role)
	return nil
}
