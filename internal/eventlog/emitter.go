package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gyaneshwarpardhi/pubnet/internal/event"
)

// Appender is implemented by Store.
type Appender interface {
	Append(ctx context.Context, ev event.Logged) (int64, error)
}

// Emitter records events that originate on the Hub itself (node_id 0).
type Emitter struct {
	log Appender
	now func() time.Time
}

// NewEmitter creates an Emitter appending to log.
func NewEmitter(log Appender) *Emitter {
	return &Emitter{log: log, now: time.Now}
}

// Emit appends action with data as a Hub-originated event. It returns 0 and
// does nothing when ctx carries the emission-suppression marker.
func (e *Emitter) Emit(ctx context.Context, action string, data any) (int64, error) {
	if event.EmissionSuppressed(ctx) {
		return 0, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return 0, fmt.Errorf("encode %s payload: %w", action, err)
	}
	return e.log.Append(ctx, event.Logged{
		NodeID:    event.HubNodeID,
		Action:    action,
		Data:      raw,
		Timestamp: e.now().Unix(),
	})
}
