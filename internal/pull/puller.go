package pull

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gyaneshwarpardhi/pubnet/internal/event"
	"github.com/gyaneshwarpardhi/pubnet/internal/metrics"
	"github.com/gyaneshwarpardhi/pubnet/internal/nodestate"
)

// OutstandingHeader carries the number of events still waiting for the
// pulling Node, the returned page included.
const OutstandingHeader = "X-Pubnet-Outstanding"

// DefaultInterval is the time between two pull cycles.
const DefaultInterval = 5 * time.Minute

var (
	// ErrBusy is returned when a pull cycle is already running.
	ErrBusy = errors.New("pull already in progress")
	// ErrRejected wraps a non-200 answer from the Hub.
	ErrRejected = errors.New("hub rejected pull")
)

// LinkSource returns the Node's Hub link.
type LinkSource interface {
	HubLink(ctx context.Context) (nodestate.HubLink, error)
}

// CursorStore persists the id of the last applied event.
type CursorStore interface {
	Cursor(ctx context.Context) (int64, error)
	AdvanceCursor(ctx context.Context, id int64) error
}

// PullableLister lists the actions to ask for.
type PullableLister interface {
	Pullable() []string
}

// Applier applies one event locally.
type Applier interface {
	Process(ctx context.Context, ev event.Incoming) error
}

// Result summarizes one pull.
type Result struct {
	Fetched     int
	Applied     int
	Cursor      int64
	Outstanding int64
}

// Puller is the Node side of the pull transport. Pulls never overlap.
type Puller struct {
	client  *http.Client
	siteURL string
	links   LinkSource
	cursor  CursorStore
	actions PullableLister
	apply   Applier

	mu       sync.Mutex
	interval atomic.Int64
	reset    chan struct{}
}

// NewPuller creates a Puller for the Node at siteURL.
func NewPuller(client *http.Client, siteURL string, links LinkSource, cursor CursorStore, actions PullableLister, apply Applier) *Puller {
	p := &Puller{
		client:  client,
		siteURL: siteURL,
		links:   links,
		cursor:  cursor,
		actions: actions,
		apply:   apply,
		reset:   make(chan struct{}, 1),
	}
	p.interval.Store(int64(DefaultInterval))
	return p
}

// Interval returns the current time between cycles.
func (p *Puller) Interval() time.Duration { return time.Duration(p.interval.Load()) }

// SetInterval changes the time between cycles. A running Run loop picks the
// new value up immediately.
func (p *Puller) SetInterval(d time.Duration) {
	if d <= 0 {
		d = DefaultInterval
	}
	if time.Duration(p.interval.Swap(int64(d))) == d {
		return
	}
	select {
	case p.reset <- struct{}{}:
	default:
	}
}

// Pull fetches one page and applies it in order. The cursor is persisted
// after every applied event and never passes an event that failed; the
// failed event is retried by the next pull.
func (p *Puller) Pull(ctx context.Context) (Result, error) {
	if !p.mu.TryLock() {
		return Result{}, ErrBusy
	}
	defer p.mu.Unlock()

	link, err := p.links.HubLink(ctx)
	if err != nil {
		return Result{}, err
	}
	cursor, err := p.cursor.Cursor(ctx)
	if err != nil {
		return Result{}, err
	}
	res := Result{Cursor: cursor}

	events, outstanding, err := p.fetch(ctx, link, cursor)
	if err != nil {
		return res, err
	}
	res.Fetched = len(events)
	res.Outstanding = outstanding

	for _, ev := range events {
		if ev.ID <= res.Cursor {
			continue
		}
		err := p.apply.Process(ctx, event.Incoming{
			ID:        ev.ID,
			Site:      ev.Site,
			Action:    ev.Action,
			Data:      ev.Data,
			Timestamp: ev.Timestamp,
		})
		if err != nil {
			return res, fmt.Errorf("apply event %d: %w", ev.ID, err)
		}
		if err := p.cursor.AdvanceCursor(ctx, ev.ID); err != nil {
			return res, err
		}
		res.Cursor = ev.ID
		res.Applied++
	}
	return res, nil
}

func (p *Puller) fetch(ctx context.Context, link nodestate.HubLink, cursor int64) ([]event.Pulled, int64, error) {
	req, err := SignRequest(event.PullClaims{
		LastProcessedID: cursor,
		Actions:         p.actions.Pullable(),
		Site:            p.siteURL,
	}, link.Secret)
	if err != nil {
		return nil, 0, err
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, 0, err
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, link.HubURL+"/pull", bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	hreq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(hreq)
	if err != nil {
		return nil, 0, fmt.Errorf("pull: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<14))
		return nil, 0, fmt.Errorf("%w: %d %s", ErrRejected, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var events []event.Pulled
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		return nil, 0, fmt.Errorf("decode pull response: %w", err)
	}
	outstanding, err := strconv.ParseInt(resp.Header.Get(OutstandingHeader), 10, 64)
	if err != nil {
		outstanding = int64(len(events))
	}
	return events, outstanding, nil
}

// Run pulls every Interval until ctx is cancelled.
func (p *Puller) Run(ctx context.Context) {
	t := time.NewTimer(p.Interval())
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.reset:
			t.Reset(p.Interval())
		case <-t.C:
			p.cycle(ctx)
			t.Reset(p.Interval())
		}
	}
}

func (p *Puller) cycle(ctx context.Context) {
	res, err := p.Pull(ctx)
	switch {
	case errors.Is(err, ErrBusy):
		metrics.PullCycles.WithLabelValues("skipped").Inc()
		slog.Debug("pull skipped, previous cycle still running")
		return
	case errors.Is(err, nodestate.ErrNotLinked):
		metrics.PullCycles.WithLabelValues("skipped").Inc()
		slog.Debug("pull skipped, node not linked")
		return
	case err != nil:
		metrics.PullCycles.WithLabelValues("error").Inc()
		slog.Error("pull failed", "cursor", res.Cursor, "applied", res.Applied, "err", err)
	default:
		metrics.PullCycles.WithLabelValues("success").Inc()
		slog.Info("pull completed", "fetched", res.Fetched, "applied", res.Applied, "cursor", res.Cursor, "outstanding", res.Outstanding)
	}
	metrics.PullOutstanding.Set(float64(res.Outstanding - int64(res.Applied)))
}

// Drain pulls until the Hub has nothing more for this Node, a page fails to
// advance the cursor or an event fails to apply. It returns the number of
// events applied.
func (p *Puller) Drain(ctx context.Context) (int, error) {
	total := 0
	for {
		res, err := p.Pull(ctx)
		total += res.Applied
		if err != nil {
			return total, err
		}
		if res.Applied == 0 || int64(res.Fetched) >= res.Outstanding {
			return total, nil
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}
}
