package pull

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gyaneshwarpardhi/pubnet/internal/event"
	"github.com/gyaneshwarpardhi/pubnet/internal/eventlog"
	"github.com/gyaneshwarpardhi/pubnet/internal/metrics"
	"github.com/gyaneshwarpardhi/pubnet/internal/nodes"
)

// DefaultPageSize caps how many events one pull returns.
const DefaultPageSize = 20

// Directory resolves Nodes.
type Directory interface {
	ByURL(ctx context.Context, rawURL string) (nodes.Node, error)
	ByID(ctx context.Context, id int64) (nodes.Node, error)
}

// PullableFilter narrows requested actions to the pullable ones.
type PullableFilter interface {
	FilterPullable(requested []string) []string
}

// Log is the read side of the Event Log.
type Log interface {
	Query(ctx context.Context, f eventlog.Filter, p eventlog.Page) ([]event.Logged, error)
	Count(ctx context.Context, f eventlog.Filter) (int64, error)
}

// Page is one answer to a pull request. Outstanding counts every matching
// event after the cursor, the returned ones included.
type Page struct {
	Events      []event.Pulled
	Outstanding int64
}

// Server is the Hub side of the pull transport.
type Server struct {
	nodes    Directory
	catalog  PullableFilter
	log      Log
	hubURL   string
	pageSize int
}

// NewServer creates a Server. hubURL is reported as the site of events the
// Hub emitted itself. A pageSize below 1 uses DefaultPageSize.
func NewServer(dir Directory, cat PullableFilter, log Log, hubURL string, pageSize int) *Server {
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	return &Server{nodes: dir, catalog: cat, log: log, hubURL: hubURL, pageSize: pageSize}
}

// Serve authenticates req and returns the next page of events for the
// requesting Node: pullable actions it asked for, after its cursor, not
// originated by itself, in ascending id order.
func (s *Server) Serve(ctx context.Context, req event.PullRequest) (Page, error) {
	if req.Site == "" || req.LastProcessedID == nil || req.Actions == nil || req.Signature == "" || req.Nonce == "" {
		metrics.PullRequests.WithLabelValues("malformed").Inc()
		return Page{}, event.ErrMalformed
	}
	node, err := s.nodes.ByURL(ctx, req.Site)
	if err != nil {
		if errors.Is(err, nodes.ErrNotFound) {
			metrics.PullRequests.WithLabelValues("unknown_site").Inc()
			slog.Warn("pull from unknown site", "site", req.Site)
			return Page{}, event.ErrUnknownSite
		}
		return Page{}, err
	}
	claims, err := Verify(req, node.Secret)
	if err != nil {
		metrics.PullRequests.WithLabelValues("bad_signature").Inc()
		slog.Warn("pull failed authentication", "site", node.URL, "err", err)
		return Page{}, err
	}

	f := eventlog.Filter{
		Actions:        s.catalog.FilterPullable(claims.Actions),
		IDGreaterThan:  claims.LastProcessedID,
		ExcludedNodeID: eventlog.ID(node.ID),
	}
	logged, err := s.log.Query(ctx, f, eventlog.Page{Size: s.pageSize, Order: eventlog.Asc})
	if err != nil {
		metrics.PullRequests.WithLabelValues("error").Inc()
		return Page{}, err
	}
	outstanding, err := s.log.Count(ctx, f)
	if err != nil {
		metrics.PullRequests.WithLabelValues("error").Inc()
		return Page{}, err
	}

	sites := map[int64]string{event.HubNodeID: s.hubURL}
	out := make([]event.Pulled, 0, len(logged))
	for _, ev := range logged {
		site, ok := sites[ev.NodeID]
		if !ok {
			site = s.siteOf(ctx, ev.NodeID)
			sites[ev.NodeID] = site
		}
		out = append(out, event.Pulled{
			ID:        ev.ID,
			Site:      site,
			Action:    ev.Action,
			Data:      ev.Data,
			Timestamp: ev.Timestamp,
		})
	}

	metrics.PullRequests.WithLabelValues("success").Inc()
	metrics.PullEventsServed.Add(float64(len(out)))
	slog.Debug("pull served", "site", node.URL, "cursor", claims.LastProcessedID, "events", len(out), "outstanding", outstanding)
	return Page{Events: out, Outstanding: outstanding}, nil
}

// siteOf returns the URL of the Node that produced an event. Nodes removed
// from the directory after emitting keep their events; their site is empty.
func (s *Server) siteOf(ctx context.Context, nodeID int64) string {
	n, err := s.nodes.ByID(ctx, nodeID)
	if err != nil {
		if !errors.Is(err, nodes.ErrNotFound) {
			slog.Error("resolve event origin", "node_id", nodeID, "err", err)
		}
		return ""
	}
	return n.URL
}
