package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gyaneshwarpardhi/pubnet/internal/catalog"
	"github.com/gyaneshwarpardhi/pubnet/internal/config"
	"github.com/gyaneshwarpardhi/pubnet/internal/event"
	"github.com/gyaneshwarpardhi/pubnet/internal/eventlog"
	"github.com/gyaneshwarpardhi/pubnet/internal/nodes"
	"github.com/gyaneshwarpardhi/pubnet/internal/pull"
)

// Collaborators of the Hub router.
type (
	Receiver interface {
		Receive(ctx context.Context, req event.PushRequest) (int64, error)
	}
	PullServer interface {
		Serve(ctx context.Context, req event.PullRequest) (pull.Page, error)
	}
	KeyRedeemer interface {
		Redeem(ctx context.Context, site, nonce string) (string, error)
		Issue(ctx context.Context, nodeID int64) (string, error)
	}
	EventBrowser interface {
		Query(ctx context.Context, f eventlog.Filter, p eventlog.Page) ([]event.Logged, error)
		Count(ctx context.Context, f eventlog.Filter) (int64, error)
	}
	NodeAdmin interface {
		Create(ctx context.Context, rawURL string) (nodes.Node, error)
		Delete(ctx context.Context, id int64) error
		List(ctx context.Context) ([]nodes.Node, error)
	}
	HubEmitter interface {
		Emit(ctx context.Context, action string, data any) (int64, error)
	}
	Reloader interface {
		Reload() (*config.Config, error)
	}
)

// HubDeps wires the Hub router.
type HubDeps struct {
	Receiver  Receiver
	Pull      PullServer
	Handshake KeyRedeemer
	Events    EventBrowser
	Nodes     NodeAdmin
	Emitter   HubEmitter
	Reloader  Reloader // optional
	// Ready reports whether the Hub can serve; nil means always ready.
	Ready        func(ctx context.Context) error
	KeyLimiter   *IPRateLimiter
	MaxBodyBytes int64
	AdminToken   string
}

type hubHandler struct {
	d HubDeps
}

// NewHub creates the Hub's HTTP handler and registers all routes.
func NewHub(d HubDeps) http.Handler {
	h := &hubHandler{d: d}
	mux := http.NewServeMux()

	mux.HandleFunc("POST /webhook", h.webhook)
	mux.HandleFunc("POST /pull", h.pull)
	retrieve := h.retrieveKey
	if d.KeyLimiter != nil {
		retrieve = d.KeyLimiter.Middleware(retrieve)
	}
	mux.HandleFunc("POST /retrieve-key", retrieve)

	if d.AdminToken != "" {
		mux.HandleFunc("GET /v1/events", adminOnly(d.AdminToken, h.listEvents))
		mux.HandleFunc("GET /v1/nodes", adminOnly(d.AdminToken, h.listNodes))
		mux.HandleFunc("POST /v1/nodes", adminOnly(d.AdminToken, h.createNode))
		mux.HandleFunc("DELETE /v1/nodes/{id}", adminOnly(d.AdminToken, h.deleteNode))
		mux.HandleFunc("POST /v1/nodes/{id}/nonce", adminOnly(d.AdminToken, h.issueNonce))
		if d.Reloader != nil {
			mux.HandleFunc("POST /v1/config/reload", adminOnly(d.AdminToken, reloadConfig(d.Reloader)))
		}
	}

	mux.HandleFunc("GET /healthz", healthz)
	mux.HandleFunc("GET /readyz", readyz(d.Ready))
	mux.Handle("GET /metrics", promhttp.Handler())

	return loggingMiddleware(limitBody(d.MaxBodyBytes, mux))
}

// decode reads a JSON body into v, answering 400 itself on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// POST /webhook: a Node pushes one event.
func (h *hubHandler) webhook(w http.ResponseWriter, r *http.Request) {
	var req event.PushRequest
	if !decode(w, r, &req) {
		return
	}
	if _, err := h.d.Receiver.Receive(r.Context(), req); err != nil {
		writeProtocolError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, "success")
}

// POST /pull: a Node fetches the next page of events after its cursor.
func (h *hubHandler) pull(w http.ResponseWriter, r *http.Request) {
	var req event.PullRequest
	if !decode(w, r, &req) {
		return
	}
	page, err := h.d.Pull.Serve(r.Context(), req)
	if err != nil {
		writeProtocolError(w, r, err)
		return
	}
	w.Header().Set(pull.OutstandingHeader, strconv.FormatInt(page.Outstanding, 10))
	writeJSON(w, http.StatusOK, page.Events)
}

// POST /retrieve-key: a Node redeems its handshake nonce for its secret.
func (h *hubHandler) retrieveKey(w http.ResponseWriter, r *http.Request) {
	var req event.KeyRequest
	if !decode(w, r, &req) {
		return
	}
	secret, err := h.d.Handshake.Redeem(r.Context(), req.Site, req.Nonce)
	if err != nil {
		writeProtocolError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, event.KeyResponse{SecretKey: secret})
}

// GET /v1/events: browse the Event Log.
func (h *hubHandler) listEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := eventlog.Filter{
		Email:  q.Get("email"),
		Action: q.Get("action"),
		Search: q.Get("search"),
	}
	if v := q.Get("node_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "node_id must be an integer")
			return
		}
		f.NodeID = eventlog.ID(id)
	}
	if v := q.Get("after"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "after must be an integer")
			return
		}
		f.IDGreaterThan = id
	}
	page := eventlog.Page{Size: 20, Number: 1, Order: eventlog.Desc}
	if v, err := strconv.Atoi(q.Get("per_page")); err == nil && v > 0 && v <= 500 {
		page.Size = v
	}
	if v, err := strconv.Atoi(q.Get("page")); err == nil && v > 0 {
		page.Number = v
	}
	if strings.EqualFold(q.Get("order"), "asc") {
		page.Order = eventlog.Asc
	}

	events, err := h.d.Events.Query(r.Context(), f, page)
	if err != nil {
		writeProtocolError(w, r, err)
		return
	}
	total, err := h.d.Events.Count(r.Context(), f)
	if err != nil {
		writeProtocolError(w, r, err)
		return
	}
	if events == nil {
		events = []event.Logged{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events":   events,
		"total":    total,
		"page":     page.Number,
		"per_page": page.Size,
	})
}

// GET /v1/nodes: list registered Nodes.
func (h *hubHandler) listNodes(w http.ResponseWriter, r *http.Request) {
	list, err := h.d.Nodes.List(r.Context())
	if err != nil {
		writeProtocolError(w, r, err)
		return
	}
	if list == nil {
		list = []nodes.Node{}
	}
	writeJSON(w, http.StatusOK, list)
}

// POST /v1/nodes: register a Node and tell the network about it.
func (h *hubHandler) createNode(w http.ResponseWriter, r *http.Request) {
	var body struct {
		URL string `json:"url"`
	}
	if !decode(w, r, &body) {
		return
	}
	n, err := h.d.Nodes.Create(r.Context(), body.URL)
	if err != nil {
		writeProtocolError(w, r, err)
		return
	}
	h.syncNodes(r)
	writeJSON(w, http.StatusCreated, n)
}

// DELETE /v1/nodes/{id}
func (h *hubHandler) deleteNode(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.d.Nodes.Delete(r.Context(), id); err != nil {
		writeProtocolError(w, r, err)
		return
	}
	h.syncNodes(r)
	w.WriteHeader(http.StatusNoContent)
}

// POST /v1/nodes/{id}/nonce: start a handshake for a Node.
func (h *hubHandler) issueNonce(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	nonce, err := h.d.Handshake.Issue(r.Context(), id)
	if err != nil {
		writeProtocolError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"node_id": id, "nonce": nonce})
}

// syncNodes emits network_nodes_synced with the current directory. A failure
// is logged; the directory change itself already succeeded.
func (h *hubHandler) syncNodes(r *http.Request) {
	list, err := h.d.Nodes.List(r.Context())
	if err == nil {
		_, err = h.d.Emitter.Emit(r.Context(), catalog.NodesSynced, nodes.SyncPayload(list))
	}
	if err != nil {
		logSyncFailure(r, err)
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id < 1 {
		writeError(w, http.StatusBadRequest, "id must be a positive integer")
		return 0, false
	}
	return id, true
}
