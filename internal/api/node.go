package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gyaneshwarpardhi/pubnet/internal/event"
	"github.com/gyaneshwarpardhi/pubnet/internal/nodestate"
	"github.com/gyaneshwarpardhi/pubnet/internal/rpc"
)

// OrdersEndpoint is the signed-RPC endpoint id of the order read.
const OrdersEndpoint = "get-woo-orders"

// Collaborators of the Node router.
type (
	LinkSource interface {
		HubLink(ctx context.Context) (nodestate.HubLink, error)
	}
	OrderSource interface {
		Order(ctx context.Context, id string) (json.RawMessage, error)
	}
	HubLinker interface {
		Link(ctx context.Context, hubURL, nonce string) error
	}
	ChangeRecorder interface {
		Record(ctx context.Context, action string, data json.RawMessage) error
	}
	ActionCatalog interface {
		Known(name string) bool
	}
	Drainer interface {
		Drain(ctx context.Context) (int, error)
	}
)

// NodeDeps wires the Node router.
type NodeDeps struct {
	Links    LinkSource
	Verifier *rpc.Verifier
	Orders   OrderSource
	Linker   HubLinker
	Recorder ChangeRecorder
	Catalog  ActionCatalog
	Puller   Drainer
	Reloader Reloader // optional
	// Ready reports whether the Node can serve; nil means always ready.
	Ready        func(ctx context.Context) error
	MaxBodyBytes int64
	AdminToken   string
}

type nodeHandler struct {
	d NodeDeps
}

// NewNode creates the Node's HTTP handler and registers all routes.
func NewNode(d NodeDeps) http.Handler {
	h := &nodeHandler{d: d}
	mux := http.NewServeMux()

	hubSecret := func(r *http.Request) (string, error) {
		link, err := d.Links.HubLink(r.Context())
		if err != nil {
			return "", err
		}
		return link.Secret, nil
	}
	mux.Handle("GET /v1/orders/{id}", d.Verifier.Middleware(OrdersEndpoint, hubSecret)(http.HandlerFunc(h.getOrder)))

	if d.AdminToken != "" {
		mux.HandleFunc("POST /v1/link", adminOnly(d.AdminToken, h.link))
		mux.HandleFunc("POST /v1/emit", adminOnly(d.AdminToken, h.emit))
		mux.HandleFunc("POST /v1/drain", adminOnly(d.AdminToken, h.drain))
		if d.Reloader != nil {
			mux.HandleFunc("POST /v1/config/reload", adminOnly(d.AdminToken, reloadConfig(d.Reloader)))
		}
	}

	mux.HandleFunc("GET /healthz", healthz)
	mux.HandleFunc("GET /readyz", readyz(d.Ready))
	mux.Handle("GET /metrics", promhttp.Handler())

	return loggingMiddleware(limitBody(d.MaxBodyBytes, mux))
}

// GET /v1/orders/{id}: the Hub reads a live order.
func (h *nodeHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.d.Orders.Order(r.Context(), r.PathValue("id"))
	if err != nil {
		writeProtocolError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// POST /v1/link: redeem a handshake nonce at the Hub.
func (h *nodeHandler) link(w http.ResponseWriter, r *http.Request) {
	var body struct {
		HubURL string `json:"hub_url"`
		Nonce  string `json:"nonce"`
	}
	if !decode(w, r, &body) {
		return
	}
	if body.HubURL == "" || body.Nonce == "" {
		writeError(w, http.StatusBadRequest, "hub_url and nonce are required")
		return
	}
	if err := h.d.Linker.Link(r.Context(), body.HubURL, body.Nonce); err != nil {
		writeUpstreamError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "linked", "hub_url": body.HubURL})
}

// POST /v1/emit: record a local business change.
func (h *nodeHandler) emit(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Action string          `json:"action"`
		Data   json.RawMessage `json:"data"`
	}
	if !decode(w, r, &body) {
		return
	}
	if body.Action == "" || len(body.Data) == 0 {
		writeProtocolError(w, r, event.ErrMalformed)
		return
	}
	if !h.d.Catalog.Known(body.Action) {
		writeProtocolError(w, r, event.ErrUnknownAction)
		return
	}
	if !event.ValidPayload(body.Data) {
		writeProtocolError(w, r, event.ErrInvalidData)
		return
	}
	if err := h.d.Recorder.Record(r.Context(), body.Action, body.Data); err != nil {
		writeProtocolError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// POST /v1/drain: pull until the Hub has nothing left for this Node.
func (h *nodeHandler) drain(w http.ResponseWriter, r *http.Request) {
	applied, err := h.d.Puller.Drain(r.Context())
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{"applied": applied, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"applied": applied})
}
