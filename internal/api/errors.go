package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gyaneshwarpardhi/pubnet/internal/event"
	"github.com/gyaneshwarpardhi/pubnet/internal/handshake"
	"github.com/gyaneshwarpardhi/pubnet/internal/nodes"
	"github.com/gyaneshwarpardhi/pubnet/internal/nodestate"
	"github.com/gyaneshwarpardhi/pubnet/internal/processor"
	"github.com/gyaneshwarpardhi/pubnet/internal/pull"
	"github.com/gyaneshwarpardhi/pubnet/internal/push"
)

// writeProtocolError maps transport and domain errors to status codes.
// Anything unrecognized is a 500 and is logged with its cause.
func writeProtocolError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, event.ErrMalformed):
		writeError(w, http.StatusBadRequest, "Missing required fields.")
	case errors.Is(err, event.ErrUnknownAction):
		writeError(w, http.StatusBadRequest, "Invalid action")
	case errors.Is(err, event.ErrInvalidData):
		writeError(w, http.StatusBadRequest, event.ErrInvalidData.Error())
	case errors.Is(err, event.ErrUnknownSite):
		writeError(w, http.StatusForbidden, "Unknown site.")
	case errors.Is(err, event.ErrInvalidSignature), errors.Is(err, pull.ErrStaleCursor):
		writeError(w, http.StatusForbidden, event.ErrInvalidSignature.Error())
	case errors.Is(err, handshake.ErrInvalidNonce):
		writeError(w, http.StatusForbidden, "Invalid or expired nonce.")
	case errors.Is(err, nodes.ErrNotFound), errors.Is(err, processor.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, processor.ErrMissingKey):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, nodestate.ErrNotLinked):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, nodes.ErrDuplicateURL):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, nodes.ErrInvalidURL):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, push.ErrApplyFailed):
		slog.Error("handler failed after append", "path", r.URL.Path, "request_id", RequestID(r.Context()), "err", err)
		writeError(w, http.StatusInternalServerError, push.ErrApplyFailed.Error())
	default:
		slog.Error("request failed", "path", r.URL.Path, "request_id", RequestID(r.Context()), "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// writeUpstreamError reports a failed call to another site.
func writeUpstreamError(w http.ResponseWriter, r *http.Request, err error) {
	slog.Warn("upstream call failed", "path", r.URL.Path, "request_id", RequestID(r.Context()), "err", err)
	writeError(w, http.StatusBadGateway, err.Error())
}
