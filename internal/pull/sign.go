// Package pull lets a Node fetch the events it missed from the Hub's Event
// Log, strictly in id order, with a cursor that only advances past events
// that were applied successfully.
package pull

import (
	"errors"
	"slices"

	"github.com/gyaneshwarpardhi/pubnet/internal/crypto"
	"github.com/gyaneshwarpardhi/pubnet/internal/event"
)

// ErrStaleCursor is returned when the signed cursor differs from the one the
// request carries in clear.
var ErrStaleCursor = errors.New("signed cursor does not match request")

// SignRequest builds a pull request for claims signed with secret.
func SignRequest(claims event.PullClaims, secret string) (event.PullRequest, error) {
	if claims.Actions == nil {
		claims.Actions = []string{}
	}
	sig, nonce, err := crypto.Seal(claims, secret)
	if err != nil {
		return event.PullRequest{}, err
	}
	cursor := claims.LastProcessedID
	return event.PullRequest{
		Site:            claims.Site,
		LastProcessedID: &cursor,
		Actions:         claims.Actions,
		Signature:       sig,
		Nonce:           nonce,
	}, nil
}

// Verify recovers the signed claims from req with secret. The recovered
// cursor must equal the cleartext one, which binds the signature to this
// exact position in the log.
func Verify(req event.PullRequest, secret string) (event.PullClaims, error) {
	var claims event.PullClaims
	if err := crypto.Open(req.Signature, secret, req.Nonce, &claims); err != nil {
		return event.PullClaims{}, event.ErrInvalidSignature
	}
	if req.LastProcessedID == nil || claims.LastProcessedID != *req.LastProcessedID {
		return event.PullClaims{}, ErrStaleCursor
	}
	if claims.Site != "" && claims.Site != req.Site {
		return event.PullClaims{}, ErrStaleCursor
	}
	if !slices.Equal(claims.Actions, req.Actions) && !(len(claims.Actions) == 0 && len(req.Actions) == 0) {
		return event.PullClaims{}, ErrStaleCursor
	}
	return claims, nil
}
