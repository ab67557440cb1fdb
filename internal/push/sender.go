// Package push delivers events a Node originates to the Hub's webhook and
// verifies them on the Hub side.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gyaneshwarpardhi/pubnet/internal/crypto"
	"github.com/gyaneshwarpardhi/pubnet/internal/event"
	"github.com/gyaneshwarpardhi/pubnet/internal/nodestate"
)

// ErrRejected wraps a non-200 answer from the Hub.
var ErrRejected = errors.New("hub rejected event")

// StatusError is the Hub's rejection of a pushed event.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("hub answered %d: %s", e.Status, e.Body)
}

func (e *StatusError) Unwrap() error { return ErrRejected }

// Retryable reports whether redelivering the same event could succeed.
// Authentication and validation failures never will.
func (e *StatusError) Retryable() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests
}

// LinkSource returns the Node's current Hub link.
type LinkSource interface {
	HubLink(ctx context.Context) (nodestate.HubLink, error)
}

// Sender builds authenticated webhook bodies and POSTs them to the Hub.
type Sender struct {
	client  *http.Client
	siteURL string
	links   LinkSource
	now     func() time.Time
}

// NewSender creates a Sender for the Node at siteURL.
func NewSender(client *http.Client, siteURL string, links LinkSource) *Sender {
	return &Sender{client: client, siteURL: siteURL, links: links, now: time.Now}
}

// Send encrypts data under the shared secret with a fresh nonce and delivers
// it. It returns a *StatusError when the Hub answers anything but 200.
func (s *Sender) Send(ctx context.Context, action string, data json.RawMessage) error {
	link, err := s.links.HubLink(ctx)
	if err != nil {
		return err
	}
	nonce, err := crypto.GenerateNonce()
	if err != nil {
		return err
	}
	ciphertext, err := crypto.Encrypt(data, link.Secret, nonce)
	if err != nil {
		return err
	}
	body, err := json.Marshal(event.PushRequest{
		Site:      s.siteURL,
		Action:    action,
		Data:      ciphertext,
		Timestamp: s.now().Unix(),
		Nonce:     nonce,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, link.HubURL+"/webhook", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("push %s: %w", action, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<14))
	if resp.StatusCode != http.StatusOK {
		return &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	return nil
}
