package handshake

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gyaneshwarpardhi/pubnet/internal/event"
	"github.com/gyaneshwarpardhi/pubnet/internal/nodes"
)

// LinkSaver persists the result of a successful handshake on the Node.
type LinkSaver interface {
	SaveHubLink(ctx context.Context, hubURL, secret string) error
}

// Linker is the Node side of the handshake.
type Linker struct {
	client  *http.Client
	siteURL string
	saver   LinkSaver
}

// NewLinker creates a Linker for the Node at siteURL.
func NewLinker(client *http.Client, siteURL string, saver LinkSaver) *Linker {
	return &Linker{client: client, siteURL: siteURL, saver: saver}
}

// Link redeems nonce at hubURL and stores the returned secret, switching the
// Node into the node role.
func (l *Linker) Link(ctx context.Context, hubURL, nonce string) error {
	hub, err := nodes.NormalizeURL(hubURL)
	if err != nil {
		return fmt.Errorf("hub url: %w", err)
	}
	body, err := json.Marshal(event.KeyRequest{Site: l.siteURL, Nonce: strings.TrimSpace(nonce)})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hub+"/retrieve-key", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("retrieve key: %w", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("retrieve key: hub answered %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var kr event.KeyResponse
	if err := json.Unmarshal(raw, &kr); err != nil || kr.SecretKey == "" {
		return fmt.Errorf("retrieve key: unexpected response body")
	}
	return l.saver.SaveHubLink(ctx, hub, kr.SecretKey)
}
