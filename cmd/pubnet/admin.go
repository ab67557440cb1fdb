package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// adminClient calls the /v1 operator routes of a running server.
type adminClient struct {
	base  string
	token string
	http  *http.Client
}

// addAdminFlags registers --server; its default is derived from listen_addr.
func addAdminFlags(cmd *cobra.Command, server *string) {
	cmd.Flags().StringVar(server, "server", "", "Base URL of the running server (default: derived from listen_addr)")
}

func newAdminClient(a *app, server string) (*adminClient, error) {
	cfg := a.cfg()
	if cfg.AdminToken == "" {
		return nil, fmt.Errorf("admin_token is not set in the config; operator routes are disabled")
	}
	if server == "" {
		server = localURL(cfg.ListenAddr)
	}
	return &adminClient{
		base:  strings.TrimRight(server, "/"),
		token: cfg.AdminToken,
		http:  &http.Client{Timeout: cfg.HTTP.ClientTimeout() + 30*time.Second},
	}, nil
}

// do sends body as JSON and decodes a 2xx answer into out.
func (c *adminClient) do(ctx context.Context, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, r)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode/100 != 2 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			return fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, e.Error)
		}
		return fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
