// Package rpc authorizes short-lived, purpose-bound reads between sites.
//
// The caller encrypts {timestamp, salt, endpoint_id} under the shared secret
// and sends the ciphertext and nonce as headers. The callee accepts the
// request only if the token decrypts, names the endpoint being hit and is
// younger than MaxAge. Unlike push and pull envelopes the token authorizes a
// privileged read, so it lives for seconds, not for a delivery cycle.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/gyaneshwarpardhi/pubnet/internal/crypto"
	"github.com/gyaneshwarpardhi/pubnet/internal/metrics"
)

// Header names.
const (
	HeaderSignature = "X-NP-Network-Signature"
	HeaderNonce     = "X-NP-Network-Nonce"
)

// DefaultMaxAge is how long a signed token stays valid.
const DefaultMaxAge = 60 * time.Second

// DefaultClientTimeout bounds a signed call.
const DefaultClientTimeout = 60 * time.Second

var (
	ErrMissingToken     = errors.New("missing network signature")
	ErrInvalidSignature = errors.New("invalid network signature")
	ErrWrongEndpoint    = errors.New("token was issued for another endpoint")
	ErrExpired          = errors.New("token expired")
)

// Claims is the signed token body.
type Claims struct {
	Timestamp  int64  `json:"timestamp"`
	Salt       string `json:"salt"`
	EndpointID string `json:"endpoint_id"`
}

// Sign returns the signature and nonce for a call to endpointID at now.
func Sign(secret, endpointID string, now time.Time) (signature, nonce string, err error) {
	return crypto.Seal(Claims{
		Timestamp:  now.Unix(),
		Salt:       uuid.NewString(),
		EndpointID: endpointID,
	}, secret)
}

// SetHeaders signs a call to endpointID and sets the headers on r.
func SetHeaders(r *http.Request, secret, endpointID string) error {
	sig, nonce, err := Sign(secret, endpointID, time.Now())
	if err != nil {
		return err
	}
	r.Header.Set(HeaderSignature, sig)
	r.Header.Set(HeaderNonce, nonce)
	return nil
}

// Verifier checks signed tokens. MaxAge can be changed while serving.
type Verifier struct {
	maxAge atomic.Int64
	now    func() time.Time
}

// NewVerifier creates a Verifier. A maxAge below one second uses DefaultMaxAge.
func NewVerifier(maxAge time.Duration) *Verifier {
	v := &Verifier{now: time.Now}
	v.SetMaxAge(maxAge)
	return v
}

// WithClock overrides the verifier's clock.
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	v.now = now
	return v
}

// MaxAge returns the current replay window.
func (v *Verifier) MaxAge() time.Duration { return time.Duration(v.maxAge.Load()) }

// SetMaxAge replaces the replay window.
func (v *Verifier) SetMaxAge(d time.Duration) {
	if d < time.Second {
		d = DefaultMaxAge
	}
	v.maxAge.Store(int64(d))
}

// Verify checks a token for endpointID.
func (v *Verifier) Verify(signature, nonce, secret, endpointID string) error {
	if signature == "" || nonce == "" {
		return ErrMissingToken
	}
	var c Claims
	if err := crypto.Open(signature, secret, nonce, &c); err != nil {
		return ErrInvalidSignature
	}
	if c.EndpointID != endpointID {
		return ErrWrongEndpoint
	}
	age := v.now().Sub(time.Unix(c.Timestamp, 0))
	if age > v.MaxAge() || -age > v.MaxAge() {
		return fmt.Errorf("%w: issued %s ago", ErrExpired, age.Truncate(time.Second))
	}
	return nil
}

// SecretFunc returns the secret a request must be signed with.
type SecretFunc func(r *http.Request) (string, error)

// Middleware rejects requests to endpointID without a valid token with 403
// before next runs.
func (v *Verifier) Middleware(endpointID string, secret SecretFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, err := secret(r)
			if err == nil {
				err = v.Verify(r.Header.Get(HeaderSignature), r.Header.Get(HeaderNonce), key, endpointID)
			}
			if err != nil {
				metrics.RPCVerifications.WithLabelValues(endpointID, "denied").Inc()
				slog.Warn("signed request rejected", "endpoint", endpointID, "remote", r.RemoteAddr, "err", err)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "Unauthorized"})
				return
			}
			metrics.RPCVerifications.WithLabelValues(endpointID, "allowed").Inc()
			next.ServeHTTP(w, r)
		})
	}
}

// Client makes signed GET calls.
type Client struct {
	http *http.Client
}

// NewClient creates a Client. A nil http client gets DefaultClientTimeout.
func NewClient(c *http.Client) *Client {
	if c == nil {
		c = &http.Client{Timeout: DefaultClientTimeout}
	}
	return &Client{http: c}
}

// Get calls baseURL+path signed for endpointID and decodes the JSON answer
// into out.
func (c *Client) Get(ctx context.Context, baseURL, path, endpointID, secret string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+path, nil)
	if err != nil {
		return err
	}
	if err := SetHeaders(req, secret, endpointID); err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("rpc %s: %w", endpointID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<14))
		return fmt.Errorf("rpc %s: status %d: %s", endpointID, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("rpc %s: decode: %w", endpointID, err)
	}
	return nil
}
