package event

import (
	"encoding/json"

	jsoniter "github.com/json-iterator/go"
)

// HubNodeID is the node_id recorded for events that originate on the Hub itself.
const HubNodeID int64 = 0

// Logged is one row of the Hub's append-only Event Log.
// Ordering is defined by ID only; Timestamp is supplied by the emitter.
type Logged struct {
	ID        int64           `json:"id"`
	NodeID    int64           `json:"node_id"`
	Action    string          `json:"action_name"`
	Email     string          `json:"email"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// Incoming is an authenticated event ready to be applied locally.
type Incoming struct {
	ID        int64  // Event Log id; 0 when the event arrived by push
	Site      string // originating site URL
	Action    string
	Data      json.RawMessage
	Timestamp int64
}

// PushRequest is the webhook body a Node POSTs to the Hub.
// Data holds the base64 ciphertext of the JSON payload.
type PushRequest struct {
	Site      string `json:"site"`
	Action    string `json:"action"`
	Data      string `json:"data"`
	Timestamp int64  `json:"timestamp"`
	Nonce     string `json:"nonce"`
}

// PullRequest is the body a Node POSTs to the Hub's pull endpoint.
// LastProcessedID is a pointer so a missing cursor can be told apart from 0.
type PullRequest struct {
	Site            string   `json:"site"`
	LastProcessedID *int64   `json:"last_processed_id"`
	Actions         []string `json:"actions"`
	Signature       string   `json:"signature"`
	Nonce           string   `json:"nonce"`
}

// PullClaims is the struct a Node signs when pulling. The Hub recovers it from
// the signature and compares it against the cleartext request fields.
type PullClaims struct {
	LastProcessedID int64    `json:"last_processed_id"`
	Actions         []string `json:"actions"`
	Site            string   `json:"site"`
}

// Pulled is one event record returned to a pulling Node.
type Pulled struct {
	ID        int64           `json:"id"`
	Site      string          `json:"site"`
	Action    string          `json:"action"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// KeyRequest is the handshake body a Node sends to redeem a nonce.
type KeyRequest struct {
	Site  string `json:"site"`
	Nonce string `json:"nonce"`
}

// KeyResponse carries the shared secret back to the Node.
type KeyResponse struct {
	SecretKey string `json:"secret_key"`
}

// EmailOf extracts the denormalized email from an event payload.
func EmailOf(data []byte) string {
	for _, key := range []string{"email", "user_email"} {
		if v := jsoniter.Get(data, key); v.ValueType() == jsoniter.StringValue {
			return v.ToString()
		}
	}
	return ""
}

// ValidPayload reports whether data is a non-empty JSON object or array.
func ValidPayload(data []byte) bool {
	if len(data) == 0 || !jsoniter.ConfigFastest.Valid(data) {
		return false
	}
	v := jsoniter.Get(data)
	switch v.ValueType() {
	case jsoniter.ObjectValue, jsoniter.ArrayValue:
		return v.Size() > 0
	}
	return false
}
