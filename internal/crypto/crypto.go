// Package crypto holds the one authenticated-encryption primitive every
// cross-site exchange is built on.
//
// The primitive is NaCl secretbox (XSalsa20-Poly1305) with a 24-byte random
// nonce supplied by the caller. It serves two roles:
//
//   - secrecy plus authenticity for push payloads, and
//   - a MAC over fields that also travel in clear (pull cursors, RPC tokens).
//
// In the second role "verify" means Decrypt succeeds and the recovered
// plaintext matches what the request claims. Nonces must never repeat under
// the same key; use GenerateNonce for every message.
package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	// KeySize is the shared-secret length in bytes.
	KeySize = 32
	// NonceSize is the per-message nonce length in bytes.
	NonceSize = 24
)

var (
	// ErrDecrypt is returned when a message fails authentication: wrong key,
	// wrong nonce or tampered ciphertext.
	ErrDecrypt = errors.New("crypto: message authentication failed")

	// ErrMalformed is returned when a key, nonce or ciphertext is not validly encoded.
	ErrMalformed = errors.New("crypto: malformed input encoding")
)

// GenerateKey returns a fresh hex-encoded shared secret.
func GenerateKey() (string, error) {
	return randomHex(KeySize)
}

// GenerateNonce returns a fresh hex-encoded nonce.
func GenerateNonce() (string, error) {
	return randomHex(NonceSize)
}

// Encrypt seals plaintext under key and nonce and returns base64 ciphertext.
func Encrypt(plaintext []byte, key, nonce string) (string, error) {
	k, n, err := decodeKeyNonce(key, nonce)
	if err != nil {
		return "", err
	}
	sealed := secretbox.Seal(nil, plaintext, n, k)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens base64 ciphertext produced by Encrypt. It never panics on
// hostile input; every failure is ErrDecrypt or ErrMalformed.
func Decrypt(ciphertext, key, nonce string) ([]byte, error) {
	k, n, err := decodeKeyNonce(key, nonce)
	if err != nil {
		return nil, err
	}
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: ciphertext: %v", ErrMalformed, err)
	}
	if len(raw) < secretbox.Overhead {
		return nil, ErrDecrypt
	}
	out, ok := secretbox.Open(nil, raw, n, k)
	if !ok {
		return nil, ErrDecrypt
	}
	if out == nil {
		out = []byte{}
	}
	return out, nil
}

// Seal JSON-encodes v and encrypts it under key with a fresh nonce.
func Seal(v any, key string) (ciphertext, nonce string, err error) {
	plain, err := json.Marshal(v)
	if err != nil {
		return "", "", fmt.Errorf("crypto: encode payload: %w", err)
	}
	nonce, err = GenerateNonce()
	if err != nil {
		return "", "", err
	}
	ciphertext, err = Encrypt(plain, key, nonce)
	if err != nil {
		return "", "", err
	}
	return ciphertext, nonce, nil
}

// Open decrypts ciphertext and JSON-decodes the plaintext into v.
// Authentication failures are reported before any decoding happens.
func Open(ciphertext, key, nonce string, v any) error {
	plain, err := Decrypt(ciphertext, key, nonce)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(plain, v); err != nil {
		return fmt.Errorf("crypto: decode payload: %w", err)
	}
	return nil
}

func decodeKeyNonce(key, nonce string) (*[KeySize]byte, *[NonceSize]byte, error) {
	kb, err := hex.DecodeString(key)
	if err != nil || len(kb) != KeySize {
		return nil, nil, fmt.Errorf("%w: key must be %d hex-encoded bytes", ErrMalformed, KeySize)
	}
	nb, err := hex.DecodeString(nonce)
	if err != nil || len(nb) != NonceSize {
		return nil, nil, fmt.Errorf("%w: nonce must be %d hex-encoded bytes", ErrMalformed, NonceSize)
	}
	var k [KeySize]byte
	var n [NonceSize]byte
	copy(k[:], kb)
	copy(n[:], nb)
	return &k, &n, nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("crypto: read random: %w", err)
	}
	return hex.EncodeToString(b), nil
}
