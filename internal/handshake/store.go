package handshake

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// NonceStore keeps at most one pending nonce per node. Put replaces any
// earlier nonce for the same node (last writer wins). Consume succeeds at most
// once per nonce and only before its TTL runs out.
type NonceStore interface {
	Put(ctx context.Context, nodeID int64, nonce string, ttl time.Duration) error
	Consume(ctx context.Context, nodeID int64, nonce string) (bool, error)
}

/***** in-memory *****/

type pending struct {
	nonce     string
	createdAt time.Time
	ttl       time.Duration
}

// MemoryStore is a process-local NonceStore.
type MemoryStore struct {
	mu      sync.Mutex
	pending map[int64]pending
	now     func() time.Time
}

// NewMemoryStore creates a MemoryStore. A nil clock defaults to time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{pending: make(map[int64]pending), now: now}
}

func (m *MemoryStore) Put(_ context.Context, nodeID int64, nonce string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[nodeID] = pending{nonce: nonce, createdAt: m.now(), ttl: ttl}
	return nil
}

func (m *MemoryStore) Consume(_ context.Context, nodeID int64, nonce string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pending[nodeID]
	if !ok {
		return false, nil
	}
	if m.now().Sub(p.createdAt) >= p.ttl {
		delete(m.pending, nodeID)
		return false, nil
	}
	if subtle.ConstantTimeCompare([]byte(p.nonce), []byte(nonce)) != 1 {
		return false, nil
	}
	delete(m.pending, nodeID)
	return true, nil
}

/***** redis *****/

// consumeScript deletes the key only when it still holds the presented nonce.
// KEYS[1] = nonce key, ARGV[1] = presented nonce
var consumeScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    redis.call("DEL", KEYS[1])
    return 1
end
return 0
`)

// RedisStore keeps nonces in Redis with a server-side TTL, so several Hub
// processes can share pending handshakes.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a RedisStore on client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client, prefix: "pubnet:handshake:"}
}

// NewRedisClient opens a client for addr.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
}

func (r *RedisStore) key(nodeID int64) string {
	return r.prefix + strconv.FormatInt(nodeID, 10)
}

func (r *RedisStore) Put(ctx context.Context, nodeID int64, nonce string, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.key(nodeID), nonce, ttl).Err(); err != nil {
		return fmt.Errorf("redis set nonce: %w", err)
	}
	return nil
}

func (r *RedisStore) Consume(ctx context.Context, nodeID int64, nonce string) (bool, error) {
	res, err := consumeScript.Run(ctx, r.client, []string{r.key(nodeID)}, nonce).Int()
	if err != nil {
		return false, fmt.Errorf("redis consume nonce: %w", err)
	}
	return res == 1, nil
}
