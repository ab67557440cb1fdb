package config

import "time"

// Config is the top-level YAML structure.
type Config struct {
	Role       string       `yaml:"role"`
	SiteURL    string       `yaml:"site_url"`
	ListenAddr string       `yaml:"listen_addr"`
	LogLevel   string       `yaml:"log_level"`
	AdminToken string       `yaml:"admin_token"` // bearer token for /v1 operator routes; empty disables them
	Database   DatabaseConf `yaml:"database"`
	Redis      RedisConf    `yaml:"redis"`
	Hub        HubConf      `yaml:"hub"`
	Node       NodeConf     `yaml:"node"`
	HTTP       HTTPConf     `yaml:"http"`
	RPC        RPCConf      `yaml:"rpc"`
}

// DatabaseConf selects the SQL backend.
type DatabaseConf struct {
	Driver string `yaml:"driver"` // postgres | sqlite
	DSN    string `yaml:"dsn"`
	UsePGX bool   `yaml:"use_pgx"` // Event Log on pgxpool instead of database/sql
}

// RedisConf points at the shared handshake nonce store. An empty Addr keeps
// nonces in process memory.
type RedisConf struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// HubConf holds Hub-only settings.
type HubConf struct {
	HandshakeTTLSeconds int     `yaml:"handshake_ttl_seconds"`
	PullPageSize        int     `yaml:"pull_page_size"`
	RetrieveKeyRPS      float64 `yaml:"retrieve_key_rps"`
	RetrieveKeyBurst    int     `yaml:"retrieve_key_burst"`
}

// NodeConf holds Node-only settings.
type NodeConf struct {
	StatePath           string `yaml:"state_path"`
	PullIntervalSeconds int    `yaml:"pull_interval_seconds"`
	PushWorkers         int    `yaml:"push_workers"`
	PushQueueDepth      int    `yaml:"push_queue_depth"`
	PushMaxAttempts     int    `yaml:"push_max_attempts"`
	PushRetryDelayMs    int    `yaml:"push_retry_delay_ms"`
}

// HTTPConf bounds inbound and outbound HTTP.
type HTTPConf struct {
	ClientTimeoutSeconds int   `yaml:"client_timeout_seconds"`
	MaxBodyBytes         int64 `yaml:"max_body_bytes"`
}

// RPCConf tunes signed cross-site calls.
type RPCConf struct {
	MaxAgeSeconds        int `yaml:"max_age_seconds"`
	ClientTimeoutSeconds int `yaml:"client_timeout_seconds"`
}

func (h HubConf) HandshakeTTL() time.Duration {
	return time.Duration(h.HandshakeTTLSeconds) * time.Second
}

func (n NodeConf) PullInterval() time.Duration {
	return time.Duration(n.PullIntervalSeconds) * time.Second
}

func (n NodeConf) PushRetryDelay() time.Duration {
	return time.Duration(n.PushRetryDelayMs) * time.Millisecond
}

func (h HTTPConf) ClientTimeout() time.Duration {
	return time.Duration(h.ClientTimeoutSeconds) * time.Second
}

func (r RPCConf) MaxAge() time.Duration {
	return time.Duration(r.MaxAgeSeconds) * time.Second
}

func (r RPCConf) ClientTimeout() time.Duration {
	return time.Duration(r.ClientTimeoutSeconds) * time.Second
}
