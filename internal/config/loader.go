package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Loader reads a YAML config file and watches it for changes.
type Loader struct {
	path     string
	mu       sync.RWMutex
	current  *Config
	onChange []func(*Config)
}

// NewLoader creates a Loader and performs the initial load.
func NewLoader(path string) (*Loader, error) {
	l := &Loader{path: path}
	cfg, err := l.load()
	if err != nil {
		return nil, err
	}
	l.current = cfg
	return l, nil
}

// Config returns the current (latest) configuration.
func (l *Loader) Config() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// OnChange registers a callback invoked whenever the config reloads.
func (l *Loader) OnChange(fn func(*Config)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, fn)
}

// Watch starts a background goroutine that hot-reloads the config on file
// changes. The directory is watched so editors that replace the file on save
// are picked up too. Call the returned stop function to clean up.
func (l *Loader) Watch() (stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}
	dir := filepath.Dir(l.path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("config watcher add %s: %w", dir, err)
	}
	target := filepath.Clean(l.path)

	done := make(chan struct{})
	go func() {
		defer w.Close()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
					if _, err := l.Reload(); err != nil {
						slog.Error("config reload failed, keeping previous config", "path", l.path, "err", err)
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Warn("config watcher error", "err", err)
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }, nil
}

// Reload forces an immediate re-read of the config file.
func (l *Loader) Reload() (*Config, error) {
	cfg, err := l.load()
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.current = cfg
	callbacks := make([]func(*Config), len(l.onChange))
	copy(callbacks, l.onChange)
	l.mu.Unlock()
	for _, fn := range callbacks {
		fn(cfg)
	}
	slog.Info("config reloaded", "path", l.path)
	return cfg, nil
}

func (l *Loader) load() (*Config, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", l.path, err)
	}
	return Parse(data)
}

// Parse decodes YAML, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	cfg.SiteURL = strings.TrimRight(cfg.SiteURL, "/")
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.Driver == "sqlite" && cfg.Database.DSN == "" {
		cfg.Database.DSN = "pubnet.db"
	}
	if cfg.Hub.HandshakeTTLSeconds == 0 {
		cfg.Hub.HandshakeTTLSeconds = 3600
	}
	if cfg.Hub.PullPageSize == 0 {
		cfg.Hub.PullPageSize = 20
	}
	if cfg.Hub.RetrieveKeyRPS == 0 {
		cfg.Hub.RetrieveKeyRPS = 1
	}
	if cfg.Hub.RetrieveKeyBurst == 0 {
		cfg.Hub.RetrieveKeyBurst = 5
	}
	if cfg.Node.StatePath == "" {
		cfg.Node.StatePath = "node.db"
	}
	if cfg.Node.PullIntervalSeconds == 0 {
		cfg.Node.PullIntervalSeconds = 300
	}
	if cfg.Node.PushWorkers == 0 {
		cfg.Node.PushWorkers = 4
	}
	if cfg.Node.PushQueueDepth == 0 {
		cfg.Node.PushQueueDepth = 1000
	}
	if cfg.Node.PushMaxAttempts == 0 {
		cfg.Node.PushMaxAttempts = 5
	}
	if cfg.Node.PushRetryDelayMs == 0 {
		cfg.Node.PushRetryDelayMs = 2000
	}
	if cfg.HTTP.ClientTimeoutSeconds == 0 {
		cfg.HTTP.ClientTimeoutSeconds = 30
	}
	if cfg.HTTP.MaxBodyBytes == 0 {
		cfg.HTTP.MaxBodyBytes = 1 << 20
	}
	if cfg.RPC.MaxAgeSeconds == 0 {
		cfg.RPC.MaxAgeSeconds = 60
	}
	if cfg.RPC.ClientTimeoutSeconds == 0 {
		cfg.RPC.ClientTimeoutSeconds = 60
	}
}
