package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Roles.
const (
	RoleHub  = "hub"
	RoleNode = "node"
)

// Validate checks the config for:
//   - a known role and database driver
//   - an absolute http(s) site URL
//   - positive limits and intervals
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.Role {
	case RoleHub, RoleNode:
	case "":
		errs = append(errs, "role is required")
	default:
		errs = append(errs, fmt.Sprintf("role %q must be %q or %q", cfg.Role, RoleHub, RoleNode))
	}

	if cfg.SiteURL == "" {
		errs = append(errs, "site_url is required")
	} else if u, err := url.Parse(cfg.SiteURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Sprintf("site_url %q must be an absolute http(s) URL", cfg.SiteURL))
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("log_level %q must be one of debug, info, warn, error", cfg.LogLevel))
	}

	switch cfg.Database.Driver {
	case "postgres":
		if cfg.Database.DSN == "" {
			errs = append(errs, "database.dsn is required for postgres")
		}
	case "sqlite":
		if cfg.Database.UsePGX {
			errs = append(errs, "database.use_pgx needs the postgres driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q must be postgres or sqlite", cfg.Database.Driver))
	}

	if cfg.Role == RoleHub {
		if cfg.Hub.PullPageSize < 1 {
			errs = append(errs, "hub.pull_page_size must be positive")
		}
		if cfg.Hub.RetrieveKeyRPS <= 0 {
			errs = append(errs, "hub.retrieve_key_rps must be positive")
		}
	}
	if cfg.Role == RoleNode {
		if cfg.Node.StatePath == "" {
			errs = append(errs, "node.state_path is required")
		}
		if cfg.Node.PushMaxAttempts < 1 {
			errs = append(errs, "node.push_max_attempts must be at least 1")
		}
	}
	if cfg.RPC.MaxAgeSeconds < 1 {
		errs = append(errs, "rpc.max_age_seconds must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
