package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/gyaneshwarpardhi/pubnet/internal/api"
	"github.com/gyaneshwarpardhi/pubnet/internal/config"
	"github.com/gyaneshwarpardhi/pubnet/internal/eventlog"
	"github.com/gyaneshwarpardhi/pubnet/internal/handshake"
	"github.com/gyaneshwarpardhi/pubnet/internal/nodes"
	"github.com/gyaneshwarpardhi/pubnet/internal/processor"
	"github.com/gyaneshwarpardhi/pubnet/internal/pull"
	"github.com/gyaneshwarpardhi/pubnet/internal/push"
	"github.com/gyaneshwarpardhi/pubnet/internal/rpc"
	"github.com/gyaneshwarpardhi/pubnet/internal/storage"
)

func newHubCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hub",
		Short: "Run and operate the Hub",
	}
	cmd.AddCommand(
		newHubServeCmd(a),
		newHubNodesCmd(a),
		newHubAddNodeCmd(a),
		newHubRemoveNodeCmd(a),
		newHubIssueNonceCmd(a),
		newHubOrderCmd(a),
	)
	return cmd
}

func newHubServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the webhook, pull and handshake endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg()
			if err := requireRole(cfg, config.RoleHub); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			stores, err := openHubStores(ctx, cfg)
			if err != nil {
				return err
			}
			defer stores.close()

			nonces, closeNonces, err := openNonceStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeNonces()

			emitter := eventlog.NewEmitter(stores.log)
			reg := processor.NewRegistry(processor.Deps{Mirror: stores.mirror})
			proc := processor.New(processor.RoleHub, reg)

			handler := api.NewHub(api.HubDeps{
				Receiver:     push.NewReceiver(stores.dir, reg, stores.log, proc),
				Pull:         pull.NewServer(stores.dir, reg, stores.log, cfg.SiteURL, cfg.Hub.PullPageSize),
				Handshake:    handshake.NewService(nonces, stores.dir, cfg.Hub.HandshakeTTL()),
				Events:       stores.log,
				Nodes:        stores.dir,
				Emitter:      emitter,
				Reloader:     a.loader,
				Ready:        stores.db.PingContext,
				KeyLimiter:   api.NewIPRateLimiter(cfg.Hub.RetrieveKeyRPS, cfg.Hub.RetrieveKeyBurst),
				MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
				AdminToken:   cfg.AdminToken,
			})

			defer watchConfig(a.loader)()
			slog.Info("hub ready", "site", cfg.SiteURL, "actions", len(reg.Names()), "pullable", len(reg.Pullable()))
			return serve(ctx, cfg.ListenAddr, handler)
		},
	}
}

// hubStores are the Hub's SQL-backed stores.
type hubStores struct {
	db     *sqlx.DB
	dir    *nodes.Directory
	log    *eventlog.Store
	mirror *processor.Mirror
	close  func()
}

func openHubStores(ctx context.Context, cfg *config.Config) (*hubStores, error) {
	db, err := storage.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	s := &hubStores{db: db, close: func() { db.Close() }}

	if cfg.Database.UsePGX {
		pool, err := storage.ConnectPGX(ctx, cfg.Database.DSN)
		if err != nil {
			db.Close()
			return nil, err
		}
		s.close = func() { pool.Close(); db.Close() }
		s.log, err = eventlog.NewFromPGXPool(pool, eventlog.WithLogger(slog.Default()))
		if err != nil {
			s.close()
			return nil, err
		}
	} else {
		s.log, err = eventlog.NewFromSQLX(db, eventlog.WithLogger(slog.Default()))
		if err != nil {
			s.close()
			return nil, err
		}
	}

	s.dir = nodes.NewDirectory(db)
	s.mirror = processor.NewMirror(db)
	for _, m := range []interface{ Migrate(context.Context) error }{s.dir, s.log, s.mirror} {
		if err := m.Migrate(ctx); err != nil {
			s.close()
			return nil, err
		}
	}
	return s, nil
}

// openNonceStore returns the redis store when redis is configured, else an
// in-process one.
func openNonceStore(ctx context.Context, cfg *config.Config) (handshake.NonceStore, func(), error) {
	if cfg.Redis.Addr == "" {
		return handshake.NewMemoryStore(time.Now), func() {}, nil
	}
	client := handshake.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("redis %s: %w", cfg.Redis.Addr, err)
	}
	slog.Info("handshake nonces stored in redis", "addr", cfg.Redis.Addr)
	return handshake.NewRedisStore(client), func() { client.Close() }, nil
}

func newHubNodesCmd(a *app) *cobra.Command {
	var server string
	cmd := &cobra.Command{
		Use:   "nodes",
		Short: "List registered Nodes",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newAdminClient(a, server)
			if err != nil {
				return err
			}
			var list []nodes.Node
			if err := c.do(cmd.Context(), http.MethodGet, "/v1/nodes", nil, &list); err != nil {
				return err
			}
			return printJSON(list)
		},
	}
	addAdminFlags(cmd, &server)
	return cmd
}

func newHubAddNodeCmd(a *app) *cobra.Command {
	var server string
	cmd := &cobra.Command{
		Use:   "add-node <url>",
		Short: "Register a Node and generate its secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newAdminClient(a, server)
			if err != nil {
				return err
			}
			var n nodes.Node
			if err := c.do(cmd.Context(), http.MethodPost, "/v1/nodes", map[string]string{"url": args[0]}, &n); err != nil {
				return err
			}
			fmt.Printf("node %d registered: %s\n", n.ID, n.URL)
			return nil
		},
	}
	addAdminFlags(cmd, &server)
	return cmd
}

func newHubRemoveNodeCmd(a *app) *cobra.Command {
	var server string
	cmd := &cobra.Command{
		Use:   "remove-node <id>",
		Short: "Remove a Node; its events stay in the log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("node id: %w", err)
			}
			c, err := newAdminClient(a, server)
			if err != nil {
				return err
			}
			if err := c.do(cmd.Context(), http.MethodDelete, "/v1/nodes/"+strconv.FormatInt(id, 10), nil, nil); err != nil {
				return err
			}
			fmt.Printf("node %d removed\n", id)
			return nil
		},
	}
	addAdminFlags(cmd, &server)
	return cmd
}

func newHubIssueNonceCmd(a *app) *cobra.Command {
	var server string
	cmd := &cobra.Command{
		Use:   "issue-nonce <node-id>",
		Short: "Start a handshake: print a one-time nonce the Node redeems for its secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("node id: %w", err)
			}
			c, err := newAdminClient(a, server)
			if err != nil {
				return err
			}
			var out struct {
				Nonce string `json:"nonce"`
			}
			if err := c.do(cmd.Context(), http.MethodPost, fmt.Sprintf("/v1/nodes/%d/nonce", id), nil, &out); err != nil {
				return err
			}
			cfg := a.cfg()
			fmt.Printf("nonce: %s\nvalid for %s; on the Node run:\n  pubnet node link --hub %s --nonce %s\n",
				out.Nonce, cfg.Hub.HandshakeTTL(), cfg.SiteURL, out.Nonce)
			return nil
		},
	}
	addAdminFlags(cmd, &server)
	return cmd
}

func newHubOrderCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "order <node-id> <order-id>",
		Short: "Read a live order from a Node over signed RPC",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("node id: %w", err)
			}
			cfg := a.cfg()
			db, err := storage.Open(cmd.Context(), cfg.Database.Driver, cfg.Database.DSN)
			if err != nil {
				return err
			}
			defer db.Close()

			n, err := nodes.NewDirectory(db).ByID(cmd.Context(), id)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.RPC.ClientTimeout())
			defer cancel()
			var order json.RawMessage
			client := rpc.NewClient(&http.Client{Timeout: cfg.RPC.ClientTimeout()})
			if err := client.Get(ctx, n.URL, "/v1/orders/"+args[1], api.OrdersEndpoint, n.Secret, &order); err != nil {
				return err
			}
			_, err = os.Stdout.Write(append(order, '\n'))
			return err
		},
	}
}
