package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gyaneshwarpardhi/pubnet/internal/api"
	"github.com/gyaneshwarpardhi/pubnet/internal/config"
	"github.com/gyaneshwarpardhi/pubnet/internal/handshake"
	"github.com/gyaneshwarpardhi/pubnet/internal/nodestate"
	"github.com/gyaneshwarpardhi/pubnet/internal/processor"
	"github.com/gyaneshwarpardhi/pubnet/internal/pull"
	"github.com/gyaneshwarpardhi/pubnet/internal/push"
	"github.com/gyaneshwarpardhi/pubnet/internal/rpc"
	"github.com/gyaneshwarpardhi/pubnet/internal/storage"
)

func newNodeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "node",
		Short: "Run and operate a Node",
	}
	cmd.AddCommand(
		newNodeServeCmd(a),
		newNodeLinkCmd(a),
		newNodeDrainCmd(a),
		newNodeEmitCmd(a),
	)
	return cmd
}

// openNodeState opens the Node's local database and migrates its tables.
func openNodeState(ctx context.Context, cfg *config.Config) (*nodestate.Store, *processor.Mirror, func(), error) {
	db, err := storage.OpenSQLite(cfg.Node.StatePath)
	if err != nil {
		return nil, nil, nil, err
	}
	state := nodestate.New(db)
	mirror := processor.NewMirror(db)
	if err := state.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, nil, err
	}
	if err := mirror.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, nil, err
	}
	return state, mirror, func() { db.Close() }, nil
}

func newNodeServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Pull from the Hub, push local events and serve signed reads",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg()
			if err := requireRole(cfg, config.RoleNode); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			state, mirror, closeState, err := openNodeState(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeState()

			client := &http.Client{Timeout: cfg.HTTP.ClientTimeout()}
			dispatcher := push.NewDispatcher(ctx, push.NewSender(client, cfg.SiteURL, state), push.Options{
				Workers:     cfg.Node.PushWorkers,
				QueueDepth:  cfg.Node.PushQueueDepth,
				MaxAttempts: cfg.Node.PushMaxAttempts,
				RetryDelay:  cfg.Node.PushRetryDelay(),
			})
			defer dispatcher.Shutdown()

			reg := processor.NewRegistry(processor.Deps{Mirror: mirror, Peers: state})
			proc := processor.New(processor.RoleNode, reg)

			puller := pull.NewPuller(client, cfg.SiteURL, state, state, reg, proc)
			puller.SetInterval(cfg.Node.PullInterval())
			verifier := rpc.NewVerifier(cfg.RPC.MaxAge())
			a.loader.OnChange(func(c *config.Config) {
				puller.SetInterval(c.Node.PullInterval())
				verifier.SetMaxAge(c.RPC.MaxAge())
				slog.Info("node settings reloaded", "pull_interval", c.Node.PullInterval(), "rpc_max_age", c.RPC.MaxAge())
			})
			defer watchConfig(a.loader)()
			go puller.Run(ctx)

			handler := api.NewNode(api.NodeDeps{
				Links:    state,
				Verifier: verifier,
				Orders:   mirror,
				Linker:   handshake.NewLinker(client, cfg.SiteURL, state),
				Recorder: processor.NewRecorder(mirror, dispatcher),
				Catalog:  reg,
				Puller:   puller,
				Reloader: a.loader,
				Ready: func(ctx context.Context) error {
					_, err := state.HubLink(ctx)
					return err
				},
				MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
				AdminToken:   cfg.AdminToken,
			})

			if link, err := state.HubLink(ctx); err == nil {
				slog.Info("node ready", "site", cfg.SiteURL, "hub", link.HubURL, "pull_interval", puller.Interval())
			} else {
				slog.Warn("node is not linked to a hub yet; run `pubnet node link`", "site", cfg.SiteURL)
			}
			return serve(ctx, cfg.ListenAddr, handler)
		},
	}
}

func newNodeLinkCmd(a *app) *cobra.Command {
	var hubURL, nonce string
	cmd := &cobra.Command{
		Use:   "link",
		Short: "Redeem a handshake nonce at the Hub and store the shared secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg()
			if err := requireRole(cfg, config.RoleNode); err != nil {
				return err
			}
			state, _, closeState, err := openNodeState(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeState()

			linker := handshake.NewLinker(&http.Client{Timeout: cfg.HTTP.ClientTimeout()}, cfg.SiteURL, state)
			if err := linker.Link(cmd.Context(), hubURL, nonce); err != nil {
				return err
			}
			fmt.Printf("linked %s to hub %s\n", cfg.SiteURL, hubURL)
			return nil
		},
	}
	cmd.Flags().StringVar(&hubURL, "hub", "", "Hub base URL")
	cmd.Flags().StringVar(&nonce, "nonce", "", "Nonce printed by `pubnet hub issue-nonce`")
	_ = cmd.MarkFlagRequired("hub")
	_ = cmd.MarkFlagRequired("nonce")
	return cmd
}

func newNodeDrainCmd(a *app) *cobra.Command {
	var server string
	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Pull until the Hub has nothing left for this Node",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newAdminClient(a, server)
			if err != nil {
				return err
			}
			var out struct {
				Applied int `json:"applied"`
			}
			if err := c.do(cmd.Context(), http.MethodPost, "/v1/drain", nil, &out); err != nil {
				return err
			}
			fmt.Printf("%d events applied\n", out.Applied)
			return nil
		},
	}
	addAdminFlags(cmd, &server)
	return cmd
}

func newNodeEmitCmd(a *app) *cobra.Command {
	var server string
	cmd := &cobra.Command{
		Use:   "emit <action> <json>",
		Short: "Record a local change and push it to the Hub",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !json.Valid([]byte(args[1])) {
				return fmt.Errorf("payload is not valid JSON")
			}
			c, err := newAdminClient(a, server)
			if err != nil {
				return err
			}
			body := map[string]any{"action": args[0], "data": json.RawMessage(args[1])}
			if err := c.do(cmd.Context(), http.MethodPost, "/v1/emit", body, nil); err != nil {
				return err
			}
			fmt.Printf("%s queued\n", args[0])
			return nil
		},
	}
	addAdminFlags(cmd, &server)
	return cmd
}
