package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/gyaneshwarpardhi/pubnet/internal/config"
)

// app is what every subcommand gets after the config is loaded.
type app struct {
	loader *config.Loader
	level  *slog.LevelVar
}

func (a *app) cfg() *config.Config { return a.loader.Config() }

func newRootCmd() *cobra.Command {
	var cfgPath string
	a := &app{level: new(slog.LevelVar)}

	root := &cobra.Command{
		Use:          "pubnet",
		Short:        "Hub and Node of a publishing event network",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: a.level}))
			slog.SetDefault(logger)

			loader, err := config.NewLoader(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			a.loader = loader
			a.level.Set(parseLevel(loader.Config().LogLevel))
			loader.OnChange(func(c *config.Config) { a.level.Set(parseLevel(c.LogLevel)) })
			return nil
		},
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "configs/pubnet.yaml", "Path to the YAML config")

	root.AddCommand(newHubCmd(a), newNodeCmd(a))
	return root
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// requireRole fails fast when a serve command runs against the wrong config.
func requireRole(cfg *config.Config, role string) error {
	if cfg.Role != role {
		return fmt.Errorf("config role is %q, this command needs %q", cfg.Role, role)
	}
	return nil
}

// watchConfig starts hot reload; a missing watcher only disables it.
func watchConfig(l *config.Loader) func() {
	stop, err := l.Watch()
	if err != nil {
		slog.Warn("config watcher unavailable (hot-reload disabled)", "err", err)
		return func() {}
	}
	return stop
}

// serve runs handler on addr until ctx is cancelled, then shuts down gracefully.
func serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	slog.Info("shutting down…")
	shutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// localURL turns a listen address like ":8080" into a base URL for the
// operator commands.
func localURL(listen string) string {
	if strings.HasPrefix(listen, ":") {
		return "http://127.0.0.1" + listen
	}
	if strings.HasPrefix(listen, "0.0.0.0:") {
		return "http://127.0.0.1" + strings.TrimPrefix(listen, "0.0.0.0")
	}
	return "http://" + listen
}
