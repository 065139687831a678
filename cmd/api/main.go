package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"hubview/api/internal/app"
	"hubview/api/internal/config"
	"hubview/api/internal/dm"
	"hubview/api/internal/search"
	"hubview/api/internal/session"
	"hubview/api/internal/store"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:           "hubview",
		Short:         "Document browser panel backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	root.PersistentFlags().String("addr", "", "listen address")
	root.PersistentFlags().String("document-api-url", "", "document-management service base URL")
	root.PersistentFlags().String("derivative-api-url", "", "derivative service base URL")
	root.PersistentFlags().String("user-api-url", "", "user profile service base URL")
	root.PersistentFlags().String("viewer-host-url", "", "viewer host service base URL (optional)")
	root.PersistentFlags().String("redis-url", "", "Redis URL for the session cache (optional)")
	root.PersistentFlags().String("database-url", "", "Postgres URL for load history (optional)")
	root.PersistentFlags().String("meili-url", "", "Meilisearch URL for node search (optional)")
	root.PersistentFlags().String("log-level", "", "debug, info, warn or error")

	loadConfig := func(cmd *cobra.Command) (config.Config, *slog.Logger, error) {
		cfg, err := config.Load(cfgFile, cmd.Root().PersistentFlags())
		if err != nil {
			return config.Config{}, nil, err
		}
		logger, err := newLogger(cfg.LogLevel)
		if err != nil {
			return config.Config{}, nil, err
		}
		return cfg, logger, nil
	}

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	})

	var token string
	hubs := &cobra.Command{
		Use:   "hubs",
		Short: "List the hubs visible to a token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return listHubs(cmd, cfg, token)
		},
	}
	hubs.Flags().StringVar(&token, "token", "", "bearer token of the user")
	_ = hubs.MarkFlagRequired("token")
	root.AddCommand(hubs)

	return root
}

func newLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return nil, fmt.Errorf("log_level: %w", err)
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), nil
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	backends, err := app.RemoteBackends(cfg)
	if err != nil {
		return err
	}
	opts := app.Options{
		Backends: backends,
		Checks:   map[string]app.Check{},
		Logger:   logger,
	}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer redisStore.Close()
		opts.Sessions = redisStore
		opts.Checks["redis"] = redisStore.Ping
		logger.Info("session cache: redis")
	} else {
		logger.Info("session cache: in-memory")
	}

	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		defer db.Close()
		if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
			return fmt.Errorf("migrations failed: %w", err)
		}
		opts.History = store.NewPostgresStore(db)
		opts.Checks["postgres"] = db.PingContext
		logger.Info("load history: postgres")
	} else {
		logger.Info("load history: in-memory")
	}

	var meili *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliKey, logger)
		opts.Checks["meilisearch"] = func(context.Context) error {
			if !meili.Healthy() {
				return fmt.Errorf("meilisearch unreachable")
			}
			return nil
		}
	}
	opts.Search = search.NewService(meili, logger)

	service := app.New(cfg, opts)
	return app.NewHTTPServer(service, cfg.CORSOrigin, cfg.SessionSecret).Serve(ctx, cfg.Addr)
}

// listHubs resolves the user behind token and prints one line per hub.
func listHubs(cmd *cobra.Command, cfg config.Config, token string) error {
	factory, err := app.RemoteBackends(cfg)
	if err != nil {
		return err
	}
	b := factory("cli", token)
	ctx := cmd.Context()

	user, err := b.Users.GetUser(ctx)
	if err != nil {
		return fmt.Errorf("resolve session: %w", err)
	}
	hubs, err := b.Documents.GetHubs(ctx)
	if err != nil {
		return fmt.Errorf("list hubs: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "user %s (%s)\n", user.UserName, user.UserID)
	for _, hub := range hubs {
		fmt.Fprintf(out, "%s\t%s\n", hub.ID, dm.TabTitle(hub))
	}
	return nil
}
