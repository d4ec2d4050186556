package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"hookline/internal/api"
	"hookline/internal/breaker"
	"hookline/internal/config"
	"hookline/internal/dispatch"
	"hookline/internal/models"
	"hookline/internal/schema"
	"hookline/internal/storage"
	"hookline/internal/subscription"
	"hookline/internal/transport"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "hookline",
		Short: "Hookline — event subscription and webhook delivery engine",
	}

	var configPath string
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	rootCmd.AddCommand(serveCmd(&configPath))
	rootCmd.AddCommand(migrateCmd(&configPath))
	rootCmd.AddCommand(integrationCmd(&configPath))
	rootCmd.AddCommand(statsCmd(&configPath))
	rootCmd.AddCommand(eventsCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the Hookline server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log := setupLogger(cfg.Logging)

			store, err := setupStorage(cfg.Storage, log)
			if err != nil {
				return fmt.Errorf("failed to setup storage: %w", err)
			}
			defer store.Close()

			if err := store.Migrate(context.Background()); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info().Msg("database migrations completed")

			sdl := schema.Load()
			registry := schema.NewRegistry()
			parser := subscription.NewParser(sdl)

			breakerStore, err := setupBreakerStorage(cfg.Breaker, log)
			if err != nil {
				return fmt.Errorf("failed to setup breaker storage: %w", err)
			}
			brk := breaker.New(breaker.Config{
				FailureThreshold: cfg.Breaker.FailureThreshold,
				FailureMinCount:  cfg.Breaker.FailureMinCount,
				Cooldown:         cfg.Breaker.Cooldown,
				TTL:              cfg.Breaker.TTL,
			}, breakerStore, log)

			sender := transport.NewSender(cfg.Delivery.Timeout, cfg.Platform.Domain)

			evaluator, err := dispatch.NewExprEvaluator(cfg.DeferConditions, log)
			if err != nil {
				return fmt.Errorf("failed to compile defer conditions: %w", err)
			}

			syncCaller := transport.NewBreakerGuardedCaller(
				transport.NewHTTPSyncCaller(cfg.Platform.Domain, log),
				brk,
				cfg.Breaker.GuardedEvents,
				log,
			)

			dispatcher := dispatch.New(
				store,
				registry,
				parser,
				dispatch.SubjectRenderer{},
				syncCaller,
				evaluator,
				log,
			)

			pool := transport.NewPool(cfg.Delivery, store, sender, log)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			pool.Start(ctx)

			server := api.NewServer(cfg.Server, store, dispatcher, brk, parser, registry, cfg.Sync.Timeout, log)
			go func() {
				if err := server.Start(); err != nil && err != http.ErrServerClosed {
					log.Fatal().Err(err).Msg("server error")
				}
			}()

			log.Info().
				Str("version", version).
				Int("port", cfg.Server.Port).
				Int("workers", cfg.Delivery.Workers).
				Str("storage", cfg.Storage.Driver).
				Str("breaker_storage", cfg.Breaker.Storage).
				Msg("Hookline is running")

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit

			log.Info().Msg("shutting down...")

			if err := server.Shutdown(10 * time.Second); err != nil {
				log.Error().Err(err).Msg("server shutdown error")
			}

			pool.Stop()

			log.Info().Msg("Hookline stopped")
			return nil
		},
	}
}

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log := setupLogger(cfg.Logging)

			store, err := setupStorage(cfg.Storage, log)
			if err != nil {
				return fmt.Errorf("failed to setup storage: %w", err)
			}
			defer store.Close()

			if err := store.Migrate(context.Background()); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			log.Info().Msg("migrations completed successfully")
			return nil
		},
	}
}

func integrationCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "integration",
		Short: "Manage integrations",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new integration",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			permissions, _ := cmd.Flags().GetStringSlice("permission")

			store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			now := time.Now().UTC()
			in := &models.Integration{
				ID:          models.NewID("int"),
				Name:        name,
				Permissions: permissions,
				Active:      true,
				CreatedAt:   now,
				UpdatedAt:   now,
			}

			if err := store.CreateIntegration(context.Background(), in); err != nil {
				return fmt.Errorf("failed to create integration: %w", err)
			}

			out, _ := json.MarshalIndent(in, "", "  ")
			fmt.Println(string(out))
			return nil
		},
	}
	createCmd.Flags().String("name", "", "integration name")
	createCmd.Flags().StringSlice("permission", nil, "permission granted to the integration (repeatable)")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all integrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			ins, err := store.ListIntegrations(context.Background())
			if err != nil {
				return fmt.Errorf("failed to list integrations: %w", err)
			}

			if len(ins) == 0 {
				fmt.Println("No integrations found.")
				return nil
			}

			for _, in := range ins {
				state := "active"
				if !in.Deliverable() {
					state = "inactive"
				}
				fmt.Printf("  %s  %s  [%s]  (created %s)\n", in.ID, in.Name, state, in.CreatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}

	cmd.AddCommand(createCmd, listCmd)
	return cmd
}

func statsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show delivery stats for an integration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) < 1 {
				return fmt.Errorf("usage: hookline stats <integration_id>")
			}

			store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := store.GetStats(context.Background(), args[0])
			if err != nil {
				return fmt.Errorf("failed to get stats: %w", err)
			}

			out, _ := json.MarshalIndent(stats, "", "  ")
			fmt.Println(string(out))
			return nil
		},
	}
}

func eventsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "events",
		Short: "List known event types",
		Run: func(cmd *cobra.Command, args []string) {
			registry := schema.NewRegistry()
			for _, def := range registry.All() {
				kind := "async"
				if def.Sync {
					kind = "sync"
				}
				fmt.Printf("  %-40s %-6s %s\n", def.Name, kind, def.Permission)
			}
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Hookline v%s\n", version)
		},
	}
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func setupStorage(cfg config.StorageConfig, log zerolog.Logger) (storage.Storage, error) {
	switch cfg.Driver {
	case "sqlite":
		log.Info().Str("path", cfg.SQLite.Path).Msg("using SQLite storage")
		return storage.NewSQLite(cfg.SQLite.Path)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
}

func setupBreakerStorage(cfg config.BreakerConfig, log zerolog.Logger) (breaker.Storage, error) {
	switch cfg.Storage {
	case "", "memory":
		return breaker.NewMemoryStorage(), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		log.Info().Str("addr", cfg.Redis.Addr).Msg("using Redis breaker storage")
		return breaker.NewRedisStorage(client, log), nil
	default:
		return nil, fmt.Errorf("unsupported breaker storage: %s", cfg.Storage)
	}
}

func storeFromConfig(configPath string) (storage.Storage, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg.Logging)
	store, err := setupStorage(cfg.Storage, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to setup storage: %w", err)
	}

	if err := store.Migrate(context.Background()); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, func() { store.Close() }, nil
}
