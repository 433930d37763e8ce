package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/medgate/dispatcher/internal/config"
	"github.com/medgate/dispatcher/internal/domain/claims"
	"github.com/medgate/dispatcher/internal/domain/dedup"
	"github.com/medgate/dispatcher/internal/domain/events"
	"github.com/medgate/dispatcher/internal/domain/intake"
	"github.com/medgate/dispatcher/internal/domain/publication"
	"github.com/medgate/dispatcher/internal/domain/validation"
	"github.com/medgate/dispatcher/internal/platform/broker"
	"github.com/medgate/dispatcher/internal/platform/db"
	"github.com/medgate/dispatcher/internal/server"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "dispatcher",
		Short: "Clinical document gateway dispatcher",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Broker clients: a plain producer for status and retry records, a
	// transactional one for the atomic index+status pair.
	plain, err := broker.NewClient(cfg.KafkaBrokers, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create broker client")
	}
	defer plain.Close()

	tx, err := broker.NewTxClient(cfg.KafkaBrokers, cfg.KafkaTransactionalID, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create transactional broker client")
	}
	defer tx.Close()

	topics := events.Topics{
		Status:        cfg.TopicStatus,
		IndexerLow:    cfg.TopicIndexerLow,
		IndexerMedium: cfg.TopicIndexerMedium,
		IndexerHigh:   cfg.TopicIndexerHigh,
		RetryUpdate:   cfg.TopicRetryUpdate,
		RetryDelete:   cfg.TopicRetryDelete,
	}
	emitter := events.NewEmitter(plain, tx, topics, cfg.ServiceName, cfg.KafkaMaxRequestSize, logger)

	// Pipeline
	hasher := intake.NewHasher(cfg.Benchmark, logger)
	store := dedup.NewService(dedup.NewRepoPG(pool), dedup.NewBenchmarkRepoPG(pool), cfg.RetentionDays, logger)

	orchestrator := validation.NewOrchestrator(
		validation.NewHTTPClient(cfg.ValidatorURL, logger), store, hasher, cfg.TSIssuer, logger)

	mapper := publication.NewHTTPMapper(cfg.MapperURL, logger)
	publisher := publication.NewService(store,
		publication.NewHTTPRegistry(cfg.RegistryURL, logger),
		publication.NewHTTPDocStore(cfg.DocStoreURL, logger),
		publication.NewResourceBuilder(mapper, logger),
		emitter, topics, hasher, cfg.DocStoreEnabled, logger)

	handler := server.NewHandler(
		intake.NewExtractor(cfg.AttachmentName), claims.NewValidator(),
		orchestrator, publisher, emitter,
		cfg.TokenHeader, cfg.ForwardedToken, cfg.ServiceName, logger)

	e := server.New(cfg, handler, pool, plain, logger)

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Start(runCtx, e, cfg.Port, logger); err != nil {
		logger.Error().Err(err).Msg("server stopped with error")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
