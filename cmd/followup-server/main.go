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

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/pawsitive/followup/internal/config"
	"github.com/pawsitive/followup/internal/domain/caserecord"
	"github.com/pawsitive/followup/internal/domain/clinic"
	"github.com/pawsitive/followup/internal/domain/dispatch"
	"github.com/pawsitive/followup/internal/domain/schedconfig"
	"github.com/pawsitive/followup/internal/domain/scheduler"
	"github.com/pawsitive/followup/internal/platform/auth"
	"github.com/pawsitive/followup/internal/platform/db"
	"github.com/pawsitive/followup/internal/platform/middleware"
	"github.com/pawsitive/followup/internal/platform/provider"
	"github.com/pawsitive/followup/internal/platform/queue"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "followup-server",
		Short: "Post-visit follow-up scheduling and dispatch service",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(runCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the follow-up API server",
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

// runCmd triggers a scheduler batch from the command line, mainly for
// operations and cron jobs outside the server process.
func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one scheduler batch",
		RunE: func(cmd *cobra.Command, args []string) error {
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			force, _ := cmd.Flags().GetBool("force")
			clinicArg, _ := cmd.Flags().GetString("clinic")

			logger := newLogger()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx := context.Background()
			app, err := buildApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer app.Close()

			opts := scheduler.RunOptions{DryRun: dryRun, Force: force}
			if clinicArg != "" {
				clinicID, err := uuid.Parse(clinicArg)
				if err != nil {
					return fmt.Errorf("invalid clinic id %q", clinicArg)
				}
				opts.ClinicIDs = []uuid.UUID{clinicID}
			}

			run, err := app.schedulerSvc.RunForAllClinics(ctx, opts)
			if err != nil {
				return err
			}
			out, _ := json.MarshalIndent(run, "", "  ")
			fmt.Println(string(out))
			return nil
		},
	}
	cmd.Flags().Bool("dry-run", false, "Evaluate without scheduling anything")
	cmd.Flags().Bool("force", false, "Process named clinics even when disabled")
	cmd.Flags().String("clinic", "", "Restrict the run to one clinic id")
	return cmd
}

func newLogger() zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger
}

// app bundles the wired services so serve and run share construction.
type app struct {
	pool         *pgxpool.Pool
	gateway      queue.Gateway
	rabbit       *queue.RabbitGateway
	schedulerSvc *scheduler.Service
	configSvc    *schedconfig.Service
	executor     *dispatch.Executor
	tracker      *dispatch.Tracker
}

func (a *app) Close() {
	if a.rabbit != nil {
		a.rabbit.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

func buildApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	logger.Info().Msg("connected to database")

	a := &app{pool: pool}

	if cfg.AMQPURL != "" {
		rabbit, err := queue.NewRabbitGateway(cfg.AMQPURL, logger)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to connect to message broker: %w", err)
		}
		a.rabbit = rabbit
		a.gateway = rabbit
		logger.Info().Msg("connected to message broker")
	} else {
		logger.Warn().Msg("AMQP_URL not set; using in-process dispatch queue")
		a.gateway = queue.NewMemoryGateway()
	}

	clinicRepo := clinic.NewRepoPG(pool)
	caseRepo := caserecord.NewRepoPG(pool)
	contacts := caserecord.NewContactSourcePG(pool)
	cfgRepo := schedconfig.NewRepoPG(pool)
	itemRepo := dispatch.NewRepoPG(pool)
	schedRepo := scheduler.NewRepoPG(pool)

	registry := provider.NewRegistry(provider.StaticCredentials{Creds: provider.Credentials{
		BaseURL: cfg.ProviderBaseURL,
		APIKey:  cfg.ProviderAPIKey,
	}}, time.Duration(cfg.ProviderTimeout)*time.Second)

	policy := dispatch.Policy{BaseMinutes: cfg.RetryBaseMinutes, MaxRetries: cfg.MaxRetries}
	txRunner := func(ctx context.Context, fn func(ctx context.Context) error) error {
		return db.WithTx(ctx, pool, fn)
	}

	a.configSvc = schedconfig.NewService(cfgRepo)
	a.schedulerSvc = scheduler.NewService(schedRepo, cfgRepo, clinicRepo, caseRepo, contacts,
		itemRepo, a.gateway, txRunner, logger)
	a.executor = dispatch.NewExecutor(itemRepo, caseRepo, contacts, clinicRepo, registry,
		a.gateway, a.schedulerSvc, policy, logger)
	a.tracker = dispatch.NewTracker(itemRepo, a.schedulerSvc, a.gateway, policy, logger)
	return a, nil
}

func runServer() error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := buildApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize services")
	}
	defer app.Close()

	// The broker consumer feeds due messages to the executor.
	if app.rabbit != nil {
		err := app.rabbit.StartConsumer(ctx, func(ctx context.Context, channel string, itemID uuid.UUID) error {
			_, err := app.executor.Execute(ctx, channel, itemID)
			return err
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to start dispatch consumer")
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Signature"},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": "0.1.0"})
	})
	e.GET("/health/db", db.HealthHandler(app.pool))

	// Operator routes carry JWT auth; webhook routes carry HMAC signature
	// verification instead, since the callers are machines.
	apiV1 := e.Group("/api/v1")
	if cfg.IsDev() {
		apiV1.Use(auth.DevAuthMiddleware())
	} else {
		apiV1.Use(auth.JWTMiddleware(cfg.JWTSecret))
	}

	hooks := e.Group("/webhooks")
	hooks.Use(auth.VerifySignature(cfg.WebhookSecret))

	schedconfig.NewHandler(app.configSvc).RegisterRoutes(apiV1)
	scheduler.NewHandler(app.schedulerSvc).RegisterRoutes(apiV1)
	dispatch.NewHandler(app.executor, app.tracker).RegisterRoutes(hooks)

	// Daily batch trigger.
	c := cron.New()
	if _, err := c.AddFunc(cfg.RunCron, func() {
		run, err := app.schedulerSvc.RunForAllClinics(ctx, scheduler.RunOptions{})
		if err != nil {
			logger.Error().Err(err).Msg("scheduled batch run failed")
			return
		}
		logger.Info().Str("run_id", run.ID.String()).Str("status", run.Status).
			Msg("scheduled batch run finished")
	}); err != nil {
		logger.Fatal().Err(err).Str("cron", cfg.RunCron).Msg("invalid RUN_CRON expression")
	}
	c.Start()
	defer c.Stop()

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("server listening")
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("forced shutdown")
	}
	return nil
}
