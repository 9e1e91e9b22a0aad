package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/fx"
	"go.uber.org/zap"

	hcloudAdapter "github.com/migrahosting-alt/mpanel-sub000/internal/adapter/provisioning/hcloud"
	postgresAdmin "github.com/migrahosting-alt/mpanel-sub000/internal/adapter/provisioning/postgres"
	"github.com/migrahosting-alt/mpanel-sub000/internal/adapter/queue/redisq"
	"github.com/migrahosting-alt/mpanel-sub000/internal/adapter/repository/postgres"
	"github.com/migrahosting-alt/mpanel-sub000/internal/api"
	"github.com/migrahosting-alt/mpanel-sub000/internal/config"
	"github.com/migrahosting-alt/mpanel-sub000/internal/cryptoutils"
	"github.com/migrahosting-alt/mpanel-sub000/internal/domain/job"
	"github.com/migrahosting-alt/mpanel-sub000/internal/domain/provisioning"
	"github.com/migrahosting-alt/mpanel-sub000/internal/domain/resource"
	"github.com/migrahosting-alt/mpanel-sub000/internal/orchestrator"
	"github.com/migrahosting-alt/mpanel-sub000/internal/reconciler"
	"github.com/migrahosting-alt/mpanel-sub000/internal/usecase/provision"
	"github.com/migrahosting-alt/mpanel-sub000/internal/worker"
	"github.com/migrahosting-alt/mpanel-sub000/pkg/db"
	zaplog "github.com/migrahosting-alt/mpanel-sub000/pkg/log"
	"github.com/migrahosting-alt/mpanel-sub000/pkg/snowflake"
	"github.com/migrahosting-alt/mpanel-sub000/sql/migrations"
)

// RunServer starts the HTTP server, worker pools and the queue
// reconciler.
func RunServer() {
	app := fx.New(
		fx.Provide(
			// Config
			config.Load,
			newSecretBox,

			// Durable store and queue transport
			fx.Annotate(
				postgres.NewJobStore,
				fx.As(new(job.Repository)),
			),
			fx.Annotate(
				redisq.NewClient,
				fx.As(new(job.Queue)),
			),
			fx.Annotate(
				postgres.NewComputeRepository,
				fx.As(new(resource.ComputeRepository)),
			),

			// Backing systems
			fx.Annotate(
				newDatabaseAdmin,
				fx.As(new(provisioning.DatabaseAdmin)),
			),
			fx.Annotate(
				hcloudAdapter.NewAdapter,
				fx.As(new(provisioning.Hypervisor)),
			),

			// Orchestration
			orchestrator.NewService,
			asEnqueuer,

			// Provisioners
			provision.NewDatabaseProvisioner,
			provision.NewMailboxProvisioner,
			provision.NewDNSZoneProvisioner,
			provision.NewComputeProvisioner,
			provision.NewComputeExecutor,

			// Workers and background repair
			worker.NewDispatcher,
			newWorkerPools,
			reconciler.NewQueueReconciler,

			// API
			api.NewRouter,
		),
		db.Module,        // Database Module
		snowflake.Module, // Snowflake ID Module
		zaplog.Module,    // Logger Module
		fx.Invoke(registerHooks),
	)

	app.Run()
}

// RunMigrations executes database migrations (up or down).
func RunMigrations(command string) error {
	if command == "" {
		command = "up"
	}

	cfg := config.Load()
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	logger.Info("Starting database migration...", zap.String("command", command))

	dbURL := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBHost,
		cfg.DBPort,
		cfg.DBName,
		cfg.DBSSLMode,
	)

	d, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("load migration files: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", d, dbURL)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	switch command {
	case "up":
		if err := m.Up(); err != nil && err != migrate.ErrNoChange {
			return fmt.Errorf("migration up failed: %w", err)
		}
		logger.Info("Migration up applied")
	case "down":
		if err := m.Down(); err != nil && err != migrate.ErrNoChange {
			return fmt.Errorf("migration down failed: %w", err)
		}
		logger.Info("Migration down applied")
	default:
		return fmt.Errorf("unknown migration command: %s", command)
	}

	return nil
}

func registerHooks(lc fx.Lifecycle, router *api.Router, pools []*worker.Pool, queueReconciler *reconciler.QueueReconciler, cfg *config.Config, logger *zap.Logger) {
	var reconcilerCancel context.CancelFunc

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("Starting HTTP server", zap.String("port", cfg.Port))

			workerCtx := context.WithoutCancel(ctx)
			for _, pool := range pools {
				pool.Start(workerCtx)
			}

			reconcilerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
			reconcilerCancel = cancel
			go queueReconciler.Run(reconcilerCtx)

			go func() {
				if err := router.Run(); err != nil && err != http.ErrServerClosed {
					logger.Fatal("Server failed to start", zap.Error(err))
				}
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Shutting down gracefully...")

			if reconcilerCancel != nil {
				reconcilerCancel()
			}

			// Pools block until their in-flight jobs finish.
			for _, pool := range pools {
				pool.Stop()
			}

			shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()

			if err := router.Shutdown(shutdownCtx); err != nil {
				logger.Error("Server forced to shutdown", zap.Error(err))
				return err
			}

			logger.Info("HTTP server stopped gracefully")
			return nil
		},
	})
}

// newSecretBox builds the box that seals job results at rest. Without
// a configured key results stay plaintext.
func newSecretBox(cfg *config.Config) (*cryptoutils.SecretBox, error) {
	return cryptoutils.NewSecretBox(cfg.SecretsEncryptionKey)
}

// newDatabaseAdmin connects the tenant-database provisioner to the
// shared cluster's administrative role.
func newDatabaseAdmin(cfg *config.Config) *postgresAdmin.Adapter {
	return postgresAdmin.NewAdapter(cfg.ProvisionDSN())
}

// newWorkerPools builds one pool per job type with the configured
// concurrency.
func newWorkerPools(cfg *config.Config, store job.Repository, queue job.Queue, dispatcher *worker.Dispatcher, logger *zap.Logger) []*worker.Pool {
	pools := make([]*worker.Pool, 0, len(job.AllTypes))
	for _, jobType := range job.AllTypes {
		pools = append(pools, worker.NewPool(jobType, cfg.WorkerConcurrency, store, queue, dispatcher, logger))
	}
	return pools
}

func asEnqueuer(s *orchestrator.Service) job.Enqueuer {
	return s
}
