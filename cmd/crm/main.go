package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/gauravitis/crm-sub001/cmd/crm/cli"
	"github.com/gauravitis/crm-sub001/internal/app"
	"github.com/gauravitis/crm-sub001/internal/documents"
	"github.com/gauravitis/crm-sub001/internal/fulfillment"
	"github.com/gauravitis/crm-sub001/internal/inventory"
	"github.com/gauravitis/crm-sub001/internal/observability"
	"github.com/gauravitis/crm-sub001/internal/platform/cache"
	"github.com/gauravitis/crm-sub001/internal/platform/db"
	"github.com/gauravitis/crm-sub001/internal/pricing"
	"github.com/gauravitis/crm-sub001/internal/quotations"
	"github.com/gauravitis/crm-sub001/internal/sequence"
	"github.com/gauravitis/crm-sub001/internal/shared"
	"github.com/gauravitis/crm-sub001/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	if len(os.Args) > 1 && os.Args[1] == "jobs" {
		if err := runJobsCommand(ctx, cfg, os.Args[2:]); err != nil {
			logger.Error("jobs command", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	if err := serve(ctx, stop, cfg, logger); err != nil {
		logger.Error("server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func serve(ctx context.Context, stop context.CancelFunc, cfg *app.Config, logger *slog.Logger) error {
	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer dbpool.Close()

	if err := db.EnsureSchema(ctx, dbpool); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr})
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	policy, err := fulfillment.ParseOverpaymentPolicy(cfg.OverpaymentPolicy)
	if err != nil {
		return err
	}

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)
	locker := shared.NewRedisLocker(redisClient, cfg.DocumentLockTTL)
	formatter := pricing.NewFormatter(cfg.DisplayLocale)

	numbers := sequence.NewGenerator(sequence.NewRepository(dbpool), logger)
	ledger := inventory.NewLedger(inventory.NewRepository(dbpool), auditLogger, metrics, logger)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		return fmt.Errorf("init job client: %w", err)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	manager := documents.NewManager(documents.NewRepository(dbpool), ledger, numbers, documents.Options{
		Locker:   locker,
		Audit:    auditLogger,
		Metrics:  metrics,
		Notifier: jobs.DocumentNotifier{Client: jobClient},
		Prefixes: cfg.DocumentPrefixes(),
		Logger:   logger,
	})
	quotationService := quotations.NewService(quotations.NewRepository(dbpool), numbers, policy, auditLogger, cfg.QuotationPrefix, logger)

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		InventoryHandler:  inventory.NewHandler(logger, ledger),
		DocumentsHandler:  documents.NewHandler(logger, manager, idempotencyStore, formatter),
		QuotationsHandler: quotations.NewHandler(logger, quotationService, formatter),
		PricingHandler:    pricing.NewHandler(formatter),
		JobHandler:        jobs.NewHandler(inspector, logger),
		Metrics:           metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// runJobsCommand handles `crm jobs trigger <type>`, `crm jobs stats` and
// `crm jobs scheduled`.
func runJobsCommand(ctx context.Context, cfg *app.Config, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: crm jobs trigger <type> | stats | scheduled")
	}
	jobsCLI := cli.NewJobsCLI(cfg.RedisAddr, cfg.IdempotencyRetention)
	defer jobsCLI.Close()

	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			return errors.New("usage: crm jobs trigger <type>")
		}
		info, err := jobsCLI.Trigger(ctx, args[1])
		if err != nil {
			return err
		}
		fmt.Printf("enqueued %s as %s on %s\n", info.Type, info.ID, info.Queue)
	case "stats":
		stats, err := jobsCLI.InspectQueue()
		if err != nil {
			return err
		}
		fmt.Printf("queue=%s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived)
	case "scheduled":
		tasks, err := jobsCLI.ListScheduled(20)
		if err != nil {
			return err
		}
		for _, task := range tasks {
			fmt.Printf("%s %s next=%s\n", task.ID, task.Type, task.NextProcessAt.Format(time.RFC3339))
		}
	default:
		return fmt.Errorf("unknown jobs command %q", args[0])
	}
	return nil
}
