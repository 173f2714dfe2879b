package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/merakihealth/hospital-scheduling/internal/config"
	"github.com/merakihealth/hospital-scheduling/internal/db"
	"github.com/merakihealth/hospital-scheduling/internal/logging"
	"github.com/merakihealth/hospital-scheduling/internal/notify"
	redisclient "github.com/merakihealth/hospital-scheduling/internal/redis"
	"github.com/merakihealth/hospital-scheduling/internal/scheduling"
)

// The outbox worker drains notification_outbox: every intent the engine
// records is handed to the notifier at least once, independent of the
// request that produced it.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer logger.Sync()

	logger.Info("outbox-worker starting up",
		zap.String("env", cfg.Env),
		zap.Duration("interval", cfg.WorkerInterval))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		logger.Fatal("redis connection error", zap.Error(err))
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn("error closing redis", zap.Error(err))
		}
	}()

	repo := scheduling.NewPgRepository(pgPool)
	locker := redisclient.NewRedisScheduleLocker(rdb, cfg.LockTTL, cfg.LockWait)
	svc := scheduling.NewService(repo, locker, cfg, logger)
	notifier := notify.NewLogNotifier(logger)

	runOnce(rootCtx, svc, notifier, cfg.OutboxBatch, logger)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info("shutdown signal received, stopping outbox worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, notifier, cfg.OutboxBatch, logger)
		}
	}
}

func runOnce(ctx context.Context, svc *scheduling.Service, notifier scheduling.Notifier, batch int, logger *zap.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	sent, err := svc.DispatchNotifications(runCtx, notifier, batch)
	if err != nil {
		logger.Error("dispatch run error", zap.Error(err))
		return
	}
	logger.Info("dispatch run complete",
		zap.Int("sent", sent),
		zap.Duration("took", time.Since(start)))
}
