package main

import (
	"context"

	"github.com/septivank/thinq-energy-sync/internal/config"
	"github.com/septivank/thinq-energy-sync/internal/db"
	"github.com/septivank/thinq-energy-sync/internal/lock"
	"github.com/septivank/thinq-energy-sync/internal/mq"
	"github.com/septivank/thinq-energy-sync/internal/repository"
	"github.com/septivank/thinq-energy-sync/internal/service"
	"github.com/septivank/thinq-energy-sync/internal/thinq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func startWorker(
	lc fx.Lifecycle,
	conn *mq.Connection,
	cfg *config.Config,
	logger *zap.Logger,
	syncer *service.SyncService,
) (*mq.Consumer, error) {
	// Create context for consumer that will be cancelled on shutdown
	ctx, cancel := context.WithCancel(context.Background())

	consumer, err := mq.NewConsumer(mq.ConsumerConfig{
		Connection: conn,
		Queue:      cfg.RabbitMQ.Queue,
		Logger:     logger,
		Handler:    syncer.HandleSyncRequest,
	})
	if err != nil {
		cancel()
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			logger.Info("starting sync worker consumer",
				zap.String("queue", cfg.RabbitMQ.Queue))
			return consumer.Start(ctx)
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			if err := consumer.Close(); err != nil {
				logger.Error("failed to close consumer", zap.Error(err))
				return err
			}
			logger.Info("worker stopped gracefully")
			return nil
		},
	})

	return consumer, nil
}

// ProvideRepository creates a new repository instance
func ProvideRepository(pool *db.Pool) *repository.Repository {
	return repository.NewRepository(pool)
}

// ProvideThinQClient creates the vendor API client
func ProvideThinQClient(cfg *config.Config) *thinq.Client {
	return thinq.NewClient(
		cfg.ThinQ.BaseURL,
		cfg.ThinQ.Country,
		cfg.ThinQ.APIKey,
		cfg.ThinQ.ClientID,
		cfg.ThinQ.Token,
	)
}

// ProvideDeviceLock creates the advisory-lock based device lock
func ProvideDeviceLock(pool *db.Pool, logger *zap.Logger) *lock.DeviceLock {
	return lock.NewDeviceLock(pool, logger)
}

// ProvideSyncService creates the sync orchestrator
func ProvideSyncService(
	repo *repository.Repository,
	client *thinq.Client,
	deviceLock *lock.DeviceLock,
	cfg *config.Config,
	logger *zap.Logger,
) *service.SyncService {
	return service.NewSyncService(
		repo,
		repo,
		client,
		repo,
		deviceLocker{deviceLock},
		cfg.Sync.DefaultStartDate,
		cfg.Sync.MaxSpanDays,
		logger,
	)
}

// deviceLocker adapts lock.DeviceLock to the service.DeviceLocker interface
type deviceLocker struct {
	lock *lock.DeviceLock
}

func (d deviceLocker) TryAcquire(ctx context.Context, deviceID string) (service.Unlocker, bool, error) {
	handle, acquired, err := d.lock.TryAcquire(ctx, deviceID)
	if err != nil || !acquired {
		return nil, false, err
	}
	return handle, true, nil
}

// ProvideDBPool creates a new database pool instance
func ProvideDBPool(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*db.Pool, error) {
	return db.NewPool(lc, logger, cfg.Database.URL)
}

// ProvideMQConnection creates a new RabbitMQ connection instance
func ProvideMQConnection(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*mq.Connection, error) {
	return mq.NewConnection(lc, logger, cfg.RabbitMQ.URL)
}
