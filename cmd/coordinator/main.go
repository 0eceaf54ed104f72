package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/septivank/thinq-energy-sync/internal/config"
	"github.com/septivank/thinq-energy-sync/internal/db"
	"github.com/septivank/thinq-energy-sync/internal/logging"
	"github.com/septivank/thinq-energy-sync/internal/mq"
	"github.com/septivank/thinq-energy-sync/internal/repository"
	"github.com/septivank/thinq-energy-sync/internal/thinq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found, using system environment variables (OK for pods/containers)")
	}

	app := fx.New(
		fx.Provide(
			config.Load,
			newLogger,
			ProvideDBPool,
			ProvideRepository,
			ProvideThinQClient,
			ProvideMQConnection,
			ProvidePublisher,
			ProvideServer,
		),
		fx.Invoke(startServer),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startCancel()
	if err := app.Start(startCtx); err != nil {
		panic(err)
	}

	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		fmt.Println("error stopping app:", err)
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.NewLogger(cfg.ServiceName + "-coordinator")
}

func startServer(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger, server *Server) {
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.CoordinatorPort),
		Handler: server.engine,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("starting coordinator server", zap.Int("port", cfg.CoordinatorPort))
			go func() {
				if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("coordinator server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("stopping coordinator server")
			return httpServer.Shutdown(ctx)
		},
	})
}

// ProvideServer creates the coordinator server
func ProvideServer(repo *repository.Repository, client *thinq.Client, publisher *mq.Publisher, logger *zap.Logger) *Server {
	return NewServer(repo, client, publisher, logger)
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

// ProvidePublisher creates the sync request publisher
func ProvidePublisher(conn *mq.Connection, cfg *config.Config, logger *zap.Logger) (*mq.Publisher, error) {
	return mq.NewPublisher(conn, cfg.RabbitMQ.Queue, logger)
}

// ProvideDBPool creates a new database pool instance
func ProvideDBPool(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*db.Pool, error) {
	return db.NewPool(lc, logger, cfg.Database.URL)
}

// ProvideMQConnection creates a new RabbitMQ connection instance
func ProvideMQConnection(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*mq.Connection, error) {
	return mq.NewConnection(lc, logger, cfg.RabbitMQ.URL)
}
