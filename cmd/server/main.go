package main

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
	grpclib "google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	grpcadapter "github.com/simaogato/tokenledger-backend/internal/adapter/grpc"
	"github.com/simaogato/tokenledger-backend/internal/adapter/lock/memory"
	redislock "github.com/simaogato/tokenledger-backend/internal/adapter/lock/redis"
	"github.com/simaogato/tokenledger-backend/internal/adapter/price"
	"github.com/simaogato/tokenledger-backend/internal/adapter/repository/sqlstore"
	"github.com/simaogato/tokenledger-backend/internal/adapter/source"
	"github.com/simaogato/tokenledger-backend/internal/config"
	"github.com/simaogato/tokenledger-backend/internal/domain"
	"github.com/simaogato/tokenledger-backend/internal/logger"
	"github.com/simaogato/tokenledger-backend/internal/usecase/ledger"
	"github.com/simaogato/tokenledger-backend/internal/usecase/pnl"
	"github.com/simaogato/tokenledger-backend/internal/usecase/syncer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	log := logger.Init(cfg.LogLevel)

	// 1. Setup Database
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	db, err := openWithRetry(ctx, cfg, log)
	cancel()
	if err != nil {
		log.Error("failed to connect to database", "driver", cfg.DBDriver, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// 2. Initialize Repositories
	transactionRepo := sqlstore.NewTransactionRepository(db)
	holdingRepo := sqlstore.NewHoldingRepository(db)
	realizedRepo := sqlstore.NewRealizedPnLRepository(db)
	settingsRepo := sqlstore.NewSettingsRepository(db)

	// 3. External adapters
	prices := price.NewCachedLookup(
		price.NewClient(cfg.PriceAPIURL, cfg.PriceAPIKey, cfg.PriceFallbackWindow),
		cfg.PriceCacheTTL, cfg.PriceRateLimit, cfg.PriceRateBurst, log,
	)
	sourceLimit := rate.Inf
	if cfg.SourceRateLimit > 0 {
		sourceLimit = rate.Limit(cfg.SourceRateLimit)
	}
	txSource := source.NewClient(cfg.SourceAPIURL, cfg.SourceAPIKey, rate.NewLimiter(sourceLimit, 1))

	pairLocks := memory.NewLocker()
	walletLocker, closeLocker := newWalletLocker(cfg, pairLocks, log)
	defer closeLocker()

	// 4. Initialize Services (Use Cases)
	ledgerService := ledger.NewLedgerService(transactionRepo, holdingRepo, realizedRepo, settingsRepo, pairLocks,
		ledger.WithLogger(log),
		ledger.WithDefaultMethod(cfg.DefaultCostBasisMethod),
	)
	syncService := syncer.NewSyncService(transactionRepo, txSource, prices, walletLocker, ledgerService, syncer.Config{
		FetchTimeout: cfg.FetchTimeout,
		PriceTimeout: cfg.PriceTimeout,
		Concurrency:  cfg.SyncConcurrency,
	}, log)
	pnlService := pnl.NewPnLService(transactionRepo, holdingRepo, realizedRepo, prices, ledgerService, cfg.PriceTimeout, log)

	// 5. Start gRPC Server
	grpcServer := grpclib.NewServer(
		grpclib.UnaryInterceptor(grpcadapter.AuthInterceptor([]byte(cfg.JWTSecret))),
	)
	grpcadapter.RegisterLedgerServiceServer(grpcServer, grpcadapter.NewServer(syncService, ledgerService, pnlService, log))
	reflection.Register(grpcServer)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Error("failed to listen", "addr", cfg.GRPCAddr, "error", err)
		os.Exit(1)
	}

	// Start server in a goroutine
	go func() {
		log.Info("gRPC server listening", "addr", cfg.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil {
			log.Error("failed to serve gRPC server", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	waitForShutdown(grpcServer, log)
}

// openWithRetry waits for the database to accept connections
func openWithRetry(ctx context.Context, cfg *config.Config, log *slog.Logger) (*sqlstore.DB, error) {
	for {
		db, err := sqlstore.Open(ctx, sqlstore.Dialect(cfg.DBDriver), cfg.DSN())
		if err == nil {
			return db, nil
		}
		log.Warn("database not ready, retrying", "error", err)

		select {
		case <-ctx.Done():
			return nil, err
		case <-time.After(2 * time.Second):
		}
	}
}

// newWalletLocker uses Redis when REDIS_ADDR is set so several instances share sync locks
func newWalletLocker(cfg *config.Config, local *memory.Locker, log *slog.Logger) (domain.WalletLocker, func()) {
	if cfg.RedisAddr == "" {
		log.Info("using in-process wallet locks")
		return local, func() {}
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	log.Info("using redis wallet locks", "addr", cfg.RedisAddr)
	return redislock.NewLocker(client, cfg.SyncLockTTL, log), func() {
		if err := client.Close(); err != nil {
			log.Warn("failed to close redis client", "error", err)
		}
	}
}

// waitForShutdown waits for SIGTERM or SIGINT and gracefully shuts down the server
func waitForShutdown(grpcServer *grpclib.Server, log *slog.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigChan
	log.Info("shutting down gracefully", "signal", sig.String())

	grpcServer.GracefulStop()
	log.Info("gRPC server stopped")
}
