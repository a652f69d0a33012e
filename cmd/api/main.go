package main

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dex-trade-core/config"
	"dex-trade-core/internal/adapter/chain/ethereum"
	httpHandler "dex-trade-core/internal/adapter/http/handler"
	"dex-trade-core/internal/adapter/secret"
	"dex-trade-core/internal/adapter/storage/memory"
	pgStorage "dex-trade-core/internal/adapter/storage/postgres"
	redisStorage "dex-trade-core/internal/adapter/storage/redis"
	"dex-trade-core/internal/core/ports"
	"dex-trade-core/internal/service"
	"dex-trade-core/internal/vault"
	"dex-trade-core/pkg/logger"

	"github.com/rs/zerolog"
)

// stores groups the persistence adapters selected by storage.driver.
type stores struct {
	wallets       ports.WalletRepository
	orders        ports.OrderRepository
	audit         ports.AuditRepository
	notifications ports.NotificationRepository
	quotes        ports.QuoteStore
	locker        ports.WalletLocker
	idempotency   ports.IdempotencyCache
	rateLimiter   ports.RateLimiter
	health        []ports.HealthChecker
	close         func()
}

func main() {
	// Load configuration
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Str("storage", cfg.Storage.Driver).
		Int64("chain_id", cfg.Chain.ChainID).
		Msg("Starting DEX trade core")

	ctx := context.Background()

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise storage")
	}
	defer st.close()

	// Chain client
	chainID := big.NewInt(cfg.Chain.ChainID)
	chain, ethClient, err := ethereum.Dial(ctx, cfg.Chain.RPCURL, ethereum.Options{
		RequestTimeout: cfg.Chain.RequestTimeout,
		MaxGasPrice:    new(big.Int).Mul(big.NewInt(cfg.Chain.MaxGasPriceGwei), big.NewInt(1e9)),
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to chain RPC")
	}
	defer ethClient.Close()
	if err := chain.VerifyChainID(ctx, chainID); err != nil {
		log.Fatal().Err(err).Msg("Chain ID mismatch")
	}
	builder, err := ethereum.NewRouterTxBuilder(cfg.Chain.RouterAddress, cfg.Chain.ChainID, cfg.Chain.GasLimit)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid router configuration")
	}
	pools, err := ethereum.NewStaticDirectory(cfg.Chain.Pools)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid pool configuration")
	}

	// Key vault
	src, err := secret.FromConfig(cfg.Vault)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid vault configuration")
	}
	masters, err := secret.LoadMasterKeys(ctx, src, cfg.Vault)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load master keys")
	}
	kv, err := vault.New(masters, cfg.Vault.KeyVersion, st.wallets, log, vault.WithSigningTimeout(cfg.Executor.SigningTimeout))
	secret.Zero(masters)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise key vault")
	}
	defer kv.Close()

	// Core services
	sigSvc := service.NewHMACSignatureService()
	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)
	auditSvc := service.NewAuditService(st.audit, log)
	notifier := service.NewNotifierService(st.notifications, sigSvc, &http.Client{Timeout: cfg.Notifier.Timeout}, service.NotifierSettings{
		CallbackURL: cfg.Notifier.CallbackURL,
		Secret:      cfg.Notifier.Secret,
	}, log)

	walletSvc := service.NewWalletService(st.wallets, kv, cfg.Wallet.MaxPerUser, nil, log)
	ledgerSvc := service.NewLedgerService(st.orders, notifier, log)
	assetSvc := service.NewAssetService(st.wallets, chain, log)
	quoteSvc := service.NewQuoteService(pools, chain, st.quotes, service.QuoteSettings{
		TTL:                cfg.Quote.TTL,
		MaxPoolAge:         cfg.Quote.MaxPoolAge,
		SnapshotRefresh:    cfg.Quote.SnapshotRefresh,
		HighImpactBps:      cfg.Quote.HighImpactBps,
		DefaultSlippageBps: cfg.Quote.DefaultSlippageBps,
		MinSlippageBps:     cfg.Quote.MinSlippageBps,
		MaxSlippageBps:     cfg.Quote.MaxSlippageBps,
	}, log)
	tradeSvc := service.NewTradeService(st.wallets, quoteSvc, st.quotes, builder, kv, chain, ledgerSvc, st.locker, st.idempotency, service.ExecutorSettings{
		LockTimeout:        cfg.Executor.LockTimeout,
		LockTTL:            cfg.Executor.LockTTL,
		SubmitAttempts:     cfg.Executor.SubmitAttempts,
		PollInitialBackoff: cfg.Executor.PollInitialBackoff,
		PollMaxBackoff:     cfg.Executor.PollMaxBackoff,
		PollMaxAttempts:    cfg.Executor.PollMaxAttempts,
		MaxWait:            cfg.Executor.MaxWait,
		DeadlineWindow:     cfg.Chain.DeadlineWindow,
		IdempotencyTTL:     cfg.Executor.IdempotencyTTL,
	}, log)

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	if cfg.Reconciler.Enabled {
		reconciler := service.NewReconciler(ledgerSvc, chain, service.ReconcilerSettings{
			Interval:        cfg.Reconciler.Interval,
			MinAge:          cfg.Reconciler.MinAge,
			BatchSize:       cfg.Reconciler.BatchSize,
			ExpiredLookback: cfg.Reconciler.ExpiredLookback,
		}, log)
		go reconciler.Run(runCtx)
	}

	// Setup Gin router with all routes
	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		WalletSvc:      walletSvc,
		QuoteSvc:       quoteSvc,
		TradeSvc:       tradeSvc,
		LedgerSvc:      ledgerSvc,
		AssetSvc:       assetSvc,
		TokenSvc:       tokenSvc,
		RateLimiter:    st.rateLimiter,
		HealthCheckers: append(st.health, chain),
		AuditSvc:       auditSvc,
		Logger:         log,
	})

	// Trades block until confirmation, so the write timeout must cover MaxWait.
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Executor.MaxWait + time.Minute,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

func openStores(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*stores, error) {
	if cfg.Storage.Driver == "memory" {
		log.Warn().Msg("Using in-memory storage; state is lost on restart")
		return &stores{
			wallets:       memory.NewWalletRepo(),
			orders:        memory.NewOrderRepo(),
			audit:         memory.NewAuditRepo(),
			notifications: memory.NewNotificationRepo(),
			quotes:        memory.NewQuoteStore(),
			locker:        memory.NewWalletLocker(),
			idempotency:   memory.NewIdempotencyCache(),
			rateLimiter:   memory.NewRateLimitStore(),
			close:         func() {},
		}, nil
	}

	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	log.Info().Msg("PostgreSQL connected")

	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("redis: %w", err)
	}
	log.Info().Msg("Redis connected")

	return &stores{
		wallets:       pgStorage.NewWalletRepo(pool),
		orders:        pgStorage.NewOrderRepo(pool),
		audit:         pgStorage.NewAuditRepo(pool),
		notifications: pgStorage.NewNotificationRepo(pool),
		quotes:        redisStorage.NewQuoteStore(rdb),
		locker:        redisStorage.NewWalletLocker(rdb),
		idempotency:   redisStorage.NewIdempotencyCache(rdb),
		rateLimiter:   redisStorage.NewRateLimitStore(rdb),
		health:        []ports.HealthChecker{pgStorage.NewHealthCheck(pool), redisStorage.NewHealthCheck(rdb)},
		close: func() {
			_ = rdb.Close()
			pool.Close()
		},
	}, nil
}
