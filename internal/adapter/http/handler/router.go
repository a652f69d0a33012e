package handler

import (
	"dex-trade-core/internal/adapter/http/middleware"
	"dex-trade-core/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	WalletSvc      ports.WalletService
	QuoteSvc       ports.QuoteService
	TradeSvc       ports.TradeService
	LedgerSvc      ports.LedgerService
	AssetSvc       ports.AssetService // nil = balance and token routes disabled
	TokenSvc       ports.TokenService
	RateLimiter    ports.RateLimiter // nil = rate limiting disabled
	HealthCheckers []ports.HealthChecker
	AuditSvc       ports.AuditService // nil = audit logging disabled
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Global middleware
	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20))

	if deps.AuditSvc != nil {
		r.Use(middleware.AuditLog(deps.AuditSvc))
	}

	r.GET("/health", HealthCheck(deps.HealthCheckers...))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	rules := middleware.DefaultRateLimitRules()
	rl := func(group string) gin.HandlerFunc {
		if deps.RateLimiter == nil {
			return func(c *gin.Context) { c.Next() }
		}
		rule, ok := rules[group]
		if !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimiter, group, rule, deps.Logger)
	}

	// Every API route acts on behalf of the authenticated front-end user.
	v1 := r.Group("/api/v1", middleware.JWTAuth(deps.TokenSvc, deps.Logger))

	walletHandler := NewWalletHandler(deps.WalletSvc, deps.LedgerSvc)
	wallets := v1.Group("/wallets")
	{
		wallets.POST("", rl("wallets_write"), walletHandler.Create)
		wallets.POST("/import", rl("wallets_write"), walletHandler.Import)
		wallets.GET("", rl("read"), walletHandler.List)
		wallets.GET("/:id", rl("read"), walletHandler.Get)
		wallets.POST("/:id/rotate-key", rl("wallets_write"), walletHandler.RotateKey)
		wallets.GET("/:id/orders", rl("read"), walletHandler.ListOrders)
	}

	if deps.AssetSvc != nil {
		assetHandler := NewAssetHandler(deps.AssetSvc)
		wallets.GET("/:id/balance", rl("read"), assetHandler.Balance)
		v1.GET("/tokens/:address", rl("read"), assetHandler.TokenInfo)
	}

	quoteHandler := NewQuoteHandler(deps.QuoteSvc)
	v1.POST("/quotes", rl("quotes"), quoteHandler.GetQuote)

	tradeHandler := NewTradeHandler(deps.TradeSvc)
	v1.POST("/trades", rl("trades"), tradeHandler.Execute)

	orderHandler := NewOrderHandler(deps.LedgerSvc)
	v1.GET("/orders/:id", rl("read"), orderHandler.GetOrder)

	return r
}
