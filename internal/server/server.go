package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sonicsphere/sonicsphere-api/internal/chain"
	"github.com/sonicsphere/sonicsphere-api/internal/config"
	"github.com/sonicsphere/sonicsphere-api/internal/engine"
	"github.com/sonicsphere/sonicsphere-api/internal/handlers"
	"github.com/sonicsphere/sonicsphere-api/internal/logger"
	"github.com/sonicsphere/sonicsphere-api/internal/middleware"
	"github.com/sonicsphere/sonicsphere-api/internal/registry"
	"github.com/sonicsphere/sonicsphere-api/internal/store"
)

// Server owns the HTTP router and the resources behind it.
type Server struct {
	router  *gin.Engine
	cfg     *config.Config
	chain   *chain.Client
	storage store.Store
	closers []func()
}

// New wires the whole engine: chain client, trader, stores, engine
// components, handlers, and routes.
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	chainClient, err := chain.NewClient(chain.ClientConfig{
		RPCURL:            cfg.RPCURL,
		ChainID:           cfg.ChainID,
		ManagerAddress:    cfg.ManagerAddress,
		SpenderPrivateKey: cfg.SpenderPrivateKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create chain client: %w", err)
	}

	trader, err := chain.NewTrader(chainClient, cfg.TradeRouterAddress)
	if err != nil {
		chainClient.Close()
		return nil, fmt.Errorf("failed to create trader: %w", err)
	}

	srv := &Server{cfg: cfg, chain: chainClient}
	srv.closers = append(srv.closers, chainClient.Close)

	if cfg.DatabaseURL != "" {
		pg, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			srv.Close()
			return nil, fmt.Errorf("failed to create postgres store: %w", err)
		}
		srv.storage = pg
		srv.closers = append(srv.closers, pg.Close)
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory store")
		srv.storage = store.NewMemoryStore()
	}

	var registrySvc engine.RegistryService
	if cfg.RegistryRPCURL != "" {
		registrySvc = registry.NewClient(cfg.RegistryRPCURL, chainClient.ChainID())
	}

	settings := engine.NewSettingsManager(srv.storage)
	perms := engine.NewPermissionStore(srv.storage, registrySvc, cfg.SpenderAddress, engine.DefaultFetchThrottle, nil)
	verifier := engine.NewVerifier(perms, chainClient, settings, engine.DefaultVerifyThrottle, nil)
	accountant := engine.NewAccountant(chainClient)
	recovery := engine.NewRecoveryAgent(chainClient)
	executor := engine.NewExecutor(chainClient, trader, accountant, recovery)
	sessions := engine.NewSessionTracker(nil)
	gate := engine.NewGate(engine.DefaultGateConfig(), sessions, settings, verifier, perms, executor, nil)

	services := handlers.NewServices(handlers.ServicesConfig{
		Gate:     gate,
		Executor: executor,
		Recovery: recovery,
		Settings: settings,
		Perms:    perms,
		Verifier: verifier,
		Chain:    chainClient,
	})

	srv.router = buildRouter(cfg, services)
	return srv, nil
}

func buildRouter(cfg *config.Config, services *handlers.Services) *gin.Engine {
	if cfg.Stage == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationIDMiddleware())

	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, middleware.CorrelationIDHeader, "X-User-Address")
	router.Use(cors.New(corsConfig))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Playback signals arrive on every position tick, so they get a
	// generous limiter; the spend-side endpoints a strict one.
	signalLimiter := middleware.NewRateLimiter(50, 100)
	spendLimiter := middleware.NewRateLimiter(5, 10)

	v1 := router.Group("/api/v1")
	{
		playback := v1.Group("/playback", signalLimiter.Middleware())
		{
			playback.POST("/signal", services.PlaybackSignal)
		}

		spendLimits := v1.Group("/spend-limits", spendLimiter.Middleware())
		{
			spendLimits.POST("/approve", services.ApproveSpendPermission)
			spendLimits.POST("/invest", services.Invest)
			spendLimits.POST("/recover", services.Recover)
			spendLimits.POST("/revoke", services.RevokeSpendPermission)
			spendLimits.GET("/status/:address", services.SpendPermissionStatus)
		}

		settings := v1.Group("/settings", spendLimiter.Middleware())
		{
			settings.GET("/:address", services.GetSettings)
			settings.PUT("/:address", services.UpdateSettings)
			settings.PUT("/:address/excluded-coins/:coin", services.ExcludeCoin)
			settings.DELETE("/:address/excluded-coins/:coin", services.IncludeCoin)
		}
	}

	return router
}

// Run serves HTTP until the context is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("API server listening", zap.String("port", s.cfg.Port), zap.String("stage", s.cfg.Stage))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// Router exposes the underlying handler, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Close releases the server's resources in reverse construction order.
func (s *Server) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}
