// internal/router/router.go
package router

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/javajoker/tunevault-backend/internal/config"
	"github.com/javajoker/tunevault-backend/internal/handlers"
	"github.com/javajoker/tunevault-backend/internal/ledger"
	"github.com/javajoker/tunevault-backend/internal/metrics"
	"github.com/javajoker/tunevault-backend/internal/middleware"
	"github.com/javajoker/tunevault-backend/internal/repository"
	"github.com/javajoker/tunevault-backend/internal/services"
	"github.com/javajoker/tunevault-backend/internal/utils"
)

const restoreTimeout = 10 * time.Second

// Initialize builds the services on top of store and gateway and mounts the
// HTTP routes.
func Initialize(cfg *config.Config, store repository.Store, gateway ledger.Gateway) (*gin.Engine, error) {
	sealer, err := utils.NewSealer(cfg.Security.CredentialKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create credential sealer: %w", err)
	}
	storageService, err := services.NewStorageService(cfg.AWS)
	if err != nil {
		return nil, err
	}

	api := ledger.NewAPI(gateway)
	policy := services.RetryPolicy{
		Attempts: cfg.Ledger.RegistrationAttempts,
		Delay:    cfg.Ledger.RegistrationDelay,
	}

	// One sponsor per process: it owns the platform session and daily budget.
	sponsorService := services.NewSponsorService(api, store, cfg.Sponsor)
	userService := services.NewUserService(store, api, sealer)
	authService := services.NewAuthService(store, userService, cfg)
	assetService := services.NewAssetService(store, api, userService, sponsorService, policy, cfg.Sponsor.MintFeeEstimate)
	transferService := services.NewTransferService(store, api, userService, sponsorService, cfg.Sponsor.TransferFeeEstimate)

	ctx, cancel := context.WithTimeout(context.Background(), restoreTimeout)
	defer cancel()
	if err := sponsorService.Restore(ctx); err != nil {
		logrus.WithError(err).Warn("Starting with an empty sponsorship budget")
	}
	if settled, err := assetService.RecoverInterruptedRegistrations(ctx); err != nil {
		logrus.WithError(err).Warn("Failed to settle interrupted registrations")
	} else if settled > 0 {
		logrus.WithField("count", settled).Info("Settled registrations left by a previous run")
	}
	if settled, err := transferService.RecoverPendingTransfers(ctx); err != nil {
		logrus.WithError(err).Warn("Failed to settle pending transfers")
	} else if settled > 0 {
		logrus.WithField("count", settled).Info("Settled transfers left pending by a previous run")
	}

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(authService)
	assetHandler := handlers.NewAssetHandler(assetService, transferService, storageService)
	transferHandler := handlers.NewTransferHandler(transferService)
	adminHandler := handlers.NewAdminHandler(sponsorService)

	// Set JWT secret
	utils.SetJWTSecret(cfg.JWT.SecretKey)

	generalLimiter := middleware.NewRateLimiter(rate.Limit(cfg.Server.RateLimit), cfg.Server.RateBurst)
	authLimiter := middleware.NewRateLimiter(rate.Every(time.Minute/time.Duration(cfg.Server.AuthPerMinute)), cfg.Server.AuthPerMinute)
	ledgerLimiter := middleware.NewRateLimiter(rate.Every(time.Minute/time.Duration(cfg.Server.LedgerPerMinute)), cfg.Server.LedgerPerMinute)

	// Initialize Gin router
	r := gin.New()

	// Global middleware
	r.Use(gin.Recovery())
	r.Use(middleware.CORS(cfg.Server.AllowedOrigins))
	r.Use(middleware.RequestLogger())
	r.Use(metrics.Middleware())
	r.Use(generalLimiter.Middleware())

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "healthy",
			"version":     "1.0.0",
			"ledger_mode": cfg.Ledger.Mode,
		})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	// API v1 routes
	v1 := r.Group("/v1")
	{
		// Authentication routes
		auth := v1.Group("/auth")
		auth.Use(authLimiter.Middleware())
		{
			auth.POST("/register", authHandler.Register)
			auth.POST("/login", authHandler.Login)
		}

		// Asset routes
		assets := v1.Group("/assets")
		assets.Use(middleware.AuthRequired())
		{
			assets.POST("", ledgerLimiter.Middleware(), assetHandler.MintAsset)
			assets.GET("/mine", assetHandler.GetMyAssets)
			assets.GET("/:id", assetHandler.GetAsset)
			assets.POST("/:id/confirm", assetHandler.ConfirmAsset)
			assets.POST("/:id/retry", ledgerLimiter.Middleware(), assetHandler.RetryAsset)
			assets.GET("/:id/transfers", assetHandler.GetAssetTransfers)
		}

		// Transfer routes
		transfers := v1.Group("/transfers")
		transfers.Use(middleware.AuthRequired())
		{
			transfers.POST("", ledgerLimiter.Middleware(), transferHandler.TransferAsset)
			transfers.POST("/:id/confirm", transferHandler.ConfirmTransfer)
		}

		// Admin routes
		admin := v1.Group("/admin")
		admin.Use(middleware.AuthRequired(), middleware.AdminRequired())
		{
			admin.GET("/sponsorship", adminHandler.GetSponsorship)
		}
	}

	return r, nil
}
