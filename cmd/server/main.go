// cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/tunevault-backend/internal/config"
	"github.com/javajoker/tunevault-backend/internal/database"
	"github.com/javajoker/tunevault-backend/internal/ledger"
	"github.com/javajoker/tunevault-backend/internal/repository"
	"github.com/javajoker/tunevault-backend/internal/router"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	setupLogging(cfg)

	var (
		store   repository.Store
		gateway ledger.Gateway
	)

	if cfg.Ledger.Mode == "fake" {
		// Local development: everything lives in memory and vanishes on exit.
		logrus.Warn("Running against the in-memory ledger and store")
		store = repository.NewMemoryStore()

		// The platform profile must exist for sponsorship to open a session.
		var profiles []ledger.Credentials
		if cfg.Sponsor.Configured() {
			profiles = append(profiles, ledger.Credentials{
				Username: cfg.Sponsor.Username,
				Password: cfg.Sponsor.Password,
				PIN:      cfg.Sponsor.PIN,
			})
		}
		fake, err := ledger.NewFakeWithProfiles(context.Background(), profiles...)
		if err != nil {
			logrus.WithError(err).Fatal("Failed to seed the in-memory ledger")
		}
		gateway = fake
	} else {
		// Initialize database
		db, err := database.Initialize(cfg.Database)
		if err != nil {
			logrus.WithError(err).Fatal("Failed to initialize database")
		}
		defer database.Close(db)

		// Run database migrations
		if err := database.RunMigrations(db); err != nil {
			logrus.WithError(err).Fatal("Failed to run migrations")
		}

		if err := database.SeedInitialData(db, cfg.Security.AdminPassword); err != nil {
			logrus.WithError(err).Fatal("Failed to seed initial data")
		}

		store = repository.NewGormStore(db)
		gateway = ledger.NewHTTPClient(ledger.HTTPConfig{
			BaseURL:     cfg.Ledger.URL,
			APIUser:     cfg.Ledger.APIUser,
			APIPassword: cfg.Ledger.APIPassword,
			Timeout:     cfg.Ledger.Timeout,
			RateLimit:   cfg.Ledger.RateLimit,
			Burst:       cfg.Ledger.Burst,
		})
	}

	// Set Gin mode
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize router
	r, err := router.Initialize(cfg, store, gateway)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize router")
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logrus.WithFields(logrus.Fields{
			"port":        cfg.Server.Port,
			"ledger_mode": cfg.Ledger.Mode,
			"sponsorship": cfg.Sponsor.Configured(),
		}).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logrus.WithError(err).Error("Server forced to shutdown")
		return
	}

	logrus.Info("Server exited")
}

func setupLogging(cfg *config.Config) {
	if cfg.Environment == "production" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logrus.WithField("level", cfg.LogLevel).Warn("Unknown log level, using info")
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}
