package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/beaconauth/beacon/internal/database"
	"github.com/beaconauth/beacon/internal/email"
	"github.com/beaconauth/beacon/internal/logging"
	"github.com/beaconauth/beacon/internal/server"
	"github.com/beaconauth/beacon/internal/token"
)

const reapInterval = 10 * time.Minute

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	logger := logging.Setup(os.Getenv("BEACON_LOG_LEVEL"))

	port := envOr("BEACON_PORT", "3000")
	dbPath := envOr("BEACON_DB_PATH", "beacon.db")
	frontendURL := envOr("BEACON_FRONTEND_URL", "http://localhost:3000")
	staticDir := envOr("BEACON_STATIC_DIR", "web/static")

	secret := os.Getenv("BEACON_JWT_SECRET")
	if secret == "" {
		log.Fatal("BEACON_JWT_SECRET is required")
	}

	db, err := database.Open(dbPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	mailer := email.NewClient(email.Config{
		Host: os.Getenv("BEACON_SMTP_HOST"),
		Port: envOr("BEACON_SMTP_PORT", "587"),
		User: os.Getenv("BEACON_SMTP_USER"),
		Pass: os.Getenv("BEACON_SMTP_PASS"),
		From: os.Getenv("BEACON_SMTP_FROM"),
	})
	if !mailer.Configured() {
		logger.Warn("SMTP host not set; magic link requests will fail until configured")
	}

	srv := server.New(db, token.NewSigner(secret), mailer, frontendURL, staticDir, logger)

	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Expired tokens are unusable the moment their window passes; this loop
	// just keeps the table from growing without bound.
	go func() {
		ticker := time.NewTicker(reapInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n, err := srv.TokenStore().DeleteExpired(ctx); err != nil {
					logger.Error("reap expired tokens", "error", err)
				} else if n > 0 {
					logger.Info("reaped expired tokens", "count", n)
				}
				srv.RateLimiter().Cleanup()
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		logger.Info("beacon listening", "port", port, "frontend", frontendURL)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("shutdown error: %v", err)
	}
}
