package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // postgres driver
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/liammdev/cartasecreta/internal/api"
	"github.com/liammdev/cartasecreta/internal/config"
	"github.com/liammdev/cartasecreta/internal/db"
	"github.com/liammdev/cartasecreta/internal/email"
	"github.com/liammdev/cartasecreta/internal/metrics"
	"github.com/liammdev/cartasecreta/internal/payment"
	"github.com/liammdev/cartasecreta/internal/recon"
	"github.com/liammdev/cartasecreta/internal/store"
	"github.com/liammdev/cartasecreta/internal/worker"
)

func main() {
	// ── Logger ────────────────────────────────────────────────────────────────
	// JSON in production, pretty text in development.
	var logger *slog.Logger
	if os.Getenv("ENV") == "production" {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	} else {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
	}
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	// ── Config ────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger.Info("config loaded", "env", cfg.Env, "port", cfg.Port)

	// ── Database ──────────────────────────────────────────────────────────────
	pool, queries, err := openDB(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer pool.Close()
	logger.Info("database connected")

	// ── Store (conditional-update writes) ─────────────────────────────────────
	st := store.New(pool, queries)

	// ── Metrics ───────────────────────────────────────────────────────────────
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := metrics.Register(registry); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// ── Email fallback chain ──────────────────────────────────────────────────
	// Fixed order: cheapest/highest-quota first. Unconfigured providers stay
	// in the chain and fail fast with a not-configured error, which the
	// chain logs at debug and skips.
	chain := email.NewChain(logger,
		email.NewResendSender(cfg.ResendAPIKey),
		email.NewBrevoSender(cfg.BrevoAPIKey),
		email.NewGmailSender(cfg.GmailUser, cfg.GmailAppPassword, "Carta Secreta"),
		email.NewMailjetSender(cfg.MailjetAPIKey, cfg.MailjetSecretKey),
	)
	mailer := email.NewLetterMailer(chain, cfg.EmailFrom, cfg.BaseURL)

	// ── Payments ──────────────────────────────────────────────────────────────
	mp := payment.NewMercadoPagoClient(cfg.MPAccessToken)
	paypal := payment.NewPayPalClient(cfg.PayPalClientID, cfg.PayPalClientSecret, cfg.PayPalMode)
	paddle := payment.NewPaddleWebhook(cfg.PaddleWebhookSecret)

	// ── Reconciliation ────────────────────────────────────────────────────────
	reconciler := recon.New(st, mailer, logger)

	// ── Dispatch sweep ────────────────────────────────────────────────────────
	sweeper := worker.NewSweeper(queries, st, mailer, int32(cfg.SweepBatchSize), logger)
	runner := worker.NewRunner(sweeper, cfg.SweepInterval, logger)

	// ── HTTP server ───────────────────────────────────────────────────────────
	handler := api.NewServer(
		queries,
		st,
		reconciler,
		runner,
		mailer,
		mp,
		paypal,
		paddle,
		promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		api.Config{
			BaseURL:    cfg.BaseURL,
			CronSecret: cfg.CronSecret,
			Env:        cfg.Env,
		},
		logger,
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // the free-immediate path may walk the whole provider chain
		IdleTimeout:  120 * time.Second,
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	// Root context cancelled by OS signal. Sweep runner and HTTP server both
	// respect it.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start the sweep runner in a background goroutine. It blocks until ctx
	// is done.
	go runner.Start(ctx)

	// Start the HTTP server in a background goroutine.
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Block until either a signal arrives or the server dies unexpectedly.
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}

	// Give in-flight HTTP requests up to 20 seconds to finish.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// openDB opens the connection pool and verifies it is reachable before the
// server starts taking traffic.
func openDB(dsn string) (*sql.DB, *db.Queries, error) {
	pool, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open: %w", err)
	}

	// Tune the connection pool.
	pool.SetMaxOpenConns(25)
	pool.SetMaxIdleConns(10)
	pool.SetConnMaxLifetime(5 * time.Minute)
	pool.SetConnMaxIdleTime(2 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := pool.PingContext(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping: %w", err)
	}

	return pool, db.New(pool), nil
}
