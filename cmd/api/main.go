package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splax/memtimeline/internal/app/migrate"
	httpx "github.com/splax/memtimeline/internal/http"
	"github.com/splax/memtimeline/internal/repository/postgres"
	"github.com/splax/memtimeline/internal/service/runs"
	"github.com/splax/memtimeline/internal/ws"
	"github.com/splax/memtimeline/pkg/config"
	"github.com/splax/memtimeline/pkg/logger"
)

func main() {
	envErr := config.LoadEnv()
	cfg := config.LoadAPIConfig()
	log := logger.New("api", logger.ParseLevel(cfg.LogLevel))
	if envErr != nil {
		log.Warn("failed to load .env", "error", envErr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if cfg.AutoMigrate {
		if err := runner.Ensure(ctx); err != nil {
			log.Error("migrations failed", "error", err)
			os.Exit(1)
		}
	}

	repo := postgres.New(pool)
	runSvc := runs.NewService(repo, ws.NewHub(), log)

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter.Close()
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(httpx.Options{
		Logger:          log,
		Runs:            runSvc,
		Limiter:         limiter,
		APIToken:        cfg.APIToken,
		DBHealth:        repo.Ping,
		MaxBodyBytes:    cfg.MaxBodyBytes,
		StreamHeartbeat: cfg.StreamHeartbeat,
		RateLimit:       cfg.RateLimitRequests,
		RateWindow:      cfg.RateLimitWindow,
	})
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr, "env", cfg.Environment)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
