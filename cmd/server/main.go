package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/nicholasRutherford/play-money/internal/api"
	"github.com/nicholasRutherford/play-money/internal/bonus"
	"github.com/nicholasRutherford/play-money/internal/config"
	"github.com/nicholasRutherford/play-money/internal/leaderboard"
	"github.com/nicholasRutherford/play-money/internal/store"
	"github.com/nicholasRutherford/play-money/internal/trading"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := config.Load()

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// The HOUSE account funds every bonus; create it before serving.
	if err := bonus.EnsureHouseAccount(context.Background(), st); err != nil {
		slog.Error("house account bootstrap failed", "err", err)
		os.Exit(1)
	}

	// --- Engine and services ---
	engine := trading.NewEngine(st)
	issuer := bonus.NewIssuer(engine, bonus.DefaultAmounts())
	boards := leaderboard.NewService(st)

	// --- WebSocket hub ---
	wsHub := api.NewWSHub()
	go wsHub.Run()

	svc := api.NewService(engine, issuer, boards, wsHub)
	tradeLimiter := rate.NewLimiter(rate.Limit(cfg.TradeRate), cfg.TradeBurst)

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.Router(svc, tradeLimiter),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("play-money listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down play-money...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("play-money stopped")
}
