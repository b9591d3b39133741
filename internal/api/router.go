package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/nicholasRutherford/play-money/internal/metrics"
)

// Router assembles the HTTP surface. tradeLimiter throttles the trade
// endpoints; pass nil to disable throttling.
func Router(s *Service, tradeLimiter *rate.Limiter) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"play-money"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time probability updates.
		if s.wsHub != nil {
			r.Get("/ws", s.wsHub.HandleWS)
		}

		// Accounts.
		r.Post("/accounts", s.CreateAccount)
		r.Get("/accounts/{accountID}/balance", s.GetBalance)
		r.Get("/accounts/{accountID}/positions", s.GetPositions)
		r.Get("/accounts/{accountID}/portfolio", s.GetPortfolio)
		r.Get("/accounts/{accountID}/transactions", s.GetAccountTransactions)
		r.Post("/accounts/{accountID}/bonuses/{bonusType}", s.IssueDailyBonus)

		// Market management.
		r.Get("/markets", s.ListMarkets)
		r.Post("/markets", s.CreateMarket)
		r.Get("/markets/{marketID}", s.GetMarket)
		r.Get("/markets/{marketID}/probabilities", s.GetProbabilities)
		r.Get("/markets/{marketID}/transactions", s.GetMarketTransactions)
		r.Post("/markets/{marketID}/resolve", s.ResolveMarket)

		// Trade execution, throttled.
		r.Group(func(r chi.Router) {
			if tradeLimiter != nil {
				r.Use(throttle(tradeLimiter))
			}
			r.Post("/trade/buy", s.Buy)
			r.Post("/trade/sell", s.Sell)
		})

		// Leaderboard.
		r.Get("/leaderboard", s.GetLeaderboard)
	})

	return r
}

// throttle rejects requests above the limiter's sustained rate with 429.
func throttle(l *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow() {
				writeError(w, "too many requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
