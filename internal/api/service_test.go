package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/nicholasRutherford/play-money/internal/api"
	"github.com/nicholasRutherford/play-money/internal/bonus"
	"github.com/nicholasRutherford/play-money/internal/leaderboard"
	"github.com/nicholasRutherford/play-money/internal/model"
	"github.com/nicholasRutherford/play-money/internal/store"
	"github.com/nicholasRutherford/play-money/internal/trading"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// newTestEnv builds the full router over an in-memory store.
func newTestEnv(t *testing.T) (http.Handler, *store.MemoryStore) {
	t.Helper()
	ms := store.NewMemoryStore()
	if err := bonus.EnsureHouseAccount(context.Background(), ms); err != nil {
		t.Fatalf("ensure house: %v", err)
	}
	engine := trading.NewEngine(ms)
	issuer := bonus.NewIssuer(engine, bonus.DefaultAmounts())
	boards := leaderboard.NewService(ms)
	svc := api.NewService(engine, issuer, boards, nil)
	return api.Router(svc, nil), ms
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// createUser signs up an account through the API, granting it the signup
// bonus balance.
func createUser(t *testing.T, router http.Handler, id string) {
	t.Helper()
	w := doJSON(t, router, "POST", "/api/v1/accounts", api.CreateAccountRequest{ID: id})
	if w.Code != http.StatusCreated {
		t.Fatalf("create account: expected 201, got %d: %s", w.Code, w.Body.String())
	}
}

func createMarket(t *testing.T, router http.Handler, creator string) *model.Market {
	t.Helper()
	w := doJSON(t, router, "POST", "/api/v1/markets", api.CreateMarketRequest{
		Question:  "Will it rain tomorrow?",
		CreatedBy: creator,
		Options:   []string{"Yes", "No"},
		Subsidy:   d(100),
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create market: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var m model.Market
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode market: %v", err)
	}
	return &m
}

// --- Account tests ---

func TestCreateAccount_GrantsSignupBonus(t *testing.T) {
	router, _ := newTestEnv(t)
	createUser(t, router, "alice")

	w := doJSON(t, router, "GET", "/api/v1/accounts/alice/balance", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp api.BalanceResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if !resp.Balance.Equal(d(1000)) {
		t.Errorf("expected signup balance 1000, got %s", resp.Balance)
	}
}

func TestGetBalance_UnknownAccount(t *testing.T) {
	router, _ := newTestEnv(t)
	w := doJSON(t, router, "GET", "/api/v1/accounts/ghost/balance", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestCreateAccount_DuplicateID(t *testing.T) {
	router, _ := newTestEnv(t)
	createUser(t, router, "alice")

	w := doJSON(t, router, "POST", "/api/v1/accounts", api.CreateAccountRequest{ID: "alice"})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 for duplicate account, got %d: %s", w.Code, w.Body.String())
	}
}

// --- Market tests ---

func TestCreateMarket_ReturnsSeededState(t *testing.T) {
	router, _ := newTestEnv(t)
	createUser(t, router, "creator")
	m := createMarket(t, router, "creator")

	if m.Slug != "will-it-rain-tomorrow" {
		t.Errorf("unexpected slug %q", m.Slug)
	}
	for _, o := range m.Options {
		if !m.Probabilities[o.ID].Equal(d(0.5)) {
			t.Errorf("expected probability 0.5, got %s", m.Probabilities[o.ID])
		}
	}
}

func TestCreateMarket_BadBody(t *testing.T) {
	router, _ := newTestEnv(t)
	createUser(t, router, "creator")
	w := doJSON(t, router, "POST", "/api/v1/markets", api.CreateMarketRequest{
		Question:  "Will it rain?",
		CreatedBy: "creator",
		Options:   []string{"Yes"},
		Subsidy:   d(100),
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

// --- Trade tests ---

func TestTradeBuy_ReturnsFillAndProbabilities(t *testing.T) {
	router, _ := newTestEnv(t)
	createUser(t, router, "creator")
	createUser(t, router, "alice")
	m := createMarket(t, router, "creator")
	yes := m.Options[0].ID

	w := doJSON(t, router, "POST", "/api/v1/trade/buy", api.TradeBody{
		AccountID: "alice", MarketID: m.ID, OptionID: yes, Amount: d(50),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var result trading.TradeResult
	json.Unmarshal(w.Body.Bytes(), &result)

	if !result.Shares.IsPositive() {
		t.Errorf("expected positive shares, got %s", result.Shares)
	}
	if !result.Cost.Equal(d(50)) {
		t.Errorf("expected cost 50, got %s", result.Cost)
	}
	if !result.Probabilities[yes].GreaterThan(d(0.5)) {
		t.Errorf("expected probability above 0.5, got %s", result.Probabilities[yes])
	}
}

func TestTradeBuy_InsufficientFunds(t *testing.T) {
	router, _ := newTestEnv(t)
	createUser(t, router, "creator")
	createUser(t, router, "alice")
	m := createMarket(t, router, "creator")

	w := doJSON(t, router, "POST", "/api/v1/trade/buy", api.TradeBody{
		AccountID: "alice", MarketID: m.ID, OptionID: m.Options[0].ID, Amount: d(5000),
	})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestTradeSell_MoreThanHeld(t *testing.T) {
	router, _ := newTestEnv(t)
	createUser(t, router, "creator")
	createUser(t, router, "alice")
	m := createMarket(t, router, "creator")

	w := doJSON(t, router, "POST", "/api/v1/trade/sell", api.TradeBody{
		AccountID: "alice", MarketID: m.ID, OptionID: m.Options[0].ID, Amount: d(10),
	})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestTrade_Throttled(t *testing.T) {
	ms := store.NewMemoryStore()
	if err := bonus.EnsureHouseAccount(context.Background(), ms); err != nil {
		t.Fatalf("ensure house: %v", err)
	}
	engine := trading.NewEngine(ms)
	svc := api.NewService(engine, bonus.NewIssuer(engine, bonus.DefaultAmounts()), leaderboard.NewService(ms), nil)
	// Zero-rate limiter rejects everything.
	router := api.Router(svc, rate.NewLimiter(0, 0))

	w := doJSON(t, router, "POST", "/api/v1/trade/buy", api.TradeBody{
		AccountID: "alice", MarketID: "m", OptionID: "o", Amount: d(1),
	})
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", w.Code)
	}
}

// --- Resolution tests ---

func TestResolveMarket_EndToEnd(t *testing.T) {
	router, _ := newTestEnv(t)
	createUser(t, router, "creator")
	createUser(t, router, "alice")
	m := createMarket(t, router, "creator")
	yes := m.Options[0].ID

	if w := doJSON(t, router, "POST", "/api/v1/trade/buy", api.TradeBody{
		AccountID: "alice", MarketID: m.ID, OptionID: yes, Amount: d(50),
	}); w.Code != http.StatusOK {
		t.Fatalf("buy: expected 200, got %d", w.Code)
	}

	w := doJSON(t, router, "POST", "/api/v1/markets/"+m.ID+"/resolve", api.ResolveBody{
		WinningOptionID: yes, ResolvedBy: "creator",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("resolve: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resolved model.Market
	json.Unmarshal(w.Body.Bytes(), &resolved)
	if resolved.Status != model.MarketResolved {
		t.Errorf("expected resolved status, got %s", resolved.Status)
	}

	// Re-resolving conflicts.
	w = doJSON(t, router, "POST", "/api/v1/markets/"+m.ID+"/resolve", api.ResolveBody{
		WinningOptionID: yes, ResolvedBy: "creator",
	})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", w.Code)
	}
}

// --- Bonus tests ---

func TestIssueDailyBonus_OncePerDay(t *testing.T) {
	router, _ := newTestEnv(t)
	createUser(t, router, "alice")

	w := doJSON(t, router, "POST", "/api/v1/accounts/alice/bonuses/trade", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	w = doJSON(t, router, "POST", "/api/v1/accounts/alice/bonuses/trade", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 on repeat, got %d", w.Code)
	}
	w = doJSON(t, router, "POST", "/api/v1/accounts/alice/bonuses/unknown", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown type, got %d", w.Code)
	}
}

// --- Leaderboard tests ---

func TestGetLeaderboard(t *testing.T) {
	router, _ := newTestEnv(t)
	createUser(t, router, "creator")
	createUser(t, router, "alice")
	m := createMarket(t, router, "creator")

	if w := doJSON(t, router, "POST", "/api/v1/trade/buy", api.TradeBody{
		AccountID: "alice", MarketID: m.ID, OptionID: m.Options[0].ID, Amount: d(50),
	}); w.Code != http.StatusOK {
		t.Fatalf("buy: expected 200, got %d", w.Code)
	}

	w := doJSON(t, router, "GET", "/api/v1/leaderboard", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var board leaderboard.Board
	if err := json.Unmarshal(w.Body.Bytes(), &board); err != nil {
		t.Fatalf("decode board: %v", err)
	}
	if len(board.TopTraders) == 0 {
		t.Error("expected at least one ranked trader")
	}

	w = doJSON(t, router, "GET", "/api/v1/leaderboard?month=bogus", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad month, got %d", w.Code)
	}
}
