// Package api provides the HTTP handlers for accounts, markets, trading,
// bonuses, and leaderboards.
//
// All monetary values use shopspring/decimal — never float64 for money.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nicholasRutherford/play-money/internal/amm"
	"github.com/nicholasRutherford/play-money/internal/bonus"
	"github.com/nicholasRutherford/play-money/internal/leaderboard"
	"github.com/nicholasRutherford/play-money/internal/ledger"
	"github.com/nicholasRutherford/play-money/internal/market"
	"github.com/nicholasRutherford/play-money/internal/metrics"
	"github.com/nicholasRutherford/play-money/internal/model"
	"github.com/nicholasRutherford/play-money/internal/store"
	"github.com/nicholasRutherford/play-money/internal/trading"
)

// tradeRetries bounds re-execution after a serialization conflict. Each
// retry reprices against the then-current pool.
const tradeRetries = 3

// Service handles the HTTP surface over the trading engine.
type Service struct {
	engine *trading.Engine
	issuer *bonus.Issuer
	boards *leaderboard.Service
	wsHub  *WSHub // optional WebSocket hub for real-time broadcasts
}

// NewService creates a new API service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(engine *trading.Engine, issuer *bonus.Issuer, boards *leaderboard.Service, hub *WSHub) *Service {
	return &Service{engine: engine, issuer: issuer, boards: boards, wsHub: hub}
}

// --- Request/Response types ---

// CreateAccountRequest is the JSON body for POST /accounts.
type CreateAccountRequest struct {
	ID string `json:"id"` // optional; generated when empty
}

// CreateMarketRequest is the JSON body for POST /markets.
type CreateMarketRequest struct {
	Question  string          `json:"question"`
	Slug      string          `json:"slug"`
	CreatedBy string          `json:"created_by"`
	FunderID  string          `json:"funder_id"` // defaults to created_by
	Options   []string        `json:"options"`
	Subsidy   decimal.Decimal `json:"subsidy"`
}

// TradeBody is the JSON body for POST /trade/buy and /trade/sell.
type TradeBody struct {
	AccountID string          `json:"account_id"`
	MarketID  string          `json:"market_id"`
	OptionID  string          `json:"option_id"`
	Amount    decimal.Decimal `json:"amount"` // currency for buys, shares for sells
}

// ResolveBody is the JSON body for POST /markets/{marketID}/resolve.
type ResolveBody struct {
	WinningOptionID string `json:"winning_option_id"`
	ResolvedBy      string `json:"resolved_by"`
}

// BalanceResponse reports one account's currency balance.
type BalanceResponse struct {
	AccountID string          `json:"account_id"`
	Balance   decimal.Decimal `json:"balance"`
}

// PortfolioResponse is the account's positions with a mark-to-market total.
type PortfolioResponse struct {
	AccountID  string                       `json:"account_id"`
	Balance    decimal.Decimal              `json:"balance"`
	Positions  []model.MarketOptionPosition `json:"positions"`
	TotalValue decimal.Decimal              `json:"total_value"` // balance + position values
}

// --- HTTP Handlers ---

// CreateAccount handles POST /api/v1/accounts. Creates a USER account and
// grants its one-time signup bonus.
func (s *Service) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}

	ctx := r.Context()
	account := &model.Account{ID: id, Type: model.AccountUser, CreatedAt: time.Now().UTC()}
	err := s.engine.Store().InTx(ctx, id, func(tx store.Querier) error {
		return tx.CreateAccount(ctx, account)
	})
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	if _, err := s.issuer.SignupBonus(ctx, id); err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	metrics.BonusesTotal.WithLabelValues(string(model.TypeHouseSignupBonus)).Inc()

	slog.Info("account created", "id", id)
	writeJSON(w, http.StatusCreated, account)
}

// GetBalance handles GET /api/v1/accounts/{accountID}/balance.
func (s *Service) GetBalance(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	ctx := r.Context()

	if _, err := s.engine.Store().GetAccount(ctx, accountID); err != nil {
		writeError(w, "account not found", http.StatusNotFound)
		return
	}
	balance, err := s.engine.Store().Balance(ctx, accountID, model.AssetCurrency, "")
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{AccountID: accountID, Balance: balance})
}

// GetPortfolio handles GET /api/v1/accounts/{accountID}/portfolio.
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	ctx := r.Context()

	balance, err := s.engine.Store().Balance(ctx, accountID, model.AssetCurrency, "")
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	positions, err := s.engine.Store().PositionsByAccount(ctx, accountID)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	if positions == nil {
		positions = []model.MarketOptionPosition{}
	}

	total := balance
	for _, p := range positions {
		total = total.Add(p.Value)
	}
	writeJSON(w, http.StatusOK, PortfolioResponse{
		AccountID:  accountID,
		Balance:    balance,
		Positions:  positions,
		TotalValue: total,
	})
}

// GetPositions handles GET /api/v1/accounts/{accountID}/positions.
func (s *Service) GetPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.engine.Store().PositionsByAccount(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	if positions == nil {
		positions = []model.MarketOptionPosition{}
	}
	writeJSON(w, http.StatusOK, positions)
}

// GetAccountTransactions handles GET /api/v1/accounts/{accountID}/transactions.
func (s *Service) GetAccountTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := s.engine.Store().TransactionsByAccount(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	if txs == nil {
		txs = []model.Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

// CreateMarket handles POST /api/v1/markets.
func (s *Service) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req CreateMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.CreatedBy == "" {
		writeError(w, "created_by is required", http.StatusBadRequest)
		return
	}
	funder := req.FunderID
	if funder == "" {
		funder = req.CreatedBy
	}

	m, err := s.engine.CreateMarket(r.Context(), trading.CreateMarketRequest{
		Question:    req.Question,
		Slug:        req.Slug,
		CreatedBy:   req.CreatedBy,
		FunderID:    funder,
		OptionNames: req.Options,
		Subsidy:     req.Subsidy,
	})
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	metrics.ActiveMarkets.Inc()

	slog.Info("market created",
		"id", m.ID,
		"slug", m.Slug,
		"options", len(m.Options),
		"subsidy", req.Subsidy.String(),
	)
	writeJSON(w, http.StatusCreated, m)
}

// ListMarkets handles GET /api/v1/markets.
func (s *Service) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := s.engine.Store().ListMarkets(r.Context())
	if err != nil {
		writeError(w, "failed to list markets", http.StatusInternalServerError)
		return
	}
	if markets == nil {
		markets = []model.Market{}
	}
	writeJSON(w, http.StatusOK, markets)
}

// GetMarket handles GET /api/v1/markets/{marketID}.
func (s *Service) GetMarket(w http.ResponseWriter, r *http.Request) {
	m, err := s.engine.Store().GetMarket(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// GetProbabilities handles GET /api/v1/markets/{marketID}/probabilities.
func (s *Service) GetProbabilities(w http.ResponseWriter, r *http.Request) {
	m, err := s.engine.Store().GetMarket(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, m.Probabilities)
}

// GetMarketTransactions handles GET /api/v1/markets/{marketID}/transactions.
// Returns the ledger history to reconstruct probability movements.
func (s *Service) GetMarketTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := s.engine.Store().TransactionsByMarket(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	if txs == nil {
		txs = []model.Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

// ResolveMarket handles POST /api/v1/markets/{marketID}/resolve.
func (s *Service) ResolveMarket(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")
	var req ResolveBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.WinningOptionID == "" {
		writeError(w, "winning_option_id is required", http.StatusBadRequest)
		return
	}

	err := s.engine.Resolve(r.Context(), trading.ResolveRequest{
		MarketID:        marketID,
		WinningOptionID: req.WinningOptionID,
		InitiatorID:     req.ResolvedBy,
	})
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	metrics.ActiveMarkets.Dec()

	slog.Info("market resolved", "id", marketID, "winner", req.WinningOptionID)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:     "market_resolved",
			MarketID: marketID,
			OptionID: req.WinningOptionID,
		})
	}
	m, err := s.engine.Store().GetMarket(r.Context(), marketID)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// Buy handles POST /api/v1/trade/buy.
func (s *Service) Buy(w http.ResponseWriter, r *http.Request) {
	s.trade(w, r, "buy")
}

// Sell handles POST /api/v1/trade/sell.
func (s *Service) Sell(w http.ResponseWriter, r *http.Request) {
	s.trade(w, r, "sell")
}

func (s *Service) trade(w http.ResponseWriter, r *http.Request, side string) {
	var req TradeBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.AccountID == "" {
		writeError(w, "account_id is required", http.StatusBadRequest)
		return
	}
	if req.MarketID == "" || req.OptionID == "" {
		writeError(w, "market_id and option_id are required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	treq := trading.TradeRequest{
		InitiatorID: req.AccountID,
		AccountID:   req.AccountID,
		MarketID:    req.MarketID,
		OptionID:    req.OptionID,
		Amount:      req.Amount,
	}

	start := time.Now()
	var result *trading.TradeResult
	var err error
	for attempt := 0; attempt < tradeRetries; attempt++ {
		if side == "buy" {
			result, err = s.engine.Buy(ctx, treq)
		} else {
			result, err = s.engine.Sell(ctx, treq)
		}
		if !errors.Is(err, store.ErrConcurrentModification) {
			break
		}
		metrics.TradeRetries.Inc()
	}
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	metrics.TradesTotal.WithLabelValues(side).Inc()
	metrics.TradeLatency.WithLabelValues(side).Observe(time.Since(start).Seconds())
	metrics.MarketVolume.WithLabelValues(req.MarketID, side).Add(result.Cost.InexactFloat64())

	slog.Info("trade executed",
		"transaction_id", result.Transaction.ID,
		"account", req.AccountID,
		"market", req.MarketID,
		"option", req.OptionID,
		"side", side,
		"shares", result.Shares.String(),
		"cost", result.Cost.String(),
	)

	if s.wsHub != nil {
		probs := make(map[string]string, len(result.Probabilities))
		for id, p := range result.Probabilities {
			probs[id] = p.String()
		}
		s.wsHub.Broadcast(WSMessage{
			Type:          "trade_executed",
			MarketID:      req.MarketID,
			OptionID:      req.OptionID,
			Side:          side,
			Amount:        req.Amount.String(),
			Probabilities: probs,
		})
	}

	writeJSON(w, http.StatusOK, result)
}

// IssueDailyBonus handles POST /api/v1/accounts/{accountID}/bonuses/{bonusType}.
// bonusType is one of trade, market, comment, liquidity.
func (s *Service) IssueDailyBonus(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	bonusType := chi.URLParam(r, "bonusType")
	ctx := r.Context()

	var (
		t   *model.Transaction
		err error
	)
	switch bonusType {
	case "trade":
		t, err = s.issuer.DailyTradeBonus(ctx, accountID)
	case "market":
		t, err = s.issuer.DailyMarketBonus(ctx, accountID)
	case "comment":
		t, err = s.issuer.DailyCommentBonus(ctx, accountID)
	case "liquidity":
		t, err = s.issuer.DailyLiquidityBonus(ctx, accountID)
	default:
		writeError(w, "unknown bonus type: "+bonusType, http.StatusBadRequest)
		return
	}
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	metrics.BonusesTotal.WithLabelValues(string(t.Type)).Inc()

	slog.Info("bonus issued", "account", accountID, "type", t.Type)
	writeJSON(w, http.StatusCreated, t)
}

// GetLeaderboard handles GET /api/v1/leaderboard?month=2006-01&account=<id>.
// Defaults to the current UTC month.
func (s *Service) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	at := time.Now().UTC()
	if month := r.URL.Query().Get("month"); month != "" {
		parsed, err := time.Parse("2006-01", month)
		if err != nil {
			writeError(w, "month must be formatted YYYY-MM", http.StatusBadRequest)
			return
		}
		at = parsed
	}
	start, end := leaderboard.MonthRange(at)

	board, err := s.boards.Monthly(ctx, start, end)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	if accountID := r.URL.Query().Get("account"); accountID != "" {
		ranking, err := s.boards.RankingFor(ctx, accountID, start, end)
		if err != nil {
			writeError(w, err.Error(), statusFor(err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"board": board, "ranking": ranking})
		return
	}
	writeJSON(w, http.StatusOK, board)
}

// --- helpers ---

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, trading.ErrMarketClosed),
		errors.Is(err, bonus.ErrAlreadyIssued),
		errors.Is(err, store.ErrAlreadyExists),
		errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, amm.ErrInsufficientShares),
		errors.Is(err, store.ErrConcurrentModification):
		return http.StatusConflict
	case errors.Is(err, amm.ErrInvalidAmount),
		errors.Is(err, amm.ErrTooFewOptions),
		errors.Is(err, amm.ErrInvalidBalances),
		errors.Is(err, ledger.ErrInvalidTransaction),
		errors.Is(err, trading.ErrOptionNotInMarket),
		errors.Is(err, market.ErrInvalidQuestion),
		errors.Is(err, market.ErrInvalidSlug),
		errors.Is(err, market.ErrTooFewOptions),
		errors.Is(err, market.ErrDuplicateOption):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
