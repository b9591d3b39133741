// Package trading orchestrates trades, market lifecycle, and position
// maintenance on top of the ledger. It owns the system's only atomicity
// boundary: every multi-step financial operation is one ExecuteTransaction
// call inside one store unit of work.
package trading

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/nicholasRutherford/play-money/internal/amm"
	"github.com/nicholasRutherford/play-money/internal/ledger"
	"github.com/nicholasRutherford/play-money/internal/model"
	"github.com/nicholasRutherford/play-money/internal/store"
)

var (
	// ErrMarketClosed is returned for trades against a resolved market.
	ErrMarketClosed = errors.New("trading: market is not open for trading")

	// ErrOptionNotInMarket is returned when the option does not belong to
	// the market being traded.
	ErrOptionNotInMarket = errors.New("trading: option does not belong to market")
)

// Engine composes the market maker, the ledger, and the store. All writes
// flow through ExecuteTransaction.
type Engine struct {
	store  store.Store
	ledger *ledger.Ledger
	mm     *amm.MarketMaker
}

// NewEngine creates a trading engine over the given store.
func NewEngine(st store.Store) *Engine {
	return &Engine{
		store:  st,
		ledger: ledger.New(),
		mm:     amm.New(),
	}
}

// Store exposes the underlying store for read-only collaborators.
func (e *Engine) Store() store.Store { return e.store }

// Ledger exposes the ledger for balance reads.
func (e *Engine) Ledger() *ledger.Ledger { return e.ledger }

// TransactionRequest describes one atomic financial operation: ledger
// entries plus an optional follow-up step run against the same
// transactional scope.
type TransactionRequest struct {
	Type        model.TransactionType
	InitiatorID string
	MarketID    string
	OptionIDs   []string
	Entries     []ledger.EntryParams

	// Precondition runs inside the unit of work before anything is
	// appended. Returning an error aborts the transaction. Check-then-act
	// guards (for example once-per-day issuance) belong here so the check
	// and the write are serialized on the same lock key.
	Precondition func(tx store.Querier) error

	// Additional runs inside the same unit of work, after the entries are
	// appended. It receives the transactional scope, so every read sees
	// the new entries and every write commits or aborts with them.
	Additional func(tx store.Querier) error
}

// ExecuteTransaction commits the request's entries and its follow-up step as
// one indivisible operation. Serialized per market (or per initiator for
// market-less transactions such as bonuses). On error nothing is persisted.
func (e *Engine) ExecuteTransaction(ctx context.Context, req TransactionRequest) (*model.Transaction, error) {
	lockKey := req.MarketID
	if lockKey == "" {
		lockKey = req.InitiatorID
	}

	var committed *model.Transaction
	err := e.store.InTx(ctx, lockKey, func(tx store.Querier) error {
		t, err := e.appendWithFollowUp(ctx, tx, req)
		if err != nil {
			return err
		}
		committed = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return committed, nil
}

// appendWithFollowUp appends the transaction and runs the follow-up inside
// an already-open scope. Used by operations that commit several
// transactions in one unit of work, such as resolution payouts.
func (e *Engine) appendWithFollowUp(ctx context.Context, tx store.Querier, req TransactionRequest) (*model.Transaction, error) {
	if req.Precondition != nil {
		if err := req.Precondition(tx); err != nil {
			return nil, err
		}
	}
	t, err := e.ledger.AppendTransaction(ctx, tx, ledger.TransactionParams{
		Type:        req.Type,
		InitiatorID: req.InitiatorID,
		MarketID:    req.MarketID,
		OptionIDs:   req.OptionIDs,
		Entries:     req.Entries,
	})
	if err != nil {
		return nil, err
	}
	if req.Additional != nil {
		if err := req.Additional(tx); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// TradeRequest is a buy or sell against one market option.
type TradeRequest struct {
	InitiatorID string // account that triggered the trade
	AccountID   string // account funding and receiving the trade
	MarketID    string
	OptionID    string

	// Amount is currency to spend for a buy, shares to sell for a sell.
	Amount decimal.Decimal
}

// TradeResult reports the fill.
type TradeResult struct {
	Transaction   *model.Transaction         `json:"transaction"`
	Shares        decimal.Decimal            `json:"shares"` // received (buy) or sold (sell)
	Cost          decimal.Decimal            `json:"cost"`   // currency paid (buy) or received (sell)
	Probabilities map[string]decimal.Decimal `json:"probabilities"`
}

// Buy spends req.Amount currency on the option and credits the account with
// the shares the market maker mints. One atomic unit of work: pricing,
// entries, position recompute, and market state refresh commit together.
func (e *Engine) Buy(ctx context.Context, req TradeRequest) (*TradeResult, error) {
	return e.trade(ctx, req, true)
}

// Sell surrenders req.Amount shares of the option and credits the account
// with the proceeds.
func (e *Engine) Sell(ctx context.Context, req TradeRequest) (*TradeResult, error) {
	return e.trade(ctx, req, false)
}

func (e *Engine) trade(ctx context.Context, req TradeRequest, isBuy bool) (*TradeResult, error) {
	typ := model.TypeTradeSell
	if isBuy {
		typ = model.TypeTradeBuy
	}

	result := &TradeResult{}
	err := e.store.InTx(ctx, req.MarketID, func(tx store.Querier) error {
		entries, quote, m, err := e.ExecuteTrade(ctx, tx, req, isBuy)
		if err != nil {
			return err
		}

		t, err := e.appendWithFollowUp(ctx, tx, TransactionRequest{
			Type:        typ,
			InitiatorID: req.InitiatorID,
			MarketID:    req.MarketID,
			OptionIDs:   []string{req.OptionID},
			Entries:     entries,
			Additional: func(tx store.Querier) error {
				// Create or update the position before valuing it.
				if err := e.UpdateMarketPosition(ctx, tx, req.MarketID, req.AccountID, req.OptionID); err != nil {
					return err
				}
				if err := e.UpdateMarketBalances(ctx, tx, req.MarketID); err != nil {
					return err
				}
				return e.UpdateMarketPositionValues(ctx, tx, req.MarketID)
			},
		})
		if err != nil {
			return err
		}

		probs, err := e.mm.Probabilities(orderedBalances(m, quote.NewBalances))
		if err != nil {
			return err
		}
		result.Transaction = t
		result.Shares = quote.Shares
		result.Cost = quote.Cost
		result.Probabilities = make(map[string]decimal.Decimal, len(m.Options))
		for i, o := range m.Options {
			result.Probabilities[o.ID] = probs[i]
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// orderedBalances arranges a quote's new balances in option declaration
// order. The quote already stores them in that order; this guards length.
func orderedBalances(m *model.Market, balances []decimal.Decimal) []decimal.Decimal {
	if len(balances) != len(m.Options) {
		return nil
	}
	return balances
}

// optionIndex finds the option's position within the market.
func optionIndex(m *model.Market, optionID string) (int, error) {
	for i, o := range m.Options {
		if o.ID == optionID {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: option %s in market %s", ErrOptionNotInMarket, optionID, m.ID)
}
