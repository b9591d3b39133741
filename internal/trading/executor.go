package trading

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/nicholasRutherford/play-money/internal/amm"
	"github.com/nicholasRutherford/play-money/internal/ledger"
	"github.com/nicholasRutherford/play-money/internal/model"
	"github.com/nicholasRutherford/play-money/internal/store"
)

// poolBalances reconstructs the AMM pool's share inventory per option from
// the ledger, in option declaration order. The cached balances on the
// market row are for display; pricing always derives from entries.
func (e *Engine) poolBalances(ctx context.Context, tx store.Querier, m *model.Market) ([]decimal.Decimal, error) {
	balances := make([]decimal.Decimal, len(m.Options))
	for i, o := range m.Options {
		b, err := tx.Balance(ctx, m.AMMAccountID, model.AssetMarketOption, o.ID)
		if err != nil {
			return nil, err
		}
		balances[i] = b
	}
	return balances, nil
}

// ExecuteTrade prices a trade against the pool and materializes it as
// ledger entries without committing anything. Commitment is the caller's
// job, so pricing can be retried on contention with no partial state.
//
// A buy becomes four legs: the spend moves from the account to the pool,
// the pool escrows it with clearing, clearing mints one share of every
// option per currency unit into the pool, and the pool pays out the filled
// shares. A sell runs the same circuit in reverse, redeeming complete sets
// for the proceeds.
func (e *Engine) ExecuteTrade(ctx context.Context, tx store.Querier, req TradeRequest, isBuy bool) ([]ledger.EntryParams, *amm.Quote, *model.Market, error) {
	m, err := tx.GetMarket(ctx, req.MarketID)
	if err != nil {
		return nil, nil, nil, err
	}
	if m.Status != model.MarketOpen {
		return nil, nil, nil, fmt.Errorf("%w: %s", ErrMarketClosed, m.ID)
	}
	idx, err := optionIndex(m, req.OptionID)
	if err != nil {
		return nil, nil, nil, err
	}

	amount := req.Amount.RoundDown(model.AmountScale)
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, nil, nil, amm.ErrInvalidAmount
	}

	balances, err := e.poolBalances(ctx, tx, m)
	if err != nil {
		return nil, nil, nil, err
	}

	if isBuy {
		quote, err := e.mm.BuyQuote(balances, idx, amount)
		if err != nil {
			return nil, nil, nil, err
		}
		entries := []ledger.EntryParams{
			{FromAccountID: req.AccountID, ToAccountID: m.AMMAccountID, AssetType: model.AssetCurrency, Amount: quote.Cost},
			{FromAccountID: m.AMMAccountID, ToAccountID: m.ClearingAccountID, AssetType: model.AssetCurrency, Amount: quote.Cost},
		}
		for _, o := range m.Options {
			entries = append(entries, ledger.EntryParams{
				FromAccountID: m.ClearingAccountID, ToAccountID: m.AMMAccountID,
				AssetType: model.AssetMarketOption, AssetID: o.ID, Amount: quote.SetsMinted,
			})
		}
		entries = append(entries, ledger.EntryParams{
			FromAccountID: m.AMMAccountID, ToAccountID: req.AccountID,
			AssetType: model.AssetMarketOption, AssetID: req.OptionID, Amount: quote.Shares,
		})
		return entries, quote, m, nil
	}

	held, err := tx.Balance(ctx, req.AccountID, model.AssetMarketOption, req.OptionID)
	if err != nil {
		return nil, nil, nil, err
	}
	if amount.GreaterThan(held) {
		return nil, nil, nil, fmt.Errorf("%w: selling %s with %s held", amm.ErrInsufficientShares, amount, held)
	}

	quote, err := e.mm.SellQuote(balances, idx, amount)
	if err != nil {
		return nil, nil, nil, err
	}
	entries := []ledger.EntryParams{
		{FromAccountID: req.AccountID, ToAccountID: m.AMMAccountID,
			AssetType: model.AssetMarketOption, AssetID: req.OptionID, Amount: quote.Shares},
	}
	for _, o := range m.Options {
		entries = append(entries, ledger.EntryParams{
			FromAccountID: m.AMMAccountID, ToAccountID: m.ClearingAccountID,
			AssetType: model.AssetMarketOption, AssetID: o.ID, Amount: quote.SetsMinted,
		})
	}
	entries = append(entries,
		ledger.EntryParams{FromAccountID: m.ClearingAccountID, ToAccountID: m.AMMAccountID, AssetType: model.AssetCurrency, Amount: quote.Cost},
		ledger.EntryParams{FromAccountID: m.AMMAccountID, ToAccountID: req.AccountID, AssetType: model.AssetCurrency, Amount: quote.Cost},
	)
	return entries, quote, m, nil
}
