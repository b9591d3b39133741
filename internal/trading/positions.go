package trading

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/nicholasRutherford/play-money/internal/model"
	"github.com/nicholasRutherford/play-money/internal/store"
)

// UpdateMarketPosition recomputes one account's net share quantity for an
// option from the ledger and upserts the position row. The quantity is
// never trusted incrementally; it is always the signed sum of entries.
func (e *Engine) UpdateMarketPosition(ctx context.Context, tx store.Querier, marketID, accountID, optionID string) error {
	m, err := tx.GetMarket(ctx, marketID)
	if err != nil {
		return err
	}
	if _, err := optionIndex(m, optionID); err != nil {
		return err
	}

	quantity, err := tx.Balance(ctx, accountID, model.AssetMarketOption, optionID)
	if err != nil {
		return err
	}

	return tx.UpsertPosition(ctx, &model.MarketOptionPosition{
		AccountID: accountID,
		MarketID:  marketID,
		OptionID:  optionID,
		Quantity:  quantity,
		Value:     quantity.Mul(m.Probabilities[optionID]).Round(model.AmountScale),
		UpdatedAt: e.ledger.Now(),
	})
}

// UpdateMarketBalances recomputes the AMM pool's per-option balances from
// the ledger and refreshes the cached balances and implied probabilities on
// the market. Run after every commit that changes pool inventory, so
// display reads see normalized probabilities summing to 1.
func (e *Engine) UpdateMarketBalances(ctx context.Context, tx store.Querier, marketID string) error {
	m, err := tx.GetMarket(ctx, marketID)
	if err != nil {
		return err
	}

	balances, err := e.poolBalances(ctx, tx, m)
	if err != nil {
		return err
	}
	probs, err := e.mm.Probabilities(balances)
	if err != nil {
		return err
	}

	balanceByOption := make(map[string]decimal.Decimal, len(m.Options))
	probByOption := make(map[string]decimal.Decimal, len(m.Options))
	for i, o := range m.Options {
		balanceByOption[o.ID] = balances[i]
		probByOption[o.ID] = probs[i]
	}
	return tx.UpdateMarketState(ctx, marketID, balanceByOption, probByOption)
}

// UpdateMarketPositionValues revalues every position in a market at the
// current implied probabilities (quantity × probability). Every position's
// value is relative to the whole market, so this runs after any trade moved
// the pool — not just for the trading account. Idempotent: with no
// intervening ledger change the stored values do not change.
func (e *Engine) UpdateMarketPositionValues(ctx context.Context, tx store.Querier, marketID string) error {
	m, err := tx.GetMarket(ctx, marketID)
	if err != nil {
		return err
	}
	positions, err := tx.PositionsByMarket(ctx, marketID)
	if err != nil {
		return err
	}

	for i := range positions {
		p := positions[i]
		prob, ok := m.Probabilities[p.OptionID]
		if !ok {
			return fmt.Errorf("trading: no probability for option %s", p.OptionID)
		}
		value := p.Quantity.Mul(prob).Round(model.AmountScale)
		if value.Equal(p.Value) {
			continue
		}
		p.Value = value
		p.UpdatedAt = e.ledger.Now()
		if err := tx.UpsertPosition(ctx, &p); err != nil {
			return err
		}
	}
	return nil
}

// Position returns an account's cached position for one option. A missing
// row reads as an empty position.
func (e *Engine) Position(ctx context.Context, accountID, optionID string) (*model.MarketOptionPosition, error) {
	p, err := e.store.Position(ctx, accountID, optionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &model.MarketOptionPosition{
				AccountID: accountID,
				OptionID:  optionID,
				Quantity:  decimal.Zero,
				Value:     decimal.Zero,
			}, nil
		}
		return nil, err
	}
	return p, nil
}
