package trading

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/nicholasRutherford/play-money/internal/amm"
	"github.com/nicholasRutherford/play-money/internal/ledger"
	"github.com/nicholasRutherford/play-money/internal/market"
	"github.com/nicholasRutherford/play-money/internal/model"
	"github.com/nicholasRutherford/play-money/internal/store"
)

// CreateMarketRequest describes a new market and its seed liquidity.
type CreateMarketRequest struct {
	Question    string
	Slug        string // derived from the question when empty
	CreatedBy   string
	FunderID    string // account providing the liquidity subsidy
	OptionNames []string
	Subsidy     decimal.Decimal
}

// CreateMarket validates and persists a market, its AMM pool and clearing
// accounts, and seeds the pool with Subsidy complete share sets so every
// option starts at probability 1/n. One atomic unit of work.
func (e *Engine) CreateMarket(ctx context.Context, req CreateMarketRequest) (*model.Market, error) {
	m, accounts, err := market.New(req.Question, req.Slug, req.CreatedBy, req.OptionNames)
	if err != nil {
		return nil, err
	}

	subsidy := req.Subsidy.RoundDown(model.AmountScale)
	if subsidy.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: subsidy", amm.ErrInvalidAmount)
	}

	var created *model.Market
	err = e.store.InTx(ctx, m.ID, func(tx store.Querier) error {
		for i := range accounts {
			if err := tx.CreateAccount(ctx, &accounts[i]); err != nil {
				return err
			}
		}
		if err := tx.CreateMarket(ctx, m); err != nil {
			return err
		}

		// Seed liquidity: the subsidy buys complete share sets through
		// clearing, landing an equal inventory of every option in the pool.
		entries := []ledger.EntryParams{
			{FromAccountID: req.FunderID, ToAccountID: m.AMMAccountID, AssetType: model.AssetCurrency, Amount: subsidy},
			{FromAccountID: m.AMMAccountID, ToAccountID: m.ClearingAccountID, AssetType: model.AssetCurrency, Amount: subsidy},
		}
		for _, o := range m.Options {
			entries = append(entries, ledger.EntryParams{
				FromAccountID: m.ClearingAccountID, ToAccountID: m.AMMAccountID,
				AssetType: model.AssetMarketOption, AssetID: o.ID, Amount: subsidy,
			})
		}

		_, err := e.appendWithFollowUp(ctx, tx, TransactionRequest{
			Type:        model.TypeMarketLiquidity,
			InitiatorID: req.CreatedBy,
			MarketID:    m.ID,
			OptionIDs:   m.OptionIDs(),
			Entries:     entries,
			Additional: func(tx store.Querier) error {
				return e.UpdateMarketBalances(ctx, tx, m.ID)
			},
		})
		if err != nil {
			return err
		}

		created, err = tx.GetMarket(ctx, m.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// ResolveRequest settles a market on its winning option.
type ResolveRequest struct {
	MarketID        string
	WinningOptionID string
	InitiatorID     string
}

// Resolve pays out every holder of the winning option at one currency per
// share through the clearing account, marks the market resolved, and pins
// probabilities at 1 for the winner and 0 for the rest. Losing shares stay
// on the books, worth zero. All payouts and the state change commit as one
// unit of work; re-resolving fails with ErrMarketClosed.
func (e *Engine) Resolve(ctx context.Context, req ResolveRequest) error {
	return e.store.InTx(ctx, req.MarketID, func(tx store.Querier) error {
		m, err := tx.GetMarket(ctx, req.MarketID)
		if err != nil {
			return err
		}
		if m.Status != model.MarketOpen {
			return fmt.Errorf("%w: %s", ErrMarketClosed, m.ID)
		}
		if _, err := optionIndex(m, req.WinningOptionID); err != nil {
			return err
		}

		holders, err := tx.OptionHolders(ctx, req.WinningOptionID)
		if err != nil {
			return err
		}
		accountIDs := make([]string, 0, len(holders))
		for id := range holders {
			if id == m.ClearingAccountID || !holders[id].IsPositive() {
				continue
			}
			accountIDs = append(accountIDs, id)
		}
		sort.Strings(accountIDs)

		for _, accountID := range accountIDs {
			quantity := holders[accountID]
			_, err := e.appendWithFollowUp(ctx, tx, TransactionRequest{
				Type:        model.TypeTradeWin,
				InitiatorID: req.InitiatorID,
				MarketID:    m.ID,
				OptionIDs:   []string{req.WinningOptionID},
				Entries: []ledger.EntryParams{
					{FromAccountID: accountID, ToAccountID: m.ClearingAccountID,
						AssetType: model.AssetMarketOption, AssetID: req.WinningOptionID, Amount: quantity},
					{FromAccountID: m.ClearingAccountID, ToAccountID: accountID,
						AssetType: model.AssetCurrency, Amount: quantity},
				},
			})
			if err != nil {
				return err
			}
		}

		// Pin final probabilities; the AMM no longer prices this market.
		balances := make(map[string]decimal.Decimal, len(m.Options))
		probs := make(map[string]decimal.Decimal, len(m.Options))
		one := decimal.NewFromInt(1)
		for _, o := range m.Options {
			b, err := tx.Balance(ctx, m.AMMAccountID, model.AssetMarketOption, o.ID)
			if err != nil {
				return err
			}
			balances[o.ID] = b
			if o.ID == req.WinningOptionID {
				probs[o.ID] = one
			} else {
				probs[o.ID] = decimal.Zero
			}
		}
		if err := tx.UpdateMarketState(ctx, m.ID, balances, probs); err != nil {
			return err
		}
		if err := e.MarkPositionsSettled(ctx, tx, m.ID, accountIDs, req.WinningOptionID); err != nil {
			return err
		}
		return tx.MarkResolved(ctx, m.ID, req.WinningOptionID, e.ledger.Now())
	})
}

// MarkPositionsSettled recomputes the paid-out winning positions (now zero)
// and revalues everything else at the pinned probabilities.
func (e *Engine) MarkPositionsSettled(ctx context.Context, tx store.Querier, marketID string, accountIDs []string, winningOptionID string) error {
	for _, accountID := range accountIDs {
		if err := e.UpdateMarketPosition(ctx, tx, marketID, accountID, winningOptionID); err != nil {
			return err
		}
	}
	return e.UpdateMarketPositionValues(ctx, tx, marketID)
}
