// Package bonus issues platform rewards: the one-time signup grant, the
// once-per-day engagement bonuses, and the market-creator incentives. All
// issuance mints currency from the HOUSE account, the only account the
// ledger lets go negative in currency.
package bonus

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nicholasRutherford/play-money/internal/ledger"
	"github.com/nicholasRutherford/play-money/internal/model"
	"github.com/nicholasRutherford/play-money/internal/store"
	"github.com/nicholasRutherford/play-money/internal/trading"
)

// ErrAlreadyIssued is returned when the bonus was already granted for the
// applicable window (ever for signup, the current UTC day for dailies).
var ErrAlreadyIssued = errors.New("bonus: already issued")

// HouseAccountID is the well-known ID of the platform's minting account.
const HouseAccountID = "house"

// Amounts configures the grant sizes.
type Amounts struct {
	Signup          decimal.Decimal
	DailyTrade      decimal.Decimal
	DailyMarket     decimal.Decimal
	DailyComment    decimal.Decimal
	DailyLiquidity  decimal.Decimal
	UniqueTrader    decimal.Decimal // creator bonus per unique trader
	LiquidityVolume decimal.Decimal // fraction of traded volume, e.g. 0.01
}

// DefaultAmounts returns the platform's standard grant sizes.
func DefaultAmounts() Amounts {
	return Amounts{
		Signup:          decimal.NewFromInt(1000),
		DailyTrade:      decimal.NewFromInt(100),
		DailyMarket:     decimal.NewFromInt(100),
		DailyComment:    decimal.NewFromInt(100),
		DailyLiquidity:  decimal.NewFromInt(50),
		UniqueTrader:    decimal.NewFromInt(5),
		LiquidityVolume: decimal.NewFromFloat(0.01),
	}
}

// Issuer grants bonuses through the trading engine so every grant is one
// atomic ledger transaction serialized per recipient.
type Issuer struct {
	engine  *trading.Engine
	amounts Amounts

	// Now is swappable in tests to pin the UTC day boundary.
	Now func() time.Time
}

// NewIssuer creates an issuer over the engine.
func NewIssuer(engine *trading.Engine, amounts Amounts) *Issuer {
	return &Issuer{engine: engine, amounts: amounts, Now: time.Now}
}

// EnsureHouseAccount creates the HOUSE account if it does not exist yet.
// Called once at startup; concurrent-safe via the per-key unit of work.
func EnsureHouseAccount(ctx context.Context, st store.Store) error {
	return st.InTx(ctx, HouseAccountID, func(tx store.Querier) error {
		_, err := tx.GetAccount(ctx, HouseAccountID)
		if err == nil {
			return nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		return tx.CreateAccount(ctx, &model.Account{
			ID:        HouseAccountID,
			Type:      model.AccountHouse,
			CreatedAt: time.Now().UTC(),
		})
	})
}

// SignupBonus grants the one-time signup balance to a new account. A second
// call for the same account fails with ErrAlreadyIssued; the check and the
// grant share one unit of work keyed on the account, so concurrent calls
// cannot double-issue.
func (is *Issuer) SignupBonus(ctx context.Context, accountID string) (*model.Transaction, error) {
	return is.issue(ctx, model.TypeHouseSignupBonus, accountID, is.amounts.Signup, nil)
}

// DailyTradeBonus grants the daily trading reward, at most once per UTC day.
func (is *Issuer) DailyTradeBonus(ctx context.Context, accountID string) (*model.Transaction, error) {
	return is.daily(ctx, model.TypeDailyTradeBonus, accountID, is.amounts.DailyTrade)
}

// DailyMarketBonus grants the daily market-creation reward.
func (is *Issuer) DailyMarketBonus(ctx context.Context, accountID string) (*model.Transaction, error) {
	return is.daily(ctx, model.TypeDailyMarketBonus, accountID, is.amounts.DailyMarket)
}

// DailyCommentBonus grants the daily comment reward.
func (is *Issuer) DailyCommentBonus(ctx context.Context, accountID string) (*model.Transaction, error) {
	return is.daily(ctx, model.TypeDailyCommentBonus, accountID, is.amounts.DailyComment)
}

// DailyLiquidityBonus grants the daily liquidity-provision reward.
func (is *Issuer) DailyLiquidityBonus(ctx context.Context, accountID string) (*model.Transaction, error) {
	return is.daily(ctx, model.TypeDailyLiquidityBonus, accountID, is.amounts.DailyLiquidity)
}

// CreatorTraderBonus rewards a market's creator for attracting one new
// unique trader. Issued per trader, so callers invoke it when a first trade
// by that account lands.
func (is *Issuer) CreatorTraderBonus(ctx context.Context, creatorAccountID, marketID string) (*model.Transaction, error) {
	return is.mint(ctx, model.TypeCreatorTraderBonus, creatorAccountID, marketID, is.amounts.UniqueTrader)
}

// LiquidityVolumeBonus rewards a liquidity provider with a fraction of the
// traded volume their subsidy supported.
func (is *Issuer) LiquidityVolumeBonus(ctx context.Context, accountID, marketID string, volume decimal.Decimal) (*model.Transaction, error) {
	amount := volume.Mul(is.amounts.LiquidityVolume).RoundDown(model.AmountScale)
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, nil
	}
	return is.mint(ctx, model.TypeLiquidityVolumeBonus, accountID, marketID, amount)
}

func (is *Issuer) daily(ctx context.Context, t model.TransactionType, accountID string, amount decimal.Decimal) (*model.Transaction, error) {
	midnight := is.Now().UTC().Truncate(24 * time.Hour)
	return is.issue(ctx, t, accountID, amount, &midnight)
}

// issue grants amount to accountID unless a transaction of type t by the
// same account already exists at or after since (since nil means ever).
func (is *Issuer) issue(ctx context.Context, t model.TransactionType, accountID string, amount decimal.Decimal, since *time.Time) (*model.Transaction, error) {
	return is.engine.ExecuteTransaction(ctx, trading.TransactionRequest{
		Type:        t,
		InitiatorID: accountID,
		Entries: []ledger.EntryParams{
			{FromAccountID: HouseAccountID, ToAccountID: accountID, AssetType: model.AssetCurrency, Amount: amount},
		},
		Precondition: func(tx store.Querier) error {
			n, err := tx.CountTransactions(ctx, t, accountID, since)
			if err != nil {
				return err
			}
			if n > 0 {
				return ErrAlreadyIssued
			}
			return nil
		},
	})
}

func (is *Issuer) mint(ctx context.Context, t model.TransactionType, accountID, marketID string, amount decimal.Decimal) (*model.Transaction, error) {
	return is.engine.ExecuteTransaction(ctx, trading.TransactionRequest{
		Type:        t,
		InitiatorID: accountID,
		MarketID:    marketID,
		Entries: []ledger.EntryParams{
			{FromAccountID: HouseAccountID, ToAccountID: accountID, AssetType: model.AssetCurrency, Amount: amount},
		},
	})
}
