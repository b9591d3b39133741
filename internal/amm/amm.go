// Package amm implements a constant-product automated market maker over a
// market's per-option share inventory.
//
// The pool holds a balance of outcome shares for every option. Trades keep
// the product of the balances invariant:
//
//	Π b_i = k
//
// A buy deposits currency, which mints complete share sets into the pool
// (one share of every option per unit of currency), then withdraws shares of
// the target option until the product is restored. A sell deposits shares
// and redeems complete sets for currency the same way. The implied
// probability of an option is inversely proportional to its pool balance:
//
//	p_i = (1/b_i) / Σ_j (1/b_j)
//
// so probabilities always sum to 1 and buying an option raises its price.
//
// All amounts use shopspring/decimal — never float64 for money. Rounding is
// always toward the house: shares and currency paid out to the trader are
// rounded down, so a rounding artifact can never profit the trader.
package amm

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/nicholasRutherford/play-money/internal/model"
)

var (
	// ErrInvalidAmount is returned for a zero or negative trade amount, or
	// an amount too small to produce a positive fill at AmountScale.
	ErrInvalidAmount = errors.New("amm: trade amount must be positive")

	// ErrInsufficientShares is returned when a trade would require the
	// pool's inventory of some option to fall below the minimum.
	ErrInsufficientShares = errors.New("amm: pool inventory cannot cover trade")

	// ErrTooFewOptions is returned when the pool has fewer than two
	// options. This is a construction-time failure, not a trade-time one.
	ErrTooFewOptions = errors.New("amm: market must have at least two options")

	// ErrInvalidBalances is returned when a pool balance is not positive.
	ErrInvalidBalances = errors.New("amm: pool balances must be positive")
)

// ProbabilityScale is the number of decimal places for implied probabilities.
var ProbabilityScale int32 = 8

// MinPoolBalance is the smallest inventory the pool may hold of any option.
// Prevents degenerate markets where one outcome appears certain.
var MinPoolBalance = decimal.New(1, -model.AmountScale) // one unit at AmountScale

// Quote is the result of pricing a trade against current pool balances.
// Nothing is committed; the caller materializes it as ledger entries.
type Quote struct {
	// Shares is the number of option shares the trader receives (buy) or
	// surrenders (sell).
	Shares decimal.Decimal

	// Cost is the currency the trader pays (buy) or receives (sell).
	Cost decimal.Decimal

	// SetsMinted is the number of complete share sets minted into the pool
	// (buy) or redeemed out of it (sell).
	SetsMinted decimal.Decimal

	// NewBalances is the pool inventory per option after the trade, in the
	// same order as the input balances.
	NewBalances []decimal.Decimal
}

// MarketMaker prices trades against pool balances. It is stateless — pool
// balances are passed as arguments, not stored.
type MarketMaker struct{}

// New creates a constant-product market maker.
func New() *MarketMaker {
	return &MarketMaker{}
}

func validateBalances(balances []decimal.Decimal) error {
	if len(balances) < 2 {
		return ErrTooFewOptions
	}
	for _, b := range balances {
		if b.LessThanOrEqual(decimal.Zero) {
			return ErrInvalidBalances
		}
	}
	return nil
}

// product returns Π balances.
func product(balances []decimal.Decimal) decimal.Decimal {
	p := decimal.NewFromInt(1)
	for _, b := range balances {
		p = p.Mul(b)
	}
	return p
}

// Probabilities derives the implied probability of each option from pool
// balances. The result sums to exactly 1: every option is rounded to
// ProbabilityScale and the residual lands on the last option.
func (m *MarketMaker) Probabilities(balances []decimal.Decimal) ([]decimal.Decimal, error) {
	if err := validateBalances(balances); err != nil {
		return nil, err
	}

	one := decimal.NewFromInt(1)
	inverses := make([]decimal.Decimal, len(balances))
	sum := decimal.Zero
	for i, b := range balances {
		inverses[i] = one.Div(b)
		sum = sum.Add(inverses[i])
	}

	probs := make([]decimal.Decimal, len(balances))
	total := decimal.Zero
	for i := range balances {
		if i == len(balances)-1 {
			probs[i] = one.Sub(total)
			break
		}
		probs[i] = inverses[i].Div(sum).Round(ProbabilityScale)
		total = total.Add(probs[i])
	}
	return probs, nil
}

// BuyQuote prices a buy of `spend` currency on the option at index i.
//
// The spend mints `spend` complete sets into the pool; the trader then
// withdraws δ shares of option i such that the product invariant holds:
//
//	δ = b_i + spend − k / Π_{j≠i}(b_j + spend)
//
// δ is rounded down to AmountScale; the remainder stays in the pool.
func (m *MarketMaker) BuyQuote(balances []decimal.Decimal, i int, spend decimal.Decimal) (*Quote, error) {
	if err := validateBalances(balances); err != nil {
		return nil, err
	}
	if i < 0 || i >= len(balances) {
		return nil, ErrInvalidBalances
	}
	if spend.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}

	k := product(balances)
	denom := decimal.NewFromInt(1)
	for j, b := range balances {
		if j != i {
			denom = denom.Mul(b.Add(spend))
		}
	}

	newTarget := k.Div(denom)
	// Truncate, not RoundDown: it always rescales, so exact fills do not
	// keep the division's full-precision exponent.
	shares := balances[i].Add(spend).Sub(newTarget).Truncate(model.AmountScale)
	if shares.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}

	newBalances := make([]decimal.Decimal, len(balances))
	for j, b := range balances {
		if j == i {
			newBalances[j] = b.Add(spend).Sub(shares)
		} else {
			newBalances[j] = b.Add(spend)
		}
	}
	if newBalances[i].LessThan(MinPoolBalance) {
		return nil, ErrInsufficientShares
	}

	return &Quote{
		Shares:      shares,
		Cost:        spend,
		SetsMinted:  spend,
		NewBalances: newBalances,
	}, nil
}

// SellQuote prices a sell of `shares` of the option at index i.
//
// The shares are deposited into the pool, then c complete sets are redeemed
// for c currency such that the product invariant holds:
//
//	(b_i + shares − c) · Π_{j≠i}(b_j − c) = k
//
// The left side is strictly decreasing in c, so c is found by bisection on
// [0, min_{j≠i} b_j) and rounded down to AmountScale.
func (m *MarketMaker) SellQuote(balances []decimal.Decimal, i int, shares decimal.Decimal) (*Quote, error) {
	if err := validateBalances(balances); err != nil {
		return nil, err
	}
	if i < 0 || i >= len(balances) {
		return nil, ErrInvalidBalances
	}
	if shares.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}

	k := product(balances)

	// Upper bound: redeeming a set consumes one share of every other
	// option, so proceeds are capped by the thinnest other inventory.
	var hi decimal.Decimal
	first := true
	for j, b := range balances {
		if j == i {
			continue
		}
		if first || b.LessThan(hi) {
			hi = b
			first = false
		}
	}

	productAfter := func(c decimal.Decimal) decimal.Decimal {
		p := balances[i].Add(shares).Sub(c)
		for j, b := range balances {
			if j != i {
				p = p.Mul(b.Sub(c))
			}
		}
		return p
	}

	// Bisect to well below AmountScale; midpoints are rounded to cap
	// decimal digit growth across iterations.
	lo := decimal.Zero
	half := decimal.NewFromFloat(0.5)
	for iter := 0; iter < 64; iter++ {
		mid := lo.Add(hi).Mul(half).Round(model.AmountScale + 8)
		if mid.Equal(lo) || mid.Equal(hi) {
			break
		}
		if productAfter(mid).GreaterThan(k) {
			lo = mid
		} else {
			hi = mid
		}
	}

	proceeds := lo.Truncate(model.AmountScale)
	if proceeds.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}

	newBalances := make([]decimal.Decimal, len(balances))
	for j, b := range balances {
		if j == i {
			newBalances[j] = b.Add(shares).Sub(proceeds)
		} else {
			newBalances[j] = b.Sub(proceeds)
		}
	}
	for _, b := range newBalances {
		if b.LessThan(MinPoolBalance) {
			return nil, ErrInsufficientShares
		}
	}

	return &Quote{
		Shares:      shares,
		Cost:        proceeds,
		SetsMinted:  proceeds,
		NewBalances: newBalances,
	}, nil
}
