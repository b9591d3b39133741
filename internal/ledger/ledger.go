// Package ledger enforces the double-entry invariants of the transaction
// log. Every financial write in the system goes through AppendTransaction;
// nothing else creates entries.
//
// Invariants enforced on every append:
//   - every entry moves a strictly positive amount between two distinct
//     accounts, so per-asset sums across all accounts net to zero
//   - amounts are quantized to model.AmountScale
//   - no USER account balance goes negative in any asset
//   - only whitelisted minting transaction types may debit the HOUSE account
//
// Violations fail the whole append; nothing is committed.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nicholasRutherford/play-money/internal/model"
	"github.com/nicholasRutherford/play-money/internal/store"
)

var (
	// ErrInvalidTransaction is returned when entries are malformed or the
	// transaction type is not allowed to issue value.
	ErrInvalidTransaction = errors.New("ledger: invalid transaction")

	// ErrInsufficientFunds is returned when a commit would leave a USER
	// account with a negative balance.
	ErrInsufficientFunds = errors.New("ledger: insufficient balance")
)

// EntryParams is one requested leg of a transaction.
type EntryParams struct {
	FromAccountID string
	ToAccountID   string
	AssetType     model.AssetType
	AssetID       string // option ID for MARKET_OPTION, empty for CURRENCY
	Amount        decimal.Decimal
}

// TransactionParams describes a transaction to append.
type TransactionParams struct {
	Type        model.TransactionType
	InitiatorID string
	MarketID    string
	OptionIDs   []string
	Entries     []EntryParams
}

// Ledger validates and appends transactions through a transactional scope.
// It is stateless apart from the clock, which tests may override.
type Ledger struct {
	Now func() time.Time
}

// New creates a ledger with the real clock.
func New() *Ledger {
	return &Ledger{Now: func() time.Time { return time.Now().UTC() }}
}

// assetKey distinguishes balances per (account, asset).
type assetKey struct {
	accountID string
	assetType model.AssetType
	assetID   string
}

// AppendTransaction validates params and writes the transaction and its
// entries through tx. It never partially commits: validation happens before
// any write, and the surrounding unit of work makes the write atomic.
func (l *Ledger) AppendTransaction(ctx context.Context, tx store.Querier, params TransactionParams) (*model.Transaction, error) {
	if len(params.Entries) == 0 {
		return nil, fmt.Errorf("%w: no entries", ErrInvalidTransaction)
	}
	if params.InitiatorID == "" {
		return nil, fmt.Errorf("%w: missing initiator", ErrInvalidTransaction)
	}

	// Shape checks and per-(account, asset) deltas.
	deltas := make(map[assetKey]decimal.Decimal)
	for _, e := range params.Entries {
		if e.Amount.LessThanOrEqual(decimal.Zero) {
			return nil, fmt.Errorf("%w: entry amount must be positive", ErrInvalidTransaction)
		}
		// Value-based: a quote that lands exactly on the scale may still
		// carry trailing zeros from high-precision division.
		if !e.Amount.Equal(e.Amount.Truncate(model.AmountScale)) {
			return nil, fmt.Errorf("%w: entry amount exceeds scale %d", ErrInvalidTransaction, model.AmountScale)
		}
		if e.FromAccountID == "" || e.ToAccountID == "" || e.FromAccountID == e.ToAccountID {
			return nil, fmt.Errorf("%w: entry must move value between two distinct accounts", ErrInvalidTransaction)
		}
		switch e.AssetType {
		case model.AssetCurrency:
			if e.AssetID != "" {
				return nil, fmt.Errorf("%w: currency entries carry no asset id", ErrInvalidTransaction)
			}
		case model.AssetMarketOption:
			if e.AssetID == "" {
				return nil, fmt.Errorf("%w: option entries require an asset id", ErrInvalidTransaction)
			}
		default:
			return nil, fmt.Errorf("%w: unknown asset type %q", ErrInvalidTransaction, e.AssetType)
		}

		from := assetKey{e.FromAccountID, e.AssetType, e.AssetID}
		to := assetKey{e.ToAccountID, e.AssetType, e.AssetID}
		deltas[from] = deltas[from].Sub(e.Amount)
		deltas[to] = deltas[to].Add(e.Amount)
	}

	// Account checks: existence, HOUSE debit whitelist, and USER accounts
	// never going negative.
	accountTypes := make(map[string]model.AccountType)
	accountType := func(id string) (model.AccountType, error) {
		if t, ok := accountTypes[id]; ok {
			return t, nil
		}
		a, err := tx.GetAccount(ctx, id)
		if err != nil {
			return "", err
		}
		accountTypes[id] = a.Type
		return a.Type, nil
	}

	for _, e := range params.Entries {
		fromType, err := accountType(e.FromAccountID)
		if err != nil {
			return nil, err
		}
		if _, err := accountType(e.ToAccountID); err != nil {
			return nil, err
		}
		if fromType == model.AccountHouse && e.AssetType == model.AssetCurrency && !params.Type.IsMinting() {
			return nil, fmt.Errorf("%w: type %s may not issue currency from the house", ErrInvalidTransaction, params.Type)
		}
	}

	for key, delta := range deltas {
		if delta.GreaterThanOrEqual(decimal.Zero) {
			continue
		}
		t, err := accountType(key.accountID)
		if err != nil {
			return nil, err
		}
		if t != model.AccountUser {
			continue // pool, clearing and house are liquidity counterparties
		}
		balance, err := tx.Balance(ctx, key.accountID, key.assetType, key.assetID)
		if err != nil {
			return nil, err
		}
		if balance.Add(delta).IsNegative() {
			return nil, fmt.Errorf("%w: account %s %s %s", ErrInsufficientFunds,
				key.accountID, key.assetType, key.assetID)
		}
	}

	now := l.Now()
	t := &model.Transaction{
		ID:          uuid.New().String(),
		Type:        params.Type,
		InitiatorID: params.InitiatorID,
		MarketID:    params.MarketID,
		OptionIDs:   params.OptionIDs,
		CreatedAt:   now,
	}
	for _, e := range params.Entries {
		t.Entries = append(t.Entries, model.Entry{
			ID:            uuid.New().String(),
			TransactionID: t.ID,
			FromAccountID: e.FromAccountID,
			ToAccountID:   e.ToAccountID,
			AssetType:     e.AssetType,
			AssetID:       e.AssetID,
			Amount:        e.Amount,
			CreatedAt:     now,
		})
	}

	if err := tx.InsertTransaction(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// GetBalance reconstructs an account's balance for one asset from the
// entry log. assetID is empty for currency.
func (l *Ledger) GetBalance(ctx context.Context, q store.Querier, accountID string, asset model.AssetType, assetID string) (decimal.Decimal, error) {
	return q.Balance(ctx, accountID, asset, assetID)
}
