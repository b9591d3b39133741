// Package store defines the persistence interface for the trading engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nicholasRutherford/play-money/internal/model"
)

var (
	// ErrNotFound is returned when an account, market, option, or position
	// does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrConcurrentModification is returned when the serialization
	// boundary detects a conflicting concurrent writer. Safe to retry:
	// nothing was committed.
	ErrConcurrentModification = errors.New("store: concurrent modification, retry")

	// ErrAlreadyExists is returned when creating an account or market whose
	// ID is already taken.
	ErrAlreadyExists = errors.New("store: already exists")
)

// Querier is the transactional scope object. Inside a unit of work it
// operates on uncommitted state; on a Store directly it reads committed
// state. Every financial write goes through a Querier obtained from InTx —
// never around it.
type Querier interface {
	// --- Accounts ---

	CreateAccount(ctx context.Context, a *model.Account) error
	GetAccount(ctx context.Context, id string) (*model.Account, error)

	// --- Markets ---

	CreateMarket(ctx context.Context, m *model.Market) error
	GetMarket(ctx context.Context, id string) (*model.Market, error)

	// UpdateMarketState replaces the cached per-option pool balances and
	// probabilities after a commit changed them.
	UpdateMarketState(ctx context.Context, marketID string, poolBalances, probabilities map[string]decimal.Decimal) error

	// MarkResolved closes a market with its winning option.
	MarkResolved(ctx context.Context, marketID, winningOptionID string, at time.Time) error

	// --- Immutable ledger ---

	// InsertTransaction appends a transaction and its entries. Committed
	// transactions are never modified or deleted.
	InsertTransaction(ctx context.Context, t *model.Transaction) error

	// Balance reconstructs the signed sum of all entries crediting and
	// debiting the account for one asset. assetID is empty for currency.
	Balance(ctx context.Context, accountID string, asset model.AssetType, assetID string) (decimal.Decimal, error)

	// OptionHolders returns the net share quantity per account for one
	// option asset, omitting accounts that net to zero.
	OptionHolders(ctx context.Context, optionID string) (map[string]decimal.Decimal, error)

	// CountTransactions counts committed transactions of one type by one
	// initiator, optionally restricted to those created at or after since.
	CountTransactions(ctx context.Context, t model.TransactionType, initiatorID string, since *time.Time) (int, error)

	// --- Positions ---

	UpsertPosition(ctx context.Context, p *model.MarketOptionPosition) error
	Position(ctx context.Context, accountID, optionID string) (*model.MarketOptionPosition, error)
	PositionsByMarket(ctx context.Context, marketID string) ([]model.MarketOptionPosition, error)
	PositionsByAccount(ctx context.Context, accountID string) ([]model.MarketOptionPosition, error)
}

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer on top.
type Store interface {
	Querier

	// InTx runs fn as one atomic unit of work serialized on lockKey.
	// Callers pass the market ID for trades and the account ID for
	// account-scoped operations such as bonus issuance. Either every
	// write fn performs is durably committed, or none are. Two units of
	// work with the same lockKey never interleave; different keys proceed
	// in parallel.
	InTx(ctx context.Context, lockKey string, fn func(tx Querier) error) error

	// --- Read-only accessors outside the atomicity boundary ---

	ListMarkets(ctx context.Context) ([]model.Market, error)
	TransactionsByAccount(ctx context.Context, accountID string) ([]model.Transaction, error)
	TransactionsByMarket(ctx context.Context, marketID string) ([]model.Transaction, error)

	// NetCurrencyByAccount sums signed currency entry amounts per USER
	// account over transactions of the given types in [start, end).
	// Read-only projection used by leaderboard reporting.
	NetCurrencyByAccount(ctx context.Context, types []model.TransactionType, start, end time.Time) (map[string]decimal.Decimal, error)
}
