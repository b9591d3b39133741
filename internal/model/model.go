// Package model defines the core domain types shared across the trading engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// AmountScale is the number of decimal places for currency and share
// amounts. Every committed entry amount is quantized to this scale.
const AmountScale int32 = 4

// AccountType classifies holders of value.
type AccountType string

const (
	// AccountUser is a trader's primary account. User accounts may never
	// hold a negative balance in any asset.
	AccountUser AccountType = "USER"

	// AccountAMM is a market's liquidity pool. It holds the option-share
	// inventory that trades are priced against.
	AccountAMM AccountType = "AMM"

	// AccountClearing is a market's clearing counterparty. It issues
	// option shares against escrowed currency, so its option balances run
	// negative by design.
	AccountClearing AccountType = "CLEARING"

	// AccountHouse is the platform account that funds bonuses. Its
	// currency balance runs negative by design.
	AccountHouse AccountType = "HOUSE"
)

// Account is a holder of value. Accounts are created once (at user signup or
// market creation) and never deleted.
type Account struct {
	ID        string      `json:"id" db:"id"`
	Type      AccountType `json:"type" db:"type"`
	CreatedAt time.Time   `json:"created_at" db:"created_at"`
}

// AssetType identifies what a balance is denominated in.
type AssetType string

const (
	// AssetCurrency is the platform's unit of value. Entries of this type
	// carry an empty AssetID.
	AssetCurrency AssetType = "CURRENCY"

	// AssetMarketOption is an outcome share of a specific market. The
	// AssetID is the option's ID.
	AssetMarketOption AssetType = "MARKET_OPTION"
)

// TransactionType enumerates the economic events the ledger records.
type TransactionType string

const (
	TypeTradeBuy        TransactionType = "TRADE_BUY"
	TypeTradeSell       TransactionType = "TRADE_SELL"
	TypeTradeWin        TransactionType = "TRADE_WIN"
	TypeMarketLiquidity TransactionType = "MARKET_LIQUIDITY"

	TypeHouseSignupBonus     TransactionType = "HOUSE_SIGNUP_BONUS"
	TypeCreatorTraderBonus   TransactionType = "CREATOR_TRADER_BONUS"
	TypeLiquidityVolumeBonus TransactionType = "LIQUIDITY_VOLUME_BONUS"
	TypeDailyTradeBonus      TransactionType = "DAILY_TRADE_BONUS"
	TypeDailyMarketBonus     TransactionType = "DAILY_MARKET_BONUS"
	TypeDailyCommentBonus    TransactionType = "DAILY_COMMENT_BONUS"
	TypeDailyLiquidityBonus  TransactionType = "DAILY_LIQUIDITY_BONUS"
)

// mintingTypes are the transaction types allowed to debit the HOUSE account,
// creating new currency. Everything else must conserve value between
// non-issuing accounts.
var mintingTypes = map[TransactionType]bool{
	TypeHouseSignupBonus:     true,
	TypeCreatorTraderBonus:   true,
	TypeLiquidityVolumeBonus: true,
	TypeDailyTradeBonus:      true,
	TypeDailyMarketBonus:     true,
	TypeDailyCommentBonus:    true,
	TypeDailyLiquidityBonus:  true,
}

// IsMinting reports whether t is a whitelisted value-issuing type.
func (t TransactionType) IsMinting() bool {
	return mintingTypes[t]
}

// Entry is one leg of a transaction: it moves a positive amount of one asset
// from one account to another. Entries are immutable once committed.
type Entry struct {
	ID            string          `json:"id" db:"id"`
	TransactionID string          `json:"transaction_id" db:"transaction_id"`
	FromAccountID string          `json:"from_account_id" db:"from_account_id"`
	ToAccountID   string          `json:"to_account_id" db:"to_account_id"`
	AssetType     AssetType       `json:"asset_type" db:"asset_type"`
	AssetID       string          `json:"asset_id,omitempty" db:"asset_id"` // option ID for MARKET_OPTION
	Amount        decimal.Decimal `json:"amount" db:"amount"`               // always > 0
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// Transaction is an atomic, immutable economic event owning an ordered set
// of entries. Reversal is a new offsetting transaction, never a mutation.
type Transaction struct {
	ID          string          `json:"id" db:"id"`
	Type        TransactionType `json:"type" db:"type"`
	InitiatorID string          `json:"initiator_id" db:"initiator_id"` // account that triggered it
	MarketID    string          `json:"market_id,omitempty" db:"market_id"`
	OptionIDs   []string        `json:"option_ids,omitempty" db:"option_ids"`
	Entries     []Entry         `json:"entries"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// MarketOption is one tradeable outcome of a market.
type MarketOption struct {
	ID       string `json:"id" db:"id"`
	MarketID string `json:"market_id" db:"market_id"`
	Name     string `json:"name" db:"name"`
}

// MarketStatus is the lifecycle state of a market.
type MarketStatus string

const (
	MarketOpen     MarketStatus = "open"
	MarketResolved MarketStatus = "resolved"
)

// Market is a question users trade on. Each market owns one AMM pool account
// and one clearing account. PoolBalances and Probabilities are caches
// recomputed from the ledger after every trade; the ledger stays the source
// of truth.
type Market struct {
	ID                string                     `json:"id" db:"id"`
	Question          string                     `json:"question" db:"question"`
	Slug              string                     `json:"slug" db:"slug"`
	CreatedBy         string                     `json:"created_by" db:"created_by"`
	AMMAccountID      string                     `json:"amm_account_id" db:"amm_account_id"`
	ClearingAccountID string                     `json:"clearing_account_id" db:"clearing_account_id"`
	Options           []MarketOption             `json:"options"`
	PoolBalances      map[string]decimal.Decimal `json:"pool_balances"` // optionID → pool share inventory
	Probabilities     map[string]decimal.Decimal `json:"probabilities"` // optionID → implied probability
	Status            MarketStatus               `json:"status" db:"status"`
	WinningOptionID   string                     `json:"winning_option_id,omitempty" db:"winning_option_id"`
	CreatedAt         time.Time                  `json:"created_at" db:"created_at"`
	ResolvedAt        *time.Time                 `json:"resolved_at,omitempty" db:"resolved_at"`
}

// OptionIDs returns the market's option IDs in declaration order.
func (m *Market) OptionIDs() []string {
	ids := make([]string, len(m.Options))
	for i, o := range m.Options {
		ids[i] = o.ID
	}
	return ids
}

// MarketOptionPosition is a materialized per-account-per-option cache of net
// share quantity and mark-to-market value. It is recomputed from the ledger,
// never incrementally trusted.
type MarketOptionPosition struct {
	AccountID string          `json:"account_id" db:"account_id"`
	MarketID  string          `json:"market_id" db:"market_id"`
	OptionID  string          `json:"option_id" db:"option_id"`
	Quantity  decimal.Decimal `json:"quantity" db:"quantity"`
	Value     decimal.Decimal `json:"value" db:"value"` // quantity × current probability
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}
