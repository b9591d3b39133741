package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/nicholasRutherford/play-money/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for markets and per-account positions. Reads check Redis first then
// fall back to the primary; units of work run against the primary and
// invalidate every key they touched after commit. Cached reads are
// eventually consistent and never participate in the atomicity boundary.
type CachedStore struct {
	Store
	rdb *redis.Client
	ttl time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{Store: primary, rdb: rdb, ttl: ttl}
}

func marketKey(id string) string      { return fmt.Sprintf("market:%s", id) }
func positionsKey(acct string) string { return fmt.Sprintf("positions:%s", acct) }

// InTx runs the unit of work against the primary with a recording wrapper,
// then invalidates the cache keys the transaction touched.
func (s *CachedStore) InTx(ctx context.Context, lockKey string, fn func(tx Querier) error) error {
	rec := &recordingTx{}
	err := s.Store.InTx(ctx, lockKey, func(tx Querier) error {
		rec.Querier = tx
		return fn(rec)
	})
	if err != nil {
		return err
	}
	if len(rec.touched) > 0 {
		s.rdb.Del(ctx, rec.touched...)
	}
	return nil
}

// recordingTx passes writes through while remembering which cache keys they
// invalidate.
type recordingTx struct {
	Querier
	touched []string
}

func (t *recordingTx) touch(key string) {
	for _, k := range t.touched {
		if k == key {
			return
		}
	}
	t.touched = append(t.touched, key)
}

func (t *recordingTx) CreateMarket(ctx context.Context, m *model.Market) error {
	t.touch(marketKey(m.ID))
	return t.Querier.CreateMarket(ctx, m)
}

func (t *recordingTx) UpdateMarketState(ctx context.Context, marketID string, poolBalances, probabilities map[string]decimal.Decimal) error {
	t.touch(marketKey(marketID))
	return t.Querier.UpdateMarketState(ctx, marketID, poolBalances, probabilities)
}

func (t *recordingTx) MarkResolved(ctx context.Context, marketID, winningOptionID string, at time.Time) error {
	t.touch(marketKey(marketID))
	return t.Querier.MarkResolved(ctx, marketID, winningOptionID, at)
}

func (t *recordingTx) UpsertPosition(ctx context.Context, p *model.MarketOptionPosition) error {
	t.touch(positionsKey(p.AccountID))
	return t.Querier.UpsertPosition(ctx, p)
}

// --- Read-through reads ---

func (s *CachedStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	data, err := s.rdb.Get(ctx, marketKey(id)).Bytes()
	if err == nil {
		var m model.Market
		if json.Unmarshal(data, &m) == nil {
			return &m, nil
		}
	}

	m, err := s.Store.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(m); err == nil {
		s.rdb.Set(ctx, marketKey(id), data, s.ttl)
	}
	return m, nil
}

func (s *CachedStore) PositionsByAccount(ctx context.Context, accountID string) ([]model.MarketOptionPosition, error) {
	data, err := s.rdb.Get(ctx, positionsKey(accountID)).Bytes()
	if err == nil {
		var positions []model.MarketOptionPosition
		if json.Unmarshal(data, &positions) == nil {
			return positions, nil
		}
	}

	positions, err := s.Store.PositionsByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(positions); err == nil {
		s.rdb.Set(ctx, positionsKey(accountID), data, s.ttl)
	}
	return positions, nil
}
