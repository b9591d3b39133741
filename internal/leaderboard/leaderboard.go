// Package leaderboard builds monthly rankings from the ledger. It is a pure
// read-only projection over committed transactions: computing a board never
// writes anything.
package leaderboard

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nicholasRutherford/play-money/internal/model"
	"github.com/nicholasRutherford/play-money/internal/store"
)

// Entry is one ranked account.
type Entry struct {
	AccountID string          `json:"account_id"`
	Total     decimal.Decimal `json:"total"`
	Rank      int             `json:"rank"`
}

// Board holds the four monthly rankings. Traders rank by net trading profit,
// creators by unique-trader bonuses, promoters by liquidity-volume bonuses,
// and questers by daily engagement bonuses.
type Board struct {
	TopTraders   []Entry `json:"top_traders"`
	TopCreators  []Entry `json:"top_creators"`
	TopPromoters []Entry `json:"top_promoters"`
	TopQuesters  []Entry `json:"top_questers"`
}

// Ranking is one account's placement across the four boards. A nil entry
// means the account had no qualifying activity in the period.
type Ranking struct {
	Trader   *Entry `json:"trader,omitempty"`
	Creator  *Entry `json:"creator,omitempty"`
	Promoter *Entry `json:"promoter,omitempty"`
	Quester  *Entry `json:"quester,omitempty"`
}

const topN = 10

var (
	traderTypes   = []model.TransactionType{model.TypeTradeWin, model.TypeTradeSell, model.TypeTradeBuy}
	creatorTypes  = []model.TransactionType{model.TypeCreatorTraderBonus}
	promoterTypes = []model.TransactionType{model.TypeLiquidityVolumeBonus}
	questerTypes  = []model.TransactionType{
		model.TypeDailyTradeBonus, model.TypeDailyMarketBonus,
		model.TypeDailyCommentBonus, model.TypeDailyLiquidityBonus,
	}
)

// Service computes leaderboards over a store.
type Service struct {
	store store.Store
}

// NewService creates a leaderboard service.
func NewService(st store.Store) *Service {
	return &Service{store: st}
}

// MonthRange returns the UTC start (inclusive) and end (exclusive) of the
// month containing t.
func MonthRange(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

// Monthly computes the four boards for [start, end).
func (s *Service) Monthly(ctx context.Context, start, end time.Time) (*Board, error) {
	traders, err := s.rank(ctx, traderTypes, start, end)
	if err != nil {
		return nil, err
	}
	creators, err := s.rank(ctx, creatorTypes, start, end)
	if err != nil {
		return nil, err
	}
	promoters, err := s.rank(ctx, promoterTypes, start, end)
	if err != nil {
		return nil, err
	}
	questers, err := s.rank(ctx, questerTypes, start, end)
	if err != nil {
		return nil, err
	}
	return &Board{
		TopTraders:   top(traders),
		TopCreators:  top(creators),
		TopPromoters: top(promoters),
		TopQuesters:  top(questers),
	}, nil
}

// RankingFor computes one account's placement across the full (untruncated)
// rankings for [start, end).
func (s *Service) RankingFor(ctx context.Context, accountID string, start, end time.Time) (*Ranking, error) {
	r := &Ranking{}
	for _, g := range []struct {
		types []model.TransactionType
		dst   **Entry
	}{
		{traderTypes, &r.Trader},
		{creatorTypes, &r.Creator},
		{promoterTypes, &r.Promoter},
		{questerTypes, &r.Quester},
	} {
		ranked, err := s.rank(ctx, g.types, start, end)
		if err != nil {
			return nil, err
		}
		for i := range ranked {
			if ranked[i].AccountID == accountID {
				e := ranked[i]
				*g.dst = &e
				break
			}
		}
	}
	return r, nil
}

// rank sums signed currency flow per user account for the type group and
// orders it descending. Equal totals share a rank, standard competition
// style.
func (s *Service) rank(ctx context.Context, types []model.TransactionType, start, end time.Time) ([]Entry, error) {
	totals, err := s.store.NetCurrencyByAccount(ctx, types, start, end)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(totals))
	for accountID, total := range totals {
		entries = append(entries, Entry{AccountID: accountID, Total: total})
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].Total.Equal(entries[j].Total) {
			return entries[i].Total.GreaterThan(entries[j].Total)
		}
		return entries[i].AccountID < entries[j].AccountID
	})
	for i := range entries {
		if i > 0 && entries[i].Total.Equal(entries[i-1].Total) {
			entries[i].Rank = entries[i-1].Rank
		} else {
			entries[i].Rank = i + 1
		}
	}
	return entries, nil
}

func top(entries []Entry) []Entry {
	if len(entries) > topN {
		return entries[:topN]
	}
	return entries
}
