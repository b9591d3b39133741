package leaderboard

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nicholasRutherford/play-money/internal/model"
	"github.com/nicholasRutherford/play-money/internal/store"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var monthStart = time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	st := store.NewMemoryStore()
	ctx := context.Background()
	accounts := []model.Account{
		{ID: "house", Type: model.AccountHouse},
		{ID: "pool", Type: model.AccountAMM},
		{ID: "clearing", Type: model.AccountClearing},
		{ID: "u1", Type: model.AccountUser},
		{ID: "u2", Type: model.AccountUser},
		{ID: "u3", Type: model.AccountUser},
	}
	for i := range accounts {
		if err := st.CreateAccount(ctx, &accounts[i]); err != nil {
			t.Fatalf("create account %s: %v", accounts[i].ID, err)
		}
	}
	return st
}

// insert appends a single-entry currency transaction at the given time.
func insert(t *testing.T, st *store.MemoryStore, typ model.TransactionType, from, to string, amount decimal.Decimal, at time.Time) {
	t.Helper()
	id := uuid.New().String()
	err := st.InsertTransaction(context.Background(), &model.Transaction{
		ID:          id,
		Type:        typ,
		InitiatorID: to,
		CreatedAt:   at,
		Entries: []model.Entry{
			{ID: uuid.New().String(), TransactionID: id, FromAccountID: from, ToAccountID: to,
				AssetType: model.AssetCurrency, Amount: amount, CreatedAt: at},
		},
	})
	if err != nil {
		t.Fatalf("insert transaction: %v", err)
	}
}

func seedMonth(t *testing.T, st *store.MemoryStore) {
	t.Helper()
	mid := monthStart.AddDate(0, 0, 10)

	// u1: spends 100 trading, wins 250 → net +150 trader.
	insert(t, st, model.TypeTradeBuy, "u1", "pool", d(100), mid)
	insert(t, st, model.TypeTradeWin, "clearing", "u1", d(250), mid)
	// u2: spends 50 trading, earns a 15 creator bonus.
	insert(t, st, model.TypeTradeBuy, "u2", "pool", d(50), mid)
	insert(t, st, model.TypeCreatorTraderBonus, "house", "u2", d(15), mid)
	// u1: 30 promoter bonus.
	insert(t, st, model.TypeLiquidityVolumeBonus, "house", "u1", d(30), mid)
	// u3: two daily bonuses → 200 quester.
	insert(t, st, model.TypeDailyTradeBonus, "house", "u3", d(100), mid)
	insert(t, st, model.TypeDailyCommentBonus, "house", "u3", d(100), mid)

	// Previous month: must not count.
	insert(t, st, model.TypeTradeWin, "clearing", "u2", d(9999), monthStart.AddDate(0, -1, 5))
}

func TestMonthly_RanksTradersBySignedNet(t *testing.T) {
	st := newStore(t)
	seedMonth(t, st)
	svc := NewService(st)

	board, err := svc.Monthly(context.Background(), monthStart, monthStart.AddDate(0, 1, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(board.TopTraders) != 2 {
		t.Fatalf("expected 2 ranked traders, got %d", len(board.TopTraders))
	}
	first := board.TopTraders[0]
	if first.AccountID != "u1" || !first.Total.Equal(d(150)) || first.Rank != 1 {
		t.Errorf("unexpected top trader: %+v", first)
	}
	second := board.TopTraders[1]
	if second.AccountID != "u2" || !second.Total.Equal(d(-50)) || second.Rank != 2 {
		t.Errorf("unexpected second trader: %+v", second)
	}
}

func TestMonthly_SeparatesBonusGroups(t *testing.T) {
	st := newStore(t)
	seedMonth(t, st)
	svc := NewService(st)

	board, err := svc.Monthly(context.Background(), monthStart, monthStart.AddDate(0, 1, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(board.TopCreators) != 1 || board.TopCreators[0].AccountID != "u2" || !board.TopCreators[0].Total.Equal(d(15)) {
		t.Errorf("unexpected creators board: %+v", board.TopCreators)
	}
	if len(board.TopPromoters) != 1 || board.TopPromoters[0].AccountID != "u1" || !board.TopPromoters[0].Total.Equal(d(30)) {
		t.Errorf("unexpected promoters board: %+v", board.TopPromoters)
	}
	if len(board.TopQuesters) != 1 || board.TopQuesters[0].AccountID != "u3" || !board.TopQuesters[0].Total.Equal(d(200)) {
		t.Errorf("unexpected questers board: %+v", board.TopQuesters)
	}
}

func TestMonthly_ExcludesOtherMonths(t *testing.T) {
	st := newStore(t)
	seedMonth(t, st)
	svc := NewService(st)

	// The 9999 win landed in July; August traders must not include it.
	board, err := svc.Monthly(context.Background(), monthStart, monthStart.AddDate(0, 1, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, e := range board.TopTraders {
		if e.Total.GreaterThan(d(1000)) {
			t.Errorf("out-of-month transaction leaked into board: %+v", e)
		}
	}
}

func TestMonthly_TiesShareRank(t *testing.T) {
	st := newStore(t)
	mid := monthStart.AddDate(0, 0, 3)
	insert(t, st, model.TypeDailyTradeBonus, "house", "u1", d(100), mid)
	insert(t, st, model.TypeDailyTradeBonus, "house", "u2", d(100), mid)
	insert(t, st, model.TypeDailyTradeBonus, "house", "u3", d(50), mid)
	svc := NewService(st)

	board, err := svc.Monthly(context.Background(), monthStart, monthStart.AddDate(0, 1, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	q := board.TopQuesters
	if len(q) != 3 {
		t.Fatalf("expected 3 questers, got %d", len(q))
	}
	if q[0].Rank != 1 || q[1].Rank != 1 {
		t.Errorf("tied totals should share rank 1: got %d and %d", q[0].Rank, q[1].Rank)
	}
	if q[2].Rank != 3 {
		t.Errorf("expected rank 3 after a two-way tie, got %d", q[2].Rank)
	}
}

func TestRankingFor(t *testing.T) {
	st := newStore(t)
	seedMonth(t, st)
	svc := NewService(st)

	r, err := svc.RankingFor(context.Background(), "u1", monthStart, monthStart.AddDate(0, 1, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Trader == nil || r.Trader.Rank != 1 {
		t.Errorf("expected trader rank 1, got %+v", r.Trader)
	}
	if r.Promoter == nil || !r.Promoter.Total.Equal(d(30)) {
		t.Errorf("expected promoter total 30, got %+v", r.Promoter)
	}
	if r.Creator != nil {
		t.Errorf("u1 earned no creator bonus, got %+v", r.Creator)
	}
	if r.Quester != nil {
		t.Errorf("u1 earned no daily bonus, got %+v", r.Quester)
	}
}

func TestMonthly_ReadOnly(t *testing.T) {
	st := newStore(t)
	seedMonth(t, st)
	svc := NewService(st)
	ctx := context.Background()

	before, _ := st.TransactionsByAccount(ctx, "u1")
	if _, err := svc.Monthly(ctx, monthStart, monthStart.AddDate(0, 1, 0)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	after, _ := st.TransactionsByAccount(ctx, "u1")
	if len(before) != len(after) {
		t.Errorf("leaderboard wrote to the store: %d -> %d transactions", len(before), len(after))
	}
}
