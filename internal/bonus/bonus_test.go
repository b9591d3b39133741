package bonus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nicholasRutherford/play-money/internal/model"
	"github.com/nicholasRutherford/play-money/internal/store"
	"github.com/nicholasRutherford/play-money/internal/trading"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func newIssuer(t *testing.T) (*Issuer, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	ctx := context.Background()
	if err := EnsureHouseAccount(ctx, st); err != nil {
		t.Fatalf("ensure house: %v", err)
	}
	if err := st.CreateAccount(ctx, &model.Account{ID: "alice", Type: model.AccountUser}); err != nil {
		t.Fatalf("create alice: %v", err)
	}
	return NewIssuer(trading.NewEngine(st), DefaultAmounts()), st
}

func balance(t *testing.T, st *store.MemoryStore, accountID string) decimal.Decimal {
	t.Helper()
	b, err := st.Balance(context.Background(), accountID, model.AssetCurrency, "")
	if err != nil {
		t.Fatalf("balance %s: %v", accountID, err)
	}
	return b
}

// --- House bootstrap ---

func TestEnsureHouseAccount_Idempotent(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	if err := EnsureHouseAccount(ctx, st); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if err := EnsureHouseAccount(ctx, st); err != nil {
		t.Fatalf("second call: %v", err)
	}
	a, err := st.GetAccount(ctx, HouseAccountID)
	if err != nil {
		t.Fatalf("get house: %v", err)
	}
	if a.Type != model.AccountHouse {
		t.Errorf("expected HOUSE type, got %s", a.Type)
	}
}

// --- Signup bonus ---

func TestSignupBonus_GrantsOnce(t *testing.T) {
	is, st := newIssuer(t)
	ctx := context.Background()

	tr, err := is.SignupBonus(ctx, "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.Type != model.TypeHouseSignupBonus {
		t.Errorf("expected signup type, got %s", tr.Type)
	}
	if !balance(t, st, "alice").Equal(d(1000)) {
		t.Errorf("expected balance 1000, got %s", balance(t, st, "alice"))
	}

	// A second grant must be rejected, no matter how much later.
	is.Now = func() time.Time { return time.Now().UTC().AddDate(0, 0, 30) }
	if _, err := is.SignupBonus(ctx, "alice"); !errors.Is(err, ErrAlreadyIssued) {
		t.Errorf("expected ErrAlreadyIssued, got %v", err)
	}
	if !balance(t, st, "alice").Equal(d(1000)) {
		t.Errorf("balance changed on rejected grant: %s", balance(t, st, "alice"))
	}
}

func TestSignupBonus_HouseGoesNegative(t *testing.T) {
	is, st := newIssuer(t)
	if _, err := is.SignupBonus(context.Background(), "alice"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !balance(t, st, HouseAccountID).Equal(d(-1000)) {
		t.Errorf("expected house balance -1000, got %s", balance(t, st, HouseAccountID))
	}
}

// --- Daily bonuses ---

func TestDailyTradeBonus_OncePerDay(t *testing.T) {
	is, st := newIssuer(t)
	ctx := context.Background()

	day := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	is.Now = func() time.Time { return day }

	if _, err := is.DailyTradeBonus(ctx, "alice"); err != nil {
		t.Fatalf("first grant: %v", err)
	}

	// Same UTC day, later hour: rejected.
	is.Now = func() time.Time { return day.Add(10 * time.Hour) }
	if _, err := is.DailyTradeBonus(ctx, "alice"); !errors.Is(err, ErrAlreadyIssued) {
		t.Errorf("expected ErrAlreadyIssued, got %v", err)
	}
	if !balance(t, st, "alice").Equal(d(100)) {
		t.Errorf("expected balance 100, got %s", balance(t, st, "alice"))
	}
}

func TestDailyBonuses_IndependentTypes(t *testing.T) {
	is, st := newIssuer(t)
	ctx := context.Background()

	if _, err := is.DailyTradeBonus(ctx, "alice"); err != nil {
		t.Fatalf("trade bonus: %v", err)
	}
	if _, err := is.DailyMarketBonus(ctx, "alice"); err != nil {
		t.Fatalf("market bonus: %v", err)
	}
	if _, err := is.DailyCommentBonus(ctx, "alice"); err != nil {
		t.Fatalf("comment bonus: %v", err)
	}
	if _, err := is.DailyLiquidityBonus(ctx, "alice"); err != nil {
		t.Fatalf("liquidity bonus: %v", err)
	}
	// 100 + 100 + 100 + 50.
	if !balance(t, st, "alice").Equal(d(350)) {
		t.Errorf("expected balance 350, got %s", balance(t, st, "alice"))
	}
}

// --- Creator bonuses ---

func TestCreatorTraderBonus(t *testing.T) {
	is, st := newIssuer(t)
	tr, err := is.CreatorTraderBonus(context.Background(), "alice", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.Type != model.TypeCreatorTraderBonus {
		t.Errorf("expected creator-trader type, got %s", tr.Type)
	}
	if !balance(t, st, "alice").Equal(d(5)) {
		t.Errorf("expected balance 5, got %s", balance(t, st, "alice"))
	}
}

func TestLiquidityVolumeBonus_FractionOfVolume(t *testing.T) {
	is, st := newIssuer(t)
	tr, err := is.LiquidityVolumeBonus(context.Background(), "alice", "", d(2500))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr == nil {
		t.Fatal("expected a transaction")
	}
	if !balance(t, st, "alice").Equal(d(25)) {
		t.Errorf("expected balance 25, got %s", balance(t, st, "alice"))
	}
}

func TestLiquidityVolumeBonus_DustVolume(t *testing.T) {
	is, st := newIssuer(t)
	tr, err := is.LiquidityVolumeBonus(context.Background(), "alice", "", d(0.001))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr != nil {
		t.Errorf("expected no transaction for dust volume, got %+v", tr)
	}
	if !balance(t, st, "alice").IsZero() {
		t.Errorf("expected zero balance, got %s", balance(t, st, "alice"))
	}
}
