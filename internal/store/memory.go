package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nicholasRutherford/play-money/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Units of work buffer their writes and apply them on commit,
// so a failed fn leaves no partial state.
type MemoryStore struct {
	mu        sync.RWMutex
	lockMu    sync.Mutex
	locks     map[string]*sync.Mutex
	accounts  map[string]model.Account
	markets   map[string]*model.Market
	txs       []model.Transaction
	positions map[string]model.MarketOptionPosition // accountID + "/" + optionID
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locks:     make(map[string]*sync.Mutex),
		accounts:  make(map[string]model.Account),
		markets:   make(map[string]*model.Market),
		positions: make(map[string]model.MarketOptionPosition),
	}
}

func posKey(accountID, optionID string) string {
	return accountID + "/" + optionID
}

func cloneMarket(m *model.Market) *model.Market {
	c := *m
	c.Options = append([]model.MarketOption(nil), m.Options...)
	c.PoolBalances = make(map[string]decimal.Decimal, len(m.PoolBalances))
	for k, v := range m.PoolBalances {
		c.PoolBalances[k] = v
	}
	c.Probabilities = make(map[string]decimal.Decimal, len(m.Probabilities))
	for k, v := range m.Probabilities {
		c.Probabilities[k] = v
	}
	if m.ResolvedAt != nil {
		at := *m.ResolvedAt
		c.ResolvedAt = &at
	}
	return &c
}

func cloneTransaction(t *model.Transaction) model.Transaction {
	c := *t
	c.OptionIDs = append([]string(nil), t.OptionIDs...)
	c.Entries = append([]model.Entry(nil), t.Entries...)
	return c
}

// keyLock returns the mutex serializing units of work for one lock key,
// creating it on first use.
func (s *MemoryStore) keyLock(key string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// InTx serializes on lockKey, runs fn against a buffering transaction view,
// and applies the buffered writes only if fn succeeds.
func (s *MemoryStore) InTx(ctx context.Context, lockKey string, fn func(tx Querier) error) error {
	l := s.keyLock(lockKey)
	l.Lock()
	defer l.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memTx{
		s:         s,
		accounts:  make(map[string]model.Account),
		markets:   make(map[string]*model.Market),
		positions: make(map[string]model.MarketOptionPosition),
	}
	if err := fn(tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, a := range tx.accounts {
		s.accounts[id] = a
	}
	for id, m := range tx.markets {
		s.markets[id] = m
	}
	s.txs = append(s.txs, tx.txs...)
	for k, p := range tx.positions {
		s.positions[k] = p
	}
	return nil
}

// memTx is the buffering transaction view. Reads see committed state plus
// this transaction's own uncommitted writes.
type memTx struct {
	s         *MemoryStore
	accounts  map[string]model.Account
	markets   map[string]*model.Market
	txs       []model.Transaction
	positions map[string]model.MarketOptionPosition
}

func (t *memTx) CreateAccount(_ context.Context, a *model.Account) error {
	t.s.mu.RLock()
	_, exists := t.s.accounts[a.ID]
	t.s.mu.RUnlock()
	if exists {
		return fmt.Errorf("store: account %s: %w", a.ID, ErrAlreadyExists)
	}
	if _, exists := t.accounts[a.ID]; exists {
		return fmt.Errorf("store: account %s: %w", a.ID, ErrAlreadyExists)
	}
	t.accounts[a.ID] = *a
	return nil
}

func (t *memTx) GetAccount(_ context.Context, id string) (*model.Account, error) {
	if a, ok := t.accounts[id]; ok {
		c := a
		return &c, nil
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	a, ok := t.s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("store: account %s: %w", id, ErrNotFound)
	}
	c := a
	return &c, nil
}

func (t *memTx) CreateMarket(_ context.Context, m *model.Market) error {
	t.s.mu.RLock()
	_, exists := t.s.markets[m.ID]
	t.s.mu.RUnlock()
	if exists {
		return fmt.Errorf("store: market %s: %w", m.ID, ErrAlreadyExists)
	}
	if _, exists := t.markets[m.ID]; exists {
		return fmt.Errorf("store: market %s: %w", m.ID, ErrAlreadyExists)
	}
	t.markets[m.ID] = cloneMarket(m)
	return nil
}

// getMarketForUpdate returns the overlay copy of a market, cloning it from
// committed state on first touch.
func (t *memTx) getMarketForUpdate(id string) (*model.Market, error) {
	if m, ok := t.markets[id]; ok {
		return m, nil
	}
	t.s.mu.RLock()
	m, ok := t.s.markets[id]
	t.s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("store: market %s: %w", id, ErrNotFound)
	}
	c := cloneMarket(m)
	t.markets[id] = c
	return c, nil
}

func (t *memTx) GetMarket(_ context.Context, id string) (*model.Market, error) {
	if m, ok := t.markets[id]; ok {
		return cloneMarket(m), nil
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	m, ok := t.s.markets[id]
	if !ok {
		return nil, fmt.Errorf("store: market %s: %w", id, ErrNotFound)
	}
	return cloneMarket(m), nil
}

func (t *memTx) UpdateMarketState(_ context.Context, marketID string, poolBalances, probabilities map[string]decimal.Decimal) error {
	m, err := t.getMarketForUpdate(marketID)
	if err != nil {
		return err
	}
	for id, b := range poolBalances {
		m.PoolBalances[id] = b
	}
	for id, p := range probabilities {
		m.Probabilities[id] = p
	}
	return nil
}

func (t *memTx) MarkResolved(_ context.Context, marketID, winningOptionID string, at time.Time) error {
	m, err := t.getMarketForUpdate(marketID)
	if err != nil {
		return err
	}
	m.Status = model.MarketResolved
	m.WinningOptionID = winningOptionID
	m.ResolvedAt = &at
	return nil
}

func (t *memTx) InsertTransaction(_ context.Context, tr *model.Transaction) error {
	t.txs = append(t.txs, cloneTransaction(tr))
	return nil
}

// forEachEntry visits committed entries followed by this transaction's
// uncommitted entries, with their owning transaction.
func (t *memTx) forEachEntry(visit func(tx *model.Transaction, e *model.Entry)) {
	t.s.mu.RLock()
	for i := range t.s.txs {
		for j := range t.s.txs[i].Entries {
			visit(&t.s.txs[i], &t.s.txs[i].Entries[j])
		}
	}
	t.s.mu.RUnlock()
	for i := range t.txs {
		for j := range t.txs[i].Entries {
			visit(&t.txs[i], &t.txs[i].Entries[j])
		}
	}
}

func (t *memTx) Balance(_ context.Context, accountID string, asset model.AssetType, assetID string) (decimal.Decimal, error) {
	sum := decimal.Zero
	t.forEachEntry(func(_ *model.Transaction, e *model.Entry) {
		if e.AssetType != asset || e.AssetID != assetID {
			return
		}
		if e.ToAccountID == accountID {
			sum = sum.Add(e.Amount)
		}
		if e.FromAccountID == accountID {
			sum = sum.Sub(e.Amount)
		}
	})
	return sum, nil
}

func (t *memTx) OptionHolders(_ context.Context, optionID string) (map[string]decimal.Decimal, error) {
	holders := make(map[string]decimal.Decimal)
	t.forEachEntry(func(_ *model.Transaction, e *model.Entry) {
		if e.AssetType != model.AssetMarketOption || e.AssetID != optionID {
			return
		}
		holders[e.ToAccountID] = holders[e.ToAccountID].Add(e.Amount)
		holders[e.FromAccountID] = holders[e.FromAccountID].Sub(e.Amount)
	})
	for id, q := range holders {
		if q.IsZero() {
			delete(holders, id)
		}
	}
	return holders, nil
}

func (t *memTx) CountTransactions(_ context.Context, typ model.TransactionType, initiatorID string, since *time.Time) (int, error) {
	count := 0
	match := func(tr *model.Transaction) {
		if tr.Type != typ || tr.InitiatorID != initiatorID {
			return
		}
		if since != nil && tr.CreatedAt.Before(*since) {
			return
		}
		count++
	}
	t.s.mu.RLock()
	for i := range t.s.txs {
		match(&t.s.txs[i])
	}
	t.s.mu.RUnlock()
	for i := range t.txs {
		match(&t.txs[i])
	}
	return count, nil
}

func (t *memTx) UpsertPosition(_ context.Context, p *model.MarketOptionPosition) error {
	t.positions[posKey(p.AccountID, p.OptionID)] = *p
	return nil
}

func (t *memTx) Position(_ context.Context, accountID, optionID string) (*model.MarketOptionPosition, error) {
	if p, ok := t.positions[posKey(accountID, optionID)]; ok {
		c := p
		return &c, nil
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	p, ok := t.s.positions[posKey(accountID, optionID)]
	if !ok {
		return nil, fmt.Errorf("store: position %s/%s: %w", accountID, optionID, ErrNotFound)
	}
	c := p
	return &c, nil
}

func (t *memTx) PositionsByMarket(_ context.Context, marketID string) ([]model.MarketOptionPosition, error) {
	merged := make(map[string]model.MarketOptionPosition)
	t.s.mu.RLock()
	for k, p := range t.s.positions {
		if p.MarketID == marketID {
			merged[k] = p
		}
	}
	t.s.mu.RUnlock()
	for k, p := range t.positions {
		if p.MarketID == marketID {
			merged[k] = p
		}
	}
	return sortedPositions(merged), nil
}

func (t *memTx) PositionsByAccount(_ context.Context, accountID string) ([]model.MarketOptionPosition, error) {
	merged := make(map[string]model.MarketOptionPosition)
	t.s.mu.RLock()
	for k, p := range t.s.positions {
		if p.AccountID == accountID {
			merged[k] = p
		}
	}
	t.s.mu.RUnlock()
	for k, p := range t.positions {
		if p.AccountID == accountID {
			merged[k] = p
		}
	}
	return sortedPositions(merged), nil
}

func sortedPositions(m map[string]model.MarketOptionPosition) []model.MarketOptionPosition {
	positions := make([]model.MarketOptionPosition, 0, len(m))
	for _, p := range m {
		positions = append(positions, p)
	}
	sort.Slice(positions, func(i, j int) bool {
		if positions[i].OptionID != positions[j].OptionID {
			return positions[i].OptionID < positions[j].OptionID
		}
		return positions[i].AccountID < positions[j].AccountID
	})
	return positions
}

// --- Committed-state reads on the store itself ---

// roTx returns a transaction view with no uncommitted writes, so the
// Querier methods read committed state only.
func (s *MemoryStore) roTx() *memTx {
	return &memTx{
		s:         s,
		accounts:  make(map[string]model.Account),
		markets:   make(map[string]*model.Market),
		positions: make(map[string]model.MarketOptionPosition),
	}
}

func (s *MemoryStore) CreateAccount(ctx context.Context, a *model.Account) error {
	return s.InTx(ctx, a.ID, func(tx Querier) error { return tx.CreateAccount(ctx, a) })
}

func (s *MemoryStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	return s.roTx().GetAccount(ctx, id)
}

func (s *MemoryStore) CreateMarket(ctx context.Context, m *model.Market) error {
	return s.InTx(ctx, m.ID, func(tx Querier) error { return tx.CreateMarket(ctx, m) })
}

func (s *MemoryStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	return s.roTx().GetMarket(ctx, id)
}

func (s *MemoryStore) UpdateMarketState(ctx context.Context, marketID string, poolBalances, probabilities map[string]decimal.Decimal) error {
	return s.InTx(ctx, marketID, func(tx Querier) error {
		return tx.UpdateMarketState(ctx, marketID, poolBalances, probabilities)
	})
}

func (s *MemoryStore) MarkResolved(ctx context.Context, marketID, winningOptionID string, at time.Time) error {
	return s.InTx(ctx, marketID, func(tx Querier) error {
		return tx.MarkResolved(ctx, marketID, winningOptionID, at)
	})
}

func (s *MemoryStore) InsertTransaction(ctx context.Context, tr *model.Transaction) error {
	return s.InTx(ctx, tr.MarketID, func(tx Querier) error { return tx.InsertTransaction(ctx, tr) })
}

func (s *MemoryStore) Balance(ctx context.Context, accountID string, asset model.AssetType, assetID string) (decimal.Decimal, error) {
	return s.roTx().Balance(ctx, accountID, asset, assetID)
}

func (s *MemoryStore) OptionHolders(ctx context.Context, optionID string) (map[string]decimal.Decimal, error) {
	return s.roTx().OptionHolders(ctx, optionID)
}

func (s *MemoryStore) CountTransactions(ctx context.Context, typ model.TransactionType, initiatorID string, since *time.Time) (int, error) {
	return s.roTx().CountTransactions(ctx, typ, initiatorID, since)
}

func (s *MemoryStore) UpsertPosition(ctx context.Context, p *model.MarketOptionPosition) error {
	return s.InTx(ctx, p.MarketID, func(tx Querier) error { return tx.UpsertPosition(ctx, p) })
}

func (s *MemoryStore) Position(ctx context.Context, accountID, optionID string) (*model.MarketOptionPosition, error) {
	return s.roTx().Position(ctx, accountID, optionID)
}

func (s *MemoryStore) PositionsByMarket(ctx context.Context, marketID string) ([]model.MarketOptionPosition, error) {
	return s.roTx().PositionsByMarket(ctx, marketID)
}

func (s *MemoryStore) PositionsByAccount(ctx context.Context, accountID string) ([]model.MarketOptionPosition, error) {
	return s.roTx().PositionsByAccount(ctx, accountID)
}

func (s *MemoryStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	markets := make([]model.Market, 0, len(s.markets))
	for _, m := range s.markets {
		markets = append(markets, *cloneMarket(m))
	}
	sort.Slice(markets, func(i, j int) bool { return markets[i].CreatedAt.Before(markets[j].CreatedAt) })
	return markets, nil
}

func (s *MemoryStore) TransactionsByAccount(_ context.Context, accountID string) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []model.Transaction
	for i := range s.txs {
		tr := &s.txs[i]
		touched := tr.InitiatorID == accountID
		for j := range tr.Entries {
			if tr.Entries[j].FromAccountID == accountID || tr.Entries[j].ToAccountID == accountID {
				touched = true
				break
			}
		}
		if touched {
			result = append(result, cloneTransaction(tr))
		}
	}
	return result, nil
}

func (s *MemoryStore) TransactionsByMarket(_ context.Context, marketID string) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []model.Transaction
	for i := range s.txs {
		if s.txs[i].MarketID == marketID {
			result = append(result, cloneTransaction(&s.txs[i]))
		}
	}
	return result, nil
}

func (s *MemoryStore) NetCurrencyByAccount(_ context.Context, types []model.TransactionType, start, end time.Time) (map[string]decimal.Decimal, error) {
	typeSet := make(map[model.TransactionType]bool, len(types))
	for _, t := range types {
		typeSet[t] = true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	isUser := func(accountID string) bool {
		a, ok := s.accounts[accountID]
		return ok && a.Type == model.AccountUser
	}

	net := make(map[string]decimal.Decimal)
	for i := range s.txs {
		tr := &s.txs[i]
		if !typeSet[tr.Type] || tr.CreatedAt.Before(start) || !tr.CreatedAt.Before(end) {
			continue
		}
		for j := range tr.Entries {
			e := &tr.Entries[j]
			if e.AssetType != model.AssetCurrency {
				continue
			}
			if isUser(e.ToAccountID) {
				net[e.ToAccountID] = net[e.ToAccountID].Add(e.Amount)
			}
			if isUser(e.FromAccountID) {
				net[e.FromAccountID] = net[e.FromAccountID].Sub(e.Amount)
			}
		}
	}
	return net, nil
}
