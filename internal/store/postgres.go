package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/nicholasRutherford/play-money/internal/model"
)

// pgDB is the subset of pgx satisfied by both *pgxpool.Pool and pgx.Tx, so
// the same query methods serve committed reads and transactional scopes.
type pgDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// Units of work run in a database transaction holding an advisory lock on
// the lock key, so writers against the same market (or account) serialize
// while everything else proceeds in parallel.
type PostgresStore struct {
	pgQuerier
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pgQuerier: pgQuerier{db: pool}, pool: pool}
}

// translateErr maps pgx errors onto the store error taxonomy.
func translateErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w", ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03": // serialization failure, deadlock, lock not available
			return fmt.Errorf("%w: %s", ErrConcurrentModification, pgErr.Message)
		case "23505": // unique violation
			return fmt.Errorf("%w: %s", ErrAlreadyExists, pgErr.Message)
		}
	}
	return err
}

func (s *PostgresStore) InTx(ctx context.Context, lockKey string, fn func(tx Querier) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return translateErr(err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, lockKey); err != nil {
		return translateErr(err)
	}
	if err := fn(&pgQuerier{db: tx}); err != nil {
		return translateErr(err)
	}
	return translateErr(tx.Commit(ctx))
}

// pgQuerier implements Querier over a pool (committed reads) or a pgx.Tx
// (inside a unit of work).
type pgQuerier struct {
	db pgDB
}

func (q *pgQuerier) CreateAccount(ctx context.Context, a *model.Account) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO accounts (id, type, created_at) VALUES ($1, $2, $3)`,
		a.ID, a.Type, a.CreatedAt)
	return translateErr(err)
}

func (q *pgQuerier) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	var a model.Account
	err := q.db.QueryRow(ctx,
		`SELECT id, type, created_at FROM accounts WHERE id = $1`, id).
		Scan(&a.ID, &a.Type, &a.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", id, translateErr(err))
	}
	return &a, nil
}

func (q *pgQuerier) CreateMarket(ctx context.Context, m *model.Market) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO markets (id, question, slug, created_by, amm_account_id, clearing_account_id, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.ID, m.Question, m.Slug, m.CreatedBy, m.AMMAccountID, m.ClearingAccountID, m.Status, m.CreatedAt)
	if err != nil {
		return translateErr(err)
	}
	for i, o := range m.Options {
		balance := m.PoolBalances[o.ID]
		prob := m.Probabilities[o.ID]
		_, err := q.db.Exec(ctx,
			`INSERT INTO market_options (id, market_id, name, ord, pool_balance, probability)
			 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC)`,
			o.ID, m.ID, o.Name, i, balance.String(), prob.String())
		if err != nil {
			return translateErr(err)
		}
	}
	return nil
}

func (q *pgQuerier) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	var m model.Market
	var winning *string
	err := q.db.QueryRow(ctx,
		`SELECT id, question, slug, created_by, amm_account_id, clearing_account_id,
		        status, winning_option_id, created_at, resolved_at
		 FROM markets WHERE id = $1`, id).
		Scan(&m.ID, &m.Question, &m.Slug, &m.CreatedBy, &m.AMMAccountID, &m.ClearingAccountID,
			&m.Status, &winning, &m.CreatedAt, &m.ResolvedAt)
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", id, translateErr(err))
	}
	if winning != nil {
		m.WinningOptionID = *winning
	}

	rows, err := q.db.Query(ctx,
		`SELECT id, name, pool_balance::TEXT, probability::TEXT
		 FROM market_options WHERE market_id = $1 ORDER BY ord`, id)
	if err != nil {
		return nil, translateErr(err)
	}
	defer rows.Close()

	m.PoolBalances = make(map[string]decimal.Decimal)
	m.Probabilities = make(map[string]decimal.Decimal)
	for rows.Next() {
		var o model.MarketOption
		var balS, probS string
		if err := rows.Scan(&o.ID, &o.Name, &balS, &probS); err != nil {
			return nil, err
		}
		o.MarketID = m.ID
		m.Options = append(m.Options, o)
		m.PoolBalances[o.ID], _ = decimal.NewFromString(balS)
		m.Probabilities[o.ID], _ = decimal.NewFromString(probS)
	}
	return &m, rows.Err()
}

func (q *pgQuerier) UpdateMarketState(ctx context.Context, marketID string, poolBalances, probabilities map[string]decimal.Decimal) error {
	for optionID, balance := range poolBalances {
		prob, ok := probabilities[optionID]
		if !ok {
			return fmt.Errorf("store: missing probability for option %s", optionID)
		}
		tag, err := q.db.Exec(ctx,
			`UPDATE market_options SET pool_balance = $3::NUMERIC, probability = $4::NUMERIC
			 WHERE id = $1 AND market_id = $2`,
			optionID, marketID, balance.String(), prob.String())
		if err != nil {
			return translateErr(err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("store: option %s in market %s: %w", optionID, marketID, ErrNotFound)
		}
	}
	return nil
}

func (q *pgQuerier) MarkResolved(ctx context.Context, marketID, winningOptionID string, at time.Time) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE markets SET status = $2, winning_option_id = $3, resolved_at = $4 WHERE id = $1`,
		marketID, model.MarketResolved, winningOptionID, at)
	if err != nil {
		return translateErr(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("store: market %s: %w", marketID, ErrNotFound)
	}
	return nil
}

func (q *pgQuerier) InsertTransaction(ctx context.Context, t *model.Transaction) error {
	var marketID *string
	if t.MarketID != "" {
		marketID = &t.MarketID
	}
	_, err := q.db.Exec(ctx,
		`INSERT INTO transactions (id, type, initiator_id, market_id, option_ids, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		t.ID, t.Type, t.InitiatorID, marketID, t.OptionIDs, t.CreatedAt)
	if err != nil {
		return translateErr(err)
	}
	for _, e := range t.Entries {
		_, err := q.db.Exec(ctx,
			`INSERT INTO entries (id, transaction_id, from_account_id, to_account_id, asset_type, asset_id, amount, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8)`,
			e.ID, t.ID, e.FromAccountID, e.ToAccountID, e.AssetType, e.AssetID, e.Amount.String(), e.CreatedAt)
		if err != nil {
			return translateErr(err)
		}
	}
	return nil
}

func (q *pgQuerier) Balance(ctx context.Context, accountID string, asset model.AssetType, assetID string) (decimal.Decimal, error) {
	var sumS string
	err := q.db.QueryRow(ctx,
		`SELECT COALESCE(SUM(CASE WHEN to_account_id = $1 THEN amount ELSE -amount END), 0)::TEXT
		 FROM entries
		 WHERE (to_account_id = $1 OR from_account_id = $1)
		   AND asset_type = $2 AND asset_id = $3`,
		accountID, asset, assetID).Scan(&sumS)
	if err != nil {
		return decimal.Zero, translateErr(err)
	}
	sum, err := decimal.NewFromString(sumS)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse balance %q: %w", sumS, err)
	}
	return sum, nil
}

func (q *pgQuerier) OptionHolders(ctx context.Context, optionID string) (map[string]decimal.Decimal, error) {
	rows, err := q.db.Query(ctx,
		`SELECT account_id, SUM(delta)::TEXT
		 FROM (
		     SELECT to_account_id AS account_id, amount AS delta
		     FROM entries WHERE asset_type = 'MARKET_OPTION' AND asset_id = $1
		     UNION ALL
		     SELECT from_account_id, -amount
		     FROM entries WHERE asset_type = 'MARKET_OPTION' AND asset_id = $1
		 ) deltas
		 GROUP BY account_id
		 HAVING SUM(delta) <> 0`, optionID)
	if err != nil {
		return nil, translateErr(err)
	}
	defer rows.Close()

	holders := make(map[string]decimal.Decimal)
	for rows.Next() {
		var accountID, qtyS string
		if err := rows.Scan(&accountID, &qtyS); err != nil {
			return nil, err
		}
		holders[accountID], _ = decimal.NewFromString(qtyS)
	}
	return holders, rows.Err()
}

func (q *pgQuerier) CountTransactions(ctx context.Context, typ model.TransactionType, initiatorID string, since *time.Time) (int, error) {
	var count int
	err := q.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM transactions
		 WHERE type = $1 AND initiator_id = $2
		   AND ($3::TIMESTAMPTZ IS NULL OR created_at >= $3)`,
		typ, initiatorID, since).Scan(&count)
	return count, translateErr(err)
}

func (q *pgQuerier) UpsertPosition(ctx context.Context, p *model.MarketOptionPosition) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO market_option_positions (account_id, option_id, market_id, quantity, value, updated_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6)
		 ON CONFLICT (account_id, option_id)
		 DO UPDATE SET quantity = EXCLUDED.quantity, value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		p.AccountID, p.OptionID, p.MarketID, p.Quantity.String(), p.Value.String(), p.UpdatedAt)
	return translateErr(err)
}

const positionColumns = `account_id, option_id, market_id, quantity::TEXT, value::TEXT, updated_at`

func scanPosition(row interface{ Scan(...any) error }) (model.MarketOptionPosition, error) {
	var p model.MarketOptionPosition
	var qtyS, valS string
	if err := row.Scan(&p.AccountID, &p.OptionID, &p.MarketID, &qtyS, &valS, &p.UpdatedAt); err != nil {
		return p, err
	}
	p.Quantity, _ = decimal.NewFromString(qtyS)
	p.Value, _ = decimal.NewFromString(valS)
	return p, nil
}

func (q *pgQuerier) Position(ctx context.Context, accountID, optionID string) (*model.MarketOptionPosition, error) {
	row := q.db.QueryRow(ctx,
		`SELECT `+positionColumns+` FROM market_option_positions
		 WHERE account_id = $1 AND option_id = $2`, accountID, optionID)
	p, err := scanPosition(row)
	if err != nil {
		return nil, fmt.Errorf("get position %s/%s: %w", accountID, optionID, translateErr(err))
	}
	return &p, nil
}

func (q *pgQuerier) positionsWhere(ctx context.Context, where string, arg any) ([]model.MarketOptionPosition, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+positionColumns+` FROM market_option_positions
		 WHERE `+where+` ORDER BY option_id, account_id`, arg)
	if err != nil {
		return nil, translateErr(err)
	}
	defer rows.Close()

	var positions []model.MarketOptionPosition
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func (q *pgQuerier) PositionsByMarket(ctx context.Context, marketID string) ([]model.MarketOptionPosition, error) {
	return q.positionsWhere(ctx, `market_id = $1`, marketID)
}

func (q *pgQuerier) PositionsByAccount(ctx context.Context, accountID string) ([]model.MarketOptionPosition, error) {
	return q.positionsWhere(ctx, `account_id = $1`, accountID)
}

// --- Read-only accessors on the store ---

func (s *PostgresStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM markets ORDER BY created_at`)
	if err != nil {
		return nil, translateErr(err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	markets := make([]model.Market, 0, len(ids))
	for _, id := range ids {
		m, err := s.GetMarket(ctx, id)
		if err != nil {
			return nil, err
		}
		markets = append(markets, *m)
	}
	return markets, nil
}

func (s *PostgresStore) transactionsWhere(ctx context.Context, where string, arg any) ([]model.Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, type, initiator_id, COALESCE(market_id, ''), option_ids, created_at
		 FROM transactions WHERE `+where+` ORDER BY created_at, id`, arg)
	if err != nil {
		return nil, translateErr(err)
	}
	defer rows.Close()

	var txs []model.Transaction
	index := make(map[string]int)
	for rows.Next() {
		var t model.Transaction
		if err := rows.Scan(&t.ID, &t.Type, &t.InitiatorID, &t.MarketID, &t.OptionIDs, &t.CreatedAt); err != nil {
			return nil, err
		}
		index[t.ID] = len(txs)
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, nil
	}

	ids := make([]string, len(txs))
	for i, t := range txs {
		ids[i] = t.ID
	}
	entryRows, err := s.pool.Query(ctx,
		`SELECT id, transaction_id, from_account_id, to_account_id, asset_type, asset_id, amount::TEXT, created_at
		 FROM entries WHERE transaction_id = ANY($1) ORDER BY seq`, ids)
	if err != nil {
		return nil, translateErr(err)
	}
	defer entryRows.Close()

	for entryRows.Next() {
		var e model.Entry
		var amountS string
		if err := entryRows.Scan(&e.ID, &e.TransactionID, &e.FromAccountID, &e.ToAccountID,
			&e.AssetType, &e.AssetID, &amountS, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Amount, _ = decimal.NewFromString(amountS)
		if i, ok := index[e.TransactionID]; ok {
			txs[i].Entries = append(txs[i].Entries, e)
		}
	}
	return txs, entryRows.Err()
}

func (s *PostgresStore) TransactionsByAccount(ctx context.Context, accountID string) ([]model.Transaction, error) {
	return s.transactionsWhere(ctx,
		`initiator_id = $1 OR id IN (SELECT transaction_id FROM entries WHERE from_account_id = $1 OR to_account_id = $1)`,
		accountID)
}

func (s *PostgresStore) TransactionsByMarket(ctx context.Context, marketID string) ([]model.Transaction, error) {
	return s.transactionsWhere(ctx, `market_id = $1`, marketID)
}

func (s *PostgresStore) NetCurrencyByAccount(ctx context.Context, types []model.TransactionType, start, end time.Time) (map[string]decimal.Decimal, error) {
	typeNames := make([]string, len(types))
	for i, t := range types {
		typeNames[i] = string(t)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT a.id,
		        SUM(CASE WHEN e.to_account_id = a.id THEN e.amount ELSE -e.amount END)::TEXT
		 FROM transactions t
		 JOIN entries e ON e.transaction_id = t.id
		 JOIN accounts a ON a.id IN (e.from_account_id, e.to_account_id)
		 WHERE t.created_at >= $1 AND t.created_at < $2
		   AND t.type = ANY($3)
		   AND e.asset_type = 'CURRENCY'
		   AND a.type = 'USER'
		 GROUP BY a.id`, start, end, typeNames)
	if err != nil {
		return nil, translateErr(err)
	}
	defer rows.Close()

	net := make(map[string]decimal.Decimal)
	for rows.Next() {
		var accountID, amountS string
		if err := rows.Scan(&accountID, &amountS); err != nil {
			return nil, err
		}
		net[accountID], _ = decimal.NewFromString(amountS)
	}
	return net, rows.Err()
}
