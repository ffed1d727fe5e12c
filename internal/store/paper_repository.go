package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hldesk/hldesk/internal/domain"
)

// ErrNotFound marks lookups whose subject does not exist.
var ErrNotFound = errors.New("not found")

// PaperRepository persists the rule-based paper-trading state.
type PaperRepository struct {
	store *Store
}

// portfolioRow adapts the JSONB strategy config for sqlx scanning.
type portfolioRow struct {
	ID             string    `db:"id"`
	StrategyName   string    `db:"strategy_name"`
	StrategyConfig jsonMap   `db:"strategy_config"`
	CashBalance    float64   `db:"cash_balance"`
	InitialBalance float64   `db:"initial_balance"`
	IsActive       bool      `db:"is_active"`
	CreatedAt      time.Time `db:"created_at"`
}

func (row portfolioRow) toDomain() domain.Portfolio {
	return domain.Portfolio{
		ID:             row.ID,
		StrategyName:   row.StrategyName,
		StrategyConfig: row.StrategyConfig,
		CashBalance:    row.CashBalance,
		InitialBalance: row.InitialBalance,
		IsActive:       row.IsActive,
		CreatedAt:      row.CreatedAt,
	}
}

const portfolioColumns = `id, strategy_name, strategy_config, cash_balance, initial_balance, is_active, created_at`

// ListPortfolios returns all portfolios, optionally only active ones.
func (r *PaperRepository) ListPortfolios(ctx context.Context, activeOnly bool) ([]domain.Portfolio, error) {
	if r.store == nil {
		return nil, fmt.Errorf("store not configured")
	}
	ctx, cancel := r.store.queryCtx(ctx)
	defer cancel()

	query := `SELECT ` + portfolioColumns + ` FROM paper_portfolios`
	if activeOnly {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY created_at`

	rows := []portfolioRow{}
	if err := r.store.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list portfolios: %w", err)
	}
	portfolios := make([]domain.Portfolio, len(rows))
	for i, row := range rows {
		portfolios[i] = row.toDomain()
	}
	return portfolios, nil
}

// GetPortfolio returns one portfolio or ErrNotFound.
func (r *PaperRepository) GetPortfolio(ctx context.Context, id string) (domain.Portfolio, error) {
	if r.store == nil {
		return domain.Portfolio{}, fmt.Errorf("store not configured")
	}
	ctx, cancel := r.store.queryCtx(ctx)
	defer cancel()

	var row portfolioRow
	err := r.store.db.GetContext(ctx, &row,
		`SELECT `+portfolioColumns+` FROM paper_portfolios WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Portfolio{}, fmt.Errorf("portfolio %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return domain.Portfolio{}, fmt.Errorf("failed to get portfolio: %w", err)
	}
	return row.toDomain(), nil
}

// UpdateCash persists a portfolio's cash balance at cycle end.
func (r *PaperRepository) UpdateCash(ctx context.Context, portfolioID string, cash float64) error {
	if err := r.store.requireWritable(); err != nil {
		return err
	}
	ctx, cancel := r.store.queryCtx(ctx)
	defer cancel()

	_, err := r.store.db.ExecContext(ctx,
		`UPDATE paper_portfolios SET cash_balance = $1 WHERE id = $2`, cash, portfolioID)
	if err != nil {
		return fmt.Errorf("failed to update portfolio cash: %w", err)
	}
	return nil
}

const positionColumns = `id, portfolio_id, asset, side, size_usd, entry_rate_8h, entry_spread, entry_price,
	total_funding_collected, last_funding_at, opened_at, is_open, exit_price, realized_pnl, closed_at, fees_paid`

// OpenPositions returns the open positions for one portfolio.
func (r *PaperRepository) OpenPositions(ctx context.Context, portfolioID string) ([]domain.Position, error) {
	if r.store == nil {
		return nil, fmt.Errorf("store not configured")
	}
	ctx, cancel := r.store.queryCtx(ctx)
	defer cancel()

	positions := []domain.Position{}
	err := r.store.db.SelectContext(ctx, &positions,
		`SELECT `+positionColumns+` FROM paper_positions
		 WHERE portfolio_id = $1 AND is_open ORDER BY opened_at`,
		portfolioID)
	if err != nil {
		return nil, fmt.Errorf("failed to list positions: %w", err)
	}
	return positions, nil
}

// ClosedPositions returns the most recently closed positions, newest first.
func (r *PaperRepository) ClosedPositions(ctx context.Context, portfolioID string, limit int) ([]domain.Position, error) {
	if r.store == nil {
		return nil, fmt.Errorf("store not configured")
	}
	ctx, cancel := r.store.queryCtx(ctx)
	defer cancel()

	positions := []domain.Position{}
	err := r.store.db.SelectContext(ctx, &positions,
		`SELECT `+positionColumns+` FROM paper_positions
		 WHERE portfolio_id = $1 AND NOT is_open ORDER BY closed_at DESC LIMIT $2`,
		portfolioID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list closed positions: %w", err)
	}
	return positions, nil
}

// InsertPosition stores a freshly opened position.
func (r *PaperRepository) InsertPosition(ctx context.Context, p domain.Position) error {
	if err := r.store.requireWritable(); err != nil {
		return err
	}
	ctx, cancel := r.store.queryCtx(ctx)
	defer cancel()

	_, err := r.store.db.ExecContext(ctx,
		`INSERT INTO paper_positions
			(id, portfolio_id, asset, side, size_usd, entry_rate_8h, entry_spread, entry_price,
			 total_funding_collected, last_funding_at, opened_at, is_open, fees_paid)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, TRUE, $12)`,
		p.ID, p.PortfolioID, p.Asset, p.Side, p.SizeUsd, p.EntryRate8h, p.EntrySpread, p.EntryPrice,
		p.TotalFundingCollected, p.LastFundingAt, p.OpenedAt, p.FeesPaid)
	if err != nil {
		return fmt.Errorf("failed to insert position: %w", err)
	}
	return nil
}

// AccrueFunding adds a funding payment to an open position.
func (r *PaperRepository) AccrueFunding(ctx context.Context, positionID string, amount float64, at time.Time) error {
	if err := r.store.requireWritable(); err != nil {
		return err
	}
	ctx, cancel := r.store.queryCtx(ctx)
	defer cancel()

	_, err := r.store.db.ExecContext(ctx,
		`UPDATE paper_positions
		 SET total_funding_collected = total_funding_collected + $1, last_funding_at = $2
		 WHERE id = $3 AND is_open`,
		amount, at, positionID)
	if err != nil {
		return fmt.Errorf("failed to accrue funding: %w", err)
	}
	return nil
}

// ClosePosition finalizes a position with its exit accounting.
func (r *PaperRepository) ClosePosition(ctx context.Context, positionID string, exitPrice, realizedPnl, feesPaid float64, closedAt time.Time) error {
	if err := r.store.requireWritable(); err != nil {
		return err
	}
	ctx, cancel := r.store.queryCtx(ctx)
	defer cancel()

	_, err := r.store.db.ExecContext(ctx,
		`UPDATE paper_positions
		 SET is_open = FALSE, exit_price = $1, realized_pnl = $2, fees_paid = $3, closed_at = $4
		 WHERE id = $5 AND is_open`,
		exitPrice, realizedPnl, feesPaid, closedAt, positionID)
	if err != nil {
		return fmt.Errorf("failed to close position: %w", err)
	}
	return nil
}

// InsertTransaction appends one audit-log entry.
func (r *PaperRepository) InsertTransaction(ctx context.Context, tx domain.Transaction) error {
	if err := r.store.requireWritable(); err != nil {
		return err
	}
	ctx, cancel := r.store.queryCtx(ctx)
	defer cancel()

	_, err := r.store.db.ExecContext(ctx,
		`INSERT INTO paper_transactions (id, portfolio_id, position_id, type, asset, amount, description, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		tx.ID, tx.PortfolioID, tx.PositionID, tx.Type, tx.Asset, tx.Amount, tx.Description, tx.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

// Transactions returns the newest audit entries for one portfolio.
func (r *PaperRepository) Transactions(ctx context.Context, portfolioID string, limit int) ([]domain.Transaction, error) {
	if r.store == nil {
		return nil, fmt.Errorf("store not configured")
	}
	ctx, cancel := r.store.queryCtx(ctx)
	defer cancel()

	if limit <= 0 || limit > 500 {
		limit = 100
	}

	txs := []domain.Transaction{}
	err := r.store.db.SelectContext(ctx, &txs,
		`SELECT id, portfolio_id, position_id, type, asset, amount, description, created_at
		 FROM paper_transactions WHERE portfolio_id = $1 ORDER BY created_at DESC LIMIT $2`,
		portfolioID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return txs, nil
}

// InsertSnapshot appends one hourly equity sample for a portfolio.
func (r *PaperRepository) InsertSnapshot(ctx context.Context, snap domain.EquitySnapshot) error {
	if err := r.store.requireWritable(); err != nil {
		return err
	}
	ctx, cancel := r.store.queryCtx(ctx)
	defer cancel()

	_, err := r.store.db.ExecContext(ctx,
		`INSERT INTO paper_snapshots (portfolio_id, snapshot_at, total_value, cash_balance, unrealized_pnl, funding_collected, open_positions)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		snap.OwnerID, snap.SnapshotAt, snap.TotalValue, snap.CashBalance,
		snap.UnrealizedPnl, snap.FundingCollected, snap.OpenPositions)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}
	return nil
}

// snapshotRow carries the shared equity-sample columns.
type snapshotRow struct {
	OwnerID          string    `db:"owner_id"`
	SnapshotAt       time.Time `db:"snapshot_at"`
	TotalValue       float64   `db:"total_value"`
	CashBalance      float64   `db:"cash_balance"`
	UnrealizedPnl    float64   `db:"unrealized_pnl"`
	FundingCollected float64   `db:"funding_collected"`
	OpenPositions    int       `db:"open_positions"`
}

func snapshotsToDomain(rows []snapshotRow, ownerKind string) []domain.EquitySnapshot {
	snaps := make([]domain.EquitySnapshot, len(rows))
	for i, row := range rows {
		snaps[i] = domain.EquitySnapshot{
			OwnerID:          row.OwnerID,
			OwnerKind:        ownerKind,
			SnapshotAt:       row.SnapshotAt,
			TotalValue:       row.TotalValue,
			CashBalance:      row.CashBalance,
			UnrealizedPnl:    row.UnrealizedPnl,
			FundingCollected: row.FundingCollected,
			OpenPositions:    row.OpenPositions,
		}
	}
	return snaps
}

// Snapshots returns a portfolio's equity samples oldest-first, for the
// analytics return series. The limit keeps the most recent samples.
func (r *PaperRepository) Snapshots(ctx context.Context, portfolioID string, limit int) ([]domain.EquitySnapshot, error) {
	if r.store == nil {
		return nil, fmt.Errorf("store not configured")
	}
	ctx, cancel := r.store.queryCtx(ctx)
	defer cancel()

	if limit <= 0 || limit > 5000 {
		limit = 1000
	}

	rows := []snapshotRow{}
	err := r.store.db.SelectContext(ctx, &rows,
		`SELECT portfolio_id AS owner_id, snapshot_at, total_value, cash_balance, unrealized_pnl, funding_collected, open_positions
		 FROM paper_snapshots WHERE portfolio_id = $1 ORDER BY snapshot_at DESC LIMIT $2`,
		portfolioID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	reverseSnapshotRows(rows)
	return snapshotsToDomain(rows, domain.OwnerPortfolio), nil
}

// reverseSnapshotRows flips a newest-first page into series order.
func reverseSnapshotRows(rows []snapshotRow) {
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
}
