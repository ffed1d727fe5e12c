package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hldesk/hldesk/internal/domain"
)

// AIRepository persists the LLM-driven agents' state.
type AIRepository struct {
	store *Store
}

const traderColumns = `id, name, model, emoji, persona, cash_balance, is_active`

// ListTraders returns all agents, optionally only active ones.
func (r *AIRepository) ListTraders(ctx context.Context, activeOnly bool) ([]domain.AiTrader, error) {
	if r.store == nil {
		return nil, fmt.Errorf("store not configured")
	}
	ctx, cancel := r.store.queryCtx(ctx)
	defer cancel()

	query := `SELECT ` + traderColumns + ` FROM ai_traders`
	if activeOnly {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY name`

	traders := []domain.AiTrader{}
	if err := r.store.db.SelectContext(ctx, &traders, query); err != nil {
		return nil, fmt.Errorf("failed to list traders: %w", err)
	}
	return traders, nil
}

// GetTraderByName returns one agent or ErrNotFound.
func (r *AIRepository) GetTraderByName(ctx context.Context, name string) (domain.AiTrader, error) {
	if r.store == nil {
		return domain.AiTrader{}, fmt.Errorf("store not configured")
	}
	ctx, cancel := r.store.queryCtx(ctx)
	defer cancel()

	var trader domain.AiTrader
	err := r.store.db.GetContext(ctx, &trader,
		`SELECT `+traderColumns+` FROM ai_traders WHERE name = $1`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.AiTrader{}, fmt.Errorf("trader %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return domain.AiTrader{}, fmt.Errorf("failed to get trader: %w", err)
	}
	return trader, nil
}

// UpdateCash persists an agent's cash balance.
func (r *AIRepository) UpdateCash(ctx context.Context, traderID string, cash float64) error {
	if err := r.store.requireWritable(); err != nil {
		return err
	}
	ctx, cancel := r.store.queryCtx(ctx)
	defer cancel()

	_, err := r.store.db.ExecContext(ctx,
		`UPDATE ai_traders SET cash_balance = $1 WHERE id = $2`, cash, traderID)
	if err != nil {
		return fmt.Errorf("failed to update trader cash: %w", err)
	}
	return nil
}

const aiPositionColumns = `id, trader_id, asset, direction, size_usd, entry_price, entry_rate_8h,
	funding_collected, last_funding_at, opened_at, is_open, exit_price, realized_pnl, closed_at`

// OpenPositions returns an agent's open positions.
func (r *AIRepository) OpenPositions(ctx context.Context, traderID string) ([]domain.AiPosition, error) {
	if r.store == nil {
		return nil, fmt.Errorf("store not configured")
	}
	ctx, cancel := r.store.queryCtx(ctx)
	defer cancel()

	positions := []domain.AiPosition{}
	err := r.store.db.SelectContext(ctx, &positions,
		`SELECT `+aiPositionColumns+` FROM ai_positions
		 WHERE trader_id = $1 AND is_open ORDER BY opened_at`,
		traderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list AI positions: %w", err)
	}
	return positions, nil
}

// InsertPosition stores a freshly opened agent position.
func (r *AIRepository) InsertPosition(ctx context.Context, p domain.AiPosition) error {
	if err := r.store.requireWritable(); err != nil {
		return err
	}
	ctx, cancel := r.store.queryCtx(ctx)
	defer cancel()

	_, err := r.store.db.ExecContext(ctx,
		`INSERT INTO ai_positions
			(id, trader_id, asset, direction, size_usd, entry_price, entry_rate_8h,
			 funding_collected, last_funding_at, opened_at, is_open)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, TRUE)`,
		p.ID, p.TraderID, p.Asset, p.Direction, p.SizeUsd, p.EntryPrice, p.EntryRate8h,
		p.FundingCollected, p.LastFundingAt, p.OpenedAt)
	if err != nil {
		return fmt.Errorf("failed to insert AI position: %w", err)
	}
	return nil
}

// AccrueFunding adds a funding payment to an open agent position.
func (r *AIRepository) AccrueFunding(ctx context.Context, positionID string, amount float64, at time.Time) error {
	if err := r.store.requireWritable(); err != nil {
		return err
	}
	ctx, cancel := r.store.queryCtx(ctx)
	defer cancel()

	_, err := r.store.db.ExecContext(ctx,
		`UPDATE ai_positions
		 SET funding_collected = funding_collected + $1, last_funding_at = $2
		 WHERE id = $3 AND is_open`,
		amount, at, positionID)
	if err != nil {
		return fmt.Errorf("failed to accrue AI funding: %w", err)
	}
	return nil
}

// ClosePosition finalizes an agent position.
func (r *AIRepository) ClosePosition(ctx context.Context, positionID string, exitPrice, realizedPnl float64, closedAt time.Time) error {
	if err := r.store.requireWritable(); err != nil {
		return err
	}
	ctx, cancel := r.store.queryCtx(ctx)
	defer cancel()

	_, err := r.store.db.ExecContext(ctx,
		`UPDATE ai_positions
		 SET is_open = FALSE, exit_price = $1, realized_pnl = $2, closed_at = $3
		 WHERE id = $4 AND is_open`,
		exitPrice, realizedPnl, closedAt, positionID)
	if err != nil {
		return fmt.Errorf("failed to close AI position: %w", err)
	}
	return nil
}

// InsertDecision appends one agent decision.
func (r *AIRepository) InsertDecision(ctx context.Context, d domain.AiDecision) error {
	if err := r.store.requireWritable(); err != nil {
		return err
	}
	ctx, cancel := r.store.queryCtx(ctx)
	defer cancel()

	_, err := r.store.db.ExecContext(ctx,
		`INSERT INTO ai_decisions (id, trader_id, action, asset, size_usd, reasoning, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		d.ID, d.TraderID, d.Action, d.Asset, d.SizeUsd, d.Reasoning, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert decision: %w", err)
	}
	return nil
}

// Decisions returns an agent's newest decisions.
func (r *AIRepository) Decisions(ctx context.Context, traderID string, limit int) ([]domain.AiDecision, error) {
	if r.store == nil {
		return nil, fmt.Errorf("store not configured")
	}
	ctx, cancel := r.store.queryCtx(ctx)
	defer cancel()

	if limit <= 0 || limit > 500 {
		limit = 50
	}

	decisions := []domain.AiDecision{}
	err := r.store.db.SelectContext(ctx, &decisions,
		`SELECT id, trader_id, action, asset, size_usd, reasoning, created_at
		 FROM ai_decisions WHERE trader_id = $1 ORDER BY created_at DESC LIMIT $2`,
		traderID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list decisions: %w", err)
	}
	return decisions, nil
}

// InsertSnapshot appends one hourly equity sample for an agent.
func (r *AIRepository) InsertSnapshot(ctx context.Context, snap domain.EquitySnapshot) error {
	if err := r.store.requireWritable(); err != nil {
		return err
	}
	ctx, cancel := r.store.queryCtx(ctx)
	defer cancel()

	_, err := r.store.db.ExecContext(ctx,
		`INSERT INTO ai_snapshots (trader_id, snapshot_at, total_value, cash_balance, unrealized_pnl, funding_collected, open_positions)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		snap.OwnerID, snap.SnapshotAt, snap.TotalValue, snap.CashBalance,
		snap.UnrealizedPnl, snap.FundingCollected, snap.OpenPositions)
	if err != nil {
		return fmt.Errorf("failed to insert AI snapshot: %w", err)
	}
	return nil
}

// Snapshots returns an agent's equity samples oldest-first. The limit keeps
// the most recent samples.
func (r *AIRepository) Snapshots(ctx context.Context, traderID string, limit int) ([]domain.EquitySnapshot, error) {
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
		`SELECT trader_id AS owner_id, snapshot_at, total_value, cash_balance, unrealized_pnl, funding_collected, open_positions
		 FROM ai_snapshots WHERE trader_id = $1 ORDER BY snapshot_at DESC LIMIT $2`,
		traderID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list AI snapshots: %w", err)
	}
	reverseSnapshotRows(rows)
	return snapshotsToDomain(rows, domain.OwnerAgent), nil
}
