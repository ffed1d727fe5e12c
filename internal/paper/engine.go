package paper

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hldesk/hldesk/internal/domain"
)

// Minimum notional for a new position.
const minPositionSize = 100

// Repo is the persistence surface the engine drives. *store.PaperRepository
// satisfies it.
type Repo interface {
	ListPortfolios(ctx context.Context, activeOnly bool) ([]domain.Portfolio, error)
	OpenPositions(ctx context.Context, portfolioID string) ([]domain.Position, error)
	InsertPosition(ctx context.Context, p domain.Position) error
	AccrueFunding(ctx context.Context, positionID string, amount float64, at time.Time) error
	ClosePosition(ctx context.Context, positionID string, exitPrice, realizedPnl, feesPaid float64, closedAt time.Time) error
	InsertTransaction(ctx context.Context, tx domain.Transaction) error
	UpdateCash(ctx context.Context, portfolioID string, cash float64) error
}

// Engine drives every active portfolio once per poll cycle. Portfolios are
// isolated: one failing or panicking portfolio never aborts the others.
type Engine struct {
	repo  Repo
	log   zerolog.Logger
	now   func() time.Time
	newID func() string
}

// NewEngine creates the paper-trading engine.
func NewEngine(repo Repo, log zerolog.Logger) *Engine {
	return &Engine{
		repo:  repo,
		log:   log.With().Str("component", "paper").Logger(),
		now:   time.Now,
		newID: func() string { return uuid.NewString() },
	}
}

// RunCycle executes one trading cycle for every active portfolio against the
// given aggregate. An empty aggregate is a no-op.
func (e *Engine) RunCycle(ctx context.Context, result domain.AggregatedResult) {
	if len(result.Spreads) == 0 {
		return
	}

	portfolios, err := e.repo.ListPortfolios(ctx, true)
	if err != nil {
		e.log.Error().Err(err).Msg("Failed to list portfolios")
		return
	}

	for _, portfolio := range portfolios {
		e.runPortfolio(ctx, portfolio, result)
	}
}

func (e *Engine) runPortfolio(ctx context.Context, portfolio domain.Portfolio, result domain.AggregatedResult) {
	log := e.log.With().Str("portfolio", portfolio.ID).Str("strategy", portfolio.StrategyName).Logger()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Portfolio cycle panicked")
		}
	}()

	if err := e.cycle(ctx, portfolio, result, log); err != nil {
		log.Error().Err(err).Msg("Portfolio cycle failed")
	}
}

func (e *Engine) cycle(ctx context.Context, portfolio domain.Portfolio, result domain.AggregatedResult, log zerolog.Logger) error {
	positions, err := e.repo.OpenPositions(ctx, portfolio.ID)
	if err != nil {
		return fmt.Errorf("failed to load open positions: %w", err)
	}

	cfg := newStrategyConfig(portfolio.StrategyConfig)
	cash := portfolio.CashBalance
	now := e.now()

	// Phase 1: funding accrual.
	for i := range positions {
		earned, err := e.accrueFunding(ctx, portfolio.ID, &positions[i], result, now)
		if err != nil {
			return err
		}
		cash += earned
	}

	// Phase 2: stop-loss then strategy exits.
	remaining := positions[:0]
	for i := range positions {
		closed, credit, err := e.evaluateExit(ctx, portfolio, cfg, &positions[i], result, now, log)
		if err != nil {
			return err
		}
		if closed {
			cash += credit
			continue
		}
		remaining = append(remaining, positions[i])
	}

	// Phase 3: entries.
	cash, err = e.enterPositions(ctx, portfolio, cfg, remaining, result, cash, now, log)
	if err != nil {
		return err
	}

	if err := e.repo.UpdateCash(ctx, portfolio.ID, cash); err != nil {
		return fmt.Errorf("failed to persist cash: %w", err)
	}
	return nil
}

// accrueFunding credits whole elapsed hours of funding for one position and
// returns the earned amount. The sub-hour remainder carries to the next
// cycle.
func (e *Engine) accrueFunding(ctx context.Context, portfolioID string, pos *domain.Position, result domain.AggregatedResult, now time.Time) (float64, error) {
	spread := result.SpreadFor(pos.Asset)
	if spread == nil {
		return 0, nil
	}

	hours := int64(now.Sub(pos.LastFundingAt).Hours())
	if hours <= 0 {
		return 0, nil
	}

	hourlyRate := spread.Primary.Rate8h / 8
	earned := pos.SizeUsd * hourlyRate * float64(hours) * domain.SideSign(pos.Side)
	accruedAt := pos.LastFundingAt.Add(time.Duration(hours) * time.Hour)

	if err := e.repo.AccrueFunding(ctx, pos.ID, earned, accruedAt); err != nil {
		return 0, fmt.Errorf("failed to accrue funding: %w", err)
	}
	if err := e.insertTx(ctx, portfolioID, &pos.ID, domain.TxFunding, pos.Asset, earned,
		fmt.Sprintf("funding %dh at %.6f/8h", hours, spread.Primary.Rate8h), now); err != nil {
		return 0, err
	}

	pos.TotalFundingCollected += earned
	pos.LastFundingAt = accruedAt
	return earned, nil
}

// evaluateExit closes the position if stop-loss or the strategy rule fires,
// returning the cash credit. Funding already sits in cash from Phase 1, so
// the close credit excludes it; realized P&L still reports it.
func (e *Engine) evaluateExit(ctx context.Context, portfolio domain.Portfolio, cfg strategyConfig, pos *domain.Position, result domain.AggregatedResult, now time.Time, log zerolog.Logger) (bool, float64, error) {
	spread := result.SpreadFor(pos.Asset)
	if spread == nil || spread.Primary.MarkPrice <= 0 || pos.EntryPrice <= 0 {
		return false, 0, nil
	}
	mark := spread.Primary.MarkPrice

	reason := ""
	pricePct := domain.SideSign(pos.Side) * (pos.EntryPrice - mark) / pos.EntryPrice
	if pricePct < -cfg.stopLossPct() {
		reason = "stop_loss"
	} else if exit, why := shouldExit(portfolio.StrategyName, cfg, *pos, spread); exit {
		reason = why
	}
	if reason == "" {
		return false, 0, nil
	}

	priceReturn := pricePct * pos.SizeUsd
	exitFee := pos.SizeUsd * feeRate
	realizedPnl := priceReturn + pos.TotalFundingCollected - exitFee
	credit := pos.SizeUsd + priceReturn - exitFee

	err := e.repo.ClosePosition(ctx, pos.ID, mark, realizedPnl, pos.FeesPaid+exitFee, now)
	if err != nil {
		return false, 0, fmt.Errorf("failed to close position: %w", err)
	}
	if err := e.insertTx(ctx, portfolio.ID, &pos.ID, domain.TxClose, pos.Asset, credit,
		fmt.Sprintf("close %s (%s), pnl %.2f", pos.Side, reason, realizedPnl), now); err != nil {
		return false, 0, err
	}

	log.Info().
		Str("asset", pos.Asset).
		Str("reason", reason).
		Float64("realizedPnl", realizedPnl).
		Msg("Closed position")
	return true, credit, nil
}

// enterPositions opens ranked candidates until the position or cash caps
// bind, returning the updated cash balance.
func (e *Engine) enterPositions(ctx context.Context, portfolio domain.Portfolio, cfg strategyConfig, open []domain.Position, result domain.AggregatedResult, cash float64, now time.Time, log zerolog.Logger) (float64, error) {
	totalValue := cash
	held := make(map[string]bool, len(open))
	for _, pos := range open {
		totalValue += pos.SizeUsd
		held[pos.Asset] = true
	}

	maxSize := totalValue * cfg.maxPositionSizePct()
	maxPositions := cfg.maxPositions()
	if len(open) >= maxPositions || cash < maxSize*0.5 {
		return cash, nil
	}

	openCount := len(open)
	for _, cand := range selectCandidates(portfolio.StrategyName, cfg, result) {
		if openCount >= maxPositions {
			break
		}
		asset := cand.spread.Asset
		if held[asset] {
			continue
		}
		mark := cand.spread.Primary.MarkPrice
		if mark <= 0 {
			continue
		}

		size := math.Min(maxSize, cash-maxSize*feeRate)
		fee := size * feeRate
		if size < minPositionSize || cash < size+fee {
			break
		}

		position := domain.Position{
			ID:            e.newID(),
			PortfolioID:   portfolio.ID,
			Asset:         asset,
			Side:          cand.side,
			SizeUsd:       size,
			EntryRate8h:   cand.spread.Primary.Rate8h,
			EntrySpread:   cand.spread.MaxSpread,
			EntryPrice:    mark,
			LastFundingAt: now,
			OpenedAt:      now,
			IsOpen:        true,
			FeesPaid:      fee,
		}
		if err := e.repo.InsertPosition(ctx, position); err != nil {
			return cash, fmt.Errorf("failed to open position: %w", err)
		}
		if err := e.insertTx(ctx, portfolio.ID, &position.ID, domain.TxOpen, asset, -size,
			fmt.Sprintf("open %s at %.6g", cand.side, mark), now); err != nil {
			return cash, err
		}
		if err := e.insertTx(ctx, portfolio.ID, &position.ID, domain.TxFee, asset, -fee, "entry fee", now); err != nil {
			return cash, err
		}

		cash -= size + fee
		held[asset] = true
		openCount++

		log.Info().
			Str("asset", asset).
			Str("side", cand.side).
			Float64("size", size).
			Msg("Opened position")
	}
	return cash, nil
}

func (e *Engine) insertTx(ctx context.Context, portfolioID string, positionID *string, txType, asset string, amount float64, description string, now time.Time) error {
	err := e.repo.InsertTransaction(ctx, domain.Transaction{
		ID:          e.newID(),
		PortfolioID: portfolioID,
		PositionID:  positionID,
		Type:        txType,
		Asset:       asset,
		Amount:      amount,
		Description: description,
		CreatedAt:   now,
	})
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}
