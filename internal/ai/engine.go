package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hldesk/hldesk/internal/domain"
)

const (
	// Fixed stop-loss fraction for agent positions.
	stopLossPct = 0.15

	// Per-side taker fee.
	feeRate = 0.0005

	// Execution caps.
	maxOpenPositions = 3
	maxSizeOfTotal   = 0.3
	minPositionSize  = 100.0
)

// Repo is the persistence surface the AI engine drives. *store.AIRepository
// satisfies it.
type Repo interface {
	GetTraderByName(ctx context.Context, name string) (domain.AiTrader, error)
	OpenPositions(ctx context.Context, traderID string) ([]domain.AiPosition, error)
	InsertPosition(ctx context.Context, p domain.AiPosition) error
	AccrueFunding(ctx context.Context, positionID string, amount float64, at time.Time) error
	ClosePosition(ctx context.Context, positionID string, exitPrice, realizedPnl float64, closedAt time.Time) error
	InsertDecision(ctx context.Context, d domain.AiDecision) error
	UpdateCash(ctx context.Context, traderID string, cash float64) error
}

// Completer produces one model response; *OpenRouterClient satisfies it.
// A nil Completer means no API key is configured and every cycle holds.
type Completer interface {
	Complete(ctx context.Context, model, systemPrompt, userPrompt string) (string, error)
}

// Engine runs one decision cycle per agent per call. Cycles for distinct
// agents are independent; callers must not run two cycles for the same agent
// concurrently.
type Engine struct {
	repo  Repo
	llm   Completer
	log   zerolog.Logger
	now   func() time.Time
	newID func() string
}

// NewEngine creates the AI trader engine. llm may be nil.
func NewEngine(repo Repo, llm Completer, log zerolog.Logger) *Engine {
	return &Engine{
		repo:  repo,
		llm:   llm,
		log:   log.With().Str("component", "ai").Logger(),
		now:   time.Now,
		newID: func() string { return uuid.NewString() },
	}
}

// RunAgentCycle executes one full cycle for the named agent: funding accrual
// and stop-loss, then one LLM decision, validated, capped and executed.
// Exactly one decision row is persisted per call and at most one position is
// mutated by the decision itself.
func (e *Engine) RunAgentCycle(ctx context.Context, name string, result domain.AggregatedResult) (domain.AiDecision, error) {
	trader, err := e.repo.GetTraderByName(ctx, name)
	if err != nil {
		return domain.AiDecision{}, err
	}
	if !trader.IsActive {
		return domain.AiDecision{}, fmt.Errorf("trader %s is not active", name)
	}
	log := e.log.With().Str("agent", trader.Name).Logger()

	positions, err := e.repo.OpenPositions(ctx, trader.ID)
	if err != nil {
		return domain.AiDecision{}, fmt.Errorf("failed to load positions: %w", err)
	}

	// Funding accrual and stop-loss run before the model sees the book.
	cash := trader.CashBalance
	remaining := positions[:0]
	for i := range positions {
		accrued, err := e.accrueFunding(ctx, &positions[i], result)
		if err != nil {
			return domain.AiDecision{}, err
		}
		cash += accrued

		closed, credit, err := e.checkStopLoss(ctx, trader, &positions[i], result, log)
		if err != nil {
			return domain.AiDecision{}, err
		}
		if closed {
			cash += credit
			continue
		}
		remaining = append(remaining, positions[i])
	}
	positions = remaining
	trader.CashBalance = cash

	decision := e.decide(ctx, trader, positions, result, log)
	decision, cash = e.execute(ctx, trader, positions, result, decision, log)

	decision.ID = e.newID()
	decision.TraderID = trader.ID
	decision.CreatedAt = e.now()
	if err := e.repo.InsertDecision(ctx, decision); err != nil {
		return decision, fmt.Errorf("failed to persist decision: %w", err)
	}
	if err := e.repo.UpdateCash(ctx, trader.ID, cash); err != nil {
		return decision, fmt.Errorf("failed to persist cash: %w", err)
	}

	log.Info().
		Str("action", decision.Action).
		Str("asset", decision.Asset).
		Msg("Agent cycle complete")
	return decision, nil
}

func (e *Engine) accrueFunding(ctx context.Context, pos *domain.AiPosition, result domain.AggregatedResult) (float64, error) {
	spread := result.SpreadFor(pos.Asset)
	if spread == nil {
		return 0, nil
	}
	hours := int64(e.now().Sub(pos.LastFundingAt).Hours())
	if hours <= 0 {
		return 0, nil
	}

	hourlyRate := spread.Primary.Rate8h / 8
	earned := pos.SizeUsd * hourlyRate * float64(hours) * domain.DirectionSign(pos.Direction)
	accruedAt := pos.LastFundingAt.Add(time.Duration(hours) * time.Hour)

	if err := e.repo.AccrueFunding(ctx, pos.ID, earned, accruedAt); err != nil {
		return 0, fmt.Errorf("failed to accrue funding: %w", err)
	}
	pos.FundingCollected += earned
	pos.LastFundingAt = accruedAt
	return earned, nil
}

// checkStopLoss closes the position when its price loss breaches the fixed
// stop, returning the cash credit.
func (e *Engine) checkStopLoss(ctx context.Context, trader domain.AiTrader, pos *domain.AiPosition, result domain.AggregatedResult, log zerolog.Logger) (bool, float64, error) {
	spread := result.SpreadFor(pos.Asset)
	if spread == nil || spread.Primary.MarkPrice <= 0 || pos.EntryPrice <= 0 {
		return false, 0, nil
	}
	mark := spread.Primary.MarkPrice

	pricePct := pos.UnrealizedPnl(mark) / pos.SizeUsd
	if pricePct >= -stopLossPct {
		return false, 0, nil
	}

	credit, realizedPnl, err := e.closePosition(ctx, pos, mark)
	if err != nil {
		return false, 0, err
	}

	// Stop closes still count as decisions the agent can see in its history.
	stop := domain.AiDecision{
		ID:        e.newID(),
		TraderID:  trader.ID,
		Action:    domain.ActionClose,
		Asset:     pos.Asset,
		SizeUsd:   pos.SizeUsd,
		Reasoning: fmt.Sprintf("stop loss: %s %s down %.1f%% from entry", pos.Direction, pos.Asset, -pricePct*100),
		CreatedAt: e.now(),
	}
	if err := e.repo.InsertDecision(ctx, stop); err != nil {
		return false, 0, fmt.Errorf("failed to persist stop decision: %w", err)
	}

	log.Warn().
		Str("asset", pos.Asset).
		Float64("realizedPnl", realizedPnl).
		Msg("Stop loss triggered")
	return true, credit, nil
}

// closePosition finalizes one position at the given mark. Funding already
// sits in cash; the credit covers notional and price P&L net of the exit fee.
func (e *Engine) closePosition(ctx context.Context, pos *domain.AiPosition, mark float64) (credit, realizedPnl float64, err error) {
	priceReturn := pos.UnrealizedPnl(mark)
	entryFee := pos.SizeUsd * feeRate
	exitFee := pos.SizeUsd * feeRate
	realizedPnl = priceReturn + pos.FundingCollected - entryFee - exitFee
	credit = pos.SizeUsd + priceReturn - exitFee

	if err := e.repo.ClosePosition(ctx, pos.ID, mark, realizedPnl, e.now()); err != nil {
		return 0, 0, fmt.Errorf("failed to close position: %w", err)
	}
	return credit, realizedPnl, nil
}

// decide obtains one validated decision from the model, downgrading every
// failure mode to hold.
func (e *Engine) decide(ctx context.Context, trader domain.AiTrader, positions []domain.AiPosition, result domain.AggregatedResult, log zerolog.Logger) domain.AiDecision {
	if e.llm == nil {
		return domain.AiDecision{Action: domain.ActionHold, Reasoning: "no LLM configured"}
	}

	content, err := e.llm.Complete(ctx, trader.Model, systemPrompt(trader), userPrompt(trader, positions, result))
	if err != nil {
		log.Warn().Err(err).Msg("Completion failed, holding")
		return domain.AiDecision{Action: domain.ActionHold, Reasoning: fmt.Sprintf("%v, holding", err)}
	}

	raw, err := parseDecision(content)
	if err != nil {
		log.Warn().Err(err).Msg("Undecodable decision, holding")
		return domain.AiDecision{Action: domain.ActionHold, Reasoning: fmt.Sprintf("undecodable decision, holding: %v", err)}
	}

	return domain.AiDecision{
		Action:    raw.Action,
		Asset:     raw.Asset,
		SizeUsd:   raw.SizeUsd,
		Reasoning: raw.Reasoning,
	}
}

// execute applies the decision under the risk caps, downgrading violations
// to hold, and returns the final decision plus updated cash.
func (e *Engine) execute(ctx context.Context, trader domain.AiTrader, positions []domain.AiPosition, result domain.AggregatedResult, decision domain.AiDecision, log zerolog.Logger) (domain.AiDecision, float64) {
	cash := trader.CashBalance

	hold := func(reason string) (domain.AiDecision, float64) {
		decision.Action = domain.ActionHold
		decision.Reasoning = reason
		return decision, cash
	}

	switch decision.Action {
	case domain.ActionHold:
		return decision, cash

	case domain.ActionClose:
		var target *domain.AiPosition
		for i := range positions {
			if positions[i].Asset == decision.Asset {
				target = &positions[i]
				break
			}
		}
		if target == nil {
			return hold(fmt.Sprintf("no open position in %s to close", decision.Asset))
		}
		mark := target.EntryPrice
		if s := result.SpreadFor(target.Asset); s != nil && s.Primary.MarkPrice > 0 {
			mark = s.Primary.MarkPrice
		}
		credit, realizedPnl, err := e.closePosition(ctx, target, mark)
		if err != nil {
			log.Error().Err(err).Msg("Close failed, holding")
			return hold(fmt.Sprintf("close failed: %v", err))
		}
		cash += credit
		decision.SizeUsd = target.SizeUsd
		log.Info().Str("asset", target.Asset).Float64("realizedPnl", realizedPnl).Msg("Closed position")
		return decision, cash

	case domain.ActionOpenLong, domain.ActionOpenShort:
		if len(positions) >= maxOpenPositions {
			return hold(fmt.Sprintf("already at %d open positions", maxOpenPositions))
		}
		for _, p := range positions {
			if p.Asset == decision.Asset {
				return hold(fmt.Sprintf("already holding %s", decision.Asset))
			}
		}
		spread := result.SpreadFor(decision.Asset)
		if spread == nil || spread.Primary.MarkPrice <= 0 {
			return hold(fmt.Sprintf("no market data for %s", decision.Asset))
		}

		totalValue, _ := markToMarket(trader, positions, result)
		size := decision.SizeUsd
		if limit := totalValue * maxSizeOfTotal; size > limit {
			size = limit
		}
		fee := size * feeRate
		if size-fee < minPositionSize {
			return hold(fmt.Sprintf("position of $%.2f is below the $%.0f minimum", size, minPositionSize))
		}
		if cash < size+fee {
			return hold(fmt.Sprintf("insufficient cash for $%.2f position", size))
		}

		direction := domain.DirectionLong
		if decision.Action == domain.ActionOpenShort {
			direction = domain.DirectionShort
		}
		now := e.now()
		position := domain.AiPosition{
			ID:            e.newID(),
			TraderID:      trader.ID,
			Asset:         decision.Asset,
			Direction:     direction,
			SizeUsd:       size,
			EntryPrice:    spread.Primary.MarkPrice,
			EntryRate8h:   spread.Primary.Rate8h,
			LastFundingAt: now,
			OpenedAt:      now,
			IsOpen:        true,
		}
		if err := e.repo.InsertPosition(ctx, position); err != nil {
			log.Error().Err(err).Msg("Open failed, holding")
			return hold(fmt.Sprintf("open failed: %v", err))
		}
		cash -= size + fee
		decision.SizeUsd = size
		log.Info().Str("asset", decision.Asset).Str("direction", direction).Float64("size", size).Msg("Opened position")
		return decision, cash
	}

	return hold(fmt.Sprintf("unsupported action %q", decision.Action))
}
