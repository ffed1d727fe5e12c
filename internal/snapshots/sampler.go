// Package snapshots samples hourly mark-to-market equity for every paper
// portfolio and AI agent.
package snapshots

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/hldesk/hldesk/internal/domain"
	"github.com/hldesk/hldesk/internal/store"
)

// RateSource provides the latest aggregation for mark-to-market valuation.
type RateSource interface {
	Latest() domain.AggregatedResult
}

// Sampler implements scheduler.Job; Run snapshots every portfolio and agent.
type Sampler struct {
	store *store.Store
	rates RateSource
	log   zerolog.Logger
	now   func() time.Time
}

// New creates the sampler.
func New(st *store.Store, rates RateSource, log zerolog.Logger) *Sampler {
	return &Sampler{
		store: st,
		rates: rates,
		log:   log.With().Str("component", "snapshots").Logger(),
		now:   time.Now,
	}
}

// Name implements scheduler.Job.
func (s *Sampler) Name() string { return "equity-snapshots" }

// Run implements scheduler.Job. Per-owner failures are logged and skipped so
// one broken book never blocks the rest.
func (s *Sampler) Run() error {
	count, err := s.SnapshotAll(context.Background())
	if err != nil {
		return err
	}
	s.log.Info().Int("snapshotted", count).Msg("Equity snapshots written")
	return nil
}

// SnapshotAll writes one equity sample per portfolio and per agent and
// returns how many were written.
func (s *Sampler) SnapshotAll(ctx context.Context) (int, error) {
	if !s.store.Writable() {
		return 0, fmt.Errorf("store is not writable")
	}

	result := s.rates.Latest()
	now := s.now()
	count := 0

	portfolios, err := s.store.Paper.ListPortfolios(ctx, false)
	if err != nil {
		return 0, fmt.Errorf("failed to list portfolios: %w", err)
	}
	for _, p := range portfolios {
		snap, err := s.portfolioSnapshot(ctx, p, result, now)
		if err != nil {
			s.log.Error().Err(err).Str("portfolio", p.ID).Msg("Portfolio snapshot failed")
			continue
		}
		if err := s.store.Paper.InsertSnapshot(ctx, snap); err != nil {
			s.log.Error().Err(err).Str("portfolio", p.ID).Msg("Portfolio snapshot insert failed")
			continue
		}
		count++
	}

	traders, err := s.store.AI.ListTraders(ctx, false)
	if err != nil {
		return count, fmt.Errorf("failed to list traders: %w", err)
	}
	for _, t := range traders {
		snap, err := s.traderSnapshot(ctx, t, result, now)
		if err != nil {
			s.log.Error().Err(err).Str("trader", t.ID).Msg("Trader snapshot failed")
			continue
		}
		if err := s.store.AI.InsertSnapshot(ctx, snap); err != nil {
			s.log.Error().Err(err).Str("trader", t.ID).Msg("Trader snapshot insert failed")
			continue
		}
		count++
	}

	return count, nil
}

func (s *Sampler) portfolioSnapshot(ctx context.Context, p domain.Portfolio, result domain.AggregatedResult, now time.Time) (domain.EquitySnapshot, error) {
	positions, err := s.store.Paper.OpenPositions(ctx, p.ID)
	if err != nil {
		return domain.EquitySnapshot{}, err
	}

	total := p.CashBalance
	unrealized := 0.0
	funding := 0.0
	for _, pos := range positions {
		mark := pos.EntryPrice
		if spread := result.SpreadFor(pos.Asset); spread != nil && spread.Primary.MarkPrice > 0 {
			mark = spread.Primary.MarkPrice
		}
		pnl := pos.UnrealizedPnl(mark)
		total += pos.SizeUsd + pnl
		unrealized += pnl
		funding += pos.TotalFundingCollected
	}

	return domain.EquitySnapshot{
		OwnerID:          p.ID,
		OwnerKind:        domain.OwnerPortfolio,
		SnapshotAt:       now,
		TotalValue:       total,
		CashBalance:      p.CashBalance,
		UnrealizedPnl:    unrealized,
		FundingCollected: funding,
		OpenPositions:    len(positions),
	}, nil
}

func (s *Sampler) traderSnapshot(ctx context.Context, t domain.AiTrader, result domain.AggregatedResult, now time.Time) (domain.EquitySnapshot, error) {
	positions, err := s.store.AI.OpenPositions(ctx, t.ID)
	if err != nil {
		return domain.EquitySnapshot{}, err
	}

	total := t.CashBalance
	unrealized := 0.0
	funding := 0.0
	for _, pos := range positions {
		mark := pos.EntryPrice
		if spread := result.SpreadFor(pos.Asset); spread != nil && spread.Primary.MarkPrice > 0 {
			mark = spread.Primary.MarkPrice
		}
		pnl := pos.UnrealizedPnl(mark)
		total += pos.SizeUsd + pnl
		unrealized += pnl
		funding += pos.FundingCollected
	}

	return domain.EquitySnapshot{
		OwnerID:          t.ID,
		OwnerKind:        domain.OwnerAgent,
		SnapshotAt:       now,
		TotalValue:       total,
		CashBalance:      t.CashBalance,
		UnrealizedPnl:    unrealized,
		FundingCollected: funding,
		OpenPositions:    len(positions),
	}, nil
}
