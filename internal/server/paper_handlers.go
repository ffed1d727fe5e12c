package server

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hldesk/hldesk/internal/analytics"
	"github.com/hldesk/hldesk/internal/domain"
	"github.com/hldesk/hldesk/internal/store"
)

const (
	closedPositionsShown = 20
	transactionsShown    = 50
	snapshotReadLimit    = 2160 // 90 days of hourly samples
)

// portfolioSummary is the list/leaderboard view of one portfolio, marked to
// the latest cached prices.
type portfolioSummary struct {
	domain.Portfolio
	TotalValue    float64 `json:"totalValue"`
	UnrealizedPnl float64 `json:"unrealizedPnl"`
	OpenPositions int     `json:"openPositions"`
	Pnl           float64 `json:"pnl"`
	PnlPct        float64 `json:"pnlPct"`
}

// enrichedPosition attaches the current mark and unrealized P&L to an open
// position.
type enrichedPosition struct {
	domain.Position
	MarkPrice     float64 `json:"currentPrice"`
	UnrealizedPnl float64 `json:"unrealizedPnl"`
}

func (s *Server) handlePortfolios(w http.ResponseWriter, r *http.Request) {
	summaries := s.portfolioSummaries(r)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"portfolios": summaries,
		"count":      len(summaries),
	})
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	summaries := s.portfolioSummaries(r)
	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].PnlPct > summaries[j].PnlPct
	})

	type ranked struct {
		Rank int `json:"rank"`
		portfolioSummary
	}
	board := make([]ranked, len(summaries))
	for i, sum := range summaries {
		board[i] = ranked{Rank: i + 1, portfolioSummary: sum}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"leaderboard": board})
}

func (s *Server) handlePortfolioDetail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.store.Readable() {
		s.writeError(w, http.StatusNotFound, "unknown portfolio: "+id)
		return
	}
	ctx := r.Context()

	portfolio, err := s.store.Paper.GetPortfolio(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "unknown portfolio: "+id)
			return
		}
		s.log.Error().Err(err).Str("portfolio", id).Msg("Failed to load portfolio")
		s.writeError(w, http.StatusInternalServerError, "failed to load portfolio")
		return
	}

	positions, err := s.store.Paper.OpenPositions(ctx, id)
	if err != nil {
		s.log.Error().Err(err).Str("portfolio", id).Msg("Failed to load positions")
		positions = nil
	}
	result := s.cache.Get(ctx)

	open := []enrichedPosition{}
	unrealized, funding := 0.0, 0.0
	for _, p := range positions {
		mark := s.markPrice(result, p.Asset)
		upnl := p.UnrealizedPnl(mark)
		open = append(open, enrichedPosition{
			Position:      p,
			MarkPrice:     mark,
			UnrealizedPnl: upnl,
		})
		unrealized += upnl
		funding += p.TotalFundingCollected
	}

	closed, err := s.store.Paper.ClosedPositions(ctx, id, closedPositionsShown)
	if err != nil {
		s.log.Error().Err(err).Str("portfolio", id).Msg("Failed to load closed positions")
		closed = []domain.Position{}
	}

	txs, err := s.store.Paper.Transactions(ctx, id, transactionsShown)
	if err != nil {
		s.log.Error().Err(err).Str("portfolio", id).Msg("Failed to load transactions")
		txs = []domain.Transaction{}
	}

	totalValue := portfolio.CashBalance
	for _, p := range open {
		totalValue += p.SizeUsd + p.UnrealizedPnl
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"portfolio":        portfolio,
		"totalValue":       totalValue,
		"unrealizedPnl":    unrealized,
		"fundingCollected": funding,
		"openPositions":    open,
		"closedPositions":  closed,
		"transactions":     txs,
		"performance":      s.paperPerformance(ctx, id),
	})
}

func (s *Server) handlePaperSnapshots(w http.ResponseWriter, r *http.Request) {
	days, err := intQuery(r, "days", 7, 1, 90)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx := r.Context()

	series := map[string][]domain.EquitySnapshot{}
	if s.store.Readable() {
		portfolios, err := s.store.Paper.ListPortfolios(ctx, false)
		if err != nil {
			s.log.Error().Err(err).Msg("Failed to list portfolios")
			portfolios = nil
		}
		cutoff := time.Now().AddDate(0, 0, -days)
		for _, p := range portfolios {
			snaps, err := s.store.Paper.Snapshots(ctx, p.ID, snapshotReadLimit)
			if err != nil {
				s.log.Error().Err(err).Str("portfolio", p.ID).Msg("Failed to load snapshots")
				continue
			}
			series[p.ID] = sinceCutoff(snaps, cutoff)
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"days":      days,
		"snapshots": series,
	})
}

// portfolioSummaries marks every portfolio to the latest cached prices.
// Store failures degrade to an empty list.
func (s *Server) portfolioSummaries(r *http.Request) []portfolioSummary {
	summaries := []portfolioSummary{}
	if !s.store.Readable() {
		return summaries
	}
	ctx := r.Context()

	portfolios, err := s.store.Paper.ListPortfolios(ctx, false)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list portfolios")
		return summaries
	}
	result := s.cache.Get(ctx)

	for _, p := range portfolios {
		sum := portfolioSummary{Portfolio: p, TotalValue: p.CashBalance}
		positions, err := s.store.Paper.OpenPositions(ctx, p.ID)
		if err != nil {
			s.log.Error().Err(err).Str("portfolio", p.ID).Msg("Failed to load positions")
		}
		for _, pos := range positions {
			upnl := pos.UnrealizedPnl(s.markPrice(result, pos.Asset))
			sum.TotalValue += pos.SizeUsd + upnl
			sum.UnrealizedPnl += upnl
			sum.OpenPositions++
		}
		sum.Pnl = sum.TotalValue - p.InitialBalance
		if p.InitialBalance > 0 {
			sum.PnlPct = sum.Pnl / p.InitialBalance * 100
		}
		summaries = append(summaries, sum)
	}
	return summaries
}

func (s *Server) paperPerformance(ctx context.Context, id string) analytics.Performance {
	snaps, err := s.store.Paper.Snapshots(ctx, id, snapshotReadLimit)
	if err != nil {
		s.log.Error().Err(err).Str("portfolio", id).Msg("Failed to load snapshots")
		return analytics.Performance{}
	}
	return analyticsFor(snaps)
}

// analyticsFor computes Sharpe and drawdown over a snapshot equity series.
func analyticsFor(snaps []domain.EquitySnapshot) analytics.Performance {
	values := make([]float64, len(snaps))
	for i, snap := range snaps {
		values[i] = snap.TotalValue
	}
	return analytics.Compute(values)
}

// markPrice returns the primary venue's mark for an asset, or 0 when the
// asset is not in the cached universe.
func (s *Server) markPrice(result domain.AggregatedResult, asset string) float64 {
	if spread := result.SpreadFor(asset); spread != nil && spread.Primary != nil {
		return spread.Primary.MarkPrice
	}
	return 0
}

func sinceCutoff(snaps []domain.EquitySnapshot, cutoff time.Time) []domain.EquitySnapshot {
	kept := []domain.EquitySnapshot{}
	for _, snap := range snaps {
		if !snap.SnapshotAt.Before(cutoff) {
			kept = append(kept, snap)
		}
	}
	return kept
}
