package server

import (
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hldesk/hldesk/internal/domain"
	"github.com/hldesk/hldesk/internal/store"
)

// Agents all start from the same bankroll; pnlPct is measured against it.
const agentStartingBalance = 10000.0

const decisionsShown = 20

// traderSummary is the list view of one agent, marked to the latest cached
// prices.
type traderSummary struct {
	domain.AiTrader
	TotalValue    float64            `json:"totalValue"`
	UnrealizedPnl float64            `json:"unrealizedPnl"`
	OpenPositions int                `json:"openPositions"`
	Pnl           float64            `json:"pnl"`
	PnlPct        float64            `json:"pnlPct"`
	LastDecision  *domain.AiDecision `json:"lastDecision,omitempty"`
}

// enrichedAiPosition attaches the current mark and unrealized P&L to an open
// agent position.
type enrichedAiPosition struct {
	domain.AiPosition
	MarkPrice     float64 `json:"currentPrice"`
	UnrealizedPnl float64 `json:"unrealizedPnl"`
}

func (s *Server) handleTraders(w http.ResponseWriter, r *http.Request) {
	summaries := s.traderSummaries(r)
	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].PnlPct > summaries[j].PnlPct
	})
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"traders": summaries,
		"count":   len(summaries),
	})
}

func (s *Server) handleTraderDetail(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !s.store.Readable() {
		s.writeError(w, http.StatusNotFound, "unknown trader: "+name)
		return
	}
	ctx := r.Context()

	trader, err := s.store.AI.GetTraderByName(ctx, name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "unknown trader: "+name)
			return
		}
		s.log.Error().Err(err).Str("trader", name).Msg("Failed to load trader")
		s.writeError(w, http.StatusInternalServerError, "failed to load trader")
		return
	}

	positions, err := s.store.AI.OpenPositions(ctx, trader.ID)
	if err != nil {
		s.log.Error().Err(err).Str("trader", name).Msg("Failed to load positions")
		positions = nil
	}
	result := s.cache.Get(ctx)

	open := []enrichedAiPosition{}
	totalValue, unrealized := trader.CashBalance, 0.0
	for _, p := range positions {
		mark := s.markPrice(result, p.Asset)
		upnl := p.UnrealizedPnl(mark)
		open = append(open, enrichedAiPosition{
			AiPosition:    p,
			MarkPrice:     mark,
			UnrealizedPnl: upnl,
		})
		totalValue += p.SizeUsd + upnl
		unrealized += upnl
	}

	decisions, err := s.store.AI.Decisions(ctx, trader.ID, decisionsShown)
	if err != nil {
		s.log.Error().Err(err).Str("trader", name).Msg("Failed to load decisions")
		decisions = []domain.AiDecision{}
	}

	snaps, err := s.store.AI.Snapshots(ctx, trader.ID, snapshotReadLimit)
	if err != nil {
		s.log.Error().Err(err).Str("trader", name).Msg("Failed to load snapshots")
		snaps = nil
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"trader":        trader,
		"totalValue":    totalValue,
		"unrealizedPnl": unrealized,
		"openPositions": open,
		"decisions":     decisions,
		"performance":   analyticsFor(snaps),
	})
}

func (s *Server) handleAiSnapshots(w http.ResponseWriter, r *http.Request) {
	days, err := intQuery(r, "days", 7, 1, 90)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx := r.Context()

	series := map[string][]domain.EquitySnapshot{}
	if s.store.Readable() {
		traders, err := s.store.AI.ListTraders(ctx, false)
		if err != nil {
			s.log.Error().Err(err).Msg("Failed to list traders")
			traders = nil
		}
		cutoff := time.Now().AddDate(0, 0, -days)
		for _, t := range traders {
			snaps, err := s.store.AI.Snapshots(ctx, t.ID, snapshotReadLimit)
			if err != nil {
				s.log.Error().Err(err).Str("trader", t.Name).Msg("Failed to load snapshots")
				continue
			}
			series[t.Name] = sinceCutoff(snaps, cutoff)
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"days":      days,
		"snapshots": series,
	})
}

func (s *Server) handleRunAgent(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if s.agents == nil {
		s.writeError(w, http.StatusInternalServerError, "ai engine not configured")
		return
	}

	result := s.cache.Get(r.Context())
	decision, err := s.agents.RunAgentCycle(r.Context(), name, result)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "unknown trader: "+name)
			return
		}
		s.log.Error().Err(err).Str("trader", name).Msg("Agent cycle failed")
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"trader":   name,
		"decision": decision,
	})
}

func (s *Server) traderSummaries(r *http.Request) []traderSummary {
	summaries := []traderSummary{}
	if !s.store.Readable() {
		return summaries
	}
	ctx := r.Context()

	traders, err := s.store.AI.ListTraders(ctx, false)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list traders")
		return summaries
	}
	result := s.cache.Get(ctx)

	for _, t := range traders {
		sum := traderSummary{AiTrader: t, TotalValue: t.CashBalance}
		positions, err := s.store.AI.OpenPositions(ctx, t.ID)
		if err != nil {
			s.log.Error().Err(err).Str("trader", t.Name).Msg("Failed to load positions")
		}
		for _, p := range positions {
			upnl := p.UnrealizedPnl(s.markPrice(result, p.Asset))
			sum.TotalValue += p.SizeUsd + upnl
			sum.UnrealizedPnl += upnl
			sum.OpenPositions++
		}
		sum.Pnl = sum.TotalValue - agentStartingBalance
		sum.PnlPct = sum.Pnl / agentStartingBalance * 100

		if decisions, err := s.store.AI.Decisions(ctx, t.ID, 1); err == nil && len(decisions) > 0 {
			sum.LastDecision = &decisions[0]
		}
		summaries = append(summaries, sum)
	}
	return summaries
}
