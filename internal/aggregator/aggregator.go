// Package aggregator fans out to every venue adapter and reconciles their
// funding observations into a single cross-venue spread view.
package aggregator

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hldesk/hldesk/internal/domain"
	"github.com/hldesk/hldesk/internal/venues"
)

// Aggregator polls all adapters in parallel and computes per-asset spreads
// relative to the primary venue.
type Aggregator struct {
	primary venues.Adapter
	cexes   []venues.Adapter
	log     zerolog.Logger
}

// New creates an aggregator over the primary adapter and the configured CEX
// adapter set.
func New(primary venues.Adapter, cexes []venues.Adapter, log zerolog.Logger) *Aggregator {
	return &Aggregator{
		primary: primary,
		cexes:   cexes,
		log:     log.With().Str("component", "aggregator").Logger(),
	}
}

type fetchResult struct {
	venue domain.Venue
	rates []domain.FundingRate
	err   error
}

// Aggregate calls every adapter concurrently and waits for all to settle.
// A primary failure yields an empty result; a CEX failure only removes that
// venue's contribution.
func (a *Aggregator) Aggregate(ctx context.Context) domain.AggregatedResult {
	adapters := append([]venues.Adapter{a.primary}, a.cexes...)
	results := make([]fetchResult, len(adapters))

	var wg sync.WaitGroup
	for i, adapter := range adapters {
		wg.Add(1)
		go func(i int, adapter venues.Adapter) {
			defer wg.Done()
			rates, err := adapter.Fetch(ctx)
			results[i] = fetchResult{venue: adapter.Venue(), rates: rates, err: err}
		}(i, adapter)
	}
	wg.Wait()

	now := time.Now().UnixMilli()

	primary := results[0]
	if primary.err != nil {
		a.log.Error().Err(primary.err).Msg("Primary venue fetch failed, returning empty result")
		return domain.AggregatedResult{
			Spreads:   []domain.FundingSpread{},
			AllRates:  []domain.FundingRate{},
			Timestamp: now,
		}
	}

	// CEX rates indexed venue -> asset -> rate.
	cexByVenue := make(map[domain.Venue]map[string]domain.FundingRate, len(a.cexes))
	allRates := append([]domain.FundingRate{}, primary.rates...)
	for _, res := range results[1:] {
		if res.err != nil {
			a.log.Warn().Err(res.err).Str("venue", string(res.venue)).Msg("CEX fetch failed, continuing without it")
			continue
		}
		byAsset := make(map[string]domain.FundingRate, len(res.rates))
		for _, r := range res.rates {
			byAsset[r.Asset] = r
		}
		cexByVenue[res.venue] = byAsset
		allRates = append(allRates, res.rates...)
	}

	spreads := make([]domain.FundingSpread, 0, len(primary.rates))
	for i := range primary.rates {
		p := primary.rates[i]
		spread := domain.FundingSpread{
			Asset:    p.Asset,
			Primary:  &primary.rates[i],
			CexRates: make(map[domain.Venue]domain.FundingRate),
			BestCex:  "none",
		}

		var best *domain.FundingRate
		for venue, byAsset := range cexByVenue {
			r, ok := byAsset[p.Asset]
			if !ok {
				continue
			}
			spread.CexRates[venue] = r
			if best == nil || math.Abs(r.Rate8h) > math.Abs(best.Rate8h) {
				rr := r
				best = &rr
			}
		}

		if best != nil {
			spread.BestCex = string(best.Venue)
			spread.MaxSpread = p.Rate8h - best.Rate8h
		}
		spreads = append(spreads, spread)
	}

	sort.SliceStable(spreads, func(i, j int) bool {
		return math.Abs(spreads[i].MaxSpread) > math.Abs(spreads[j].MaxSpread)
	})

	return domain.AggregatedResult{
		Spreads:   spreads,
		AllRates:  allRates,
		Timestamp: now,
	}
}
