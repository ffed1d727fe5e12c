// Package paper runs the rule-based paper-trading portfolios against each
// fresh aggregation.
package paper

import (
	"math"
	"sort"
	"strings"

	"github.com/hldesk/hldesk/internal/domain"
)

// Strategy names form a closed set; unknown names trade like aggressive with
// no candidates (nothing matches).
const (
	StrategyAggressive     = "aggressive"
	StrategyConservative   = "conservative"
	StrategyDiversified    = "diversified"
	StrategyNegativeFade   = "negative_fade"
	StrategyRegimeAdaptive = "regime_adaptive"
)

// Per-side taker fee applied on open and on close.
const feeRate = 0.0005

// strategyConfig reads the portfolio's opaque config map with typed
// accessors. Threshold keys historically appear with both enter_ and entry_
// prefixes; enter_ wins when both are present.
type strategyConfig struct {
	raw map[string]interface{}
}

func newStrategyConfig(raw map[string]interface{}) strategyConfig {
	return strategyConfig{raw: raw}
}

func (c strategyConfig) float(key string, def float64) float64 {
	v, ok := c.raw[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	}
	return def
}

func (c strategyConfig) int(key string, def int) int {
	return int(c.float(key, float64(def)))
}

// threshold resolves an enter_-prefixed key, falling back to the entry_
// spelling.
func (c strategyConfig) threshold(suffix string, def float64) float64 {
	if _, ok := c.raw["enter_"+suffix]; ok {
		return c.float("enter_"+suffix, def)
	}
	return c.float("entry_"+suffix, def)
}

func (c strategyConfig) stringSet(key string, def []string) map[string]bool {
	set := make(map[string]bool)
	v, ok := c.raw[key]
	if !ok {
		for _, s := range def {
			set[strings.ToUpper(s)] = true
		}
		return set
	}
	items, ok := v.([]interface{})
	if !ok {
		for _, s := range def {
			set[strings.ToUpper(s)] = true
		}
		return set
	}
	for _, item := range items {
		if s, ok := item.(string); ok {
			set[strings.ToUpper(s)] = true
		}
	}
	return set
}

func (c strategyConfig) stopLossPct() float64 {
	return c.float("stop_loss_pct", 0.10)
}

func (c strategyConfig) maxPositionSizePct() float64 {
	return c.float("max_position_size_pct", 0.20)
}

func (c strategyConfig) maxPositions() int {
	return c.int("max_positions", 5)
}

// candidate is one asset a strategy wants to enter.
type candidate struct {
	spread domain.FundingSpread
	side   string
}

// shouldExit evaluates the strategy-specific exit rule for one open position.
// Stop-loss is handled separately by the engine and always runs first.
func shouldExit(strategy string, cfg strategyConfig, pos domain.Position, spread *domain.FundingSpread) (bool, string) {
	rate := spread.Primary.Rate8h

	switch strategy {
	case StrategyNegativeFade:
		threshold := cfg.float("exit_rate_threshold", -0.01)
		if rate > threshold {
			return true, "rate_recovered"
		}
	case StrategyRegimeAdaptive:
		threshold := cfg.float("exit_rate_threshold", 0.0001)
		if pos.Side == domain.SideLongPerp && rate > threshold {
			return true, "regime_flipped"
		}
		if pos.Side == domain.SideShortPerp && rate < -threshold {
			return true, "regime_flipped"
		}
	default:
		threshold := cfg.float("exit_spread_threshold", 0.01)
		if spread.MaxSpread < threshold {
			return true, "spread_collapsed"
		}
	}
	return false, ""
}

// selectCandidates filters and ranks entry candidates for one strategy over
// the current aggregate. Returned order is the entry order.
func selectCandidates(strategy string, cfg strategyConfig, result domain.AggregatedResult) []candidate {
	switch strategy {
	case StrategyNegativeFade:
		return negativeFadeCandidates(cfg, result)
	case StrategyConservative:
		allowed := cfg.stringSet("allowed_assets", []string{"BTC", "ETH"})
		return spreadCandidates(cfg, result, 0.05, func(s domain.FundingSpread) bool {
			return allowed[s.Asset]
		})
	case StrategyDiversified:
		return diversifiedCandidates(cfg, result)
	case StrategyRegimeAdaptive:
		return regimeAdaptiveCandidates(cfg, result)
	case StrategyAggressive:
		return spreadCandidates(cfg, result, 0.03, nil)
	}
	return nil
}

func negativeFadeCandidates(cfg strategyConfig, result domain.AggregatedResult) []candidate {
	threshold := cfg.threshold("rate_threshold", -0.05)
	var out []candidate
	for _, s := range result.Spreads {
		if s.Primary.Rate8h < threshold {
			out = append(out, candidate{spread: s, side: domain.SideLongPerp})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].spread.Primary.Rate8h < out[j].spread.Primary.Rate8h
	})
	return out
}

// spreadCandidates covers the short-the-spread strategies: positive primary
// rate, spread above the threshold, optional extra filter, ranked by spread.
func spreadCandidates(cfg strategyConfig, result domain.AggregatedResult, defaultThreshold float64, keep func(domain.FundingSpread) bool) []candidate {
	threshold := cfg.threshold("spread_threshold", defaultThreshold)
	var out []candidate
	for _, s := range result.Spreads {
		if s.MaxSpread <= threshold || s.Primary.Rate8h <= 0 {
			continue
		}
		if keep != nil && !keep(s) {
			continue
		}
		out = append(out, candidate{spread: s, side: domain.SideShortPerp})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].spread.MaxSpread > out[j].spread.MaxSpread
	})
	return out
}

func diversifiedCandidates(cfg strategyConfig, result domain.AggregatedResult) []candidate {
	topN := cfg.int("top_n_by_oi", 20)
	topAssets := topByOpenInterest(result.Spreads, topN)
	return spreadCandidates(cfg, result, 0.04, func(s domain.FundingSpread) bool {
		return topAssets[s.Asset]
	})
}

func topByOpenInterest(spreads []domain.FundingSpread, n int) map[string]bool {
	sorted := append([]domain.FundingSpread{}, spreads...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Primary.OpenInterest > sorted[j].Primary.OpenInterest
	})
	if n > len(sorted) {
		n = len(sorted)
	}
	top := make(map[string]bool, n)
	for _, s := range sorted[:n] {
		top[s.Asset] = true
	}
	return top
}

// regimeAdaptiveCandidates buckets assets by funding regime and trades only
// the bucket with the stronger extreme.
func regimeAdaptiveCandidates(cfg strategyConfig, result domain.AggregatedResult) []candidate {
	positive := cfg.float("positive_rate_threshold", 0.0003)
	negative := cfg.float("negative_rate_threshold", 0.0003)

	var shorts, longs []candidate
	for _, s := range result.Spreads {
		switch {
		case s.Primary.Rate8h > positive:
			shorts = append(shorts, candidate{spread: s, side: domain.SideShortPerp})
		case s.Primary.Rate8h < -negative:
			longs = append(longs, candidate{spread: s, side: domain.SideLongPerp})
		}
	}

	byAbsRate := func(cs []candidate) {
		sort.SliceStable(cs, func(i, j int) bool {
			return math.Abs(cs[i].spread.Primary.Rate8h) > math.Abs(cs[j].spread.Primary.Rate8h)
		})
	}
	byAbsRate(shorts)
	byAbsRate(longs)

	switch {
	case len(shorts) == 0:
		return longs
	case len(longs) == 0:
		return shorts
	case math.Abs(shorts[0].spread.Primary.Rate8h) >= math.Abs(longs[0].spread.Primary.Rate8h):
		return shorts
	default:
		return longs
	}
}
