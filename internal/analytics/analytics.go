// Package analytics derives performance statistics from equity snapshot
// series.
package analytics

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Hours per year; snapshots are hourly so Sharpe annualizes by sqrt of this.
const periodsPerYear = 8760

// Performance summarizes a snapshot series. Nil fields mean "not enough
// data to compute".
type Performance struct {
	Sharpe      *float64 `json:"sharpe"`
	MaxDrawdown *float64 `json:"maxDrawdown"`
}

// Compute derives the annualized Sharpe ratio and maximum drawdown from an
// equity series ordered oldest-first. Non-positive values cannot produce a
// return and are skipped as a pair boundary.
func Compute(values []float64) Performance {
	if len(values) < 2 {
		return Performance{}
	}

	returns := make([]float64, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		if values[i-1] <= 0 || values[i] <= 0 {
			continue
		}
		returns = append(returns, values[i]/values[i-1]-1)
	}
	if len(returns) < 2 {
		return Performance{}
	}

	return Performance{
		Sharpe:      sharpe(returns),
		MaxDrawdown: maxDrawdown(values),
	}
}

// sharpe annualizes the mean/stddev ratio of hourly returns. A flat series
// has no defined ratio.
func sharpe(returns []float64) *float64 {
	mean, std := stat.MeanStdDev(returns, nil)
	if std == 0 {
		return nil
	}
	v := mean / std * math.Sqrt(periodsPerYear)
	return &v
}

// maxDrawdown returns the largest peak-to-trough loss as a negative fraction
// in [-1, 0], rounded to 5 decimals.
func maxDrawdown(values []float64) *float64 {
	peak := math.Inf(-1)
	worst := 0.0
	seen := false
	for _, v := range values {
		if v <= 0 {
			continue
		}
		seen = true
		if v > peak {
			peak = v
		}
		if dd := (v - peak) / peak; dd < worst {
			worst = dd
		}
	}
	if !seen {
		return nil
	}
	if worst < -1 {
		worst = -1
	}
	rounded := math.Round(worst*1e5) / 1e5
	return &rounded
}
