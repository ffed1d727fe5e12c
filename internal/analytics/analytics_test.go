package analytics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"
)

func TestComputeKnownSeries(t *testing.T) {
	values := []float64{10000, 10100, 10050, 10200, 10150}
	perf := Compute(values)

	require.NotNil(t, perf.Sharpe)
	require.NotNil(t, perf.MaxDrawdown)

	returns := []float64{
		10100.0/10000.0 - 1,
		10050.0/10100.0 - 1,
		10200.0/10050.0 - 1,
		10150.0/10200.0 - 1,
	}
	mean, std := stat.MeanStdDev(returns, nil)
	expected := mean / std * math.Sqrt(8760)
	assert.InDelta(t, expected, *perf.Sharpe, 1e-9)

	// Both troughs lose about 0.5% off their peak; the deeper one wins.
	assert.Equal(t, -0.00495, *perf.MaxDrawdown)
}

func TestComputeTooFewValues(t *testing.T) {
	assert.Equal(t, Performance{}, Compute(nil))
	assert.Equal(t, Performance{}, Compute([]float64{10000}))
}

func TestComputeTooFewValidReturns(t *testing.T) {
	// Zeros break the return chain; only one valid return remains.
	perf := Compute([]float64{10000, 0, 10100, 10200})
	assert.Nil(t, perf.Sharpe)
	assert.Nil(t, perf.MaxDrawdown)
}

func TestComputeFlatSeries(t *testing.T) {
	perf := Compute([]float64{10000, 10000, 10000})
	assert.Nil(t, perf.Sharpe, "zero stddev yields no ratio")
	require.NotNil(t, perf.MaxDrawdown)
	assert.Zero(t, *perf.MaxDrawdown)
}

func TestComputeMonotonicGrowth(t *testing.T) {
	perf := Compute([]float64{10000, 10100, 10200, 10300})
	require.NotNil(t, perf.Sharpe)
	assert.Positive(t, *perf.Sharpe)
	require.NotNil(t, perf.MaxDrawdown)
	assert.Zero(t, *perf.MaxDrawdown, "no trough below any peak")
}

func TestComputeDrawdownBounds(t *testing.T) {
	perf := Compute([]float64{10000, 5000, 2500, 100})
	require.NotNil(t, perf.MaxDrawdown)
	assert.GreaterOrEqual(t, *perf.MaxDrawdown, -1.0)
	assert.LessOrEqual(t, *perf.MaxDrawdown, 0.0)
	assert.Equal(t, -0.99, *perf.MaxDrawdown)
}
