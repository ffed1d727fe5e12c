package snapshots

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hldesk/hldesk/internal/domain"
	"github.com/hldesk/hldesk/internal/store"
)

type staticRates struct {
	result domain.AggregatedResult
}

func (s staticRates) Latest() domain.AggregatedResult { return s.result }

func TestSnapshotAllMarksToMarket(t *testing.T) {
	st, mock, err := store.NewWithMock(true)
	require.NoError(t, err)
	defer st.Close()

	now := time.Now()
	mock.ExpectQuery(`SELECT .+ FROM paper_portfolios`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "strategy_name", "strategy_config",
			"cash_balance", "initial_balance", "is_active", "created_at"}).
			AddRow("p1", "aggressive", []byte(`{}`), 4000.0, 10000.0, true, now))

	posCols := []string{"id", "portfolio_id", "asset", "side", "size_usd", "entry_rate_8h",
		"entry_spread", "entry_price", "total_funding_collected", "last_funding_at",
		"opened_at", "is_open", "exit_price", "realized_pnl", "closed_at", "fees_paid"}
	mock.ExpectQuery(`SELECT .+ FROM paper_positions WHERE portfolio_id = \$1 AND is_open`).
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows(posCols).
			AddRow("pos1", "p1", "BTC", domain.SideShortPerp, 1000.0, 0.0004, 0.05, 100.0,
				2.5, now, now, true, nil, nil, nil, 0.5))

	// Short at 100, mark 90: +100 unrealized. Total = 4000 + 1000 + 100.
	mock.ExpectExec(`INSERT INTO paper_snapshots`).
		WithArgs("p1", sqlmock.AnyArg(), 5100.0, 4000.0, 100.0, 2.5, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectQuery(`SELECT .+ FROM ai_traders`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "model", "emoji", "persona",
			"cash_balance", "is_active"}))

	rates := staticRates{result: domain.AggregatedResult{Spreads: []domain.FundingSpread{{
		Asset:   "BTC",
		Primary: &domain.FundingRate{Asset: "BTC", MarkPrice: 90},
	}}}}

	sampler := New(st, rates, zerolog.Nop())
	count, err := sampler.SnapshotAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSnapshotAllRequiresWritableStore(t *testing.T) {
	st, _, err := store.NewWithMock(false)
	require.NoError(t, err)
	defer st.Close()

	sampler := New(st, staticRates{}, zerolog.Nop())
	_, err = sampler.SnapshotAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not writable")
}
