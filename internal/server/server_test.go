package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hldesk/hldesk/internal/domain"
	"github.com/hldesk/hldesk/internal/ratecache"
	"github.com/hldesk/hldesk/internal/store"
)

func testResult() domain.AggregatedResult {
	btc := domain.FundingRate{Asset: "BTC", Venue: domain.VenueHyperliquid, Rate8h: 0.0004, MarkPrice: 50000}
	eth := domain.FundingRate{Asset: "ETH", Venue: domain.VenueHyperliquid, Rate8h: 0.0001, MarkPrice: 2500}
	return domain.AggregatedResult{
		Spreads: []domain.FundingSpread{
			{Asset: "BTC", Primary: &btc, CexRates: map[domain.Venue]domain.FundingRate{
				domain.VenueBinance: {Asset: "BTC", Venue: domain.VenueBinance, Rate8h: 0.0001},
			}, BestCex: "binance", MaxSpread: 0.0003},
			{Asset: "ETH", Primary: &eth, CexRates: map[domain.Venue]domain.FundingRate{}, BestCex: "none", MaxSpread: 0.0001},
		},
		AllRates:  []domain.FundingRate{btc, eth},
		Timestamp: time.Now().UnixMilli(),
	}
}

type fakeAgents struct {
	decision domain.AiDecision
	err      error
}

func (f *fakeAgents) RunAgentCycle(ctx context.Context, name string, result domain.AggregatedResult) (domain.AiDecision, error) {
	return f.decision, f.err
}

type fakeSampler struct {
	n   int
	err error
}

func (f *fakeSampler) SnapshotAll(ctx context.Context) (int, error) {
	return f.n, f.err
}

func newTestServer(t *testing.T, st *store.Store, agents AgentRunner, sampler SnapshotRunner) *Server {
	t.Helper()
	cache := ratecache.New(func(ctx context.Context) domain.AggregatedResult {
		return testResult()
	})
	return New(Config{
		Port:    0,
		Log:     zerolog.Nop(),
		Cache:   cache,
		Store:   st,
		Agents:  agents,
		Sampler: sampler,
		DevMode: true,
	})
}

func doRequest(t *testing.T, s *Server, method, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	body := map[string]interface{}{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestRootEndpoint(t *testing.T) {
	s := newTestServer(t, nil, nil, nil)
	rec, body := doRequest(t, s, http.MethodGet, "/")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "hldesk-api", body["service"])
}

func TestHealthWithoutStore(t *testing.T) {
	s := newTestServer(t, nil, nil, nil)

	// Warm the cache so asset count reflects the fixture.
	doRequest(t, s, http.MethodGet, "/api/funding")

	rec, body := doRequest(t, s, http.MethodGet, "/api/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(2), body["assetCount"])

	st, ok := body["store"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, false, st["configured"])
	assert.Equal(t, false, st["writable"])
	assert.Equal(t, false, body["llmEnabled"])
}

func TestFundingList(t *testing.T) {
	s := newTestServer(t, nil, nil, nil)

	rec, body := doRequest(t, s, http.MethodGet, "/api/funding")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), body["count"])

	rec, body = doRequest(t, s, http.MethodGet, "/api/funding?limit=1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["count"])

	spreads, ok := body["spreads"].([]interface{})
	require.True(t, ok)
	require.Len(t, spreads, 1)
	first := spreads[0].(map[string]interface{})
	assert.Equal(t, "BTC", first["asset"])
}

func TestFundingListBadLimit(t *testing.T) {
	s := newTestServer(t, nil, nil, nil)

	rec, body := doRequest(t, s, http.MethodGet, "/api/funding?limit=abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["error"], "limit")
}

func TestFundingListClampsLimit(t *testing.T) {
	s := newTestServer(t, nil, nil, nil)

	rec, body := doRequest(t, s, http.MethodGet, "/api/funding?limit=5000")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), body["count"])
}

func TestFundingAsset(t *testing.T) {
	s := newTestServer(t, nil, nil, nil)

	rec, body := doRequest(t, s, http.MethodGet, "/api/funding/btc")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "BTC", body["asset"])
	assert.Equal(t, "binance", body["bestCex"])

	rec, _ = doRequest(t, s, http.MethodGet, "/api/funding/DOGE")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFundingHistoryWithoutStore(t *testing.T) {
	s := newTestServer(t, nil, nil, nil)

	rec, body := doRequest(t, s, http.MethodGet, "/api/funding/history?asset=BTC")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), body["count"])
}

func TestFundingHistoryBadParams(t *testing.T) {
	s := newTestServer(t, nil, nil, nil)

	rec, _ := doRequest(t, s, http.MethodGet, "/api/funding/history?from=yesterday")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = doRequest(t, s, http.MethodGet, "/api/funding/history?to=1.5d")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFundingHistoryReadsStore(t *testing.T) {
	st, mock, err := store.NewWithMock(false)
	require.NoError(t, err)

	rows := sqlmock.NewRows([]string{
		"asset", "venue", "rate_8h", "rate_raw", "next_funding_time",
		"open_interest", "mark_price", "change_24h", "volume_24h", "observed_at",
	}).AddRow("BTC", "hyperliquid", 0.0004, 0.00005, int64(1700002800000), 1000.0, 50000.0, 1.2, 2e6, int64(1700000000000))
	mock.ExpectQuery(`FROM funding_snapshots`).WillReturnRows(rows)

	s := newTestServer(t, st, nil, nil)
	rec, body := doRequest(t, s, http.MethodGet, "/api/funding/history?asset=BTC&venue=hyperliquid")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["count"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func portfolioRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "strategy_name", "strategy_config", "cash_balance",
		"initial_balance", "is_active", "created_at",
	})
}

func emptyPositionRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "portfolio_id", "asset", "side", "size_usd", "entry_rate_8h",
		"entry_spread", "entry_price", "total_funding_collected", "last_funding_at",
		"opened_at", "is_open", "exit_price", "realized_pnl", "closed_at", "fees_paid",
	})
}

func TestPortfoliosWithoutStore(t *testing.T) {
	s := newTestServer(t, nil, nil, nil)

	rec, body := doRequest(t, s, http.MethodGet, "/api/paper/portfolios")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), body["count"])
}

func TestPortfoliosMarkToMarket(t *testing.T) {
	st, mock, err := store.NewWithMock(false)
	require.NoError(t, err)

	now := time.Now()
	mock.ExpectQuery(`FROM paper_portfolios`).WillReturnRows(
		portfolioRows().AddRow("p1", "aggressive", []byte(`{}`), 9000.0, 10000.0, true, now))

	// Open short 1000 USD at entry 55000; cached mark is 50000, so the
	// position is up 1000*(55000-50000)/55000.
	mock.ExpectQuery(`FROM paper_positions`).WillReturnRows(
		emptyPositionRows().AddRow("pos1", "p1", "BTC", "short_perp", 1000.0, 0.0004,
			0.0003, 55000.0, 2.5, now, now, true, nil, nil, nil, 0.5))

	s := newTestServer(t, st, nil, nil)
	rec, body := doRequest(t, s, http.MethodGet, "/api/paper/portfolios")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["count"])

	portfolios := body["portfolios"].([]interface{})
	p := portfolios[0].(map[string]interface{})
	upnl := 1000.0 * (55000.0 - 50000.0) / 55000.0
	assert.InDelta(t, upnl, p["unrealizedPnl"].(float64), 1e-9)
	assert.InDelta(t, 9000.0+1000.0+upnl, p["totalValue"].(float64), 1e-9)
	assert.Equal(t, float64(1), p["openPositions"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLeaderboardSortsByPnlPct(t *testing.T) {
	st, mock, err := store.NewWithMock(false)
	require.NoError(t, err)

	now := time.Now()
	mock.ExpectQuery(`FROM paper_portfolios`).WillReturnRows(
		portfolioRows().
			AddRow("loser", "conservative", []byte(`{}`), 9000.0, 10000.0, true, now).
			AddRow("winner", "aggressive", []byte(`{}`), 11000.0, 10000.0, true, now))
	mock.ExpectQuery(`FROM paper_positions`).WillReturnRows(emptyPositionRows())
	mock.ExpectQuery(`FROM paper_positions`).WillReturnRows(emptyPositionRows())

	s := newTestServer(t, st, nil, nil)
	rec, body := doRequest(t, s, http.MethodGet, "/api/paper/leaderboard")

	assert.Equal(t, http.StatusOK, rec.Code)
	board := body["leaderboard"].([]interface{})
	require.Len(t, board, 2)

	first := board[0].(map[string]interface{})
	second := board[1].(map[string]interface{})
	assert.Equal(t, "winner", first["id"])
	assert.Equal(t, float64(1), first["rank"])
	assert.Equal(t, "loser", second["id"])
	assert.Equal(t, float64(2), second["rank"])
}

func TestPortfolioDetailShowsRecentClosedPositions(t *testing.T) {
	st, mock, err := store.NewWithMock(false)
	require.NoError(t, err)

	now := time.Now()
	mock.ExpectQuery(`FROM paper_portfolios WHERE id`).WillReturnRows(
		portfolioRows().AddRow("p1", "aggressive", []byte(`{}`), 9000.0, 10000.0, true, now))
	mock.ExpectQuery(`AND is_open ORDER BY opened_at`).WillReturnRows(emptyPositionRows())

	// A long history of closes; the store pages them newest-first and the
	// view keeps only that page.
	closedRows := emptyPositionRows()
	for i := 24; i >= 5; i-- {
		closedAt := now.Add(-time.Duration(24-i) * time.Hour)
		closedRows.AddRow(fmt.Sprintf("pos-%02d", i), "p1", "BTC", "short_perp", 1000.0, 0.0004,
			0.0003, 50000.0, 1.0, closedAt, closedAt.Add(-time.Hour), false, 49000.0, 10.0, closedAt, 1.0)
	}
	mock.ExpectQuery(`NOT is_open ORDER BY closed_at DESC`).WillReturnRows(closedRows)

	mock.ExpectQuery(`FROM paper_transactions`).WillReturnRows(sqlmock.NewRows([]string{
		"id", "portfolio_id", "position_id", "type", "asset", "amount", "description", "created_at"}))
	mock.ExpectQuery(`FROM paper_snapshots`).WillReturnRows(sqlmock.NewRows([]string{
		"owner_id", "snapshot_at", "total_value", "cash_balance", "unrealized_pnl",
		"funding_collected", "open_positions"}))

	s := newTestServer(t, st, nil, nil)
	rec, body := doRequest(t, s, http.MethodGet, "/api/paper/portfolios/p1")

	assert.Equal(t, http.StatusOK, rec.Code)
	closed := body["closedPositions"].([]interface{})
	require.Len(t, closed, 20)
	assert.Equal(t, "pos-24", closed[0].(map[string]interface{})["id"])
	assert.Equal(t, "pos-05", closed[19].(map[string]interface{})["id"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPortfolioDetailNotFound(t *testing.T) {
	st, mock, err := store.NewWithMock(false)
	require.NoError(t, err)
	mock.ExpectQuery(`FROM paper_portfolios WHERE id`).WillReturnRows(portfolioRows())

	s := newTestServer(t, st, nil, nil)
	rec, _ := doRequest(t, s, http.MethodGet, "/api/paper/portfolios/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPortfolioDetailWithoutStore(t *testing.T) {
	s := newTestServer(t, nil, nil, nil)

	rec, _ := doRequest(t, s, http.MethodGet, "/api/paper/portfolios/p1")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPaperSnapshotsBadDays(t *testing.T) {
	s := newTestServer(t, nil, nil, nil)

	rec, _ := doRequest(t, s, http.MethodGet, "/api/paper/snapshots?days=week")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPaperSnapshotsWithoutStore(t *testing.T) {
	s := newTestServer(t, nil, nil, nil)

	rec, body := doRequest(t, s, http.MethodGet, "/api/paper/snapshots")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(7), body["days"])
	assert.Empty(t, body["snapshots"])
}

func TestTradersWithoutStore(t *testing.T) {
	s := newTestServer(t, nil, nil, nil)

	rec, body := doRequest(t, s, http.MethodGet, "/api/ai/traders")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), body["count"])
}

func TestTraderDetailWithoutStore(t *testing.T) {
	s := newTestServer(t, nil, nil, nil)

	rec, _ := doRequest(t, s, http.MethodGet, "/api/ai/traders/atlas")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunAgent(t *testing.T) {
	agents := &fakeAgents{decision: domain.AiDecision{
		Action:    domain.ActionHold,
		Reasoning: "waiting for wider spreads",
	}}
	s := newTestServer(t, nil, agents, nil)

	rec, body := doRequest(t, s, http.MethodPost, "/api/ai/run/atlas")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "atlas", body["trader"])

	decision := body["decision"].(map[string]interface{})
	assert.Equal(t, "hold", decision["action"])
}

func TestRunAgentUnknownTrader(t *testing.T) {
	agents := &fakeAgents{err: fmt.Errorf("trader ghost: %w", store.ErrNotFound)}
	s := newTestServer(t, nil, agents, nil)

	rec, _ := doRequest(t, s, http.MethodPost, "/api/ai/run/ghost")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunAgentNotConfigured(t *testing.T) {
	s := newTestServer(t, nil, nil, nil)

	rec, _ := doRequest(t, s, http.MethodPost, "/api/ai/run/atlas")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestSnapshotNow(t *testing.T) {
	s := newTestServer(t, nil, nil, &fakeSampler{n: 9})

	rec, body := doRequest(t, s, http.MethodPost, "/api/internal/snapshot")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, float64(9), body["snapshotted"])
}

func TestSnapshotNowFails(t *testing.T) {
	s := newTestServer(t, nil, nil, &fakeSampler{err: fmt.Errorf("store is read-only")})

	rec, body := doRequest(t, s, http.MethodPost, "/api/internal/snapshot")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, body["error"], "read-only")
}
