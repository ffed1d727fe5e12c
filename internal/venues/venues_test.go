package venues

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hldesk/hldesk/internal/domain"
)

func fixedClock(t *testing.T, ms int64) {
	t.Helper()
	orig := nowMs
	nowMs = func() int64 { return ms }
	t.Cleanup(func() { nowMs = orig })
}

func TestParseFloat(t *testing.T) {
	assert.Equal(t, 0.0, parseFloat(""))
	assert.Equal(t, 0.0, parseFloat("not-a-number"))
	assert.Equal(t, 0.0004, parseFloat("0.0004"))
	assert.Equal(t, -1.5, parseFloat("-1.5"))
}

func TestHyperliquidFetch(t *testing.T) {
	fixedClock(t, 1_700_000_000_000)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/info", r.URL.Path)
		w.Write([]byte(`[
			{"universe": [
				{"name": "BTC"},
				{"name": "OLDCOIN", "isDelisted": true},
				{"name": "ETH"}
			]},
			[
				{"funding": "0.00005", "openInterest": "1000", "prevDayPx": "50000", "dayNtlVlm": "2000000", "markPx": "51000", "nextFundingTime": 1700003600000},
				{"funding": "0.001", "openInterest": "1", "prevDayPx": "1", "dayNtlVlm": "1", "markPx": "1"},
				{"funding": "-0.0000125", "openInterest": "5000", "prevDayPx": "4000", "dayNtlVlm": "900000", "markPx": "3800", "nextFundingTime": 1700003600000}
			]
		]`))
	}))
	defer srv.Close()

	hl := NewHyperliquid(srv.URL, zerolog.Nop())
	rates, err := hl.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, rates, 2, "delisted assets are skipped")

	btc := rates[0]
	assert.Equal(t, "BTC", btc.Asset)
	assert.Equal(t, domain.VenueHyperliquid, btc.Venue)
	assert.InDelta(t, 0.0004, btc.Rate8h, 1e-12, "per-hour funding scales by 8")
	assert.InDelta(t, 0.00005, btc.RateRaw, 1e-12)
	assert.Equal(t, int64(1700003600000), btc.NextFundingTime)
	assert.InDelta(t, 1000*51000.0, btc.OpenInterest, 1e-6, "open interest converts to USD at mark")
	assert.InDelta(t, 2.0, btc.Change24h, 1e-9)
	assert.Equal(t, 2000000.0, btc.Volume24h)
	assert.Equal(t, int64(1_700_000_000_000), btc.ObservedAt)

	eth := rates[1]
	assert.Equal(t, "ETH", eth.Asset)
	assert.InDelta(t, -0.0001, eth.Rate8h, 1e-12)
	assert.InDelta(t, -5.0, eth.Change24h, 1e-9)
}

func TestHyperliquidFetchNextFundingFallback(t *testing.T) {
	fixedClock(t, 1_700_000_123_456)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"universe": [{"name": "BTC"}]},
			[{"funding": "0.0001", "markPx": "100", "prevDayPx": "100"}]
		]`))
	}))
	defer srv.Close()

	hl := NewHyperliquid(srv.URL, zerolog.Nop())
	rates, err := hl.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, rates, 1)

	// 1_700_000_123_456 ms is inside the hour starting at 1_699_999_200_000.
	assert.Equal(t, int64(1_700_002_800_000), rates[0].NextFundingTime,
		"missing nextFundingTime falls back to the next top of hour")
}

func TestHyperliquidFetchMismatchedPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"universe": [{"name": "BTC"}, {"name": "ETH"}]}, [{"funding": "0.0001"}]]`))
	}))
	defer srv.Close()

	hl := NewHyperliquid(srv.URL, zerolog.Nop())
	_, err := hl.Fetch(context.Background())
	assert.ErrorContains(t, err, "mismatch")
}

func TestHyperliquidFetchServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	hl := NewHyperliquid(srv.URL, zerolog.Nop())
	_, err := hl.Fetch(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "503")
}

func TestBinanceFetch(t *testing.T) {
	fixedClock(t, 1_700_000_000_000)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/fapi/v1/premiumIndex", r.URL.Path)
		w.Write([]byte(`[
			{"symbol": "BTCUSDT", "markPrice": "51000.10", "lastFundingRate": "0.0001", "nextFundingTime": 1700028800000},
			{"symbol": "BTCUSDT_250926", "markPrice": "51200", "lastFundingRate": "0", "nextFundingTime": 0},
			{"symbol": "ETHBUSD", "markPrice": "3800", "lastFundingRate": "0.0002", "nextFundingTime": 1700028800000},
			{"symbol": "SOLUSDT", "markPrice": "95.5", "lastFundingRate": "-0.00025", "nextFundingTime": 1700028800000}
		]`))
	}))
	defer srv.Close()

	b := NewBinance(srv.URL, zerolog.Nop())
	rates, err := b.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, rates, 2, "delivery contracts and non-USDT margins are skipped")

	assert.Equal(t, "BTC", rates[0].Asset)
	assert.Equal(t, domain.VenueBinance, rates[0].Venue)
	assert.Equal(t, 0.0001, rates[0].Rate8h, "per-8h rate passes through unscaled")
	assert.Equal(t, 0.0001, rates[0].RateRaw)
	assert.Equal(t, 51000.10, rates[0].MarkPrice)

	assert.Equal(t, "SOL", rates[1].Asset)
	assert.Equal(t, -0.00025, rates[1].Rate8h)
}

func TestBybitFetch(t *testing.T) {
	fixedClock(t, 1_700_000_000_000)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v5/market/tickers", r.URL.Path)
		require.Equal(t, "linear", r.URL.Query().Get("category"))
		w.Write([]byte(`{
			"retCode": 0,
			"retMsg": "OK",
			"result": {"category": "linear", "list": [
				{"symbol": "BTCUSDT", "fundingRate": "0.00013", "nextFundingTime": "1700028800000", "markPrice": "51000", "openInterestValue": "123456789"},
				{"symbol": "BTC-26SEP25", "fundingRate": "0.0001", "nextFundingTime": "0", "markPrice": "51200", "openInterestValue": "0"},
				{"symbol": "ETHUSDT", "fundingRate": "", "nextFundingTime": "0", "markPrice": "3800", "openInterestValue": "0"}
			]}
		}`))
	}))
	defer srv.Close()

	b := NewBybit(srv.URL, zerolog.Nop())
	rates, err := b.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, rates, 1, "dated contracts and fundingless listings are skipped")

	btc := rates[0]
	assert.Equal(t, "BTC", btc.Asset)
	assert.Equal(t, domain.VenueBybit, btc.Venue)
	assert.Equal(t, 0.00013, btc.Rate8h)
	assert.Equal(t, int64(1700028800000), btc.NextFundingTime)
	assert.Equal(t, 123456789.0, btc.OpenInterest)
}

func TestBybitFetchRetCodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"retCode": 10002, "retMsg": "request expired", "result": {}}`))
	}))
	defer srv.Close()

	b := NewBybit(srv.URL, zerolog.Nop())
	_, err := b.Fetch(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "10002")
}

func TestOKXFetch(t *testing.T) {
	fixedClock(t, 1_700_000_000_000)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v5/public/instruments":
			require.Equal(t, "SWAP", r.URL.Query().Get("instType"))
			w.Write([]byte(`{"code": "0", "data": [
				{"instId": "BTC-USDT-SWAP", "state": "live"},
				{"instId": "ETH-USDT-SWAP", "state": "live"},
				{"instId": "DOGE-USDT-SWAP", "state": "suspend"},
				{"instId": "BTC-USD-SWAP", "state": "live"}
			]}`))
		case "/api/v5/public/funding-rate":
			switch r.URL.Query().Get("instId") {
			case "BTC-USDT-SWAP":
				w.Write([]byte(`{"code": "0", "data": [{"instId": "BTC-USDT-SWAP", "fundingRate": "0.00011", "nextFundingTime": "1700028800000"}]}`))
			case "ETH-USDT-SWAP":
				// Per-instrument failures are tolerated.
				http.Error(w, "oops", http.StatusInternalServerError)
			default:
				t.Errorf("unexpected instId %q", r.URL.Query().Get("instId"))
			}
		default:
			t.Errorf("unexpected path %q", r.URL.Path)
		}
	}))
	defer srv.Close()

	o := NewOKX(srv.URL, zerolog.Nop())
	rates, err := o.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, rates, 1, "suspended, non-USDT and failing instruments are skipped")

	btc := rates[0]
	assert.Equal(t, "BTC", btc.Asset)
	assert.Equal(t, domain.VenueOKX, btc.Venue)
	assert.Equal(t, 0.00011, btc.Rate8h)
	assert.Equal(t, int64(1700028800000), btc.NextFundingTime)
}

func TestOKXFetchInstrumentsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code": "50011", "msg": "rate limited", "data": []}`))
	}))
	defer srv.Close()

	o := NewOKX(srv.URL, zerolog.Nop())
	_, err := o.Fetch(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "50011")
}
