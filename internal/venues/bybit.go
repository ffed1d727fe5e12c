package venues

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/hldesk/hldesk/internal/domain"
)

const defaultBybitURL = "https://api.bybit.com"

// Bybit fetches linear-category tickers in one call; fundingRate is per-8h.
type Bybit struct {
	baseURL string
	client  *client
}

// NewBybit creates the Bybit adapter.
func NewBybit(baseURL string, log zerolog.Logger) *Bybit {
	if baseURL == "" {
		baseURL = defaultBybitURL
	}
	return &Bybit{
		baseURL: baseURL,
		client:  newClient(domain.VenueBybit, 5, 2, log),
	}
}

// Venue implements Adapter.
func (b *Bybit) Venue() domain.Venue { return domain.VenueBybit }

type bybitTickersResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		Category string `json:"category"`
		List     []struct {
			Symbol          string `json:"symbol"`
			FundingRate     string `json:"fundingRate"`
			NextFundingTime string `json:"nextFundingTime"`
			MarkPrice       string `json:"markPrice"`
			OpenInterestVal string `json:"openInterestValue"`
		} `json:"list"`
	} `json:"result"`
}

// Fetch implements Adapter.
func (b *Bybit) Fetch(ctx context.Context) ([]domain.FundingRate, error) {
	var payload bybitTickersResponse
	url := b.baseURL + "/v5/market/tickers?category=linear"
	if err := b.client.getJSON(ctx, url, &payload); err != nil {
		return nil, fmt.Errorf("bybit tickers: %w", err)
	}
	if payload.RetCode != 0 {
		return nil, fmt.Errorf("bybit tickers: retCode %d: %s", payload.RetCode, payload.RetMsg)
	}

	observed := nowMs()
	rates := make([]domain.FundingRate, 0, len(payload.Result.List))
	for _, row := range payload.Result.List {
		if !strings.HasSuffix(row.Symbol, "USDT") || strings.Contains(row.Symbol, "-") {
			continue
		}
		if row.FundingRate == "" {
			// Spot-like listings in the linear category carry no funding.
			continue
		}
		raw := parseFloat(row.FundingRate)
		rates = append(rates, domain.FundingRate{
			Asset:           strings.ToUpper(strings.TrimSuffix(row.Symbol, "USDT")),
			Venue:           domain.VenueBybit,
			Rate8h:          raw,
			RateRaw:         raw,
			NextFundingTime: int64(parseFloat(row.NextFundingTime)),
			MarkPrice:       parseFloat(row.MarkPrice),
			OpenInterest:    parseFloat(row.OpenInterestVal),
			ObservedAt:      observed,
		})
	}
	return rates, nil
}
