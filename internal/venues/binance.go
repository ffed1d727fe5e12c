package venues

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/hldesk/hldesk/internal/domain"
)

const defaultBinanceURL = "https://fapi.binance.com"

// Binance fetches the premium index for all USDT-margined perps in one call.
// The published rate is already per-8h.
type Binance struct {
	baseURL string
	client  *client
}

// NewBinance creates the Binance futures adapter.
func NewBinance(baseURL string, log zerolog.Logger) *Binance {
	if baseURL == "" {
		baseURL = defaultBinanceURL
	}
	return &Binance{
		baseURL: baseURL,
		client:  newClient(domain.VenueBinance, 5, 2, log),
	}
}

// Venue implements Adapter.
func (b *Binance) Venue() domain.Venue { return domain.VenueBinance }

type binancePremiumIndex struct {
	Symbol          string `json:"symbol"`
	MarkPrice       string `json:"markPrice"`
	LastFundingRate string `json:"lastFundingRate"`
	NextFundingTime int64  `json:"nextFundingTime"`
	Time            int64  `json:"time"`
}

// Fetch implements Adapter.
func (b *Binance) Fetch(ctx context.Context) ([]domain.FundingRate, error) {
	var payload []binancePremiumIndex
	if err := b.client.getJSON(ctx, b.baseURL+"/fapi/v1/premiumIndex", &payload); err != nil {
		return nil, fmt.Errorf("binance premiumIndex: %w", err)
	}

	observed := nowMs()
	rates := make([]domain.FundingRate, 0, len(payload))
	for _, row := range payload {
		// Delivery contracts carry a settlement suffix (BTCUSDT_250926);
		// only plain USDT perpetuals qualify.
		if !strings.HasSuffix(row.Symbol, "USDT") || strings.Contains(row.Symbol, "_") {
			continue
		}
		raw := parseFloat(row.LastFundingRate)
		rates = append(rates, domain.FundingRate{
			Asset:           strings.ToUpper(strings.TrimSuffix(row.Symbol, "USDT")),
			Venue:           domain.VenueBinance,
			Rate8h:          raw,
			RateRaw:         raw,
			NextFundingTime: row.NextFundingTime,
			MarkPrice:       parseFloat(row.MarkPrice),
			ObservedAt:      observed,
		})
	}
	return rates, nil
}
