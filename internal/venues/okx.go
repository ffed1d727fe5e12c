package venues

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/hldesk/hldesk/internal/domain"
)

const (
	defaultOKXURL = "https://www.okx.com"

	// OKX has no bulk funding endpoint; instruments are queried one by one
	// in concurrent batches of this size.
	okxBatchSize = 20
)

// OKX lists USDT swaps, then fans out per-instrument funding-rate requests.
// Individual instrument failures are skipped. Rates are per-8h.
type OKX struct {
	baseURL string
	client  *client
	log     zerolog.Logger
}

// NewOKX creates the OKX adapter.
func NewOKX(baseURL string, log zerolog.Logger) *OKX {
	if baseURL == "" {
		baseURL = defaultOKXURL
	}
	return &OKX{
		baseURL: baseURL,
		client:  newClient(domain.VenueOKX, 15, 20, log),
		log:     log.With().Str("venue", "okx").Logger(),
	}
}

// Venue implements Adapter.
func (o *OKX) Venue() domain.Venue { return domain.VenueOKX }

type okxInstrumentsResponse struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data []struct {
		InstID    string `json:"instId"`
		State     string `json:"state"`
		CtType    string `json:"ctType"`
		SettleCcy string `json:"settleCcy"`
	} `json:"data"`
}

type okxFundingRateResponse struct {
	Code string `json:"code"`
	Data []struct {
		InstID          string `json:"instId"`
		FundingRate     string `json:"fundingRate"`
		NextFundingTime string `json:"nextFundingTime"`
	} `json:"data"`
}

// Fetch implements Adapter.
func (o *OKX) Fetch(ctx context.Context) ([]domain.FundingRate, error) {
	var instruments okxInstrumentsResponse
	url := o.baseURL + "/api/v5/public/instruments?instType=SWAP"
	if err := o.client.getJSON(ctx, url, &instruments); err != nil {
		return nil, fmt.Errorf("okx instruments: %w", err)
	}
	if instruments.Code != "0" {
		return nil, fmt.Errorf("okx instruments: code %s: %s", instruments.Code, instruments.Msg)
	}

	instIDs := make([]string, 0, len(instruments.Data))
	for _, inst := range instruments.Data {
		if !strings.HasSuffix(inst.InstID, "-USDT-SWAP") {
			continue
		}
		if inst.State != "" && inst.State != "live" {
			continue
		}
		instIDs = append(instIDs, inst.InstID)
	}

	observed := nowMs()
	var (
		mu    sync.Mutex
		rates []domain.FundingRate
	)

	for start := 0; start < len(instIDs); start += okxBatchSize {
		end := start + okxBatchSize
		if end > len(instIDs) {
			end = len(instIDs)
		}

		var wg sync.WaitGroup
		for _, instID := range instIDs[start:end] {
			wg.Add(1)
			go func(instID string) {
				defer wg.Done()
				rate, err := o.fetchFundingRate(ctx, instID, observed)
				if err != nil {
					// One dead instrument must not sink the venue.
					o.log.Debug().Err(err).Str("inst", instID).Msg("Skipping instrument")
					return
				}
				mu.Lock()
				rates = append(rates, rate)
				mu.Unlock()
			}(instID)
		}
		wg.Wait()
	}

	return rates, nil
}

func (o *OKX) fetchFundingRate(ctx context.Context, instID string, observed int64) (domain.FundingRate, error) {
	var payload okxFundingRateResponse
	url := o.baseURL + "/api/v5/public/funding-rate?instId=" + instID
	if err := o.client.getJSON(ctx, url, &payload); err != nil {
		return domain.FundingRate{}, err
	}
	if payload.Code != "0" || len(payload.Data) == 0 {
		return domain.FundingRate{}, fmt.Errorf("okx funding-rate %s: empty response", instID)
	}

	row := payload.Data[0]
	raw := parseFloat(row.FundingRate)
	return domain.FundingRate{
		Asset:           strings.ToUpper(strings.TrimSuffix(instID, "-USDT-SWAP")),
		Venue:           domain.VenueOKX,
		Rate8h:          raw,
		RateRaw:         raw,
		NextFundingTime: int64(parseFloat(row.NextFundingTime)),
		ObservedAt:      observed,
	}, nil
}
