package venues

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/hldesk/hldesk/internal/domain"
)

const defaultHyperliquidURL = "https://api.hyperliquid.xyz"

// Hyperliquid is the primary venue adapter. One POST to the info endpoint
// returns the full perp universe with funding, open interest, mark and
// volume context. Hyperliquid funding is per-hour, so rate8h = raw * 8.
type Hyperliquid struct {
	baseURL string
	client  *client
}

// NewHyperliquid creates the primary venue adapter. An empty baseURL selects
// the production endpoint.
func NewHyperliquid(baseURL string, log zerolog.Logger) *Hyperliquid {
	if baseURL == "" {
		baseURL = defaultHyperliquidURL
	}
	return &Hyperliquid{
		baseURL: baseURL,
		client:  newClient(domain.VenueHyperliquid, 10, 5, log),
	}
}

// Venue implements Adapter.
func (h *Hyperliquid) Venue() domain.Venue { return domain.VenueHyperliquid }

type hlInfoRequest struct {
	Type string `json:"type"`
}

type hlUniverseEntry struct {
	Name       string `json:"name"`
	IsDelisted bool   `json:"isDelisted"`
}

type hlAssetCtx struct {
	Funding         string `json:"funding"`
	OpenInterest    string `json:"openInterest"`
	PrevDayPx       string `json:"prevDayPx"`
	DayNtlVlm       string `json:"dayNtlVlm"`
	MarkPx          string `json:"markPx"`
	MidPx           string `json:"midPx"`
	NextFundingTime int64  `json:"nextFundingTime"`
}

// hlMetaAndAssetCtxs decodes the [meta, ctxs] tuple the info endpoint
// returns for metaAndAssetCtxs.
type hlMetaAndAssetCtxs struct {
	Universe  []hlUniverseEntry
	AssetCtxs []hlAssetCtx
}

func (m *hlMetaAndAssetCtxs) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) < 2 {
		return fmt.Errorf("unexpected metaAndAssetCtxs payload: %d elements", len(raw))
	}
	var meta struct {
		Universe []hlUniverseEntry `json:"universe"`
	}
	if err := json.Unmarshal(raw[0], &meta); err != nil {
		return err
	}
	if err := json.Unmarshal(raw[1], &m.AssetCtxs); err != nil {
		return err
	}
	m.Universe = meta.Universe
	return nil
}

// Fetch implements Adapter.
func (h *Hyperliquid) Fetch(ctx context.Context) ([]domain.FundingRate, error) {
	var payload hlMetaAndAssetCtxs
	err := h.client.postJSON(ctx, h.baseURL+"/info", hlInfoRequest{Type: "metaAndAssetCtxs"}, &payload)
	if err != nil {
		return nil, fmt.Errorf("hyperliquid metaAndAssetCtxs: %w", err)
	}

	if len(payload.AssetCtxs) < len(payload.Universe) {
		return nil, fmt.Errorf("hyperliquid universe/ctx mismatch: %d vs %d",
			len(payload.Universe), len(payload.AssetCtxs))
	}

	observed := nowMs()
	rates := make([]domain.FundingRate, 0, len(payload.Universe))
	for i, entry := range payload.Universe {
		if entry.IsDelisted {
			continue
		}
		ctx := payload.AssetCtxs[i]
		raw := parseFloat(ctx.Funding)
		mark := parseFloat(ctx.MarkPx)
		prevDay := parseFloat(ctx.PrevDayPx)

		var change24h float64
		if prevDay > 0 {
			change24h = (mark - prevDay) / prevDay * 100
		}

		next := ctx.NextFundingTime
		if next == 0 {
			// Hourly settlement; funding pays at the top of the hour.
			next = time.UnixMilli(observed).Truncate(time.Hour).Add(time.Hour).UnixMilli()
		}

		rates = append(rates, domain.FundingRate{
			Asset:           strings.ToUpper(entry.Name),
			Venue:           domain.VenueHyperliquid,
			Rate8h:          raw * 8,
			RateRaw:         raw,
			NextFundingTime: next,
			OpenInterest:    parseFloat(ctx.OpenInterest) * mark,
			MarkPrice:       mark,
			Change24h:       change24h,
			Volume24h:       parseFloat(ctx.DayNtlVlm),
			ObservedAt:      observed,
		})
	}
	return rates, nil
}
