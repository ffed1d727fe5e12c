package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/hldesk/hldesk/internal/domain"
)

// Rows per INSERT statement; Postgres caps bind parameters at 65535 and each
// row carries ten.
const fundingInsertChunk = 500

// Maximum rows a history read returns.
const fundingHistoryLimit = 1000

// FundingRepository persists and reads historical funding observations.
type FundingRepository struct {
	store *Store
}

// SaveRates bulk-inserts one poll's observations into funding_snapshots,
// chunked to keep statements under the parameter cap. Chunks are independent;
// a failing chunk aborts the rest.
func (r *FundingRepository) SaveRates(ctx context.Context, rates []domain.FundingRate) error {
	if err := r.store.requireWritable(); err != nil {
		return err
	}
	if len(rates) == 0 {
		return nil
	}

	ctx, cancel := r.store.queryCtx(ctx)
	defer cancel()

	for start := 0; start < len(rates); start += fundingInsertChunk {
		end := start + fundingInsertChunk
		if end > len(rates) {
			end = len(rates)
		}
		if err := r.insertChunk(ctx, rates[start:end]); err != nil {
			return fmt.Errorf("failed to insert funding chunk at %d: %w", start, err)
		}
	}
	return nil
}

func (r *FundingRepository) insertChunk(ctx context.Context, rates []domain.FundingRate) error {
	var (
		sb   strings.Builder
		args = make([]interface{}, 0, len(rates)*10)
	)
	sb.WriteString(`INSERT INTO funding_snapshots
		(asset, venue, rate_8h, rate_raw, next_funding_time, open_interest, mark_price, change_24h, volume_24h, observed_at)
		VALUES `)

	for i, rate := range rates {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 10
		sb.WriteString(fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10))
		args = append(args,
			rate.Asset, string(rate.Venue), rate.Rate8h, rate.RateRaw, rate.NextFundingTime,
			rate.OpenInterest, rate.MarkPrice, rate.Change24h, rate.Volume24h, rate.ObservedAt)
	}

	_, err := r.store.db.ExecContext(ctx, sb.String(), args...)
	return err
}

// HistoryFilter narrows a funding history read. Zero values mean "any".
type HistoryFilter struct {
	Asset  string
	Venue  string
	FromMs int64
	ToMs   int64
	Limit  int
}

// History reads past observations newest-first, capped at 1000 rows.
func (r *FundingRepository) History(ctx context.Context, filter HistoryFilter) ([]domain.FundingRate, error) {
	if r.store == nil {
		return nil, fmt.Errorf("store not configured")
	}

	ctx, cancel := r.store.queryCtx(ctx)
	defer cancel()

	var (
		conds []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Asset != "" {
		conds = append(conds, "asset = "+arg(strings.ToUpper(filter.Asset)))
	}
	if filter.Venue != "" {
		conds = append(conds, "venue = "+arg(filter.Venue))
	}
	if filter.FromMs > 0 {
		conds = append(conds, "observed_at >= "+arg(filter.FromMs))
	}
	if filter.ToMs > 0 {
		conds = append(conds, "observed_at <= "+arg(filter.ToMs))
	}

	limit := filter.Limit
	if limit <= 0 || limit > fundingHistoryLimit {
		limit = fundingHistoryLimit
	}

	query := `SELECT asset, venue, rate_8h, rate_raw, next_funding_time, open_interest, mark_price, change_24h, volume_24h, observed_at
		FROM funding_snapshots`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY observed_at DESC LIMIT " + arg(limit)

	rates := []domain.FundingRate{}
	if err := r.store.db.SelectContext(ctx, &rates, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query funding history: %w", err)
	}
	return rates, nil
}
