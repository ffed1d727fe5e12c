// Package domain holds the canonical market and simulation models shared by
// the aggregation pipeline, the trading engines and the HTTP surface.
package domain

import (
	"math"
	"time"
)

// Venue identifies a supported exchange.
type Venue string

const (
	VenueHyperliquid Venue = "hyperliquid"
	VenueBinance     Venue = "binance"
	VenueBybit       Venue = "bybit"
	VenueOKX         Venue = "okx"
)

// PrimaryVenue is the venue whose listings define the spread universe.
const PrimaryVenue = VenueHyperliquid

// FundingRate is one observation of one asset on one venue.
// Rate8h is the rate normalized to an 8-hour equivalent as a decimal fraction
// (0.0005 = 0.05%). RateRaw keeps the venue's native value.
type FundingRate struct {
	Asset           string  `json:"asset" db:"asset"`
	Venue           Venue   `json:"venue" db:"venue"`
	Rate8h          float64 `json:"rate8h" db:"rate_8h"`
	RateRaw         float64 `json:"rateRaw" db:"rate_raw"`
	NextFundingTime int64   `json:"nextFundingTime" db:"next_funding_time"`
	OpenInterest    float64 `json:"openInterest,omitempty" db:"open_interest"`
	MarkPrice       float64 `json:"markPrice,omitempty" db:"mark_price"`
	Change24h       float64 `json:"change24h,omitempty" db:"change_24h"`
	Volume24h       float64 `json:"volume24h,omitempty" db:"volume_24h"`
	ObservedAt      int64   `json:"observedAt" db:"observed_at"`
}

// FundingSpread is the cross-venue view for one asset listed on the primary
// venue. CexRates holds zero to three CEX observations keyed by venue.
type FundingSpread struct {
	Asset     string                `json:"asset"`
	Primary   *FundingRate          `json:"primary"`
	CexRates  map[Venue]FundingRate `json:"cexRates"`
	BestCex   string                `json:"bestCex"`
	MaxSpread float64               `json:"maxSpread"`
}

// BestCexRate returns the signed rate8h of the best CEX, or 0 when none.
func (s *FundingSpread) BestCexRate() float64 {
	if s.BestCex == "" || s.BestCex == "none" {
		return 0
	}
	if r, ok := s.CexRates[Venue(s.BestCex)]; ok {
		return r.Rate8h
	}
	return 0
}

// AggregatedResult is one completed aggregation pass. Spreads are sorted by
// |MaxSpread| descending; AllRates concatenates every venue's observations.
type AggregatedResult struct {
	Spreads   []FundingSpread `json:"spreads"`
	AllRates  []FundingRate   `json:"allRates"`
	Timestamp int64           `json:"timestamp"`
}

// SpreadFor returns the spread for an asset, or nil.
func (r *AggregatedResult) SpreadFor(asset string) *FundingSpread {
	for i := range r.Spreads {
		if r.Spreads[i].Asset == asset {
			return &r.Spreads[i]
		}
	}
	return nil
}

// Position sides for the paper-trading engine.
const (
	SideShortPerp = "short_perp"
	SideLongPerp  = "long_perp"
)

// SideSign returns +1 for short_perp and -1 for long_perp. Shorts collect
// positive funding; the sign also orients price P&L.
func SideSign(side string) float64 {
	if side == SideShortPerp {
		return 1
	}
	return -1
}

// Portfolio is one paper-trading account driven by a named strategy.
type Portfolio struct {
	ID             string                 `json:"id" db:"id"`
	StrategyName   string                 `json:"strategyName" db:"strategy_name"`
	StrategyConfig map[string]interface{} `json:"strategyConfig" db:"strategy_config"`
	CashBalance    float64                `json:"cashBalance" db:"cash_balance"`
	InitialBalance float64                `json:"initialBalance" db:"initial_balance"`
	IsActive       bool                   `json:"isActive" db:"is_active"`
	CreatedAt      time.Time              `json:"createdAt" db:"created_at"`
}

// Position is one open or closed paper position. SizeUsd is the immutable
// notional; funding accrues into TotalFundingCollected over the position's
// lifetime.
type Position struct {
	ID                    string     `json:"id" db:"id"`
	PortfolioID           string     `json:"portfolioId" db:"portfolio_id"`
	Asset                 string     `json:"asset" db:"asset"`
	Side                  string     `json:"side" db:"side"`
	SizeUsd               float64    `json:"sizeUsd" db:"size_usd"`
	EntryRate8h           float64    `json:"entryRate8h" db:"entry_rate_8h"`
	EntrySpread           float64    `json:"entrySpread" db:"entry_spread"`
	EntryPrice            float64    `json:"entryPrice" db:"entry_price"`
	TotalFundingCollected float64    `json:"totalFundingCollected" db:"total_funding_collected"`
	LastFundingAt         time.Time  `json:"lastFundingAt" db:"last_funding_at"`
	OpenedAt              time.Time  `json:"openedAt" db:"opened_at"`
	IsOpen                bool       `json:"isOpen" db:"is_open"`
	ExitPrice             *float64   `json:"exitPrice,omitempty" db:"exit_price"`
	RealizedPnl           *float64   `json:"realizedPnl,omitempty" db:"realized_pnl"`
	ClosedAt              *time.Time `json:"closedAt,omitempty" db:"closed_at"`
	FeesPaid              float64    `json:"feesPaid" db:"fees_paid"`
}

// UnrealizedPnl marks the position to the given price. Funding is excluded;
// it is reported separately for attribution.
func (p *Position) UnrealizedPnl(mark float64) float64 {
	if p.EntryPrice <= 0 || mark <= 0 {
		return 0
	}
	return SideSign(p.Side) * (p.EntryPrice - mark) / p.EntryPrice * p.SizeUsd
}

// Transaction types recorded in the append-only audit log.
const (
	TxOpen    = "open"
	TxClose   = "close"
	TxFee     = "fee"
	TxFunding = "funding"
)

// Transaction is one audit-log entry. Amount is signed: cash-in positive,
// cash-out negative.
type Transaction struct {
	ID          string    `json:"id" db:"id"`
	PortfolioID string    `json:"portfolioId" db:"portfolio_id"`
	PositionID  *string   `json:"positionId,omitempty" db:"position_id"`
	Type        string    `json:"type" db:"type"`
	Asset       string    `json:"asset" db:"asset"`
	Amount      float64   `json:"amount" db:"amount"`
	Description string    `json:"description" db:"description"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
}

// Snapshot owner kinds.
const (
	OwnerPortfolio = "portfolio"
	OwnerAgent     = "agent"
)

// EquitySnapshot is one hourly mark-to-market sample for a portfolio or agent.
type EquitySnapshot struct {
	OwnerID          string    `json:"ownerId" db:"owner_id"`
	OwnerKind        string    `json:"ownerKind" db:"owner_kind"`
	SnapshotAt       time.Time `json:"snapshotAt" db:"snapshot_at"`
	TotalValue       float64   `json:"totalValue" db:"total_value"`
	CashBalance      float64   `json:"cashBalance" db:"cash_balance"`
	UnrealizedPnl    float64   `json:"unrealizedPnl" db:"unrealized_pnl"`
	FundingCollected float64   `json:"fundingCollected" db:"funding_collected"`
	OpenPositions    int       `json:"openPositions" db:"open_positions"`
}

// AiTrader is one LLM-driven agent.
type AiTrader struct {
	ID          string  `json:"id" db:"id"`
	Name        string  `json:"name" db:"name"`
	Model       string  `json:"model" db:"model"`
	Emoji       string  `json:"emoji" db:"emoji"`
	Persona     string  `json:"persona" db:"persona"`
	CashBalance float64 `json:"cashBalance" db:"cash_balance"`
	IsActive    bool    `json:"isActive" db:"is_active"`
}

// AI position directions.
const (
	DirectionLong  = "long"
	DirectionShort = "short"
)

// AiPosition mirrors Position for agents, with long/short direction.
type AiPosition struct {
	ID               string     `json:"id" db:"id"`
	TraderID         string     `json:"traderId" db:"trader_id"`
	Asset            string     `json:"asset" db:"asset"`
	Direction        string     `json:"direction" db:"direction"`
	SizeUsd          float64    `json:"sizeUsd" db:"size_usd"`
	EntryPrice       float64    `json:"entryPrice" db:"entry_price"`
	EntryRate8h      float64    `json:"entryRate8h" db:"entry_rate_8h"`
	FundingCollected float64    `json:"fundingCollected" db:"funding_collected"`
	LastFundingAt    time.Time  `json:"lastFundingAt" db:"last_funding_at"`
	OpenedAt         time.Time  `json:"openedAt" db:"opened_at"`
	IsOpen           bool       `json:"isOpen" db:"is_open"`
	ExitPrice        *float64   `json:"exitPrice,omitempty" db:"exit_price"`
	RealizedPnl      *float64   `json:"realizedPnl,omitempty" db:"realized_pnl"`
	ClosedAt         *time.Time `json:"closedAt,omitempty" db:"closed_at"`
}

// DirectionSign returns +1 for short and -1 for long, orienting funding and
// price P&L the same way SideSign does for paper positions.
func DirectionSign(direction string) float64 {
	if direction == DirectionShort {
		return 1
	}
	return -1
}

// UnrealizedPnl marks the AI position to the given price.
func (p *AiPosition) UnrealizedPnl(mark float64) float64 {
	if p.EntryPrice <= 0 || mark <= 0 {
		return 0
	}
	if p.Direction == DirectionLong {
		return (mark - p.EntryPrice) / p.EntryPrice * p.SizeUsd
	}
	return (p.EntryPrice - mark) / p.EntryPrice * p.SizeUsd
}

// Decision actions an agent may take, one per cycle.
const (
	ActionOpenLong  = "open_long"
	ActionOpenShort = "open_short"
	ActionClose     = "close"
	ActionHold      = "hold"
)

// ValidAction reports whether the action is one the engine executes.
func ValidAction(action string) bool {
	switch action {
	case ActionOpenLong, ActionOpenShort, ActionClose, ActionHold:
		return true
	}
	return false
}

// AiDecision is one persisted agent decision.
type AiDecision struct {
	ID        string    `json:"id" db:"id"`
	TraderID  string    `json:"traderId" db:"trader_id"`
	Action    string    `json:"action" db:"action"`
	Asset     string    `json:"asset,omitempty" db:"asset"`
	SizeUsd   float64   `json:"sizeUsd,omitempty" db:"size_usd"`
	Reasoning string    `json:"reasoning" db:"reasoning"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// AbsMaxSpread is a sort key helper shared by the aggregator and handlers.
func AbsMaxSpread(s FundingSpread) float64 {
	return math.Abs(s.MaxSpread)
}
