package ai

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hldesk/hldesk/internal/domain"
)

// Agents start from this baseline; total P&L in the prompt is measured
// against it.
const startingBalance = 10000.0

// Assets shown to the model, largest open interest first.
const marketContextAssets = 20

// Personas keyed by agent name; anything else gets the generic prompt.
var personaPrompts = map[string]string{
	"atlas":  "You are Atlas, a macro-thesis trader. You form a view on the funding regime as a whole and express it through a small number of high-conviction perpetual positions. You care about where rates are heading over days, not minutes.",
	"vector": "You are Vector, a momentum-breakout trader. You chase accelerating funding rates and price moves, entering when a trend is confirmed and cutting quickly when it stalls. Speed beats perfection.",
	"fade":   "You are Fade, a contrarian mean-reversion trader. Extreme funding rates are your signal: when everyone pays to be long, you look to short, and vice versa. You fade crowding, not strength.",
	"kelly":  "You are Kelly, a risk-adjusted-conviction trader. You size positions by edge over variance and refuse trades without a clear expected-value case. Capital preservation comes before upside.",
}

const genericPersona = "You are a disciplined perpetual-futures trader managing a simulated account. You trade funding-rate opportunities on Hyperliquid with strict risk control."

const responseInstructions = `Respond with a single JSON object and nothing else:
{"action": "open_long" | "open_short" | "close" | "hold", "asset": "<TICKER>", "size_usd": <number>, "reasoning": "<one or two sentences>"}
Rules: at most 3 open positions; max position size is 30% of total account value; minimum position is $100. Use "hold" when nothing is attractive.`

// systemPrompt returns the persona prompt for an agent plus the response
// contract.
func systemPrompt(trader domain.AiTrader) string {
	persona, ok := personaPrompts[strings.ToLower(trader.Name)]
	if !ok {
		persona = genericPersona
	}
	return persona + "\n\n" + responseInstructions
}

// userPrompt renders the market context and portfolio summary the model
// decides from.
func userPrompt(trader domain.AiTrader, positions []domain.AiPosition, result domain.AggregatedResult) string {
	var b strings.Builder

	b.WriteString("MARKET (top assets by open interest; rates are per 8h):\n")
	for _, s := range topSpreadsByOpenInterest(result.Spreads, marketContextAssets) {
		writeMarketLine(&b, s)
	}

	totalValue, _ := markToMarket(trader, positions, result)
	fmt.Fprintf(&b, "\nPORTFOLIO:\ncash: $%.2f\ntotal value: $%.2f\ntotal P&L vs $%.0f start: %+.2f\n",
		trader.CashBalance, totalValue, startingBalance, totalValue-startingBalance)

	if len(positions) == 0 {
		b.WriteString("no open positions\n")
	}
	for _, p := range positions {
		writePositionLine(&b, p, result)
	}

	b.WriteString("\nDecide your single action for this cycle.")
	return b.String()
}

func writeMarketLine(b *strings.Builder, s domain.FundingSpread) {
	p := s.Primary
	cexAvg := 0.0
	if len(s.CexRates) > 0 {
		for _, r := range s.CexRates {
			cexAvg += r.Rate8h
		}
		cexAvg /= float64(len(s.CexRates))
	}
	fmt.Fprintf(b, "%s: price $%.6g, 24h %+.2f%%, vol $%.1fM, OI $%.1fM, rate %+.4f%%, cex avg %+.4f%%, spread %+.4f%%\n",
		s.Asset, p.MarkPrice, p.Change24h, p.Volume24h/1e6, p.OpenInterest/1e6,
		p.Rate8h*100, cexAvg*100, s.MaxSpread*100)
}

func writePositionLine(b *strings.Builder, p domain.AiPosition, result domain.AggregatedResult) {
	mark := p.EntryPrice
	rate := 0.0
	if s := result.SpreadFor(p.Asset); s != nil {
		if s.Primary.MarkPrice > 0 {
			mark = s.Primary.MarkPrice
		}
		rate = s.Primary.Rate8h
	}
	fmt.Fprintf(b, "open %s %s: $%.2f notional, entry $%.6g, now $%.6g, unrealized %+.2f, funding %+.2f, current rate %+.4f%%\n",
		p.Direction, p.Asset, p.SizeUsd, p.EntryPrice, mark, p.UnrealizedPnl(mark), p.FundingCollected, rate*100)
}

// markToMarket values the account: cash plus notional plus unrealized price
// P&L on open positions.
func markToMarket(trader domain.AiTrader, positions []domain.AiPosition, result domain.AggregatedResult) (totalValue, unrealized float64) {
	totalValue = trader.CashBalance
	for _, p := range positions {
		mark := p.EntryPrice
		if s := result.SpreadFor(p.Asset); s != nil && s.Primary.MarkPrice > 0 {
			mark = s.Primary.MarkPrice
		}
		pnl := p.UnrealizedPnl(mark)
		totalValue += p.SizeUsd + pnl
		unrealized += pnl
	}
	return totalValue, unrealized
}

func topSpreadsByOpenInterest(spreads []domain.FundingSpread, n int) []domain.FundingSpread {
	sorted := append([]domain.FundingSpread{}, spreads...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Primary.OpenInterest > sorted[j].Primary.OpenInterest
	})
	if n > len(sorted) {
		n = len(sorted)
	}
	return sorted[:n]
}
