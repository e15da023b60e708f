package ai

import (
	"fmt"
	"strings"

	"github.com/camuig/treasury-agent/internal/decision"
)

const systemPrompt = `You manage a small on-chain treasury for an autonomous trading agent.
Each cycle you receive the market snapshot, trend signals, balances of the agent and treasury
accounts, the perpetual-futures collateral and the open position if any.

Choose exactly ONE action:
- HOLD
- ALLOCATE_TO_TREASURY (move "amount" from agent to treasury)
- WITHDRAW_FROM_TREASURY (move "amount" from treasury to agent)
- REBALANCE (move toward a 50/50 split)
- OPEN_LONG / OPEN_SHORT (perp position of notional "size" USD at "leverage")
- CLOSE_LONG / CLOSE_SHORT (close the open position)
- DEPOSIT_TO_DRIFT (move "amount" from agent to perp collateral)

Rules:
1. Perp actions are only possible when the derivatives venue is marked available.
2. Never open a position in the same direction as the one already open.
3. Do not close a position just because it shows a small loss right after entry; that is spread.
4. Prefer HOLD over trading on weak or conflicting signals.
5. Confidence is 0-100.

Answer with a single JSON object and nothing else:
{"action":"HOLD","amount":0,"size":0,"leverage":0,"confidence":55,"reason":"...","outlook":"neutral"}
outlook is one of bullish, bearish, neutral.`

func BuildUserPrompt(c *decision.Context) string {
	var sb strings.Builder

	sb.WriteString("## Market\n")
	sb.WriteString(fmt.Sprintf("Price: %.4f USD, 24h change: %+.2f%%\n", c.Price, c.Change24h))
	sb.WriteString(fmt.Sprintf("Total market cap 24h change: %+.2f%%, BTC dominance: %.1f%%\n\n",
		c.Sentiment.MarketCapChange, c.Sentiment.BTCDominance))

	t := c.Trend
	sb.WriteString("## Trend\n")
	sb.WriteString(fmt.Sprintf("Outlook: %s, strength %d/100 over %d samples\n", t.Outlook, t.Strength, t.Samples))
	sb.WriteString(fmt.Sprintf("SMA short %.4f / long %.4f (diff %+.3f%%), momentum %+.2f%%\n",
		t.ShortSMA, t.LongSMA, t.SMADiffPct, t.Momentum))
	sb.WriteString(fmt.Sprintf("Support %.4f, resistance %.4f, position in range %.0f%%\n\n",
		t.Support, t.Resistance, t.RangePosition))

	b := c.Balances
	sb.WriteString("## Balances\n")
	sb.WriteString(fmt.Sprintf("Agent: %.4f, Treasury: %.4f\n", b.Agent, b.Treasury))
	if c.VenueAvailable {
		sb.WriteString(fmt.Sprintf("Perp collateral: %.4f (free %.4f)\n", b.PerpCollateral, b.FreeCollateral))
	} else {
		sb.WriteString("Derivatives venue: unavailable\n")
	}

	if c.HasPosition() {
		p := c.Position
		sb.WriteString(fmt.Sprintf("Open position: %s %.4f base, notional %.2f, entry %.4f, unrealized P&L %+.4f, opened %s\n",
			p.Direction, p.BaseAmount, p.Notional(), p.EntryPrice(), p.UnrealizedPnl, p.OpenedAt.Format("2006-01-02 15:04")))
	} else {
		sb.WriteString("No open position.\n")
	}
	sb.WriteString("\n")

	if len(c.RecentPrices) > 0 {
		sb.WriteString("## Recent prices\n")
		parts := make([]string, 0, len(c.RecentPrices))
		for _, p := range c.RecentPrices {
			parts = append(parts, fmt.Sprintf("%.4f", p.Price))
		}
		sb.WriteString(strings.Join(parts, ", "))
		sb.WriteString("\n\n")
	}

	sb.WriteString("## Recent trades\n")
	if len(c.RecentTrades) == 0 {
		sb.WriteString("None yet.\n")
	}
	for _, tr := range c.RecentTrades {
		sb.WriteString(fmt.Sprintf("- %s cycle %d: %s %.4f (%s)\n",
			tr.Time.Format("01-02 15:04"), tr.Cycle, tr.Action, tr.Amount, tr.Reason))
	}

	sb.WriteString("\nDecide the next action and reply in JSON.")

	return sb.String()
}
