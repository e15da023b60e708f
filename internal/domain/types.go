// Package domain holds the types shared by the decision, execution and
// persistence layers of the agent.
package domain

import "time"

type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// Sign is +1 for LONG and -1 for SHORT.
func (d Direction) Sign() float64 {
	if d == Short {
		return -1
	}
	return 1
}

func (d Direction) Opposite() Direction {
	if d == Short {
		return Long
	}
	return Short
}

type Outlook string

const (
	Bullish Outlook = "bullish"
	Bearish Outlook = "bearish"
	Neutral Outlook = "neutral"
)

// Account names one of the two stable-asset accounts owned by the agent.
type Account string

const (
	AgentAccount    Account = "agent"
	TreasuryAccount Account = "treasury"
)

// Position is a read-only snapshot of the open perpetual exposure as reported
// by the venue.
type Position struct {
	Direction     Direction `json:"direction"`
	BaseAmount    float64   `json:"base_amount"`
	QuoteAmount   float64   `json:"quote_amount"`
	UnrealizedPnl float64   `json:"unrealized_pnl"`
	OpenedAt      time.Time `json:"opened_at"`
}

// Notional is the absolute entry notional.
func (p *Position) Notional() float64 {
	if p.QuoteAmount < 0 {
		return -p.QuoteAmount
	}
	return p.QuoteAmount
}

// EntryPrice derives the average entry price from the notional and size.
func (p *Position) EntryPrice() float64 {
	base := p.BaseAmount
	if base < 0 {
		base = -base
	}
	if base == 0 {
		return 0
	}
	return p.Notional() / base
}

type Collateral struct {
	Balance float64 `json:"balance"`
	Free    float64 `json:"free"`
}

type Balances struct {
	Agent          float64 `json:"agent"`
	Treasury       float64 `json:"treasury"`
	PerpCollateral float64 `json:"perp_collateral"`
	FreeCollateral float64 `json:"free_collateral"`
}

// Stable is the combined balance of both stable-asset accounts.
func (b Balances) Stable() float64 {
	return b.Agent + b.Treasury
}

// Total is the full exposure including the perp collateral and the open
// position's unrealized P&L.
func (b Balances) Total(pos *Position) float64 {
	total := b.Agent + b.Treasury + b.PerpCollateral
	if pos != nil {
		total += pos.UnrealizedPnl
	}
	return total
}

func (b Balances) Of(a Account) float64 {
	if a == TreasuryAccount {
		return b.Treasury
	}
	return b.Agent
}

type PricePoint struct {
	Time  time.Time `json:"time"`
	Price float64   `json:"price"`
}
