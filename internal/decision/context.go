package decision

import (
	"github.com/camuig/treasury-agent/internal/domain"
	"github.com/camuig/treasury-agent/internal/trend"
)

// Sentiment is the market-wide backdrop reported by the data provider.
type Sentiment struct {
	MarketCapChange float64 `json:"market_cap_change"`
	BTCDominance    float64 `json:"btc_dominance"`
}

// Context is everything a decision is derived from in one cycle. The rule
// engine only looks at the first block; the advisor also frames recent history.
type Context struct {
	Price          float64
	Change24h      float64
	Sentiment      Sentiment
	Trend          trend.Result
	Balances       domain.Balances
	Position       *domain.Position
	VenueAvailable bool

	RecentTrades []domain.TradeRecord
	RecentPrices []domain.PricePoint
}

func (c *Context) HasPosition() bool {
	return c.Position != nil && c.Position.BaseAmount != 0
}
