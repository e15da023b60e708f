package market

import (
	"context"
	"math"
	"sync"

	"github.com/camuig/treasury-agent/internal/decision"
	"github.com/camuig/treasury-agent/internal/logger"
)

// Feed wraps a Source with the sanity filter. It never fabricates a price:
// on failure or an implausible jump it returns the last accepted quote, and
// a zero price only when nothing has been accepted yet.
type Feed struct {
	source     Source
	maxJumpPct float64
	logger     *logger.Logger

	mu   sync.Mutex
	last Quote
}

func NewFeed(source Source, maxJumpPct float64, log *logger.Logger) *Feed {
	return &Feed{source: source, maxJumpPct: maxJumpPct, logger: log}
}

// Restore seeds the last known good price, e.g. from persisted state.
func (f *Feed) Restore(price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if price > 0 {
		f.last = Quote{Price: price}
	}
}

func (f *Feed) LastPrice() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last.Price
}

func (f *Feed) Price(ctx context.Context) Quote {
	q, err := f.source.FetchPrice(ctx)

	f.mu.Lock()
	defer f.mu.Unlock()

	if err != nil {
		f.logger.Warn("price fetch failed, using last known good", "error", err, "last", f.last.Price)
		return f.stale()
	}
	if q.Price <= 0 || math.IsNaN(q.Price) || math.IsInf(q.Price, 0) {
		f.logger.Warn("invalid price rejected", "price", q.Price, "last", f.last.Price)
		return f.stale()
	}
	if f.last.Price > 0 {
		jump := math.Abs(q.Price-f.last.Price) / f.last.Price * 100
		if jump > f.maxJumpPct {
			f.logger.Warn("price jump rejected", "price", q.Price, "last", f.last.Price, "jump_pct", jump)
			return f.stale()
		}
	}

	f.last = q
	return q
}

func (f *Feed) stale() Quote {
	q := f.last
	q.Stale = true
	return q
}

// Sentiment degrades to a zero snapshot on failure.
func (f *Feed) Sentiment(ctx context.Context) decision.Sentiment {
	s, err := f.source.FetchSentiment(ctx)
	if err != nil {
		f.logger.Warn("sentiment fetch failed", "error", err)
		return decision.Sentiment{}
	}
	return s
}
