package market

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camuig/treasury-agent/internal/decision"
	"github.com/camuig/treasury-agent/internal/logger"
)

type stubSource struct {
	quotes []Quote
	err    error
	i      int
}

func (s *stubSource) FetchPrice(context.Context) (Quote, error) {
	if s.err != nil {
		return Quote{}, s.err
	}
	q := s.quotes[s.i]
	if s.i < len(s.quotes)-1 {
		s.i++
	}
	return q, nil
}

func (s *stubSource) FetchSentiment(context.Context) (decision.Sentiment, error) {
	if s.err != nil {
		return decision.Sentiment{}, s.err
	}
	return decision.Sentiment{MarketCapChange: 1.5, BTCDominance: 52}, nil
}

func TestFeed_RejectsLargeJump(t *testing.T) {
	src := &stubSource{quotes: []Quote{{Price: 100}, {Price: 140, Change24h: 40}}}
	f := NewFeed(src, 30, logger.Nop())

	assert.Equal(t, 100.0, f.Price(context.Background()).Price)

	q := f.Price(context.Background())
	assert.Equal(t, 100.0, q.Price)
	assert.True(t, q.Stale)
}

func TestFeed_AcceptsMoveWithinBand(t *testing.T) {
	src := &stubSource{quotes: []Quote{{Price: 100}, {Price: 125}}}
	f := NewFeed(src, 30, logger.Nop())

	f.Price(context.Background())
	q := f.Price(context.Background())
	assert.Equal(t, 125.0, q.Price)
	assert.False(t, q.Stale)
}

func TestFeed_OutageWithoutHistoryReturnsSentinel(t *testing.T) {
	f := NewFeed(&stubSource{err: errors.New("down")}, 30, logger.Nop())

	q := f.Price(context.Background())
	assert.Zero(t, q.Price)
	assert.True(t, q.Stale)
}

func TestFeed_OutageReturnsRestoredPrice(t *testing.T) {
	f := NewFeed(&stubSource{err: errors.New("down")}, 30, logger.Nop())
	f.Restore(87.5)

	assert.Equal(t, 87.5, f.Price(context.Background()).Price)
	assert.Equal(t, decision.Sentiment{}, f.Sentiment(context.Background()))
}

func TestCoinGeckoSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/simple/price":
			assert.Equal(t, "solana", r.URL.Query().Get("ids"))
			_, _ = w.Write([]byte(`{"solana":{"usd":142.5,"usd_24h_change":-3.2}}`))
		case "/global":
			_, _ = w.Write([]byte(`{"data":{"market_cap_change_percentage_24h_usd":-1.1,"market_cap_percentage":{"btc":54.2,"eth":17}}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	src := NewCoinGeckoSource(srv.URL, "solana", 5*time.Second)

	q, err := src.FetchPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 142.5, q.Price)
	assert.Equal(t, -3.2, q.Change24h)

	s, err := src.FetchSentiment(context.Background())
	require.NoError(t, err)
	assert.Equal(t, -1.1, s.MarketCapChange)
	assert.Equal(t, 54.2, s.BTCDominance)
}

func TestCoinGeckoSource_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewCoinGeckoSource(srv.URL, "solana", time.Second).FetchPrice(context.Background())
	assert.Error(t, err)
}
