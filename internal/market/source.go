// Package market fetches the price and sentiment snapshot the agent decides on.
package market

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/camuig/treasury-agent/internal/decision"
)

type Quote struct {
	Price     float64 `json:"price"`
	Change24h float64 `json:"change_24h"`
	Stale     bool    `json:"stale"`
}

// Source is a raw upstream data provider. Errors are handled by Feed.
type Source interface {
	FetchPrice(ctx context.Context) (Quote, error)
	FetchSentiment(ctx context.Context) (decision.Sentiment, error)
}

// CoinGeckoSource reads the public CoinGecko v3 API.
type CoinGeckoSource struct {
	client  *resty.Client
	assetID string
}

func NewCoinGeckoSource(baseURL, assetID string, timeout time.Duration) *CoinGeckoSource {
	client := resty.New()
	client.SetBaseURL(baseURL)
	client.SetTimeout(timeout)
	client.SetHeader("Accept", "application/json")

	return &CoinGeckoSource{client: client, assetID: assetID}
}

type simplePriceResponse map[string]struct {
	USD          float64 `json:"usd"`
	USD24hChange float64 `json:"usd_24h_change"`
}

type globalResponse struct {
	Data struct {
		MarketCapChangePercentage24hUSD float64            `json:"market_cap_change_percentage_24h_usd"`
		MarketCapPercentage             map[string]float64 `json:"market_cap_percentage"`
	} `json:"data"`
}

func (s *CoinGeckoSource) FetchPrice(ctx context.Context) (Quote, error) {
	var out simplePriceResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"ids":                 s.assetID,
			"vs_currencies":       "usd",
			"include_24hr_change": "true",
		}).
		SetResult(&out).
		Get("/simple/price")
	if err != nil {
		return Quote{}, fmt.Errorf("fetch price: %w", err)
	}
	if resp.IsError() {
		return Quote{}, fmt.Errorf("price API returned status %d", resp.StatusCode())
	}

	p, ok := out[s.assetID]
	if !ok || p.USD <= 0 {
		return Quote{}, fmt.Errorf("price API returned no price for %s", s.assetID)
	}
	return Quote{Price: p.USD, Change24h: p.USD24hChange}, nil
}

func (s *CoinGeckoSource) FetchSentiment(ctx context.Context) (decision.Sentiment, error) {
	var out globalResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/global")
	if err != nil {
		return decision.Sentiment{}, fmt.Errorf("fetch global: %w", err)
	}
	if resp.IsError() {
		return decision.Sentiment{}, fmt.Errorf("global API returned status %d", resp.StatusCode())
	}
	return decision.Sentiment{
		MarketCapChange: out.Data.MarketCapChangePercentage24hUSD,
		BTCDominance:    out.Data.MarketCapPercentage["btc"],
	}, nil
}
