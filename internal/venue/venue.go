// Package venue is the perpetual-futures side of the agent.
package venue

import (
	"context"

	"github.com/camuig/treasury-agent/internal/domain"
)

type OpenResult struct {
	TxRef      string
	Price      float64 // average fill price
	BaseAmount float64 // signed filled quantity
}

type CloseResult struct {
	TxRef string
	Pnl   float64 // realized at fill prices, spread included
	Price float64
}

// PerpVenue manages a single perpetual market. Position returns nil when flat.
// Close returns nil, nil when there was nothing to close.
type PerpVenue interface {
	Position(ctx context.Context) (*domain.Position, error)
	Collateral(ctx context.Context) (domain.Collateral, error)
	Deposit(ctx context.Context, amount float64) (string, error)
	Open(ctx context.Context, dir domain.Direction, sizeUSD float64, leverage int) (*OpenResult, error)
	Close(ctx context.Context) (*CloseResult, error)
}

// Shutdowner is implemented by venues holding subscriptions or connections.
type Shutdowner interface {
	Shutdown() error
}
