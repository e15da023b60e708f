// Package ledger is the stable-asset side of the agent: two owned accounts and
// transfers between them.
package ledger

import (
	"context"
	"errors"

	"github.com/camuig/treasury-agent/internal/domain"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrUnknownAccount    = errors.New("unknown account")
)

// SpotLedger moves the stable asset between accounts. Transfer returns only
// after the transfer is final. When the transfer was submitted but finality
// could not be confirmed, the returned reference is non-empty alongside the
// error.
type SpotLedger interface {
	Balance(ctx context.Context, account domain.Account) (float64, error)
	Transfer(ctx context.Context, from, to domain.Account, amount float64) (string, error)
}
