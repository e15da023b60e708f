// Package state holds the agent's single mutable root, persisted after every
// cycle.
package state

import (
	"context"
	"errors"
	"time"

	"github.com/camuig/treasury-agent/internal/domain"
)

// ErrNotFound is returned by Store.Load when nothing has been persisted yet.
var ErrNotFound = errors.New("agent state not found")

type Store interface {
	Load(ctx context.Context) (*AgentState, error)
	Save(ctx context.Context, s *AgentState) error
}

// OpenReference is what the agent remembers about the position it opened:
// the reference (oracle) price, not the fill price, so strategy P&L excludes
// the spread.
type OpenReference struct {
	Direction      domain.Direction `json:"direction"`
	ReferencePrice float64          `json:"reference_price"`
	Size           float64          `json:"size"` // absolute base amount
	OpenedAt       time.Time        `json:"opened_at"`
}

type BalancePoint struct {
	Time     time.Time       `json:"time"`
	Balances domain.Balances `json:"balances"`
	Total    float64         `json:"total"`
}

type Limits struct {
	Prices   int
	Trades   int
	Balances int
}

type AgentState struct {
	PriceHistory   []domain.PricePoint  `json:"price_history"`
	TradeHistory   []domain.TradeRecord `json:"trade_history"`
	BalanceHistory []BalancePoint       `json:"balance_history"`

	Cycle        int       `json:"cycle"`
	SessionStart time.Time `json:"session_start"`
	TxCount      int       `json:"tx_count"`
	Volume       float64   `json:"volume"`

	InitialBalance    float64 `json:"initial_balance"`
	InitialBalanceSet bool    `json:"initial_balance_set"`

	RealizedPnl float64 `json:"realized_pnl"` // execution, spread included
	StrategyPnl float64 `json:"strategy_pnl"` // reference prices, spread-free
	ClosedCount int     `json:"closed_count"`

	OpenPosition *OpenReference `json:"open_position,omitempty"`
	LastOpenAt   time.Time      `json:"last_open_at"`
	LastCloseAt  time.Time      `json:"last_close_at"`

	LastGoodPrice float64 `json:"last_good_price"`

	limits Limits
}

func DefaultLimits() Limits {
	return Limits{Prices: 200, Trades: 500, Balances: 200}
}

func New(now time.Time, limits Limits) *AgentState {
	s := &AgentState{SessionStart: now}
	s.SetLimits(limits)
	return s
}

// SetLimits applies ring sizes; needed after loading from a store.
func (s *AgentState) SetLimits(l Limits) {
	d := DefaultLimits()
	if l.Prices <= 0 {
		l.Prices = d.Prices
	}
	if l.Trades <= 0 {
		l.Trades = d.Trades
	}
	if l.Balances <= 0 {
		l.Balances = d.Balances
	}
	s.limits = l
}

func (s *AgentState) AppendPrice(p domain.PricePoint) {
	s.PriceHistory = trim(append(s.PriceHistory, p), s.limits.Prices)
	if p.Price > 0 {
		s.LastGoodPrice = p.Price
	}
}

func (s *AgentState) AppendTrade(t domain.TradeRecord) {
	s.TradeHistory = trim(append(s.TradeHistory, t), s.limits.Trades)
}

func (s *AgentState) AppendBalance(p BalancePoint) {
	s.BalanceHistory = trim(append(s.BalanceHistory, p), s.limits.Balances)
}

// CaptureInitialBalance records the total once; later calls are ignored.
func (s *AgentState) CaptureInitialBalance(total float64) {
	if s.InitialBalanceSet {
		return
	}
	s.InitialBalance = total
	s.InitialBalanceSet = true
}

// RecordOpen remembers the reference price of a freshly opened position and
// starts the hold timer.
func (s *AgentState) RecordOpen(dir domain.Direction, refPrice, size float64, at time.Time) {
	if size < 0 {
		size = -size
	}
	s.OpenPosition = &OpenReference{Direction: dir, ReferencePrice: refPrice, Size: size, OpenedAt: at}
	s.LastOpenAt = at
}

// RecordClose accumulates both P&L figures, clears the open reference and
// starts the cooldown timer.
func (s *AgentState) RecordClose(realized, strategy float64, at time.Time) {
	s.RealizedPnl += realized
	s.StrategyPnl += strategy
	s.ClosedCount++
	s.OpenPosition = nil
	s.LastCloseAt = at
}

func (s *AgentState) RecordExecution(amount float64) {
	s.TxCount++
	s.Volume += amount
}

// RecentTrades returns up to n of the newest trade records, oldest first.
func (s *AgentState) RecentTrades(n int) []domain.TradeRecord {
	return tail(s.TradeHistory, n)
}

func (s *AgentState) RecentPrices(n int) []domain.PricePoint {
	return tail(s.PriceHistory, n)
}

// LastBalances is the most recent recorded balance snapshot, zero if none.
func (s *AgentState) LastBalances() domain.Balances {
	if len(s.BalanceHistory) == 0 {
		return domain.Balances{}
	}
	return s.BalanceHistory[len(s.BalanceHistory)-1].Balances
}

// SpreadCost is how much execution cost relative to the reference prices.
func (s *AgentState) SpreadCost() float64 {
	return s.StrategyPnl - s.RealizedPnl
}

func (s *AgentState) ReturnPct(currentTotal float64) float64 {
	if !s.InitialBalanceSet || s.InitialBalance == 0 {
		return 0
	}
	return (currentTotal - s.InitialBalance) / s.InitialBalance * 100
}

func trim[T any](v []T, limit int) []T {
	if limit > 0 && len(v) > limit {
		return append(v[:0:0], v[len(v)-limit:]...)
	}
	return v
}

func tail[T any](v []T, n int) []T {
	if n <= 0 || n >= len(v) {
		return v
	}
	return v[len(v)-n:]
}
