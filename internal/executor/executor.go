// Package executor dispatches an approved decision to exactly one backend
// operation and reconciles the result into the agent state.
package executor

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/camuig/treasury-agent/internal/config"
	"github.com/camuig/treasury-agent/internal/domain"
	"github.com/camuig/treasury-agent/internal/guard"
	"github.com/camuig/treasury-agent/internal/ledger"
	"github.com/camuig/treasury-agent/internal/logger"
	"github.com/camuig/treasury-agent/internal/state"
	"github.com/camuig/treasury-agent/internal/venue"
)

// Snapshot is the read-only view of the world the decision was made on.
// VenueDown means the venue could not be read this cycle, so Position is
// unknown rather than flat.
type Snapshot struct {
	Price     float64 // reference price
	Balances  domain.Balances
	Position  *domain.Position
	VenueDown bool
}

// Result is the normalized outcome of one execution. Action is FAILED when the
// backend call errored, HOLD when nothing was dispatched.
type Result struct {
	Action      domain.Action
	Amount      float64
	TxRef       *string
	RealizedPnl float64
	StrategyPnl float64
	Note        string
	Err         error
}

func (r Result) Dispatched() bool {
	return r.Action != domain.ActionHold
}

type Router struct {
	ledger ledger.SpotLedger
	venue  venue.PerpVenue
	guard  *guard.Guard
	cfg    config.TradingConfig
	logger *logger.Logger
	now    func() time.Time
}

// NewRouter accepts a nil venue; perp intents then resolve to HOLD.
func NewRouter(spot ledger.SpotLedger, perp venue.PerpVenue, g *guard.Guard, cfg config.TradingConfig, log *logger.Logger) *Router {
	return &Router{
		ledger: spot,
		venue:  perp,
		guard:  g,
		cfg:    cfg,
		logger: log,
		now:    time.Now,
	}
}

// Approve runs the anti-churn guard against the persisted timers.
func (r *Router) Approve(d domain.Decision, snap Snapshot, st *state.AgentState) (domain.Decision, guard.Verdict) {
	timers := guard.Timers{
		LastOpenAt:  st.LastOpenAt,
		LastCloseAt: st.LastCloseAt,
	}
	if st.OpenPosition != nil {
		timers.OpenDirection = st.OpenPosition.Direction
	}
	approved, v := r.guard.Review(d, snap.Position, timers)
	if !v.Allowed {
		r.logger.Info("decision vetoed by guard", "action", d.Action(), "rule", v.Rule, "reason", v.Reason)
	}
	return approved, v
}

// Execute dispatches at most one mutating backend call, except for an open
// that first has to flatten an opposite position.
func (r *Router) Execute(ctx context.Context, d domain.Decision, snap Snapshot, st *state.AgentState) Result {
	switch d.Intent.(type) {
	case domain.DepositCollateral, domain.OpenPosition, domain.ClosePosition:
		if r.venue == nil {
			return hold("no derivatives venue")
		}
		if snap.VenueDown {
			return hold("derivatives venue unavailable: position unknown")
		}
	}

	switch in := d.Intent.(type) {
	case domain.Transfer:
		return r.executeTransfer(ctx, in, snap, st)
	case domain.DepositCollateral:
		return r.executeDeposit(ctx, in, snap, st)
	case domain.OpenPosition:
		return r.executeOpen(ctx, in, snap, st)
	case domain.ClosePosition:
		return r.executeClose(ctx, in, snap, st)
	}
	return Result{Action: domain.ActionHold}
}

// ClampTransfer bounds a transfer to min(requested, balance*MaxTransferPct,
// balance-MinReserve), never below zero.
func (r *Router) ClampTransfer(requested, balance float64) float64 {
	amount := math.Min(requested, balance*r.cfg.MaxTransferPct/100)
	amount = math.Min(amount, balance-r.cfg.MinReserve)
	if amount < 0 || math.IsNaN(amount) {
		return 0
	}
	return amount
}

func (r *Router) executeTransfer(ctx context.Context, in domain.Transfer, snap Snapshot, st *state.AgentState) Result {
	balance := snap.Balances.Of(in.From)
	amount := r.ClampTransfer(in.Amount, balance)
	if amount < r.cfg.MinTrade {
		return hold(fmt.Sprintf("%s amount %.4f below minimum trade %.2f after clamp", in.Kind, amount, r.cfg.MinTrade))
	}

	txRef, err := r.ledger.Transfer(ctx, in.From, in.To, amount)
	if err != nil {
		res := r.failed(in.Kind, amount, err)
		if txRef != "" {
			res.Note = fmt.Sprintf("%s; transfer %s submitted but not confirmed", res.Note, txRef)
		}
		return res
	}

	st.RecordExecution(amount)
	r.logger.Info("transfer executed", "action", in.Kind, "from", in.From, "to", in.To, "amount", amount, "tx", txRef)
	return Result{Action: in.Kind, Amount: amount, TxRef: &txRef}
}

func (r *Router) executeDeposit(ctx context.Context, in domain.DepositCollateral, snap Snapshot, st *state.AgentState) Result {
	amount := math.Min(in.Amount, snap.Balances.Agent*r.cfg.DepositMaxPct/100)
	if amount < r.cfg.MinTrade || math.IsNaN(amount) {
		return hold(fmt.Sprintf("deposit amount %.4f below minimum trade %.2f after clamp", math.Max(amount, 0), r.cfg.MinTrade))
	}

	txRef, err := r.venue.Deposit(ctx, amount)
	if err != nil {
		return r.failed(domain.ActionDepositCollateral, amount, err)
	}

	st.RecordExecution(amount)
	r.logger.Info("collateral deposited", "amount", amount, "tx", txRef)
	return Result{Action: domain.ActionDepositCollateral, Amount: amount, TxRef: &txRef}
}

func (r *Router) executeOpen(ctx context.Context, in domain.OpenPosition, snap Snapshot, st *state.AgentState) Result {
	action := in.Action()
	size := math.Min(in.SizeUSD, r.cfg.MaxPerpNotional)
	if size < r.cfg.MinPerpSize || math.IsNaN(size) {
		return hold(fmt.Sprintf("%s size %.4f below minimum perp size %.2f after clamp", action, math.Max(size, 0), r.cfg.MinPerpSize))
	}
	leverage := min(max(in.Leverage, 1), r.cfg.MaxLeverage)

	if pos := snap.Position; pos != nil && pos.BaseAmount != 0 {
		if pos.Direction == in.Direction {
			return hold(fmt.Sprintf("%s position already open", pos.Direction))
		}
		r.flatten(ctx, pos, snap, st)
	}

	res, err := r.venue.Open(ctx, in.Direction, size, leverage)
	if err != nil {
		return r.failed(action, size, err)
	}

	ref := snap.Price
	if ref <= 0 {
		ref = res.Price
	}
	st.RecordOpen(in.Direction, ref, res.BaseAmount, r.now())
	st.RecordExecution(size)

	r.logger.Info("position opened",
		"direction", in.Direction, "size_usd", size, "leverage", leverage,
		"fill", res.Price, "reference", ref, "base", res.BaseAmount, "tx", res.TxRef)
	return Result{Action: action, Amount: size, TxRef: &res.TxRef}
}

// flatten closes an opposite position before a reversal. Failure is logged and
// the open proceeds.
func (r *Router) flatten(ctx context.Context, pos *domain.Position, snap Snapshot, st *state.AgentState) {
	res, err := r.venue.Close(ctx)
	if err != nil {
		r.logger.Warn("closing opposite position before open failed", "direction", pos.Direction, "error", err)
		return
	}
	if res == nil {
		return
	}
	strategy := r.strategyPnl(pos, snap, res, st)
	st.RecordClose(res.Pnl, strategy, r.now())
	st.RecordExecution(pos.Notional())
	r.logger.Info("opposite position closed", "direction", pos.Direction, "pnl", res.Pnl, "strategy_pnl", strategy, "tx", res.TxRef)
}

func (r *Router) executeClose(ctx context.Context, in domain.ClosePosition, snap Snapshot, st *state.AgentState) Result {
	action := in.Action()
	pos := snap.Position
	if pos == nil || pos.BaseAmount == 0 {
		return hold("no position to close")
	}
	if pos.Direction != in.Direction {
		return hold(fmt.Sprintf("%s requested but open position is %s", action, pos.Direction))
	}

	res, err := r.venue.Close(ctx)
	if err != nil {
		return r.failed(action, pos.Notional(), err)
	}
	if res == nil {
		return hold("venue reported nothing to close")
	}

	strategy := r.strategyPnl(pos, snap, res, st)
	st.RecordClose(res.Pnl, strategy, r.now())
	st.RecordExecution(pos.Notional())

	r.logger.Info("position closed",
		"direction", pos.Direction, "pnl", res.Pnl, "strategy_pnl", strategy,
		"spread_cost", strategy-res.Pnl, "tx", res.TxRef)
	return Result{
		Action:      action,
		Amount:      pos.Notional(),
		TxRef:       &res.TxRef,
		RealizedPnl: res.Pnl,
		StrategyPnl: strategy,
	}
}

// strategyPnl prices the round trip at reference prices:
// (refClose - refOpen) * size * sign. Without a recorded open reference (e.g.
// a position opened outside the agent) the venue entry price stands in.
func (r *Router) strategyPnl(pos *domain.Position, snap Snapshot, res *venue.CloseResult, st *state.AgentState) float64 {
	refOpen := pos.EntryPrice()
	size := math.Abs(pos.BaseAmount)
	if ref := st.OpenPosition; ref != nil && ref.Direction == pos.Direction && ref.ReferencePrice > 0 {
		refOpen = ref.ReferencePrice
		size = ref.Size
	}

	refClose := snap.Price
	if refClose <= 0 {
		refClose = res.Price
	}
	if refOpen <= 0 || refClose <= 0 {
		return res.Pnl
	}
	return (refClose - refOpen) * size * pos.Direction.Sign()
}

func (r *Router) failed(action domain.Action, amount float64, err error) Result {
	r.logger.Error("execution failed", "action", action, "amount", amount, "error", err)
	return Result{
		Action: domain.ActionFailed,
		Amount: amount,
		Note:   fmt.Sprintf("%s failed: %v", action, err),
		Err:    err,
	}
}

func hold(note string) Result {
	return Result{Action: domain.ActionHold, Note: note}
}
