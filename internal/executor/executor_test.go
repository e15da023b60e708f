package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camuig/treasury-agent/internal/config"
	"github.com/camuig/treasury-agent/internal/domain"
	"github.com/camuig/treasury-agent/internal/guard"
	"github.com/camuig/treasury-agent/internal/logger"
	"github.com/camuig/treasury-agent/internal/state"
	"github.com/camuig/treasury-agent/internal/venue"
)

type fakeLedger struct {
	transfers []float64
	err       error
	ref       string // returned with err
}

func (f *fakeLedger) Balance(context.Context, domain.Account) (float64, error) { return 0, nil }

func (f *fakeLedger) Transfer(_ context.Context, _, _ domain.Account, amount float64) (string, error) {
	if f.err != nil {
		return f.ref, f.err
	}
	f.transfers = append(f.transfers, amount)
	return "spot-tx", nil
}

type fakeVenue struct {
	opens, closes, deposits int
	openErr, closeErr       error
	openRes                 *venue.OpenResult
	closeRes                *venue.CloseResult
}

func (f *fakeVenue) mutations() int { return f.opens + f.closes + f.deposits }

func (f *fakeVenue) Position(context.Context) (*domain.Position, error) { return nil, nil }

func (f *fakeVenue) Collateral(context.Context) (domain.Collateral, error) {
	return domain.Collateral{}, nil
}

func (f *fakeVenue) Deposit(context.Context, float64) (string, error) {
	f.deposits++
	return "deposit-tx", nil
}

func (f *fakeVenue) Open(_ context.Context, dir domain.Direction, sizeUSD float64, _ int) (*venue.OpenResult, error) {
	f.opens++
	if f.openErr != nil {
		return nil, f.openErr
	}
	if f.openRes != nil {
		return f.openRes, nil
	}
	return &venue.OpenResult{TxRef: "open-tx", Price: 100, BaseAmount: dir.Sign() * sizeUSD / 100}, nil
}

func (f *fakeVenue) Close(context.Context) (*venue.CloseResult, error) {
	f.closes++
	if f.closeErr != nil {
		return nil, f.closeErr
	}
	if f.closeRes != nil {
		return f.closeRes, nil
	}
	return &venue.CloseResult{TxRef: "close-tx"}, nil
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

var start = time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

func newRouter(spot *fakeLedger, perp *fakeVenue) (*Router, *clock) {
	clk := &clock{t: start}
	cfg := config.Default()
	g := guard.New(guard.Config{
		MinHold:            cfg.MinHold(),
		Cooldown:           cfg.Cooldown(),
		SpreadTolerancePct: cfg.Guard.SpreadTolerancePct,
	}, clk.now)

	var pv venue.PerpVenue
	if perp != nil {
		pv = perp
	}
	r := NewRouter(spot, pv, g, cfg.Trading, logger.Nop())
	r.now = clk.now
	return r, clk
}

func TestRouter_ClampNeverExceedsBalanceMinusReserve(t *testing.T) {
	r, _ := newRouter(&fakeLedger{}, nil)

	for _, bal := range []float64{0, 0.5, 1, 1.5, 2, 3, 10, 1000} {
		for _, req := range []float64{-5, 0, 0.1, 1, 3, 50, 1e9} {
			got := r.ClampTransfer(req, bal)
			assert.GreaterOrEqual(t, got, 0.0)
			assert.LessOrEqual(t, got, max(bal-1, 0))
			assert.LessOrEqual(t, got, bal*0.5+1e-12)
		}
	}
}

func TestRouter_AllocateScenario(t *testing.T) {
	spot := &fakeLedger{}
	r, _ := newRouter(spot, nil)
	st := state.New(start, state.DefaultLimits())

	d := domain.Decision{Intent: domain.Transfer{
		Kind: domain.ActionAllocateToTreasury, From: domain.AgentAccount, To: domain.TreasuryAccount, Amount: 3,
	}}
	res := r.Execute(context.Background(), d, Snapshot{Price: 100, Balances: domain.Balances{Agent: 10, Treasury: 10}}, st)

	assert.Equal(t, domain.ActionAllocateToTreasury, res.Action)
	assert.InDelta(t, 3.0, res.Amount, 1e-9)
	require.NotNil(t, res.TxRef)
	assert.Equal(t, []float64{3}, spot.transfers)
	assert.Equal(t, 1, st.TxCount)
}

func TestRouter_TransferBelowMinimumHolds(t *testing.T) {
	spot := &fakeLedger{}
	r, _ := newRouter(spot, nil)
	st := state.New(start, state.DefaultLimits())

	d := domain.Decision{Intent: domain.Transfer{
		Kind: domain.ActionWithdrawFromTreasury, From: domain.TreasuryAccount, To: domain.AgentAccount, Amount: 5,
	}}
	res := r.Execute(context.Background(), d, Snapshot{Balances: domain.Balances{Agent: 10, Treasury: 1.5}}, st)

	assert.Equal(t, domain.ActionHold, res.Action)
	assert.Zero(t, res.Amount)
	assert.Nil(t, res.TxRef)
	assert.Empty(t, spot.transfers)
}

func TestRouter_BackendFailureIsFailedTrade(t *testing.T) {
	spot := &fakeLedger{err: errors.New("rpc unavailable")}
	r, _ := newRouter(spot, nil)
	st := state.New(start, state.DefaultLimits())

	d := domain.Decision{Intent: domain.Transfer{
		Kind: domain.ActionAllocateToTreasury, From: domain.AgentAccount, To: domain.TreasuryAccount, Amount: 3,
	}}
	res := r.Execute(context.Background(), d, Snapshot{Balances: domain.Balances{Agent: 10, Treasury: 10}}, st)

	assert.Equal(t, domain.ActionFailed, res.Action)
	assert.Nil(t, res.TxRef)
	assert.Error(t, res.Err)
	assert.Zero(t, st.TxCount)
}

func TestRouter_GuardedDecisionNeverReachesVenue(t *testing.T) {
	perp := &fakeVenue{}
	r, clk := newRouter(&fakeLedger{}, perp)
	st := state.New(start, state.DefaultLimits())
	st.RecordOpen(domain.Long, 100, 0.1, start)
	clk.t = start.Add(5 * time.Minute)

	pos := &domain.Position{Direction: domain.Long, BaseAmount: 0.1, QuoteAmount: 10, UnrealizedPnl: -3, OpenedAt: start}
	snap := Snapshot{Price: 70, Position: pos}

	for _, d := range []domain.Decision{
		{Intent: domain.ClosePosition{Direction: domain.Long}, Confidence: 75},
		{Intent: domain.OpenPosition{Direction: domain.Long, SizeUSD: 10, Leverage: 2}, Confidence: 65},
	} {
		approved, v := r.Approve(d, snap, st)
		require.False(t, v.Allowed)
		res := r.Execute(context.Background(), approved, snap, st)

		assert.Equal(t, domain.ActionHold, res.Action)
		assert.Zero(t, res.Amount)
	}
	assert.Zero(t, perp.mutations())
}

func TestRouter_LongRoundTripAfter35Minutes(t *testing.T) {
	perp := &fakeVenue{
		openRes:  &venue.OpenResult{TxRef: "open", Price: 100.1, BaseAmount: 0.1},
		closeRes: &venue.CloseResult{TxRef: "close", Price: 94.9, Pnl: -0.52},
	}
	r, clk := newRouter(&fakeLedger{}, perp)
	st := state.New(start, state.DefaultLimits())
	st.StrategyPnl = 1.0

	open := domain.Decision{Intent: domain.OpenPosition{Direction: domain.Long, SizeUSD: 10, Leverage: 2}}
	approved, v := r.Approve(open, Snapshot{Price: 100}, st)
	require.True(t, v.Allowed)
	res := r.Execute(context.Background(), approved, Snapshot{Price: 100, Balances: domain.Balances{FreeCollateral: 20}}, st)
	require.Equal(t, domain.ActionOpenLong, res.Action)
	require.NotNil(t, st.OpenPosition)
	assert.Equal(t, 100.0, st.OpenPosition.ReferencePrice)
	assert.Equal(t, start, st.LastOpenAt)

	clk.t = start.Add(35 * time.Minute)
	pos := &domain.Position{Direction: domain.Long, BaseAmount: 0.1, QuoteAmount: 10.01, UnrealizedPnl: -0.52, OpenedAt: start}
	snap := Snapshot{Price: 95, Position: pos}

	closeDecision := domain.Decision{Intent: domain.ClosePosition{Direction: domain.Long}}
	approved, v = r.Approve(closeDecision, snap, st)
	require.True(t, v.Allowed, v.Reason)
	res = r.Execute(context.Background(), approved, snap, st)

	assert.Equal(t, domain.ActionCloseLong, res.Action)
	assert.InDelta(t, -0.5, res.StrategyPnl, 1e-9)
	assert.InDelta(t, -0.52, res.RealizedPnl, 1e-9)
	assert.InDelta(t, 0.5, st.StrategyPnl, 1e-9)
	assert.InDelta(t, -0.52, st.RealizedPnl, 1e-9)
	assert.Nil(t, st.OpenPosition)
	assert.Equal(t, clk.t, st.LastCloseAt)
	assert.GreaterOrEqual(t, st.LastCloseAt.Sub(st.LastOpenAt), 30*time.Minute)
}

func TestRouter_ShortReconciliation(t *testing.T) {
	perp := &fakeVenue{closeRes: &venue.CloseResult{TxRef: "close", Pnl: 0.9}}
	r, _ := newRouter(&fakeLedger{}, perp)
	st := state.New(start, state.DefaultLimits())
	st.RecordOpen(domain.Short, 100, 0.2, start.Add(-time.Hour))

	pos := &domain.Position{Direction: domain.Short, BaseAmount: -0.2, QuoteAmount: 20}
	res := r.Execute(context.Background(), domain.Decision{Intent: domain.ClosePosition{Direction: domain.Short}}, Snapshot{Price: 95, Position: pos}, st)

	assert.InDelta(t, 1.0, res.StrategyPnl, 1e-9, "(P1-P2)*S for short")
	assert.InDelta(t, 1.0, st.StrategyPnl, 1e-9)
}

func TestRouter_CumulativeStrategyPnlIsSum(t *testing.T) {
	perp := &fakeVenue{}
	r, _ := newRouter(&fakeLedger{}, perp)
	st := state.New(start, state.DefaultLimits())

	trades := []struct {
		dir        domain.Direction
		open, exit float64
	}{
		{domain.Long, 100, 110},
		{domain.Short, 110, 105},
		{domain.Long, 105, 100},
	}
	want := 0.0
	for _, tr := range trades {
		st.RecordOpen(tr.dir, tr.open, 0.5, start)
		pos := &domain.Position{Direction: tr.dir, BaseAmount: tr.dir.Sign() * 0.5, QuoteAmount: tr.open * 0.5}
		res := r.Execute(context.Background(), domain.Decision{Intent: domain.ClosePosition{Direction: tr.dir}}, Snapshot{Price: tr.exit, Position: pos}, st)
		require.Equal(t, domain.ClosePosition{Direction: tr.dir}.Action(), res.Action)
		want += (tr.exit - tr.open) * 0.5 * tr.dir.Sign()
	}

	assert.InDelta(t, want, st.StrategyPnl, 1e-9)
	assert.InDelta(t, 5.0, want, 1e-9)
	assert.Equal(t, 3, st.ClosedCount)
}

func TestRouter_CloseWithoutPositionHolds(t *testing.T) {
	perp := &fakeVenue{}
	r, _ := newRouter(&fakeLedger{}, perp)
	st := state.New(start, state.DefaultLimits())

	res := r.Execute(context.Background(), domain.Decision{Intent: domain.ClosePosition{Direction: domain.Long}}, Snapshot{Price: 100}, st)
	assert.Equal(t, domain.ActionHold, res.Action)

	short := &domain.Position{Direction: domain.Short, BaseAmount: -0.1, QuoteAmount: 10}
	res = r.Execute(context.Background(), domain.Decision{Intent: domain.ClosePosition{Direction: domain.Long}}, Snapshot{Price: 100, Position: short}, st)
	assert.Equal(t, domain.ActionHold, res.Action)
	assert.Zero(t, perp.mutations())
}

func TestRouter_OpenClampsSizeAndLeverage(t *testing.T) {
	perp := &fakeVenue{}
	r, _ := newRouter(&fakeLedger{}, perp)
	st := state.New(start, state.DefaultLimits())

	res := r.Execute(context.Background(),
		domain.Decision{Intent: domain.OpenPosition{Direction: domain.Short, SizeUSD: 5000, Leverage: 50}},
		Snapshot{Price: 100}, st)

	assert.Equal(t, domain.ActionOpenShort, res.Action)
	assert.Equal(t, 50.0, res.Amount)
	assert.Equal(t, 0.5, st.OpenPosition.Size)

	res = r.Execute(context.Background(),
		domain.Decision{Intent: domain.OpenPosition{Direction: domain.Long, SizeUSD: 2}},
		Snapshot{Price: 100}, st)
	assert.Equal(t, domain.ActionHold, res.Action)
	assert.Equal(t, 1, perp.opens)
}

func TestRouter_ReversalClosesOppositeFirst(t *testing.T) {
	perp := &fakeVenue{closeErr: errors.New("close rejected")}
	r, _ := newRouter(&fakeLedger{}, perp)
	st := state.New(start, state.DefaultLimits())

	short := &domain.Position{Direction: domain.Short, BaseAmount: -0.1, QuoteAmount: 10}
	res := r.Execute(context.Background(),
		domain.Decision{Intent: domain.OpenPosition{Direction: domain.Long, SizeUSD: 10, Leverage: 2}},
		Snapshot{Price: 100, Position: short}, st)

	assert.Equal(t, domain.ActionOpenLong, res.Action, "close failure is best-effort")
	assert.Equal(t, 1, perp.closes)
	assert.Equal(t, 1, perp.opens)
	assert.Equal(t, domain.Long, st.OpenPosition.Direction)
}

func TestRouter_ReversalObeysCloseRules(t *testing.T) {
	perp := &fakeVenue{closeRes: &venue.CloseResult{TxRef: "close", Price: 101, Pnl: -0.5}}
	r, clk := newRouter(&fakeLedger{}, perp)
	st := state.New(start, state.DefaultLimits())
	st.RecordOpen(domain.Short, 100, 0.1, start)

	short := &domain.Position{Direction: domain.Short, BaseAmount: -0.1, QuoteAmount: 10, UnrealizedPnl: -0.5, OpenedAt: start}
	open := domain.Decision{Intent: domain.OpenPosition{Direction: domain.Long, SizeUSD: 10, Leverage: 2}, Confidence: 65}

	clk.t = start.Add(5 * time.Minute)
	snap := Snapshot{Price: 101, Balances: domain.Balances{FreeCollateral: 20}, Position: short}
	approved, v := r.Approve(open, snap, st)
	assert.False(t, v.Allowed)
	assert.Equal(t, "min_hold", v.Rule)
	res := r.Execute(context.Background(), approved, snap, st)
	assert.Equal(t, domain.ActionHold, res.Action)
	assert.Zero(t, perp.mutations())
	require.NotNil(t, st.OpenPosition)
	assert.Equal(t, domain.Short, st.OpenPosition.Direction)

	clk.t = start.Add(35 * time.Minute)
	small := *short
	small.UnrealizedPnl = -0.02
	_, v = r.Approve(open, Snapshot{Price: 100.2, Position: &small}, st)
	assert.False(t, v.Allowed)
	assert.Equal(t, "spread_tolerance", v.Rule)
	assert.Zero(t, perp.mutations())

	approved, v = r.Approve(open, snap, st)
	require.True(t, v.Allowed, v.Reason)
	res = r.Execute(context.Background(), approved, snap, st)

	assert.Equal(t, domain.ActionOpenLong, res.Action)
	assert.Equal(t, 1, perp.closes)
	assert.Equal(t, 1, perp.opens)
	assert.Equal(t, 1, st.ClosedCount)
	assert.InDelta(t, -0.1, st.StrategyPnl, 1e-9)
	assert.Equal(t, 2, st.TxCount, "flatten and open both count")
	assert.InDelta(t, 20.0, st.Volume, 1e-9)
	assert.Equal(t, domain.Long, st.OpenPosition.Direction)
}

func TestRouter_PerpIntentsHoldWhileVenueDown(t *testing.T) {
	perp := &fakeVenue{}
	r, clk := newRouter(&fakeLedger{}, perp)
	st := state.New(start, state.DefaultLimits())
	st.RecordOpen(domain.Long, 100, 0.1, start)
	clk.t = start.Add(2 * time.Hour)

	snap := Snapshot{Price: 104, Balances: domain.Balances{Agent: 20, FreeCollateral: 20}, VenueDown: true}

	approved, v := r.Approve(domain.Decision{Intent: domain.OpenPosition{Direction: domain.Long, SizeUSD: 10, Leverage: 2}}, snap, st)
	assert.False(t, v.Allowed)
	assert.Equal(t, "no_stacking", v.Rule, "falls back to the recorded open")
	assert.Equal(t, domain.ActionHold, r.Execute(context.Background(), approved, snap, st).Action)

	for _, d := range []domain.Decision{
		{Intent: domain.OpenPosition{Direction: domain.Short, SizeUSD: 10, Leverage: 2}},
		{Intent: domain.ClosePosition{Direction: domain.Long}},
		{Intent: domain.DepositCollateral{Amount: 5}},
	} {
		approved, _ := r.Approve(d, snap, st)
		res := r.Execute(context.Background(), approved, snap, st)
		assert.Equal(t, domain.ActionHold, res.Action, d.Action())
		assert.Contains(t, res.Note, "unavailable")
	}

	assert.Zero(t, perp.mutations())
	assert.Equal(t, 100.0, st.OpenPosition.ReferencePrice)
	assert.Zero(t, st.TxCount)
}

func TestRouter_UnconfirmedTransferKeepsReference(t *testing.T) {
	spot := &fakeLedger{err: errors.New("await transfer: timed out"), ref: "pending-tx"}
	r, _ := newRouter(spot, nil)
	st := state.New(start, state.DefaultLimits())

	d := domain.Decision{Intent: domain.Transfer{
		Kind: domain.ActionAllocateToTreasury, From: domain.AgentAccount, To: domain.TreasuryAccount, Amount: 3,
	}}
	res := r.Execute(context.Background(), d, Snapshot{Balances: domain.Balances{Agent: 10, Treasury: 10}}, st)

	assert.Equal(t, domain.ActionFailed, res.Action)
	assert.Nil(t, res.TxRef)
	assert.Contains(t, res.Note, "pending-tx")
}

func TestRouter_PerpIntentWithoutVenueHolds(t *testing.T) {
	r, _ := newRouter(&fakeLedger{}, nil)
	st := state.New(start, state.DefaultLimits())

	res := r.Execute(context.Background(), domain.Decision{Intent: domain.DepositCollateral{Amount: 5}}, Snapshot{Balances: domain.Balances{Agent: 20}}, st)
	assert.Equal(t, domain.ActionHold, res.Action)
}
