// Package scheduler runs the agent's cycle loop: fetch, decide, guard,
// execute, record, sleep.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/camuig/treasury-agent/internal/ai"
	"github.com/camuig/treasury-agent/internal/config"
	"github.com/camuig/treasury-agent/internal/dashboard"
	"github.com/camuig/treasury-agent/internal/decision"
	"github.com/camuig/treasury-agent/internal/domain"
	"github.com/camuig/treasury-agent/internal/executor"
	"github.com/camuig/treasury-agent/internal/ledger"
	"github.com/camuig/treasury-agent/internal/logger"
	"github.com/camuig/treasury-agent/internal/market"
	"github.com/camuig/treasury-agent/internal/state"
	"github.com/camuig/treasury-agent/internal/storage"
	"github.com/camuig/treasury-agent/internal/trend"
	"github.com/camuig/treasury-agent/internal/venue"
)

type Phase string

const (
	PhaseFetching  Phase = "FETCHING"
	PhaseDeciding  Phase = "DECIDING"
	PhaseGuarding  Phase = "GUARDING"
	PhaseExecuting Phase = "EXECUTING"
	PhaseRecording Phase = "RECORDING"
	PhaseSleeping  Phase = "SLEEPING"
)

type PriceFeed interface {
	Price(ctx context.Context) market.Quote
	Sentiment(ctx context.Context) decision.Sentiment
}

type Advisor interface {
	Decide(ctx context.Context, c *decision.Context) ai.Outcome
}

type Recorder interface {
	SaveTrade(ctx context.Context, t domain.TradeRecord) error
	SaveAdvisorLog(ctx context.Context, log *storage.AdvisorLog) error
	SaveBalanceSnapshot(ctx context.Context, snapshot *storage.BalanceSnapshot) error
}

type Notifier interface {
	NotifyTrade(t domain.TradeRecord)
	NotifyError(context string, err error)
	NotifyStatus(message string)
}

// Deps are the collaborators injected at construction. Venue and Breaker are
// nil when no derivatives venue is configured; Dashboard may be nil.
type Deps struct {
	Feed      PriceFeed
	Ledger    ledger.SpotLedger
	Venue     venue.PerpVenue
	Breaker   *venue.Breaker
	Advisor   Advisor
	Router    *executor.Router
	Store     state.Store
	Recorder  Recorder
	Dashboard *dashboard.Writer
	Notifier  Notifier
}

type Scheduler struct {
	deps   Deps
	state  *state.AgentState
	config *config.Config
	logger *logger.Logger
	now    func() time.Time

	trendParams trend.Params
	phase       atomic.Value
	cyclesRun   int
}

func NewScheduler(deps Deps, st *state.AgentState, cfg *config.Config, log *logger.Logger) *Scheduler {
	s := &Scheduler{
		deps:   deps,
		state:  st,
		config: cfg,
		logger: log,
		now:    time.Now,
		trendParams: trend.Params{
			Window:      cfg.Trading.TrendWindow,
			ShortWindow: cfg.Trading.TrendShortWindow,
			DeadZonePct: cfg.Trading.TrendDeadZonePct,
		},
	}
	s.phase.Store(PhaseSleeping)
	return s
}

func (s *Scheduler) Phase() Phase {
	return s.phase.Load().(Phase)
}

func (s *Scheduler) setPhase(p Phase) {
	s.phase.Store(p)
	s.logger.Debug("cycle phase", "phase", p, "cycle", s.state.Cycle)
}

// Run executes cycles back to back with a fixed sleep in between until ctx is
// cancelled or max_cycles cycles have run in this session.
func (s *Scheduler) Run(ctx context.Context) {
	interval := s.config.CycleInterval()
	s.logger.Info("scheduler started",
		"interval", interval.String(), "max_cycles", s.config.Agent.MaxCycles, "resume_cycle", s.state.Cycle)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped", "cycles", s.cyclesRun)
			s.shutdown()
			return
		case <-timer.C:
		}

		if err := s.RunCycle(ctx); err != nil {
			s.logger.Error("cycle aborted", "cycle", s.state.Cycle, "error", err)
			s.deps.Notifier.NotifyError(fmt.Sprintf("cycle %d", s.state.Cycle), err)
		}

		if maxCycles := s.config.Agent.MaxCycles; maxCycles > 0 && s.cyclesRun >= maxCycles {
			s.logger.Info("max cycles reached", "cycles", s.cyclesRun)
			s.shutdown()
			return
		}

		s.setPhase(PhaseSleeping)
		timer.Reset(interval)
	}
}

func (s *Scheduler) shutdown() {
	sd, ok := s.deps.Venue.(venue.Shutdowner)
	if !ok {
		return
	}
	if err := sd.Shutdown(); err != nil {
		s.logger.Error("venue shutdown", "error", err)
	}
}

type snapshot struct {
	quote      market.Quote
	sentiment  decision.Sentiment
	balances   domain.Balances
	position   *domain.Position
	venueUp    bool
	venueState venue.Availability
}

// RunCycle runs one full cycle. Any error or panic aborts the cycle after the
// state mutated so far has been persisted.
func (s *Scheduler) RunCycle(ctx context.Context) (err error) {
	st := s.state
	persisted := false

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in cycle: %v", r)
		}
		if err != nil && !persisted {
			if saveErr := s.deps.Store.Save(context.WithoutCancel(ctx), st); saveErr != nil {
				s.logger.Error("persist state after abort", "error", saveErr)
			}
		}
	}()

	s.cyclesRun++
	st.Cycle++
	cycle := st.Cycle
	s.logger.Info("starting cycle", "cycle", cycle)

	s.setPhase(PhaseFetching)
	snap := s.fetch(ctx)
	now := s.now()

	if !snap.quote.Stale {
		st.AppendPrice(domain.PricePoint{Time: now, Price: snap.quote.Price})
	}

	total := snap.balances.Total(snap.position)
	st.CaptureInitialBalance(total)

	if snap.venueUp && snap.position == nil && st.OpenPosition != nil {
		s.logger.Warn("venue reports no position, dropping open reference",
			"direction", st.OpenPosition.Direction, "opened_at", st.OpenPosition.OpenedAt)
		st.OpenPosition = nil
	}

	exec := executor.Snapshot{
		Price:     snap.quote.Price,
		Balances:  snap.balances,
		Position:  snap.position,
		VenueDown: s.deps.Venue != nil && !snap.venueUp,
	}

	var (
		outcome  ai.Outcome
		approved domain.Decision
		res      executor.Result
		latency  time.Duration
	)

	if snap.quote.Price <= 0 {
		s.logger.Warn("no valid price yet, skipping trading this cycle", "cycle", cycle)
		outcome = ai.Outcome{
			Decision: domain.Decision{Intent: domain.Hold{}, Reason: "no valid price: skipping cycle", Outlook: domain.Neutral},
			Source:   ai.SourceRules,
		}
		approved = outcome.Decision
		res = executor.Result{Action: domain.ActionHold}
	} else {
		s.setPhase(PhaseDeciding)
		tr := trend.Analyze(st.PriceHistory, s.trendParams)
		dc := &decision.Context{
			Price:          snap.quote.Price,
			Change24h:      snap.quote.Change24h,
			Sentiment:      snap.sentiment,
			Trend:          tr,
			Balances:       snap.balances,
			Position:       snap.position,
			VenueAvailable: snap.venueUp,
			RecentTrades:   st.RecentTrades(s.config.Advisor.RecentTrades),
			RecentPrices:   st.RecentPrices(s.config.Advisor.RecentPrices),
		}
		start := time.Now()
		outcome = s.deps.Advisor.Decide(ctx, dc)
		latency = time.Since(start)
		s.logger.Info("decision",
			"cycle", cycle, "source", outcome.Source, "action", outcome.Decision.Action(),
			"amount", outcome.Decision.Amount(), "confidence", outcome.Decision.Confidence,
			"outlook", outcome.Decision.Outlook, "reason", outcome.Decision.Reason)

		s.setPhase(PhaseGuarding)
		approved, _ = s.deps.Router.Approve(outcome.Decision, exec, st)

		s.setPhase(PhaseExecuting)
		res = s.deps.Router.Execute(ctx, approved, exec, st)
	}

	s.setPhase(PhaseRecording)
	rec := s.tradeRecord(cycle, now, outcome, approved, res, snap)
	st.AppendTrade(rec)

	if err := s.deps.Recorder.SaveTrade(ctx, rec); err != nil {
		s.logger.Error("save trade", "error", err)
	}
	s.saveAdvisorLog(ctx, cycle, outcome, latency)

	after := snap
	// A FAILED transfer may still have moved funds.
	if res.Dispatched() {
		after = s.refreshBalances(ctx, snap)
	}
	afterTotal := after.balances.Total(after.position)
	st.AppendBalance(state.BalancePoint{Time: now, Balances: after.balances, Total: afterTotal})
	s.saveBalanceSnapshot(ctx, cycle, after)

	persisted = true
	if err := s.deps.Store.Save(ctx, st); err != nil {
		return fmt.Errorf("persist state: %w", err)
	}

	if s.deps.Dashboard != nil {
		status := dashboard.Build(st, after.balances, after.position, snap.quote.Price, string(snap.venueState), now)
		if err := s.deps.Dashboard.Write(status); err != nil {
			s.logger.Error("write dashboard", "error", err)
		}
	}

	s.deps.Notifier.NotifyTrade(rec)
	s.logger.Info("cycle completed",
		"cycle", cycle, "action", rec.Action, "amount", rec.Amount, "total", afterTotal,
		"realized_pnl", st.RealizedPnl, "strategy_pnl", st.StrategyPnl)
	return nil
}

// fetch issues the independent read-only calls concurrently. Each one falls
// back on its own so the decision never starts on partial data.
func (s *Scheduler) fetch(ctx context.Context) snapshot {
	var (
		snap       snapshot
		g          errgroup.Group
		collateral domain.Collateral

		posErr, collErr       error
		agentErr, treasuryErr error
		agentBal, treasuryBal float64
	)
	timeout := s.config.MarketTimeout()
	last := s.state.LastBalances()

	g.Go(func() error {
		snap.quote = s.deps.Feed.Price(ctx)
		return nil
	})
	g.Go(func() error {
		snap.sentiment = s.deps.Feed.Sentiment(ctx)
		return nil
	})
	g.Go(func() error {
		cctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		agentBal, agentErr = s.deps.Ledger.Balance(cctx, domain.AgentAccount)
		return nil
	})
	g.Go(func() error {
		cctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		treasuryBal, treasuryErr = s.deps.Ledger.Balance(cctx, domain.TreasuryAccount)
		return nil
	})

	probe := s.deps.Venue != nil && s.deps.Breaker != nil && s.deps.Breaker.ShouldProbe()
	if probe {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			snap.position, posErr = s.deps.Venue.Position(cctx)
			return nil
		})
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			collateral, collErr = s.deps.Venue.Collateral(cctx)
			return nil
		})
	}
	_ = g.Wait()

	snap.balances.Agent = agentBal
	if agentErr != nil {
		s.logger.Warn("agent balance unavailable, using last known", "error", agentErr, "last", last.Agent)
		snap.balances.Agent = last.Agent
	}
	snap.balances.Treasury = treasuryBal
	if treasuryErr != nil {
		s.logger.Warn("treasury balance unavailable, using last known", "error", treasuryErr, "last", last.Treasury)
		snap.balances.Treasury = last.Treasury
	}

	switch {
	case s.deps.Venue == nil || s.deps.Breaker == nil:
		snap.venueState = "none"
	case !probe:
		snap.venueState = venue.Unavailable
		snap.balances.PerpCollateral = last.PerpCollateral
	case posErr != nil || collErr != nil:
		s.logger.Warn("perp venue unreachable", "position_error", posErr, "collateral_error", collErr)
		s.deps.Breaker.RecordFailure()
		snap.position = nil
		snap.venueState = s.deps.Breaker.State()
		snap.balances.PerpCollateral = last.PerpCollateral
	default:
		s.deps.Breaker.RecordSuccess()
		snap.venueUp = true
		snap.venueState = venue.Available
		snap.balances.PerpCollateral = collateral.Balance
		snap.balances.FreeCollateral = collateral.Free
	}

	return snap
}

// refreshBalances re-reads the balances after a mutating call so the balance
// history reflects the executed action. Failures keep the pre-trade values.
func (s *Scheduler) refreshBalances(ctx context.Context, before snapshot) snapshot {
	after := before
	timeout := s.config.MarketTimeout()

	var g errgroup.Group
	g.Go(func() error {
		cctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if v, err := s.deps.Ledger.Balance(cctx, domain.AgentAccount); err == nil {
			after.balances.Agent = v
		}
		return nil
	})
	g.Go(func() error {
		cctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if v, err := s.deps.Ledger.Balance(cctx, domain.TreasuryAccount); err == nil {
			after.balances.Treasury = v
		}
		return nil
	})
	if before.venueUp {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			if c, err := s.deps.Venue.Collateral(cctx); err == nil {
				after.balances.PerpCollateral = c.Balance
				after.balances.FreeCollateral = c.Free
			}
			if p, err := s.deps.Venue.Position(cctx); err == nil {
				after.position = p
			}
			return nil
		})
	}
	_ = g.Wait()
	return after
}

func (s *Scheduler) tradeRecord(cycle int, now time.Time, outcome ai.Outcome, approved domain.Decision, res executor.Result, snap snapshot) domain.TradeRecord {
	reason := approved.Reason
	if res.Note != "" {
		reason = fmt.Sprintf("%s; %s", reason, res.Note)
	}
	amount := res.Amount
	if res.Action == domain.ActionHold {
		amount = 0
	}

	return domain.TradeRecord{
		ID:              uuid.NewString(),
		Time:            now,
		Cycle:           cycle,
		Action:          res.Action,
		RequestedAction: outcome.Decision.Action(),
		Amount:          amount,
		TxRef:           res.TxRef,
		Confidence:      approved.Confidence,
		Reason:          reason,
		Outlook:         approved.Outlook,
		Source:          outcome.Source,
		Price:           snap.quote.Price,
		Balances:        snap.balances,
		Position:        snap.position,
		RealizedPnl:     res.RealizedPnl,
		StrategyPnl:     res.StrategyPnl,
	}
}

type decisionView struct {
	Action     domain.Action  `json:"action"`
	Amount     float64        `json:"amount"`
	Confidence int            `json:"confidence"`
	Reason     string         `json:"reason"`
	Outlook    domain.Outlook `json:"outlook"`
}

func (s *Scheduler) saveAdvisorLog(ctx context.Context, cycle int, outcome ai.Outcome, latency time.Duration) {
	d := outcome.Decision
	data, _ := json.Marshal(decisionView{
		Action:     d.Action(),
		Amount:     d.Amount(),
		Confidence: d.Confidence,
		Reason:     d.Reason,
		Outlook:    d.Outlook,
	})
	log := &storage.AdvisorLog{
		Cycle:        cycle,
		Source:       outcome.Source,
		Response:     outcome.Raw,
		DecisionJSON: string(data),
		LatencyMs:    latency.Milliseconds(),
	}
	if outcome.Err != nil {
		log.Error = outcome.Err.Error()
	}
	if err := s.deps.Recorder.SaveAdvisorLog(ctx, log); err != nil {
		s.logger.Error("save advisor log", "error", err)
	}
}

func (s *Scheduler) saveBalanceSnapshot(ctx context.Context, cycle int, snap snapshot) {
	b := snap.balances
	err := s.deps.Recorder.SaveBalanceSnapshot(ctx, &storage.BalanceSnapshot{
		Cycle:          cycle,
		Agent:          b.Agent,
		Treasury:       b.Treasury,
		PerpCollateral: b.PerpCollateral,
		FreeCollateral: b.FreeCollateral,
		Total:          b.Total(snap.position),
		Price:          snap.quote.Price,
	})
	if err != nil {
		s.logger.Error("save balance snapshot", "error", err)
	}
}

// LoadState restores the persisted state or starts a fresh one. A record that
// exists but cannot be decoded is returned as an error.
func LoadState(ctx context.Context, store state.Store, limits state.Limits, now time.Time) (*state.AgentState, bool, error) {
	st, err := store.Load(ctx)
	if errors.Is(err, state.ErrNotFound) {
		return state.New(now, limits), false, nil
	}
	if err != nil {
		return nil, false, err
	}
	st.SetLimits(limits)
	return st, true, nil
}
