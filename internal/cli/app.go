package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/camuig/treasury-agent/internal/ai"
	"github.com/camuig/treasury-agent/internal/config"
	"github.com/camuig/treasury-agent/internal/dashboard"
	"github.com/camuig/treasury-agent/internal/decision"
	"github.com/camuig/treasury-agent/internal/executor"
	"github.com/camuig/treasury-agent/internal/guard"
	"github.com/camuig/treasury-agent/internal/ledger"
	"github.com/camuig/treasury-agent/internal/logger"
	"github.com/camuig/treasury-agent/internal/market"
	"github.com/camuig/treasury-agent/internal/scheduler"
	"github.com/camuig/treasury-agent/internal/state"
	"github.com/camuig/treasury-agent/internal/storage"
	"github.com/camuig/treasury-agent/internal/telegram"
	"github.com/camuig/treasury-agent/internal/venue"
)

var errNoVenue = errors.New("no derivatives venue configured (venue.mode is none)")

// app holds every long-lived component. Collaborators are built once here
// and passed down explicitly.
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	db       *gorm.DB
	repo     *storage.Repository
	ledger   *ledger.PaperLedger
	feed     *market.Feed
	venue    venue.PerpVenue
	router   *executor.Router
	notifier *telegram.Notifier
}

func limits(cfg *config.Config) state.Limits {
	return state.Limits{
		Prices:   cfg.Agent.PriceHistorySize,
		Trades:   cfg.Agent.TradeHistorySize,
		Balances: cfg.Agent.BalanceHistorySize,
	}
}

func newApp(ctx context.Context, cfg *config.Config, log *logger.Logger) (*app, error) {
	db, err := storage.NewDatabase(cfg.Agent.DBPath, log)
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:  cfg,
		log:  log,
		db:   db,
		repo: storage.NewRepository(db, limits(cfg)),
	}

	a.ledger, err = ledger.NewPaperLedger(db, ledger.PaperOptions{ConfirmTimeout: cfg.ConfirmTimeout()}, log.With("component", "ledger"))
	if err != nil {
		return nil, err
	}
	if err := a.ledger.Seed(ctx, cfg.Ledger.InitialAgent, cfg.Ledger.InitialTreasury); err != nil {
		return nil, err
	}

	source := market.NewCoinGeckoSource(cfg.Market.BaseURL, cfg.Market.AssetID, cfg.MarketTimeout())
	a.feed = market.NewFeed(source, cfg.Market.MaxJumpPct, log.With("component", "market"))

	switch cfg.Venue.Mode {
	case config.VenuePaper:
		price := func(ctx context.Context) (float64, error) {
			if p := a.feed.LastPrice(); p > 0 {
				return p, nil
			}
			if q := a.feed.Price(ctx); q.Price > 0 {
				return q.Price, nil
			}
			return 0, fmt.Errorf("no reference price available")
		}
		pv, err := venue.NewPaperVenue(db, a.ledger, price, cfg.Venue.SpreadBps, log.With("component", "venue"))
		if err != nil {
			return nil, err
		}
		a.venue = pv
	case config.VenueBinance:
		a.venue = venue.NewBinanceVenue(cfg, log.With("component", "venue"))
	}

	g := guard.New(guard.Config{
		MinHold:            cfg.MinHold(),
		Cooldown:           cfg.Cooldown(),
		SpreadTolerancePct: cfg.Guard.SpreadTolerancePct,
	}, nil)
	a.router = executor.NewRouter(a.ledger, a.venue, g, cfg.Trading, log.With("component", "executor"))
	a.notifier = telegram.NewNotifier(cfg, log)

	return a, nil
}

func (a *app) close() {
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// loadState restores persisted state; a corrupt record is fatal.
func (a *app) loadState(ctx context.Context) (*state.AgentState, error) {
	st, resumed, err := scheduler.LoadState(ctx, a.repo, limits(a.cfg), time.Now())
	if err != nil {
		return nil, fmt.Errorf("load agent state: %w", err)
	}
	if resumed {
		a.feed.Restore(st.LastGoodPrice)
		a.log.Info("agent state restored", "cycle", st.Cycle, "last_price", st.LastGoodPrice)
	} else {
		a.log.Info("starting with fresh agent state")
	}
	return st, nil
}

func (a *app) scheduler(st *state.AgentState) *scheduler.Scheduler {
	cfg := a.cfg

	var advisor ai.Advisor
	if cfg.Advisor.Enabled {
		advisor = ai.NewLLMClient(cfg, a.log.With("component", "advisor"))
	}
	gateway := ai.NewGateway(advisor, decision.NewEngine(cfg.Trading), cfg.AdvisorTimeout(),
		cfg.Trading.MinAdvisorSamples, a.log.With("component", "advisor"))

	deps := scheduler.Deps{
		Feed:      a.feed,
		Ledger:    a.ledger,
		Advisor:   gateway,
		Router:    a.router,
		Store:     a.repo,
		Recorder:  a.repo,
		Dashboard: dashboard.NewWriter(cfg.Agent.DashboardPath),
		Notifier:  a.notifier,
	}
	if a.venue != nil {
		deps.Venue = a.venue
		deps.Breaker = venue.NewBreaker(cfg.Venue.FailureThreshold, cfg.VenueRetryAfter(), nil)
	}
	return scheduler.NewScheduler(deps, st, cfg, a.log)
}
