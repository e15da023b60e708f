package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/camuig/treasury-agent/internal/config"
	"github.com/camuig/treasury-agent/internal/domain"
	"github.com/camuig/treasury-agent/internal/executor"
	"github.com/camuig/treasury-agent/internal/logger"
	"github.com/camuig/treasury-agent/internal/state"
	"github.com/camuig/treasury-agent/internal/storage"
	"github.com/camuig/treasury-agent/internal/web"
)

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "treasury-agent",
		Short: "Autonomous treasury and perp trading agent",
		Long: `treasury-agent periodically reads the market, decides one action with an LLM advisor
or a deterministic rule set, and executes it against a stable-asset ledger and a perpetual
futures venue, guarded against open/close churn.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "Configuration file path")

	rootCmd.AddCommand(newRunCmd(&configPath))
	rootCmd.AddCommand(newStatusCmd(&configPath))
	rootCmd.AddCommand(newCloseAllCmd(&configPath))

	return rootCmd
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config file %s not found: %w", path, err)
	}
	return cfg, err
}

func newRunCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the decision loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if n, _ := cmd.Flags().GetInt("max-cycles"); n > 0 {
				cfg.Agent.MaxCycles = n
			}
			return runAgent(cmd.Context(), cfg)
		},
	}
	cmd.Flags().Int("max-cycles", 0, "Stop after this many cycles (overrides agent.max_cycles)")
	return cmd
}

func runAgent(parent context.Context, cfg *config.Config) error {
	log := logger.New(cfg.Logging.Level)
	log.Info("starting treasury-agent", "venue", cfg.Venue.Mode, "advisor", cfg.Advisor.Enabled)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	defer a.close()

	st, err := a.loadState(ctx)
	if err != nil {
		return err
	}

	sched := a.scheduler(st)

	var webServer *web.Server
	if cfg.Web.Enabled {
		webServer = web.NewServer(a.repo, a.ledger, cfg, log.With("component", "web"))
		go func() {
			if err := webServer.Start(); err != nil {
				log.Error("web server error", "error", err)
			}
		}()
	}

	a.notifier.NotifyStatus(fmt.Sprintf("🤖 treasury-agent started (venue %s, cycle %d)", cfg.Venue.Mode, st.Cycle))

	sched.Run(ctx)

	if webServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := webServer.Shutdown(shutdownCtx); err != nil {
			log.Error("web server shutdown error", "error", err)
		}
	}

	a.notifier.NotifyStatus(fmt.Sprintf("🛑 treasury-agent stopped at cycle %d", st.Cycle))
	log.Info("treasury-agent stopped", "cycle", st.Cycle)
	return nil
}

func newStatusCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the persisted agent state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			db, err := storage.NewDatabase(cfg.Agent.DBPath, logger.New("error"))
			if err != nil {
				return err
			}
			repo := storage.NewRepository(db, limits(cfg))

			st, err := repo.Load(cmd.Context())
			if errors.Is(err, state.ErrNotFound) {
				fmt.Fprintln(cmd.OutOrStdout(), "No agent state yet.")
				return nil
			}
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), st)
			return nil
		},
	}
}

func printStatus(w io.Writer, st *state.AgentState) {
	last := st.LastBalances()
	total := last.Total(nil)

	fmt.Fprintf(w, "Cycle:            %d (session since %s)\n", st.Cycle, st.SessionStart.Format(time.RFC3339))
	fmt.Fprintf(w, "Last price:       %.4f\n", st.LastGoodPrice)
	fmt.Fprintf(w, "Balances:         agent %.4f / treasury %.4f / perp %.4f\n", last.Agent, last.Treasury, last.PerpCollateral)
	fmt.Fprintf(w, "Total:            %.4f (initial %.4f, %+.2f%%)\n", total, st.InitialBalance, st.ReturnPct(total))
	fmt.Fprintf(w, "Realized P&L:     %+.4f\n", st.RealizedPnl)
	fmt.Fprintf(w, "Strategy P&L:     %+.4f (spread cost %.4f over %d closes)\n", st.StrategyPnl, st.SpreadCost(), st.ClosedCount)
	fmt.Fprintf(w, "Transactions:     %d, volume %.4f\n", st.TxCount, st.Volume)
	if ref := st.OpenPosition; ref != nil {
		fmt.Fprintf(w, "Open position:    %s %.4f @ ref %.4f since %s\n",
			ref.Direction, ref.Size, ref.ReferencePrice, ref.OpenedAt.Format(time.RFC3339))
	}

	trades := st.RecentTrades(5)
	if len(trades) > 0 {
		fmt.Fprintln(w, "\nRecent trades:")
	}
	for i := len(trades) - 1; i >= 0; i-- {
		t := trades[i]
		fmt.Fprintf(w, "  #%d %s %-22s %10.4f  %s\n", t.Cycle, t.Time.Format("01-02 15:04"), t.Action, t.Amount, t.Reason)
	}
}

func newCloseAllCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "closeall",
		Short: "Close the open perp position",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			return closeAll(cmd.Context(), cmd.OutOrStdout(), cfg, dryRun)
		},
	}
	cmd.Flags().Bool("dry-run", false, "Show the position without closing")
	return cmd
}

// closeAll flattens the venue through the execution router so P&L is
// reconciled into the agent state. The anti-churn guard is bypassed.
func closeAll(ctx context.Context, w io.Writer, cfg *config.Config, dryRun bool) error {
	log := logger.New(cfg.Logging.Level)

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	defer a.close()

	if a.venue == nil {
		return errNoVenue
	}

	pos, err := a.venue.Position(ctx)
	if err != nil {
		return fmt.Errorf("get position: %w", err)
	}
	if pos == nil || pos.BaseAmount == 0 {
		fmt.Fprintln(w, "No open position.")
		return nil
	}

	fmt.Fprintf(w, "Open position: %s %.4f, notional %.2f, entry %.4f, unrealized %+.4f\n",
		pos.Direction, pos.BaseAmount, pos.Notional(), pos.EntryPrice(), pos.UnrealizedPnl)

	if dryRun {
		fmt.Fprintln(w, "Dry run: no orders placed.")
		return nil
	}

	st, err := a.loadState(ctx)
	if err != nil {
		return err
	}

	quote := a.feed.Price(ctx)
	snap := executor.Snapshot{Price: quote.Price, Position: pos}
	res := a.router.Execute(ctx, domain.Decision{
		Intent: domain.ClosePosition{Direction: pos.Direction},
		Reason: "manual closeall",
	}, snap, st)

	if err := a.repo.Save(ctx, st); err != nil {
		return fmt.Errorf("persist state: %w", err)
	}

	switch res.Action {
	case domain.ActionFailed:
		return fmt.Errorf("close failed: %w", res.Err)
	case domain.ActionHold:
		fmt.Fprintf(w, "Nothing closed: %s\n", res.Note)
		return nil
	}

	fmt.Fprintf(w, "Closed %s: realized %+.4f, strategy %+.4f\n", pos.Direction, res.RealizedPnl, res.StrategyPnl)
	return nil
}
