// Package decision implements the deterministic rule set used whenever the
// advisor is disabled or fails.
package decision

import (
	"fmt"
	"math"

	"github.com/camuig/treasury-agent/internal/config"
	"github.com/camuig/treasury-agent/internal/domain"
)

// Fixed per-rule confidence scores.
const (
	ConfidenceCloseReversal = 75
	ConfidenceTakeProfit    = 80
	ConfidenceStopLoss      = 85
	ConfidenceOpenShort     = 70
	ConfidenceOpenLong      = 65
	ConfidenceDeposit       = 60
	ConfidenceInsufficient  = 50
	ConfidenceProtect       = 70
	ConfidenceDeploy        = 65
	ConfidenceRebalance     = 60
	ConfidenceHold          = 55
)

type Engine struct {
	cfg config.TradingConfig
}

func NewEngine(cfg config.TradingConfig) *Engine {
	return &Engine{cfg: cfg}
}

// Decide returns exactly one decision. Derivatives rules run first when a
// venue is available; treasury rules are the fallback.
func (e *Engine) Decide(c *Context) domain.Decision {
	if c.VenueAvailable {
		if d, ok := e.perpRules(c); ok {
			return d
		}
	}
	return e.treasuryRules(c)
}

func (e *Engine) perpRules(c *Context) (domain.Decision, bool) {
	free := c.Balances.FreeCollateral

	if c.HasPosition() {
		pos := c.Position

		switch {
		case pos.Direction == domain.Long && e.closeBearish(c):
			return domain.Decision{
				Intent:     domain.ClosePosition{Direction: domain.Long},
				Confidence: ConfidenceCloseReversal,
				Reason:     fmt.Sprintf("bearish reversal against long (24h %.2f%%, momentum %.2f%%)", c.Change24h, c.Trend.Momentum),
				Outlook:    domain.Bearish,
			}, true
		case pos.Direction == domain.Short && e.closeBullish(c):
			return domain.Decision{
				Intent:     domain.ClosePosition{Direction: domain.Short},
				Confidence: ConfidenceCloseReversal,
				Reason:     fmt.Sprintf("bullish reversal against short (24h %.2f%%, momentum %.2f%%)", c.Change24h, c.Trend.Momentum),
				Outlook:    domain.Bullish,
			}, true
		}

		if pos.UnrealizedPnl > free*e.cfg.TakeProfitPct/100 {
			return domain.Decision{
				Intent:     domain.ClosePosition{Direction: pos.Direction},
				Confidence: ConfidenceTakeProfit,
				Reason:     fmt.Sprintf("take profit: unrealized %.4f above %.0f%% of free collateral", pos.UnrealizedPnl, e.cfg.TakeProfitPct),
				Outlook:    c.Trend.Outlook,
			}, true
		}
		if pos.UnrealizedPnl < -free*e.cfg.StopLossPct/100 {
			return domain.Decision{
				Intent:     domain.ClosePosition{Direction: pos.Direction},
				Confidence: ConfidenceStopLoss,
				Reason:     fmt.Sprintf("stop loss: unrealized %.4f below -%.0f%% of free collateral", pos.UnrealizedPnl, e.cfg.StopLossPct),
				Outlook:    c.Trend.Outlook,
			}, true
		}
		return domain.Decision{}, false
	}

	if free >= e.cfg.MinPerpSize {
		size := math.Min(free*e.cfg.OpenSizePct/100, e.cfg.MaxPerpNotional)
		switch {
		case e.openBearish(c):
			return domain.Decision{
				Intent:     domain.OpenPosition{Direction: domain.Short, SizeUSD: size, Leverage: e.cfg.DefaultLeverage},
				Confidence: ConfidenceOpenShort,
				Reason:     fmt.Sprintf("bearish trigger (24h %.2f%%, momentum %.2f%%): open short", c.Change24h, c.Trend.Momentum),
				Outlook:    domain.Bearish,
			}, true
		case e.openBullish(c):
			return domain.Decision{
				Intent:     domain.OpenPosition{Direction: domain.Long, SizeUSD: size, Leverage: e.cfg.DefaultLeverage},
				Confidence: ConfidenceOpenLong,
				Reason:     fmt.Sprintf("bullish trigger (24h %.2f%%, momentum %.2f%%): open long", c.Change24h, c.Trend.Momentum),
				Outlook:    domain.Bullish,
			}, true
		}
		return domain.Decision{}, false
	}

	if c.Balances.Agent > e.cfg.DepositMinAgent {
		amount := math.Min(c.Balances.Agent*e.cfg.DepositPct/100, e.cfg.DepositCeiling)
		return domain.Decision{
			Intent:     domain.DepositCollateral{Amount: amount},
			Confidence: ConfidenceDeposit,
			Reason:     fmt.Sprintf("free collateral %.2f below minimum perp size %.2f: fund venue", free, e.cfg.MinPerpSize),
			Outlook:    c.Trend.Outlook,
		}, true
	}

	return domain.Decision{}, false
}

func (e *Engine) treasuryRules(c *Context) domain.Decision {
	b := c.Balances
	total := b.Stable()

	if total < 2*e.cfg.MinTrade {
		return domain.Decision{
			Intent:     domain.Hold{},
			Confidence: ConfidenceInsufficient,
			Reason:     "insufficient balance",
			Outlook:    c.Trend.Outlook,
		}
	}

	movePct := e.cfg.TreasuryMovePct / 100

	if e.closeBearish(c) && b.Agent > e.cfg.MinTrade {
		amount := math.Min(b.Agent*movePct, b.Agent-e.cfg.MinReserve)
		return domain.Decision{
			Intent: domain.Transfer{
				Kind:   domain.ActionAllocateToTreasury,
				From:   domain.AgentAccount,
				To:     domain.TreasuryAccount,
				Amount: math.Max(amount, 0),
			},
			Confidence: ConfidenceProtect,
			Reason:     fmt.Sprintf("bearish (24h %.2f%%): protect capital in treasury", c.Change24h),
			Outlook:    domain.Bearish,
		}
	}

	if e.closeBullish(c) && b.Treasury > e.cfg.MinTrade {
		amount := math.Min(b.Treasury*movePct, b.Treasury-e.cfg.MinReserve)
		return domain.Decision{
			Intent: domain.Transfer{
				Kind:   domain.ActionWithdrawFromTreasury,
				From:   domain.TreasuryAccount,
				To:     domain.AgentAccount,
				Amount: math.Max(amount, 0),
			},
			Confidence: ConfidenceDeploy,
			Reason:     fmt.Sprintf("bullish (24h %.2f%%): deploy treasury capital", c.Change24h),
			Outlook:    domain.Bullish,
		}
	}

	share := b.Agent / total * 100
	if share < e.cfg.RebalanceLowPct || share > e.cfg.RebalanceHighPct {
		target := total / 2
		t := domain.Transfer{Kind: domain.ActionRebalance, From: domain.AgentAccount, To: domain.TreasuryAccount, Amount: b.Agent - target}
		if b.Agent < target {
			t = domain.Transfer{Kind: domain.ActionRebalance, From: domain.TreasuryAccount, To: domain.AgentAccount, Amount: target - b.Agent}
		}
		return domain.Decision{
			Intent:     t,
			Confidence: ConfidenceRebalance,
			Reason:     fmt.Sprintf("agent share %.1f%% outside [%.0f%%, %.0f%%]: rebalance toward 50/50", share, e.cfg.RebalanceLowPct, e.cfg.RebalanceHighPct),
			Outlook:    c.Trend.Outlook,
		}
	}

	return domain.Decision{
		Intent:     domain.Hold{},
		Confidence: ConfidenceHold,
		Reason:     "no clear signal",
		Outlook:    c.Trend.Outlook,
	}
}

func (e *Engine) closeBearish(c *Context) bool {
	return c.Change24h < -e.cfg.BearishChangePct || c.Trend.Momentum < -e.cfg.MomentumPct
}

func (e *Engine) closeBullish(c *Context) bool {
	return c.Change24h > e.cfg.BullishChangePct || c.Trend.Momentum > e.cfg.MomentumPct
}

func (e *Engine) openBearish(c *Context) bool {
	return c.Change24h < -e.cfg.OpenChangePct || c.Trend.Momentum < -e.cfg.MomentumPct
}

func (e *Engine) openBullish(c *Context) bool {
	return c.Change24h > e.cfg.OpenChangePct || c.Trend.Momentum > e.cfg.MomentumPct
}
