// Package guard vetoes position opens and closes that would trade more often
// than the configured hold time and cooldown allow.
package guard

import (
	"fmt"
	"math"
	"time"

	"github.com/camuig/treasury-agent/internal/domain"
)

type Config struct {
	MinHold            time.Duration
	Cooldown           time.Duration
	SpreadTolerancePct float64 // % of position notional
}

// Timers are the persisted open/close timestamps the guard checks against.
// OpenDirection is the side the agent opened and has not closed yet, empty
// when flat.
type Timers struct {
	LastOpenAt    time.Time
	LastCloseAt   time.Time
	OpenDirection domain.Direction
}

type Verdict struct {
	Allowed bool
	Rule    string
	Reason  string
}

type Guard struct {
	cfg Config
	now func() time.Time
}

func New(cfg Config, now func() time.Time) *Guard {
	if now == nil {
		now = time.Now
	}
	return &Guard{cfg: cfg, now: now}
}

// Review returns the decision unchanged when allowed, or a HOLD carrying the
// veto reason. Only open and close intents are ever vetoed.
func (g *Guard) Review(d domain.Decision, pos *domain.Position, timers Timers) (domain.Decision, Verdict) {
	var v Verdict
	switch in := d.Intent.(type) {
	case domain.ClosePosition:
		v = g.reviewClose(pos, timers)
	case domain.OpenPosition:
		v = g.reviewOpen(in, pos, timers)
	default:
		return d, Verdict{Allowed: true}
	}
	if v.Allowed {
		return d, v
	}
	return domain.HoldDecision(fmt.Sprintf("guard %s: %s (was %s)", v.Rule, v.Reason, d.Action()), d), v
}

func (g *Guard) reviewClose(pos *domain.Position, timers Timers) Verdict {
	now := g.now()

	openedAt := timers.LastOpenAt
	if pos != nil && pos.OpenedAt.After(openedAt) {
		openedAt = pos.OpenedAt
	}
	if !openedAt.IsZero() {
		if held := now.Sub(openedAt); held < g.cfg.MinHold {
			return Verdict{
				Rule:   "min_hold",
				Reason: fmt.Sprintf("position held %s, minimum %s", held.Round(time.Second), g.cfg.MinHold),
			}
		}
	}

	if pos != nil && pos.UnrealizedPnl < 0 {
		tolerance := pos.Notional() * g.cfg.SpreadTolerancePct / 100
		if math.Abs(pos.UnrealizedPnl) <= tolerance {
			return Verdict{
				Rule:   "spread_tolerance",
				Reason: fmt.Sprintf("loss %.4f within spread tolerance %.4f", pos.UnrealizedPnl, tolerance),
			}
		}
	}

	return Verdict{Allowed: true}
}

func (g *Guard) reviewOpen(in domain.OpenPosition, pos *domain.Position, timers Timers) Verdict {
	if !timers.LastCloseAt.IsZero() {
		if since := g.now().Sub(timers.LastCloseAt); since < g.cfg.Cooldown {
			return Verdict{
				Rule:   "cooldown",
				Reason: fmt.Sprintf("last close %s ago, cooldown %s", since.Round(time.Second), g.cfg.Cooldown),
			}
		}
	}

	// Without a venue position the persisted open reference decides.
	held := timers.OpenDirection
	open := pos != nil && pos.BaseAmount != 0
	if open {
		held = pos.Direction
	}
	if held == in.Direction {
		return Verdict{
			Rule:   "no_stacking",
			Reason: fmt.Sprintf("%s position already open", held),
		}
	}

	// A reversal closes the opposite side first, so it obeys the close rules.
	if open && pos.Direction == in.Direction.Opposite() {
		if v := g.reviewClose(pos, timers); !v.Allowed {
			v.Reason = fmt.Sprintf("reversal to %s would close %s: %s", in.Direction, pos.Direction, v.Reason)
			return v
		}
	}

	return Verdict{Allowed: true}
}
