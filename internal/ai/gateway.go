package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/camuig/treasury-agent/internal/decision"
	"github.com/camuig/treasury-agent/internal/logger"
)

// Gateway asks the advisor once per cycle and falls back to the rule engine on
// any failure. It never retries.
type Gateway struct {
	advisor    Advisor
	rules      *decision.Engine
	timeout    time.Duration
	minSamples int
	logger     *logger.Logger
}

// NewGateway accepts a nil advisor, in which case every decision comes from
// the rules. The advisor is also skipped until the trend has minSamples
// readings to frame.
func NewGateway(advisor Advisor, rules *decision.Engine, timeout time.Duration, minSamples int, log *logger.Logger) *Gateway {
	return &Gateway{advisor: advisor, rules: rules, timeout: timeout, minSamples: minSamples, logger: log}
}

func (g *Gateway) Decide(ctx context.Context, c *decision.Context) (out Outcome) {
	if g.advisor == nil {
		return Outcome{Decision: g.rules.Decide(c), Source: SourceRules}
	}
	if c.Trend.Samples < g.minSamples {
		return Outcome{Decision: g.rules.Decide(c), Source: SourceRules}
	}

	fallback := func(raw string, err error) Outcome {
		g.logger.Warn("advisor failed, using rules", "error", err)
		return Outcome{Decision: g.rules.Decide(c), Source: SourceRules, Raw: raw, Err: err}
	}

	defer func() {
		if r := recover(); r != nil {
			out = fallback("", fmt.Errorf("advisor panic: %v", r))
		}
	}()

	actx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()
	d, raw, err := g.advisor.Decide(actx, c)
	if err != nil {
		if errors.Is(actx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("advisor timed out after %s: %w", g.timeout, err)
		}
		return fallback(raw, err)
	}

	g.logger.Info("advisor decision", "action", d.Action(), "confidence", d.Confidence, "latency", time.Since(start))
	return Outcome{Decision: d, Source: SourceLLM, Raw: raw}
}
