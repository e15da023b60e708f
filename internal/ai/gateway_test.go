package ai

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camuig/treasury-agent/internal/config"
	"github.com/camuig/treasury-agent/internal/decision"
	"github.com/camuig/treasury-agent/internal/domain"
	"github.com/camuig/treasury-agent/internal/logger"
	"github.com/camuig/treasury-agent/internal/trend"
)

type fakeAdvisor struct {
	decision domain.Decision
	raw      string
	err      error
	block    bool
	calls    int
}

func (f *fakeAdvisor) Decide(ctx context.Context, _ *decision.Context) (domain.Decision, string, error) {
	f.calls++
	if f.block {
		<-ctx.Done()
		return domain.Decision{}, "", ctx.Err()
	}
	return f.decision, f.raw, f.err
}

func bearishContext() *decision.Context {
	return &decision.Context{
		Price:     100,
		Change24h: -5,
		Trend:     trend.Result{Outlook: domain.Bearish, Samples: 10},
		Balances:  domain.Balances{Agent: 10, Treasury: 10},
	}
}

func newGateway(adv Advisor, timeout time.Duration) (*Gateway, *decision.Engine) {
	rules := decision.NewEngine(config.Default().Trading)
	return NewGateway(adv, rules, timeout, 5, logger.Nop()), rules
}

func TestGateway_TimeoutFallsBackToExactRuleDecision(t *testing.T) {
	adv := &fakeAdvisor{block: true}
	g, rules := newGateway(adv, 20*time.Millisecond)
	c := bearishContext()

	out := g.Decide(context.Background(), c)

	assert.Equal(t, rules.Decide(c), out.Decision)
	assert.Equal(t, SourceRules, out.Source)
	require.Error(t, out.Err)
	assert.ErrorIs(t, out.Err, context.DeadlineExceeded)
	assert.Equal(t, 1, adv.calls, "never retried")
}

func TestGateway_AdvisorErrorFallsBack(t *testing.T) {
	adv := &fakeAdvisor{err: errors.New("status 502"), raw: "<html>bad gateway</html>"}
	g, rules := newGateway(adv, time.Second)
	c := bearishContext()

	out := g.Decide(context.Background(), c)

	assert.Equal(t, rules.Decide(c), out.Decision)
	assert.Equal(t, "<html>bad gateway</html>", out.Raw)
	assert.Equal(t, 1, adv.calls)
}

func TestGateway_UsesAdvisorDecision(t *testing.T) {
	want := domain.Decision{Intent: domain.Hold{}, Confidence: 90, Reason: "wait", Outlook: domain.Neutral}
	g, _ := newGateway(&fakeAdvisor{decision: want, raw: "{}"}, time.Second)

	out := g.Decide(context.Background(), bearishContext())

	assert.Equal(t, want, out.Decision)
	assert.Equal(t, SourceLLM, out.Source)
	assert.NoError(t, out.Err)
}

func TestGateway_SkipsAdvisorWithoutEnoughHistory(t *testing.T) {
	adv := &fakeAdvisor{}
	g, rules := newGateway(adv, time.Second)
	c := bearishContext()
	c.Trend.Samples = 2

	out := g.Decide(context.Background(), c)

	assert.Equal(t, rules.Decide(c), out.Decision)
	assert.Zero(t, adv.calls)
}

func TestGateway_NilAdvisor(t *testing.T) {
	g, rules := newGateway(nil, time.Second)
	c := bearishContext()

	out := g.Decide(context.Background(), c)
	assert.Equal(t, rules.Decide(c), out.Decision)
	assert.Equal(t, SourceRules, out.Source)
}
