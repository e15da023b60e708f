package venue

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/camuig/treasury-agent/internal/domain"
	"github.com/camuig/treasury-agent/internal/ledger"
	"github.com/camuig/treasury-agent/internal/logger"
)

func newPaper(t *testing.T, price *float64) (*PaperVenue, *ledger.PaperLedger) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "venue.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	spot, err := ledger.NewPaperLedger(db, ledger.PaperOptions{}, logger.Nop())
	require.NoError(t, err)
	require.NoError(t, spot.Seed(context.Background(), 100, 100))

	v, err := NewPaperVenue(db, spot, func(context.Context) (float64, error) { return *price, nil }, 10, logger.Nop())
	require.NoError(t, err)
	return v, spot
}

func TestPaperVenue_DepositFundsFromAgent(t *testing.T) {
	ctx := context.Background()
	price := 100.0
	v, spot := newPaper(t, &price)

	ref, err := v.Deposit(ctx, 20)
	require.NoError(t, err)
	assert.NotEmpty(t, ref)

	c, err := v.Collateral(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 20.0, c.Balance, 1e-9)
	assert.InDelta(t, 20.0, c.Free, 1e-9)

	agent, err := spot.Balance(ctx, domain.AgentAccount)
	require.NoError(t, err)
	assert.InDelta(t, 80.0, agent, 1e-9)
}

func TestPaperVenue_OpenCloseLongPaysSpread(t *testing.T) {
	ctx := context.Background()
	price := 100.0
	v, _ := newPaper(t, &price)
	_, err := v.Deposit(ctx, 20)
	require.NoError(t, err)

	open, err := v.Open(ctx, domain.Long, 10, 2)
	require.NoError(t, err)
	assert.InDelta(t, 100.1, open.Price, 1e-9)
	assert.Greater(t, open.BaseAmount, 0.0)

	pos, err := v.Position(ctx)
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, domain.Long, pos.Direction)
	assert.Less(t, pos.UnrealizedPnl, 0.0, "entry above reference")

	// flat market: closing realizes only the spread
	res, err := v.Close(ctx)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Less(t, res.Pnl, 0.0)
	assert.InDelta(t, -0.02, res.Pnl, 1e-3)

	pos, err = v.Position(ctx)
	require.NoError(t, err)
	assert.Nil(t, pos)

	res, err = v.Close(ctx)
	require.NoError(t, err)
	assert.Nil(t, res, "nothing to close")
}

func TestPaperVenue_ShortProfitsOnDrop(t *testing.T) {
	ctx := context.Background()
	price := 100.0
	v, _ := newPaper(t, &price)
	_, err := v.Deposit(ctx, 20)
	require.NoError(t, err)

	open, err := v.Open(ctx, domain.Short, 10, 2)
	require.NoError(t, err)
	assert.Less(t, open.BaseAmount, 0.0)

	price = 90
	res, err := v.Close(ctx)
	require.NoError(t, err)
	assert.Greater(t, res.Pnl, 0.9)
}

func TestPaperVenue_OpenRequiresMargin(t *testing.T) {
	price := 100.0
	v, _ := newPaper(t, &price)

	_, err := v.Open(context.Background(), domain.Long, 10, 2)
	assert.ErrorIs(t, err, ErrInsufficientMargin)
}

func TestBreaker_Transitions(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewBreaker(2, time.Minute, func() time.Time { return now })

	assert.Equal(t, Unknown, b.State())
	b.RecordSuccess()
	assert.Equal(t, Available, b.State())

	b.RecordFailure()
	assert.Equal(t, Available, b.State(), "below threshold")
	b.RecordFailure()
	assert.Equal(t, Unavailable, b.State())
	assert.False(t, b.ShouldProbe())

	now = now.Add(2 * time.Minute)
	assert.Equal(t, Unknown, b.State())
	assert.True(t, b.ShouldProbe())
}

func TestRoundDown(t *testing.T) {
	assert.InDelta(t, 0.12, roundDown(0.1299, 2), 1e-12)
	assert.InDelta(t, 1.0, roundDown(1.0009, 3), 1e-12)
}
