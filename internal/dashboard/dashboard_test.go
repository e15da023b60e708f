package dashboard

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camuig/treasury-agent/internal/domain"
	"github.com/camuig/treasury-agent/internal/state"
)

func TestBuildAndWrite(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	st := state.New(now.Add(-time.Hour), state.DefaultLimits())
	st.Cycle = 12
	st.CaptureInitialBalance(20)
	st.RecordClose(-0.52, -0.5, now)
	for i := 1; i <= 3; i++ {
		st.AppendTrade(domain.TradeRecord{Cycle: i, Action: domain.ActionHold})
	}

	b := domain.Balances{Agent: 9, Treasury: 11, PerpCollateral: 2}
	status := Build(st, b, nil, 95, "available", now)

	assert.Equal(t, 22.0, status.Performance.CurrentTotal)
	assert.InDelta(t, 10.0, status.Performance.ReturnPct, 1e-9)
	assert.InDelta(t, 0.02, status.Performance.SpreadCost, 1e-9)
	require.Len(t, status.RecentTrades, 3)
	assert.Equal(t, 3, status.RecentTrades[0].Cycle, "newest first")

	path := filepath.Join(t.TempDir(), "out", "dashboard.json")
	w := NewWriter(path)
	require.NoError(t, w.Write(status))
	require.NoError(t, w.Write(status))

	got, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, 12, got.Cycle)
	assert.Equal(t, "available", got.VenueState)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}
