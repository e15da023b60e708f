package cli

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camuig/treasury-agent/internal/config"
	"github.com/camuig/treasury-agent/internal/domain"
	"github.com/camuig/treasury-agent/internal/logger"
)

func priceServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"solana":{"usd":100,"usd_24h_change":0.5}}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeConfig(t *testing.T, priceURL string) string {
	t.Helper()
	dir := t.TempDir()
	data := fmt.Sprintf(`agent:
  db_path: %s
  dashboard_path: %s
market:
  base_url: %s
venue:
  mode: paper
logging:
  level: error
`, filepath.Join(dir, "agent.db"), filepath.Join(dir, "dashboard.json"), priceURL)

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))
	return path
}

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	require.NoError(t, cmd.ExecuteContext(context.Background()))
	return out.String()
}

func TestStatus_NoState(t *testing.T) {
	path := writeConfig(t, priceServer(t).URL)

	assert.Contains(t, execute(t, "--config", path, "status"), "No agent state yet.")
}

func TestCloseAll_NoPosition(t *testing.T) {
	path := writeConfig(t, priceServer(t).URL)

	assert.Contains(t, execute(t, "--config", path, "closeall"), "No open position.")
}

func TestCloseAll_ClosesPaperPosition(t *testing.T) {
	ctx := context.Background()
	path := writeConfig(t, priceServer(t).URL)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	a, err := newApp(ctx, cfg, logger.Nop())
	require.NoError(t, err)
	_, err = a.venue.Deposit(ctx, 5)
	require.NoError(t, err)
	_, err = a.venue.Open(ctx, domain.Long, 8, 2)
	require.NoError(t, err)
	a.close()

	out := execute(t, "--config", path, "closeall", "--dry-run")
	assert.Contains(t, out, "Dry run")

	out = execute(t, "--config", path, "closeall")
	assert.Contains(t, out, "Closed LONG")

	out = execute(t, "--config", path, "status")
	assert.Contains(t, out, "Strategy P&L")
	assert.Contains(t, out, "over 1 closes")
}

func TestCloseAll_NoVenue(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, priceServer(t).URL))
	require.NoError(t, err)
	cfg.Venue.Mode = config.VenueNone

	var out bytes.Buffer
	err = closeAll(context.Background(), &out, cfg, false)
	assert.ErrorIs(t, err, errNoVenue)
}
