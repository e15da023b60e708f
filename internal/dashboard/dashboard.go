// Package dashboard writes the read-only status artifact mirrored for
// external display. The agent never reads it back.
package dashboard

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/camuig/treasury-agent/internal/domain"
	"github.com/camuig/treasury-agent/internal/state"
)

const recentTrades = 20

type Performance struct {
	InitialBalance float64 `json:"initial_balance"`
	CurrentTotal   float64 `json:"current_total"`
	ReturnPct      float64 `json:"return_pct"`
	RealizedPnl    float64 `json:"realized_pnl"`
	StrategyPnl    float64 `json:"strategy_pnl"`
	SpreadCost     float64 `json:"spread_cost"`
	ClosedTrades   int     `json:"closed_trades"`
	TxCount        int     `json:"tx_count"`
	Volume         float64 `json:"volume"`
}

type Status struct {
	UpdatedAt    time.Time `json:"updated_at"`
	Cycle        int       `json:"cycle"`
	SessionStart time.Time `json:"session_start"`
	Price        float64   `json:"price"`
	VenueState   string    `json:"venue_state"`

	Balances      domain.Balances      `json:"balances"`
	Position      *domain.Position     `json:"position,omitempty"`
	OpenReference *state.OpenReference `json:"open_reference,omitempty"`
	Performance   Performance          `json:"performance"`
	RecentTrades  []domain.TradeRecord `json:"recent_trades"`
}

func Build(st *state.AgentState, b domain.Balances, pos *domain.Position, price float64, venueState string, now time.Time) Status {
	total := b.Total(pos)
	trades := st.RecentTrades(recentTrades)
	out := make([]domain.TradeRecord, len(trades))
	// newest first for display
	for i, t := range trades {
		out[len(trades)-1-i] = t
	}

	return Status{
		UpdatedAt:     now,
		Cycle:         st.Cycle,
		SessionStart:  st.SessionStart,
		Price:         price,
		VenueState:    venueState,
		Balances:      b,
		Position:      pos,
		OpenReference: st.OpenPosition,
		Performance: Performance{
			InitialBalance: st.InitialBalance,
			CurrentTotal:   total,
			ReturnPct:      st.ReturnPct(total),
			RealizedPnl:    st.RealizedPnl,
			StrategyPnl:    st.StrategyPnl,
			SpreadCost:     st.SpreadCost(),
			ClosedTrades:   st.ClosedCount,
			TxCount:        st.TxCount,
			Volume:         st.Volume,
		},
		RecentTrades: out,
	}
}

type Writer struct {
	path string
}

func NewWriter(path string) *Writer {
	return &Writer{path: path}
}

func (w *Writer) Path() string { return w.path }

// Write replaces the artifact atomically so readers never see a partial file.
func (w *Writer) Write(s Status) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode dashboard: %w", err)
	}

	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dashboard dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".dashboard-*.json")
	if err != nil {
		return fmt.Errorf("create temp dashboard: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write dashboard: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close dashboard: %w", err)
	}
	if err := os.Rename(tmp.Name(), w.path); err != nil {
		return fmt.Errorf("replace dashboard: %w", err)
	}
	return nil
}

func Read(path string) (*Status, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dashboard: %w", err)
	}
	var s Status
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode dashboard: %w", err)
	}
	return &s, nil
}
