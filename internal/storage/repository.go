package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/camuig/treasury-agent/internal/domain"
	"github.com/camuig/treasury-agent/internal/state"
)

const stateRowID = 1

type Repository struct {
	db     *gorm.DB
	limits state.Limits
}

func NewRepository(db *gorm.DB, limits state.Limits) *Repository {
	return &Repository{db: db, limits: limits}
}

// Agent state

// Load returns state.ErrNotFound on first start. A row that cannot be decoded
// is reported as an error; callers must not silently start fresh over it.
func (r *Repository) Load(ctx context.Context) (*state.AgentState, error) {
	var rec AgentStateRecord
	err := r.db.WithContext(ctx).First(&rec, stateRowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, state.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load agent state: %w", err)
	}

	var s state.AgentState
	if err := json.Unmarshal([]byte(rec.Data), &s); err != nil {
		return nil, fmt.Errorf("decode agent state: %w", err)
	}
	s.SetLimits(r.limits)
	return &s, nil
}

func (r *Repository) Save(ctx context.Context, s *state.AgentState) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode agent state: %w", err)
	}
	rec := AgentStateRecord{ID: stateRowID, Cycle: s.Cycle, Data: string(data)}
	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"cycle", "data", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("save agent state: %w", err)
	}
	return nil
}

// Trades

func (r *Repository) SaveTrade(ctx context.Context, t domain.TradeRecord) error {
	row := Trade{
		ID:              t.ID,
		CreatedAt:       t.Time,
		Cycle:           t.Cycle,
		Action:          string(t.Action),
		RequestedAction: string(t.RequestedAction),
		Amount:          t.Amount,
		TxRef:           t.TxRef,
		Confidence:      t.Confidence,
		Reason:          t.Reason,
		Outlook:         string(t.Outlook),
		Source:          t.Source,
		Price:           t.Price,
		AgentBalance:    t.Balances.Agent,
		TreasuryBalance: t.Balances.Treasury,
		PerpCollateral:  t.Balances.PerpCollateral,
		RealizedPnl:     t.RealizedPnl,
		StrategyPnl:     t.StrategyPnl,
	}
	if t.Position != nil {
		if b, err := json.Marshal(t.Position); err == nil {
			row.PositionJSON = string(b)
		}
	}
	return r.db.WithContext(ctx).Create(&row).Error
}

func (r *Repository) GetRecentTrades(ctx context.Context, limit int) ([]Trade, error) {
	var trades []Trade
	err := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&trades).Error
	return trades, err
}

// GetExecutedCount counts trades that actually touched a backend.
func (r *Repository) GetExecutedCount(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&Trade{}).
		Where("action NOT IN ?", []string{string(domain.ActionHold), string(domain.ActionFailed)}).
		Count(&n).Error
	return n, err
}

func (r *Repository) GetTotalPnL(ctx context.Context) (realized, strategy float64, err error) {
	var out struct {
		Realized float64
		Strategy float64
	}
	err = r.db.WithContext(ctx).Model(&Trade{}).
		Select("COALESCE(SUM(realized_pnl), 0) AS realized, COALESCE(SUM(strategy_pnl), 0) AS strategy").
		Scan(&out).Error
	return out.Realized, out.Strategy, err
}

// Advisor logs

func (r *Repository) SaveAdvisorLog(ctx context.Context, log *AdvisorLog) error {
	return r.db.WithContext(ctx).Create(log).Error
}

func (r *Repository) GetRecentAdvisorLogs(ctx context.Context, limit int) ([]AdvisorLog, error) {
	var logs []AdvisorLog
	err := r.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&logs).Error
	return logs, err
}

// Balance snapshots

func (r *Repository) SaveBalanceSnapshot(ctx context.Context, snapshot *BalanceSnapshot) error {
	return r.db.WithContext(ctx).Create(snapshot).Error
}

func (r *Repository) GetLatestSnapshot(ctx context.Context) (*BalanceSnapshot, error) {
	var snapshot BalanceSnapshot
	err := r.db.WithContext(ctx).Order("id DESC").First(&snapshot).Error
	if err != nil {
		return nil, err
	}
	return &snapshot, nil
}
