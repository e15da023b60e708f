package storage

import "time"

// AgentStateRecord holds the whole agent state as one JSON document. There is
// only ever one row.
type AgentStateRecord struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	UpdatedAt time.Time `json:"updated_at"`

	Cycle int    `json:"cycle"`
	Data  string `gorm:"type:text;not null" json:"data"`
}

type Trade struct {
	ID        string    `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`

	Cycle           int     `gorm:"index" json:"cycle"`
	Action          string  `gorm:"not null" json:"action"`
	RequestedAction string  `json:"requested_action"`
	Amount          float64 `json:"amount"`
	TxRef           *string `json:"tx_ref"`
	Confidence      int     `json:"confidence"`
	Reason          string  `gorm:"type:text" json:"reason"`
	Outlook         string  `json:"outlook"`
	Source          string  `json:"source"` // llm or rules
	Price           float64 `json:"price"`

	AgentBalance    float64 `json:"agent_balance"`
	TreasuryBalance float64 `json:"treasury_balance"`
	PerpCollateral  float64 `json:"perp_collateral"`
	PositionJSON    string  `gorm:"type:text" json:"position_json"`

	RealizedPnl float64 `gorm:"column:realized_pnl" json:"realized_pnl"`
	StrategyPnl float64 `gorm:"column:strategy_pnl" json:"strategy_pnl"`
}

type AdvisorLog struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	Cycle        int    `json:"cycle"`
	Source       string `json:"source"`
	Response     string `gorm:"type:text" json:"response"`
	DecisionJSON string `gorm:"type:text" json:"decision_json"`
	LatencyMs    int64  `json:"latency_ms"`
	Error        string `json:"error"`
}

type BalanceSnapshot struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	Cycle          int     `json:"cycle"`
	Agent          float64 `json:"agent"`
	Treasury       float64 `json:"treasury"`
	PerpCollateral float64 `json:"perp_collateral"`
	FreeCollateral float64 `json:"free_collateral"`
	Total          float64 `json:"total"`
	Price          float64 `json:"price"`
}
