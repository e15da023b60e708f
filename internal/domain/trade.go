package domain

import "time"

// TradeRecord is the append-only record written once per cycle after
// execution. Action may differ from the requested action when the decision was
// downgraded to HOLD or the backend call failed.
type TradeRecord struct {
	ID              string    `json:"id"`
	Time            time.Time `json:"time"`
	Cycle           int       `json:"cycle"`
	Action          Action    `json:"action"`
	RequestedAction Action    `json:"requested_action"`
	Amount          float64   `json:"amount"`
	TxRef           *string   `json:"tx_ref"`
	Confidence      int       `json:"confidence"`
	Reason          string    `json:"reason"`
	Outlook         Outlook   `json:"outlook"`
	Source          string    `json:"source"`
	Price           float64   `json:"price"`
	Balances        Balances  `json:"balances"`
	Position        *Position `json:"position,omitempty"`
	RealizedPnl     float64   `json:"realized_pnl,omitempty"`
	StrategyPnl     float64   `json:"strategy_pnl,omitempty"`
}
