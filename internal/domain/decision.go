package domain

import "fmt"

type Action string

const (
	ActionHold                 Action = "HOLD"
	ActionAllocateToTreasury   Action = "ALLOCATE_TO_TREASURY"
	ActionWithdrawFromTreasury Action = "WITHDRAW_FROM_TREASURY"
	ActionRebalance            Action = "REBALANCE"
	ActionOpenShort            Action = "OPEN_SHORT"
	ActionOpenLong             Action = "OPEN_LONG"
	ActionCloseShort           Action = "CLOSE_SHORT"
	ActionCloseLong            Action = "CLOSE_LONG"
	ActionDepositCollateral    Action = "DEPOSIT_TO_DRIFT"

	// ActionFailed only appears on trade records.
	ActionFailed Action = "FAILED"
)

// Intent is the action-specific part of a Decision. Each implementation
// carries only the fields its action family needs.
type Intent interface {
	Action() Action
	isIntent()
}

type Hold struct{}

func (Hold) Action() Action { return ActionHold }
func (Hold) isIntent()      {}

// Transfer moves stable asset between the agent and treasury accounts.
// Kind is one of ALLOCATE_TO_TREASURY, WITHDRAW_FROM_TREASURY or REBALANCE.
type Transfer struct {
	Kind   Action
	From   Account
	To     Account
	Amount float64
}

func (t Transfer) Action() Action { return t.Kind }
func (Transfer) isIntent()        {}

type OpenPosition struct {
	Direction Direction
	SizeUSD   float64
	Leverage  int
}

func (o OpenPosition) Action() Action {
	if o.Direction == Short {
		return ActionOpenShort
	}
	return ActionOpenLong
}
func (OpenPosition) isIntent() {}

type ClosePosition struct {
	Direction Direction
}

func (c ClosePosition) Action() Action {
	if c.Direction == Short {
		return ActionCloseShort
	}
	return ActionCloseLong
}
func (ClosePosition) isIntent() {}

// DepositCollateral funds the perp venue from the agent account.
type DepositCollateral struct {
	Amount float64
}

func (DepositCollateral) Action() Action { return ActionDepositCollateral }
func (DepositCollateral) isIntent()      {}

// Decision is produced once per cycle by the advisor or the rule engine.
type Decision struct {
	Intent     Intent
	Confidence int
	Reason     string
	Outlook    Outlook
}

func (d Decision) Action() Action {
	if d.Intent == nil {
		return ActionHold
	}
	return d.Intent.Action()
}

// Amount reports the stable-asset quantity the decision asks for: transfer or
// deposit amount, or notional size for opens.
func (d Decision) Amount() float64 {
	switch in := d.Intent.(type) {
	case Transfer:
		return in.Amount
	case DepositCollateral:
		return in.Amount
	case OpenPosition:
		return in.SizeUSD
	}
	return 0
}

func (d Decision) String() string {
	return fmt.Sprintf("%s amount=%.4f confidence=%d outlook=%s", d.Action(), d.Amount(), d.Confidence, d.Outlook)
}

// HoldDecision keeps the outlook of the original decision but replaces its
// intent with a HOLD.
func HoldDecision(reason string, from Decision) Decision {
	return Decision{
		Intent:     Hold{},
		Confidence: from.Confidence,
		Reason:     reason,
		Outlook:    from.Outlook,
	}
}

func ParseOutlook(s string) Outlook {
	switch Outlook(s) {
	case Bullish, Bearish:
		return Outlook(s)
	}
	return Neutral
}
