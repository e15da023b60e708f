package ai

import (
	"context"

	"github.com/camuig/treasury-agent/internal/decision"
	"github.com/camuig/treasury-agent/internal/domain"
)

// Advisor is an external reasoning service. It fails closed: any transport,
// status or parse problem is returned as an error and the caller falls back.
type Advisor interface {
	Decide(ctx context.Context, c *decision.Context) (domain.Decision, string, error)
}

// Reply is the JSON object the model is asked to return.
type Reply struct {
	Action     string  `json:"action"`
	Amount     float64 `json:"amount"`   // stable-asset amount for transfers and deposits
	Size       float64 `json:"size"`     // notional USD for opens
	Leverage   float64 `json:"leverage"` // opens only; rounded
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
	Outlook    string  `json:"outlook"`
}

const (
	SourceLLM   = "llm"
	SourceRules = "rules"
)

// Outcome is what the gateway hands to the orchestrator: the decision plus
// where it came from, for the advisor log.
type Outcome struct {
	Decision domain.Decision
	Source   string
	Raw      string
	Err      error
}
