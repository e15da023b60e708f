package ai

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/camuig/treasury-agent/internal/config"
	"github.com/camuig/treasury-agent/internal/decision"
	"github.com/camuig/treasury-agent/internal/domain"
)

var ErrNoJSON = errors.New("no JSON object in advisor response")

var thinkTagRegex = regexp.MustCompile(`(?s)<think>.*?</think>`)

// StripThinkTags removes reasoning-model think blocks from the response.
func StripThinkTags(text string) string {
	return strings.TrimSpace(thinkTagRegex.ReplaceAllString(text, ""))
}

// ParseReply extracts the single decision object from a model response.
// Handles markdown code fences and prose around the object.
func ParseReply(text string) (Reply, error) {
	cleaned := StripThinkTags(text)

	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var reply Reply
	if err := json.Unmarshal([]byte(cleaned), &reply); err == nil {
		return reply, nil
	}

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start < 0 || end <= start {
		return Reply{}, ErrNoJSON
	}
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), &reply); err != nil {
		return Reply{}, fmt.Errorf("decode advisor JSON: %w", err)
	}
	return reply, nil
}

// ToDecision turns a reply into a typed decision. Amounts are taken as given;
// the execution router clamps them. Unknown actions are an error.
func ToDecision(r Reply, c *decision.Context, cfg config.TradingConfig) (domain.Decision, error) {
	if math.IsNaN(r.Amount) || math.IsNaN(r.Size) || math.IsNaN(r.Leverage) || math.IsNaN(r.Confidence) {
		return domain.Decision{}, fmt.Errorf("advisor returned NaN field")
	}

	d := domain.Decision{
		Confidence: clampConfidence(r.Confidence),
		Reason:     strings.TrimSpace(r.Reason),
		Outlook:    domain.ParseOutlook(strings.ToLower(r.Outlook)),
	}

	b := c.Balances
	switch domain.Action(strings.ToUpper(strings.TrimSpace(r.Action))) {
	case domain.ActionHold, "":
		d.Intent = domain.Hold{}
	case domain.ActionAllocateToTreasury:
		d.Intent = domain.Transfer{Kind: domain.ActionAllocateToTreasury, From: domain.AgentAccount, To: domain.TreasuryAccount, Amount: r.Amount}
	case domain.ActionWithdrawFromTreasury:
		d.Intent = domain.Transfer{Kind: domain.ActionWithdrawFromTreasury, From: domain.TreasuryAccount, To: domain.AgentAccount, Amount: r.Amount}
	case domain.ActionRebalance:
		target := b.Stable() / 2
		amount := r.Amount
		if amount <= 0 {
			amount = math.Abs(b.Agent - target)
		}
		if b.Agent >= target {
			d.Intent = domain.Transfer{Kind: domain.ActionRebalance, From: domain.AgentAccount, To: domain.TreasuryAccount, Amount: amount}
		} else {
			d.Intent = domain.Transfer{Kind: domain.ActionRebalance, From: domain.TreasuryAccount, To: domain.AgentAccount, Amount: amount}
		}
	case domain.ActionOpenLong, domain.ActionOpenShort:
		dir := domain.Long
		if domain.Action(strings.ToUpper(r.Action)) == domain.ActionOpenShort {
			dir = domain.Short
		}
		size := r.Size
		if size <= 0 {
			size = r.Amount
		}
		lev := int(math.Round(math.Min(r.Leverage, 1000)))
		if lev <= 0 {
			lev = cfg.DefaultLeverage
		}
		d.Intent = domain.OpenPosition{Direction: dir, SizeUSD: size, Leverage: lev}
	case domain.ActionCloseLong:
		d.Intent = domain.ClosePosition{Direction: domain.Long}
	case domain.ActionCloseShort:
		d.Intent = domain.ClosePosition{Direction: domain.Short}
	case domain.ActionDepositCollateral:
		d.Intent = domain.DepositCollateral{Amount: r.Amount}
	default:
		return domain.Decision{}, fmt.Errorf("unknown advisor action %q", r.Action)
	}

	if d.Reason == "" {
		d.Reason = "advisor gave no reason"
	}
	return d, nil
}

func clampConfidence(c float64) int {
	switch {
	case c < 0:
		return 0
	case c > 100:
		return 100
	}
	return int(math.Round(c))
}
