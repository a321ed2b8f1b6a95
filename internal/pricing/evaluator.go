package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Reason strings surfaced on adjustments and audit rows.
const (
	ReasonAutoMatch   = "auto competitor match"
	ReasonUnsupported = "unsupported rule type"
)

// Candidate is the outcome of evaluating one listing. A price equal to the
// listing's current price signals "no change proposed".
type Candidate struct {
	Price  decimal.Decimal
	Reason string
}

// Evaluator computes a candidate price from the current price and the
// observed competitor prices. Implementations are pure.
type Evaluator interface {
	Evaluate(currentPrice decimal.Decimal, competitors []decimal.Decimal) Candidate
}

// ForRule selects the evaluator for a rule. A nil rule yields the default
// competitor-match heuristic.
func ForRule(rule *Rule) Evaluator {
	if rule == nil {
		return autoMatchEvaluator{}
	}

	switch rule.Type {
	case RuleCompetitorFollow:
		action, value := rule.followAction()
		return competitorFollowEvaluator{action: action, pct: value}
	case RuleMinMargin:
		return minMarginEvaluator{}
	case RuleMaxDiscount:
		return maxDiscountEvaluator{limit: rule.discountLimit()}
	default:
		// demand-based, time-based, custom: no dedicated strategy yet.
		return unsupportedEvaluator{}
	}
}

func (r *Rule) followAction() (string, decimal.Decimal) {
	for _, a := range r.Actions {
		if a.Type != ActionMatch && a.Type != ActionUndercut {
			continue
		}
		value := defaultUndercutPct
		if a.Value != nil {
			value = *a.Value
		}
		return a.Type, value
	}
	return ActionMatch, decimal.Zero
}

func (r *Rule) discountLimit() decimal.Decimal {
	for _, a := range r.Actions {
		if a.Value != nil {
			return *a.Value
		}
	}
	return defaultDiscountPct
}

func lowestPrice(competitors []decimal.Decimal) (decimal.Decimal, bool) {
	if len(competitors) == 0 {
		return decimal.Zero, false
	}
	lowest := competitors[0]
	for _, p := range competitors[1:] {
		if p.LessThan(lowest) {
			lowest = p
		}
	}
	return lowest, true
}

func noChange(currentPrice decimal.Decimal) Candidate {
	return Candidate{Price: currentPrice}
}

// autoMatchEvaluator is the default heuristic: undercut the lowest
// competitor by 5% whenever it sits below the current price.
type autoMatchEvaluator struct{}

func (autoMatchEvaluator) Evaluate(currentPrice decimal.Decimal, competitors []decimal.Decimal) Candidate {
	lowest, ok := lowestPrice(competitors)
	if !ok || !lowest.LessThan(currentPrice) {
		return noChange(currentPrice)
	}
	return Candidate{
		Price:  lowest.Mul(decimal.NewFromFloat(0.95)),
		Reason: ReasonAutoMatch,
	}
}

type competitorFollowEvaluator struct {
	action string
	pct    decimal.Decimal
}

func (e competitorFollowEvaluator) Evaluate(currentPrice decimal.Decimal, competitors []decimal.Decimal) Candidate {
	lowest, ok := lowestPrice(competitors)
	if !ok {
		return noChange(currentPrice)
	}

	if e.action == ActionUndercut {
		factor := decimal.NewFromInt(1).Sub(e.pct.Div(decimal.NewFromInt(100)))
		return Candidate{
			Price:  lowest.Mul(factor),
			Reason: fmt.Sprintf("undercut lowest competitor by %s%%", e.pct.String()),
		}
	}
	return Candidate{
		Price:  lowest,
		Reason: "matched lowest competitor",
	}
}

// minMarginEvaluator follows the lowest competitor but never drops below 90%
// of the current price. No cost basis is available here, so the floor is a
// heuristic against the listing's own price.
type minMarginEvaluator struct{}

func (minMarginEvaluator) Evaluate(currentPrice decimal.Decimal, competitors []decimal.Decimal) Candidate {
	lowest, ok := lowestPrice(competitors)
	if !ok {
		return noChange(currentPrice)
	}

	candidate := lowest.Mul(decimal.NewFromFloat(0.95))
	floor := currentPrice.Mul(decimal.NewFromFloat(0.9))
	if candidate.LessThan(floor) {
		candidate = floor
	}
	return Candidate{
		Price:  candidate,
		Reason: "competitor match with margin floor",
	}
}

type maxDiscountEvaluator struct {
	limit decimal.Decimal
}

func (e maxDiscountEvaluator) Evaluate(currentPrice decimal.Decimal, competitors []decimal.Decimal) Candidate {
	lowest, ok := lowestPrice(competitors)
	if !ok {
		return noChange(currentPrice)
	}

	// Reason is set even when the price ends up unchanged; the planner's
	// no-op filter keeps it from surfacing in that case.
	reason := fmt.Sprintf("discount capped at %s%%", e.limit.String())
	if !lowest.LessThan(currentPrice) {
		return Candidate{Price: currentPrice, Reason: reason}
	}

	factor := decimal.NewFromInt(1).Sub(e.limit.Div(decimal.NewFromInt(100)))
	candidate := currentPrice.Mul(factor)
	if lowest.GreaterThan(candidate) {
		candidate = lowest
	}
	return Candidate{Price: candidate, Reason: reason}
}

// unsupportedEvaluator handles rule types without a dedicated strategy. It
// applies the default heuristic and tags the reason so the fallback is
// visible in the audit trail.
type unsupportedEvaluator struct{}

func (unsupportedEvaluator) Evaluate(currentPrice decimal.Decimal, competitors []decimal.Decimal) Candidate {
	candidate := autoMatchEvaluator{}.Evaluate(currentPrice, competitors)
	candidate.Reason = ReasonUnsupported
	return candidate
}

var (
	_ Evaluator = autoMatchEvaluator{}
	_ Evaluator = competitorFollowEvaluator{}
	_ Evaluator = minMarginEvaluator{}
	_ Evaluator = maxDiscountEvaluator{}
	_ Evaluator = unsupportedEvaluator{}
)
