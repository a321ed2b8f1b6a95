package app

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/shopspring/decimal"

	"marketplace-repricer/internal/pricing"
)

// SimulateOptions describe one hypothetical listing and rule.
type SimulateOptions struct {
	CurrentPrice     float64
	Competitors      []float64
	RuleType         string
	ActionType       string
	ActionValue      float64
	MinPrice         float64
	MaxPrice         float64
	MaxChangePercent float64
}

// Simulate 对一个假想 listing 走一遍 evaluator+clamp 流水线，不接触数据库。
func (a *App) Simulate(opts SimulateOptions) error {
	rule, err := simulatedRule(opts)
	if err != nil {
		return err
	}

	competitors := make([]decimal.Decimal, 0, len(opts.Competitors))
	for _, p := range opts.Competitors {
		competitors = append(competitors, decimal.NewFromFloat(p))
	}

	planner := pricing.NewPlanner(a.Logger)
	adjustments := planner.Plan([]pricing.PlanItem{{
		Listing: pricing.ListingInput{
			ID:          "simulated",
			Title:       "simulated listing",
			Price:       decimal.NewFromFloat(opts.CurrentPrice),
			Competitors: competitors,
		},
		Rule: rule,
	}})

	if len(adjustments) == 0 {
		fmt.Fprintln(os.Stdout, "no change proposed")
		return nil
	}

	adj := adjustments[0]
	fmt.Fprintf(os.Stdout, "old: %s\nnew: %s\nchange: %s%%\nreason: %s\n",
		adj.OldPrice.StringFixed(2),
		adj.NewPrice.StringFixed(2),
		adj.ChangePercent.StringFixed(2),
		adj.Reason,
	)
	return nil
}

func simulatedRule(opts SimulateOptions) (*pricing.Rule, error) {
	if opts.RuleType == "" {
		return nil, nil
	}

	spec := pricing.RuleSpec{
		ID:   "simulated-rule",
		Name: "simulated rule",
		Type: opts.RuleType,
	}

	if opts.ActionType != "" || opts.ActionValue > 0 {
		action := map[string]interface{}{"type": opts.ActionType}
		if opts.ActionValue > 0 {
			action["value"] = opts.ActionValue
		}
		raw, err := json.Marshal([]map[string]interface{}{action})
		if err != nil {
			return nil, err
		}
		spec.Actions = raw
	}

	safety := map[string]interface{}{}
	if opts.MinPrice > 0 {
		safety["min_price"] = opts.MinPrice
	}
	if opts.MaxPrice > 0 {
		safety["max_price"] = opts.MaxPrice
	}
	if opts.MaxChangePercent > 0 {
		safety["max_change_percent"] = opts.MaxChangePercent
	}
	if len(safety) > 0 {
		raw, err := json.Marshal(safety)
		if err != nil {
			return nil, err
		}
		spec.Safety = raw
	}

	return pricing.ParseRule(spec)
}
