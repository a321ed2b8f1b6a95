package pricing

import (
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// MaxBatchSize caps the number of listings evaluated in one run.
const MaxBatchSize = 100

// Changes smaller than this never surface as adjustments.
var changeEpsilon = decimal.NewFromFloat(0.01)

var oneHundred = decimal.NewFromInt(100)

// ListingInput is the competitor-annotated listing snapshot the planner
// evaluates. Competitor prices are attached by the surrounding read path.
type ListingInput struct {
	ID          string
	Title       string
	Marketplace string
	Category    string
	Price       decimal.Decimal
	Competitors []decimal.Decimal
}

// PlanItem pairs a listing with its governing rule, nil for the default
// heuristic.
type PlanItem struct {
	Listing ListingInput
	Rule    *Rule
}

// Adjustment is a proposed price change. RuleID is empty when the default
// heuristic produced it.
type Adjustment struct {
	ListingID     string
	Title         string
	RuleID        string
	OldPrice      decimal.Decimal
	NewPrice      decimal.Decimal
	ChangePercent decimal.Decimal
	Reason        string
}

// Planner turns listing snapshots into proposed adjustments. Plan is pure
// and deterministic, so repeated dry-run evaluation is safe.
type Planner struct {
	logger zerolog.Logger
}

// NewPlanner constructs a Planner.
func NewPlanner(logger zerolog.Logger) *Planner {
	return &Planner{logger: logger.With().Str("component", "planner").Logger()}
}

// Plan evaluates each listing through its rule's evaluator and the safety
// clamp, dropping no-op results. At most MaxBatchSize listings are
// considered; the rest are ignored.
func (p *Planner) Plan(items []PlanItem) []Adjustment {
	if len(items) > MaxBatchSize {
		p.logger.Warn().Int("items", len(items)).Int("cap", MaxBatchSize).Msg("batch truncated to cap")
		items = items[:MaxBatchSize]
	}

	adjustments := make([]Adjustment, 0, len(items))
	for _, item := range items {
		if adj, ok := p.planOne(item); ok {
			adjustments = append(adjustments, adj)
		}
	}
	return adjustments
}

func (p *Planner) planOne(item PlanItem) (Adjustment, bool) {
	listing := item.Listing
	if len(listing.Competitors) == 0 {
		return Adjustment{}, false
	}
	if !listing.Price.IsPositive() {
		p.logger.Warn().Str("listing_id", listing.ID).Msg("listing has non-positive price, skipping")
		return Adjustment{}, false
	}

	rule := item.Rule
	if rule != nil {
		lowest, _ := lowestPrice(listing.Competitors)
		if !rule.ConditionsHold(listing.Price, lowest) {
			return Adjustment{}, false
		}
	}

	candidate := ForRule(rule).Evaluate(listing.Price, listing.Competitors)

	var safety SafetyConfig
	if rule != nil {
		safety = rule.Safety
	}
	final := safety.Clamp(listing.Price, candidate.Price).Round(2)

	if final.Sub(listing.Price).Abs().LessThanOrEqual(changeEpsilon) {
		return Adjustment{}, false
	}

	adj := Adjustment{
		ListingID:     listing.ID,
		Title:         listing.Title,
		OldPrice:      listing.Price,
		NewPrice:      final,
		ChangePercent: final.Sub(listing.Price).Div(listing.Price).Mul(oneHundred).Round(2),
		Reason:        candidate.Reason,
	}
	if rule != nil {
		adj.RuleID = rule.ID
	}
	return adj, true
}
