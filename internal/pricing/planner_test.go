package pricing

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/rs/zerolog"
)

func testPlanner() *Planner {
	return NewPlanner(zerolog.Nop())
}

func TestPlanSkipsListingsWithoutCompetitors(t *testing.T) {
	// Scenario: current 50, no competitors -> no adjustment.
	adjustments := testPlanner().Plan([]PlanItem{{
		Listing: ListingInput{ID: "l1", Price: dec(50)},
	}})

	if len(adjustments) != 0 {
		t.Fatalf("无竞品的 listing 不应产生 adjustment: %+v", adjustments)
	}
}

func TestPlanDropsNoOpChanges(t *testing.T) {
	adjustments := testPlanner().Plan([]PlanItem{{
		// Lowest competitor above current: evaluator proposes no change.
		Listing: ListingInput{ID: "l1", Price: dec(100), Competitors: decs(120)},
	}})

	if len(adjustments) != 0 {
		t.Fatalf("no-op 变化不应出现在计划里: %+v", adjustments)
	}
}

func TestPlanEpsilonFilter(t *testing.T) {
	v := dec(0)
	rule := &Rule{
		ID:      "r1",
		Type:    RuleCompetitorFollow,
		Actions: []Action{{Type: ActionUndercut, Value: &v}},
	}

	// Undercut 0% == match: final 99.995 rounds to 100.00, delta 0 <= epsilon.
	adjustments := testPlanner().Plan([]PlanItem{{
		Listing: ListingInput{ID: "l1", Price: dec(100), Competitors: decs(99.995)},
		Rule:    rule,
	}})
	if len(adjustments) != 0 {
		t.Fatalf("epsilon 内的变化不应出现: %+v", adjustments)
	}

	// A 2-cent move survives the filter.
	adjustments = testPlanner().Plan([]PlanItem{{
		Listing: ListingInput{ID: "l1", Price: dec(100), Competitors: decs(99.98)},
		Rule:    rule,
	}})
	if len(adjustments) != 1 {
		t.Fatalf("0.02 的变化应被保留: %+v", adjustments)
	}
}

func TestPlanEmittedAdjustmentsExceedEpsilon(t *testing.T) {
	items := make([]PlanItem, 0, 20)
	for i := 0; i < 20; i++ {
		items = append(items, PlanItem{
			Listing: ListingInput{
				ID:          fmt.Sprintf("l%d", i),
				Price:       dec(100 + float64(i)),
				Competitors: decs(99.9 - float64(i)),
			},
		})
	}

	for _, adj := range testPlanner().Plan(items) {
		if adj.NewPrice.Sub(adj.OldPrice).Abs().LessThanOrEqual(changeEpsilon) {
			t.Fatalf("adjustment %s 违反 epsilon 不变式: %s -> %s", adj.ListingID, adj.OldPrice, adj.NewPrice)
		}
	}
}

func TestPlanUndercutWithFloorClampsUp(t *testing.T) {
	// Scenario: current 100, undercut 5%, competitors [95], min_price 95
	// -> candidate 90.25 clamps up to 95, change -5%.
	v := dec(5)
	min := dec(95)
	rule := &Rule{
		ID:      "r1",
		Type:    RuleCompetitorFollow,
		Actions: []Action{{Type: ActionUndercut, Value: &v}},
		Safety:  SafetyConfig{MinPrice: &min},
	}

	adjustments := testPlanner().Plan([]PlanItem{{
		Listing: ListingInput{ID: "l1", Price: dec(100), Competitors: decs(95)},
		Rule:    rule,
	}})

	if len(adjustments) != 1 {
		t.Fatalf("期望 1 个 adjustment, 实际 %d", len(adjustments))
	}
	adj := adjustments[0]
	if !adj.NewPrice.Equal(dec(95)) {
		t.Fatalf("期望 clamp 到 95, 实际 %s", adj.NewPrice)
	}
	if !adj.ChangePercent.Equal(dec(-5)) {
		t.Fatalf("期望 -5%%, 实际 %s", adj.ChangePercent)
	}
	if adj.RuleID != "r1" {
		t.Fatalf("adjustment 应携带规则 id, 实际 %q", adj.RuleID)
	}
}

func TestPlanWithoutSafetyKeepsRawCandidate(t *testing.T) {
	// Scenario: current 100, undercut 5%, competitors [95], no safety
	// -> 90.25, change -9.75%.
	v := dec(5)
	rule := &Rule{
		ID:      "r1",
		Type:    RuleCompetitorFollow,
		Actions: []Action{{Type: ActionUndercut, Value: &v}},
	}

	adjustments := testPlanner().Plan([]PlanItem{{
		Listing: ListingInput{ID: "l1", Price: dec(100), Competitors: decs(95)},
		Rule:    rule,
	}})

	if len(adjustments) != 1 {
		t.Fatalf("期望 1 个 adjustment, 实际 %d", len(adjustments))
	}
	adj := adjustments[0]
	if !adj.NewPrice.Equal(dec(90.25)) {
		t.Fatalf("期望 90.25, 实际 %s", adj.NewPrice)
	}
	if !adj.ChangePercent.Equal(dec(-9.75)) {
		t.Fatalf("期望 -9.75%%, 实际 %s", adj.ChangePercent)
	}
}

func TestPlanCapsBatchAtMaxSize(t *testing.T) {
	items := make([]PlanItem, 0, MaxBatchSize+20)
	for i := 0; i < MaxBatchSize+20; i++ {
		items = append(items, PlanItem{
			Listing: ListingInput{
				ID:          fmt.Sprintf("l%d", i),
				Price:       dec(100),
				Competitors: decs(50),
			},
		})
	}

	adjustments := testPlanner().Plan(items)
	if len(adjustments) != MaxBatchSize {
		t.Fatalf("批次应截断到 %d, 实际 %d", MaxBatchSize, len(adjustments))
	}
}

func TestPlanIsDeterministic(t *testing.T) {
	v := dec(3)
	min := dec(40)
	rule := &Rule{
		ID:      "r1",
		Type:    RuleCompetitorFollow,
		Actions: []Action{{Type: ActionUndercut, Value: &v}},
		Safety:  SafetyConfig{MinPrice: &min},
	}

	items := []PlanItem{
		{Listing: ListingInput{ID: "a", Price: dec(100), Competitors: decs(90, 85, 95)}, Rule: rule},
		{Listing: ListingInput{ID: "b", Price: dec(60), Competitors: decs(42)}, Rule: rule},
		{Listing: ListingInput{ID: "c", Price: dec(30)}},
	}

	first := testPlanner().Plan(items)
	second := testPlanner().Plan(items)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("相同输入应产生相同计划:\n%+v\n%+v", first, second)
	}
}

func TestPlanRespectsRuleConditions(t *testing.T) {
	rule := &Rule{
		ID:   "r1",
		Type: RuleCompetitorFollow,
		Conditions: []Condition{
			{Field: FieldCurrentPrice, Operator: "gt", Value: dec(200)},
		},
		Actions: []Action{{Type: ActionMatch}},
	}

	adjustments := testPlanner().Plan([]PlanItem{{
		Listing: ListingInput{ID: "l1", Price: dec(100), Competitors: decs(80)},
		Rule:    rule,
	}})

	if len(adjustments) != 0 {
		t.Fatalf("条件不满足时规则不应生效: %+v", adjustments)
	}
}
