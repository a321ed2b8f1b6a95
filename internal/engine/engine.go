package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"marketplace-repricer/internal/dispatch"
	"marketplace-repricer/internal/pricing"
	"marketplace-repricer/internal/storage"
)

// Request is the input contract for one repricing run.
type Request struct {
	RuleID     string
	ListingIDs []string
	DryRun     bool
}

// Failure reports one listing whose apply transaction did not commit.
type Failure struct {
	ListingID string
	Reason    string
}

// Result aggregates per-item outcomes of one run. Applied mirrors the run
// mode: a dry run computes adjustments without persisting or dispatching
// anything.
type Result struct {
	Adjustments  []pricing.Adjustment
	Count        int
	Applied      bool
	AppliedCount int
	SkippedCount int
	Failures     []Failure
}

// FailedCount is the number of listings whose transaction failed.
func (r *Result) FailedCount() int { return len(r.Failures) }

// Run states, in order of progression. Every run terminates in stateDone,
// even when individual items failed.
type runState string

const (
	stateIdle              runState = "idle"
	stateLoadingCandidates runState = "loading_candidates"
	statePlanning          runState = "planning"
	stateDryRunResult      runState = "dry_run_result"
	stateApplying          runState = "applying"
	stateDone              runState = "done"
)

// Controller orchestrates one synchronous repricing run: candidate
// selection, planning, and (outside dry-run) the per-listing apply and sync
// dispatch. It holds no state between runs.
type Controller struct {
	listings   storage.ListingStore
	rules      storage.RuleStore
	changes    storage.ChangeStore
	dispatcher dispatch.Dispatcher
	planner    *pricing.Planner
	batchLimit int
	logger     zerolog.Logger
}

// NewController wires the controller's dependencies.
func NewController(
	listings storage.ListingStore,
	rules storage.RuleStore,
	changes storage.ChangeStore,
	dispatcher dispatch.Dispatcher,
	batchLimit int,
	logger zerolog.Logger,
) *Controller {
	if batchLimit <= 0 || batchLimit > pricing.MaxBatchSize {
		batchLimit = pricing.MaxBatchSize
	}
	return &Controller{
		listings:   listings,
		rules:      rules,
		changes:    changes,
		dispatcher: dispatcher,
		planner:    pricing.NewPlanner(logger),
		batchLimit: batchLimit,
		logger:     logger.With().Str("component", "engine").Logger(),
	}
}

// Execute runs the full pipeline for one request. Validation failures
// (unknown listing id, malformed or inactive rule) return an error before
// anything is planned or persisted; per-listing apply failures are reported
// in the Result instead.
func (c *Controller) Execute(ctx context.Context, req Request) (*Result, error) {
	state := stateIdle
	state = c.transition(state, stateLoadingCandidates)

	governing, err := c.loadGoverningRule(ctx, req.RuleID)
	if err != nil {
		return nil, err
	}

	listings, err := c.loadCandidates(ctx, req, governing)
	if err != nil {
		return nil, err
	}

	var catalog []*pricing.Rule
	if governing == nil {
		if catalog, err = c.loadRuleCatalog(ctx); err != nil {
			return nil, err
		}
	}

	state = c.transition(state, statePlanning)

	items := make([]pricing.PlanItem, 0, len(listings))
	versions := make(map[string]int64, len(listings))
	for _, l := range listings {
		versions[l.ID] = l.Version

		rule := governing
		if rule == nil {
			rule = pricing.HighestPriority(catalog, l.Marketplace, l.Category)
		}

		items = append(items, pricing.PlanItem{
			Listing: listingInput(l),
			Rule:    rule,
		})
	}

	adjustments := c.planner.Plan(items)

	result := &Result{
		Adjustments:  adjustments,
		Count:        len(adjustments),
		Applied:      !req.DryRun,
		SkippedCount: len(listings) - len(adjustments),
	}

	if req.DryRun {
		state = c.transition(state, stateDryRunResult)
		c.transition(state, stateDone)
		c.logger.Info().Int("adjustments", result.Count).Msg("dry run complete")
		return result, nil
	}

	state = c.transition(state, stateApplying)
	c.applyAdjustments(ctx, versions, adjustments, result)
	c.transition(state, stateDone)

	c.logger.Info().
		Int("applied", result.AppliedCount).
		Int("skipped", result.SkippedCount).
		Int("failed", result.FailedCount()).
		Msg("repricing run complete")
	return result, nil
}

func (c *Controller) transition(from, to runState) runState {
	c.logger.Debug().Str("from", string(from)).Str("state", string(to)).Msg("state transition")
	return to
}

func (c *Controller) loadGoverningRule(ctx context.Context, ruleID string) (*pricing.Rule, error) {
	if ruleID == "" {
		return nil, nil
	}

	row, err := c.rules.GetRule(ctx, ruleID)
	if err != nil {
		return nil, fmt.Errorf("load rule %s: %w", ruleID, err)
	}
	if !row.Active {
		return nil, fmt.Errorf("rule %s is not active", ruleID)
	}
	rule, err := pricing.ParseRule(ruleSpec(row))
	if err != nil {
		return nil, err
	}
	return rule, nil
}

func (c *Controller) loadCandidates(ctx context.Context, req Request, governing *pricing.Rule) ([]storage.Listing, error) {
	if len(req.ListingIDs) > 0 {
		listings, err := c.listings.GetListings(ctx, req.ListingIDs)
		if err != nil {
			return nil, fmt.Errorf("load listings: %w", err)
		}
		if missing := missingIDs(req.ListingIDs, listings); len(missing) > 0 {
			return nil, fmt.Errorf("unknown listing id(s): %s", strings.Join(missing, ", "))
		}
		if len(listings) > c.batchLimit {
			listings = listings[:c.batchLimit]
		}
		return listings, nil
	}

	var marketplaces, categories []string
	if governing != nil {
		marketplaces = governing.Marketplaces
		categories = governing.Categories
	}
	listings, err := c.listings.ListActiveListings(ctx, marketplaces, categories, c.batchLimit)
	if err != nil {
		return nil, fmt.Errorf("load active listings: %w", err)
	}
	return listings, nil
}

func (c *Controller) loadRuleCatalog(ctx context.Context) ([]*pricing.Rule, error) {
	rows, err := c.rules.ListActiveRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("load active rules: %w", err)
	}

	catalog := make([]*pricing.Rule, 0, len(rows))
	for _, row := range rows {
		rule, parseErr := pricing.ParseRule(ruleSpec(row))
		if parseErr != nil {
			// A stored rule that no longer parses must not kill the run.
			c.logger.Warn().Err(parseErr).Str("rule_id", row.ID).Msg("skipping unparseable rule")
			continue
		}
		catalog = append(catalog, rule)
	}
	return catalog, nil
}

func missingIDs(requested []string, found []storage.Listing) []string {
	present := make(map[string]bool, len(found))
	for _, l := range found {
		present[l.ID] = true
	}
	missing := make([]string, 0)
	for _, id := range requested {
		if !present[id] {
			missing = append(missing, id)
		}
	}
	return missing
}

func listingInput(l storage.Listing) pricing.ListingInput {
	competitors := make([]decimal.Decimal, 0, len(l.Competitors))
	for _, c := range l.Competitors {
		competitors = append(competitors, c.Price)
	}
	return pricing.ListingInput{
		ID:          l.ID,
		Title:       l.Title,
		Marketplace: l.Marketplace,
		Category:    l.Category,
		Price:       l.Price,
		Competitors: competitors,
	}
}

func ruleSpec(row storage.PricingRuleRow) pricing.RuleSpec {
	return pricing.RuleSpec{
		ID:            row.ID,
		Name:          row.Name,
		Type:          row.Type,
		Conditions:    row.Conditions,
		Actions:       row.Actions,
		Safety:        row.Safety,
		Marketplaces:  row.Marketplaces,
		Categories:    row.Categories,
		Priority:      row.Priority,
		AppliedCount:  row.AppliedCount,
		LastAppliedAt: row.LastAppliedAt,
	}
}
