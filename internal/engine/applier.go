package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"marketplace-repricer/internal/dispatch"
	"marketplace-repricer/internal/pricing"
	"marketplace-repricer/internal/storage"
)

// applyAdjustments commits each accepted adjustment in its own transaction
// and enqueues one sync task per committed change. A failed transaction is
// recorded as a failed item; the rest of the batch proceeds. Dispatch runs
// outside the transaction boundary, so an enqueue failure never rolls back
// an already-committed price change.
func (c *Controller) applyAdjustments(ctx context.Context, versions map[string]int64, adjustments []pricing.Adjustment, result *Result) {
	for _, adj := range adjustments {
		if err := ctx.Err(); err != nil {
			result.Failures = append(result.Failures, Failure{ListingID: adj.ListingID, Reason: "run cancelled: " + err.Error()})
			continue
		}

		change := storage.ApplyChange{
			ListingID:       adj.ListingID,
			ExpectedVersion: versions[adj.ListingID],
			NewPrice:        adj.NewPrice,
			Log:             changeLog(adj),
		}

		if err := c.changes.ApplyPriceChange(ctx, change); err != nil {
			c.logger.Error().Err(err).Str("listing_id", adj.ListingID).Msg("price change transaction failed")
			result.Failures = append(result.Failures, Failure{ListingID: adj.ListingID, Reason: err.Error()})
			continue
		}
		result.AppliedCount++

		if err := c.dispatcher.Dispatch(ctx, dispatch.Task{ListingID: adj.ListingID, NewPrice: adj.NewPrice}); err != nil {
			// The committed change stays authoritative; the sync worker owns
			// retry and backoff.
			c.logger.Error().Err(err).Str("listing_id", adj.ListingID).Msg("sync dispatch failed after commit")
		}
	}
}

func changeLog(adj pricing.Adjustment) storage.PriceChangeLog {
	log := storage.PriceChangeLog{
		ID:            uuid.New().String(),
		ListingID:     adj.ListingID,
		OldPrice:      adj.OldPrice,
		NewPrice:      adj.NewPrice,
		ChangePercent: adj.ChangePercent,
		Source:        storage.SourceAuto,
		Reason:        adj.Reason,
		CreatedAt:     time.Now().UTC(),
	}
	if adj.RuleID != "" {
		ruleID := adj.RuleID
		log.RuleID = &ruleID
		log.Source = storage.SourceRule
	}
	return log
}
