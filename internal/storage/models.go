package storage

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Listing is a marketplace offer with its competitor observations attached
// at read time. Version backs the optimistic concurrency check on price
// updates.
type Listing struct {
	ID          string
	Marketplace string
	Category    string
	Title       string
	Status      string
	Price       decimal.Decimal
	Version     int64
	Competitors []CompetitorPrice
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CompetitorPrice is one externally observed price for a comparable listing.
// Freshness is not checked here; whatever is present is treated as ground
// truth.
type CompetitorPrice struct {
	ListingID  string
	Price      decimal.Decimal
	ObservedAt time.Time
}

const ListingStatusActive = "active"

// PricingRuleRow is the stored form of a rule. Condition/action/safety
// specifications stay raw here and are parsed once by the pricing package.
type PricingRuleRow struct {
	ID            string
	Name          string
	Type          string
	Conditions    json.RawMessage
	Actions       json.RawMessage
	Safety        json.RawMessage
	Marketplaces  []string
	Categories    []string
	Priority      int
	Active        bool
	AppliedCount  int64
	LastAppliedAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// PriceChangeLog is an append-only audit record of one applied price change.
// PlatformUpdated and PlatformError are written later by the external
// platform-sync worker, never by this process.
type PriceChangeLog struct {
	ID              string
	ListingID       string
	RuleID          *string
	OldPrice        decimal.Decimal
	NewPrice        decimal.Decimal
	ChangePercent   decimal.Decimal
	Source          string
	Reason          string
	PlatformUpdated bool
	PlatformError   *string
	CreatedAt       time.Time
}

// Price change sources.
const (
	SourceAuto   = "auto"
	SourceRule   = "rule"
	SourceManual = "manual"
)
