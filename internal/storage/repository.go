package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrListingNotFound indicates a referenced listing does not exist.
	ErrListingNotFound = errors.New("storage: listing not found")
	// ErrRuleNotFound indicates a referenced pricing rule does not exist.
	ErrRuleNotFound = errors.New("storage: pricing rule not found")
	// ErrVersionConflict indicates a concurrent run already changed the
	// listing since it was read.
	ErrVersionConflict = errors.New("storage: listing version conflict")
)

const (
	listingColumns = `id, marketplace, category, title, status, price, version, created_at, updated_at`

	getListingsSQL = `SELECT ` + listingColumns + `
    FROM listings
    WHERE id = ANY($1)
    ORDER BY id;`

	listActiveListingsSQL = `SELECT ` + listingColumns + `
    FROM listings
    WHERE status = 'active'
      AND ($1::text[] IS NULL OR marketplace = ANY($1))
      AND ($2::text[] IS NULL OR category = ANY($2))
    ORDER BY id
    LIMIT $3;`

	listCompetitorsSQL = `SELECT listing_id, price, observed_at
    FROM competitor_prices
    WHERE listing_id = ANY($1)
    ORDER BY listing_id, observed_at;`

	ruleColumns = `id, name, type, conditions, actions, safety,
        marketplaces, categories, priority, active, applied_count,
        last_applied_at, created_at, updated_at`

	getRuleSQL = `SELECT ` + ruleColumns + `
    FROM pricing_rules
    WHERE id = $1;`

	listActiveRulesSQL = `SELECT ` + ruleColumns + `
    FROM pricing_rules
    WHERE active
    ORDER BY priority DESC, id;`

	updateListingPriceSQL = `UPDATE listings
    SET price = $2, version = version + 1, updated_at = now()
    WHERE id = $1 AND version = $3;`

	listingExistsSQL = `SELECT EXISTS (SELECT 1 FROM listings WHERE id = $1);`

	insertChangeLogSQL = `INSERT INTO price_change_logs (
        id, listing_id, rule_id, old_price, new_price, change_percent,
        source, reason, platform_updated, platform_error, created_at
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11);`

	bumpRuleUsageSQL = `UPDATE pricing_rules
    SET applied_count = applied_count + 1, last_applied_at = now(), updated_at = now()
    WHERE id = $1;`

	changeLogColumns = `id, listing_id, rule_id, old_price, new_price,
        change_percent, source, reason, platform_updated, platform_error, created_at`

	listRecentChangesSQL = `SELECT ` + changeLogColumns + `
    FROM price_change_logs
    ORDER BY created_at DESC
    LIMIT $1;`

	listChangesBetweenSQL = `SELECT ` + changeLogColumns + `
    FROM price_change_logs
    WHERE created_at >= $1
      AND created_at < $2
    ORDER BY created_at;`

	markPlatformResultSQL = `UPDATE price_change_logs
    SET platform_updated = $2, platform_error = $3
    WHERE id = $1;`
)

// ListingStore defines read access to listings and their competitor
// observations.
type ListingStore interface {
	GetListings(ctx context.Context, ids []string) ([]Listing, error)
	ListActiveListings(ctx context.Context, marketplaces, categories []string, limit int) ([]Listing, error)
}

// RuleStore defines read access to pricing rule definitions.
type RuleStore interface {
	GetRule(ctx context.Context, id string) (PricingRuleRow, error)
	ListActiveRules(ctx context.Context) ([]PricingRuleRow, error)
}

// ChangeStore defines the transactional price apply and the audit queries.
type ChangeStore interface {
	ApplyPriceChange(ctx context.Context, change ApplyChange) error
	ListRecentChanges(ctx context.Context, limit int) ([]PriceChangeLog, error)
	ListChangesBetween(ctx context.Context, from, to time.Time) ([]PriceChangeLog, error)
	MarkPlatformResult(ctx context.Context, changeID string, updated bool, platformErr *string) error
}

// ApplyChange carries one accepted adjustment into the commit transaction.
type ApplyChange struct {
	ListingID       string
	ExpectedVersion int64
	NewPrice        decimal.Decimal
	Log             PriceChangeLog
}

// Store aggregates access to listings, rules, and the price change audit.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// GetListings loads the given listings with competitors attached. Missing
// ids are not an error here; callers compare the result against the request.
func (s *Store) GetListings(ctx context.Context, ids []string) ([]Listing, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, getListingsSQL, ids)
	if queryErr != nil {
		return nil, fmt.Errorf("get listings: %w", queryErr)
	}
	listings, err := collectListings(rows)
	if err != nil {
		return nil, err
	}
	if err := s.attachCompetitors(ctx, listings); err != nil {
		return nil, err
	}
	return listings, nil
}

// ListActiveListings selects active listings inside the given scope, capped
// at limit. Nil scope slices match every marketplace/category.
func (s *Store) ListActiveListings(ctx context.Context, marketplaces, categories []string, limit int) ([]Listing, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listActiveListingsSQL, textArray(marketplaces), textArray(categories), limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list active listings: %w", queryErr)
	}
	listings, err := collectListings(rows)
	if err != nil {
		return nil, err
	}
	if err := s.attachCompetitors(ctx, listings); err != nil {
		return nil, err
	}
	return listings, nil
}

func (s *Store) attachCompetitors(ctx context.Context, listings []Listing) error {
	if len(listings) == 0 {
		return nil
	}

	pool, err := s.getPool()
	if err != nil {
		return err
	}

	ids := make([]string, len(listings))
	index := make(map[string]int, len(listings))
	for i, l := range listings {
		ids[i] = l.ID
		index[l.ID] = i
	}

	rows, queryErr := pool.Query(ctx, listCompetitorsSQL, ids)
	if queryErr != nil {
		return fmt.Errorf("list competitor prices: %w", queryErr)
	}
	defer rows.Close()

	for rows.Next() {
		var cp CompetitorPrice
		var priceStr string
		if err := rows.Scan(&cp.ListingID, &priceStr, &cp.ObservedAt); err != nil {
			return err
		}
		price, convErr := decimal.NewFromString(priceStr)
		if convErr != nil {
			return fmt.Errorf("parse competitor price: %w", convErr)
		}
		cp.Price = price

		if i, ok := index[cp.ListingID]; ok {
			listings[i].Competitors = append(listings[i].Competitors, cp)
		}
	}
	return rows.Err()
}

// GetRule loads one rule row by id.
func (s *Store) GetRule(ctx context.Context, id string) (PricingRuleRow, error) {
	pool, err := s.getPool()
	if err != nil {
		return PricingRuleRow{}, err
	}

	row := pool.QueryRow(ctx, getRuleSQL, id)
	rule, scanErr := scanRule(row)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return PricingRuleRow{}, ErrRuleNotFound
		}
		return PricingRuleRow{}, fmt.Errorf("get rule: %w", scanErr)
	}
	return rule, nil
}

// ListActiveRules loads every active rule ordered by priority.
func (s *Store) ListActiveRules(ctx context.Context) ([]PricingRuleRow, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listActiveRulesSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list active rules: %w", queryErr)
	}
	defer rows.Close()

	rules := make([]PricingRuleRow, 0)
	for rows.Next() {
		rule, scanErr := scanRule(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// ApplyPriceChange commits one adjustment atomically: the listing price
// update, the audit row, and (when a rule governed the change) the rule
// usage counters. No subset of the three is ever visible alone. The listing
// update checks and increments the row version, so a concurrent run that
// already repriced the listing surfaces as ErrVersionConflict.
func (s *Store) ApplyPriceChange(ctx context.Context, change ApplyChange) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin apply transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, execErr := tx.Exec(ctx, updateListingPriceSQL,
		change.ListingID, change.NewPrice.String(), change.ExpectedVersion)
	if execErr != nil {
		return fmt.Errorf("update listing price: %w", execErr)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, listingExistsSQL, change.ListingID).Scan(&exists); err != nil {
			return fmt.Errorf("check listing existence: %w", err)
		}
		if !exists {
			return ErrListingNotFound
		}
		return ErrVersionConflict
	}

	log := change.Log
	var ruleID interface{}
	if log.RuleID != nil {
		ruleID = *log.RuleID
	}
	var platformErr interface{}
	if log.PlatformError != nil {
		platformErr = *log.PlatformError
	}

	if _, execErr := tx.Exec(ctx, insertChangeLogSQL,
		log.ID,
		log.ListingID,
		ruleID,
		log.OldPrice.String(),
		log.NewPrice.String(),
		log.ChangePercent.String(),
		log.Source,
		log.Reason,
		log.PlatformUpdated,
		platformErr,
		log.CreatedAt,
	); execErr != nil {
		return fmt.Errorf("insert price change log: %w", execErr)
	}

	if log.RuleID != nil {
		if _, execErr := tx.Exec(ctx, bumpRuleUsageSQL, *log.RuleID); execErr != nil {
			return fmt.Errorf("bump rule usage: %w", execErr)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit apply transaction: %w", err)
	}
	return nil
}

// ListRecentChanges lists the most recent audit rows.
func (s *Store) ListRecentChanges(ctx context.Context, limit int) ([]PriceChangeLog, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentChangesSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent changes: %w", queryErr)
	}
	return collectChanges(rows)
}

// ListChangesBetween lists audit rows inside a time window.
func (s *Store) ListChangesBetween(ctx context.Context, from, to time.Time) ([]PriceChangeLog, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listChangesBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list changes between: %w", queryErr)
	}
	return collectChanges(rows)
}

// MarkPlatformResult records the sync worker's delivery outcome on an audit
// row.
func (s *Store) MarkPlatformResult(ctx context.Context, changeID string, updated bool, platformErr *string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var errMsg interface{}
	if platformErr != nil {
		errMsg = *platformErr
	}
	tag, execErr := pool.Exec(ctx, markPlatformResultSQL, changeID, updated, errMsg)
	if execErr != nil {
		return fmt.Errorf("mark platform result: %w", execErr)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func collectListings(rows pgx.Rows) ([]Listing, error) {
	defer rows.Close()

	listings := make([]Listing, 0)
	for rows.Next() {
		var l Listing
		var priceStr string
		if err := rows.Scan(
			&l.ID,
			&l.Marketplace,
			&l.Category,
			&l.Title,
			&l.Status,
			&priceStr,
			&l.Version,
			&l.CreatedAt,
			&l.UpdatedAt,
		); err != nil {
			return nil, err
		}
		price, convErr := decimal.NewFromString(priceStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse listing price: %w", convErr)
		}
		l.Price = price
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

func scanRule(row pgx.Row) (PricingRuleRow, error) {
	var r PricingRuleRow
	if err := row.Scan(
		&r.ID,
		&r.Name,
		&r.Type,
		&r.Conditions,
		&r.Actions,
		&r.Safety,
		&r.Marketplaces,
		&r.Categories,
		&r.Priority,
		&r.Active,
		&r.AppliedCount,
		&r.LastAppliedAt,
		&r.CreatedAt,
		&r.UpdatedAt,
	); err != nil {
		return PricingRuleRow{}, err
	}
	return r, nil
}

func collectChanges(rows pgx.Rows) ([]PriceChangeLog, error) {
	defer rows.Close()

	changes := make([]PriceChangeLog, 0)
	for rows.Next() {
		var c PriceChangeLog
		var oldStr, newStr, pctStr string
		if err := rows.Scan(
			&c.ID,
			&c.ListingID,
			&c.RuleID,
			&oldStr,
			&newStr,
			&pctStr,
			&c.Source,
			&c.Reason,
			&c.PlatformUpdated,
			&c.PlatformError,
			&c.CreatedAt,
		); err != nil {
			return nil, err
		}

		var convErr error
		if c.OldPrice, convErr = decimal.NewFromString(oldStr); convErr != nil {
			return nil, fmt.Errorf("parse old price: %w", convErr)
		}
		if c.NewPrice, convErr = decimal.NewFromString(newStr); convErr != nil {
			return nil, fmt.Errorf("parse new price: %w", convErr)
		}
		if c.ChangePercent, convErr = decimal.NewFromString(pctStr); convErr != nil {
			return nil, fmt.Errorf("parse change percent: %w", convErr)
		}

		changes = append(changes, c)
	}
	return changes, rows.Err()
}

func textArray(values []string) interface{} {
	if len(values) == 0 {
		return nil
	}
	return values
}

var (
	_ ListingStore = (*Store)(nil)
	_ RuleStore    = (*Store)(nil)
	_ ChangeStore  = (*Store)(nil)
)
