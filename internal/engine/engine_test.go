package engine

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sort"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"marketplace-repricer/internal/dispatch"
	"marketplace-repricer/internal/storage"
)

type fakeStore struct {
	listings map[string]*storage.Listing
	rules    map[string]storage.PricingRuleRow
	applies  []storage.ApplyChange
	logs     []storage.PriceChangeLog
	failWith map[string]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		listings: make(map[string]*storage.Listing),
		rules:    make(map[string]storage.PricingRuleRow),
		failWith: make(map[string]error),
	}
}

func (f *fakeStore) addListing(id, marketplace string, price float64, competitors ...float64) {
	l := &storage.Listing{
		ID:          id,
		Marketplace: marketplace,
		Title:       "listing " + id,
		Status:      storage.ListingStatusActive,
		Price:       decimal.NewFromFloat(price),
	}
	for _, c := range competitors {
		l.Competitors = append(l.Competitors, storage.CompetitorPrice{
			ListingID: id,
			Price:     decimal.NewFromFloat(c),
		})
	}
	f.listings[id] = l
}

func (f *fakeStore) GetListings(ctx context.Context, ids []string) ([]storage.Listing, error) {
	out := make([]storage.Listing, 0, len(ids))
	for _, id := range ids {
		if l, ok := f.listings[id]; ok {
			out = append(out, *l)
		}
	}
	return out, nil
}

func (f *fakeStore) ListActiveListings(ctx context.Context, marketplaces, categories []string, limit int) ([]storage.Listing, error) {
	ids := make([]string, 0, len(f.listings))
	for id := range f.listings {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]storage.Listing, 0)
	for _, id := range ids {
		l := f.listings[id]
		if l.Status != storage.ListingStatusActive {
			continue
		}
		if len(marketplaces) > 0 && !contains(marketplaces, l.Marketplace) {
			continue
		}
		if len(categories) > 0 && !contains(categories, l.Category) {
			continue
		}
		out = append(out, *l)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) GetRule(ctx context.Context, id string) (storage.PricingRuleRow, error) {
	row, ok := f.rules[id]
	if !ok {
		return storage.PricingRuleRow{}, storage.ErrRuleNotFound
	}
	return row, nil
}

func (f *fakeStore) ListActiveRules(ctx context.Context) ([]storage.PricingRuleRow, error) {
	ids := make([]string, 0, len(f.rules))
	for id := range f.rules {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]storage.PricingRuleRow, 0)
	for _, id := range ids {
		if f.rules[id].Active {
			out = append(out, f.rules[id])
		}
	}
	return out, nil
}

func (f *fakeStore) ApplyPriceChange(ctx context.Context, change storage.ApplyChange) error {
	if err, ok := f.failWith[change.ListingID]; ok {
		return err
	}

	l, ok := f.listings[change.ListingID]
	if !ok {
		return storage.ErrListingNotFound
	}
	if l.Version != change.ExpectedVersion {
		return storage.ErrVersionConflict
	}

	l.Price = change.NewPrice
	l.Version++
	f.applies = append(f.applies, change)
	f.logs = append(f.logs, change.Log)
	return nil
}

func (f *fakeStore) ListRecentChanges(ctx context.Context, limit int) ([]storage.PriceChangeLog, error) {
	return f.logs, nil
}

func (f *fakeStore) ListChangesBetween(ctx context.Context, from, to time.Time) ([]storage.PriceChangeLog, error) {
	return f.logs, nil
}

func (f *fakeStore) MarkPlatformResult(ctx context.Context, changeID string, updated bool, platformErr *string) error {
	return nil
}

type fakeDispatcher struct {
	tasks   []dispatch.Task
	failErr error
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, task dispatch.Task) error {
	if f.failErr != nil {
		return f.failErr
	}
	f.tasks = append(f.tasks, task)
	return nil
}

func (f *fakeDispatcher) Close() {}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}

var (
	_ storage.ListingStore = (*fakeStore)(nil)
	_ storage.RuleStore    = (*fakeStore)(nil)
	_ storage.ChangeStore  = (*fakeStore)(nil)
	_ dispatch.Dispatcher  = (*fakeDispatcher)(nil)
)

func newTestController(store *fakeStore, dispatcher dispatch.Dispatcher) *Controller {
	return NewController(store, store, store, dispatcher, 100, zerolog.Nop())
}

func undercutRule(id string, priority int, marketplaces ...string) storage.PricingRuleRow {
	return storage.PricingRuleRow{
		ID:           id,
		Name:         "rule " + id,
		Type:         "competitor-follow",
		Actions:      json.RawMessage(`[{"type":"undercut","value":5}]`),
		Marketplaces: marketplaces,
		Priority:     priority,
		Active:       true,
	}
}

func TestDryRunIsSideEffectFree(t *testing.T) {
	store := newFakeStore()
	store.addListing("l1", "amazon", 100, 95)
	store.addListing("l2", "amazon", 50)
	dispatcher := &fakeDispatcher{}

	controller := newTestController(store, dispatcher)
	req := Request{DryRun: true}

	first, err := controller.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("dry run 不应失败: %v", err)
	}
	second, err := controller.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("dry run 不应失败: %v", err)
	}

	if !reflect.DeepEqual(first.Adjustments, second.Adjustments) {
		t.Fatalf("两次 dry run 结果应一致:\n%+v\n%+v", first.Adjustments, second.Adjustments)
	}
	if first.Applied {
		t.Fatal("dry run 的 Applied 应为 false")
	}
	if len(store.logs) != 0 {
		t.Fatalf("dry run 不应写审计: %+v", store.logs)
	}
	if len(dispatcher.tasks) != 0 {
		t.Fatalf("dry run 不应派发任务: %+v", dispatcher.tasks)
	}
	if !store.listings["l1"].Price.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("dry run 不应改价: %s", store.listings["l1"].Price)
	}
}

func TestDryRunSucceedsWithZeroAdjustments(t *testing.T) {
	store := newFakeStore()
	store.addListing("l1", "amazon", 100, 150)

	result, err := newTestController(store, &fakeDispatcher{}).Execute(context.Background(), Request{DryRun: true})
	if err != nil {
		t.Fatalf("空结果的 dry run 也应成功: %v", err)
	}
	if result.Count != 0 {
		t.Fatalf("不应有 adjustment: %+v", result.Adjustments)
	}
}

func TestApplyCommitsAuditsAndDispatches(t *testing.T) {
	store := newFakeStore()
	store.addListing("l1", "amazon", 100, 95)
	store.rules["r1"] = undercutRule("r1", 1)
	dispatcher := &fakeDispatcher{}

	result, err := newTestController(store, dispatcher).Execute(context.Background(), Request{RuleID: "r1"})
	if err != nil {
		t.Fatalf("apply 失败: %v", err)
	}

	if result.AppliedCount != 1 {
		t.Fatalf("期望 1 次应用, 实际 %d", result.AppliedCount)
	}
	if !store.listings["l1"].Price.Equal(decimal.NewFromFloat(90.25)) {
		t.Fatalf("listing 价格应为 90.25, 实际 %s", store.listings["l1"].Price)
	}
	if store.listings["l1"].Version != 1 {
		t.Fatalf("版本应递增, 实际 %d", store.listings["l1"].Version)
	}

	if len(store.logs) != 1 {
		t.Fatalf("应写入 1 条审计, 实际 %d", len(store.logs))
	}
	log := store.logs[0]
	if log.Source != storage.SourceRule || log.RuleID == nil || *log.RuleID != "r1" {
		t.Fatalf("审计应记录规则来源: %+v", log)
	}
	if log.NewPrice.Sub(log.OldPrice).Abs().LessThanOrEqual(decimal.NewFromFloat(0.01)) {
		t.Fatalf("审计行违反 epsilon 不变式: %+v", log)
	}

	if len(dispatcher.tasks) != 1 {
		t.Fatalf("应派发 1 个同步任务, 实际 %d", len(dispatcher.tasks))
	}
	task := dispatcher.tasks[0]
	if task.ListingID != "l1" || !task.NewPrice.Equal(decimal.NewFromFloat(90.25)) {
		t.Fatalf("任务内容不正确: %+v", task)
	}
}

func TestPartialFailureIsIsolated(t *testing.T) {
	store := newFakeStore()
	store.addListing("l1", "amazon", 100, 90)
	store.addListing("l2", "amazon", 100, 90)
	store.addListing("l3", "amazon", 100, 90)
	store.failWith["l2"] = storage.ErrVersionConflict
	dispatcher := &fakeDispatcher{}

	result, err := newTestController(store, dispatcher).Execute(context.Background(), Request{
		ListingIDs: []string{"l1", "l2", "l3"},
	})
	if err != nil {
		t.Fatalf("单项失败不应使整轮失败: %v", err)
	}

	if result.AppliedCount != 2 {
		t.Fatalf("期望 2 次应用, 实际 %d", result.AppliedCount)
	}
	if result.FailedCount() != 1 || result.Failures[0].ListingID != "l2" {
		t.Fatalf("失败项报告不正确: %+v", result.Failures)
	}
	if !store.listings["l2"].Price.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("失败 listing 的价格不应改变: %s", store.listings["l2"].Price)
	}
	if len(dispatcher.tasks) != 2 {
		t.Fatalf("只应为提交成功的变更派发任务: %+v", dispatcher.tasks)
	}
}

func TestDispatchFailureDoesNotRollBack(t *testing.T) {
	store := newFakeStore()
	store.addListing("l1", "amazon", 100, 90)
	dispatcher := &fakeDispatcher{failErr: errors.New("queue unavailable")}

	result, err := newTestController(store, dispatcher).Execute(context.Background(), Request{
		ListingIDs: []string{"l1"},
	})
	if err != nil {
		t.Fatalf("派发失败不应使整轮失败: %v", err)
	}

	if result.AppliedCount != 1 || result.FailedCount() != 0 {
		t.Fatalf("已提交的变更应保持有效: %+v", result)
	}
	if !store.listings["l1"].Price.Equal(decimal.NewFromFloat(85.5)) {
		t.Fatalf("价格应保持提交后的值, 实际 %s", store.listings["l1"].Price)
	}
}

func TestUnknownListingRejectedBeforePlanning(t *testing.T) {
	store := newFakeStore()
	store.addListing("l1", "amazon", 100, 90)
	dispatcher := &fakeDispatcher{}

	_, err := newTestController(store, dispatcher).Execute(context.Background(), Request{
		ListingIDs: []string{"l1", "ghost"},
	})
	if err == nil {
		t.Fatal("未知 listing id 应直接报错")
	}
	if len(store.logs) != 0 || len(dispatcher.tasks) != 0 {
		t.Fatal("校验失败后不应有任何副作用")
	}
}

func TestMissingOrInactiveRuleRejected(t *testing.T) {
	store := newFakeStore()
	store.addListing("l1", "amazon", 100, 90)

	if _, err := newTestController(store, &fakeDispatcher{}).Execute(context.Background(), Request{RuleID: "ghost"}); err == nil {
		t.Fatal("不存在的规则应报错")
	}

	inactive := undercutRule("r1", 1)
	inactive.Active = false
	store.rules["r1"] = inactive
	if _, err := newTestController(store, &fakeDispatcher{}).Execute(context.Background(), Request{RuleID: "r1"}); err == nil {
		t.Fatal("停用的规则应报错")
	}
}

func TestRerunAfterApplyProposesNothing(t *testing.T) {
	store := newFakeStore()
	store.addListing("l1", "amazon", 100, 95)
	store.rules["r1"] = undercutRule("r1", 1)
	controller := newTestController(store, &fakeDispatcher{})

	first, err := controller.Execute(context.Background(), Request{RuleID: "r1"})
	if err != nil || first.AppliedCount != 1 {
		t.Fatalf("首轮应应用 1 次: %+v, err=%v", first, err)
	}

	// Competitor data unchanged: the new current price equals the prior
	// candidate, so the second run is a no-op.
	second, err := controller.Execute(context.Background(), Request{RuleID: "r1"})
	if err != nil {
		t.Fatalf("次轮不应失败: %v", err)
	}
	if second.Count != 0 || second.AppliedCount != 0 {
		t.Fatalf("次轮不应再产生 adjustment: %+v", second.Adjustments)
	}
}

func TestPerListingRuleSelectionByPriorityAndScope(t *testing.T) {
	store := newFakeStore()
	store.addListing("l1", "amazon", 100, 95)
	store.addListing("l2", "etsy", 100, 95)
	store.rules["low"] = undercutRule("low", 1, "amazon")
	store.rules["high"] = undercutRule("high", 9, "amazon")

	result, err := newTestController(store, &fakeDispatcher{}).Execute(context.Background(), Request{DryRun: true})
	if err != nil {
		t.Fatalf("运行失败: %v", err)
	}

	byListing := make(map[string]string)
	for _, adj := range result.Adjustments {
		byListing[adj.ListingID] = adj.RuleID
	}
	if byListing["l1"] != "high" {
		t.Fatalf("l1 应由最高优先级规则治理, 实际 %q", byListing["l1"])
	}
	if byListing["l2"] != "" {
		t.Fatalf("范围外的 l2 应回落到默认启发式, 实际 %q", byListing["l2"])
	}
}

func TestCancelledContextMarksRemainingAsFailed(t *testing.T) {
	store := newFakeStore()
	store.addListing("l1", "amazon", 100, 90)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := newTestController(store, &fakeDispatcher{}).Execute(ctx, Request{ListingIDs: []string{"l1"}})
	if err != nil {
		t.Fatalf("取消的运行仍应产出结果: %v", err)
	}
	if result.AppliedCount != 0 || result.FailedCount() != 1 {
		t.Fatalf("取消后应报告失败项: %+v", result)
	}
	if !store.listings["l1"].Price.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("取消后不应改价: %s", store.listings["l1"].Price)
	}
}
