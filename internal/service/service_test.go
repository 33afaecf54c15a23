package service

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"testing"

	"tokoledger/backend/internal/cache"
	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/store"
	"tokoledger/backend/internal/store/memory"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	t.Setenv("SEED_ADMIN_PASSWORD", "test-admin-password")
	t.Setenv("SEED_CASHIER_PASSWORD", "test-cashier-password")
	return New(memory.NewSeeded(), cache.NoopSummaryCache{}, 0)
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})
}

func cashierCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "cashier", Role: "cashier"})
}

func TestPostSaleDecrementsStock(t *testing.T) {
	svc := newTestService(t)
	ctx := cashierCtx()

	before, err := svc.GetInventoryQuantity(ctx, "item-gula")
	if err != nil {
		t.Fatalf("quantity lookup failed: %v", err)
	}

	resp, err := svc.Post(ctx, domain.PostRequest{
		CategoryID:  "cat-sembako",
		Type:        domain.EntrySale,
		AmountCents: 356000,
		ItemID:      "item-gula",
		Quantity:    2,
	})
	if err != nil {
		t.Fatalf("post failed: %v", err)
	}
	if resp.Duplicate {
		t.Fatalf("fresh post reported as duplicate")
	}
	if resp.Entry.ID == "" || resp.Entry.RequestID == "" {
		t.Fatalf("expected generated ids, got entry=%q request=%q", resp.Entry.ID, resp.Entry.RequestID)
	}

	after, err := svc.GetInventoryQuantity(ctx, "item-gula")
	if err != nil {
		t.Fatalf("quantity lookup failed: %v", err)
	}
	if after != before-2 {
		t.Fatalf("expected quantity %d, got %d", before-2, after)
	}
}

func TestPostSaleInsufficientStockLeavesStateUntouched(t *testing.T) {
	svc := newTestService(t)
	ctx := cashierCtx()

	_, err := svc.Post(ctx, domain.PostRequest{
		CategoryID:  "cat-sembako",
		Type:        domain.EntrySale,
		AmountCents: 720000,
		ItemID:      "item-beras",
		Quantity:    41, // seeded with 40
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	qty, err := svc.GetInventoryQuantity(ctx, "item-beras")
	if err != nil {
		t.Fatalf("quantity lookup failed: %v", err)
	}
	if qty != 40 {
		t.Fatalf("failed post mutated stock: got %d, want 40", qty)
	}

	entries, err := svc.ListLedger(ctx, domain.LedgerFilter{CategoryID: "cat-sembako"})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(entries.Entries) != 0 {
		t.Fatalf("failed post left %d ledger entries", len(entries.Entries))
	}
}

func TestConcurrentSalesNeverOversell(t *testing.T) {
	svc := newTestService(t)
	ctx := cashierCtx()

	item, err := svc.CreateItem(adminCtx(), domain.ItemCreateRequest{
		Code:              "LAST-01",
		Name:              "Last Unit",
		CategoryID:        "cat-sembako",
		CostPriceCents:    10000,
		SellingPriceCents: 15000,
		InitialQuantity:   1,
	})
	if err != nil {
		t.Fatalf("create item failed: %v", err)
	}

	const attempts = 8
	results := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Post(ctx, domain.PostRequest{
				CategoryID:  "cat-sembako",
				Type:        domain.EntrySale,
				AmountCents: 15000,
				ItemID:      item.ID,
				Quantity:    1,
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var succeeded, rejected int
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, store.ErrInsufficientStock):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 || rejected != attempts-1 {
		t.Fatalf("expected 1 success and %d rejections, got %d/%d", attempts-1, succeeded, rejected)
	}

	qty, err := svc.GetInventoryQuantity(ctx, item.ID)
	if err != nil {
		t.Fatalf("quantity lookup failed: %v", err)
	}
	if qty != 0 {
		t.Fatalf("expected quantity 0, got %d", qty)
	}
}

func TestRandomPostReverseNeverDrivesStockNegative(t *testing.T) {
	svc := newTestService(t)
	ctx := cashierCtx()
	rng := rand.New(rand.NewSource(42))

	items := []struct{ id, categoryID string }{
		{"item-gula", "cat-sembako"},
		{"item-tehbotol", "cat-minuman"},
	}
	var open []domain.LedgerEntry

	for step := 0; step < 500; step++ {
		if len(open) > 0 && rng.Intn(2) == 0 {
			idx := rng.Intn(len(open))
			if err := svc.Reverse(adminCtx(), open[idx].ID); err != nil {
				t.Fatalf("step %d: reverse failed: %v", step, err)
			}
			open = append(open[:idx], open[idx+1:]...)
		} else {
			target := items[rng.Intn(len(items))]
			qty := 1 + rng.Intn(5)
			resp, err := svc.Post(ctx, domain.PostRequest{
				CategoryID:  target.categoryID,
				Type:        domain.EntrySale,
				AmountCents: int64(qty) * 1000,
				ItemID:      target.id,
				Quantity:    qty,
			})
			switch {
			case err == nil:
				open = append(open, resp.Entry)
			case errors.Is(err, store.ErrInsufficientStock):
				// A rejected sale leaves no entry behind; nothing to track.
			default:
				t.Fatalf("step %d: unexpected error: %v", step, err)
			}
		}

		for _, it := range items {
			quantity, err := svc.GetInventoryQuantity(ctx, it.id)
			if err != nil {
				t.Fatalf("step %d: quantity lookup failed: %v", step, err)
			}
			if quantity < 0 {
				t.Fatalf("step %d: item %s stock went negative: %d", step, it.id, quantity)
			}
		}
	}
}

func TestPostThenReverseRestoresState(t *testing.T) {
	svc := newTestService(t)
	ctx := cashierCtx()

	resp, err := svc.Post(ctx, domain.PostRequest{
		CategoryID:  "cat-minuman",
		Type:        domain.EntrySale,
		AmountCents: 156000,
		ItemID:      "item-tehbotol",
		Quantity:    3,
	})
	if err != nil {
		t.Fatalf("post failed: %v", err)
	}

	if err := svc.Reverse(adminCtx(), resp.Entry.ID); err != nil {
		t.Fatalf("reverse failed: %v", err)
	}

	qty, err := svc.GetInventoryQuantity(ctx, "item-tehbotol")
	if err != nil {
		t.Fatalf("quantity lookup failed: %v", err)
	}
	if qty != 120 {
		t.Fatalf("expected seeded quantity 120 restored, got %d", qty)
	}

	if _, err := svc.GetLedgerEntry(ctx, resp.Entry.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("reversed entry still readable: %v", err)
	}

	summary, err := svc.GetSummary(ctx, "cat-minuman")
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	if summary.RevenueCents != 0 || summary.ProfitCents != 0 {
		t.Fatalf("summary not restored: %+v", summary)
	}
}

func TestReverseMissingEntryReturnsNotFound(t *testing.T) {
	svc := newTestService(t)

	err := svc.Reverse(adminCtx(), "led-does-not-exist")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// Reversing twice is a failed idempotent replay, not a silent no-op.
	resp, err := svc.Post(cashierCtx(), domain.PostRequest{
		CategoryID:  "cat-sembako",
		Type:        domain.EntrySale,
		AmountCents: 178000,
		ItemID:      "item-gula",
		Quantity:    1,
	})
	if err != nil {
		t.Fatalf("post failed: %v", err)
	}
	if err := svc.Reverse(adminCtx(), resp.Entry.ID); err != nil {
		t.Fatalf("first reverse failed: %v", err)
	}
	if err := svc.Reverse(adminCtx(), resp.Entry.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("second reverse: expected ErrNotFound, got %v", err)
	}
}

func TestPostDuplicateRequestIDReplaysEntry(t *testing.T) {
	svc := newTestService(t)
	ctx := cashierCtx()

	req := domain.PostRequest{
		CategoryID:  "cat-sembako",
		Type:        domain.EntrySale,
		AmountCents: 399000,
		ItemID:      "item-minyak",
		Quantity:    1,
		RequestID:   "client-req-001",
	}

	first, err := svc.Post(ctx, req)
	if err != nil {
		t.Fatalf("first post failed: %v", err)
	}
	second, err := svc.Post(ctx, req)
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if !second.Duplicate {
		t.Fatalf("replay not flagged as duplicate")
	}
	if second.Entry.ID != first.Entry.ID {
		t.Fatalf("replay returned a different entry: %s vs %s", second.Entry.ID, first.Entry.ID)
	}

	qty, err := svc.GetInventoryQuantity(ctx, "item-minyak")
	if err != nil {
		t.Fatalf("quantity lookup failed: %v", err)
	}
	if qty != 59 {
		t.Fatalf("replay decremented stock twice: got %d, want 59", qty)
	}
}

func TestPostValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := cashierCtx()

	cases := []struct {
		name string
		req  domain.PostRequest
		want error
	}{
		{"unknown type", domain.PostRequest{CategoryID: "cat-sembako", Type: "refund", AmountCents: 100}, store.ErrInvalidRequest},
		{"zero amount", domain.PostRequest{CategoryID: "cat-sembako", Type: domain.EntrySale, AmountCents: 0, ItemID: "item-gula", Quantity: 1}, store.ErrInvalidAmount},
		{"negative amount", domain.PostRequest{CategoryID: "cat-sembako", Type: domain.EntryExpense, AmountCents: -50}, store.ErrInvalidAmount},
		{"sale without item", domain.PostRequest{CategoryID: "cat-sembako", Type: domain.EntrySale, AmountCents: 100, Quantity: 1}, store.ErrInvalidRequest},
		{"sale zero quantity", domain.PostRequest{CategoryID: "cat-sembako", Type: domain.EntrySale, AmountCents: 100, ItemID: "item-gula"}, store.ErrInvalidQuantity},
		{"expense with item", domain.PostRequest{CategoryID: "cat-sembako", Type: domain.EntryExpense, AmountCents: 100, ItemID: "item-gula"}, store.ErrInvalidRequest},
		{"missing category", domain.PostRequest{Type: domain.EntryExpense, AmountCents: 100}, store.ErrInvalidRequest},
		{"unknown category", domain.PostRequest{CategoryID: "cat-nope", Type: domain.EntryExpense, AmountCents: 100}, store.ErrNotFound},
		{"sale unknown item", domain.PostRequest{CategoryID: "cat-sembako", Type: domain.EntrySale, AmountCents: 100, ItemID: "item-nope", Quantity: 1}, store.ErrNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Post(ctx, tc.req); !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
		})
	}
}

func TestExpenseRequiresAccumulatedProfit(t *testing.T) {
	svc := newTestService(t)
	ctx := cashierCtx()

	// No revenue yet: any expense must be rejected.
	_, err := svc.Post(ctx, domain.PostRequest{
		CategoryID:  "cat-sembako",
		Type:        domain.EntryExpense,
		AmountCents: 10000,
	})
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	if _, err := svc.Post(ctx, domain.PostRequest{
		CategoryID:  "cat-sembako",
		Type:        domain.EntrySale,
		AmountCents: 100000,
		ItemID:      "item-gula",
		Quantity:    1,
	}); err != nil {
		t.Fatalf("sale failed: %v", err)
	}

	_, err = svc.Post(ctx, domain.PostRequest{
		CategoryID:  "cat-sembako",
		Type:        domain.EntryExpense,
		AmountCents: 150000,
	})
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("over-profit expense: expected ErrInsufficientFunds, got %v", err)
	}

	if _, err := svc.Post(ctx, domain.PostRequest{
		CategoryID:  "cat-sembako",
		Type:        domain.EntryExpense,
		AmountCents: 40000,
	}); err != nil {
		t.Fatalf("affordable expense failed: %v", err)
	}

	summary, err := svc.GetSummary(ctx, "cat-sembako")
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	if summary.RevenueCents != 100000 || summary.ExpenseCents != 40000 || summary.ProfitCents != 60000 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestCapitalWithdrawalRespectsCapitalHealth(t *testing.T) {
	svc := newTestService(t)

	category, err := svc.CreateCategory(adminCtx(), domain.CategoryCreateRequest{
		Name:                "Warung Kecil",
		InitialCapitalCents: 1000,
	})
	if err != nil {
		t.Fatalf("create category failed: %v", err)
	}

	ctx := cashierCtx()
	_, err = svc.Post(ctx, domain.PostRequest{
		CategoryID:  category.ID,
		Type:        domain.EntryCapitalWithdrawal,
		AmountCents: 1500,
	})
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("over-capital withdrawal: expected ErrInsufficientFunds, got %v", err)
	}

	if _, err := svc.Post(ctx, domain.PostRequest{
		CategoryID:  category.ID,
		Type:        domain.EntryCapitalWithdrawal,
		AmountCents: 200,
	}); err != nil {
		t.Fatalf("withdrawal failed: %v", err)
	}

	summary, err := svc.GetSummary(ctx, category.ID)
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	if summary.CapitalHealthCents != 800 {
		t.Fatalf("expected capital health 800, got %d", summary.CapitalHealthCents)
	}
}

func TestAdjustRewritesAmountAndRecordsNote(t *testing.T) {
	svc := newTestService(t)
	ctx := cashierCtx()

	resp, err := svc.Post(ctx, domain.PostRequest{
		CategoryID:  "cat-sembako",
		Type:        domain.EntrySale,
		AmountCents: 5000,
		ItemID:      "item-gula",
		Quantity:    1,
	})
	if err != nil {
		t.Fatalf("post failed: %v", err)
	}

	adjusted, err := svc.Adjust(adminCtx(), domain.AdjustRequest{
		EntryID:        resp.Entry.ID,
		NewAmountCents: 4000,
		Reason:         "mistyped price",
	})
	if err != nil {
		t.Fatalf("adjust failed: %v", err)
	}
	if adjusted.AmountCents != 4000 {
		t.Fatalf("expected amount 4000, got %d", adjusted.AmountCents)
	}
	if !strings.Contains(adjusted.AdjustNote, "5000") || !strings.Contains(adjusted.AdjustNote, "4000") {
		t.Fatalf("adjust note does not record superseded amount: %q", adjusted.AdjustNote)
	}

	if _, err := svc.Adjust(adminCtx(), domain.AdjustRequest{EntryID: resp.Entry.ID, NewAmountCents: 0}); !errors.Is(err, store.ErrInvalidAmount) {
		t.Fatalf("zero amount adjust: expected ErrInvalidAmount, got %v", err)
	}
	if _, err := svc.Adjust(adminCtx(), domain.AdjustRequest{EntryID: "led-nope", NewAmountCents: 100}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("missing entry adjust: expected ErrNotFound, got %v", err)
	}

	summary, err := svc.GetSummary(ctx, "cat-sembako")
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	if summary.RevenueCents != 4000 {
		t.Fatalf("summary not recomputed after adjust: %+v", summary)
	}
}

func TestCatalogWritesRequireAdminRole(t *testing.T) {
	svc := newTestService(t)

	if _, err := svc.CreateCategory(cashierCtx(), domain.CategoryCreateRequest{Name: "X", InitialCapitalCents: 0}); err == nil {
		t.Fatalf("cashier created a category")
	}
	if _, err := svc.CreateItem(cashierCtx(), domain.ItemCreateRequest{
		Code: "X-01", Name: "X", CategoryID: "cat-sembako", CostPriceCents: 1, SellingPriceCents: 1,
	}); err == nil {
		t.Fatalf("cashier created an item")
	}

	name := "Renamed"
	if _, err := svc.UpdateItem(cashierCtx(), "item-gula", domain.ItemUpdateRequest{Name: &name}); err == nil {
		t.Fatalf("cashier updated an item")
	}
	updated, err := svc.UpdateItem(adminCtx(), "item-gula", domain.ItemUpdateRequest{Name: &name})
	if err != nil {
		t.Fatalf("admin update failed: %v", err)
	}
	if updated.Name != "Renamed" || updated.Quantity != 80 {
		t.Fatalf("update changed more than catalog fields: %+v", updated)
	}
}

func TestAuditTrailRecordsMutations(t *testing.T) {
	svc := newTestService(t)
	ctx := cashierCtx()

	resp, err := svc.Post(ctx, domain.PostRequest{
		CategoryID:  "cat-sembako",
		Type:        domain.EntrySale,
		AmountCents: 178000,
		ItemID:      "item-gula",
		Quantity:    1,
	})
	if err != nil {
		t.Fatalf("post failed: %v", err)
	}
	if _, err := svc.Adjust(adminCtx(), domain.AdjustRequest{EntryID: resp.Entry.ID, NewAmountCents: 170000, Reason: "discount"}); err != nil {
		t.Fatalf("adjust failed: %v", err)
	}
	if err := svc.Reverse(adminCtx(), resp.Entry.ID); err != nil {
		t.Fatalf("reverse failed: %v", err)
	}

	logs, err := svc.ListAuditLogs(adminCtx(), "", 50)
	if err != nil {
		t.Fatalf("audit list failed: %v", err)
	}

	actions := map[string]bool{}
	for _, entry := range logs {
		actions[entry.Action] = true
	}
	for _, want := range []string{"ledger_post", "ledger_adjust", "ledger_reverse"} {
		if !actions[want] {
			t.Fatalf("audit trail missing action %s (got %v)", want, actions)
		}
	}
}

func TestListLedgerFilters(t *testing.T) {
	svc := newTestService(t)
	ctx := cashierCtx()

	if _, err := svc.Post(ctx, domain.PostRequest{CategoryID: "cat-sembako", Type: domain.EntrySale, AmountCents: 100, ItemID: "item-gula", Quantity: 1}); err != nil {
		t.Fatalf("post failed: %v", err)
	}
	if _, err := svc.Post(ctx, domain.PostRequest{CategoryID: "cat-minuman", Type: domain.EntrySale, AmountCents: 52000, ItemID: "item-tehbotol", Quantity: 1}); err != nil {
		t.Fatalf("post failed: %v", err)
	}
	if _, err := svc.Post(ctx, domain.PostRequest{CategoryID: "cat-sembako", Type: domain.EntryExpense, AmountCents: 50}); err != nil {
		t.Fatalf("post failed: %v", err)
	}

	byCategory, err := svc.ListLedger(ctx, domain.LedgerFilter{CategoryID: "cat-sembako"})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(byCategory.Entries) != 2 {
		t.Fatalf("expected 2 entries for cat-sembako, got %d", len(byCategory.Entries))
	}

	byType, err := svc.ListLedger(ctx, domain.LedgerFilter{Type: domain.EntryExpense})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(byType.Entries) != 1 || byType.Entries[0].Type != domain.EntryExpense {
		t.Fatalf("type filter failed: %+v", byType.Entries)
	}

	if _, err := svc.ListLedger(ctx, domain.LedgerFilter{Type: "refund"}); !errors.Is(err, store.ErrInvalidRequest) {
		t.Fatalf("unknown filter type: expected ErrInvalidRequest, got %v", err)
	}
}
