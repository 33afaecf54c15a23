package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"tokoledger/backend/internal/cache"
	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/store"
	"tokoledger/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Service is the transactional bookkeeping engine. It validates requests,
// replays idempotent posts, and delegates the atomic unit (precondition
// check + inventory mutation + ledger write) to the repository. It is the
// sole writer of inventory quantities and ledger rows.
type Service struct {
	repo       store.Repository
	summaries  cache.SummaryCache
	summaryTTL time.Duration
}

func New(repo store.Repository, summaries cache.SummaryCache, summaryTTL time.Duration) *Service {
	if summaries == nil {
		summaries = cache.NoopSummaryCache{}
	}
	if summaryTTL <= 0 {
		summaryTTL = 30 * time.Second
	}
	return &Service{
		repo:       repo,
		summaries:  summaries,
		summaryTTL: summaryTTL,
	}
}

func (s *Service) Post(ctx context.Context, req domain.PostRequest) (domain.PostResponse, error) {
	req.CategoryID = strings.TrimSpace(req.CategoryID)
	req.Type = strings.ToLower(strings.TrimSpace(req.Type))
	req.FundSource = strings.TrimSpace(req.FundSource)
	req.Description = strings.TrimSpace(req.Description)
	req.RequestID = strings.TrimSpace(req.RequestID)
	req.ItemID = strings.TrimSpace(req.ItemID)

	if req.CategoryID == "" {
		return domain.PostResponse{}, store.ErrInvalidRequest
	}
	if !domain.ValidEntryType(req.Type) {
		return domain.PostResponse{}, fmt.Errorf("%w: unknown entry type %q", store.ErrInvalidRequest, req.Type)
	}
	if req.AmountCents < 1 {
		return domain.PostResponse{}, store.ErrInvalidAmount
	}
	if req.FundSource == "" {
		req.FundSource = "cash"
	}
	if req.Type == domain.EntrySale {
		if req.ItemID == "" {
			return domain.PostResponse{}, fmt.Errorf("%w: sale requires an inventory item", store.ErrInvalidRequest)
		}
		if req.Quantity < 1 {
			return domain.PostResponse{}, store.ErrInvalidQuantity
		}
	} else if req.ItemID != "" || req.Quantity != 0 {
		return domain.PostResponse{}, fmt.Errorf("%w: only sale entries reference inventory", store.ErrInvalidRequest)
	}
	if req.RequestID == "" {
		req.RequestID = xid.New("req")
	}

	if existing, err := s.repo.FindEntryByRequestID(ctx, req.RequestID); err == nil {
		return domain.PostResponse{Entry: *existing, Duplicate: true}, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.PostResponse{}, err
	}

	entry := domain.LedgerEntry{
		ID:          xid.New("led"),
		CategoryID:  req.CategoryID,
		ItemID:      req.ItemID,
		Quantity:    req.Quantity,
		AmountCents: req.AmountCents,
		Type:        req.Type,
		FundSource:  req.FundSource,
		Description: req.Description,
		RequestID:   req.RequestID,
		CreatedAt:   time.Now().UTC(),
	}

	posted, err := s.repo.PostEntry(ctx, entry)
	if err != nil {
		return domain.PostResponse{}, err
	}

	// A concurrent retry with the same request id can land first; the
	// store then hands back the original entry instead of a second one.
	duplicate := posted.ID != entry.ID

	s.invalidateSummary(ctx, posted.CategoryID)
	if !duplicate {
		s.logAudit(ctx, "ledger_post", "ledger_entry", posted.ID,
			fmt.Sprintf("type=%s,category=%s,amount=%d,item=%s,qty=%d", posted.Type, posted.CategoryID, posted.AmountCents, posted.ItemID, posted.Quantity))
	}

	return domain.PostResponse{Entry: *posted, Duplicate: duplicate}, nil
}

func (s *Service) Reverse(ctx context.Context, entryID string) error {
	entryID = strings.TrimSpace(entryID)
	if entryID == "" {
		return store.ErrInvalidRequest
	}

	result, err := s.repo.ReverseEntry(ctx, entryID)
	if err != nil {
		return err
	}

	s.invalidateSummary(ctx, result.Entry.CategoryID)
	s.logAudit(ctx, "ledger_reverse", "ledger_entry", result.Entry.ID,
		fmt.Sprintf("type=%s,category=%s,amount=%d,stock_restored=%t", result.Entry.Type, result.Entry.CategoryID, result.Entry.AmountCents, result.StockRestored))

	if result.Entry.Type == domain.EntrySale && !result.StockRestored {
		return fmt.Errorf("%w: item %s no longer exists, stock not restored", store.ErrItemMissing, result.Entry.ItemID)
	}
	return nil
}

func (s *Service) Adjust(ctx context.Context, req domain.AdjustRequest) (domain.LedgerEntry, error) {
	req.EntryID = strings.TrimSpace(req.EntryID)
	if req.EntryID == "" {
		return domain.LedgerEntry{}, store.ErrInvalidRequest
	}
	if req.NewAmountCents < 1 {
		return domain.LedgerEntry{}, store.ErrInvalidAmount
	}

	existing, err := s.repo.GetEntryByID(ctx, req.EntryID)
	if err != nil {
		return domain.LedgerEntry{}, err
	}

	note := fmt.Sprintf("amount %d superseded by %d at %s", existing.AmountCents, req.NewAmountCents, time.Now().UTC().Format(time.RFC3339))
	adjusted, err := s.repo.AdjustEntry(ctx, req.EntryID, req.NewAmountCents, note)
	if err != nil {
		return domain.LedgerEntry{}, err
	}

	s.invalidateSummary(ctx, adjusted.CategoryID)
	s.logAudit(ctx, "ledger_adjust", "ledger_entry", adjusted.ID,
		fmt.Sprintf("old_amount=%d,new_amount=%d,reason=%s", existing.AmountCents, adjusted.AmountCents, strings.TrimSpace(req.Reason)))

	return *adjusted, nil
}

func (s *Service) GetSummary(ctx context.Context, categoryID string) (domain.BusinessSummary, error) {
	categoryID = strings.TrimSpace(categoryID)
	if categoryID == "" {
		return domain.BusinessSummary{}, store.ErrInvalidRequest
	}

	if cached, ok, err := s.summaries.Get(ctx, categoryID); err != nil {
		log.Printf("[service] WARN: summary cache read failed for %s: %v", categoryID, err)
	} else if ok {
		return *cached, nil
	}

	summary, err := s.repo.GetSummary(ctx, categoryID)
	if err != nil {
		return domain.BusinessSummary{}, err
	}

	if err := s.summaries.Set(ctx, categoryID, &summary, s.summaryTTL); err != nil {
		log.Printf("[service] WARN: summary cache write failed for %s: %v", categoryID, err)
	}
	return summary, nil
}

func (s *Service) ListLedger(ctx context.Context, filter domain.LedgerFilter) (domain.LedgerListResponse, error) {
	filter.CategoryID = strings.TrimSpace(filter.CategoryID)
	filter.Type = strings.ToLower(strings.TrimSpace(filter.Type))
	if filter.Type != "" && !domain.ValidEntryType(filter.Type) {
		return domain.LedgerListResponse{}, fmt.Errorf("%w: unknown entry type %q", store.ErrInvalidRequest, filter.Type)
	}
	if filter.Limit < 1 {
		filter.Limit = 100
	}
	if filter.Limit > 500 {
		filter.Limit = 500
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	entries, err := s.repo.ListEntries(ctx, filter)
	if err != nil {
		return domain.LedgerListResponse{}, err
	}
	return domain.LedgerListResponse{Entries: entries}, nil
}

func (s *Service) GetLedgerEntry(ctx context.Context, entryID string) (domain.LedgerEntry, error) {
	entryID = strings.TrimSpace(entryID)
	if entryID == "" {
		return domain.LedgerEntry{}, store.ErrInvalidRequest
	}
	entry, err := s.repo.GetEntryByID(ctx, entryID)
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	return *entry, nil
}

func (s *Service) GetInventoryQuantity(ctx context.Context, itemID string) (int, error) {
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return 0, store.ErrInvalidRequest
	}
	item, err := s.repo.GetItemByID(ctx, itemID)
	if err != nil {
		return 0, err
	}
	return item.Quantity, nil
}

func (s *Service) CreateCategory(ctx context.Context, req domain.CategoryCreateRequest) (domain.Category, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Category{}, fmt.Errorf("admin role required")
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.InitialCapitalCents < 0 {
		return domain.Category{}, store.ErrInvalidRequest
	}

	category := domain.Category{
		ID:                  xid.New("cat"),
		Name:                req.Name,
		InitialCapitalCents: req.InitialCapitalCents,
		CreatedAt:           time.Now().UTC(),
	}
	created, err := s.repo.CreateCategory(ctx, category)
	if err != nil {
		return domain.Category{}, err
	}

	s.logAudit(ctx, "category_create", "category", created.ID, fmt.Sprintf("name=%s,initial_capital=%d", created.Name, created.InitialCapitalCents))
	return *created, nil
}

func (s *Service) ListCategories(ctx context.Context) ([]domain.Category, error) {
	return s.repo.ListCategories(ctx)
}

func (s *Service) CreateItem(ctx context.Context, req domain.ItemCreateRequest) (domain.InventoryItem, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.InventoryItem{}, fmt.Errorf("admin role required")
	}

	req.Code = strings.ToUpper(strings.TrimSpace(req.Code))
	req.Name = strings.TrimSpace(req.Name)
	req.CategoryID = strings.TrimSpace(req.CategoryID)
	if req.Code == "" || req.Name == "" || req.CategoryID == "" {
		return domain.InventoryItem{}, store.ErrInvalidRequest
	}
	if req.CostPriceCents < 1 || req.SellingPriceCents < 1 || req.InitialQuantity < 0 {
		return domain.InventoryItem{}, store.ErrInvalidRequest
	}
	if req.MinStock < 0 || req.MaxStock < 0 {
		return domain.InventoryItem{}, store.ErrInvalidRequest
	}

	item := domain.InventoryItem{
		ID:                xid.New("item"),
		Code:              req.Code,
		Name:              req.Name,
		CategoryID:        req.CategoryID,
		CostPriceCents:    req.CostPriceCents,
		SellingPriceCents: req.SellingPriceCents,
		Quantity:          req.InitialQuantity,
		MinStock:          req.MinStock,
		MaxStock:          req.MaxStock,
		CreatedAt:         time.Now().UTC(),
	}
	created, err := s.repo.CreateItem(ctx, item)
	if err != nil {
		return domain.InventoryItem{}, err
	}

	s.logAudit(ctx, "item_create", "inventory_item", created.ID, fmt.Sprintf("code=%s,name=%s,qty=%d", created.Code, created.Name, created.Quantity))
	return *created, nil
}

func (s *Service) UpdateItem(ctx context.Context, itemID string, req domain.ItemUpdateRequest) (domain.InventoryItem, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.InventoryItem{}, fmt.Errorf("admin role required")
	}

	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return domain.InventoryItem{}, store.ErrInvalidRequest
	}

	existing, err := s.repo.GetItemByID(ctx, itemID)
	if err != nil {
		return domain.InventoryItem{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.InventoryItem{}, store.ErrInvalidRequest
		}
		updated.Name = name
	}
	if req.CostPriceCents != nil {
		if *req.CostPriceCents < 1 {
			return domain.InventoryItem{}, store.ErrInvalidRequest
		}
		updated.CostPriceCents = *req.CostPriceCents
	}
	if req.SellingPriceCents != nil {
		if *req.SellingPriceCents < 1 {
			return domain.InventoryItem{}, store.ErrInvalidRequest
		}
		updated.SellingPriceCents = *req.SellingPriceCents
	}
	if req.MinStock != nil {
		if *req.MinStock < 0 {
			return domain.InventoryItem{}, store.ErrInvalidRequest
		}
		updated.MinStock = *req.MinStock
	}
	if req.MaxStock != nil {
		if *req.MaxStock < 0 {
			return domain.InventoryItem{}, store.ErrInvalidRequest
		}
		updated.MaxStock = *req.MaxStock
	}

	saved, err := s.repo.UpdateItem(ctx, updated)
	if err != nil {
		return domain.InventoryItem{}, err
	}

	s.logAudit(ctx, "item_update", "inventory_item", saved.ID, fmt.Sprintf("code=%s,cost=%d,price=%d", saved.Code, saved.CostPriceCents, saved.SellingPriceCents))
	return *saved, nil
}

func (s *Service) ListItems(ctx context.Context, categoryID string) ([]domain.InventoryItem, error) {
	return s.repo.ListItems(ctx, strings.TrimSpace(categoryID))
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = time.Now().UTC().Add(-24 * time.Hour)
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, store.ErrInvalidRequest
		}
		from = parsed.UTC()
	}
	to := from.Add(24 * time.Hour)

	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

func (s *Service) invalidateSummary(ctx context.Context, categoryID string) {
	if err := s.summaries.Invalidate(ctx, categoryID); err != nil {
		log.Printf("[service] WARN: summary cache invalidation failed for %s: %v", categoryID, err)
	}
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, _ := ActorFromContext(ctx)
	err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	})
	if err != nil {
		log.Printf("[service] WARN: failed to write audit log action=%s entity=%s: %v", action, entityID, err)
	}
}
