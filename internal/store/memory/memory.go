package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/projector"
	"tokoledger/backend/internal/store"
	"tokoledger/backend/internal/xid"
)

// Store keeps everything behind a single RWMutex, so every posting or
// reversal is one critical section: the precondition check, the stock
// mutation and the ledger write cannot interleave with another writer.
type Store struct {
	mu               sync.RWMutex
	categoriesByID   map[string]domain.Category
	itemsByID        map[string]domain.InventoryItem
	itemIDByCode     map[string]string
	entriesByID      map[string]domain.LedgerEntry
	entryIDByRequest map[string]string
	auditLogs        []domain.AuditLog
	usersByUsername  map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning printed to stdout. These credentials are never used in production
// (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	now := time.Now().UTC()
	categories := []domain.Category{
		{ID: "cat-sembako", Name: "Sembako", InitialCapitalCents: 10000000, CreatedAt: now},
		{ID: "cat-minuman", Name: "Minuman", InitialCapitalCents: 5000000, CreatedAt: now},
	}
	items := []domain.InventoryItem{
		{ID: "item-beras", Code: "BRS-01", Name: "Beras Premium 5kg", CategoryID: "cat-sembako", CostPriceCents: 620000, SellingPriceCents: 720000, Quantity: 40, MinStock: 10, MaxStock: 100, CreatedAt: now},
		{ID: "item-minyak", Code: "MYK-01", Name: "Minyak Goreng 2L", CategoryID: "cat-sembako", CostPriceCents: 340000, SellingPriceCents: 399000, Quantity: 60, MinStock: 15, MaxStock: 150, CreatedAt: now},
		{ID: "item-gula", Code: "GLA-01", Name: "Gula Pasir 1kg", CategoryID: "cat-sembako", CostPriceCents: 150000, SellingPriceCents: 178000, Quantity: 80, MinStock: 20, MaxStock: 200, CreatedAt: now},
		{ID: "item-tehbotol", Code: "TEH-01", Name: "Teh Botol 450ml", CategoryID: "cat-minuman", CostPriceCents: 38000, SellingPriceCents: 52000, Quantity: 120, MinStock: 24, MaxStock: 240, CreatedAt: now},
		{ID: "item-airmineral", Code: "AIR-01", Name: "Air Mineral 600ml", CategoryID: "cat-minuman", CostPriceCents: 25000, SellingPriceCents: 39000, Quantity: 150, MinStock: 48, MaxStock: 300, CreatedAt: now},
	}

	categoryMap := make(map[string]domain.Category, len(categories))
	for _, c := range categories {
		categoryMap[c.ID] = c
	}
	itemMap := make(map[string]domain.InventoryItem, len(items))
	codeIndex := make(map[string]string, len(items))
	for _, item := range items {
		itemMap[item.ID] = item
		codeIndex[item.Code] = item.ID
	}

	return &Store{
		categoriesByID:   categoryMap,
		itemsByID:        itemMap,
		itemIDByCode:     codeIndex,
		entriesByID:      make(map[string]domain.LedgerEntry),
		entryIDByRequest: make(map[string]string),
		auditLogs:        make([]domain.AuditLog, 0, 128),
		usersByUsername:  seedUsers(),
	}
}

func (s *Store) CreateCategory(_ context.Context, category domain.Category) (*domain.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if category.Name == "" || category.InitialCapitalCents < 0 {
		return nil, store.ErrInvalidRequest
	}
	if category.ID == "" {
		category.ID = xid.New("cat")
	}
	if category.CreatedAt.IsZero() {
		category.CreatedAt = time.Now().UTC()
	}
	if _, exists := s.categoriesByID[category.ID]; exists {
		return nil, store.ErrInvalidRequest
	}

	s.categoriesByID[category.ID] = category
	created := category
	return &created, nil
}

func (s *Store) GetCategoryByID(_ context.Context, id string) (*domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	category, exists := s.categoriesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyCategory := category
	return &copyCategory, nil
}

func (s *Store) ListCategories(_ context.Context) ([]domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	categories := make([]domain.Category, 0, len(s.categoriesByID))
	for _, c := range s.categoriesByID {
		categories = append(categories, c)
	}
	slices.SortFunc(categories, func(a, b domain.Category) int {
		return cmpString(a.Name, b.Name)
	})
	return categories, nil
}

func (s *Store) CreateItem(_ context.Context, item domain.InventoryItem) (*domain.InventoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.Code == "" || item.Name == "" || item.CategoryID == "" {
		return nil, store.ErrInvalidRequest
	}
	if item.CostPriceCents < 1 || item.SellingPriceCents < 1 || item.Quantity < 0 {
		return nil, store.ErrInvalidRequest
	}
	if _, exists := s.categoriesByID[item.CategoryID]; !exists {
		return nil, store.ErrNotFound
	}
	if _, exists := s.itemIDByCode[item.Code]; exists {
		return nil, fmt.Errorf("%w: code %s already in use", store.ErrInvalidRequest, item.Code)
	}
	if item.ID == "" {
		item.ID = xid.New("item")
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}

	s.itemsByID[item.ID] = item
	s.itemIDByCode[item.Code] = item.ID
	created := item
	return &created, nil
}

// UpdateItem writes catalog fields only; the stored quantity is preserved
// so stock can never be edited around the ledger.
func (s *Store) UpdateItem(_ context.Context, item domain.InventoryItem) (*domain.InventoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.itemsByID[item.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if item.Name == "" || item.CostPriceCents < 1 || item.SellingPriceCents < 1 {
		return nil, store.ErrInvalidRequest
	}

	existing.Name = item.Name
	existing.CostPriceCents = item.CostPriceCents
	existing.SellingPriceCents = item.SellingPriceCents
	existing.MinStock = item.MinStock
	existing.MaxStock = item.MaxStock
	s.itemsByID[item.ID] = existing

	updated := existing
	return &updated, nil
}

func (s *Store) GetItemByID(_ context.Context, id string) (*domain.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, exists := s.itemsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyItem := item
	return &copyItem, nil
}

func (s *Store) GetItemByCode(_ context.Context, code string) (*domain.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.itemIDByCode[code]
	if !exists {
		return nil, store.ErrNotFound
	}
	item := s.itemsByID[id]
	copyItem := item
	return &copyItem, nil
}

func (s *Store) ListItems(_ context.Context, categoryID string) ([]domain.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.InventoryItem, 0, len(s.itemsByID))
	for _, item := range s.itemsByID {
		if categoryID != "" && item.CategoryID != categoryID {
			continue
		}
		items = append(items, item)
	}
	slices.SortFunc(items, func(a, b domain.InventoryItem) int {
		return cmpString(a.Code, b.Code)
	})
	return items, nil
}

func (s *Store) PostEntry(_ context.Context, entry domain.LedgerEntry) (*domain.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.AmountCents < 1 {
		return nil, store.ErrInvalidAmount
	}
	if !domain.ValidEntryType(entry.Type) {
		return nil, store.ErrInvalidRequest
	}
	category, exists := s.categoriesByID[entry.CategoryID]
	if !exists {
		return nil, fmt.Errorf("%w: category %s", store.ErrNotFound, entry.CategoryID)
	}
	if entry.RequestID != "" {
		if existingID, seen := s.entryIDByRequest[entry.RequestID]; seen {
			existing := s.entriesByID[existingID]
			return &existing, nil
		}
	}

	switch entry.Type {
	case domain.EntrySale:
		if entry.Quantity < 1 {
			return nil, store.ErrInvalidQuantity
		}
		item, exists := s.itemsByID[entry.ItemID]
		if !exists {
			return nil, fmt.Errorf("%w: item %s", store.ErrNotFound, entry.ItemID)
		}
		if item.Quantity < entry.Quantity {
			return nil, fmt.Errorf("%w: %d available", store.ErrInsufficientStock, item.Quantity)
		}
		item.Quantity -= entry.Quantity
		s.itemsByID[item.ID] = item
	case domain.EntryExpense:
		summary := s.summarizeLocked(category)
		if summary.ProfitCents < entry.AmountCents {
			return nil, fmt.Errorf("%w: profit is %d", store.ErrInsufficientFunds, summary.ProfitCents)
		}
	case domain.EntryCapitalWithdrawal:
		summary := s.summarizeLocked(category)
		if summary.CapitalHealthCents < entry.AmountCents {
			return nil, fmt.Errorf("%w: capital health is %d", store.ErrInsufficientFunds, summary.CapitalHealthCents)
		}
	}

	if entry.ID == "" {
		entry.ID = xid.New("led")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	s.entriesByID[entry.ID] = entry
	if entry.RequestID != "" {
		s.entryIDByRequest[entry.RequestID] = entry.ID
	}

	created := entry
	return &created, nil
}

func (s *Store) ReverseEntry(_ context.Context, entryID string) (*domain.ReversalResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.entriesByID[entryID]
	if !exists {
		return nil, store.ErrNotFound
	}

	restored := true
	if entry.Type == domain.EntrySale {
		item, itemExists := s.itemsByID[entry.ItemID]
		if itemExists {
			item.Quantity += entry.Quantity
			s.itemsByID[item.ID] = item
		} else {
			restored = false
		}
	}

	delete(s.entriesByID, entryID)
	if entry.RequestID != "" {
		delete(s.entryIDByRequest, entry.RequestID)
	}

	return &domain.ReversalResult{Entry: entry, StockRestored: restored}, nil
}

func (s *Store) AdjustEntry(_ context.Context, entryID string, newAmountCents int64, note string) (*domain.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if newAmountCents < 1 {
		return nil, store.ErrInvalidAmount
	}
	entry, exists := s.entriesByID[entryID]
	if !exists {
		return nil, store.ErrNotFound
	}

	entry.AmountCents = newAmountCents
	if note != "" {
		if entry.AdjustNote != "" {
			entry.AdjustNote += "; "
		}
		entry.AdjustNote += note
	}
	s.entriesByID[entryID] = entry

	adjusted := entry
	return &adjusted, nil
}

func (s *Store) GetEntryByID(_ context.Context, entryID string) (*domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, exists := s.entriesByID[entryID]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyEntry := entry
	return &copyEntry, nil
}

func (s *Store) FindEntryByRequestID(_ context.Context, requestID string) (*domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.entryIDByRequest[requestID]
	if !exists {
		return nil, store.ErrNotFound
	}
	entry := s.entriesByID[id]
	copyEntry := entry
	return &copyEntry, nil
}

func (s *Store) ListEntries(_ context.Context, filter domain.LedgerFilter) ([]domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]domain.LedgerEntry, 0, len(s.entriesByID))
	for _, entry := range s.entriesByID {
		if filter.CategoryID != "" && entry.CategoryID != filter.CategoryID {
			continue
		}
		if filter.Type != "" && entry.Type != filter.Type {
			continue
		}
		if filter.Since != nil && entry.CreatedAt.Before(*filter.Since) {
			continue
		}
		if filter.Until != nil && !entry.CreatedAt.Before(*filter.Until) {
			continue
		}
		entries = append(entries, entry)
	}

	slices.SortFunc(entries, func(a, b domain.LedgerEntry) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(entries) {
			return []domain.LedgerEntry{}, nil
		}
		entries = entries[filter.Offset:]
	}
	limit := filter.Limit
	if limit < 1 {
		limit = 100
	}
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (s *Store) GetSummary(_ context.Context, categoryID string) (domain.BusinessSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	category, exists := s.categoriesByID[categoryID]
	if !exists {
		return domain.BusinessSummary{}, store.ErrNotFound
	}
	return s.summarizeLocked(category), nil
}

// summarizeLocked folds the ledger for one category. Callers must hold
// the mutex, which is what makes fund checks and the subsequent insert a
// single atomic unit.
func (s *Store) summarizeLocked(category domain.Category) domain.BusinessSummary {
	entries := make([]domain.LedgerEntry, 0, len(s.entriesByID))
	for _, entry := range s.entriesByID {
		if entry.CategoryID == category.ID {
			entries = append(entries, entry)
		}
	}
	return projector.Summarize(category, entries)
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 100
	}
	result := make([]domain.AuditLog, 0, limit)
	for i := len(s.auditLogs) - 1; i >= 0 && len(result) < limit; i-- {
		entry := s.auditLogs[i]
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" {
		return store.ErrInvalidRequest
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrInvalidRequest
	}
	user.Username = username
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func cmpString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
