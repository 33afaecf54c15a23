package store

import (
	"context"
	"errors"
	"time"

	"tokoledger/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidQuantity   = errors.New("invalid quantity")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrItemMissing       = errors.New("inventory item missing")
)

// Repository is the persistence contract shared by the postgres and
// in-memory stores. PostEntry, ReverseEntry and AdjustEntry each commit as
// a single atomic unit: precondition checks, the inventory mutation and
// the ledger write either all apply or none do.
type Repository interface {
	CreateCategory(ctx context.Context, category domain.Category) (*domain.Category, error)
	GetCategoryByID(ctx context.Context, id string) (*domain.Category, error)
	ListCategories(ctx context.Context) ([]domain.Category, error)

	CreateItem(ctx context.Context, item domain.InventoryItem) (*domain.InventoryItem, error)
	UpdateItem(ctx context.Context, item domain.InventoryItem) (*domain.InventoryItem, error)
	GetItemByID(ctx context.Context, id string) (*domain.InventoryItem, error)
	GetItemByCode(ctx context.Context, code string) (*domain.InventoryItem, error)
	ListItems(ctx context.Context, categoryID string) ([]domain.InventoryItem, error)

	PostEntry(ctx context.Context, entry domain.LedgerEntry) (*domain.LedgerEntry, error)
	ReverseEntry(ctx context.Context, entryID string) (*domain.ReversalResult, error)
	AdjustEntry(ctx context.Context, entryID string, newAmountCents int64, note string) (*domain.LedgerEntry, error)
	GetEntryByID(ctx context.Context, entryID string) (*domain.LedgerEntry, error)
	FindEntryByRequestID(ctx context.Context, requestID string) (*domain.LedgerEntry, error)
	ListEntries(ctx context.Context, filter domain.LedgerFilter) ([]domain.LedgerEntry, error)

	GetSummary(ctx context.Context, categoryID string) (domain.BusinessSummary, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
