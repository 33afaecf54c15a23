package domain

import "time"

// Entry types recognized by the ledger. Capital withdrawals are always
// recorded under the single canonical name "capital_withdrawal".
const (
	EntrySale              = "sale"
	EntryExpense           = "expense"
	EntryCapitalWithdrawal = "capital_withdrawal"
)

type Category struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	InitialCapitalCents int64     `json:"initial_capital_cents"`
	CreatedAt           time.Time `json:"created_at"`
}

type CategoryCreateRequest struct {
	Name                string `json:"name"`
	InitialCapitalCents int64  `json:"initial_capital_cents"`
}

type InventoryItem struct {
	ID                string    `json:"id"`
	Code              string    `json:"code"`
	Name              string    `json:"name"`
	CategoryID        string    `json:"category_id"`
	CostPriceCents    int64     `json:"cost_price_cents"`
	SellingPriceCents int64     `json:"selling_price_cents"`
	Quantity          int       `json:"quantity"`
	MinStock          int       `json:"min_stock"`
	MaxStock          int       `json:"max_stock"`
	CreatedAt         time.Time `json:"created_at"`
}

type ItemCreateRequest struct {
	Code              string `json:"code"`
	Name              string `json:"name"`
	CategoryID        string `json:"category_id"`
	CostPriceCents    int64  `json:"cost_price_cents"`
	SellingPriceCents int64  `json:"selling_price_cents"`
	InitialQuantity   int    `json:"initial_quantity"`
	MinStock          int    `json:"min_stock"`
	MaxStock          int    `json:"max_stock"`
}

// ItemUpdateRequest covers catalog fields only. Quantity is never written
// through this path; stock moves exclusively via ledger posting and
// reversal.
type ItemUpdateRequest struct {
	Name              *string `json:"name,omitempty"`
	CostPriceCents    *int64  `json:"cost_price_cents,omitempty"`
	SellingPriceCents *int64  `json:"selling_price_cents,omitempty"`
	MinStock          *int    `json:"min_stock,omitempty"`
	MaxStock          *int    `json:"max_stock,omitempty"`
}

type LedgerEntry struct {
	ID          string    `json:"id"`
	CategoryID  string    `json:"category_id"`
	ItemID      string    `json:"item_id,omitempty"`
	Quantity    int       `json:"quantity,omitempty"`
	AmountCents int64     `json:"amount_cents"`
	Type        string    `json:"type"`
	FundSource  string    `json:"fund_source"`
	Description string    `json:"description,omitempty"`
	AdjustNote  string    `json:"adjust_note,omitempty"`
	RequestID   string    `json:"request_id"`
	CreatedAt   time.Time `json:"created_at"`
}

type PostRequest struct {
	CategoryID  string `json:"category_id"`
	Type        string `json:"type"`
	AmountCents int64  `json:"amount_cents"`
	FundSource  string `json:"fund_source"`
	Description string `json:"description,omitempty"`
	RequestID   string `json:"request_id,omitempty"`
	ItemID      string `json:"item_id,omitempty"`
	Quantity    int    `json:"quantity,omitempty"`
}

type PostResponse struct {
	Entry     LedgerEntry `json:"entry"`
	Duplicate bool        `json:"duplicate"`
}

type AdjustRequest struct {
	EntryID        string `json:"entry_id"`
	NewAmountCents int64  `json:"new_amount_cents"`
	Reason         string `json:"reason,omitempty"`
	ManagerPIN     string `json:"manager_pin,omitempty"`
}

type ReverseRequest struct {
	EntryID    string `json:"entry_id"`
	ManagerPIN string `json:"manager_pin,omitempty"`
}

type LedgerFilter struct {
	CategoryID string     `json:"category_id,omitempty"`
	Type       string     `json:"type,omitempty"`
	Since      *time.Time `json:"since,omitempty"`
	Until      *time.Time `json:"until,omitempty"`
	Limit      int        `json:"limit,omitempty"`
	Offset     int        `json:"offset,omitempty"`
}

type LedgerListResponse struct {
	Entries []LedgerEntry `json:"entries"`
}

// BusinessSummary is derived from the ledger; it is never stored
// authoritatively or hand-edited.
type BusinessSummary struct {
	CategoryID         string `json:"category_id"`
	RevenueCents       int64  `json:"revenue_cents"`
	ExpenseCents       int64  `json:"expense_cents"`
	ProfitCents        int64  `json:"profit_cents"`
	CapitalHealthCents int64  `json:"capital_health_cents"`
}

// ReversalResult reports what a committed reversal actually did.
// StockRestored is false for sale entries whose inventory item was deleted
// out-of-band; callers surface that condition instead of swallowing it.
type ReversalResult struct {
	Entry         LedgerEntry `json:"entry"`
	StockRestored bool        `json:"stock_restored"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

func ValidEntryType(t string) bool {
	switch t {
	case EntrySale, EntryExpense, EntryCapitalWithdrawal:
		return true
	}
	return false
}
