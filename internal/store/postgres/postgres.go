package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/store"
	"tokoledger/backend/internal/xid"
)

// serializableRetries bounds how many times a posting or reversal is
// transparently re-run after a serialization failure before the conflict
// is surfaced to the caller.
const serializableRetries = 3

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS categories (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			initial_capital_cents BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS inventory_items (
			id TEXT PRIMARY KEY,
			code TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			category_id TEXT NOT NULL REFERENCES categories(id),
			cost_price_cents BIGINT NOT NULL,
			selling_price_cents BIGINT NOT NULL,
			qty INTEGER NOT NULL DEFAULT 0 CHECK (qty >= 0),
			min_stock INTEGER NOT NULL DEFAULT 0,
			max_stock INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS ledger_entries (
			id TEXT PRIMARY KEY,
			category_id TEXT NOT NULL REFERENCES categories(id),
			item_id TEXT,
			qty INTEGER,
			amount_cents BIGINT NOT NULL CHECK (amount_cents > 0),
			entry_type TEXT NOT NULL,
			fund_source TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			adjust_note TEXT NOT NULL DEFAULT '',
			request_id TEXT UNIQUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_entries_category_created
			ON ledger_entries (category_id, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS audit_logs (
			id TEXT PRIMARY KEY,
			actor_username TEXT NOT NULL DEFAULT '',
			actor_role TEXT NOT NULL DEFAULT '',
			action TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			username TEXT PRIMARY KEY,
			password TEXT NOT NULL,
			role TEXT NOT NULL,
			active BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (s *Store) CreateCategory(ctx context.Context, category domain.Category) (*domain.Category, error) {
	if category.Name == "" || category.InitialCapitalCents < 0 {
		return nil, store.ErrInvalidRequest
	}
	if category.ID == "" {
		category.ID = xid.New("cat")
	}
	if category.CreatedAt.IsZero() {
		category.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO categories (id, name, initial_capital_cents, created_at)
		VALUES ($1,$2,$3,$4)
	`, category.ID, category.Name, category.InitialCapitalCents, category.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: category name %s already in use", store.ErrInvalidRequest, category.Name)
		}
		return nil, err
	}

	created := category
	return &created, nil
}

func (s *Store) GetCategoryByID(ctx context.Context, id string) (*domain.Category, error) {
	var category domain.Category
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, initial_capital_cents, created_at
		FROM categories
		WHERE id = $1
	`, id).Scan(&category.ID, &category.Name, &category.InitialCapitalCents, &category.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	category.CreatedAt = category.CreatedAt.UTC()
	return &category, nil
}

func (s *Store) ListCategories(ctx context.Context) ([]domain.Category, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, initial_capital_cents, created_at
		FROM categories
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	categories := make([]domain.Category, 0, 16)
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.InitialCapitalCents, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.CreatedAt = c.CreatedAt.UTC()
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return categories, nil
}

func (s *Store) CreateItem(ctx context.Context, item domain.InventoryItem) (*domain.InventoryItem, error) {
	if item.Code == "" || item.Name == "" || item.CategoryID == "" {
		return nil, store.ErrInvalidRequest
	}
	if item.CostPriceCents < 1 || item.SellingPriceCents < 1 || item.Quantity < 0 {
		return nil, store.ErrInvalidRequest
	}
	if item.ID == "" {
		item.ID = xid.New("item")
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inventory_items (
			id, code, name, category_id, cost_price_cents, selling_price_cents,
			qty, min_stock, max_stock, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,now())
	`, item.ID, item.Code, item.Name, item.CategoryID, item.CostPriceCents,
		item.SellingPriceCents, item.Quantity, item.MinStock, item.MaxStock, item.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: code %s already in use", store.ErrInvalidRequest, item.Code)
		}
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("%w: category %s", store.ErrNotFound, item.CategoryID)
		}
		return nil, err
	}

	created := item
	return &created, nil
}

// UpdateItem never touches qty; stock moves only through PostEntry and
// ReverseEntry.
func (s *Store) UpdateItem(ctx context.Context, item domain.InventoryItem) (*domain.InventoryItem, error) {
	if item.Name == "" || item.CostPriceCents < 1 || item.SellingPriceCents < 1 {
		return nil, store.ErrInvalidRequest
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE inventory_items
		SET name = $2, cost_price_cents = $3, selling_price_cents = $4,
			min_stock = $5, max_stock = $6, updated_at = now()
		WHERE id = $1
		RETURNING id, code, name, category_id, cost_price_cents, selling_price_cents,
			qty, min_stock, max_stock, created_at
	`, item.ID, item.Name, item.CostPriceCents, item.SellingPriceCents, item.MinStock, item.MaxStock)

	updated, err := scanItemRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return updated, nil
}

func (s *Store) GetItemByID(ctx context.Context, id string) (*domain.InventoryItem, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, code, name, category_id, cost_price_cents, selling_price_cents,
			qty, min_stock, max_stock, created_at
		FROM inventory_items
		WHERE id = $1
	`, id)
	item, err := scanItemRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return item, nil
}

func (s *Store) GetItemByCode(ctx context.Context, code string) (*domain.InventoryItem, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, code, name, category_id, cost_price_cents, selling_price_cents,
			qty, min_stock, max_stock, created_at
		FROM inventory_items
		WHERE code = $1
	`, code)
	item, err := scanItemRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return item, nil
}

func (s *Store) ListItems(ctx context.Context, categoryID string) ([]domain.InventoryItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, code, name, category_id, cost_price_cents, selling_price_cents,
			qty, min_stock, max_stock, created_at
		FROM inventory_items
		WHERE ($1 = '' OR category_id = $1)
		ORDER BY code
	`, categoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.InventoryItem, 0, 64)
	for rows.Next() {
		var item domain.InventoryItem
		if err := rows.Scan(&item.ID, &item.Code, &item.Name, &item.CategoryID,
			&item.CostPriceCents, &item.SellingPriceCents, &item.Quantity,
			&item.MinStock, &item.MaxStock, &item.CreatedAt); err != nil {
			return nil, err
		}
		item.CreatedAt = item.CreatedAt.UTC()
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) PostEntry(ctx context.Context, entry domain.LedgerEntry) (*domain.LedgerEntry, error) {
	var posted *domain.LedgerEntry
	err := s.withSerializableRetry(ctx, func() error {
		var err error
		posted, err = s.postEntryOnce(ctx, entry)
		return err
	})
	if err != nil {
		return nil, err
	}
	return posted, nil
}

func (s *Store) postEntryOnce(ctx context.Context, entry domain.LedgerEntry) (*domain.LedgerEntry, error) {
	if entry.AmountCents < 1 {
		return nil, store.ErrInvalidAmount
	}
	if !domain.ValidEntryType(entry.Type) {
		return nil, store.ErrInvalidRequest
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var initialCapital int64
	err = pgTx.QueryRowContext(ctx, `
		SELECT initial_capital_cents
		FROM categories
		WHERE id = $1
	`, entry.CategoryID).Scan(&initialCapital)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: category %s", store.ErrNotFound, entry.CategoryID)
		}
		return nil, err
	}

	switch entry.Type {
	case domain.EntrySale:
		if entry.Quantity < 1 {
			return nil, store.ErrInvalidQuantity
		}
		var available int
		err = pgTx.QueryRowContext(ctx, `
			SELECT qty
			FROM inventory_items
			WHERE id = $1
			FOR UPDATE
		`, entry.ItemID).Scan(&available)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, fmt.Errorf("%w: item %s", store.ErrNotFound, entry.ItemID)
			}
			return nil, err
		}
		if available < entry.Quantity {
			return nil, fmt.Errorf("%w: %d available", store.ErrInsufficientStock, available)
		}
		_, err = pgTx.ExecContext(ctx, `
			UPDATE inventory_items
			SET qty = qty - $1, updated_at = now()
			WHERE id = $2
		`, entry.Quantity, entry.ItemID)
		if err != nil {
			return nil, err
		}
	case domain.EntryExpense:
		summary, err := summarizeInTx(ctx, pgTx, entry.CategoryID, initialCapital)
		if err != nil {
			return nil, err
		}
		if summary.ProfitCents < entry.AmountCents {
			return nil, fmt.Errorf("%w: profit is %d", store.ErrInsufficientFunds, summary.ProfitCents)
		}
	case domain.EntryCapitalWithdrawal:
		summary, err := summarizeInTx(ctx, pgTx, entry.CategoryID, initialCapital)
		if err != nil {
			return nil, err
		}
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

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO ledger_entries (
			id, category_id, item_id, qty, amount_cents, entry_type,
			fund_source, description, adjust_note, request_id, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, entry.ID, entry.CategoryID, nullIfEmpty(entry.ItemID), nullIfZero(entry.Quantity),
		entry.AmountCents, entry.Type, entry.FundSource, entry.Description,
		entry.AdjustNote, nullIfEmpty(entry.RequestID), entry.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) && entry.RequestID != "" {
			existing, lookupErr := s.FindEntryByRequestID(ctx, entry.RequestID)
			if lookupErr == nil {
				return existing, nil
			}
		}
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *Store) ReverseEntry(ctx context.Context, entryID string) (*domain.ReversalResult, error) {
	var result *domain.ReversalResult
	err := s.withSerializableRetry(ctx, func() error {
		var err error
		result, err = s.reverseEntryOnce(ctx, entryID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) reverseEntryOnce(ctx context.Context, entryID string) (*domain.ReversalResult, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	entry, err := scanEntry(pgTx.QueryRowContext(ctx, `
		SELECT id, category_id, item_id, qty, amount_cents, entry_type,
			fund_source, description, adjust_note, request_id, created_at
		FROM ledger_entries
		WHERE id = $1
		FOR UPDATE
	`, entryID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	restored := true
	if entry.Type == domain.EntrySale {
		res, err := pgTx.ExecContext(ctx, `
			UPDATE inventory_items
			SET qty = qty + $1, updated_at = now()
			WHERE id = $2
		`, entry.Quantity, entry.ItemID)
		if err != nil {
			return nil, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			// Item deleted out-of-band: the reversal still commits, the
			// missing restock is reported to the caller.
			restored = false
		}
	}

	if _, err := pgTx.ExecContext(ctx, `DELETE FROM ledger_entries WHERE id = $1`, entryID); err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return &domain.ReversalResult{Entry: *entry, StockRestored: restored}, nil
}

func (s *Store) AdjustEntry(ctx context.Context, entryID string, newAmountCents int64, note string) (*domain.LedgerEntry, error) {
	var adjusted *domain.LedgerEntry
	err := s.withSerializableRetry(ctx, func() error {
		var err error
		adjusted, err = s.adjustEntryOnce(ctx, entryID, newAmountCents, note)
		return err
	})
	if err != nil {
		return nil, err
	}
	return adjusted, nil
}

func (s *Store) adjustEntryOnce(ctx context.Context, entryID string, newAmountCents int64, note string) (*domain.LedgerEntry, error) {
	if newAmountCents < 1 {
		return nil, store.ErrInvalidAmount
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	entry, err := scanEntry(pgTx.QueryRowContext(ctx, `
		SELECT id, category_id, item_id, qty, amount_cents, entry_type,
			fund_source, description, adjust_note, request_id, created_at
		FROM ledger_entries
		WHERE id = $1
		FOR UPDATE
	`, entryID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	adjustNote := entry.AdjustNote
	if note != "" {
		if adjustNote != "" {
			adjustNote += "; "
		}
		adjustNote += note
	}

	_, err = pgTx.ExecContext(ctx, `
		UPDATE ledger_entries
		SET amount_cents = $2, adjust_note = $3
		WHERE id = $1
	`, entryID, newAmountCents, adjustNote)
	if err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	entry.AmountCents = newAmountCents
	entry.AdjustNote = adjustNote
	return entry, nil
}

func (s *Store) GetEntryByID(ctx context.Context, entryID string) (*domain.LedgerEntry, error) {
	entry, err := scanEntry(s.db.QueryRowContext(ctx, `
		SELECT id, category_id, item_id, qty, amount_cents, entry_type,
			fund_source, description, adjust_note, request_id, created_at
		FROM ledger_entries
		WHERE id = $1
	`, entryID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return entry, nil
}

func (s *Store) FindEntryByRequestID(ctx context.Context, requestID string) (*domain.LedgerEntry, error) {
	entry, err := scanEntry(s.db.QueryRowContext(ctx, `
		SELECT id, category_id, item_id, qty, amount_cents, entry_type,
			fund_source, description, adjust_note, request_id, created_at
		FROM ledger_entries
		WHERE request_id = $1
	`, requestID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return entry, nil
}

func (s *Store) ListEntries(ctx context.Context, filter domain.LedgerFilter) ([]domain.LedgerEntry, error) {
	limit := filter.Limit
	if limit < 1 {
		limit = 100
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT id, category_id, item_id, qty, amount_cents, entry_type,
			fund_source, description, adjust_note, request_id, created_at
		FROM ledger_entries
		WHERE ($1 = '' OR category_id = $1)
			AND ($2 = '' OR entry_type = $2)
	`
	args := []any{filter.CategoryID, filter.Type}
	if filter.Since != nil {
		args = append(args, *filter.Since)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if filter.Until != nil {
		args = append(args, *filter.Until)
		query += fmt.Sprintf(" AND created_at < $%d", len(args))
	}
	args = append(args, limit, offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.LedgerEntry, 0, limit)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) GetSummary(ctx context.Context, categoryID string) (domain.BusinessSummary, error) {
	var initialCapital int64
	err := s.db.QueryRowContext(ctx, `
		SELECT initial_capital_cents
		FROM categories
		WHERE id = $1
	`, categoryID).Scan(&initialCapital)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.BusinessSummary{}, store.ErrNotFound
		}
		return domain.BusinessSummary{}, err
	}

	summary, err := summarizeInTx(ctx, s.db, categoryID, initialCapital)
	if err != nil {
		return domain.BusinessSummary{}, err
	}
	return summary, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action,
			&entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" {
		return store.ErrInvalidRequest
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil && isUniqueViolation(err) {
		return store.ErrInvalidRequest
	}
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET password = $2
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// withSerializableRetry re-runs fn after a serialization failure, up to
// serializableRetries attempts, so concurrent postings against the same
// category do not leak transient 40001 conflicts to callers.
func (s *Store) withSerializableRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < serializableRetries; attempt++ {
		err = fn()
		if err == nil || !isSerializationFailure(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 10 * time.Millisecond):
		}
	}
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*domain.LedgerEntry, error) {
	var entry domain.LedgerEntry
	var itemID sql.NullString
	var qty sql.NullInt64
	var requestID sql.NullString
	if err := row.Scan(&entry.ID, &entry.CategoryID, &itemID, &qty, &entry.AmountCents,
		&entry.Type, &entry.FundSource, &entry.Description, &entry.AdjustNote,
		&requestID, &entry.CreatedAt); err != nil {
		return nil, err
	}
	if itemID.Valid {
		entry.ItemID = itemID.String
	}
	if qty.Valid {
		entry.Quantity = int(qty.Int64)
	}
	if requestID.Valid {
		entry.RequestID = requestID.String
	}
	entry.CreatedAt = entry.CreatedAt.UTC()
	return &entry, nil
}

func scanItemRow(row *sql.Row) (*domain.InventoryItem, error) {
	var item domain.InventoryItem
	if err := row.Scan(&item.ID, &item.Code, &item.Name, &item.CategoryID,
		&item.CostPriceCents, &item.SellingPriceCents, &item.Quantity,
		&item.MinStock, &item.MaxStock, &item.CreatedAt); err != nil {
		return nil, err
	}
	item.CreatedAt = item.CreatedAt.UTC()
	return &item, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func summarizeInTx(ctx context.Context, q queryRower, categoryID string, initialCapital int64) (domain.BusinessSummary, error) {
	var revenue, expenses, withdrawals int64
	err := q.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN entry_type = 'sale' THEN amount_cents ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN entry_type = 'expense' THEN amount_cents ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN entry_type = 'capital_withdrawal' THEN amount_cents ELSE 0 END), 0)
		FROM ledger_entries
		WHERE category_id = $1
	`, categoryID).Scan(&revenue, &expenses, &withdrawals)
	if err != nil {
		return domain.BusinessSummary{}, err
	}

	return domain.BusinessSummary{
		CategoryID:         categoryID,
		RevenueCents:       revenue,
		ExpenseCents:       expenses,
		ProfitCents:        revenue - expenses,
		CapitalHealthCents: initialCapital - withdrawals,
	}, nil
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullIfZero(value int) any {
	if value == 0 {
		return nil
	}
	return value
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "40001"
}
