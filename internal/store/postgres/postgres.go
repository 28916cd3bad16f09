package postgres

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"posledger/internal/domain"
	"posledger/internal/store"
	"posledger/internal/xid"
)

//go:embed migrations/*.sql
var migrations embed.FS

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

	return &Store{db: db}, nil
}

// Migrate applies the embedded schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.UpContext(ctx, s.db, "migrations")
}

func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

const categoryColumns = `id, name, enabled, in_orders, created_at`

func scanCategory(row rowScanner) (domain.Category, error) {
	var c domain.Category
	err := row.Scan(&c.ID, &c.Name, &c.Enabled, &c.InOrders, &c.CreatedAt)
	c.CreatedAt = c.CreatedAt.UTC()
	return c, err
}

func (s *Store) ListCategories(ctx context.Context) ([]domain.Category, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+categoryColumns+` FROM categories ORDER BY created_at, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Category, 0, 16)
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) GetCategory(ctx context.Context, id string) (*domain.Category, error) {
	c, err := scanCategory(s.db.QueryRowContext(ctx, `SELECT `+categoryColumns+` FROM categories WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *Store) CreateCategory(ctx context.Context, category domain.Category) (*domain.Category, error) {
	if category.ID == "" {
		category.ID = xid.New("cat")
	}
	if category.CreatedAt.IsZero() {
		category.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO categories (id, name, enabled, in_orders, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, category.ID, category.Name, category.Enabled, category.InOrders, category.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	return &category, nil
}

func (s *Store) UpdateCategory(ctx context.Context, category domain.Category) (*domain.Category, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE categories SET name = $2, enabled = $3, in_orders = $4
		WHERE id = $1
	`, category.ID, category.Name, category.Enabled, category.InOrders)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	if err := expectAffected(res); err != nil {
		return nil, err
	}
	return &category, nil
}

func (s *Store) DeleteCategory(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM categories WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

const productColumns = `id, name, category, purchase_price, sales_price, remaining_stock, total_stock, created_at`

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.Name, &p.Category, &p.PurchasePrice, &p.SalesPrice, &p.RemainingStock, &p.TotalStock, &p.CreatedAt)
	p.CreatedAt = p.CreatedAt.UTC()
	return p, err
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products ORDER BY category, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" || product.Category == "" || product.RemainingStock < 0 {
		return nil, store.ErrInvalidTransaction
	}
	if product.ID == "" {
		product.ID = xid.New("menu")
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, product.ID, product.Name, product.Category, product.PurchasePrice, product.SalesPrice,
		product.RemainingStock, product.TotalStock, product.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidTransaction
		}
		return nil, err
	}
	return &product, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, `
		UPDATE products
		SET name = $2, category = $3, purchase_price = $4, sales_price = $5
		WHERE id = $1
		RETURNING `+productColumns,
		product.ID, product.Name, product.Category, product.PurchasePrice, product.SalesPrice))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (s *Store) AdjustStock(ctx context.Context, record domain.InventoryRecord) (*domain.InventoryRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	applied, err := applyStock(ctx, tx, record)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &applied, nil
}

// applyStock moves stock with a single clamped UPDATE and appends the record.
// Returns store.ErrNotFound when the product is gone.
func applyStock(ctx context.Context, tx *sql.Tx, record domain.InventoryRecord) (domain.InventoryRecord, error) {
	var name string
	err := tx.QueryRowContext(ctx, `
		UPDATE products
		SET remaining_stock = GREATEST(remaining_stock + $2, 0)
		WHERE id = $1
		RETURNING name, remaining_stock
	`, record.ProductID, record.Adjustment).Scan(&name, &record.AfterStock)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return record, store.ErrNotFound
		}
		return record, err
	}
	if record.ID == "" {
		record.ID = xid.New("inv")
	}
	if record.ProductName == "" {
		record.ProductName = name
	}
	if err := insertRecord(ctx, tx, record); err != nil {
		return record, err
	}
	return record, nil
}

func insertRecord(ctx context.Context, tx *sql.Tx, record domain.InventoryRecord) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO inventory_records (id, product_id, product_name, type, reason, adjustment, after_stock, order_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, record.ID, record.ProductID, record.ProductName, record.Type, record.Reason,
		record.Adjustment, record.AfterStock, nullIfEmpty(record.OrderID), record.Timestamp)
	return err
}

func (s *Store) ResetStock(ctx context.Context, productID string, quantity int, record domain.InventoryRecord) (*domain.Product, *domain.InventoryRecord, error) {
	if quantity < 0 {
		return nil, nil, store.ErrInvalidTransaction
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var before int
	err = tx.QueryRowContext(ctx, `SELECT remaining_stock FROM products WHERE id = $1 FOR UPDATE`, productID).Scan(&before)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, store.ErrNotFound
		}
		return nil, nil, err
	}
	p, err := scanProduct(tx.QueryRowContext(ctx, `
		UPDATE products SET remaining_stock = $2, total_stock = $2
		WHERE id = $1
		RETURNING `+productColumns, productID, quantity))
	if err != nil {
		return nil, nil, err
	}

	if record.ID == "" {
		record.ID = xid.New("inv")
	}
	record.ProductID = p.ID
	record.ProductName = p.Name
	record.Type = domain.InventoryReset
	record.Adjustment = quantity - before
	record.AfterStock = quantity
	if err := insertRecord(ctx, tx, record); err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return &p, &record, nil
}

func (s *Store) ResetAllStock(ctx context.Context, reason string, at time.Time) ([]domain.InventoryRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		WITH prev AS (
			SELECT id, remaining_stock FROM products
			WHERE remaining_stock <> total_stock
			FOR UPDATE
		)
		UPDATE products p
		SET remaining_stock = p.total_stock
		FROM prev
		WHERE p.id = prev.id
		RETURNING p.id, p.name, p.total_stock - prev.remaining_stock, p.total_stock
	`)
	if err != nil {
		return nil, err
	}
	var records []domain.InventoryRecord
	for rows.Next() {
		rec := domain.InventoryRecord{
			ID:        xid.New("inv"),
			Type:      domain.InventoryReset,
			Reason:    reason,
			Timestamp: at,
		}
		if err := rows.Scan(&rec.ProductID, &rec.ProductName, &rec.Adjustment, &rec.AfterStock); err != nil {
			_ = rows.Close()
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	for _, rec := range records {
		if err := insertRecord(ctx, tx, rec); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return records, nil
}

func (s *Store) ListInventoryRecords(ctx context.Context, query domain.InventoryQuery) ([]domain.InventoryRecord, error) {
	var (
		where []string
		args  []any
	)
	if query.ProductID != "" {
		args = append(args, query.ProductID)
		where = append(where, fmt.Sprintf("product_id = $%d", len(args)))
	}
	if query.Type != "" {
		args = append(args, query.Type)
		where = append(where, fmt.Sprintf("type = $%d", len(args)))
	}
	sqlText := `SELECT id, product_id, product_name, type, reason, adjustment, after_stock, COALESCE(order_id, ''), created_at FROM inventory_records`
	if len(where) > 0 {
		sqlText += " WHERE " + strings.Join(where, " AND ")
	}
	sqlText += " ORDER BY created_at DESC, id DESC"
	if query.Limit > 0 {
		args = append(args, query.Limit)
		sqlText += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.InventoryRecord, 0, 64)
	for rows.Next() {
		var r domain.InventoryRecord
		if err := rows.Scan(&r.ID, &r.ProductID, &r.ProductName, &r.Type, &r.Reason, &r.Adjustment, &r.AfterStock, &r.OrderID, &r.Timestamp); err != nil {
			return nil, err
		}
		r.Timestamp = r.Timestamp.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

const orderColumns = `id, items, total_amount, discount, final_amount, payment_method, status, is_expense, purchase_total, memo, change_logs, created_at`

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		o          domain.Order
		itemsRaw   []byte
		changesRaw []byte
	)
	err := row.Scan(&o.ID, &itemsRaw, &o.TotalAmount, &o.Discount, &o.FinalAmount, &o.PaymentMethod,
		&o.Status, &o.IsExpense, &o.PurchaseTotal, &o.Memo, &changesRaw, &o.Timestamp)
	if err != nil {
		return o, err
	}
	o.Timestamp = o.Timestamp.UTC()
	if err := json.Unmarshal(itemsRaw, &o.Items); err != nil {
		return o, fmt.Errorf("decode order items %s: %w", o.ID, err)
	}
	if o.Items == nil {
		o.Items = []domain.OrderLine{}
	}
	if err := json.Unmarshal(changesRaw, &o.ChangeLogs); err != nil {
		return o, fmt.Errorf("decode order change logs %s: %w", o.ID, err)
	}
	return o, nil
}

func (s *Store) CreateOrder(ctx context.Context, order domain.Order, debits []domain.InventoryRecord) (*domain.Order, []domain.InventoryRecord, error) {
	if order.ID == "" {
		order.ID = xid.New("ord")
	}
	if order.Status == "" {
		order.Status = domain.OrderStatusCompleted
	}
	if order.Items == nil {
		order.Items = []domain.OrderLine{}
	}
	itemsJSON, err := json.Marshal(order.Items)
	if err != nil {
		return nil, nil, err
	}
	changesJSON, err := json.Marshal(nonNilLogs(order.ChangeLogs))
	if err != nil {
		return nil, nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, order.ID, itemsJSON, order.TotalAmount, order.Discount, order.FinalAmount, order.PaymentMethod,
		order.Status, order.IsExpense, order.PurchaseTotal, order.Memo, changesJSON, order.Timestamp)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, nil, store.ErrInvalidTransaction
		}
		return nil, nil, err
	}

	applied := make([]domain.InventoryRecord, 0, len(debits))
	for _, d := range debits {
		d.OrderID = order.ID
		rec, err := applyStock(ctx, tx, d)
		if err != nil {
			return nil, nil, err
		}
		applied = append(applied, rec)
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return &order, applied, nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	o, err := scanOrder(s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &o, nil
}

func (s *Store) ListOrders(ctx context.Context, query domain.OrderQuery) ([]domain.Order, error) {
	var (
		where []string
		args  []any
	)
	if !query.IncludeCancelled {
		args = append(args, domain.OrderStatusCancelled)
		where = append(where, fmt.Sprintf("status <> $%d", len(args)))
	}
	if query.From != nil {
		args = append(args, *query.From)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if query.To != nil {
		args = append(args, *query.To)
		where = append(where, fmt.Sprintf("created_at < $%d", len(args)))
	}
	sqlText := `SELECT ` + orderColumns + ` FROM orders`
	if len(where) > 0 {
		sqlText += " WHERE " + strings.Join(where, " AND ")
	}
	sqlText += " ORDER BY created_at DESC, id DESC"
	if query.Limit > 0 {
		args = append(args, query.Limit)
		sqlText += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Order, 0, 64)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *Store) CancelOrder(ctx context.Context, id string, entry domain.ChangeLog) (*domain.Order, []domain.InventoryRecord, error) {
	entryJSON, err := json.Marshal([]domain.ChangeLog{entry})
	if err != nil {
		return nil, nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	order, err := scanOrder(tx.QueryRowContext(ctx, `
		UPDATE orders
		SET status = $2, change_logs = change_logs || $3::jsonb
		WHERE id = $1 AND status = $4
		RETURNING `+orderColumns,
		id, domain.OrderStatusCancelled, entryJSON, domain.OrderStatusCompleted))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, s.missingOrConflict(ctx, tx, id)
		}
		return nil, nil, err
	}

	credits := store.CreditRecords(order, func() string { return xid.New("inv") }, entry.UpdatedAt)
	applied := make([]domain.InventoryRecord, 0, len(credits))
	for _, c := range credits {
		rec, err := applyStock(ctx, tx, c)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		applied = append(applied, rec)
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return &order, applied, nil
}

func (s *Store) UpdatePaymentMethod(ctx context.Context, id string, method string, entry domain.ChangeLog) (*domain.Order, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	order, err := scanOrder(tx.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if order.Status == domain.OrderStatusCancelled || order.IsExpense {
		return nil, store.ErrConflict
	}
	if order.PaymentMethod == method {
		return &order, nil
	}

	entry.Before = order.PaymentMethod
	entry.After = method
	entryJSON, err := json.Marshal([]domain.ChangeLog{entry})
	if err != nil {
		return nil, err
	}
	updated, err := scanOrder(tx.QueryRowContext(ctx, `
		UPDATE orders
		SET payment_method = $2, change_logs = change_logs || $3::jsonb
		WHERE id = $1
		RETURNING `+orderColumns, id, method, entryJSON))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &updated, nil
}

func (s *Store) missingOrConflict(ctx context.Context, tx *sql.Tx, id string) error {
	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return store.ErrNotFound
	}
	return store.ErrConflict
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.UserAccount, error) {
	var user domain.UserAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT email, password, role, active, created_at
		FROM app_users
		WHERE email = $1
	`, normalizeEmail(email)).Scan(&user.Email, &user.Password, &user.Role, &user.Active, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	user.CreatedAt = user.CreatedAt.UTC()
	return &user, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Email = normalizeEmail(user.Email)
	if user.Email == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if user.Role == "" {
		user.Role = domain.RoleCasher
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (email, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,TRUE,$4,now())
	`, user.Email, user.Password, user.Role, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT email, password, role, active, created_at
		FROM app_users
		ORDER BY email ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Email, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *Store) UpdateUserPassword(ctx context.Context, email string, password string) error {
	email = normalizeEmail(email)
	if email == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE email = $1
	`, email, password)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func expectAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nonNilLogs(logs []domain.ChangeLog) []domain.ChangeLog {
	if logs == nil {
		return []domain.ChangeLog{}
	}
	return logs
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
