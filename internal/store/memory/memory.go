package memory

import (
	"cmp"
	"context"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"posledger/internal/domain"
	"posledger/internal/store"
	"posledger/internal/xid"
)

type Store struct {
	mu           sync.RWMutex
	categories   map[string]domain.Category
	products     map[string]domain.Product
	inventory    []domain.InventoryRecord
	ordersByID   map[string]*domain.Order
	orderSeq     []string
	usersByEmail map[string]domain.UserAccount
}

// seedUsers builds one account per role for dev/demo mode. Passwords come
// from SEED_MASTER_PASSWORD, SEED_MANAGER_PASSWORD and SEED_CASHER_PASSWORD,
// falling back to dev defaults with a warning.
func seedUsers() map[string]domain.UserAccount {
	seeds := []struct {
		email string
		env   string
		def   string
		role  string
	}{
		{"master@posledger.local", "SEED_MASTER_PASSWORD", "master123", domain.RoleMaster},
		{"manager@posledger.local", "SEED_MANAGER_PASSWORD", "manager123", domain.RoleManager},
		{"casher@posledger.local", "SEED_CASHER_PASSWORD", "casher123", domain.RoleCasher},
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range seeds {
		pwd := os.Getenv(u.env)
		if pwd == "" {
			pwd = u.def
			log.Warn().Str("component", "memory-store").Str("email", u.email).Msgf("using default dev password, set %s to override", u.env)
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
		if err != nil {
			log.Fatal().Err(err).Str("email", u.email).Msg("failed to hash seed password")
		}
		users[u.email] = domain.UserAccount{
			Email:     u.email,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

// New returns an empty store. Tests use it when seed data would get in the way.
func New() *Store {
	return &Store{
		categories:   make(map[string]domain.Category),
		products:     make(map[string]domain.Product),
		inventory:    make([]domain.InventoryRecord, 0, 128),
		ordersByID:   make(map[string]*domain.Order),
		usersByEmail: make(map[string]domain.UserAccount),
	}
}

func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	for _, c := range []domain.Category{
		{ID: "cat-coffee", Name: "커피", Enabled: true, InOrders: true},
		{ID: "cat-tea", Name: "차", Enabled: true, InOrders: true},
		{ID: "cat-bakery", Name: "베이커리", Enabled: true, InOrders: true},
		{ID: "cat-seasonal", Name: "시즌 메뉴", Enabled: false},
	} {
		c.CreatedAt = now
		s.categories[c.ID] = c
	}

	for _, p := range []domain.Product{
		{ID: "menu-americano", Name: "아메리카노", Category: "커피", PurchasePrice: 900, SalesPrice: 3000, TotalStock: 100},
		{ID: "menu-latte", Name: "카페라떼", Category: "커피", PurchasePrice: 1400, SalesPrice: 4000, TotalStock: 80},
		{ID: "menu-vanilla", Name: "바닐라라떼", Category: "커피", PurchasePrice: 1600, SalesPrice: 4500, TotalStock: 60},
		{ID: "menu-greentea", Name: "녹차", Category: "차", PurchasePrice: 700, SalesPrice: 3500, TotalStock: 40},
		{ID: "menu-croissant", Name: "크루아상", Category: "베이커리", PurchasePrice: 1500, SalesPrice: 3800, TotalStock: 20},
		{ID: "menu-bagel", Name: "베이글", Category: "베이커리", PurchasePrice: 1100, SalesPrice: 3200, TotalStock: 20},
		{ID: "menu-strawberry", Name: "딸기라떼", Category: "시즌 메뉴", PurchasePrice: 2000, SalesPrice: 5500, TotalStock: 30},
	} {
		p.RemainingStock = p.TotalStock
		p.CreatedAt = now
		s.products[p.ID] = p
	}

	s.usersByEmail = seedUsers()
	return s
}

func (s *Store) ListCategories(_ context.Context) ([]domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Category, 0, len(s.categories))
	for _, c := range s.categories {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b domain.Category) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.Name, b.Name))
	})
	return out, nil
}

func (s *Store) GetCategory(_ context.Context, id string) (*domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.categories[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (s *Store) CreateCategory(_ context.Context, category domain.Category) (*domain.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if category.ID == "" {
		category.ID = xid.New("cat")
	}
	if _, exists := s.categories[category.ID]; exists {
		return nil, store.ErrInvalidTransaction
	}
	for _, c := range s.categories {
		if strings.EqualFold(c.Name, category.Name) {
			return nil, store.ErrConflict
		}
	}
	s.categories[category.ID] = category
	return &category, nil
}

func (s *Store) UpdateCategory(_ context.Context, category domain.Category) (*domain.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.categories[category.ID]; !ok {
		return nil, store.ErrNotFound
	}
	s.categories[category.ID] = category
	return &category, nil
}

func (s *Store) DeleteCategory(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.categories[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.categories, id)
	return nil
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b domain.Product) int {
		return cmp.Or(cmp.Compare(a.Category, b.Category), cmp.Compare(a.Name, b.Name))
	})
	return out, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.ID == "" {
		product.ID = xid.New("menu")
	}
	if _, exists := s.products[product.ID]; exists {
		return nil, store.ErrInvalidTransaction
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	s.products[product.ID] = product
	return &product, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.products[product.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	current.Name = product.Name
	current.Category = product.Category
	current.PurchasePrice = product.PurchasePrice
	current.SalesPrice = product.SalesPrice
	s.products[product.ID] = current
	return &current, nil
}

func (s *Store) DeleteProduct(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.products, id)
	return nil
}

func (s *Store) AdjustStock(_ context.Context, record domain.InventoryRecord) (*domain.InventoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[record.ProductID]; !ok {
		return nil, store.ErrNotFound
	}
	applied := s.applyLocked(record)
	return &applied, nil
}

// applyLocked moves stock and appends the record. Callers hold s.mu and have
// checked the product exists.
func (s *Store) applyLocked(record domain.InventoryRecord) domain.InventoryRecord {
	p := s.products[record.ProductID]
	p.RemainingStock = store.ClampStock(p.RemainingStock, record.Adjustment)
	s.products[p.ID] = p

	if record.ID == "" {
		record.ID = xid.New("inv")
	}
	if record.ProductName == "" {
		record.ProductName = p.Name
	}
	record.AfterStock = p.RemainingStock
	s.inventory = append(s.inventory, record)
	return record
}

func (s *Store) ResetStock(_ context.Context, productID string, quantity int, record domain.InventoryRecord) (*domain.Product, *domain.InventoryRecord, error) {
	if quantity < 0 {
		return nil, nil, store.ErrInvalidTransaction
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[productID]
	if !ok {
		return nil, nil, store.ErrNotFound
	}
	before := p.RemainingStock
	p.RemainingStock = quantity
	p.TotalStock = quantity
	s.products[productID] = p

	if record.ID == "" {
		record.ID = xid.New("inv")
	}
	record.ProductID = p.ID
	record.ProductName = p.Name
	record.Type = domain.InventoryReset
	record.Adjustment = quantity - before
	record.AfterStock = quantity
	s.inventory = append(s.inventory, record)
	return &p, &record, nil
}

func (s *Store) ResetAllStock(_ context.Context, reason string, at time.Time) ([]domain.InventoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.products))
	for id := range s.products {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	var records []domain.InventoryRecord
	for _, id := range ids {
		p := s.products[id]
		if p.RemainingStock == p.TotalStock {
			continue
		}
		rec := domain.InventoryRecord{
			ID:          xid.New("inv"),
			ProductID:   p.ID,
			ProductName: p.Name,
			Type:        domain.InventoryReset,
			Reason:      reason,
			Adjustment:  p.TotalStock - p.RemainingStock,
			AfterStock:  p.TotalStock,
			Timestamp:   at,
		}
		p.RemainingStock = p.TotalStock
		s.products[id] = p
		s.inventory = append(s.inventory, rec)
		records = append(records, rec)
	}
	return records, nil
}

func (s *Store) ListInventoryRecords(_ context.Context, query domain.InventoryQuery) ([]domain.InventoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.InventoryRecord, 0, len(s.inventory))
	for i := len(s.inventory) - 1; i >= 0; i-- {
		rec := s.inventory[i]
		if query.ProductID != "" && rec.ProductID != query.ProductID {
			continue
		}
		if query.Type != "" && rec.Type != query.Type {
			continue
		}
		out = append(out, rec)
		if query.Limit > 0 && len(out) >= query.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store) CreateOrder(_ context.Context, order domain.Order, debits []domain.InventoryRecord) (*domain.Order, []domain.InventoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if order.ID == "" {
		order.ID = xid.New("ord")
	}
	if _, exists := s.ordersByID[order.ID]; exists {
		return nil, nil, store.ErrInvalidTransaction
	}
	for _, d := range debits {
		if _, ok := s.products[d.ProductID]; !ok {
			return nil, nil, store.ErrNotFound
		}
	}
	if order.Status == "" {
		order.Status = domain.OrderStatusCompleted
	}

	applied := make([]domain.InventoryRecord, 0, len(debits))
	for _, d := range debits {
		d.OrderID = order.ID
		applied = append(applied, s.applyLocked(d))
	}
	stored := cloneOrder(order)
	s.ordersByID[order.ID] = &stored
	s.orderSeq = append(s.orderSeq, order.ID)

	out := cloneOrder(stored)
	return &out, applied, nil
}

func (s *Store) GetOrder(_ context.Context, id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.ordersByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneOrder(*o)
	return &out, nil
}

func (s *Store) ListOrders(_ context.Context, query domain.OrderQuery) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Order, 0, len(s.orderSeq))
	for _, id := range s.orderSeq {
		o := s.ordersByID[id]
		if !query.IncludeCancelled && o.Status == domain.OrderStatusCancelled {
			continue
		}
		if query.From != nil && o.Timestamp.Before(*query.From) {
			continue
		}
		if query.To != nil && !o.Timestamp.Before(*query.To) {
			continue
		}
		out = append(out, cloneOrder(*o))
	}
	slices.SortStableFunc(out, func(a, b domain.Order) int {
		return b.Timestamp.Compare(a.Timestamp)
	})
	if query.Limit > 0 && len(out) > query.Limit {
		out = out[:query.Limit]
	}
	return out, nil
}

func (s *Store) CancelOrder(_ context.Context, id string, entry domain.ChangeLog) (*domain.Order, []domain.InventoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.ordersByID[id]
	if !ok {
		return nil, nil, store.ErrNotFound
	}
	if o.Status != domain.OrderStatusCompleted {
		return nil, nil, store.ErrConflict
	}

	credits := store.CreditRecords(*o, func() string { return xid.New("inv") }, entry.UpdatedAt)
	applied := make([]domain.InventoryRecord, 0, len(credits))
	for _, c := range credits {
		if _, exists := s.products[c.ProductID]; !exists {
			// product deleted since the sale, nothing to restock
			continue
		}
		applied = append(applied, s.applyLocked(c))
	}
	o.Status = domain.OrderStatusCancelled
	o.ChangeLogs = append(o.ChangeLogs, entry)

	out := cloneOrder(*o)
	return &out, applied, nil
}

func (s *Store) UpdatePaymentMethod(_ context.Context, id string, method string, entry domain.ChangeLog) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.ordersByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if o.Status == domain.OrderStatusCancelled || o.IsExpense {
		return nil, store.ErrConflict
	}
	if o.PaymentMethod != method {
		entry.Before = o.PaymentMethod
		entry.After = method
		o.PaymentMethod = method
		o.ChangeLogs = append(o.ChangeLogs, entry)
	}
	out := cloneOrder(*o)
	return &out, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.usersByEmail[normalizeEmail(email)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &user, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := normalizeEmail(user.Email)
	if email == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if _, exists := s.usersByEmail[email]; exists {
		return store.ErrConflict
	}
	user.Email = email
	if user.Role == "" {
		user.Role = domain.RoleCasher
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByEmail[email] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByEmail))
	for _, user := range s.usersByEmail {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmp.Compare(a.Email, b.Email)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, email string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email = normalizeEmail(email)
	if email == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}
	user, exists := s.usersByEmail[email]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByEmail[email] = user
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func cloneOrder(src domain.Order) domain.Order {
	dst := src
	dst.Items = slices.Clone(src.Items)
	if dst.Items == nil {
		dst.Items = []domain.OrderLine{}
	}
	dst.ChangeLogs = slices.Clone(src.ChangeLogs)
	return dst
}
