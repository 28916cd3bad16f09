package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"posledger/internal/cache"
	"posledger/internal/composer"
	"posledger/internal/domain"
	"posledger/internal/feed"
	"posledger/internal/sales"
	"posledger/internal/store"
	"posledger/internal/store/memory"
)

var (
	master  = domain.Actor{Email: "master@posledger.local", Role: domain.RoleMaster, SessionID: "sess-master"}
	manager = domain.Actor{Email: "manager@posledger.local", Role: domain.RoleManager, SessionID: "sess-manager"}
	casher  = domain.Actor{Email: "casher@posledger.local", Role: domain.RoleCasher, SessionID: "sess-casher"}
)

var fixedNow = time.Date(2024, 5, 15, 12, 30, 0, 0, time.UTC)

type recordingFeed struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingFeed) Publish(_ context.Context, ev feed.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev.Collection)
}

func (r *recordingFeed) collections() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// mapCache mimics the generation scheme of the Redis cache: Invalidate bumps
// the generation and leaves old entries unreachable.
type mapCache struct {
	gen         int
	entries     map[string]sales.Dashboard
	invalidated int
}

func (c *mapCache) Get(_ context.Context, key string) (*sales.Dashboard, cache.Generation, bool, error) {
	gen := cache.Generation(strconv.Itoa(c.gen))
	d, ok := c.entries[string(gen)+":"+key]
	if !ok {
		return nil, gen, false, nil
	}
	return &d, gen, true, nil
}

func (c *mapCache) Set(_ context.Context, gen cache.Generation, key string, value *sales.Dashboard, _ time.Duration) error {
	c.entries[string(gen)+":"+key] = *value
	return nil
}

func (c *mapCache) Invalidate(_ context.Context) error {
	c.invalidated++
	c.gen++
	return nil
}

func newTestService(t *testing.T, repo store.Repository) (*Service, *recordingFeed) {
	t.Helper()
	pub := &recordingFeed{}
	svc := New(repo, Options{Feed: pub, Location: time.UTC})
	svc.now = func() time.Time { return fixedNow }
	return svc, pub
}

func stockOf(t *testing.T, repo store.Repository, id string) int {
	t.Helper()
	p, err := repo.GetProduct(context.Background(), id)
	require.NoError(t, err)
	return p.RemainingStock
}

func TestAddItemRejectsOutOfStockAndLeavesDraftUnchanged(t *testing.T) {
	repo := memory.NewSeeded()
	svc, _ := newTestService(t, repo)
	ctx := context.Background()

	_, err := repo.CreateProduct(ctx, domain.Product{ID: "menu-soldout", Name: "품절", Category: "커피", SalesPrice: 1000})
	require.NoError(t, err)

	_, err = svc.AddDraftItem(ctx, casher, domain.DraftItemRequest{ProductID: "menu-americano"})
	require.NoError(t, err)

	_, err = svc.AddDraftItem(ctx, casher, domain.DraftItemRequest{ProductID: "menu-soldout"})
	if !errors.Is(err, composer.ErrOutOfStock) {
		t.Fatalf("expected out of stock, got %v", err)
	}

	view, err := svc.Draft(casher)
	require.NoError(t, err)
	require.Len(t, view.Lines, 1)
	assert.Equal(t, "menu-americano", view.Lines[0].ProductID)
	assert.Equal(t, 1, view.Lines[0].Quantity)
}

func TestAddItemRejectsDisabledCategory(t *testing.T) {
	svc, _ := newTestService(t, memory.NewSeeded())

	_, err := svc.AddDraftItem(context.Background(), casher, domain.DraftItemRequest{ProductID: "menu-strawberry"})
	if !errors.Is(err, ErrCategoryDisabled) {
		t.Fatalf("expected disabled category error, got %v", err)
	}
}

func TestDraftsAreKeptPerSession(t *testing.T) {
	svc, _ := newTestService(t, memory.NewSeeded())
	ctx := context.Background()
	other := casher
	other.SessionID = "sess-casher-2"

	_, err := svc.AddDraftItem(ctx, casher, domain.DraftItemRequest{ProductID: "menu-latte"})
	require.NoError(t, err)

	view, err := svc.Draft(other)
	require.NoError(t, err)
	assert.Empty(t, view.Lines)
}

func TestSubmitSaleDebitsStockAndClearsDraft(t *testing.T) {
	repo := memory.NewSeeded()
	svc, pub := newTestService(t, repo)
	ctx := context.Background()

	for _, id := range []string{"menu-americano", "menu-americano", "menu-latte"} {
		_, err := svc.AddDraftItem(ctx, casher, domain.DraftItemRequest{ProductID: id})
		require.NoError(t, err)
	}
	_, err := svc.ApplyDraftDiscount(casher, domain.DraftDiscountRequest{Amount: 1000})
	require.NoError(t, err)

	resp, err := svc.SubmitDraft(ctx, casher, domain.SubmitRequest{PaymentMethod: "현금"})
	require.NoError(t, err)
	require.Len(t, resp.Orders, 1)

	order := resp.Orders[0]
	assert.Equal(t, int64(10000), order.TotalAmount)
	assert.Equal(t, int64(1000), order.Discount)
	assert.Equal(t, int64(9000), order.FinalAmount)
	assert.Equal(t, int64(3200), order.PurchaseTotal)
	assert.Equal(t, domain.PaymentCash, order.PaymentMethod)
	assert.Equal(t, domain.OrderStatusCompleted, order.Status)

	require.Len(t, resp.Records, 2)
	for _, rec := range resp.Records {
		assert.Equal(t, domain.InventoryOut, rec.Type)
		assert.Equal(t, domain.ReasonOrder, rec.Reason)
		assert.Equal(t, order.ID, rec.OrderID)
	}
	assert.Equal(t, 98, stockOf(t, repo, "menu-americano"))
	assert.Equal(t, 79, stockOf(t, repo, "menu-latte"))

	view, err := svc.Draft(casher)
	require.NoError(t, err)
	assert.Empty(t, view.Lines)
	assert.Zero(t, view.Discount)
	assert.Contains(t, pub.collections(), feed.Orders)
	assert.Contains(t, pub.collections(), feed.Inventory)
}

func TestSubmitRejectsUnknownPaymentMethodAndKeepsDraft(t *testing.T) {
	svc, _ := newTestService(t, memory.NewSeeded())
	ctx := context.Background()

	_, err := svc.AddDraftItem(ctx, casher, domain.DraftItemRequest{ProductID: "menu-bagel"})
	require.NoError(t, err)

	_, err = svc.SubmitDraft(ctx, casher, domain.SubmitRequest{PaymentMethod: "bitcoin"})
	if !errors.Is(err, domain.ErrInvalid) {
		t.Fatalf("expected invalid payment method, got %v", err)
	}
	_, err = svc.SubmitDraft(ctx, casher, domain.SubmitRequest{PaymentMethod: domain.PaymentExpense})
	require.ErrorIs(t, err, domain.ErrInvalid)

	view, err := svc.Draft(casher)
	require.NoError(t, err)
	assert.Len(t, view.Lines, 1)
}

func TestSubmitExpensesCreatesOneOrderPerExpense(t *testing.T) {
	repo := memory.NewSeeded()
	svc, _ := newTestService(t, repo)
	ctx := context.Background()

	_, err := svc.AddDraftExpense(casher, domain.DraftExpenseRequest{Description: "우유", Amount: 12000})
	require.NoError(t, err)
	_, err = svc.AddDraftExpense(casher, domain.DraftExpenseRequest{Description: "얼음", Amount: 3000})
	require.NoError(t, err)

	_, err = svc.AddDraftItem(ctx, casher, domain.DraftItemRequest{ProductID: "menu-latte"})
	require.ErrorIs(t, err, composer.ErrExpenseDraftActive)

	resp, err := svc.SubmitDraft(ctx, casher, domain.SubmitRequest{})
	require.NoError(t, err)
	require.Len(t, resp.Orders, 2)
	for _, o := range resp.Orders {
		assert.True(t, o.IsExpense)
		assert.Equal(t, domain.PaymentExpense, o.PaymentMethod)
		assert.Equal(t, o.TotalAmount, o.FinalAmount)
		assert.Negative(t, o.FinalAmount)
	}
	assert.Equal(t, "우유", resp.Orders[0].Memo)
	assert.Empty(t, resp.Records)
	assert.Equal(t, 80, stockOf(t, repo, "menu-latte"))
}

type failingRepo struct {
	*memory.Store
	mock.Mock
}

func (f *failingRepo) CreateOrder(ctx context.Context, order domain.Order, debits []domain.InventoryRecord) (*domain.Order, []domain.InventoryRecord, error) {
	args := f.Called(ctx, order, debits)
	if err := args.Error(0); err != nil {
		return nil, nil, err
	}
	return f.Store.CreateOrder(ctx, order, debits)
}

func TestSubmitFailureKeepsDraftForRetry(t *testing.T) {
	repo := &failingRepo{Store: memory.NewSeeded()}
	repo.On("CreateOrder", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("connection reset")).Once()
	repo.On("CreateOrder", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

	svc, _ := newTestService(t, repo)
	ctx := context.Background()

	_, err := svc.AddDraftItem(ctx, casher, domain.DraftItemRequest{ProductID: "menu-croissant"})
	require.NoError(t, err)

	_, err = svc.SubmitDraft(ctx, casher, domain.SubmitRequest{PaymentMethod: "card"})
	require.Error(t, err)

	view, err := svc.Draft(casher)
	require.NoError(t, err)
	require.Len(t, view.Lines, 1)
	assert.Equal(t, 20, stockOf(t, repo, "menu-croissant"))

	resp, err := svc.SubmitDraft(ctx, casher, domain.SubmitRequest{PaymentMethod: "card"})
	require.NoError(t, err)
	assert.Len(t, resp.Orders, 1)
	assert.Equal(t, 19, stockOf(t, repo, "menu-croissant"))
	repo.AssertExpectations(t)
}

func TestPartialExpenseFailureDropsStoredExpenses(t *testing.T) {
	repo := &failingRepo{Store: memory.NewSeeded()}
	repo.On("CreateOrder", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()
	repo.On("CreateOrder", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("timeout")).Once()

	svc, _ := newTestService(t, repo)
	ctx := context.Background()

	_, err := svc.AddDraftExpense(casher, domain.DraftExpenseRequest{Description: "컵", Amount: 5000})
	require.NoError(t, err)
	_, err = svc.AddDraftExpense(casher, domain.DraftExpenseRequest{Description: "빨대", Amount: 2000})
	require.NoError(t, err)

	_, err = svc.SubmitDraft(ctx, casher, domain.SubmitRequest{})
	require.Error(t, err)

	view, err := svc.Draft(casher)
	require.NoError(t, err)
	require.Len(t, view.Expenses, 1)
	assert.Equal(t, "빨대", view.Expenses[0].Description)
}

func TestCancelOrderRestocksOnceAndLogs(t *testing.T) {
	repo := memory.NewSeeded()
	svc, _ := newTestService(t, repo)
	ctx := context.Background()

	_, err := svc.AddDraftItem(ctx, casher, domain.DraftItemRequest{ProductID: "menu-greentea"})
	require.NoError(t, err)
	_, err = svc.ChangeDraftQuantity(casher, "menu-greentea", domain.DraftQuantityRequest{Delta: 2})
	require.NoError(t, err)
	resp, err := svc.SubmitDraft(ctx, casher, domain.SubmitRequest{PaymentMethod: "transfer"})
	require.NoError(t, err)
	require.Equal(t, 37, stockOf(t, repo, "menu-greentea"))

	cancelled, records, err := svc.CancelOrder(ctx, casher, resp.Orders[0].ID, domain.CancelOrderRequest{Reason: "wrong order"})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, cancelled.Status)
	require.Len(t, cancelled.ChangeLogs, 1)
	assert.Equal(t, domain.ChangeLogCancel, cancelled.ChangeLogs[0].Type)
	assert.Equal(t, casher.Email, cancelled.ChangeLogs[0].UpdatedBy)
	require.Len(t, records, 1)
	assert.Equal(t, 3, records[0].Adjustment)
	assert.Equal(t, domain.ReasonOrderCancelled, records[0].Reason)
	assert.Equal(t, 40, stockOf(t, repo, "menu-greentea"))

	_, _, err = svc.CancelOrder(ctx, casher, resp.Orders[0].ID, domain.CancelOrderRequest{Reason: "again"})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict on second cancel, got %v", err)
	}
	assert.Equal(t, 40, stockOf(t, repo, "menu-greentea"))
}

func TestChangePaymentMethodAppendsLog(t *testing.T) {
	svc, _ := newTestService(t, memory.NewSeeded())
	ctx := context.Background()

	_, err := svc.AddDraftItem(ctx, master, domain.DraftItemRequest{ProductID: "menu-vanilla"})
	require.NoError(t, err)
	resp, err := svc.SubmitDraft(ctx, master, domain.SubmitRequest{PaymentMethod: "cash"})
	require.NoError(t, err)

	order, err := svc.ChangePaymentMethod(ctx, master, resp.Orders[0].ID, domain.PaymentMethodRequest{PaymentMethod: "카드"})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentCard, order.PaymentMethod)
	require.Len(t, order.ChangeLogs, 1)
	assert.Equal(t, domain.PaymentCash, order.ChangeLogs[0].Before)
	assert.Equal(t, domain.PaymentCard, order.ChangeLogs[0].After)
	assert.Equal(t, resp.Orders[0].FinalAmount, order.FinalAmount)
}

func TestRoleGating(t *testing.T) {
	svc, _ := newTestService(t, memory.NewSeeded())
	ctx := context.Background()

	_, err := svc.AddDraftItem(ctx, manager, domain.DraftItemRequest{ProductID: "menu-latte"})
	require.ErrorIs(t, err, ErrForbidden)

	_, err = svc.AdjustInventory(ctx, casher, "menu-latte", domain.AdjustmentRequest{Mode: "add", Amount: 1, Reason: "restock"})
	require.ErrorIs(t, err, ErrForbidden)

	_, err = svc.SalesDashboard(ctx, casher, "today", "")
	require.ErrorIs(t, err, ErrForbidden)

	_, err = svc.ListOrders(ctx, manager, domain.OrderQuery{})
	require.ErrorIs(t, err, ErrForbidden)

	_, err = svc.Draft(domain.Actor{})
	require.ErrorIs(t, err, ErrForbidden)
}

func TestAdjustInventoryClampsAtZeroButKeepsSignedAmount(t *testing.T) {
	repo := memory.NewSeeded()
	svc, _ := newTestService(t, repo)

	rec, err := svc.AdjustInventory(context.Background(), manager, "menu-bagel", domain.AdjustmentRequest{
		Mode:   domain.AdjustSubtract,
		Amount: 500,
		Reason: domain.ReasonDisposal,
	})
	require.NoError(t, err)
	assert.Equal(t, -500, rec.Adjustment)
	assert.Equal(t, 0, rec.AfterStock)
	assert.Equal(t, domain.InventoryOut, rec.Type)
	assert.Equal(t, 0, stockOf(t, repo, "menu-bagel"))

	_, err = svc.AdjustInventory(context.Background(), manager, "menu-bagel", domain.AdjustmentRequest{Mode: "add", Amount: 0, Reason: "restock"})
	require.ErrorIs(t, err, domain.ErrInvalid)
	_, err = svc.AdjustInventory(context.Background(), manager, "menu-bagel", domain.AdjustmentRequest{Mode: "add", Amount: 3, Reason: ""})
	require.ErrorIs(t, err, domain.ErrInvalid)
}

func TestUpdateProductStockResetsCounters(t *testing.T) {
	repo := memory.NewSeeded()
	svc, _ := newTestService(t, repo)
	ctx := context.Background()

	stock := 50
	price := int64(3300)
	updated, err := svc.UpdateProduct(ctx, master, "menu-americano", domain.ProductUpdateRequest{Stock: &stock, SalesPrice: &price})
	require.NoError(t, err)
	assert.Equal(t, 50, updated.RemainingStock)
	assert.Equal(t, 50, updated.TotalStock)
	assert.Equal(t, int64(3300), updated.SalesPrice)

	records, err := svc.ListInventory(ctx, master, domain.InventoryQuery{ProductID: "menu-americano"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, domain.InventoryReset, records[0].Type)
	assert.Equal(t, -50, records[0].Adjustment)
}

type resetFailingRepo struct {
	*memory.Store
	mock.Mock
}

func (f *resetFailingRepo) ResetStock(ctx context.Context, productID string, quantity int, record domain.InventoryRecord) (*domain.Product, *domain.InventoryRecord, error) {
	args := f.Called(ctx, productID, quantity)
	return nil, nil, args.Error(0)
}

func TestUpdateProductAnnouncesSavedFieldsWhenResetFails(t *testing.T) {
	repo := &resetFailingRepo{Store: memory.NewSeeded()}
	repo.On("ResetStock", mock.Anything, "menu-americano", 50).Return(errors.New("deadlock detected")).Once()
	c := &mapCache{entries: map[string]sales.Dashboard{}}
	pub := &recordingFeed{}
	svc := New(repo, Options{Cache: c, Feed: pub, Location: time.UTC})
	ctx := context.Background()

	stock := 50
	name := "아이스 아메리카노"
	_, err := svc.UpdateProduct(ctx, master, "menu-americano", domain.ProductUpdateRequest{Name: &name, Stock: &stock})
	require.Error(t, err)
	repo.AssertExpectations(t)

	p, err := repo.GetProduct(ctx, "menu-americano")
	require.NoError(t, err)
	assert.Equal(t, name, p.Name)
	assert.Equal(t, 1, c.invalidated)
	assert.Equal(t, []string{feed.Products}, pub.collections())
}

func TestDailyResetRestoresOnlyChangedProducts(t *testing.T) {
	repo := memory.NewSeeded()
	svc, _ := newTestService(t, repo)
	ctx := context.Background()

	_, err := svc.AdjustInventory(ctx, manager, "menu-latte", domain.AdjustmentRequest{Mode: "subtract", Amount: 5, Reason: "mis-entry"})
	require.NoError(t, err)

	records, err := svc.DailyReset(ctx, manager)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "menu-latte", records[0].ProductID)
	assert.Equal(t, 5, records[0].Adjustment)
	assert.Equal(t, 80, stockOf(t, repo, "menu-latte"))
}

func TestCreateProductRequiresKnownCategory(t *testing.T) {
	svc, _ := newTestService(t, memory.NewSeeded())

	_, err := svc.CreateProduct(context.Background(), manager, domain.ProductCreateRequest{Name: "스콘", Category: "디저트", SalesPrice: 3000, Stock: 5})
	require.ErrorIs(t, err, domain.ErrInvalid)

	created, err := svc.CreateProduct(context.Background(), manager, domain.ProductCreateRequest{Name: "스콘", Category: "베이커리", SalesPrice: 3000, Stock: 5})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(created.ID, "menu-"))
	assert.Equal(t, 5, created.RemainingStock)
}

func TestRenameCategoryRelabelsProducts(t *testing.T) {
	repo := memory.NewSeeded()
	svc, _ := newTestService(t, repo)
	ctx := context.Background()

	name := "티"
	_, err := svc.UpdateCategory(ctx, manager, "cat-tea", domain.CategoryUpdateRequest{Name: &name})
	require.NoError(t, err)

	p, err := repo.GetProduct(ctx, "menu-greentea")
	require.NoError(t, err)
	assert.Equal(t, "티", p.Category)
}

func TestAddItemRejectsProductOfDeletedCategory(t *testing.T) {
	svc, _ := newTestService(t, memory.NewSeeded())
	ctx := context.Background()

	require.NoError(t, svc.DeleteCategory(ctx, master, "cat-bakery"))

	_, err := svc.AddDraftItem(ctx, casher, domain.DraftItemRequest{ProductID: "menu-croissant"})
	if !errors.Is(err, ErrCategoryDisabled) {
		t.Fatalf("expected deleted category to block the product, got %v", err)
	}
	view, err := svc.Draft(casher)
	require.NoError(t, err)
	assert.Empty(t, view.Lines)

	catalog, err := svc.OrderCatalog(ctx, casher)
	require.NoError(t, err)
	for _, p := range catalog.Products {
		assert.NotEqual(t, "menu-croissant", p.ID)
	}
}

func TestOrderCatalogHidesDisabledCategories(t *testing.T) {
	svc, _ := newTestService(t, memory.NewSeeded())

	catalog, err := svc.OrderCatalog(context.Background(), casher)
	require.NoError(t, err)
	for _, c := range catalog.Categories {
		assert.True(t, c.Enabled)
	}
	for _, p := range catalog.Products {
		assert.NotEqual(t, "menu-strawberry", p.ID)
	}
	assert.Len(t, catalog.Products, 6)
}

func TestSalesDashboardCachesUntilNextWrite(t *testing.T) {
	repo := memory.NewSeeded()
	c := &mapCache{entries: map[string]sales.Dashboard{}}
	svc := New(repo, Options{Cache: c, Location: time.UTC})
	svc.now = func() time.Time { return fixedNow }
	ctx := context.Background()

	first, err := svc.SalesDashboard(ctx, master, "오늘", "")
	require.NoError(t, err)
	assert.Equal(t, int64(0), first.Summary.Sales)
	assert.Len(t, c.entries, 1)

	_, err = svc.AddDraftItem(ctx, master, domain.DraftItemRequest{ProductID: "menu-latte"})
	require.NoError(t, err)
	_, err = svc.SubmitDraft(ctx, master, domain.SubmitRequest{PaymentMethod: "card"})
	require.NoError(t, err)
	assert.Equal(t, 1, c.invalidated)

	second, err := svc.SalesDashboard(ctx, master, "today", "")
	require.NoError(t, err)
	assert.Equal(t, int64(4000), second.Summary.Sales)
	assert.Equal(t, int64(1400), second.Summary.Purchases)
	assert.Equal(t, int64(4000), second.TodaySales)
	assert.Equal(t, 1, second.Summary.OrderCount)
	assert.Equal(t, int64(4000), second.Hourly[12].Amount)
}

// listHookRepo runs afterList once, right after the ledger has been read.
type listHookRepo struct {
	*memory.Store
	afterList func()
}

func (r *listHookRepo) ListOrders(ctx context.Context, query domain.OrderQuery) ([]domain.Order, error) {
	orders, err := r.Store.ListOrders(ctx, query)
	if hook := r.afterList; hook != nil {
		r.afterList = nil
		hook()
	}
	return orders, err
}

func TestSalesDashboardWriteDuringBuildIsNotCachedAsFresh(t *testing.T) {
	repo := &listHookRepo{Store: memory.NewSeeded()}
	c := &mapCache{entries: map[string]sales.Dashboard{}}
	svc := New(repo, Options{Cache: c, Location: time.UTC})
	svc.now = func() time.Time { return fixedNow }
	ctx := context.Background()

	repo.afterList = func() {
		_, err := svc.AddDraftItem(ctx, master, domain.DraftItemRequest{ProductID: "menu-latte"})
		require.NoError(t, err)
		_, err = svc.SubmitDraft(ctx, master, domain.SubmitRequest{PaymentMethod: "cash"})
		require.NoError(t, err)
	}

	stale, err := svc.SalesDashboard(ctx, master, "today", "")
	require.NoError(t, err)
	assert.Equal(t, int64(0), stale.Summary.Sales)
	assert.Equal(t, 1, c.invalidated)

	fresh, err := svc.SalesDashboard(ctx, master, "today", "")
	require.NoError(t, err)
	if fresh.Summary.Sales != 4000 {
		t.Fatalf("expected the submitted order in the next dashboard, got sales %d", fresh.Summary.Sales)
	}
}

func TestSalesDashboardCustomNeedsDate(t *testing.T) {
	svc, _ := newTestService(t, memory.NewSeeded())

	_, err := svc.SalesDashboard(context.Background(), manager, "custom", "")
	require.ErrorIs(t, err, domain.ErrInvalid)

	d, err := svc.SalesDashboard(context.Background(), manager, "custom", "2024-05-01")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), d.Window.Start)
}

func TestMonthGridAndDayDetail(t *testing.T) {
	svc, _ := newTestService(t, memory.NewSeeded())
	ctx := context.Background()

	_, err := svc.AddDraftItem(ctx, casher, domain.DraftItemRequest{ProductID: "menu-americano"})
	require.NoError(t, err)
	_, err = svc.SubmitDraft(ctx, casher, domain.SubmitRequest{PaymentMethod: "transfer"})
	require.NoError(t, err)
	_, err = svc.AddDraftExpense(casher, domain.DraftExpenseRequest{Description: "원두", Amount: 1000})
	require.NoError(t, err)
	_, err = svc.SubmitDraft(ctx, casher, domain.SubmitRequest{})
	require.NoError(t, err)

	grid, err := svc.MonthGrid(ctx, manager, "2024-05")
	require.NoError(t, err)
	require.Len(t, grid, 31)
	day := grid[14]
	assert.Equal(t, "2024-05-15", day.Date)
	assert.Equal(t, int64(3000), day.Sales)
	assert.Equal(t, int64(1000), day.OtherExpenses)
	assert.Equal(t, int64(3000-900-1000), day.Profit)

	detail, err := svc.DayDetail(ctx, manager, "2024-05-15")
	require.NoError(t, err)
	require.Len(t, detail.Expenses, 1)
	assert.Equal(t, "원두", detail.Expenses[0].Description)
	assert.Equal(t, int64(3000), detail.AverageOrderValue)

	year, err := svc.YearSummary(ctx, manager, 0)
	require.NoError(t, err)
	require.Len(t, year, 12)
	assert.Equal(t, int64(3000), year[4].Sales)
}

func TestExportInventoryStampsFilename(t *testing.T) {
	svc, _ := newTestService(t, memory.NewSeeded())
	ctx := context.Background()

	_, err := svc.AdjustInventory(ctx, master, "menu-latte", domain.AdjustmentRequest{Mode: "add", Amount: 4, Reason: "restock"})
	require.NoError(t, err)

	out, err := svc.ExportInventory(ctx, master, "csv", domain.InventoryQuery{})
	require.NoError(t, err)
	assert.Equal(t, "inventory-history-2024-05-15.csv", out.Filename)
	assert.Contains(t, string(out.Body), "restock")

	_, err = svc.ExportInventory(ctx, master, "pdf", domain.InventoryQuery{})
	require.ErrorIs(t, err, domain.ErrInvalid)
}

func TestSnapshotQueryRespectsRoles(t *testing.T) {
	svc, _ := newTestService(t, memory.NewSeeded())

	_, err := svc.SnapshotQuery(casher, feed.Inventory)
	require.ErrorIs(t, err, ErrForbidden)

	q, err := svc.SnapshotQuery(casher, feed.Products)
	require.NoError(t, err)
	data, err := q(context.Background())
	require.NoError(t, err)
	assert.Len(t, data, 7)

	_, err = svc.SnapshotQuery(manager, feed.Orders)
	require.ErrorIs(t, err, ErrForbidden)
	_, err = svc.SnapshotQuery(casher, feed.Orders)
	require.NoError(t, err)

	_, err = svc.SnapshotQuery(master, "ledger")
	require.ErrorIs(t, err, domain.ErrInvalid)
}
