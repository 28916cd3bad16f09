package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"posledger/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransaction is raised for malformed writes. It wraps
	// domain.ErrInvalid so handlers map both to a 400.
	ErrInvalidTransaction = fmt.Errorf("%w: invalid transaction", domain.ErrInvalid)
	// ErrConflict means a guarded update found the record in the wrong state,
	// e.g. cancelling an order that is already cancelled.
	ErrConflict = errors.New("conflict")
)

type Repository interface {
	ListCategories(ctx context.Context) ([]domain.Category, error)
	GetCategory(ctx context.Context, id string) (*domain.Category, error)
	CreateCategory(ctx context.Context, category domain.Category) (*domain.Category, error)
	UpdateCategory(ctx context.Context, category domain.Category) (*domain.Category, error)
	DeleteCategory(ctx context.Context, id string) error

	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	// UpdateProduct rewrites catalog fields only. Stock counters are never
	// written through this method.
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id string) error

	// AdjustStock applies record.Adjustment to the product's remaining stock,
	// clamped at zero, and appends the record with AfterStock filled in.
	AdjustStock(ctx context.Context, record domain.InventoryRecord) (*domain.InventoryRecord, error)
	// ResetStock sets remaining and total stock to quantity and appends a
	// reset record whose adjustment is the difference from the prior remaining stock.
	ResetStock(ctx context.Context, productID string, quantity int, record domain.InventoryRecord) (*domain.Product, *domain.InventoryRecord, error)
	// ResetAllStock restores remaining stock to total stock for every product
	// and returns one reset record per product whose stock changed.
	ResetAllStock(ctx context.Context, reason string, at time.Time) ([]domain.InventoryRecord, error)
	ListInventoryRecords(ctx context.Context, query domain.InventoryQuery) ([]domain.InventoryRecord, error)

	// CreateOrder persists the order and applies each debit record as an
	// AdjustStock would, all or nothing.
	CreateOrder(ctx context.Context, order domain.Order, debits []domain.InventoryRecord) (*domain.Order, []domain.InventoryRecord, error)
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	ListOrders(ctx context.Context, query domain.OrderQuery) ([]domain.Order, error)
	// CancelOrder flips a completed order to cancelled, appends entry to its
	// change log and restocks every line. Returns ErrConflict when the order
	// is not completed.
	CancelOrder(ctx context.Context, id string, entry domain.ChangeLog) (*domain.Order, []domain.InventoryRecord, error)
	// UpdatePaymentMethod returns ErrConflict for cancelled orders and leaves
	// the order untouched when the method is unchanged.
	UpdatePaymentMethod(ctx context.Context, id string, method string, entry domain.ChangeLog) (*domain.Order, error)

	GetUserByEmail(ctx context.Context, email string) (*domain.UserAccount, error)
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, email string, password string) error
}

// CreditRecords builds the restock records written when an order is cancelled.
func CreditRecords(order domain.Order, newID func() string, at time.Time) []domain.InventoryRecord {
	records := make([]domain.InventoryRecord, 0, len(order.Items))
	for _, line := range order.Items {
		if line.ProductID == "" || line.Quantity <= 0 {
			continue
		}
		records = append(records, domain.InventoryRecord{
			ID:          newID(),
			ProductID:   line.ProductID,
			ProductName: line.Name,
			Type:        domain.InventoryIn,
			Reason:      domain.ReasonOrderCancelled,
			Adjustment:  line.Quantity,
			OrderID:     order.ID,
			Timestamp:   at,
		})
	}
	return records
}

// ClampStock is the single rule every backend applies when moving stock.
func ClampStock(current int, delta int) int {
	if next := current + delta; next > 0 {
		return next
	}
	return 0
}
