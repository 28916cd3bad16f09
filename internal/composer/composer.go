// Package composer holds the order draft a terminal builds before checkout.
// A draft carries either sale lines or expenses, never both.
package composer

import (
	"errors"
	"slices"
	"strings"
	"time"

	"posledger/internal/domain"
)

var (
	ErrOutOfStock         = errors.New("product is out of stock")
	ErrExpenseDraftActive = errors.New("an expense draft is active")
	ErrItemsPresent       = errors.New("the draft already has items")
	ErrNoItems            = errors.New("the draft has no items")
	ErrLineNotFound       = errors.New("line not found")
	ErrEmptyDraft         = errors.New("the draft is empty")
	ErrInvalidAmount      = errors.New("amount must be positive")
)

type Draft struct {
	lines    []domain.DraftLine
	expenses []domain.Expense
	discount int64
}

// Checkout is what a draft turns into once submitted: the orders to persist
// and the stock debits that go with the sale order.
type Checkout struct {
	Orders []domain.Order
	Debits []domain.InventoryRecord
}

func New() *Draft {
	return &Draft{}
}

func (d *Draft) AddItem(product domain.Product) error {
	if len(d.expenses) > 0 {
		return ErrExpenseDraftActive
	}
	if product.RemainingStock <= 0 {
		return ErrOutOfStock
	}
	for i := range d.lines {
		if d.lines[i].ProductID == product.ID {
			d.lines[i].Quantity++
			return nil
		}
	}
	d.lines = append(d.lines, domain.DraftLine{
		ProductID:     product.ID,
		Name:          product.Name,
		Category:      product.Category,
		UnitPrice:     product.SalesPrice,
		PurchasePrice: product.PurchasePrice,
		Quantity:      1,
	})
	return nil
}

// ChangeQuantity moves a line's quantity by delta and never lets it fall below one.
func (d *Draft) ChangeQuantity(productID string, delta int) error {
	idx := d.lineIndex(productID)
	if idx < 0 {
		return ErrLineNotFound
	}
	d.lines[idx].Quantity = max(1, d.lines[idx].Quantity+delta)
	return nil
}

// RemoveItem drops the line and returns it so the caller can report what was removed.
func (d *Draft) RemoveItem(productID string) (domain.DraftLine, error) {
	idx := d.lineIndex(productID)
	if idx < 0 {
		return domain.DraftLine{}, ErrLineNotFound
	}
	removed := d.lines[idx]
	d.lines = slices.Delete(d.lines, idx, idx+1)
	if len(d.lines) == 0 {
		d.discount = 0
	}
	return removed, nil
}

func (d *Draft) ApplyDiscount(amount int64) error {
	if len(d.lines) == 0 {
		return ErrNoItems
	}
	if amount < 0 {
		return ErrInvalidAmount
	}
	d.discount = amount
	return nil
}

func (d *Draft) AddExpense(id string, description string, amount int64) error {
	if len(d.lines) > 0 {
		return ErrItemsPresent
	}
	if amount <= 0 {
		return ErrInvalidAmount
	}
	d.expenses = append(d.expenses, domain.Expense{
		ID:          id,
		Description: strings.TrimSpace(description),
		Amount:      amount,
	})
	return nil
}

func (d *Draft) RemoveExpense(id string) error {
	idx := slices.IndexFunc(d.expenses, func(e domain.Expense) bool { return e.ID == id })
	if idx < 0 {
		return ErrLineNotFound
	}
	d.expenses = slices.Delete(d.expenses, idx, idx+1)
	return nil
}

func (d *Draft) Subtotal() int64 {
	var total int64
	for _, line := range d.lines {
		total += line.UnitPrice * int64(line.Quantity)
	}
	return total
}

func (d *Draft) PurchaseTotal() int64 {
	var total int64
	for _, line := range d.lines {
		total += line.PurchasePrice * int64(line.Quantity)
	}
	return total
}

// Total is the amount due after the flat discount, floored at zero.
func (d *Draft) Total() int64 {
	return max(0, d.Subtotal()-d.discount)
}

func (d *Draft) ExpenseTotal() int64 {
	var total int64
	for _, e := range d.expenses {
		total += e.Amount
	}
	return total
}

func (d *Draft) Empty() bool {
	return len(d.lines) == 0 && len(d.expenses) == 0
}

func (d *Draft) View() domain.DraftView {
	lines := append(make([]domain.DraftLine, 0, len(d.lines)), d.lines...)
	expenses := append(make([]domain.Expense, 0, len(d.expenses)), d.expenses...)
	return domain.DraftView{
		Lines:        lines,
		Expenses:     expenses,
		Discount:     d.discount,
		Subtotal:     d.Subtotal(),
		Total:        d.Total(),
		ExpenseTotal: d.ExpenseTotal(),
	}
}

// Checkout converts the draft into ledger entries without mutating it. The
// caller clears the draft only after the entries are persisted.
func (d *Draft) Checkout(paymentMethod string, newID func(prefix string) string, at time.Time) (Checkout, error) {
	if len(d.expenses) > 0 {
		orders := make([]domain.Order, 0, len(d.expenses))
		for _, e := range d.expenses {
			orders = append(orders, domain.Order{
				ID:            newID("ord"),
				Items:         []domain.OrderLine{},
				TotalAmount:   -e.Amount,
				FinalAmount:   -e.Amount,
				PaymentMethod: domain.PaymentExpense,
				Status:        domain.OrderStatusCompleted,
				Timestamp:     at,
				IsExpense:     true,
				Memo:          e.Description,
			})
		}
		return Checkout{Orders: orders}, nil
	}
	if len(d.lines) == 0 {
		return Checkout{}, ErrEmptyDraft
	}

	order := domain.Order{
		ID:            newID("ord"),
		Items:         make([]domain.OrderLine, 0, len(d.lines)),
		TotalAmount:   d.Subtotal(),
		Discount:      d.discount,
		FinalAmount:   d.Total(),
		PaymentMethod: paymentMethod,
		Status:        domain.OrderStatusCompleted,
		Timestamp:     at,
		PurchaseTotal: d.PurchaseTotal(),
	}
	debits := make([]domain.InventoryRecord, 0, len(d.lines))
	for _, line := range d.lines {
		order.Items = append(order.Items, domain.OrderLine{
			ProductID: line.ProductID,
			Name:      line.Name,
			Price:     line.UnitPrice,
			Quantity:  line.Quantity,
		})
		debits = append(debits, domain.InventoryRecord{
			ID:          newID("inv"),
			ProductID:   line.ProductID,
			ProductName: line.Name,
			Type:        domain.InventoryOut,
			Reason:      domain.ReasonOrder,
			Adjustment:  -line.Quantity,
			OrderID:     order.ID,
			Timestamp:   at,
		})
	}
	return Checkout{Orders: []domain.Order{order}, Debits: debits}, nil
}

func (d *Draft) Clear() {
	d.lines = nil
	d.expenses = nil
	d.discount = 0
}

func (d *Draft) lineIndex(productID string) int {
	return slices.IndexFunc(d.lines, func(l domain.DraftLine) bool { return l.ProductID == productID })
}
