// Package sales derives dashboard figures from the order ledger. Every
// function is pure and ignores cancelled orders.
package sales

import (
	"cmp"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"posledger/internal/domain"
)

type Summary struct {
	Sales         int64 `json:"sales"`
	Purchases     int64 `json:"purchases"`
	OtherExpenses int64 `json:"other_expenses"`
	Profit        int64 `json:"profit"`
	OrderCount    int   `json:"order_count"`
}

type Ranking struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

type HourlyBucket struct {
	Hour   int   `json:"hour"`
	Amount int64 `json:"amount"`
}

func counted(o domain.Order) bool {
	return o.Status != domain.OrderStatusCancelled
}

func Summarize(orders []domain.Order, w Window) Summary {
	var s Summary
	for _, o := range orders {
		if !counted(o) || !w.Contains(o.Timestamp) {
			continue
		}
		if o.IsExpense {
			s.OtherExpenses -= o.FinalAmount
			continue
		}
		s.Sales += o.FinalAmount
		s.Purchases += o.PurchaseTotal
		s.OrderCount++
	}
	s.Profit = s.Sales - s.Purchases - s.OtherExpenses
	return s
}

// Hourly buckets sale amounts by local hour of day.
func Hourly(orders []domain.Order, w Window, loc *time.Location) []HourlyBucket {
	buckets := make([]HourlyBucket, 24)
	for h := range buckets {
		buckets[h].Hour = h
	}
	for _, o := range orders {
		if !counted(o) || o.IsExpense || !w.Contains(o.Timestamp) {
			continue
		}
		buckets[o.Timestamp.In(loc).Hour()].Amount += o.FinalAmount
	}
	return buckets
}

// Rankings totals quantity per product name, highest first. Equal
// quantities are ordered by name so the result does not depend on ledger order.
func Rankings(orders []domain.Order, w Window) []Ranking {
	totals := map[string]int{}
	for _, o := range orders {
		if !counted(o) || o.IsExpense || !w.Contains(o.Timestamp) {
			continue
		}
		for _, item := range o.Items {
			totals[item.Name] += item.Quantity
		}
	}
	out := make([]Ranking, 0, len(totals))
	for name, qty := range totals {
		out = append(out, Ranking{Name: name, Quantity: qty})
	}
	slices.SortFunc(out, func(a, b Ranking) int {
		if c := cmp.Compare(b.Quantity, a.Quantity); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return out
}

// InventoryRate is a rough consumption figure: sale lines in the window as a
// rounded percentage of every order on the ledger. Zero when the window holds
// no orders.
func InventoryRate(orders []domain.Order, w Window) int {
	var inWindow, lines, ledger int64
	for _, o := range orders {
		if !counted(o) {
			continue
		}
		ledger++
		if !w.Contains(o.Timestamp) {
			continue
		}
		inWindow++
		if !o.IsExpense {
			lines += int64(len(o.Items))
		}
	}
	if inWindow == 0 {
		return 0
	}
	return int(percent(lines, ledger))
}

func percent(part, whole int64) int64 {
	if whole == 0 {
		return 0
	}
	return decimal.NewFromInt(part).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(whole)).
		Round(0).
		IntPart()
}

// roundedRatio divides and rounds half away from zero.
func roundedRatio(num, den int64) int64 {
	if den == 0 {
		return 0
	}
	return decimal.NewFromInt(num).Div(decimal.NewFromInt(den)).Round(0).IntPart()
}

// TodaySales is the header figure shown regardless of the selected filter.
func TodaySales(orders []domain.Order, now time.Time, loc *time.Location) int64 {
	return Summarize(orders, DayWindow(now, loc)).Sales
}
