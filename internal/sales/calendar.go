package sales

import (
	"slices"
	"time"

	"posledger/internal/domain"
)

type DaySummary struct {
	Date string `json:"date"`
	Summary
}

type MonthSummary struct {
	Year  int        `json:"year"`
	Month time.Month `json:"month"`
	Summary
}

type PaymentTotal struct {
	Method string `json:"method"`
	Amount int64  `json:"amount"`
}

type ExpenseEntry struct {
	OrderID     string    `json:"order_id"`
	Description string    `json:"description"`
	Amount      int64     `json:"amount"`
	Timestamp   time.Time `json:"timestamp"`
}

// DayDetail is the breakdown shown when a calendar day is opened.
type DayDetail struct {
	Date string `json:"date"`
	Summary
	ByPaymentMethod   []PaymentTotal `json:"by_payment_method"`
	DiscountTotal     int64          `json:"discount_total"`
	AverageOrderValue int64          `json:"average_order_value"`
	Expenses          []ExpenseEntry `json:"expenses"`
}

const dateLayout = "2006-01-02"

// MonthGrid returns one summary per calendar day of the month, in date order.
func MonthGrid(orders []domain.Order, year int, month time.Month, loc *time.Location) []DaySummary {
	mw := MonthWindow(year, month, loc)
	var days []DaySummary
	for day := mw.Start; day.Before(mw.End); day = day.AddDate(0, 0, 1) {
		days = append(days, DaySummary{
			Date:    day.Format(dateLayout),
			Summary: Summarize(orders, DayWindow(day, loc)),
		})
	}
	return days
}

func YearSummary(orders []domain.Order, year int, loc *time.Location) []MonthSummary {
	months := make([]MonthSummary, 0, 12)
	for m := time.January; m <= time.December; m++ {
		months = append(months, MonthSummary{
			Year:    year,
			Month:   m,
			Summary: Summarize(orders, MonthWindow(year, m, loc)),
		})
	}
	return months
}

var salePaymentMethods = []string{
	domain.PaymentCash,
	domain.PaymentCard,
	domain.PaymentTransfer,
	domain.PaymentCredit,
}

func Detail(orders []domain.Order, day time.Time, loc *time.Location) DayDetail {
	w := DayWindow(day, loc)
	detail := DayDetail{
		Date:     w.Start.Format(dateLayout),
		Summary:  Summarize(orders, w),
		Expenses: []ExpenseEntry{},
	}
	byMethod := make(map[string]int64, len(salePaymentMethods))
	for _, o := range orders {
		if !counted(o) || !w.Contains(o.Timestamp) {
			continue
		}
		if o.IsExpense {
			detail.Expenses = append(detail.Expenses, ExpenseEntry{
				OrderID:     o.ID,
				Description: o.Memo,
				Amount:      -o.FinalAmount,
				Timestamp:   o.Timestamp,
			})
			continue
		}
		byMethod[o.PaymentMethod] += o.FinalAmount
		detail.DiscountTotal += o.Discount
	}
	for _, m := range salePaymentMethods {
		detail.ByPaymentMethod = append(detail.ByPaymentMethod, PaymentTotal{Method: m, Amount: byMethod[m]})
	}
	slices.SortFunc(detail.Expenses, func(a, b ExpenseEntry) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	detail.AverageOrderValue = roundedRatio(detail.Sales, int64(detail.OrderCount))
	return detail
}
