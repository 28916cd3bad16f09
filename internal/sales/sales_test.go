package sales

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"posledger/internal/domain"
)

var seoul = mustLoad("Asia/Seoul")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone("KST", 9*60*60)
	}
	return loc
}

func at(day, hour int) time.Time {
	return time.Date(2024, time.May, day, hour, 15, 0, 0, seoul)
}

func sale(id string, ts time.Time, final, purchase, discount int64, method string, items ...domain.OrderLine) domain.Order {
	return domain.Order{
		ID:            id,
		Items:         items,
		TotalAmount:   final + discount,
		Discount:      discount,
		FinalAmount:   final,
		PurchaseTotal: purchase,
		PaymentMethod: method,
		Status:        domain.OrderStatusCompleted,
		Timestamp:     ts,
	}
}

func expense(id string, ts time.Time, amount int64, memo string) domain.Order {
	return domain.Order{
		ID:            id,
		Items:         []domain.OrderLine{},
		TotalAmount:   -amount,
		FinalAmount:   -amount,
		PaymentMethod: domain.PaymentExpense,
		Status:        domain.OrderStatusCompleted,
		Timestamp:     ts,
		IsExpense:     true,
		Memo:          memo,
	}
}

func line(name string, qty int) domain.OrderLine {
	return domain.OrderLine{ProductID: "p-" + name, Name: name, Price: 1000, Quantity: qty}
}

func ledger() []domain.Order {
	cancelled := sale("o-x", at(15, 12), 99000, 0, 0, domain.PaymentCash, line("Latte", 50))
	cancelled.Status = domain.OrderStatusCancelled
	return []domain.Order{
		sale("o-1", at(15, 9), 2300, 1200, 200, domain.PaymentCash, line("Americano", 2), line("Latte", 1)),
		sale("o-2", at(15, 13), 4000, 2000, 0, domain.PaymentCard, line("Latte", 2), line("Mocha", 2)),
		sale("o-3", at(15, 13), 1000, 400, 0, domain.PaymentTransfer, line("Americano", 1)),
		expense("e-1", at(15, 18), 5000, "fuel"),
		sale("o-4", at(14, 10), 3000, 1000, 0, domain.PaymentCredit, line("Mocha", 3)),
		cancelled,
	}
}

func TestSummarizeExcludesCancelledAndSplitsExpenses(t *testing.T) {
	s := Summarize(ledger(), DayWindow(at(15, 0), seoul))

	assert.Equal(t, int64(7300), s.Sales)
	assert.Equal(t, int64(3600), s.Purchases)
	assert.Equal(t, int64(5000), s.OtherExpenses)
	assert.Equal(t, int64(7300-3600-5000), s.Profit)
	assert.Equal(t, 3, s.OrderCount)
}

func TestHourlyBucketsSumToSales(t *testing.T) {
	orders := ledger()
	w := WeekWindow(at(15, 0), seoul)

	buckets := Hourly(orders, w, seoul)
	require.Len(t, buckets, 24)
	var total int64
	for _, b := range buckets {
		total += b.Amount
	}
	assert.Equal(t, Summarize(orders, w).Sales, total)
	assert.Equal(t, int64(5000), buckets[13].Amount)
	assert.Zero(t, buckets[18].Amount)
}

func TestAggregationIgnoresLedgerOrder(t *testing.T) {
	orders := ledger()
	w := WeekWindow(at(15, 0), seoul)
	wantSummary := Summarize(orders, w)
	wantRankings := Rankings(orders, w)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		shuffled := append([]domain.Order(nil), orders...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		assert.Equal(t, wantSummary, Summarize(shuffled, w))
		assert.Equal(t, wantRankings, Rankings(shuffled, w))
	}
}

func TestRankingsTieBreakByName(t *testing.T) {
	got := Rankings(ledger(), DayWindow(at(15, 0), seoul))
	assert.Equal(t, []Ranking{
		{Name: "Americano", Quantity: 3},
		{Name: "Latte", Quantity: 3},
		{Name: "Mocha", Quantity: 2},
	}, got)
}

func TestWeekWindowFromWednesday(t *testing.T) {
	// 2024-05-15 is a Wednesday
	w := WeekWindow(at(15, 16), seoul)
	assert.Equal(t, time.Date(2024, time.May, 13, 0, 0, 0, 0, seoul), w.Start)
	assert.Equal(t, time.Date(2024, time.May, 20, 0, 0, 0, 0, seoul), w.End)

	sundayLate := time.Date(2024, time.May, 19, 23, 59, 59, 999_000_000, seoul)
	assert.True(t, w.Contains(sundayLate))
	assert.True(t, w.Contains(w.Start))
	assert.False(t, w.Contains(w.End))
}

func TestWeekWindowFromSundayGoesBackSixDays(t *testing.T) {
	w := WeekWindow(time.Date(2024, time.May, 19, 8, 0, 0, 0, seoul), seoul)
	assert.Equal(t, time.Date(2024, time.May, 13, 0, 0, 0, 0, seoul), w.Start)
}

func TestResolveWindow(t *testing.T) {
	now := at(15, 11)

	w, err := ResolveWindow(Yesterday, now, time.Time{}, seoul)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, time.May, 14, 0, 0, 0, 0, seoul), w.Start)

	w, err = ResolveWindow(ThisMonth, now, time.Time{}, seoul)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, time.June, 1, 0, 0, 0, 0, seoul), w.End)

	_, err = ResolveWindow(Custom, now, time.Time{}, seoul)
	require.ErrorIs(t, err, domain.ErrInvalid)

	w, err = ResolveWindow(Custom, now, at(2, 0), seoul)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, time.May, 2, 0, 0, 0, 0, seoul), w.Start)
}

func TestParseFilterAcceptsKoreanLabels(t *testing.T) {
	f, err := ParseFilter("이번 주")
	require.NoError(t, err)
	assert.Equal(t, ThisWeek, f)

	f, err = ParseFilter("")
	require.NoError(t, err)
	assert.Equal(t, Today, f)

	_, err = ParseFilter("fortnight")
	require.ErrorIs(t, err, domain.ErrInvalid)
}

func TestInventoryRate(t *testing.T) {
	orders := ledger()
	// five live orders on the ledger; the 15th holds five sale lines, the 14th one
	assert.Equal(t, 100, InventoryRate(orders, DayWindow(at(15, 0), seoul)))
	assert.Equal(t, 20, InventoryRate(orders, DayWindow(at(14, 0), seoul)))
	assert.Zero(t, InventoryRate(orders, DayWindow(at(1, 0), seoul)))
}

func TestMonthGridAndYearSummary(t *testing.T) {
	orders := ledger()

	grid := MonthGrid(orders, 2024, time.May, seoul)
	require.Len(t, grid, 31)
	assert.Equal(t, "2024-05-14", grid[13].Date)
	assert.Equal(t, int64(3000), grid[13].Sales)
	assert.Equal(t, int64(7300), grid[14].Sales)
	assert.Zero(t, grid[0].OrderCount)

	year := YearSummary(orders, 2024, seoul)
	require.Len(t, year, 12)
	assert.Equal(t, int64(10300), year[4].Sales)
	assert.Zero(t, year[0].Sales)
}

func TestDetailBreaksDownPaymentsAndExpenses(t *testing.T) {
	d := Detail(ledger(), at(15, 0), seoul)

	assert.Equal(t, "2024-05-15", d.Date)
	assert.Equal(t, []PaymentTotal{
		{Method: domain.PaymentCash, Amount: 2300},
		{Method: domain.PaymentCard, Amount: 4000},
		{Method: domain.PaymentTransfer, Amount: 1000},
		{Method: domain.PaymentCredit, Amount: 0},
	}, d.ByPaymentMethod)
	assert.Equal(t, int64(200), d.DiscountTotal)
	assert.Equal(t, int64(2433), d.AverageOrderValue)
	require.Len(t, d.Expenses, 1)
	assert.Equal(t, "fuel", d.Expenses[0].Description)
	assert.Equal(t, int64(5000), d.Expenses[0].Amount)
}

func TestBuildDashboardCarriesTodaySales(t *testing.T) {
	orders := ledger()
	now := at(15, 20)
	w, err := ResolveWindow(Yesterday, now, time.Time{}, seoul)
	require.NoError(t, err)

	dash := BuildDashboard(orders, Yesterday, w, now, seoul)
	assert.Equal(t, int64(3000), dash.Summary.Sales)
	assert.Equal(t, int64(7300), dash.TodaySales)
	assert.Equal(t, []Ranking{{Name: "Mocha", Quantity: 3}}, dash.Rankings)
}
