package sales

import (
	"time"

	"posledger/internal/domain"
)

type Dashboard struct {
	Filter        Filter         `json:"filter"`
	Window        Window         `json:"window"`
	Summary       Summary        `json:"summary"`
	Hourly        []HourlyBucket `json:"hourly"`
	Rankings      []Ranking      `json:"rankings"`
	InventoryRate int            `json:"inventory_rate"`
	TodaySales    int64          `json:"today_sales"`
}

func BuildDashboard(orders []domain.Order, f Filter, w Window, now time.Time, loc *time.Location) Dashboard {
	return Dashboard{
		Filter:        f,
		Window:        w,
		Summary:       Summarize(orders, w),
		Hourly:        Hourly(orders, w, loc),
		Rankings:      Rankings(orders, w),
		InventoryRate: InventoryRate(orders, w),
		TodaySales:    TodaySales(orders, now, loc),
	}
}
