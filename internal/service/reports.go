package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"posledger/internal/domain"
	"posledger/internal/sales"
)

const dayLayout = "2006-01-02"

// SalesDashboard resolves the filter against the shop clock and aggregates
// the whole ledger. Results are cached until the next ledger write.
func (s *Service) SalesDashboard(ctx context.Context, actor domain.Actor, filter string, day string) (sales.Dashboard, error) {
	if err := requireRole(actor, backOfficeRoles); err != nil {
		return sales.Dashboard{}, err
	}
	f, err := sales.ParseFilter(filter)
	if err != nil {
		return sales.Dashboard{}, err
	}
	var picked time.Time
	if f == sales.Custom {
		if picked, err = s.parseDay(day); err != nil {
			return sales.Dashboard{}, err
		}
	}
	now := s.now()
	window, err := sales.ResolveWindow(f, now, picked, s.loc)
	if err != nil {
		return sales.Dashboard{}, err
	}

	key := fmt.Sprintf("dashboard:%s:%d:%s", f, window.Start.Unix(), now.In(s.loc).Format(dayLayout))
	// gen is captured before the ledger is read so a concurrent write
	// retires whatever this call ends up caching.
	cached, gen, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn().Err(err).Msg("sales cache read failed")
		gen = ""
	} else if ok {
		s.cacheLookup("hit")
		return *cached, nil
	}
	s.cacheLookup("miss")

	orders, err := s.repo.ListOrders(ctx, domain.OrderQuery{})
	if err != nil {
		return sales.Dashboard{}, err
	}
	dashboard := sales.BuildDashboard(orders, f, window, now, s.loc)
	if err := s.cache.Set(ctx, gen, key, &dashboard, s.cacheTTL); err != nil {
		s.logger.Warn().Err(err).Msg("sales cache write failed")
	}
	return dashboard, nil
}

func (s *Service) cacheLookup(result string) {
	if s.metrics != nil {
		s.metrics.SalesCacheLookups.WithLabelValues(result).Inc()
	}
}

// MonthGrid returns one summary per day of the month. An empty month string
// means the current month.
func (s *Service) MonthGrid(ctx context.Context, actor domain.Actor, month string) ([]sales.DaySummary, error) {
	if err := requireRole(actor, backOfficeRoles); err != nil {
		return nil, err
	}
	year, m, err := s.parseMonth(month)
	if err != nil {
		return nil, err
	}
	orders, err := s.ordersIn(ctx, sales.MonthWindow(year, m, s.loc))
	if err != nil {
		return nil, err
	}
	return sales.MonthGrid(orders, year, m, s.loc), nil
}

func (s *Service) DayDetail(ctx context.Context, actor domain.Actor, day string) (sales.DayDetail, error) {
	if err := requireRole(actor, backOfficeRoles); err != nil {
		return sales.DayDetail{}, err
	}
	picked := s.now()
	if strings.TrimSpace(day) != "" {
		var err error
		if picked, err = s.parseDay(day); err != nil {
			return sales.DayDetail{}, err
		}
	}
	orders, err := s.ordersIn(ctx, sales.DayWindow(picked, s.loc))
	if err != nil {
		return sales.DayDetail{}, err
	}
	return sales.Detail(orders, picked, s.loc), nil
}

func (s *Service) YearSummary(ctx context.Context, actor domain.Actor, year int) ([]sales.MonthSummary, error) {
	if err := requireRole(actor, backOfficeRoles); err != nil {
		return nil, err
	}
	if year == 0 {
		year = s.now().In(s.loc).Year()
	}
	if year < 2000 || year > 9999 {
		return nil, fmt.Errorf("%w: year out of range", domain.ErrInvalid)
	}
	orders, err := s.ordersIn(ctx, sales.YearWindow(year, s.loc))
	if err != nil {
		return nil, err
	}
	return sales.YearSummary(orders, year, s.loc), nil
}

func (s *Service) ordersIn(ctx context.Context, w sales.Window) ([]domain.Order, error) {
	return s.repo.ListOrders(ctx, domain.OrderQuery{From: &w.Start, To: &w.End})
}

func (s *Service) parseDay(raw string) (time.Time, error) {
	day, err := time.ParseInLocation(dayLayout, strings.TrimSpace(raw), s.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date must be YYYY-MM-DD", domain.ErrInvalid)
	}
	return day, nil
}

func (s *Service) parseMonth(raw string) (int, time.Month, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		now := s.now().In(s.loc)
		return now.Year(), now.Month(), nil
	}
	parsed, err := time.ParseInLocation("2006-01", raw, s.loc)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: month must be YYYY-MM", domain.ErrInvalid)
	}
	return parsed.Year(), parsed.Month(), nil
}
