package sales

import (
	"fmt"
	"strings"
	"time"

	"posledger/internal/domain"
)

type Filter string

const (
	Yesterday Filter = "yesterday"
	Today     Filter = "today"
	ThisWeek  Filter = "this_week"
	ThisMonth Filter = "this_month"
	Custom    Filter = "custom"
)

var filterAliases = map[string]Filter{
	"어제":    Yesterday,
	"오늘":    Today,
	"이번 주":  ThisWeek,
	"이번 달":  ThisMonth,
	"직접 선택": Custom,
}

// ParseFilter accepts the canonical names and the Korean labels shown on the
// register. An empty string means today.
func ParseFilter(raw string) (Filter, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Today, nil
	}
	if f, ok := filterAliases[raw]; ok {
		return f, nil
	}
	switch f := Filter(strings.ToLower(raw)); f {
	case Yesterday, Today, ThisWeek, ThisMonth, Custom:
		return f, nil
	}
	return "", fmt.Errorf("%w: unknown sales filter %q", domain.ErrInvalid, raw)
}

// Window is the half-open interval [Start, End).
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

func DayWindow(day time.Time, loc *time.Location) Window {
	start := startOfDay(day, loc)
	return Window{Start: start, End: start.AddDate(0, 0, 1)}
}

// WeekWindow spans Monday 00:00 up to the following Monday. Sunday belongs
// to the week that started six days earlier.
func WeekWindow(ref time.Time, loc *time.Location) Window {
	day := startOfDay(ref, loc)
	offset := int(day.Weekday()) - int(time.Monday)
	if day.Weekday() == time.Sunday {
		offset = 6
	}
	start := day.AddDate(0, 0, -offset)
	return Window{Start: start, End: start.AddDate(0, 0, 7)}
}

func MonthWindow(year int, month time.Month, loc *time.Location) Window {
	start := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	return Window{Start: start, End: start.AddDate(0, 1, 0)}
}

func YearWindow(year int, loc *time.Location) Window {
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, loc)
	return Window{Start: start, End: start.AddDate(1, 0, 0)}
}

// ResolveWindow turns a filter into concrete bounds. now anchors today,
// yesterday, week and month; day is only read for Custom.
func ResolveWindow(f Filter, now time.Time, day time.Time, loc *time.Location) (Window, error) {
	if loc == nil {
		loc = time.UTC
	}
	switch f {
	case Today:
		return DayWindow(now, loc), nil
	case Yesterday:
		return DayWindow(startOfDay(now, loc).AddDate(0, 0, -1), loc), nil
	case ThisWeek:
		return WeekWindow(now, loc), nil
	case ThisMonth:
		local := now.In(loc)
		return MonthWindow(local.Year(), local.Month(), loc), nil
	case Custom:
		if day.IsZero() {
			return Window{}, fmt.Errorf("%w: custom filter needs a date", domain.ErrInvalid)
		}
		return DayWindow(day, loc), nil
	default:
		return Window{}, fmt.Errorf("%w: unknown sales filter %q", domain.ErrInvalid, f)
	}
}
