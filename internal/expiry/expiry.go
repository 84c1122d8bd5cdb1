// Package expiry resolves expiry rules to concrete dates and builds
// strike ladders around an ATM strike (spec §4.A).
package expiry

import (
	"sort"
	"time"

	"github.com/g6-platform/g6/internal/domain"
	"github.com/g6-platform/g6/internal/g6err"
)

// Service resolves expiry rules against a candidate date list.
type Service struct {
	WeeklyDOW  time.Weekday
	MonthlyDOW time.Weekday
}

// NewService constructs an expiry Service. Indian derivatives weekly
// expiries land on Thursday, monthly on the last Thursday of the month.
func NewService() *Service {
	return &Service{WeeklyDOW: time.Thursday, MonthlyDOW: time.Thursday}
}

// Select resolves rule against candidates per spec §4.A. Candidates are
// deduplicated, restricted to today-or-later, and sorted ascending
// before rule application.
func (s *Service) Select(rule domain.ExpiryRule, candidates []time.Time, today time.Time) (time.Time, error) {
	filtered := filterFuture(candidates, today)
	if len(filtered) == 0 {
		return time.Time{}, g6err.New(g6err.NoFutureExpiries, "expiry.select", nil)
	}

	switch rule {
	case domain.ThisWeek:
		return filtered[0], nil
	case domain.NextWeek:
		if len(filtered) == 1 {
			return filtered[0], nil
		}
		return filtered[1], nil
	case domain.ThisMonth:
		return s.thisMonth(filtered, today), nil
	case domain.NextMonth:
		return s.nextMonth(filtered, today), nil
	default:
		return time.Time{}, g6err.New(g6err.InputInvalid, "expiry.select", nil)
	}
}

func filterFuture(candidates []time.Time, today time.Time) []time.Time {
	seen := map[string]bool{}
	var out []time.Time
	todayDate := truncateDate(today)
	for _, c := range candidates {
		cd := truncateDate(c)
		if cd.Before(todayDate) {
			continue
		}
		key := cd.Format("2006-01-02")
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, cd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func truncateDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// monthlyAnchors returns, for each distinct (year,month) present in
// sorted candidates, the last date in that month — in month order.
func monthlyAnchors(sorted []time.Time) []time.Time {
	type ym struct {
		y int
		m time.Month
	}
	last := map[ym]time.Time{}
	var order []ym
	for _, c := range sorted {
		k := ym{c.Year(), c.Month()}
		if _, ok := last[k]; !ok {
			order = append(order, k)
		}
		if cur, ok := last[k]; !ok || c.After(cur) {
			last[k] = c
		}
	}
	anchors := make([]time.Time, 0, len(order))
	for _, k := range order {
		anchors = append(anchors, last[k])
	}
	return anchors
}

// thisMonth picks the last candidate whose (year,month) matches today's;
// else falls back to the first monthly anchor (spec §4.A).
func (s *Service) thisMonth(sorted []time.Time, today time.Time) time.Time {
	var best time.Time
	found := false
	for _, c := range sorted {
		if c.Year() == today.Year() && c.Month() == today.Month() {
			if !found || c.After(best) {
				best = c
				found = true
			}
		}
	}
	if found {
		return best
	}
	anchors := monthlyAnchors(sorted)
	if len(anchors) > 0 {
		return anchors[0]
	}
	return sorted[0]
}

// nextMonth returns the second element of the sorted monthly-anchor
// list, or the sole anchor if only one exists (spec §4.A).
func (s *Service) nextMonth(sorted []time.Time, today time.Time) time.Time {
	anchors := monthlyAnchors(sorted)
	if len(anchors) == 0 {
		return sorted[0]
	}
	if len(anchors) == 1 {
		return anchors[0]
	}
	return anchors[1]
}

// IsWeekly reports whether expiry falls on the configured weekly
// day-of-week.
func (s *Service) IsWeekly(expiry time.Time) bool {
	return expiry.Weekday() == s.WeeklyDOW
}

// IsMonthly reports whether expiry is the last occurrence of
// MonthlyDOW within its month.
func (s *Service) IsMonthly(expiry time.Time) bool {
	if expiry.Weekday() != s.MonthlyDOW {
		return false
	}
	next := expiry.AddDate(0, 0, 7)
	return next.Month() != expiry.Month()
}
