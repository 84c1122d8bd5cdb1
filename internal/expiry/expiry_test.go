package expiry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/g6-platform/g6/internal/domain"
	"github.com/g6-platform/g6/internal/g6err"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestSelect_ThisWeekAndNextWeek(t *testing.T) {
	svc := NewService()
	today := date(2026, time.July, 6) // a Monday
	candidates := []time.Time{
		date(2026, time.July, 9),  // Thursday this week
		date(2026, time.July, 16), // Thursday next week
		date(2026, time.July, 30), // monthly expiry
	}

	got, err := svc.Select(domain.ThisWeek, candidates, today)
	require.NoError(t, err)
	assert.True(t, got.Equal(date(2026, time.July, 9)))

	got, err = svc.Select(domain.NextWeek, candidates, today)
	require.NoError(t, err)
	assert.True(t, got.Equal(date(2026, time.July, 16)))
}

func TestSelect_NextWeekFallsBackWhenOnlyOneCandidate(t *testing.T) {
	svc := NewService()
	today := date(2026, time.July, 6)
	candidates := []time.Time{date(2026, time.July, 9)}

	got, err := svc.Select(domain.NextWeek, candidates, today)
	require.NoError(t, err)
	assert.True(t, got.Equal(date(2026, time.July, 9)))
}

func TestSelect_ThisMonthPrefersCurrentMonthAnchor(t *testing.T) {
	svc := NewService()
	today := date(2026, time.July, 6)
	candidates := []time.Time{
		date(2026, time.July, 9),
		date(2026, time.July, 30), // last Thursday in July
		date(2026, time.August, 27),
	}

	got, err := svc.Select(domain.ThisMonth, candidates, today)
	require.NoError(t, err)
	assert.True(t, got.Equal(date(2026, time.July, 30)))
}

func TestSelect_ThisMonthFallsBackToFirstAnchorWhenCurrentMonthExhausted(t *testing.T) {
	svc := NewService()
	// Today is already past every July candidate; only August remains.
	today := date(2026, time.July, 31)
	candidates := []time.Time{
		date(2026, time.August, 27),
		date(2026, time.September, 24),
	}

	got, err := svc.Select(domain.ThisMonth, candidates, today)
	require.NoError(t, err)
	assert.True(t, got.Equal(date(2026, time.August, 27)))
}

func TestSelect_NextMonth(t *testing.T) {
	svc := NewService()
	today := date(2026, time.July, 6)
	candidates := []time.Time{
		date(2026, time.July, 30),
		date(2026, time.August, 27),
		date(2026, time.September, 24),
	}

	got, err := svc.Select(domain.NextMonth, candidates, today)
	require.NoError(t, err)
	assert.True(t, got.Equal(date(2026, time.August, 27)))
}

func TestSelect_NoFutureExpiriesError(t *testing.T) {
	svc := NewService()
	today := date(2026, time.July, 6)
	candidates := []time.Time{date(2026, time.July, 1)} // already past

	_, err := svc.Select(domain.ThisWeek, candidates, today)
	require.Error(t, err)
	assert.True(t, g6err.OfKind(err, g6err.NoFutureExpiries))
}

func TestSelect_UnknownRule(t *testing.T) {
	svc := NewService()
	today := date(2026, time.July, 6)
	candidates := []time.Time{date(2026, time.July, 9)}

	_, err := svc.Select(domain.ExpiryRule("bogus"), candidates, today)
	require.Error(t, err)
	assert.True(t, g6err.OfKind(err, g6err.InputInvalid))
}

func TestSelect_DeduplicatesAndIgnoresPast(t *testing.T) {
	svc := NewService()
	today := date(2026, time.July, 6)
	candidates := []time.Time{
		date(2026, time.July, 1), // past, dropped
		date(2026, time.July, 9),
		time.Date(2026, time.July, 9, 12, 0, 0, 0, time.UTC), // same day, dup
	}

	got, err := svc.Select(domain.ThisWeek, candidates, today)
	require.NoError(t, err)
	assert.True(t, got.Equal(date(2026, time.July, 9)))
}

func TestIsWeeklyAndIsMonthly(t *testing.T) {
	svc := NewService()
	assert.True(t, svc.IsWeekly(date(2026, time.July, 9)))
	assert.False(t, svc.IsWeekly(date(2026, time.July, 10)))

	assert.True(t, svc.IsMonthly(date(2026, time.July, 30)))
	assert.False(t, svc.IsMonthly(date(2026, time.July, 9)))
}
