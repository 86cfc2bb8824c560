package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Monday 2025-06-02 is the anchor week for most cases below.
func mustTime(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, value)
	require.NoError(t, err)
	return parsed.UTC()
}

func TestNextBusinessSendTime(t *testing.T) {
	policy := DefaultPolicy()

	tests := []struct {
		name      string
		base      string
		delayDays int
		want      string
	}{
		{
			name:      "inside window is preserved",
			base:      "2025-06-02T10:30:00Z",
			delayDays: 0,
			want:      "2025-06-02T10:30:00Z",
		},
		{
			name:      "before window snaps to same day 09:00",
			base:      "2025-06-02T06:15:00Z",
			delayDays: 0,
			want:      "2025-06-02T09:00:00Z",
		},
		{
			name:      "at window end rolls to next day 09:00",
			base:      "2025-06-02T17:00:00Z",
			delayDays: 0,
			want:      "2025-06-03T09:00:00Z",
		},
		{
			name:      "after window rolls to next day 09:00",
			base:      "2025-06-02T21:45:00Z",
			delayDays: 0,
			want:      "2025-06-03T09:00:00Z",
		},
		{
			name:      "delay lands mid-week inside window",
			base:      "2025-06-02T11:00:00Z",
			delayDays: 2,
			want:      "2025-06-04T11:00:00Z",
		},
		{
			name:      "delay lands on Saturday shifts to Monday 09:00",
			base:      "2025-06-05T10:00:00Z",
			delayDays: 2,
			want:      "2025-06-09T09:00:00Z",
		},
		{
			name:      "delay lands on Sunday shifts to Monday 09:00",
			base:      "2025-06-05T10:00:00Z",
			delayDays: 3,
			want:      "2025-06-09T09:00:00Z",
		},
		{
			name:      "Friday evening rolls over the weekend",
			base:      "2025-06-06T18:00:00Z",
			delayDays: 0,
			want:      "2025-06-09T09:00:00Z",
		},
		{
			name:      "Saturday morning base shifts to Monday",
			base:      "2025-06-07T10:00:00Z",
			delayDays: 0,
			want:      "2025-06-09T09:00:00Z",
		},
		{
			name:      "Sunday before window shifts to Monday",
			base:      "2025-06-08T07:00:00Z",
			delayDays: 0,
			want:      "2025-06-09T09:00:00Z",
		},
		{
			name:      "negative delay treated as zero",
			base:      "2025-06-02T10:00:00Z",
			delayDays: -3,
			want:      "2025-06-02T10:00:00Z",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := policy.NextBusinessSendTime(mustTime(t, tt.base), tt.delayDays)
			assert.Equal(t, mustTime(t, tt.want), got.UTC())
		})
	}
}

func TestNextBusinessSendTimeAlwaysInWindow(t *testing.T) {
	policy := DefaultPolicy()
	base := mustTime(t, "2025-06-01T00:00:00Z")

	// Walk hour by hour across four weeks with a spread of delays; the
	// result must always land on a weekday inside the window.
	for hour := 0; hour < 24*28; hour++ {
		for _, delay := range []int{0, 1, 2, 3, 5, 7, 14} {
			got := policy.NextBusinessSendTime(base.Add(time.Duration(hour)*time.Hour), delay)

			assert.NotEqual(t, time.Saturday, got.Weekday(), "base hour %d delay %d", hour, delay)
			assert.NotEqual(t, time.Sunday, got.Weekday(), "base hour %d delay %d", hour, delay)
			assert.GreaterOrEqual(t, got.Hour(), DefaultStartHour, "base hour %d delay %d", hour, delay)
			assert.Less(t, got.Hour(), DefaultEndHour, "base hour %d delay %d", hour, delay)
		}
	}
}

func TestNewPolicyFallbacks(t *testing.T) {
	p := NewPolicy(-1, 30, nil)
	got := p.NextBusinessSendTime(mustTime(t, "2025-06-02T06:00:00Z"), 0)
	assert.Equal(t, DefaultStartHour, got.Hour())

	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	p = NewPolicy(9, 17, loc)
	// 13:00 UTC on a Monday is 09:00 in New York, inside the window.
	got = p.NextBusinessSendTime(mustTime(t, "2025-06-02T13:00:00Z"), 0)
	assert.Equal(t, 9, got.Hour())
	assert.Equal(t, "America/New_York", got.Location().String())
}
