package price

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtlprog/fundo/internal/domain"
)

func testSeries() Series {
	return NewSeries([]domain.PriceSnapshot{
		{Date: day("2024-01-05"), PriceEUR: dec("5")},
		{Date: day("2024-01-01"), PriceEUR: dec("1")},
		{Date: day("2024-01-03"), PriceEUR: dec("3")},
		{Date: day("2024-01-03"), PriceEUR: dec("33")},
	})
}

func TestNewSeriesSortsAndDedups(t *testing.T) {
	s := testSeries()
	require.Len(t, s, 3)
	assert.Equal(t, day("2024-01-01"), s[0].Date)
	assert.True(t, s[1].Value.Equal(dec("33")), "last duplicate wins")
	assert.Equal(t, day("2024-01-05"), s[2].Date)
}

func TestSeriesAt(t *testing.T) {
	s := testSeries()
	tests := []struct {
		date string
		want string
		ok   bool
	}{
		{"2023-12-31", "", false},
		{"2024-01-01", "1", true},
		{"2024-01-02", "1", true},
		{"2024-01-03", "33", true},
		{"2024-01-04", "33", true},
		{"2024-02-01", "5", true},
	}
	for _, tt := range tests {
		t.Run(tt.date, func(t *testing.T) {
			p, ok := s.At(day(tt.date))
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.True(t, p.Value.Equal(dec(tt.want)), "got %s", p.Value)
			}
		})
	}

	_, ok := Series(nil).At(day("2024-01-01"))
	assert.False(t, ok)
}

func TestSeriesExact(t *testing.T) {
	s := testSeries()
	_, ok := s.Exact(day("2024-01-04"))
	assert.False(t, ok)
	p, ok := s.Exact(time.Date(2024, 1, 5, 22, 0, 0, 0, time.UTC))
	require.True(t, ok)
	assert.True(t, p.Value.Equal(dec("5")))
}

func TestSeriesAlignTo(t *testing.T) {
	s := testSeries()
	dates := domain.DaysBetween(day("2023-12-30"), day("2024-01-06"))
	got := s.AlignTo(dates)

	assert.Len(t, got, 6)
	_, ok := got[day("2023-12-31")]
	assert.False(t, ok)
	assert.True(t, got[day("2024-01-02")].Equal(dec("1")))
	assert.True(t, got[day("2024-01-04")].Equal(dec("33")))
	assert.True(t, got[day("2024-01-06")].Equal(dec("5")))
}
