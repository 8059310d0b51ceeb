package price

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mtlprog/fundo/internal/domain"
)

// Point is one dated value of a series.
type Point struct {
	Date  time.Time
	Value decimal.Decimal
}

// Series is a date-ascending list of points with at most one point per day.
type Series []Point

// NewSeries builds a Series from snapshots, sorting by date and keeping the
// last value seen for a duplicated day.
func NewSeries(snaps []domain.PriceSnapshot) Series {
	s := make(Series, 0, len(snaps))
	for _, snap := range snaps {
		s = append(s, Point{Date: domain.Day(snap.Date), Value: snap.PriceEUR})
	}
	slices.SortStableFunc(s, func(a, b Point) int { return a.Date.Compare(b.Date) })
	out := s[:0]
	for i, p := range s {
		if i+1 < len(s) && s[i+1].Date.Equal(p.Date) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// At returns the last point dated on or before date.
func (s Series) At(date time.Time) (Point, bool) {
	date = domain.Day(date)
	// first index strictly after date
	i, _ := slices.BinarySearchFunc(s, date, func(p Point, d time.Time) int {
		if p.Date.After(d) {
			return 1
		}
		return -1
	})
	if i == 0 {
		return Point{}, false
	}
	return s[i-1], true
}

// Exact returns the point dated exactly on date.
func (s Series) Exact(date time.Time) (Point, bool) {
	p, ok := s.At(date)
	if !ok || !p.Date.Equal(domain.Day(date)) {
		return Point{}, false
	}
	return p, true
}

// AlignTo pairs every date with the last value of s dated on or before it.
// dates must be ascending; the walk is a single two-pointer merge.
// Dates preceding the first point of s are absent from the result.
func (s Series) AlignTo(dates []time.Time) map[time.Time]decimal.Decimal {
	out := make(map[time.Time]decimal.Decimal, len(dates))
	j := -1
	for _, d := range dates {
		d = domain.Day(d)
		for j+1 < len(s) && !s[j+1].Date.After(d) {
			j++
		}
		if j >= 0 {
			out[d] = s[j].Value
		}
	}
	return out
}
