// Package prices loads a daily closing-price series and answers period
// statistics questions over it.
package prices

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Currency prefixes every amount the package renders.
const Currency = "₹"

// Record is one trading day.
type Record struct {
	Date  time.Time
	Close decimal.Decimal
}

// Series is an immutable, date-ascending sequence of records. It is safe for
// concurrent readers.
type Series struct {
	records []Record
}

// NewSeries copies records and sorts them by date.
func NewSeries(records []Record) *Series {
	rs := make([]Record, len(records))
	copy(rs, records)
	sort.SliceStable(rs, func(i, j int) bool { return rs[i].Date.Before(rs[j].Date) })
	return &Series{records: rs}
}

// Len returns the number of records; a nil Series has none.
func (s *Series) Len() int {
	if s == nil {
		return 0
	}
	return len(s.records)
}

// Records returns a copy of the records in date order.
func (s *Series) Records() []Record {
	if s == nil {
		return nil
	}
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// Years returns the distinct calendar years present, ascending.
func (s *Series) Years() []int {
	var years []int
	for _, r := range s.Records() {
		y := r.Date.Year()
		if len(years) == 0 || years[len(years)-1] != y {
			years = append(years, y)
		}
	}
	return years
}

// Span returns the first and last trading dates.
func (s *Series) Span() (first, last time.Time) {
	if s.Len() == 0 {
		return time.Time{}, time.Time{}
	}
	return s.records[0].Date, s.records[len(s.records)-1].Date
}

// filter returns the records for which keep reports true.
func (s *Series) filter(keep func(Record) bool) []Record {
	var out []Record
	for _, r := range s.records {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}
