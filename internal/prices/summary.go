package prices

import (
	"fmt"
	"strings"
	"time"
)

// summaryRecentYears is how many of the latest years get a monthly breakdown.
const summaryRecentYears = 2

// Summary renders the series as a searchable document: per-year high, low,
// average and trading-day count, then a month-by-month breakdown of the most
// recent years. Ingestion indexes it so that retrieval can answer price
// questions the numeric path could not resolve.
func (s *Series) Summary(source string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Bajaj Finserv Stock Price Data from %s\n\n", source)

	years := s.Years()
	b.WriteString("Yearly Statistics:\n")
	for _, y := range years {
		st, ok := Compute(s.filter(func(r Record) bool { return r.Date.Year() == y }))
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "Year %d:\n", y)
		fmt.Fprintf(&b, "  - Highest Price: %s\n", Money(st.Highest))
		fmt.Fprintf(&b, "  - Lowest Price: %s\n", Money(st.Lowest))
		fmt.Fprintf(&b, "  - Average Price: %s\n", Money(st.Average))
		fmt.Fprintf(&b, "  - Trading Days: %d\n\n", st.SampleCount)
	}

	recent := years
	if len(recent) > summaryRecentYears {
		recent = recent[len(recent)-summaryRecentYears:]
	}
	for _, y := range recent {
		fmt.Fprintf(&b, "Monthly Breakdown for %d:\n", y)
		for m := time.January; m <= time.December; m++ {
			st, ok := Compute(s.filter(func(r Record) bool {
				return r.Date.Year() == y && r.Date.Month() == m
			}))
			if !ok {
				continue
			}
			fmt.Fprintf(&b, "  %s: High %s, Low %s, Avg %s\n", m, Money(st.Highest), Money(st.Lowest), Money(st.Average))
		}
		b.WriteString("\n")
	}

	return b.String()
}
