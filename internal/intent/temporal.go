package intent

import (
	"regexp"
	"strings"
)

// TemporalToken is a fragment of a question that names a period: a year
// ("2023"), a month-year pair ("Jan-22"), a full date ("3-Jan-22") or a bare
// month abbreviation ("jan").
type TemporalToken string

// The numeric families are unanchored so that fiscal-year labels ("FY2023")
// and long years ("Jan-2022" gives "Jan-20") still yield tokens. Month names
// keep word boundaries so "market" is not March.
var (
	yearPattern      = regexp.MustCompile(`\d{4}`)
	monthYearPattern = regexp.MustCompile(`[A-Za-z]{3}-\d{2}`)
	fullDatePattern  = regexp.MustCompile(`\d{1,2}-[A-Za-z]{3}-\d{2}`)
	monYYShape       = regexp.MustCompile(`^[A-Za-z]{3}-\d{2}$`)
	monthNamePattern = regexp.MustCompile(`\b(january|february|march|april|may|june|july|august|september|october|november|december|jan|feb|mar|apr|jun|jul|aug|sept|sep|oct|nov|dec)\b`)
)

// monthAbbrev maps a month name as written to its canonical abbreviation.
var monthAbbrev = map[string]string{
	"january": "jan", "february": "feb", "march": "mar", "april": "apr",
	"may": "may", "june": "jun", "july": "jul", "august": "aug",
	"september": "sep", "sept": "sep", "october": "oct", "november": "nov",
	"december": "dec", "jan": "jan", "feb": "feb", "mar": "mar",
	"apr": "apr", "jun": "jun", "jul": "jul", "aug": "aug",
	"sep": "sep", "oct": "oct", "nov": "nov", "dec": "dec",
}

// monthNumbers maps a lower-case month abbreviation to its calendar number.
var monthNumbers = map[string]int{
	"jan": 1, "feb": 2, "mar": 3, "apr": 4, "may": 5, "jun": 6,
	"jul": 7, "aug": 8, "sep": 9, "oct": 10, "nov": 11, "dec": 12,
}

// ExtractTemporal returns the temporal tokens of question in first-seen
// order without duplicates. Years come first, then month-year pairs, then
// full dates, then month names from the lower-cased text. Calling it twice
// on the same input yields the same sequence.
func ExtractTemporal(question string) []TemporalToken {
	var tokens []TemporalToken
	seen := make(map[string]bool)
	add := func(s string) {
		if seen[s] {
			return
		}
		seen[s] = true
		tokens = append(tokens, TemporalToken(s))
	}

	for _, p := range []*regexp.Regexp{yearPattern, monthYearPattern, fullDatePattern} {
		for _, m := range p.FindAllString(question, -1) {
			add(m)
		}
	}

	for _, m := range monthNamePattern.FindAllString(strings.ToLower(question), -1) {
		add(monthAbbrev[m])
	}

	return tokens
}

// IsYear reports whether the token is a four-digit year.
func (t TemporalToken) IsYear() bool {
	if len(t) != 4 {
		return false
	}
	for _, r := range t {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Month returns the calendar month of a mon-yy token ("Jan-22" is 1).
// Other shapes, and mon-yy tokens whose prefix is not a month, report false.
func (t TemporalToken) Month() (int, bool) {
	s := string(t)
	if !monYYShape.MatchString(s) {
		return 0, false
	}
	n, ok := monthNumbers[strings.ToLower(s[:3])]
	return n, ok
}
