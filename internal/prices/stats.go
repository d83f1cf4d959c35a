package prices

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/kalambet/finrag/internal/intent"
	"github.com/shopspring/decimal"
)

const (
	textNoData      = "Stock price data not available."
	textNoDateRange = "No specific date range found in the question."
)

// OutcomeKind classifies the result of a statistics request.
type OutcomeKind int

const (
	// Computed means Stats holds figures for a non-empty period.
	Computed OutcomeKind = iota
	// NoData means no price series is loaded.
	NoData
	// NoDateRange means the question named no period.
	NoDateRange
	// Unavailable means the period matched no trading day.
	Unavailable
	// Failed means an internal fault was converted to text.
	Failed
)

func (k OutcomeKind) String() string {
	switch k {
	case Computed:
		return "computed"
	case NoData:
		return "no_data"
	case NoDateRange:
		return "no_date_range"
	case Unavailable:
		return "unavailable"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("OutcomeKind(%d)", int(k))
}

// Statistics summarises the close prices of a filtered period.
type Statistics struct {
	PeriodStart time.Time
	PeriodEnd   time.Time
	Highest     decimal.Decimal
	Lowest      decimal.Decimal
	Average     decimal.Decimal
	SampleCount int
}

// Outcome is what a statistics request produces. Text is always set and is
// what a user sees.
type Outcome struct {
	Kind           OutcomeKind
	Text           string
	Stats          *Statistics
	AvailableYears []int
}

// Sentinel reports whether the outcome carries no answer at all, so a caller
// should fall back to document retrieval. Unavailable and Failed outcomes are
// still answers.
func (o Outcome) Sentinel() bool {
	return o.Kind == NoData || o.Kind == NoDateRange
}

// Compute returns statistics over records. It reports false for an empty
// slice, in which case no Statistics value exists.
func Compute(records []Record) (Statistics, bool) {
	if len(records) == 0 {
		return Statistics{}, false
	}
	st := Statistics{
		PeriodStart: records[0].Date,
		PeriodEnd:   records[0].Date,
		Highest:     records[0].Close,
		Lowest:      records[0].Close,
		SampleCount: len(records),
	}
	sum := decimal.Zero
	for _, r := range records {
		sum = sum.Add(r.Close)
		if r.Close.GreaterThan(st.Highest) {
			st.Highest = r.Close
		}
		if r.Close.LessThan(st.Lowest) {
			st.Lowest = r.Close
		}
		if r.Date.Before(st.PeriodStart) {
			st.PeriodStart = r.Date
		}
		if r.Date.After(st.PeriodEnd) {
			st.PeriodEnd = r.Date
		}
	}
	st.Average = sum.Div(decimal.NewFromInt(int64(len(records))))
	return st, true
}

// Statistics answers a price question over the period the tokens name.
//
// The first four-digit year token restricts the series to that calendar
// year; later year tokens are ignored. Every mon-yy token adds its month to
// a month filter applied after the year filter. The text names the highest,
// lowest or average close when the question asks for one, otherwise all
// three. Faults are recovered into a Failed outcome.
func (s *Series) Statistics(tokens []intent.TemporalToken, question string) (out Outcome) {
	if s.Len() == 0 {
		return Outcome{Kind: NoData, Text: textNoData}
	}
	if len(tokens) == 0 {
		return Outcome{Kind: NoDateRange, Text: textNoDateRange}
	}
	return guard(func() Outcome { return s.statistics(tokens, question) })
}

// guard converts a panic in fn into a Failed outcome.
func guard(fn func() Outcome) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("price statistics panicked", "panic", r)
			out = Outcome{Kind: Failed, Text: fmt.Sprintf("Error processing stock data: %v", r)}
		}
	}()
	return fn()
}

func (s *Series) statistics(tokens []intent.TemporalToken, question string) Outcome {
	year := 0
	months := make(map[int]bool)
	for _, t := range tokens {
		if year == 0 && t.IsYear() {
			year, _ = strconv.Atoi(string(t))
		}
		if m, ok := t.Month(); ok {
			months[m] = true
		}
	}

	filtered := s.filter(func(r Record) bool {
		if year != 0 && r.Date.Year() != year {
			return false
		}
		if len(months) > 0 && !months[int(r.Date.Month())] {
			return false
		}
		return true
	})
	slog.Debug("filtered price series", "year", year, "months", len(months), "matched", len(filtered))

	st, ok := Compute(filtered)
	if !ok {
		years := s.Years()
		return Outcome{
			Kind:           Unavailable,
			Text:           fmt.Sprintf("No stock data available for the specified period. Available data: %s", formatYears(years)),
			AvailableYears: years,
		}
	}

	return Outcome{Kind: Computed, Text: st.Render(question), Stats: &st}
}

// Render formats the statistics for question, which selects the figure.
func (st Statistics) Render(question string) string {
	lower := strings.ToLower(question)
	period := fmt.Sprintf("(Period: %s to %s)", st.PeriodStart.Format("2006-01-02"), st.PeriodEnd.Format("2006-01-02"))
	switch {
	case strings.Contains(lower, "highest"):
		return fmt.Sprintf("📈 Highest stock price: %s %s", Money(st.Highest), period)
	case strings.Contains(lower, "lowest"):
		return fmt.Sprintf("📉 Lowest stock price: %s %s", Money(st.Lowest), period)
	case strings.Contains(lower, "average"):
		return fmt.Sprintf("📊 Average stock price: %s %s", Money(st.Average), period)
	}
	return fmt.Sprintf("📈 Stock Price Statistics %s:\n- Highest: %s\n- Lowest: %s\n- Average: %s",
		period, Money(st.Highest), Money(st.Lowest), Money(st.Average))
}

// Money renders an amount with the currency symbol and two decimals.
func Money(d decimal.Decimal) string {
	return Currency + d.StringFixed(2)
}

func formatYears(years []int) string {
	parts := make([]string, len(years))
	for i, y := range years {
		parts[i] = fmt.Sprint(y)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
