package prices

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Column names the loader requires.
const (
	DateColumn  = "Date"
	CloseColumn = "Close Price"
)

// compactLayout is the exchange's native date form, e.g. "3-Jan-22".
const compactLayout = "2-Jan-06"

// genericLayouts are tried per value once the compact form has failed for
// the column.
var genericLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	time.RFC3339,
	"01/02/2006",
	"02/01/2006",
	"2-Jan-2006",
	"02-Jan-2006",
	"Jan 2, 2006",
	"2 Jan 2006",
}

// ErrMissingColumns is returned when the header lacks Date or Close Price.
var ErrMissingColumns = errors.New("price table must have Date and Close Price columns")

// LoadCSV reads a price table from path.
func LoadCSV(path string) (*Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening price table: %w", err)
	}
	defer f.Close()

	s, err := ParseCSV(f)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	first, last := s.Span()
	slog.Info("loaded price series", "path", path, "records", s.Len(),
		"from", first.Format("2006-01-02"), "to", last.Format("2006-01-02"))
	return s, nil
}

// ParseCSV reads a price table with at least the Date and Close Price
// columns. Dates are parsed with the compact exchange layout first; if any
// value in the column fails, the whole column is re-parsed with the generic
// layouts. A column that fails both passes is rejected.
func ParseCSV(r io.Reader) (*Series, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading csv: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrMissingColumns
	}

	dateIdx, closeIdx := headerIndex(rows[0])
	if dateIdx < 0 || closeIdx < 0 {
		return nil, ErrMissingColumns
	}

	var rawDates []string
	var closes []decimal.Decimal
	for i, row := range rows[1:] {
		if len(row) <= dateIdx || len(row) <= closeIdx {
			continue
		}
		rawDate := strings.TrimSpace(row[dateIdx])
		rawClose := strings.ReplaceAll(strings.TrimSpace(row[closeIdx]), ",", "")
		if rawDate == "" || rawClose == "" {
			continue
		}
		c, err := decimal.NewFromString(rawClose)
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid close price %q: %w", i+2, row[closeIdx], err)
		}
		rawDates = append(rawDates, rawDate)
		closes = append(closes, c)
	}

	dates, err := parseDateColumn(rawDates)
	if err != nil {
		return nil, err
	}

	records := make([]Record, len(dates))
	for i := range dates {
		records[i] = Record{Date: dates[i], Close: closes[i]}
	}
	return NewSeries(records), nil
}

func headerIndex(header []string) (dateIdx, closeIdx int) {
	dateIdx, closeIdx = -1, -1
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		switch {
		case strings.EqualFold(h, DateColumn):
			dateIdx = i
		case strings.EqualFold(h, CloseColumn):
			closeIdx = i
		}
	}
	return dateIdx, closeIdx
}

func parseDateColumn(raw []string) ([]time.Time, error) {
	out := make([]time.Time, len(raw))
	compactOK := true
	for i, v := range raw {
		t, err := time.Parse(compactLayout, v)
		if err != nil {
			compactOK = false
			break
		}
		out[i] = t
	}
	if compactOK {
		return out, nil
	}

	slog.Debug("compact date layout failed, trying generic layouts")
	for i, v := range raw {
		t, ok := parseGeneric(v)
		if !ok {
			return nil, fmt.Errorf("unrecognised date %q", v)
		}
		out[i] = t
	}
	return out, nil
}

func parseGeneric(v string) (time.Time, bool) {
	for _, layout := range genericLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
