package intent

import (
	"regexp"
	"strings"
)

// Strategy is the handling path chosen for a question.
type Strategy string

const (
	StockPrice        Strategy = "stock_price"
	StockComparison   Strategy = "stock_comparison"
	FinancialAnalysis Strategy = "financial_analysis"
	BusinessInsights  Strategy = "business_insights"
	Comparison        Strategy = "comparison"
	General           Strategy = "general"
)

// Numeric reports whether the strategy is answered from the price series
// before falling back to retrieval.
func (s Strategy) Numeric() bool {
	return s == StockPrice || s == StockComparison
}

// Valid reports whether s is one of the known strategies.
func (s Strategy) Valid() bool {
	switch s {
	case StockPrice, StockComparison, FinancialAnalysis, BusinessInsights, Comparison, General:
		return true
	}
	return false
}

// cueSet matches a question against a fixed list of lower-case cues. Plain
// cues match as substrings; abbreviations are whole-word only so "vs" does
// not fire inside unrelated words.
type cueSet struct {
	substrings []string
	words      *regexp.Regexp
}

func newCueSet(substrings []string, words ...string) cueSet {
	c := cueSet{substrings: substrings}
	if len(words) > 0 {
		c.words = regexp.MustCompile(`\b(?:` + strings.Join(words, "|") + `)\b`)
	}
	return c
}

func (c cueSet) match(lower string) bool {
	for _, s := range c.substrings {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return c.words != nil && c.words.MatchString(lower)
}

var (
	// Years and month names are deliberately absent: a date on its own does
	// not make a question about the share price.
	stockCues = newCueSet([]string{
		"stock price", "share price", "price", "highest", "lowest", "average",
	})
	comparisonCues = newCueSet([]string{"compare", "comparison", "versus"}, "vs")
	financialCues  = newCueSet([]string{"commentary", "investor call", "financial performance"}, "cfo")
	businessCues   = newCueSet([]string{"headwinds", "partnership", "rationale", "organic traffic", "stake sale"})
)

// rule routes a lower-cased question to a strategy when match fires.
type rule struct {
	strategy Strategy
	match    func(lower string) bool
}

// rules are evaluated top to bottom and the first match wins. Stock cues
// come first, so a question mentioning both the share price and headwinds
// is answered from the price series.
var rules = []rule{
	{StockComparison, func(q string) bool { return stockCues.match(q) && comparisonCues.match(q) }},
	{StockPrice, stockCues.match},
	{FinancialAnalysis, financialCues.match},
	{BusinessInsights, businessCues.match},
	{Comparison, comparisonCues.match},
}

// Classify maps a question to its handling strategy. It is pure and never
// fails; anything unrecognised is General.
func Classify(question string) Strategy {
	lower := strings.ToLower(question)
	for _, r := range rules {
		if r.match(lower) {
			return r.strategy
		}
	}
	return General
}
