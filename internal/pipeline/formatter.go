package pipeline

import (
	"regexp"
	"strings"

	"github.com/kalambet/finrag/internal/intent"
	"github.com/kalambet/finrag/internal/prices"
)

const (
	bannerCFO      = "📊 **CFO Commentary**\n\n"
	bannerStock    = "📈 **Stock Price Analysis**\n\n"
	bannerBusiness = "💼 **Business Insights**\n\n"
)

var blankLines = regexp.MustCompile(`\n\s*\n`)

// Format tidies generated text: runs of blank lines collapse to one, then a
// heading is prepended for strategies whose answers have a recognisable
// shape. "CFO" is matched case-sensitively so "cfo" inside other words does
// not trigger the banner.
func Format(text string, s intent.Strategy) string {
	text = blankLines.ReplaceAllString(text, "\n\n")

	switch s {
	case intent.FinancialAnalysis:
		if strings.Contains(text, "CFO") || strings.Contains(strings.ToLower(text), "commentary") {
			return bannerCFO + text
		}
	case intent.StockPrice:
		if strings.Contains(text, prices.Currency) {
			return bannerStock + text
		}
	case intent.BusinessInsights:
		if strings.TrimSpace(text) != "" {
			return bannerBusiness + text
		}
	}
	return text
}
