package pipeline

import (
	"testing"

	"github.com/kalambet/finrag/internal/intent"
)

func TestFormat(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		strategy intent.Strategy
		want     string
	}{
		{
			name:     "collapses blank runs",
			text:     "Para one.\n\n\n  \nPara two.\n \t\nPara three.",
			strategy: intent.General,
			want:     "Para one.\n\nPara two.\n\nPara three.",
		},
		{
			name:     "CFO banner on CFO mention",
			text:     "As CFO, I am pleased to report...",
			strategy: intent.FinancialAnalysis,
			want:     "📊 **CFO Commentary**\n\nAs CFO, I am pleased to report...",
		},
		{
			name:     "CFO banner on commentary any case",
			text:     "Draft COMMENTARY follows.",
			strategy: intent.FinancialAnalysis,
			want:     "📊 **CFO Commentary**\n\nDraft COMMENTARY follows.",
		},
		{
			name:     "no CFO banner without trigger",
			text:     "Revenue grew 20%.",
			strategy: intent.FinancialAnalysis,
			want:     "Revenue grew 20%.",
		},
		{
			name:     "stock banner needs currency",
			text:     "The close was ₹1,650.",
			strategy: intent.StockPrice,
			want:     "📈 **Stock Price Analysis**\n\nThe close was ₹1,650.",
		},
		{
			name:     "no stock banner without currency",
			text:     "The context has no price data.",
			strategy: intent.StockPrice,
			want:     "The context has no price data.",
		},
		{
			name:     "business banner always on non-empty",
			text:     "Motor claims inflation.",
			strategy: intent.BusinessInsights,
			want:     "💼 **Business Insights**\n\nMotor claims inflation.",
		},
		{
			name:     "business banner skipped on empty",
			text:     "",
			strategy: intent.BusinessInsights,
			want:     "",
		},
		{
			name:     "comparison never gets a banner",
			text:     "CFO said ₹ figures.",
			strategy: intent.Comparison,
			want:     "CFO said ₹ figures.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Format(tt.text, tt.strategy); got != tt.want {
				t.Errorf("Format() = %q, want %q", got, tt.want)
			}
		})
	}
}
