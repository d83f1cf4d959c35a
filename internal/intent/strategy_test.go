package intent

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		question string
		want     Strategy
	}{
		{"What was the highest stock price in Jan-22?", StockPrice},
		{"Average share price in 2023", StockPrice},
		{"Compare the stock price in 2022 vs 2023", StockComparison},
		{"Price comparison between Jan and Feb", StockComparison},
		{"What did the CFO say about growth?", FinancialAnalysis},
		{"Summarise the commentary from the Q3 investor call", FinancialAnalysis},
		{"How was the financial performance this quarter?", FinancialAnalysis},
		{"Why is BAGIC facing headwinds?", BusinessInsights},
		{"What is the rationale for the Allianz stake sale?", BusinessInsights},
		{"Tell me about the Hero partnership", BusinessInsights},
		{"How did organic traffic trend on the app?", BusinessInsights},
		{"Compare BAGIC and BALIC growth", Comparison},
		{"BAGIC versus BALIC", Comparison},
		{"What are the key products of Bajaj Finserv?", General},
		{"", General},
	}

	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			if got := Classify(tt.question); got != tt.want {
				t.Errorf("Classify(%q) = %q, want %q", tt.question, got, tt.want)
			}
		})
	}
}

func TestClassify_StockCuesTakePrecedence(t *testing.T) {
	// Both a price cue and a business cue: the price series answers it.
	q := "Did the share price react to the BAGIC headwinds?"
	if got := Classify(q); got != StockPrice {
		t.Errorf("Classify(%q) = %q, want %q", q, got, StockPrice)
	}
	q = "What was the average price after the CFO commentary?"
	if got := Classify(q); got != StockPrice {
		t.Errorf("Classify(%q) = %q, want %q", q, got, StockPrice)
	}
}

func TestClassify_YearAloneIsNotAStockCue(t *testing.T) {
	for _, q := range []string{
		"What happened in 2023?",
		"Summarise the 2022 annual report",
		"Key events of Jan-22 and 2024",
	} {
		if got := Classify(q); got == StockPrice || got == StockComparison {
			t.Errorf("Classify(%q) = %q, want a non-stock strategy", q, got)
		}
	}
}

func TestClassify_VsIsWholeWord(t *testing.T) {
	// "cvs" contains "vs" but is not a comparison.
	if got := Classify("What is the price of cvs?"); got != StockPrice {
		t.Errorf("got %q, want %q", got, StockPrice)
	}
	if got := Classify("Price in 2022 vs. 2023"); got != StockComparison {
		t.Errorf("got %q, want %q", got, StockComparison)
	}
}

func TestClassify_CaseInsensitive(t *testing.T) {
	if got := Classify("WHAT WAS THE LOWEST PRICE?"); got != StockPrice {
		t.Errorf("got %q, want %q", got, StockPrice)
	}
}

func TestStrategyPredicates(t *testing.T) {
	if !StockPrice.Numeric() || !StockComparison.Numeric() {
		t.Error("stock strategies should be numeric")
	}
	if General.Numeric() || BusinessInsights.Numeric() {
		t.Error("non-stock strategies should not be numeric")
	}
	if Strategy("bogus").Valid() {
		t.Error("unknown strategy reported valid")
	}
	if !Comparison.Valid() {
		t.Error("comparison should be valid")
	}
}
