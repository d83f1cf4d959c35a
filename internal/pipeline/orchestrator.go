package pipeline

import (
	"context"
	"log/slog"

	"github.com/kalambet/finrag/internal/composer"
	"github.com/kalambet/finrag/internal/intent"
	"github.com/kalambet/finrag/internal/prices"
)

const defaultTopK = 5

// ApologyText is shown when a question could not be answered. The cause is
// logged, never shown.
const ApologyText = "An error occurred while processing your question. Please try rephrasing your question."

// PriceStatistics answers period questions from the price series.
// *prices.Series implements it, including when nil.
type PriceStatistics interface {
	Statistics(tokens []intent.TemporalToken, question string) prices.Outcome
}

// RetrieverGenerator produces a grounded answer for a question and template.
// *Generator implements it.
type RetrieverGenerator interface {
	RetrieveAndGenerate(ctx context.Context, question string, tmpl composer.Template, k int) (Generation, error)
}

// Citation identifies a passage an answer was grounded in.
type Citation struct {
	SourceID string `json:"source_id"`
	Content  string `json:"content"`
}

// AnswerResult is what a question resolves to. Citations are empty for
// answers computed from the price series and for apologies.
type AnswerResult struct {
	Text      string          `json:"answer"`
	Strategy  intent.Strategy `json:"strategy"`
	Citations []Citation      `json:"citations"`

	// Failed marks an apology produced from an error or panic.
	Failed bool `json:"-"`
}

// Orchestrator routes a question to the price series or to retrieval and
// generation. It holds no per-question state and is safe for concurrent use.
type Orchestrator struct {
	prices    PriceStatistics
	generator RetrieverGenerator
	topK      int
}

// NewOrchestrator creates an Orchestrator. prices may be nil when no series
// is loaded; topK defaults to 5 if <= 0.
func NewOrchestrator(p PriceStatistics, gen RetrieverGenerator, topK int) *Orchestrator {
	if topK <= 0 {
		topK = defaultTopK
	}
	return &Orchestrator{prices: p, generator: gen, topK: topK}
}

// Answer never fails: errors and panics become an apology with no
// citations.
func (o *Orchestrator) Answer(ctx context.Context, question string) (res AnswerResult) {
	var strategy intent.Strategy
	defer func() {
		if r := recover(); r != nil {
			slog.Error("answer panicked", "strategy", strategy, "panic", r)
			res = apology(strategy)
		}
	}()

	strategy = intent.Classify(question)
	slog.Debug("classified question", "strategy", strategy)

	if strategy.Numeric() {
		if out, ok := o.numeric(question); ok {
			return AnswerResult{Text: out.Text, Strategy: strategy, Citations: []Citation{}}
		}
	}

	gen, err := o.generator.RetrieveAndGenerate(ctx, question, composer.Build(strategy), o.topK)
	if err != nil {
		slog.Warn("retrieval or generation failed", "strategy", strategy, "error", err)
		return apology(strategy)
	}

	citations := make([]Citation, len(gen.Passages))
	for i, p := range gen.Passages {
		citations[i] = Citation{SourceID: p.Source, Content: p.Content}
	}
	return AnswerResult{
		Text:      Format(gen.Text, strategy),
		Strategy:  strategy,
		Citations: citations,
	}
}

// numeric consults the price series. It reports false when the outcome is a
// sentinel and retrieval should take over.
func (o *Orchestrator) numeric(question string) (prices.Outcome, bool) {
	tokens := intent.ExtractTemporal(question)
	slog.Debug("extracted temporal tokens", "tokens", tokens)

	var out prices.Outcome
	if o.prices == nil {
		out = (*prices.Series)(nil).Statistics(tokens, question)
	} else {
		out = o.prices.Statistics(tokens, question)
	}
	if out.Sentinel() {
		slog.Debug("price series cannot answer, falling back to retrieval", "outcome", out.Kind)
		return out, false
	}
	return out, true
}

func apology(s intent.Strategy) AnswerResult {
	return AnswerResult{
		Text:      ApologyText,
		Strategy:  s,
		Citations: []Citation{},
		Failed:    true,
	}
}
