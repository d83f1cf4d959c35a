package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/finrag/internal/composer"
	"github.com/kalambet/finrag/internal/engine"
	"github.com/kalambet/finrag/internal/reranking"
	"github.com/kalambet/finrag/internal/retrieval"
)

// Searcher finds passages relevant to a question. *retrieval.Retriever
// implements it.
type Searcher interface {
	Retrieve(ctx context.Context, question string, topK int) ([]retrieval.ScoredPassage, error)
}

// Generation is a generated answer and the passages it was grounded in, in
// rank order.
type Generation struct {
	Text     string
	Passages []retrieval.ScoredPassage
}

// Generator retrieves supporting passages, fills a prompt template with them
// and asks the chat model for an answer.
type Generator struct {
	searcher Searcher
	reranker reranking.Reranker
	composer *composer.Composer
	engine   engine.Engine
	model    string
	timeout  time.Duration
}

// NewGenerator wires a Generator. A nil reranker disables reranking; a
// non-positive timeout means the caller's context is the only deadline.
func NewGenerator(
	searcher Searcher,
	reranker reranking.Reranker,
	comp *composer.Composer,
	eng engine.Engine,
	model string,
	timeout time.Duration,
) *Generator {
	if reranker == nil {
		reranker = reranking.NoOpReranker{}
	}
	return &Generator{
		searcher: searcher,
		reranker: reranker,
		composer: comp,
		engine:   eng,
		model:    model,
		timeout:  timeout,
	}
}

// RetrieveAndGenerate answers question with the k most relevant passages as
// context. An empty retrieval still produces an answer; the prompt tells the
// model to say when the context lacks the information.
func (g *Generator) RetrieveAndGenerate(ctx context.Context, question string, tmpl composer.Template, k int) (Generation, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	hits, err := g.searcher.Retrieve(ctx, question, k)
	if err != nil {
		return Generation{}, fmt.Errorf("retrieving passages: %w", err)
	}
	hits = g.reranker.Rerank(ctx, question, hits)

	contextText, used := g.composer.Context(hits)
	prompt := tmpl.Render(contextText, question)

	slog.Debug("generating answer", "strategy", tmpl.Strategy, "passages", len(used), "prompt_tokens", composer.EstimateTokens(prompt))

	text, err := g.engine.Chat(ctx, g.model, []engine.Message{
		{Role: engine.RoleUser, Content: prompt},
	}, nil)
	if err != nil {
		return Generation{}, fmt.Errorf("generating answer: %w", err)
	}

	return Generation{Text: text, Passages: used}, nil
}
