package retrieval

import (
	"context"
	"errors"
	"fmt"

	"github.com/kalambet/finrag/internal/engine"
	"golang.org/x/sync/errgroup"
)

// defaultConcurrency stays under the Gemini free tier's per-minute quota
// for the ingest of a typical earnings call transcript.
const defaultConcurrency = 4

// ErrEmptyEmbedding is returned when the model answers with no vector.
var ErrEmptyEmbedding = errors.New("model returned an empty embedding")

// Embedder turns questions and passages into vectors with one model, so
// that both sides of a similarity search share a dimension.
type Embedder struct {
	engine      engine.Engine
	model       string
	concurrency int
}

// EmbedderOption configures an Embedder.
type EmbedderOption func(*Embedder)

// WithConcurrency caps the in-flight requests of EmbedBatch. Values <= 0
// keep the default.
func WithConcurrency(n int) EmbedderOption {
	return func(e *Embedder) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

func NewEmbedder(e engine.Engine, model string, opts ...EmbedderOption) *Embedder {
	emb := &Embedder{engine: e, model: model, concurrency: defaultConcurrency}
	for _, o := range opts {
		o(emb)
	}
	return emb
}

// Embed returns the vector of a single question or passage.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.engine.Embed(ctx, e.model, text)
	if err != nil {
		return nil, fmt.Errorf("embedding with %s: %w", e.model, err)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("embedding with %s: %w", e.model, ErrEmptyEmbedding)
	}
	return vec, nil
}

// EmbedBatch embeds the chunks of one document, in input order. Every vector
// must have the same dimension; a mismatch means the model changed mid-batch
// and the whole document is rejected. Empty input returns nil, nil.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for i, text := range texts {
		g.Go(func() error {
			vec, err := e.Embed(gCtx, text)
			if err != nil {
				return fmt.Errorf("chunk %d: %w", i, err)
			}
			vecs[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	dim := len(vecs[0])
	for i, v := range vecs[1:] {
		if len(v) != dim {
			return nil, fmt.Errorf("chunk %d has %d dimensions, chunk 0 has %d", i+1, len(v), dim)
		}
	}
	return vecs, nil
}
