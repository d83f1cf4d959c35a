package retrieval

import (
	"context"
	"fmt"
	"log/slog"
)

// Retriever combines embedding and vector search to find passages relevant
// to a question.
type Retriever struct {
	embedder *Embedder
	store    VectorStore
}

// NewRetriever creates a Retriever backed by the given Embedder and VectorStore.
func NewRetriever(embedder *Embedder, store VectorStore) *Retriever {
	return &Retriever{embedder: embedder, store: store}
}

// Retrieve embeds the question and returns up to topK passages, best first.
// topK <= 0 returns nothing without touching the embedder.
func (r *Retriever) Retrieve(ctx context.Context, question string, topK int) ([]ScoredPassage, error) {
	if topK <= 0 {
		return nil, nil
	}

	vec, err := r.embedder.Embed(ctx, question)
	if err != nil {
		return nil, err
	}

	hits, err := r.store.Search(ctx, vec, topK, "")
	if err != nil {
		return nil, fmt.Errorf("searching passages: %w", err)
	}

	slog.Debug("retrieved passages", "requested", topK, "found", len(hits))
	return hits, nil
}

// Empty reports whether the store holds no passages yet, which callers use
// to trigger an initial ingestion.
func (r *Retriever) Empty(ctx context.Context) (bool, error) {
	n, err := r.store.Count(ctx)
	if err != nil {
		return false, err
	}
	return n == 0, nil
}
