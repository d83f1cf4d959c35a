package retrieval

import (
	"context"
	"time"
)

// VectorStore stores embedded passages and answers similarity queries.
// SQLiteStore is the only implementation; the interface exists so the
// retriever and ingest worker can be tested without a database.
type VectorStore interface {
	// Insert adds passages in a single transaction.
	Insert(ctx context.Context, passages []Passage) error

	// Search returns the topK passages most similar to vector, best first.
	// A non-empty sourceType restricts the scan to passages of that type.
	Search(ctx context.Context, vector []float32, topK int, sourceType string) ([]ScoredPassage, error)

	// DeleteByDocument removes every passage derived from documentID and
	// reports how many were removed.
	DeleteByDocument(ctx context.Context, documentID string) (int, error)

	// Purge removes all passages.
	Purge(ctx context.Context) error

	// Count returns the number of stored passages.
	Count(ctx context.Context) (int, error)
}

// Passage is one chunk of an ingested document together with its embedding.
type Passage struct {
	ID          string
	DocumentID  string
	Source      string // file name or URL the chunk came from
	SourceType  string // pdf, csv, stock_data, text, html
	ChunkIndex  int
	TotalChunks int
	Content     string
	Embedding   []float32
	CreatedAt   time.Time
}

// ScoredPassage is a Passage with its cosine similarity to the query.
type ScoredPassage struct {
	Passage
	Score float32
}
