package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/finrag/internal/retrieval"
	"github.com/kalambet/finrag/internal/storage"
)

// JobEmbedDocument is the job type that chunks and embeds one document.
const JobEmbedDocument = "embed_document"

// JobStore abstracts the job queue and document bookkeeping.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	GetDocument(id string) (storage.Document, error)
	MarkDocumentIngested(id string, passages int) error
}

// ContentEmbedder generates embeddings for a batch of texts, in order.
type ContentEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// PassageWriter replaces the passages of a document.
type PassageWriter interface {
	Insert(ctx context.Context, passages []retrieval.Passage) error
	DeleteByDocument(ctx context.Context, documentID string) (int, error)
}

// Worker processes embed_document jobs from the SQLite job queue.
type Worker struct {
	store    JobStore
	embedder ContentEmbedder
	passages PassageWriter
	chunker  Chunker
	poll     time.Duration
	logger   *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, embedder ContentEmbedder, passages PassageWriter, chunker Chunker, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:    store,
		embedder: embedder,
		passages: passages,
		chunker:  chunker,
		poll:     pollInterval,
		logger:   slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// Drain processes claimable jobs until none are left and returns how many
// it handled. Jobs waiting out a retry backoff are left for Run.
func (w *Worker) Drain(ctx context.Context) (int, error) {
	n := 0
	for ctx.Err() == nil {
		done, err := w.RunOnce(ctx)
		if err != nil {
			return n, err
		}
		if !done {
			return n, nil
		}
		n++
	}
	return n, ctx.Err()
}

// RunOnce claims and processes a single embed_document job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobEmbedDocument})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

type embedPayload struct {
	DocumentID string `json:"document_id"`
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload embedPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	doc, err := w.store.GetDocument(payload.DocumentID)
	if errors.Is(err, storage.ErrNotFound) {
		// Removed by a later scan or a rebuild.
		w.logger.Debug("document gone, skipping job", "document_id", payload.DocumentID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading document %s: %w", payload.DocumentID, err)
	}

	loaded, err := Load(doc.Path)
	if err != nil {
		return err
	}
	chunks := w.chunker.Split(loaded.Text)

	var vecs [][]float32
	if len(chunks) > 0 {
		vecs, err = w.embedder.EmbedBatch(ctx, chunks)
		if err != nil {
			return fmt.Errorf("embedding %s: %w", doc.Source, err)
		}
	}

	now := time.Now().UTC()
	passages := make([]retrieval.Passage, len(chunks))
	for i, chunk := range chunks {
		passages[i] = retrieval.Passage{
			ID:          uuid.New().String(),
			DocumentID:  doc.ID,
			Source:      doc.Source,
			SourceType:  loaded.SourceType,
			ChunkIndex:  i,
			TotalChunks: len(chunks),
			Content:     chunk,
			Embedding:   vecs[i],
			CreatedAt:   now,
		}
	}

	if _, err := w.passages.DeleteByDocument(ctx, doc.ID); err != nil {
		return fmt.Errorf("clearing old passages: %w", err)
	}
	if len(passages) > 0 {
		if err := w.passages.Insert(ctx, passages); err != nil {
			return fmt.Errorf("inserting passages: %w", err)
		}
	}

	if err := w.store.MarkDocumentIngested(doc.ID, len(passages)); err != nil {
		return fmt.Errorf("marking %s ingested: %w", doc.ID, err)
	}
	w.logger.Info("ingested document", "source", doc.Source, "type", loaded.SourceType, "passages", len(passages))
	return nil
}
