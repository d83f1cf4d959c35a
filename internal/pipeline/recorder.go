package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/finrag/internal/storage"
)

// Answerer resolves a question to an answer. *Orchestrator and *Recorder
// implement it.
type Answerer interface {
	Answer(ctx context.Context, question string) AnswerResult
}

// InteractionSaver persists answered questions.
type InteractionSaver interface {
	SaveInteraction(i storage.Interaction) error
}

// Recorder wraps an Answerer and logs every answer to the interaction
// history. A failed save is logged and never affects the answer.
type Recorder struct {
	next  Answerer
	store InteractionSaver
	now   func() time.Time
}

func NewRecorder(next Answerer, store InteractionSaver) *Recorder {
	return &Recorder{next: next, store: store, now: time.Now}
}

func (r *Recorder) Answer(ctx context.Context, question string) AnswerResult {
	start := r.now()
	res := r.next.Answer(ctx, question)
	elapsed := r.now().Sub(start)

	citations, err := json.Marshal(res.Citations)
	if err != nil {
		citations = []byte("[]")
	}
	status := "completed"
	if res.Failed {
		status = "error"
	}

	if err := r.store.SaveInteraction(storage.Interaction{
		ID:            uuid.New().String(),
		CreatedAt:     start.UTC(),
		Question:      question,
		Strategy:      string(res.Strategy),
		Answer:        res.Text,
		CitationsJSON: string(citations),
		DurationMS:    elapsed.Milliseconds(),
		Status:        status,
	}); err != nil {
		slog.Warn("failed to record interaction", "error", err)
	}
	return res
}
