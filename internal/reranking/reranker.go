package reranking

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/kalambet/finrag/internal/engine"
	"github.com/kalambet/finrag/internal/retrieval"
	"golang.org/x/sync/errgroup"
)

const defaultConcurrency = 3

// Reranker re-scores retrieved passages by relevance to the question.
type Reranker interface {
	Rerank(ctx context.Context, question string, passages []retrieval.ScoredPassage) []retrieval.ScoredPassage
}

// NewReranker returns an LLMReranker if enabled, NoOpReranker otherwise.
func NewReranker(eng engine.Engine, model string, enabled bool, timeout time.Duration, threshold float64) Reranker {
	if !enabled {
		return NoOpReranker{}
	}
	return &LLMReranker{
		engine:    eng,
		model:     model,
		timeout:   timeout,
		threshold: threshold,
	}
}

// LLMReranker asks the chat model to grade each (question, passage) pair.
// Passages below threshold are dropped and the rest sorted by grade.
type LLMReranker struct {
	engine    engine.Engine
	model     string
	timeout   time.Duration
	threshold float64
}

// Rerank grades passages concurrently. If the timeout fires first, or every
// passage falls below the threshold, the input order is returned unchanged
// so the answer still has context.
func (r *LLMReranker) Rerank(ctx context.Context, question string, passages []retrieval.ScoredPassage) []retrieval.ScoredPassage {
	if len(passages) == 0 {
		return passages
	}

	tctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	graded := make([]retrieval.ScoredPassage, len(passages))
	copy(graded, passages)

	g, gctx := errgroup.WithContext(tctx)
	g.SetLimit(defaultConcurrency)
	for i := range graded {
		g.Go(func() error {
			score, err := r.grade(gctx, question, graded[i])
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				slog.Debug("reranker: grading failed, keeping retrieval score", "passage", graded[i].ID, "error", err)
				return nil
			}
			graded[i].Score = float32(score)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		slog.Warn("reranker: timed out, using retrieval order", "error", err)
		return passages
	}

	kept := make([]retrieval.ScoredPassage, 0, len(graded))
	for _, p := range graded {
		if float64(p.Score) >= r.threshold {
			kept = append(kept, p)
		}
	}
	if len(kept) == 0 {
		return passages
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Score > kept[j].Score })
	return kept
}

func (r *LLMReranker) grade(ctx context.Context, question string, p retrieval.ScoredPassage) (float64, error) {
	prompt := "Rate how useful the following excerpt is for answering the question, on a scale of 0.0 to 1.0.\n" +
		"Question: " + question + "\n" +
		"Excerpt (" + p.Source + "): " + p.Content + "\n" +
		`Respond with only a JSON object: {"score": <float>}`

	schema := &engine.Schema{
		Type: "object",
		Properties: map[string]engine.SchemaProperty{
			"score": {Type: "number", Description: "Relevance score 0.0-1.0"},
		},
		Required: []string{"score"},
	}

	resp, err := r.engine.Chat(ctx, r.model, []engine.Message{
		{Role: engine.RoleUser, Content: prompt},
	}, schema)
	if err != nil {
		return 0, err
	}
	return parseScore(resp)
}

// parseScore extracts {"score": x} from a model response, tolerating code
// fences and surrounding prose. Scores are clamped to [0, 1].
func parseScore(resp string) (float64, error) {
	s := strings.TrimSpace(resp)

	if idx := strings.Index(s, "```"); idx != -1 {
		s = strings.TrimPrefix(s[idx+3:], "json")
		if end := strings.Index(s, "```"); end != -1 {
			s = s[:end]
		}
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end <= start {
		return 0, fmt.Errorf("no JSON object in response")
	}

	var obj struct {
		Score *float64 `json:"score"`
	}
	if err := json.Unmarshal([]byte(s[start:end+1]), &obj); err != nil {
		return 0, fmt.Errorf("unmarshal score: %w", err)
	}
	if obj.Score == nil {
		return 0, fmt.Errorf("response has no score")
	}
	return min(max(*obj.Score, 0), 1), nil
}

// NoOpReranker passes passages through unchanged.
type NoOpReranker struct{}

func (NoOpReranker) Rerank(_ context.Context, _ string, passages []retrieval.ScoredPassage) []retrieval.ScoredPassage {
	return passages
}
