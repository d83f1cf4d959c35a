package composer

import (
	"fmt"
	"strings"

	"github.com/kalambet/finrag/internal/retrieval"
)

const defaultMaxContextTokens = 6000

// Composer turns retrieved passages into the context block of a prompt.
type Composer struct {
	MaxContextTokens int
}

// New creates a Composer with the given token budget for injected context.
// If maxContextTokens <= 0, the default (6000) is used.
func New(maxContextTokens int) *Composer {
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTokens
	}
	return &Composer{MaxContextTokens: maxContextTokens}
}

// Context joins passages in rank order, skipping any that would overflow
// the token budget. It returns the context text and the passages it used,
// which become the answer's citations.
func (c *Composer) Context(passages []retrieval.ScoredPassage) (string, []retrieval.ScoredPassage) {
	var sb strings.Builder
	var used []retrieval.ScoredPassage
	remaining := c.MaxContextTokens

	for _, p := range passages {
		entry := formatPassage(p)
		tokens := EstimateTokens(entry)
		if tokens > remaining {
			continue
		}
		sb.WriteString(entry)
		used = append(used, p)
		remaining -= tokens
	}

	return strings.TrimSpace(sb.String()), used
}

func formatPassage(p retrieval.ScoredPassage) string {
	if p.TotalChunks > 1 {
		return fmt.Sprintf("[Source: %s, part %d of %d]\n%s\n\n", p.Source, p.ChunkIndex+1, p.TotalChunks, p.Content)
	}
	return fmt.Sprintf("[Source: %s]\n%s\n\n", p.Source, p.Content)
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
