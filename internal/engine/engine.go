package engine

import "context"

// Engine is the hosted model backend. Answer generation, reranking and
// embedding go through it instead of a concrete client, so tests can swap
// in a fake.
type Engine interface {
	// Chat runs one completion over messages. A non-nil schema asks the
	// model for JSON matching it.
	Chat(ctx context.Context, model string, messages []Message, schema *Schema) (string, error)

	// Embed returns the vector for text under model.
	Embed(ctx context.Context, model string, text string) ([]float32, error)

	// HasModel reports whether the backend serves name.
	HasModel(ctx context.Context, name string) bool
}

// Roles understood by Chat. A system message becomes the model's system
// instruction rather than a turn in the conversation.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Schema is the JSON object shape requested from Chat. Only flat objects of
// scalar properties are needed here (the reranker's score verdicts).
type Schema struct {
	Type       string                    `json:"type"`
	Properties map[string]SchemaProperty `json:"properties"`
	Required   []string                  `json:"required,omitempty"`
}

type SchemaProperty struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// Options tunes a GeminiEngine.
type Options struct {
	APIKey         string
	Temperature    float64
	EmbedDimension int
	// BaseURL overrides the Gemini API endpoint; empty uses the SDK default.
	BaseURL string
}
