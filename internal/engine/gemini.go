package engine

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiEngine implements Engine on top of the Gemini API.
type GeminiEngine struct {
	client *genai.Client
	opts   Options
}

// NewGeminiEngine creates a GeminiEngine authenticated with opts.APIKey.
func NewGeminiEngine(ctx context.Context, opts Options) (*GeminiEngine, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("gemini: API key is required")
	}
	cc := &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if opts.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: opts.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: initializing client: %w", err)
	}
	return &GeminiEngine{client: client, opts: opts}, nil
}

func (e *GeminiEngine) Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error) {
	contents, system, err := toGeminiContents(messages)
	if err != nil {
		return "", err
	}

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(e.opts.Temperature)),
	}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if jsonSchema != nil {
		cfg.ResponseMIMEType = "application/json"
		cfg.ResponseSchema = toGeminiSchema(jsonSchema)
	}

	resp, err := e.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("gemini: generate content: %w", err)
	}

	text := responseText(resp)
	if text == "" {
		return "", fmt.Errorf("gemini: no response generated by %s", model)
	}
	return text, nil
}

func (e *GeminiEngine) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	var cfg *genai.EmbedContentConfig
	if e.opts.EmbedDimension > 0 {
		dim := int32(e.opts.EmbedDimension)
		cfg = &genai.EmbedContentConfig{OutputDimensionality: &dim}
	}

	result, err := e.client.Models.EmbedContent(ctx, model,
		[]*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: embed content: %w", err)
	}
	if result == nil || len(result.Embeddings) == 0 || len(result.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("gemini: no embedding returned by %s", model)
	}

	vec := result.Embeddings[0].Values
	if e.opts.EmbedDimension > 0 && len(vec) != e.opts.EmbedDimension {
		return nil, fmt.Errorf("gemini: embedding dimension mismatch: expected %d, got %d", e.opts.EmbedDimension, len(vec))
	}
	return vec, nil
}

func (e *GeminiEngine) HasModel(ctx context.Context, name string) bool {
	m, err := e.client.Models.Get(ctx, name, nil)
	return err == nil && m != nil
}

// toGeminiContents splits out the first system message and maps the
// remaining roles onto Gemini's user/model pair.
func toGeminiContents(messages []Message) ([]*genai.Content, string, error) {
	if len(messages) == 0 {
		return nil, "", fmt.Errorf("gemini: messages cannot be empty")
	}

	contents := make([]*genai.Content, 0, len(messages))
	var system string
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			if system == "" {
				system = m.Content
			}
			continue
		case RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}

	if len(contents) == 0 {
		return nil, "", fmt.Errorf("gemini: at least one non-system message is required")
	}
	return contents, system, nil
}

// responseText returns the text of the first candidate that has any.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var b strings.Builder
	for _, c := range resp.Candidates {
		if c == nil || c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if p != nil && p.Text != "" {
				b.WriteString(p.Text)
			}
		}
		if b.Len() > 0 {
			break
		}
	}
	return b.String()
}

func toGeminiSchema(s *Schema) *genai.Schema {
	out := &genai.Schema{
		Type:     genai.Type(strings.ToUpper(s.Type)),
		Required: s.Required,
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, p := range s.Properties {
			out.Properties[name] = &genai.Schema{
				Type:        genai.Type(strings.ToUpper(p.Type)),
				Description: p.Description,
			}
		}
	}
	return out
}
