package engine

import (
	"context"
	"fmt"
	"io"
)

// EnsureReady checks that the backend serves the configured chat and
// embedding models, writing one status line per model to w.
func EnsureReady(ctx context.Context, e Engine, chatModel, embedModel string, w io.Writer) error {
	models := make([]string, 0, 2)
	if chatModel != "" {
		models = append(models, chatModel)
	}
	if embedModel != "" && embedModel != chatModel {
		models = append(models, embedModel)
	}

	for _, model := range models {
		if !e.HasModel(ctx, model) {
			return fmt.Errorf("model %s is not available; check the model name and your Google API key", model)
		}
		fmt.Fprintf(w, "model %s: ready\n", model)
	}
	return nil
}
