// Package adapter wraps the LLM providers the annotator can consult about a
// failed run. Providers are opaque to the rest of the tool; a run never
// depends on one.
package adapter

import "context"

// Adapter defines the interface for LLM provider adapters.
type Adapter interface {
	// Complete sends a prompt to the model and returns the text response.
	Complete(ctx context.Context, model string, prompt string) (string, error)

	// Name returns the adapter's identifier.
	Name() string

	// Models returns the list of supported models.
	Models() []string
}

// DefaultModel returns the adapter's first listed model, or empty.
func DefaultModel(a Adapter) string {
	models := a.Models()
	if len(models) == 0 {
		return ""
	}
	return models[0]
}
