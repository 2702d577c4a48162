// Package workflow defines the workflow descriptor registered with a
// supervisor and the registry that resolves invocation requests to handlers.
package workflow

import (
	"context"

	"github.com/mkonduru/flowd/internal/schema"
)

// Handler is the executable unit of business logic behind a workflow. It
// receives input already validated against the descriptor's input schema and
// returns structured output. The context carries cancellation from the
// caller and a per-invocation log sink (see dispatch.Logf).
type Handler func(ctx context.Context, input map[string]any) (map[string]any, error)

// Descriptor pairs a workflow name with its handler and declared schemas.
// Descriptors are immutable once registered.
type Descriptor struct {
	Name         string        `json:"name"`
	Version      string        `json:"version,omitempty"`
	Description  string        `json:"description,omitempty"`
	InputSchema  schema.Object `json:"input_schema"`
	OutputSchema schema.Object `json:"output_schema"`
	Handler      Handler       `json:"-"`
}
