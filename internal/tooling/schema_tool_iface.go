package tooling

import (
	"context"
	"encoding/json"

	"imagetool/internal/domain"
)

// SchemaTool is a tool whose input is described by a JSON Schema generated from
// a Go struct via invopop/jsonschema. Hosts pass Definition() to the model
// (function-calling API) and the tool validates arguments before running.
type SchemaTool interface {
	// Name returns the unique tool name used in function-calling (e.g. "generate_image").
	Name() string
	// Description returns a human-readable description for the LLM.
	Description() string
	// Definition returns the JSON Schema string for the tool's input struct.
	Definition() string
	// Call executes the tool with the given JSON arguments.
	// Implementations must validate args against the schema before execution.
	Call(ctx context.Context, args json.RawMessage) (*domain.ToolResult, error)
}
