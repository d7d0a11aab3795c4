package tooling

import (
	"encoding/json"
	"errors"
	"fmt"

	invopopSchema "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrInvalidInput wraps every argument rejection made before a tool runs.
var ErrInvalidInput = errors.New("input validation failed")

// marshalFunc is the JSON marshaler used by GenerateSchema. Package-level so
// tests can inject a failing marshaler to cover the error return path.
var marshalFunc = func(v interface{}) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

// GenerateSchema generates a JSON Schema string from a Go struct using
// invopop/jsonschema reflection. Fields without omitempty are required.
func GenerateSchema(input interface{}) string {
	reflector := invopopSchema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	schema := reflector.Reflect(input)

	schemaBytes, err := marshalFunc(schema)
	if err != nil {
		return ""
	}
	return string(schemaBytes)
}

// ValidateAgainstSchema validates JSON input against a JSON Schema string.
func ValidateAgainstSchema(input json.RawMessage, schemaStr string) error {
	schema, err := jsonschema.CompileString("", schemaStr)
	if err != nil {
		return fmt.Errorf("invalid schema: %w", err)
	}

	var inputData interface{}
	if err := json.Unmarshal(input, &inputData); err != nil {
		return fmt.Errorf("invalid JSON input: %w", err)
	}

	if err := schema.Validate(inputData); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	return nil
}
