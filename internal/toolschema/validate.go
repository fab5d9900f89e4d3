// Package toolschema validates that a worker-registered tool's
// input_schema is well-formed JSON Schema before the hub accepts it,
// grounded on pkg/pluginsdk.ValidateConfig's use of
// santhosh-tekuri/jsonschema.
package toolschema

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Validate compiles schema as a JSON Schema document and returns an error
// if it is malformed. It does not validate any instance against the
// schema — only that the schema itself is structurally valid, which is all
// the hub needs to know before trusting a worker's registration.
func Validate(toolName string, schema json.RawMessage) error {
	if len(schema) == 0 {
		return fmt.Errorf("toolschema: tool %q: empty input_schema", toolName)
	}
	if _, err := jsonschema.CompileString(toolName+".schema.json", string(schema)); err != nil {
		return fmt.Errorf("toolschema: tool %q: %w", toolName, err)
	}
	return nil
}
