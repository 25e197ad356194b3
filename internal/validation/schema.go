package validation

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// Schema reflects RawBlock into a JSON Schema document, giving operators a
// machine-readable description of the validation boundary's constraints
// independent of this package's Go source.
func Schema() *jsonschema.Schema {
	reflector := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	return reflector.Reflect(&RawBlock{})
}

// SchemaJSON renders Schema as indented JSON text.
func SchemaJSON() (string, error) {
	b, err := json.MarshalIndent(Schema(), "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}
