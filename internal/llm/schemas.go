package llm

import (
	"github.com/invopop/jsonschema"
)

// SchemaFor reflects an inline JSON schema from a Go value. Every field
// without omitempty is required and no additional properties are allowed,
// which is what strict structured output expects.
func SchemaFor(v any) *jsonschema.Schema {
	r := &jsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: false,
	}
	s := r.Reflect(v)
	s.Version = ""
	s.ID = ""
	return s
}

// StrictJSONFormat builds a json_schema response format named name for v.
func StrictJSONFormat(name string, v any) *ResponseFormat {
	return &ResponseFormat{
		Type: "json_schema",
		JSONSchema: &JSONSchema{
			Name:   name,
			Strict: true,
			Schema: SchemaFor(v),
		},
	}
}
