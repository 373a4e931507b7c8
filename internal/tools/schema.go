package tools

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// SchemaFor derives a tool parameter schema from the argument struct T.
// Field descriptions come from `jsonschema:"..."` tags and required
// fields are those without omitempty.
func SchemaFor[T any]() map[string]any {
	s, err := jsonschema.For[T](&jsonschema.ForOptions{})
	if err != nil {
		panic(fmt.Sprintf("tools: schema for %T: %v", *new(T), err))
	}
	return schemaMap(s)
}

// schemaMap flattens a schema into the generic map form the LLM
// clients put on the wire.
func schemaMap(s *jsonschema.Schema) map[string]any {
	b, err := json.Marshal(s)
	if err != nil {
		panic(fmt.Sprintf("tools: encode schema: %v", err))
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		panic(fmt.Sprintf("tools: decode schema: %v", err))
	}
	// Models reject the draft URI on some providers.
	delete(m, "$schema")
	return m
}
