package dispatch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Schema is a tool's parameter schema: the JSON document advertised to
// callers and its compiled validator.
type Schema struct {
	raw      json.RawMessage
	compiled *jsonschema.Schema
}

// Raw returns the JSON Schema document.
func (s *Schema) Raw() json.RawMessage {
	return s.raw
}

// Validate checks params against the schema. Empty or null params
// validate as {}.
func (s *Schema) Validate(params json.RawMessage) error {
	if p := bytes.TrimSpace(params); len(p) == 0 || bytes.Equal(p, []byte("null")) {
		params = json.RawMessage("{}")
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(params))
	if err != nil {
		return fmt.Errorf("params are not valid JSON: %w", err)
	}
	if err := s.compiled.Validate(inst); err != nil {
		return err
	}
	return nil
}

// compileSchema compiles a schema document built with object().
func compileSchema(name string, doc map[string]any) (*Schema, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal schema %s: %w", name, err)
	}
	parsed, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse schema %s: %w", name, err)
	}
	url := "mem://tools/" + name + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, parsed); err != nil {
		return nil, fmt.Errorf("add schema %s: %w", name, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return &Schema{raw: raw, compiled: compiled}, nil
}

// prop is one schema property.
type prop struct {
	name     string
	required bool
	schema   map[string]any
}

// object builds an object schema that rejects unknown properties.
func object(props ...prop) map[string]any {
	properties := make(map[string]any, len(props))
	var required []string
	for _, p := range props {
		properties[p.name] = p.schema
		if p.required {
			required = append(required, p.name)
		}
	}
	doc := map[string]any{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		doc["required"] = required
	}
	return doc
}

func req(p prop) prop {
	p.required = true
	return p
}

func str(name, desc string) prop {
	return prop{name: name, schema: map[string]any{"type": "string", "description": desc}}
}

// platformID is a non-empty numeric platform ID.
func platformID(name, desc string) prop {
	return prop{name: name, schema: map[string]any{"type": "string", "description": desc, "pattern": "^[0-9]{1,20}$"}}
}

func text(name, desc string, maxLen int) prop {
	return prop{name: name, schema: map[string]any{"type": "string", "description": desc, "minLength": 1, "maxLength": maxLen}}
}

func integer(name, desc string, minimum, maximum int) prop {
	return prop{name: name, schema: map[string]any{"type": "integer", "description": desc, "minimum": minimum, "maximum": maximum}}
}

func boolean(name, desc string) prop {
	return prop{name: name, schema: map[string]any{"type": "boolean", "description": desc}}
}

func enum(name, desc string, values ...string) prop {
	return prop{name: name, schema: map[string]any{"type": "string", "description": desc, "enum": values}}
}

func timestamp(name, desc string) prop {
	return prop{name: name, schema: map[string]any{"type": "string", "description": desc, "format": "date-time"}}
}

func list(name, desc string, minItems, maxItems int, item map[string]any) prop {
	if item == nil {
		item = map[string]any{"type": "string", "minLength": 1}
	}
	return prop{name: name, schema: map[string]any{
		"type": "array", "description": desc, "items": item, "minItems": minItems, "maxItems": maxItems,
	}}
}

func anyObjects(name, desc string) prop {
	return prop{name: name, schema: map[string]any{"type": "array", "description": desc, "items": map[string]any{"type": "object"}}}
}

// fingerprintProp is accepted by every gated mutation.
var fingerprintProp = str("fingerprint", "Idempotency key. Repeats within the dedup window return the first decision without a second side effect.")

// pageProps are shared by list endpoints.
func pageProps(minResults int) []prop {
	return []prop{
		integer("max_results", "Page size.", minResults, 100),
		str("pagination_token", "Token from a previous page."),
		platformID("since_id", "Only return items newer than this ID."),
	}
}

// describe joins description sentences.
func describe(parts ...string) string {
	return strings.Join(parts, " ")
}
