package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/forensicdev/warden/pkg/schema"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// templateSchemaJSON is the JSON Schema for workflow definition documents.
// Embedded as a constant to avoid filesystem dependencies.
const templateSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://warden.dev/schemas/template.json",
  "type": "object",
  "required": ["type", "steps"],
  "properties": {
    "type": {
      "type": "string",
      "minLength": 1
    },
    "description": { "type": "string" },
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/step" }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "step": {
      "type": "object",
      "required": ["type"],
      "properties": {
        "type": {
          "type": "string",
          "enum": ["process", "decision", "delay", "parallel"]
        },
        "process": { "$ref": "#/$defs/process" },
        "decision": { "$ref": "#/$defs/decision" },
        "delay": { "$ref": "#/$defs/delay" },
        "parallel": { "$ref": "#/$defs/parallel" }
      },
      "additionalProperties": false,
      "allOf": [
        {
          "if": { "properties": { "type": { "const": "process" } }, "required": ["type"] },
          "then": { "required": ["process"] }
        },
        {
          "if": { "properties": { "type": { "const": "decision" } }, "required": ["type"] },
          "then": { "required": ["decision"] }
        },
        {
          "if": { "properties": { "type": { "const": "delay" } }, "required": ["type"] },
          "then": { "required": ["delay"] }
        },
        {
          "if": { "properties": { "type": { "const": "parallel" } }, "required": ["type"] },
          "then": { "required": ["parallel"] }
        }
      ]
    },
    "process": {
      "type": "object",
      "required": ["process_type"],
      "properties": {
        "process_type": {
          "type": "string",
          "minLength": 1
        },
        "params": { "type": "object" }
      },
      "additionalProperties": false
    },
    "decision": {
      "type": "object",
      "required": ["branches"],
      "properties": {
        "branches": {
          "type": "array",
          "minItems": 1,
          "items": { "$ref": "#/$defs/branch" }
        }
      },
      "additionalProperties": false
    },
    "branch": {
      "type": "object",
      "required": ["action"],
      "properties": {
        "name": { "type": "string" },
        "when": { "type": "string" },
        "engine": {
          "type": "string",
          "enum": ["", "cel", "expr", "jq"]
        },
        "action": {
          "type": "string",
          "enum": ["continue", "skip"]
        },
        "skip": {
          "type": "integer",
          "minimum": 0
        }
      },
      "additionalProperties": false
    },
    "delay": {
      "type": "object",
      "required": ["duration"],
      "properties": {
        "duration": {
          "type": "string",
          "minLength": 1
        }
      },
      "additionalProperties": false
    },
    "parallel": {
      "type": "object",
      "required": ["steps"],
      "properties": {
        "steps": {
          "type": "array",
          "minItems": 1,
          "items": { "$ref": "#/$defs/step" }
        }
      },
      "additionalProperties": false
    }
  }
}`

// JSONSchemaValidator validates workflow definition documents against the
// embedded template schema. It is safe for concurrent use.
type JSONSchemaValidator struct {
	templateSchema *jsonschema.Schema
}

// NewJSONSchemaValidator creates a JSONSchemaValidator with the template
// schema pre-compiled.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(templateSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal template schema: %w", err)
	}
	if err := c.AddResource("https://warden.dev/schemas/template.json", schemaDoc); err != nil {
		return nil, fmt.Errorf("add template schema resource: %w", err)
	}

	compiled, err := c.Compile("https://warden.dev/schemas/template.json")
	if err != nil {
		return nil, fmt.Errorf("compile template schema: %w", err)
	}

	return &JSONSchemaValidator{templateSchema: compiled}, nil
}

// ValidateDefinition validates a workflow definition against the template schema.
func (v *JSONSchemaValidator) ValidateDefinition(def schema.WorkflowDefinition) error {
	doc, err := toJSONValue(def)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize workflow definition").WithCause(err)
	}

	if err := v.templateSchema.Validate(doc); err != nil {
		return toWardenError(err)
	}
	return nil
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toWardenError converts a jsonschema.ValidationError into a WardenError
// carrying one message per leaf violation.
func toWardenError(err error) *schema.WardenError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}

	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf error
// messages with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
