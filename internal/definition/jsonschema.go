package definition

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/stepflow/pkg/schema"
)

const programSchemaURL = "https://stepflow.dev/schemas/program.json"

// programSchemaJSON is the JSON Schema for ProgramDefinition documents.
const programSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://stepflow.dev/schemas/program.json",
  "type": "object",
  "required": ["steps"],
  "properties": {
    "name": { "type": "string" },
    "description": { "type": "string" },
    "steps": { "$ref": "#/$defs/steps" },
    "defaults": {
      "type": "object",
      "properties": {
        "invoke": {
          "type": "object",
          "properties": {
            "payload": { "type": "object" },
            "timeout": { "$ref": "#/$defs/duration" }
          },
          "additionalProperties": false
        }
      },
      "additionalProperties": false
    },
    "metadata": { "type": "object" }
  },
  "additionalProperties": false,
  "$defs": {
    "duration": {
      "type": "string",
      "pattern": "^[0-9]+(ns|us|µs|ms|s|m|h)$"
    },
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/step" }
    },
    "step": {
      "type": "object",
      "required": ["type"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "type": {
          "type": "string",
          "enum": ["task", "choice", "map", "parallel", "pass", "wait", "succeed", "fail", "invoke", "end", "goto"]
        },
        "comment": { "type": "string" },
        "resource": { "type": "string" },
        "choices": {
          "type": "array",
          "items": { "$ref": "#/$defs/choice" }
        },
        "otherwise": { "type": "string", "minLength": 1 },
        "catches": {
          "type": "array",
          "items": { "$ref": "#/$defs/catch" }
        },
        "iterator": { "$ref": "#/$defs/steps" },
        "items_path": { "type": "string" },
        "max_concurrency": { "type": "integer", "minimum": 0 },
        "branches": {
          "type": "array",
          "minItems": 1,
          "items": { "$ref": "#/$defs/steps" }
        },
        "result": {},
        "transform": { "type": "string" },
        "seconds": { "type": "integer", "minimum": 1 },
        "timestamp": { "type": "string", "format": "date-time" },
        "schedule": { "type": "string" },
        "error": { "type": "string" },
        "cause": { "type": "string" },
        "function": { "type": "string", "minLength": 1 },
        "payload": { "type": "object" },
        "parameters": { "type": "object" },
        "timeout": { "$ref": "#/$defs/duration" },
        "retry": { "$ref": "#/$defs/retry" },
        "target": { "type": "string", "minLength": 1 }
      },
      "additionalProperties": false,
      "allOf": [
        {
          "if": { "properties": { "type": { "enum": ["end", "goto"] } } },
          "then": { "not": { "required": ["id"] } },
          "else": { "required": ["id"] }
        },
        {
          "if": { "properties": { "type": { "const": "goto" } } },
          "then": { "required": ["target"] }
        },
        {
          "if": { "properties": { "type": { "const": "choice" } } },
          "then": { "required": ["otherwise"] }
        },
        {
          "if": { "properties": { "type": { "const": "map" } } },
          "then": { "required": ["iterator"] }
        },
        {
          "if": { "properties": { "type": { "const": "parallel" } } },
          "then": { "required": ["branches"] }
        },
        {
          "if": { "properties": { "type": { "const": "invoke" } } },
          "then": { "required": ["function"] }
        }
      ]
    },
    "choice": {
      "type": "object",
      "required": ["condition", "next"],
      "properties": {
        "condition": { "type": "string", "minLength": 1 },
        "lang": { "type": "string", "enum": ["cel", "expr"] },
        "next": { "type": "string", "minLength": 1 }
      },
      "additionalProperties": false
    },
    "catch": {
      "type": "object",
      "required": ["handler"],
      "properties": {
        "handler": { "type": "string", "minLength": 1 },
        "errors": { "type": "array", "items": { "type": "string" } },
        "result_path": { "type": "string" }
      },
      "additionalProperties": false
    },
    "retry": {
      "type": "object",
      "required": ["max"],
      "properties": {
        "errors": { "type": "array", "items": { "type": "string" } },
        "max": { "type": "integer", "minimum": 0 },
        "backoff": {
          "type": "string",
          "enum": ["none", "linear", "exponential", "constant"]
        },
        "delay": { "$ref": "#/$defs/duration" },
        "max_delay": { "$ref": "#/$defs/duration" }
      },
      "additionalProperties": false
    }
  }
}`

func compileProgramSchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(programSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal program schema: %w", err)
	}
	if err := c.AddResource(programSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add program schema resource: %w", err)
	}
	return c.Compile(programSchemaURL)
}

// toJSONValue round-trips a Go value through JSON so numbers become
// json.Number, which the jsonschema library requires.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toFlowError converts a jsonschema.ValidationError into a VALIDATION_ERROR
// listing every leaf violation.
func toFlowError(err error) *schema.FlowError {
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

	msg := fmt.Sprintf("definition failed with %d violations", len(violations))
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations flattens a ValidationError tree into leaf messages
// prefixed with their instance location.
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
