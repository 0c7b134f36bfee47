package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/flowguard/pkg/schema"
)

const workflowSchemaURL = "https://flowguard.dev/schemas/n8n-workflow.json"

// workflowSchemaJSON describes the n8n workflow export format. Unknown fields
// (pinData, meta, tags, staticData, ...) are allowed since n8n adds them freely.
const workflowSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://flowguard.dev/schemas/n8n-workflow.json",
  "type": "object",
  "required": ["nodes", "connections"],
  "properties": {
    "id": { "type": "string" },
    "name": { "type": "string" },
    "active": { "type": "boolean" },
    "nodes": {
      "type": "array",
      "items": { "$ref": "#/$defs/node" }
    },
    "connections": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "additionalProperties": {
          "type": "array",
          "items": {
            "type": ["array", "null"],
            "items": { "$ref": "#/$defs/target" }
          }
        }
      }
    },
    "settings": { "type": "object" }
  },
  "$defs": {
    "node": {
      "type": "object",
      "required": ["name", "type", "typeVersion"],
      "properties": {
        "id": { "type": "string" },
        "name": { "type": "string", "minLength": 1 },
        "type": { "type": "string", "minLength": 1 },
        "typeVersion": { "type": "number", "minimum": 1 },
        "position": {
          "type": "array",
          "items": { "type": "number" },
          "minItems": 2,
          "maxItems": 2
        },
        "parameters": { "type": "object" },
        "disabled": { "type": "boolean" },
        "credentials": {
          "type": "object",
          "additionalProperties": { "type": "object" }
        }
      }
    },
    "target": {
      "type": "object",
      "required": ["node"],
      "properties": {
        "node": { "type": "string", "minLength": 1 },
        "type": { "type": "string" },
        "index": { "type": "integer", "minimum": 0 }
      }
    }
  }
}`

// JSONSchemaValidator checks documents against the n8n workflow JSON Schema
// (Draft 2020-12). The schema is compiled once; it is safe for concurrent use.
type JSONSchemaValidator struct {
	workflowSchema *jsonschema.Schema
}

// NewJSONSchemaValidator compiles the workflow schema.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(workflowSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal workflow schema: %w", err)
	}
	if err := c.AddResource(workflowSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add workflow schema resource: %w", err)
	}
	compiled, err := c.Compile(workflowSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile workflow schema: %w", err)
	}

	return &JSONSchemaValidator{workflowSchema: compiled}, nil
}

// ValidateWorkflow validates a decoded workflow.
func (v *JSONSchemaValidator) ValidateWorkflow(wf *schema.Workflow) error {
	if wf == nil {
		return schema.NewError(schema.ErrCodeValidation, "workflow is nil")
	}
	data, err := json.Marshal(wf)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize workflow").WithCause(err)
	}
	return v.ValidateRaw(data)
}

// ValidateRaw validates a raw JSON document, before it is decoded into a Workflow.
func (v *JSONSchemaValidator) ValidateRaw(data []byte) error {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(data)))
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid JSON").WithCause(err)
	}
	if err := v.workflowSchema.Validate(doc); err != nil {
		return toFlowError(err)
	}
	return nil
}

// toFlowError converts a jsonschema.ValidationError into a FlowError whose
// details list one violation per leaf error.
func toFlowError(err error) *schema.FlowError {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
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
	return schema.NewErrorf(schema.ErrCodeValidation, "validation failed with %d errors", len(violations)).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf messages with
// their instance locations.
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
