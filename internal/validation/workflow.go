// Package validation checks n8n workflows before they are planned or applied.
//
// WorkflowValidator is the structural validator and SemanticAnalyzer the
// advisory analyzer consumed by the dry-run simulator.
package validation

import (
	"errors"

	"github.com/rendis/flowguard/pkg/schema"
)

// WorkflowValidator orchestrates the three-stage validation pipeline:
// 1. Structural (JSON Schema)
// 2. Semantic (node names, connection references, sub-workflow targets)
// 3. Graph (cycles, reachability from triggers)
type WorkflowValidator struct {
	jsonSchema *JSONSchemaValidator
}

// NewWorkflowValidator creates a WorkflowValidator.
func NewWorkflowValidator() (*WorkflowValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &WorkflowValidator{jsonSchema: jsv}, nil
}

// Validate runs the pipeline and returns the aggregated result. Structural errors
// short-circuit; the graph stage only runs when semantic checks pass. The error
// return is reserved for failures of the validator itself.
func (wv *WorkflowValidator) Validate(wf *schema.Workflow) (*schema.ValidationResult, error) {
	if wf == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "workflow is nil")
		return r, nil
	}

	result := validateStructural(wv.jsonSchema, wf)
	if !result.Valid() {
		return result, nil
	}

	result.Merge(validateSemantic(wf))

	if result.Valid() {
		result.Merge(validateGraph(wf))
	}

	return result, nil
}

// validateStructural converts JSON Schema violations into result errors.
func validateStructural(v *JSONSchemaValidator, wf *schema.Workflow) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	err := v.ValidateWorkflow(wf)
	if err == nil {
		return result
	}

	var fe *schema.FlowError
	if !errors.As(err, &fe) {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return result
	}

	if violations, ok := fe.Details["violations"].([]string); ok {
		for _, msg := range violations {
			result.AddError("/", schema.ErrCodeValidation, msg)
		}
		return result
	}
	result.AddError("/", schema.ErrCodeValidation, fe.Message)
	return result
}
