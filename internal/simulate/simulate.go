// Package simulate runs a dry run of a prospective workflow: optional
// validation and semantic analysis plus a local performance estimate.
// Nothing is persisted or activated.
package simulate

import (
	"fmt"

	"github.com/rendis/flowguard/pkg/schema"
)

// Validator checks a workflow structurally. An invalid result or an error fails the simulation.
type Validator interface {
	Validate(wf *schema.Workflow) (*schema.ValidationResult, error)
}

// SemanticAnalyzer reports advisory issues. Its failures are recorded but never fail the simulation.
type SemanticAnalyzer interface {
	Analyze(wf *schema.Workflow) ([]schema.ValidationIssue, error)
}

// Complexity buckets the estimated workflow complexity.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// Per-node cost model.
const (
	secondsPerNode  = 0.5
	memoryMBPerNode = 10

	highComplexityNodes   = 20
	mediumComplexityNodes = 10
)

// Performance is a rough resource estimate derived from the node count.
type Performance struct {
	EstimatedDurationSeconds float64    `json:"estimated_duration_seconds"`
	EstimatedMemoryMB        int        `json:"estimated_memory_mb"`
	Complexity               Complexity `json:"complexity"`
}

// Result is the outcome of a dry run. Errors lists collaborator failures.
type Result struct {
	Valid                bool                     `json:"valid"`
	ValidationResults    *schema.ValidationResult `json:"validation_results,omitempty"`
	SemanticIssues       []schema.ValidationIssue `json:"semantic_issues"`
	EstimatedPerformance Performance              `json:"estimated_performance"`
	SimulationPassed     bool                     `json:"simulation_passed"`
	Errors               []string                 `json:"errors"`
}

// Simulate dry-runs wf. Both collaborators are optional. It always returns a
// result: errors and panics from collaborators are captured in Result.Errors.
func Simulate(wf *schema.Workflow, validator Validator, analyzer SemanticAnalyzer) *Result {
	res := &Result{
		Valid:            true,
		SemanticIssues:   []schema.ValidationIssue{},
		SimulationPassed: true,
		Errors:           []string{},
	}

	if validator != nil {
		vr, err := runValidator(validator, wf)
		switch {
		case err != nil:
			res.Valid = false
			res.SimulationPassed = false
			res.Errors = append(res.Errors, fmt.Sprintf("Validation failed: %v", err))
		case vr != nil:
			res.ValidationResults = vr
			if !vr.Valid() {
				res.Valid = false
				res.SimulationPassed = false
			}
		}
	}

	if analyzer != nil {
		issues, err := runAnalyzer(analyzer, wf)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("Semantic analysis failed: %v", err))
		} else if issues != nil {
			res.SemanticIssues = issues
		}
	}

	res.EstimatedPerformance = Estimate(wf)
	return res
}

// Estimate computes the performance estimate for wf.
func Estimate(wf *schema.Workflow) Performance {
	n := 0
	if wf != nil {
		n = len(wf.Nodes)
	}

	c := ComplexityLow
	switch {
	case n > highComplexityNodes:
		c = ComplexityHigh
	case n > mediumComplexityNodes:
		c = ComplexityMedium
	}

	return Performance{
		EstimatedDurationSeconds: float64(n) * secondsPerNode,
		EstimatedMemoryMB:        n * memoryMBPerNode,
		Complexity:               c,
	}
}

func runValidator(v Validator, wf *schema.Workflow) (vr *schema.ValidationResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("validator panicked: %v", r)
		}
	}()
	return v.Validate(wf)
}

func runAnalyzer(a SemanticAnalyzer, wf *schema.Workflow) (issues []schema.ValidationIssue, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("semantic analyzer panicked: %v", r)
		}
	}()
	return a.Analyze(wf)
}
