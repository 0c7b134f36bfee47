// Package impact classifies breaking changes and scores the impact of a workflow diff.
//
// Every function here is pure: inputs are never mutated and no state is kept
// between calls.
package impact

// Severity grades a breaking change or an impact entry.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
	// SeverityPositive marks an impact that improves the workflow.
	SeverityPositive Severity = "positive"
)

// breaking reports whether the severity counts as breaking for a dimension.
func (s Severity) breaking() bool {
	return s == SeverityHigh || s == SeverityCritical
}

// Breaking-change types.
const (
	BreakingDeletedConnectedNode = "deleted_connected_node"
	BreakingNodeTypeChange       = "node_type_change"
	BreakingDeletedConnection    = "deleted_connection"
	BreakingWorkflowDeactivation = "workflow_deactivation"
)

// Impact types, grouped by dimension.
const (
	ImpactNewDataPath           = "new_data_path"
	ImpactBrokenDataPath        = "broken_data_path"
	ImpactTransformationChanged = "data_transformation_changed"

	ImpactIncreasedExecution  = "increased_execution_time"
	ImpactExecutionPath       = "execution_path_changed"
	ImpactImprovedReliability = "improved_reliability"
	ImpactReducedReliability  = "reduced_reliability"

	ImpactNewServices          = "new_services"
	ImpactRemovedServices      = "removed_services"
	ImpactNewCredentials       = "new_credentials_required"
	ImpactCredentialsNotNeeded = "credentials_no_longer_needed"

	ImpactTriggerRemoved           = "trigger_removed"
	ImpactTriggerAdded             = "trigger_added"
	ImpactTriggerTypeChanged       = "trigger_type_changed"
	ImpactTriggerParametersChanged = "trigger_parameters_changed"

	ImpactDownstream = "affects_downstream_workflows"
)

// BreakingChange is a diff entry judged likely to alter externally observable behavior.
type BreakingChange struct {
	Severity    Severity `json:"severity"`
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Impact      string   `json:"impact"`
	Node        string   `json:"node,omitempty"`
}

// Impact is one finding inside a dimension. Items lists the affected nodes,
// connections, services or callers.
type Impact struct {
	Type        string   `json:"type"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
	Items       []string `json:"items,omitempty"`
}

// Dimension is one independent lens over the diff.
type Dimension struct {
	Impacts            []Impact `json:"impacts"`
	HasBreakingChanges bool     `json:"has_breaking_changes"`
	Summary            string   `json:"summary"`
}

// Has reports whether the dimension contains an impact of the given type.
func (d Dimension) Has(impactType string) bool {
	_, ok := d.Find(impactType)
	return ok
}

// Find returns the first impact of the given type.
func (d Dimension) Find(impactType string) (Impact, bool) {
	for _, i := range d.Impacts {
		if i.Type == impactType {
			return i, true
		}
	}
	return Impact{}, false
}

// RiskLevel is derived from the overall risk score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Report is the result of an impact analysis.
type Report struct {
	DataFlow         Dimension        `json:"data_flow"`
	Execution        Dimension        `json:"execution"`
	Dependency       Dimension        `json:"dependency"`
	Trigger          Dimension        `json:"trigger"`
	Downstream       Dimension        `json:"downstream"`
	BreakingChanges  []BreakingChange `json:"breaking_changes"`
	OverallRiskScore float64          `json:"overall_risk_score"`
	RiskLevel        RiskLevel        `json:"risk_level"`
	Recommendations  []string         `json:"recommendations"`
}

// Dimensions returns the five dimensions keyed by their JSON name, in report order.
func (r *Report) Dimensions() []NamedDimension {
	return []NamedDimension{
		{Name: "data_flow", Dimension: r.DataFlow},
		{Name: "execution", Dimension: r.Execution},
		{Name: "dependency", Dimension: r.Dependency},
		{Name: "trigger", Dimension: r.Trigger},
		{Name: "downstream", Dimension: r.Downstream},
	}
}

// NamedDimension pairs a dimension with its JSON name.
type NamedDimension struct {
	Name string
	Dimension
}
