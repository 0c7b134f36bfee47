package schema

import (
	"fmt"
	"sort"
	"strings"
)

// ValidationSeverity indicates how serious a validation issue is.
type ValidationSeverity string

const (
	SeverityError   ValidationSeverity = "error"
	SeverityWarning ValidationSeverity = "warning"
	SeverityInfo    ValidationSeverity = "info"
)

// Top-level paths of an n8n workflow document.
const (
	PathName        = "name"
	PathNodes       = "nodes"
	PathConnections = "connections"
)

// NodePath locates a node by name, optionally narrowed to a field:
// NodePath("HTTP", "parameters", "url") is "nodes[HTTP].parameters.url".
// Names are used instead of indexes because n8n keys connections by name.
func NodePath(name string, field ...string) string {
	p := PathNodes + "[" + name + "]"
	if len(field) == 0 {
		return p
	}
	return p + "." + strings.Join(field, ".")
}

// NodeIndexPath locates a node by position, for issues where the name itself
// is unusable (duplicated or empty).
func NodeIndexPath(i int, field string) string {
	p := fmt.Sprintf("%s[%d]", PathNodes, i)
	if field == "" {
		return p
	}
	return p + "." + field
}

// ConnectionPath locates the outgoing connections of a source node.
func ConnectionPath(source string) string {
	return PathConnections + "." + source
}

// ValidationIssue is a single problem found in a workflow, located by a
// path built with NodePath, NodeIndexPath or ConnectionPath, or one of the
// top-level paths.
type ValidationIssue struct {
	Path     string             `json:"path"`
	Code     string             `json:"code"`
	Message  string             `json:"message"`
	Severity ValidationSeverity `json:"severity"`
}

// ValidationResult aggregates the issues of a validation pass.
type ValidationResult struct {
	Errors   []ValidationIssue `json:"errors,omitempty"`
	Warnings []ValidationIssue `json:"warnings,omitempty"`
}

// Valid returns true if there are no errors (warnings are acceptable).
func (r *ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

// AddError appends an error-severity issue.
func (r *ValidationResult) AddError(path, code, message string) {
	r.Errors = append(r.Errors, ValidationIssue{
		Path: path, Code: code, Message: message, Severity: SeverityError,
	})
}

// AddWarning appends a warning-severity issue.
func (r *ValidationResult) AddWarning(path, code, message string) {
	r.Warnings = append(r.Warnings, ValidationIssue{
		Path: path, Code: code, Message: message, Severity: SeverityWarning,
	})
}

// AddNodeError appends an error located at NodePath(node, field...).
func (r *ValidationResult) AddNodeError(node, code, message string, field ...string) {
	r.AddError(NodePath(node, field...), code, message)
}

// AddNodeWarning appends a warning located at NodePath(node, field...).
func (r *ValidationResult) AddNodeWarning(node, code, message string, field ...string) {
	r.AddWarning(NodePath(node, field...), code, message)
}

// SortIssues orders issues by path then message so output does not depend on
// map iteration order.
func SortIssues(issues []ValidationIssue) {
	sort.SliceStable(issues, func(i, j int) bool {
		if issues[i].Path != issues[j].Path {
			return issues[i].Path < issues[j].Path
		}
		return issues[i].Message < issues[j].Message
	})
}

// Merge combines another ValidationResult into this one.
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// ToError converts the result to a FlowError if invalid, nil if valid.
func (r *ValidationResult) ToError() error {
	if r.Valid() {
		return nil
	}

	msg := r.Errors[0].Message
	if len(r.Errors) > 1 {
		msg = fmt.Sprintf("workflow has %d validation errors", len(r.Errors))
	}

	return NewError(ErrCodeValidation, msg).
		WithDetails(map[string]any{
			"error_count":   len(r.Errors),
			"warning_count": len(r.Warnings),
			"errors":        r.Errors,
			"warnings":      r.Warnings,
		})
}
