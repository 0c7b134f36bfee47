// Package migrate rewrites deprecated n8n nodes into their current form.
//
// A migration never touches the input workflow: Apply returns a migrated copy,
// and callers diff the two to present the migration as a change plan.
package migrate

import (
	"context"
	"fmt"
	"sort"

	"github.com/rendis/flowguard/internal/expressions"
	"github.com/rendis/flowguard/pkg/schema"
)

// Rule migrates nodes of one type. When is an optional expr condition evaluated
// with the node fields (name, type, typeVersion, parameters, disabled) as variables.
type Rule struct {
	Name           string            `json:"name"`
	Description    string            `json:"description,omitempty"`
	NodeType       string            `json:"node_type"`
	When           string            `json:"when,omitempty"`
	NewType        string            `json:"new_type,omitempty"`
	NewTypeVersion float64           `json:"new_type_version,omitempty"`
	RenameParams   map[string]string `json:"rename_params,omitempty"`
	SetParams      map[string]any    `json:"set_params,omitempty"`
}

// Applied records one rule applied to one node.
type Applied struct {
	Rule    string   `json:"rule"`
	Node    string   `json:"node"`
	Changes []string `json:"changes"`
}

// DefaultRules returns the built-in migrations for nodes n8n has deprecated.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:           "function-to-code",
			Description:    "Replace the Function node with the Code node running once for all items",
			NodeType:       "n8n-nodes-base.function",
			NewType:        "n8n-nodes-base.code",
			NewTypeVersion: 2,
			RenameParams:   map[string]string{"functionCode": "jsCode"},
			SetParams:      map[string]any{"mode": "runOnceForAllItems"},
		},
		{
			Name:           "function-item-to-code",
			Description:    "Replace the Function Item node with the Code node running once per item",
			NodeType:       "n8n-nodes-base.functionItem",
			NewType:        "n8n-nodes-base.code",
			NewTypeVersion: 2,
			RenameParams:   map[string]string{"functionCode": "jsCode"},
			SetParams:      map[string]any{"mode": "runOnceForEachItem"},
		},
		{
			Name:           "http-request-v4",
			Description:    "Upgrade HTTP Request nodes older than version 4",
			NodeType:       "n8n-nodes-base.httpRequest",
			When:           "typeVersion < 4",
			NewTypeVersion: 4.2,
			RenameParams:   map[string]string{"requestMethod": "method"},
		},
	}
}

// Migrator applies rules. Conditions are compiled once and cached by the engine.
type Migrator struct {
	engine *expressions.ExprEngine
}

// New creates a Migrator.
func New() *Migrator {
	return &Migrator{engine: expressions.NewExprEngine()}
}

// Apply is Migrator.Apply with a fresh migrator and a background context.
func Apply(wf *schema.Workflow, rules []Rule) (*schema.Workflow, []Applied, error) {
	return New().Apply(context.Background(), wf, rules)
}

// Apply returns a migrated copy of wf and the list of applied rules. The first
// matching rule wins for each node. wf is never mutated.
func (m *Migrator) Apply(ctx context.Context, wf *schema.Workflow, rules []Rule) (*schema.Workflow, []Applied, error) {
	if err := m.check(rules); err != nil {
		return nil, nil, err
	}

	out, err := wf.Clone()
	if err != nil {
		return nil, nil, schema.NewError(schema.ErrCodeMigration, "failed to copy workflow").WithCause(err)
	}

	applied := []Applied{}
	for i := range out.Nodes {
		node := &out.Nodes[i]
		for _, r := range rules {
			ok, err := m.matches(ctx, r, node)
			if err != nil {
				return nil, nil, err
			}
			if !ok {
				continue
			}
			if changes := migrateNode(node, r); len(changes) > 0 {
				applied = append(applied, Applied{Rule: r.Name, Node: node.Name, Changes: changes})
			}
			break
		}
	}

	return out, applied, nil
}

func (m *Migrator) check(rules []Rule) error {
	for _, r := range rules {
		if r.Name == "" || r.NodeType == "" {
			return schema.NewError(schema.ErrCodeMigration, "migration rule needs a name and a node type")
		}
		if r.When == "" {
			continue
		}
		if err := m.engine.Compile(r.When); err != nil {
			return schema.NewErrorf(schema.ErrCodeMigration, "rule %q: invalid condition", r.Name).WithCause(err)
		}
	}
	return nil
}

func (m *Migrator) matches(ctx context.Context, r Rule, n *schema.Node) (bool, error) {
	if n.Type != r.NodeType {
		return false, nil
	}
	if r.When == "" {
		return true, nil
	}

	params := n.Parameters
	if params == nil {
		params = map[string]any{}
	}
	ok, err := m.engine.EvaluateBool(ctx, r.When, map[string]any{
		"name":        n.Name,
		"type":        n.Type,
		"typeVersion": n.TypeVersion,
		"parameters":  params,
		"disabled":    n.Disabled,
	})
	if err != nil {
		return false, schema.NewErrorf(schema.ErrCodeMigration, "rule %q on node %q: condition failed", r.Name, n.Name).WithCause(err)
	}
	return ok, nil
}

// migrateNode rewrites n in place and describes what changed.
func migrateNode(n *schema.Node, r Rule) []string {
	var changes []string

	if r.NewType != "" && r.NewType != n.Type {
		changes = append(changes, fmt.Sprintf("type: %s → %s", n.Type, r.NewType))
		n.Type = r.NewType
	}
	if r.NewTypeVersion != 0 && r.NewTypeVersion != n.TypeVersion {
		changes = append(changes, fmt.Sprintf("typeVersion: %g → %g", n.TypeVersion, r.NewTypeVersion))
		n.TypeVersion = r.NewTypeVersion
	}

	if n.Parameters == nil && (len(r.RenameParams) > 0 || len(r.SetParams) > 0) {
		n.Parameters = map[string]any{}
	}

	for _, from := range sortedKeys(r.RenameParams) {
		to := r.RenameParams[from]
		v, ok := n.Parameters[from]
		if !ok {
			continue
		}
		if _, taken := n.Parameters[to]; taken {
			continue
		}
		delete(n.Parameters, from)
		n.Parameters[to] = v
		changes = append(changes, fmt.Sprintf("parameter renamed: %s → %s", from, to))
	}

	for _, key := range sortedKeys(r.SetParams) {
		if cur, ok := n.Parameters[key]; ok && fmt.Sprint(cur) == fmt.Sprint(r.SetParams[key]) {
			continue
		}
		n.Parameters[key] = r.SetParams[key]
		changes = append(changes, fmt.Sprintf("parameter set: %s", key))
	}

	return changes
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
