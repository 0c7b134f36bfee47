// Package diff computes structural differences between two n8n workflow versions.
//
// The engine is a pure function: it never mutates its inputs and holds no state,
// so it is safe to call concurrently for different workflow pairs.
package diff

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"

	"github.com/rendis/flowguard/pkg/schema"
)

// EntryType tags what a diff entry describes.
type EntryType string

const (
	EntryNode       EntryType = "node"
	EntryConnection EntryType = "connection"
	EntrySettings   EntryType = "settings"
)

// maxParameterChanges caps the parameter change previews of one node.
const maxParameterChanges = 3

// Change description prefixes. The breaking-change classifier matches on ChangeTypeChanged.
const (
	ChangeTypeChanged      = "type changed"
	ChangeNodeDisabled     = "node disabled"
	ChangeNodeEnabled      = "node enabled"
	ChangeParameterAdded   = "parameter added"
	ChangeParameterRemoved = "parameter removed"
	ChangeParameterChanged = "parameter changed"
)

// parameterOverflowSuffix ends the "+N more parameter changes" entry.
const parameterOverflowSuffix = " more parameter changes"

// Entry is one addition, deletion or modification.
type Entry struct {
	Type EntryType `json:"type"`
	// Name is the node name for node entries; empty for connection and settings entries.
	Name string `json:"name,omitempty"`
	// NodeType is the node's type (the new type for modifications).
	NodeType string `json:"node_type,omitempty"`
	// Connection is the canonical edge string for connection entries.
	Connection string             `json:"connection,omitempty"`
	Edge       *schema.Connection `json:"edge,omitempty"`
	Changes    []string           `json:"changes,omitempty"`
}

// Diff is the result of comparing a current workflow to a new one.
type Diff struct {
	WorkflowID    string  `json:"workflow_id,omitempty"`
	WorkflowName  string  `json:"workflow_name,omitempty"`
	Additions     []Entry `json:"additions"`
	Deletions     []Entry `json:"deletions"`
	Modifications []Entry `json:"modifications"`
}

// Compute compares current to next. Output order is deterministic: nodes follow
// workflow order, connections and settings keys are sorted.
func Compute(current, next *schema.Workflow) *Diff {
	d := &Diff{
		WorkflowID:    firstNonEmpty(next.ID, current.ID),
		WorkflowName:  firstNonEmpty(next.Name, current.Name),
		Additions:     []Entry{},
		Deletions:     []Entry{},
		Modifications: []Entry{},
	}

	diffNodes(d, current, next)
	diffConnections(d, current, next)
	diffSettings(d, current.Settings, next.Settings)

	return d
}

func diffNodes(d *Diff, current, next *schema.Workflow) {
	oldByName := make(map[string]*schema.Node, len(current.Nodes))
	for i := range current.Nodes {
		oldByName[current.Nodes[i].Name] = &current.Nodes[i]
	}
	newByName := make(map[string]*schema.Node, len(next.Nodes))
	for i := range next.Nodes {
		newByName[next.Nodes[i].Name] = &next.Nodes[i]
	}

	for i := range next.Nodes {
		n := &next.Nodes[i]
		if _, ok := oldByName[n.Name]; !ok {
			d.Additions = append(d.Additions, Entry{Type: EntryNode, Name: n.Name, NodeType: n.Type})
		}
	}

	for i := range current.Nodes {
		old := &current.Nodes[i]
		n, ok := newByName[old.Name]
		if !ok {
			d.Deletions = append(d.Deletions, Entry{Type: EntryNode, Name: old.Name, NodeType: old.Type})
			continue
		}
		if changes := compareNodes(old, n); len(changes) > 0 {
			d.Modifications = append(d.Modifications, Entry{
				Type:     EntryNode,
				Name:     old.Name,
				NodeType: n.Type,
				Changes:  changes,
			})
		}
	}
}

// compareNodes lists field-level changes between two versions of the same node.
// Only type, disabled and parameters count; typeVersion and credentials do not.
func compareNodes(old, n *schema.Node) []string {
	var changes []string

	if old.Type != n.Type {
		changes = append(changes, fmt.Sprintf("%s: %s → %s", ChangeTypeChanged, old.Type, n.Type))
	}
	if old.Disabled != n.Disabled {
		if n.Disabled {
			changes = append(changes, ChangeNodeDisabled)
		} else {
			changes = append(changes, ChangeNodeEnabled)
		}
	}
	if !MapsEqual(old.Parameters, n.Parameters) {
		shown, note := TakeWithOverflowNote(parameterChanges(old.Parameters, n.Parameters), maxParameterChanges)
		changes = append(changes, shown...)
		if note != "" {
			changes = append(changes, note+parameterOverflowSuffix)
		}
	}

	return changes
}

// parameterChanges returns one entry per added, removed or changed key, sorted by key.
func parameterChanges(old, n map[string]any) []string {
	var out []string
	for _, key := range unionKeys(old, n) {
		ov, inOld := old[key]
		nv, inNew := n[key]
		switch {
		case !inOld:
			out = append(out, fmt.Sprintf("%s: %s", ChangeParameterAdded, key))
		case !inNew:
			out = append(out, fmt.Sprintf("%s: %s", ChangeParameterRemoved, key))
		case !reflect.DeepEqual(ov, nv):
			out = append(out, fmt.Sprintf("%s: %s", ChangeParameterChanged, key))
		}
	}
	return out
}

// FlattenConnections indexes every edge of the workflow by its canonical string.
// Flattening the same structure always yields the same set.
func FlattenConnections(wf *schema.Workflow) map[string]schema.Connection {
	edges := wf.Edges()
	out := make(map[string]schema.Connection, len(edges))
	for _, e := range edges {
		out[e.String()] = e
	}
	return out
}

func diffConnections(d *Diff, current, next *schema.Workflow) {
	oldSet := FlattenConnections(current)
	newSet := FlattenConnections(next)

	for _, key := range sortedKeys(newSet) {
		if _, ok := oldSet[key]; !ok {
			e := newSet[key]
			d.Additions = append(d.Additions, Entry{Type: EntryConnection, Connection: key, Edge: &e})
		}
	}
	for _, key := range sortedKeys(oldSet) {
		if _, ok := newSet[key]; !ok {
			e := oldSet[key]
			d.Deletions = append(d.Deletions, Entry{Type: EntryConnection, Connection: key, Edge: &e})
		}
	}
}

func diffSettings(d *Diff, old, n map[string]any) {
	if MapsEqual(old, n) {
		return
	}

	var changes []string
	for _, key := range unionKeys(old, n) {
		ov, inOld := old[key]
		nv, inNew := n[key]
		switch {
		case !inOld:
			changes = append(changes, fmt.Sprintf("%s: added (%s)", key, renderValue(nv)))
		case !inNew:
			changes = append(changes, fmt.Sprintf("%s: removed", key))
		case !reflect.DeepEqual(ov, nv):
			changes = append(changes, fmt.Sprintf("%s: %s → %s", key, renderValue(ov), renderValue(nv)))
		}
	}

	if len(changes) > 0 {
		d.Modifications = append(d.Modifications, Entry{Type: EntrySettings, Changes: changes})
	}
}

// MapsEqual compares two free-form maps structurally; nil and empty are equal.
// Key order never matters.
func MapsEqual(a, b map[string]any) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}

func unionKeys(a, b map[string]any) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		seen[k] = struct{}{}
	}
	for k := range b {
		seen[k] = struct{}{}
	}
	return sortedKeys(seen)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func renderValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
