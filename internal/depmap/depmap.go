// Package depmap maps dependencies across a set of n8n workflows: which
// sub-workflows each one calls, who calls it, and the external services and
// credential types it relies on.
package depmap

import (
	"sort"

	"github.com/rendis/flowguard/internal/impact"
	"github.com/rendis/flowguard/pkg/schema"
)

// Call is an execute-workflow node and the workflow it targets.
type Call struct {
	Node         string `json:"node"`
	WorkflowID   string `json:"workflow_id,omitempty"`
	WorkflowName string `json:"workflow_name,omitempty"`
	// Resolved is false when no workflow in the set matches the reference.
	Resolved bool `json:"resolved"`
}

// Workflow holds the dependencies of one workflow.
type Workflow struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Active      bool            `json:"active"`
	Trigger     string          `json:"trigger,omitempty"`
	Calls       []Call          `json:"calls"`
	CalledBy    []impact.Caller `json:"called_by"`
	Services    []string        `json:"services"`
	Credentials []string        `json:"credentials"`
}

// Map is the dependency map of a workflow set. Workflows are keyed by id,
// or by name for workflows without id.
type Map struct {
	Workflows map[string]*Workflow `json:"workflows"`
	// CredentialUsers maps a credential type to the sorted keys of workflows using it.
	CredentialUsers map[string][]string `json:"credential_users"`
	// ServiceUsers maps a service keyword to the sorted keys of workflows using it.
	ServiceUsers map[string][]string `json:"service_users"`
}

// Build computes the dependency map of workflows.
func Build(workflows []*schema.Workflow) *Map {
	m := &Map{
		Workflows:       make(map[string]*Workflow, len(workflows)),
		CredentialUsers: map[string][]string{},
		ServiceUsers:    map[string][]string{},
	}

	byID := make(map[string]*schema.Workflow, len(workflows))
	byName := make(map[string]*schema.Workflow, len(workflows))
	for _, wf := range workflows {
		if wf == nil {
			continue
		}
		if wf.ID != "" {
			byID[wf.ID] = wf
		}
		if _, dup := byName[wf.Name]; !dup {
			byName[wf.Name] = wf
		}
	}

	for _, wf := range workflows {
		if wf == nil {
			continue
		}
		key := Key(wf)
		entry := &Workflow{
			ID:          wf.ID,
			Name:        wf.Name,
			Active:      wf.Active,
			Calls:       []Call{},
			CalledBy:    impact.FindCallers(wf, workflows),
			Services:    impact.Services(wf),
			Credentials: impact.CredentialTypes(wf),
		}
		if entry.CalledBy == nil {
			entry.CalledBy = []impact.Caller{}
		}
		if t := impact.FindTrigger(wf); t != nil {
			entry.Trigger = t.Type
		}

		for i := range wf.Nodes {
			n := &wf.Nodes[i]
			if impact.IsTrigger(n.Type) {
				continue
			}
			id, name, ok := impact.SubWorkflowRef(n)
			if !ok {
				continue
			}
			call := Call{Node: n.Name, WorkflowID: id, WorkflowName: name}
			if target := resolve(byID, byName, id, name); target != nil {
				call.Resolved = true
				call.WorkflowID, call.WorkflowName = target.ID, target.Name
			}
			entry.Calls = append(entry.Calls, call)
		}

		for _, c := range entry.Credentials {
			m.CredentialUsers[c] = append(m.CredentialUsers[c], key)
		}
		for _, s := range entry.Services {
			m.ServiceUsers[s] = append(m.ServiceUsers[s], key)
		}
		m.Workflows[key] = entry
	}

	for _, idx := range []map[string][]string{m.CredentialUsers, m.ServiceUsers} {
		for k := range idx {
			sort.Strings(idx[k])
		}
	}
	return m
}

// Key is the map key of a workflow.
func Key(wf *schema.Workflow) string {
	if wf.ID != "" {
		return wf.ID
	}
	return wf.Name
}

// Get returns the entry of a workflow by id or name, or nil.
func (m *Map) Get(idOrName string) *Workflow {
	if w, ok := m.Workflows[idOrName]; ok {
		return w
	}
	for _, k := range m.Keys() {
		if m.Workflows[k].Name == idOrName {
			return m.Workflows[k]
		}
	}
	return nil
}

// Keys returns the workflow keys, sorted.
func (m *Map) Keys() []string {
	keys := make([]string, 0, len(m.Workflows))
	for k := range m.Workflows {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Unresolved returns every call whose target is not in the set, ordered by caller key.
func (m *Map) Unresolved() map[string][]Call {
	out := map[string][]Call{}
	for _, k := range m.Keys() {
		for _, c := range m.Workflows[k].Calls {
			if !c.Resolved {
				out[k] = append(out[k], c)
			}
		}
	}
	return out
}

func resolve(byID, byName map[string]*schema.Workflow, id, name string) *schema.Workflow {
	if id != "" {
		if wf, ok := byID[id]; ok {
			return wf
		}
	}
	if name != "" {
		if wf, ok := byName[name]; ok {
			return wf
		}
	}
	return nil
}
