package diff

import (
	"fmt"
	"strconv"
	"strings"
)

// TakeWithOverflowNote returns at most n leading items and, when items were
// dropped, a note of the form "+N more". The note is empty otherwise.
func TakeWithOverflowNote[T any](items []T, n int) ([]T, string) {
	if n < 0 {
		n = 0
	}
	if len(items) <= n {
		return items, ""
	}
	return items[:n], fmt.Sprintf("+%d more", len(items)-n)
}

// SplitOverflow separates a node's change list from its trailing
// "+N more parameter changes" entry and returns the N it stood for.
func SplitOverflow(changes []string) ([]string, int) {
	if len(changes) == 0 {
		return changes, 0
	}
	last := changes[len(changes)-1]
	if !strings.HasPrefix(last, "+") || !strings.HasSuffix(last, parameterOverflowSuffix) {
		return changes, 0
	}
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(last, "+"), parameterOverflowSuffix))
	if err != nil {
		return changes, 0
	}
	return changes[:len(changes)-1], n
}

// IsEmpty reports whether the two workflows were structurally identical.
func (d *Diff) IsEmpty() bool {
	return len(d.Additions) == 0 && len(d.Deletions) == 0 && len(d.Modifications) == 0
}

// Total returns the number of entries across all three collections.
func (d *Diff) Total() int {
	return len(d.Additions) + len(d.Deletions) + len(d.Modifications)
}

// AddedNodes returns node additions.
func (d *Diff) AddedNodes() []Entry { return filter(d.Additions, EntryNode) }

// RemovedNodes returns node deletions.
func (d *Diff) RemovedNodes() []Entry { return filter(d.Deletions, EntryNode) }

// ModifiedNodes returns node modifications.
func (d *Diff) ModifiedNodes() []Entry { return filter(d.Modifications, EntryNode) }

// AddedConnections returns connection additions.
func (d *Diff) AddedConnections() []Entry { return filter(d.Additions, EntryConnection) }

// RemovedConnections returns connection deletions.
func (d *Diff) RemovedConnections() []Entry { return filter(d.Deletions, EntryConnection) }

// SettingsChanges returns the settings change lines, or nil when settings are unchanged.
func (d *Diff) SettingsChanges() []string {
	for _, m := range d.Modifications {
		if m.Type == EntrySettings {
			return m.Changes
		}
	}
	return nil
}

func filter(entries []Entry, t EntryType) []Entry {
	var out []Entry
	for _, e := range entries {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
