// Package policydiff compares two policy graphs and reports the terms
// and relations that were added, removed, or edited between them.
package policydiff

import (
	"fmt"
	"maps"
	"sort"
	"strings"

	"github.com/ppiankov/warrant/internal/graph"
)

// Change types.
const (
	Added   = "added"
	Removed = "removed"
	Changed = "changed"
)

// TermChange describes one term that differs between the two graphs.
type TermChange struct {
	Type   string   `json:"type"`
	ID     string   `json:"id"`
	Kind   string   `json:"kind"`
	Fields []string `json:"fields,omitempty"`
}

// RelationChange describes one relation that differs between the two
// graphs. Relation ids cover kind, endpoints and conditions, so a
// changed relation differs only in metadata.
type RelationChange struct {
	Type       string   `json:"type"`
	ID         string   `json:"id"`
	Kind       string   `json:"kind"`
	Source     string   `json:"source"`
	Target     string   `json:"target"`
	Conditions []string `json:"conditions,omitempty"`
}

// Rule renders the relation as "source -kind-> target [conditions]".
func (rc RelationChange) Rule() string {
	s := fmt.Sprintf("%s -%s-> %s", rc.Source, rc.Kind, rc.Target)
	if len(rc.Conditions) > 0 {
		s += " [" + strings.Join(rc.Conditions, " && ") + "]"
	}
	return s
}

// DiffResult holds the complete diff between two policy graphs.
type DiffResult struct {
	OldPath         string           `json:"old_path"`
	NewPath         string           `json:"new_path"`
	OldHash         string           `json:"old_version_hash"`
	NewHash         string           `json:"new_version_hash"`
	TermChanges     []TermChange     `json:"term_changes"`
	RelationChanges []RelationChange `json:"relation_changes"`
	HasChanges      bool             `json:"has_changes"`
}

// Diff compares old and new. Changes are ordered by id within each
// category so the output is stable across runs.
func Diff(old, new *graph.Graph) *DiffResult {
	if old == nil {
		old = graph.Empty()
	}
	if new == nil {
		new = graph.Empty()
	}

	r := &DiffResult{
		OldHash:         old.VersionHash(),
		NewHash:         new.VersionHash(),
		TermChanges:     diffTerms(old, new),
		RelationChanges: diffRelations(old, new),
	}
	r.HasChanges = r.OldHash != r.NewHash ||
		len(r.TermChanges) > 0 || len(r.RelationChanges) > 0
	return r
}

func diffTerms(old, new *graph.Graph) []TermChange {
	var out []TermChange
	for _, t := range old.Terms() {
		nt, ok := new.Term(t.ID)
		if !ok {
			out = append(out, TermChange{Type: Removed, ID: t.ID, Kind: t.Kind.String()})
			continue
		}
		if fields := termFields(t, nt); len(fields) > 0 {
			out = append(out, TermChange{Type: Changed, ID: t.ID, Kind: nt.Kind.String(), Fields: fields})
		}
	}
	for _, t := range new.Terms() {
		if !old.HasTerm(t.ID) {
			out = append(out, TermChange{Type: Added, ID: t.ID, Kind: t.Kind.String()})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func termFields(a, b graph.Term) []string {
	var fields []string
	if a.Kind != b.Kind {
		fields = append(fields, "kind")
	}
	if a.Label != b.Label {
		fields = append(fields, "label")
	}
	if a.Description != b.Description {
		fields = append(fields, "description")
	}
	if !maps.Equal(a.Metadata, b.Metadata) {
		fields = append(fields, "metadata")
	}
	return fields
}

func diffRelations(old, new *graph.Graph) []RelationChange {
	var out []RelationChange
	for _, r := range old.Relations() {
		nr, ok := new.Relation(r.ID)
		switch {
		case !ok:
			out = append(out, relationChange(Removed, r))
		case !maps.Equal(r.Metadata, nr.Metadata):
			out = append(out, relationChange(Changed, nr))
		}
	}
	for _, r := range new.Relations() {
		if _, ok := old.Relation(r.ID); !ok {
			out = append(out, relationChange(Added, r))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Rule() < out[j].Rule() })
	return out
}

func relationChange(typ string, r graph.Relation) RelationChange {
	return RelationChange{
		Type:       typ,
		ID:         r.ID,
		Kind:       r.Kind.String(),
		Source:     r.Source,
		Target:     r.Target,
		Conditions: r.Conditions,
	}
}
