package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/ppiankov/warrant/internal/condition"
)

// RelationKind is the closed set of relation kinds.
type RelationKind int

const (
	Permits RelationKind = iota + 1
	Forbids
	Requires
	Implies
	Conflicts
)

var relationKindNames = map[RelationKind]string{
	Permits:   "permits",
	Forbids:   "forbids",
	Requires:  "requires",
	Implies:   "implies",
	Conflicts: "conflicts",
}

// String returns the serialized name of k.
func (k RelationKind) String() string {
	if s, ok := relationKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("RelationKind(%d)", int(k))
}

// ParseRelationKind converts a serialized kind (case-insensitive).
func ParseRelationKind(s string) (RelationKind, error) {
	want := strings.ToLower(strings.TrimSpace(s))
	for k, name := range relationKindNames {
		if name == want {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown relation kind %q", ErrInvalidRelation, s)
}

// Relation is a typed, conditioned edge between two terms. All
// conditions must hold for the relation to be active.
type Relation struct {
	ID         string
	Kind       RelationKind
	Source     string
	Target     string
	Conditions []string
	Metadata   map[string]string
}

// RelationID derives the identifier of a relation from its kind,
// endpoints, and condition set. Conditions are normalized and sorted,
// so reordering or re-spacing them yields the same id.
func RelationID(kind RelationKind, source, target string, conditions []string) string {
	norm := make([]string, 0, len(conditions))
	for _, c := range conditions {
		norm = append(norm, condition.Normalize(c))
	}
	sort.Strings(norm)

	h := sha256.New()
	h.Write([]byte(kind.String()))
	h.Write([]byte{0})
	h.Write([]byte(source))
	h.Write([]byte{0})
	h.Write([]byte(target))
	for _, c := range norm {
		h.Write([]byte{0})
		h.Write([]byte(c))
	}
	return "rel-" + hex.EncodeToString(h.Sum(nil))[:16]
}

// NewRelation builds a relation with normalized conditions and its
// derived id.
func NewRelation(kind RelationKind, source, target string, conditions []string, metadata map[string]string) Relation {
	r := Relation{
		Kind:       kind,
		Source:     source,
		Target:     target,
		Conditions: normalizeConditions(conditions),
		Metadata:   cloneMeta(metadata),
	}
	r.ID = RelationID(kind, source, target, r.Conditions)
	return r
}

// normalizeConditions keeps nil and empty input distinct.
func normalizeConditions(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, c := range in {
		out = append(out, condition.Normalize(c))
	}
	return out
}

// relationJSON fixes the canonical field order.
type relationJSON struct {
	ID         string            `json:"id"`
	Kind       string            `json:"kind"`
	Source     string            `json:"source"`
	Target     string            `json:"target"`
	Conditions []string          `json:"conditions,omitzero"`
	Metadata   map[string]string `json:"metadata,omitzero"`
}

// MarshalJSON emits the canonical serialization of r.
func (r Relation) MarshalJSON() ([]byte, error) {
	return json.Marshal(relationJSON{
		ID:         r.ID,
		Kind:       r.Kind.String(),
		Source:     r.Source,
		Target:     r.Target,
		Conditions: r.Conditions,
		Metadata:   r.Metadata,
	})
}

// UnmarshalJSON parses the canonical serialization of a relation.
func (r *Relation) UnmarshalJSON(data []byte) error {
	var raw relationJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	kind, err := ParseRelationKind(raw.Kind)
	if err != nil {
		return err
	}
	*r = Relation{
		ID:         raw.ID,
		Kind:       kind,
		Source:     raw.Source,
		Target:     raw.Target,
		Conditions: normalizeConditions(raw.Conditions),
		Metadata:   cloneMeta(raw.Metadata),
	}
	return nil
}

func (r Relation) clone() Relation {
	r.Conditions = slices.Clone(r.Conditions)
	r.Metadata = cloneMeta(r.Metadata)
	return r
}

// canonical drops empty conditions and metadata so they serialize like
// absent ones.
func (r Relation) canonical() Relation {
	if len(r.Conditions) == 0 {
		r.Conditions = nil
	}
	if len(r.Metadata) == 0 {
		r.Metadata = nil
	}
	return r
}
