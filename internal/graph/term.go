// Package graph holds the policy graph: terms (nodes) and typed,
// conditioned relations (edges) between them. A Graph is an immutable
// snapshot identified by its version hash; edits go through a Builder
// that yields a new Graph.
package graph

import (
	"encoding/json"
	"fmt"
	"maps"
	"strings"
)

// TermKind is the closed set of term kinds.
type TermKind int

const (
	KindAction TermKind = iota + 1
	KindActor
	KindDataClass
	KindResource
	KindContext
)

var termKindNames = map[TermKind]string{
	KindAction:    "action",
	KindActor:     "actor",
	KindDataClass: "data_class",
	KindResource:  "resource",
	KindContext:   "context",
}

// String returns the serialized name of k.
func (k TermKind) String() string {
	if s, ok := termKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("TermKind(%d)", int(k))
}

// ParseTermKind converts a serialized kind. Matching is case-insensitive
// and accepts "dataclass" and "data" for KindDataClass.
func ParseTermKind(s string) (TermKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "action":
		return KindAction, nil
	case "actor":
		return KindActor, nil
	case "data_class", "dataclass", "data":
		return KindDataClass, nil
	case "resource":
		return KindResource, nil
	case "context":
		return KindContext, nil
	}
	return 0, fmt.Errorf("%w: unknown term kind %q", ErrInvalidTerm, s)
}

// Term id namespaces. tool: terms are resources.
const (
	PrefixAction   = "action:"
	PrefixActor    = "actor:"
	PrefixData     = "data:"
	PrefixResource = "resource:"
	PrefixTool     = "tool:"
	PrefixContext  = "context:"
)

// kindForPrefix maps an id namespace to the kind it must carry.
func kindForPrefix(id string) (TermKind, bool) {
	switch {
	case strings.HasPrefix(id, PrefixAction):
		return KindAction, true
	case strings.HasPrefix(id, PrefixActor):
		return KindActor, true
	case strings.HasPrefix(id, PrefixData):
		return KindDataClass, true
	case strings.HasPrefix(id, PrefixResource), strings.HasPrefix(id, PrefixTool):
		return KindResource, true
	case strings.HasPrefix(id, PrefixContext):
		return KindContext, true
	}
	return 0, false
}

// Term is a node in the policy graph.
type Term struct {
	ID          string
	Kind        TermKind
	Label       string
	Description string
	Metadata    map[string]string
}

func (t Term) validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidTerm)
	}
	if strings.ContainsAny(t.ID, " \t\r\n") {
		return fmt.Errorf("%w: id %q contains whitespace", ErrInvalidTerm, t.ID)
	}
	want, ok := kindForPrefix(t.ID)
	if !ok {
		return fmt.Errorf("%w: id %q has no known namespace", ErrInvalidTerm, t.ID)
	}
	if _, ok := termKindNames[t.Kind]; !ok {
		return fmt.Errorf("%w: id %q has invalid kind %d", ErrInvalidTerm, t.ID, int(t.Kind))
	}
	if want != t.Kind {
		return fmt.Errorf("%w: id %q is namespaced as %s but declared %s", ErrInvalidTerm, t.ID, want, t.Kind)
	}
	if name := t.ID[strings.Index(t.ID, ":")+1:]; name == "" {
		return fmt.Errorf("%w: id %q has an empty name", ErrInvalidTerm, t.ID)
	}
	return nil
}

// termJSON fixes the canonical field order.
type termJSON struct {
	ID          string            `json:"id"`
	Kind        string            `json:"kind"`
	Label       string            `json:"label"`
	Description string            `json:"description"`
	Metadata    map[string]string `json:"metadata,omitzero"`
}

// MarshalJSON emits the canonical serialization of t.
func (t Term) MarshalJSON() ([]byte, error) {
	return json.Marshal(termJSON{
		ID:          t.ID,
		Kind:        t.Kind.String(),
		Label:       t.Label,
		Description: t.Description,
		Metadata:    t.Metadata,
	})
}

// UnmarshalJSON parses the canonical serialization of a term.
func (t *Term) UnmarshalJSON(data []byte) error {
	var raw termJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	kind, err := ParseTermKind(raw.Kind)
	if err != nil {
		return err
	}
	*t = Term{
		ID:          raw.ID,
		Kind:        kind,
		Label:       raw.Label,
		Description: raw.Description,
		Metadata:    cloneMeta(raw.Metadata),
	}
	return nil
}

// cloneMeta keeps nil and empty metadata distinct.
func cloneMeta(m map[string]string) map[string]string { return maps.Clone(m) }

func (t Term) clone() Term {
	t.Metadata = cloneMeta(t.Metadata)
	return t
}

func (t Term) canonical() Term {
	if len(t.Metadata) == 0 {
		t.Metadata = nil
	}
	return t
}
