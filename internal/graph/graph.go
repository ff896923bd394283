package graph

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/ppiankov/warrant/internal/condition"
	"github.com/ppiankov/warrant/internal/model"
)

// Graph is an immutable policy snapshot. Terms and relations live in
// flat tables keyed by id; relations reference terms by id, and the
// adjacency index maps each term to its outgoing and incoming relation
// ids. All lists returned by Graph are sorted by id.
type Graph struct {
	terms      map[string]Term
	relations  map[string]Relation
	predicates map[string][]condition.Predicate

	termIDs     []string
	relationIDs []string
	byKind      map[TermKind][]string
	out         map[string][]string
	in          map[string][]string
	hash        string
}

func newGraph(nTerms, nRelations int) *Graph {
	return &Graph{
		terms:      make(map[string]Term, nTerms),
		relations:  make(map[string]Relation, nRelations),
		predicates: make(map[string][]condition.Predicate, nRelations),
		byKind:     make(map[TermKind][]string),
		out:        make(map[string][]string),
		in:         make(map[string][]string),
	}
}

// Empty returns a graph with no terms or relations.
func Empty() *Graph {
	g, _ := NewBuilder().Build()
	return g
}

func (g *Graph) index() error {
	g.termIDs = make([]string, 0, len(g.terms))
	for id, t := range g.terms {
		g.termIDs = append(g.termIDs, id)
		g.byKind[t.Kind] = append(g.byKind[t.Kind], id)
	}
	sort.Strings(g.termIDs)
	for k := range g.byKind {
		sort.Strings(g.byKind[k])
	}

	g.relationIDs = make([]string, 0, len(g.relations))
	for id, r := range g.relations {
		if _, ok := g.terms[r.Source]; !ok {
			return fmt.Errorf("%w: source %q of relation %s", ErrInvalidReference, r.Source, id)
		}
		if _, ok := g.terms[r.Target]; !ok {
			return fmt.Errorf("%w: target %q of relation %s", ErrInvalidReference, r.Target, id)
		}
		g.relationIDs = append(g.relationIDs, id)
		g.out[r.Source] = append(g.out[r.Source], id)
		g.in[r.Target] = append(g.in[r.Target], id)
	}
	sort.Strings(g.relationIDs)
	for k := range g.out {
		sort.Strings(g.out[k])
	}
	for k := range g.in {
		sort.Strings(g.in[k])
	}

	data, err := g.MarshalJSON()
	if err != nil {
		return fmt.Errorf("graph: serialize for hash: %w", err)
	}
	g.hash = model.HashBytes(data)
	return nil
}

// VersionHash is the content hash of the canonical serialization.
func (g *Graph) VersionHash() string { return g.hash }

// Term returns the term with id.
func (g *Graph) Term(id string) (Term, bool) {
	t, ok := g.terms[id]
	if !ok {
		return Term{}, false
	}
	return t.clone(), true
}

// HasTerm reports whether id is a term of g.
func (g *Graph) HasTerm(id string) bool {
	_, ok := g.terms[id]
	return ok
}

// Relation returns the relation with id.
func (g *Graph) Relation(id string) (Relation, bool) {
	r, ok := g.relations[id]
	if !ok {
		return Relation{}, false
	}
	return r.clone(), true
}

// Terms returns every term sorted by id.
func (g *Graph) Terms() []Term {
	out := make([]Term, 0, len(g.termIDs))
	for _, id := range g.termIDs {
		out = append(out, g.terms[id].clone())
	}
	return out
}

// Relations returns every relation sorted by id.
func (g *Graph) Relations() []Relation {
	return g.relationsByID(g.relationIDs)
}

// TermsByKind returns the terms of kind k sorted by id.
func (g *Graph) TermsByKind(k TermKind) []Term {
	ids := g.byKind[k]
	out := make([]Term, 0, len(ids))
	for _, id := range ids {
		out = append(out, g.terms[id].clone())
	}
	return out
}

// RelationsFrom returns the relations whose source is termID.
func (g *Graph) RelationsFrom(termID string) []Relation {
	return g.relationsByID(g.out[termID])
}

// RelationsTo returns the relations whose target is termID.
func (g *Graph) RelationsTo(termID string) []Relation {
	return g.relationsByID(g.in[termID])
}

// Predicates returns the compiled conditions of a relation, in the
// relation's condition order.
func (g *Graph) Predicates(relationID string) []condition.Predicate {
	return g.predicates[relationID]
}

// Len returns the number of terms and relations.
func (g *Graph) Len() (terms, relations int) {
	return len(g.terms), len(g.relations)
}

func (g *Graph) relationsByID(ids []string) []Relation {
	out := make([]Relation, 0, len(ids))
	for _, id := range ids {
		out = append(out, g.relations[id].clone())
	}
	return out
}

// canonicalDoc fixes the top-level serialization order.
type canonicalDoc struct {
	Terms     []Term     `json:"terms"`
	Relations []Relation `json:"relations"`
}

// MarshalJSON emits the canonical serialization: terms then relations,
// each sorted by id. VersionHash is computed over exactly these bytes.
func (g *Graph) MarshalJSON() ([]byte, error) {
	doc := canonicalDoc{
		Terms:     make([]Term, 0, len(g.termIDs)),
		Relations: make([]Relation, 0, len(g.relationIDs)),
	}
	for _, id := range g.termIDs {
		doc.Terms = append(doc.Terms, g.terms[id].canonical())
	}
	for _, id := range g.relationIDs {
		doc.Relations = append(doc.Relations, g.relations[id].canonical())
	}
	return json.Marshal(doc)
}
