package graph

import (
	"errors"
	"fmt"

	"github.com/ppiankov/warrant/internal/condition"
)

var (
	ErrInvalidTerm       = errors.New("graph: invalid term")
	ErrInvalidRelation   = errors.New("graph: invalid relation")
	ErrInvalidReference  = errors.New("graph: relation references unknown term")
	ErrInvalidCondition  = errors.New("graph: invalid condition")
	ErrDuplicateTerm     = errors.New("graph: duplicate term")
	ErrDuplicateRelation = errors.New("graph: duplicate relation")
	ErrRelationID        = errors.New("graph: relation id does not match its content")
	ErrUnknownTerm       = errors.New("graph: unknown term")
)

// Builder accumulates terms and relations and produces an immutable
// Graph. A Builder is not safe for concurrent use.
type Builder struct {
	terms      map[string]Term
	relations  map[string]Relation
	predicates map[string][]condition.Predicate
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{
		terms:      make(map[string]Term),
		relations:  make(map[string]Relation),
		predicates: make(map[string][]condition.Predicate),
	}
}

// BuilderFrom starts an edit of a published graph. The graph itself is
// never modified.
func BuilderFrom(g *Graph) *Builder {
	b := NewBuilder()
	for id, t := range g.terms {
		b.terms[id] = t.clone()
	}
	for id, r := range g.relations {
		b.relations[id] = r.clone()
		b.predicates[id] = g.predicates[id]
	}
	return b
}

// AddTerm adds t. Terms are immutable: re-adding an existing id fails
// with ErrDuplicateTerm; retire the old term first to replace it.
func (b *Builder) AddTerm(t Term) error {
	if err := t.validate(); err != nil {
		return err
	}
	if _, exists := b.terms[t.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTerm, t.ID)
	}
	b.terms[t.ID] = t.clone()
	return nil
}

// AddRelation validates r, derives its id, compiles its conditions, and
// adds it. The stored relation (with id) is returned. Source and target
// must already exist (ErrInvalidReference). A relation whose derived id
// already exists fails with ErrDuplicateRelation.
func (b *Builder) AddRelation(r Relation) (Relation, error) {
	if _, ok := relationKindNames[r.Kind]; !ok {
		return Relation{}, fmt.Errorf("%w: invalid kind %d", ErrInvalidRelation, int(r.Kind))
	}
	if r.Source == r.Target {
		return Relation{}, fmt.Errorf("%w: %s %s -> %s is a self loop", ErrInvalidRelation, r.Kind, r.Source, r.Target)
	}
	if _, ok := b.terms[r.Source]; !ok {
		return Relation{}, fmt.Errorf("%w: source %q of %s relation", ErrInvalidReference, r.Source, r.Kind)
	}
	if _, ok := b.terms[r.Target]; !ok {
		return Relation{}, fmt.Errorf("%w: target %q of %s relation", ErrInvalidReference, r.Target, r.Kind)
	}

	stored := NewRelation(r.Kind, r.Source, r.Target, r.Conditions, r.Metadata)
	if r.ID != "" && r.ID != stored.ID {
		return Relation{}, fmt.Errorf("%w: got %s, derived %s", ErrRelationID, r.ID, stored.ID)
	}
	if _, exists := b.relations[stored.ID]; exists {
		return Relation{}, fmt.Errorf("%w: %s %s -> %s (%s)", ErrDuplicateRelation, stored.Kind, stored.Source, stored.Target, stored.ID)
	}

	preds := make([]condition.Predicate, 0, len(stored.Conditions))
	for _, c := range stored.Conditions {
		p, err := condition.Compile(c)
		if err != nil {
			return Relation{}, fmt.Errorf("%w: relation %s: %v", ErrInvalidCondition, stored.ID, err)
		}
		preds = append(preds, p)
	}

	b.relations[stored.ID] = stored
	b.predicates[stored.ID] = preds
	return stored.clone(), nil
}

// RetireTerm removes a term and every relation touching it.
func (b *Builder) RetireTerm(id string) error {
	if _, ok := b.terms[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTerm, id)
	}
	delete(b.terms, id)
	for rid, r := range b.relations {
		if r.Source == id || r.Target == id {
			delete(b.relations, rid)
			delete(b.predicates, rid)
		}
	}
	return nil
}

// RemoveRelation removes a relation by id.
func (b *Builder) RemoveRelation(id string) error {
	if _, ok := b.relations[id]; !ok {
		return fmt.Errorf("%w: unknown relation %s", ErrInvalidRelation, id)
	}
	delete(b.relations, id)
	delete(b.predicates, id)
	return nil
}

// Build freezes the current contents into a new Graph. The Builder may
// keep being used; later edits do not affect the returned Graph.
func (b *Builder) Build() (*Graph, error) {
	g := newGraph(len(b.terms), len(b.relations))
	for id, t := range b.terms {
		g.terms[id] = t.clone()
	}
	for id, r := range b.relations {
		g.relations[id] = r.clone()
		g.predicates[id] = b.predicates[id]
	}
	if err := g.index(); err != nil {
		return nil, err
	}
	return g, nil
}
