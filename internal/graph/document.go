package graph

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Format selects the policy document syntax.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// Document is the authoring form of a policy graph. Kinds are strings
// here and converted once, at Build time.
type Document struct {
	Terms     []TermDoc     `yaml:"terms" json:"terms"`
	Relations []RelationDoc `yaml:"relations" json:"relations"`
}

// TermDoc is the authoring form of a Term.
type TermDoc struct {
	ID          string            `yaml:"id" json:"id"`
	Kind        string            `yaml:"kind" json:"kind"`
	Label       string            `yaml:"label,omitempty" json:"label"`
	Description string            `yaml:"description,omitempty" json:"description"`
	Metadata    map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// RelationDoc is the authoring form of a Relation. ID is optional; when
// present it must match the derived id.
type RelationDoc struct {
	ID         string            `yaml:"id,omitempty" json:"id,omitempty"`
	Kind       string            `yaml:"kind" json:"kind"`
	Source     string            `yaml:"source" json:"source"`
	Target     string            `yaml:"target" json:"target"`
	Conditions []string          `yaml:"conditions,omitempty" json:"conditions,omitempty"`
	Metadata   map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// Build converts the document into a Graph, rejecting invalid terms,
// dangling references, duplicate relations, and bad conditions.
func (d *Document) Build() (*Graph, error) {
	b := NewBuilder()
	for i, td := range d.Terms {
		kind, err := ParseTermKind(td.Kind)
		if err != nil {
			return nil, fmt.Errorf("terms[%d]: %w", i, err)
		}
		if err := b.AddTerm(Term{
			ID:          strings.TrimSpace(td.ID),
			Kind:        kind,
			Label:       td.Label,
			Description: td.Description,
			Metadata:    td.Metadata,
		}); err != nil {
			return nil, fmt.Errorf("terms[%d]: %w", i, err)
		}
	}
	for i, rd := range d.Relations {
		kind, err := ParseRelationKind(rd.Kind)
		if err != nil {
			return nil, fmt.Errorf("relations[%d]: %w", i, err)
		}
		if _, err := b.AddRelation(Relation{
			ID:         strings.TrimSpace(rd.ID),
			Kind:       kind,
			Source:     strings.TrimSpace(rd.Source),
			Target:     strings.TrimSpace(rd.Target),
			Conditions: rd.Conditions,
			Metadata:   rd.Metadata,
		}); err != nil {
			return nil, fmt.Errorf("relations[%d]: %w", i, err)
		}
	}
	return b.Build()
}

// DocumentOf returns the authoring form of g, in canonical order.
func DocumentOf(g *Graph) *Document {
	d := &Document{}
	for _, t := range g.Terms() {
		d.Terms = append(d.Terms, TermDoc{
			ID:          t.ID,
			Kind:        t.Kind.String(),
			Label:       t.Label,
			Description: t.Description,
			Metadata:    t.Metadata,
		})
	}
	for _, r := range g.Relations() {
		d.Relations = append(d.Relations, RelationDoc{
			ID:         r.ID,
			Kind:       r.Kind.String(),
			Source:     r.Source,
			Target:     r.Target,
			Conditions: r.Conditions,
			Metadata:   r.Metadata,
		})
	}
	return d
}

// Parse decodes a policy document. Unknown fields are rejected.
// JSON input may contain comments and trailing commas.
func Parse(data []byte, format Format) (*Graph, error) {
	var doc Document
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("graph: parse policy json: %w", err)
		}
	case FormatYAML, "":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("graph: parse policy yaml: %w", err)
		}
	default:
		return nil, fmt.Errorf("graph: unknown policy format %q", format)
	}
	return doc.Build()
}

// FormatForPath picks the document format from a file extension.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		return FormatJSON
	}
	return FormatYAML
}

// LoadFile reads and builds a policy document from path.
func LoadFile(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("graph: read policy: %w", err)
	}
	g, err := Parse(data, FormatForPath(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return g, nil
}
