package policydiff

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/ppiankov/warrant/internal/graph"
)

const basePolicy = `
terms:
  - id: actor:analyst_agent
    kind: actor
    label: Analyst agent
  - id: action:read_file
    kind: action
    label: Read file
  - id: data:pii
    kind: data_class
    label: PII
relations:
  - kind: permits
    source: actor:analyst_agent
    target: action:read_file
  - kind: forbids
    source: actor:analyst_agent
    target: action:read_file
    conditions:
      - pii_present == true
`

func mustParse(t *testing.T, doc string) *graph.Graph {
	t.Helper()
	g, err := graph.Parse([]byte(doc), graph.FormatYAML)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return g
}

func TestIdenticalPoliciesNoChanges(t *testing.T) {
	r := Diff(mustParse(t, basePolicy), mustParse(t, basePolicy))
	if r.HasChanges {
		t.Errorf("expected no changes, got %d term + %d relation changes",
			len(r.TermChanges), len(r.RelationChanges))
	}
	if r.OldHash != r.NewHash {
		t.Errorf("hashes differ for identical documents: %s vs %s", r.OldHash, r.NewHash)
	}
}

func TestAddedTermAndRelation(t *testing.T) {
	next := strings.Replace(basePolicy, "relations:\n", `  - id: action:delete_file
    kind: action
relations:
  - kind: forbids
    source: actor:analyst_agent
    target: action:delete_file
`, 1)

	r := Diff(mustParse(t, basePolicy), mustParse(t, next))
	if !r.HasChanges {
		t.Fatal("expected changes")
	}
	if r.OldHash == r.NewHash {
		t.Error("version hash should change")
	}
	if len(r.TermChanges) != 1 || r.TermChanges[0].Type != Added || r.TermChanges[0].ID != "action:delete_file" {
		t.Errorf("unexpected term changes: %+v", r.TermChanges)
	}
	if len(r.RelationChanges) != 1 || r.RelationChanges[0].Type != Added {
		t.Fatalf("unexpected relation changes: %+v", r.RelationChanges)
	}
	want := "actor:analyst_agent -forbids-> action:delete_file"
	if got := r.RelationChanges[0].Rule(); got != want {
		t.Errorf("rule = %q, want %q", got, want)
	}
}

func TestRemovedRelation(t *testing.T) {
	next := basePolicy[:strings.Index(basePolicy, "  - kind: forbids")]

	r := Diff(mustParse(t, basePolicy), mustParse(t, next))
	if len(r.RelationChanges) != 1 {
		t.Fatalf("expected 1 relation change, got %+v", r.RelationChanges)
	}
	rc := r.RelationChanges[0]
	if rc.Type != Removed || rc.Kind != "forbids" {
		t.Errorf("unexpected change: %+v", rc)
	}
	if len(rc.Conditions) != 1 {
		t.Errorf("conditions not carried: %+v", rc.Conditions)
	}
}

func TestChangedTermFields(t *testing.T) {
	next := strings.Replace(basePolicy, "label: PII", "label: Personal data\n    metadata:\n      regime: gdpr", 1)

	r := Diff(mustParse(t, basePolicy), mustParse(t, next))
	if len(r.TermChanges) != 1 {
		t.Fatalf("expected 1 term change, got %+v", r.TermChanges)
	}
	tc := r.TermChanges[0]
	if tc.Type != Changed || tc.ID != "data:pii" {
		t.Errorf("unexpected change: %+v", tc)
	}
	if strings.Join(tc.Fields, ",") != "label,metadata" {
		t.Errorf("fields = %v", tc.Fields)
	}
	if len(r.RelationChanges) != 0 {
		t.Errorf("relations should be unchanged: %+v", r.RelationChanges)
	}
}

func TestChangedRelationMetadata(t *testing.T) {
	next := strings.Replace(basePolicy, "    target: action:read_file\n  - kind: forbids",
		"    target: action:read_file\n    metadata:\n      ticket: SEC-12\n  - kind: forbids", 1)

	r := Diff(mustParse(t, basePolicy), mustParse(t, next))
	if len(r.RelationChanges) != 1 || r.RelationChanges[0].Type != Changed {
		t.Fatalf("expected one changed relation, got %+v", r.RelationChanges)
	}
}

func TestDiffAgainstEmpty(t *testing.T) {
	r := Diff(nil, mustParse(t, basePolicy))
	if !r.HasChanges {
		t.Fatal("expected changes")
	}
	if len(r.TermChanges) != 3 || len(r.RelationChanges) != 2 {
		t.Errorf("expected everything added, got %d terms %d relations",
			len(r.TermChanges), len(r.RelationChanges))
	}
	for _, tc := range r.TermChanges {
		if tc.Type != Added {
			t.Errorf("term %s: type %s", tc.ID, tc.Type)
		}
	}
	if r.OldHash != graph.Empty().VersionHash() {
		t.Errorf("old hash should be the empty graph hash")
	}
}

func TestFormatTextNoChanges(t *testing.T) {
	r := Diff(mustParse(t, basePolicy), mustParse(t, basePolicy))
	r.OldPath, r.NewPath = "a.yaml", "b.yaml"

	out := FormatText(r)
	if !strings.Contains(out, "No changes detected.") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestFormatTextMarkers(t *testing.T) {
	next := strings.Replace(basePolicy, "label: PII", "label: Personal data", 1)
	next = next[:strings.Index(next, "  - kind: forbids")]

	r := Diff(mustParse(t, basePolicy), mustParse(t, next))
	out := FormatText(r)
	for _, want := range []string{"Terms:", "~ data:pii (data_class)  [label]", "Relations:", "- actor:analyst_agent -forbids-> action:read_file [pii_present == true]", "new hash:"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestFormatJSON(t *testing.T) {
	r := Diff(nil, mustParse(t, basePolicy))
	out, err := FormatJSON(r)
	if err != nil {
		t.Fatal(err)
	}
	var decoded DiffResult
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if decoded.NewHash != r.NewHash || len(decoded.RelationChanges) != 2 {
		t.Errorf("decoded result mismatch: %+v", decoded)
	}
}
