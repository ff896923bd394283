package condition

import (
	"context"
	"testing"
)

func TestCompileRejectsEmpty(t *testing.T) {
	if _, err := Compile("   "); err == nil {
		t.Fatal("expected error for empty expression")
	}
}

func TestCompileRejectsSyntaxError(t *testing.T) {
	if _, err := Compile("resource.classified == =="); err == nil {
		t.Fatal("expected syntax error")
	}
}

func TestNormalize(t *testing.T) {
	got := Normalize("  a   ==\t true ")
	if got != "a == true" {
		t.Fatalf("unexpected normalized form %q", got)
	}
}

func TestEvalDottedFlatKey(t *testing.T) {
	p, err := Compile("resource.classified == true")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	tests := []struct {
		name string
		vars map[string]any
		want bool
	}{
		{"flat true", map[string]any{"resource.classified": true}, true},
		{"flat false", map[string]any{"resource.classified": false}, false},
		{"nested true", map[string]any{"resource": map[string]any{"classified": true}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.Eval(ctx, NewVars(tt.vars))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestEvalUnknownVariableErrors(t *testing.T) {
	p, err := Compile("resource.classified == true")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Eval(context.Background(), NewVars(nil)); err == nil {
		t.Fatal("expected error for missing variable")
	}
}

func TestEvalNonBoolean(t *testing.T) {
	p, err := Compile("1 + 2")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Eval(context.Background(), NewVars(nil)); err == nil {
		t.Fatal("expected non-boolean error")
	}
}

func TestEvalStringAndNumbers(t *testing.T) {
	p, err := Compile(`env == "prod" && risk < 5`)
	if err != nil {
		t.Fatal(err)
	}
	ok, err := p.Eval(context.Background(), NewVars(map[string]any{"env": "prod", "risk": 3}))
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected predicate to hold")
	}
}

func TestNewVarsDoesNotMutateInput(t *testing.T) {
	inner := map[string]any{"a": 1}
	in := map[string]any{"x": inner, "x.b": 2}
	v := NewVars(in)

	if _, ok := inner["b"]; ok {
		t.Fatal("input map was mutated")
	}
	got, ok := v.Lookup("x.b")
	if !ok || got != 2 {
		t.Fatalf("expected x.b=2, got %v (%v)", got, ok)
	}
	got, ok = v.Lookup("x.a")
	if !ok || got != 1 {
		t.Fatalf("expected x.a=1, got %v (%v)", got, ok)
	}
}

func TestTruthy(t *testing.T) {
	tests := []struct {
		v    any
		want bool
	}{
		{nil, false},
		{true, true},
		{false, false},
		{"yes", true},
		{"false", false},
		{"0", false},
		{"", false},
		{0, false},
		{2.5, true},
		{map[string]any{}, false},
	}
	for _, tt := range tests {
		if got := Truthy(tt.v); got != tt.want {
			t.Errorf("Truthy(%#v) = %v, want %v", tt.v, got, tt.want)
		}
	}
}
