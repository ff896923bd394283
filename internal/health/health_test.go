package health

import (
	"context"
	"testing"
)

func fixed(s Status) Prober {
	return ProberFunc(func(context.Context) (Status, map[string]string) {
		return s, map[string]string{"probe": string(s)}
	})
}

func TestEmptyRegistryIsOK(t *testing.T) {
	r := NewRegistry()
	if got := r.Check(context.Background()); got.Status != StatusOK || len(got.Components) != 0 {
		t.Fatalf("unexpected report: %+v", got)
	}
}

func TestCheckReportsWorstStatus(t *testing.T) {
	tests := []struct {
		name   string
		probes map[string]Status
		want   Status
	}{
		{"all ok", map[string]Status{"a": StatusOK, "b": StatusOK}, StatusOK},
		{"one degraded", map[string]Status{"a": StatusOK, "b": StatusDegraded}, StatusDegraded},
		{"down wins", map[string]Status{"a": StatusDown, "b": StatusDegraded}, StatusDown},
		{"blank is down", map[string]Status{"a": ""}, StatusDown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			for name, s := range tt.probes {
				r.Register(name, fixed(s))
			}
			if got := r.Check(context.Background()).Status; got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestComponentsSortedByName(t *testing.T) {
	r := NewRegistry()
	r.Register("ledger", fixed(StatusOK))
	r.Register("keys", fixed(StatusOK))
	r.Register("policy", fixed(StatusOK))

	report := r.Check(context.Background())
	want := []string{"keys", "ledger", "policy"}
	for i, c := range report.Components {
		if c.Name != want[i] {
			t.Fatalf("component %d: expected %s, got %s", i, want[i], c.Name)
		}
	}
	if names := r.Names(); len(names) != 3 || names[0] != "keys" {
		t.Fatalf("unexpected names: %v", names)
	}
}

func TestCheckOneUnknown(t *testing.T) {
	r := NewRegistry()
	if c := r.CheckOne(context.Background(), "missing"); c.Status != StatusDown {
		t.Fatalf("expected down for unregistered component, got %s", c.Status)
	}
	r.Register("keys", fixed(StatusDegraded))
	if c := r.CheckOne(context.Background(), "keys"); c.Status != StatusDegraded {
		t.Fatalf("expected degraded, got %s", c.Status)
	}
}
