package decision

import (
	"testing"

	"github.com/ppiankov/warrant/internal/model"
	"github.com/ppiankov/warrant/internal/policy"
)

func TestRequestDigestStable(t *testing.T) {
	a := model.Request{Actor: "a", Action: "b", Tool: "c", Context: map[string]any{"x": 1, "y": true}}
	b := model.Request{Actor: "a", Action: "b", Tool: "c", Context: map[string]any{"y": true, "x": 1}}
	da, ok := requestDigest(a)
	if !ok {
		t.Fatal("digest failed")
	}
	db, _ := requestDigest(b)
	if da != db {
		t.Fatal("equal requests must share a digest")
	}
	b.Resource = "r"
	if dc, _ := requestDigest(b); dc == da {
		t.Fatal("different requests must not share a digest")
	}
}

func TestRequestDigestUnencodable(t *testing.T) {
	req := model.Request{Actor: "a", Action: "b", Tool: "c", Context: map[string]any{"f": func() {}}}
	if _, ok := requestDigest(req); ok {
		t.Fatal("expected digest to fail for unencodable context")
	}
}

func TestVerdictCacheEviction(t *testing.T) {
	c := newVerdictCache(2)
	k := func(s string) cacheKey { return cacheKey{policyHash: s} }

	c.put(k("a"), policy.Verdict{Reason: policy.ReasonPermitted})
	c.put(k("b"), policy.Verdict{Reason: policy.ReasonForbidden})
	c.get(k("a")) // a is now most recent
	c.put(k("c"), policy.Verdict{Reason: policy.ReasonConflict})

	if _, ok := c.get(k("b")); ok {
		t.Fatal("least recently used entry should be evicted")
	}
	if v, ok := c.get(k("a")); !ok || v.Reason != policy.ReasonPermitted {
		t.Fatal("recently used entry should survive")
	}
	if c.len() != 2 {
		t.Fatalf("expected 2 entries, got %d", c.len())
	}
}

func TestVerdictCacheReturnsCopies(t *testing.T) {
	c := newVerdictCache(0)
	c.put(cacheKey{}, policy.Verdict{MatchedRelations: []string{"rel-1"}})
	v, _ := c.get(cacheKey{})
	v.MatchedRelations[0] = "mutated"
	v2, _ := c.get(cacheKey{})
	if v2.MatchedRelations[0] != "rel-1" {
		t.Fatal("cached verdict was mutated through a returned copy")
	}
}
