package graph

import "testing"

// FuzzParse checks that arbitrary policy documents never panic and that
// every accepted document hashes deterministically.
func FuzzParse(f *testing.F) {
	f.Add([]byte(samplePolicyYAML))
	f.Add([]byte("terms: []\n"))
	f.Add([]byte("relations:\n  - kind: permits\n"))
	f.Add([]byte("{{{"))

	f.Fuzz(func(t *testing.T, data []byte) {
		g1, err := Parse(data, FormatYAML)
		if err != nil {
			return
		}
		g2, err := Parse(data, FormatYAML)
		if err != nil {
			t.Fatalf("second parse failed: %v", err)
		}
		if g1.VersionHash() != g2.VersionHash() {
			t.Fatalf("non-deterministic hash for %q", data)
		}
	})
}
