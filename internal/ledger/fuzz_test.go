package ledger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ppiankov/warrant/internal/clock"
)

func FuzzVerifyFile(f *testing.F) {
	// Seed with a valid 3-entry chain
	km := newKeys(f)
	path := filepath.Join(f.TempDir(), "valid.jsonl")
	store, err := OpenFileStore(context.Background(), path)
	if err != nil {
		f.Fatal(err)
	}
	ch, err := Open(context.Background(), store, km, km, WithClock(clock.NewFake(epoch)))
	if err != nil {
		f.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		ch.Append(context.Background(), allowPayload(i))
	}
	ch.Close()
	valid, _ := os.ReadFile(path)
	f.Add(valid)

	f.Add([]byte{})
	f.Add([]byte(`{"not":"a valid entry"}` + "\n"))
	f.Add([]byte(`not json`))

	f.Fuzz(func(t *testing.T, data []byte) {
		p := filepath.Join(t.TempDir(), "fuzz.jsonl")
		os.WriteFile(p, data, 0600)

		// Must not panic
		entries, err := ReadFile(p)
		if err != nil {
			return
		}
		VerifyEntries(entries, km)
	})
}
