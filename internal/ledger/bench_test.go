package ledger

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ppiankov/warrant/internal/clock"
)

func BenchmarkAppend_Memory(b *testing.B) {
	km := newKeys(b)
	ch, err := Open(context.Background(), NewMemoryStore(), km, km, WithClock(clock.Real()))
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ch.Append(context.Background(), allowPayload(i))
	}
}

func BenchmarkAppend_File(b *testing.B) {
	km := newKeys(b)
	store, err := OpenFileStore(context.Background(), filepath.Join(b.TempDir(), "bench.jsonl"))
	if err != nil {
		b.Fatal(err)
	}
	ch, err := Open(context.Background(), store, km, km)
	if err != nil {
		b.Fatal(err)
	}
	defer ch.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ch.Append(context.Background(), allowPayload(i))
	}
}
