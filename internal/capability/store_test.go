package capability

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ppiankov/warrant/internal/clock"
)

func TestStorePutRequiresSignature(t *testing.T) {
	km := newSigner(t)
	s := NewStore(clock.NewFake(epoch), km, nil)

	unsigned, _ := New(Scope{Action: "read_file", Tool: "fs_tool"}, testPolicyHash, time.Minute, epoch)
	if err := s.Put(unsigned); !errors.Is(err, ErrUnsigned) {
		t.Fatalf("expected ErrUnsigned, got %v", err)
	}

	tok := mintSigned(t, km, Scope{Action: "read_file", Tool: "fs_tool"}, time.Minute, epoch)
	if err := s.Put(tok); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(tok); !errors.Is(err, ErrDuplicateToken) {
		t.Fatalf("expected ErrDuplicateToken, got %v", err)
	}
	got, ok := s.Get(tok.ID)
	if !ok || got.ID != tok.ID {
		t.Fatalf("Get returned %v, %v", got, ok)
	}
	if _, ok := s.Get("cap-missing"); ok {
		t.Fatal("expected miss for unknown id")
	}
}

func TestStoreVerifyCollapsesFailures(t *testing.T) {
	km := newSigner(t)
	fc := clock.NewFake(epoch)
	s := NewStore(fc, km, nil)

	good := mintSigned(t, km, Scope{Action: "read_file", Tool: "fs_tool"}, 5*time.Minute, epoch)
	revoked := mintSigned(t, km, Scope{Action: "read_file", Tool: "fs_tool"}, 5*time.Minute, epoch)
	forged := mintSigned(t, km, Scope{Action: "read_file", Tool: "fs_tool"}, 5*time.Minute, epoch)
	forged.Scope.Tool = "shell"
	for _, tok := range []*Token{good, revoked, forged} {
		if err := s.Put(tok); err != nil {
			t.Fatal(err)
		}
	}
	s.Revoke(revoked.ID)

	if !s.Verify(good.ID, "read_file", "fs_tool") {
		t.Fatal("good token rejected")
	}

	tests := []struct {
		name             string
		id, action, tool string
	}{
		{"missing", "cap-missing", "read_file", "fs_tool"},
		{"wrong action", good.ID, "write_file", "fs_tool"},
		{"wrong tool", good.ID, "read_file", "shell"},
		{"revoked", revoked.ID, "read_file", "fs_tool"},
		{"bad signature", forged.ID, "read_file", "shell"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if s.Verify(tt.id, tt.action, tt.tool) {
				t.Fatal("expected false")
			}
		})
	}

	fc.Advance(5 * time.Minute)
	if s.Verify(good.ID, "read_file", "fs_tool") {
		t.Fatal("expired token accepted")
	}
}

func TestStoreVerifyResource(t *testing.T) {
	km := newSigner(t)
	s := NewStore(clock.NewFake(epoch), km, nil)

	scoped := mintSigned(t, km, Scope{Action: "read_file", Tool: "fs_tool", Resource: "report.csv"}, time.Minute, epoch)
	open := mintSigned(t, km, Scope{Action: "read_file", Tool: "fs_tool"}, time.Minute, epoch)
	s.Put(scoped)
	s.Put(open)

	if !s.VerifyResource(scoped.ID, "read_file", "fs_tool", "report.csv") {
		t.Error("scoped token must admit its resource")
	}
	if s.VerifyResource(scoped.ID, "read_file", "fs_tool", "secrets.txt") {
		t.Error("scoped token must reject other resources")
	}
	if !s.VerifyResource(open.ID, "read_file", "fs_tool", "anything") {
		t.Error("unscoped token must admit any resource")
	}
}

func TestStoreMutationDoesNotLeak(t *testing.T) {
	km := newSigner(t)
	s := NewStore(clock.NewFake(epoch), km, nil)
	tok := mintSigned(t, km, Scope{Action: "read_file", Tool: "fs_tool"}, time.Minute, epoch)
	s.Put(tok)

	tok.Scope.Action = "delete_file"
	got, _ := s.Get(tok.ID)
	got.Scope.Tool = "shell"

	if !s.Verify(tok.ID, "read_file", "fs_tool") {
		t.Fatal("store must hold its own copy of the token")
	}
}

func TestCleanupExpired(t *testing.T) {
	km := newSigner(t)
	fc := clock.NewFake(epoch)
	s := NewStore(fc, km, nil)

	short := mintSigned(t, km, Scope{Action: "read_file", Tool: "fs_tool"}, time.Minute, epoch)
	long := mintSigned(t, km, Scope{Action: "read_file", Tool: "fs_tool"}, 10*time.Minute, epoch)
	s.Put(short)
	s.Put(long)

	if n := s.CleanupExpired(); n != 0 {
		t.Fatalf("expected nothing removed, got %d", n)
	}
	fc.Advance(time.Minute)
	if n := s.CleanupExpired(); n != 1 {
		t.Fatalf("expected 1 removed, got %d", n)
	}
	if _, ok := s.Get(short.ID); ok {
		t.Fatal("expired token still stored")
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 remaining, got %d", s.Len())
	}
}

func TestConcurrentVerifyAndCleanup(t *testing.T) {
	km := newSigner(t)
	fc := clock.NewFake(epoch)
	s := NewStore(fc, km, nil)

	var ids []string
	for i := 0; i < 50; i++ {
		ttl := time.Minute
		if i%2 == 0 {
			ttl = 10 * time.Minute
		}
		tok := mintSigned(t, km, Scope{Action: "read_file", Tool: "fs_tool"}, ttl, epoch)
		s.Put(tok)
		ids = append(ids, tok.ID)
	}
	fc.Advance(2 * time.Minute)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i, id := range ids {
				ok := s.Verify(id, "read_file", "fs_tool")
				if i%2 == 0 && !ok {
					t.Errorf("long-lived token %s rejected", id)
				}
				if i%2 == 1 && ok {
					t.Errorf("expired token %s accepted", id)
				}
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.CleanupExpired()
	}()
	wg.Wait()

	if s.Len() != 25 {
		t.Fatalf("expected 25 tokens after cleanup, got %d", s.Len())
	}
}

func TestRunJanitor(t *testing.T) {
	km := newSigner(t)
	fc := clock.NewFake(epoch)
	s := NewStore(fc, km, nil)
	s.Put(mintSigned(t, km, Scope{Action: "read_file", Tool: "fs_tool"}, time.Minute, epoch))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.RunJanitor(ctx, 30*time.Second) }()

	fc.WaitForTickers(1)
	fc.Advance(time.Minute)

	deadline := time.Now().Add(5 * time.Second)
	for s.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("janitor did not remove the expired token")
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("janitor returned %v", err)
	}
}

func TestRunJanitorRejectsBadInterval(t *testing.T) {
	s := NewStore(clock.NewFake(epoch), nil, nil)
	if err := s.RunJanitor(context.Background(), 0); err == nil {
		t.Fatal("expected error for zero interval")
	}
}
