package client

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/ppiankov/warrant/internal/app"
	"github.com/ppiankov/warrant/internal/config"
	"github.com/ppiankov/warrant/internal/decision"
	"github.com/ppiankov/warrant/internal/keys"
	"github.com/ppiankov/warrant/internal/ledger"
	"github.com/ppiankov/warrant/internal/model"
	"github.com/ppiankov/warrant/internal/server"
)

const permitPolicy = `
terms:
  - {id: actor:analyst_agent, kind: actor}
  - {id: action:read_file, kind: action}
relations:
  - {kind: permits, source: actor:analyst_agent, target: action:read_file}
`

// startTestServer creates a server + returns its address.
func startTestServer(t *testing.T) (string, *app.App) {
	t.Helper()

	cfg := config.Default(t.TempDir())
	cfg.Ledger.Backend = ledger.BackendMemory
	os.MkdirAll(filepath.Dir(cfg.Keys.SeedFile), 0700)
	seed, _ := keys.GenerateMasterSeed()
	keys.WriteSeedFile(cfg.Keys.SeedFile, seed)
	if err := os.WriteFile(cfg.PolicyPath, []byte(permitPolicy), 0644); err != nil {
		t.Fatal(err)
	}
	a, err := app.Open(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("app.Open: %v", err)
	}

	srv := server.New(server.Config{}, a, nil)
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go srv.ServeOn(lis)

	t.Cleanup(func() {
		srv.GracefulStop()
		a.Close()
	})
	return lis.Addr().String(), a
}

var analyst = model.Request{Actor: "analyst_agent", Action: "read_file", Tool: "fs_tool"}

func TestClientDecideAllowed(t *testing.T) {
	addr, _ := startTestServer(t)

	c, err := New(addr)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	d, err := c.Decide(context.Background(), analyst)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.Outcome != decision.OutcomeAllow || d.Token == nil {
		t.Fatalf("expected allow with token, got %+v", d)
	}

	ok, err := c.VerifyToken(context.Background(), d.Token.ID, "read_file", "fs_tool", "")
	if err != nil || !ok {
		t.Fatalf("expected token to verify, got %v %v", ok, err)
	}
}

func TestClientDecideDenied(t *testing.T) {
	addr, _ := startTestServer(t)

	c, err := New(addr)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	d, err := c.Decide(context.Background(), model.Request{Actor: "intruder", Action: "read_file", Tool: "fs_tool"})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.Outcome != decision.OutcomeDeny {
		t.Fatalf("expected deny, got %s", d.Outcome)
	}
}

func TestClientUnreachableIsError(t *testing.T) {
	// Port 1 is almost certainly not listening
	c, err := New("127.0.0.1:1")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	d, err := c.Decide(context.Background(), analyst)
	if err == nil {
		t.Fatal("expected error for unreachable server")
	}
	if d.Outcome != decision.OutcomeError {
		t.Fatalf("unreachable server must be an error outcome, never %s", d.Outcome)
	}
}

func TestClientLedgerAndPolicy(t *testing.T) {
	addr, a := startTestServer(t)

	c, err := New(addr)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	c.Decide(context.Background(), analyst)
	res, err := c.VerifyLedger(context.Background())
	if err != nil || !res.Valid || res.Entries != 1 {
		t.Fatalf("expected valid ledger of 1, got %+v %v", res, err)
	}

	pv, err := c.PolicyVersion(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if pv.PolicyVersionHash != a.Holder.Load().VersionHash() {
		t.Fatalf("policy hash mismatch: %s", pv.PolicyVersionHash)
	}

	serving, err := c.Serving(context.Background())
	if err != nil || !serving {
		t.Fatalf("expected SERVING, got %v %v", serving, err)
	}
}
