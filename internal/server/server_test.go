package server

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	governancev1 "github.com/ppiankov/warrant/api/proto/warrant/v1"
	"github.com/ppiankov/warrant/internal/app"
	"github.com/ppiankov/warrant/internal/config"
	"github.com/ppiankov/warrant/internal/decision"
	"github.com/ppiankov/warrant/internal/keys"
	"github.com/ppiankov/warrant/internal/ledger"
	"github.com/ppiankov/warrant/internal/model"
)

const permitPolicy = `
terms:
  - {id: actor:analyst_agent, kind: actor}
  - {id: action:read_file, kind: action}
relations:
  - {kind: permits, source: actor:analyst_agent, target: action:read_file}
`

func newApp(t *testing.T, policy string) *app.App {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default(dir)
	cfg.Ledger.Backend = ledger.BackendMemory
	os.MkdirAll(filepath.Dir(cfg.Keys.SeedFile), 0700)
	seed, _ := keys.GenerateMasterSeed()
	if err := keys.WriteSeedFile(cfg.Keys.SeedFile, seed); err != nil {
		t.Fatal(err)
	}
	if policy != "" {
		if err := os.WriteFile(cfg.PolicyPath, []byte(policy), 0644); err != nil {
			t.Fatal(err)
		}
	}
	a, err := app.Open(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("app.Open: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

// testServer spins up an in-process gRPC server on a random port and returns a connection.
func testServer(t *testing.T, a *app.App) (*Server, *grpc.ClientConn) {
	t.Helper()

	srv := New(Config{}, a, nil)
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go srv.ServeOn(lis)

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		srv.GracefulStop()
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() {
		conn.Close()
		srv.GracefulStop()
	})
	return srv, conn
}

func decide(t *testing.T, client governancev1.GovernanceClient, req model.Request) (decision.Decision, error) {
	t.Helper()
	in, err := governancev1.ToStruct(req)
	if err != nil {
		t.Fatal(err)
	}
	out, err := client.Decide(context.Background(), in)
	if err != nil {
		return decision.Decision{}, err
	}
	var d decision.Decision
	if err := governancev1.FromStruct(out, &d); err != nil {
		t.Fatal(err)
	}
	return d, nil
}

var analyst = model.Request{Actor: "analyst_agent", Action: "read_file", Tool: "fs_tool", Resource: "report.csv"}

func TestDecideAllowAndVerifyToken(t *testing.T) {
	a := newApp(t, permitPolicy)
	_, conn := testServer(t, a)
	client := governancev1.NewGovernanceClient(conn)

	d, err := decide(t, client, analyst)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.Outcome != decision.OutcomeAllow || d.Token == nil {
		t.Fatalf("expected allow with token, got %+v", d)
	}
	if !d.Token.VerifySignature(a.Keys) {
		t.Fatal("token signature did not survive the wire")
	}

	verify := func(action string) bool {
		in, _ := governancev1.ToStruct(governancev1.VerifyTokenRequest{TokenID: d.Token.ID, Action: action, Tool: "fs_tool"})
		out, err := client.VerifyToken(context.Background(), in)
		if err != nil {
			t.Fatalf("VerifyToken: %v", err)
		}
		var resp governancev1.VerifyTokenResponse
		governancev1.FromStruct(out, &resp)
		return resp.Valid
	}
	if !verify("read_file") {
		t.Error("expected token to verify")
	}
	if verify("delete_file") {
		t.Error("token must not verify for another action")
	}
}

func TestDecideDeny(t *testing.T) {
	_, conn := testServer(t, newApp(t, permitPolicy))
	client := governancev1.NewGovernanceClient(conn)

	d, err := decide(t, client, model.Request{Actor: "intruder", Action: "read_file", Tool: "fs_tool"})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.Outcome != decision.OutcomeDeny || d.Token != nil || d.Reason != "no_permit" {
		t.Fatalf("expected no_permit deny, got %+v", d)
	}
}

func TestDecideInvalidRequest(t *testing.T) {
	_, conn := testServer(t, newApp(t, permitPolicy))
	client := governancev1.NewGovernanceClient(conn)

	_, err := decide(t, client, model.Request{Actor: "analyst_agent"})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

func TestPipelineFailureIsUnavailable(t *testing.T) {
	a := newApp(t, permitPolicy)
	_, conn := testServer(t, a)
	client := governancev1.NewGovernanceClient(conn)
	a.Keys.Close()

	_, err := decide(t, client, analyst)
	if status.Code(err) != codes.Unavailable {
		t.Fatalf("expected Unavailable, got %v", err)
	}
}

func TestVerifyLedgerAndPolicyVersion(t *testing.T) {
	a := newApp(t, permitPolicy)
	_, conn := testServer(t, a)
	client := governancev1.NewGovernanceClient(conn)

	for i := 0; i < 3; i++ {
		if _, err := decide(t, client, analyst); err != nil {
			t.Fatal(err)
		}
	}

	out, err := client.VerifyLedger(context.Background(), &structpb.Struct{})
	if err != nil {
		t.Fatalf("VerifyLedger: %v", err)
	}
	var res ledger.VerifyResult
	governancev1.FromStruct(out, &res)
	if !res.Valid || res.Entries != 3 {
		t.Fatalf("expected valid ledger of 3, got %+v", res)
	}

	out, err = client.PolicyVersion(context.Background(), &structpb.Struct{})
	if err != nil {
		t.Fatalf("PolicyVersion: %v", err)
	}
	var pv governancev1.PolicyVersionResponse
	governancev1.FromStruct(out, &pv)
	if pv.PolicyVersionHash != a.Holder.Load().VersionHash() || pv.Terms != 2 || pv.Relations != 1 {
		t.Fatalf("unexpected policy version: %+v", pv)
	}
}

func TestHealthService(t *testing.T) {
	a := newApp(t, permitPolicy)
	srv, conn := testServer(t, a)
	hc := healthpb.NewHealthClient(conn)

	check := func() healthpb.HealthCheckResponse_ServingStatus {
		resp, err := hc.Check(context.Background(), &healthpb.HealthCheckRequest{Service: governancev1.ServiceName})
		if err != nil {
			t.Fatalf("health check: %v", err)
		}
		return resp.Status
	}
	if got := check(); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING, got %s", got)
	}

	a.Keys.Close()
	srv.UpdateHealth(context.Background())
	if got := check(); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected NOT_SERVING after key manager closed, got %s", got)
	}
}

func TestConcurrentDecisions(t *testing.T) {
	a := newApp(t, permitPolicy)
	_, conn := testServer(t, a)
	client := governancev1.NewGovernanceClient(conn)

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			in, _ := governancev1.ToStruct(analyst)
			if _, err := client.Decide(context.Background(), in); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent decide error: %v", err)
	}
	if res := a.Chain.VerifyChain(context.Background()); !res.Valid || res.Entries != 50 {
		t.Fatalf("expected valid chain of 50, got %+v", res)
	}
}

func TestHotReloadPolicyChange(t *testing.T) {
	a := newApp(t, "")
	srv, conn := testServer(t, a)
	client := governancev1.NewGovernanceClient(conn)

	d, err := decide(t, client, analyst)
	if err != nil || d.Outcome != decision.OutcomeDeny {
		t.Fatalf("expected deny before reload, got %+v %v", d, err)
	}

	if err := os.WriteFile(a.Config.PolicyPath, []byte(permitPolicy), 0644); err != nil {
		t.Fatal(err)
	}
	// Manually trigger reload (no need to wait for fsnotify in tests)
	if err := srv.ReloadPolicy(); err != nil {
		t.Fatalf("ReloadPolicy: %v", err)
	}

	d, err = decide(t, client, analyst)
	if err != nil || d.Outcome != decision.OutcomeAllow {
		t.Fatalf("expected allow after reload, got %+v %v", d, err)
	}
}

type reloadCounter struct {
	mu    sync.Mutex
	count int
}

func (r *reloadCounter) ReloadPolicy() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count++
	return nil
}

func (r *reloadCounter) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

func TestReloaderDebouncesWrites(t *testing.T) {
	dir := t.TempDir()
	policyPath := filepath.Join(dir, "policy.yaml")
	os.WriteFile(policyPath, []byte(permitPolicy), 0644)

	target := &reloadCounter{}
	r, err := NewReloader(target, []string{policyPath}, nil)
	if err != nil {
		t.Fatalf("NewReloader: %v", err)
	}
	r.delay = 100 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	// Unrelated files in the same directory are ignored
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644)
	for i := 0; i < 3; i++ {
		os.WriteFile(policyPath, []byte(permitPolicy), 0644)
	}

	deadline := time.Now().Add(3 * time.Second)
	for target.Count() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	time.Sleep(300 * time.Millisecond)
	if got := target.Count(); got != 1 {
		t.Fatalf("expected one debounced reload, got %d", got)
	}
}
