package cli

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/ppiankov/warrant/internal/config"
	"github.com/ppiankov/warrant/internal/decision"
	"github.com/ppiankov/warrant/internal/graph"
	"github.com/ppiankov/warrant/internal/keys"
	"github.com/ppiankov/warrant/internal/ledger"
	"github.com/ppiankov/warrant/internal/model"
)

// initTemp runs init into a fresh directory and points --config at it.
func initTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	initDir = dir
	initForce = false
	configPath = filepath.Join(dir, "config.yaml")
	logLevel = "error"
	t.Cleanup(func() {
		initDir, configPath, logLevel = "", "", ""
	})
	if err := runInit(nil, nil); err != nil {
		t.Fatalf("runInit failed: %v", err)
	}
	return dir
}

func TestRunInitCreatesLoadableSetup(t *testing.T) {
	dir := initTemp(t)

	cfg, err := config.Load(filepath.Join(dir, "config.yaml"))
	if err != nil {
		t.Fatalf("generated config does not load: %v", err)
	}
	if cfg.PolicyPath != filepath.Join(dir, "policy.yaml") {
		t.Errorf("policy path not resolved against config dir: %s", cfg.PolicyPath)
	}
	if cfg.Tokens.TTL.Std() != config.Default("").Tokens.TTL.Std() {
		t.Errorf("ttl did not round-trip: %s", cfg.Tokens.TTL.Std())
	}

	g, err := graph.LoadFile(cfg.PolicyPath)
	if err != nil {
		t.Fatalf("starter policy invalid: %v", err)
	}
	if terms, relations := g.Len(); terms != 4 || relations != 2 {
		t.Errorf("starter policy has %d terms, %d relations", terms, relations)
	}

	if _, err := keys.ReadSeedFile(cfg.Keys.SeedFile); err != nil {
		t.Fatalf("seed not usable: %v", err)
	}
	info, err := os.Stat(cfg.Keys.SeedFile)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("seed mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestRunInitNoOverwriteWithoutForce(t *testing.T) {
	dir := initTemp(t)

	sentinel := "# sentinel content\n"
	policyPath := filepath.Join(dir, "policy.yaml")
	if err := os.WriteFile(policyPath, []byte(sentinel), 0o644); err != nil {
		t.Fatal(err)
	}
	seedPath := filepath.Join(dir, "keys", "master.seed")
	seedBefore, _ := os.ReadFile(seedPath)

	if err := runInit(nil, nil); err != nil {
		t.Fatalf("second runInit failed: %v", err)
	}
	data, _ := os.ReadFile(policyPath)
	if string(data) != sentinel {
		t.Error("policy.yaml was overwritten without --force")
	}

	initForce = true
	defer func() { initForce = false }()
	if err := runInit(nil, nil); err != nil {
		t.Fatalf("forced runInit failed: %v", err)
	}
	data, _ = os.ReadFile(policyPath)
	if string(data) == sentinel {
		t.Error("policy.yaml was NOT overwritten with --force")
	}
	seedAfter, _ := os.ReadFile(seedPath)
	if string(seedBefore) != string(seedAfter) {
		t.Error("seed must never be overwritten")
	}
}

func TestWriteIfMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "test.txt")

	initForce = false
	wrote, err := writeIfMissing(path, "hello")
	if err != nil || !wrote {
		t.Fatalf("first write: wrote=%v err=%v", wrote, err)
	}
	wrote, err = writeIfMissing(path, "world")
	if err != nil || wrote {
		t.Fatalf("second write without force: wrote=%v err=%v", wrote, err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "hello" {
		t.Errorf("content = %q", data)
	}
}

func TestParseContextPairs(t *testing.T) {
	tests := []struct {
		name    string
		in      []string
		want    map[string]any
		wantErr bool
	}{
		{"empty", nil, nil, false},
		{"bool", []string{"pii_present=true"}, map[string]any{"pii_present": true}, false},
		{"number", []string{"rows=12"}, map[string]any{"rows": float64(12)}, false},
		{"plain string", []string{"region=eu-west"}, map[string]any{"region": "eu-west"}, false},
		{"quoted string", []string{`region="us"`}, map[string]any{"region": "us"}, false},
		{"value with equals", []string{"q=a=b"}, map[string]any{"q": "a=b"}, false},
		{"missing equals", []string{"pii_present"}, nil, true},
		{"empty key", []string{"=1"}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseContextPairs(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDecideLocalRecordsAndVerifies(t *testing.T) {
	dir := initTemp(t)
	ctx := context.Background()

	allow, err := decideLocal(ctx, model.Request{Actor: "analyst_agent", Action: "read_file", Tool: "fs_tool"})
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if allow.Outcome != decision.OutcomeAllow || allow.Token == nil {
		t.Fatalf("expected allow with token, got %+v", allow)
	}

	deny, err := decideLocal(ctx, model.Request{
		Actor: "analyst_agent", Action: "read_file", Tool: "fs_tool",
		Context: map[string]any{"pii_present": true},
	})
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if deny.Outcome != decision.OutcomeDeny {
		t.Fatalf("expected deny, got %+v", deny)
	}
	if deny.LedgerSequence == nil || *deny.LedgerSequence != 1 {
		t.Fatalf("expected deny recorded at sequence 1, got %v", deny.LedgerSequence)
	}

	ledgerFormat = "text"
	if err := runLedgerVerify(nil, nil); err != nil {
		t.Fatalf("ledger verify: %v", err)
	}

	entries, err := ledger.ReadFile(filepath.Join(dir, "ledger.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].Payload.TokenID != allow.Token.ID {
		t.Fatalf("unexpected ledger contents: %+v", entries)
	}
}

func TestLedgerVerifyDetectsTampering(t *testing.T) {
	dir := initTemp(t)
	if _, err := decideLocal(context.Background(), model.Request{Actor: "analyst_agent", Action: "read_file", Tool: "fs_tool"}); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(dir, "ledger.jsonl")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	tampered := strings.Replace(string(data), `"verdict":"allow"`, `"verdict":"deny"`, 1)
	if tampered == string(data) {
		t.Fatal("verdict not found in ledger line")
	}
	if err := os.WriteFile(path, []byte(tampered), 0o600); err != nil {
		t.Fatal(err)
	}

	ledgerFormat = "json"
	defer func() { ledgerFormat = "text" }()
	if err := runLedgerVerify(nil, nil); err == nil {
		t.Fatal("tampered ledger verified")
	}
}

func TestDecideRemoteUnreachableIsError(t *testing.T) {
	decideServer = "127.0.0.1:1"
	defer func() { decideServer = "" }()

	d, err := decideRemote(context.Background(), model.Request{Actor: "a", Action: "b", Tool: "c"})
	if err == nil {
		t.Fatal("expected error from unreachable server")
	}
	if d.Outcome != decision.OutcomeError {
		t.Errorf("unreachable server must yield error outcome, got %s", d.Outcome)
	}
}

func TestDoctorChecksPassAfterInit(t *testing.T) {
	initTemp(t)
	for _, c := range doctorChecks(context.Background()) {
		if !c.ok {
			t.Errorf("check %s failed: %s", c.label, c.detail)
		}
	}
}

func TestDoctorReportsMissingSeed(t *testing.T) {
	dir := initTemp(t)
	if err := os.Remove(filepath.Join(dir, "keys", "master.seed")); err != nil {
		t.Fatal(err)
	}
	var found bool
	for _, c := range doctorChecks(context.Background()) {
		if c.label == "signing keys" {
			found = true
			if c.ok || c.fix != "warrant keys generate" {
				t.Errorf("unexpected seed check: %+v", c)
			}
		}
	}
	if !found {
		t.Error("seed check missing")
	}
}

func TestCommandTree(t *testing.T) {
	want := []string{
		"check", "decide", "doctor", "graph diff", "graph hash", "graph validate", "init",
		"keys generate", "keys list", "ledger tail", "ledger verify", "mcp", "serve", "version",
	}
	for _, path := range want {
		cmd, _, err := rootCmd.Find(strings.Fields(path))
		if err != nil || cmd == rootCmd {
			t.Errorf("command %q not registered", path)
		}
	}
}

func TestCheckRunsScenarios(t *testing.T) {
	dir := initTemp(t)
	scenarioPath := filepath.Join(dir, "starter_test.yaml")
	content := `
name: starter policy
cases:
  - {actor: analyst_agent, action: read_file, tool: fs_tool, expect: allow}
  - {actor: analyst_agent, action: read_file, tool: fs_tool, context: {pii_present: true}, expect: deny}
  - {actor: intern_agent, action: read_file, tool: fs_tool, expect: deny, reason: no_permit}
`
	if err := os.WriteFile(scenarioPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	checkScenario = filepath.Join(dir, "*_test.yaml")
	checkPolicy = ""
	checkFormat = "text"
	defer func() { checkScenario = "" }()
	if err := runCheck(nil, nil); err != nil {
		t.Fatalf("check failed: %v", err)
	}
}
