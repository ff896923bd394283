package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/warrant/internal/client"
	"github.com/ppiankov/warrant/internal/graph"
	"github.com/ppiankov/warrant/internal/keys"
	"github.com/ppiankov/warrant/internal/ledger"
)

var doctorServer string

func init() {
	doctorCmd.Flags().StringVar(&doctorServer, "server", "", "Also check a running decision server (host:port)")
	rootCmd.AddCommand(doctorCmd)
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration, policy, keys and ledger integrity",
	RunE:  runDoctor,
}

type checkResult struct {
	label  string
	ok     bool
	detail string
	fix    string
}

func runDoctor(cmd *cobra.Command, args []string) error {
	checks := doctorChecks(context.Background())

	hasFailures := false
	for _, c := range checks {
		mark := "\u2713" // ✓
		if !c.ok {
			mark = "\u2717" // ✗
			hasFailures = true
		}
		line := fmt.Sprintf("%s %-16s %s", mark, c.label+":", c.detail)
		if !c.ok && c.fix != "" {
			line += fmt.Sprintf("  ->  %s", c.fix)
		}
		fmt.Println(line)
	}

	if hasFailures {
		fmt.Println()
		fmt.Println("Some checks failed. Run the suggested commands to fix.")
		return fmt.Errorf("doctor found issues")
	}

	fmt.Println()
	fmt.Println("All checks passed.")
	return nil
}

func doctorChecks(ctx context.Context) []checkResult {
	var checks []checkResult

	cfg, err := loadConfig()
	if err != nil {
		return append(checks, checkResult{label: "config", detail: err.Error(), fix: "warrant init"})
	}
	checks = append(checks, checkResult{label: "config", ok: true, detail: "valid"})

	g, err := graph.LoadFile(cfg.PolicyPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		checks = append(checks, checkResult{label: "policy", detail: "missing, every request is denied", fix: "warrant init"})
	case err != nil:
		checks = append(checks, checkResult{label: "policy", detail: err.Error(), fix: "warrant graph validate"})
	default:
		terms, relations := g.Len()
		checks = append(checks, checkResult{label: "policy", ok: true,
			detail: fmt.Sprintf("%d terms, %d relations (%s)", terms, relations, g.VersionHash())})
	}

	seed, err := keys.ReadSeedFile(cfg.Keys.SeedFile)
	if err != nil {
		checks = append(checks, checkResult{label: "signing keys", detail: err.Error(), fix: "warrant keys generate"})
		return checks
	}
	km, err := keys.NewDerived(seed, cfg.Keys.Generation)
	if err != nil {
		return append(checks, checkResult{label: "signing keys", detail: err.Error()})
	}
	defer km.Close()
	checks = append(checks, checkResult{label: "signing keys", ok: true,
		detail: fmt.Sprintf("generation %d, active %s", km.Generation(), km.ActiveKeyID())})

	if cfg.Ledger.Backend != ledger.BackendMemory {
		res := ledger.VerifyStored(ctx, cfg.Ledger.Backend, cfg.Ledger.Path, km)
		switch {
		case res.Valid:
			checks = append(checks, checkResult{label: "ledger", ok: true,
				detail: fmt.Sprintf("%d entries verified", res.Entries)})
		case errors.Is(statErr(cfg.Ledger.Path), os.ErrNotExist):
			checks = append(checks, checkResult{label: "ledger", ok: true, detail: "empty (created on first decision)"})
		default:
			checks = append(checks, checkResult{label: "ledger", detail: res.Error, fix: "warrant ledger verify"})
		}
	}

	if doctorServer != "" {
		checks = append(checks, serverCheck(ctx, doctorServer))
	}
	return checks
}

func statErr(path string) error {
	_, err := os.Stat(path)
	return err
}

func serverCheck(ctx context.Context, addr string) checkResult {
	c, err := client.New(addr)
	if err != nil {
		return checkResult{label: "server", detail: err.Error()}
	}
	defer c.Close()
	serving, err := c.Serving(ctx)
	if err != nil {
		return checkResult{label: "server", detail: err.Error(), fix: "warrant serve"}
	}
	if !serving {
		return checkResult{label: "server", detail: addr + " not serving"}
	}
	return checkResult{label: "server", ok: true, detail: addr + " serving"}
}
