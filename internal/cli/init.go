package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/warrant/internal/config"
)

var (
	initDir   string
	initForce bool
)

func init() {
	initCmd.Flags().StringVar(&initDir, "dir", "", "Config directory (default ~/.warrant)")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing config and policy files (the seed is never overwritten)")
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Bootstrap warrant configuration, starter policy and master seed",
	Long: `Creates the config directory with config.yaml, a starter policy.yaml,
and a fresh signing key master seed.

Paths inside config.yaml are relative to the directory, so the whole
directory can be moved.`,
	RunE: runInit,
}

// starterPolicy permits one actor to read files and forbids it whenever
// PII is present. Everything else is denied.
const starterPolicy = `# warrant policy graph.
# Terms are namespaced ids: actor:, action:, tool:, resource:, data:, context:.
# Relations: permits, forbids, requires, implies, conflicts.
# A request is denied unless some permits relation covers it.

terms:
  - id: actor:analyst_agent
    kind: actor
    label: Analyst agent
  - id: action:read_file
    kind: action
    label: Read file
  - id: tool:fs_tool
    kind: resource
    label: Filesystem tool
  - id: data:pii
    kind: data_class
    label: Personal data

relations:
  - kind: permits
    source: actor:analyst_agent
    target: action:read_file
  - kind: forbids
    source: actor:analyst_agent
    target: action:read_file
    conditions:
      - pii_present == true
`

func runInit(cmd *cobra.Command, args []string) error {
	dir := initDir
	if dir == "" {
		dir = config.DefaultDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	var created []string

	// Relative paths keep the directory relocatable; Load resolves them.
	cfg := config.Default("")
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode default config: %w", err)
	}
	configFile := filepath.Join(dir, "config.yaml")
	if wrote, err := writeIfMissing(configFile, "# warrant configuration\n"+string(data)); err != nil {
		return err
	} else if wrote {
		created = append(created, configFile)
	}

	policyFile := filepath.Join(dir, cfg.PolicyPath)
	if wrote, err := writeIfMissing(policyFile, starterPolicy); err != nil {
		return err
	} else if wrote {
		created = append(created, policyFile)
	}

	seedFile := filepath.Join(dir, cfg.Keys.SeedFile)
	if _, err := os.Stat(seedFile); err != nil {
		if err := generateSeed(seedFile); err != nil {
			return err
		}
		created = append(created, seedFile)
	}

	fmt.Println("warrant init complete.")
	fmt.Println()
	if len(created) > 0 {
		fmt.Println("Created:")
		for _, path := range created {
			fmt.Printf("  %s\n", path)
		}
		fmt.Println()
	} else {
		fmt.Println("All files already exist (use --force to overwrite).")
		fmt.Println()
	}

	fmt.Println("Verify:")
	fmt.Printf("  warrant --config %s doctor\n", configFile)
	fmt.Println()
	fmt.Println("Ask for a decision:")
	fmt.Printf("  warrant --config %s decide --actor analyst_agent --action read_file --tool fs_tool\n", configFile)
	return nil
}

// writeIfMissing writes content to path if it doesn't exist or --force is set.
// Returns true if the file was written.
func writeIfMissing(path, content string) (bool, error) {
	if !initForce {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Errorf("create directory %s: %w", dir, err)
	}

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}
