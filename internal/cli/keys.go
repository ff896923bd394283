package cli

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/warrant/internal/keys"
)

var keysSeedFile string

func init() {
	keysCmd.PersistentFlags().StringVar(&keysSeedFile, "seed-file", "", "Master seed path (default from config)")

	keysCmd.AddCommand(keysGenerateCmd)
	keysCmd.AddCommand(keysListCmd)
	rootCmd.AddCommand(keysCmd)
}

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage the signing key master seed",
}

var keysGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Create a new master seed",
	Long: "Writes a random master seed with owner-only permissions. Signing keys\n" +
		"for every generation are derived from it. An existing seed is never\n" +
		"overwritten.",
	Args: cobra.NoArgs,
	RunE: runKeysGenerate,
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the key ids derived for each generation",
	Args:  cobra.NoArgs,
	RunE:  runKeysList,
}

func seedFilePath() (string, uint32, error) {
	cfg, err := loadConfig()
	if err != nil {
		return "", 0, err
	}
	if keysSeedFile != "" {
		return keysSeedFile, cfg.Keys.Generation, nil
	}
	return cfg.Keys.SeedFile, cfg.Keys.Generation, nil
}

func runKeysGenerate(cmd *cobra.Command, args []string) error {
	path, _, err := seedFilePath()
	if err != nil {
		return err
	}
	if err := generateSeed(path); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "master seed written to %s\n", path)
	return nil
}

func generateSeed(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}
	seed, err := keys.GenerateMasterSeed()
	if err != nil {
		return err
	}
	return keys.WriteSeedFile(path, seed)
}

func runKeysList(cmd *cobra.Command, args []string) error {
	path, gen, err := seedFilePath()
	if err != nil {
		return err
	}
	seed, err := keys.ReadSeedFile(path)
	if err != nil {
		return err
	}
	km, err := keys.NewDerived(seed, gen)
	if err != nil {
		return err
	}
	defer km.Close()

	for _, k := range km.Keys() {
		fmt.Printf("%-4d %-8s %s  %s\n", k.Generation, k.Status, k.ID, hex.EncodeToString(k.PublicKey))
	}
	return nil
}
