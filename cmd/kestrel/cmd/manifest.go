package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kestrel-social/kestrel/internal/dispatch"
)

// manifestHeader marks the committed manifest as generated.
const manifestHeader = "# Generated by `kestrel manifest`. Do not edit.\n"

// errManifestDrift is returned by manifest --check when the file differs.
var errManifestDrift = errors.New("manifest is out of date; regenerate with: kestrel manifest")

var manifestCheck string

var manifestCmd = &cobra.Command{
	Use:   "manifest",
	Short: "Print or check the tool manifest",
	Long: `Print the tool manifest (every tool, its risk and the profiles that expose it)
as YAML, or compare a committed manifest with the built-in registry.

Examples:
  kestrel manifest > internal/dispatch/testdata/manifest.yaml
  kestrel manifest --check internal/dispatch/testdata/manifest.yaml`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if manifestCheck != "" {
			return checkManifest(cmd, manifestCheck)
		}
		out, err := dispatch.MarshalManifest(dispatch.BuildManifest())
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(cmd.OutOrStdout(), manifestHeader+string(out))
		return err
	},
}

func checkManifest(cmd *cobra.Command, path string) error {
	committed, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}
	diff, err := dispatch.CheckManifest(committed)
	if err != nil {
		return err
	}
	if diff != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s differs from the registry (-committed +registry):\n%s\n", path, diff)
		return errManifestDrift
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s is up to date\n", path)
	return nil
}

func init() {
	manifestCmd.Flags().StringVar(&manifestCheck, "check", "", "compare this manifest file with the registry instead of printing")
	rootCmd.AddCommand(manifestCmd)
}
