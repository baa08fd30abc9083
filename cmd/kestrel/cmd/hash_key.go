package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kestrel-social/kestrel/internal/domain/auth"
)

var hashKeySHA256 bool

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key [api-key]",
	Short: "Generate an API key and its hash",
	Long: `Hash an API key for the callers[].key_hash config field.

With no argument a new random key is generated and printed with its hash.
The hash is Argon2id in PHC format unless --sha256 is given.

Example:
  kestrel hash-key
  # key:  kst_...
  # hash: $argon2id$v=19$...

Security note: a key passed as an argument will appear in shell history.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		key := ""
		if len(args) == 1 {
			key = args[0]
		} else {
			generated, err := auth.GenerateKey()
			if err != nil {
				return err
			}
			key = generated
			fmt.Fprintf(out, "key:  %s\n", key)
		}

		hash := "sha256:" + auth.HashKey(key)
		if !hashKeySHA256 {
			var err error
			if hash, err = auth.HashKeyArgon2id(key); err != nil {
				return fmt.Errorf("hash key: %w", err)
			}
		}
		fmt.Fprintf(out, "hash: %s\n", hash)
		return nil
	},
}

func init() {
	hashKeyCmd.Flags().BoolVar(&hashKeySHA256, "sha256", false, "Print a sha256:<hex> hash instead of Argon2id")
	rootCmd.AddCommand(hashKeyCmd)
}
