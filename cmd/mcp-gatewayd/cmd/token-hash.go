package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mcpgw/gateway/internal/domain/identity"
)

var tokenHashFast bool

var tokenHashCmd = &cobra.Command{
	Use:   "token-hash [m2m-client-secret]",
	Short: "Hash an M2M client secret for offline credential-file inspection",
	Long: `Generate a hash of an M2M client secret in the same format
GroupSyncService.CreateM2MUser writes to the credentials directory.
Useful for recomputing a credential record's secret_hash out of band,
e.g. when reconciling a credentials directory against the IdP by hand.

By default this produces an Argon2id hash in PHC format, matching what
create_m2m_user persists. --fast produces the SHA-256 digest used for
seeded/static service-account lookups instead.

Security note: the secret will appear in shell history. Consider
clearing history after use or passing it via an environment variable:
  mcp-gatewayd token-hash "$M2M_CLIENT_SECRET"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := args[0]
		if tokenHashFast {
			fmt.Printf("sha256:%s\n", identity.HashSecretFast(secret))
			return nil
		}
		hash, err := identity.HashSecret(secret)
		if err != nil {
			return fmt.Errorf("hash secret: %w", err)
		}
		fmt.Println(hash)
		return nil
	},
}

func init() {
	tokenHashCmd.Flags().BoolVar(&tokenHashFast, "fast", false, "use the SHA-256 digest instead of Argon2id")
	rootCmd.AddCommand(tokenHashCmd)
}
