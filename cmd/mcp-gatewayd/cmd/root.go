// Package cmd provides the CLI commands for mcp-gatewayd.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mcpgw/gateway/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "mcp-gatewayd",
	Short: "MCP Gateway and Registry",
	Long: `mcp-gatewayd is the MCP Gateway and Registry: a reverse-proxy front
for a dynamic fleet of MCP tool servers, with Cognito/Keycloak-backed
authentication, a scope-and-group authorization plane, a registry that
drives the front proxy's routing table, health supervision, and a
semantic tool finder.

Quick start:
  1. Create a config file: mcp-gatewayd.yaml
  2. Run: mcp-gatewayd start

Configuration:
  Config is loaded from mcp-gatewayd.yaml in the current directory,
  $HOME/.mcp-gatewayd/, or /etc/mcp-gatewayd/.

  Environment variables can override config values with the MCP_GATEWAYD_ prefix.
  Example: MCP_GATEWAYD_SERVER_HTTP_ADDR=:9090

Commands:
  start       Start the gateway
  token-hash  Hash an M2M client secret for offline credential-file inspection
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./mcp-gatewayd.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
