// Command mcp-gatewayd runs the MCP Gateway and Registry.
package main

import "github.com/mcpgw/gateway/cmd/mcp-gatewayd/cmd"

func main() {
	cmd.Execute()
}
