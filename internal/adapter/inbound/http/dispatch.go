package http

import "context"

// Dispatcher handles one JSON-RPC 2.0 request or notification and returns
// the raw JSON-RPC response bytes (nil for notifications, which have no
// response). It is the seam between the Streamable-HTTP transport
// mechanics below (session registry, SSE fan-out, envelope validation)
// and whatever serves the actual MCP method set behind it.
//
// The Gateway Front's admin MCP tool surface (/mcpgw/mcp) does not go
// through this interface: the gwfront package serves that route with its
// own JSON-RPC handler. The daemon wires a stub Dispatcher here whose
// Dispatch always returns an error.
type Dispatcher interface {
	Dispatch(ctx context.Context, request []byte) ([]byte, error)
}
