// Package http provides Streamable HTTP transport for the gateway's MCP
// surfaces.
//
// This package implements inbound HTTP transport following the MCP
// Streamable HTTP specification (2025-03-26). It carries whatever JSON-RPC
// method set the caller wires in via a Dispatcher. The Gateway Front's
// /mcpgw/mcp admin tool surface is not carried by it; the gwfront package
// serves that route itself.
//
// # Usage
//
// Create and start an HTTP transport:
//
//	transport := http.NewHTTPTransport(dispatcher,
//	    http.WithAddr(":8080"),
//	    http.WithTLS("cert.pem", "key.pem"),
//	    http.WithAllowedOrigins([]string{"https://example.com"}),
//	    http.WithLogger(logger),
//	)
//	err := transport.Start(ctx)
//
// # Endpoints
//
// The transport exposes a single endpoint at /mcp (and the catch-all root
// when no HTTP Gateway handler is configured):
//
//	POST /mcp  - Send JSON-RPC request, receive JSON-RPC response
//	GET /mcp   - Open SSE stream for server-initiated messages
//	DELETE /mcp - Terminate session and close SSE connections
//	OPTIONS /mcp - CORS preflight handling
//
// # Request Headers
//
//	Mcp-Session-Id: <session-id>        - Session identifier for stateful requests
//	Content-Type: application/json      - Required for POST requests
//
// # Response Headers
//
//	MCP-Protocol-Version: 2025-06-18    - MCP protocol version
//	Mcp-Session-Id: <session-id>        - Session identifier echoed back
//	Content-Type: application/json      - JSON-RPC response format
//
// # Security Features
//
//   - TLS 1.2 minimum: When HTTPS enabled via WithTLS, TLS 1.2 is enforced
//   - DNS rebinding protection: Origin header validation via WithAllowedOrigins
//   - Real IP extraction: From X-Forwarded-For/X-Real-IP for the audit trail
//
// # Middleware Chain
//
// Requests pass through middleware in this order:
//
//  1. MetricsMiddleware - Records request duration and status
//  2. RequestIDMiddleware - Extracts/generates a request ID, enriches the logger
//  3. RealIPMiddleware - Extracts client IP from proxy headers
//  4. DNSRebindingProtection - Validates Origin header
//  5. Handler - Routes to POST/GET/DELETE handlers, which call Dispatcher.Dispatch
//
// Credential resolution and authorization are the Auth
// Plane's concern, reached through /validate on the Gateway Front rather
// than this transport's middleware chain.
//
// # Server-Sent Events (SSE)
//
// GET requests open an SSE stream for server-initiated messages. The stream:
//   - Requires Mcp-Session-Id header
//   - Sends "data: <json>\n\n" formatted events
//   - Supports multiple connections per session
//   - Cleanly disconnects on context cancellation or session termination
//
// Session management via Mcp-Session-Id enables stateful interactions
// across multiple HTTP requests.
package http
