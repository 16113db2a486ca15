package gwfront

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mcpgw/gateway/internal/domain/scope"
)

// adminTool describes one of the eleven tools POST /mcpgw/mcp exposes,
// each gated by the UI capability its HTTP counterpart requires.
type adminTool struct {
	name       string
	capability scope.UICapability
	run        func(ctx context.Context, h *Handler, args json.RawMessage) (any, error)
}

var adminTools = map[string]adminTool{
	"register_service":                 {"register_service", scope.CapRegisterService, runRegisterService},
	"remove_service":                   {"remove_service", scope.CapModifyService, runRemoveService},
	"toggle_service":                   {"toggle_service", scope.CapModifyService, runToggleService},
	"healthcheck":                      {"healthcheck", scope.CapHealthCheckService, runHealthcheck},
	"intelligent_tool_finder":          {"intelligent_tool_finder", scope.CapListService, runToolFinder},
	"list_groups":                      {"list_groups", scope.CapListService, runListGroups},
	"create_group":                     {"create_group", scope.CapModifyService, runCreateGroup},
	"delete_group":                     {"delete_group", scope.CapModifyService, runDeleteGroup},
	"add_server_to_scopes_groups":      {"add_server_to_scopes_groups", scope.CapModifyService, runAddServerToGroups},
	"remove_server_from_scopes_groups": {"remove_server_from_scopes_groups", scope.CapModifyService, runRemoveServerFromGroups},
	"create_m2m_user":                  {"create_m2m_user", scope.CapModifyService, runCreateM2MUser},
}

type jsonrpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type jsonrpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *jsonrpcError   `json:"error,omitempty"`
}

type jsonrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// handleAdminMCP serves POST /mcpgw/mcp: the gateway's self-hosted MCP
// server exposing registry, health, and group-sync operations as
// tools. Unlike the reverse-proxy surface
// (internal/adapter/inbound/http), this endpoint answers its own
// tools/call requests directly rather than forwarding to a backend,
// so it implements the JSON-RPC envelope inline instead of reusing
// that package's unexported Dispatcher plumbing.
func (h *Handler) handleAdminMCP(w http.ResponseWriter, r *http.Request) {
	var req jsonrpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeRPCError(w, nil, -32700, "parse error")
		return
	}

	switch req.Method {
	case "initialize":
		writeRPCResult(w, req.ID, map[string]any{
			"protocolVersion": "2025-06-18",
			"serverInfo":      map[string]string{"name": "mcpgw", "version": "1.0"},
			"capabilities":    map[string]any{"tools": map[string]any{}},
		})
	case "tools/list":
		names := make([]map[string]string, 0, len(adminTools))
		for name := range adminTools {
			names = append(names, map[string]string{"name": name})
		}
		writeRPCResult(w, req.ID, map[string]any{"tools": names})
	case "tools/call":
		h.handleAdminToolCall(w, r, req)
	default:
		writeRPCError(w, req.ID, -32601, fmt.Sprintf("method not found: %s", req.Method))
	}
}

func (h *Handler) handleAdminToolCall(w http.ResponseWriter, r *http.Request, req jsonrpcRequest) {
	var params toolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		writeRPCError(w, req.ID, -32602, "invalid params")
		return
	}

	tool, ok := adminTools[params.Name]
	if !ok {
		writeRPCError(w, req.ID, -32601, fmt.Sprintf("unknown tool: %s", params.Name))
		return
	}

	groups, authenticated := h.sessionGroups(r)
	if !authenticated {
		writeRPCError(w, req.ID, -32001, "no_credentials")
		return
	}
	if h.policy == nil {
		writeRPCError(w, req.ID, -32603, "scope policy store not configured")
		return
	}
	policy, err := h.policy.Load(r.Context())
	if err != nil {
		writeRPCError(w, req.ID, -32603, "failed to load scope policy")
		return
	}
	if !hasCapability(policy, groups, tool.capability) {
		writeRPCError(w, req.ID, -32003, "not_authorized")
		return
	}

	result, err := tool.run(r.Context(), h, params.Arguments)
	if err != nil {
		writeRPCError(w, req.ID, -32000, err.Error())
		return
	}
	writeRPCResult(w, req.ID, result)
}

func writeRPCResult(w http.ResponseWriter, id json.RawMessage, result any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(jsonrpcResponse{JSONRPC: "2.0", ID: id, Result: result})
}

func writeRPCError(w http.ResponseWriter, id json.RawMessage, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(jsonrpcResponse{JSONRPC: "2.0", ID: id, Error: &jsonrpcError{Code: code, Message: message}})
}

func runRegisterService(ctx context.Context, h *Handler, args json.RawMessage) (any, error) {
	var dto serviceRecordDTO
	if err := json.Unmarshal(args, &dto); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	rec, err := h.registry.Register(ctx, dto.toRecord())
	if err != nil {
		return nil, err
	}
	return toServiceRecordDTO(*rec), nil
}

func runRemoveService(ctx context.Context, h *Handler, args json.RawMessage) (any, error) {
	var in struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if err := h.registry.Deregister(ctx, in.Path); err != nil {
		return nil, err
	}
	return map[string]bool{"removed": true}, nil
}

func runToggleService(ctx context.Context, h *Handler, args json.RawMessage) (any, error) {
	var in struct {
		Path    string `json:"path"`
		Enabled bool   `json:"enabled"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	rec, err := h.registry.SetEnabled(ctx, in.Path, in.Enabled)
	if err != nil {
		return nil, err
	}
	return toServiceRecordDTO(*rec), nil
}

func runHealthcheck(ctx context.Context, h *Handler, args json.RawMessage) (any, error) {
	var in struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if h.health == nil {
		return nil, fmt.Errorf("health supervisor not configured")
	}
	rec, err := h.registry.Get(ctx, in.Path)
	if err != nil {
		return nil, err
	}
	h.health.ProbeOne(ctx, *rec)
	status, _ := h.health.Get(in.Path)
	return map[string]any{
		"path":           status.Path,
		"status":         string(status.Status),
		"last_error":     status.LastError,
		"consecutive_ok": status.ConsecutiveOK,
	}, nil
}

func runToolFinder(ctx context.Context, h *Handler, args json.RawMessage) (any, error) {
	var in struct {
		Query      string `json:"query"`
		TopServers int    `json:"top_servers"`
		TopTools   int    `json:"top_tools"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if in.TopServers <= 0 {
		in.TopServers = 3
	}
	if in.TopTools <= 0 {
		in.TopTools = 5
	}
	if h.index == nil {
		return nil, fmt.Errorf("tool index not configured")
	}
	matches, err := h.index.Search(ctx, in.Query, in.TopServers, in.TopTools)
	if err != nil {
		return nil, err
	}
	return matches, nil
}

func runListGroups(ctx context.Context, h *Handler, _ json.RawMessage) (any, error) {
	if h.groups == nil {
		return nil, fmt.Errorf("group sync service not configured")
	}
	return h.groups.ListGroups(ctx)
}

func runCreateGroup(ctx context.Context, h *Handler, args json.RawMessage) (any, error) {
	var in struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if h.groups == nil {
		return nil, fmt.Errorf("group sync service not configured")
	}
	return h.groups.CreateGroup(ctx, in.Name, in.Description)
}

func runDeleteGroup(ctx context.Context, h *Handler, args json.RawMessage) (any, error) {
	var in struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if h.groups == nil {
		return nil, fmt.Errorf("group sync service not configured")
	}
	return h.groups.DeleteGroup(ctx, in.Name)
}

func runAddServerToGroups(ctx context.Context, h *Handler, args json.RawMessage) (any, error) {
	var in struct {
		ServerName string   `json:"server_name"`
		Groups     []string `json:"groups"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if h.groups == nil {
		return nil, fmt.Errorf("group sync service not configured")
	}
	return h.groups.AddServerToGroups(ctx, in.ServerName, in.Groups)
}

func runRemoveServerFromGroups(ctx context.Context, h *Handler, args json.RawMessage) (any, error) {
	var in struct {
		ServerName string   `json:"server_name"`
		Groups     []string `json:"groups"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if h.groups == nil {
		return nil, fmt.Errorf("group sync service not configured")
	}
	return h.groups.RemoveServerFromGroups(ctx, in.ServerName, in.Groups)
}

func runCreateM2MUser(ctx context.Context, h *Handler, args json.RawMessage) (any, error) {
	var in struct {
		Name        string   `json:"name"`
		Groups      []string `json:"groups"`
		Description string   `json:"description"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if h.groups == nil {
		return nil, fmt.Errorf("group sync service not configured")
	}
	return h.groups.CreateM2MUser(ctx, in.Name, in.Groups, in.Description)
}
