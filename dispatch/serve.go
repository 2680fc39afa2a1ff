package dispatch

import (
	"context"
	"encoding/json"

	"github.com/brightport/boardbridge/fault"
	"github.com/brightport/boardbridge/wire"
)

// ProtocolVersion is the MCP protocol revision this server speaks.
const ProtocolVersion = "2024-11-05"

// ServerName and ServerVersion identify the process in the initialize
// handshake. ServerVersion is overridden at build time by the CLI.
var (
	ServerName    = "boardbridge"
	ServerVersion = "dev"
)

// HandleRequest answers one JSON-RPC request. It is the single entry
// point shared by the stdio and SSE transports, so both see identical
// semantics. Notifications (nil id, no reply expected) return ok=false.
func (d *Dispatcher) HandleRequest(ctx context.Context, req wire.Request) (wire.Response, bool) {
	switch req.Method {
	case wire.MethodInitialize:
		return wire.NewResponse(req.ID, wire.InitializeResult{
			ProtocolVersion: ProtocolVersion,
			Capabilities: map[string]any{
				"tools":     map[string]any{},
				"resources": map[string]any{},
			},
			ServerInfo: wire.ServerInfo{Name: ServerName, Version: ServerVersion},
		}), true

	case wire.MethodPing:
		return wire.NewResponse(req.ID, map[string]any{}), true

	case wire.MethodListTools:
		return wire.NewResponse(req.ID, wire.ListToolsResult{Tools: d.ListTools()}), true

	case wire.MethodListResources:
		return wire.NewResponse(req.ID, wire.ListResourcesResult{Resources: d.ListResources()}), true

	case wire.MethodCallTool:
		var params wire.CallToolParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return wire.NewErrorResponse(req.ID, fault.Wrap(fault.CodeInvalidArgument, err, "malformed tools/call params")), true
		}
		result, err := d.CallTool(ctx, params.Name, params.Arguments)
		if err != nil {
			return wire.NewErrorResponse(req.ID, err), true
		}
		return wire.NewResponse(req.ID, result), true

	case wire.MethodReadResource:
		var params wire.ReadResourceParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return wire.NewErrorResponse(req.ID, fault.Wrap(fault.CodeInvalidArgument, err, "malformed resources/read params")), true
		}
		result, err := d.ReadResource(ctx, params.URI)
		if err != nil {
			return wire.NewErrorResponse(req.ID, err), true
		}
		return wire.NewResponse(req.ID, result), true

	default:
		if req.ID == nil {
			// Notification for an unknown method; nothing to answer.
			return wire.Response{}, false
		}
		return wire.NewErrorResponse(req.ID, fault.New(fault.CodeNotFound, "method %q is not supported", req.Method)), true
	}
}
