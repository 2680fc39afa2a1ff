// Package wire defines the JSON-RPC 2.0 envelopes and MCP descriptor
// shapes exchanged with clients. It is a foundational layer with no
// dependencies on the dispatcher or transports.
package wire

import (
	"encoding/json"

	"github.com/brightport/boardbridge/fault"
)

// Protocol method names answered by the dispatcher.
const (
	MethodInitialize    = "initialize"
	MethodPing          = "ping"
	MethodListTools     = "tools/list"
	MethodCallTool      = "tools/call"
	MethodListResources = "resources/list"
	MethodReadResource  = "resources/read"
)

// JSON-RPC 2.0 error codes. Taxonomy codes map onto the reserved range
// plus the -320xx application range used by MCP servers.
const (
	RPCParseError     = -32700
	RPCInvalidRequest = -32600
	RPCMethodNotFound = -32601
	RPCInvalidParams  = -32602
	RPCInternalError  = -32603
	RPCUnauthorized   = -32001
	RPCQuotaExceeded  = -32002
)

// Request is an incoming JSON-RPC 2.0 request. ID may be a string,
// number, or null per the JSON-RPC spec.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is an outgoing JSON-RPC 2.0 response. Exactly one of Result
// and Error is set; ID always mirrors the request.
type Response struct {
	JSONRPC string     `json:"jsonrpc"`
	ID      any        `json:"id"`
	Result  any        `json:"result,omitempty"`
	Error   *RPCError  `json:"error,omitempty"`
}

// RPCError is the JSON-RPC 2.0 error member. Data carries the taxonomy
// code so clients can branch without parsing the message.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// CallToolParams are the params of a tools/call request.
type CallToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ReadResourceParams are the params of a resources/read request.
type ReadResourceParams struct {
	URI string `json:"uri"`
}

// Tool is the public descriptor returned by tools/list. The handler is
// never serialized.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// ListToolsResult is the result of tools/list.
type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

// Resource is the public descriptor returned by resources/list. The URI
// may contain {placeholder} segments.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MIMEType    string `json:"mimeType,omitempty"`
}

// ListResourcesResult is the result of resources/list.
type ListResourcesResult struct {
	Resources []Resource `json:"resources"`
}

// Content is one entry of a tool result's content array. Only text
// content is produced by this server.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// CallToolResult is the result of tools/call. IsError distinguishes
// tool-level failures surfaced as content from protocol errors.
type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// ResourceContents is one entry of a resources/read result.
type ResourceContents struct {
	URI      string `json:"uri"`
	MIMEType string `json:"mimeType,omitempty"`
	Text     string `json:"text"`
}

// ReadResourceResult is the result of resources/read.
type ReadResourceResult struct {
	Contents []ResourceContents `json:"contents"`
}

// InitializeResult answers the initialize handshake.
type InitializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ServerInfo      ServerInfo     `json:"serverInfo"`
}

// ServerInfo identifies this server in the initialize handshake.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// TextResult wraps text into the uniform tool-result content envelope.
func TextResult(text string) CallToolResult {
	return CallToolResult{Content: []Content{{Type: "text", Text: text}}}
}

// NewResponse builds a success response mirroring the request id.
func NewResponse(id any, result any) Response {
	return Response{JSONRPC: "2.0", ID: id, Result: result}
}

// NewErrorResponse builds an error response from a taxonomy-classified
// error, mirroring the request id.
func NewErrorResponse(id any, err error) Response {
	code := fault.CodeOf(err)
	message := err.Error()
	if fe, ok := fault.From(err); ok && fe != nil {
		message = fe.Message
	}
	return Response{
		JSONRPC: "2.0",
		ID:      id,
		Error: &RPCError{
			Code:    rpcCode(code),
			Message: message,
			Data:    map[string]any{"code": string(code)},
		},
	}
}

func rpcCode(code fault.Code) int {
	switch code {
	case fault.CodeNotFound:
		return RPCMethodNotFound
	case fault.CodeInvalidRequest, fault.CodeMethodNotAllowed:
		return RPCInvalidRequest
	case fault.CodeInvalidArgument:
		return RPCInvalidParams
	case fault.CodeUnauthenticated:
		return RPCUnauthorized
	case fault.CodeQuotaExceeded:
		return RPCQuotaExceeded
	default:
		return RPCInternalError
	}
}
