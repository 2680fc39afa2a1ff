// Package dispatch owns the tool and resource registries and answers
// the protocol request kinds (tools/list, tools/call, resources/list,
// resources/read) uniformly regardless of which transport delivered the
// request. Request handling is stateless: the only state is which names
// are registered.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brightport/boardbridge/fault"
	"github.com/brightport/boardbridge/schema"
	"github.com/brightport/boardbridge/wire"
)

// ToolHandler executes one tool call. Arguments have already been
// validated against the tool's contract.
type ToolHandler func(ctx context.Context, args map[string]any) (any, error)

// ResourceHandler produces the content of one resource. Params holds the
// values captured from the URI pattern's {placeholder} segments.
type ResourceHandler func(ctx context.Context, uri string, params map[string]string) (any, error)

// ToolDescriptor is an immutable registration record for one tool.
type ToolDescriptor struct {
	Name        string
	Description string
	Contract    schema.Contract
	Handler     ToolHandler
}

// ResourceDescriptor is an immutable registration record for one
// resource pattern. Patterns are matched in registration order; the
// first match wins, so ambiguous patterns resolve to the earliest
// registration.
type ResourceDescriptor struct {
	Pattern     string
	Name        string
	Description string
	MIMEType    string
	Handler     ResourceHandler

	matcher *patternMatcher
}

// Dispatcher holds the registries. Construct one per process with New;
// there is no ambient global instance.
type Dispatcher struct {
	logger *slog.Logger

	mu        sync.RWMutex
	tools     map[string]ToolDescriptor
	toolOrder []string
	resources []ResourceDescriptor

	observe Observer
}

// Config configures a Dispatcher.
type Config struct {
	Logger *slog.Logger

	// Observer receives per-call observations (spans, metrics). Optional.
	Observer Observer
}

// Observer is notified around every dispatched call.
type Observer interface {
	CallStarted(ctx context.Context, kind, name, requestID string) context.Context
	CallFinished(ctx context.Context, kind, name, requestID string, elapsed time.Duration, err error)
}

// New creates an empty Dispatcher.
func New(cfg Config) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		logger:  logger,
		tools:   make(map[string]ToolDescriptor),
		observe: cfg.Observer,
	}
}

// RegisterTool stores a tool descriptor. Re-registering a name replaces
// the previous descriptor (last write wins) and is logged; open sessions
// are unaffected.
func (d *Dispatcher) RegisterTool(name, description string, contract schema.Contract, handler ToolHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.tools[name]; exists {
		d.logger.Warn("tool re-registered, replacing previous handler", "tool", name)
	} else {
		d.toolOrder = append(d.toolOrder, name)
	}
	d.tools[name] = ToolDescriptor{
		Name:        name,
		Description: description,
		Contract:    contract,
		Handler:     handler,
	}
}

// RegisterResource stores a resource descriptor. Re-registering the same
// pattern replaces the previous descriptor in place and is logged.
func (d *Dispatcher) RegisterResource(pattern, name, description, mimeType string, handler ResourceHandler) error {
	matcher, err := compilePattern(pattern)
	if err != nil {
		return fault.Wrap(fault.CodeInvalidRequest, err, "resource pattern %q does not compile", pattern)
	}
	desc := ResourceDescriptor{
		Pattern:     pattern,
		Name:        name,
		Description: description,
		MIMEType:    mimeType,
		Handler:     handler,
		matcher:     matcher,
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for i, existing := range d.resources {
		if existing.Pattern == pattern {
			d.logger.Warn("resource re-registered, replacing previous handler", "pattern", pattern)
			d.resources[i] = desc
			return nil
		}
	}
	d.resources = append(d.resources, desc)
	return nil
}

// ListTools returns the public fields of every registered tool in
// registration order. Handlers are never exposed.
func (d *Dispatcher) ListTools() []wire.Tool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]wire.Tool, 0, len(d.toolOrder))
	for _, name := range d.toolOrder {
		desc := d.tools[name]
		out = append(out, wire.Tool{
			Name:        desc.Name,
			Description: desc.Description,
			InputSchema: desc.Contract.JSONSchema(),
		})
	}
	return out
}

// ListResources returns the public fields of every registered resource
// in registration order.
func (d *Dispatcher) ListResources() []wire.Resource {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]wire.Resource, 0, len(d.resources))
	for _, desc := range d.resources {
		out = append(out, wire.Resource{
			URI:         desc.Pattern,
			Name:        desc.Name,
			Description: desc.Description,
			MIMEType:    desc.MIMEType,
		})
	}
	return out
}

// CallTool looks up name, validates args against the tool's contract,
// and invokes the handler under a fresh per-call context carrying a
// request id and contextual logger. Handler errors that are not already
// taxonomy-classified are wrapped as internal errors carrying the tool
// name, so internal exception types never leak to clients.
func (d *Dispatcher) CallTool(ctx context.Context, name string, args map[string]any) (wire.CallToolResult, error) {
	d.mu.RLock()
	desc, ok := d.tools[name]
	d.mu.RUnlock()

	requestID := uuid.NewString()
	logger := d.logger.With("request_id", requestID, "tool", name)

	if !ok {
		err := fault.New(fault.CodeNotFound, "tool %q is not registered", name)
		logger.Warn("tool call rejected", "code", fault.CodeOf(err), "error", err.Message)
		return wire.CallToolResult{}, err
	}

	if fieldErrs := desc.Contract.Validate(args); len(fieldErrs) > 0 {
		details := make(map[string]any, len(fieldErrs))
		for _, fe := range fieldErrs {
			details[fe.Field] = fe.Message
		}
		err := fault.New(fault.CodeInvalidArgument, "invalid arguments for tool %q: %s", name, fieldErrs[0]).
			WithDetails(details)
		logger.Warn("tool call rejected", "code", err.Code, "error", err.Message)
		return wire.CallToolResult{}, err
	}

	callCtx := WithLogger(ctx, logger)
	callCtx = withRequestID(callCtx, requestID)
	if d.observe != nil {
		callCtx = d.observe.CallStarted(callCtx, "tool", name, requestID)
	}

	logger.Info("tool call started")
	start := time.Now()
	result, err := desc.Handler(callCtx, args)
	elapsed := time.Since(start)
	if d.observe != nil {
		d.observe.CallFinished(callCtx, "tool", name, requestID, elapsed, err)
	}
	if err != nil {
		classified := fault.AsInternal(err, "tool %q failed", name)
		if classified.Details == nil {
			classified = classified.WithDetails(map[string]any{"tool": name})
		}
		logger.Error("tool call failed", "code", classified.Code, "error", classified.Message, "elapsed", elapsed)
		return wire.CallToolResult{}, classified
	}
	logger.Info("tool call finished", "elapsed", elapsed)

	return renderToolResult(result)
}

// ReadResource matches uri against registered patterns in registration
// order and invokes the first matching handler. String and object
// results are wrapped into the uniform contents envelope with the
// resource's declared MIME type.
func (d *Dispatcher) ReadResource(ctx context.Context, uri string) (wire.ReadResourceResult, error) {
	d.mu.RLock()
	var (
		matched ResourceDescriptor
		params  map[string]string
		found   bool
	)
	for _, desc := range d.resources {
		if captured, ok := desc.matcher.match(uri); ok {
			matched, params, found = desc, captured, true
			break
		}
	}
	d.mu.RUnlock()

	requestID := uuid.NewString()
	logger := d.logger.With("request_id", requestID, "uri", uri)

	if !found {
		err := fault.New(fault.CodeInvalidRequest, "no resource matches %q", uri)
		logger.Warn("resource read rejected", "code", err.Code, "error", err.Message)
		return wire.ReadResourceResult{}, err
	}

	callCtx := WithLogger(ctx, logger)
	callCtx = withRequestID(callCtx, requestID)
	if d.observe != nil {
		callCtx = d.observe.CallStarted(callCtx, "resource", matched.Pattern, requestID)
	}

	logger.Info("resource read started", "pattern", matched.Pattern)
	start := time.Now()
	result, err := matched.Handler(callCtx, uri, params)
	elapsed := time.Since(start)
	if d.observe != nil {
		d.observe.CallFinished(callCtx, "resource", matched.Pattern, requestID, elapsed, err)
	}
	if err != nil {
		classified := fault.AsInternal(err, "resource %q failed", matched.Pattern)
		logger.Error("resource read failed", "code", classified.Code, "error", classified.Message, "elapsed", elapsed)
		return wire.ReadResourceResult{}, classified
	}
	logger.Info("resource read finished", "elapsed", elapsed)

	text, err := renderText(result)
	if err != nil {
		return wire.ReadResourceResult{}, fault.Wrap(fault.CodeInternal, err, "resource %q produced unserializable content", matched.Pattern)
	}
	return wire.ReadResourceResult{
		Contents: []wire.ResourceContents{{
			URI:      uri,
			MIMEType: matched.MIMEType,
			Text:     text,
		}},
	}, nil
}

// renderToolResult serializes a handler result into the protocol's text
// content envelope. Handlers may return a prebuilt result to pass it
// through untouched.
func renderToolResult(result any) (wire.CallToolResult, error) {
	switch v := result.(type) {
	case wire.CallToolResult:
		return v, nil
	case *wire.CallToolResult:
		if v != nil {
			return *v, nil
		}
		return wire.TextResult(""), nil
	default:
		text, err := renderText(result)
		if err != nil {
			return wire.CallToolResult{}, fault.Wrap(fault.CodeInternal, err, "tool produced unserializable content")
		}
		return wire.TextResult(text), nil
	}
}

func renderText(result any) (string, error) {
	switch v := result.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("marshal result: %w", err)
		}
		return string(data), nil
	}
}
