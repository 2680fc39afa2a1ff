package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/brightport/boardbridge/fault"
	"github.com/brightport/boardbridge/schema"
)

func newTestDispatcher() *Dispatcher {
	return New(Config{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
}

func TestDispatcher_PingRoundTrip(t *testing.T) {
	d := newTestDispatcher()
	d.RegisterTool("ping", "No-op tool.", schema.Contract{},
		func(ctx context.Context, args map[string]any) (any, error) {
			return map[string]any{"pong": true}, nil
		})

	tools := d.ListTools()
	if len(tools) != 1 || tools[0].Name != "ping" {
		t.Fatalf("ListTools = %v, want [ping]", tools)
	}

	result, err := d.CallTool(context.Background(), "ping", map[string]any{})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if len(result.Content) != 1 || !strings.Contains(result.Content[0].Text, `"pong":true`) {
		t.Errorf("got content %v, want pong:true", result.Content)
	}

	_, err = d.CallTool(context.Background(), "missing", map[string]any{})
	if fault.CodeOf(err) != fault.CodeNotFound {
		t.Errorf("got %v, want NOT_FOUND", err)
	}
}

func TestDispatcher_InvalidArgumentsNeverInvokeHandler(t *testing.T) {
	d := newTestDispatcher()
	invoked := false
	d.RegisterTool("get_card", "Fetch a card.",
		schema.NewContract(map[string]schema.Property{
			"cardId": {Kind: schema.String, Required: true},
		}),
		func(ctx context.Context, args map[string]any) (any, error) {
			invoked = true
			return nil, nil
		})

	_, err := d.CallTool(context.Background(), "get_card", map[string]any{"cardId": 42})
	if fault.CodeOf(err) != fault.CodeInvalidArgument {
		t.Fatalf("got %v, want INVALID_ARGUMENT", err)
	}
	fe, _ := fault.From(err)
	if _, ok := fe.Details["cardId"]; !ok {
		t.Errorf("expected field-level detail for cardId, got %v", fe.Details)
	}
	if invoked {
		t.Error("handler must not run on invalid arguments")
	}

	_, err = d.CallTool(context.Background(), "get_card", map[string]any{})
	if fault.CodeOf(err) != fault.CodeInvalidArgument {
		t.Fatalf("got %v, want INVALID_ARGUMENT for missing required field", err)
	}
	if invoked {
		t.Error("handler must not run on missing required field")
	}
}

func TestDispatcher_HandlerErrorsReclassified(t *testing.T) {
	d := newTestDispatcher()
	d.RegisterTool("boom", "Always fails.", schema.Contract{},
		func(ctx context.Context, args map[string]any) (any, error) {
			return nil, errors.New("database on fire")
		})
	d.RegisterTool("gone", "Classified failure.", schema.Contract{},
		func(ctx context.Context, args map[string]any) (any, error) {
			return nil, fault.New(fault.CodeNotFound, "card is gone")
		})

	_, err := d.CallTool(context.Background(), "boom", nil)
	if fault.CodeOf(err) != fault.CodeInternal {
		t.Errorf("unclassified error: got %v, want INTERNAL_ERROR", err)
	}

	// Already-classified errors pass through untouched.
	_, err = d.CallTool(context.Background(), "gone", nil)
	if fault.CodeOf(err) != fault.CodeNotFound {
		t.Errorf("classified error: got %v, want NOT_FOUND", err)
	}
}

func TestDispatcher_ReRegistrationLastWriteWins(t *testing.T) {
	d := newTestDispatcher()
	d.RegisterTool("ping", "v1", schema.Contract{},
		func(ctx context.Context, args map[string]any) (any, error) { return "one", nil })
	d.RegisterTool("ping", "v2", schema.Contract{},
		func(ctx context.Context, args map[string]any) (any, error) { return "two", nil })

	tools := d.ListTools()
	if len(tools) != 1 {
		t.Fatalf("re-registration must not duplicate: got %d tools", len(tools))
	}
	if tools[0].Description != "v2" {
		t.Errorf("got description %q, want v2", tools[0].Description)
	}

	result, err := d.CallTool(context.Background(), "ping", nil)
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if result.Content[0].Text != "two" {
		t.Errorf("got %q, want the replacement handler's result", result.Content[0].Text)
	}
}

func TestDispatcher_ListToolsRegistrationOrder(t *testing.T) {
	d := newTestDispatcher()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		d.RegisterTool(name, "", schema.Contract{},
			func(ctx context.Context, args map[string]any) (any, error) { return nil, nil })
	}
	tools := d.ListTools()
	got := []string{tools[0].Name, tools[1].Name, tools[2].Name}
	want := []string{"zeta", "alpha", "mid"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got order %v, want %v", got, want)
		}
	}
}

func TestDispatcher_ReadResource(t *testing.T) {
	d := newTestDispatcher()
	err := d.RegisterResource("board://{boardId}", "Board", "", "text/markdown",
		func(ctx context.Context, uri string, params map[string]string) (any, error) {
			return "# board " + params["boardId"], nil
		})
	if err != nil {
		t.Fatalf("RegisterResource: %v", err)
	}

	result, err := d.ReadResource(context.Background(), "board://b42")
	if err != nil {
		t.Fatalf("ReadResource: %v", err)
	}
	if len(result.Contents) != 1 {
		t.Fatalf("got %d contents, want 1", len(result.Contents))
	}
	contents := result.Contents[0]
	if contents.URI != "board://b42" || contents.MIMEType != "text/markdown" || contents.Text != "# board b42" {
		t.Errorf("unexpected contents: %+v", contents)
	}
}

func TestDispatcher_ReadResourceUnmatchedNeverInvokesHandler(t *testing.T) {
	d := newTestDispatcher()
	invoked := false
	_ = d.RegisterResource("card://{cardId}", "Card", "", "application/json",
		func(ctx context.Context, uri string, params map[string]string) (any, error) {
			invoked = true
			return nil, nil
		})

	_, err := d.ReadResource(context.Background(), "board://nope")
	if fault.CodeOf(err) != fault.CodeInvalidRequest {
		t.Fatalf("got %v, want INVALID_REQUEST", err)
	}
	if invoked {
		t.Error("handler must not run for an unmatched URI")
	}
}

func TestDispatcher_FirstRegisteredPatternWins(t *testing.T) {
	d := newTestDispatcher()
	_ = d.RegisterResource("item://{id}", "first", "", "text/plain",
		func(ctx context.Context, uri string, params map[string]string) (any, error) {
			return "first", nil
		})
	_ = d.RegisterResource("item://{other}", "second", "", "text/plain",
		func(ctx context.Context, uri string, params map[string]string) (any, error) {
			return "second", nil
		})

	result, err := d.ReadResource(context.Background(), "item://x")
	if err != nil {
		t.Fatalf("ReadResource: %v", err)
	}
	if result.Contents[0].Text != "first" {
		t.Errorf("ambiguous patterns must resolve to the first registration, got %q", result.Contents[0].Text)
	}
}

func TestDispatcher_ObjectResultsSerialized(t *testing.T) {
	d := newTestDispatcher()
	_ = d.RegisterResource("board://{id}/lists", "Lists", "", "application/json",
		func(ctx context.Context, uri string, params map[string]string) (any, error) {
			return []map[string]any{{"id": "l1"}}, nil
		})
	result, err := d.ReadResource(context.Background(), "board://b/lists")
	if err != nil {
		t.Fatalf("ReadResource: %v", err)
	}
	if result.Contents[0].Text != `[{"id":"l1"}]` {
		t.Errorf("got %q", result.Contents[0].Text)
	}
}
