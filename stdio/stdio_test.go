package stdio

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/brightport/boardbridge/dispatch"
	"github.com/brightport/boardbridge/schema"
	"github.com/brightport/boardbridge/wire"
)

func newTestTransport(input string, out *bytes.Buffer) *Transport {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	d := dispatch.New(dispatch.Config{Logger: logger})
	d.RegisterTool("ping", "No-op tool.", schema.Contract{},
		func(ctx context.Context, args map[string]any) (any, error) {
			return map[string]any{"pong": true}, nil
		})
	return New(Config{
		Dispatcher: d,
		Reader:     strings.NewReader(input),
		Writer:     out,
		Logger:     logger,
	})
}

func decodeLines(t *testing.T, out *bytes.Buffer) []wire.Response {
	t.Helper()
	var responses []wire.Response
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		if line == "" {
			continue
		}
		var res wire.Response
		if err := json.Unmarshal([]byte(line), &res); err != nil {
			t.Fatalf("output line %q is not valid JSON: %v", line, err)
		}
		responses = append(responses, res)
	}
	return responses
}

func TestTransport_AnswersInArrivalOrder(t *testing.T) {
	input := `{"jsonrpc":"2.0","id":1,"method":"initialize"}
{"jsonrpc":"2.0","id":2,"method":"tools/list"}
{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"ping"}}
`
	var out bytes.Buffer
	tr := newTestTransport(input, &out)
	if err := tr.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	responses := decodeLines(t, &out)
	if len(responses) != 3 {
		t.Fatalf("got %d responses, want 3", len(responses))
	}
	for i, res := range responses {
		if res.Error != nil {
			t.Errorf("response %d carries error %+v", i, res.Error)
		}
		wantID := float64(i + 1)
		if res.ID != wantID {
			t.Errorf("response %d has id %v, want %v", i, res.ID, wantID)
		}
	}
}

func TestTransport_MalformedLineAnsweredAndSkipped(t *testing.T) {
	input := `this is not json
{"jsonrpc":"2.0","id":9,"method":"ping"}
`
	var out bytes.Buffer
	tr := newTestTransport(input, &out)
	if err := tr.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	responses := decodeLines(t, &out)
	if len(responses) != 2 {
		t.Fatalf("got %d responses, want 2", len(responses))
	}
	if responses[0].Error == nil || responses[0].Error.Code != wire.RPCInvalidRequest {
		t.Errorf("malformed line: got %+v, want invalid-request error", responses[0].Error)
	}
	if responses[0].ID != nil {
		t.Errorf("malformed line cannot echo an id, got %v", responses[0].ID)
	}
	if responses[1].Error != nil || responses[1].ID != float64(9) {
		t.Errorf("transport did not recover after malformed line: %+v", responses[1])
	}
}

func TestTransport_UnknownMethodNotificationSilent(t *testing.T) {
	input := `{"jsonrpc":"2.0","method":"notifications/initialized"}
{"jsonrpc":"2.0","id":1,"method":"ping"}
`
	var out bytes.Buffer
	tr := newTestTransport(input, &out)
	if err := tr.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	responses := decodeLines(t, &out)
	if len(responses) != 1 {
		t.Fatalf("got %d responses, want 1 (notification answered?)", len(responses))
	}
	if responses[0].ID != float64(1) {
		t.Errorf("got id %v, want 1", responses[0].ID)
	}
}

func TestTransport_BlankLinesIgnored(t *testing.T) {
	input := "\n\n{\"jsonrpc\":\"2.0\",\"id\":1,\"method\":\"ping\"}\n\n"
	var out bytes.Buffer
	tr := newTestTransport(input, &out)
	if err := tr.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := decodeLines(t, &out); len(got) != 1 {
		t.Fatalf("got %d responses, want 1", len(got))
	}
}
