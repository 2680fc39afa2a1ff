// Package stdio runs the pipe transport: newline-delimited JSON-RPC
// over a single full-duplex byte stream, one implicit session for the
// process lifetime. Logs go to stderr so stdout stays a clean protocol
// channel.
package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/brightport/boardbridge/dispatch"
	"github.com/brightport/boardbridge/fault"
	"github.com/brightport/boardbridge/wire"
)

// maxLineBytes bounds a single inbound message.
const maxLineBytes = 4 << 20

// Config configures a Transport.
type Config struct {
	Dispatcher *dispatch.Dispatcher
	Reader     io.Reader
	Writer     io.Writer
	Logger     *slog.Logger
}

// Transport reads requests line by line and writes responses in arrival
// order. Responses are serialized through a mutex so concurrent handler
// completions never interleave bytes.
type Transport struct {
	dispatcher *dispatch.Dispatcher
	reader     io.Reader
	writer     io.Writer
	logger     *slog.Logger

	writeMu sync.Mutex
}

// New creates a Transport.
func New(cfg Config) *Transport {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		dispatcher: cfg.Dispatcher,
		reader:     cfg.Reader,
		writer:     cfg.Writer,
		logger:     logger,
	}
}

// Run serves until the input stream ends or ctx is canceled. Messages
// are processed in arrival order, matching the single implicit session.
func (t *Transport) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(t.reader)
	scanner.Buffer(make([]byte, 64<<10), maxLineBytes)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req wire.Request
		if err := json.Unmarshal(line, &req); err != nil {
			t.logger.Warn("discarding malformed message", "error", err)
			t.write(wire.NewErrorResponse(nil, fault.Wrap(fault.CodeInvalidRequest, err, "malformed JSON-RPC message")))
			continue
		}

		res, ok := t.dispatcher.HandleRequest(ctx, req)
		if !ok {
			continue
		}
		t.write(res)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading stdio transport: %w", err)
	}
	return nil
}

func (t *Transport) write(res wire.Response) {
	data, err := json.Marshal(res)
	if err != nil {
		t.logger.Error("marshaling response", "error", err)
		return
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_, _ = t.writer.Write(append(data, '\n'))
}
