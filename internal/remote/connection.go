package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// FrameHandler observes application frames arriving on a server's event
// stream after the connection state machine has consumed the lifecycle
// events. serverID identifies the originating server.
type FrameHandler func(serverID string, frameType string, payload map[string]any)

// connection is the live transport for one server. It owns the status field
// of the state machine; the manager owns everything else about the server.
type connection struct {
	cfg     ServerConfig
	client  *http.Client
	sdk     *mcpsdk.Client
	onFrame FrameHandler

	mu      sync.Mutex
	status  Status
	session *mcpsdk.ClientSession
	cancel  context.CancelFunc

	readers sync.WaitGroup
}

func newConnection(cfg ServerConfig, client *http.Client, sdk *mcpsdk.Client, onFrame FrameHandler) *connection {
	return &connection{
		cfg:     cfg,
		client:  client,
		sdk:     sdk,
		onFrame: onFrame,
		status:  Status{State: StateIdle},
	}
}

func (c *connection) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *connection) setStatus(s Status) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

// Session returns the MCP session for tool sync and remote calls, or nil when
// the server is reached over a transport without one.
func (c *connection) Session() *mcpsdk.ClientSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// connect performs the transport handshake. A successful handshake moves the
// status to Connected before any stream reader starts, a failed one to Error.
// Stream readers keep running in the background and may move the status later
// (Error on stream failure, Idle on orderly close).
func (c *connection) connect(ctx context.Context) error {
	c.setStatus(Status{State: StateConnecting})

	readCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	var err error
	switch c.cfg.Transport {
	case TransportSSE:
		err = c.connectSSE(ctx, readCtx)
	case TransportStreamableHTTP:
		err = c.connectStreamableHTTP(ctx, readCtx)
	default:
		err = fmt.Errorf("remote: unknown transport %q for server %q", c.cfg.Transport, c.cfg.Name)
	}
	if err != nil {
		c.setStatus(Status{State: StateError, Err: err.Error()})
		cancel()
		return err
	}
	return nil
}

// connectSSE issues the long-lived GET and hands the response body to the
// frame reader.
func (c *connection) connectSSE(ctx, readCtx context.Context) error {
	req, err := http.NewRequestWithContext(readCtx, http.MethodGet, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("remote: build sse request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	for _, h := range c.cfg.Headers {
		req.Header.Add(h.Name, h.Value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("remote: sse connect to %q: %w", c.cfg.Name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return fmt.Errorf("remote: sse connect to %q: status %d", c.cfg.Name, resp.StatusCode)
	}

	// Connected must be set before the reader starts: a short-lived stream may
	// finish (and record its final state) immediately.
	c.setStatus(Status{State: StateConnected})
	c.startReader(resp)
	return nil
}

// connectStreamableHTTP prefers a full MCP session, which carries tool
// listing and tool calls. Servers that do not speak MCP fall back to the
// plain POST handshake; when such a server answers with an event-stream body
// the same frame reader as SSE takes over.
func (c *connection) connectStreamableHTTP(ctx, readCtx context.Context) error {
	session, sdkErr := c.sdk.Connect(ctx, &mcpsdk.StreamableClientTransport{
		Endpoint:   c.cfg.URL,
		HTTPClient: c.client,
	}, nil)
	if sdkErr == nil {
		c.mu.Lock()
		c.session = session
		c.mu.Unlock()
		c.setStatus(Status{State: StateConnected})
		return nil
	}
	slog.Debug("mcp session unavailable, using plain handshake",
		"server", c.cfg.Name,
		"error", sdkErr,
	)

	req, err := http.NewRequestWithContext(readCtx, http.MethodPost, c.cfg.URL, bytes.NewReader([]byte("{}")))
	if err != nil {
		return fmt.Errorf("remote: build handshake request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	for _, h := range c.cfg.Headers {
		req.Header.Add(h.Name, h.Value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("remote: handshake with %q: %w", c.cfg.Name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return fmt.Errorf("remote: handshake with %q: status %d", c.cfg.Name, resp.StatusCode)
	}

	c.setStatus(Status{State: StateConnected})
	if isEventStream(resp.Header.Get("Content-Type")) {
		c.startReader(resp)
	} else {
		resp.Body.Close()
	}
	return nil
}

func isEventStream(contentType string) bool {
	return strings.Contains(contentType, "text/event-stream")
}

// startReader consumes the framed response body until the stream ends. An
// orderly end moves the status to Idle, a read failure to Error.
func (c *connection) startReader(resp *http.Response) {
	c.readers.Add(1)
	go func() {
		defer c.readers.Done()
		defer resp.Body.Close()

		err := readFrames(resp.Body, c.dispatchFrame)
		switch {
		case err != nil:
			c.setStatus(Status{State: StateError, Err: err.Error()})
			slog.Warn("event stream failed", "server", c.cfg.Name, "error", err)
		default:
			c.setStatus(Status{State: StateIdle})
			slog.Info("event stream closed", "server", c.cfg.Name)
		}
	}()
}

// dispatchFrame interprets one parsed frame. Lifecycle events drive the state
// machine; message frames carry a JSON object whose "type" field selects the
// application event.
func (c *connection) dispatchFrame(f frame) {
	switch f.Event {
	case "open":
		c.setStatus(Status{State: StateConnected})
		return
	case "close":
		c.setStatus(Status{State: StateIdle})
		return
	case "error":
		c.setStatus(Status{State: StateError, Err: f.Data})
		return
	case "", "message":
		// fall through to the typed payload below
	default:
		slog.Debug("ignoring unknown stream event", "server", c.cfg.Name, "event", f.Event)
		return
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(f.Data), &payload); err != nil {
		slog.Warn("undecodable stream frame", "server", c.cfg.Name, "error", err)
		return
	}
	frameType, _ := payload["type"].(string)
	switch frameType {
	case "status":
		c.applyStatusFrame(payload)
	case "tool_call", "tool_response":
		if c.onFrame != nil {
			c.onFrame(c.cfg.ID, frameType, payload)
		}
	default:
		slog.Debug("ignoring unknown frame type", "server", c.cfg.Name, "type", frameType)
	}
}

// applyStatusFrame maps a server-pushed status update onto the state machine.
func (c *connection) applyStatusFrame(payload map[string]any) {
	status, _ := payload["status"].(string)
	switch status {
	case "connected":
		c.setStatus(Status{State: StateConnected})
	case "disconnected":
		c.setStatus(Status{State: StateIdle})
	case "error":
		msg, _ := payload["message"].(string)
		if msg == "" {
			msg = "server reported an error"
		}
		c.setStatus(Status{State: StateError, Err: msg})
	default:
		slog.Debug("ignoring unknown status value", "server", c.cfg.Name, "status", status)
	}
}

// close releases the transport and resets the status to Idle. It waits for
// any stream reader to finish so no two transports for the same server ever
// coexist.
func (c *connection) close() {
	c.mu.Lock()
	cancel := c.cancel
	session := c.session
	c.cancel = nil
	c.session = nil
	c.mu.Unlock()

	if session != nil {
		_ = session.Close()
	}
	if cancel != nil {
		cancel()
	}
	c.readers.Wait()
	c.setStatus(Status{State: StateIdle})
}
