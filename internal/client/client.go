// ABOUTME: HTTP client for the bridge: session lifecycle and JSON-RPC transport
// ABOUTME: Initializes lazily and resurrects expired sessions exactly once per call

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/agorai/bridge/internal/bridge"
)

// ErrSessionExpired is returned when the bridge no longer knows our session.
// Callers re-initialize and retry; CallTool does this once transparently.
var ErrSessionExpired = errors.New("session expired")

// ErrNoSession is returned by calls that need a session before one exists.
var ErrNoSession = errors.New("no active session")

// ToolError is a tool-level failure the bridge reported as isError content.
// The call itself succeeded at the transport level.
type ToolError struct {
	Tool string
	Text string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s failed: %s", e.Tool, e.Text)
}

// RPCError is a JSON-RPC error response from the bridge.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Config holds client construction parameters.
type Config struct {
	// BaseURL is the bridge root, e.g. http://localhost:8080.
	BaseURL string
	// APIKey is the bearer key presented on initialize and DELETE.
	APIKey string
	// HTTPClient overrides the default client (30s timeout).
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks JSON-RPC to a bridge over HTTP. It is safe for concurrent
// use; the session is shared across callers.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *slog.Logger

	mu        sync.Mutex
	sessionID string
	nextID    int64
}

// New creates a client. No network traffic happens until the first call.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("base URL is required")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("API key is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    httpClient,
		logger:  logger.With("component", "client"),
	}, nil
}

// SessionID returns the current session id, empty before initialize.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Reset drops the current session so the next call re-initializes.
func (c *Client) Reset() {
	c.mu.Lock()
	c.sessionID = ""
	c.mu.Unlock()
}

// ensureSession initializes a session if none is active.
func (c *Client) ensureSession(ctx context.Context) error {
	c.mu.Lock()
	if c.sessionID != "" {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	return c.initialize(ctx)
}

func (c *Client) initialize(ctx context.Context) error {
	req := bridge.JSONRPCRequest{
		JSONRPC: "2.0",
		ID:      c.requestID(),
		Method:  "initialize",
		Params: json.RawMessage(fmt.Sprintf(
			`{"protocolVersion":%q,"capabilities":{},"clientInfo":{"name":"agorai-client","version":%q}}`,
			bridge.ProtocolVersion, bridge.ServerVersion)),
	}

	resp, sessionID, err := c.post(ctx, req, "")
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	if resp.Error != nil {
		return fmt.Errorf("initialize: %w", &RPCError{Code: resp.Error.Code, Message: resp.Error.Message})
	}
	if sessionID == "" {
		return errors.New("initialize: bridge returned no session id")
	}

	c.mu.Lock()
	c.sessionID = sessionID
	c.mu.Unlock()

	c.logger.Debug("session initialized", "session_id", sessionID)

	// Completes the handshake; the bridge acknowledges with 202.
	note := bridge.JSONRPCRequest{
		JSONRPC: "2.0",
		Method:  "notifications/initialized",
	}
	if _, _, err := c.post(ctx, note, sessionID); err != nil {
		c.logger.Debug("initialized notification failed", "error", err)
	}
	return nil
}

// Call issues a JSON-RPC request on the current session. It does not
// retry on session expiry; use CallTool for the transparent retry path.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if err := c.ensureSession(ctx); err != nil {
		return nil, err
	}

	var rawParams json.RawMessage
	if params != nil {
		p, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("encoding params: %w", err)
		}
		rawParams = p
	}

	req := bridge.JSONRPCRequest{
		JSONRPC: "2.0",
		ID:      c.requestID(),
		Method:  method,
		Params:  rawParams,
	}

	resp, _, err := c.post(ctx, req, c.SessionID())
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, &RPCError{Code: resp.Error.Code, Message: resp.Error.Message}
	}

	result, err := json.Marshal(resp.Result)
	if err != nil {
		return nil, fmt.Errorf("encoding result: %w", err)
	}
	return result, nil
}

// CallTool invokes a bridge tool and returns its JSON output. An expired
// session is re-initialized and the call retried once.
func (c *Client) CallTool(ctx context.Context, name string, args any) (json.RawMessage, error) {
	out, err := c.callToolOnce(ctx, name, args)
	if errors.Is(err, ErrSessionExpired) {
		c.Reset()
		out, err = c.callToolOnce(ctx, name, args)
	}
	return out, err
}

func (c *Client) callToolOnce(ctx context.Context, name string, args any) (json.RawMessage, error) {
	var rawArgs json.RawMessage
	if args != nil {
		a, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("encoding arguments: %w", err)
		}
		rawArgs = a
	}

	result, err := c.Call(ctx, "tools/call", bridge.CallToolParams{Name: name, Arguments: rawArgs})
	if err != nil {
		return nil, err
	}

	var callResult bridge.CallToolResult
	if err := json.Unmarshal(result, &callResult); err != nil {
		return nil, fmt.Errorf("decoding tool result: %w", err)
	}

	var text string
	if len(callResult.Content) > 0 {
		text = callResult.Content[0].Text
	}
	if callResult.IsError {
		return nil, &ToolError{Tool: name, Text: text}
	}
	return json.RawMessage(text), nil
}

// Ping checks session liveness.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Call(ctx, "ping", nil)
	return err
}

// Close terminates the session on the bridge. Best effort: errors are
// logged, not returned, because teardown must not block shutdown.
func (c *Client) Close() {
	c.mu.Lock()
	sessionID := c.sessionID
	c.sessionID = ""
	c.mu.Unlock()

	if sessionID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/mcp", nil)
	if err != nil {
		return
	}
	req.Header.Set("Mcp-Session-Id", sessionID)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("session delete failed", "error", err)
		return
	}
	resp.Body.Close()
}

func (c *Client) requestID() json.RawMessage {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.mu.Unlock()
	return json.RawMessage(strconv.FormatInt(id, 10))
}

// post sends one JSON-RPC message and decodes the response, tolerating
// SSE framing. Returns the Mcp-Session-Id response header when present.
func (c *Client) post(ctx context.Context, rpcReq bridge.JSONRPCRequest, sessionID string) (*bridge.JSONRPCResponse, string, error) {
	body, err := json.Marshal(rpcReq)
	if err != nil {
		return nil, "", fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/mcp", bytes.NewReader(body))
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if sessionID != "" {
		req.Header.Set("Mcp-Session-Id", sessionID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("posting to bridge: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("reading response: %w", err)
	}

	newSessionID := resp.Header.Get("Mcp-Session-Id")

	switch {
	case resp.StatusCode == http.StatusNotFound &&
		strings.Contains(string(respBody), "Session not found"):
		// Only the bridge's own session miss triggers re-initialization;
		// any other 404 is a plain transport failure.
		return nil, "", ErrSessionExpired
	case resp.StatusCode == http.StatusAccepted:
		// Notification acknowledged, no body to decode.
		return &bridge.JSONRPCResponse{JSONRPC: "2.0"}, newSessionID, nil
	case resp.StatusCode >= 400:
		return nil, "", fmt.Errorf("bridge returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	payload := respBody
	if strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		payload = lastDataLine(respBody)
		if payload == nil {
			return nil, "", errors.New("no data frame in SSE response")
		}
	}

	var rpcResp bridge.JSONRPCResponse
	if err := json.Unmarshal(payload, &rpcResp); err != nil {
		return nil, "", fmt.Errorf("decoding response: %w", err)
	}
	return &rpcResp, newSessionID, nil
}

// lastDataLine extracts the payload of the final data: frame in an SSE
// body. The JSON-RPC response is always the last frame.
func lastDataLine(body []byte) []byte {
	var last []byte
	for _, line := range strings.Split(string(body), "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.HasPrefix(line, "data:") {
			last = []byte(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	return last
}
