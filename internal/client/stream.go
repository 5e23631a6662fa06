// ABOUTME: SSE push stream consumption for early wake between polls
// ABOUTME: Decodes notifications/message frames into Message values

package client

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/r3labs/sse/v2"
)

// pushNotification is the JSON-RPC frame carried in each SSE data line.
type pushNotification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// StreamEvents subscribes to the bridge's push stream for the current
// session and forwards decoded messages until ctx is cancelled or the
// stream drops. The stream is a latency optimization: consumers still
// poll, so a dropped stream loses nothing.
func (c *Client) StreamEvents(ctx context.Context, out chan<- *Message) error {
	if err := c.ensureSession(ctx); err != nil {
		return err
	}
	sessionID := c.SessionID()
	if sessionID == "" {
		return ErrNoSession
	}

	sseClient := sse.NewClient(c.baseURL + "/mcp")
	sseClient.Headers["Mcp-Session-Id"] = sessionID
	sseClient.Headers["Authorization"] = "Bearer " + c.apiKey
	// The stream is long-lived, so it cannot share the request client's
	// overall timeout.
	sseClient.Connection = &http.Client{}

	sseClient.OnDisconnect(func(_ *sse.Client) {
		c.logger.Debug("push stream disconnected")
	})

	err := sseClient.SubscribeWithContext(ctx, "message", func(ev *sse.Event) {
		var note pushNotification
		if err := json.Unmarshal(ev.Data, &note); err != nil {
			c.logger.Debug("undecodable push frame", "error", err)
			return
		}
		if note.Method != "notifications/message" {
			return
		}
		var msg Message
		if err := json.Unmarshal(note.Params, &msg); err != nil {
			c.logger.Debug("undecodable push payload", "error", err)
			return
		}
		select {
		case out <- &msg:
		case <-ctx.Done():
		}
	})
	if err != nil && ctx.Err() == nil {
		return err
	}
	return ctx.Err()
}
