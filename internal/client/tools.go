// ABOUTME: Typed wrappers over the bridge tool set for agent code
// ABOUTME: Thin translation between Go structs and tool JSON shapes

package client

import (
	"context"
	"encoding/json"
	"fmt"
)

// AgentInfo mirrors the bridge's agent JSON shape.
type AgentInfo struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Type           string   `json:"type,omitempty"`
	Capabilities   []string `json:"capabilities,omitempty"`
	ClearanceLevel string   `json:"clearance_level"`
	LastSeen       string   `json:"last_seen"`
}

// Conversation mirrors the bridge's conversation JSON shape.
type Conversation struct {
	ID                string `json:"id"`
	ProjectID         string `json:"project_id"`
	Title             string `json:"title"`
	Status            string `json:"status"`
	DefaultVisibility string `json:"default_visibility"`
	CreatedBy         string `json:"created_by"`
	CreatedAt         string `json:"created_at"`
}

// Message mirrors the bridge's message JSON shape. CreatedAt stays a
// string; ordering comparisons happen server-side.
type Message struct {
	ID             string            `json:"id"`
	ConversationID string            `json:"conversation_id"`
	FromAgent      string            `json:"from_agent"`
	Content        string            `json:"content"`
	Type           string            `json:"type"`
	Visibility     string            `json:"visibility"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      string            `json:"created_at"`
}

// StatusSubscription is one subscription entry in a get_status report.
type StatusSubscription struct {
	ConversationID string `json:"conversation_id"`
	Title          string `json:"title,omitempty"`
	ProjectID      string `json:"project_id,omitempty"`
	HistoryAccess  string `json:"history_access"`
	JoinedAt       string `json:"joined_at"`
	UnreadCount    int    `json:"unread_count"`
}

// Status is the caller's get_status report.
type Status struct {
	Agent         AgentInfo            `json:"agent"`
	Subscriptions []StatusSubscription `json:"subscriptions"`
	TotalUnread   int                  `json:"total_unread"`
}

// RegisterAgent registers or updates the identity behind the client's key.
func (c *Client) RegisterAgent(ctx context.Context, name, agentType string, capabilities []string) (*AgentInfo, error) {
	out, err := c.CallTool(ctx, "register_agent", map[string]any{
		"name":         name,
		"type":         agentType,
		"capabilities": capabilities,
	})
	if err != nil {
		return nil, err
	}
	var info AgentInfo
	if err := json.Unmarshal(out, &info); err != nil {
		return nil, fmt.Errorf("decoding register_agent result: %w", err)
	}
	return &info, nil
}

// ListConversations lists conversations, optionally filtered.
func (c *Client) ListConversations(ctx context.Context, projectID, status string) ([]Conversation, error) {
	args := map[string]any{}
	if projectID != "" {
		args["project_id"] = projectID
	}
	if status != "" {
		args["status"] = status
	}
	out, err := c.CallTool(ctx, "list_conversations", args)
	if err != nil {
		return nil, err
	}
	var result struct {
		Conversations []Conversation `json:"conversations"`
	}
	if err := json.Unmarshal(out, &result); err != nil {
		return nil, fmt.Errorf("decoding list_conversations result: %w", err)
	}
	return result.Conversations, nil
}

// Subscribe joins a conversation. historyAccess may be empty for full.
func (c *Client) Subscribe(ctx context.Context, conversationID, historyAccess string) error {
	args := map[string]any{"conversation_id": conversationID}
	if historyAccess != "" {
		args["history_access"] = historyAccess
	}
	_, err := c.CallTool(ctx, "subscribe", args)
	return err
}

// GetMessagesOptions filters a GetMessages call.
type GetMessagesOptions struct {
	Since      string
	UnreadOnly bool
	Limit      int
}

// GetMessages fetches messages visible to this agent, oldest first.
func (c *Client) GetMessages(ctx context.Context, conversationID string, opts GetMessagesOptions) ([]Message, error) {
	args := map[string]any{"conversation_id": conversationID}
	if opts.Since != "" {
		args["since"] = opts.Since
	}
	if opts.UnreadOnly {
		args["unread_only"] = true
	}
	if opts.Limit > 0 {
		args["limit"] = opts.Limit
	}
	out, err := c.CallTool(ctx, "get_messages", args)
	if err != nil {
		return nil, err
	}
	var result struct {
		Messages []Message `json:"messages"`
	}
	if err := json.Unmarshal(out, &result); err != nil {
		return nil, fmt.Errorf("decoding get_messages result: %w", err)
	}
	return result.Messages, nil
}

// SendMessage appends a message to a conversation.
func (c *Client) SendMessage(ctx context.Context, conversationID, content, messageType string) (*Message, error) {
	args := map[string]any{
		"conversation_id": conversationID,
		"content":         content,
	}
	if messageType != "" {
		args["type"] = messageType
	}
	out, err := c.CallTool(ctx, "send_message", args)
	if err != nil {
		return nil, err
	}
	var msg Message
	if err := json.Unmarshal(out, &msg); err != nil {
		return nil, fmt.Errorf("decoding send_message result: %w", err)
	}
	return &msg, nil
}

// MarkRead advances the read cursor, to a message or to the tail when
// messageID is empty. Returns the remaining unread count.
func (c *Client) MarkRead(ctx context.Context, conversationID, messageID string) (int, error) {
	args := map[string]any{"conversation_id": conversationID}
	if messageID != "" {
		args["up_to_message_id"] = messageID
	}
	out, err := c.CallTool(ctx, "mark_read", args)
	if err != nil {
		return 0, err
	}
	var result struct {
		UnreadCount int `json:"unread_count"`
	}
	if err := json.Unmarshal(out, &result); err != nil {
		return 0, fmt.Errorf("decoding mark_read result: %w", err)
	}
	return result.UnreadCount, nil
}

// GetStatus reports this agent's identity, subscriptions and unread counts.
func (c *Client) GetStatus(ctx context.Context) (*Status, error) {
	out, err := c.CallTool(ctx, "get_status", nil)
	if err != nil {
		return nil, err
	}
	var status Status
	if err := json.Unmarshal(out, &status); err != nil {
		return nil, fmt.Errorf("decoding get_status result: %w", err)
	}
	return &status, nil
}
