// ABOUTME: Message tools: send_message, get_messages, get_status and mark_read
// ABOUTME: All reads are subscription-gated and filtered by the caller's clearance

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/agorai/bridge/internal/auth"
	"github.com/agorai/bridge/internal/store"
)

func (r *Registry) registerMessageTools() {
	r.register(Definition{
		Name:        "send_message",
		Description: "Append a message to a conversation the caller is subscribed to",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"conversation_id":{"type":"string"},"content":{"type":"string"},"type":{"type":"string","enum":["message","spec","result","review","status","question"]},"visibility":{"type":"string","enum":["public","team","confidential","restricted"]},"metadata":{"type":"object","additionalProperties":{"type":"string"}}},"required":["conversation_id","content"]}`),
	}, r.SendMessage)

	r.register(Definition{
		Name:        "get_messages",
		Description: "Fetch messages visible to the caller, oldest first",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"conversation_id":{"type":"string"},"since":{"type":"string","format":"date-time"},"unread_only":{"type":"boolean"},"limit":{"type":"integer"}},"required":["conversation_id"]}`),
	}, r.GetMessages)

	r.register(Definition{
		Name:        "get_status",
		Description: "Report the caller's identity, subscriptions and unread counts",
		InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
	}, r.GetStatus)

	r.register(Definition{
		Name:        "mark_read",
		Description: "Advance the caller's read cursor, to a given message or to the conversation tail",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"conversation_id":{"type":"string"},"up_to_message_id":{"type":"string"}},"required":["conversation_id"]}`),
	}, r.MarkRead)
}

type sendMessageInput struct {
	ConversationID string            `json:"conversation_id"`
	Content        string            `json:"content"`
	Type           string            `json:"type"`
	Visibility     string            `json:"visibility"`
	Metadata       map[string]string `json:"metadata"`
}

type messageInfo struct {
	ID             string            `json:"id"`
	ConversationID string            `json:"conversation_id"`
	FromAgent      string            `json:"from_agent"`
	Content        string            `json:"content"`
	Type           string            `json:"type"`
	Visibility     string            `json:"visibility"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      string            `json:"created_at"`
}

func toMessageInfo(m *store.Message) messageInfo {
	return messageInfo{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		FromAgent:      m.FromAgent,
		Content:        m.Content,
		Type:           m.Type,
		Visibility:     string(m.Visibility),
		Metadata:       m.Metadata,
		CreatedAt:      m.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// SendMessage appends a message. The store strips reserved metadata keys and
// publishes the persisted message to the event bus.
func (r *Registry) SendMessage(ctx context.Context, caller *auth.Identity, input json.RawMessage) (json.RawMessage, error) {
	var in sendMessageInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, invalid("input", "malformed JSON: %v", err)
	}
	if err := requireID("conversation_id", in.ConversationID); err != nil {
		return nil, err
	}
	if in.Content == "" {
		return nil, invalid("content", "required")
	}
	if len(in.Content) > store.MaxMessageContent {
		return nil, invalid("content", "exceeds %d bytes", store.MaxMessageContent)
	}
	if in.Type != "" && !store.ValidMessageType(in.Type) {
		return nil, invalid("type", "unknown type %q", in.Type)
	}
	// Clearance gates reads, not writes: a sender may label a message
	// above its own level and the read path filters accordingly.
	visibility := store.Clearance(in.Visibility)
	if in.Visibility != "" && !visibility.Valid() {
		return nil, invalid("visibility", "unknown level %q", in.Visibility)
	}

	msg, err := r.store.SendMessage(ctx, store.SendMessageParams{
		ConversationID: in.ConversationID,
		FromAgent:      caller.AgentID,
		Content:        in.Content,
		Type:           in.Type,
		Visibility:     visibility,
		Metadata:       in.Metadata,
	})
	if err != nil {
		return nil, err
	}
	return json.Marshal(toMessageInfo(msg))
}

type getMessagesInput struct {
	ConversationID string `json:"conversation_id"`
	Since          string `json:"since"`
	UnreadOnly     bool   `json:"unread_only"`
	Limit          int    `json:"limit"`
}

// GetMessages fetches the messages visible to the caller, oldest first.
func (r *Registry) GetMessages(ctx context.Context, caller *auth.Identity, input json.RawMessage) (json.RawMessage, error) {
	var in getMessagesInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, invalid("input", "malformed JSON: %v", err)
	}
	if err := requireID("conversation_id", in.ConversationID); err != nil {
		return nil, err
	}
	if in.Limit < 0 {
		return nil, invalid("limit", "must be non-negative")
	}

	opts := store.GetMessagesOptions{
		UnreadOnly: in.UnreadOnly,
		Limit:      in.Limit,
	}
	if in.Since != "" {
		since, err := time.Parse(time.RFC3339Nano, in.Since)
		if err != nil {
			return nil, invalid("since", "not an RFC 3339 timestamp: %v", err)
		}
		opts.Since = &since
	}

	msgs, err := r.store.GetMessages(ctx, in.ConversationID, caller.AgentID, opts)
	if err != nil {
		return nil, err
	}

	infos := make([]messageInfo, 0, len(msgs))
	for _, m := range msgs {
		infos = append(infos, toMessageInfo(m))
	}
	return json.Marshal(map[string]any{"messages": infos, "count": len(infos)})
}

type statusSubscription struct {
	ConversationID string `json:"conversation_id"`
	Title          string `json:"title,omitempty"`
	ProjectID      string `json:"project_id,omitempty"`
	HistoryAccess  string `json:"history_access"`
	JoinedAt       string `json:"joined_at"`
	UnreadCount    int    `json:"unread_count"`
}

// GetStatus reports the caller's identity plus every subscription with its
// unread count. A missing conversation row drops the subscription from the
// report rather than failing the whole call.
func (r *Registry) GetStatus(ctx context.Context, caller *auth.Identity, input json.RawMessage) (json.RawMessage, error) {
	agent, err := r.store.GetAgent(ctx, caller.AgentID)
	if err != nil {
		return nil, err
	}

	subs, err := r.store.ListSubscriptionsForAgent(ctx, caller.AgentID)
	if err != nil {
		return nil, err
	}

	out := make([]statusSubscription, 0, len(subs))
	totalUnread := 0
	for _, s := range subs {
		entry := statusSubscription{
			ConversationID: s.ConversationID,
			HistoryAccess:  string(s.HistoryAccess),
			JoinedAt:       s.JoinedAt.UTC().Format(time.RFC3339),
		}
		conv, err := r.store.GetConversation(ctx, s.ConversationID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, err
		}
		entry.Title = conv.Title
		entry.ProjectID = conv.ProjectID

		unread, err := r.store.UnreadCount(ctx, s.ConversationID, caller.AgentID)
		if err != nil {
			return nil, err
		}
		entry.UnreadCount = unread
		totalUnread += unread
		out = append(out, entry)
	}

	return json.Marshal(map[string]any{
		"agent":         toAgentInfo(agent),
		"subscriptions": out,
		"total_unread":  totalUnread,
	})
}

type markReadInput struct {
	ConversationID string `json:"conversation_id"`
	UpToMessageID  string `json:"up_to_message_id"`
}

// MarkRead advances the caller's read cursor. Without up_to_message_id the
// cursor moves to the conversation tail. The cursor never moves backwards.
func (r *Registry) MarkRead(ctx context.Context, caller *auth.Identity, input json.RawMessage) (json.RawMessage, error) {
	var in markReadInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, invalid("input", "malformed JSON: %v", err)
	}
	if err := requireID("conversation_id", in.ConversationID); err != nil {
		return nil, err
	}
	if in.UpToMessageID != "" {
		if err := limitLen("up_to_message_id", in.UpToMessageID, MaxIDLen); err != nil {
			return nil, err
		}
	}

	if err := r.store.MarkRead(ctx, in.ConversationID, caller.AgentID, in.UpToMessageID); err != nil {
		return nil, err
	}

	unread, err := r.store.UnreadCount(ctx, in.ConversationID, caller.AgentID)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{
		"status":          "ok",
		"conversation_id": in.ConversationID,
		"unread_count":    unread,
	})
}
