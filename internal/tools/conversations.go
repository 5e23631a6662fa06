// ABOUTME: Conversation tools: create_conversation, list_conversations, subscribe,
// ABOUTME: unsubscribe and list_subscribers

package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/agorai/bridge/internal/auth"
	"github.com/agorai/bridge/internal/store"
)

func (r *Registry) registerConversationTools() {
	r.register(Definition{
		Name:        "create_conversation",
		Description: "Create a conversation within a project; the creator is auto-subscribed",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"project_id":{"type":"string"},"title":{"type":"string"},"default_visibility":{"type":"string","enum":["public","team","confidential","restricted"]}},"required":["project_id","title"]}`),
	}, r.CreateConversation)

	r.register(Definition{
		Name:        "list_conversations",
		Description: "List conversations, optionally filtered by project and status",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"project_id":{"type":"string"},"status":{"type":"string","enum":["active","closed","archived"]}}}`),
	}, r.ListConversations)

	r.register(Definition{
		Name:        "subscribe",
		Description: "Subscribe the calling agent to a conversation",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"conversation_id":{"type":"string"},"history_access":{"type":"string","enum":["full","from_join"]}},"required":["conversation_id"]}`),
	}, r.Subscribe)

	r.register(Definition{
		Name:        "unsubscribe",
		Description: "Unsubscribe the calling agent from a conversation",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"conversation_id":{"type":"string"}},"required":["conversation_id"]}`),
	}, r.Unsubscribe)

	r.register(Definition{
		Name:        "list_subscribers",
		Description: "List the subscribers of a conversation",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"conversation_id":{"type":"string"}},"required":["conversation_id"]}`),
	}, r.ListSubscribers)
}

type createConversationInput struct {
	ProjectID         string `json:"project_id"`
	Title             string `json:"title"`
	DefaultVisibility string `json:"default_visibility"`
}

type conversationInfo struct {
	ID                string `json:"id"`
	ProjectID         string `json:"project_id"`
	Title             string `json:"title"`
	Status            string `json:"status"`
	DefaultVisibility string `json:"default_visibility"`
	CreatedBy         string `json:"created_by"`
	CreatedAt         string `json:"created_at"`
}

func toConversationInfo(c *store.Conversation) conversationInfo {
	return conversationInfo{
		ID:                c.ID,
		ProjectID:         c.ProjectID,
		Title:             c.Title,
		Status:            string(c.Status),
		DefaultVisibility: string(c.DefaultVisibility),
		CreatedBy:         c.CreatedBy,
		CreatedAt:         c.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// CreateConversation creates a conversation and subscribes the creator with
// full history access.
func (r *Registry) CreateConversation(ctx context.Context, caller *auth.Identity, input json.RawMessage) (json.RawMessage, error) {
	var in createConversationInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, invalid("input", "malformed JSON: %v", err)
	}
	if err := requireID("project_id", in.ProjectID); err != nil {
		return nil, err
	}
	if in.Title == "" {
		return nil, invalid("title", "required")
	}
	if err := limitLen("title", in.Title, MaxNameLen); err != nil {
		return nil, err
	}
	visibility := store.Clearance(in.DefaultVisibility)
	if in.DefaultVisibility != "" && !visibility.Valid() {
		return nil, invalid("default_visibility", "unknown level %q", in.DefaultVisibility)
	}

	conv := &store.Conversation{
		ProjectID:         in.ProjectID,
		Title:             in.Title,
		DefaultVisibility: visibility,
		CreatedBy:         caller.AgentID,
	}
	if err := r.store.CreateConversation(ctx, conv); err != nil {
		return nil, err
	}
	if err := r.store.Subscribe(ctx, conv.ID, caller.AgentID, store.HistoryFull); err != nil {
		return nil, err
	}

	return json.Marshal(toConversationInfo(conv))
}

type listConversationsInput struct {
	ProjectID string `json:"project_id"`
	Status    string `json:"status"`
}

// ListConversations lists conversations matching the optional filters.
func (r *Registry) ListConversations(ctx context.Context, caller *auth.Identity, input json.RawMessage) (json.RawMessage, error) {
	var in listConversationsInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, invalid("input", "malformed JSON: %v", err)
	}
	if in.ProjectID != "" {
		if err := limitLen("project_id", in.ProjectID, MaxIDLen); err != nil {
			return nil, err
		}
	}
	status := store.ConversationStatus(in.Status)
	switch status {
	case "", store.ConversationActive, store.ConversationClosed, store.ConversationArchived:
	default:
		return nil, invalid("status", "unknown status %q", in.Status)
	}

	convs, err := r.store.ListConversations(ctx, in.ProjectID, status)
	if err != nil {
		return nil, err
	}

	infos := make([]conversationInfo, 0, len(convs))
	for _, c := range convs {
		infos = append(infos, toConversationInfo(c))
	}
	return json.Marshal(map[string]any{"conversations": infos, "count": len(infos)})
}

type subscribeInput struct {
	ConversationID string `json:"conversation_id"`
	HistoryAccess  string `json:"history_access"`
}

// Subscribe joins the caller to a conversation. Re-subscribing is a no-op
// and keeps the original join time.
func (r *Registry) Subscribe(ctx context.Context, caller *auth.Identity, input json.RawMessage) (json.RawMessage, error) {
	var in subscribeInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, invalid("input", "malformed JSON: %v", err)
	}
	if err := requireID("conversation_id", in.ConversationID); err != nil {
		return nil, err
	}
	access := store.HistoryAccess(in.HistoryAccess)
	switch access {
	case "":
		access = store.HistoryFull
	case store.HistoryFull, store.HistoryFromJoin:
	default:
		return nil, invalid("history_access", "unknown mode %q", in.HistoryAccess)
	}

	if _, err := r.store.GetConversation(ctx, in.ConversationID); err != nil {
		return nil, err
	}
	if err := r.store.Subscribe(ctx, in.ConversationID, caller.AgentID, access); err != nil {
		return nil, err
	}

	return json.Marshal(map[string]string{
		"status":          "subscribed",
		"conversation_id": in.ConversationID,
	})
}

type unsubscribeInput struct {
	ConversationID string `json:"conversation_id"`
}

// Unsubscribe removes the caller's subscription. The read cursor is kept so
// a later re-subscribe does not resurface already-read messages as unread.
func (r *Registry) Unsubscribe(ctx context.Context, caller *auth.Identity, input json.RawMessage) (json.RawMessage, error) {
	var in unsubscribeInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, invalid("input", "malformed JSON: %v", err)
	}
	if err := requireID("conversation_id", in.ConversationID); err != nil {
		return nil, err
	}

	if err := r.store.Unsubscribe(ctx, in.ConversationID, caller.AgentID); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]string{
		"status":          "unsubscribed",
		"conversation_id": in.ConversationID,
	})
}

type subscriberInfo struct {
	AgentID       string `json:"agent_id"`
	Name          string `json:"name,omitempty"`
	HistoryAccess string `json:"history_access"`
	JoinedAt      string `json:"joined_at"`
}

// ListSubscribers lists the subscribers of a conversation with agent names
// resolved where the agent row still exists.
func (r *Registry) ListSubscribers(ctx context.Context, caller *auth.Identity, input json.RawMessage) (json.RawMessage, error) {
	var in unsubscribeInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, invalid("input", "malformed JSON: %v", err)
	}
	if err := requireID("conversation_id", in.ConversationID); err != nil {
		return nil, err
	}

	if _, err := r.store.GetConversation(ctx, in.ConversationID); err != nil {
		return nil, err
	}
	subs, err := r.store.ListSubscribers(ctx, in.ConversationID)
	if err != nil {
		return nil, err
	}

	infos := make([]subscriberInfo, 0, len(subs))
	for _, s := range subs {
		info := subscriberInfo{
			AgentID:       s.AgentID,
			HistoryAccess: string(s.HistoryAccess),
			JoinedAt:      s.JoinedAt.UTC().Format(time.RFC3339),
		}
		if agent, err := r.store.GetAgent(ctx, s.AgentID); err == nil {
			info.Name = agent.Name
		}
		infos = append(infos, info)
	}
	return json.Marshal(map[string]any{"subscribers": infos, "count": len(infos)})
}
