// ABOUTME: Store-backed Bridge for agents hosted inside the bridge process
// ABOUTME: Skips HTTP entirely while keeping run-loop semantics identical

package agentloop

import (
	"context"
	"errors"
	"time"

	"github.com/agorai/bridge/internal/client"
	"github.com/agorai/bridge/internal/store"
)

// DirectBridge implements Bridge straight against the store. Local agents
// configured on the bridge itself use it instead of a loopback HTTP hop.
type DirectBridge struct {
	store   store.Store
	keyHash string
	level   store.Clearance
	agentID string
}

var _ Bridge = (*DirectBridge)(nil)

// NewDirectBridge builds a direct bridge for the agent behind keyHash.
func NewDirectBridge(s store.Store, keyHash string, level store.Clearance) (*DirectBridge, error) {
	if s == nil {
		return nil, errors.New("store is required")
	}
	if keyHash == "" {
		return nil, errors.New("key hash is required")
	}
	if !level.Valid() {
		level = store.ClearancePublic
	}
	return &DirectBridge{store: s, keyHash: keyHash, level: level}, nil
}

func (d *DirectBridge) RegisterAgent(ctx context.Context, name, agentType string, capabilities []string) (*client.AgentInfo, error) {
	agent, err := d.store.RegisterAgent(ctx, store.AgentSpec{
		Name:           name,
		Type:           agentType,
		Capabilities:   capabilities,
		ClearanceLevel: d.level,
		APIKeyHash:     d.keyHash,
	})
	if err != nil {
		return nil, err
	}
	d.agentID = agent.ID
	return &client.AgentInfo{
		ID:             agent.ID,
		Name:           agent.Name,
		Type:           agent.Type,
		Capabilities:   agent.Capabilities,
		ClearanceLevel: string(agent.ClearanceLevel),
		LastSeen:       agent.LastSeen.UTC().Format(time.RFC3339),
	}, nil
}

func (d *DirectBridge) ListConversations(ctx context.Context, projectID, status string) ([]client.Conversation, error) {
	convs, err := d.store.ListConversations(ctx, projectID, store.ConversationStatus(status))
	if err != nil {
		return nil, err
	}
	out := make([]client.Conversation, 0, len(convs))
	for _, c := range convs {
		out = append(out, client.Conversation{
			ID:                c.ID,
			ProjectID:         c.ProjectID,
			Title:             c.Title,
			Status:            string(c.Status),
			DefaultVisibility: string(c.DefaultVisibility),
			CreatedBy:         c.CreatedBy,
			CreatedAt:         c.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return out, nil
}

func (d *DirectBridge) Subscribe(ctx context.Context, conversationID, historyAccess string) error {
	access := store.HistoryAccess(historyAccess)
	if access == "" {
		access = store.HistoryFull
	}
	return d.store.Subscribe(ctx, conversationID, d.agentID, access)
}

func (d *DirectBridge) GetMessages(ctx context.Context, conversationID string, opts client.GetMessagesOptions) ([]client.Message, error) {
	storeOpts := store.GetMessagesOptions{
		UnreadOnly: opts.UnreadOnly,
		Limit:      opts.Limit,
	}
	if opts.Since != "" {
		since, err := time.Parse(time.RFC3339Nano, opts.Since)
		if err != nil {
			return nil, err
		}
		storeOpts.Since = &since
	}
	msgs, err := d.store.GetMessages(ctx, conversationID, d.agentID, storeOpts)
	if err != nil {
		return nil, err
	}
	out := make([]client.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, client.Message{
			ID:             m.ID,
			ConversationID: m.ConversationID,
			FromAgent:      m.FromAgent,
			Content:        m.Content,
			Type:           m.Type,
			Visibility:     string(m.Visibility),
			Metadata:       m.Metadata,
			CreatedAt:      m.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	return out, nil
}

func (d *DirectBridge) SendMessage(ctx context.Context, conversationID, content, messageType string) (*client.Message, error) {
	msg, err := d.store.SendMessage(ctx, store.SendMessageParams{
		ConversationID: conversationID,
		FromAgent:      d.agentID,
		Content:        content,
		Type:           messageType,
	})
	if err != nil {
		return nil, err
	}
	return &client.Message{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		FromAgent:      msg.FromAgent,
		Content:        msg.Content,
		Type:           msg.Type,
		Visibility:     string(msg.Visibility),
		Metadata:       msg.Metadata,
		CreatedAt:      msg.CreatedAt.UTC().Format(time.RFC3339Nano),
	}, nil
}

func (d *DirectBridge) MarkRead(ctx context.Context, conversationID, messageID string) (int, error) {
	if err := d.store.MarkRead(ctx, conversationID, d.agentID, messageID); err != nil {
		return 0, err
	}
	return d.store.UnreadCount(ctx, conversationID, d.agentID)
}

// Reset is a no-op: there is no session to expire.
func (d *DirectBridge) Reset() {}

// Close is a no-op: the store belongs to the bridge process.
func (d *DirectBridge) Close() {}
