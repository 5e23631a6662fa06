// ABOUTME: Tests for the tool registry and handlers against a real SQLite store
// ABOUTME: Drives tools the way the session layer does, as JSON in and JSON out

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agorai/bridge/internal/auth"
	"github.com/agorai/bridge/internal/store"
)

type testEnv struct {
	registry *Registry
	store    store.Store
	alice    *auth.Identity
	bob      *auth.Identity
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "bridge.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	aliceAgent, err := s.RegisterAgent(ctx, store.AgentSpec{
		Name: "alice", ClearanceLevel: store.ClearanceTeam, APIKeyHash: "hash-alice",
	})
	require.NoError(t, err)
	bobAgent, err := s.RegisterAgent(ctx, store.AgentSpec{
		Name: "bob", ClearanceLevel: store.ClearancePublic, APIKeyHash: "hash-bob",
	})
	require.NoError(t, err)

	return &testEnv{
		registry: NewRegistry(s, nil),
		store:    s,
		alice:    &auth.Identity{AgentID: aliceAgent.ID, Name: "alice", Clearance: store.ClearanceTeam},
		bob:      &auth.Identity{AgentID: bobAgent.ID, Name: "bob", Clearance: store.ClearancePublic},
	}
}

func (e *testEnv) call(t *testing.T, caller *auth.Identity, tool string, args any) json.RawMessage {
	t.Helper()
	out, err := e.callErr(caller, tool, args)
	require.NoError(t, err, "tool %s", tool)
	return out
}

func (e *testEnv) callErr(caller *auth.Identity, tool string, args any) (json.RawMessage, error) {
	input, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	return e.registry.Call(context.Background(), caller, tool, input)
}

// createConversation makes a project and conversation owned by alice and
// returns the conversation id. Alice ends up subscribed.
func (e *testEnv) createConversation(t *testing.T) string {
	t.Helper()
	var project struct {
		ID string `json:"id"`
	}
	out := e.call(t, e.alice, "create_project", map[string]any{"name": "apollo"})
	require.NoError(t, json.Unmarshal(out, &project))

	var conv struct {
		ID string `json:"id"`
	}
	out = e.call(t, e.alice, "create_conversation", map[string]any{
		"project_id": project.ID, "title": "planning",
	})
	require.NoError(t, json.Unmarshal(out, &conv))
	return conv.ID
}

func TestAllToolsRegistered(t *testing.T) {
	e := newTestEnv(t)

	want := []string{
		"register_agent", "list_bridge_agents",
		"create_project", "list_projects",
		"set_memory", "get_memory", "delete_memory",
		"create_conversation", "list_conversations",
		"subscribe", "unsubscribe", "list_subscribers",
		"send_message", "get_messages", "get_status", "mark_read",
	}

	defs := e.registry.Definitions()
	require.Len(t, defs, len(want))

	names := make(map[string]bool, len(defs))
	for _, d := range defs {
		names[d.Name] = true
		assert.NotEmpty(t, d.Description, "%s needs a description", d.Name)
		assert.True(t, json.Valid(d.InputSchema), "%s schema must be valid JSON", d.Name)
	}
	for _, n := range want {
		assert.True(t, names[n], "missing tool %s", n)
	}
}

func TestUnknownTool(t *testing.T) {
	e := newTestEnv(t)
	_, err := e.callErr(e.alice, "summon_demon", map[string]any{})
	assert.ErrorIs(t, err, ErrToolNotFound)
}

func TestRegisterAgentKeepsClearanceAndKey(t *testing.T) {
	e := newTestEnv(t)

	out := e.call(t, e.bob, "register_agent", map[string]any{
		"name":         "bob-renamed",
		"type":         "model",
		"capabilities": []string{"chat"},
	})
	var info struct {
		ID             string `json:"id"`
		Name           string `json:"name"`
		ClearanceLevel string `json:"clearance_level"`
	}
	require.NoError(t, json.Unmarshal(out, &info))
	assert.Equal(t, e.bob.AgentID, info.ID)
	assert.Equal(t, "bob-renamed", info.Name)
	assert.Equal(t, "public", info.ClearanceLevel, "clearance never comes from tool input")

	agent, err := e.store.GetAgent(context.Background(), e.bob.AgentID)
	require.NoError(t, err)
	assert.Equal(t, "hash-bob", agent.APIKeyHash)
}

func TestRegisterAgentValidation(t *testing.T) {
	e := newTestEnv(t)

	_, err := e.callErr(e.alice, "register_agent", map[string]any{"name": ""})
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "name", vErr.Field)
}

func TestListBridgeAgentsByProject(t *testing.T) {
	e := newTestEnv(t)
	convID := e.createConversation(t)

	conv, err := e.store.GetConversation(context.Background(), convID)
	require.NoError(t, err)

	out := e.call(t, e.bob, "list_bridge_agents", map[string]any{"project_id": conv.ProjectID})
	var result struct {
		Agents []struct {
			ID string `json:"id"`
		} `json:"agents"`
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(out, &result))
	require.Equal(t, 1, result.Count)
	assert.Equal(t, e.alice.AgentID, result.Agents[0].ID)

	_, err = e.callErr(e.bob, "list_bridge_agents", map[string]any{"project_id": "missing"})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestProjectTools(t *testing.T) {
	e := newTestEnv(t)

	out := e.call(t, e.alice, "create_project", map[string]any{
		"name":                 "apollo",
		"description":          "lunar work",
		"visibility":           "confidential",
		"confidentiality_mode": "strict",
	})
	var p struct {
		ID         string `json:"id"`
		Visibility string `json:"visibility"`
		CreatedBy  string `json:"created_by"`
	}
	require.NoError(t, json.Unmarshal(out, &p))
	assert.Equal(t, "confidential", p.Visibility)
	assert.Equal(t, e.alice.AgentID, p.CreatedBy)

	_, err := e.callErr(e.alice, "create_project", map[string]any{"name": "x", "visibility": "sky-high"})
	var vErr *ValidationError
	assert.ErrorAs(t, err, &vErr)

	out = e.call(t, e.bob, "list_projects", map[string]any{})
	var list struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(out, &list))
	assert.Equal(t, 1, list.Count)
}

func TestConversationAndSubscriptionTools(t *testing.T) {
	e := newTestEnv(t)
	convID := e.createConversation(t)
	ctx := context.Background()

	// Creator is auto-subscribed.
	subscribed, err := e.store.IsSubscribed(ctx, convID, e.alice.AgentID)
	require.NoError(t, err)
	assert.True(t, subscribed)

	e.call(t, e.bob, "subscribe", map[string]any{
		"conversation_id": convID, "history_access": "from_join",
	})

	out := e.call(t, e.alice, "list_subscribers", map[string]any{"conversation_id": convID})
	var subs struct {
		Subscribers []struct {
			AgentID       string `json:"agent_id"`
			Name          string `json:"name"`
			HistoryAccess string `json:"history_access"`
		} `json:"subscribers"`
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(out, &subs))
	assert.Equal(t, 2, subs.Count)

	e.call(t, e.bob, "unsubscribe", map[string]any{"conversation_id": convID})
	subscribed, err = e.store.IsSubscribed(ctx, convID, e.bob.AgentID)
	require.NoError(t, err)
	assert.False(t, subscribed)

	_, err = e.callErr(e.bob, "subscribe", map[string]any{"conversation_id": "missing"})
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = e.callErr(e.bob, "subscribe", map[string]any{
		"conversation_id": convID, "history_access": "everything",
	})
	var vErr *ValidationError
	assert.ErrorAs(t, err, &vErr)
}

func TestMessageToolsRoundTrip(t *testing.T) {
	e := newTestEnv(t)
	convID := e.createConversation(t)
	e.call(t, e.bob, "subscribe", map[string]any{"conversation_id": convID})

	out := e.call(t, e.alice, "send_message", map[string]any{
		"conversation_id": convID,
		"content":         "hello @bob",
		"type":            "question",
		"visibility":      "public",
		"metadata":        map[string]string{"trace": "t1", "_bridge_secret": "x"},
	})
	var sent struct {
		ID       string            `json:"id"`
		Metadata map[string]string `json:"metadata"`
	}
	require.NoError(t, json.Unmarshal(out, &sent))
	assert.NotContains(t, sent.Metadata, "_bridge_secret")

	out = e.call(t, e.bob, "get_messages", map[string]any{
		"conversation_id": convID, "unread_only": true,
	})
	var msgs struct {
		Messages []struct {
			ID      string `json:"id"`
			Content string `json:"content"`
		} `json:"messages"`
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(out, &msgs))
	require.Equal(t, 1, msgs.Count)
	assert.Equal(t, sent.ID, msgs.Messages[0].ID)

	out = e.call(t, e.bob, "mark_read", map[string]any{
		"conversation_id": convID, "up_to_message_id": sent.ID,
	})
	var marked struct {
		UnreadCount int `json:"unread_count"`
	}
	require.NoError(t, json.Unmarshal(out, &marked))
	assert.Zero(t, marked.UnreadCount)
}

func TestSendMessageAboveOwnClearance(t *testing.T) {
	e := newTestEnv(t)
	convID := e.createConversation(t)
	e.call(t, e.bob, "subscribe", map[string]any{"conversation_id": convID})

	// Writes are never clearance-gated: bob holds public clearance but may
	// label a message restricted. Filtering happens on the read side.
	out := e.call(t, e.bob, "send_message", map[string]any{
		"conversation_id": convID, "content": "for cleared eyes", "visibility": "restricted",
	})
	var sent struct {
		ID         string `json:"id"`
		Visibility string `json:"visibility"`
	}
	require.NoError(t, json.Unmarshal(out, &sent))
	assert.Equal(t, "restricted", sent.Visibility)

	// The sender always sees its own message.
	out = e.call(t, e.bob, "get_messages", map[string]any{"conversation_id": convID})
	var bobView struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(out, &bobView))
	assert.Equal(t, 1, bobView.Count)

	// Alice holds team clearance and cannot read a restricted message.
	out = e.call(t, e.alice, "get_messages", map[string]any{"conversation_id": convID})
	var aliceView struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(out, &aliceView))
	assert.Zero(t, aliceView.Count)
}

func TestSendMessageRequiresSubscription(t *testing.T) {
	e := newTestEnv(t)
	convID := e.createConversation(t)

	_, err := e.callErr(e.bob, "send_message", map[string]any{
		"conversation_id": convID, "content": "hi",
	})
	assert.ErrorIs(t, err, store.ErrNotSubscribed)
}

func TestGetStatus(t *testing.T) {
	e := newTestEnv(t)
	convID := e.createConversation(t)
	e.call(t, e.bob, "subscribe", map[string]any{"conversation_id": convID})
	e.call(t, e.alice, "send_message", map[string]any{
		"conversation_id": convID, "content": "ping",
	})

	out := e.call(t, e.bob, "get_status", map[string]any{})
	var status struct {
		Agent struct {
			ID string `json:"id"`
		} `json:"agent"`
		Subscriptions []struct {
			ConversationID string `json:"conversation_id"`
			UnreadCount    int    `json:"unread_count"`
		} `json:"subscriptions"`
		TotalUnread int `json:"total_unread"`
	}
	require.NoError(t, json.Unmarshal(out, &status))
	assert.Equal(t, e.bob.AgentID, status.Agent.ID)
	require.Len(t, status.Subscriptions, 1)
	assert.Equal(t, convID, status.Subscriptions[0].ConversationID)
	assert.Equal(t, 1, status.Subscriptions[0].UnreadCount)
	assert.Equal(t, 1, status.TotalUnread)
}

func TestMemoryTools(t *testing.T) {
	e := newTestEnv(t)

	var project struct {
		ID string `json:"id"`
	}
	out := e.call(t, e.alice, "create_project", map[string]any{"name": "apollo"})
	require.NoError(t, json.Unmarshal(out, &project))

	out = e.call(t, e.alice, "set_memory", map[string]any{
		"project_id": project.ID,
		"content":    "decision: sqlite",
		"type":       "decision",
		"tags":       []string{"db"},
	})
	var entry struct {
		ID        string `json:"id"`
		CreatedBy string `json:"created_by"`
	}
	require.NoError(t, json.Unmarshal(out, &entry))
	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, e.alice.AgentID, entry.CreatedBy)

	out = e.call(t, e.bob, "get_memory", map[string]any{
		"project_id": project.ID, "id": entry.ID,
	})
	var fetched struct {
		Content string `json:"content"`
	}
	require.NoError(t, json.Unmarshal(out, &fetched))
	assert.Equal(t, "decision: sqlite", fetched.Content)

	out = e.call(t, e.bob, "get_memory", map[string]any{
		"project_id": project.ID, "tag": "db",
	})
	var listed struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(out, &listed))
	assert.Equal(t, 1, listed.Count)

	e.call(t, e.alice, "delete_memory", map[string]any{
		"project_id": project.ID, "id": entry.ID,
	})
	_, err := e.callErr(e.bob, "get_memory", map[string]any{
		"project_id": project.ID, "id": entry.ID,
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestInputSizeCaps(t *testing.T) {
	e := newTestEnv(t)

	longName := make([]byte, 0, MaxNameLen+1)
	for i := 0; i <= MaxNameLen; i++ {
		longName = append(longName, 'x')
	}

	var vErr *ValidationError
	_, err := e.callErr(e.alice, "create_project", map[string]any{"name": string(longName)})
	assert.ErrorAs(t, err, &vErr)

	tags := make([]string, MaxTags+1)
	for i := range tags {
		tags[i] = fmt.Sprintf("t%d", i)
	}
	_, err = e.callErr(e.alice, "set_memory", map[string]any{
		"project_id": "p", "content": "x", "tags": tags,
	})
	assert.ErrorAs(t, err, &vErr)
}
