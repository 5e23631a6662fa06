// ABOUTME: Tests for message ordering, visibility filtering and read cursors
// ABOUTME: Covers the monotonic mark-read and from_join history floor behavior

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixture creates a project with one conversation and two registered agents,
// both subscribed with full history.
type fixture struct {
	store *SQLiteStore
	conv  *Conversation
	alice *Agent
	bob   *Agent
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := newTestStore(t)
	ctx := context.Background()

	alice, err := s.RegisterAgent(ctx, AgentSpec{Name: "alice", ClearanceLevel: ClearanceTeam, APIKeyHash: "ha"})
	require.NoError(t, err)
	bob, err := s.RegisterAgent(ctx, AgentSpec{Name: "bob", ClearanceLevel: ClearanceTeam, APIKeyHash: "hb"})
	require.NoError(t, err)

	p := &Project{Name: "p", CreatedBy: alice.ID}
	require.NoError(t, s.CreateProject(ctx, p))
	conv := &Conversation{ProjectID: p.ID, Title: "c", DefaultVisibility: ClearanceTeam, CreatedBy: alice.ID}
	require.NoError(t, s.CreateConversation(ctx, conv))

	require.NoError(t, s.Subscribe(ctx, conv.ID, alice.ID, HistoryFull))
	require.NoError(t, s.Subscribe(ctx, conv.ID, bob.ID, HistoryFull))

	return &fixture{store: s, conv: conv, alice: alice, bob: bob}
}

func (f *fixture) send(t *testing.T, from, content string) *Message {
	t.Helper()
	msg, err := f.store.SendMessage(context.Background(), SendMessageParams{
		ConversationID: f.conv.ID,
		FromAgent:      from,
		Content:        content,
	})
	require.NoError(t, err)
	return msg
}

func TestSendMessageValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.SendMessage(ctx, SendMessageParams{
		ConversationID: f.conv.ID, FromAgent: f.alice.ID, Content: "",
	})
	assert.ErrorIs(t, err, ErrEmptyContent)

	big := make([]byte, MaxMessageContent+1)
	_, err = f.store.SendMessage(ctx, SendMessageParams{
		ConversationID: f.conv.ID, FromAgent: f.alice.ID, Content: string(big),
	})
	assert.ErrorIs(t, err, ErrContentTooLarge)

	_, err = f.store.SendMessage(ctx, SendMessageParams{
		ConversationID: "missing", FromAgent: f.alice.ID, Content: "hi",
	})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.store.SendMessage(ctx, SendMessageParams{
		ConversationID: f.conv.ID, FromAgent: "stranger", Content: "hi",
	})
	assert.ErrorIs(t, err, ErrNotSubscribed)

	_, err = f.store.SendMessage(ctx, SendMessageParams{
		ConversationID: f.conv.ID, FromAgent: f.alice.ID, Content: "hi", Type: "haiku",
	})
	assert.Error(t, err)
}

func TestSendMessageDefaultsAndMetadataStripping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	msg, err := f.store.SendMessage(ctx, SendMessageParams{
		ConversationID: f.conv.ID,
		FromAgent:      f.alice.ID,
		Content:        "hello",
		Metadata: map[string]string{
			"trace":         "t-1",
			"_bridge_route": "internal",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, MessageTypeMessage, msg.Type)
	assert.Equal(t, ClearanceTeam, msg.Visibility) // conversation default
	assert.Equal(t, map[string]string{"trace": "t-1"}, msg.Metadata)

	got, err := f.store.GetMessages(ctx, f.conv.ID, f.bob.ID, GetMessagesOptions{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.NotContains(t, got[0].Metadata, "_bridge_route")
}

func TestGetMessagesOrderedByCreatedAtThenID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var sent []string
	for _, content := range []string{"one", "two", "three", "four"} {
		sent = append(sent, f.send(t, f.alice.ID, content).ID)
	}

	got, err := f.store.GetMessages(ctx, f.conv.ID, f.bob.ID, GetMessagesOptions{})
	require.NoError(t, err)
	require.Len(t, got, 4)
	for i, m := range got {
		assert.Equal(t, sent[i], m.ID)
	}
	for i := 1; i < len(got); i++ {
		prev, cur := got[i-1], got[i]
		less := prev.CreatedAt.Before(cur.CreatedAt) ||
			(prev.CreatedAt.Equal(cur.CreatedAt) && prev.ID < cur.ID)
		assert.True(t, less, "messages must be in (created_at, id) order")
	}
}

func TestGetMessagesRequiresSubscription(t *testing.T) {
	f := newFixture(t)
	f.send(t, f.alice.ID, "hello")

	_, err := f.store.GetMessages(context.Background(), f.conv.ID, "stranger", GetMessagesOptions{})
	assert.ErrorIs(t, err, ErrNotSubscribed)
}

func TestVisibilityFiltering(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// carol has only public clearance.
	carol, err := f.store.RegisterAgent(ctx, AgentSpec{Name: "carol", ClearanceLevel: ClearancePublic, APIKeyHash: "hc"})
	require.NoError(t, err)
	require.NoError(t, f.store.Subscribe(ctx, f.conv.ID, carol.ID, HistoryFull))

	_, err = f.store.SendMessage(ctx, SendMessageParams{
		ConversationID: f.conv.ID, FromAgent: f.alice.ID, Content: "open", Visibility: ClearancePublic,
	})
	require.NoError(t, err)
	_, err = f.store.SendMessage(ctx, SendMessageParams{
		ConversationID: f.conv.ID, FromAgent: f.alice.ID, Content: "internal", Visibility: ClearanceTeam,
	})
	require.NoError(t, err)
	secret, err := f.store.SendMessage(ctx, SendMessageParams{
		ConversationID: f.conv.ID, FromAgent: carol.ID, Content: "my own note", Visibility: ClearancePublic,
	})
	require.NoError(t, err)

	seen, err := f.store.GetMessages(ctx, f.conv.ID, carol.ID, GetMessagesOptions{})
	require.NoError(t, err)
	require.Len(t, seen, 2)
	for _, m := range seen {
		visible := ClearancePublic.AtLeast(m.Visibility) || m.FromAgent == carol.ID
		assert.True(t, visible, "message %q should not be visible to carol", m.Content)
	}
	assert.Equal(t, "open", seen[0].Content)
	assert.Equal(t, secret.ID, seen[1].ID)

	// bob at team clearance sees all three.
	all, err := f.store.GetMessages(ctx, f.conv.ID, f.bob.ID, GetMessagesOptions{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestSenderAlwaysSeesOwnMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// carol at public clearance sends above her own read level.
	carol, err := f.store.RegisterAgent(ctx, AgentSpec{Name: "carol", ClearanceLevel: ClearancePublic, APIKeyHash: "hc"})
	require.NoError(t, err)
	require.NoError(t, f.store.Subscribe(ctx, f.conv.ID, carol.ID, HistoryFull))

	msg, err := f.store.SendMessage(ctx, SendMessageParams{
		ConversationID: f.conv.ID, FromAgent: carol.ID, Content: "for the team", Visibility: ClearanceTeam,
	})
	require.NoError(t, err)

	seen, err := f.store.GetMessages(ctx, f.conv.ID, carol.ID, GetMessagesOptions{})
	require.NoError(t, err)
	require.Len(t, seen, 1)
	assert.Equal(t, msg.ID, seen[0].ID)
}

func TestFromJoinHistoryFloor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	old := f.send(t, f.alice.ID, "before join")
	time.Sleep(2 * time.Millisecond)

	late, err := f.store.RegisterAgent(ctx, AgentSpec{Name: "late", ClearanceLevel: ClearanceTeam, APIKeyHash: "hl"})
	require.NoError(t, err)
	require.NoError(t, f.store.Subscribe(ctx, f.conv.ID, late.ID, HistoryFromJoin))

	time.Sleep(2 * time.Millisecond)
	fresh := f.send(t, f.alice.ID, "after join")

	// Default view starts at the join.
	seen, err := f.store.GetMessages(ctx, f.conv.ID, late.ID, GetMessagesOptions{})
	require.NoError(t, err)
	require.Len(t, seen, 1)
	assert.Equal(t, fresh.ID, seen[0].ID)

	// An explicit since is honored verbatim, even before the join.
	since := old.CreatedAt.Add(-time.Second)
	all, err := f.store.GetMessages(ctx, f.conv.ID, late.ID, GetMessagesOptions{Since: &since})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	// Full-history subscribers see everything by default.
	bobView, err := f.store.GetMessages(ctx, f.conv.ID, f.bob.ID, GetMessagesOptions{})
	require.NoError(t, err)
	assert.Len(t, bobView, 2)
}

func TestSinceIsStrictlyAfter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.send(t, f.alice.ID, "first")
	time.Sleep(2 * time.Millisecond)
	second := f.send(t, f.alice.ID, "second")

	got, err := f.store.GetMessages(ctx, f.conv.ID, f.bob.ID, GetMessagesOptions{Since: &first.CreatedAt})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, second.ID, got[0].ID)
}

func TestGetMessagesLimit(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 5; i++ {
		f.send(t, f.alice.ID, "msg")
	}

	got, err := f.store.GetMessages(context.Background(), f.conv.ID, f.bob.ID, GetMessagesOptions{Limit: 3})
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestUnreadExcludesOwnAndReadMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m1 := f.send(t, f.alice.ID, "from alice 1")
	f.send(t, f.bob.ID, "from bob")
	time.Sleep(2 * time.Millisecond)
	m3 := f.send(t, f.alice.ID, "from alice 2")

	unread, err := f.store.GetMessages(ctx, f.conv.ID, f.bob.ID, GetMessagesOptions{UnreadOnly: true})
	require.NoError(t, err)
	require.Len(t, unread, 2)
	assert.Equal(t, m1.ID, unread[0].ID)
	assert.Equal(t, m3.ID, unread[1].ID)

	require.NoError(t, f.store.MarkRead(ctx, f.conv.ID, f.bob.ID, m1.ID))

	unread, err = f.store.GetMessages(ctx, f.conv.ID, f.bob.ID, GetMessagesOptions{UnreadOnly: true})
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.Equal(t, m3.ID, unread[0].ID)

	count, err := f.store.UnreadCount(ctx, f.conv.ID, f.bob.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMarkReadTailAndIdempotence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.send(t, f.alice.ID, "one")
	f.send(t, f.alice.ID, "two")
	last := f.send(t, f.alice.ID, "three")

	// No message id: cursor jumps to the tail.
	require.NoError(t, f.store.MarkRead(ctx, f.conv.ID, f.bob.ID, ""))

	cursor, err := f.store.GetReadCursor(ctx, f.conv.ID, f.bob.ID)
	require.NoError(t, err)
	assert.Equal(t, last.ID, cursor.UpToMessageID)

	count, err := f.store.UnreadCount(ctx, f.conv.ID, f.bob.ID)
	require.NoError(t, err)
	assert.Zero(t, count)

	// Marking again changes nothing.
	require.NoError(t, f.store.MarkRead(ctx, f.conv.ID, f.bob.ID, ""))
	again, err := f.store.GetReadCursor(ctx, f.conv.ID, f.bob.ID)
	require.NoError(t, err)
	assert.Equal(t, cursor.UpToMessageID, again.UpToMessageID)
}

func TestMarkReadNeverRewinds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	early := f.send(t, f.alice.ID, "early")
	time.Sleep(2 * time.Millisecond)
	late := f.send(t, f.alice.ID, "late")

	require.NoError(t, f.store.MarkRead(ctx, f.conv.ID, f.bob.ID, late.ID))
	require.NoError(t, f.store.MarkRead(ctx, f.conv.ID, f.bob.ID, early.ID))

	cursor, err := f.store.GetReadCursor(ctx, f.conv.ID, f.bob.ID)
	require.NoError(t, err)
	assert.Equal(t, late.ID, cursor.UpToMessageID, "cursor must not move backwards")
}

func TestMarkReadEdgeCases(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Empty conversation: no-op, no cursor row.
	require.NoError(t, f.store.MarkRead(ctx, f.conv.ID, f.bob.ID, ""))
	_, err := f.store.GetReadCursor(ctx, f.conv.ID, f.bob.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	// Unknown conversation.
	assert.ErrorIs(t, f.store.MarkRead(ctx, "missing", f.bob.ID, ""), ErrNotFound)

	// Unknown message in a real conversation.
	f.send(t, f.alice.ID, "hello")
	assert.ErrorIs(t, f.store.MarkRead(ctx, f.conv.ID, f.bob.ID, "no-such-message"), ErrNotFound)
}

func TestUnreadCountForUnsubscribedIsZero(t *testing.T) {
	f := newFixture(t)
	f.send(t, f.alice.ID, "hello")

	count, err := f.store.UnreadCount(context.Background(), f.conv.ID, "stranger")
	require.NoError(t, err)
	assert.Zero(t, count)
}

// capturePublisher records published messages for assertions.
type capturePublisher struct {
	messages []*Message
}

func (c *capturePublisher) PublishMessage(msg *Message) {
	c.messages = append(c.messages, msg)
}

func TestSendMessagePublishesAfterWrite(t *testing.T) {
	pub := &capturePublisher{}
	s, err := NewSQLiteStore(t.TempDir()+"/bridge.db", pub)
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	alice, err := s.RegisterAgent(ctx, AgentSpec{Name: "alice", APIKeyHash: "ha"})
	require.NoError(t, err)
	p := &Project{Name: "p", CreatedBy: alice.ID}
	require.NoError(t, s.CreateProject(ctx, p))
	conv := &Conversation{ProjectID: p.ID, Title: "c", CreatedBy: alice.ID}
	require.NoError(t, s.CreateConversation(ctx, conv))
	require.NoError(t, s.Subscribe(ctx, conv.ID, alice.ID, HistoryFull))

	msg, err := s.SendMessage(ctx, SendMessageParams{
		ConversationID: conv.ID, FromAgent: alice.ID, Content: "hello",
	})
	require.NoError(t, err)

	require.Len(t, pub.messages, 1)
	assert.Equal(t, msg.ID, pub.messages[0].ID)

	// A rejected send publishes nothing.
	_, err = s.SendMessage(ctx, SendMessageParams{
		ConversationID: conv.ID, FromAgent: "stranger", Content: "hi",
	})
	require.Error(t, err)
	assert.Len(t, pub.messages, 1)
}
