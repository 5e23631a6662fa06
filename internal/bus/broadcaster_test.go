// ABOUTME: Tests for the in-memory message broadcaster
// ABOUTME: Covers conversation and wildcard fan-out, slow subscribers and cleanup

package bus

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agorai/bridge/internal/store"
)

func testMessage(convID, content string) *store.Message {
	return &store.Message{
		ID:             content,
		ConversationID: convID,
		FromAgent:      "agent-1",
		Content:        content,
		Type:           store.MessageTypeMessage,
		Visibility:     store.ClearanceTeam,
		CreatedAt:      time.Now(),
	}
}

func TestSubscribeReceivesConversationMessages(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx := context.Background()
	ch, subID := b.Subscribe(ctx, "conv-1")
	defer b.Unsubscribe("conv-1", subID)

	b.PublishMessage(testMessage("conv-1", "hello"))

	select {
	case msg := <-ch:
		assert.Equal(t, "hello", msg.Content)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestSubscriberOnlySeesItsConversation(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch, subID := b.Subscribe(context.Background(), "conv-1")
	defer b.Unsubscribe("conv-1", subID)

	b.PublishMessage(testMessage("conv-2", "elsewhere"))

	select {
	case msg := <-ch:
		t.Fatalf("unexpected message: %s", msg.Content)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeAllSeesEveryConversation(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch, subID := b.SubscribeAll(context.Background())
	defer b.UnsubscribeAll(subID)

	b.PublishMessage(testMessage("conv-1", "one"))
	b.PublishMessage(testMessage("conv-2", "two"))

	var got []string
	for i := 0; i < 2; i++ {
		select {
		case msg := <-ch:
			got = append(got, msg.Content)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for messages")
		}
	}
	assert.ElementsMatch(t, []string{"one", "two"}, got)
}

func TestMultipleSubscribersAllReceive(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()
	ctx := context.Background()

	ch1, id1 := b.Subscribe(ctx, "conv-1")
	ch2, id2 := b.Subscribe(ctx, "conv-1")
	defer b.Unsubscribe("conv-1", id1)
	defer b.Unsubscribe("conv-1", id2)

	b.PublishMessage(testMessage("conv-1", "fanout"))

	for _, ch := range []<-chan *store.Message{ch1, ch2} {
		select {
		case msg := <-ch:
			assert.Equal(t, "fanout", msg.Content)
		case <-time.After(time.Second):
			t.Fatal("timed out")
		}
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch, subID := b.Subscribe(context.Background(), "conv-1")
	defer b.Unsubscribe("conv-1", subID)

	// Overfill the buffer without draining. Publish must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBufferSize*2; i++ {
			b.PublishMessage(testMessage("conv-1", fmt.Sprintf("m%d", i)))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	require.Len(t, ch, subscriberBufferSize)
}

func TestContextCancelCleansUpSubscription(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := b.Subscribe(ctx, "conv-1")

	cancel()

	// The channel closes once cleanup runs.
	select {
	case _, open := <-ch:
		assert.False(t, open, "channel should be closed after cancel")
	case <-time.After(time.Second):
		t.Fatal("subscription was not cleaned up")
	}
}

func TestUnsubscribeTwiceIsSafe(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	_, subID := b.Subscribe(context.Background(), "conv-1")
	b.Unsubscribe("conv-1", subID)
	b.Unsubscribe("conv-1", subID)
}

func TestCloseClosesAllChannels(t *testing.T) {
	b := NewBroadcaster(nil)

	ch1, _ := b.Subscribe(context.Background(), "conv-1")
	ch2, _ := b.SubscribeAll(context.Background())

	b.Close()

	_, open := <-ch1
	assert.False(t, open)
	_, open = <-ch2
	assert.False(t, open)
}
