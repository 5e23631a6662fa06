// ABOUTME: In-memory fan-out broadcaster for message:created events
// ABOUTME: Publishes durably-written messages to per-conversation and wildcard subscribers

package bus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/agorai/bridge/internal/store"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64

	// allConversations is the internal key for wildcard subscriptions.
	allConversations = "*"
)

// Broadcaster provides in-memory pub/sub for persisted messages. Subscribers
// register for a conversation id (or all conversations) and receive each
// message after its write is durable. The broadcaster holds no state beyond
// current listeners; on restart, subscribers re-attach by reopening their
// session.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan *store.Message // convID -> subID -> ch
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan *store.Message),
		logger:      logger.With("component", "bus"),
	}
}

// Subscribe registers a subscriber for messages of one conversation.
// Returns the receive channel and a subscription ID. The subscription is
// automatically cleaned up when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context, convID string) (<-chan *store.Message, string) {
	return b.subscribe(ctx, convID)
}

// SubscribeAll registers a subscriber for messages of every conversation.
// Used by the session layer, which applies its own per-agent filtering.
func (b *Broadcaster) SubscribeAll(ctx context.Context) (<-chan *store.Message, string) {
	return b.subscribe(ctx, allConversations)
}

func (b *Broadcaster) subscribe(ctx context.Context, key string) (<-chan *store.Message, string) {
	subID := uuid.New().String()
	ch := make(chan *store.Message, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[key]; !ok {
		b.subscribers[key] = make(map[string]chan *store.Message)
	}
	b.subscribers[key][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "key", key, "sub_id", subID)

	// Auto-cleanup on context cancellation
	go func() {
		<-ctx.Done()
		b.unsubscribe(key, subID)
	}()

	return ch, subID
}

// PublishMessage sends a message to all subscribers of its conversation and
// to all wildcard subscribers. Non-blocking: messages are dropped for
// subscribers whose channels are full, so a slow listener never stalls or
// fails the emitter.
func (b *Broadcaster) PublishMessage(msg *store.Message) {
	b.mu.RLock()
	targets := make([]chan *store.Message, 0, 4)
	for _, key := range []string{msg.ConversationID, allConversations} {
		for _, ch := range b.subscribers[key] {
			targets = append(targets, ch)
		}
	}
	b.mu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- msg:
		default:
			b.logger.Debug("dropped message for slow subscriber",
				"conversation_id", msg.ConversationID,
				"message_id", msg.ID)
		}
	}
}

// Unsubscribe removes a conversation subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(convID, subID string) {
	b.unsubscribe(convID, subID)
}

// UnsubscribeAll removes a wildcard subscription and closes its channel.
func (b *Broadcaster) UnsubscribeAll(subID string) {
	b.unsubscribe(allConversations, subID)
}

func (b *Broadcaster) unsubscribe(key, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[key]
	if !ok {
		return
	}

	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)

	if len(subs) == 0 {
		delete(b.subscribers, key)
	}

	b.logger.Debug("subscriber removed", "key", key, "sub_id", subID)
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for key, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, key)
	}

	b.logger.Debug("broadcaster closed")
}

// Ensure the broadcaster satisfies the store's publisher hook.
var _ store.MessagePublisher = (*Broadcaster)(nil)
