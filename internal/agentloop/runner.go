// ABOUTME: Poll-based run-loop connecting a hosted model to bridge conversations
// ABOUTME: Replies before advancing the read cursor so failures redeliver

package agentloop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/agorai/bridge/internal/client"
)

// Mode selects when the agent replies.
type Mode string

const (
	// ModeActive replies to every unread batch.
	ModeActive Mode = "active"
	// ModePassive replies only when a batch mentions the agent by @name.
	ModePassive Mode = "passive"
)

// MinPollInterval is the floor for poll spacing.
const MinPollInterval = 500 * time.Millisecond

// DefaultPollInterval is used when the config leaves the interval zero.
const DefaultPollInterval = 3 * time.Second

// Bridge is the narrow surface the loop needs from a bridge connection.
// *client.Client implements it; DirectBridge implements it over a local
// store for in-process agents.
type Bridge interface {
	RegisterAgent(ctx context.Context, name, agentType string, capabilities []string) (*client.AgentInfo, error)
	ListConversations(ctx context.Context, projectID, status string) ([]client.Conversation, error)
	Subscribe(ctx context.Context, conversationID, historyAccess string) error
	GetMessages(ctx context.Context, conversationID string, opts client.GetMessagesOptions) ([]client.Message, error)
	SendMessage(ctx context.Context, conversationID, content, messageType string) (*client.Message, error)
	MarkRead(ctx context.Context, conversationID, messageID string) (int, error)
	Reset()
	Close()
}

// Adapter turns an unread batch into a reply.
type Adapter interface {
	Respond(ctx context.Context, systemPrompt string, batch []client.Message) (string, error)
}

// Config holds runner construction parameters.
type Config struct {
	Bridge       Bridge
	Adapter      Adapter
	AgentName    string
	AgentType    string
	Capabilities []string
	Mode         Mode
	PollInterval time.Duration
	SystemPrompt string
	Logger       *slog.Logger
}

// Runner polls the bridge and drives the adapter.
type Runner struct {
	bridge       Bridge
	adapter      Adapter
	agentName    string
	agentType    string
	capabilities []string
	mode         Mode
	pollInterval time.Duration
	systemPrompt string
	logger       *slog.Logger

	agentID    string
	mention    *regexp.Regexp
	subscribed map[string]bool
}

// NewRunner validates the config and builds a runner.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Bridge == nil {
		return nil, errors.New("bridge is required")
	}
	if cfg.Adapter == nil {
		return nil, errors.New("adapter is required")
	}
	if cfg.AgentName == "" {
		return nil, errors.New("agent name is required")
	}
	mode := cfg.Mode
	if mode == "" {
		mode = ModePassive
	}
	if mode != ModeActive && mode != ModePassive {
		return nil, fmt.Errorf("unknown mode %q", cfg.Mode)
	}
	poll := cfg.PollInterval
	if poll == 0 {
		poll = DefaultPollInterval
	}
	if poll < MinPollInterval {
		poll = MinPollInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{
		bridge:       cfg.Bridge,
		adapter:      cfg.Adapter,
		agentName:    cfg.AgentName,
		agentType:    cfg.AgentType,
		capabilities: cfg.Capabilities,
		mode:         mode,
		pollInterval: poll,
		systemPrompt: cfg.SystemPrompt,
		logger:       logger.With("component", "agentloop", "agent_name", cfg.AgentName),
		mention:      mentionPattern(cfg.AgentName),
		subscribed:   make(map[string]bool),
	}, nil
}

// mentionPattern matches @name case-insensitively anywhere in a message.
// No trailing boundary: agent names may end in non-word characters.
func mentionPattern(name string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)@` + regexp.QuoteMeta(name))
}

// Run registers the agent and polls until ctx is cancelled. Transport
// failures back off exponentially and reset the session; the loop never
// gives up on its own.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.register(ctx); err != nil {
		return err
	}
	r.logger.Info("agent running", "agent_id", r.agentID, "mode", r.mode, "poll", r.pollInterval)

	bo := r.newBackoff()
	for {
		wait := r.pollInterval
		if err := r.tick(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			wait = bo.NextBackOff()
			r.logger.Warn("tick failed, backing off", "error", err, "retry_in", wait)
			if errors.Is(err, client.ErrSessionExpired) {
				r.bridge.Reset()
			}
		} else {
			bo.Reset()
		}

		select {
		case <-ctx.Done():
			r.bridge.Close()
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (r *Runner) newBackoff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.Multiplier = 2
	bo.MaxInterval = 60 * time.Second
	bo.RandomizationFactor = 0.25
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

// register announces the agent, retrying with backoff until the bridge
// accepts or ctx dies.
func (r *Runner) register(ctx context.Context) error {
	op := func() error {
		info, err := r.bridge.RegisterAgent(ctx, r.agentName, r.agentType, r.capabilities)
		if err != nil {
			r.logger.Warn("registration failed, retrying", "error", err)
			if errors.Is(err, client.ErrSessionExpired) {
				r.bridge.Reset()
			}
			return err
		}
		r.agentID = info.ID
		return nil
	}
	return backoff.Retry(op, backoff.WithContext(r.newBackoff(), ctx))
}

// tick performs one poll pass over all active conversations.
func (r *Runner) tick(ctx context.Context) error {
	convs, err := r.bridge.ListConversations(ctx, "", "active")
	if err != nil {
		return fmt.Errorf("listing conversations: %w", err)
	}

	for _, conv := range convs {
		if !r.subscribed[conv.ID] {
			if err := r.bridge.Subscribe(ctx, conv.ID, "from_join"); err != nil {
				return fmt.Errorf("subscribing to %s: %w", conv.ID, err)
			}
			r.subscribed[conv.ID] = true
			r.logger.Info("joined conversation", "conversation_id", conv.ID, "title", conv.Title)
		}
		if err := r.processConversation(ctx, conv.ID); err != nil {
			return err
		}
	}
	return nil
}

// processConversation handles one conversation's unread batch. The reply
// goes out before the cursor moves; any failure leaves the batch unread
// for the next tick.
func (r *Runner) processConversation(ctx context.Context, convID string) error {
	batch, err := r.bridge.GetMessages(ctx, convID, client.GetMessagesOptions{UnreadOnly: true})
	if err != nil {
		return fmt.Errorf("fetching unread for %s: %w", convID, err)
	}

	// The server already excludes own messages from unread; this guards
	// against echoes from a bridge that does not.
	filtered := batch[:0]
	for _, m := range batch {
		if m.FromAgent != r.agentID {
			filtered = append(filtered, m)
		}
	}
	batch = filtered
	if len(batch) == 0 {
		return nil
	}
	last := batch[len(batch)-1]

	// Passive mode answers only messages addressed to this agent. The
	// prompt is built from the mentioning messages alone; the cursor still
	// advances over the whole batch.
	prompt := batch
	if r.mode == ModePassive {
		prompt = r.mentioning(batch)
		if len(prompt) == 0 {
			// Consume silently so the batch does not resurface every tick.
			if _, err := r.bridge.MarkRead(ctx, convID, last.ID); err != nil {
				return fmt.Errorf("marking read in %s: %w", convID, err)
			}
			return nil
		}
	}

	reply, err := r.adapter.Respond(ctx, r.systemPrompt, prompt)
	if err != nil {
		// The batch stays unread and the loop backs off before retrying.
		return fmt.Errorf("adapter in %s: %w", convID, err)
	}
	if reply == "" {
		// The adapter declined to answer. Consume the batch.
		if _, err := r.bridge.MarkRead(ctx, convID, last.ID); err != nil {
			return fmt.Errorf("marking read in %s: %w", convID, err)
		}
		return nil
	}

	if _, err := r.bridge.SendMessage(ctx, convID, reply, "message"); err != nil {
		return fmt.Errorf("replying in %s: %w", convID, err)
	}
	if _, err := r.bridge.MarkRead(ctx, convID, last.ID); err != nil {
		return fmt.Errorf("marking read in %s: %w", convID, err)
	}

	r.logger.Info("replied",
		"conversation_id", convID,
		"batch_size", len(batch),
		"prompt_size", len(prompt),
		"reply_bytes", len(reply),
	)
	return nil
}

// mentioning returns the messages addressed to this agent by @name.
func (r *Runner) mentioning(batch []client.Message) []client.Message {
	var out []client.Message
	for _, m := range batch {
		if r.mention.MatchString(m.Content) {
			out = append(out, m)
		}
	}
	return out
}
