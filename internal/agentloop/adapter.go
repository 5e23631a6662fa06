// ABOUTME: Model-backed adapter building chat prompts from unread batches
// ABOUTME: Each bridge message becomes one attributed user turn

package agentloop

import (
	"context"
	"fmt"

	"github.com/agorai/bridge/internal/client"
	"github.com/agorai/bridge/internal/model"
)

// ModelAdapter answers batches through a chat-completions caller.
type ModelAdapter struct {
	caller *model.Caller
}

// NewModelAdapter wraps a caller.
func NewModelAdapter(caller *model.Caller) *ModelAdapter {
	return &ModelAdapter{caller: caller}
}

var _ Adapter = (*ModelAdapter)(nil)

// Respond builds the prompt in batch order and returns the completion.
// Messages carry their sender so the model can address participants.
func (a *ModelAdapter) Respond(ctx context.Context, systemPrompt string, batch []client.Message) (string, error) {
	messages := make([]model.Message, 0, len(batch)+1)
	if systemPrompt != "" {
		messages = append(messages, model.Message{Role: model.RoleSystem, Content: systemPrompt})
	}
	for _, m := range batch {
		messages = append(messages, model.Message{
			Role:    model.RoleUser,
			Content: fmt.Sprintf("[%s] %s", m.FromAgent, m.Content),
		})
	}

	result, err := a.caller.Call(ctx, messages)
	if err != nil {
		return "", err
	}
	return result.Content, nil
}
