// ABOUTME: Tool registry mapping tool names to schemas and handler functions
// ABOUTME: Executes the bridge's 16 tools under the caller's authenticated identity

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/agorai/bridge/internal/auth"
	"github.com/agorai/bridge/internal/store"
)

// ErrToolNotFound is returned when a call names an unregistered tool
var ErrToolNotFound = errors.New("tool not found")

// Definition describes a tool for tools/list responses.
type Definition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// Handler executes a tool under the caller's identity.
type Handler func(ctx context.Context, caller *auth.Identity, input json.RawMessage) (json.RawMessage, error)

// Tool pairs a definition with its handler.
type Tool struct {
	Definition Definition
	Handler    Handler
}

// Registry holds the bridge's tool set. Registration happens once at
// construction; lookups afterwards are read-only.
type Registry struct {
	tools  map[string]*Tool
	order  []string
	store  store.Store
	logger *slog.Logger
}

// NewRegistry builds the registry with every bridge tool registered.
func NewRegistry(s store.Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		tools:  make(map[string]*Tool),
		store:  s,
		logger: logger.With("component", "tools"),
	}

	r.registerAgentTools()
	r.registerProjectTools()
	r.registerMemoryTools()
	r.registerConversationTools()
	r.registerMessageTools()

	return r
}

// register adds one tool. Panics on duplicate names: that is a programming
// error caught at startup, not a runtime condition.
func (r *Registry) register(def Definition, h Handler) {
	if _, exists := r.tools[def.Name]; exists {
		panic(fmt.Sprintf("duplicate tool registration: %s", def.Name))
	}
	r.tools[def.Name] = &Tool{Definition: def, Handler: h}
	r.order = append(r.order, def.Name)
}

// Definitions returns all tool definitions in registration order.
func (r *Registry) Definitions() []Definition {
	defs := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition)
	}
	return defs
}

// Call validates and executes a named tool for the caller.
func (r *Registry) Call(ctx context.Context, caller *auth.Identity, name string, input json.RawMessage) (json.RawMessage, error) {
	tool, ok := r.tools[name]
	if !ok {
		return nil, ErrToolNotFound
	}
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}

	r.logger.Debug("tool call", "tool", name, "agent_id", caller.AgentID)

	out, err := tool.Handler(ctx, caller, input)
	if err != nil {
		r.logger.Debug("tool call failed", "tool", name, "agent_id", caller.AgentID, "error", err)
		return nil, err
	}
	return out, nil
}
