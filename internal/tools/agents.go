// ABOUTME: Agent tools: register_agent and list_bridge_agents
// ABOUTME: Registration is caller-scoped and overwrites the calling key's prior identity

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agorai/bridge/internal/auth"
	"github.com/agorai/bridge/internal/store"
)

func (r *Registry) registerAgentTools() {
	r.register(Definition{
		Name:        "register_agent",
		Description: "Register or update the calling agent's name, type and capabilities",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"name":{"type":"string"},"type":{"type":"string"},"capabilities":{"type":"array","items":{"type":"string"}}},"required":["name"]}`),
	}, r.RegisterAgent)

	r.register(Definition{
		Name:        "list_bridge_agents",
		Description: "List all bridge agents, optionally restricted to participants of a project",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"project_id":{"type":"string"}}}`),
	}, r.ListBridgeAgents)
}

type registerAgentInput struct {
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	Capabilities []string `json:"capabilities"`
}

type agentInfo struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Type           string   `json:"type,omitempty"`
	Capabilities   []string `json:"capabilities,omitempty"`
	ClearanceLevel string   `json:"clearance_level"`
	LastSeen       string   `json:"last_seen"`
}

func toAgentInfo(a *store.Agent) agentInfo {
	return agentInfo{
		ID:             a.ID,
		Name:           a.Name,
		Type:           a.Type,
		Capabilities:   a.Capabilities,
		ClearanceLevel: string(a.ClearanceLevel),
		LastSeen:       a.LastSeen.UTC().Format(time.RFC3339),
	}
}

// RegisterAgent updates the identity bound to the caller's key. Clearance
// is never taken from tool input: it stays whatever the key was granted.
func (r *Registry) RegisterAgent(ctx context.Context, caller *auth.Identity, input json.RawMessage) (json.RawMessage, error) {
	var in registerAgentInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, invalid("input", "malformed JSON: %v", err)
	}
	if in.Name == "" {
		return nil, invalid("name", "required")
	}
	if err := limitLen("name", in.Name, MaxNameLen); err != nil {
		return nil, err
	}
	if err := limitLen("type", in.Type, MaxTypeLen); err != nil {
		return nil, err
	}
	if err := limitList("capabilities", in.Capabilities, MaxCapabilities, MaxNameLen); err != nil {
		return nil, err
	}

	current, err := r.store.GetAgent(ctx, caller.AgentID)
	if err != nil {
		return nil, fmt.Errorf("loading caller: %w", err)
	}

	agent, err := r.store.RegisterAgent(ctx, store.AgentSpec{
		Name:           in.Name,
		Type:           in.Type,
		Capabilities:   in.Capabilities,
		ClearanceLevel: current.ClearanceLevel,
		APIKeyHash:     current.APIKeyHash,
	})
	if err != nil {
		return nil, err
	}

	return json.Marshal(toAgentInfo(agent))
}

type listAgentsInput struct {
	ProjectID string `json:"project_id"`
}

// ListBridgeAgents lists all agents; with project_id only agents subscribed
// to any conversation of that project are returned.
func (r *Registry) ListBridgeAgents(ctx context.Context, caller *auth.Identity, input json.RawMessage) (json.RawMessage, error) {
	var in listAgentsInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, invalid("input", "malformed JSON: %v", err)
	}
	if in.ProjectID != "" {
		if err := limitLen("project_id", in.ProjectID, MaxIDLen); err != nil {
			return nil, err
		}
		if _, err := r.store.GetProject(ctx, in.ProjectID); err != nil {
			return nil, err
		}
	}

	agents, err := r.store.ListAgents(ctx, in.ProjectID)
	if err != nil {
		return nil, err
	}

	infos := make([]agentInfo, 0, len(agents))
	for _, a := range agents {
		infos = append(infos, toAgentInfo(a))
	}
	return json.Marshal(map[string]any{"agents": infos, "count": len(infos)})
}
