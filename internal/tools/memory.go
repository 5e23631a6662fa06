// ABOUTME: Project memory tools: set_memory, get_memory, delete_memory
// ABOUTME: Notes are keyed by id within a project with tag and type filters

package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/agorai/bridge/internal/auth"
	"github.com/agorai/bridge/internal/store"
)

func (r *Registry) registerMemoryTools() {
	r.register(Definition{
		Name:        "set_memory",
		Description: "Create or update a project memory entry",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"project_id":{"type":"string"},"id":{"type":"string"},"content":{"type":"string"},"type":{"type":"string"},"tags":{"type":"array","items":{"type":"string"}}},"required":["project_id","content"]}`),
	}, r.SetMemory)

	r.register(Definition{
		Name:        "get_memory",
		Description: "Fetch project memory entries by id or by tag/type filter",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"project_id":{"type":"string"},"id":{"type":"string"},"type":{"type":"string"},"tag":{"type":"string"}},"required":["project_id"]}`),
	}, r.GetMemory)

	r.register(Definition{
		Name:        "delete_memory",
		Description: "Delete a project memory entry",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"project_id":{"type":"string"},"id":{"type":"string"}},"required":["project_id","id"]}`),
	}, r.DeleteMemory)
}

type setMemoryInput struct {
	ProjectID string   `json:"project_id"`
	ID        string   `json:"id"`
	Content   string   `json:"content"`
	Type      string   `json:"type"`
	Tags      []string `json:"tags"`
}

type memoryInfo struct {
	ID        string   `json:"id"`
	ProjectID string   `json:"project_id"`
	Content   string   `json:"content"`
	Type      string   `json:"type,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	CreatedBy string   `json:"created_by"`
	UpdatedAt string   `json:"updated_at"`
}

func toMemoryInfo(e *store.MemoryEntry) memoryInfo {
	return memoryInfo{
		ID:        e.ID,
		ProjectID: e.ProjectID,
		Content:   e.Content,
		Type:      e.Type,
		Tags:      e.Tags,
		CreatedBy: e.CreatedBy,
		UpdatedAt: e.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// SetMemory creates or updates a note in the project's memory.
func (r *Registry) SetMemory(ctx context.Context, caller *auth.Identity, input json.RawMessage) (json.RawMessage, error) {
	var in setMemoryInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, invalid("input", "malformed JSON: %v", err)
	}
	if err := requireID("project_id", in.ProjectID); err != nil {
		return nil, err
	}
	if in.ID != "" {
		if err := limitLen("id", in.ID, MaxIDLen); err != nil {
			return nil, err
		}
	}
	if in.Content == "" {
		return nil, invalid("content", "required")
	}
	if len(in.Content) > store.MaxMemoryContent {
		return nil, invalid("content", "exceeds %d bytes", store.MaxMemoryContent)
	}
	if err := limitLen("type", in.Type, MaxTypeLen); err != nil {
		return nil, err
	}
	if err := limitList("tags", in.Tags, MaxTags, MaxTagLen); err != nil {
		return nil, err
	}

	entry := &store.MemoryEntry{
		ID:        in.ID,
		ProjectID: in.ProjectID,
		Content:   in.Content,
		Type:      in.Type,
		Tags:      in.Tags,
		CreatedBy: caller.AgentID,
	}
	if err := r.store.SetMemory(ctx, entry); err != nil {
		return nil, err
	}

	return json.Marshal(toMemoryInfo(entry))
}

type getMemoryInput struct {
	ProjectID string `json:"project_id"`
	ID        string `json:"id"`
	Type      string `json:"type"`
	Tag       string `json:"tag"`
}

// GetMemory fetches a single entry by id, or lists entries matching the
// optional type and tag filters.
func (r *Registry) GetMemory(ctx context.Context, caller *auth.Identity, input json.RawMessage) (json.RawMessage, error) {
	var in getMemoryInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, invalid("input", "malformed JSON: %v", err)
	}
	if err := requireID("project_id", in.ProjectID); err != nil {
		return nil, err
	}
	if err := limitLen("type", in.Type, MaxTypeLen); err != nil {
		return nil, err
	}
	if err := limitLen("tag", in.Tag, MaxTagLen); err != nil {
		return nil, err
	}

	if in.ID != "" {
		if err := limitLen("id", in.ID, MaxIDLen); err != nil {
			return nil, err
		}
		entry, err := r.store.GetMemory(ctx, in.ProjectID, in.ID)
		if err != nil {
			return nil, err
		}
		return json.Marshal(toMemoryInfo(entry))
	}

	entries, err := r.store.ListMemory(ctx, in.ProjectID, store.MemoryFilter{Type: in.Type, Tag: in.Tag})
	if err != nil {
		return nil, err
	}
	infos := make([]memoryInfo, 0, len(entries))
	for _, e := range entries {
		infos = append(infos, toMemoryInfo(e))
	}
	return json.Marshal(map[string]any{"entries": infos, "count": len(infos)})
}

type deleteMemoryInput struct {
	ProjectID string `json:"project_id"`
	ID        string `json:"id"`
}

// DeleteMemory removes a note from project memory.
func (r *Registry) DeleteMemory(ctx context.Context, caller *auth.Identity, input json.RawMessage) (json.RawMessage, error) {
	var in deleteMemoryInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, invalid("input", "malformed JSON: %v", err)
	}
	if err := requireID("project_id", in.ProjectID); err != nil {
		return nil, err
	}
	if err := requireID("id", in.ID); err != nil {
		return nil, err
	}

	if err := r.store.DeleteMemory(ctx, in.ProjectID, in.ID); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]string{"status": "deleted"})
}
