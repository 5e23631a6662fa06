// ABOUTME: Project tools: create_project and list_projects
// ABOUTME: Projects are created by tool call and never implicitly deleted

package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/agorai/bridge/internal/auth"
	"github.com/agorai/bridge/internal/store"
)

func (r *Registry) registerProjectTools() {
	r.register(Definition{
		Name:        "create_project",
		Description: "Create a shared project",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"name":{"type":"string"},"description":{"type":"string"},"visibility":{"type":"string","enum":["public","team","confidential","restricted"]},"confidentiality_mode":{"type":"string","enum":["normal","strict","flexible"]}},"required":["name"]}`),
	}, r.CreateProject)

	r.register(Definition{
		Name:        "list_projects",
		Description: "List all projects",
		InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
	}, r.ListProjects)
}

type createProjectInput struct {
	Name                string `json:"name"`
	Description         string `json:"description"`
	Visibility          string `json:"visibility"`
	ConfidentialityMode string `json:"confidentiality_mode"`
}

type projectInfo struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	Description         string `json:"description,omitempty"`
	Visibility          string `json:"visibility"`
	ConfidentialityMode string `json:"confidentiality_mode"`
	CreatedBy           string `json:"created_by"`
	CreatedAt           string `json:"created_at"`
}

func toProjectInfo(p *store.Project) projectInfo {
	return projectInfo{
		ID:                  p.ID,
		Name:                p.Name,
		Description:         p.Description,
		Visibility:          string(p.Visibility),
		ConfidentialityMode: string(p.ConfidentialityMode),
		CreatedBy:           p.CreatedBy,
		CreatedAt:           p.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// CreateProject creates a project owned by the caller.
func (r *Registry) CreateProject(ctx context.Context, caller *auth.Identity, input json.RawMessage) (json.RawMessage, error) {
	var in createProjectInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, invalid("input", "malformed JSON: %v", err)
	}
	if in.Name == "" {
		return nil, invalid("name", "required")
	}
	if err := limitLen("name", in.Name, MaxNameLen); err != nil {
		return nil, err
	}
	if err := limitLen("description", in.Description, MaxDescriptionLen); err != nil {
		return nil, err
	}
	visibility := store.Clearance(in.Visibility)
	if in.Visibility != "" && !visibility.Valid() {
		return nil, invalid("visibility", "unknown level %q", in.Visibility)
	}
	mode := store.ConfidentialityMode(in.ConfidentialityMode)
	switch mode {
	case "", store.ConfidentialityNormal, store.ConfidentialityStrict, store.ConfidentialityFlexible:
	default:
		return nil, invalid("confidentiality_mode", "unknown mode %q", in.ConfidentialityMode)
	}

	project := &store.Project{
		Name:                in.Name,
		Description:         in.Description,
		Visibility:          visibility,
		ConfidentialityMode: mode,
		CreatedBy:           caller.AgentID,
	}
	if err := r.store.CreateProject(ctx, project); err != nil {
		return nil, err
	}

	return json.Marshal(toProjectInfo(project))
}

// ListProjects returns all projects.
func (r *Registry) ListProjects(ctx context.Context, caller *auth.Identity, input json.RawMessage) (json.RawMessage, error) {
	projects, err := r.store.ListProjects(ctx)
	if err != nil {
		return nil, err
	}

	infos := make([]projectInfo, 0, len(projects))
	for _, p := range projects {
		infos = append(infos, toProjectInfo(p))
	}
	return json.Marshal(map[string]any{"projects": infos, "count": len(infos)})
}
