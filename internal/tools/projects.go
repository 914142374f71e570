package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agorai/agorai/internal/store"
	"github.com/agorai/agorai/internal/validate"
)

type createProjectArgs struct {
	Name                string `json:"name"`
	Description         string `json:"description,omitempty"`
	Visibility          string `json:"visibility,omitempty"`
	ConfidentialityMode string `json:"confidentiality_mode,omitempty"`
}

type projectView struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	Description         string `json:"description"`
	Visibility          string `json:"visibility"`
	ConfidentialityMode string `json:"confidentialityMode"`
	CreatedBy           string `json:"createdBy"`
}

func toProjectView(p store.Project) projectView {
	return projectView{
		ID: p.ID, Name: p.Name, Description: p.Description,
		Visibility: p.Visibility.String(), ConfidentialityMode: string(p.ConfidentialityMode), CreatedBy: p.CreatedBy,
	}
}

func handleCreateProject(ctx context.Context, d *Dispatcher, caller Caller, raw json.RawMessage) (any, error) {
	var args createProjectArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if err := validate.Name("name", args.Name); err != nil {
		return nil, err
	}
	if err := validate.Description("description", args.Description); err != nil {
		return nil, err
	}
	mode := store.ConfidentialityMode(args.ConfidentialityMode)
	if mode == "" {
		mode = store.ConfidentialityNormal
	}
	p, err := d.store.CreateProject(ctx, store.CreateProjectArgs{
		Name:                args.Name,
		Description:         args.Description,
		Visibility:          store.ParseClearance(args.Visibility),
		ConfidentialityMode: mode,
		CreatedBy:           caller.AgentID,
	})
	if err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}
	return toProjectView(p), nil
}

func handleListProjects(ctx context.Context, d *Dispatcher, caller Caller, raw json.RawMessage) (any, error) {
	projects, err := d.store.ListProjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	out := make([]projectView, 0, len(projects))
	for _, p := range projects {
		out = append(out, toProjectView(p))
	}
	return out, nil
}
