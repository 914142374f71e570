package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agorai/agorai/internal/store"
	"github.com/agorai/agorai/internal/validate"
)

type setMemoryArgs struct {
	ProjectID string   `json:"project_id"`
	Key       string   `json:"key"`
	Content   string   `json:"content"`
	Tags      []string `json:"tags,omitempty"`
	Type      string   `json:"type,omitempty"`
}

type memoryView struct {
	ID        string   `json:"id"`
	ProjectID string   `json:"projectId"`
	Key       string   `json:"key"`
	Content   string   `json:"content"`
	Tags      []string `json:"tags"`
	Type      string   `json:"type"`
	CreatedBy string   `json:"createdBy"`
}

func toMemoryView(m store.MemoryEntry) memoryView {
	return memoryView{ID: m.ID, ProjectID: m.ProjectID, Key: m.Key, Content: m.Content, Tags: m.Tags, Type: m.Type, CreatedBy: m.CreatedBy}
}

func handleSetMemory(ctx context.Context, d *Dispatcher, caller Caller, raw json.RawMessage) (any, error) {
	var args setMemoryArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if err := validate.ID("project_id", args.ProjectID); err != nil {
		return nil, err
	}
	if err := validate.ID("key", args.Key); err != nil {
		return nil, err
	}
	if err := validate.MemoryContent(args.Content); err != nil {
		return nil, err
	}
	if err := validate.Tags("tags", args.Tags); err != nil {
		return nil, err
	}
	proj, err := mustGetProject(ctx, d, args.ProjectID)
	if err != nil {
		return nil, err
	}
	if _, err := notFoundIfNil(proj, "project %q not found", args.ProjectID); err != nil {
		return nil, err
	}
	m, err := d.store.SetMemory(ctx, store.SetMemoryArgs{
		ProjectID: args.ProjectID, Key: args.Key, Content: args.Content, Tags: args.Tags,
		Type: args.Type, CreatedBy: caller.AgentID,
	})
	if err != nil {
		return nil, fmt.Errorf("set memory: %w", err)
	}
	return toMemoryView(m), nil
}

func mustGetProject(ctx context.Context, d *Dispatcher, id string) (*store.Project, error) {
	p, err := d.store.GetProject(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return p, nil
}

type getMemoryArgs struct {
	ProjectID string `json:"project_id"`
	Key       string `json:"key,omitempty"`
	Tag       string `json:"tag,omitempty"`
	Type      string `json:"type,omitempty"`
}

func handleGetMemory(ctx context.Context, d *Dispatcher, caller Caller, raw json.RawMessage) (any, error) {
	var args getMemoryArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if err := validate.ID("project_id", args.ProjectID); err != nil {
		return nil, err
	}
	entries, err := d.store.GetMemory(ctx, args.ProjectID, store.GetMemoryOptions{Key: args.Key, Tag: args.Tag, Type: args.Type})
	if err != nil {
		return nil, fmt.Errorf("get memory: %w", err)
	}
	out := make([]memoryView, 0, len(entries))
	for _, m := range entries {
		out = append(out, toMemoryView(m))
	}
	return out, nil
}

type deleteMemoryArgs struct {
	MemoryID string `json:"memory_id"`
}

func handleDeleteMemory(ctx context.Context, d *Dispatcher, caller Caller, raw json.RawMessage) (any, error) {
	var args deleteMemoryArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if err := validate.ID("memory_id", args.MemoryID); err != nil {
		return nil, err
	}
	if err := d.store.DeleteMemory(ctx, args.MemoryID); err != nil {
		return nil, fmt.Errorf("delete memory: %w", err)
	}
	return map[string]any{"deleted": true}, nil
}
