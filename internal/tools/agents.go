package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agorai/agorai/internal/store"
	"github.com/agorai/agorai/internal/validate"
)

type registerAgentArgs struct {
	Name         string   `json:"name"`
	Type         string   `json:"type,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
}

type agentIdentity struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Type           string   `json:"type"`
	Capabilities   []string `json:"capabilities"`
	ClearanceLevel string   `json:"clearanceLevel"`
}

func toAgentIdentity(a store.Agent) agentIdentity {
	return agentIdentity{
		ID: a.ID, Name: a.Name, Type: a.Type,
		Capabilities: a.Capabilities, ClearanceLevel: a.ClearanceLevel.String(),
	}
}

// handleRegisterAgent overwrites the caller's own name/type/capabilities.
// It deliberately never accepts or sets clearanceLevel: clearance stays
// whatever the Auth Provider assigned at authentication time.
func handleRegisterAgent(ctx context.Context, d *Dispatcher, caller Caller, raw json.RawMessage) (any, error) {
	var args registerAgentArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if err := validate.Name("name", args.Name); err != nil {
		return nil, err
	}
	if err := validate.Type("type", args.Type); err != nil {
		return nil, err
	}
	if err := validate.Capabilities("capabilities", args.Capabilities); err != nil {
		return nil, err
	}
	agent, err := d.store.UpdateAgentProfile(ctx, caller.AgentID, args.Name, args.Type, args.Capabilities)
	if err != nil {
		return nil, fmt.Errorf("register agent: %w", err)
	}
	return toAgentIdentity(agent), nil
}

type listBridgeAgentsArgs struct {
	ProjectID string `json:"project_id,omitempty"`
}

// handleListBridgeAgents returns every registered agent, or — when
// project_id is given — only those subscribed to some conversation of
// that project.
func handleListBridgeAgents(ctx context.Context, d *Dispatcher, caller Caller, raw json.RawMessage) (any, error) {
	var args listBridgeAgentsArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	all, err := d.store.ListAgents(ctx)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	if args.ProjectID == "" {
		out := make([]agentIdentity, 0, len(all))
		for _, a := range all {
			out = append(out, toAgentIdentity(a))
		}
		return out, nil
	}

	convs, err := d.store.ListConversations(ctx, args.ProjectID, nil)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	subscribed := make(map[string]struct{})
	for _, c := range convs {
		subs, err := d.store.ListSubscribers(ctx, c.ID)
		if err != nil {
			return nil, fmt.Errorf("list subscribers: %w", err)
		}
		for _, s := range subs {
			subscribed[s.AgentID] = struct{}{}
		}
	}
	out := make([]agentIdentity, 0, len(subscribed))
	for _, a := range all {
		if _, ok := subscribed[a.ID]; ok {
			out = append(out, toAgentIdentity(a))
		}
	}
	return out, nil
}
