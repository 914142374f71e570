package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agorai/agorai/internal/store"
	"github.com/agorai/agorai/internal/validate"
)

type createConversationArgs struct {
	ProjectID         string `json:"project_id"`
	Title             string `json:"title"`
	DefaultVisibility string `json:"default_visibility,omitempty"`
}

type conversationView struct {
	ID                string `json:"id"`
	ProjectID         string `json:"projectId"`
	Title             string `json:"title"`
	Status            string `json:"status"`
	DefaultVisibility string `json:"defaultVisibility"`
	CreatedBy         string `json:"createdBy"`
}

func toConversationView(c store.Conversation) conversationView {
	return conversationView{
		ID: c.ID, ProjectID: c.ProjectID, Title: c.Title, Status: string(c.Status),
		DefaultVisibility: c.DefaultVisibility.String(), CreatedBy: c.CreatedBy,
	}
}

func handleCreateConversation(ctx context.Context, d *Dispatcher, caller Caller, raw json.RawMessage) (any, error) {
	var args createConversationArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if err := validate.ID("project_id", args.ProjectID); err != nil {
		return nil, err
	}
	if err := validate.Name("title", args.Title); err != nil {
		return nil, err
	}
	c, err := d.store.CreateConversation(ctx, store.CreateConversationArgs{
		ProjectID:         args.ProjectID,
		Title:             args.Title,
		DefaultVisibility: store.ParseClearance(args.DefaultVisibility),
		CreatedBy:         caller.AgentID,
	})
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return toConversationView(c), nil
}

type listConversationsArgs struct {
	ProjectID string `json:"project_id,omitempty"`
	Status    string `json:"status,omitempty"`
}

func handleListConversations(ctx context.Context, d *Dispatcher, caller Caller, raw json.RawMessage) (any, error) {
	var args listConversationsArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	var status *store.ConversationStatus
	if args.Status != "" {
		s := store.ConversationStatus(args.Status)
		status = &s
	}
	convs, err := d.store.ListConversations(ctx, args.ProjectID, status)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	out := make([]conversationView, 0, len(convs))
	for _, c := range convs {
		out = append(out, toConversationView(c))
	}
	return out, nil
}

type subscribeArgs struct {
	ConversationID string `json:"conversation_id"`
	HistoryAccess  string `json:"history_access,omitempty"`
}

func handleSubscribe(ctx context.Context, d *Dispatcher, caller Caller, raw json.RawMessage) (any, error) {
	var args subscribeArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if err := validate.ID("conversation_id", args.ConversationID); err != nil {
		return nil, err
	}
	access := store.HistoryAccess(args.HistoryAccess)
	if access == "" {
		access = store.HistoryAccessFull
	}
	sub, err := d.store.Subscribe(ctx, args.ConversationID, caller.AgentID, access)
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	return map[string]any{
		"conversationId": sub.ConversationID,
		"agentId":        sub.AgentID,
		"historyAccess":  string(sub.HistoryAccess),
	}, nil
}

type unsubscribeArgs struct {
	ConversationID string `json:"conversation_id"`
}

func handleUnsubscribe(ctx context.Context, d *Dispatcher, caller Caller, raw json.RawMessage) (any, error) {
	var args unsubscribeArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if err := validate.ID("conversation_id", args.ConversationID); err != nil {
		return nil, err
	}
	if err := d.store.Unsubscribe(ctx, args.ConversationID, caller.AgentID); err != nil {
		return nil, fmt.Errorf("unsubscribe: %w", err)
	}
	return map[string]any{"unsubscribed": true}, nil
}

type listSubscribersArgs struct {
	ConversationID string `json:"conversation_id"`
}

func handleListSubscribers(ctx context.Context, d *Dispatcher, caller Caller, raw json.RawMessage) (any, error) {
	var args listSubscribersArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if err := validate.ID("conversation_id", args.ConversationID); err != nil {
		return nil, err
	}
	subs, err := d.store.ListSubscribers(ctx, args.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	out := make([]map[string]any, 0, len(subs))
	for _, s := range subs {
		out = append(out, map[string]any{
			"agentId":       s.AgentID,
			"historyAccess": string(s.HistoryAccess),
		})
	}
	return out, nil
}
