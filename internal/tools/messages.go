package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agorai/agorai/internal/store"
	"github.com/agorai/agorai/internal/timefmt"
	"github.com/agorai/agorai/internal/validate"
)

type sendMessageArgs struct {
	ConversationID string         `json:"conversation_id"`
	Content        string         `json:"content"`
	Type           string         `json:"type,omitempty"`
	Visibility     string         `json:"visibility,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

type messageView struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversationId"`
	FromAgent      string         `json:"fromAgent"`
	Content        string         `json:"content"`
	Type           string         `json:"type"`
	Visibility     string         `json:"visibility"`
	CreatedAt      string         `json:"createdAt"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

func toMessageView(m store.Message) messageView {
	return messageView{
		ID: m.ID, ConversationID: m.ConversationID, FromAgent: m.FromAgent, Content: m.Content,
		Type: string(m.Type), Visibility: m.Visibility.String(), CreatedAt: timefmt.Format(m.CreatedAt),
		Metadata: m.Metadata,
	}
}

func handleSendMessage(ctx context.Context, d *Dispatcher, caller Caller, raw json.RawMessage) (any, error) {
	var args sendMessageArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if err := validate.ID("conversation_id", args.ConversationID); err != nil {
		return nil, err
	}
	if err := validate.MessageContent(args.Content); err != nil {
		return nil, err
	}
	kind := store.MessageType(args.Type)
	if kind == "" {
		kind = store.MessageKindMessage
	}
	if err := validate.Type("type", string(kind)); err != nil {
		return nil, err
	}
	msg, err := d.store.SendMessage(ctx, store.SendMessageArgs{
		ConversationID: args.ConversationID,
		FromAgent:      caller.AgentID,
		Content:        args.Content,
		Type:           kind,
		Visibility:     store.ParseClearance(args.Visibility),
		Metadata:       args.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	return toMessageView(msg), nil
}

type getMessagesArgs struct {
	ConversationID string `json:"conversation_id"`
	Since          string `json:"since,omitempty"`
	UnreadOnly     bool   `json:"unread_only,omitempty"`
	Limit          int    `json:"limit,omitempty"`
}

func handleGetMessages(ctx context.Context, d *Dispatcher, caller Caller, raw json.RawMessage) (any, error) {
	var args getMessagesArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if err := validate.ID("conversation_id", args.ConversationID); err != nil {
		return nil, err
	}
	opts := store.GetMessagesOptions{UnreadOnly: args.UnreadOnly, Limit: args.Limit}
	if args.Since != "" {
		t, err := time.Parse(timefmt.ISO8601, args.Since)
		if err != nil {
			return nil, fmt.Errorf("parse since: %w", err)
		}
		opts.Since = &t
	}
	msgs, err := d.store.GetMessages(ctx, args.ConversationID, caller.AgentID, opts)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	out := make([]messageView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessageView(m))
	}
	return out, nil
}

type markReadArgs struct {
	ConversationID string `json:"conversation_id"`
	UpToMessageID  string `json:"up_to_message_id,omitempty"`
}

func handleMarkRead(ctx context.Context, d *Dispatcher, caller Caller, raw json.RawMessage) (any, error) {
	var args markReadArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if err := validate.ID("conversation_id", args.ConversationID); err != nil {
		return nil, err
	}
	if err := d.store.MarkRead(ctx, args.ConversationID, caller.AgentID, args.UpToMessageID); err != nil {
		return nil, fmt.Errorf("mark read: %w", err)
	}
	return map[string]any{"marked": true}, nil
}

func handleGetStatus(ctx context.Context, d *Dispatcher, caller Caller, raw json.RawMessage) (any, error) {
	subs, err := d.store.ListSubscriptionsByAgent(ctx, caller.AgentID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	conversationIDs := make([]string, 0, len(subs))
	unread := make(map[string]int, len(subs))
	for _, sub := range subs {
		conversationIDs = append(conversationIDs, sub.ConversationID)
		msgs, err := d.store.GetMessages(ctx, sub.ConversationID, caller.AgentID, store.GetMessagesOptions{UnreadOnly: true})
		if err != nil {
			return nil, fmt.Errorf("get messages for status: %w", err)
		}
		unread[sub.ConversationID] = len(msgs)
	}
	return map[string]any{
		"agentId":             caller.AgentID,
		"name":                caller.Name,
		"clearance":           caller.Clearance.String(),
		"subscribedConversations": conversationIDs,
		"unreadCounts":        unread,
	}, nil
}
