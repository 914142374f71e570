// Package tools validates and executes the 16 named tools exposed over
// the session layer, each running under the caller's resolved identity
// and clearance. Size caps are centralized in internal/validate so
// every handler enforces them the same way.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agorai/agorai/internal/bridgeerr"
	"github.com/agorai/agorai/internal/store"
)

// Caller is the identity a tool call executes under, resolved upstream
// by the Auth Provider / Session Layer.
type Caller struct {
	AgentID   string
	Name      string
	Clearance store.Clearance
}

// Dispatcher validates and executes tool calls against the Store.
type Dispatcher struct {
	store *store.Store
}

// New constructs a Dispatcher over st.
func New(st *store.Store) *Dispatcher {
	return &Dispatcher{store: st}
}

type handlerFunc func(ctx context.Context, d *Dispatcher, caller Caller, args json.RawMessage) (any, error)

var registry = map[string]handlerFunc{
	"register_agent":     handleRegisterAgent,
	"list_bridge_agents": handleListBridgeAgents,
	"create_project":     handleCreateProject,
	"list_projects":      handleListProjects,
	"set_memory":         handleSetMemory,
	"get_memory":         handleGetMemory,
	"delete_memory":      handleDeleteMemory,
	"create_conversation": handleCreateConversation,
	"list_conversations":  handleListConversations,
	"subscribe":           handleSubscribe,
	"unsubscribe":         handleUnsubscribe,
	"list_subscribers":    handleListSubscribers,
	"send_message":        handleSendMessage,
	"get_messages":        handleGetMessages,
	"get_status":          handleGetStatus,
	"mark_read":           handleMarkRead,
}

// Names lists every registered tool name, for a tools/list response.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	return names
}

// Call validates args and executes the named tool under caller's
// identity. An unknown tool name is a ValidationError, matching the
// policy that schema violations are surfaced, never retried.
func (d *Dispatcher) Call(ctx context.Context, caller Caller, name string, args json.RawMessage) (any, error) {
	h, ok := registry[name]
	if !ok {
		return nil, bridgeerr.Validation("unknown tool %q", name)
	}
	return h(ctx, d, caller, args)
}

func decodeArgs(args json.RawMessage, v any) error {
	if len(args) == 0 {
		return nil
	}
	if err := json.Unmarshal(args, v); err != nil {
		return bridgeerr.Wrap(bridgeerr.KindValidation, "invalid tool arguments", err)
	}
	return nil
}

func notFoundIfNil[T any](v *T, format string, args ...any) (*T, error) {
	if v == nil {
		return nil, bridgeerr.NotFound(format, args...)
	}
	return v, nil
}

func wrapStoreErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w", err)
}
