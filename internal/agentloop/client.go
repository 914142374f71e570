// Package agentloop drives a locally-hosted agent's tick contract:
// discover conversations, subscribe, poll unread messages, invoke a
// model, reply, and mark read — with the exponential backoff and
// session-recovery state machine the bridge's restarts require. It is
// grounded on leapmux's internal/worker/hub.Client, generalized from a
// ConnectRPC bidi-stream worker connection into a polling JSON-RPC tool
// caller, since Agorai's wire contract has no server-push command
// channel for locally-hosted agents (only the bridge-initiated SSE push
// a remote session may additionally attach to).
package agentloop

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agorai/agorai/internal/auth"
	"github.com/agorai/agorai/internal/bridgeerr"
	"github.com/agorai/agorai/internal/session"
	"github.com/agorai/agorai/internal/store"
)

// ConversationRef is the subset of a Conversation the run-loop needs
// for discovery and subscription.
type ConversationRef struct {
	ID        string
	ProjectID string
}

// MessageRef is the subset of a Message the run-loop reasons about:
// self-filtering, @-mention matching, and prompt assembly.
type MessageRef struct {
	ID        string
	FromAgent string
	Content   string
	CreatedAt time.Time
}

// BridgeClient is the seam the run-loop drives: either directly against
// the Store (a locally-hosted agent sharing the bridge process) or over
// the /mcp JSON-RPC+SSE wire (a standalone `agorai agent` binary). Every
// method maps onto a tool call named in the specification; the two
// implementations differ only in transport.
type BridgeClient interface {
	// Initialize prepares the client for use: a no-op for the direct
	// client (the caller already resolved its identity), or the
	// initialize/notifications-initialized handshake for the HTTP client.
	Initialize(ctx context.Context) error
	// Close tears the client down, best-effort.
	Close(ctx context.Context)

	// SelfID returns the caller's own agent id, as the Store knows it.
	// This is what incoming messages' FromAgent field is compared
	// against for self-filtering, so it must be the resolved store id,
	// not the bearer token or display name.
	SelfID(ctx context.Context) (string, error)

	ListProjects(ctx context.Context) ([]string, error)
	ListConversations(ctx context.Context, projectID string) ([]ConversationRef, error)
	Subscribe(ctx context.Context, conversationID, historyAccess string) error
	UnreadMessages(ctx context.Context, conversationID string) ([]MessageRef, error)
	SendMessage(ctx context.Context, conversationID, content string) (string, error)
	MarkRead(ctx context.Context, conversationID, upToMessageID string) error
}

// --- directClient -------------------------------------------------

// directClient drives the Store in-process, for an agent hosted inside
// the same process as the bridge (the `agorai standalone` binary's
// bundled agent). Its identity was already resolved by
// auth.Provider.RegisterInternal before construction.
type directClient struct {
	store   *store.Store
	agentID string
}

// NewDirectClient returns a BridgeClient that talks to st directly
// under agentID, bypassing any HTTP round trip.
func NewDirectClient(st *store.Store, agentID string) BridgeClient {
	return &directClient{store: st, agentID: agentID}
}

func (c *directClient) Initialize(ctx context.Context) error { return nil }
func (c *directClient) Close(ctx context.Context)             {}

func (c *directClient) SelfID(ctx context.Context) (string, error) { return c.agentID, nil }

func (c *directClient) ListProjects(ctx context.Context) ([]string, error) {
	projects, err := c.store.ListProjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	ids := make([]string, 0, len(projects))
	for _, p := range projects {
		ids = append(ids, p.ID)
	}
	return ids, nil
}

func (c *directClient) ListConversations(ctx context.Context, projectID string) ([]ConversationRef, error) {
	convs, err := c.store.ListConversations(ctx, projectID, nil)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	refs := make([]ConversationRef, 0, len(convs))
	for _, cv := range convs {
		refs = append(refs, ConversationRef{ID: cv.ID, ProjectID: cv.ProjectID})
	}
	return refs, nil
}

func (c *directClient) Subscribe(ctx context.Context, conversationID, historyAccess string) error {
	_, err := c.store.Subscribe(ctx, conversationID, c.agentID, store.HistoryAccess(historyAccess))
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	return nil
}

func (c *directClient) UnreadMessages(ctx context.Context, conversationID string) ([]MessageRef, error) {
	msgs, err := c.store.GetMessages(ctx, conversationID, c.agentID, store.GetMessagesOptions{UnreadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	refs := make([]MessageRef, 0, len(msgs))
	for _, m := range msgs {
		refs = append(refs, MessageRef{ID: m.ID, FromAgent: m.FromAgent, Content: m.Content, CreatedAt: m.CreatedAt})
	}
	return refs, nil
}

func (c *directClient) SendMessage(ctx context.Context, conversationID, content string) (string, error) {
	msg, err := c.store.SendMessage(ctx, store.SendMessageArgs{
		ConversationID: conversationID,
		FromAgent:      c.agentID,
		Content:        content,
		Type:           store.MessageKindMessage,
	})
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	return msg.ID, nil
}

func (c *directClient) MarkRead(ctx context.Context, conversationID, upToMessageID string) error {
	if err := c.store.MarkRead(ctx, conversationID, c.agentID, upToMessageID); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// --- httpClient -----------------------------------------------------

// httpClient speaks the /mcp JSON-RPC 2.0 + SSE protocol as an external
// agent, for the standalone `agorai agent` binary pointed at a remote
// bridge. Session state (the mcp-session-id the server assigns) is
// guarded by mu and reset to "" on a SessionExpired error, the signal
// Loop.Run uses to re-Initialize before the next tick.
type httpClient struct {
	http    *http.Client
	baseURL string
	token   string

	mu        sync.Mutex
	sessionID string
	selfID    string
	reqID     atomic.Int64

	deleteTimeout time.Duration
}

// NewHTTPClient returns a BridgeClient that calls a remote bridge's
// /mcp endpoint at baseURL, authenticating with token.
func NewHTTPClient(httpc *http.Client, baseURL, token string) BridgeClient {
	return &httpClient{http: httpc, baseURL: strings.TrimSuffix(baseURL, "/"), token: token, deleteTimeout: 5 * time.Second}
}

func (c *httpClient) Initialize(ctx context.Context) error {
	_, err := c.call(ctx, "initialize", map[string]any{
		"protocolVersion": session.ProtocolVersion,
		"capabilities":    map[string]any{},
	}, true)
	if err != nil {
		return err
	}
	return c.notify(ctx, "notifications/initialized", nil)
}

func (c *httpClient) Close(ctx context.Context) {
	c.mu.Lock()
	sid := c.sessionID
	c.sessionID = ""
	c.mu.Unlock()
	if sid == "" {
		return
	}
	deleteCtx, cancel := context.WithTimeout(ctx, c.deleteTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(deleteCtx, http.MethodDelete, c.baseURL+"/mcp", nil)
	if err != nil {
		return
	}
	req.Header.Set(session.SessionIDHeader, sid)
	resp, err := c.http.Do(req)
	if err == nil {
		_ = resp.Body.Close()
	}
}

// SelfID resolves and caches the caller's own agent id via the
// get_status tool, which every identity (internal or bearer-token
// authenticated) can call.
func (c *httpClient) SelfID(ctx context.Context) (string, error) {
	c.mu.Lock()
	cached := c.selfID
	c.mu.Unlock()
	if cached != "" {
		return cached, nil
	}
	var out struct {
		AgentID string `json:"agentId"`
	}
	if err := c.toolCall(ctx, "get_status", nil, &out); err != nil {
		return "", err
	}
	c.mu.Lock()
	c.selfID = out.AgentID
	c.mu.Unlock()
	return out.AgentID, nil
}

func (c *httpClient) ListProjects(ctx context.Context) ([]string, error) {
	var out []struct {
		ID string `json:"id"`
	}
	if err := c.toolCall(ctx, "list_projects", nil, &out); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(out))
	for _, p := range out {
		ids = append(ids, p.ID)
	}
	return ids, nil
}

func (c *httpClient) ListConversations(ctx context.Context, projectID string) ([]ConversationRef, error) {
	var out []struct {
		ID        string `json:"id"`
		ProjectID string `json:"projectId"`
	}
	if err := c.toolCall(ctx, "list_conversations", map[string]any{"project_id": projectID}, &out); err != nil {
		return nil, err
	}
	refs := make([]ConversationRef, 0, len(out))
	for _, cv := range out {
		refs = append(refs, ConversationRef{ID: cv.ID, ProjectID: cv.ProjectID})
	}
	return refs, nil
}

func (c *httpClient) Subscribe(ctx context.Context, conversationID, historyAccess string) error {
	return c.toolCall(ctx, "subscribe", map[string]any{
		"conversation_id": conversationID,
		"history_access":  historyAccess,
	}, nil)
}

func (c *httpClient) UnreadMessages(ctx context.Context, conversationID string) ([]MessageRef, error) {
	var out []struct {
		ID        string `json:"id"`
		FromAgent string `json:"fromAgent"`
		Content   string `json:"content"`
		CreatedAt string `json:"createdAt"`
	}
	if err := c.toolCall(ctx, "get_messages", map[string]any{
		"conversation_id": conversationID,
		"unread_only":     true,
	}, &out); err != nil {
		return nil, err
	}
	refs := make([]MessageRef, 0, len(out))
	for _, m := range out {
		t, _ := time.Parse(time.RFC3339, m.CreatedAt)
		refs = append(refs, MessageRef{ID: m.ID, FromAgent: m.FromAgent, Content: m.Content, CreatedAt: t})
	}
	return refs, nil
}

func (c *httpClient) SendMessage(ctx context.Context, conversationID, content string) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := c.toolCall(ctx, "send_message", map[string]any{
		"conversation_id": conversationID,
		"content":         content,
	}, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *httpClient) MarkRead(ctx context.Context, conversationID, upToMessageID string) error {
	args := map[string]any{"conversation_id": conversationID}
	if upToMessageID != "" {
		args["up_to_message_id"] = upToMessageID
	}
	return c.toolCall(ctx, "mark_read", args, nil)
}

func (c *httpClient) toolCall(ctx context.Context, name string, args any, out any) error {
	result, err := c.call(ctx, "tools/call", map[string]any{"name": name, "arguments": args}, false)
	if err != nil {
		return err
	}
	if out == nil || len(result) == 0 {
		return nil
	}
	if err := json.Unmarshal(result, out); err != nil {
		return bridgeerr.Wrap(bridgeerr.KindMalformedResponse, fmt.Sprintf("decode %s result", name), err)
	}
	return nil
}

// call issues a JSON-RPC request and returns its result field,
// re-framing an SSE-delivered response the same way a browser-style
// client would: parse the last "data: " line. isInit must be true only
// for the "initialize" call, the one request allowed before a session
// id has been established.
func (c *httpClient) call(ctx context.Context, method string, params any, isInit bool) (json.RawMessage, error) {
	id := c.reqID.Add(1)
	idBytes, err := json.Marshal(id)
	if err != nil {
		return nil, fmt.Errorf("marshal request id: %w", err)
	}
	var paramsRaw json.RawMessage
	if params != nil {
		paramsRaw, err = json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
	}
	req := session.Request{JSONRPC: "2.0", ID: idBytes, Method: method, Params: paramsRaw}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/mcp", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	c.mu.Lock()
	sid := c.sessionID
	c.mu.Unlock()
	if sid != "" {
		httpReq.Header.Set(session.SessionIDHeader, sid)
	} else if !isInit {
		return nil, bridgeerr.SessionExpired()
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.KindBridgeUnreachable, "bridge unreachable", err)
	}
	defer resp.Body.Close()

	data, readErr := io.ReadAll(resp.Body)

	if resp.StatusCode == http.StatusNotFound {
		if strings.Contains(string(data), "Session not found") {
			c.mu.Lock()
			c.sessionID = ""
			c.mu.Unlock()
			return nil, bridgeerr.SessionExpired()
		}
		return nil, bridgeerr.New(bridgeerr.KindBridgeUnreachable, "unexpected 404 from bridge")
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, bridgeerr.Auth(strings.TrimSpace(string(data)))
	}
	if resp.StatusCode >= 500 {
		return nil, bridgeerr.New(bridgeerr.KindBridgeUnreachable, fmt.Sprintf("bridge returned %d", resp.StatusCode))
	}
	if readErr != nil {
		return nil, bridgeerr.Wrap(bridgeerr.KindMalformedResponse, "read response body", readErr)
	}

	if newSID := resp.Header.Get(session.SessionIDHeader); newSID != "" {
		c.mu.Lock()
		c.sessionID = newSID
		c.mu.Unlock()
	}

	raw, err := extractResponseBody(resp.Header.Get("Content-Type"), data)
	if err != nil {
		return nil, err
	}

	var rpcResp session.Response
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.KindMalformedResponse, "decode JSON-RPC response", err)
	}
	if rpcResp.Error != nil {
		return nil, bridgeerr.New(bridgeerr.KindValidation, rpcResp.Error.Message)
	}
	resultBytes, err := json.Marshal(rpcResp.Result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return resultBytes, nil
}

// notify sends a JSON-RPC notification (no id, no response expected).
func (c *httpClient) notify(ctx context.Context, method string, params any) error {
	var paramsRaw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal params: %w", err)
		}
		paramsRaw = b
	}
	req := session.Request{JSONRPC: "2.0", Method: method, Params: paramsRaw}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/mcp", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.mu.Lock()
	sid := c.sessionID
	c.mu.Unlock()
	if sid != "" {
		httpReq.Header.Set(session.SessionIDHeader, sid)
	}
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return bridgeerr.Wrap(bridgeerr.KindBridgeUnreachable, "bridge unreachable", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return nil
}

// extractResponseBody parses a response body that may be framed as a
// single SSE "data: " line (when the client sent
// "Accept: text/event-stream") or as plain JSON. A response with no
// usable content is an error, per the wire contract's "empty response
// body is an error" rule.
func extractResponseBody(contentType string, data []byte) (json.RawMessage, error) {
	if !strings.Contains(contentType, "text/event-stream") {
		if len(data) == 0 {
			return nil, bridgeerr.New(bridgeerr.KindMalformedResponse, "empty response body")
		}
		return data, nil
	}
	var last string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		if after, ok := strings.CutPrefix(line, "data:"); ok {
			payload := strings.TrimSpace(after)
			if payload != "" {
				last = payload
			}
		}
	}
	if last == "" {
		return nil, bridgeerr.New(bridgeerr.KindMalformedResponse, "empty SSE response body")
	}
	return json.RawMessage(last), nil
}

// RegisterInternal is a thin convenience wrapper so cmd/agorai can
// resolve a locally-hosted agent's identity without importing
// internal/auth directly in the agentloop construction path.
func RegisterInternal(ctx context.Context, p *auth.Provider, name string, clearance store.Clearance, capabilities []string) (string, error) {
	result, err := p.RegisterInternal(ctx, name, clearance, capabilities)
	if err != nil {
		return "", err
	}
	return result.AgentID, nil
}
