package agentloop

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agorai/agorai/internal/agentconfig"
)

// mockClient is an in-memory BridgeClient double for exercising the
// run-loop's tick contract without a real store or HTTP transport.
type mockClient struct {
	mu            sync.Mutex
	projects      []string
	conversations map[string][]ConversationRef
	unread        map[string][]MessageRef
	sent          []string
	markReadCalls []string
	subscribed    map[string]bool
}

func newMockClient() *mockClient {
	return &mockClient{
		conversations: make(map[string][]ConversationRef),
		unread:        make(map[string][]MessageRef),
		subscribed:    make(map[string]bool),
	}
}

func (m *mockClient) Initialize(ctx context.Context) error { return nil }
func (m *mockClient) Close(ctx context.Context)             {}

// SelfID returns empty so Run() leaves Options.AgentID (set directly by
// each test) untouched, matching how tests already construct the Loop.
func (m *mockClient) SelfID(ctx context.Context) (string, error) { return "", nil }

func (m *mockClient) ListProjects(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.projects, nil
}

func (m *mockClient) ListConversations(ctx context.Context, projectID string) ([]ConversationRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conversations[projectID], nil
}

func (m *mockClient) Subscribe(ctx context.Context, conversationID, historyAccess string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribed[conversationID] = true
	return nil
}

func (m *mockClient) UnreadMessages(ctx context.Context, conversationID string) ([]MessageRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MessageRef, len(m.unread[conversationID]))
	copy(out, m.unread[conversationID])
	return out, nil
}

func (m *mockClient) SendMessage(ctx context.Context, conversationID, content string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, content)
	return "reply-" + conversationID, nil
}

func (m *mockClient) MarkRead(ctx context.Context, conversationID, upToMessageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markReadCalls = append(m.markReadCalls, upToMessageID)
	delete(m.unread, conversationID)
	return nil
}

func (m *mockClient) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *mockClient) markReadCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.markReadCalls)
}

// mockAdapter records every prompt it was invoked with and either
// returns a fixed reply or fails, for exercising S3's retry contract.
type mockAdapter struct {
	mu        sync.Mutex
	calls     int
	fail      bool
	failUntil int
	reply     string
}

func (a *mockAdapter) Reply(ctx context.Context, messages []ChatMessage) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.fail || a.calls <= a.failUntil {
		return "", errors.New("adapter failure")
	}
	if a.reply == "" {
		return "ack", nil
	}
	return a.reply, nil
}

func (a *mockAdapter) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func setupConversation(m *mockClient, projectID, convID string) {
	m.projects = append(m.projects, projectID)
	m.conversations[projectID] = append(m.conversations[projectID], ConversationRef{ID: convID, ProjectID: projectID})
}

// S1 — passive @-mention: a message mentioning the agent produces
// exactly one reply and is no longer unread afterward.
func TestPassiveModeMentionTriggersReply(t *testing.T) {
	client := newMockClient()
	setupConversation(client, "p1", "c1")
	client.unread["c1"] = []MessageRef{
		{ID: "m1", FromAgent: "other", Content: "Hey @mention-bot what do you think?", CreatedAt: time.Now()},
	}
	adapter := &mockAdapter{reply: "I think it's great"}
	loop := New(Options{
		Client: client, Adapter: adapter,
		AgentID: "self", AgentName: "mention-bot",
		Mode: agentconfig.ModePassive, PollInterval: MinPollInterval,
	})

	require.NoError(t, loop.tick(context.Background()))
	require.Equal(t, 1, client.sentCount())
	require.Equal(t, 1, client.markReadCount())
	require.Equal(t, []string{"I think it's great"}, client.sent)

	// The message is no longer unread.
	remaining, err := client.UnreadMessages(context.Background(), "c1")
	require.NoError(t, err)
	require.Empty(t, remaining)
}

// S2 — passive, no mention: zero replies, zero adapter invocations.
func TestPassiveModeNoMentionSendsNothing(t *testing.T) {
	client := newMockClient()
	setupConversation(client, "p1", "c1")
	client.unread["c1"] = []MessageRef{
		{ID: "m1", FromAgent: "other", Content: "Just talking to myself here", CreatedAt: time.Now()},
	}
	adapter := &mockAdapter{}
	loop := New(Options{
		Client: client, Adapter: adapter,
		AgentID: "self", AgentName: "mention-bot",
		Mode: agentconfig.ModePassive, PollInterval: MinPollInterval,
	})

	require.NoError(t, loop.tick(context.Background()))
	require.Equal(t, 0, client.sentCount())
	require.Equal(t, 0, adapter.callCount())
}

// S3 — adapter failure: the message remains unread, no reply is sent,
// and the adapter was invoked.
func TestAdapterFailureLeavesMessageUnread(t *testing.T) {
	client := newMockClient()
	setupConversation(client, "p1", "c1")
	client.unread["c1"] = []MessageRef{
		{ID: "m1", FromAgent: "other", Content: "please respond", CreatedAt: time.Now()},
	}
	adapter := &mockAdapter{fail: true}
	loop := New(Options{
		Client: client, Adapter: adapter,
		AgentID: "fail-bot", AgentName: "fail-bot",
		Mode: agentconfig.ModeActive, PollInterval: MinPollInterval,
	})

	err := loop.tick(context.Background())
	require.Error(t, err)
	require.Equal(t, 0, client.sentCount())
	require.Equal(t, 0, client.markReadCount())
	require.GreaterOrEqual(t, adapter.callCount(), 1)

	remaining, getErr := client.UnreadMessages(context.Background(), "c1")
	require.NoError(t, getErr)
	require.Len(t, remaining, 1)
}

// S4 — self-reply does not loop: an active-mode agent's own reply
// never appears as something it replies to again.
func TestSelfReplyDoesNotLoop(t *testing.T) {
	client := newMockClient()
	setupConversation(client, "p1", "c1")
	client.unread["c1"] = []MessageRef{
		{ID: "m1", FromAgent: "other", Content: "Hello @self-filter", CreatedAt: time.Now()},
	}
	adapter := &mockAdapter{reply: "hi there"}
	loop := New(Options{
		Client: client, Adapter: adapter,
		AgentID: "self-filter", AgentName: "self-filter",
		Mode: agentconfig.ModeActive, PollInterval: MinPollInterval,
	})

	require.NoError(t, loop.tick(context.Background()))
	require.Equal(t, 1, adapter.callCount())

	// Simulate the agent's own reply landing back in the unread set —
	// an at-least-once delivery bug elsewhere would do this; the
	// self-filter must still suppress it.
	client.mu.Lock()
	client.unread["c1"] = []MessageRef{
		{ID: "m2", FromAgent: "self-filter", Content: "hi there", CreatedAt: time.Now()},
	}
	client.mu.Unlock()

	require.NoError(t, loop.tick(context.Background()))
	require.Equal(t, 1, adapter.callCount(), "adapter must not be invoked again for the agent's own message")
}

// S5 — graceful shutdown: Run returns promptly after the context is
// cancelled.
func TestRunReturnsPromptlyOnCancellation(t *testing.T) {
	client := newMockClient()
	adapter := &mockAdapter{}
	loop := New(Options{
		Client: client, Adapter: adapter,
		AgentID: "self", AgentName: "self",
		Mode: agentconfig.ModeActive, PollInterval: 50 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return within 2s of cancellation")
	}
}

func TestPollIntervalBelowMinimumUsesDefault(t *testing.T) {
	loop := New(Options{Client: newMockClient(), Adapter: &mockAdapter{}, AgentID: "a", AgentName: "a"})
	require.Equal(t, DefaultPollInterval, loop.opts.PollInterval)

	loop2 := New(Options{Client: newMockClient(), Adapter: &mockAdapter{}, AgentID: "a", AgentName: "a", PollInterval: time.Millisecond})
	require.Equal(t, DefaultPollInterval, loop2.opts.PollInterval)
}
