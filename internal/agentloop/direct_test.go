package agentloop

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agorai/agorai/internal/agentconfig"
	"github.com/agorai/agorai/internal/eventbus"
	"github.com/agorai/agorai/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, store.Migrate(db))
	return store.New(db, eventbus.New())
}

// TestDirectClientEndToEndTick exercises discovery, subscription, and a
// reply through the real Store rather than a mock, so the run-loop's
// tick contract is validated against the actual persistence layer and
// not only against a hand-rolled BridgeClient double.
func TestDirectClientEndToEndTick(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	human, err := st.RegisterAgent(ctx, store.RegisterAgentParams{
		Name: "human", Type: "human", ClearanceLevel: store.ClearanceTeam, ApiKeyHash: "human-hash",
	})
	require.NoError(t, err)
	bot, err := st.RegisterAgent(ctx, store.RegisterAgentParams{
		Name: "reviewer-bot", Type: "agent", ClearanceLevel: store.ClearanceTeam, ApiKeyHash: "bot-hash",
	})
	require.NoError(t, err)

	project, err := st.CreateProject(ctx, store.CreateProjectArgs{
		Name: "demo", Visibility: store.ClearanceTeam, CreatedBy: human.ID,
	})
	require.NoError(t, err)
	conv, err := st.CreateConversation(ctx, store.CreateConversationArgs{
		ProjectID: project.ID, Title: "general", DefaultVisibility: store.ClearanceTeam, CreatedBy: human.ID,
	})
	require.NoError(t, err)

	client := NewDirectClient(st, bot.ID)
	adapter := &mockAdapter{reply: "looks good to me"}
	loop := New(Options{
		Client: client, Adapter: adapter,
		AgentID: bot.ID, AgentName: "reviewer-bot",
		Mode: agentconfig.ModePassive, PollInterval: MinPollInterval,
	})

	// First tick only discovers the conversation and subscribes
	// (history_access=from_join); no messages exist yet.
	require.NoError(t, loop.tick(ctx))
	require.Equal(t, 0, adapter.callCount())

	_, err = st.SendMessage(ctx, store.SendMessageArgs{
		ConversationID: conv.ID, FromAgent: human.ID, Content: "@reviewer-bot please take a look", Type: store.MessageKindMessage,
	})
	require.NoError(t, err)

	require.NoError(t, loop.tick(ctx))
	require.Equal(t, 1, adapter.callCount())

	msgs, err := st.GetMessages(ctx, conv.ID, human.ID, store.GetMessagesOptions{})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "looks good to me", msgs[1].Content)

	unread, err := st.GetMessages(ctx, conv.ID, bot.ID, store.GetMessagesOptions{UnreadOnly: true})
	require.NoError(t, err)
	require.Empty(t, unread, "the triggering message must be marked read after a successful reply")

	// A second tick with nothing new must not produce another reply.
	require.NoError(t, loop.tick(ctx))
	require.Equal(t, 1, adapter.callCount())
}
