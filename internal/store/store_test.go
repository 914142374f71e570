package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agorai/agorai/internal/bridgeerr"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, Migrate(db))
	return New(db, nil)
}

func registerTestAgent(t *testing.T, s *Store, name, hash string) Agent {
	t.Helper()
	a, err := s.RegisterAgent(context.Background(), RegisterAgentParams{
		Name: name, Type: "assistant", ApiKeyHash: hash, ClearanceLevel: ClearanceTeam,
	})
	require.NoError(t, err)
	return a
}

func TestRegisterAgentUpsertsByHash(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.RegisterAgent(ctx, RegisterAgentParams{Name: "bot", ApiKeyHash: "h1", ClearanceLevel: ClearanceTeam})
	require.NoError(t, err)

	second, err := s.RegisterAgent(ctx, RegisterAgentParams{Name: "bot-renamed", ApiKeyHash: "h1", ClearanceLevel: ClearanceConfidential})
	require.NoError(t, err)

	require.Equal(t, first.ID, second.ID, "re-registration with a known hash must update, not duplicate")
	require.Equal(t, "bot-renamed", second.Name)
	require.Equal(t, ClearanceConfidential, second.ClearanceLevel)

	all, err := s.ListAgents(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestCursorMonotonicity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	owner := registerTestAgent(t, s, "owner", "h-owner")
	reader := registerTestAgent(t, s, "reader", "h-reader")
	proj, err := s.CreateProject(ctx, CreateProjectArgs{Name: "proj", CreatedBy: owner.ID})
	require.NoError(t, err)
	conv, err := s.CreateConversation(ctx, CreateConversationArgs{ProjectID: proj.ID, Title: "c1", CreatedBy: owner.ID})
	require.NoError(t, err)
	_, err = s.Subscribe(ctx, conv.ID, reader.ID, HistoryAccessFull)
	require.NoError(t, err)

	m1, err := s.SendMessage(ctx, SendMessageArgs{ConversationID: conv.ID, FromAgent: owner.ID, Content: "one"})
	require.NoError(t, err)
	m2, err := s.SendMessage(ctx, SendMessageArgs{ConversationID: conv.ID, FromAgent: owner.ID, Content: "two"})
	require.NoError(t, err)

	require.NoError(t, s.MarkRead(ctx, conv.ID, reader.ID, m2.ID))
	c1, err := s.q.GetReadCursor(ctx, conv.ID, reader.ID)
	require.NoError(t, err)
	require.Equal(t, m2.ID, c1.UpToMessageID)

	// Attempting to rewind to an earlier message must be a no-op.
	require.NoError(t, s.MarkRead(ctx, conv.ID, reader.ID, m1.ID))
	c2, err := s.q.GetReadCursor(ctx, conv.ID, reader.ID)
	require.NoError(t, err)
	require.Equal(t, m2.ID, c2.UpToMessageID, "cursor must never rewind")
}

func TestMarkReadDefaultsToConversationTail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	owner := registerTestAgent(t, s, "owner", "h-owner")
	reader := registerTestAgent(t, s, "reader", "h-reader")
	proj, _ := s.CreateProject(ctx, CreateProjectArgs{Name: "proj", CreatedBy: owner.ID})
	conv, _ := s.CreateConversation(ctx, CreateConversationArgs{ProjectID: proj.ID, Title: "c1", CreatedBy: owner.ID})
	_, _ = s.Subscribe(ctx, conv.ID, reader.ID, HistoryAccessFull)

	m1, err := s.SendMessage(ctx, SendMessageArgs{ConversationID: conv.ID, FromAgent: owner.ID, Content: "one"})
	require.NoError(t, err)

	require.NoError(t, s.MarkRead(ctx, conv.ID, reader.ID, ""))
	cur, err := s.q.GetReadCursor(ctx, conv.ID, reader.ID)
	require.NoError(t, err)
	require.Equal(t, m1.ID, cur.UpToMessageID)
}

func TestGetMessagesUnreadOnlyExcludesOwnAndRead(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	owner := registerTestAgent(t, s, "owner", "h-owner")
	reader := registerTestAgent(t, s, "reader", "h-reader")
	proj, _ := s.CreateProject(ctx, CreateProjectArgs{Name: "proj", CreatedBy: owner.ID})
	conv, _ := s.CreateConversation(ctx, CreateConversationArgs{ProjectID: proj.ID, Title: "c1", CreatedBy: owner.ID})
	_, _ = s.Subscribe(ctx, conv.ID, reader.ID, HistoryAccessFull)

	_, err := s.SendMessage(ctx, SendMessageArgs{ConversationID: conv.ID, FromAgent: reader.ID, Content: "from reader"})
	require.NoError(t, err)
	fromOwner, err := s.SendMessage(ctx, SendMessageArgs{ConversationID: conv.ID, FromAgent: owner.ID, Content: "from owner"})
	require.NoError(t, err)

	unread, err := s.GetMessages(ctx, conv.ID, reader.ID, GetMessagesOptions{UnreadOnly: true})
	require.NoError(t, err)
	require.Len(t, unread, 1, "own messages must never count as unread")
	require.Equal(t, fromOwner.ID, unread[0].ID)

	require.NoError(t, s.MarkRead(ctx, conv.ID, reader.ID, fromOwner.ID))
	unreadAfter, err := s.GetMessages(ctx, conv.ID, reader.ID, GetMessagesOptions{UnreadOnly: true})
	require.NoError(t, err)
	require.Empty(t, unreadAfter)
}

func TestVisibilitySoundness(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	owner := registerTestAgent(t, s, "owner", "h-owner")
	low, err := s.RegisterAgent(ctx, RegisterAgentParams{Name: "low", ApiKeyHash: "h-low", ClearanceLevel: ClearancePublic})
	require.NoError(t, err)

	proj, _ := s.CreateProject(ctx, CreateProjectArgs{Name: "proj", CreatedBy: owner.ID})
	conv, _ := s.CreateConversation(ctx, CreateConversationArgs{ProjectID: proj.ID, Title: "c1", CreatedBy: owner.ID})

	secret, err := s.SendMessage(ctx, SendMessageArgs{
		ConversationID: conv.ID, FromAgent: owner.ID, Content: "top secret", Visibility: ClearanceRestricted,
	})
	require.NoError(t, err)

	visible, err := s.GetMessages(ctx, conv.ID, low.ID, GetMessagesOptions{})
	require.NoError(t, err)
	for _, m := range visible {
		require.NotEqual(t, secret.ID, m.ID, "a message above the viewer's clearance must never be returned")
	}

	// The sender can always see their own message regardless of clearance.
	ownerOwn, err := s.GetMessages(ctx, conv.ID, owner.ID, GetMessagesOptions{})
	require.NoError(t, err)
	require.Condition(t, func() bool {
		for _, m := range ownerOwn {
			if m.ID == secret.ID {
				return true
			}
		}
		return false
	})
}

func TestFromJoinRestrictsHistoryToJoinTime(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	owner := registerTestAgent(t, s, "owner", "h-owner")
	late, err := s.RegisterAgent(ctx, RegisterAgentParams{Name: "late", ApiKeyHash: "h-late", ClearanceLevel: ClearanceTeam})
	require.NoError(t, err)

	proj, _ := s.CreateProject(ctx, CreateProjectArgs{Name: "proj", CreatedBy: owner.ID})
	conv, _ := s.CreateConversation(ctx, CreateConversationArgs{ProjectID: proj.ID, Title: "c1", CreatedBy: owner.ID})

	before, err := s.SendMessage(ctx, SendMessageArgs{ConversationID: conv.ID, FromAgent: owner.ID, Content: "before join"})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)

	_, err = s.Subscribe(ctx, conv.ID, late.ID, HistoryAccessFromJoin)
	require.NoError(t, err)

	after, err := s.SendMessage(ctx, SendMessageArgs{ConversationID: conv.ID, FromAgent: owner.ID, Content: "after join"})
	require.NoError(t, err)

	msgs, err := s.GetMessages(ctx, conv.ID, late.ID, GetMessagesOptions{})
	require.NoError(t, err)
	var ids []string
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	require.NotContains(t, ids, before.ID, "from_join must hide messages sent before the subscription was created")
	require.Contains(t, ids, after.ID)

	// An explicit since is honored verbatim and may surface older messages.
	zero := time.Time{}
	explicit, err := s.GetMessages(ctx, conv.ID, late.ID, GetMessagesOptions{Since: &zero})
	require.NoError(t, err)
	var explicitIDs []string
	for _, m := range explicit {
		explicitIDs = append(explicitIDs, m.ID)
	}
	require.Contains(t, explicitIDs, before.ID)
}

func TestSendMessageStripsReservedMetadata(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	owner := registerTestAgent(t, s, "owner", "h-owner")
	proj, _ := s.CreateProject(ctx, CreateProjectArgs{Name: "proj", CreatedBy: owner.ID})
	conv, _ := s.CreateConversation(ctx, CreateConversationArgs{ProjectID: proj.ID, Title: "c1", CreatedBy: owner.ID})

	msg, err := s.SendMessage(ctx, SendMessageArgs{
		ConversationID: conv.ID, FromAgent: owner.ID, Content: "hi",
		Metadata: map[string]any{"_bridge_internal": "x", "keep": "y"},
	})
	require.NoError(t, err)
	_, hasReserved := msg.Metadata["_bridge_internal"]
	require.False(t, hasReserved)
	require.Equal(t, "y", msg.Metadata["keep"])
}

func TestMissingReferencesSurfaceAsDomainNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	owner := registerTestAgent(t, s, "owner", "h-owner")

	_, err := s.CreateConversation(ctx, CreateConversationArgs{ProjectID: "no-such-project", Title: "c1", CreatedBy: owner.ID})
	kind, ok := bridgeerr.KindOf(err)
	require.True(t, ok, "missing project must surface as a *bridgeerr.Error, not a raw sql error")
	require.Equal(t, bridgeerr.KindNotFound, kind)

	_, err = s.Subscribe(ctx, "no-such-conversation", owner.ID, HistoryAccessFull)
	kind, ok = bridgeerr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, bridgeerr.KindNotFound, kind)

	_, err = s.SendMessage(ctx, SendMessageArgs{ConversationID: "no-such-conversation", FromAgent: owner.ID, Content: "hi"})
	kind, ok = bridgeerr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, bridgeerr.KindNotFound, kind)

	err = s.MarkRead(ctx, "no-such-conversation", owner.ID, "no-such-message")
	kind, ok = bridgeerr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, bridgeerr.KindNotFound, kind)
}

func TestProjectMemoryLastWriteWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	owner := registerTestAgent(t, s, "owner", "h-owner")
	proj, _ := s.CreateProject(ctx, CreateProjectArgs{Name: "proj", CreatedBy: owner.ID})

	_, err := s.SetMemory(ctx, SetMemoryArgs{ProjectID: proj.ID, Key: "k", Content: "v1", Tags: []string{"a"}, CreatedBy: owner.ID})
	require.NoError(t, err)
	updated, err := s.SetMemory(ctx, SetMemoryArgs{ProjectID: proj.ID, Key: "k", Content: "v2", Tags: []string{"b"}, CreatedBy: owner.ID})
	require.NoError(t, err)

	entries, err := s.GetMemory(ctx, proj.ID, GetMemoryOptions{})
	require.NoError(t, err)
	require.Len(t, entries, 1, "same key must overwrite, not duplicate")
	require.Equal(t, "v2", entries[0].Content)

	require.NoError(t, s.DeleteMemory(ctx, updated.ID))
	after, err := s.GetMemory(ctx, proj.ID, GetMemoryOptions{})
	require.NoError(t, err)
	require.Empty(t, after)
}
