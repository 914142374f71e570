package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agorai/agorai/internal/bridgeerr"
	"github.com/agorai/agorai/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, store.Migrate(db))
	return store.New(db, nil)
}

func TestAuthenticateMissingToken(t *testing.T) {
	p := NewProvider(nil, "s", newTestStore(t))
	_, err := p.Authenticate(context.Background(), "")
	require.Error(t, err)
	kind, ok := bridgeerr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, bridgeerr.KindAuth, kind)
}

func TestAuthenticateUnknownToken(t *testing.T) {
	p := NewProvider(nil, "s", newTestStore(t))
	_, err := p.Authenticate(context.Background(), "nope")
	require.Error(t, err)
}

func TestAuthenticateKnownTokenRegistersAgent(t *testing.T) {
	st := newTestStore(t)
	p := NewProvider([]KeyEntry{
		{Token: "tok-1", AgentName: "reviewer", Type: "assistant", ClearanceLevel: store.ClearanceTeam},
	}, "salt", st)

	res, err := p.Authenticate(context.Background(), "tok-1")
	require.NoError(t, err)
	require.Equal(t, "reviewer", res.Name)
	require.Equal(t, store.ClearanceTeam, res.Clearance)

	agent, err := st.GetAgentByID(context.Background(), res.AgentID)
	require.NoError(t, err)
	require.NotNil(t, agent)
	require.Equal(t, "reviewer", agent.Name)
}

func TestAuthenticateSameTokenReturnsSameAgent(t *testing.T) {
	st := newTestStore(t)
	p := NewProvider([]KeyEntry{
		{Token: "tok-1", AgentName: "reviewer", ClearanceLevel: store.ClearanceTeam},
	}, "salt", st)

	first, err := p.Authenticate(context.Background(), "tok-1")
	require.NoError(t, err)
	second, err := p.Authenticate(context.Background(), "tok-1")
	require.NoError(t, err)
	require.Equal(t, first.AgentID, second.AgentID)
}

func TestRegisterInternalUsesSyntheticIdentity(t *testing.T) {
	st := newTestStore(t)
	p := NewProvider(nil, "salt", st)

	res, err := p.RegisterInternal(context.Background(), "local-bot", store.ClearanceConfidential, []string{"code-review"})
	require.NoError(t, err)
	require.Equal(t, "local-bot", res.Name)
	require.Equal(t, store.ClearanceConfidential, res.Clearance)

	// Calling it again for the same name must resolve to the same agent.
	res2, err := p.RegisterInternal(context.Background(), "local-bot", store.ClearanceConfidential, []string{"code-review"})
	require.NoError(t, err)
	require.Equal(t, res.AgentID, res2.AgentID)
}

func TestTokenFromHeader(t *testing.T) {
	require.Equal(t, "abc", TokenFromHeader("Bearer abc"))
	require.Equal(t, "", TokenFromHeader("abc"))
	require.Equal(t, "", TokenFromHeader(""))
}
