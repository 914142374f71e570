// Package auth maps a bearer token to an agent identity. A fixed
// roster of keys is hashed once at construction into an immutable map
// (leapmux's analogue is its username/password user table, but here
// the roster is the bridge operator's static machine-agent list, not a
// mutable users table). A hit on the map auto-registers or refreshes
// the agent's row in the Store; a miss is an AuthError.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"

	"github.com/agorai/agorai/internal/bridgeerr"
	"github.com/agorai/agorai/internal/store"
)

// KeyEntry is one operator-configured roster entry: a bearer token and
// the agent profile it authenticates as.
type KeyEntry struct {
	Token          string
	AgentName      string
	Type           string
	Capabilities   []string
	ClearanceLevel store.Clearance
}

// Result is the outcome of a successful Authenticate call.
type Result struct {
	AgentID   string
	Name      string
	Clearance store.Clearance
}

// Provider resolves bearer tokens to agent identities. Its keyMap is
// built once in NewProvider and never mutated afterward, matching the
// "built at construction and treated as immutable thereafter" rule for
// the concurrency model's shared resources.
type Provider struct {
	store  *store.Store
	salt   string
	keyMap map[string]KeyEntry
}

// NewProvider hashes every entry's Token once (HMAC-SHA-256(salt, key)
// if salt is non-empty, else bare SHA-256 with a startup warning) and
// builds the immutable lookup map.
func NewProvider(entries []KeyEntry, salt string, st *store.Store) *Provider {
	if salt == "" {
		slog.Warn("auth: no salt configured, hashing API keys with bare SHA-256")
	}
	keyMap := make(map[string]KeyEntry, len(entries))
	for _, e := range entries {
		keyMap[hashToken(e.Token, salt)] = e
	}
	return &Provider{store: st, salt: salt, keyMap: keyMap}
}

func hashToken(token, salt string) string {
	if salt == "" {
		sum := sha256.Sum256([]byte(token))
		return hex.EncodeToString(sum[:])
	}
	mac := hmac.New(sha256.New, []byte(salt))
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

// Authenticate resolves a bearer token to an agent identity, upserting
// the corresponding Store row and bumping lastSeen on every hit.
func (p *Provider) Authenticate(ctx context.Context, token string) (*Result, error) {
	if token == "" {
		return nil, bridgeerr.Auth("Missing API key")
	}
	hash := hashToken(token, p.salt)
	entry, ok := p.keyMap[hash]
	if !ok {
		return nil, bridgeerr.Auth("Invalid API key")
	}

	agent, err := p.store.RegisterAgent(ctx, store.RegisterAgentParams{
		Name:           entry.AgentName,
		Type:           entry.Type,
		Capabilities:   entry.Capabilities,
		ClearanceLevel: entry.ClearanceLevel,
		ApiKeyHash:     hash,
	})
	if err != nil {
		return nil, fmt.Errorf("register agent: %w", err)
	}
	if err := p.store.UpdateAgentLastSeen(ctx, agent.ID); err != nil {
		return nil, fmt.Errorf("update last seen: %w", err)
	}
	return &Result{AgentID: agent.ID, Name: agent.Name, Clearance: agent.ClearanceLevel}, nil
}

// RegisterInternal authenticates a locally-hosted agent (one driven
// directly by internal/agentloop rather than over HTTP) under the
// synthetic identity "internal:<name>", bypassing any HTTP round trip.
func (p *Provider) RegisterInternal(ctx context.Context, name string, clearance store.Clearance, capabilities []string) (*Result, error) {
	token := "internal:" + name
	hash := hashToken(token, p.salt)
	agent, err := p.store.RegisterAgent(ctx, store.RegisterAgentParams{
		Name:           name,
		Type:           "internal",
		Capabilities:   capabilities,
		ClearanceLevel: clearance,
		ApiKeyHash:     hash,
	})
	if err != nil {
		return nil, fmt.Errorf("register internal agent: %w", err)
	}
	if err := p.store.UpdateAgentLastSeen(ctx, agent.ID); err != nil {
		return nil, fmt.Errorf("update last seen: %w", err)
	}
	return &Result{AgentID: agent.ID, Name: agent.Name, Clearance: agent.ClearanceLevel}, nil
}

// TokenFromHeader extracts a Bearer token from an Authorization header value.
func TokenFromHeader(authHeader string) string {
	const prefix = "Bearer "
	if strings.HasPrefix(authHeader, prefix) {
		return strings.TrimPrefix(authHeader, prefix)
	}
	return ""
}
