// Package store is the durable record of agents, projects,
// conversations, messages, subscriptions and read cursors, backed by
// SQLite (modernc.org/sqlite) and migrated with goose. Store is a thin
// facade over the hand-written Queries type in queries.go; it owns
// visibility filtering, read-cursor arithmetic and event publication,
// none of which belongs in the raw query layer.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/agorai/agorai/internal/bridgeerr"
	"github.com/agorai/agorai/internal/id"
)

// MaxMessagesLimit is the safety ceiling applied to GetMessages when the
// caller requests more than this many rows, or no limit at all.
const MaxMessagesLimit = 200

// Publisher is the Event Bus seam the Store emits message:created
// events through. Store accepts any Publisher so internal/eventbus has
// no reason to import internal/store.
type Publisher interface {
	Publish(Message)
}

type noopPublisher struct{}

func (noopPublisher) Publish(Message) {}

// Store is the sole owner of all entity rows; every other component
// reaches them only through its methods.
type Store struct {
	db  *sql.DB
	q   *Queries
	bus Publisher
}

// New constructs a Store over an already-migrated database handle. A
// nil bus is replaced with a no-op publisher so callers that don't care
// about live notification (tests, offline tooling) don't need to stub one.
func New(db *sql.DB, bus Publisher) *Store {
	if bus == nil {
		bus = noopPublisher{}
	}
	return &Store{db: db, q: NewQueries(db), bus: bus}
}

// --- Agents -----------------------------------------------------------

// RegisterAgentParams mirrors the registerAgent contract: upsert by
// apiKeyHash, updating the mutable profile fields on a hit.
type RegisterAgentParams struct {
	Name           string
	Type           string
	Capabilities   []string
	ClearanceLevel Clearance
	ApiKeyHash     string
}

// RegisterAgent upserts by ApiKeyHash: a known hash updates the
// existing row's name/type/capabilities/clearance and returns its id; an
// unknown hash inserts a fresh row with a new id.
func (s *Store) RegisterAgent(ctx context.Context, arg RegisterAgentParams) (Agent, error) {
	existing, err := s.q.GetAgentByApiKeyHash(ctx, arg.ApiKeyHash)
	switch {
	case err == nil:
		return s.q.UpdateAgentRegistration(ctx, UpdateAgentRegistrationParams{
			ID:             existing.ID,
			Name:           arg.Name,
			Type:           arg.Type,
			Capabilities:   arg.Capabilities,
			ClearanceLevel: arg.ClearanceLevel,
		})
	case errors.Is(err, sql.ErrNoRows):
		now := time.Now().UTC()
		return s.q.CreateAgent(ctx, CreateAgentParams{
			ID:             id.Generate(),
			Name:           arg.Name,
			Type:           arg.Type,
			Capabilities:   arg.Capabilities,
			ClearanceLevel: arg.ClearanceLevel,
			ApiKeyHash:     arg.ApiKeyHash,
			LastSeen:       now,
			CreatedAt:      now,
		})
	default:
		return Agent{}, fmt.Errorf("lookup agent by api key hash: %w", err)
	}
}

// GetAgentByApiKey looks up an agent by its already-hashed token,
// returning (nil, nil) on a miss rather than an error, so a caller can
// treat absence as routine.
func (s *Store) GetAgentByApiKey(ctx context.Context, apiKeyHash string) (*Agent, error) {
	a, err := s.q.GetAgentByApiKeyHash(ctx, apiKeyHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get agent by api key: %w", err)
	}
	return &a, nil
}

func (s *Store) GetAgentByID(ctx context.Context, id string) (*Agent, error) {
	a, err := s.q.GetAgentByID(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return &a, nil
}

// UpdateAgentLastSeen is a monotonic write of the current time; it
// never needs to compare against the prior value since wall-clock time
// only advances.
func (s *Store) UpdateAgentLastSeen(ctx context.Context, agentID string) error {
	return s.q.UpdateAgentLastSeen(ctx, agentID, time.Now().UTC())
}

// UpdateAgentProfile overwrites name/type/capabilities for an already
// registered agent (the register_agent tool's caller-scoped contract),
// explicitly leaving ClearanceLevel untouched — clearance is assigned
// only by the Auth Provider's operator-supplied roster or
// RegisterInternal, never by a self-service tool call.
func (s *Store) UpdateAgentProfile(ctx context.Context, agentID, name, typ string, capabilities []string) (Agent, error) {
	existing, err := s.q.GetAgentByID(ctx, agentID)
	if err != nil {
		return Agent{}, fmt.Errorf("get agent: %w", err)
	}
	return s.q.UpdateAgentRegistration(ctx, UpdateAgentRegistrationParams{
		ID:             agentID,
		Name:           name,
		Type:           typ,
		Capabilities:   capabilities,
		ClearanceLevel: existing.ClearanceLevel,
	})
}

func (s *Store) ListAgents(ctx context.Context) ([]Agent, error) {
	return s.q.ListAgents(ctx)
}

// --- Projects -----------------------------------------------------------

type CreateProjectArgs struct {
	Name                string
	Description         string
	Visibility          Clearance
	ConfidentialityMode ConfidentialityMode
	CreatedBy           string
}

func (s *Store) CreateProject(ctx context.Context, arg CreateProjectArgs) (Project, error) {
	mode := arg.ConfidentialityMode
	if mode == "" {
		mode = ConfidentialityNormal
	}
	return s.q.CreateProject(ctx, CreateProjectParams{
		ID:                  id.Generate(),
		Name:                arg.Name,
		Description:         arg.Description,
		Visibility:          arg.Visibility,
		ConfidentialityMode: mode,
		CreatedBy:           arg.CreatedBy,
		CreatedAt:           time.Now().UTC(),
	})
}

func (s *Store) ListProjects(ctx context.Context) ([]Project, error) {
	return s.q.ListProjects(ctx)
}

func (s *Store) GetProject(ctx context.Context, projectID string) (*Project, error) {
	p, err := s.q.GetProjectByID(ctx, projectID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return &p, nil
}

// mustProject looks up a project, translating a miss into a domain
// bridgeerr.NotFound rather than the raw sql.ErrNoRows a caller further
// up (the tool dispatcher, the session layer) cannot classify.
func (s *Store) mustProject(ctx context.Context, projectID string) (Project, error) {
	p, err := s.q.GetProjectByID(ctx, projectID)
	if errors.Is(err, sql.ErrNoRows) {
		return Project{}, bridgeerr.NotFound("project %q not found", projectID)
	}
	if err != nil {
		return Project{}, fmt.Errorf("get project: %w", err)
	}
	return p, nil
}

// --- Conversations -----------------------------------------------------------

type CreateConversationArgs struct {
	ProjectID         string
	Title             string
	DefaultVisibility Clearance
	CreatedBy         string
}

func (s *Store) CreateConversation(ctx context.Context, arg CreateConversationArgs) (Conversation, error) {
	if _, err := s.mustProject(ctx, arg.ProjectID); err != nil {
		return Conversation{}, err
	}
	return s.q.CreateConversation(ctx, CreateConversationParams{
		ID:                id.Generate(),
		ProjectID:         arg.ProjectID,
		Title:             arg.Title,
		DefaultVisibility: arg.DefaultVisibility,
		CreatedBy:         arg.CreatedBy,
		CreatedAt:         time.Now().UTC(),
	})
}

// ListConversations lists conversations, optionally scoped to a single
// project (pass "" for all projects) and optionally filtered by status.
func (s *Store) ListConversations(ctx context.Context, projectID string, status *ConversationStatus) ([]Conversation, error) {
	var all []Conversation
	var err error
	if projectID != "" {
		all, err = s.q.ListConversationsByProject(ctx, projectID)
	} else {
		all, err = s.q.ListConversations(ctx)
	}
	if err != nil {
		return nil, err
	}
	if status == nil {
		return all, nil
	}
	out := make([]Conversation, 0, len(all))
	for _, c := range all {
		if c.Status == *status {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Store) GetConversation(ctx context.Context, conversationID string) (*Conversation, error) {
	c, err := s.q.GetConversationByID(ctx, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return &c, nil
}

// mustConversation looks up a conversation, translating a miss into a
// domain bridgeerr.NotFound rather than the raw sql.ErrNoRows a caller
// further up (the tool dispatcher, the session layer) cannot classify.
func (s *Store) mustConversation(ctx context.Context, conversationID string) (Conversation, error) {
	c, err := s.q.GetConversationByID(ctx, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, bridgeerr.NotFound("conversation %q not found", conversationID)
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	return c, nil
}

// SetConversationStatus enforces the active -> closed -> archived
// monotonic progression named in the data model's invariants.
func (s *Store) SetConversationStatus(ctx context.Context, conversationID string, next ConversationStatus) error {
	c, err := s.mustConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if !c.CanTransitionTo(next) {
		return fmt.Errorf("conversation %q: cannot move from %s to %s", conversationID, c.Status, next)
	}
	return s.q.UpdateConversationStatus(ctx, conversationID, next)
}

// --- Subscriptions -----------------------------------------------------------

func (s *Store) Subscribe(ctx context.Context, conversationID, agentID string, historyAccess HistoryAccess) (Subscription, error) {
	if _, err := s.mustConversation(ctx, conversationID); err != nil {
		return Subscription{}, err
	}
	if historyAccess == "" {
		historyAccess = HistoryAccessFull
	}
	return s.q.CreateSubscription(ctx, CreateSubscriptionParams{
		ConversationID: conversationID,
		AgentID:        agentID,
		HistoryAccess:  historyAccess,
		JoinedAt:       time.Now().UTC(),
	})
}

// Unsubscribe removes the subscription row; existing messages in the
// conversation are untouched.
func (s *Store) Unsubscribe(ctx context.Context, conversationID, agentID string) error {
	return s.q.DeleteSubscription(ctx, conversationID, agentID)
}

func (s *Store) IsSubscribed(ctx context.Context, conversationID, agentID string) (bool, error) {
	_, err := s.q.GetSubscription(ctx, conversationID, agentID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get subscription: %w", err)
	}
	return true, nil
}

func (s *Store) GetSubscription(ctx context.Context, conversationID, agentID string) (*Subscription, error) {
	sub, err := s.q.GetSubscription(ctx, conversationID, agentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return &sub, nil
}

func (s *Store) ListSubscriptionsByAgent(ctx context.Context, agentID string) ([]Subscription, error) {
	return s.q.ListSubscriptionsByAgent(ctx, agentID)
}

func (s *Store) ListSubscribers(ctx context.Context, conversationID string) ([]Subscription, error) {
	return s.q.ListSubscribersByConversation(ctx, conversationID)
}

// --- Messages -----------------------------------------------------------

type SendMessageArgs struct {
	ConversationID string
	FromAgent      string
	Content        string
	Type           MessageType
	Visibility     Clearance
	Metadata       map[string]any
}

// SendMessage assigns id and createdAt, writes the row durably, then
// emits message:created on the Event Bus. A publish failure (a full
// watcher buffer, an isolated listener panic) never rolls back the
// write — the bus is best-effort by design.
func (s *Store) SendMessage(ctx context.Context, arg SendMessageArgs) (Message, error) {
	if _, err := s.mustConversation(ctx, arg.ConversationID); err != nil {
		return Message{}, err
	}
	kind := arg.Type
	if kind == "" {
		kind = MessageKindMessage
	}
	meta := stripReservedMetadata(arg.Metadata)
	msg, err := s.q.CreateMessage(ctx, CreateMessageParams{
		ID:             id.Generate(),
		ConversationID: arg.ConversationID,
		FromAgent:      arg.FromAgent,
		Content:        arg.Content,
		Type:           kind,
		Visibility:     arg.Visibility,
		CreatedAt:      time.Now().UTC(),
		Metadata:       meta,
	})
	if err != nil {
		return Message{}, err
	}
	s.bus.Publish(msg)
	return msg, nil
}

// stripReservedMetadata removes any key beginning with "_bridge",
// reserved for internal use per the data model's Message invariant.
func stripReservedMetadata(meta map[string]any) map[string]any {
	if meta == nil {
		return nil
	}
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		if len(k) >= len("_bridge") && k[:len("_bridge")] == "_bridge" {
			continue
		}
		out[k] = v
	}
	return out
}

// GetMessagesOptions controls the filtering applied by GetMessages.
type GetMessagesOptions struct {
	Since      *time.Time
	UnreadOnly bool
	Limit      int
}

// GetMessages returns a conversation's messages visible to viewerAgentID,
// ordered ascending by (createdAt, id), applying (in order) an explicit
// Since filter or, when Since is nil, the subscription's history_access
// restriction; unread-only filtering; the visibility rule; and finally
// the Limit / safety ceiling.
func (s *Store) GetMessages(ctx context.Context, conversationID, viewerAgentID string, opts GetMessagesOptions) ([]Message, error) {
	viewer, err := s.q.GetAgentByID(ctx, viewerAgentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, bridgeerr.NotFound("agent %q not found", viewerAgentID)
	}
	if err != nil {
		return nil, fmt.Errorf("get viewer: %w", err)
	}
	all, err := s.q.ListMessagesByConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	var sinceFloor *time.Time
	if opts.Since != nil {
		sinceFloor = opts.Since
	} else if sub, serr := s.q.GetSubscription(ctx, conversationID, viewerAgentID); serr == nil && sub.HistoryAccess == HistoryAccessFromJoin {
		t := sub.JoinedAt
		sinceFloor = &t
	}

	var cursor *ReadCursor
	if opts.UnreadOnly {
		c, cerr := s.q.GetReadCursor(ctx, conversationID, viewerAgentID)
		if cerr == nil {
			cursor = &c
		} else if !errors.Is(cerr, sql.ErrNoRows) {
			return nil, fmt.Errorf("get read cursor: %w", cerr)
		}
	}

	limit := opts.Limit
	if limit <= 0 || limit > MaxMessagesLimit {
		limit = MaxMessagesLimit
	}

	out := make([]Message, 0, len(all))
	for _, m := range all {
		if sinceFloor != nil {
			if opts.Since != nil {
				if !m.CreatedAt.After(*sinceFloor) {
					continue
				}
			} else if m.CreatedAt.Before(*sinceFloor) {
				continue
			}
		}
		if opts.UnreadOnly {
			if m.FromAgent == viewerAgentID {
				continue
			}
			if cursor != nil && cursor.UpToMessageID != "" && !before(cursor.UpToCreatedAt, cursor.UpToMessageID, m.CreatedAt, m.ID) {
				continue
			}
		}
		if viewer.ClearanceLevel < m.Visibility && m.FromAgent != viewerAgentID {
			continue
		}
		out = append(out, m)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// MarkRead advances agentID's read cursor in conversationID. With
// upToMessageID, the cursor moves to that message if it exists in the
// conversation; otherwise it moves to the conversation's current tail.
// The write is idempotent and monotonic: it never rewinds a cursor that
// already sits at or after the requested position.
func (s *Store) MarkRead(ctx context.Context, conversationID, agentID, upToMessageID string) error {
	var target Message
	if upToMessageID != "" {
		m, err := s.q.GetMessageByID(ctx, upToMessageID)
		if errors.Is(err, sql.ErrNoRows) {
			return bridgeerr.NotFound("message %q not found", upToMessageID)
		}
		if err != nil {
			return fmt.Errorf("get message %q: %w", upToMessageID, err)
		}
		if m.ConversationID != conversationID {
			return bridgeerr.NotFound("message %q is not in conversation %q", upToMessageID, conversationID)
		}
		target = m
	} else {
		m, err := s.q.GetLastMessage(ctx, conversationID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get last message: %w", err)
		}
		target = m
	}

	current, err := s.q.GetReadCursor(ctx, conversationID, agentID)
	if err == nil && current.UpToMessageID != "" {
		if !before(current.UpToCreatedAt, current.UpToMessageID, target.CreatedAt, target.ID) {
			return nil
		}
	} else if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("get read cursor: %w", err)
	}

	return s.q.UpsertReadCursor(ctx, UpsertReadCursorParams{
		ConversationID: conversationID,
		AgentID:        agentID,
		UpToMessageID:  target.ID,
		UpToCreatedAt:  target.CreatedAt,
	})
}

// --- Project memory -----------------------------------------------------------

type SetMemoryArgs struct {
	ProjectID string
	Key       string
	Content   string
	Tags      []string
	Type      string
	CreatedBy string
}

// SetMemory is last-write-wins: a call with the same (ProjectID, Key)
// as an existing entry overwrites its Content/Tags/Type in place.
func (s *Store) SetMemory(ctx context.Context, arg SetMemoryArgs) (MemoryEntry, error) {
	existing, err := s.findMemoryByKey(ctx, arg.ProjectID, arg.Key)
	if err != nil {
		return MemoryEntry{}, err
	}
	now := time.Now().UTC()
	if existing != nil {
		_, execErr := s.db.ExecContext(ctx,
			"UPDATE project_memory SET content = ?, tags = ?, type = ?, updated_at = ? WHERE id = ?",
			arg.Content, mustMarshalStrings(arg.Tags), arg.Type, now, existing.ID)
		if execErr != nil {
			return MemoryEntry{}, fmt.Errorf("update memory: %w", execErr)
		}
		return s.q.GetMemoryByID(ctx, existing.ID)
	}
	return s.q.CreateMemory(ctx, CreateMemoryParams{
		ID:        id.Generate(),
		ProjectID: arg.ProjectID,
		Key:       arg.Key,
		Content:   arg.Content,
		Tags:      arg.Tags,
		Type:      arg.Type,
		CreatedBy: arg.CreatedBy,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

func mustMarshalStrings(v []string) string {
	s, _ := marshalStrings(v)
	return s
}

func (s *Store) findMemoryByKey(ctx context.Context, projectID, key string) (*MemoryEntry, error) {
	all, err := s.q.ListMemoryByProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list memory: %w", err)
	}
	for _, m := range all {
		if m.Key == key {
			return &m, nil
		}
	}
	return nil, nil
}

// GetMemoryOptions filters a memory listing by tag and/or type.
type GetMemoryOptions struct {
	Key  string
	Tag  string
	Type string
}

func (s *Store) GetMemory(ctx context.Context, projectID string, opts GetMemoryOptions) ([]MemoryEntry, error) {
	all, err := s.q.ListMemoryByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	out := make([]MemoryEntry, 0, len(all))
	for _, m := range all {
		if opts.Key != "" && m.Key != opts.Key {
			continue
		}
		if opts.Type != "" && m.Type != opts.Type {
			continue
		}
		if opts.Tag != "" && !containsString(m.Tags, opts.Tag) {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *Store) DeleteMemory(ctx context.Context, memoryID string) error {
	return s.q.DeleteMemory(ctx, memoryID)
}

func containsString(haystack []string, needle string) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}
