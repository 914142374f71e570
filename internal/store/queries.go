package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx, the same seam
// leapmux's generated query layer uses to let callers choose whether an
// operation runs standalone or inside a transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries is a hand-written, sqlc-shaped query layer: one typed
// ...Params struct and one Create/Get/List/Update method per statement.
// There is no code generator in this module, so this file is authored
// directly in the same texture sqlc output has.
type Queries struct {
	db DBTX
}

// NewQueries returns a Queries bound to db (a *sql.DB or an in-flight *sql.Tx).
func NewQueries(db DBTX) *Queries {
	return &Queries{db: db}
}

// WithTx returns a Queries bound to tx instead of q's original handle.
func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

func marshalStrings(v []string) (string, error) {
	if v == nil {
		v = []string{}
	}
	b, err := json.Marshal(v)
	return string(b), err
}

func unmarshalStrings(s string) ([]string, error) {
	if s == "" {
		return []string{}, nil
	}
	var v []string
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	return v, nil
}

func marshalMetadata(v map[string]any) (string, error) {
	if v == nil {
		v = map[string]any{}
	}
	b, err := json.Marshal(v)
	return string(b), err
}

func unmarshalMetadata(s string) (map[string]any, error) {
	if s == "" {
		return map[string]any{}, nil
	}
	var v map[string]any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	return v, nil
}

// --- Agents -----------------------------------------------------------

type CreateAgentParams struct {
	ID             string
	Name           string
	Type           string
	Capabilities   []string
	ClearanceLevel Clearance
	ApiKeyHash     string
	LastSeen       time.Time
	CreatedAt      time.Time
}

func (q *Queries) CreateAgent(ctx context.Context, arg CreateAgentParams) (Agent, error) {
	caps, err := marshalStrings(arg.Capabilities)
	if err != nil {
		return Agent{}, fmt.Errorf("marshal capabilities: %w", err)
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO agents (id, name, type, capabilities, clearance_level, api_key_hash, last_seen, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		arg.ID, arg.Name, arg.Type, caps, int(arg.ClearanceLevel), arg.ApiKeyHash, arg.LastSeen, arg.CreatedAt)
	if err != nil {
		return Agent{}, fmt.Errorf("insert agent: %w", err)
	}
	return Agent{
		ID: arg.ID, Name: arg.Name, Type: arg.Type, Capabilities: arg.Capabilities,
		ClearanceLevel: arg.ClearanceLevel, ApiKeyHash: arg.ApiKeyHash,
		LastSeen: arg.LastSeen, CreatedAt: arg.CreatedAt,
	}, nil
}

func scanAgent(row interface{ Scan(dest ...any) error }) (Agent, error) {
	var a Agent
	var caps string
	var clearance int
	if err := row.Scan(&a.ID, &a.Name, &a.Type, &caps, &clearance, &a.ApiKeyHash, &a.LastSeen, &a.CreatedAt); err != nil {
		return Agent{}, err
	}
	a.ClearanceLevel = Clearance(clearance)
	parsed, err := unmarshalStrings(caps)
	if err != nil {
		return Agent{}, fmt.Errorf("unmarshal capabilities: %w", err)
	}
	a.Capabilities = parsed
	return a, nil
}

const agentColumns = "id, name, type, capabilities, clearance_level, api_key_hash, last_seen, created_at"

func (q *Queries) GetAgentByID(ctx context.Context, id string) (Agent, error) {
	row := q.db.QueryRowContext(ctx, "SELECT "+agentColumns+" FROM agents WHERE id = ?", id)
	return scanAgent(row)
}

func (q *Queries) GetAgentByApiKeyHash(ctx context.Context, hash string) (Agent, error) {
	row := q.db.QueryRowContext(ctx, "SELECT "+agentColumns+" FROM agents WHERE api_key_hash = ?", hash)
	return scanAgent(row)
}

type UpdateAgentRegistrationParams struct {
	ID             string
	Name           string
	Type           string
	Capabilities   []string
	ClearanceLevel Clearance
}

func (q *Queries) UpdateAgentRegistration(ctx context.Context, arg UpdateAgentRegistrationParams) (Agent, error) {
	caps, err := marshalStrings(arg.Capabilities)
	if err != nil {
		return Agent{}, fmt.Errorf("marshal capabilities: %w", err)
	}
	_, err = q.db.ExecContext(ctx, `
		UPDATE agents SET name = ?, type = ?, capabilities = ?, clearance_level = ?
		WHERE id = ?`, arg.Name, arg.Type, caps, int(arg.ClearanceLevel), arg.ID)
	if err != nil {
		return Agent{}, fmt.Errorf("update agent: %w", err)
	}
	return q.GetAgentByID(ctx, arg.ID)
}

func (q *Queries) UpdateAgentLastSeen(ctx context.Context, id string, seen time.Time) error {
	_, err := q.db.ExecContext(ctx, "UPDATE agents SET last_seen = ? WHERE id = ?", seen, id)
	if err != nil {
		return fmt.Errorf("update agent last_seen: %w", err)
	}
	return nil
}

func (q *Queries) ListAgents(ctx context.Context) ([]Agent, error) {
	rows, err := q.db.QueryContext(ctx, "SELECT "+agentColumns+" FROM agents ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()
	var out []Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// --- Projects -----------------------------------------------------------

type CreateProjectParams struct {
	ID                  string
	Name                string
	Description         string
	Visibility          Clearance
	ConfidentialityMode ConfidentialityMode
	CreatedBy           string
	CreatedAt           time.Time
}

func (q *Queries) CreateProject(ctx context.Context, arg CreateProjectParams) (Project, error) {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, description, visibility, confidentiality_mode, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		arg.ID, arg.Name, arg.Description, int(arg.Visibility), string(arg.ConfidentialityMode), arg.CreatedBy, arg.CreatedAt)
	if err != nil {
		return Project{}, fmt.Errorf("insert project: %w", err)
	}
	return Project{
		ID: arg.ID, Name: arg.Name, Description: arg.Description, Visibility: arg.Visibility,
		ConfidentialityMode: arg.ConfidentialityMode, CreatedBy: arg.CreatedBy, CreatedAt: arg.CreatedAt,
	}, nil
}

const projectColumns = "id, name, description, visibility, confidentiality_mode, created_by, created_at"

func scanProject(row interface{ Scan(dest ...any) error }) (Project, error) {
	var p Project
	var visibility int
	var mode string
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &visibility, &mode, &p.CreatedBy, &p.CreatedAt); err != nil {
		return Project{}, err
	}
	p.Visibility = Clearance(visibility)
	p.ConfidentialityMode = ConfidentialityMode(mode)
	return p, nil
}

func (q *Queries) GetProjectByID(ctx context.Context, id string) (Project, error) {
	row := q.db.QueryRowContext(ctx, "SELECT "+projectColumns+" FROM projects WHERE id = ?", id)
	return scanProject(row)
}

func (q *Queries) ListProjects(ctx context.Context) ([]Project, error) {
	rows, err := q.db.QueryContext(ctx, "SELECT "+projectColumns+" FROM projects ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()
	var out []Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// --- Conversations -----------------------------------------------------------

type CreateConversationParams struct {
	ID                string
	ProjectID         string
	Title             string
	DefaultVisibility Clearance
	CreatedBy         string
	CreatedAt         time.Time
}

func (q *Queries) CreateConversation(ctx context.Context, arg CreateConversationParams) (Conversation, error) {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO conversations (id, project_id, title, status, default_visibility, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		arg.ID, arg.ProjectID, arg.Title, string(ConversationActive), int(arg.DefaultVisibility), arg.CreatedBy, arg.CreatedAt)
	if err != nil {
		return Conversation{}, fmt.Errorf("insert conversation: %w", err)
	}
	return Conversation{
		ID: arg.ID, ProjectID: arg.ProjectID, Title: arg.Title, Status: ConversationActive,
		DefaultVisibility: arg.DefaultVisibility, CreatedBy: arg.CreatedBy, CreatedAt: arg.CreatedAt,
	}, nil
}

const conversationColumns = "id, project_id, title, status, default_visibility, created_by, created_at"

func scanConversation(row interface{ Scan(dest ...any) error }) (Conversation, error) {
	var c Conversation
	var status string
	var visibility int
	if err := row.Scan(&c.ID, &c.ProjectID, &c.Title, &status, &visibility, &c.CreatedBy, &c.CreatedAt); err != nil {
		return Conversation{}, err
	}
	c.Status = ConversationStatus(status)
	c.DefaultVisibility = Clearance(visibility)
	return c, nil
}

func (q *Queries) GetConversationByID(ctx context.Context, id string) (Conversation, error) {
	row := q.db.QueryRowContext(ctx, "SELECT "+conversationColumns+" FROM conversations WHERE id = ?", id)
	return scanConversation(row)
}

func (q *Queries) ListConversationsByProject(ctx context.Context, projectID string) ([]Conversation, error) {
	rows, err := q.db.QueryContext(ctx,
		"SELECT "+conversationColumns+" FROM conversations WHERE project_id = ? ORDER BY created_at, id", projectID)
	if err != nil {
		return nil, fmt.Errorf("list conversations by project: %w", err)
	}
	defer rows.Close()
	var out []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (q *Queries) ListConversations(ctx context.Context) ([]Conversation, error) {
	rows, err := q.db.QueryContext(ctx, "SELECT "+conversationColumns+" FROM conversations ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()
	var out []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (q *Queries) UpdateConversationStatus(ctx context.Context, id string, status ConversationStatus) error {
	_, err := q.db.ExecContext(ctx, "UPDATE conversations SET status = ? WHERE id = ?", string(status), id)
	if err != nil {
		return fmt.Errorf("update conversation status: %w", err)
	}
	return nil
}

// --- Subscriptions -----------------------------------------------------------

type CreateSubscriptionParams struct {
	ConversationID string
	AgentID        string
	HistoryAccess  HistoryAccess
	JoinedAt       time.Time
}

func (q *Queries) CreateSubscription(ctx context.Context, arg CreateSubscriptionParams) (Subscription, error) {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO subscriptions (conversation_id, agent_id, history_access, joined_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (conversation_id, agent_id) DO UPDATE SET history_access = excluded.history_access`,
		arg.ConversationID, arg.AgentID, string(arg.HistoryAccess), arg.JoinedAt)
	if err != nil {
		return Subscription{}, fmt.Errorf("insert subscription: %w", err)
	}
	return q.GetSubscription(ctx, arg.ConversationID, arg.AgentID)
}

const subscriptionColumns = "conversation_id, agent_id, history_access, joined_at"

func scanSubscription(row interface{ Scan(dest ...any) error }) (Subscription, error) {
	var s Subscription
	var access string
	if err := row.Scan(&s.ConversationID, &s.AgentID, &access, &s.JoinedAt); err != nil {
		return Subscription{}, err
	}
	s.HistoryAccess = HistoryAccess(access)
	return s, nil
}

func (q *Queries) GetSubscription(ctx context.Context, conversationID, agentID string) (Subscription, error) {
	row := q.db.QueryRowContext(ctx,
		"SELECT "+subscriptionColumns+" FROM subscriptions WHERE conversation_id = ? AND agent_id = ?",
		conversationID, agentID)
	return scanSubscription(row)
}

func (q *Queries) DeleteSubscription(ctx context.Context, conversationID, agentID string) error {
	_, err := q.db.ExecContext(ctx,
		"DELETE FROM subscriptions WHERE conversation_id = ? AND agent_id = ?", conversationID, agentID)
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	return nil
}

func (q *Queries) ListSubscriptionsByAgent(ctx context.Context, agentID string) ([]Subscription, error) {
	rows, err := q.db.QueryContext(ctx,
		"SELECT "+subscriptionColumns+" FROM subscriptions WHERE agent_id = ?", agentID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions by agent: %w", err)
	}
	defer rows.Close()
	var out []Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (q *Queries) ListSubscribersByConversation(ctx context.Context, conversationID string) ([]Subscription, error) {
	rows, err := q.db.QueryContext(ctx,
		"SELECT "+subscriptionColumns+" FROM subscriptions WHERE conversation_id = ?", conversationID)
	if err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	defer rows.Close()
	var out []Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// --- Messages -----------------------------------------------------------

type CreateMessageParams struct {
	ID             string
	ConversationID string
	FromAgent      string
	Content        string
	Type           MessageType
	Visibility     Clearance
	CreatedAt      time.Time
	Metadata       map[string]any
}

func (q *Queries) CreateMessage(ctx context.Context, arg CreateMessageParams) (Message, error) {
	meta, err := marshalMetadata(arg.Metadata)
	if err != nil {
		return Message{}, fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, from_agent, content, type, visibility, created_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		arg.ID, arg.ConversationID, arg.FromAgent, arg.Content, string(arg.Type), int(arg.Visibility), arg.CreatedAt, meta)
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}
	return Message{
		ID: arg.ID, ConversationID: arg.ConversationID, FromAgent: arg.FromAgent, Content: arg.Content,
		Type: arg.Type, Visibility: arg.Visibility, CreatedAt: arg.CreatedAt, Metadata: arg.Metadata,
	}, nil
}

const messageColumns = "id, conversation_id, from_agent, content, type, visibility, created_at, metadata"

func scanMessage(row interface{ Scan(dest ...any) error }) (Message, error) {
	var m Message
	var kind string
	var visibility int
	var meta string
	if err := row.Scan(&m.ID, &m.ConversationID, &m.FromAgent, &m.Content, &kind, &visibility, &m.CreatedAt, &meta); err != nil {
		return Message{}, err
	}
	m.Type = MessageType(kind)
	m.Visibility = Clearance(visibility)
	parsed, err := unmarshalMetadata(meta)
	if err != nil {
		return Message{}, fmt.Errorf("unmarshal metadata: %w", err)
	}
	m.Metadata = parsed
	return m, nil
}

func (q *Queries) GetMessageByID(ctx context.Context, id string) (Message, error) {
	row := q.db.QueryRowContext(ctx, "SELECT "+messageColumns+" FROM messages WHERE id = ?", id)
	return scanMessage(row)
}

// ListMessagesByConversation returns every message of a conversation in
// ascending (created_at, id) order, with no visibility or read-state
// filtering applied; callers apply those at the store-facade layer.
func (q *Queries) ListMessagesByConversation(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := q.db.QueryContext(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE conversation_id = ? ORDER BY created_at, id", conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()
	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (q *Queries) GetLastMessage(ctx context.Context, conversationID string) (Message, error) {
	row := q.db.QueryRowContext(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE conversation_id = ? ORDER BY created_at DESC, id DESC LIMIT 1",
		conversationID)
	return scanMessage(row)
}

// --- Read cursors -----------------------------------------------------------

type UpsertReadCursorParams struct {
	ConversationID string
	AgentID        string
	UpToMessageID  string
	UpToCreatedAt  time.Time
}

func (q *Queries) UpsertReadCursor(ctx context.Context, arg UpsertReadCursorParams) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO read_cursors (conversation_id, agent_id, up_to_message_id, up_to_created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (conversation_id, agent_id) DO UPDATE SET
			up_to_message_id = excluded.up_to_message_id,
			up_to_created_at = excluded.up_to_created_at`,
		arg.ConversationID, arg.AgentID, arg.UpToMessageID, arg.UpToCreatedAt)
	if err != nil {
		return fmt.Errorf("upsert read cursor: %w", err)
	}
	return nil
}

func (q *Queries) GetReadCursor(ctx context.Context, conversationID, agentID string) (ReadCursor, error) {
	row := q.db.QueryRowContext(ctx,
		"SELECT conversation_id, agent_id, up_to_message_id, up_to_created_at FROM read_cursors WHERE conversation_id = ? AND agent_id = ?",
		conversationID, agentID)
	var c ReadCursor
	var createdAt sql.NullTime
	if err := row.Scan(&c.ConversationID, &c.AgentID, &c.UpToMessageID, &createdAt); err != nil {
		return ReadCursor{}, err
	}
	if createdAt.Valid {
		c.UpToCreatedAt = createdAt.Time
	}
	return c, nil
}

// --- Project memory -----------------------------------------------------------

type CreateMemoryParams struct {
	ID        string
	ProjectID string
	Key       string
	Content   string
	Tags      []string
	Type      string
	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (q *Queries) CreateMemory(ctx context.Context, arg CreateMemoryParams) (MemoryEntry, error) {
	tags, err := marshalStrings(arg.Tags)
	if err != nil {
		return MemoryEntry{}, fmt.Errorf("marshal tags: %w", err)
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO project_memory (id, project_id, key, content, tags, type, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		arg.ID, arg.ProjectID, arg.Key, arg.Content, tags, arg.Type, arg.CreatedBy, arg.CreatedAt, arg.UpdatedAt)
	if err != nil {
		return MemoryEntry{}, fmt.Errorf("insert memory: %w", err)
	}
	return MemoryEntry{
		ID: arg.ID, ProjectID: arg.ProjectID, Key: arg.Key, Content: arg.Content, Tags: arg.Tags,
		Type: arg.Type, CreatedBy: arg.CreatedBy, CreatedAt: arg.CreatedAt, UpdatedAt: arg.UpdatedAt,
	}, nil
}

const memoryColumns = "id, project_id, key, content, tags, type, created_by, created_at, updated_at"

func scanMemory(row interface{ Scan(dest ...any) error }) (MemoryEntry, error) {
	var m MemoryEntry
	var tags string
	if err := row.Scan(&m.ID, &m.ProjectID, &m.Key, &m.Content, &tags, &m.Type, &m.CreatedBy, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return MemoryEntry{}, err
	}
	parsed, err := unmarshalStrings(tags)
	if err != nil {
		return MemoryEntry{}, fmt.Errorf("unmarshal tags: %w", err)
	}
	m.Tags = parsed
	return m, nil
}

func (q *Queries) GetMemoryByID(ctx context.Context, id string) (MemoryEntry, error) {
	row := q.db.QueryRowContext(ctx, "SELECT "+memoryColumns+" FROM project_memory WHERE id = ?", id)
	return scanMemory(row)
}

func (q *Queries) ListMemoryByProject(ctx context.Context, projectID string) ([]MemoryEntry, error) {
	rows, err := q.db.QueryContext(ctx,
		"SELECT "+memoryColumns+" FROM project_memory WHERE project_id = ? ORDER BY created_at, id", projectID)
	if err != nil {
		return nil, fmt.Errorf("list memory: %w", err)
	}
	defer rows.Close()
	var out []MemoryEntry
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (q *Queries) DeleteMemory(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, "DELETE FROM project_memory WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete memory: %w", err)
	}
	return nil
}
