// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides agent/project/conversation persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout is a fixed-width UTC timestamp format. Fixed width keeps
// lexicographic ordering identical to chronological ordering, which the
// (created_at, id) message order depends on.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Rows written by older builds used plain RFC3339
		t, err = time.Parse(time.RFC3339, s)
	}
	return t, err
}

// MessagePublisher receives messages after they are durably written.
// Implemented by the event bus; nil disables notification.
type MessagePublisher interface {
	PublishMessage(msg *Message)
}

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	events MessagePublisher
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string, events MessagePublisher) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		events: events,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS agents (
			id           TEXT PRIMARY KEY,
			name         TEXT NOT NULL,
			type         TEXT NOT NULL DEFAULT '',
			capabilities TEXT NOT NULL DEFAULT '',
			clearance    TEXT NOT NULL DEFAULT 'team',
			api_key_hash TEXT NOT NULL UNIQUE,
			last_seen    TEXT NOT NULL,
			created_at   TEXT NOT NULL,

			CHECK (clearance IN ('public', 'team', 'confidential', 'restricted'))
		);

		CREATE INDEX IF NOT EXISTS idx_agents_key_hash ON agents(api_key_hash);

		CREATE TABLE IF NOT EXISTS projects (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			visibility  TEXT NOT NULL DEFAULT 'team',
			mode        TEXT NOT NULL DEFAULT 'normal',
			created_by  TEXT NOT NULL,
			created_at  TEXT NOT NULL,

			CHECK (visibility IN ('public', 'team', 'confidential', 'restricted')),
			CHECK (mode IN ('normal', 'strict', 'flexible'))
		);

		CREATE TABLE IF NOT EXISTS conversations (
			id                 TEXT PRIMARY KEY,
			project_id         TEXT NOT NULL REFERENCES projects(id),
			title              TEXT NOT NULL,
			status             TEXT NOT NULL DEFAULT 'active',
			default_visibility TEXT NOT NULL DEFAULT 'team',
			created_by         TEXT NOT NULL,
			created_at         TEXT NOT NULL,

			CHECK (status IN ('active', 'closed', 'archived'))
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_project ON conversations(project_id);

		CREATE TABLE IF NOT EXISTS messages (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id),
			from_agent      TEXT NOT NULL,
			content         TEXT NOT NULL,
			type            TEXT NOT NULL DEFAULT 'message',
			visibility      TEXT NOT NULL DEFAULT 'team',
			metadata_json   TEXT,
			created_at      TEXT NOT NULL,

			CHECK (type IN ('message', 'spec', 'result', 'review', 'status', 'question')),
			CHECK (visibility IN ('public', 'team', 'confidential', 'restricted'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conv_created
			ON messages(conversation_id, created_at, id);

		CREATE TABLE IF NOT EXISTS subscriptions (
			conversation_id TEXT NOT NULL REFERENCES conversations(id),
			agent_id        TEXT NOT NULL,
			history_access  TEXT NOT NULL DEFAULT 'full',
			joined_at       TEXT NOT NULL,

			PRIMARY KEY (conversation_id, agent_id),
			CHECK (history_access IN ('full', 'from_join'))
		);

		CREATE INDEX IF NOT EXISTS idx_subscriptions_agent ON subscriptions(agent_id);

		CREATE TABLE IF NOT EXISTS read_cursors (
			conversation_id  TEXT NOT NULL REFERENCES conversations(id),
			agent_id         TEXT NOT NULL,
			up_to_message_id TEXT NOT NULL,
			up_to_created_at TEXT NOT NULL,

			PRIMARY KEY (conversation_id, agent_id)
		);

		CREATE TABLE IF NOT EXISTS project_memory (
			id         TEXT NOT NULL,
			project_id TEXT NOT NULL REFERENCES projects(id),
			content    TEXT NOT NULL,
			type       TEXT NOT NULL DEFAULT '',
			tags       TEXT NOT NULL DEFAULT '',
			created_by TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,

			PRIMARY KEY (project_id, id)
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// encodeList packs a string slice into a single column value.
func encodeList(items []string) string {
	return strings.Join(items, ",")
}

// decodeList unpacks a column value written by encodeList.
func decodeList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// RegisterAgent upserts an agent by api_key_hash. On a hash match the
// existing row keeps its id and created_at; name, type, capabilities and
// clearance are updated. Otherwise a fresh row is inserted.
func (s *SQLiteStore) RegisterAgent(ctx context.Context, spec AgentSpec) (*Agent, error) {
	if spec.APIKeyHash == "" {
		return nil, fmt.Errorf("api key hash is required")
	}
	clearance := spec.ClearanceLevel
	if !clearance.Valid() {
		clearance = ClearanceTeam
	}

	existing, err := s.GetAgentByAPIKeyHash(ctx, spec.APIKeyHash)
	if err != nil && err != ErrNotFound {
		return nil, err
	}

	now := time.Now()
	if existing != nil {
		query := `
			UPDATE agents
			SET name = ?, type = ?, capabilities = ?, clearance = ?, last_seen = ?
			WHERE id = ?
		`
		if _, err := s.db.ExecContext(ctx, query,
			spec.Name, spec.Type, encodeList(spec.Capabilities),
			string(clearance), formatTime(now), existing.ID,
		); err != nil {
			return nil, fmt.Errorf("updating agent: %w", err)
		}
		existing.Name = spec.Name
		existing.Type = spec.Type
		existing.Capabilities = spec.Capabilities
		existing.ClearanceLevel = clearance
		existing.LastSeen = now
		s.logger.Debug("re-registered agent", "id", existing.ID, "name", spec.Name)
		return existing, nil
	}

	agent := &Agent{
		ID:             newID(),
		Name:           spec.Name,
		Type:           spec.Type,
		Capabilities:   spec.Capabilities,
		ClearanceLevel: clearance,
		APIKeyHash:     spec.APIKeyHash,
		LastSeen:       now,
		CreatedAt:      now,
	}

	query := `
		INSERT INTO agents (id, name, type, capabilities, clearance, api_key_hash, last_seen, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query,
		agent.ID, agent.Name, agent.Type, encodeList(agent.Capabilities),
		string(agent.ClearanceLevel), agent.APIKeyHash,
		formatTime(now), formatTime(now),
	); err != nil {
		if isConstraintViolation(err) {
			// Lost a race with a concurrent registration of the same key
			return s.GetAgentByAPIKeyHash(ctx, spec.APIKeyHash)
		}
		return nil, fmt.Errorf("inserting agent: %w", err)
	}

	s.logger.Debug("registered agent", "id", agent.ID, "name", agent.Name)
	return agent, nil
}

func (s *SQLiteStore) scanAgent(row *sql.Row) (*Agent, error) {
	var a Agent
	var caps, clearance, lastSeen, createdAt string

	err := row.Scan(&a.ID, &a.Name, &a.Type, &caps, &clearance, &a.APIKeyHash, &lastSeen, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning agent: %w", err)
	}

	a.Capabilities = decodeList(caps)
	a.ClearanceLevel = Clearance(clearance)
	if a.LastSeen, err = parseTime(lastSeen); err != nil {
		return nil, fmt.Errorf("parsing last_seen: %w", err)
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &a, nil
}

const agentColumns = `id, name, type, capabilities, clearance, api_key_hash, last_seen, created_at`

// GetAgent retrieves an agent by ID.
// Returns ErrNotFound if the agent doesn't exist.
func (s *SQLiteStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
	return s.scanAgent(row)
}

// GetAgentByAPIKeyHash retrieves an agent by its hashed bearer key.
func (s *SQLiteStore) GetAgentByAPIKeyHash(ctx context.Context, hash string) (*Agent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE api_key_hash = ?`, hash)
	return s.scanAgent(row)
}

// ListAgents returns all agents. With a non-empty projectID the result is
// restricted to agents subscribed to at least one conversation of that project.
func (s *SQLiteStore) ListAgents(ctx context.Context, projectID string) ([]*Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents ORDER BY name, id`
	args := []any{}
	if projectID != "" {
		query = `
			SELECT DISTINCT a.id, a.name, a.type, a.capabilities, a.clearance, a.api_key_hash, a.last_seen, a.created_at
			FROM agents a
			JOIN subscriptions s ON s.agent_id = a.id
			JOIN conversations c ON c.id = s.conversation_id
			WHERE c.project_id = ?
			ORDER BY a.name, a.id
		`
		args = append(args, projectID)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying agents: %w", err)
	}
	defer rows.Close()

	var agents []*Agent
	for rows.Next() {
		var a Agent
		var caps, clearance, lastSeen, createdAt string
		if err := rows.Scan(&a.ID, &a.Name, &a.Type, &caps, &clearance, &a.APIKeyHash, &lastSeen, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning agent row: %w", err)
		}
		a.Capabilities = decodeList(caps)
		a.ClearanceLevel = Clearance(clearance)
		if a.LastSeen, err = parseTime(lastSeen); err != nil {
			return nil, fmt.Errorf("parsing last_seen: %w", err)
		}
		if a.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		agents = append(agents, &a)
	}
	return agents, rows.Err()
}

// UpdateAgentLastSeen writes the current time into last_seen.
// The write is monotonic: an older value never replaces a newer one.
func (s *SQLiteStore) UpdateAgentLastSeen(ctx context.Context, id string) error {
	now := formatTime(time.Now())
	result, err := s.db.ExecContext(ctx,
		`UPDATE agents SET last_seen = ? WHERE id = ? AND last_seen < ?`, now, id, now)
	if err != nil {
		return fmt.Errorf("updating last_seen: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		// Either unknown agent or clock went backwards; verify existence
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT 1 FROM agents WHERE id = ?`, id).Scan(&exists); err == sql.ErrNoRows {
			return ErrNotFound
		}
	}
	return nil
}

// CreateProject creates a new project. The ID and CreatedAt are assigned
// if unset.
func (s *SQLiteStore) CreateProject(ctx context.Context, project *Project) error {
	if project.ID == "" {
		project.ID = newID()
	}
	if project.CreatedAt.IsZero() {
		project.CreatedAt = time.Now()
	}
	if !project.Visibility.Valid() {
		project.Visibility = ClearanceTeam
	}
	if project.ConfidentialityMode == "" {
		project.ConfidentialityMode = ConfidentialityNormal
	}

	query := `
		INSERT INTO projects (id, name, description, visibility, mode, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		project.ID, project.Name, project.Description,
		string(project.Visibility), string(project.ConfidentialityMode),
		project.CreatedBy, formatTime(project.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting project: %w", err)
	}

	s.logger.Debug("created project", "id", project.ID, "name", project.Name)
	return nil
}

// GetProject retrieves a project by ID.
func (s *SQLiteStore) GetProject(ctx context.Context, id string) (*Project, error) {
	var p Project
	var visibility, mode, createdAt string

	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, visibility, mode, created_by, created_at
		FROM projects WHERE id = ?
	`, id).Scan(&p.ID, &p.Name, &p.Description, &visibility, &mode, &p.CreatedBy, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying project: %w", err)
	}

	p.Visibility = Clearance(visibility)
	p.ConfidentialityMode = ConfidentialityMode(mode)
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &p, nil
}

// ListProjects returns all projects ordered by creation time.
func (s *SQLiteStore) ListProjects(ctx context.Context) ([]*Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, visibility, mode, created_by, created_at
		FROM projects ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying projects: %w", err)
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		var p Project
		var visibility, mode, createdAt string
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &visibility, &mode, &p.CreatedBy, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning project row: %w", err)
		}
		p.Visibility = Clearance(visibility)
		p.ConfidentialityMode = ConfidentialityMode(mode)
		if p.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		projects = append(projects, &p)
	}
	return projects, rows.Err()
}

// CreateConversation creates a conversation under an existing project.
// Returns ErrNotFound if the project doesn't exist.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	if _, err := s.GetProject(ctx, conv.ProjectID); err != nil {
		return err
	}

	if conv.ID == "" {
		conv.ID = newID()
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now()
	}
	if conv.Status == "" {
		conv.Status = ConversationActive
	}
	if !conv.DefaultVisibility.Valid() {
		conv.DefaultVisibility = ClearanceTeam
	}

	query := `
		INSERT INTO conversations (id, project_id, title, status, default_visibility, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		conv.ID, conv.ProjectID, conv.Title, string(conv.Status),
		string(conv.DefaultVisibility), conv.CreatedBy, formatTime(conv.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting conversation: %w", err)
	}

	s.logger.Debug("created conversation", "id", conv.ID, "project_id", conv.ProjectID)
	return nil
}

// GetConversation retrieves a conversation by ID.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var c Conversation
	var status, visibility, createdAt string

	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, title, status, default_visibility, created_by, created_at
		FROM conversations WHERE id = ?
	`, id).Scan(&c.ID, &c.ProjectID, &c.Title, &status, &visibility, &c.CreatedBy, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}

	c.Status = ConversationStatus(status)
	c.DefaultVisibility = Clearance(visibility)
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &c, nil
}

// ListConversations returns conversations, optionally filtered by project
// and status, ordered by creation time.
func (s *SQLiteStore) ListConversations(ctx context.Context, projectID string, status ConversationStatus) ([]*Conversation, error) {
	query := `
		SELECT id, project_id, title, status, default_visibility, created_by, created_at
		FROM conversations
	`
	var clauses []string
	var args []any
	if projectID != "" {
		clauses = append(clauses, "project_id = ?")
		args = append(args, projectID)
	}
	if status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(status))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		var c Conversation
		var st, visibility, createdAt string
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.Title, &st, &visibility, &c.CreatedBy, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning conversation row: %w", err)
		}
		c.Status = ConversationStatus(st)
		c.DefaultVisibility = Clearance(visibility)
		if c.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		convs = append(convs, &c)
	}
	return convs, rows.Err()
}

// Subscribe adds an agent to a conversation. Re-subscribing is idempotent
// and keeps the original joined_at and history access.
func (s *SQLiteStore) Subscribe(ctx context.Context, convID, agentID string, access HistoryAccess) error {
	if _, err := s.GetConversation(ctx, convID); err != nil {
		return err
	}
	if access != HistoryFull && access != HistoryFromJoin {
		access = HistoryFull
	}

	query := `
		INSERT INTO subscriptions (conversation_id, agent_id, history_access, joined_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (conversation_id, agent_id) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query, convID, agentID, string(access), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("inserting subscription: %w", err)
	}

	s.logger.Debug("subscribed", "conversation_id", convID, "agent_id", agentID, "history_access", access)
	return nil
}

// Unsubscribe removes an agent's subscription. Existing messages are kept.
func (s *SQLiteStore) Unsubscribe(ctx context.Context, convID, agentID string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM subscriptions WHERE conversation_id = ? AND agent_id = ?`, convID, agentID)
	if err != nil {
		return fmt.Errorf("deleting subscription: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// IsSubscribed reports whether the agent is subscribed to the conversation.
func (s *SQLiteStore) IsSubscribed(ctx context.Context, convID, agentID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM subscriptions WHERE conversation_id = ? AND agent_id = ?`,
		convID, agentID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying subscription: %w", err)
	}
	return true, nil
}

// getSubscription fetches the full subscription row, or ErrNotFound.
func (s *SQLiteStore) getSubscription(ctx context.Context, convID, agentID string) (*Subscription, error) {
	var sub Subscription
	var access, joinedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT conversation_id, agent_id, history_access, joined_at
		FROM subscriptions WHERE conversation_id = ? AND agent_id = ?
	`, convID, agentID).Scan(&sub.ConversationID, &sub.AgentID, &access, &joinedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying subscription: %w", err)
	}
	sub.HistoryAccess = HistoryAccess(access)
	if sub.JoinedAt, err = parseTime(joinedAt); err != nil {
		return nil, fmt.Errorf("parsing joined_at: %w", err)
	}
	return &sub, nil
}

// ListSubscribers returns all subscriptions of a conversation.
func (s *SQLiteStore) ListSubscribers(ctx context.Context, convID string) ([]*Subscription, error) {
	return s.querySubscriptions(ctx, `
		SELECT conversation_id, agent_id, history_access, joined_at
		FROM subscriptions WHERE conversation_id = ?
		ORDER BY joined_at, agent_id
	`, convID)
}

// ListSubscriptionsForAgent returns all subscriptions held by an agent.
func (s *SQLiteStore) ListSubscriptionsForAgent(ctx context.Context, agentID string) ([]*Subscription, error) {
	return s.querySubscriptions(ctx, `
		SELECT conversation_id, agent_id, history_access, joined_at
		FROM subscriptions WHERE agent_id = ?
		ORDER BY joined_at, conversation_id
	`, agentID)
}

func (s *SQLiteStore) querySubscriptions(ctx context.Context, query string, args ...any) ([]*Subscription, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*Subscription
	for rows.Next() {
		var sub Subscription
		var access, joinedAt string
		if err := rows.Scan(&sub.ConversationID, &sub.AgentID, &access, &joinedAt); err != nil {
			return nil, fmt.Errorf("scanning subscription row: %w", err)
		}
		sub.HistoryAccess = HistoryAccess(access)
		if sub.JoinedAt, err = parseTime(joinedAt); err != nil {
			return nil, fmt.Errorf("parsing joined_at: %w", err)
		}
		subs = append(subs, &sub)
	}
	return subs, rows.Err()
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)
