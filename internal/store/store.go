// ABOUTME: Store interface and data types for agorai-bridge persistence
// ABOUTME: Defines Agent, Project, Conversation, Message, Subscription and read-cursor contracts

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrNotSubscribed is returned when an agent acts on a conversation it has not joined
var ErrNotSubscribed = errors.New("not subscribed to conversation")

// ErrEmptyContent is returned when a message is sent with no content
var ErrEmptyContent = errors.New("message content is empty")

// ErrContentTooLarge is returned when message or memory content exceeds its size cap
var ErrContentTooLarge = errors.New("content too large")

// MaxMessageContent is the maximum message body size in bytes (100 KB)
const MaxMessageContent = 100 * 1024

// MaxMemoryContent is the maximum project-memory content size in bytes (50 KB)
const MaxMemoryContent = 50 * 1024

// DefaultMessageLimit caps GetMessages results when no limit is given
const DefaultMessageLimit = 200

// Clearance is the four-level visibility/clearance enum, total-ordered low to high.
type Clearance string

const (
	ClearancePublic       Clearance = "public"
	ClearanceTeam         Clearance = "team"
	ClearanceConfidential Clearance = "confidential"
	ClearanceRestricted   Clearance = "restricted"
)

// Rank returns the ordering position of a clearance level.
// Unknown values rank lowest so a corrupted row never over-discloses.
func (c Clearance) Rank() int {
	switch c {
	case ClearancePublic:
		return 0
	case ClearanceTeam:
		return 1
	case ClearanceConfidential:
		return 2
	case ClearanceRestricted:
		return 3
	default:
		return -1
	}
}

// Valid reports whether the clearance is one of the four known levels.
func (c Clearance) Valid() bool {
	return c.Rank() >= 0
}

// AtLeast reports whether c grants access to content at level v.
func (c Clearance) AtLeast(v Clearance) bool {
	return c.Rank() >= v.Rank()
}

// ConversationStatus values. A conversation only moves forward:
// active -> closed -> archived.
type ConversationStatus string

const (
	ConversationActive   ConversationStatus = "active"
	ConversationClosed   ConversationStatus = "closed"
	ConversationArchived ConversationStatus = "archived"
)

// MessageType constants for message types
const (
	MessageTypeMessage  = "message"
	MessageTypeSpec     = "spec"
	MessageTypeResult   = "result"
	MessageTypeReview   = "review"
	MessageTypeStatus   = "status"
	MessageTypeQuestion = "question"
)

// ValidMessageType reports whether t is one of the known message types.
func ValidMessageType(t string) bool {
	switch t {
	case MessageTypeMessage, MessageTypeSpec, MessageTypeResult,
		MessageTypeReview, MessageTypeStatus, MessageTypeQuestion:
		return true
	}
	return false
}

// HistoryAccess controls how much conversation history a subscriber can see.
type HistoryAccess string

const (
	HistoryFull     HistoryAccess = "full"
	HistoryFromJoin HistoryAccess = "from_join"
)

// ConfidentialityMode is a per-project policy hint.
type ConfidentialityMode string

const (
	ConfidentialityNormal   ConfidentialityMode = "normal"
	ConfidentialityStrict   ConfidentialityMode = "strict"
	ConfidentialityFlexible ConfidentialityMode = "flexible"
)

// MetadataReservedPrefix marks metadata keys reserved for bridge internals.
// Caller-supplied keys with this prefix are stripped on write.
const MetadataReservedPrefix = "_bridge"

// Agent is a bridge participant authenticated by a hashed bearer key.
type Agent struct {
	ID             string
	Name           string
	Type           string
	Capabilities   []string
	ClearanceLevel Clearance
	APIKeyHash     string
	LastSeen       time.Time
	CreatedAt      time.Time
}

// AgentSpec is the input for registering or re-registering an agent.
type AgentSpec struct {
	Name           string
	Type           string
	Capabilities   []string
	ClearanceLevel Clearance
	APIKeyHash     string
}

// Project groups conversations and memory entries.
type Project struct {
	ID                  string
	Name                string
	Description         string
	Visibility          Clearance
	ConfidentialityMode ConfidentialityMode
	CreatedBy           string
	CreatedAt           time.Time
}

// Conversation is an ordered, append-only message stream scoped to a project.
type Conversation struct {
	ID                string
	ProjectID         string
	Title             string
	Status            ConversationStatus
	DefaultVisibility Clearance
	CreatedBy         string
	CreatedAt         time.Time
}

// Message is immutable after creation. Ordering within a conversation is
// total by (CreatedAt, ID).
type Message struct {
	ID             string
	ConversationID string
	FromAgent      string
	Content        string
	Type           string
	Visibility     Clearance
	Metadata       map[string]string
	CreatedAt      time.Time
}

// SendMessageParams is the input for Store.SendMessage.
type SendMessageParams struct {
	ConversationID string
	FromAgent      string
	Content        string
	Type           string
	Visibility     Clearance
	Metadata       map[string]string
}

// Subscription declares an agent's interest in a conversation.
type Subscription struct {
	ConversationID string
	AgentID        string
	HistoryAccess  HistoryAccess
	JoinedAt       time.Time
}

// ReadCursor is the per-(conversation, agent) monotonic read position.
type ReadCursor struct {
	ConversationID string
	AgentID        string
	UpToMessageID  string
	UpToCreatedAt  time.Time
}

// MemoryEntry is a per-project note, opaque to the conversation core.
type MemoryEntry struct {
	ID        string
	ProjectID string
	Content   string
	Type      string
	Tags      []string
	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// GetMessagesOptions filters GetMessages results.
type GetMessagesOptions struct {
	Since      *time.Time // only messages with CreatedAt strictly after Since
	UnreadOnly bool       // only messages after the viewer's read cursor, excluding own
	Limit      int        // 0 means DefaultMessageLimit
}

// MemoryFilter filters ListMemory results.
type MemoryFilter struct {
	Type string
	Tag  string
}

// Store defines the persistence contract for the bridge.
// All mutation goes through this interface; the implementation serialises
// writes over its backend handle.
type Store interface {
	// Agents
	RegisterAgent(ctx context.Context, spec AgentSpec) (*Agent, error)
	GetAgent(ctx context.Context, id string) (*Agent, error)
	GetAgentByAPIKeyHash(ctx context.Context, hash string) (*Agent, error)
	ListAgents(ctx context.Context, projectID string) ([]*Agent, error)
	UpdateAgentLastSeen(ctx context.Context, id string) error

	// Projects
	CreateProject(ctx context.Context, project *Project) error
	GetProject(ctx context.Context, id string) (*Project, error)
	ListProjects(ctx context.Context) ([]*Project, error)

	// Conversations
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	ListConversations(ctx context.Context, projectID string, status ConversationStatus) ([]*Conversation, error)

	// Subscriptions
	Subscribe(ctx context.Context, convID, agentID string, access HistoryAccess) error
	Unsubscribe(ctx context.Context, convID, agentID string) error
	IsSubscribed(ctx context.Context, convID, agentID string) (bool, error)
	ListSubscribers(ctx context.Context, convID string) ([]*Subscription, error)
	ListSubscriptionsForAgent(ctx context.Context, agentID string) ([]*Subscription, error)

	// Messages
	SendMessage(ctx context.Context, params SendMessageParams) (*Message, error)
	GetMessages(ctx context.Context, convID, viewerID string, opts GetMessagesOptions) ([]*Message, error)
	MarkRead(ctx context.Context, convID, agentID, upToMessageID string) error
	GetReadCursor(ctx context.Context, convID, agentID string) (*ReadCursor, error)
	UnreadCount(ctx context.Context, convID, agentID string) (int, error)

	// Project memory
	SetMemory(ctx context.Context, entry *MemoryEntry) error
	GetMemory(ctx context.Context, projectID, id string) (*MemoryEntry, error)
	ListMemory(ctx context.Context, projectID string, filter MemoryFilter) ([]*MemoryEntry, error)
	DeleteMemory(ctx context.Context, projectID, id string) error

	// Close releases any resources held by the store
	Close() error
}
