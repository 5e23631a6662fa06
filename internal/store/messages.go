// ABOUTME: Message persistence: append-only writes, visibility-filtered reads, read cursors
// ABOUTME: Enforces (created_at, id) total order and monotonic, idempotent mark-read

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

func newID() string {
	return uuid.New().String()
}

// SendMessage validates and appends a message to a conversation, then
// publishes message:created on the event bus. The publish happens only
// after the row is durable; a failed publish never rolls back the write.
func (s *SQLiteStore) SendMessage(ctx context.Context, params SendMessageParams) (*Message, error) {
	content := params.Content
	if content == "" {
		return nil, ErrEmptyContent
	}
	if len(content) > MaxMessageContent {
		return nil, fmt.Errorf("%w: message content exceeds %d bytes", ErrContentTooLarge, MaxMessageContent)
	}

	conv, err := s.GetConversation(ctx, params.ConversationID)
	if err != nil {
		return nil, err
	}

	subscribed, err := s.IsSubscribed(ctx, params.ConversationID, params.FromAgent)
	if err != nil {
		return nil, err
	}
	if !subscribed {
		return nil, ErrNotSubscribed
	}

	msgType := params.Type
	if msgType == "" {
		msgType = MessageTypeMessage
	}
	if !ValidMessageType(msgType) {
		return nil, fmt.Errorf("invalid message type %q", msgType)
	}

	visibility := params.Visibility
	if visibility == "" {
		visibility = conv.DefaultVisibility
	}
	if !visibility.Valid() {
		return nil, fmt.Errorf("invalid visibility %q", visibility)
	}

	metadata := stripReservedMetadata(params.Metadata)
	var metadataJSON any
	if len(metadata) > 0 {
		raw, err := json.Marshal(metadata)
		if err != nil {
			return nil, fmt.Errorf("encoding metadata: %w", err)
		}
		metadataJSON = string(raw)
	}

	msg := &Message{
		ID:             newID(),
		ConversationID: params.ConversationID,
		FromAgent:      params.FromAgent,
		Content:        content,
		Type:           msgType,
		Visibility:     visibility,
		Metadata:       metadata,
		CreatedAt:      time.Now(),
	}

	query := `
		INSERT INTO messages (id, conversation_id, from_agent, content, type, visibility, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query,
		msg.ID, msg.ConversationID, msg.FromAgent, msg.Content,
		msg.Type, string(msg.Visibility), metadataJSON, formatTime(msg.CreatedAt),
	); err != nil {
		return nil, fmt.Errorf("inserting message: %w", err)
	}

	s.logger.Debug("saved message",
		"id", msg.ID,
		"conversation_id", msg.ConversationID,
		"from_agent", msg.FromAgent,
		"type", msg.Type,
	)

	if s.events != nil {
		s.events.PublishMessage(msg)
	}

	return msg, nil
}

// stripReservedMetadata drops caller-supplied keys with the reserved prefix.
func stripReservedMetadata(metadata map[string]string) map[string]string {
	if len(metadata) == 0 {
		return nil
	}
	out := make(map[string]string, len(metadata))
	for k, v := range metadata {
		if strings.HasPrefix(k, MetadataReservedPrefix) {
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// visibleLevels returns the visibility values readable at the given clearance.
func visibleLevels(clearance Clearance) []string {
	levels := []Clearance{ClearancePublic, ClearanceTeam, ClearanceConfidential, ClearanceRestricted}
	var out []string
	for _, l := range levels {
		if clearance.AtLeast(l) {
			out = append(out, string(l))
		}
	}
	return out
}

// GetMessages returns conversation messages visible to the viewer, ordered
// ascending by (created_at, id).
//
// The viewer must be subscribed. Visibility: message level <= viewer
// clearance, or the viewer authored it. A from_join subscription with no
// explicit Since only sees messages from its joined_at onward; an explicit
// Since is honored verbatim and may reach older history. UnreadOnly
// restricts to messages strictly after the viewer's read cursor, excluding
// the viewer's own.
func (s *SQLiteStore) GetMessages(ctx context.Context, convID, viewerID string, opts GetMessagesOptions) ([]*Message, error) {
	sub, err := s.getSubscription(ctx, convID, viewerID)
	if err == ErrNotFound {
		return nil, ErrNotSubscribed
	}
	if err != nil {
		return nil, err
	}

	clearance := ClearancePublic
	if viewer, err := s.GetAgent(ctx, viewerID); err == nil {
		clearance = viewer.ClearanceLevel
	} else if err != ErrNotFound {
		return nil, err
	}

	var clauses []string
	var args []any

	clauses = append(clauses, "conversation_id = ?")
	args = append(args, convID)

	levels := visibleLevels(clearance)
	placeholders := strings.Repeat("?,", len(levels))
	placeholders = placeholders[:len(placeholders)-1]
	clauses = append(clauses, fmt.Sprintf("(visibility IN (%s) OR from_agent = ?)", placeholders))
	for _, l := range levels {
		args = append(args, l)
	}
	args = append(args, viewerID)

	if opts.Since != nil {
		clauses = append(clauses, "created_at > ?")
		args = append(args, formatTime(*opts.Since))
	} else if sub.HistoryAccess == HistoryFromJoin {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, formatTime(sub.JoinedAt))
	}

	if opts.UnreadOnly {
		clauses = append(clauses, "from_agent != ?")
		args = append(args, viewerID)

		cursor, err := s.GetReadCursor(ctx, convID, viewerID)
		if err != nil && err != ErrNotFound {
			return nil, err
		}
		if cursor != nil {
			clauses = append(clauses, "(created_at > ? OR (created_at = ? AND id > ?))")
			cursorAt := formatTime(cursor.UpToCreatedAt)
			args = append(args, cursorAt, cursorAt, cursor.UpToMessageID)
		}
	}

	limit := opts.Limit
	if limit <= 0 || limit > DefaultMessageLimit {
		limit = DefaultMessageLimit
	}

	query := `
		SELECT id, conversation_id, from_agent, content, type, visibility, metadata_json, created_at
		FROM messages
		WHERE ` + strings.Join(clauses, " AND ") + `
		ORDER BY created_at, id
		LIMIT ?
	`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func scanMessage(rows *sql.Rows) (*Message, error) {
	var msg Message
	var visibility, createdAt string
	var metadataJSON sql.NullString

	if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.FromAgent, &msg.Content,
		&msg.Type, &visibility, &metadataJSON, &createdAt); err != nil {
		return nil, fmt.Errorf("scanning message row: %w", err)
	}

	msg.Visibility = Clearance(visibility)
	var err error
	if msg.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing message created_at: %w", err)
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &msg.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata: %w", err)
		}
	}
	return &msg, nil
}

// getMessage fetches one message of a conversation, or ErrNotFound.
func (s *SQLiteStore) getMessage(ctx context.Context, convID, messageID string) (*Message, error) {
	var msg Message
	var visibility, createdAt string
	var metadataJSON sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT id, conversation_id, from_agent, content, type, visibility, metadata_json, created_at
		FROM messages WHERE conversation_id = ? AND id = ?
	`, convID, messageID).Scan(&msg.ID, &msg.ConversationID, &msg.FromAgent, &msg.Content,
		&msg.Type, &visibility, &metadataJSON, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying message: %w", err)
	}

	msg.Visibility = Clearance(visibility)
	if msg.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing message created_at: %w", err)
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &msg.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata: %w", err)
		}
	}
	return &msg, nil
}

// conversationTail returns the last message of a conversation in
// (created_at, id) order, or ErrNotFound for an empty conversation.
func (s *SQLiteStore) conversationTail(ctx context.Context, convID string) (*Message, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, convID).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation tail: %w", err)
	}
	return s.getMessage(ctx, convID, id)
}

// MarkRead advances the agent's read cursor to the given message, or to the
// conversation tail when no message is given. Idempotent and monotonic: a
// cursor never moves backwards in (created_at, id) order.
func (s *SQLiteStore) MarkRead(ctx context.Context, convID, agentID, upToMessageID string) error {
	if _, err := s.GetConversation(ctx, convID); err != nil {
		return err
	}

	var target *Message
	var err error
	if upToMessageID != "" {
		target, err = s.getMessage(ctx, convID, upToMessageID)
		if err != nil {
			return err
		}
	} else {
		target, err = s.conversationTail(ctx, convID)
		if err == ErrNotFound {
			// Empty conversation: nothing to mark
			return nil
		}
		if err != nil {
			return err
		}
	}

	targetAt := formatTime(target.CreatedAt)
	query := `
		INSERT INTO read_cursors (conversation_id, agent_id, up_to_message_id, up_to_created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (conversation_id, agent_id) DO UPDATE
		SET up_to_message_id = excluded.up_to_message_id,
		    up_to_created_at = excluded.up_to_created_at
		WHERE excluded.up_to_created_at > read_cursors.up_to_created_at
		   OR (excluded.up_to_created_at = read_cursors.up_to_created_at
		       AND excluded.up_to_message_id > read_cursors.up_to_message_id)
	`
	if _, err := s.db.ExecContext(ctx, query, convID, agentID, target.ID, targetAt); err != nil {
		return fmt.Errorf("upserting read cursor: %w", err)
	}

	s.logger.Debug("marked read",
		"conversation_id", convID,
		"agent_id", agentID,
		"up_to_message_id", target.ID,
	)
	return nil
}

// GetReadCursor returns the agent's cursor for a conversation, or ErrNotFound.
func (s *SQLiteStore) GetReadCursor(ctx context.Context, convID, agentID string) (*ReadCursor, error) {
	var c ReadCursor
	var upToAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT conversation_id, agent_id, up_to_message_id, up_to_created_at
		FROM read_cursors WHERE conversation_id = ? AND agent_id = ?
	`, convID, agentID).Scan(&c.ConversationID, &c.AgentID, &c.UpToMessageID, &upToAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying read cursor: %w", err)
	}
	if c.UpToCreatedAt, err = parseTime(upToAt); err != nil {
		return nil, fmt.Errorf("parsing cursor created_at: %w", err)
	}
	return &c, nil
}

// UnreadCount returns the number of unread messages for the agent.
// A message is unread iff the agent is subscribed, the message is visible
// to it, it sits strictly after the cursor, and the agent did not send it.
func (s *SQLiteStore) UnreadCount(ctx context.Context, convID, agentID string) (int, error) {
	msgs, err := s.GetMessages(ctx, convID, agentID, GetMessagesOptions{UnreadOnly: true})
	if err == ErrNotSubscribed {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return len(msgs), nil
}
