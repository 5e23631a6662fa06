// ABOUTME: Per-project memory entries with tag and type filters
// ABOUTME: Opaque to the conversation core; exposed through set/get/delete tools

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// SetMemory inserts or replaces a memory entry keyed by (project_id, id).
func (s *SQLiteStore) SetMemory(ctx context.Context, entry *MemoryEntry) error {
	if entry.Content == "" {
		return ErrEmptyContent
	}
	if len(entry.Content) > MaxMemoryContent {
		return fmt.Errorf("%w: memory content exceeds %d bytes", ErrContentTooLarge, MaxMemoryContent)
	}
	if _, err := s.GetProject(ctx, entry.ProjectID); err != nil {
		return err
	}

	if entry.ID == "" {
		entry.ID = newID()
	}
	now := time.Now()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now

	query := `
		INSERT INTO project_memory (id, project_id, content, type, tags, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (project_id, id) DO UPDATE
		SET content = excluded.content,
		    type = excluded.type,
		    tags = excluded.tags,
		    updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		entry.ID, entry.ProjectID, entry.Content, entry.Type,
		encodeList(entry.Tags), entry.CreatedBy,
		formatTime(entry.CreatedAt), formatTime(entry.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upserting memory entry: %w", err)
	}

	s.logger.Debug("set memory", "project_id", entry.ProjectID, "id", entry.ID)
	return nil
}

// GetMemory retrieves a memory entry by project and id.
func (s *SQLiteStore) GetMemory(ctx context.Context, projectID, id string) (*MemoryEntry, error) {
	var e MemoryEntry
	var tags, createdAt, updatedAt string

	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, content, type, tags, created_by, created_at, updated_at
		FROM project_memory WHERE project_id = ? AND id = ?
	`, projectID, id).Scan(&e.ID, &e.ProjectID, &e.Content, &e.Type, &tags, &e.CreatedBy, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying memory entry: %w", err)
	}

	e.Tags = decodeList(tags)
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if e.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &e, nil
}

// ListMemory returns a project's memory entries, optionally filtered by
// type and tag, ordered by update time.
func (s *SQLiteStore) ListMemory(ctx context.Context, projectID string, filter MemoryFilter) ([]*MemoryEntry, error) {
	query := `
		SELECT id, project_id, content, type, tags, created_by, created_at, updated_at
		FROM project_memory WHERE project_id = ?
	`
	args := []any{projectID}
	if filter.Type != "" {
		query += " AND type = ?"
		args = append(args, filter.Type)
	}
	query += " ORDER BY updated_at, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying memory entries: %w", err)
	}
	defer rows.Close()

	var entries []*MemoryEntry
	for rows.Next() {
		var e MemoryEntry
		var tags, createdAt, updatedAt string
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.Content, &e.Type, &tags, &e.CreatedBy, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning memory row: %w", err)
		}
		e.Tags = decodeList(tags)
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		if e.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}
		// Tag filter applied in Go: tags are stored as a packed list
		if filter.Tag != "" && !containsTag(e.Tags, filter.Tag) {
			continue
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

func containsTag(tags []string, tag string) bool {
	for _, t := range tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// DeleteMemory removes a memory entry. Returns ErrNotFound if absent.
func (s *SQLiteStore) DeleteMemory(ctx context.Context, projectID, id string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM project_memory WHERE project_id = ? AND id = ?`, projectID, id)
	if err != nil {
		return fmt.Errorf("deleting memory entry: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
