// Package store is the durable side of the delivery engine: conversations,
// members, messages and deletion markers, all through database/sql. It owns
// every SQL statement so the engine above it never touches the schema.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/4xmen/goftar/internal/models"
)

// ErrNotFound is returned when a row the caller named does not exist.
var ErrNotFound = errors.New("not found")

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// --- users ---

func (s *Store) CreateUser(ctx context.Context, username string) (int, error) {
	result, err := s.db.ExecContext(ctx,
		"INSERT INTO users (username) VALUES (?)", username)
	if err != nil {
		return 0, fmt.Errorf("failed to create user: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get user id: %w", err)
	}
	return int(id), nil
}

func (s *Store) GetUser(ctx context.Context, id int) (*models.User, error) {
	user := &models.User{}
	var isOnline int
	var lastSeen sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, display_name, avatar_url, is_online, last_seen, created_at
		FROM users WHERE id = ?
	`, id).Scan(&user.ID, &user.Username, &user.DisplayName, &user.AvatarURL, &isOnline, &lastSeen, &user.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch user: %w", err)
	}
	user.IsOnline = isOnline != 0
	if lastSeen.Valid {
		user.LastSeen = &lastSeen.Time
	}
	return user, nil
}

func (s *Store) UserExists(ctx context.Context, id int) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM users WHERE id = ?)", id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to query user: %w", err)
	}
	return exists, nil
}

// UsernamesByID resolves display names for summary prefixes; display_name wins
// over username when set.
func (s *Store) UsernamesByID(ctx context.Context, ids []int) (map[int]string, error) {
	names := make(map[int]string, len(ids))
	for _, id := range ids {
		var username string
		var displayName sql.NullString
		err := s.db.QueryRowContext(ctx,
			"SELECT username, display_name FROM users WHERE id = ?", id).
			Scan(&username, &displayName)
		if err != nil {
			if err == sql.ErrNoRows {
				continue
			}
			return nil, fmt.Errorf("failed to fetch user names: %w", err)
		}
		if displayName.Valid && displayName.String != "" {
			names[id] = displayName.String
		} else {
			names[id] = username
		}
	}
	return names, nil
}

// SetUserPresence is the write-through target for presence transitions. Only
// the registry's connect/disconnect path calls it.
func (s *Store) SetUserPresence(ctx context.Context, userID int, online bool, lastSeen time.Time) error {
	flag := 0
	if online {
		flag = 1
	}
	_, err := s.db.ExecContext(ctx,
		"UPDATE users SET is_online = ?, last_seen = ? WHERE id = ?",
		flag, lastSeen, userID)
	if err != nil {
		return fmt.Errorf("failed to update presence: %w", err)
	}
	return nil
}

// --- conversations ---

func (s *Store) GetConversation(ctx context.Context, id int) (*models.Conversation, error) {
	conv := &models.Conversation{}
	var lastMessageID sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, kind, name, avatar_url, last_message_id, created_at, updated_at
		FROM conversations WHERE id = ?
	`, id).Scan(&conv.ID, &conv.Kind, &conv.Name, &conv.AvatarURL, &lastMessageID, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch conversation: %w", err)
	}
	if lastMessageID.Valid {
		v := int(lastMessageID.Int64)
		conv.LastMessageID = &v
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, is_admin FROM conversation_members
		WHERE conversation_id = ? ORDER BY user_id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch members: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var userID, isAdmin int
		if err := rows.Scan(&userID, &isAdmin); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		conv.MemberIDs = append(conv.MemberIDs, userID)
		if isAdmin != 0 {
			conv.AdminIDs = append(conv.AdminIDs, userID)
		}
	}
	return conv, rows.Err()
}

// GetOrCreatePrivate returns the private conversation between the two users,
// creating it when absent. The second return reports whether it was created.
func (s *Store) GetOrCreatePrivate(ctx context.Context, userA, userB int) (*models.Conversation, bool, error) {
	var id int
	err := s.db.QueryRowContext(ctx, `
		SELECT c.id FROM conversations c
		JOIN conversation_members m1 ON m1.conversation_id = c.id AND m1.user_id = ?
		JOIN conversation_members m2 ON m2.conversation_id = c.id AND m2.user_id = ?
		WHERE c.kind = 'private'
		LIMIT 1
	`, userA, userB).Scan(&id)
	if err == nil {
		conv, err := s.GetConversation(ctx, id)
		return conv, false, err
	}
	if err != sql.ErrNoRows {
		return nil, false, fmt.Errorf("failed to check conversation: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		"INSERT INTO conversations (kind) VALUES (?)", models.ConversationPrivate)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create conversation: %w", err)
	}
	convID, _ := result.LastInsertId()

	for _, userID := range []int{userA, userB} {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO conversation_members (conversation_id, user_id) VALUES (?, ?)",
			convID, userID); err != nil {
			return nil, false, fmt.Errorf("failed to add member: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit conversation: %w", err)
	}

	conv, err := s.GetConversation(ctx, int(convID))
	return conv, true, err
}

// CreateGroup creates a group conversation with the given admin and members.
// The admin is always a member.
func (s *Store) CreateGroup(ctx context.Context, name string, adminID int, memberIDs []int) (*models.Conversation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		"INSERT INTO conversations (kind, name) VALUES (?, ?)", models.ConversationGroup, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	convID, _ := result.LastInsertId()

	seen := map[int]bool{adminID: true}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO conversation_members (conversation_id, user_id, is_admin) VALUES (?, ?, 1)",
		convID, adminID); err != nil {
		return nil, fmt.Errorf("failed to add admin: %w", err)
	}
	for _, userID := range memberIDs {
		if seen[userID] {
			continue
		}
		seen[userID] = true
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO conversation_members (conversation_id, user_id) VALUES (?, ?)",
			convID, userID); err != nil {
			return nil, fmt.Errorf("failed to add member: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit conversation: %w", err)
	}

	return s.GetConversation(ctx, int(convID))
}

func (s *Store) IsMember(ctx context.Context, conversationID, userID int) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM conversation_members WHERE conversation_id = ? AND user_id = ?)
	`, conversationID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return exists, nil
}

// SetLastMessage updates the cached canonical pointer. A nil messageID clears
// it (the conversation has no visible messages left).
func (s *Store) SetLastMessage(ctx context.Context, conversationID int, messageID *int) error {
	var value interface{}
	if messageID != nil {
		value = *messageID
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET last_message_id = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, value, conversationID)
	if err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}
	return nil
}

// ConversationsForUser lists every conversation the user belongs to, newest
// activity first.
func (s *Store) ConversationsForUser(ctx context.Context, userID int) ([]*models.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id FROM conversations c
		JOIN conversation_members cm ON cm.conversation_id = c.id
		WHERE cm.user_id = ?
		ORDER BY c.updated_at DESC, c.id DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch conversations: %w", err)
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	conversations := make([]*models.Conversation, 0, len(ids))
	for _, id := range ids {
		conv, err := s.GetConversation(ctx, id)
		if err != nil {
			return nil, err
		}
		conversations = append(conversations, conv)
	}
	return conversations, nil
}
