package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/4xmen/goftar/internal/models"
)

const messageColumns = `id, conversation_id, sender_id, type, content, media_url,
	file_name, file_size, status, deleted_for_all, created_at, delivered_at, read_at`

func scanMessage(row interface{ Scan(...interface{}) error }) (*models.Message, error) {
	msg := &models.Message{}
	var deletedForAll int
	var mediaURL, fileName sql.NullString
	var fileSize sql.NullInt64
	var deliveredAt, readAt sql.NullTime
	err := row.Scan(
		&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Type, &msg.Content,
		&mediaURL, &fileName, &fileSize, &msg.Status, &deletedForAll,
		&msg.CreatedAt, &deliveredAt, &readAt,
	)
	if err != nil {
		return nil, err
	}
	msg.DeletedForAll = deletedForAll != 0
	if mediaURL.Valid {
		msg.MediaURL = &mediaURL.String
	}
	if fileName.Valid {
		msg.FileName = &fileName.String
	}
	if fileSize.Valid {
		msg.FileSize = &fileSize.Int64
	}
	if deliveredAt.Valid {
		msg.DeliveredAt = &deliveredAt.Time
	}
	if readAt.Valid {
		msg.ReadAt = &readAt.Time
	}
	return msg, nil
}

// CreateMessage inserts the message and fills in its id and created_at.
func (s *Store) CreateMessage(ctx context.Context, msg *models.Message) error {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (conversation_id, sender_id, type, content, media_url, file_name, file_size, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`, msg.ConversationID, msg.SenderID, msg.Type, msg.Content, msg.MediaURL, msg.FileName, msg.FileSize, msg.Status)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get message id: %w", err)
	}
	msg.ID = int(id)

	return s.db.QueryRowContext(ctx,
		"SELECT created_at FROM messages WHERE id = ?", msg.ID).Scan(&msg.CreatedAt)
}

func (s *Store) GetMessage(ctx context.Context, id int) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE id = ?", id)
	msg, err := scanMessage(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch message: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT user_id FROM message_deletions WHERE message_id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch deletions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var userID int
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("failed to scan deletion: %w", err)
		}
		msg.DeletedBy = append(msg.DeletedBy, userID)
	}
	return msg, rows.Err()
}

// MessagesForViewer returns conversation history as the viewer sees it:
// rows the viewer deleted for themselves are excluded, deleted-for-all rows
// are kept (the engine replaces their content with a placeholder). Oldest
// first.
func (s *Store) MessagesForViewer(ctx context.Context, conversationID, viewerID, limit, offset int) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = ?
		AND id NOT IN (SELECT message_id FROM message_deletions WHERE user_id = ?)
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, conversationID, viewerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to get oldest first
	for i := len(messages)/2 - 1; i >= 0; i-- {
		opp := len(messages) - 1 - i
		messages[i], messages[opp] = messages[opp], messages[i]
	}
	return messages, nil
}

// LastVisibleMessage finds the newest message the participant can see:
// not deleted for everyone, not deleted by the participant. Returns nil when
// nothing is visible.
func (s *Store) LastVisibleMessage(ctx context.Context, conversationID, participantID int) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = ? AND deleted_for_all = 0
		AND id NOT IN (SELECT message_id FROM message_deletions WHERE user_id = ?)
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, conversationID, participantID)
	msg, err := scanMessage(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch last visible message: %w", err)
	}
	return msg, nil
}

// LastCanonicalMessage is the conversation-level variant: only deleted-for-all
// rows are skipped, per-user deletions do not affect it.
func (s *Store) LastCanonicalMessage(ctx context.Context, conversationID int) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = ? AND deleted_for_all = 0
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, conversationID)
	msg, err := scanMessage(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch last message: %w", err)
	}
	return msg, nil
}

// UnreadCount recomputes the participant's unread total from scratch:
// messages addressed to them, not yet read, not deleted for everyone, not
// deleted by them.
func (s *Store) UnreadCount(ctx context.Context, conversationID, participantID int) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE conversation_id = ? AND sender_id != ? AND status != 'read'
		AND deleted_for_all = 0
		AND id NOT IN (SELECT message_id FROM message_deletions WHERE user_id = ?)
	`, conversationID, participantID, participantID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread messages: %w", err)
	}
	return count, nil
}

// OutstandingMessages lists the non-read, non-deleted messages of a
// conversation in creation order, for group status reconciliation.
func (s *Store) OutstandingMessages(ctx context.Context, conversationID int) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = ? AND status != 'read' AND deleted_for_all = 0
		ORDER BY created_at ASC, id ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch outstanding messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// AdvanceStatus moves a message forward on the sent → delivered → read walk.
// The guard lives in the WHERE clause so a regression can never be written,
// no matter how stale the caller's view was. Reports whether a row changed.
func (s *Store) AdvanceStatus(ctx context.Context, messageID int, status string) (bool, error) {
	var result sql.Result
	var err error

	switch status {
	case models.StatusDelivered:
		result, err = s.db.ExecContext(ctx, `
			UPDATE messages
			SET status = 'delivered', delivered_at = CURRENT_TIMESTAMP
			WHERE id = ? AND status = 'sent'
		`, messageID)
	case models.StatusRead:
		result, err = s.db.ExecContext(ctx, `
			UPDATE messages
			SET status = 'read', read_at = CURRENT_TIMESTAMP,
			    delivered_at = COALESCE(delivered_at, CURRENT_TIMESTAMP)
			WHERE id = ? AND status IN ('sent', 'delivered')
		`, messageID)
	default:
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("failed to update message: %w", err)
	}
	affected, _ := result.RowsAffected()
	return affected > 0, nil
}

// MarkConversationRead bulk-advances every message addressed to the reader
// that is not already read and still visible to them. Select and update run
// in one transaction, and each row keeps the status guard in its WHERE
// clause, so a message advanced by a concurrent writer is never re-announced.
// Returns one change per committed row, in creation order.
func (s *Store) MarkConversationRead(ctx context.Context, conversationID, readerID int) ([]models.StatusChange, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, sender_id FROM messages
		WHERE conversation_id = ? AND sender_id != ? AND status != 'read'
		AND deleted_for_all = 0
		AND id NOT IN (SELECT message_id FROM message_deletions WHERE user_id = ?)
		ORDER BY created_at ASC, id ASC
	`, conversationID, readerID, readerID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unread messages: %w", err)
	}

	var candidates []models.StatusChange
	for rows.Next() {
		change := models.StatusChange{ConversationID: conversationID, Status: models.StatusRead}
		if err := rows.Scan(&change.MessageID, &change.SenderID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		candidates = append(candidates, change)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	var changes []models.StatusChange
	for _, change := range candidates {
		result, err := tx.ExecContext(ctx, `
			UPDATE messages
			SET status = 'read', read_at = CURRENT_TIMESTAMP,
			    delivered_at = COALESCE(delivered_at, CURRENT_TIMESTAMP)
			WHERE id = ? AND status != 'read'
		`, change.MessageID)
		if err != nil {
			return nil, fmt.Errorf("failed to update message: %w", err)
		}
		if affected, _ := result.RowsAffected(); affected > 0 {
			changes = append(changes, change)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	if len(changes) == 0 {
		return nil, nil
	}
	return changes, nil
}

// DeliverPendingForUser advances every private-conversation message addressed
// to the user that is still "sent". Called when the user comes online; group
// messages go through the per-conversation reconciler instead.
func (s *Store) DeliverPendingForUser(ctx context.Context, userID int) ([]models.StatusChange, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.conversation_id, m.sender_id FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		JOIN conversation_members cm ON cm.conversation_id = c.id AND cm.user_id = ?
		WHERE c.kind = 'private' AND m.sender_id != ? AND m.status = 'sent' AND m.deleted_for_all = 0
		ORDER BY m.created_at ASC, m.id ASC
	`, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pending messages: %w", err)
	}

	var changes []models.StatusChange
	for rows.Next() {
		change := models.StatusChange{Status: models.StatusDelivered}
		if err := rows.Scan(&change.MessageID, &change.ConversationID, &change.SenderID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		changes = append(changes, change)
	}
	rows.Close()

	delivered := changes[:0]
	for _, change := range changes {
		ok, err := s.AdvanceStatus(ctx, change.MessageID, models.StatusDelivered)
		if err != nil {
			return nil, err
		}
		if ok {
			delivered = append(delivered, change)
		}
	}
	if len(delivered) == 0 {
		return nil, nil
	}
	return delivered, nil
}

// MarkDeletedForAll tombstones the message. The row is kept for ordering and
// history; its content is never surfaced again.
func (s *Store) MarkDeletedForAll(ctx context.Context, messageID int) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE messages SET deleted_for_all = 1 WHERE id = ?", messageID)
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

// AddDeletionMark records a per-participant deletion. Idempotent.
func (s *Store) AddDeletionMark(ctx context.Context, messageID, userID int) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO message_deletions (message_id, user_id) VALUES (?, ?)",
		messageID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}
