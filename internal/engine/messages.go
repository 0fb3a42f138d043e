package engine

import (
	"context"
	"fmt"

	"github.com/4xmen/goftar/internal/models"
	"github.com/4xmen/goftar/internal/store"
	"github.com/4xmen/goftar/pkg/i18n"
)

// SendInput carries everything a new message needs. Media fields are nil for
// plain text.
type SendInput struct {
	ConversationID int
	Type           string
	Content        string
	MediaURL       *string
	FileName       *string
	FileSize       *int64
}

// SendMessage persists a message with its birth status, updates the
// conversation's last-message pointer and fans the news out: the full message
// to the room, a fresh summary to every participant, and a push notification
// to recipients with no live connection.
func (e *Engine) SendMessage(ctx context.Context, senderID int, input SendInput) (*models.Message, error) {
	conv, err := e.store.GetConversation(ctx, input.ConversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasMember(senderID) {
		return nil, ErrNotParticipant
	}

	msg := &models.Message{
		ConversationID: conv.ID,
		SenderID:       senderID,
		Type:           input.Type,
		Content:        input.Content,
		MediaURL:       input.MediaURL,
		FileName:       input.FileName,
		FileSize:       input.FileSize,
		Status:         e.StatusForNewMessage(conv, senderID),
	}
	if err := e.store.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}
	if err := e.store.SetLastMessage(ctx, conv.ID, &msg.ID); err != nil {
		return nil, err
	}

	e.fanout.ToRoom(conv.ID, &Event{
		Type:           EventMessageCreated,
		ConversationID: conv.ID,
		Message:        msg,
	})
	if err := e.broadcastSummaries(ctx, conv, conv.MemberIDs, ScopeForEveryone); err != nil {
		return nil, err
	}
	e.notifyOffline(ctx, conv, msg)

	return msg, nil
}

// ListMessages returns the conversation as the viewer sees it, oldest first.
// Messages deleted for everyone keep their slot but carry only a placeholder.
func (e *Engine) ListMessages(ctx context.Context, viewerID, conversationID, limit, offset int) ([]*models.Message, error) {
	conv, err := e.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasMember(viewerID) {
		return nil, ErrNotParticipant
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	messages, err := e.store.MessagesForViewer(ctx, conversationID, viewerID, limit, offset)
	if err != nil {
		return nil, err
	}
	for _, msg := range messages {
		if msg.DeletedForAll {
			redact(msg)
		}
	}
	return messages, nil
}

// MarkConversationRead advances every unread message addressed to the reader.
// Each committed transition is announced to its sender; the reader gets one
// summary with the unread counter cleared. Calling it twice is harmless.
func (e *Engine) MarkConversationRead(ctx context.Context, readerID, conversationID int) error {
	conv, err := e.store.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if !conv.HasMember(readerID) {
		return ErrNotParticipant
	}

	changes, err := e.store.MarkConversationRead(ctx, conversationID, readerID)
	if err != nil {
		return err
	}
	for _, change := range changes {
		e.emitStatusChange(change)
	}

	summary, err := e.SummaryFor(ctx, conv, readerID)
	if err != nil {
		return err
	}
	e.fanout.ToUser(readerID, &Event{
		Type:           EventSummaryChanged,
		ConversationID: conv.ID,
		Scope:          ScopeReadUpdate,
		Summary:        summary,
	})
	return nil
}

// DeleteForMe hides the message from the caller only. Nobody else hears about
// it; the caller gets a deletion event and a recomputed summary.
func (e *Engine) DeleteForMe(ctx context.Context, userID, messageID int) error {
	msg, err := e.store.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	conv, err := e.store.GetConversation(ctx, msg.ConversationID)
	if err != nil {
		return err
	}
	if !conv.HasMember(userID) {
		return ErrNotParticipant
	}

	if err := e.store.AddDeletionMark(ctx, messageID, userID); err != nil {
		return err
	}

	e.fanout.ToUser(userID, &Event{
		Type:           EventMessageDeleted,
		ConversationID: conv.ID,
		MessageID:      messageID,
		Scope:          ScopeForMe,
	})
	return e.broadcastSummaries(ctx, conv, []int{userID}, ScopeForMe)
}

// DeleteForEveryone tombstones the message for all participants. Only the
// sender may do it. The message row survives as a placeholder, the cached
// last-message pointer is recomputed, and every participant gets a summary.
func (e *Engine) DeleteForEveryone(ctx context.Context, userID, messageID int) error {
	msg, err := e.store.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	conv, err := e.store.GetConversation(ctx, msg.ConversationID)
	if err != nil {
		return err
	}
	if !conv.HasMember(userID) {
		return ErrNotParticipant
	}
	if msg.SenderID != userID {
		return ErrForbidden
	}

	if err := e.store.MarkDeletedForAll(ctx, messageID); err != nil {
		return err
	}

	canonical, err := e.store.LastCanonicalMessage(ctx, conv.ID)
	if err != nil {
		return err
	}
	var lastID *int
	if canonical != nil {
		lastID = &canonical.ID
	}
	if err := e.store.SetLastMessage(ctx, conv.ID, lastID); err != nil {
		return err
	}

	msg.DeletedForAll = true
	redact(msg)
	e.fanout.ToRoom(conv.ID, &Event{
		Type:           EventMessageUpdated,
		ConversationID: conv.ID,
		MessageID:      messageID,
		Message:        msg,
		Scope:          ScopeForEveryone,
	})
	return e.broadcastSummaries(ctx, conv, conv.MemberIDs, ScopeForEveryone)
}

// GetOrCreatePrivate validates both ends and returns the singleton private
// conversation between them.
func (e *Engine) GetOrCreatePrivate(ctx context.Context, userID, participantID int) (*models.Conversation, bool, error) {
	exists, err := e.store.UserExists(ctx, participantID)
	if err != nil {
		return nil, false, err
	}
	if !exists {
		return nil, false, store.ErrNotFound
	}
	return e.store.GetOrCreatePrivate(ctx, userID, participantID)
}

// redact strips a tombstoned message down to its placeholder shape.
func redact(msg *models.Message) {
	msg.Content = i18n.Translate("this message was deleted")
	msg.MediaURL = nil
	msg.FileName = nil
	msg.FileSize = nil
}

// broadcastSummaries recomputes and sends each listed participant their own
// view of the conversation.
func (e *Engine) broadcastSummaries(ctx context.Context, conv *models.Conversation, participantIDs []int, scope string) error {
	for _, id := range participantIDs {
		summary, err := e.SummaryFor(ctx, conv, id)
		if err != nil {
			return fmt.Errorf("summary for user %d: %w", id, err)
		}
		e.fanout.ToUser(id, &Event{
			Type:           EventSummaryChanged,
			ConversationID: conv.ID,
			Scope:          scope,
			Summary:        summary,
		})
	}
	return nil
}
