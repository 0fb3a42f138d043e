package engine

import (
	"context"
	"fmt"

	"github.com/4xmen/goftar/internal/models"
)

// StatusForNewMessage decides the birth status of a message.
//
// Private: delivered when the recipient is online, sent otherwise. Read is
// never assigned at send time; only an explicit mark-read does that.
//
// Group: read when any member other than the sender is viewing the room,
// delivered when any other member is online, sent otherwise. The status is
// conversation-level, it tracks the most advanced recipient.
func (e *Engine) StatusForNewMessage(conv *models.Conversation, senderID int) string {
	return e.targetStatus(conv, senderID)
}

func (e *Engine) targetStatus(conv *models.Conversation, senderID int) string {
	if conv.IsGroup() {
		anyOnline := false
		for _, id := range conv.RecipientIDs(senderID) {
			if e.presence.IsViewing(id, conv.ID) {
				return models.StatusRead
			}
			if e.presence.IsOnline(id) {
				anyOnline = true
			}
		}
		if anyOnline {
			return models.StatusDelivered
		}
		return models.StatusSent
	}

	for _, id := range conv.RecipientIDs(senderID) {
		if e.presence.IsOnline(id) {
			return models.StatusDelivered
		}
	}
	return models.StatusSent
}

// HandleUserOnline runs when a user's first connection comes up: every
// private message still "sent" to them becomes delivered, and each of their
// group conversations is reconciled against the new presence picture.
func (e *Engine) HandleUserOnline(ctx context.Context, userID int) error {
	changes, err := e.store.DeliverPendingForUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("deliver pending: %w", err)
	}
	for _, change := range changes {
		e.emitStatusChange(change)
	}

	convs, err := e.store.ConversationsForUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("list conversations: %w", err)
	}
	for _, conv := range convs {
		if !conv.IsGroup() {
			continue
		}
		if err := e.reconcile(ctx, conv); err != nil {
			return err
		}
	}
	return nil
}

// VerifyMembership reports whether the user may attach to the conversation's
// room. The hub calls it before granting room fan-out, so non-participants
// never see room-scoped events.
func (e *Engine) VerifyMembership(ctx context.Context, userID, conversationID int) error {
	ok, err := e.store.IsMember(ctx, conversationID, userID)
	if err != nil {
		return fmt.Errorf("check membership: %w", err)
	}
	if !ok {
		return ErrNotParticipant
	}
	return nil
}

// HandleRoomJoined runs when a user opens a conversation. Joining can only
// raise statuses, so leaving a room triggers nothing.
func (e *Engine) HandleRoomJoined(ctx context.Context, userID, conversationID int) error {
	conv, err := e.store.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if !conv.HasMember(userID) {
		return ErrNotParticipant
	}
	if !conv.IsGroup() {
		// Private reads stay explicit; the viewer being online already got
		// pending messages delivered on connect.
		return nil
	}
	return e.reconcile(ctx, conv)
}

// reconcile walks every outstanding message of the conversation and advances
// it to the status the current presence picture supports. Idempotent: the
// store rejects non-advancing writes, and only committed transitions emit an
// event, one per message per pass.
func (e *Engine) reconcile(ctx context.Context, conv *models.Conversation) error {
	messages, err := e.store.OutstandingMessages(ctx, conv.ID)
	if err != nil {
		return fmt.Errorf("outstanding messages: %w", err)
	}
	for _, msg := range messages {
		target := e.targetStatus(conv, msg.SenderID)
		if models.StatusRank(target) <= models.StatusRank(msg.Status) {
			continue
		}
		advanced, err := e.store.AdvanceStatus(ctx, msg.ID, target)
		if err != nil {
			return fmt.Errorf("advance status: %w", err)
		}
		if advanced {
			e.emitStatusChange(models.StatusChange{
				MessageID:      msg.ID,
				ConversationID: conv.ID,
				SenderID:       msg.SenderID,
				Status:         target,
			})
		}
	}
	return nil
}

// emitStatusChange tells the sender their message moved. The event also goes
// to the room so open clients can repaint ticks.
func (e *Engine) emitStatusChange(change models.StatusChange) {
	event := &Event{
		Type:           EventMessageStatusChanged,
		ConversationID: change.ConversationID,
		MessageID:      change.MessageID,
		Status:         change.Status,
	}
	e.fanout.ToUser(change.SenderID, event)
	e.fanout.ToRoom(change.ConversationID, event)
}
