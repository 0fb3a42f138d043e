package engine

import (
	"context"
	"log"

	"github.com/4xmen/goftar/internal/models"
	"github.com/4xmen/goftar/pkg/i18n"
)

// SummaryFor projects the participant's sidebar entry for the conversation.
// Nothing here is stored: the newest visible message and a fresh unread count
// are recomputed every time, so the summary can never drift from the truth.
func (e *Engine) SummaryFor(ctx context.Context, conv *models.Conversation, participantID int) (*models.ConversationSummary, error) {
	last, err := e.store.LastVisibleMessage(ctx, conv.ID, participantID)
	if err != nil {
		return nil, err
	}
	unread, err := e.store.UnreadCount(ctx, conv.ID, participantID)
	if err != nil {
		return nil, err
	}

	summary := &models.ConversationSummary{
		ConversationID: conv.ID,
		UnreadCount:    unread,
		Timestamp:      conv.UpdatedAt,
	}
	if last == nil {
		summary.Text = i18n.Translate("no messages yet")
		return summary, nil
	}

	summary.Timestamp = last.CreatedAt
	summary.Text = e.summaryText(ctx, conv, last, participantID)
	return summary, nil
}

// ConversationSummaries builds the whole sidebar for a user, newest activity
// first.
func (e *Engine) ConversationSummaries(ctx context.Context, userID int) ([]*models.ConversationSummary, error) {
	convs, err := e.store.ConversationsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	summaries := make([]*models.ConversationSummary, 0, len(convs))
	for _, conv := range convs {
		summary, err := e.SummaryFor(ctx, conv, userID)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// summaryText renders the preview line. Media messages show a kind label
// instead of a URL; group previews carry the sender's name so members can
// tell who spoke last.
func (e *Engine) summaryText(ctx context.Context, conv *models.Conversation, msg *models.Message, viewerID int) string {
	body := previewBody(msg)
	if !conv.IsGroup() {
		return body
	}

	if msg.SenderID == viewerID {
		return i18n.Translate("you") + ": " + body
	}
	names, err := e.store.UsernamesByID(ctx, []int{msg.SenderID})
	if err != nil {
		log.Printf("failed to resolve sender name for summary: %v", err)
		return body
	}
	if name, ok := names[msg.SenderID]; ok {
		return name + ": " + body
	}
	return body
}

func previewBody(msg *models.Message) string {
	if msg.DeletedForAll {
		return i18n.Translate("this message was deleted")
	}
	switch msg.Type {
	case models.TypeImage:
		return i18n.Translate("photo")
	case models.TypeVideo:
		return i18n.Translate("video")
	case models.TypeFile:
		return i18n.Translate("file")
	default:
		return msg.Content
	}
}

// notifyOffline pushes a notification to every recipient with no live
// connection. Push failures never fail the send.
func (e *Engine) notifyOffline(ctx context.Context, conv *models.Conversation, msg *models.Message) {
	if e.pusher == nil {
		return
	}
	offline := make([]int, 0)
	for _, id := range conv.RecipientIDs(msg.SenderID) {
		if !e.presence.IsOnline(id) {
			offline = append(offline, id)
		}
	}
	if len(offline) == 0 {
		return
	}

	names, err := e.store.UsernamesByID(ctx, []int{msg.SenderID})
	if err != nil {
		log.Printf("failed to resolve sender name for push: %v", err)
		return
	}
	senderName := names[msg.SenderID]
	preview := previewBody(msg)
	for _, id := range offline {
		e.pusher.SendNewMessageNotification(id, senderName, preview)
	}
}
