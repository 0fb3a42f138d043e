package handlers

import (
	"errors"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/4xmen/goftar/internal/engine"
	"github.com/4xmen/goftar/internal/models"
	"github.com/4xmen/goftar/internal/store"
	"github.com/4xmen/goftar/pkg/i18n"
)

type MessageHandler struct {
	engine          *engine.Engine
	store           *store.Store
	maxUploadSize   int64
	fileStoragePath string
}

func NewMessageHandler(eng *engine.Engine, s *store.Store, maxUploadSize int64, fileStoragePath string) *MessageHandler {
	return &MessageHandler{
		engine:          eng,
		store:           s,
		maxUploadSize:   maxUploadSize,
		fileStoragePath: fileStoragePath,
	}
}

// fail maps engine and store errors onto HTTP statuses.
func fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": i18n.Translate("not found")})
	case errors.Is(err, engine.ErrNotParticipant):
		c.JSON(http.StatusForbidden, gin.H{"error": i18n.Translate("not a participant")})
	case errors.Is(err, engine.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": i18n.Translate("can only delete own messages")})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": i18n.Translate("internal server error")})
	}
}

func currentUserID(c *gin.Context) (int, bool) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": i18n.Translate("unauthorized")})
		return 0, false
	}
	return userID.(int), true
}

// CreateConversation returns the private conversation with the named
// participant, creating it on first contact.
func (h *MessageHandler) CreateConversation(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req struct {
		ParticipantID int `json:"participant_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": i18n.Translate("invalid participant_id")})
		return
	}
	if req.ParticipantID == userID {
		c.JSON(http.StatusBadRequest, gin.H{"error": i18n.Translate("cannot create conversation with yourself")})
		return
	}

	conv, created, err := h.engine.GetOrCreatePrivate(c.Request.Context(), userID, req.ParticipantID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": i18n.Translate("participant not found")})
			return
		}
		fail(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, conv)
}

// GetConversations returns the caller's sidebar, newest activity first.
func (h *MessageHandler) GetConversations(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	summaries, err := h.engine.ConversationSummaries(c.Request.Context(), userID)
	if err != nil {
		fail(c, err)
		return
	}
	if summaries == nil {
		summaries = []*models.ConversationSummary{}
	}
	c.JSON(http.StatusOK, gin.H{"conversations": summaries})
}

// GetMessages returns conversation history as the caller sees it, oldest
// first.
func (h *MessageHandler) GetMessages(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	conversationID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": i18n.Translate("invalid conversation id")})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if offset < 0 {
		offset = 0
	}

	messages, err := h.engine.ListMessages(c.Request.Context(), userID, conversationID, limit, offset)
	if err != nil {
		fail(c, err)
		return
	}
	if messages == nil {
		messages = []*models.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// SendMessage creates a text message in a conversation.
func (h *MessageHandler) SendMessage(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req struct {
		ConversationID int    `json:"conversation_id" binding:"required"`
		Content        string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": i18n.Translate("invalid request")})
		return
	}

	msg, err := h.engine.SendMessage(c.Request.Context(), userID, engine.SendInput{
		ConversationID: req.ConversationID,
		Type:           models.TypeText,
		Content:        req.Content,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// UploadMedia stores the file and creates the media message in one step.
func (h *MessageHandler) UploadMedia(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	conversationID, err := strconv.Atoi(c.PostForm("conversation_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": i18n.Translate("invalid conversation id")})
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": i18n.Translate("file is required")})
		return
	}
	defer file.Close()

	if header.Size > h.maxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": i18n.Translate("file too large")})
		return
	}

	// Generate unique filename. Base strips any path the client smuggled
	// into the multipart filename, so the write stays inside the storage dir.
	fileName := filepath.Base(header.Filename)
	filename := strconv.FormatInt(time.Now().UnixNano(), 10) + "_" + fileName
	if err := c.SaveUploadedFile(header, h.fileStoragePath+"/"+filename); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": i18n.Translate("failed to save file")})
		return
	}

	mediaURL := "/api/files/" + filename
	fileSize := header.Size
	msg, err := h.engine.SendMessage(c.Request.Context(), userID, engine.SendInput{
		ConversationID: conversationID,
		Type:           mediaType(header.Header.Get("Content-Type")),
		MediaURL:       &mediaURL,
		FileName:       &fileName,
		FileSize:       &fileSize,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func mediaType(contentType string) string {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return models.TypeImage
	case strings.HasPrefix(contentType, "video/"):
		return models.TypeVideo
	default:
		return models.TypeFile
	}
}

// DeleteMessage handles both deletion flavors, selected by the scope query
// parameter: "me" (default) hides the message for the caller, "all"
// tombstones it for everyone.
func (h *MessageHandler) DeleteMessage(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	messageID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": i18n.Translate("invalid message id")})
		return
	}

	scope := c.DefaultQuery("scope", "me")
	switch scope {
	case "me":
		err = h.engine.DeleteForMe(c.Request.Context(), userID, messageID)
	case "all":
		err = h.engine.DeleteForEveryone(c.Request.Context(), userID, messageID)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": i18n.Translate("invalid request")})
		return
	}
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted", "scope": scope})
}

// MarkConversationRead marks everything addressed to the caller as read.
func (h *MessageHandler) MarkConversationRead(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	conversationID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": i18n.Translate("invalid conversation id")})
		return
	}

	if err := h.engine.MarkConversationRead(c.Request.Context(), userID, conversationID); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "read"})
}

// GetUserProfile returns another user's public card, with presence.
func (h *MessageHandler) GetUserProfile(c *gin.Context) {
	if _, ok := currentUserID(c); !ok {
		return
	}
	targetID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": i18n.Translate("invalid request")})
		return
	}

	user, err := h.store.GetUser(c.Request.Context(), targetID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}
