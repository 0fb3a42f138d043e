package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/4xmen/goftar/internal/push"
	"github.com/4xmen/goftar/internal/store"
	"github.com/4xmen/goftar/pkg/i18n"
)

type PushHandler struct {
	store    *store.Store
	notifier *push.Notifier
}

func NewPushHandler(s *store.Store, notifier *push.Notifier) *PushHandler {
	return &PushHandler{store: s, notifier: notifier}
}

// VAPIDPublicKey hands the frontend the key it needs to subscribe.
func (h *PushHandler) VAPIDPublicKey(c *gin.Context) {
	if h.notifier == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": i18n.Translate("not found")})
		return
	}
	c.JSON(http.StatusOK, gin.H{"public_key": h.notifier.VAPIDPublicKey()})
}

// Subscribe stores the browser's push subscription for the caller.
func (h *PushHandler) Subscribe(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req struct {
		Endpoint string `json:"endpoint" binding:"required"`
		Keys     struct {
			P256dh string `json:"p256dh" binding:"required"`
			Auth   string `json:"auth" binding:"required"`
		} `json:"keys" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": i18n.Translate("invalid request")})
		return
	}

	sub := &store.PushSubscription{
		UserID:   userID,
		Endpoint: req.Endpoint,
		P256dh:   req.Keys.P256dh,
		Auth:     req.Keys.Auth,
	}
	if err := h.store.SavePushSubscription(c.Request.Context(), sub); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": i18n.Translate("failed to save subscription")})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "subscribed"})
}

// Unsubscribe revokes the named endpoint.
func (h *PushHandler) Unsubscribe(c *gin.Context) {
	if _, ok := currentUserID(c); !ok {
		return
	}

	var req struct {
		Endpoint string `json:"endpoint" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": i18n.Translate("invalid request")})
		return
	}

	if err := h.store.RevokePushSubscription(c.Request.Context(), req.Endpoint); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": i18n.Translate("failed to save subscription")})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "unsubscribed"})
}
