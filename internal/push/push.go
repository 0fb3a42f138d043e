package push

import (
	"context"
	"encoding/json"
	"log"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/4xmen/goftar/internal/store"
)

// Notifier sends Web Push notifications to subscribed users.
type Notifier struct {
	store           *store.Store
	vapidPublicKey  string
	vapidPrivateKey string
}

// NewNotifier creates a push Notifier. Returns nil if VAPID keys are empty.
func NewNotifier(s *store.Store, vapidPublicKey, vapidPrivateKey string) *Notifier {
	if vapidPublicKey == "" || vapidPrivateKey == "" {
		return nil
	}
	return &Notifier{
		store:           s,
		vapidPublicKey:  vapidPublicKey,
		vapidPrivateKey: vapidPrivateKey,
	}
}

// VAPIDPublicKey returns the public VAPID key for the frontend.
func (n *Notifier) VAPIDPublicKey() string {
	return n.vapidPublicKey
}

// payload is the JSON structure sent inside the push notification.
type payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url"`
}

// SendNewMessageNotification pushes to every live subscription of the
// receiver. The preview is the same line the sidebar shows.
func (n *Notifier) SendNewMessageNotification(receiverID int, senderName, preview string) {
	if n == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	subs, err := n.store.PushSubscriptionsForUser(ctx, receiverID)
	if err != nil {
		log.Printf("push: failed to query subscriptions for user %d: %v", receiverID, err)
		return
	}
	if len(subs) == 0 {
		return
	}

	p := payload{
		Title: "پیام جدید از " + senderName,
		Body:  preview,
		URL:   "/",
	}
	data, _ := json.Marshal(p)

	log.Printf("push: sending notification to %d subscription(s) for user %d", len(subs), receiverID)
	for _, sub := range subs {
		go n.sendToSubscription(sub, data)
	}
}

func (n *Notifier) sendToSubscription(sub *store.PushSubscription, data []byte) {
	s := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dh,
			Auth:   sub.Auth,
		},
	}

	resp, err := webpush.SendNotification(data, s, &webpush.Options{
		VAPIDPublicKey:  n.vapidPublicKey,
		VAPIDPrivateKey: n.vapidPrivateKey,
		Subscriber:      "mailto:push@goftar.local",
		TTL:             86400,
	})
	if err != nil {
		log.Printf("push: failed to send to %s: %v", sub.Endpoint, err)
		return
	}
	defer resp.Body.Close()

	// 410 Gone or 404 means the subscription expired, clean it up
	if resp.StatusCode == 410 || resp.StatusCode == 404 {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := n.store.RevokePushSubscription(ctx, sub.Endpoint); err != nil {
			log.Printf("push: failed to revoke expired subscription: %v", err)
			return
		}
		log.Printf("push: revoked expired subscription %s (status %d)", sub.Endpoint, resp.StatusCode)
	}
}
