package presence

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Mirror publishes per-user online keys to Redis with a TTL, so sibling
// processes behind a load balancer can answer "is this user online anywhere".
// All writes are best effort; a dead Redis only degrades cross-node presence.
type Mirror struct {
	client *redis.Client
	ttl    time.Duration
}

func NewMirror(addr string, ttl time.Duration) *Mirror {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	return &Mirror{client: client, ttl: ttl}
}

func (m *Mirror) key(userID int) string {
	return fmt.Sprintf("presence:user:%d", userID)
}

func (m *Mirror) SetOnline(userID int) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.client.Set(ctx, m.key(userID), "1", m.ttl).Err(); err != nil {
		log.Printf("presence mirror set failed for user %d: %v", userID, err)
	}
}

func (m *Mirror) SetOffline(userID int) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.client.Del(ctx, m.key(userID)).Err(); err != nil {
		log.Printf("presence mirror del failed for user %d: %v", userID, err)
	}
}

// Refresh re-arms the TTL so a live user never expires. The TTL is the safety
// net for crashed processes that never sent SetOffline.
func (m *Mirror) Refresh(userID int) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.client.Expire(ctx, m.key(userID), m.ttl).Err(); err != nil {
		log.Printf("presence mirror refresh failed for user %d: %v", userID, err)
	}
}

// IsOnlineAnywhere consults the shared keyspace. Used by tooling, not by the
// hot path; the local registry answers for this process.
func (m *Mirror) IsOnlineAnywhere(ctx context.Context, userID int) (bool, error) {
	n, err := m.client.Exists(ctx, m.key(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("presence mirror lookup: %w", err)
	}
	return n > 0, nil
}

func (m *Mirror) Close() error {
	return m.client.Close()
}
