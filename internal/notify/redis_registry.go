package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"
)

const sessionChannelPrefix = "sessions:"

var _ SessionRegistry = (*RedisSessionRegistry)(nil)

// RedisSessionRegistry publishes events to the per-user pub/sub channel
// that frontend gateways subscribe live sessions to. Fire-and-forget: a
// publish with zero subscribers is not an error.
type RedisSessionRegistry struct {
	client *goredis.Client
}

func NewRedisSessionRegistry(client *goredis.Client) (*RedisSessionRegistry, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &RedisSessionRegistry{client: client}, nil
}

func (r *RedisSessionRegistry) Push(ctx context.Context, userID string, event StatusEvent) error {
	if r == nil || r.client == nil {
		return fmt.Errorf("session registry is not initialized")
	}

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("user id is required")
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal status event: %w", err)
	}

	if err := r.client.Publish(ctx, sessionChannelPrefix+userID, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish status event: %w", err)
	}

	return nil
}
