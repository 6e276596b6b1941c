package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/warp/finance-engine/ledger"
)

// envelope is what travels over Redis pub/sub.
type envelope struct {
	Origin string          `json:"origin"`
	UserID ledger.UserID   `json:"user_id"`
	Frame  json.RawMessage `json:"frame"`
}

// RedisRelay is a notify.Broadcaster that delivers to the local Hub and
// republishes the frame so other instances deliver to theirs.
type RedisRelay struct {
	hub     *Hub
	client  redis.UniversalClient
	channel string
	origin  string
	logger  *slog.Logger

	mu     sync.Mutex
	pubsub *redis.PubSub
	wg     sync.WaitGroup
}

// NewRedisRelay creates a relay on channel "{prefix}:notifications".
func NewRedisRelay(hub *Hub, client redis.UniversalClient, prefix string, logger *slog.Logger) *RedisRelay {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisRelay{
		hub:     hub,
		client:  client,
		channel: prefix + ":notifications",
		origin:  uuid.NewString(),
		logger:  logger,
	}
}

// Broadcast delivers locally, then publishes for the other instances.
func (r *RedisRelay) Broadcast(ctx context.Context, user ledger.UserID, frame []byte) error {
	localErr := r.hub.Broadcast(ctx, user, frame)

	msg, err := json.Marshal(envelope{Origin: r.origin, UserID: user, Frame: frame})
	if err != nil {
		return errors.Join(localErr, err)
	}
	if err := r.client.Publish(ctx, r.channel, msg).Err(); err != nil {
		return errors.Join(localErr, fmt.Errorf("publish: %w", err))
	}
	return localErr
}

// Start subscribes and returns once the subscription is confirmed.
func (r *RedisRelay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pubsub != nil {
		return nil
	}

	ps := r.client.Subscribe(ctx, r.channel)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.pubsub = ps

	r.wg.Add(1)
	go r.run(ps.Channel())

	r.logger.Info("realtime relay started", "channel", r.channel, "origin", r.origin)
	return nil
}

// Stop unsubscribes and waits for the receive loop to exit.
func (r *RedisRelay) Stop() {
	r.mu.Lock()
	ps := r.pubsub
	r.pubsub = nil
	r.mu.Unlock()
	if ps == nil {
		return
	}
	ps.Close()
	r.wg.Wait()
	r.logger.Info("realtime relay stopped")
}

func (r *RedisRelay) run(messages <-chan *redis.Message) {
	defer r.wg.Done()
	for m := range messages {
		var env envelope
		if err := json.Unmarshal([]byte(m.Payload), &env); err != nil {
			r.logger.Warn("bad relay message", "error", err)
			continue
		}
		if env.Origin == r.origin {
			continue
		}
		if err := r.hub.Broadcast(context.Background(), env.UserID, env.Frame); err != nil {
			r.logger.Warn("relay delivery failed", "user_id", env.UserID, "error", err)
		}
	}
}
