package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"relaychat/internal/pkg/logx"
)

// membershipChannel is the Redis pub/sub channel carrying membership-changed
// notifications. Only invalidation signals travel here, never message frames.
const membershipChannel = "relaychat:membership"

// Membership event actions.
const (
	MemberAdded   = "member_added"
	MemberRemoved = "member_removed"
	GroupDeleted  = "group_deleted"
)

// MembershipEvent announces a change to a group's member set.
type MembershipEvent struct {
	GroupID string `json:"group_id"`
	Action  string `json:"action"`
	UserID  string `json:"user_id,omitempty"`
}

// EventBus publishes and subscribes to membership-changed notifications over
// Redis, so membership caches stay bounded-stale across processes.
type EventBus struct {
	rdb    *redis.Client
	logger zerolog.Logger
}

// NewEventBus connects to Redis using the given URL and verifies the
// connection with a ping.
func NewEventBus(ctx context.Context, redisURL string) (*EventBus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &EventBus{
		rdb:    rdb,
		logger: logx.Logger().With().Str("component", "eventbus").Logger(),
	}, nil
}

// PublishMembershipChange announces the event to every subscribed process.
func (b *EventBus) PublishMembershipChange(ctx context.Context, event MembershipEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal membership event: %w", err)
	}

	if err := b.rdb.Publish(ctx, membershipChannel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish membership event: %w", err)
	}

	return nil
}

// SubscribeMembershipChanges starts a goroutine that invokes fn for every
// membership event until ctx is canceled. Malformed payloads are logged and
// skipped.
func (b *EventBus) SubscribeMembershipChanges(ctx context.Context, fn func(MembershipEvent)) {
	sub := b.rdb.Subscribe(ctx, membershipChannel)

	go func() {
		defer sub.Close()

		ch := sub.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var event MembershipEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					b.logger.Warn().Err(err).
						Str("payload", msg.Payload).
						Msg("Dropping malformed membership event.")
					continue
				}

				fn(event)

			case <-ctx.Done():
				return
			}
		}
	}()

	b.logger.Info().Str("channel", membershipChannel).Msg("Subscribed to membership events.")
}

// Close releases the Redis connection.
func (b *EventBus) Close() error {
	return b.rdb.Close()
}
