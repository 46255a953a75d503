/*
Package chat contains the realtime message broker.

This file defines the Broker, the coordination core. A submitted message is
validated, durably persisted with a per-room sequence number, and only then
fanned out to the room's live subscribers. Delivery to each subscriber is
independent and non-blocking; one slow consumer never stalls the rest.
*/
package chat

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"relaychat/internal/app/user"
	"relaychat/internal/pkg/errs"
	"relaychat/internal/pkg/logx"
)

// MaxContentBytes is the maximum allowed size (in bytes) for text message content.
const MaxContentBytes = 5000

// StoredMessage is the durable record returned by the storage collaborator.
// The sequence number is assigned by storage under a per-room serialization
// point, so it is monotonic and gapless within a room.
type StoredMessage struct {
	ID         string
	SequenceNo int64
	CreatedAt  time.Time
}

// MessageSink is the storage collaborator that persists submitted messages.
type MessageSink interface {
	CreateMessage(ctx context.Context, roomKey, senderID, content, attachmentKey string) (StoredMessage, error)
}

// Broker validates, persists, and fans out submitted messages.
type Broker struct {
	guard     *Guard
	directory *Directory
	registry  *Registry
	sink      MessageSink

	logger zerolog.Logger
}

// NewBroker wires the broker to its collaborators.
func NewBroker(guard *Guard, directory *Directory, registry *Registry, sink MessageSink) *Broker {
	return &Broker{
		guard:     guard,
		directory: directory,
		registry:  registry,
		sink:      sink,
		logger:    logx.Logger().With().Str("component", "broker").Logger(),
	}
}

// Submit accepts a message for the room, persists it, and fans it out to all
// currently subscribed connections, including the sender's own when
// subscribed. The returned event echoes what subscribers receive.
//
// The message is durable before any fan-out occurs; a storage failure fails
// the whole submit and nothing is delivered. A connection offline at fan-out
// time catches up through the message history endpoint.
func (b *Broker) Submit(ctx context.Context, sender user.Identity, key RoomKey, content, attachmentKey string) (*OutboundEvent, *errs.CustomError) {
	if key == "" {
		return nil, errs.NewError(errs.ErrMissingRecipient)
	}

	content = strings.TrimSpace(content)
	if content == "" && attachmentKey == "" {
		return nil, errs.NewError(errs.ErrEmptyMessage)
	}
	if len(content) > MaxContentBytes {
		return nil, errs.NewError(errs.ErrMessageContentTooLong)
	}

	ok, err := b.guard.CanPost(ctx, sender, key)
	if err != nil {
		b.logger.Error().Err(err).
			Str("room_key", key.String()).
			Str("sender_id", sender.ID).
			Msg("Membership check failed during submit.")
		return nil, errs.NewError(errs.ErrStorageUnavailable)
	}
	if !ok {
		return nil, errs.NewError(errs.ErrUnauthorized)
	}

	stored, err := b.sink.CreateMessage(ctx, key.String(), sender.ID, content, attachmentKey)
	if err != nil {
		b.logger.Error().Err(err).
			Str("room_key", key.String()).
			Str("sender_id", sender.ID).
			Msg("Message persistence failed; nothing fanned out.")
		return nil, errs.NewError(errs.ErrStorageUnavailable)
	}

	event := NewOutboundEvent(key, stored.ID, sender.ID, sender.Username, content, attachmentKey, stored.SequenceNo, stored.CreatedAt)

	b.fanOut(key, event)

	return event, nil
}

// fanOut delivers the event to a point-in-time snapshot of the room's
// subscribers. Enqueue is non-blocking; a full outbound queue drops that one
// connection with SlowConsumer and does not affect the others.
func (b *Broker) fanOut(key RoomKey, event *OutboundEvent) {
	data, err := EncodeEvent(event)
	if err != nil {
		b.logger.Error().Err(err).
			Str("message_id", event.ID).
			Msg("Error marshaling event for fan-out.")
		return
	}

	subs := b.directory.Subscribers(key)

	delivered := 0
	for _, c := range subs {
		if c.Enqueue(data) {
			delivered++
			continue
		}

		b.logger.Warn().
			Str("conn_id", c.ID()).
			Str("identity_id", c.Identity().ID).
			Str("room_key", key.String()).
			Msg("Outbound queue full; dropping slow consumer.")

		b.registry.Drop(c.ID(), errs.ErrSlowConsumer, "outbound queue overflow")

		// Drop is a no-op when the connection already unregistered; clear any
		// subscriptions it left behind so it cannot linger in subscriber sets.
		b.directory.LeaveAll(c.ID())
	}

	b.logger.Debug().
		Str("room_key", key.String()).
		Int64("sequence_no", event.SequenceNo).
		Int("subscribers", len(subs)).
		Int("delivered", delivered).
		Msg("Fan-out complete.")
}
