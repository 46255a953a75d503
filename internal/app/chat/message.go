/*
Package chat contains the realtime message broker.

This file defines the wire frames exchanged with clients. Frame kinds are a
closed set; a frame carrying an unknown type tag is rejected.
*/
package chat

import (
	"encoding/json"
	"time"

	"relaychat/internal/pkg/errs"
)

// FrameType tags every frame on the wire, inbound and outbound.
type FrameType string

const (
	// Inbound frame kinds.
	FrameSend  FrameType = "send"
	FrameJoin  FrameType = "join"
	FrameLeave FrameType = "leave"

	// Outbound frame kinds.
	FrameMessage FrameType = "message"
	FrameJoined  FrameType = "joined"
	FrameLeft    FrameType = "left"
	FrameError   FrameType = "error"
)

// InboundFrame is the decoded form of a client frame. Exactly one of RoomKey,
// RecipientID, or GroupID addresses the target room for send and join intents.
type InboundFrame struct {
	Type          FrameType `json:"type"`
	RoomKey       string    `json:"room_key,omitempty"`
	RecipientID   string    `json:"recipient_id,omitempty"`
	GroupID       string    `json:"group_id,omitempty"`
	Message       string    `json:"message,omitempty"`
	AttachmentKey string    `json:"attachment_key,omitempty"`
}

// OutboundEvent is a durably persisted message queued for delivery to every
// subscribed connection of its room.
type OutboundEvent struct {
	Type          FrameType `json:"type"`
	RoomKey       string    `json:"room_key"`
	ID            string    `json:"id"`
	SenderID      string    `json:"sender_id"`
	SenderName    string    `json:"sender_name"`
	Message       string    `json:"message,omitempty"`
	AttachmentKey string    `json:"attachment_key,omitempty"`
	SequenceNo    int64     `json:"sequence_no"`
	Timestamp     int64     `json:"timestamp"`
}

// RoomFrame acknowledges a join or leave back to the requesting connection.
type RoomFrame struct {
	Type    FrameType `json:"type"`
	RoomKey string    `json:"room_key"`
}

// ErrorFrame reports a per-operation failure to the originating connection
// only. It never fans out.
type ErrorFrame struct {
	Type   FrameType `json:"type"`
	Code   int       `json:"code"`
	Detail string    `json:"detail"`
}

// EncodeEvent marshals an OutboundEvent for the wire.
func EncodeEvent(ev *OutboundEvent) ([]byte, error) {
	return json.Marshal(ev)
}

// EncodeError marshals an ErrorFrame for the given application error.
func EncodeError(customErr *errs.CustomError) []byte {
	frame := ErrorFrame{
		Type:   FrameError,
		Code:   customErr.Code,
		Detail: customErr.Message,
	}

	// ErrorFrame has no unmarshalable fields; this cannot fail.
	data, _ := json.Marshal(frame)
	return data
}

// EncodeRoomFrame marshals a join/leave acknowledgment.
func EncodeRoomFrame(kind FrameType, key RoomKey) []byte {
	data, _ := json.Marshal(RoomFrame{Type: kind, RoomKey: key.String()})
	return data
}

// NewOutboundEvent builds the delivery event for a persisted message.
func NewOutboundEvent(key RoomKey, messageID, senderID, senderName, content, attachmentKey string, sequenceNo int64, createdAt time.Time) *OutboundEvent {
	return &OutboundEvent{
		Type:          FrameMessage,
		RoomKey:       key.String(),
		ID:            messageID,
		SenderID:      senderID,
		SenderName:    senderName,
		Message:       content,
		AttachmentKey: attachmentKey,
		SequenceNo:    sequenceNo,
		Timestamp:     createdAt.UnixMilli(),
	}
}
