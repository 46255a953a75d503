/*
Package chat contains the realtime message broker.

This file defines the Client struct, the per-connection protocol loop over a
WebSocket. It decodes inbound frames into intents, dispatches send intents to
the Broker, and drains its bounded outbound queue to the socket in FIFO order.
One Client runs per live connection, independently of all others.
*/
package chat

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"relaychat/internal/app/user"
	"relaychat/internal/pkg/errs"
	"relaychat/internal/pkg/logx"
)

const (
	// timeout duration for writing to the WebSocket connection.
	writeWait = 10 * time.Second

	// maximum time allowed for the server to wait for a Pong message from the client.
	pongWait = 60 * time.Second

	// frequency at which the server sends a Ping message.
	pingPeriod = (pongWait * 9) / 10

	// maximum allowed size (in bytes) of a frame sent by the client.
	// Exceeding it closes the connection.
	maxFrameSize = 8192

	// dispatchTimeout bounds how long a single inbound intent may spend in
	// membership checks and persistence.
	dispatchTimeout = 10 * time.Second
)

// WebSocket close codes (4000-4999 application range) reported to peers on
// connection-fatal errors.
const (
	WsCloseCodeDuplicate    = 4001
	WsCloseCodeSlowConsumer = 4002
	WsCloseCodeProtocol     = 4003
)

// Client is the WebSocket implementation of Conn. It owns the read and write
// pumps for one live connection.
type Client struct {
	// unique connection id.
	id string

	// the authenticated identity bound at handshake time. Immutable.
	identity user.Identity

	// underlying WebSocket connection object.
	conn *websocket.Conn

	broker    *Broker
	registry  *Registry
	directory *Directory

	// send is the bounded outbound queue, filled by broker fan-out and
	// drained by WritePump.
	send chan []byte

	// done is closed exactly once when the connection is torn down.
	done      chan struct{}
	closeOnce sync.Once

	// structured logger with connection context.
	logger zerolog.Logger
}

// NewClient constructs a Client bound to the identity with a bounded outbound
// queue of queueSize frames.
func NewClient(conn *websocket.Conn, identity user.Identity, broker *Broker, registry *Registry, directory *Directory, queueSize int) *Client {
	id := uuid.New().String()

	clientLogger := logx.Logger().With().
		Str("conn_id", id).
		Str("identity_id", identity.ID).
		Logger()

	return &Client{
		id:        id,
		identity:  identity,
		conn:      conn,
		broker:    broker,
		registry:  registry,
		directory: directory,
		send:      make(chan []byte, queueSize),
		done:      make(chan struct{}),
		logger:    clientLogger,
	}
}

// ID implements Conn.
func (c *Client) ID() string { return c.id }

// Identity implements Conn.
func (c *Client) Identity() user.Identity { return c.identity }

// Enqueue implements Conn. It never blocks: the frame is queued or refused.
func (c *Client) Enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Close implements Conn. It reports the application error to the peer with a
// best-effort close frame and stops both pumps. Idempotent.
func (c *Client) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		closeCode := wsCloseCode(code)

		// Close may be called from the broker goroutine while WritePump is
		// writing; WriteControl is safe to call concurrently with WriteMessage,
		// WriteMessage is not.
		closeFrame := websocket.FormatCloseMessage(closeCode, reason)
		if err := c.conn.WriteControl(websocket.CloseMessage, closeFrame, time.Now().Add(writeWait)); err != nil {
			c.logger.Debug().Err(err).Msg("Failed to send close frame.")
		}

		close(c.done)

		if err := c.conn.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Connection close error.")
		}

		c.logger.Info().
			Int("close_code", closeCode).
			Str("reason", reason).
			Msg("Connection closed.")
	})
}

// wsCloseCode maps an application error code to a WebSocket close code.
func wsCloseCode(code int) int {
	switch code {
	case errs.ErrDuplicateConnection:
		return WsCloseCodeDuplicate
	case errs.ErrSlowConsumer:
		return WsCloseCodeSlowConsumer
	case errs.ErrProtocolViolation:
		return WsCloseCodeProtocol
	default:
		return websocket.CloseNormalClosure
	}
}

// ReadPump handles reading frames from the WebSocket connection.
// It handles heartbeats (Pong), frame decoding and dispatch, and performs
// cleanup upon connection closure. Runs on the connection's own goroutine.
func (c *Client) ReadPump() {
	defer c.cleanupOnDisconnect()

	c.conn.SetReadLimit(maxFrameSize)

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set read deadline")
		return
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frameBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info().Err(err).Msg("Error reading frame (client close/going away)")
			}
			break
		}

		c.processInboundFrame(frameBytes)
	}
}

// cleanupOnDisconnect unregisters the connection, which cascades to dropping
// all of its room subscriptions, and closes the socket.
func (c *Client) cleanupOnDisconnect() {
	c.logger.Info().Msg("Connection cleanup starting.")

	c.registry.Unregister(c.id)
	c.Close(0, "")
}

// processInboundFrame decodes one raw frame and dispatches it. Malformed or
// unknown frames are reported back to this connection only and never fan out.
func (c *Client) processInboundFrame(frameBytes []byte) {
	var frame InboundFrame

	if err := json.Unmarshal(frameBytes, &frame); err != nil {
		c.logger.Warn().Err(err).
			Bytes("frame_bytes", frameBytes).
			Msg("Client sent invalid JSON")
		c.SendError(errs.NewError(errs.ErrProtocolViolation))
		return
	}

	switch frame.Type {
	case FrameSend:
		c.handleSend(&frame)

	case FrameJoin:
		c.handleJoin(&frame)

	case FrameLeave:
		c.handleLeave(&frame)

	default:
		c.logger.Warn().Str("frame_type", string(frame.Type)).Msg("Client sent unsupported frame type")
		c.SendError(errs.NewError(errs.ErrProtocolViolation))
	}
}

// resolveRoomKey derives the target room from a frame's addressing fields:
// an explicit room key, a direct-chat recipient, or a group id.
func (c *Client) resolveRoomKey(frame *InboundFrame) (RoomKey, *errs.CustomError) {
	switch {
	case frame.RoomKey != "":
		return ParseRoomKey(frame.RoomKey)
	case frame.RecipientID != "":
		return DirectKey(c.identity.ID, frame.RecipientID)
	case frame.GroupID != "":
		return GroupKey(frame.GroupID)
	default:
		return "", errs.NewError(errs.ErrMissingRecipient)
	}
}

// handleSend dispatches a send intent to the Broker. Validation and
// authorization failures are echoed to this connection only.
func (c *Client) handleSend(frame *InboundFrame) {
	key, customErr := c.resolveRoomKey(frame)
	if customErr != nil {
		c.SendError(customErr)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()

	if _, customErr := c.broker.Submit(ctx, c.identity, key, frame.Message, frame.AttachmentKey); customErr != nil {
		c.SendError(customErr)
		return
	}

	// The sender's own echo arrives through fan-out when this connection is
	// subscribed to the room.
}

// handleJoin subscribes this connection to the addressed room.
func (c *Client) handleJoin(frame *InboundFrame) {
	key, customErr := c.resolveRoomKey(frame)
	if customErr != nil {
		c.SendError(customErr)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()

	if customErr := c.directory.Join(ctx, c, key); customErr != nil {
		c.SendError(customErr)
		return
	}

	c.Enqueue(EncodeRoomFrame(FrameJoined, key))
}

// handleLeave unsubscribes this connection from the addressed room.
func (c *Client) handleLeave(frame *InboundFrame) {
	key, customErr := c.resolveRoomKey(frame)
	if customErr != nil {
		c.SendError(customErr)
		return
	}

	c.directory.Leave(c.id, key)
	c.Enqueue(EncodeRoomFrame(FrameLeft, key))
}

// SendError queues an error frame for this connection only.
func (c *Client) SendError(customErr *errs.CustomError) {
	if !c.Enqueue(EncodeError(customErr)) {
		c.logger.Warn().Int("error_code", customErr.Code).Msg("Outbound queue full, dropping error frame")
	}
}

// WritePump drains the outbound queue to the socket in FIFO order and keeps
// the heartbeat alive. Per-room delivery order for this recipient is the
// enqueue order. Runs on its own goroutine.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.Close(0, "")
	}()

	for {
		select {
		case frame := <-c.send:
			if !c.writeQueuedFrame(frame) {
				return
			}

		case <-ticker.C:
			if !c.writePingMessage() {
				return
			}

		case <-c.done:
			return
		}
	}
}

// writeQueuedFrame writes one frame pulled from the send queue to the socket.
// Returns true if the WritePump loop should continue, false if it should terminate.
func (c *Client) writeQueuedFrame(frame []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline")
		return false
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		c.logger.Error().Err(err).Msg("Error writing frame")
		return false
	}

	return true
}

// writePingMessage sends a periodic WebSocket Ping message to maintain the connection heartbeat.
// Returns false if the WritePump loop should terminate due to write failure.
func (c *Client) writePingMessage() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline on ping")
		return false
	}

	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Error().Err(err).Msg("Error writing ping")
		return false
	}

	return true
}
