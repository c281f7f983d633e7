// Package server adapts individual WebSocket connections to the chat
// transport contract, handling read deadlines, the write pump, and lifecycle
// control for each connection.
package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Tyrowin/minichat/internal/chat"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Send errors. Either one makes the chat manager drop the connection.
var (
	ErrClientClosed   = errors.New("client closed")
	ErrSendBufferFull = errors.New("client send buffer full")
)

// Client is a WebSocket connection seen through chat.Transport. Outbound
// frames are queued on a buffered channel drained by the write pump, so Send
// never blocks the broadcaster.
type Client struct {
	id             string
	conn           *websocket.Conn
	addr           string
	send           chan []byte
	maxMessageSize int64
	logger         zerolog.Logger

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewClient wraps conn. The client id is a fresh UUID, never reused.
func NewClient(conn *websocket.Conn, addr string, cfg Config) *Client {
	cfg = sanitizeConfig(cfg)
	id := uuid.NewString()

	c := &Client{
		id:             id,
		conn:           conn,
		addr:           addr,
		send:           make(chan []byte, cfg.SendBufferSize),
		maxMessageSize: cfg.MaxMessageSize,
		logger:         log.With().Str("conn", id).Str("addr", addr).Logger(),
		done:           make(chan struct{}),
	}
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
		c.setupReadConnection()
	}
	return c
}

// ID returns the connection identity.
func (c *Client) ID() string {
	return c.id
}

// Addr returns the remote address the connection came from.
func (c *Client) Addr() string {
	return c.addr
}

// Send queues frame for delivery without blocking.
func (c *Client) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClientClosed
	}

	select {
	case c.send <- frame:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close stops accepting frames. The write pump flushes what is queued, sends
// a close frame, and closes the socket.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
	return nil
}

// ReadFrame blocks for the next inbound message. An orderly close by the peer
// is reported wrapped in chat.ErrDisconnected.
func (c *Client) ReadFrame() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, c.classifyReadError(err)
	}
	return data, nil
}

// Done is closed once the write pump has exited.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Warn().Err(err).Msg("[chat] set initial read deadline")
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.logger.Warn().Err(err).Msg("[chat] set read deadline in pong handler")
		}
		return nil
	})
}

// classifyReadError logs the read failure and decides whether it was an
// orderly disconnect or a fault.
func (c *Client) classifyReadError(err error) error {
	if errors.Is(err, websocket.ErrReadLimit) {
		c.logger.Warn().Int64("limit", c.maxMessageSize).Msg("[chat] message exceeded maximum size")
		return fmt.Errorf("message exceeded %d bytes: %w", c.maxMessageSize, err)
	}

	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived) {
		c.logger.Debug().Err(err).Msg("[chat] client disconnected")
		return fmt.Errorf("%w: %v", chat.ErrDisconnected, err)
	}

	if errors.Is(err, io.EOF) || isExpectedCloseError(err) {
		c.logger.Debug().Err(err).Msg("[chat] connection closed")
		return fmt.Errorf("%w: %v", chat.ErrDisconnected, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		c.logger.Info().Msg("[chat] connection idle past read deadline")
		return fmt.Errorf("idle timeout: %w", err)
	}

	if websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig) {
		c.logger.Warn().Err(err).Msg("[chat] unexpected WebSocket close")
		return err
	}

	c.logger.Warn().Err(err).Msg("[chat] WebSocket read error")
	return err
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
		close(c.done)
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

// closeConnection closes the socket, ignoring errors from an already closed one.
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn().Err(err).Msg("[chat] close connection")
		}
	}
}

// handleMessage writes one outgoing frame and returns false if the connection should be closed
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Warn().Err(err).Msg("[chat] set write deadline")
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn().Err(err).Msg("[chat] write message")
		}
		c.abandon()
		return false
	}
	return true
}

// writeCloseMessage sends a close message to the client
func (c *Client) writeCloseMessage() bool {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := c.conn.WriteMessage(websocket.CloseMessage, msg); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Debug().Err(err).Msg("[chat] write close message")
		}
	}
	return false
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Warn().Err(err).Msg("[chat] set write deadline for ping")
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Debug().Err(err).Msg("[chat] write ping")
		c.abandon()
		return false
	}
	return true
}

// abandon marks the client closed after a write failure so further Sends
// fail fast instead of filling a queue nobody drains.
func (c *Client) abandon() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}
