package signaling

import (
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/wilsonzlin/aero/proxy/dropmesh-signal/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/dropmesh-signal/internal/registry"
)

const wsWriteWait = 5 * time.Second

type client struct {
	srv  *Server
	conn *websocket.Conn
	id   registry.ConnID
	log  *slog.Logger

	limiter *rate.Limiter

	// send is never closed; done tells producers and the writer to stop.
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(s *Server, conn *websocket.Conn, id registry.ConnID, remoteAddr string) *client {
	return &client{
		srv:     s,
		conn:    conn,
		id:      id,
		log:     s.log.With("conn_id", string(id), "remote_addr", remoteAddr),
		limiter: rate.NewLimiter(rate.Limit(s.maxMessagesPerSecond), s.maxMessagesPerSecond),
		send:    make(chan []byte, s.sendQueueMessages),
		done:    make(chan struct{}),
	}
}

// enqueue never blocks. A full queue drops msg.
func (c *client) enqueue(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- msg:
		return true
	default:
		c.srv.metrics.Inc(metrics.SendQueueFull)
		c.log.Warn("send queue full, dropping message")
		return false
	}
}

// stop is idempotent and unblocks both pumps.
func (c *client) stop() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *client) closeWith(code int, reason string) {
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}

func (c *client) readPump() {
	c.conn.SetReadLimit(c.srv.maxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.srv.idleTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.srv.idleTimeout))
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			switch {
			case errors.Is(err, websocket.ErrReadLimit):
				// gorilla has already sent 1009.
				c.srv.metrics.Inc(metrics.MessageTooLarge)
				c.log.Debug("closing socket: message too large")
			case isTimeout(err):
				c.closeWith(websocket.CloseNormalClosure, "idle timeout")
				c.log.Debug("closing socket: idle timeout")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.srv.idleTimeout))

		// The limit is checked after reading so the close frame is not lost to
		// a reset caused by unread data.
		if !c.limiter.Allow() {
			c.srv.metrics.Inc(metrics.MessageRateLimited)
			c.closeWith(websocket.ClosePolicyViolation, "rate limit exceeded")
			c.log.Info("closing socket: rate limit exceeded")
			return
		}
		if msgType != websocket.TextMessage {
			c.closeWith(websocket.CloseUnsupportedData, "expected text message")
			c.log.Debug("closing socket: binary frame")
			return
		}

		c.srv.dispatch(c, data)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(c.srv.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Debug("socket write failed", "err", err)
				c.stop()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				c.stop()
				return
			}
		}
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
