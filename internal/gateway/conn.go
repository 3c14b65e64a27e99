package gateway

import (
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"taskboard/api/internal/realtime"
)

// conn is one WebSocket session. All writes happen on the writer goroutine.
type conn struct {
	id     string
	userID string
	wc     *websocket.Conn
	send   chan realtime.Message
	done   chan struct{}
	once   sync.Once
	logger *logrus.Entry
}

func newConn(id, userID string, wc *websocket.Conn, buffer int, logger *logrus.Logger) *conn {
	return &conn{
		id:     id,
		userID: userID,
		wc:     wc,
		send:   make(chan realtime.Message, buffer),
		done:   make(chan struct{}),
		logger: logger.WithFields(logrus.Fields{"session_id": id, "user_id": userID}),
	}
}

func (c *conn) ID() string { return c.id }

func (c *conn) Deliver(msg realtime.Message) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Close asks the writer to send a close frame and shut the socket, which also ends the reader.
func (c *conn) Close() {
	c.once.Do(func() { close(c.done) })
}

func (c *conn) write(pingInterval, writeTimeout time.Duration) {
	t := time.NewTicker(pingInterval)
	defer t.Stop()
	defer c.wc.Close()
	for {
		select {
		case msg := <-c.send:
			frame, err := sonic.Marshal(msg)
			if err != nil {
				c.logger.WithError(err).WithField("event", msg.Event).Error("encode frame")
				continue
			}
			_ = c.wc.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.wc.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.Close()
				return
			}
		case <-t.C:
			_ = c.wc.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.wc.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			_ = c.wc.SetWriteDeadline(time.Now().Add(writeTimeout))
			_ = c.wc.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
