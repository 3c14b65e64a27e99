package gateway

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"taskboard/api/internal/realtime"
	"taskboard/api/internal/util"
)

const (
	defaultPingInterval = 50 * time.Second
	defaultPongWait     = 60 * time.Second
	defaultWriteTimeout = 10 * time.Second
	sendBuffer          = 32
	maxFrameBytes       = 4096
)

// Identity is the authenticated user behind a connection.
type Identity struct {
	UserID   string
	Username string
}

// AuthFunc resolves an access token to the user it was issued to.
type AuthFunc func(ctx context.Context, token string) (Identity, error)

type Handler struct {
	hub          *Hub
	auth         AuthFunc
	upgrader     websocket.Upgrader
	logger       *logrus.Logger
	pingInterval time.Duration
	pongWait     time.Duration
	writeTimeout time.Duration
}

// NewHandler serves WebSocket upgrades. allowedOrigin is the browser origin permitted to connect;
// "*" allows any.
func NewHandler(hub *Hub, auth AuthFunc, allowedOrigin string, logger *logrus.Logger) *Handler {
	return &Handler{
		hub:  hub,
		auth: auth,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowedOrigin == "*" || strings.EqualFold(origin, allowedOrigin)
			},
		},
		logger:       logger,
		pingInterval: defaultPingInterval,
		pongWait:     defaultPongWait,
		writeTimeout: defaultWriteTimeout,
	}
}

type clientFrame struct {
	Event string                `json:"event"`
	Data  realtime.BoardRequest `json:"data"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		token = strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
	}
	if token == "" {
		writeUnauthorized(w)
		return
	}
	identity, err := h.auth(r.Context(), token)
	if err != nil {
		h.logger.WithError(err).Debug("websocket auth rejected")
		writeUnauthorized(w)
		return
	}

	wc, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	c := newConn(util.NewSessionID(), identity.UserID, wc, sendBuffer, h.logger)
	c.logger.Debug("session connected")
	go c.write(h.pingInterval, h.writeTimeout)

	// presence cleanup must run even though the request is over
	ctx := context.WithoutCancel(r.Context())
	if err := h.read(ctx, c, identity); err != nil {
		c.logger.WithError(err).Warn("websocket read failed")
	}
	c.Close()
	h.hub.Disconnect(ctx, c.id)
}

func (h *Handler) read(ctx context.Context, c *conn, identity Identity) error {
	c.wc.SetReadLimit(maxFrameBytes)
	_ = c.wc.SetReadDeadline(time.Now().Add(h.pongWait))
	c.wc.SetPongHandler(func(string) error {
		return c.wc.SetReadDeadline(time.Now().Add(h.pongWait))
	})

	for {
		op, data, err := c.wc.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) || errors.Is(err, websocket.ErrCloseSent) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		if op != websocket.TextMessage {
			continue
		}

		var frame clientFrame
		if err := sonic.Unmarshal(data, &frame); err != nil {
			c.logger.WithError(err).Warn("unreadable client frame")
			continue
		}
		req := frame.Data
		if req.UserID != "" && req.UserID != identity.UserID {
			c.logger.WithField("claimed_user_id", req.UserID).Warn("dropping frame for another user")
			continue
		}
		req.UserID = identity.UserID
		if req.Username == "" {
			req.Username = identity.Username
		}

		switch frame.Event {
		case realtime.EventJoinBoard:
			h.hub.Join(ctx, c, req)
		case realtime.EventLeaveBoard:
			h.hub.Leave(ctx, c.id, req)
		default:
			c.logger.WithField("event", frame.Event).Debug("ignoring unknown client event")
		}
	}
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"code":"UNAUTHORIZED","error":"Unauthorized"}`))
}
