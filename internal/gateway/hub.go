// Package gateway is the WebSocket transport for board presence and change events.
package gateway

import (
	"context"

	"github.com/sirupsen/logrus"

	"taskboard/api/internal/presence"
	"taskboard/api/internal/realtime"
)

// Hub ties the presence registry to the broadcaster rooms. Both are owned by the caller; Close
// tears down what the hub built on top of them.
type Hub struct {
	registry    *presence.Registry
	broadcaster *realtime.Broadcaster
	logger      *logrus.Logger
}

func NewHub(registry *presence.Registry, broadcaster *realtime.Broadcaster, logger *logrus.Logger) *Hub {
	return &Hub{registry: registry, broadcaster: broadcaster, logger: logger}
}

// Join puts the session in the board room, records the user as present and tells the room.
func (h *Hub) Join(ctx context.Context, sub realtime.Subscriber, req realtime.BoardRequest) {
	if req.BoardID == "" || req.UserID == "" {
		return
	}
	if prev := h.registry.Join(req.BoardID, req.UserID, sub.ID()); prev != "" {
		h.logger.WithFields(logrus.Fields{
			"user_id":    req.UserID,
			"session_id": sub.ID(),
			"superseded": prev,
		}).Debug("user session superseded")
	}
	h.broadcaster.Add(req.BoardID, sub)
	h.broadcaster.EmitUserJoined(ctx, req.BoardID, req.UserID, req.Username)
	h.logger.WithFields(logrus.Fields{"board_id": req.BoardID, "user_id": req.UserID, "session_id": sub.ID()}).Debug("joined board")
}

// Leave takes the session out of the board room. Leaving a board nobody joined does nothing.
func (h *Hub) Leave(ctx context.Context, sessionID string, req realtime.BoardRequest) {
	if req.BoardID == "" {
		return
	}
	left := h.registry.Leave(req.BoardID, req.UserID)
	removed := h.broadcaster.Remove(req.BoardID, sessionID)
	if !left && !removed {
		return
	}
	h.broadcaster.EmitUserLeft(ctx, req.BoardID, req.UserID)
	h.logger.WithFields(logrus.Fields{"board_id": req.BoardID, "user_id": req.UserID, "session_id": sessionID}).Debug("left board")
}

// Disconnect drops a closed session from every room and, when it was the user's current session,
// announces the user leaving each board they were on.
func (h *Hub) Disconnect(ctx context.Context, sessionID string) {
	h.broadcaster.RemoveAll(sessionID)
	userID, boards := h.registry.Disconnect(sessionID)
	for _, boardID := range boards {
		h.broadcaster.EmitUserLeft(ctx, boardID, userID)
	}
	h.logger.WithFields(logrus.Fields{"session_id": sessionID, "user_id": userID, "boards": len(boards)}).Debug("session disconnected")
}

// Members lists the users present on a board.
func (h *Hub) Members(boardID string) []string {
	return h.registry.Members(boardID)
}

// Close disconnects every session and forgets all presence.
func (h *Hub) Close() {
	h.broadcaster.Close()
	h.registry.Reset()
}
