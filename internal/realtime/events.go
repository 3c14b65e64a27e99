// Package realtime fans ticket and presence changes out to every session watching a board.
package realtime

import (
	"time"

	"taskboard/api/internal/store"
)

const (
	EventJoinBoard  = "join_board"
	EventLeaveBoard = "leave_board"

	EventTicketCreated   = "ticket_created"
	EventTicketUpdated   = "ticket_updated"
	EventTicketDeleted   = "ticket_deleted"
	EventTicketMoved     = "ticket_moved"
	EventUserJoinedBoard = "user_joined_board"
	EventUserLeftBoard   = "user_left_board"
)

// Message is one event bound for a board room. Origin is empty for events raised on this instance
// and holds the publishing instance id for events received through a Relay.
type Message struct {
	Event     string    `json:"event"`
	BoardID   string    `json:"-"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
	Origin    string    `json:"-"`
}

type TicketEvent struct {
	Ticket  store.Ticket `json:"ticket"`
	BoardID string       `json:"boardId"`
}

type TicketDeletedEvent struct {
	TicketID string `json:"ticketId"`
	BoardID  string `json:"boardId"`
}

type TicketMovedEvent struct {
	Ticket      store.Ticket `json:"ticket"`
	OldColumnID string       `json:"oldColumnId"`
	NewColumnID string       `json:"newColumnId"`
	BoardID     string       `json:"boardId"`
}

type UserJoinedEvent struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	BoardID  string `json:"boardId"`
}

type UserLeftEvent struct {
	UserID  string `json:"userId"`
	BoardID string `json:"boardId"`
}

// BoardRequest is the body of join_board and leave_board sent by clients.
type BoardRequest struct {
	BoardID  string `json:"boardId"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
}
