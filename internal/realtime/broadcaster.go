package realtime

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"taskboard/api/internal/store"
)

// Subscriber is one connected session. Deliver must not block: it reports false when the session
// cannot take the message, and the broadcaster then evicts and closes it.
type Subscriber interface {
	ID() string
	Deliver(Message) bool
	Close()
}

// Relay carries locally raised events to other API instances and feeds theirs back in.
type Relay interface {
	Publish(ctx context.Context, msg Message) error
	Run(ctx context.Context, deliver func(Message)) error
}

// Broadcaster owns the board rooms. Rooms appear on first Add and disappear with their last session.
type Broadcaster struct {
	logger *logrus.Logger
	now    func() time.Time

	mu    sync.RWMutex
	rooms map[string]map[string]Subscriber
	relay Relay
}

func NewBroadcaster(logger *logrus.Logger) *Broadcaster {
	return &Broadcaster{
		logger: logger,
		now:    time.Now,
		rooms:  make(map[string]map[string]Subscriber),
	}
}

// SetRelay enables cross-instance delivery. Call before serving traffic.
func (b *Broadcaster) SetRelay(r Relay) {
	b.mu.Lock()
	b.relay = r
	b.mu.Unlock()
}

// RunRelay pumps foreign events into the local rooms until ctx is done.
func (b *Broadcaster) RunRelay(ctx context.Context) error {
	b.mu.RLock()
	r := b.relay
	b.mu.RUnlock()
	if r == nil {
		return nil
	}
	return r.Run(ctx, func(msg Message) { b.deliver(msg) })
}

func (b *Broadcaster) Add(boardID string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	room, ok := b.rooms[boardID]
	if !ok {
		room = make(map[string]Subscriber)
		b.rooms[boardID] = room
	}
	room[sub.ID()] = sub
}

// Remove takes a session out of one room. Removing from an unknown room does nothing.
func (b *Broadcaster) Remove(boardID, sessionID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.removeLocked(boardID, sessionID)
}

// RemoveAll takes a session out of every room and returns the boards it was in.
func (b *Broadcaster) RemoveAll(sessionID string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var boards []string
	for boardID := range b.rooms {
		if b.removeLocked(boardID, sessionID) {
			boards = append(boards, boardID)
		}
	}
	slices.Sort(boards)
	return boards
}

func (b *Broadcaster) removeLocked(boardID, sessionID string) bool {
	room, ok := b.rooms[boardID]
	if !ok {
		return false
	}
	if _, ok := room[sessionID]; !ok {
		return false
	}
	delete(room, sessionID)
	if len(room) == 0 {
		delete(b.rooms, boardID)
	}
	return true
}

// Sessions lists the session ids in a room, sorted.
func (b *Broadcaster) Sessions(boardID string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	room := b.rooms[boardID]
	out := make([]string, 0, len(room))
	for sid := range room {
		out = append(out, sid)
	}
	slices.Sort(out)
	return out
}

// Close evicts every session.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	subs := make(map[string]Subscriber)
	for _, room := range b.rooms {
		for sid, sub := range room {
			subs[sid] = sub
		}
	}
	b.rooms = make(map[string]map[string]Subscriber)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}

// Publish delivers msg to every session in its room and hands it to the relay, if one is set.
// It returns how many local sessions accepted the message.
func (b *Broadcaster) Publish(ctx context.Context, msg Message) int {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = b.now().UTC()
	}
	delivered := b.deliver(msg)

	b.mu.RLock()
	r := b.relay
	b.mu.RUnlock()
	if r != nil && msg.Origin == "" {
		if err := r.Publish(ctx, msg); err != nil {
			b.logger.WithError(err).WithFields(logrus.Fields{
				"event":    msg.Event,
				"board_id": msg.BoardID,
			}).Warn("relay publish failed")
		}
	}
	return delivered
}

func (b *Broadcaster) deliver(msg Message) int {
	b.mu.RLock()
	room := b.rooms[msg.BoardID]
	subs := make([]Subscriber, 0, len(room))
	for _, sub := range room {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	delivered := 0
	var slow []Subscriber
	for _, sub := range subs {
		if sub.Deliver(msg) {
			delivered++
			continue
		}
		slow = append(slow, sub)
	}

	for _, sub := range slow {
		b.logger.WithFields(logrus.Fields{
			"session_id": sub.ID(),
			"board_id":   msg.BoardID,
			"event":      msg.Event,
		}).Warn("evicting slow session")
		b.RemoveAll(sub.ID())
		sub.Close()
	}
	return delivered
}

func (b *Broadcaster) EmitTicketCreated(ctx context.Context, ticket store.Ticket) {
	b.Publish(ctx, Message{Event: EventTicketCreated, BoardID: ticket.BoardID, Data: TicketEvent{Ticket: ticket, BoardID: ticket.BoardID}})
}

func (b *Broadcaster) EmitTicketUpdated(ctx context.Context, ticket store.Ticket) {
	b.Publish(ctx, Message{Event: EventTicketUpdated, BoardID: ticket.BoardID, Data: TicketEvent{Ticket: ticket, BoardID: ticket.BoardID}})
}

func (b *Broadcaster) EmitTicketDeleted(ctx context.Context, ticketID, boardID string) {
	b.Publish(ctx, Message{Event: EventTicketDeleted, BoardID: boardID, Data: TicketDeletedEvent{TicketID: ticketID, BoardID: boardID}})
}

func (b *Broadcaster) EmitTicketMoved(ctx context.Context, event TicketMovedEvent) {
	b.Publish(ctx, Message{Event: EventTicketMoved, BoardID: event.BoardID, Data: event})
}

func (b *Broadcaster) EmitUserJoined(ctx context.Context, boardID, userID, username string) {
	b.Publish(ctx, Message{Event: EventUserJoinedBoard, BoardID: boardID, Data: UserJoinedEvent{UserID: userID, Username: username, BoardID: boardID}})
}

func (b *Broadcaster) EmitUserLeft(ctx context.Context, boardID, userID string) {
	b.Publish(ctx, Message{Event: EventUserLeftBoard, BoardID: boardID, Data: UserLeftEvent{UserID: userID, BoardID: boardID}})
}
