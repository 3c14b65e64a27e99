package store

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"taskboard/api/internal/ordering"
)

// MemoryStore keeps everything in process memory. Transactions work on a private copy that replaces
// the live data only when the callback succeeds, so a failed operation leaves no partial writes.
type MemoryStore struct {
	mu   sync.RWMutex
	data *memData
}

type memData struct {
	users   map[string]User
	boards  map[string]Board
	columns map[string]Column
	tickets map[string]Ticket
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: &memData{
		users:   map[string]User{},
		boards:  map[string]Board{},
		columns: map[string]Column{},
		tickets: map[string]Ticket{},
	}}
}

func (d *memData) clone() *memData {
	out := &memData{
		users:   make(map[string]User, len(d.users)),
		boards:  make(map[string]Board, len(d.boards)),
		columns: make(map[string]Column, len(d.columns)),
		tickets: make(map[string]Ticket, len(d.tickets)),
	}
	for k, v := range d.users {
		out.users[k] = v
	}
	for k, v := range d.boards {
		out.boards[k] = v
	}
	for k, v := range d.columns {
		out.columns[k] = v
	}
	for k, v := range d.tickets {
		if v.AssignedTo != nil {
			id := *v.AssignedTo
			v.AssignedTo = &id
		}
		out.tickets[k] = v
	}
	return out
}

// checkOrders mirrors the deferred unique constraints on column and ticket order.
func (d *memData) checkOrders() error {
	type slot struct {
		parent string
		order  int
	}
	seen := make(map[slot]struct{}, len(d.tickets)+len(d.columns))
	for _, c := range d.columns {
		key := slot{"board:" + c.BoardID, c.Order}
		if _, dup := seen[key]; dup {
			return ErrOrderConflict
		}
		seen[key] = struct{}{}
	}
	for _, t := range d.tickets {
		key := slot{"column:" + t.ColumnID, t.Order}
		if _, dup := seen[key]; dup {
			return ErrOrderConflict
		}
		seen[key] = struct{}{}
	}
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) CreateUser(_ context.Context, item User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.data.users {
		if strings.EqualFold(u.Email, item.Email) || u.Username == item.Username {
			return fmt.Errorf("insert user: %w", ErrDuplicate)
		}
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = item.CreatedAt
	}
	s.data.users[item.ID] = item
	return nil
}

func (s *MemoryStore) InTx(ctx context.Context, fn func(Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	working := s.data.clone()
	if err := fn(&memTx{memReader{working}}); err != nil {
		return err
	}
	if err := working.checkOrders(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	s.data = working
	return nil
}

func (s *MemoryStore) reader() memReader {
	return memReader{s.data}
}

func (s *MemoryStore) GetUserByID(ctx context.Context, id string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reader().GetUserByID(ctx, id)
}

func (s *MemoryStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reader().GetUserByEmail(ctx, email)
}

func (s *MemoryStore) GetBoard(ctx context.Context, id string) (Board, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reader().GetBoard(ctx, id)
}

func (s *MemoryStore) ListBoards(ctx context.Context) ([]Board, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reader().ListBoards(ctx)
}

func (s *MemoryStore) GetColumn(ctx context.Context, id string) (Column, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reader().GetColumn(ctx, id)
}

func (s *MemoryStore) GetTicket(ctx context.Context, id string) (Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reader().GetTicket(ctx, id)
}

func (s *MemoryStore) ListUsers(ctx context.Context) ([]User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reader().ListUsers(ctx)
}

func (s *MemoryStore) ListTickets(ctx context.Context) ([]Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reader().ListTickets(ctx)
}

func (s *MemoryStore) ListTicketsByBoard(ctx context.Context, boardID string) ([]Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reader().ListTicketsByBoard(ctx, boardID)
}

func (s *MemoryStore) ListTicketsByUser(ctx context.Context, userID string) ([]Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reader().ListTicketsByUser(ctx, userID)
}

func (s *MemoryStore) SearchTickets(ctx context.Context, boardID, query string, limit int) ([]Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reader().SearchTickets(ctx, boardID, query, limit)
}

type memReader struct {
	d *memData
}

func (r memReader) GetUserByID(_ context.Context, id string) (User, error) {
	u, ok := r.d.users[id]
	if !ok {
		return User{}, fmt.Errorf("get user: %w", ErrNotFound)
	}
	return u, nil
}

func (r memReader) GetUserByEmail(_ context.Context, email string) (User, error) {
	for _, u := range r.d.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return User{}, fmt.Errorf("get user by email: %w", ErrNotFound)
}

func (r memReader) GetBoard(_ context.Context, id string) (Board, error) {
	b, ok := r.d.boards[id]
	if !ok {
		return Board{}, fmt.Errorf("get board: %w", ErrNotFound)
	}
	return r.joinBoard(b), nil
}

func (r memReader) ListBoards(context.Context) ([]Board, error) {
	items := make([]Board, 0, len(r.d.boards))
	for _, b := range r.d.boards {
		items = append(items, r.joinBoard(b))
	}
	slices.SortFunc(items, func(a, b Board) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return items, nil
}

func (r memReader) joinBoard(b Board) Board {
	if u, ok := r.d.users[b.CreatedBy]; ok {
		b.Creator = u.Summary()
	}
	b.Columns = make([]Column, 0, 4)
	for _, c := range r.d.columns {
		if c.BoardID == b.ID {
			c.Tickets = r.ticketsWhere(func(t Ticket) bool { return t.ColumnID == c.ID })
			b.Columns = append(b.Columns, c)
		}
	}
	slices.SortFunc(b.Columns, func(x, y Column) int { return x.Order - y.Order })
	return b
}

func (r memReader) GetColumn(_ context.Context, id string) (Column, error) {
	c, ok := r.d.columns[id]
	if !ok {
		return Column{}, fmt.Errorf("get column: %w", ErrNotFound)
	}
	return c, nil
}

func (r memReader) GetTicket(_ context.Context, id string) (Ticket, error) {
	t, ok := r.d.tickets[id]
	if !ok {
		return Ticket{}, fmt.Errorf("get ticket: %w", ErrNotFound)
	}
	return r.joinTicket(t), nil
}

func (r memReader) joinTicket(t Ticket) Ticket {
	if t.AssignedTo != nil {
		id := *t.AssignedTo
		t.AssignedTo = &id
		if u, ok := r.d.users[id]; ok {
			t.Assignee = u.Summary()
		}
	}
	if u, ok := r.d.users[t.CreatedBy]; ok {
		t.Creator = u.Summary()
	}
	if c, ok := r.d.columns[t.ColumnID]; ok {
		t.Column = c.Summary()
	}
	return t
}

// ticketsWhere returns matching tickets joined and sorted by column order, then ticket order.
func (r memReader) ticketsWhere(match func(Ticket) bool) []Ticket {
	items := make([]Ticket, 0)
	for _, t := range r.d.tickets {
		if match(t) {
			items = append(items, r.joinTicket(t))
		}
	}
	slices.SortFunc(items, func(a, b Ticket) int {
		if a.ColumnID != b.ColumnID {
			ca, cb := r.d.columns[a.ColumnID], r.d.columns[b.ColumnID]
			if ca.Order != cb.Order {
				return ca.Order - cb.Order
			}
			return strings.Compare(a.ColumnID, b.ColumnID)
		}
		return a.Order - b.Order
	})
	return items
}

func (r memReader) ListUsers(context.Context) ([]User, error) {
	items := make([]User, 0, len(r.d.users))
	for _, u := range r.d.users {
		items = append(items, u)
	}
	slices.SortFunc(items, func(a, b User) int {
		if c := strings.Compare(a.Username, b.Username); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return items, nil
}

// ListTickets returns every ticket, newest first.
func (r memReader) ListTickets(context.Context) ([]Ticket, error) {
	items := r.ticketsWhere(func(Ticket) bool { return true })
	slices.SortStableFunc(items, func(a, b Ticket) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return items, nil
}

func (r memReader) ListTicketsByBoard(_ context.Context, boardID string) ([]Ticket, error) {
	return r.ticketsWhere(func(t Ticket) bool { return t.BoardID == boardID }), nil
}

func (r memReader) ListTicketsByUser(_ context.Context, userID string) ([]Ticket, error) {
	items := r.ticketsWhere(func(t Ticket) bool {
		return t.CreatedBy == userID || (t.AssignedTo != nil && *t.AssignedTo == userID)
	})
	slices.SortStableFunc(items, func(a, b Ticket) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return items, nil
}

func (r memReader) SearchTickets(_ context.Context, boardID, query string, limit int) ([]Ticket, error) {
	if limit <= 0 {
		limit = 20
	}
	needle := strings.ToLower(strings.TrimSpace(query))
	items := r.ticketsWhere(func(t Ticket) bool {
		return t.BoardID == boardID &&
			(strings.Contains(strings.ToLower(t.Title), needle) || strings.Contains(strings.ToLower(t.Description), needle))
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

type memTx struct {
	memReader
}

// LockColumns is a no-op: the whole store is held for the duration of a transaction.
func (t *memTx) LockColumns(_ context.Context, columnIDs ...string) error {
	for _, id := range columnIDs {
		if _, ok := t.d.columns[id]; !ok {
			return fmt.Errorf("lock columns: %w", ErrNotFound)
		}
	}
	return nil
}

func (t *memTx) CountTickets(_ context.Context, columnID string) (int, error) {
	n := 0
	for _, item := range t.d.tickets {
		if item.ColumnID == columnID {
			n++
		}
	}
	return n, nil
}

func (t *memTx) InsertBoard(_ context.Context, item Board) error {
	if _, ok := t.d.users[item.CreatedBy]; !ok {
		return fmt.Errorf("insert board: %w", ErrForeignKey)
	}
	item.Creator, item.Columns = nil, nil
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = item.CreatedAt
	}
	t.d.boards[item.ID] = item
	return nil
}

func (t *memTx) UpdateBoard(_ context.Context, item Board) error {
	current, ok := t.d.boards[item.ID]
	if !ok {
		return fmt.Errorf("update board: %w", ErrNotFound)
	}
	current.Title = item.Title
	current.Description = item.Description
	current.UpdatedAt = item.UpdatedAt
	t.d.boards[item.ID] = current
	return nil
}

func (t *memTx) DeleteBoard(_ context.Context, id string) error {
	if _, ok := t.d.boards[id]; !ok {
		return fmt.Errorf("delete board: %w", ErrNotFound)
	}
	delete(t.d.boards, id)
	for cid, c := range t.d.columns {
		if c.BoardID == id {
			delete(t.d.columns, cid)
		}
	}
	for tid, item := range t.d.tickets {
		if item.BoardID == id {
			delete(t.d.tickets, tid)
		}
	}
	return nil
}

func (t *memTx) InsertColumn(_ context.Context, item Column) error {
	if _, ok := t.d.boards[item.BoardID]; !ok {
		return fmt.Errorf("insert column: %w", ErrForeignKey)
	}
	for _, c := range t.d.columns {
		if c.BoardID == item.BoardID && c.Order == item.Order {
			return fmt.Errorf("insert column: %w", ErrOrderConflict)
		}
	}
	item.Tickets = nil
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = item.CreatedAt
	}
	t.d.columns[item.ID] = item
	return nil
}

func (t *memTx) checkTicketRefs(item Ticket) error {
	if _, ok := t.d.columns[item.ColumnID]; !ok {
		return ErrForeignKey
	}
	if _, ok := t.d.boards[item.BoardID]; !ok {
		return ErrForeignKey
	}
	if _, ok := t.d.users[item.CreatedBy]; !ok {
		return ErrForeignKey
	}
	if item.AssignedTo != nil {
		if _, ok := t.d.users[*item.AssignedTo]; !ok {
			return ErrForeignKey
		}
	}
	return nil
}

func (t *memTx) InsertTicket(_ context.Context, item Ticket) error {
	if err := t.checkTicketRefs(item); err != nil {
		return fmt.Errorf("insert ticket: %w", err)
	}
	item.Assignee, item.Creator, item.Column = nil, nil, nil
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = item.CreatedAt
	}
	t.d.tickets[item.ID] = item
	return nil
}

func (t *memTx) UpdateTicket(_ context.Context, item Ticket) error {
	current, ok := t.d.tickets[item.ID]
	if !ok {
		return fmt.Errorf("update ticket: %w", ErrNotFound)
	}
	if err := t.checkTicketRefs(item); err != nil {
		return fmt.Errorf("update ticket: %w", err)
	}
	item.CreatedAt = current.CreatedAt
	item.Assignee, item.Creator, item.Column = nil, nil, nil
	t.d.tickets[item.ID] = item
	return nil
}

func (t *memTx) DeleteTicket(_ context.Context, id string) error {
	if _, ok := t.d.tickets[id]; !ok {
		return fmt.Errorf("delete ticket: %w", ErrNotFound)
	}
	delete(t.d.tickets, id)
	return nil
}

func (t *memTx) ShiftTickets(_ context.Context, shift ordering.Shift) error {
	for id, item := range t.d.tickets {
		if shift.Covers(item.ColumnID, item.Order) {
			item.Order += shift.Delta
			t.d.tickets[id] = item
		}
	}
	return nil
}
