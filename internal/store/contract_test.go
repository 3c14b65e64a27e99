package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"taskboard/api/internal/board"
	"taskboard/api/internal/ordering"
)

type fixture struct {
	owner    User
	other    User
	board    Board
	columns  []Column
	tickets  []Ticket
	baseTime time.Time
}

func seed(t *testing.T, ctx context.Context, s Store) fixture {
	t.Helper()
	base := time.Now().UTC().Truncate(time.Millisecond)
	f := fixture{baseTime: base}
	suffix := uuid.NewString()[:8]
	f.owner = User{ID: uuid.NewString(), Email: "ada-" + suffix + "@example.com", Username: "ada-" + suffix, FirstName: "Ada", LastName: "Lovelace", PasswordHash: "x", CreatedAt: base}
	f.other = User{ID: uuid.NewString(), Email: "bob-" + suffix + "@example.com", Username: "bob-" + suffix, FirstName: "Bob", PasswordHash: "x", CreatedAt: base}
	for _, u := range []User{f.owner, f.other} {
		if err := s.CreateUser(ctx, u); err != nil {
			t.Fatalf("CreateUser() error = %v", err)
		}
	}

	f.board = Board{ID: uuid.NewString(), Title: "Sprint", Description: "current", CreatedBy: f.owner.ID, CreatedAt: base}
	err := s.InTx(ctx, func(tx Tx) error {
		if err := tx.InsertBoard(ctx, f.board); err != nil {
			return err
		}
		for i, title := range board.DefaultColumnTitles {
			c := Column{ID: uuid.NewString(), BoardID: f.board.ID, Title: title, Order: i, CreatedAt: base}
			if err := tx.InsertColumn(ctx, c); err != nil {
				return err
			}
			f.columns = append(f.columns, c)
		}
		for i := 0; i < 3; i++ {
			item := Ticket{
				ID:          uuid.NewString(),
				Title:       []string{"Write docs", "Fix login", "Ship release"}[i],
				Description: "ticket body",
				Priority:    board.PriorityMedium,
				Status:      board.StatusTodo,
				CreatedBy:   f.owner.ID,
				ColumnID:    f.columns[0].ID,
				BoardID:     f.board.ID,
				Order:       i,
				CreatedAt:   base.Add(time.Duration(i) * time.Second),
			}
			if i == 1 {
				item.AssignedTo = &f.other.ID
			}
			if err := tx.InsertTicket(ctx, item); err != nil {
				return err
			}
			f.tickets = append(f.tickets, item)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed InTx() error = %v", err)
	}
	return f
}

func ticketIDs(items []Ticket) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.ID
	}
	return out
}

func assertOrder(t *testing.T, got []Ticket, want ...string) {
	t.Helper()
	ids := ticketIDs(got)
	if len(ids) != len(want) {
		t.Fatalf("got %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("got %v, want %v", ids, want)
		}
		if got[i].Order != i {
			t.Fatalf("ticket %s has order %d, want %d", ids[i], got[i].Order, i)
		}
	}
}

func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("joined ticket", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		f := seed(t, ctx, s)

		got, err := s.GetTicket(ctx, f.tickets[1].ID)
		if err != nil {
			t.Fatalf("GetTicket() error = %v", err)
		}
		if got.Assignee == nil || got.Assignee.ID != f.other.ID || got.Assignee.Username != f.other.Username {
			t.Fatalf("unexpected assignee %+v", got.Assignee)
		}
		if got.Creator == nil || got.Creator.ID != f.owner.ID {
			t.Fatalf("unexpected creator %+v", got.Creator)
		}
		if got.Column == nil || got.Column.Title != "To Do" {
			t.Fatalf("unexpected column %+v", got.Column)
		}
		if _, err := s.GetTicket(ctx, uuid.NewString()); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("board with ordered columns", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		f := seed(t, ctx, s)

		got, err := s.GetBoard(ctx, f.board.ID)
		if err != nil {
			t.Fatalf("GetBoard() error = %v", err)
		}
		if len(got.Columns) != 4 {
			t.Fatalf("expected 4 columns, got %d", len(got.Columns))
		}
		for i, c := range got.Columns {
			if c.Order != i || c.Title != board.DefaultColumnTitles[i] {
				t.Fatalf("column %d = %+v", i, c)
			}
		}
		assertOrder(t, got.Columns[0].Tickets, f.tickets[0].ID, f.tickets[1].ID, f.tickets[2].ID)
		if got.Creator == nil || got.Creator.ID != f.owner.ID {
			t.Fatalf("unexpected creator %+v", got.Creator)
		}
	})

	t.Run("move across columns in one transaction", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		f := seed(t, ctx, s)
		moving := f.tickets[0]

		err := s.InTx(ctx, func(tx Tx) error {
			if err := tx.LockColumns(ctx, f.columns[0].ID, f.columns[1].ID); err != nil {
				return err
			}
			n, err := tx.CountTickets(ctx, f.columns[1].ID)
			if err != nil {
				return err
			}
			plan := ordering.PlanMove(ordering.Slot{ColumnID: moving.ColumnID, Order: moving.Order}, f.columns[1].ID, 0, n)
			for _, sh := range plan.Before {
				if err := tx.ShiftTickets(ctx, sh); err != nil {
					return err
				}
			}
			moving.ColumnID = plan.Target.ColumnID
			moving.Order = plan.Target.Order
			moving.Status = board.StatusInProgress
			moving.UpdatedAt = f.baseTime.Add(time.Minute)
			if err := tx.UpdateTicket(ctx, moving); err != nil {
				return err
			}
			for _, sh := range plan.After {
				if err := tx.ShiftTickets(ctx, sh); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			t.Fatalf("InTx() error = %v", err)
		}

		got, err := s.GetBoard(ctx, f.board.ID)
		if err != nil {
			t.Fatalf("GetBoard() error = %v", err)
		}
		assertOrder(t, got.Columns[0].Tickets, f.tickets[1].ID, f.tickets[2].ID)
		assertOrder(t, got.Columns[1].Tickets, moving.ID)
		if got.Columns[1].Tickets[0].Status != board.StatusInProgress {
			t.Fatalf("status = %s", got.Columns[1].Tickets[0].Status)
		}
	})

	t.Run("failed transaction leaves no writes", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		f := seed(t, ctx, s)
		boom := errors.New("boom")

		err := s.InTx(ctx, func(tx Tx) error {
			if err := tx.ShiftTickets(ctx, ordering.Shift{ColumnID: f.columns[0].ID, From: 0, To: -1, Delta: 5}); err != nil {
				return err
			}
			if err := tx.DeleteTicket(ctx, f.tickets[0].ID); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}
		items, err := s.ListTicketsByBoard(ctx, f.board.ID)
		if err != nil {
			t.Fatalf("ListTicketsByBoard() error = %v", err)
		}
		assertOrder(t, items, f.tickets[0].ID, f.tickets[1].ID, f.tickets[2].ID)
	})

	t.Run("duplicate order is a conflict", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		f := seed(t, ctx, s)

		err := s.InTx(ctx, func(tx Tx) error {
			dup := f.tickets[2]
			dup.Order = 0
			dup.UpdatedAt = f.baseTime
			return tx.UpdateTicket(ctx, dup)
		})
		if !errors.Is(err, ErrOrderConflict) {
			t.Fatalf("expected ErrOrderConflict, got %v", err)
		}
	})

	t.Run("delete board cascades", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		f := seed(t, ctx, s)

		if err := s.InTx(ctx, func(tx Tx) error { return tx.DeleteBoard(ctx, f.board.ID) }); err != nil {
			t.Fatalf("DeleteBoard() error = %v", err)
		}
		if _, err := s.GetBoard(ctx, f.board.ID); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if _, err := s.GetColumn(ctx, f.columns[0].ID); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected column gone, got %v", err)
		}
		if _, err := s.GetTicket(ctx, f.tickets[0].ID); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ticket gone, got %v", err)
		}
		err := s.InTx(ctx, func(tx Tx) error { return tx.DeleteBoard(ctx, f.board.ID) })
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound on second delete, got %v", err)
		}
	})

	t.Run("user tickets newest first", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		f := seed(t, ctx, s)

		items, err := s.ListTicketsByUser(ctx, f.owner.ID)
		if err != nil {
			t.Fatalf("ListTicketsByUser() error = %v", err)
		}
		ids := ticketIDs(items)
		if len(ids) != 3 || ids[0] != f.tickets[2].ID || ids[2] != f.tickets[0].ID {
			t.Fatalf("unexpected owner tickets %v", ids)
		}
		items, err = s.ListTicketsByUser(ctx, f.other.ID)
		if err != nil {
			t.Fatalf("ListTicketsByUser() error = %v", err)
		}
		if len(items) != 1 || items[0].ID != f.tickets[1].ID {
			t.Fatalf("unexpected assignee tickets %v", ticketIDs(items))
		}
	})

	t.Run("all tickets newest first", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		f := seed(t, ctx, s)

		items, err := s.ListTickets(ctx)
		if err != nil {
			t.Fatalf("ListTickets() error = %v", err)
		}
		var mine []string
		for _, item := range items {
			if item.BoardID == f.board.ID {
				mine = append(mine, item.ID)
			}
		}
		if len(mine) != 3 || mine[0] != f.tickets[2].ID || mine[2] != f.tickets[0].ID {
			t.Fatalf("unexpected ticket order %v", mine)
		}
	})

	t.Run("list users by username", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		f := seed(t, ctx, s)

		users, err := s.ListUsers(ctx)
		if err != nil {
			t.Fatalf("ListUsers() error = %v", err)
		}
		pos := map[string]int{}
		for i, u := range users {
			pos[u.ID] = i
		}
		ownerAt, okOwner := pos[f.owner.ID]
		otherAt, okOther := pos[f.other.ID]
		if !okOwner || !okOther || ownerAt > otherAt {
			t.Fatalf("expected ada before bob, got positions %d/%v %d/%v", ownerAt, okOwner, otherAt, okOther)
		}
	})

	t.Run("search by title", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		f := seed(t, ctx, s)

		items, err := s.SearchTickets(ctx, f.board.ID, "LOGIN", 10)
		if err != nil {
			t.Fatalf("SearchTickets() error = %v", err)
		}
		if len(items) != 1 || items[0].ID != f.tickets[1].ID {
			t.Fatalf("unexpected search hits %v", ticketIDs(items))
		}
	})

	t.Run("duplicate user", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		f := seed(t, ctx, s)

		dup := f.owner
		dup.ID = uuid.NewString()
		if err := s.CreateUser(ctx, dup); !errors.Is(err, ErrDuplicate) {
			t.Fatalf("expected ErrDuplicate, got %v", err)
		}
		got, err := s.GetUserByEmail(ctx, f.owner.Email)
		if err != nil || got.ID != f.owner.ID {
			t.Fatalf("GetUserByEmail() = %+v, %v", got, err)
		}
	})
}
