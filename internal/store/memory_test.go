package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"taskboard/api/internal/board"
	"taskboard/api/internal/ordering"
)

func TestMemoryStoreContract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store { return NewMemoryStore() })
}

func TestMemoryStoreRejectsDanglingReferences(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	f := seed(t, ctx, s)

	err := s.InTx(ctx, func(tx Tx) error {
		return tx.InsertTicket(ctx, Ticket{
			ID:        uuid.NewString(),
			Title:     "orphan",
			Priority:  board.PriorityLow,
			Status:    board.StatusTodo,
			CreatedBy: f.owner.ID,
			ColumnID:  uuid.NewString(),
			BoardID:   f.board.ID,
		})
	})
	if !errors.Is(err, ErrForeignKey) {
		t.Fatalf("expected ErrForeignKey, got %v", err)
	}
	if err := s.InTx(ctx, func(tx Tx) error { return tx.LockColumns(ctx, uuid.NewString()) }); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreReadsDoNotAliasStoredTickets(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	f := seed(t, ctx, s)

	got, err := s.GetTicket(ctx, f.tickets[1].ID)
	if err != nil {
		t.Fatalf("GetTicket() error = %v", err)
	}
	*got.AssignedTo = "someone-else"

	again, err := s.GetTicket(ctx, f.tickets[1].ID)
	if err != nil {
		t.Fatalf("GetTicket() error = %v", err)
	}
	if *again.AssignedTo != f.other.ID {
		t.Fatalf("stored assignee changed through a read: %s", *again.AssignedTo)
	}
}

func TestMemoryStoreConcurrentAppendsStayContiguous(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	f := seed(t, ctx, s)
	column := f.columns[3].ID

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.InTx(ctx, func(tx Tx) error {
				n, err := tx.CountTickets(ctx, column)
				if err != nil {
					return err
				}
				slot := ordering.PlanInsert(column, n)
				return tx.InsertTicket(ctx, Ticket{
					ID:        uuid.NewString(),
					Title:     "parallel",
					Priority:  board.PriorityHigh,
					Status:    board.StatusDone,
					CreatedBy: f.owner.ID,
					ColumnID:  slot.ColumnID,
					BoardID:   f.board.ID,
					Order:     slot.Order,
					CreatedAt: f.baseTime,
				})
			})
			if err != nil {
				t.Errorf("InTx() error = %v", err)
			}
		}()
	}
	wg.Wait()

	b, err := s.GetBoard(ctx, f.board.ID)
	if err != nil {
		t.Fatalf("GetBoard() error = %v", err)
	}
	orders := make([]int, 0)
	for _, item := range b.Columns[3].Tickets {
		orders = append(orders, item.Order)
	}
	if len(orders) != 25 {
		t.Fatalf("expected 25 tickets, got %d", len(orders))
	}
	if err := board.CheckContiguous(orders); err != nil {
		t.Fatalf("column not contiguous: %v", err)
	}
}

func TestMemoryStoreCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := NewMemoryStore().InTx(ctx, func(Tx) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) || called {
		t.Fatalf("expected canceled without running fn, got %v (called=%v)", err, called)
	}
}
