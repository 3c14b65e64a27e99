package app

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"taskboard/api/internal/board"
	"taskboard/api/internal/ordering"
	"taskboard/api/internal/realtime"
	"taskboard/api/internal/store"
	"taskboard/api/internal/telemetry"
	"taskboard/api/internal/util"
)

type CreateTicketInput struct {
	Title       string         `json:"title" validate:"required,min=3,max=100"`
	Description string         `json:"description" validate:"max=1000"`
	Priority    board.Priority `json:"priority" validate:"omitempty,oneof=LOW MEDIUM HIGH URGENT"`
	AssignedTo  *string        `json:"assignedTo" validate:"omitempty,uuid"`
	ColumnID    string         `json:"columnId" validate:"required,uuid"`
	// BoardID is accepted for compatibility; the board always comes from the column.
	BoardID string `json:"boardId" validate:"omitempty,uuid"`
}

// UpdateTicketInput is a partial update. A changed ColumnID relocates the ticket, to Order when
// given and to the end of the column otherwise.
type UpdateTicketInput struct {
	Title       *string         `json:"title" validate:"omitempty,min=3,max=100"`
	Description *string         `json:"description" validate:"omitempty,max=1000"`
	Priority    *board.Priority `json:"priority" validate:"omitempty,oneof=LOW MEDIUM HIGH URGENT"`
	AssignedTo  *string         `json:"assignedTo" validate:"omitempty,uuid"`
	ColumnID    *string         `json:"columnId" validate:"omitempty,uuid"`
	Order       *int            `json:"order" validate:"omitempty,min=0"`
}

type MoveTicketInput struct {
	ColumnID string `json:"columnId" validate:"required,uuid"`
	Order    int    `json:"order" validate:"min=0"`
}

type DeleteResult struct {
	Message string `json:"message"`
}

// mutateColumns runs fn in a transaction while holding the columns returned by resolve, both in
// process and in the store. resolve runs again on every attempt so a retry sees fresh positions.
// fn returns store.ErrOrderConflict when what it reads no longer matches what resolve saw.
func (s *Service) mutateColumns(ctx context.Context, op string, resolve func(ctx context.Context) ([]string, error), fn func(ctx context.Context, tx store.Tx) error) error {
	var err error
	for attempt := 1; attempt <= s.cfg.MoveRetries; attempt++ {
		var columns []string
		columns, err = resolve(ctx)
		if err != nil {
			return err
		}
		unlock := s.locker.Lock(columns...)
		err = s.store.InTx(ctx, func(tx store.Tx) error {
			if err := tx.LockColumns(ctx, columns...); err != nil {
				return err
			}
			return fn(ctx, tx)
		})
		unlock()
		if !errors.Is(err, store.ErrOrderConflict) {
			return err
		}
		s.logger.WithFields(logrus.Fields{"op": op, "attempt": attempt}).Warn("order conflict, retrying")
	}
	return orderConflict()
}

func (s *Service) requireColumn(ctx context.Context, r store.Reader, id string) (store.Column, error) {
	column, err := r.GetColumn(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return store.Column{}, notFound("column", id)
	}
	return column, err
}

func (s *Service) requireTicket(ctx context.Context, r store.Reader, id string) (store.Ticket, error) {
	ticket, err := r.GetTicket(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return store.Ticket{}, notFound("ticket", id)
	}
	return ticket, err
}

func (s *Service) requireAssignee(ctx context.Context, id *string) error {
	if id == nil || *id == "" {
		return nil
	}
	if _, err := s.store.GetUserByID(ctx, *id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFound("user", *id)
		}
		return err
	}
	return nil
}

func sameBoard(ticket store.Ticket, column store.Column) error {
	if ticket.BoardID != column.BoardID {
		return validationError("column belongs to a different board", map[string]any{"columnId": column.ID, "boardId": ticket.BoardID})
	}
	return nil
}

// applyPlan writes a planned move for ticket inside tx. The ticket takes its destination column's
// board and derived status.
func (s *Service) applyPlan(ctx context.Context, tx store.Tx, ticket *store.Ticket, plan ordering.Plan, dest store.Column) error {
	for _, shift := range plan.Before {
		if err := tx.ShiftTickets(ctx, shift); err != nil {
			return err
		}
	}
	ticket.ColumnID = plan.Target.ColumnID
	ticket.Order = plan.Target.Order
	ticket.BoardID = dest.BoardID
	ticket.Status = board.StatusForColumn(dest.Title)
	ticket.UpdatedAt = s.now().UTC()
	if err := tx.UpdateTicket(ctx, *ticket); err != nil {
		return err
	}
	for _, shift := range plan.After {
		if err := tx.ShiftTickets(ctx, shift); err != nil {
			return err
		}
	}
	return nil
}

// CreateTicket appends a ticket to the end of its column.
func (s *Service) CreateTicket(ctx context.Context, actorID string, input CreateTicketInput) (created store.Ticket, err error) {
	ctx, span := s.tracer.Start(ctx, "ticket.create", trace.WithAttributes(attribute.String("column.id", input.ColumnID)))
	defer func() { telemetry.End(span, err, attribute.String("ticket.id", created.ID)) }()
	ctx = context.WithoutCancel(ctx)

	title := strings.TrimSpace(input.Title)
	if title == "" {
		return store.Ticket{}, validationError("title is required", nil)
	}
	priority := board.PriorityMedium
	if input.Priority != "" {
		if priority, err = board.ParsePriority(string(input.Priority)); err != nil {
			return store.Ticket{}, validationError(err.Error(), nil)
		}
	}
	if err := s.requireAssignee(ctx, input.AssignedTo); err != nil {
		return store.Ticket{}, err
	}
	assignedTo := input.AssignedTo
	if assignedTo != nil && *assignedTo == "" {
		assignedTo = nil
	}

	err = s.mutateColumns(ctx, "create",
		func(ctx context.Context) ([]string, error) {
			if _, err := s.requireColumn(ctx, s.store, input.ColumnID); err != nil {
				return nil, err
			}
			return []string{input.ColumnID}, nil
		},
		func(ctx context.Context, tx store.Tx) error {
			column, err := s.requireColumn(ctx, tx, input.ColumnID)
			if err != nil {
				return err
			}
			count, err := tx.CountTickets(ctx, column.ID)
			if err != nil {
				return err
			}
			slot := ordering.PlanInsert(column.ID, count)
			now := s.now().UTC()
			item := store.Ticket{
				ID:          util.NewID(),
				Title:       title,
				Description: strings.TrimSpace(input.Description),
				Priority:    priority,
				Status:      board.StatusForColumn(column.Title),
				AssignedTo:  assignedTo,
				CreatedBy:   actorID,
				ColumnID:    column.ID,
				BoardID:     column.BoardID,
				Order:       slot.Order,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if err := tx.InsertTicket(ctx, item); err != nil {
				return err
			}
			created, err = tx.GetTicket(ctx, item.ID)
			return err
		})
	if err != nil {
		return store.Ticket{}, err
	}

	s.events.EmitTicketCreated(ctx, created)
	s.search.IndexTicket(created)
	return created, nil
}

// MoveTicket places a ticket at order in the destination column, shifting its neighbours so both
// columns stay contiguous.
func (s *Service) MoveTicket(ctx context.Context, ticketID string, input MoveTicketInput) (moved store.Ticket, err error) {
	ctx, span := s.tracer.Start(ctx, "ticket.move", trace.WithAttributes(
		attribute.String("ticket.id", ticketID),
		attribute.String("column.id", input.ColumnID),
		attribute.Int("ticket.order", input.Order),
	))
	defer func() { telemetry.End(span, err) }()
	ctx = context.WithoutCancel(ctx)

	if input.Order < 0 {
		return store.Ticket{}, validationError("order must not be negative", nil)
	}

	var source store.Ticket
	err = s.mutateColumns(ctx, "move",
		func(ctx context.Context) ([]string, error) {
			current, err := s.requireTicket(ctx, s.store, ticketID)
			if err != nil {
				return nil, err
			}
			dest, err := s.requireColumn(ctx, s.store, input.ColumnID)
			if err != nil {
				return nil, err
			}
			if err := sameBoard(current, dest); err != nil {
				return nil, err
			}
			source = current
			return []string{current.ColumnID, dest.ID}, nil
		},
		func(ctx context.Context, tx store.Tx) error {
			ticket, err := s.requireTicket(ctx, tx, ticketID)
			if err != nil {
				return err
			}
			if ticket.ColumnID != source.ColumnID {
				return store.ErrOrderConflict
			}
			source = ticket
			dest, err := s.requireColumn(ctx, tx, input.ColumnID)
			if err != nil {
				return err
			}
			count, err := tx.CountTickets(ctx, dest.ID)
			if err != nil {
				return err
			}
			plan := ordering.PlanMove(ordering.Slot{ColumnID: ticket.ColumnID, Order: ticket.Order}, dest.ID, input.Order, count)
			if plan.Noop() {
				moved = ticket
				return nil
			}
			if err := s.applyPlan(ctx, tx, &ticket, plan, dest); err != nil {
				return err
			}
			moved, err = tx.GetTicket(ctx, ticket.ID)
			return err
		})
	if err != nil {
		return store.Ticket{}, err
	}

	s.events.EmitTicketMoved(ctx, realtime.TicketMovedEvent{
		Ticket:      moved,
		OldColumnID: source.ColumnID,
		NewColumnID: moved.ColumnID,
		BoardID:     moved.BoardID,
	})
	s.search.IndexTicket(moved)
	return moved, nil
}

// UpdateTicket applies a partial update. Status is never taken from the caller; it follows the
// column the ticket ends up in.
func (s *Service) UpdateTicket(ctx context.Context, ticketID string, input UpdateTicketInput) (updated store.Ticket, err error) {
	ctx, span := s.tracer.Start(ctx, "ticket.update", trace.WithAttributes(attribute.String("ticket.id", ticketID)))
	defer func() { telemetry.End(span, err) }()
	ctx = context.WithoutCancel(ctx)

	if input.Title != nil && strings.TrimSpace(*input.Title) == "" {
		return store.Ticket{}, validationError("title must not be empty", nil)
	}
	var priority board.Priority
	if input.Priority != nil {
		if priority, err = board.ParsePriority(string(*input.Priority)); err != nil {
			return store.Ticket{}, validationError(err.Error(), nil)
		}
	}
	if input.Order != nil && *input.Order < 0 {
		return store.Ticket{}, validationError("order must not be negative", nil)
	}
	if err := s.requireAssignee(ctx, input.AssignedTo); err != nil {
		return store.Ticket{}, err
	}

	var sourceColumn string
	err = s.mutateColumns(ctx, "update",
		func(ctx context.Context) ([]string, error) {
			current, err := s.requireTicket(ctx, s.store, ticketID)
			if err != nil {
				return nil, err
			}
			sourceColumn = current.ColumnID
			columns := []string{current.ColumnID}
			if input.ColumnID != nil && *input.ColumnID != current.ColumnID {
				dest, err := s.requireColumn(ctx, s.store, *input.ColumnID)
				if err != nil {
					return nil, err
				}
				if err := sameBoard(current, dest); err != nil {
					return nil, err
				}
				columns = append(columns, dest.ID)
			}
			return columns, nil
		},
		func(ctx context.Context, tx store.Tx) error {
			ticket, err := s.requireTicket(ctx, tx, ticketID)
			if err != nil {
				return err
			}
			if ticket.ColumnID != sourceColumn {
				return store.ErrOrderConflict
			}
			if input.Title != nil {
				ticket.Title = strings.TrimSpace(*input.Title)
			}
			if input.Description != nil {
				ticket.Description = strings.TrimSpace(*input.Description)
			}
			if input.Priority != nil {
				ticket.Priority = priority
			}
			if input.AssignedTo != nil {
				ticket.AssignedTo = input.AssignedTo
				if *input.AssignedTo == "" {
					ticket.AssignedTo = nil
				}
			}

			destID := ticket.ColumnID
			if input.ColumnID != nil {
				destID = *input.ColumnID
			}
			dest, err := s.requireColumn(ctx, tx, destID)
			if err != nil {
				return err
			}
			count, err := tx.CountTickets(ctx, dest.ID)
			if err != nil {
				return err
			}
			target := ticket.Order
			switch {
			case input.Order != nil:
				target = *input.Order
			case dest.ID != ticket.ColumnID:
				target = count
			}
			plan := ordering.PlanMove(ordering.Slot{ColumnID: ticket.ColumnID, Order: ticket.Order}, dest.ID, target, count)
			if err := s.applyPlan(ctx, tx, &ticket, plan, dest); err != nil {
				return err
			}
			updated, err = tx.GetTicket(ctx, ticket.ID)
			return err
		})
	if err != nil {
		return store.Ticket{}, err
	}

	s.events.EmitTicketUpdated(ctx, updated)
	s.search.IndexTicket(updated)
	return updated, nil
}

// DeleteTicket removes a ticket and closes the gap it leaves in its column.
func (s *Service) DeleteTicket(ctx context.Context, ticketID string) (_ DeleteResult, err error) {
	ctx, span := s.tracer.Start(ctx, "ticket.delete", trace.WithAttributes(attribute.String("ticket.id", ticketID)))
	defer func() { telemetry.End(span, err) }()
	ctx = context.WithoutCancel(ctx)

	var deleted store.Ticket
	err = s.mutateColumns(ctx, "delete",
		func(ctx context.Context) ([]string, error) {
			current, err := s.requireTicket(ctx, s.store, ticketID)
			if err != nil {
				return nil, err
			}
			deleted = current
			return []string{current.ColumnID}, nil
		},
		func(ctx context.Context, tx store.Tx) error {
			ticket, err := s.requireTicket(ctx, tx, ticketID)
			if err != nil {
				return err
			}
			if ticket.ColumnID != deleted.ColumnID {
				return store.ErrOrderConflict
			}
			deleted = ticket
			if err := tx.DeleteTicket(ctx, ticket.ID); err != nil {
				return err
			}
			return tx.ShiftTickets(ctx, ordering.PlanRemove(ordering.Slot{ColumnID: ticket.ColumnID, Order: ticket.Order}))
		})
	if err != nil {
		return DeleteResult{}, err
	}

	s.events.EmitTicketDeleted(ctx, deleted.ID, deleted.BoardID)
	s.search.DeleteTickets(deleted.ID)
	return DeleteResult{Message: "Ticket deleted successfully"}, nil
}

func (s *Service) GetTicket(ctx context.Context, ticketID string) (store.Ticket, error) {
	return s.requireTicket(ctx, s.store, ticketID)
}

// ListBoardTickets returns a board's tickets in column order, or in the requested presentation
// order when sortKey is set.
func (s *Service) ListBoardTickets(ctx context.Context, boardID, sortKey, direction string) ([]store.Ticket, error) {
	key, dir, err := board.ParseSort(sortKey, direction)
	if err != nil {
		return nil, validationError(err.Error(), nil)
	}
	if _, err := s.FindBoard(ctx, boardID); err != nil {
		return nil, err
	}
	items, err := s.store.ListTicketsByBoard(ctx, boardID)
	if err != nil {
		return nil, err
	}
	items = slices.Clone(items)
	board.Sort(items, store.Ticket.SortFields, key, dir)
	return items, nil
}

// ListTickets returns every ticket, newest first.
func (s *Service) ListTickets(ctx context.Context) ([]store.Ticket, error) {
	return s.store.ListTickets(ctx)
}

// ListUserTickets returns tickets the user created or is assigned to, newest first.
func (s *Service) ListUserTickets(ctx context.Context, userID string) ([]store.Ticket, error) {
	return s.store.ListTicketsByUser(ctx, userID)
}
