package store

import (
	"context"
	"errors"

	"taskboard/api/internal/ordering"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrOrderConflict means two writers raced for the same column slot; the whole operation may be retried.
	ErrOrderConflict = errors.New("order conflict")
	ErrForeignKey    = errors.New("foreign key violation")
	ErrDuplicate     = errors.New("duplicate value")
)

// Reader holds the lookups shared by the store and its transactions. Tickets come back joined with
// their assignee, creator and column.
type Reader interface {
	GetUserByID(ctx context.Context, id string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	ListUsers(ctx context.Context) ([]User, error)
	GetBoard(ctx context.Context, id string) (Board, error)
	ListBoards(ctx context.Context) ([]Board, error)
	GetColumn(ctx context.Context, id string) (Column, error)
	GetTicket(ctx context.Context, id string) (Ticket, error)
	ListTickets(ctx context.Context) ([]Ticket, error)
	ListTicketsByBoard(ctx context.Context, boardID string) ([]Ticket, error)
	ListTicketsByUser(ctx context.Context, userID string) ([]Ticket, error)
	SearchTickets(ctx context.Context, boardID, query string, limit int) ([]Ticket, error)
}

// Tx is a unit of work. Nothing written through it is visible to others until InTx returns nil.
type Tx interface {
	Reader
	// LockColumns blocks other transactions from reordering the given columns until commit.
	LockColumns(ctx context.Context, columnIDs ...string) error
	CountTickets(ctx context.Context, columnID string) (int, error)
	InsertBoard(ctx context.Context, item Board) error
	UpdateBoard(ctx context.Context, item Board) error
	DeleteBoard(ctx context.Context, id string) error
	InsertColumn(ctx context.Context, item Column) error
	InsertTicket(ctx context.Context, item Ticket) error
	UpdateTicket(ctx context.Context, item Ticket) error
	DeleteTicket(ctx context.Context, id string) error
	ShiftTickets(ctx context.Context, shift ordering.Shift) error
}

type Store interface {
	Reader
	CreateUser(ctx context.Context, item User) error
	InTx(ctx context.Context, fn func(Tx) error) error
	Ping(ctx context.Context) error
}
