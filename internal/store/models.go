package store

import (
	"time"

	"taskboard/api/internal/board"
)

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Username     string    `json:"username"`
	FirstName    string    `json:"firstName"`
	LastName     string    `json:"lastName"`
	PasswordHash string    `json:"-"`
	Avatar       string    `json:"avatar,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func (u User) Summary() *UserSummary {
	return &UserSummary{
		ID:        u.ID,
		Email:     u.Email,
		Username:  u.Username,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Avatar:    u.Avatar,
	}
}

// UserSummary is the public part of a user joined onto boards and tickets.
type UserSummary struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Username  string `json:"username"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Avatar    string `json:"avatar,omitempty"`
}

type Board struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	CreatedBy   string       `json:"createdBy"`
	Creator     *UserSummary `json:"creator,omitempty"`
	Columns     []Column     `json:"columns"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

type Column struct {
	ID        string    `json:"id"`
	BoardID   string    `json:"boardId"`
	Title     string    `json:"title"`
	Order     int       `json:"order"`
	Tickets   []Ticket  `json:"tickets,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (c Column) Summary() *ColumnSummary {
	return &ColumnSummary{ID: c.ID, BoardID: c.BoardID, Title: c.Title, Order: c.Order}
}

type ColumnSummary struct {
	ID      string `json:"id"`
	BoardID string `json:"boardId"`
	Title   string `json:"title"`
	Order   int    `json:"order"`
}

// Ticket is a card. Status is always derived from the column title when the ticket is written.
type Ticket struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Priority    board.Priority `json:"priority"`
	Status      board.Status   `json:"status"`
	AssignedTo  *string        `json:"assignedTo"`
	CreatedBy   string         `json:"createdBy"`
	ColumnID    string         `json:"columnId"`
	BoardID     string         `json:"boardId"`
	Order       int            `json:"order"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`

	Assignee *UserSummary   `json:"assignee,omitempty"`
	Creator  *UserSummary   `json:"creator,omitempty"`
	Column   *ColumnSummary `json:"column,omitempty"`
}

func (t Ticket) SortFields() board.SortFields {
	return board.SortFields{Priority: t.Priority, CreatedAt: t.CreatedAt, Order: t.Order}
}
