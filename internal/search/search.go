// Package search finds tickets by free text. Meilisearch serves queries when it is reachable and
// the ticket store's substring match takes over when it is not.
package search

import (
	"context"

	"taskboard/api/internal/store"
)

// Result is a single search hit returned to the caller.
type Result struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Snippet  string `json:"snippet"`
	BoardID  string `json:"boardId"`
	ColumnID string `json:"columnId"`
	Priority string `json:"priority"`
	Status   string `json:"status"`
}

// Query describes a search request. BoardID is required.
type Query struct {
	Text    string
	BoardID string
	Limit   int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Source  string   `json:"source"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Index is a Searcher that can also be written to.
type Index interface {
	Searcher
	IndexTickets(tickets []TicketRecord) error
	DeleteTickets(ids []string) error
}

// TicketRecord is the data we index for a ticket.
type TicketRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	BoardID     string `json:"boardId"`
	ColumnID    string `json:"columnId"`
	Priority    string `json:"priority"`
	Status      string `json:"status"`
}

func RecordFromTicket(t store.Ticket) TicketRecord {
	return TicketRecord{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		BoardID:     t.BoardID,
		ColumnID:    t.ColumnID,
		Priority:    string(t.Priority),
		Status:      string(t.Status),
	}
}

const defaultLimit = 20

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	return limit
}
