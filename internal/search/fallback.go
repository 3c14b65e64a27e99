package search

import (
	"context"
	"strings"

	"taskboard/api/internal/store"
)

type ticketFinder interface {
	SearchTickets(ctx context.Context, boardID, query string, limit int) ([]store.Ticket, error)
}

// StoreSearcher answers queries straight from the ticket store with a case-insensitive
// substring match on title and description.
type StoreSearcher struct {
	tickets ticketFinder
}

func NewStoreSearcher(tickets ticketFinder) *StoreSearcher {
	return &StoreSearcher{tickets: tickets}
}

func (s *StoreSearcher) Healthy() bool { return true }

func (s *StoreSearcher) Search(ctx context.Context, q Query) ([]Result, int, error) {
	items, err := s.tickets.SearchTickets(ctx, q.BoardID, q.Text, limitOrDefault(q.Limit))
	if err != nil {
		return nil, 0, err
	}
	results := make([]Result, 0, len(items))
	for _, item := range items {
		results = append(results, Result{
			ID:       item.ID,
			Title:    item.Title,
			Snippet:  snippet(item.Description, q.Text),
			BoardID:  item.BoardID,
			ColumnID: item.ColumnID,
			Priority: string(item.Priority),
			Status:   string(item.Status),
		})
	}
	return results, len(results), nil
}

const snippetRadius = 60

// snippet cuts a window of text around the first match of term, or the head of text when the
// term only matched the title.
func snippet(text, term string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	runes := []rune(text)
	start := 0
	if term != "" {
		lower := strings.ToLower(text)
		if idx := strings.Index(lower, strings.ToLower(term)); idx >= 0 {
			start = len([]rune(lower[:idx])) - snippetRadius
		}
	}
	start = min(max(start, 0), len(runes))
	end := min(start+2*snippetRadius, len(runes))
	out := string(runes[start:end])
	if start > 0 {
		out = "…" + out
	}
	if end < len(runes) {
		out += "…"
	}
	return out
}
