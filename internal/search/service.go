package search

import (
	"context"

	"github.com/sirupsen/logrus"

	"taskboard/api/internal/store"
)

const (
	SourceIndex = "index"
	SourceStore = "store"
)

// Service is the facade that tries the index first and falls back to the store.
type Service struct {
	index    Index
	fallback Searcher
	logger   *logrus.Logger
	// async runs index writes; tests swap it for a synchronous call.
	async func(func())
}

// NewService creates a search service. index may be nil if Meilisearch is not configured.
func NewService(index Index, fallback Searcher, logger *logrus.Logger) *Service {
	return &Service{index: index, fallback: fallback, logger: logger, async: func(fn func()) { go fn() }}
}

// Search tries the index if healthy, otherwise falls back to the store.
func (s *Service) Search(ctx context.Context, q Query) Response {
	q.Limit = limitOrDefault(q.Limit)
	if s.index != nil && s.index.Healthy() {
		results, total, err := s.index.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Source: SourceIndex}
		}
		s.logger.WithError(err).Warn("search index failed, falling back to store")
	}

	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.WithError(err).WithField("board_id", q.BoardID).Error("store search failed")
		return Response{Results: []Result{}, Query: q.Text, Source: SourceStore}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Source: SourceStore}
}

func (s *Service) enabled() bool {
	return s.index != nil && s.index.Healthy()
}

// IndexTicket indexes a ticket (fire-and-forget).
func (s *Service) IndexTicket(t store.Ticket) {
	if !s.enabled() {
		return
	}
	rec := RecordFromTicket(t)
	s.async(func() {
		if err := s.index.IndexTickets([]TicketRecord{rec}); err != nil {
			s.logger.WithError(err).WithField("ticket_id", rec.ID).Warn("index ticket")
		}
	})
}

// IndexTickets indexes several tickets at once, for moves that renumber a column.
func (s *Service) IndexTickets(tickets []store.Ticket) {
	if !s.enabled() || len(tickets) == 0 {
		return
	}
	recs := make([]TicketRecord, len(tickets))
	for i, t := range tickets {
		recs[i] = RecordFromTicket(t)
	}
	s.async(func() {
		if err := s.index.IndexTickets(recs); err != nil {
			s.logger.WithError(err).WithField("count", len(recs)).Warn("index tickets")
		}
	})
}

// DeleteTickets removes tickets from the index (fire-and-forget).
func (s *Service) DeleteTickets(ids ...string) {
	if !s.enabled() || len(ids) == 0 {
		return
	}
	s.async(func() {
		if err := s.index.DeleteTickets(ids); err != nil {
			s.logger.WithError(err).WithField("count", len(ids)).Warn("delete tickets from index")
		}
	})
}

type boardLister interface {
	ListBoards(ctx context.Context) ([]store.Board, error)
	ListTicketsByBoard(ctx context.Context, boardID string) ([]store.Ticket, error)
}

// Reindex pushes every ticket in the store into the index. Called at startup.
func (s *Service) Reindex(ctx context.Context, src boardLister) (int, error) {
	if !s.enabled() {
		return 0, nil
	}
	boards, err := src.ListBoards(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, b := range boards {
		tickets, err := src.ListTicketsByBoard(ctx, b.ID)
		if err != nil {
			return total, err
		}
		recs := make([]TicketRecord, len(tickets))
		for i, t := range tickets {
			recs[i] = RecordFromTicket(t)
		}
		if err := s.index.IndexTickets(recs); err != nil {
			return total, err
		}
		total += len(recs)
	}
	s.logger.WithField("tickets", total).Info("search index rebuilt")
	return total, nil
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
