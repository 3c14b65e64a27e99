package search

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"taskboard/api/internal/board"
	"taskboard/api/internal/store"
)

type fakeFinder struct {
	items []store.Ticket
	err   error
	calls []string
}

func (f *fakeFinder) SearchTickets(_ context.Context, boardID, query string, limit int) ([]store.Ticket, error) {
	f.calls = append(f.calls, boardID+"|"+query)
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.items) {
		return f.items[:limit], nil
	}
	return f.items, nil
}

type fakeIndex struct {
	mu      sync.Mutex
	healthy bool
	err     error
	results []Result
	indexed []TicketRecord
	deleted []string
}

func (f *fakeIndex) Healthy() bool { return f.healthy }

func (f *fakeIndex) Search(_ context.Context, q Query) ([]Result, int, error) {
	if f.err != nil {
		return nil, 0, f.err
	}
	return f.results, len(f.results), nil
}

func (f *fakeIndex) IndexTickets(tickets []TicketRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, tickets...)
	return nil
}

func (f *fakeIndex) DeleteTickets(ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, ids...)
	return nil
}

func newTestService(idx Index, finder *fakeFinder) (*Service, *test.Hook) {
	logger, hook := test.NewNullLogger()
	svc := NewService(idx, NewStoreSearcher(finder), logger)
	svc.async = func(fn func()) { fn() }
	return svc, hook
}

func sampleTicket() store.Ticket {
	return store.Ticket{
		ID:          "t1",
		Title:       "Fix login",
		Description: "The login form rejects valid passwords",
		BoardID:     "b1",
		ColumnID:    "c1",
		Priority:    board.PriorityHigh,
		Status:      board.StatusTodo,
	}
}

func TestSearchUsesIndexWhenHealthy(t *testing.T) {
	idx := &fakeIndex{healthy: true, results: []Result{{ID: "t1", Title: "<mark>Fix</mark> login"}}}
	finder := &fakeFinder{}
	svc, _ := newTestService(idx, finder)

	resp := svc.Search(context.Background(), Query{Text: "fix", BoardID: "b1"})
	if resp.Source != SourceIndex || len(resp.Results) != 1 || resp.Total != 1 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if len(finder.calls) != 0 {
		t.Fatalf("store should not be queried, got %v", finder.calls)
	}
}

func TestSearchFallsBackWhenIndexFails(t *testing.T) {
	idx := &fakeIndex{healthy: true, err: errors.New("connection refused")}
	finder := &fakeFinder{items: []store.Ticket{sampleTicket()}}
	svc, hook := newTestService(idx, finder)

	resp := svc.Search(context.Background(), Query{Text: "login", BoardID: "b1"})
	if resp.Source != SourceStore || len(resp.Results) != 1 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if got := resp.Results[0]; got.Priority != "HIGH" || got.Status != "TODO" || got.ColumnID != "c1" {
		t.Fatalf("unexpected result %+v", got)
	}
	if hook.LastEntry() == nil || hook.LastEntry().Level != logrus.WarnLevel {
		t.Fatalf("expected a warning about the fallback, got %+v", hook.AllEntries())
	}
}

func TestSearchWithoutIndex(t *testing.T) {
	finder := &fakeFinder{items: []store.Ticket{sampleTicket()}}
	svc, _ := newTestService(nil, finder)

	resp := svc.Search(context.Background(), Query{Text: "login", BoardID: "b1"})
	if resp.Source != SourceStore || resp.Query != "login" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if len(finder.calls) != 1 || finder.calls[0] != "b1|login" {
		t.Fatalf("unexpected store calls %v", finder.calls)
	}
}

func TestSearchStoreErrorReturnsEmpty(t *testing.T) {
	svc, hook := newTestService(nil, &fakeFinder{err: errors.New("db down")})

	resp := svc.Search(context.Background(), Query{Text: "x", BoardID: "b1"})
	if resp.Results == nil || len(resp.Results) != 0 {
		t.Fatalf("expected empty non-nil results, got %#v", resp.Results)
	}
	if hook.LastEntry() == nil || hook.LastEntry().Level != logrus.ErrorLevel {
		t.Fatal("expected error log")
	}
}

func TestIndexWritesSkippedWhenUnhealthy(t *testing.T) {
	idx := &fakeIndex{healthy: false}
	svc, _ := newTestService(idx, &fakeFinder{})

	svc.IndexTicket(sampleTicket())
	svc.DeleteTickets("t1")
	if len(idx.indexed) != 0 || len(idx.deleted) != 0 {
		t.Fatalf("unhealthy index should not be written, got %+v", idx)
	}
}

func TestIndexWrites(t *testing.T) {
	idx := &fakeIndex{healthy: true}
	svc, _ := newTestService(idx, &fakeFinder{})

	svc.IndexTicket(sampleTicket())
	svc.IndexTickets([]store.Ticket{sampleTicket(), {ID: "t2", BoardID: "b1"}})
	svc.DeleteTickets("t3", "t4")

	if len(idx.indexed) != 3 || idx.indexed[0].Title != "Fix login" || idx.indexed[0].Priority != "HIGH" {
		t.Fatalf("unexpected indexed records %+v", idx.indexed)
	}
	if strings.Join(idx.deleted, ",") != "t3,t4" {
		t.Fatalf("unexpected deletes %v", idx.deleted)
	}
}

func TestSnippet(t *testing.T) {
	long := strings.Repeat("a", 100) + "needle" + strings.Repeat("b", 100)
	got := snippet(long, "NEEDLE")
	if !strings.Contains(got, "needle") || !strings.HasPrefix(got, "…") || !strings.HasSuffix(got, "…") {
		t.Fatalf("unexpected snippet %q", got)
	}
	if got := snippet("short text", "missing"); got != "short text" {
		t.Fatalf("unexpected snippet %q", got)
	}
	if got := snippet("   ", "x"); got != "" {
		t.Fatalf("expected empty snippet, got %q", got)
	}
}

func TestHitToResultPrefersFormatted(t *testing.T) {
	raw := func(v any) json.RawMessage {
		b, _ := json.Marshal(v)
		return b
	}
	hit := meili.Hit{
		"id":          raw("t1"),
		"title":       raw("Fix login"),
		"description": raw("long description"),
		"boardId":     raw("b1"),
		"columnId":    raw("c1"),
		"priority":    raw("HIGH"),
		"status":      raw("TODO"),
		"_formatted":  raw(map[string]string{"title": "<mark>Fix</mark> login"}),
	}
	got := hitToResult(hit)
	if got.Title != "<mark>Fix</mark> login" || got.Snippet != "long description" || got.BoardID != "b1" {
		t.Fatalf("unexpected result %+v", got)
	}
}

func TestSearchRequestScopesToBoard(t *testing.T) {
	req := searchRequest(Query{Text: "x", BoardID: "b-1"})
	if req.Filter != `boardId = "b-1"` || req.Limit != defaultLimit {
		t.Fatalf("unexpected request %+v", req)
	}
}
