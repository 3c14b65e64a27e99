package board

import (
	"testing"
	"time"
)

func TestStatusForColumn(t *testing.T) {
	tests := []struct {
		title string
		want  Status
	}{
		{"To Do", StatusTodo},
		{"to do", StatusTodo},
		{"In Progress", StatusInProgress},
		{"IN PROGRESS", StatusInProgress},
		{"Testing", StatusTesting},
		{"Done", StatusDone},
		{"done", StatusDone},
		{"Backlog", StatusTodo},
		{"", StatusTodo},
		{" Done", StatusTodo},
	}
	for _, tt := range tests {
		if got := StatusForColumn(tt.title); got != tt.want {
			t.Errorf("StatusForColumn(%q) = %s, want %s", tt.title, got, tt.want)
		}
	}
}

func TestDefaultColumnsMapToDistinctStatuses(t *testing.T) {
	want := []Status{StatusTodo, StatusInProgress, StatusTesting, StatusDone}
	for i, title := range DefaultColumnTitles {
		if got := StatusForColumn(title); got != want[i] {
			t.Fatalf("column %d %q maps to %s, want %s", i, title, got, want[i])
		}
	}
}

func TestParsePriority(t *testing.T) {
	p, err := ParsePriority(" high ")
	if err != nil {
		t.Fatalf("ParsePriority() error = %v", err)
	}
	if p != PriorityHigh {
		t.Fatalf("expected HIGH, got %s", p)
	}
	if _, err := ParsePriority("CRITICAL"); err == nil {
		t.Fatal("expected error for unknown priority")
	}
}

type item struct {
	name     string
	priority Priority
	created  time.Time
	order    int
}

func fieldsOf(i item) SortFields {
	return SortFields{Priority: i.priority, CreatedAt: i.created, Order: i.order}
}

func names(items []item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.name
	}
	return out
}

func TestSortByPriorityBreaksTiesByOrder(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	items := []item{
		{"a", PriorityLow, base, 0},
		{"b", PriorityUrgent, base, 3},
		{"c", PriorityHigh, base, 2},
		{"d", PriorityUrgent, base, 1},
	}

	Sort(items, fieldsOf, SortByPriority, Descending)
	got := names(items)
	want := []string{"d", "b", "c", "a"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("desc order = %v, want %v", got, want)
		}
	}

	Sort(items, fieldsOf, SortByPriority, Ascending)
	got = names(items)
	want = []string{"a", "c", "d", "b"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("asc order = %v, want %v", got, want)
		}
	}
}

func TestSortByCreated(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	items := []item{
		{"old", PriorityLow, base, 2},
		{"new", PriorityLow, base.Add(time.Hour), 0},
		{"same", PriorityLow, base, 1},
	}
	Sort(items, fieldsOf, SortByCreated, Descending)
	got := names(items)
	want := []string{"new", "same", "old"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestParseSort(t *testing.T) {
	key, dir, err := ParseSort("Priority", "")
	if err != nil || key != SortByPriority || dir != Descending {
		t.Fatalf("ParseSort() = %s %s %v", key, dir, err)
	}
	if _, _, err := ParseSort("title", "asc"); err == nil {
		t.Fatal("expected error for unknown key")
	}
	if _, _, err := ParseSort("created", "sideways"); err == nil {
		t.Fatal("expected error for unknown direction")
	}
}

func TestCheckContiguous(t *testing.T) {
	if err := CheckContiguous([]int{2, 0, 1}); err != nil {
		t.Fatalf("expected contiguous, got %v", err)
	}
	if err := CheckContiguous(nil); err != nil {
		t.Fatalf("empty column must be contiguous, got %v", err)
	}
	if err := CheckContiguous([]int{0, 0}); err == nil {
		t.Fatal("expected duplicate error")
	}
	if err := CheckContiguous([]int{0, 2}); err == nil {
		t.Fatal("expected gap error")
	}
}
