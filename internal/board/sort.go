package board

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"
)

type SortKey string

const (
	SortByPriority SortKey = "priority"
	SortByCreated  SortKey = "created"
)

type Direction string

const (
	Ascending  Direction = "asc"
	Descending Direction = "desc"
)

// ParseSort reads the presentation sort options sent by clients. An empty key means no sorting.
func ParseSort(key, dir string) (SortKey, Direction, error) {
	k := SortKey(strings.ToLower(strings.TrimSpace(key)))
	switch k {
	case "", SortByPriority, SortByCreated:
	default:
		return "", "", fmt.Errorf("unknown sort key %q", key)
	}
	d := Direction(strings.ToLower(strings.TrimSpace(dir)))
	switch d {
	case "":
		d = Descending
	case Ascending, Descending:
	default:
		return "", "", fmt.Errorf("unknown sort direction %q", dir)
	}
	return k, d, nil
}

// SortFields are the values a presentation sort looks at.
type SortFields struct {
	Priority  Priority
	CreatedAt time.Time
	Order     int
}

// Sort orders items in place by the chosen key and direction. Ties always fall back to ascending
// column order regardless of direction.
func Sort[T any](items []T, fields func(T) SortFields, key SortKey, dir Direction) {
	if key == "" {
		return
	}
	slices.SortStableFunc(items, func(a, b T) int {
		fa, fb := fields(a), fields(b)
		var c int
		switch key {
		case SortByPriority:
			c = cmp.Compare(fa.Priority.Weight(), fb.Priority.Weight())
		case SortByCreated:
			c = fa.CreatedAt.Compare(fb.CreatedAt)
		}
		if dir == Descending {
			c = -c
		}
		if c != 0 {
			return c
		}
		return cmp.Compare(fa.Order, fb.Order)
	})
}

// CheckContiguous reports whether orders is exactly {0..n-1}.
func CheckContiguous(orders []int) error {
	seen := make([]bool, len(orders))
	for _, o := range orders {
		if o < 0 || o >= len(orders) {
			return fmt.Errorf("order %d outside 0..%d", o, len(orders)-1)
		}
		if seen[o] {
			return fmt.Errorf("duplicate order %d", o)
		}
		seen[o] = true
	}
	return nil
}
