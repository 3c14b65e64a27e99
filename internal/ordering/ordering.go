// Package ordering computes how ticket positions change when tickets are inserted, moved or
// removed. Every column keeps its tickets at orders 0..n-1 with no gaps or duplicates; the plans
// produced here are the range updates a store must apply, in sequence and inside one transaction,
// to keep it that way.
package ordering

// Slot is a position inside a column.
type Slot struct {
	ColumnID string
	Order    int
}

// Shift adds Delta to the order of every ticket in ColumnID whose order lies in [From, To].
// A negative To leaves the range open-ended.
type Shift struct {
	ColumnID string
	From     int
	To       int
	Delta    int
}

func (s Shift) Covers(columnID string, order int) bool {
	if columnID != s.ColumnID || order < s.From {
		return false
	}
	return s.To < 0 || order <= s.To
}

// Plan describes a move. Before runs before the ticket is written to Target, After runs once the
// ticket has left its source column.
type Plan struct {
	From   Slot
	Target Slot
	Before []Shift
	After  []Shift
}

func (p Plan) SameColumn() bool { return p.From.ColumnID == p.Target.ColumnID }

// Noop reports whether the move leaves every ticket where it is.
func (p Plan) Noop() bool { return p.From == p.Target }

// PlanMove plans moving the ticket at from to toOrder in column toColumn. destCount is the number of
// tickets currently in toColumn, counting the moving ticket when the column does not change.
// toOrder is clamped into the range that keeps the destination contiguous.
func PlanMove(from Slot, toColumn string, toOrder, destCount int) Plan {
	if from.ColumnID == toColumn {
		target := Slot{ColumnID: toColumn, Order: clamp(toOrder, 0, destCount-1)}
		plan := Plan{From: from, Target: target}
		switch {
		case target.Order > from.Order:
			plan.Before = []Shift{{ColumnID: toColumn, From: from.Order + 1, To: target.Order, Delta: -1}}
		case target.Order < from.Order:
			plan.Before = []Shift{{ColumnID: toColumn, From: target.Order, To: from.Order - 1, Delta: 1}}
		}
		return plan
	}

	target := Slot{ColumnID: toColumn, Order: clamp(toOrder, 0, destCount)}
	return Plan{
		From:   from,
		Target: target,
		Before: []Shift{{ColumnID: toColumn, From: target.Order, To: -1, Delta: 1}},
		After:  []Shift{PlanRemove(from)},
	}
}

// PlanInsert returns the slot a new ticket takes: the end of the column.
func PlanInsert(columnID string, count int) Slot {
	return Slot{ColumnID: columnID, Order: max(count, 0)}
}

// PlanRemove returns the shift that closes the gap a ticket leaves behind.
func PlanRemove(from Slot) Shift {
	return Shift{ColumnID: from.ColumnID, From: from.Order + 1, To: -1, Delta: -1}
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		hi = lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
