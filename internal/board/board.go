// Package board holds the workflow vocabulary shared by the ordering engine, the store and the
// transports: priorities, derived statuses and the default column layout of a new board.
package board

import (
	"fmt"
	"strings"
)

type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// Weight ranks priorities for presentation sorting. Unknown values rank below LOW.
func (p Priority) Weight() int {
	switch p {
	case PriorityUrgent:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

func (p Priority) Valid() bool {
	return p.Weight() > 0
}

func ParsePriority(value string) (Priority, error) {
	p := Priority(strings.ToUpper(strings.TrimSpace(value)))
	if !p.Valid() {
		return "", fmt.Errorf("unknown priority %q", value)
	}
	return p, nil
}

type Status string

const (
	StatusTodo       Status = "TODO"
	StatusInProgress Status = "IN_PROGRESS"
	StatusTesting    Status = "TESTING"
	StatusDone       Status = "DONE"
)

// DefaultColumnTitles are the lanes every new board starts with, in order.
var DefaultColumnTitles = []string{"To Do", "In Progress", "Testing", "Done"}

// StatusForColumn derives a ticket status from the title of the column it sits in.
// Titles match case-insensitively; anything unrecognised is TODO.
func StatusForColumn(title string) Status {
	switch strings.ToLower(title) {
	case "to do":
		return StatusTodo
	case "in progress":
		return StatusInProgress
	case "testing":
		return StatusTesting
	case "done":
		return StatusDone
	default:
		return StatusTodo
	}
}
