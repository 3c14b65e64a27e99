package util

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a random UUID, the id format of every stored entity.
func NewID() string {
	return uuid.NewString()
}

// NewSessionID returns an opaque id for a realtime connection, prefixed so it is easy to tell
// apart from entity ids in logs.
func NewSessionID() string {
	return "ws_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ValidID reports whether id parses as a UUID.
func ValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
