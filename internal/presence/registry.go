// Package presence tracks which users are looking at which boards. State lives in process memory
// only and starts empty; clients rejoin after a restart.
package presence

import (
	"slices"
	"sync"
)

// Registry maps each user to their most recent session and each board to the users viewing it.
// A board entry exists only while at least one user is in it.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]string
	boards   map[string]map[string]struct{}
}

func NewRegistry() *Registry {
	r := &Registry{}
	r.Reset()
	return r
}

// Join records userID on boardID and makes sessionID the user's current session. It returns the
// session it superseded, if any.
func (r *Registry) Join(boardID, userID, sessionID string) (superseded string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.sessions[userID]; ok && prev != sessionID {
		superseded = prev
	}
	r.sessions[userID] = sessionID

	users, ok := r.boards[boardID]
	if !ok {
		users = make(map[string]struct{})
		r.boards[boardID] = users
	}
	users[userID] = struct{}{}
	return superseded
}

// Leave removes userID from boardID. The user's session mapping goes with it once the user is on no
// other board, so a later Disconnect still finds boards left open. Unknown boards are ignored.
func (r *Registry) Leave(boardID, userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	users, ok := r.boards[boardID]
	if !ok {
		return false
	}
	if _, member := users[userID]; !member {
		return false
	}
	r.removeLocked(boardID, userID)
	if len(r.boardsOfLocked(userID)) == 0 {
		delete(r.sessions, userID)
	}
	return true
}

// Disconnect drops the user whose current session is sessionID from every board and returns that
// user and the boards they left. A superseded or unknown session yields an empty userID.
func (r *Registry) Disconnect(sessionID string) (userID string, boards []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for uid, sid := range r.sessions {
		if sid == sessionID {
			userID = uid
			break
		}
	}
	if userID == "" {
		return "", nil
	}
	delete(r.sessions, userID)

	boards = r.boardsOfLocked(userID)
	for _, boardID := range boards {
		r.removeLocked(boardID, userID)
	}
	return userID, boards
}

// Members returns the users on boardID, sorted.
func (r *Registry) Members(boardID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	users := r.boards[boardID]
	out := make([]string, 0, len(users))
	for uid := range users {
		out = append(out, uid)
	}
	slices.Sort(out)
	return out
}

func (r *Registry) SessionFor(userID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sid, ok := r.sessions[userID]
	return sid, ok
}

// Boards returns every board with at least one member, sorted.
func (r *Registry) Boards() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.boards))
	for boardID := range r.boards {
		out = append(out, boardID)
	}
	slices.Sort(out)
	return out
}

// Reset forgets everything.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = make(map[string]string)
	r.boards = make(map[string]map[string]struct{})
}

func (r *Registry) removeLocked(boardID, userID string) {
	users := r.boards[boardID]
	delete(users, userID)
	if len(users) == 0 {
		delete(r.boards, boardID)
	}
}

func (r *Registry) boardsOfLocked(userID string) []string {
	var out []string
	for boardID, users := range r.boards {
		if _, ok := users[userID]; ok {
			out = append(out, boardID)
		}
	}
	slices.Sort(out)
	return out
}
