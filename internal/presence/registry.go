// Package presence tracks which users are currently present in a tracked chat context.
package presence

import (
	"sync"

	"github.com/Proton-105/hydration-bot/internal/domain"
)

// Registry is a concurrency-safe set of present users.
type Registry struct {
	mu    sync.RWMutex
	users map[domain.UserID]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{users: make(map[domain.UserID]struct{})}
}

// MarkPresent records the user as present. Marking twice is a no-op.
func (r *Registry) MarkPresent(user domain.UserID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[user] = struct{}{}
}

// MarkAbsent removes the user. Removing an unknown user is a no-op.
func (r *Registry) MarkAbsent(user domain.UserID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.users, user)
}

// IsPresent reports whether the user is currently present.
func (r *Registry) IsPresent(user domain.UserID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.users[user]
	return ok
}

// Len returns the number of present users.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}
