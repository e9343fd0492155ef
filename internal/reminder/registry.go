// Package reminder keeps reminder opt-in state and runs the periodic reminder sweep.
package reminder

import (
	"sync"
	"time"

	"github.com/Proton-105/hydration-bot/internal/domain"
)

const (
	// EnabledText acknowledges an opt-in.
	EnabledText = "Enabled drate reminders"
	// DisabledText acknowledges an opt-out.
	DisabledText = "Disabled drate reminders"
)

// Registry maps opted-in users to the time they were last reminded.
// A user is a key iff they opted in and have not opted out since.
type Registry struct {
	mu   sync.Mutex
	last map[domain.UserID]time.Time
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{last: make(map[domain.UserID]time.Time)}
}

// OptIn stores now as the user's last reminder time, overwriting any previous value.
func (r *Registry) OptIn(user domain.UserID, now time.Time) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last[user] = now
	return EnabledText
}

// OptOut removes the user. Opting out an unknown user is a no-op.
func (r *Registry) OptOut(user domain.UserID) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.last, user)
	return DisabledText
}

// IsOptedIn reports whether the user currently receives reminders.
func (r *Registry) IsOptedIn(user domain.UserID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.last[user]
	return ok
}

// Len returns the number of opted-in users.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.last)
}

// Sweep selects every user whose last reminder is more than threshold before now and
// stamps them with now before returning.
func (r *Registry) Sweep(now time.Time, threshold time.Duration) []domain.UserID {
	return r.SweepWhere(now, threshold, nil)
}

// SweepWhere is Sweep restricted to users accepted by eligible. A nil eligible accepts
// everyone. Rejected users keep their timestamp. eligible runs under the registry lock and
// must not call back into the registry.
func (r *Registry) SweepWhere(now time.Time, threshold time.Duration, eligible func(domain.UserID) bool) []domain.UserID {
	r.mu.Lock()
	defer r.mu.Unlock()

	var due []domain.UserID
	for user, last := range r.last {
		if now.Sub(last) <= threshold {
			continue
		}
		if eligible != nil && !eligible(user) {
			continue
		}
		r.last[user] = now
		due = append(due, user)
	}

	return due
}
