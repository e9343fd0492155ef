package reminder

import "github.com/samber/lo"

// State is the lifecycle phase of a Scheduler.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
)

// validTransitions lists the phases each state may move to.
var validTransitions = map[State][]State{
	StateIdle: {
		StateRunning,
	},
	StateRunning: {
		StateStopping,
	},
	StateStopping: {
		StateStopped,
	},
}

// IsTransitionAllowed reports whether a scheduler may move from one state to another.
func IsTransitionAllowed(from, to State) bool {
	return lo.Contains(validTransitions[from], to)
}
