package authstore

import "strings"

// Constraint is a predicate over the subject at decision time (spec §3).
type Constraint string

const (
	// ConstraintNone is always satisfied.
	ConstraintNone Constraint = "none"
	// ConstraintLocal requires the subject's session to be on a local seat.
	ConstraintLocal Constraint = "local"
	// ConstraintActive requires the subject's session to currently be active.
	ConstraintActive Constraint = "active"
	// ConstraintLocalActive requires both local and active.
	ConstraintLocalActive Constraint = "local+active"
)

// SessionState is the liveness/locality view of a subject's session the
// constraint predicate is evaluated against.
type SessionState struct {
	Exists   bool
	IsLocal  bool
	IsActive bool
}

// Satisfied reports whether the constraint holds given the subject's current
// session state.
func (c Constraint) Satisfied(s SessionState) bool {
	switch c {
	case ConstraintNone, "":
		return true
	case ConstraintLocal:
		return s.Exists && s.IsLocal
	case ConstraintActive:
		return s.Exists && s.IsActive
	case ConstraintLocalActive:
		return s.Exists && s.IsLocal && s.IsActive
	default:
		return false
	}
}

// ForSession derives the constraint implicit in a subject's current session
// state, used when a new explicit authorization is created for that subject
// (spec §4.3's add_process/add_session/add_always "constraint implied by
// subject's current session").
func ForSession(s SessionState) Constraint {
	switch {
	case s.Exists && s.IsLocal && s.IsActive:
		return ConstraintLocalActive
	case s.Exists && s.IsLocal:
		return ConstraintLocal
	case s.Exists && s.IsActive:
		return ConstraintActive
	default:
		return ConstraintNone
	}
}

// ParseConstraint parses the §6 constraint token.
func ParseConstraint(s string) Constraint {
	switch strings.TrimSpace(s) {
	case string(ConstraintLocal):
		return ConstraintLocal
	case string(ConstraintActive):
		return ConstraintActive
	case string(ConstraintLocalActive):
		return ConstraintLocalActive
	default:
		return ConstraintNone
	}
}
