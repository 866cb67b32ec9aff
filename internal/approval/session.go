package approval

import (
	"sync"
	"time"

	"remedy/internal/types"
)

// Decision is one recorded approval decision.
type Decision struct {
	Timestamp time.Time
	Intent    types.ActionIntent
	Approved  bool

	// Auto is true when policy decided without a human.
	Auto bool
}

// Session accumulates consent over one program run: the decision log plus
// any standing grants the user has issued ("allow this action type for the
// rest of the session"). Sessions are never persisted; consent does not
// outlive the process.
type Session struct {
	mu        sync.Mutex
	decisions []Decision
	grants    map[types.ActionType]bool
}

// NewSession creates an empty consent session.
func NewSession() *Session {
	return &Session{grants: make(map[types.ActionType]bool)}
}

// Record appends a decision to the session log.
func (s *Session) Record(intent types.ActionIntent, approved, auto bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions = append(s.decisions, Decision{
		Timestamp: time.Now(),
		Intent:    intent,
		Approved:  approved,
		Auto:      auto,
	})
}

// Grant issues a standing approval for an action type, valid until Revoke or
// process exit.
func (s *Session) Grant(t types.ActionType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants[t] = true
}

// Revoke withdraws a standing approval.
func (s *Session) Revoke(t types.ActionType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.grants, t)
}

// StandingApproval reports whether the session carries a grant for the type.
func (s *Session) StandingApproval(t types.ActionType) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grants[t]
}

// Decisions returns a copy of the decision log.
func (s *Session) Decisions() []Decision {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Decision, len(s.decisions))
	copy(out, s.decisions)
	return out
}

// Stats summarizes the session.
func (s *Session) Stats() (total, approved, declined, auto int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.decisions {
		total++
		if d.Approved {
			approved++
		} else {
			declined++
		}
		if d.Auto {
			auto++
		}
	}
	return
}
