package animation

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Phase is where a session currently is.
type Phase string

const (
	PhaseRunning     Phase = "running"
	PhaseFading      Phase = "fading"
	PhaseBrightening Phase = "brightening"
	PhaseSettling    Phase = "settling"
	PhaseDone        Phase = "done"
	PhaseCancelled   Phase = "cancelled"
	PhaseFailed      Phase = "failed"
)

// Session is the in-memory record of one animation from start to finish.
// It is never persisted and is dropped when the animation returns.
type Session struct {
	ID    string
	Name  string
	Start time.Time
	// End is the planned finish for duration-bound animations, zero otherwise.
	End time.Time

	mu     sync.Mutex
	phase  Phase
	pushes int
}

// SessionInfo is a point-in-time copy of a Session, safe to hand to other
// goroutines.
type SessionInfo struct {
	ID     string    `json:"id"`
	Name   string    `json:"name"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end,omitzero"`
	Phase  Phase     `json:"phase"`
	Pushes int       `json:"pushes"`
}

func newSession(name string, start time.Time, d time.Duration) *Session {
	s := &Session{
		ID:    uuid.NewString(),
		Name:  name,
		Start: start,
		phase: PhaseRunning,
	}
	if d > 0 {
		s.End = start.Add(d)
	}
	return s
}

func (s *Session) setPhase(p Phase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
}

func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *Session) pushed() {
	s.mu.Lock()
	s.pushes++
	s.mu.Unlock()
}

func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionInfo{
		ID:     s.ID,
		Name:   s.Name,
		Start:  s.Start,
		End:    s.End,
		Phase:  s.phase,
		Pushes: s.pushes,
	}
}
