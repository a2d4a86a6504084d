package race

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Phase is the coarse lifecycle of a session.
type Phase string

const (
	PhaseSetup   Phase = "setup"
	PhaseRunning Phase = "running"
	PhaseReview  Phase = "review"
)

var (
	// ErrUnknownParticipant is returned for a tracking id not in the session.
	ErrUnknownParticipant = errors.New("race: unknown participant")
	// ErrInvalidTransition is returned when a lifecycle edge does not exist.
	ErrInvalidTransition = errors.New("race: invalid status transition")
	// ErrWrongPhase is returned when an operation does not apply to the current phase.
	ErrWrongPhase = errors.New("race: operation not allowed in this phase")
	// ErrNotAllCompleted blocks ending a race while anyone is still running or unconfirmed.
	ErrNotAllCompleted = errors.New("race: every participant must be completed")
	// ErrNoEntrants is returned when starting a race with nobody selected.
	ErrNoEntrants = errors.New("race: no entrants selected")
	// ErrDuplicateParticipant is returned when a tracking id is already present.
	ErrDuplicateParticipant = errors.New("race: duplicate participant")
	// ErrNotGuest is returned when promoting a registered participant.
	ErrNotGuest = errors.New("race: only guests can be promoted")
)

// FinishAdjustStep is the correction applied per operator nudge of a finish time.
const FinishAdjustStep = 5 * time.Second

// Session is the single in-progress race: clock plus ordered participants.
// It is not safe for concurrent use; checkpoint.Guard serialises access.
type Session struct {
	runID        string
	phase        Phase
	startedAt    time.Time
	endElapsed   *time.Duration
	clock        *Clock
	participants []*LiveParticipant

	now   func() time.Time
	newID func() string
}

// Option customises a Session.
type Option func(*Session)

// WithClock injects a deterministic time source (primarily for tests).
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRunIDs overrides the run id generator.
func WithRunIDs(fn func() string) Option {
	return func(s *Session) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// NewSession returns an empty session in the setup phase.
func NewSession(opts ...Option) *Session {
	s := &Session{
		phase: PhaseSetup,
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.clock = NewClock(s.now)
	return s
}

// RunID identifies the race once started.
func (s *Session) RunID() string { return s.runID }

// Phase reports the session phase.
func (s *Session) Phase() Phase { return s.phase }

// StartedAt is the wall-clock instant the race started.
func (s *Session) StartedAt() time.Time { return s.startedAt }

// Elapsed is the global race time.
func (s *Session) Elapsed() time.Duration { return s.clock.Elapsed() }

// ClockRunning reports whether the global clock is advancing.
func (s *Session) ClockRunning() bool { return s.clock.Running() }

// Len returns the number of tracked participants.
func (s *Session) Len() int { return len(s.participants) }

// Participants returns copies of all participants in session order.
func (s *Session) Participants() []LiveParticipant {
	out := make([]LiveParticipant, len(s.participants))
	for i, p := range s.participants {
		out[i] = p.clone()
	}
	return out
}

// Participant returns a copy of one participant.
func (s *Session) Participant(id string) (LiveParticipant, bool) {
	p, err := s.find(id)
	if err != nil {
		return LiveParticipant{}, false
	}
	return p.clone(), true
}

// Start moves a setup session into the running phase. Entrants are placed in
// seed order; seeds maps published ids to their previous finish times.
func (s *Session) Start(entrants []Entrant, seeds map[string]time.Duration) error {
	if s.phase != PhaseSetup {
		return fmt.Errorf("%w: start from %s", ErrWrongPhase, s.phase)
	}
	if len(entrants) == 0 {
		return ErrNoEntrants
	}
	seen := make(map[string]struct{}, len(entrants))
	for _, e := range entrants {
		id := strings.TrimSpace(e.ID)
		if id == "" {
			return fmt.Errorf("race: entrant %q has no id", e.Name)
		}
		if _, ok := seen[id]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateParticipant, id)
		}
		seen[id] = struct{}{}
	}
	now := s.now()
	s.runID = s.newID()
	s.startedAt = now
	s.endElapsed = nil
	s.clock.Start()
	s.participants = s.participants[:0]
	for _, e := range SeedOrder(entrants, seeds) {
		s.participants = append(s.participants, newLiveParticipant(e, now))
	}
	s.phase = PhaseRunning
	return nil
}

// AddLate inserts a new running participant mid-race.
func (s *Session) AddLate(e Entrant) error {
	if s.phase != PhaseRunning {
		return fmt.Errorf("%w: add participant during %s", ErrWrongPhase, s.phase)
	}
	if strings.TrimSpace(e.ID) == "" {
		return fmt.Errorf("race: entrant %q has no id", e.Name)
	}
	if _, err := s.find(e.ID); err == nil {
		return fmt.Errorf("%w: %s", ErrDuplicateParticipant, e.ID)
	}
	s.participants = append(s.participants, newLiveParticipant(e, s.now()))
	return nil
}

// Remove deletes a participant. It cannot be undone within the session.
func (s *Session) Remove(id string) error {
	if s.phase == PhaseSetup {
		return fmt.Errorf("%w: remove during setup", ErrWrongPhase)
	}
	for i, p := range s.participants {
		if p.ID == id {
			s.participants = append(s.participants[:i], s.participants[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownParticipant, id)
}

// AdjustLoops adds delta to a loop counter, clamping at zero.
func (s *Session) AdjustLoops(id string, kind LoopKind, delta int) error {
	p, err := s.mutable(id)
	if err != nil {
		return err
	}
	if _, err := ParseLoopKind(string(kind)); err != nil {
		return err
	}
	p.addLoops(kind, delta)
	return nil
}

// Finish stops the participant's timer at the current race elapsed time.
func (s *Session) Finish(id string) error {
	p, err := s.transition(id, StatusRunning, StatusFinished)
	if err != nil {
		return err
	}
	p.setFinish(s.clock.Elapsed())
	return nil
}

// Resume reverts a finish, clearing the recorded finish time.
func (s *Session) Resume(id string) error {
	p, err := s.transition(id, StatusFinished, StatusRunning)
	if err != nil {
		return err
	}
	p.FinishTime = nil
	return nil
}

// Complete marks data entry for a finished participant as done.
func (s *Session) Complete(id string) error {
	_, err := s.transition(id, StatusFinished, StatusCompleted)
	return err
}

// UndoComplete reopens a completed participant for editing.
func (s *Session) UndoComplete(id string) error {
	_, err := s.transition(id, StatusCompleted, StatusFinished)
	return err
}

// AdjustFinishTime nudges a finished participant's time, clamping at zero.
func (s *Session) AdjustFinishTime(id string, delta time.Duration) error {
	p, err := s.mutable(id)
	if err != nil {
		return err
	}
	current, ok := p.FinishElapsed()
	if p.Status != StatusFinished || !ok {
		return fmt.Errorf("%w: adjust time while %s", ErrInvalidTransition, p.Status)
	}
	p.setFinish(current + delta)
	return nil
}

// SetPromotion marks a guest for conversion into a roster profile on publish.
func (s *Session) SetPromotion(id string, promote bool, name string) error {
	p, err := s.mutable(id)
	if err != nil {
		return err
	}
	if !p.Guest {
		return fmt.Errorf("%w: %s", ErrNotGuest, id)
	}
	p.Promote = promote
	p.PromoteName = strings.TrimSpace(name)
	return nil
}

// PauseClock freezes the global clock.
func (s *Session) PauseClock() error {
	if s.phase != PhaseRunning {
		return fmt.Errorf("%w: pause during %s", ErrWrongPhase, s.phase)
	}
	s.clock.Pause()
	return nil
}

// ResumeClock restarts the global clock from its frozen value.
func (s *Session) ResumeClock() error {
	if s.phase != PhaseRunning {
		return fmt.Errorf("%w: resume during %s", ErrWrongPhase, s.phase)
	}
	s.clock.Resume()
	return nil
}

// CanEnd reports whether every participant is completed.
func (s *Session) CanEnd() bool {
	if s.phase != PhaseRunning || len(s.participants) == 0 {
		return false
	}
	for _, p := range s.participants {
		if p.Status != StatusCompleted {
			return false
		}
	}
	return true
}

// Pending counts participants that still block ending the race.
func (s *Session) Pending() int {
	n := 0
	for _, p := range s.participants {
		if p.Status != StatusCompleted {
			n++
		}
	}
	return n
}

// End stops the clock and moves the session into review.
func (s *Session) End() error {
	if s.phase != PhaseRunning {
		return fmt.Errorf("%w: end during %s", ErrWrongPhase, s.phase)
	}
	if !s.CanEnd() {
		return fmt.Errorf("%w: %d pending", ErrNotAllCompleted, s.Pending())
	}
	s.clock.Pause()
	elapsed := s.clock.Elapsed()
	s.endElapsed = &elapsed
	s.phase = PhaseReview
	return nil
}

// BackToTracking returns from review to the running phase. The clock stays
// paused until the operator resumes it.
func (s *Session) BackToTracking() error {
	if s.phase != PhaseReview {
		return fmt.Errorf("%w: back to tracking during %s", ErrWrongPhase, s.phase)
	}
	s.endElapsed = nil
	s.phase = PhaseRunning
	return nil
}

// Reset discards everything and returns to an empty setup session.
func (s *Session) Reset() {
	s.runID = ""
	s.phase = PhaseSetup
	s.startedAt = time.Time{}
	s.endElapsed = nil
	s.clock.Reset()
	s.participants = nil
}

func (s *Session) find(id string) (*LiveParticipant, error) {
	for _, p := range s.participants {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownParticipant, id)
}

func (s *Session) mutable(id string) (*LiveParticipant, error) {
	if s.phase == PhaseSetup {
		return nil, fmt.Errorf("%w: race not started", ErrWrongPhase)
	}
	return s.find(id)
}

func (s *Session) transition(id string, from, to Status) (*LiveParticipant, error) {
	if s.phase != PhaseRunning {
		return nil, fmt.Errorf("%w: %s -> %s during %s", ErrWrongPhase, from, to, s.phase)
	}
	p, err := s.find(id)
	if err != nil {
		return nil, err
	}
	if p.Status != from {
		return nil, fmt.Errorf("%w: %s is %s, not %s", ErrInvalidTransition, id, p.Status, from)
	}
	p.Status = to
	return p, nil
}
