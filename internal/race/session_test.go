package race

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func newTestSession(t *testing.T, entrants ...Entrant) (*Session, *fakeClock) {
	t.Helper()
	fc := newFakeClock()
	s := NewSession(WithClock(fc.now), WithRunIDs(func() string { return "run-1" }))
	if len(entrants) == 0 {
		entrants = []Entrant{
			{ID: "alice", RepoID: "alice", Name: "Alice"},
			{ID: "bob", RepoID: "bob", Name: "Bob"},
		}
	}
	if err := s.Start(entrants, nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	return s, fc
}

func TestStartEntersRunningPhase(t *testing.T) {
	s, fc := newTestSession(t)
	if s.Phase() != PhaseRunning {
		t.Fatalf("phase = %s, want running", s.Phase())
	}
	if s.RunID() != "run-1" {
		t.Fatalf("run id = %q", s.RunID())
	}
	if !s.StartedAt().Equal(fc.now()) {
		t.Fatalf("startedAt = %s, want %s", s.StartedAt(), fc.now())
	}
	for _, p := range s.Participants() {
		if p.Status != StatusRunning {
			t.Fatalf("%s status = %s, want running", p.ID, p.Status)
		}
		if p.StartTime != fc.now().UnixMilli() {
			t.Fatalf("%s start time = %d", p.ID, p.StartTime)
		}
	}
}

func TestStartRejectsEmptyAndDuplicates(t *testing.T) {
	s := NewSession()
	if err := s.Start(nil, nil); !errors.Is(err, ErrNoEntrants) {
		t.Fatalf("expected ErrNoEntrants, got %v", err)
	}
	dup := []Entrant{{ID: "a", Name: "A"}, {ID: "a", Name: "A again"}}
	if err := s.Start(dup, nil); !errors.Is(err, ErrDuplicateParticipant) {
		t.Fatalf("expected ErrDuplicateParticipant, got %v", err)
	}
	if s.Phase() != PhaseSetup {
		t.Fatalf("failed start must stay in setup, got %s", s.Phase())
	}
}

func TestDecrementNeverGoesNegative(t *testing.T) {
	s, _ := newTestSession(t)
	for start := 0; start < 5; start++ {
		for _, kind := range LoopKinds {
			s.Reset()
			if err := s.Start([]Entrant{{ID: "alice", RepoID: "alice", Name: "Alice"}}, nil); err != nil {
				t.Fatalf("start: %v", err)
			}
			if err := s.AdjustLoops("alice", kind, start); err != nil {
				t.Fatalf("increment: %v", err)
			}
			for i := 0; i < start+3; i++ {
				if err := s.AdjustLoops("alice", kind, -1); err != nil {
					t.Fatalf("decrement: %v", err)
				}
			}
			p, _ := s.Participant("alice")
			if got := p.Loops(kind); got != 0 {
				t.Fatalf("%s loops after over-decrement from %d = %d, want 0", kind, start, got)
			}
		}
	}
}

func TestFinishCapturesElapsedSinceSessionStart(t *testing.T) {
	s, fc := newTestSession(t)
	fc.advance(25 * time.Minute)
	if err := s.Finish("alice"); err != nil {
		t.Fatalf("finish: %v", err)
	}
	p, _ := s.Participant("alice")
	got, ok := p.FinishElapsed()
	if !ok || got != 25*time.Minute {
		t.Fatalf("finish time = %s (%v), want 25m", got, ok)
	}
	if got > s.Elapsed() {
		t.Fatalf("finish time %s exceeds race elapsed %s", got, s.Elapsed())
	}
}

func TestResumeClearsFinishTime(t *testing.T) {
	s, fc := newTestSession(t)
	sequences := [][]string{
		{"finish", "resume"},
		{"finish", "complete", "undo", "resume"},
		{"finish", "resume", "finish", "resume"},
	}
	for i, seq := range sequences {
		t.Run(fmt.Sprintf("seq-%d", i), func(t *testing.T) {
			for _, step := range seq {
				fc.advance(time.Second)
				var err error
				switch step {
				case "finish":
					err = s.Finish("bob")
				case "resume":
					err = s.Resume("bob")
				case "complete":
					err = s.Complete("bob")
				case "undo":
					err = s.UndoComplete("bob")
				}
				if err != nil {
					t.Fatalf("%s: %v", step, err)
				}
				p, _ := s.Participant("bob")
				switch step {
				case "resume":
					if p.FinishTime != nil {
						t.Fatalf("resume must clear finish time, got %d", *p.FinishTime)
					}
				case "finish":
					d, ok := p.FinishElapsed()
					if !ok || d < 0 || d > s.Elapsed() {
						t.Fatalf("finish time %s out of range [0,%s]", d, s.Elapsed())
					}
				}
			}
		})
	}
}

func TestInvalidTransitionsAreRejected(t *testing.T) {
	s, _ := newTestSession(t)
	if err := s.Complete("alice"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("running -> completed must fail, got %v", err)
	}
	if err := s.Resume("alice"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("running -> running must fail, got %v", err)
	}
	if err := s.UndoComplete("alice"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("undo from running must fail, got %v", err)
	}
	if err := s.Finish("nobody"); !errors.Is(err, ErrUnknownParticipant) {
		t.Fatalf("unknown id must fail, got %v", err)
	}
}

func TestCompleteKeepsFinishTime(t *testing.T) {
	s, fc := newTestSession(t)
	fc.advance(time.Minute)
	_ = s.Finish("alice")
	fc.advance(time.Minute)
	if err := s.Complete("alice"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := s.UndoComplete("alice"); err != nil {
		t.Fatalf("undo: %v", err)
	}
	p, _ := s.Participant("alice")
	if d, _ := p.FinishElapsed(); d != time.Minute {
		t.Fatalf("finish time = %s, want 1m", d)
	}
}

func TestAdjustFinishTimeOnlyWhileFinished(t *testing.T) {
	s, fc := newTestSession(t)
	if err := s.AdjustFinishTime("alice", FinishAdjustStep); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("adjust while running must fail, got %v", err)
	}
	fc.advance(3 * time.Second)
	_ = s.Finish("alice")
	if err := s.AdjustFinishTime("alice", -FinishAdjustStep); err != nil {
		t.Fatalf("adjust: %v", err)
	}
	p, _ := s.Participant("alice")
	if d, _ := p.FinishElapsed(); d != 0 {
		t.Fatalf("finish time should clamp at 0, got %s", d)
	}
	_ = s.AdjustFinishTime("alice", FinishAdjustStep)
	_ = s.AdjustFinishTime("alice", FinishAdjustStep)
	p, _ = s.Participant("alice")
	if d, _ := p.FinishElapsed(); d != 10*time.Second {
		t.Fatalf("finish time = %s, want 10s", d)
	}
}

func TestEndRequiresEveryoneCompleted(t *testing.T) {
	s, fc := newTestSession(t)
	if s.CanEnd() {
		t.Fatalf("cannot end with running participants")
	}
	if err := s.End(); !errors.Is(err, ErrNotAllCompleted) {
		t.Fatalf("expected ErrNotAllCompleted, got %v", err)
	}
	fc.advance(time.Minute)
	_ = s.Finish("alice")
	_ = s.Complete("alice")
	_ = s.Finish("bob")
	if s.CanEnd() {
		t.Fatalf("cannot end with a finished but unconfirmed participant")
	}
	_ = s.Complete("bob")
	if !s.CanEnd() {
		t.Fatalf("expected CanEnd once all completed")
	}
	if err := s.End(); err != nil {
		t.Fatalf("end: %v", err)
	}
	if s.Phase() != PhaseReview || s.ClockRunning() {
		t.Fatalf("end must pause the clock in review, phase=%s running=%v", s.Phase(), s.ClockRunning())
	}
	if err := s.BackToTracking(); err != nil {
		t.Fatalf("back to tracking: %v", err)
	}
	if s.Phase() != PhaseRunning || s.ClockRunning() {
		t.Fatalf("back to tracking keeps clock paused, phase=%s running=%v", s.Phase(), s.ClockRunning())
	}
}

func TestEmptySessionCannotEnd(t *testing.T) {
	s, _ := newTestSession(t)
	_ = s.Remove("alice")
	_ = s.Remove("bob")
	if s.CanEnd() {
		t.Fatalf("a session without participants cannot end")
	}
}

func TestAddLateAndRemove(t *testing.T) {
	s, fc := newTestSession(t)
	fc.advance(10 * time.Minute)
	guest := NewGuest("Dave")
	if err := s.AddLate(guest); err != nil {
		t.Fatalf("add late: %v", err)
	}
	if err := s.AddLate(guest); !errors.Is(err, ErrDuplicateParticipant) {
		t.Fatalf("re-adding the same id must fail, got %v", err)
	}
	p, ok := s.Participant(guest.ID)
	if !ok || p.Status != StatusRunning || p.RepoID != GuestRepoID {
		t.Fatalf("late guest = %+v", p)
	}
	if p.StartTime != fc.now().UnixMilli() {
		t.Fatalf("late start time = %d, want %d", p.StartTime, fc.now().UnixMilli())
	}
	fc.advance(5 * time.Minute)
	if got := p.ElapsedSinceJoin(s.StartedAt(), s.Elapsed()); got != 5*time.Minute {
		t.Fatalf("elapsed since join = %s, want 5m", got)
	}
	if err := s.Remove(guest.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok := s.Participant(guest.ID); ok {
		t.Fatalf("removed participant still present")
	}
	if err := s.Remove(guest.ID); !errors.Is(err, ErrUnknownParticipant) {
		t.Fatalf("second remove must fail, got %v", err)
	}
}

func TestTwoGuestsTrackedIndependently(t *testing.T) {
	g1, g2 := NewGuest("Dave"), NewGuest("Eve")
	s, _ := newTestSession(t, g1, g2)
	_ = s.AdjustLoops(g1.ID, LoopLong, 2)
	p1, _ := s.Participant(g1.ID)
	p2, _ := s.Participant(g2.ID)
	if p1.LongLoops != 2 || p2.LongLoops != 0 {
		t.Fatalf("guest state leaked: %d/%d", p1.LongLoops, p2.LongLoops)
	}
	if p1.RepoID != GuestRepoID || p2.RepoID != GuestRepoID {
		t.Fatalf("guests must publish as %q", GuestRepoID)
	}
}

func TestPromotionOnlyForGuests(t *testing.T) {
	g := NewGuest("Dave")
	s, _ := newTestSession(t, Entrant{ID: "alice", RepoID: "alice", Name: "Alice"}, g)
	if err := s.SetPromotion("alice", true, ""); !errors.Is(err, ErrNotGuest) {
		t.Fatalf("expected ErrNotGuest, got %v", err)
	}
	if err := s.SetPromotion(g.ID, true, "  Dave Smith "); err != nil {
		t.Fatalf("promote: %v", err)
	}
	p, _ := s.Participant(g.ID)
	if !p.Promote || p.PromoteName != "Dave Smith" {
		t.Fatalf("promotion not recorded: %+v", p)
	}
}

func TestPauseAffectsFinishTimes(t *testing.T) {
	s, fc := newTestSession(t)
	fc.advance(time.Minute)
	if err := s.PauseClock(); err != nil {
		t.Fatalf("pause: %v", err)
	}
	fc.advance(time.Hour)
	_ = s.Finish("alice")
	p, _ := s.Participant("alice")
	if d, _ := p.FinishElapsed(); d != time.Minute {
		t.Fatalf("finish while paused = %s, want 1m", d)
	}
	_ = s.ResumeClock()
	fc.advance(time.Minute)
	if s.Elapsed() != 2*time.Minute {
		t.Fatalf("elapsed = %s, want 2m", s.Elapsed())
	}
}

func TestGuestIDsAreUniqueInRapidSuccession(t *testing.T) {
	seen := map[string]struct{}{}
	for i := 0; i < 50; i++ {
		id := NewGuest(fmt.Sprintf("Guest %d", i)).ID
		if !IsGuestID(id) {
			t.Fatalf("id %q lacks guest prefix", id)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate guest id %q after %d guests", id, i)
		}
		seen[id] = struct{}{}
	}
}
