package race

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestRestoreRunningCheckpointKeepsTimeAdvancing(t *testing.T) {
	s, fc := newTestSession(t)
	fc.advance(12 * time.Minute)
	_ = s.Finish("alice")
	snap := s.Snapshot()
	if snap.ElapsedTime != (12 * time.Minute).Milliseconds() {
		t.Fatalf("snapshot elapsed = %d", snap.ElapsedTime)
	}

	fc.advance(3 * time.Minute)
	restored, err := Restore(snap, WithClock(fc.now))
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if got := restored.Elapsed(); got != 15*time.Minute {
		t.Fatalf("restored elapsed = %s, want 15m", got)
	}
	if !restored.ClockRunning() || restored.Phase() != PhaseRunning {
		t.Fatalf("expected running clock in running phase")
	}
	p, _ := restored.Participant("alice")
	if d, _ := p.FinishElapsed(); d != 12*time.Minute || p.Status != StatusFinished {
		t.Fatalf("restored participant = %+v", p)
	}
	if restored.RunID() != s.RunID() || !restored.StartedAt().Equal(s.StartedAt()) {
		t.Fatalf("run identity lost on restore")
	}
}

func TestRestorePausedCheckpointIsFrozen(t *testing.T) {
	s, fc := newTestSession(t)
	fc.advance(4 * time.Minute)
	_ = s.PauseClock()
	snap := s.Snapshot()
	fc.advance(time.Hour)
	restored, err := Restore(snap, WithClock(fc.now))
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.ClockRunning() || restored.Elapsed() != 4*time.Minute {
		t.Fatalf("paused restore: running=%v elapsed=%s", restored.ClockRunning(), restored.Elapsed())
	}
}

func TestRestoreReviewNeverResumesClock(t *testing.T) {
	s, fc := newTestSession(t)
	fc.advance(30*time.Minute + 250*time.Millisecond)
	for _, id := range []string{"alice", "bob"} {
		_ = s.Finish(id)
		_ = s.Complete(id)
	}
	if err := s.End(); err != nil {
		t.Fatalf("end: %v", err)
	}
	snap := s.Snapshot()
	snap.IsRunning = true // a stale flag must not override the review phase

	fc.advance(2 * time.Hour)
	restored, err := Restore(snap, WithClock(fc.now))
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.Phase() != PhaseReview || restored.ClockRunning() {
		t.Fatalf("review restore: phase=%s running=%v", restored.Phase(), restored.ClockRunning())
	}
	if got := restored.Elapsed(); got != 30*time.Minute+250*time.Millisecond {
		t.Fatalf("review elapsed drifted: %s", got)
	}
}

func TestSnapshotJSONShape(t *testing.T) {
	s, fc := newTestSession(t)
	fc.advance(time.Minute)
	data, err := json.Marshal(s.Snapshot())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"startTime", "elapsedTime", "savedAt", "participants", "isRunning", "phase"} {
		if _, ok := raw[key]; !ok {
			t.Fatalf("checkpoint JSON missing %q: %s", key, data)
		}
	}
	if _, ok := raw["finishTime"]; ok {
		t.Fatalf("finishTime must be omitted while running")
	}
}

func TestValidateRejectsBrokenSnapshots(t *testing.T) {
	s, _ := newTestSession(t)
	base := s.Snapshot()

	cases := map[string]func(*Snapshot){
		"setup phase":    func(sn *Snapshot) { sn.Phase = PhaseSetup },
		"wrong version":  func(sn *Snapshot) { sn.Version = 99 },
		"no start":       func(sn *Snapshot) { sn.StartTime = 0 },
		"negative loops": func(sn *Snapshot) { sn.Participants[0].SmallLoops = -1 },
		"bad status":     func(sn *Snapshot) { sn.Participants[0].Status = "lost" },
		"duplicate id":   func(sn *Snapshot) { sn.Participants[1].ID = sn.Participants[0].ID },
		"finished without time": func(sn *Snapshot) {
			sn.Participants[0].Status = StatusFinished
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			snap := base
			snap.Participants = append([]LiveParticipant(nil), base.Participants...)
			mutate(&snap)
			if _, err := Restore(snap); !errors.Is(err, ErrInvalidSnapshot) {
				t.Fatalf("expected ErrInvalidSnapshot, got %v", err)
			}
		})
	}
}
