package race

import (
	"errors"
	"fmt"
	"time"
)

// SnapshotVersion is the current checkpoint envelope version.
const SnapshotVersion = 1

// ErrInvalidSnapshot marks a checkpoint that cannot be restored.
var ErrInvalidSnapshot = errors.New("race: invalid snapshot")

// Snapshot is the recovery checkpoint of a session. Instants are unix
// milliseconds and durations are milliseconds.
type Snapshot struct {
	Version      int               `json:"version"`
	RunID        string            `json:"runId"`
	StartTime    int64             `json:"startTime"`
	ElapsedTime  int64             `json:"elapsedTime"`
	SavedAt      int64             `json:"savedAt"`
	Participants []LiveParticipant `json:"participants"`
	IsRunning    bool              `json:"isRunning"`
	Phase        Phase             `json:"phase"`
	FinishTime   *int64            `json:"finishTime,omitempty"`
}

// Snapshot captures the session for persistence.
func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		Version:      SnapshotVersion,
		RunID:        s.runID,
		ElapsedTime:  s.clock.Elapsed().Milliseconds(),
		SavedAt:      s.now().UnixMilli(),
		Participants: s.Participants(),
		IsRunning:    s.clock.Running(),
		Phase:        s.phase,
	}
	if !s.startedAt.IsZero() {
		snap.StartTime = s.startedAt.UnixMilli()
	}
	if s.endElapsed != nil {
		ms := s.endElapsed.Milliseconds()
		snap.FinishTime = &ms
	}
	return snap
}

// Validate checks the structural invariants a restorable checkpoint must hold.
func (snap Snapshot) Validate() error {
	if snap.Version != SnapshotVersion {
		return fmt.Errorf("%w: version %d", ErrInvalidSnapshot, snap.Version)
	}
	if snap.Phase != PhaseRunning && snap.Phase != PhaseReview {
		return fmt.Errorf("%w: phase %q", ErrInvalidSnapshot, snap.Phase)
	}
	if snap.StartTime <= 0 || snap.SavedAt <= 0 || snap.ElapsedTime < 0 {
		return fmt.Errorf("%w: bad timestamps", ErrInvalidSnapshot)
	}
	seen := make(map[string]struct{}, len(snap.Participants))
	for i, p := range snap.Participants {
		if p.ID == "" {
			return fmt.Errorf("%w: participant %d has no id", ErrInvalidSnapshot, i)
		}
		if _, ok := seen[p.ID]; ok {
			return fmt.Errorf("%w: duplicate participant %s", ErrInvalidSnapshot, p.ID)
		}
		seen[p.ID] = struct{}{}
		if !p.Status.valid() {
			return fmt.Errorf("%w: participant %s status %q", ErrInvalidSnapshot, p.ID, p.Status)
		}
		if p.SmallLoops < 0 || p.MediumLoops < 0 || p.LongLoops < 0 {
			return fmt.Errorf("%w: participant %s has negative loops", ErrInvalidSnapshot, p.ID)
		}
		if p.Status != StatusRunning && p.FinishTime == nil {
			return fmt.Errorf("%w: participant %s is %s without a finish time", ErrInvalidSnapshot, p.ID, p.Status)
		}
	}
	return nil
}

// Restore rebuilds a session from a checkpoint. A running clock keeps
// advancing across the gap since SavedAt; a paused clock or a review phase
// restores the frozen elapsed time exactly. Review never resumes the clock,
// even if the checkpoint claims it was running.
func Restore(snap Snapshot, opts ...Option) (*Session, error) {
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	s := NewSession(opts...)
	s.runID = snap.RunID
	s.phase = snap.Phase
	s.startedAt = time.UnixMilli(snap.StartTime)
	s.participants = make([]*LiveParticipant, 0, len(snap.Participants))
	for _, p := range snap.Participants {
		cp := p.clone()
		if cp.Guest {
			cp.RepoID = GuestRepoID
		}
		s.participants = append(s.participants, &cp)
	}
	elapsed := time.Duration(snap.ElapsedTime) * time.Millisecond
	running := snap.IsRunning && snap.Phase == PhaseRunning
	if running {
		if gap := s.now().Sub(time.UnixMilli(snap.SavedAt)); gap > 0 {
			elapsed += gap
		}
	}
	s.clock.set(elapsed, running)
	if snap.Phase == PhaseReview {
		end := elapsed
		if snap.FinishTime != nil {
			end = time.Duration(*snap.FinishTime) * time.Millisecond
		}
		s.endElapsed = &end
	}
	return s, nil
}
