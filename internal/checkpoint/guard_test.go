package checkpoint

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/kingrea/looptrack/internal/race"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 7, 8, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingLogger struct{ lines []string }

func (l *recordingLogger) Printf(format string, args ...any) {
	l.lines = append(l.lines, format)
}

var entrants = []race.Entrant{
	{ID: "alice", RepoID: "alice", Name: "Alice"},
	{ID: "bob", RepoID: "bob", Name: "Bob"},
}

func newGuard(t *testing.T, path string, clock *testClock, opts ...Option) *Guard {
	t.Helper()
	opts = append(opts, WithSessionOptions(race.WithClock(clock.Now)))
	g, err := NewGuard(NewFile(path), opts...)
	if err != nil {
		t.Fatalf("NewGuard: %v", err)
	}
	return g
}

func startRace(t *testing.T, g *Guard) {
	t.Helper()
	if err := g.Apply(func(s *race.Session) error { return s.Start(entrants, nil) }); err != nil {
		t.Fatalf("start: %v", err)
	}
}

func TestApplySavesOnlyOnceRaceStarted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	g := newGuard(t, path, newTestClock())

	if err := g.Apply(func(*race.Session) error { return nil }); err != nil {
		t.Fatalf("apply during setup: %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("setup phase should not write a checkpoint, stat err=%v", err)
	}

	startRace(t, g)
	snap, err := NewFile(path).Load()
	if err != nil {
		t.Fatalf("load after start: %v", err)
	}
	if snap.Phase != race.PhaseRunning || len(snap.Participants) != 2 || !snap.IsRunning {
		t.Fatalf("unexpected checkpoint: %+v", snap)
	}
}

func TestApplyErrorSkipsSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	g := newGuard(t, path, newTestClock())
	startRace(t, g)
	before, _ := os.ReadFile(path)

	err := g.Apply(func(s *race.Session) error { return s.Complete("alice") })
	if !errors.Is(err, race.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	after, _ := os.ReadFile(path)
	if string(before) != string(after) {
		t.Fatalf("checkpoint changed after a rejected mutation")
	}
}

func TestRestoreRunningAdvancesClock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	clock := newTestClock()
	g := newGuard(t, path, clock)
	startRace(t, g)
	clock.Advance(10 * time.Second)
	if err := g.Apply(func(s *race.Session) error { return s.AdjustLoops("alice", race.LoopSmall, 1) }); err != nil {
		t.Fatal(err)
	}

	clock.Advance(30 * time.Second)
	restored := newGuard(t, path, clock)
	rec := restored.Restore()
	if !rec.Recovered || rec.Phase != race.PhaseRunning || rec.Participants != 2 {
		t.Fatalf("unexpected recovery: %+v", rec)
	}
	if rec.Elapsed != 40*time.Second {
		t.Fatalf("elapsed = %s, want 40s", rec.Elapsed)
	}
	restored.Read(func(s *race.Session) {
		if !s.ClockRunning() {
			t.Fatalf("running checkpoint should restore a running clock")
		}
		p, _ := s.Participant("alice")
		if p.SmallLoops != 1 {
			t.Fatalf("loops not restored: %+v", p)
		}
	})
}

func TestRestoreReviewIsFrozen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	clock := newTestClock()
	g := newGuard(t, path, clock)
	startRace(t, g)
	clock.Advance(25 * time.Minute)
	err := g.Apply(func(s *race.Session) error {
		for _, id := range []string{"alice", "bob"} {
			if err := s.Finish(id); err != nil {
				return err
			}
			if err := s.Complete(id); err != nil {
				return err
			}
		}
		return s.End()
	})
	if err != nil {
		t.Fatalf("end race: %v", err)
	}

	clock.Advance(2 * time.Hour)
	restored := newGuard(t, path, clock)
	rec := restored.Restore()
	if rec.Phase != race.PhaseReview || rec.Elapsed != 25*time.Minute {
		t.Fatalf("unexpected recovery: %+v", rec)
	}
	restored.Read(func(s *race.Session) {
		if s.ClockRunning() {
			t.Fatalf("review must never resume the clock")
		}
	})
}

func TestRestoreDiscardsCorruptCheckpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	if err := os.WriteFile(path, []byte(`{"version":1,"phase":"runn`), 0o644); err != nil {
		t.Fatal(err)
	}
	logger := &recordingLogger{}
	g := newGuard(t, path, newTestClock(), WithLogger(logger))

	rec := g.Restore()
	if rec.Recovered || !rec.Discarded || rec.Phase != race.PhaseSetup {
		t.Fatalf("unexpected recovery: %+v", rec)
	}
	if len(logger.lines) == 0 {
		t.Fatalf("corruption should be logged")
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("corrupt checkpoint should be removed")
	}
}

func TestRestoreDiscardsInvalidCheckpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	if err := os.WriteFile(path, []byte(`{"version":1,"phase":"setup","startTime":1,"savedAt":1}`), 0o644); err != nil {
		t.Fatal(err)
	}
	g := newGuard(t, path, newTestClock())
	if rec := g.Restore(); !rec.Discarded {
		t.Fatalf("setup-phase checkpoint should be discarded: %+v", rec)
	}
}

func TestRestoreWithoutCheckpointIsFresh(t *testing.T) {
	g := newGuard(t, filepath.Join(t.TempDir(), "session.json"), newTestClock())
	rec := g.Restore()
	if rec.Recovered || rec.Discarded || rec.Phase != race.PhaseSetup {
		t.Fatalf("unexpected recovery: %+v", rec)
	}
}

func TestDiscardRemovesCheckpointAndResets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	g := newGuard(t, path, newTestClock())
	startRace(t, g)

	if err := g.Discard(); err != nil {
		t.Fatalf("discard: %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("checkpoint still present")
	}
	if snap := g.Snapshot(); snap.Phase != race.PhaseSetup || len(snap.Participants) != 0 {
		t.Fatalf("session not reset: %+v", snap)
	}
}

type failingStore struct{ *File }

func (failingStore) Save(race.Snapshot) error { return errors.New("disk full") }

func TestSaveFailureIsReported(t *testing.T) {
	clock := newTestClock()
	store := failingStore{NewFile(filepath.Join(t.TempDir(), "session.json"))}
	g, err := NewGuard(store, WithSessionOptions(race.WithClock(clock.Now)))
	if err != nil {
		t.Fatal(err)
	}
	err = g.Apply(func(s *race.Session) error { return s.Start(entrants, nil) })
	if err == nil {
		t.Fatalf("expected save error")
	}
	if g.Snapshot().Phase != race.PhaseRunning {
		t.Fatalf("mutation should stand even when the save fails")
	}
}

func TestSnapshotIsSafeAlongsideApply(t *testing.T) {
	clock := newTestClock()
	g := newGuard(t, filepath.Join(t.TempDir(), "session.json"), clock)
	startRace(t, g)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			_ = g.Snapshot()
		}
	}()
	for i := 0; i < 50; i++ {
		if err := g.Apply(func(s *race.Session) error { return s.AdjustLoops("bob", race.LoopLong, 1) }); err != nil {
			t.Fatal(err)
		}
	}
	wg.Wait()
	if got := g.Snapshot().Participants[1].LongLoops; got != 50 {
		t.Fatalf("long loops = %d, want 50", got)
	}
}

func TestObserverSeesAppliedChangesOnly(t *testing.T) {
	var seen []race.Phase
	g := newGuard(t, filepath.Join(t.TempDir(), "session.json"), newTestClock(),
		WithObserver(func(snap race.Snapshot) { seen = append(seen, snap.Phase) }))

	startRace(t, g)
	_ = g.Apply(func(s *race.Session) error { return s.Complete("alice") })
	if err := g.Discard(); err != nil {
		t.Fatal(err)
	}

	want := []race.Phase{race.PhaseRunning, race.PhaseSetup}
	if len(seen) != len(want) {
		t.Fatalf("observed %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("observed %v, want %v", seen, want)
		}
	}
}

// flakyStore wraps a File and fails Load or Clear on demand.
type flakyStore struct {
	*File
	loadErr  error
	clearErr error
	cleared  int
}

func (s *flakyStore) Load() (race.Snapshot, error) {
	if s.loadErr != nil {
		return race.Snapshot{}, s.loadErr
	}
	return s.File.Load()
}

func (s *flakyStore) Clear() error {
	if s.clearErr != nil {
		return s.clearErr
	}
	s.cleared++
	return s.File.Clear()
}

func TestRestoreReadErrorKeepsCheckpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	clock := newTestClock()
	startRace(t, newGuard(t, path, clock))
	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	store := &flakyStore{File: NewFile(path), loadErr: errors.New("read: input/output error")}
	g, err := NewGuard(store, WithSessionOptions(race.WithClock(clock.Now)))
	if err != nil {
		t.Fatal(err)
	}
	rec := g.Restore()
	if rec.Discarded || !rec.Unreadable || rec.Err == nil || rec.Phase != race.PhaseSetup {
		t.Fatalf("unexpected recovery: %+v", rec)
	}
	if store.cleared != 0 {
		t.Fatalf("an unreadable checkpoint must not be cleared")
	}

	err = g.Apply(func(s *race.Session) error { return s.Start(entrants, nil) })
	if !errors.Is(err, ErrCheckpointHeld) {
		t.Fatalf("expected held checkpoint, got %v", err)
	}
	if g.Snapshot().Phase != race.PhaseSetup {
		t.Fatalf("a held checkpoint must block the mutation")
	}
	after, _ := os.ReadFile(path)
	if string(before) != string(after) {
		t.Fatalf("held checkpoint was overwritten")
	}

	store.loadErr = nil
	if rec := g.Restore(); !rec.Recovered || g.Held() != nil {
		t.Fatalf("retrying the read should recover the race: %+v", rec)
	}
}

func TestReleaseAllowsOverwritingHeldCheckpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	clock := newTestClock()
	store := &flakyStore{File: NewFile(path), loadErr: errors.New("permission denied")}
	g, err := NewGuard(store, WithSessionOptions(race.WithClock(clock.Now)))
	if err != nil {
		t.Fatal(err)
	}
	g.Restore()
	g.Release()
	startRace(t, g)
	if _, err := NewFile(path).Load(); err != nil {
		t.Fatalf("released guard should save: %v", err)
	}
}

func TestDiscardKeepsSessionWhenClearFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	clock := newTestClock()
	store := &flakyStore{File: NewFile(path)}
	g, err := NewGuard(store, WithSessionOptions(race.WithClock(clock.Now)))
	if err != nil {
		t.Fatal(err)
	}
	startRace(t, g)

	store.clearErr = errors.New("read-only file system")
	if err := g.Discard(); err == nil {
		t.Fatalf("expected discard error")
	}
	if snap := g.Snapshot(); snap.Phase != race.PhaseRunning || len(snap.Participants) != 2 {
		t.Fatalf("session must survive a failed discard: %+v", snap)
	}

	store.clearErr = nil
	if err := g.Discard(); err != nil {
		t.Fatalf("retry discard: %v", err)
	}
	if g.Snapshot().Phase != race.PhaseSetup {
		t.Fatalf("session not reset after retry")
	}
}
