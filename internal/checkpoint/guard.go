// Package checkpoint keeps the in-progress race recoverable. Every mutation
// made through a Guard while the race is running or in review is followed by
// a checkpoint write, and a new process restores the race from that
// checkpoint on start.
//
// One process owns the checkpoint. Two processes pointed at the same file
// overwrite each other with the last write winning.
package checkpoint

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kingrea/looptrack/internal/race"
)

// Logger receives diagnostics about discarded checkpoints and failed writes.
type Logger interface {
	Printf(format string, args ...any)
}

// ErrCheckpointHeld is returned by Apply and Save while a checkpoint that
// could not be read is still on disk. Release or Discard lifts it.
var ErrCheckpointHeld = errors.New("checkpoint: saved race could not be read and is kept on disk")

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// Recovery describes what Restore found.
type Recovery struct {
	// Recovered is true when a race was resumed from disk.
	Recovered bool
	// Discarded is true when a checkpoint was corrupt or invalid and was removed.
	Discarded bool
	// Unreadable is true when the checkpoint could not be read. The file is
	// left in place and saves are held until Release or Discard.
	Unreadable   bool
	Err          error
	Phase        race.Phase
	Participants int
	Elapsed      time.Duration
}

// Guard owns the session and writes a checkpoint after each mutation.
type Guard struct {
	mu       sync.RWMutex
	session  *race.Session
	store    Store
	logger   Logger
	sessOpts []race.Option
	observe  func(race.Snapshot)
	held     error
}

// Option customises a Guard.
type Option func(*Guard)

// WithLogger routes diagnostics to l.
func WithLogger(l Logger) Option {
	return func(g *Guard) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithObserver calls fn with a snapshot after every applied mutation, restore
// and discard. fn runs under the guard's lock and must not block or call back
// into the guard.
func WithObserver(fn func(race.Snapshot)) Option {
	return func(g *Guard) {
		g.observe = fn
	}
}

// WithSessionOptions forwards options to every session the guard creates.
func WithSessionOptions(opts ...race.Option) Option {
	return func(g *Guard) {
		g.sessOpts = append(g.sessOpts, opts...)
	}
}

// NewGuard wraps a fresh setup session. Call Restore to pick up a checkpoint.
func NewGuard(store Store, opts ...Option) (*Guard, error) {
	if store == nil {
		return nil, fmt.Errorf("checkpoint: store is required")
	}
	g := &Guard{store: store, logger: nopLogger{}}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	g.session = race.NewSession(g.sessOpts...)
	return g, nil
}

// Restore replaces the session with the checkpointed one when a usable
// checkpoint exists. It never fails: a missing, corrupt or invalid
// checkpoint leaves a fresh session in place, and the bad file is removed.
// A checkpoint that cannot be read is kept and saves are held.
func (g *Guard) Restore() Recovery {
	g.mu.Lock()
	defer g.mu.Unlock()

	snap, err := g.store.Load()
	switch {
	case errors.Is(err, ErrNotFound):
		g.held = nil
		restoreCounter.WithLabelValues("fresh").Inc()
		return Recovery{Phase: race.PhaseSetup}
	case errors.Is(err, ErrCorrupt):
		return g.discard(err)
	case err != nil:
		return g.hold(err)
	}
	session, err := race.Restore(snap, g.sessOpts...)
	if err != nil {
		return g.discard(err)
	}
	g.held = nil
	g.session = session
	g.notifyLocked()
	restoreCounter.WithLabelValues("recovered").Inc()
	g.logger.Printf("checkpoint: resumed run %s in %s with %d participants", session.RunID(), session.Phase(), session.Len())
	return Recovery{
		Recovered:    true,
		Phase:        session.Phase(),
		Participants: session.Len(),
		Elapsed:      session.Elapsed(),
	}
}

func (g *Guard) discard(cause error) Recovery {
	restoreCounter.WithLabelValues("discarded").Inc()
	g.logger.Printf("checkpoint: starting fresh, unusable checkpoint: %v", cause)
	if err := g.store.Clear(); err != nil {
		g.logger.Printf("checkpoint: clear unusable checkpoint: %v", err)
	}
	g.held = nil
	g.session = race.NewSession(g.sessOpts...)
	return Recovery{Discarded: true, Phase: race.PhaseSetup}
}

// hold starts a fresh session without touching the file, which may still
// hold a good race behind a transient read error.
func (g *Guard) hold(cause error) Recovery {
	restoreCounter.WithLabelValues("unreadable").Inc()
	g.logger.Printf("checkpoint: could not read checkpoint, leaving it on disk: %v", cause)
	g.held = cause
	g.session = race.NewSession(g.sessOpts...)
	return Recovery{Unreadable: true, Err: cause, Phase: race.PhaseSetup}
}

// Held reports the read error keeping saves blocked, or nil.
func (g *Guard) Held() error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.held
}

// Release lets the next save overwrite a checkpoint that could not be read.
func (g *Guard) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held != nil {
		g.logger.Printf("checkpoint: unreadable checkpoint released for overwrite")
	}
	g.held = nil
}

// Apply runs fn against the session and then checkpoints it if the race is
// running or in review. An error from fn is returned without saving; fn
// must leave the session unchanged when it fails. A save error is returned
// after the in-memory mutation has taken effect. While a checkpoint is held
// fn is not run.
func (g *Guard) Apply(fn func(*race.Session) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.heldErr(); err != nil {
		return err
	}
	if err := fn(g.session); err != nil {
		return err
	}
	defer g.notifyLocked()
	return g.saveLocked()
}

func (g *Guard) notifyLocked() {
	if g.observe != nil {
		g.observe(g.session.Snapshot())
	}
}

// Save forces a checkpoint of the current session.
func (g *Guard) Save() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.saveLocked()
}

func (g *Guard) heldErr() error {
	if g.held == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrCheckpointHeld, g.held)
}

func (g *Guard) saveLocked() error {
	if err := g.heldErr(); err != nil {
		return err
	}
	switch g.session.Phase() {
	case race.PhaseRunning, race.PhaseReview:
	default:
		return nil
	}
	start := time.Now()
	err := g.store.Save(g.session.Snapshot())
	saveDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		saveCounter.WithLabelValues("error").Inc()
		g.logger.Printf("checkpoint: save failed: %v", err)
		return fmt.Errorf("checkpoint: save: %w", err)
	}
	saveCounter.WithLabelValues("ok").Inc()
	return nil
}

// Read gives fn shared access to the session. fn must not mutate it.
func (g *Guard) Read(fn func(*race.Session)) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	fn(g.session)
}

// Snapshot returns a copy of the session state safe to hand to other goroutines.
func (g *Guard) Snapshot() race.Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.session.Snapshot()
}

// Discard deletes the checkpoint and then resets the session. It is used
// when a race is cancelled or has been published. If the checkpoint cannot
// be removed the session is left as it was so the caller can retry.
func (g *Guard) Discard() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.store.Clear(); err != nil {
		return fmt.Errorf("checkpoint: discard: %w", err)
	}
	g.held = nil
	g.session.Reset()
	g.notifyLocked()
	return nil
}
