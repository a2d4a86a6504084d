package livefeed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/looptrack/internal/race"
)

func receive(t *testing.T, sub Subscription) Update {
	t.Helper()
	select {
	case u, ok := <-sub.Updates:
		require.True(t, ok, "subscription closed")
		return u
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for update")
	}
	return Update{}
}

func TestHubReplaysLatestToNewSubscriber(t *testing.T) {
	hub := NewHub(race.DefaultCourse)
	hub.Observe(sampleSnapshot())

	sub := hub.Subscribe()
	defer sub.Close()
	u := receive(t, sub)
	assert.Equal(t, int64(1), u.Seq)
	assert.Equal(t, KindPhase, u.Kind)
	assert.Equal(t, "run-1", u.Session.RunID)
}

func TestHubMarksPhaseChanges(t *testing.T) {
	hub := NewHub(race.DefaultCourse)
	sub := hub.Subscribe()
	defer sub.Close()

	snap := sampleSnapshot()
	hub.Observe(snap)
	snap.Participants[0].SmallLoops = 2
	hub.Observe(snap)
	snap.Phase = race.PhaseReview
	snap.IsRunning = false
	hub.Observe(snap)

	assert.Equal(t, KindPhase, receive(t, sub).Kind)
	assert.Equal(t, KindUpdate, receive(t, sub).Kind)
	last := receive(t, sub)
	assert.Equal(t, KindPhase, last.Kind)
	assert.Equal(t, race.PhaseReview, last.Session.Phase)
}

func TestHubSlowSubscriberDropsRoutineUpdates(t *testing.T) {
	hub := NewHub(race.DefaultCourse, HubWithSubscriberCapacity(2))
	sub := hub.Subscribe()
	defer sub.Close()

	snap := sampleSnapshot()
	hub.Observe(snap)
	for i := 0; i < 5; i++ {
		snap.Participants[0].SmallLoops = i + 2
		hub.Observe(snap)
	}

	first := receive(t, sub)
	second := receive(t, sub)
	assert.Equal(t, KindPhase, first.Kind, "phase change must survive overflow")
	assert.Equal(t, int64(1), first.Seq)
	assert.Equal(t, int64(6), second.Seq, "newest routine update wins")
}

func TestHubCloseUnsubscribes(t *testing.T) {
	hub := NewHub(race.DefaultCourse)
	sub := hub.Subscribe()
	require.Equal(t, 1, hub.Subscribers())

	sub.Close()
	sub.Close()
	assert.Equal(t, 0, hub.Subscribers())
	_, ok := <-sub.Updates
	assert.False(t, ok)
	hub.Observe(sampleSnapshot())
}

func TestHubDropsPhaseUpdatesOnlyAsLastResort(t *testing.T) {
	hub := NewHub(race.DefaultCourse, HubWithSubscriberCapacity(2))
	sub := hub.Subscribe()
	defer sub.Close()

	snap := sampleSnapshot()
	for _, phase := range []race.Phase{race.PhaseRunning, race.PhaseReview, race.PhaseRunning} {
		snap.Phase = phase
		hub.Observe(snap)
	}

	first := receive(t, sub)
	second := receive(t, sub)
	assert.Equal(t, KindPhase, first.Kind)
	assert.Equal(t, KindPhase, second.Kind)
	assert.Equal(t, []int64{2, 3}, []int64{first.Seq, second.Seq}, "oldest phase update goes first")
}

func TestHubKeepsSequenceOrderUnderConcurrentObserve(t *testing.T) {
	hub := NewHub(race.DefaultCourse, HubWithSubscriberCapacity(512))
	hub.Observe(sampleSnapshot())

	done := make(chan struct{})
	go func() {
		defer close(done)
		snap := sampleSnapshot()
		for i := 0; i < 200; i++ {
			snap.Participants[0].SmallLoops = i
			hub.Observe(snap)
		}
	}()
	sub := hub.Subscribe()
	defer sub.Close()
	<-done

	var last int64
	for {
		select {
		case u := <-sub.Updates:
			require.Greater(t, u.Seq, last, "updates out of order")
			last = u.Seq
			if last == 201 {
				return
			}
		case <-time.After(time.Second):
			t.Fatalf("stream stalled at seq %d", last)
		}
	}
}
