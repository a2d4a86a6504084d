package livefeed

import (
	"time"

	"github.com/kingrea/looptrack/internal/race"
)

// SessionView is the public shape of /v1/session.
type SessionView struct {
	RunID        string            `json:"runId,omitempty"`
	Phase        race.Phase        `json:"phase"`
	ClockRunning bool              `json:"clockRunning"`
	ElapsedMs    int64             `json:"elapsedMs"`
	Elapsed      string            `json:"elapsed"`
	Pending      int               `json:"pending"`
	Participants []ParticipantView `json:"participants"`
}

// ParticipantView is one row of the live board.
type ParticipantView struct {
	Name        string      `json:"name"`
	Guest       bool        `json:"guest,omitempty"`
	Status      race.Status `json:"status"`
	SmallLoops  int         `json:"smallLoops"`
	MediumLoops int         `json:"mediumLoops"`
	LongLoops   int         `json:"longLoops"`
	DistanceKm  float64     `json:"distanceKm"`
	Time        string      `json:"time"`
}

// View renders a checkpoint snapshot for spectators. Tracking ids are
// left out; names are what the board shows.
func View(snap race.Snapshot, course race.Course) SessionView {
	elapsed := time.Duration(snap.ElapsedTime) * time.Millisecond
	view := SessionView{
		RunID:        snap.RunID,
		Phase:        snap.Phase,
		ClockRunning: snap.IsRunning,
		ElapsedMs:    snap.ElapsedTime,
		Elapsed:      race.FormatClock(elapsed),
		Participants: []ParticipantView{},
	}
	if view.Phase == "" {
		view.Phase = race.PhaseSetup
	}
	for _, p := range race.DisplayOrder(snap.Participants) {
		if p.Status != race.StatusCompleted {
			view.Pending++
		}
		view.Participants = append(view.Participants, ParticipantView{
			Name:        p.DisplayName(),
			Guest:       p.Guest,
			Status:      p.Status,
			SmallLoops:  p.SmallLoops,
			MediumLoops: p.MediumLoops,
			LongLoops:   p.LongLoops,
			DistanceKm:  race.Kilometres(course.ParticipantDistance(p)),
			Time:        race.FormatFinishTime(p.Elapsed(elapsed)),
		})
	}
	return view
}
