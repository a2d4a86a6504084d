package race

import (
	"strings"
	"time"

	"github.com/segmentio/ksuid"
)

// GuestRepoID is the shared identity every unpromoted guest publishes under.
const GuestRepoID = "guest"

const guestIDPrefix = "guest-"

// Status is the lifecycle state of a tracked participant.
type Status string

const (
	StatusRunning   Status = "running"
	StatusFinished  Status = "finished"
	StatusCompleted Status = "completed"
)

func (s Status) valid() bool {
	switch s {
	case StatusRunning, StatusFinished, StatusCompleted:
		return true
	}
	return false
}

// Entrant is someone selected to run before the race starts: a registered
// participant from the roster or a guest minted on the spot.
type Entrant struct {
	// ID is the tracking id, unique within the session.
	ID string
	// RepoID is the identity used when results are published.
	RepoID   string
	Name     string
	Nickname string
	Photo    string
	Guest    bool
}

// NewGuest mints a guest entrant with a fresh tracking id.
func NewGuest(nickname string) Entrant {
	nickname = strings.TrimSpace(nickname)
	return Entrant{
		ID:       NewGuestID(),
		RepoID:   GuestRepoID,
		Name:     nickname,
		Nickname: nickname,
		Guest:    true,
	}
}

// NewGuestID returns a tracking id for a guest. ksuid pairs a timestamp with
// 128 random bits, so guests added within the same millisecond stay distinct.
func NewGuestID() string {
	return guestIDPrefix + ksuid.New().String()
}

// IsGuestID reports whether a tracking id was minted by NewGuestID.
func IsGuestID(id string) bool {
	return strings.HasPrefix(id, guestIDPrefix)
}

// LiveParticipant is the in-race state of one entrant.
type LiveParticipant struct {
	ID          string `json:"id"`
	RepoID      string `json:"repoId"`
	Name        string `json:"name"`
	Nickname    string `json:"nickname,omitempty"`
	Photo       string `json:"photo,omitempty"`
	Guest       bool   `json:"guest,omitempty"`
	SmallLoops  int    `json:"smallLoops"`
	MediumLoops int    `json:"mediumLoops"`
	LongLoops   int    `json:"longLoops"`
	// StartTime is the unix millisecond instant the participant joined.
	StartTime int64 `json:"startTime"`
	// FinishTime is race elapsed milliseconds at the moment of finishing.
	FinishTime *int64 `json:"finishTime,omitempty"`
	Status     Status `json:"status"`
	// Promote asks the publisher to mint a roster profile for a guest.
	Promote     bool   `json:"convertToRunner,omitempty"`
	PromoteName string `json:"runnerNameOverride,omitempty"`
}

func newLiveParticipant(e Entrant, joined time.Time) *LiveParticipant {
	repoID := e.RepoID
	if e.Guest {
		repoID = GuestRepoID
	}
	return &LiveParticipant{
		ID:        e.ID,
		RepoID:    repoID,
		Name:      e.Name,
		Nickname:  e.Nickname,
		Photo:     e.Photo,
		Guest:     e.Guest,
		StartTime: joined.UnixMilli(),
		Status:    StatusRunning,
	}
}

// Loops returns the counter for a category.
func (p LiveParticipant) Loops(kind LoopKind) int {
	switch kind {
	case LoopSmall:
		return p.SmallLoops
	case LoopMedium:
		return p.MediumLoops
	case LoopLong:
		return p.LongLoops
	}
	return 0
}

// TotalLoops sums all three counters.
func (p LiveParticipant) TotalLoops() int {
	return p.SmallLoops + p.MediumLoops + p.LongLoops
}

// FinishElapsed returns the recorded finish time, if any.
func (p LiveParticipant) FinishElapsed() (time.Duration, bool) {
	if p.FinishTime == nil {
		return 0, false
	}
	return time.Duration(*p.FinishTime) * time.Millisecond, true
}

// Elapsed is the time shown for the participant: the finish time once
// recorded, otherwise the live race time.
func (p LiveParticipant) Elapsed(raceElapsed time.Duration) time.Duration {
	if p.Status != StatusRunning {
		if d, ok := p.FinishElapsed(); ok {
			return d
		}
	}
	return raceElapsed
}

// ElapsedSinceJoin offsets Elapsed by how late the participant joined.
func (p LiveParticipant) ElapsedSinceJoin(raceStart time.Time, raceElapsed time.Duration) time.Duration {
	offset := time.UnixMilli(p.StartTime).Sub(raceStart)
	if offset < 0 {
		offset = 0
	}
	d := p.Elapsed(raceElapsed) - offset
	if d < 0 {
		return 0
	}
	return d
}

// DisplayName prefers the guest nickname.
func (p LiveParticipant) DisplayName() string {
	if p.Nickname != "" {
		return p.Nickname
	}
	return p.Name
}

func (p *LiveParticipant) addLoops(kind LoopKind, delta int) {
	var counter *int
	switch kind {
	case LoopSmall:
		counter = &p.SmallLoops
	case LoopMedium:
		counter = &p.MediumLoops
	case LoopLong:
		counter = &p.LongLoops
	default:
		return
	}
	*counter = max(0, *counter+delta)
}

func (p *LiveParticipant) setFinish(d time.Duration) {
	if d < 0 {
		d = 0
	}
	ms := d.Milliseconds()
	p.FinishTime = &ms
}

func (p LiveParticipant) clone() LiveParticipant {
	out := p
	if p.FinishTime != nil {
		ms := *p.FinishTime
		out.FinishTime = &ms
	}
	return out
}
