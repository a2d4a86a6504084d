package publish

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kingrea/looptrack/internal/race"
	"github.com/kingrea/looptrack/internal/roster"
)

// isoMillis matches the timestamps the site already stores.
const isoMillis = "2006-01-02T15:04:05.000Z"

// Record is the published document for one race day.
type Record struct {
	Date         string        `json:"date"`
	MainPhoto    string        `json:"mainPhoto"`
	Title        string        `json:"title,omitempty"`
	Body         string        `json:"body,omitempty"`
	Participants []RecordEntry `json:"participants"`
}

// RecordEntry is one participant's published result.
type RecordEntry struct {
	Runner      string `json:"runner"`
	GuestName   string `json:"guestName,omitempty"`
	SmallLoops  int    `json:"smallLoops"`
	MediumLoops int    `json:"mediumLoops"`
	LongLoops   int    `json:"longLoops"`
	Time        string `json:"time"`
}

// Encode renders the record as stored: indented JSON with a trailing newline.
func (r Record) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("publish: encode record: %w", err)
	}
	return append(data, '\n'), nil
}

// DecodeRecord parses a stored record.
func DecodeRecord(data []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return Record{}, fmt.Errorf("publish: decode record: %w", err)
	}
	return r, nil
}

// DateKey is the per-day key used in every path a publish writes.
func DateKey(day time.Time) string {
	return day.Format(time.DateOnly)
}

// ProfileID derives the id of a new roster profile from a display name.
func ProfileID(name string) (string, error) {
	id := roster.Slug(name)
	if id == "" {
		return "", invalid(fmt.Sprintf("%q", name), ErrEmptyProfileID)
	}
	return id, nil
}

// PromotedName is the name a promoted guest's profile is created with:
// the operator's override, else the guest nickname, else a placeholder.
func PromotedName(p race.LiveParticipant) string {
	for _, candidate := range []string{p.PromoteName, p.Nickname, p.Name} {
		if c := strings.TrimSpace(candidate); c != "" {
			return c
		}
	}
	return roster.DefaultName
}

// buildEntries maps participants onto published identities: a promoted
// guest's new profile id, the shared guest id for other guests, or the
// registered id.
func buildEntries(participants []race.LiveParticipant, promoted map[string]string) ([]RecordEntry, error) {
	out := make([]RecordEntry, 0, len(participants))
	for _, p := range participants {
		finish, ok := p.FinishElapsed()
		if !ok {
			return nil, invalid(p.DisplayName(), ErrIncomplete)
		}
		entry := RecordEntry{
			SmallLoops:  p.SmallLoops,
			MediumLoops: p.MediumLoops,
			LongLoops:   p.LongLoops,
			Time:        race.FormatFinishTime(finish),
		}
		switch {
		case promoted[p.ID] != "":
			entry.Runner = promoted[p.ID]
		case p.Guest:
			entry.Runner = race.GuestRepoID
			entry.GuestName = p.DisplayName()
		default:
			entry.Runner = p.RepoID
		}
		out = append(out, entry)
	}
	return out, nil
}
