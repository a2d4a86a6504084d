// Package roster reads and writes participant profiles stored as one JSON
// document per runner in the content repository.
package roster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kingrea/looptrack/internal/contentstore"
	"github.com/kingrea/looptrack/internal/race"
)

// DefaultName is used for a new profile when no name was given.
const DefaultName = "New Runner"

// ErrInvalidID is returned for a profile whose id is empty or not a slug.
var ErrInvalidID = errors.New("roster: invalid participant id")

// StartingValues carries history from before the club kept records here.
type StartingValues struct {
	EventsAttended int     `json:"eventsAttended,omitempty"`
	TotalKm        float64 `json:"totalKm,omitempty"`
	AvgPace        string  `json:"avgPace,omitempty"`
}

// Participant is a registered runner.
type Participant struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Anonymous      bool            `json:"anonymous"`
	Photo          string          `json:"photo,omitempty"`
	ColorClass     string          `json:"colorClass,omitempty"`
	JoinedDate     string          `json:"joinedDate,omitempty"`
	StartingValues *StartingValues `json:"startingValues,omitempty"`
}

// Entrant converts the profile into a race entrant.
func (p Participant) Entrant() race.Entrant {
	return race.Entrant{ID: p.ID, RepoID: p.ID, Name: p.Name, Photo: p.Photo}
}

// NewParticipant builds a fresh, non-anonymous profile joined on the given day.
func NewParticipant(id, name string, joined time.Time) Participant {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultName
	}
	return Participant{ID: id, Name: name, JoinedDate: joined.Format(time.DateOnly)}
}

// Encode renders a profile the way it is stored: indented JSON with a
// trailing newline.
func Encode(p Participant) ([]byte, error) {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("roster: encode %s: %w", p.ID, err)
	}
	return append(data, '\n'), nil
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Slug lowercases name, collapses every run of other characters into a
// single hyphen and trims hyphens from both ends.
func Slug(name string) string {
	return strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(name), "-"), "-")
}

// Layout locates profiles and their photos in the repository.
type Layout struct {
	Dir          string
	PhotoDir     string
	PhotoRefBase string
}

// ProfilePath is the repository path of a profile document.
func (l Layout) ProfilePath(id string) string {
	return path.Join(l.Dir, id+".json")
}

// PhotoPath is the repository path of a profile photo.
func (l Layout) PhotoPath(id string) string {
	return path.Join(l.PhotoDir, id+".jpg")
}

// PhotoRef is the public reference stored in a profile's photo field.
func (l Layout) PhotoRef(id string) string {
	return path.Join(l.PhotoRefBase, id+".jpg")
}

// Logger receives lines about skipped profile documents.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// Provider lists and saves profiles.
type Provider struct {
	store  contentstore.Store
	layout Layout
	logger Logger
	now    func() time.Time
}

// Option customises a Provider.
type Option func(*Provider)

// WithLogger routes diagnostics to l.
func WithLogger(l Logger) Option {
	return func(p *Provider) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		if now != nil {
			p.now = now
		}
	}
}

// NewProvider wires a roster to the content store.
func NewProvider(store contentstore.Store, layout Layout, opts ...Option) *Provider {
	p := &Provider{store: store, layout: layout, logger: nopLogger{}, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Layout returns the repository layout in use.
func (p *Provider) Layout() Layout { return p.layout }

// List fetches every profile sorted by name. Files whose name starts with an
// underscore are templates and are skipped, as are documents that do not
// parse. An absent directory yields an empty roster.
func (p *Provider) List(ctx context.Context) ([]Participant, error) {
	entries, err := p.store.ListDir(ctx, p.layout.Dir)
	if err != nil {
		if errors.Is(err, contentstore.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("roster: list: %w", err)
	}

	var (
		mu  sync.Mutex
		out []Participant
	)
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(4)
	for _, entry := range entries {
		if entry.Dir || strings.HasPrefix(entry.Name, "_") || path.Ext(entry.Name) != ".json" {
			continue
		}
		entry := entry
		group.Go(func() error {
			file, err := p.store.GetFile(gctx, entry.Path)
			if err != nil {
				return fmt.Errorf("roster: read %s: %w", entry.Path, err)
			}
			var participant Participant
			if err := json.Unmarshal(file.Content, &participant); err != nil {
				p.logger.Printf("roster: skipping %s: %v", entry.Path, err)
				return nil
			}
			if participant.ID == "" {
				participant.ID = strings.TrimSuffix(entry.Name, ".json")
			}
			mu.Lock()
			out = append(out, participant)
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := strings.ToLower(out[i].Name), strings.ToLower(out[j].Name)
		if a != b {
			return a < b
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Get fetches one profile by id.
func (p *Provider) Get(ctx context.Context, id string) (Participant, error) {
	file, err := p.store.GetFile(ctx, p.layout.ProfilePath(id))
	if err != nil {
		return Participant{}, fmt.Errorf("roster: get %s: %w", id, err)
	}
	var participant Participant
	if err := json.Unmarshal(file.Content, &participant); err != nil {
		return Participant{}, fmt.Errorf("roster: decode %s: %w", id, err)
	}
	if participant.ID == "" {
		participant.ID = id
	}
	return participant, nil
}

// Save creates or updates a profile. When photo is non-empty it is uploaded
// first and the profile's photo field points at it.
func (p *Provider) Save(ctx context.Context, participant Participant, photo []byte) (Participant, error) {
	participant.ID = strings.TrimSpace(participant.ID)
	if participant.ID == "" || Slug(participant.ID) != participant.ID {
		return Participant{}, fmt.Errorf("%w: %q", ErrInvalidID, participant.ID)
	}
	if strings.TrimSpace(participant.Name) == "" {
		participant.Name = DefaultName
	}
	if participant.JoinedDate == "" {
		participant.JoinedDate = p.now().Format(time.DateOnly)
	}

	if len(photo) > 0 {
		photoPath := p.layout.PhotoPath(participant.ID)
		prior, err := contentstore.FileSHA(ctx, p.store, photoPath)
		if err != nil {
			return Participant{}, fmt.Errorf("roster: photo lookup: %w", err)
		}
		msg := fmt.Sprintf("feat(runners): photo for %s", participant.ID)
		if _, err := p.store.PutFile(ctx, photoPath, photo, msg, prior); err != nil {
			return Participant{}, fmt.Errorf("roster: upload photo: %w", err)
		}
		participant.Photo = p.layout.PhotoRef(participant.ID)
	}

	data, err := Encode(participant)
	if err != nil {
		return Participant{}, err
	}
	profilePath := p.layout.ProfilePath(participant.ID)
	prior, err := contentstore.FileSHA(ctx, p.store, profilePath)
	if err != nil {
		return Participant{}, fmt.Errorf("roster: profile lookup: %w", err)
	}
	verb := "add"
	if prior != "" {
		verb = "update"
	}
	msg := fmt.Sprintf("feat(runners): %s %s", verb, participant.Name)
	if _, err := p.store.PutFile(ctx, profilePath, data, msg, prior); err != nil {
		return Participant{}, fmt.Errorf("roster: save %s: %w", participant.ID, err)
	}
	p.logger.Printf("roster: %s profile %s", verb, participant.ID)
	return participant, nil
}
