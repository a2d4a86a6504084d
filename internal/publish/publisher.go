// Package publish turns a finished race into one commit on the content
// repository: the race photo, the day's record and a profile for every
// promoted guest land together or not at all.
//
// The contents API changes one file per commit, so the publisher builds the
// commit from git objects instead. Blobs, the tree and the commit are
// unreferenced until the final branch update, which is the only step other
// readers can observe. A failure at any step leaves the branch where it was
// and the whole publish can be run again.
package publish

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kingrea/looptrack/internal/contentstore"
	"github.com/kingrea/looptrack/internal/race"
	"github.com/kingrea/looptrack/internal/roster"
)

// Request is everything needed to publish one race day.
type Request struct {
	Date time.Time
	// Photo is the new race photo. When empty, PhotoRef must carry the
	// reference of a photo published earlier for the same day.
	Photo        []byte
	PhotoRef     string
	Title        string
	Body         string
	Participants []race.LiveParticipant
}

// Result describes a successful publish.
type Result struct {
	Commit      string
	Parent      string
	Record      Record
	Paths       []string
	NewProfiles []roster.Participant
	Republished bool
}

// Layout locates published documents in the repository.
type Layout struct {
	RecordDir    string
	PhotoDir     string
	PhotoRefBase string
	Roster       roster.Layout
}

// RecordPath is the path of the record for a day.
func (l Layout) RecordPath(day time.Time) string {
	return path.Join(l.RecordDir, DateKey(day)+".json")
}

// PhotoPath is the path of the race photo for a day.
func (l Layout) PhotoPath(day time.Time) string {
	return path.Join(l.PhotoDir, DateKey(day)+".jpg")
}

// PhotoRef is the public reference stored as a record's mainPhoto.
func (l Layout) PhotoRef(day time.Time) string {
	return path.Join(l.PhotoRefBase, DateKey(day)+".jpg")
}

// Logger receives progress lines.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// Publisher runs the publish protocol against a content store.
type Publisher struct {
	store  contentstore.Store
	layout Layout
	logger Logger
	now    func() time.Time
}

// Option customises a Publisher.
type Option func(*Publisher)

// WithLogger routes progress lines to l.
func WithLogger(l Logger) Option {
	return func(p *Publisher) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(now func() time.Time) Option {
	return func(p *Publisher) {
		if now != nil {
			p.now = now
		}
	}
}

// New wires a publisher to a store.
func New(store contentstore.Store, layout Layout, opts ...Option) (*Publisher, error) {
	if store == nil {
		return nil, fmt.Errorf("publish: content store is required")
	}
	p := &Publisher{store: store, layout: layout, logger: nopLogger{}, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

// Layout returns the repository layout in use.
func (p *Publisher) Layout() Layout { return p.layout }

type file struct {
	path    string
	content []byte
	enc     contentstore.Encoding
}

type plan struct {
	files    []file
	record   Record
	profiles []roster.Participant
	reuse    bool
}

// Publish validates the request and commits it. Validation failures return
// a *ValidationError before any object is written; store failures return an
// *Error that matches ErrPublishFailed.
func (p *Publisher) Publish(ctx context.Context, req Request) (Result, error) {
	pl, err := p.plan(req)
	if err != nil {
		attemptCounter.WithLabelValues("invalid").Inc()
		return Result{}, err
	}
	start := time.Now()
	res, err := p.commit(ctx, req, pl)
	publishDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		attemptCounter.WithLabelValues(outcome(err)).Inc()
		var stepErr *Error
		if errors.As(err, &stepErr) {
			failedStepCounter.WithLabelValues(stepErr.Step).Inc()
		}
		p.logger.Printf("publish %s: %v", DateKey(req.Date), err)
		return Result{}, err
	}
	attemptCounter.WithLabelValues("ok").Inc()
	filesHistogram.Observe(float64(len(res.Paths)))
	p.logger.Printf("publish %s: commit %s (%d files)", DateKey(req.Date), res.Commit, len(res.Paths))
	return res, nil
}

func outcome(err error) string {
	var v *ValidationError
	if errors.As(err, &v) {
		return "invalid"
	}
	return "failed"
}

// plan checks the request and renders every file without touching the store.
func (p *Publisher) plan(req Request) (plan, error) {
	if req.Date.IsZero() {
		return plan{}, invalid("", ErrMissingRaceDate)
	}
	if len(req.Participants) == 0 {
		return plan{}, invalid("", ErrNoParticipants)
	}
	for _, lp := range req.Participants {
		if lp.Status != race.StatusCompleted {
			return plan{}, invalid(lp.DisplayName(), ErrIncomplete)
		}
	}
	reuse := len(req.Photo) == 0
	if reuse && strings.TrimSpace(req.PhotoRef) == "" {
		return plan{}, invalid("", ErrMissingPhoto)
	}

	promoted := map[string]string{}
	byID := map[string]string{}
	var profiles []roster.Participant
	for _, lp := range req.Participants {
		if !lp.Guest || !lp.Promote {
			continue
		}
		name := PromotedName(lp)
		id, err := ProfileID(name)
		if err != nil {
			return plan{}, err
		}
		if other, ok := byID[id]; ok {
			return plan{}, invalid(fmt.Sprintf("%s and %s", other, name), ErrDuplicateID)
		}
		byID[id] = name
		promoted[lp.ID] = id
		profiles = append(profiles, roster.NewParticipant(id, name, p.now()))
	}

	entries, err := buildEntries(req.Participants, promoted)
	if err != nil {
		return plan{}, err
	}
	record := Record{
		Date:         req.Date.UTC().Format(isoMillis),
		MainPhoto:    strings.TrimSpace(req.PhotoRef),
		Title:        strings.TrimSpace(req.Title),
		Body:         strings.TrimSpace(req.Body),
		Participants: entries,
	}

	var files []file
	if !reuse {
		record.MainPhoto = p.layout.PhotoRef(req.Date)
		files = append(files, file{path: p.layout.PhotoPath(req.Date), content: req.Photo, enc: contentstore.EncodingBase64})
	}
	for _, profile := range profiles {
		data, err := roster.Encode(profile)
		if err != nil {
			return plan{}, err
		}
		files = append(files, file{path: p.layout.Roster.ProfilePath(profile.ID), content: data, enc: contentstore.EncodingUTF8})
	}
	data, err := record.Encode()
	if err != nil {
		return plan{}, err
	}
	files = append(files, file{path: p.layout.RecordPath(req.Date), content: data, enc: contentstore.EncodingUTF8})

	return plan{files: files, record: record, profiles: profiles, reuse: reuse}, nil
}

func (p *Publisher) commit(ctx context.Context, req Request, pl plan) (Result, error) {
	for _, profile := range pl.profiles {
		sha, err := contentstore.FileSHA(ctx, p.store, p.layout.Roster.ProfilePath(profile.ID))
		if err != nil {
			return Result{}, failed("check profiles", err)
		}
		if sha != "" {
			return Result{}, invalid(profile.ID, ErrProfileExists)
		}
	}
	republish := pl.reuse
	if !republish {
		sha, err := contentstore.FileSHA(ctx, p.store, p.layout.RecordPath(req.Date))
		if err != nil {
			return Result{}, failed("check record", err)
		}
		republish = sha != ""
	}

	head, err := p.store.BranchHead(ctx)
	if err != nil {
		return Result{}, failed("read branch", err)
	}

	blobs := make([]string, len(pl.files))
	group, gctx := errgroup.WithContext(ctx)
	for i, f := range pl.files {
		i, f := i, f
		group.Go(func() error {
			sha, err := p.store.CreateBlob(gctx, f.content, f.enc)
			if err != nil {
				return fmt.Errorf("%s: %w", f.path, err)
			}
			blobs[i] = sha
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return Result{}, failed("create blobs", err)
	}

	entries := make([]contentstore.TreeEntry, len(pl.files))
	paths := make([]string, len(pl.files))
	for i, f := range pl.files {
		entries[i] = contentstore.TreeEntry{Path: f.path, BlobSHA: blobs[i]}
		paths[i] = f.path
	}
	tree, err := p.store.CreateTree(ctx, head.Tree, entries)
	if err != nil {
		return Result{}, failed("create tree", err)
	}

	commit, err := p.store.CreateCommit(ctx, commitMessage(req.Date, pl.profiles, republish), tree, head.Commit)
	if err != nil {
		return Result{}, failed("create commit", err)
	}
	if err := p.store.UpdateBranch(ctx, commit); err != nil {
		return Result{}, failed("update branch", err)
	}

	return Result{
		Commit:      commit,
		Parent:      head.Commit,
		Record:      pl.record,
		Paths:       paths,
		NewProfiles: pl.profiles,
		Republished: republish,
	}, nil
}

func commitMessage(day time.Time, profiles []roster.Participant, republish bool) string {
	verb := "add"
	if republish {
		verb = "update"
	}
	msg := fmt.Sprintf("feat(runs): %s run data for %s", verb, DateKey(day))
	if len(profiles) > 0 {
		names := make([]string, len(profiles))
		for i, profile := range profiles {
			names[i] = profile.Name
		}
		msg += "\n\nNew runners: " + strings.Join(names, ", ")
	}
	return msg
}
