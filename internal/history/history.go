// Package history reads what earlier races left in the content repository:
// the latest results page, used to seed the running order, and the staged
// run records that can be re-published.
//
// Seed times and the staged run list are conveniences. Failures to read
// them are logged and reported as "no data".
package history

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/kingrea/looptrack/internal/contentstore"
	"github.com/kingrea/looptrack/internal/publish"
	"github.com/kingrea/looptrack/internal/race"
)

// Logger receives lines about data that could not be read.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// StagedRun is a run record waiting in the staging directory.
type StagedRun struct {
	Date string
	Path string
}

// Reader looks up past races.
type Reader struct {
	store      contentstore.Store
	resultsDir string
	stagingDir string
	logger     Logger
}

// Option customises a Reader.
type Option func(*Reader)

// WithLogger routes diagnostics to l.
func WithLogger(l Logger) Option {
	return func(r *Reader) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewReader builds a reader for the given results and staging directories.
func NewReader(store contentstore.Store, resultsDir, stagingDir string, opts ...Option) *Reader {
	r := &Reader{store: store, resultsDir: resultsDir, stagingDir: stagingDir, logger: nopLogger{}}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// SeedTimes returns each registered runner's finish time from the newest
// results page. Guests are never seeded.
func (r *Reader) SeedTimes(ctx context.Context) map[string]time.Duration {
	seeds := map[string]time.Duration{}
	latest, ok := r.latest(ctx, r.resultsDir, ".md")
	if !ok {
		return seeds
	}
	file, err := r.store.GetFile(ctx, latest.Path)
	if err != nil {
		r.logger.Printf("history: read %s: %v", latest.Path, err)
		return seeds
	}
	result, _, err := ParseFrontMatter(file.Content)
	if err != nil {
		r.logger.Printf("history: %s: %v", latest.Path, err)
		return seeds
	}
	for _, p := range result.Participants {
		runner := strings.TrimSpace(p.Runner)
		if runner == "" || runner == race.GuestRepoID {
			continue
		}
		d, err := race.ParseFinishTime(p.Time)
		if err != nil {
			continue
		}
		seeds[runner] = d
	}
	return seeds
}

// StagedRuns lists staged run records, newest first.
func (r *Reader) StagedRuns(ctx context.Context) []StagedRun {
	entries, ok := r.list(ctx, r.stagingDir, ".json")
	if !ok {
		return nil
	}
	out := make([]StagedRun, 0, len(entries))
	for _, e := range entries {
		out = append(out, StagedRun{Date: strings.TrimSuffix(e.Name, ".json"), Path: e.Path})
	}
	return out
}

// StagedRun loads the staged record for a date (YYYY-MM-DD). Unlike the
// lookups above it reports errors, since a re-publish depends on it.
func (r *Reader) StagedRun(ctx context.Context, date string) (publish.Record, error) {
	p := path.Join(r.stagingDir, date+".json")
	file, err := r.store.GetFile(ctx, p)
	if err != nil {
		return publish.Record{}, fmt.Errorf("history: staged run %s: %w", date, err)
	}
	return publish.DecodeRecord(file.Content)
}

func (r *Reader) latest(ctx context.Context, dir, ext string) (contentstore.Entry, bool) {
	entries, ok := r.list(ctx, dir, ext)
	if !ok || len(entries) == 0 {
		return contentstore.Entry{}, false
	}
	return entries[0], true
}

// list returns files with ext, skipping templates, sorted by name descending.
// Names are dates, so that is newest first.
func (r *Reader) list(ctx context.Context, dir, ext string) ([]contentstore.Entry, bool) {
	entries, err := r.store.ListDir(ctx, dir)
	if err != nil {
		if !errors.Is(err, contentstore.ErrNotFound) {
			r.logger.Printf("history: list %s: %v", dir, err)
		}
		return nil, false
	}
	var out []contentstore.Entry
	for _, e := range entries {
		if e.Dir || strings.HasPrefix(e.Name, "_") || path.Ext(e.Name) != ext {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name > out[j].Name })
	return out, true
}
